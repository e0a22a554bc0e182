package invoices

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

// InvoiceService is the contract the handler needs.
type InvoiceService interface {
	Get(ctx context.Context, id int64) (Invoice, error)
	List(ctx context.Context, filter ListFilter) ([]Invoice, error)
	Create(ctx context.Context, in CreateInput) (Invoice, error)
	Update(ctx context.Context, id int64, in UpdateInput) (Invoice, error)
	SetAccounting(ctx context.Context, id int64, in AccountingInput) (Invoice, error)
	Transition(ctx context.Context, id int64, to Status, note string) (Invoice, error)
}

// Handler manages invoice endpoints.
type Handler struct {
	logger  *slog.Logger
	service InvoiceService
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service InvoiceService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers invoice routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listInvoices)
	r.Post("/", h.createInvoice)
	r.Get("/{id}", h.getInvoice)
	r.Put("/{id}", h.updateInvoice)
	r.Post("/{id}/status", h.transitionInvoice)
	r.Put("/{id}/accounting", h.setAccounting)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request) {
	orderID, err := httpx.QueryInt64(r, "orderId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	supportID, err := httpx.QueryInt64(r, "supportId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	items, err := h.service.List(r.Context(), ListFilter{
		OrderID:   orderID,
		SupportID: supportID,
		Status:    Status(r.URL.Query().Get("status")),
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Invoice{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createInvoice(w http.ResponseWriter, r *http.Request) {
	var req CreateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.Create(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, inv)
}

func (h *Handler) getInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) updateInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req UpdateInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.Update(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=RECEIVED IN_APPROVAL APPROVED IN_ACCOUNTING ACCOUNTED PAID CANCELLED"`
	Note   string `json:"note" validate:"max=500"`
}

func (h *Handler) transitionInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req transitionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.Transition(r.Context(), id, Status(req.Status), req.Note)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}

func (h *Handler) setAccounting(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req AccountingInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	inv, err := h.service.SetAccounting(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, inv)
}
