package procurement

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

// OrderService is the contract the handler needs.
type OrderService interface {
	Get(ctx context.Context, id int64) (PurchaseOrder, error)
	List(ctx context.Context, filter ListFilter) ([]PurchaseOrder, error)
	CreateOrder(ctx context.Context, in CreateOrderInput) (PurchaseOrder, error)
	UpdateOrder(ctx context.Context, id int64, in UpdateOrderInput) (PurchaseOrder, error)
	Transition(ctx context.Context, id int64, to POStatus, note string) (PurchaseOrder, error)
	Consumption(ctx context.Context, id int64) (Consumption, error)
}

// Handler manages purchase order endpoints.
type Handler struct {
	logger  *slog.Logger
	service OrderService
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service OrderService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers order routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.listOrders)
	r.Post("/", h.createOrder)
	r.Get("/{id}", h.getOrder)
	r.Put("/{id}", h.updateOrder)
	r.Post("/{id}/status", h.transitionOrder)
	r.Get("/{id}/consumption", h.consumption)
}

func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	supportID, err := httpx.QueryInt64(r, "supportId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	items, err := h.service.List(r.Context(), ListFilter{SupportID: supportID, Status: POStatus(r.URL.Query().Get("status"))})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []PurchaseOrder{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	order, err := h.service.CreateOrder(r.Context(), req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, order)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	order, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) updateOrder(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req UpdateOrderInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	order, err := h.service.UpdateOrder(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

type transitionRequest struct {
	Status string `json:"status" validate:"required,oneof=DRAFT APPROVAL APPROVED CLOSED CANCELLED"`
	Note   string `json:"note" validate:"max=500"`
}

func (h *Handler) transitionOrder(w http.ResponseWriter, r *http.Request) {
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
	order, err := h.service.Transition(r.Context(), id, POStatus(req.Status), req.Note)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, order)
}

func (h *Handler) consumption(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	c, err := h.service.Consumption(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, c)
}
