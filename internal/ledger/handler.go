package ledger

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// LedgerService is the contract the handler needs.
type LedgerService interface {
	Get(ctx context.Context, id int64) (Entry, error)
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
	CreateEntry(ctx context.Context, in EntryInput, key string) (Entry, error)
	CreateProvisions(ctx context.Context, items []EntryInput, allowOverride bool) ([]Entry, error)
	Process(ctx context.Context, id int64, in ProcessInput) (Entry, error)
	Provision(ctx context.Context, id int64, in ProvisionInput) (Entry, error)
	CheckOverspend(ctx context.Context, in CheckInput) error
	Execution(ctx context.Context, supportID, periodID int64) (ExecutionSummary, error)
}

// Handler serves the ledger endpoints.
type Handler struct {
	logger  *slog.Logger
	service LedgerService
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service LedgerService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/entries", h.listEntries)
	r.Post("/entries", h.createEntry)
	r.Get("/entries/{id}", h.getEntry)
	r.Post("/entries/{id}/process", h.processEntry)
	r.Post("/entries/{id}/provision", h.provisionEntry)
	r.Post("/provisions/bulk", h.bulkProvisions)
	r.Post("/overspend-check", h.overspendCheck)
	r.Get("/execution", h.execution)
}

func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	supportID, err := httpx.QueryInt64(r, "supportId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	periodID, err := httpx.QueryInt64(r, "accountingPeriodId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	items, err := h.service.List(r.Context(), ListFilter{SupportID: supportID, AccountingPeriodID: periodID})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Entry{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) createEntry(w http.ResponseWriter, r *http.Request) {
	var req EntryInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	key := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	entry, err := h.service.CreateEntry(r.Context(), req, key)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.Get(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) processEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req ProcessInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.Process(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

func (h *Handler) provisionEntry(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var req ProvisionInput
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entry, err := h.service.Provision(r.Context(), id, req)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}

type bulkRequest struct {
	AllowOverride bool         `json:"allowOverride"`
	Items         []EntryInput `json:"items" validate:"required,min=1,max=500,dive"`
}

func (h *Handler) bulkProvisions(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	entries, err := h.service.CreateProvisions(r.Context(), req.Items, req.AllowOverride)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entries)
}

type checkRequest struct {
	SupportID          int64           `json:"supportId" validate:"required,gt=0"`
	AccountingPeriodID int64           `json:"accountingPeriodId" validate:"required,gt=0"`
	Delta              decimal.Decimal `json:"delta"`
	AllowOverride      bool            `json:"allowOverride"`
}

type checkResponse struct {
	Allowed bool `json:"allowed"`
}

func (h *Handler) overspendCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	err := h.service.CheckOverspend(r.Context(), CheckInput{
		SupportID:          req.SupportID,
		AccountingPeriodID: req.AccountingPeriodID,
		Delta:              req.Delta,
		AllowOverride:      req.AllowOverride,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, checkResponse{Allowed: true})
}

func (h *Handler) execution(w http.ResponseWriter, r *http.Request) {
	supportID, err := httpx.QueryInt64(r, "supportId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	periodID, err := httpx.QueryInt64(r, "accountingPeriodId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if supportID <= 0 || periodID <= 0 {
		httpx.RespondError(w, h.logger, shared.NewValidationError("supportId", "supportId and accountingPeriodId are required"))
		return
	}
	summary, err := h.service.Execution(r.Context(), supportID, periodID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
