package budget

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

// BudgetService is the contract the handler needs.
type BudgetService interface {
	ListVersions(ctx context.Context) ([]Version, error)
	CreateVersion(ctx context.Context, name string, activate bool) (Version, error)
	ActivateVersion(ctx context.Context, id int64) (Version, error)
	ListAllocations(ctx context.Context, versionID *int64, periodID int64) ([]Allocation, error)
	UpsertBudgetBatch(ctx context.Context, in BatchInput) ([]Allocation, error)
}

// Handler serves the budget endpoints.
type Handler struct {
	logger  *slog.Logger
	service BudgetService
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service BudgetService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers budget routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/versions", h.listVersions)
	r.Post("/versions", h.createVersion)
	r.Post("/versions/{id}/activate", h.activateVersion)
	r.Get("/allocations", h.listAllocations)
	r.Put("/allocations", h.upsertAllocations)
}

func (h *Handler) listVersions(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.ListVersions(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Version{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

type createVersionRequest struct {
	Name     string `json:"name" validate:"required,max=120"`
	Activate bool   `json:"activate"`
}

func (h *Handler) createVersion(w http.ResponseWriter, r *http.Request) {
	var req createVersionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := h.service.CreateVersion(r.Context(), req.Name, req.Activate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, v)
}

func (h *Handler) activateVersion(w http.ResponseWriter, r *http.Request) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	v, err := h.service.ActivateVersion(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, v)
}

func (h *Handler) listAllocations(w http.ResponseWriter, r *http.Request) {
	periodID, err := httpx.QueryInt64(r, "periodId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	versionID, err := httpx.QueryInt64(r, "versionId")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var vid *int64
	if versionID > 0 {
		vid = &versionID
	}
	items, err := h.service.ListAllocations(r.Context(), vid, periodID)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Allocation{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

type batchItemRequest struct {
	SupportID    int64           `json:"supportId" validate:"required,gt=0"`
	CostCenterID *int64          `json:"costCenterId" validate:"omitempty,gt=0"`
	AmountLocal  decimal.Decimal `json:"amountLocal"`
}

type batchRequest struct {
	VersionID *int64             `json:"versionId" validate:"omitempty,gt=0"`
	PeriodID  int64              `json:"periodId" validate:"required,gt=0"`
	Items     []batchItemRequest `json:"items" validate:"required,min=1,dive"`
}

func (h *Handler) upsertAllocations(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	in := BatchInput{VersionID: req.VersionID, PeriodID: req.PeriodID, Items: make([]BatchItem, len(req.Items))}
	for i, item := range req.Items {
		in.Items[i] = BatchItem{SupportID: item.SupportID, CostCenterID: item.CostCenterID, AmountLocal: item.AmountLocal}
	}
	saved, err := h.service.UpsertBudgetBatch(r.Context(), in)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
