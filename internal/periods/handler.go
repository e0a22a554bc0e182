package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// PeriodService is the contract the handler needs.
type PeriodService interface {
	Get(ctx context.Context, id int64) (Period, error)
	List(ctx context.Context, year int) ([]Period, error)
	Close(ctx context.Context, id int64) (Period, error)
	Reopen(ctx context.Context, id int64) (Period, error)
	CheckRange(ctx context.Context, fromID, toID int64, candidateIDs []int64) error
}

// Handler serves the period endpoints.
type Handler struct {
	logger  *slog.Logger
	service PeriodService
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service PeriodService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers period routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.list)
	r.Post("/range-check", h.rangeCheck)
	r.Get("/{id}", h.get)
	r.Post("/{id}/close", h.close)
	r.Post("/{id}/reopen", h.reopen)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	year := 0
	if raw := r.URL.Query().Get("year"); raw != "" {
		y, err := strconv.Atoi(raw)
		if err != nil {
			httpx.RespondError(w, h.logger, shared.NewValidationError("year", "must be a number"))
			return
		}
		year = y
	}
	items, err := h.service.List(r.Context(), year)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if items == nil {
		items = []Period{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.service.Get)
}

func (h *Handler) close(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.service.Close)
}

func (h *Handler) reopen(w http.ResponseWriter, r *http.Request) {
	h.byID(w, r, h.service.Reopen)
}

func (h *Handler) byID(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) (Period, error)) {
	id, err := httpx.IDParam(r, "id")
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	p, err := fn(r.Context(), id)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, p)
}

// rangeCheckRequest takes either month labels or period ids.
type rangeCheckRequest struct {
	From      string   `json:"from" validate:"omitempty,yearmonth"`
	To        string   `json:"to" validate:"omitempty,yearmonth"`
	Periods   []string `json:"periods" validate:"omitempty,dive,yearmonth"`
	FromID    int64    `json:"fromId" validate:"omitempty,gt=0"`
	ToID      int64    `json:"toId" validate:"omitempty,gt=0"`
	PeriodIDs []int64  `json:"periodIds" validate:"omitempty,dive,gt=0"`
}

func (h *Handler) rangeCheck(w http.ResponseWriter, r *http.Request) {
	var req rangeCheckRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	var err error
	if req.FromID > 0 || req.ToID > 0 || len(req.PeriodIDs) > 0 {
		err = h.checkByID(r.Context(), req)
	} else {
		err = checkByLabel(req)
	}
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"valid": true})
}

func checkByLabel(req rangeCheckRequest) error {
	switch {
	case req.From == "":
		return shared.NewValidationError("from", "is required")
	case req.To == "":
		return shared.NewValidationError("to", "is required")
	case len(req.Periods) == 0:
		return shared.NewValidationError("periods", "must not be empty")
	}
	from, _ := shared.ParseYearMonth(req.From)
	to, _ := shared.ParseYearMonth(req.To)
	candidates := make([]shared.YearMonth, len(req.Periods))
	for i, label := range req.Periods {
		candidates[i], _ = shared.ParseYearMonth(label)
	}
	return ValidatePeriodRange(Range{From: from, To: to}, candidates)
}

func (h *Handler) checkByID(ctx context.Context, req rangeCheckRequest) error {
	switch {
	case req.FromID == 0:
		return shared.NewValidationError("fromId", "is required")
	case req.ToID == 0:
		return shared.NewValidationError("toId", "is required")
	case len(req.PeriodIDs) == 0:
		return shared.NewValidationError("periodIds", "must not be empty")
	}
	err := h.service.CheckRange(ctx, req.FromID, req.ToID, req.PeriodIDs)
	var rangeErr *RangeError
	if errors.As(err, &rangeErr) {
		return shared.NewValidationError(fmt.Sprintf("periodIds[%d]", rangeErr.Index), "%s", rangeErr.Error())
	}
	return err
}
