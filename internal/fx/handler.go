package fx

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/budgetguard/internal/money"
	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// RateService is the contract the handler needs.
type RateService interface {
	ListRates(ctx context.Context) ([]AnnualRate, error)
	SetAnnualRate(ctx context.Context, year int, rate decimal.Decimal) (AnnualRate, error)
	Resolve(ctx context.Context, currency money.Currency, periods []shared.YearMonth, override *decimal.Decimal) (Resolution, error)
	AccountingFields(ctx context.Context, in CalcInput) (AccountingFields, error)
}

// Handler serves the fx endpoints.
type Handler struct {
	logger  *slog.Logger
	service RateService
}

// NewHandler builds the handler.
func NewHandler(logger *slog.Logger, service RateService) *Handler {
	return &Handler{logger: logger, service: service}
}

// MountRoutes registers fx routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/rates", h.listRates)
	r.Put("/rates/{year}", h.setRate)
	r.Post("/resolve", h.resolve)
	r.Post("/accounting-fields", h.accountingFields)
}

func (h *Handler) listRates(w http.ResponseWriter, r *http.Request) {
	rates, err := h.service.ListRates(r.Context())
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if rates == nil {
		rates = []AnnualRate{}
	}
	httpx.JSON(w, http.StatusOK, rates)
}

type setRateRequest struct {
	Rate decimal.Decimal `json:"rate"`
}

func (h *Handler) setRate(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(chi.URLParam(r, "year"))
	if err != nil {
		httpx.RespondError(w, h.logger, shared.NewValidationError("year", "must be a number"))
		return
	}
	var req setRateRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	saved, err := h.service.SetAnnualRate(r.Context(), year, req.Rate)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}

type resolveRequest struct {
	Currency     string           `json:"currency" validate:"required,currency"`
	Periods      []string         `json:"periods" validate:"dive,yearmonth"`
	RateOverride *decimal.Decimal `json:"rateOverride"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	currency, _ := money.ParseCurrency(req.Currency)
	res, err := h.service.Resolve(r.Context(), currency, parseMonths(req.Periods), req.RateOverride)
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, res)
}

type accountingFieldsRequest struct {
	Currency        string           `json:"currency" validate:"required,currency"`
	Amount          decimal.Decimal  `json:"amount"`
	Periods         []string         `json:"periods" validate:"dive,yearmonth"`
	AccountingMonth *string          `json:"accountingMonth" validate:"omitempty,yearmonth"`
	RealRate        *decimal.Decimal `json:"realRate"`
}

func (h *Handler) accountingFields(w http.ResponseWriter, r *http.Request) {
	var req accountingFieldsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	if !req.Amount.IsPositive() {
		httpx.RespondError(w, h.logger, shared.NewValidationError("amount", "must be greater than zero"))
		return
	}
	currency, _ := money.ParseCurrency(req.Currency)
	fields, err := h.service.AccountingFields(r.Context(), CalcInput{
		Currency:        currency,
		Amount:          req.Amount,
		Periods:         parseMonths(req.Periods),
		AccountingMonth: req.AccountingMonth,
		RealRate:        req.RealRate,
	})
	if err != nil {
		httpx.RespondError(w, h.logger, err)
		return
	}
	httpx.JSON(w, http.StatusOK, fields.Columns())
}

// parseMonths converts labels already checked by the yearmonth tag.
func parseMonths(labels []string) []shared.YearMonth {
	out := make([]shared.YearMonth, 0, len(labels))
	for _, label := range labels {
		ym, err := shared.ParseYearMonth(label)
		if err == nil {
			out = append(out, ym)
		}
	}
	return out
}
