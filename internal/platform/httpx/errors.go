package httpx

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/budgetguard/internal/shared"
)

// ErrBadRequest marks malformed request bodies or parameters.
var ErrBadRequest = errors.New("bad request")

// fieldError is implemented by validation errors that know the offending input path.
type fieldError interface {
	error
	Field() string
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Unclassified errors are logged and answered with an empty 500.
func RespondError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validationErr *shared.ValidationError
		overspendErr  *shared.OverspendError
		rateErr       *shared.RateResolutionError
		closedErr     *shared.ClosedPeriodError
		fielded       fieldError
	)
	switch {
	case errors.As(err, &overspendErr):
		WriteProblem(w, ProblemDetail{
			Title:  "Budget Exceeded",
			Status: http.StatusConflict,
			Detail: overspendErr.Error(),
			Extensions: map[string]any{
				"supportId": overspendErr.SupportID,
				"periodId":  overspendErr.PeriodID,
				"available": overspendErr.Available.StringFixed(2),
				"attempted": overspendErr.Attempted.StringFixed(2),
			},
		})
	case errors.As(err, &closedErr):
		WriteProblem(w, ProblemDetail{
			Title:      "Period Closed",
			Status:     http.StatusConflict,
			Detail:     closedErr.Error(),
			Extensions: map[string]any{"periodId": closedErr.PeriodID},
		})
	case errors.As(err, &rateErr):
		ext := map[string]any{"currency": rateErr.Currency}
		if rateErr.Year != 0 {
			ext["year"] = rateErr.Year
		}
		WriteProblem(w, ProblemDetail{
			Title:      "Exchange Rate Missing",
			Status:     http.StatusUnprocessableEntity,
			Detail:     rateErr.Error(),
			Extensions: ext,
		})
	case errors.As(err, &validationErr):
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: validationErr.Message,
			Field:  validationErr.Field,
		})
	case errors.As(err, &fielded) && errors.Is(err, shared.ErrValidation):
		WriteProblem(w, ProblemDetail{
			Title:  "Validation Failed",
			Status: http.StatusUnprocessableEntity,
			Detail: err.Error(),
			Field:  fielded.Field(),
		})
	case errors.Is(err, ErrBadRequest):
		Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	case errors.Is(err, shared.ErrValidation):
		Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	case errors.Is(err, shared.ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, shared.ErrIdempotencyConflict):
		Problem(w, http.StatusConflict, "Duplicate Request", err.Error())
	case errors.Is(err, shared.ErrConflict):
		Problem(w, http.StatusConflict, "Conflict", err.Error())
	default:
		if logger != nil {
			logger.Error("unhandled request error", slog.Any("error", err))
		}
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
