package app

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/budgetguard/internal/observability"
	"github.com/odyssey-erp/budgetguard/internal/platform/httpx"
)

// RouteMounter is implemented by every module handler.
type RouteMounter interface {
	MountRoutes(r chi.Router)
}

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger          *slog.Logger
	Config          *Config
	Metrics         *observability.Metrics
	FXHandler       RouteMounter
	PeriodsHandler  RouteMounter
	BudgetHandler   RouteMounter
	LedgerHandler   RouteMounter
	OrdersHandler   RouteMounter
	InvoicesHandler RouteMounter
	JobHandler      RouteMounter
	// Ready backs /readyz when set.
	Ready func(ctx context.Context) error
}

// NewRouter constructs the chi.Router with the service defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	logger := params.Logger
	if logger == nil {
		logger = slog.Default()
	}

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Ready != nil {
		r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
			if err := params.Ready(r.Context()); err != nil {
				logger.Warn("readiness", slog.Any("error", err))
				httpx.Problem(w, http.StatusServiceUnavailable, "Not Ready", err.Error())
				return
			}
			httpx.JSON(w, http.StatusOK, map[string]string{"status": "ready"})
		})
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		mount(r, "/fx", params.FXHandler)
		mount(r, "/periods", params.PeriodsHandler)
		mount(r, "/budget", params.BudgetHandler)
		mount(r, "/ledger", params.LedgerHandler)
		mount(r, "/orders", params.OrdersHandler)
		mount(r, "/invoices", params.InvoicesHandler)
		mount(r, "/jobs", params.JobHandler)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", r.URL.Path)
	})
	return r
}

func mount(r chi.Router, prefix string, h RouteMounter) {
	if h == nil {
		return
	}
	r.Route(prefix, h.MountRoutes)
}
