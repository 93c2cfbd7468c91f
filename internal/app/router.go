package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/odyssey-billing/internal/bills"
	"github.com/odyssey-erp/odyssey-billing/internal/directory"
	"github.com/odyssey-erp/odyssey-billing/internal/finderfees"
	"github.com/odyssey-erp/odyssey-billing/internal/observability"
	"github.com/odyssey-erp/odyssey-billing/internal/proposals"
	"github.com/odyssey-erp/odyssey-billing/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger           *slog.Logger
	Config           *Config
	ProposalsHandler *proposals.Handler
	BillsHandler     *bills.Handler
	FinderFeeHandler *finderfees.Handler
	DirectoryHandler *directory.Handler
	JobHandler       *jobs.Handler
	Metrics          *observability.Metrics
}

// NewRouter constructs the chi.Router with API defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:  params.Logger,
		Config:  params.Config,
		Metrics: params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api/v1", func(r chi.Router) {
		if params.ProposalsHandler != nil {
			params.ProposalsHandler.MountRoutes(r)
		}
		if params.BillsHandler != nil {
			params.BillsHandler.MountRoutes(r)
		}
		if params.FinderFeeHandler != nil {
			params.FinderFeeHandler.MountRoutes(r)
		}
		if params.DirectoryHandler != nil {
			params.DirectoryHandler.MountRoutes(r)
		}
	})
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	return r
}
