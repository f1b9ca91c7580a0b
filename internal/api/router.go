// Package api assembles the HTTP surface of the receipt service.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/dvloznov/receipt-capture/internal/api/handlers"
	"github.com/dvloznov/receipt-capture/internal/api/middleware"
	"github.com/dvloznov/receipt-capture/internal/assetstore"
	"github.com/dvloznov/receipt-capture/internal/jobs"
	"github.com/dvloznov/receipt-capture/internal/receipt"
	"github.com/dvloznov/receipt-capture/internal/taxonomy"
)

type RouterConfig struct {
	Log         zerolog.Logger
	Pipeline    handlers.Capturer
	Records     receipt.Repository
	Taxonomy    taxonomy.Repository
	Defaults    taxonomy.Defaults
	Assets      assetstore.Store
	Jobs        jobs.JobStore
	Tenant      middleware.TenantOptions
	CORSOrigins []string
}

// NewRouter wires handlers under /api. Every /api route requires a tenant.
func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(cfg.Log))
	r.Use(middleware.Recovery(cfg.Log))
	r.Use(middleware.CORS(cfg.CORSOrigins))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Tenant(cfg.Tenant))

		r.Route("/records", handlers.NewRecordsHandler(cfg.Pipeline, cfg.Records, cfg.Assets).Routes)
		r.Route("/taxonomy", handlers.NewTaxonomyHandler(cfg.Taxonomy, cfg.Defaults).Routes)
		r.Route("/jobs", handlers.NewJobsHandler(cfg.Jobs).Routes)
	})

	return r
}
