/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. accessLog:  Structured (zap) line per request at debug level
  5. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/transactions/*   Workflow operations        (X-User-ID required)
  /api/approvals/*      Approver inbox             (X-User-ID required)
  /api/accounts/*       Balances                   (X-User-ID required)
  /api/admin/*          Directory and roster setup (X-User-ID required)
  /api/scenarios/*      Demo fixtures
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// RouterConfig holds router options. Zero values get defaults.
type RouterConfig struct {
	AllowedOrigins []string
	// Gatherer backs /metrics. Nil leaves the route out.
	Gatherer prometheus.Gatherer
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(h.accessLog)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", UserHeader},
		ExposedHeaders: []string{middleware.RequestIDHeader},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if cfg.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api", func(r chi.Router) {
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireActor)

			r.Route("/transactions", func(r chi.Router) {
				r.Get("/", h.ListTransactions)
				r.Post("/", h.CreateTransaction)
				r.Get("/{id}", h.GetTransaction)
				r.Get("/{id}/progress", h.GetProgress)
				r.Post("/{id}/decision", h.Decide)
				r.Post("/{id}/cancel", h.Cancel)
				r.Post("/{id}/retry", h.RetryExecution)
			})

			r.Get("/approvals/pending", h.ListPendingApprovals)

			r.Route("/accounts", func(r chi.Router) {
				r.Get("/", h.ListAccounts)
				r.Get("/{id}", h.GetAccount)
			})

			r.Route("/admin", func(r chi.Router) {
				r.Get("/users", h.ListUsers)
				r.Post("/users", h.SaveUser)
				r.Post("/cities", h.SaveCity)
				r.Post("/accounts", h.SaveAccount)
				r.Get("/assignments", h.ListAssignments)
				r.Post("/assignments", h.SaveAssignment)
				r.Get("/approval-configs", h.ListApprovalConfigs)
				r.Put("/approval-configs/{type}", h.SetApprovalConfig)
				r.Post("/approval-configs/{type}/sync", h.SyncApprovalConfig)
				r.Get("/stalled", h.ListStalled)
				r.Get("/audit", h.AuditTrail)
			})
		})
	})

	return r
}

func (h *Handler) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("user", r.Header.Get(UserHeader)))
	})
}
