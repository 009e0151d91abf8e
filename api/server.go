/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. RealIP:     Client address from proxy headers
  3. Logger:     zerolog request logger, attached to the context
  4. Recoverer:  Panic recovery (500 instead of crash)
  5. Metrics:    Request count and latency per route
  6. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/transactions/*   Ledger (authenticated)
  /api/accounts/*       Balances (authenticated)
  /api/promotions/*     Promotion catalog (authenticated)
  /api/scenarios/*      Demo scenarios (dev only)
  /metrics              Prometheus
  /healthz              Liveness

AUTHENTICATION:
  Identity is issued elsewhere. The proxy in front of this service
  forwards the caller's utorid in X-Utorid; authenticate resolves it to
  an account and rejects unknown callers with 401.

SEE ALSO:
  - handlers.go: Handler implementations
  - middleware.go: authenticate, requestLogger
  - cli/serve.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/warp/loyalty-engine/metrics"
)

// RouterConfig holds the router's cross-cutting dependencies.
type RouterConfig struct {
	Logger      zerolog.Logger
	Metrics     *metrics.Metrics // nil disables /metrics
	CORSOrigins []string
	// Scenarios enables the demo scenario routes, which reset the store.
	Scenarios bool
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(cfg.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UtoridHeader},
		AllowCredentials: true,
	}))

	r.Get("/healthz", h.Health)
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(authenticate(h.Store))

			// Transaction routes
			r.Route("/transactions", func(r chi.Router) {
				r.Post("/", h.CreateTransaction)
				r.Get("/", h.ListTransactions)
				r.Get("/{id}", h.GetTransaction)
				r.Patch("/{id}/suspicious", h.SetSuspicious)
			})

			// Account routes
			r.Get("/accounts/{utorid}", h.GetAccount)

			// Promotion routes
			r.Route("/promotions", func(r chi.Router) {
				r.Post("/", h.CreatePromotion)
				r.Get("/", h.ListPromotions)
				r.Get("/{id}", h.GetPromotion)
				r.Patch("/{id}", h.UpdatePromotion)
				r.Delete("/{id}", h.DeletePromotion)
			})
		})

		if cfg.Scenarios {
			r.Route("/scenarios", func(r chi.Router) {
				r.Get("/", h.ListScenarios)
				r.Get("/current", h.GetCurrentScenario)
				r.Post("/load", h.LoadScenario)
				r.Post("/reset", h.ResetDatabase)
			})
		}
	})

	return r
}
