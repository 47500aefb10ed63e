/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route
  definitions. This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the register frontend

ROUTE GROUPS:
  /api/checkout/*   Session lifecycle
  /api/sales/*      Receipt lookups
  /api/loyalty/*    Account and ledger reads
  /api/admin/*      Managers, expiry sweep, demo seed

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Checkout session lifecycle
		r.Route("/checkout", func(r chi.Router) {
			r.Post("/", h.StartCheckout)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", h.GetSession)
				r.Post("/tip", h.SetTip)
				r.Post("/tenders", h.ProposeTender)
				r.Post("/authorize", h.Authorize)
				r.Delete("/authorize", h.DismissAuthorization)
				r.Post("/finalize", h.Finalize)
			})
		})

		// Settled sales
		r.Route("/sales", func(r chi.Router) {
			r.Get("/{id}/receipt", h.GetReceipt)
		})

		// Loyalty reads
		r.Route("/loyalty", func(r chi.Router) {
			r.Get("/{id}", h.GetLoyaltyAccount)
			r.Get("/{id}/transactions", h.GetLoyaltyTransactions)
		})

		// Admin operations
		r.Route("/admin", func(r chi.Router) {
			r.Post("/managers", h.CreateManager)
			r.Post("/expire", h.ExpireLoyaltyCredits)
			r.Post("/seed", h.Seed)
		})
	})

	return r
}
