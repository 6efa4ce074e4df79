/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. CORS:       Cross-origin requests for frontend

ROUTE GROUPS:
  /api/events/*         Events, participation, waitlists
  /api/users/*          Accounts, balances, ledger history
  /api/tags/*           Tags, whitelists, role grants
  /api/admin/*          Ledger writes, cancellation, manual promotion
  /api/scenarios/*      Demo scenarios and database reset

SECURITY NOTE:
  The actor is trusted from the X-Actor-ID header; there is no
  authentication middleware. Fine for a club tool on a private network,
  not for the open internet.

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
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Actor-ID"},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Event routes
		r.Route("/events", func(r chi.Router) {
			r.Get("/", h.ListEvents)
			r.Post("/", h.CreateEvent)
			r.Get("/{id}", h.GetEvent)
			r.Get("/{id}/can-view", h.CanView)
			r.Get("/{id}/can-join", h.CanJoin)
			r.Post("/{id}/attend", h.Attend)
			r.Post("/{id}/leave", h.Leave)
			r.Get("/{id}/roster", h.Roster)
			r.Get("/{id}/history", h.History)
			r.Get("/{id}/waitlist", h.Waitlist)
			r.Post("/{id}/waitlist", h.JoinWaitlist)
			r.Delete("/{id}/waitlist", h.LeaveWaitlist)
			r.Get("/{id}/waitlist/position", h.WaitlistPosition)
		})

		// User routes
		r.Route("/users", func(r chi.Router) {
			r.Get("/", h.ListUsers)
			r.Post("/", h.CreateUser)
			r.Get("/{id}", h.GetUser)
			r.Get("/{id}/balance", h.GetBalance)
			r.Get("/{id}/transactions", h.GetTransactions)
		})

		// Tag routes
		r.Route("/tags", func(r chi.Router) {
			r.Post("/", h.CreateTag)
			r.Get("/{id}", h.GetTag)
			r.Post("/{id}/whitelist", h.AddToWhitelist)
			r.Post("/{id}/roles", h.GrantTagRole)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/transactions", h.CreateTransaction)
			r.Put("/transactions/{id}", h.UpdateTransaction)
			r.Delete("/transactions/{id}", h.DeleteTransaction)
			r.Post("/events/{id}/cancel", h.CancelEvent)
			r.Post("/events/{id}/promote", h.PromoteWaitlisted)
		})

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Get("/current", h.GetCurrentScenario)
			r.Post("/load", h.LoadScenario)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
