/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for the booking frontend

ROUTE GROUPS:
  /api/members/*     Member management
  /api/orders/*      Orders and the completion reward
  /api/points/*      Balance, ledger, usage, manual adjust
  /api/referrals/*   Referral bonus
  /api/reviews/*     Review-bonus claim page
  /api/admin/*       Settings, recalculate
  /api/payroll/*     Payroll recompute
  /api/demo/*        Demo dataset (dev only)

SECURITY NOTE:
  No authentication middleware. The service sits behind the company
  gateway; all endpoints are internal.

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
func NewRouter(h *Handler, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		// Member routes
		r.Route("/members", func(r chi.Router) {
			r.Get("/", h.ListMembers)
			r.Post("/", h.CreateMember)
			r.Get("/{id}", h.GetMember)
		})

		// Order routes
		r.Route("/orders", func(r chi.Router) {
			r.Post("/", h.CreateOrder)
			r.Get("/{ref}", h.GetOrder)
			r.Post("/{ref}/complete", h.CompleteOrder)
			r.Get("/{ref}/reward", h.AwardOrderReward)
			r.Post("/{ref}/reward", h.AwardOrderReward)
		})

		// Points routes
		r.Route("/points", func(r chi.Router) {
			r.Post("/use", h.UsePoints)
			r.Post("/adjust", h.AdjustPoints)
			r.Get("/balance", h.GetBalance)
			r.Get("/ledger", h.GetLedger)
		})

		// Referral routes
		r.Post("/referrals/bonus", h.AwardReferralBonus)

		// Review-bonus claim (link opened from the review email, hence GET
		// and an HTML response)
		r.Get("/reviews/claim", h.ClaimReviewBonus)

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/recalculate", h.RecalculateAll)
			r.Get("/settings/{key}", h.GetSetting)
			r.Put("/settings", h.SetSetting)
		})

		// Payroll routes
		r.Post("/payroll/recompute", h.RecomputePayroll)

		// Demo routes
		r.Route("/demo", func(r chi.Router) {
			r.Post("/load", h.LoadDemoData)
			r.Post("/reset", h.ResetDatabase)
		})
	})

	return r
}
