package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/alextavares/aichat-sub001/internal/middleware"
)

// RouteOptions carries the per-route middleware built by the caller. Nil
// entries are skipped.
type RouteOptions struct {
	Identity    func(http.Handler) http.Handler
	RateLimit   func(http.Handler) http.Handler
	Idempotency func(http.Handler) http.Handler
	ChatSocket  http.Handler
	// Timeout bounds buffered routes. Streaming routes are unbounded.
	Timeout time.Duration
}

func use(r chi.Router, mws ...func(http.Handler) http.Handler) chi.Router {
	for _, mw := range mws {
		if mw != nil {
			r = r.With(mw)
		}
	}
	return r
}

// MountRoutes registers all routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers, opts RouteOptions) {
	r.Get("/health", h.Health)

	authed := use(r, opts.Identity, opts.RateLimit)

	if opts.ChatSocket != nil {
		authed.Get("/ws/chat", opts.ChatSocket.ServeHTTP)
	}

	authed.Route("/api/v1", func(r chi.Router) {
		// Streaming
		r.Post("/chat/stream", h.ChatStream)

		r.Group(func(r chi.Router) {
			if opts.Timeout > 0 {
				r.Use(chimw.Timeout(opts.Timeout))
			}

			r.Post("/chat", h.Chat)
			r.Get("/models", h.ListModels)
			r.Get("/quota/admission", h.CheckAdmission)
			r.Get("/usage", h.UsageHistory)
			r.Get("/credits", h.GetBalance)
			r.Get("/credits/transactions", h.ListTransactions)

			// Ledger and usage writes come from trusted services.
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(middleware.RoleService))
				if opts.Idempotency != nil {
					r.Use(opts.Idempotency)
				}
				r.Post("/usage", h.RecordUsage)
				r.Post("/credits", h.AddCredits)
				r.Post("/credits/consume", h.ConsumeCredits)
			})
		})
	})
}
