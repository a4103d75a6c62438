package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/idempotency"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/robertarktes/event-booking/internal/rateLimit"
)

// SetupRouter mounts the API. mediaDir is served read-only under /media/;
// an empty dir disables it.
func SetupRouter(h *Handlers, logger observability.Logger, rl *rateLimit.RateLimiter, idemp *idempotency.Idempotency, mediaDir string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(RequestIDMiddleware)
	r.Use(LoggerMiddleware(logger))
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware)

	r.Get("/v1/healthz", h.Healthz)
	r.Get("/v1/readyz", h.Readyz)
	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	if mediaDir != "" {
		r.Handle("/media/*", http.StripPrefix("/media/", http.FileServer(http.Dir(mediaDir))))
	}

	limit := RateLimitMiddleware(rl, h.cfg.RateLimitPerUser, h.cfg.RateLimitPerIP, h.cfg.RateLimitWindow)
	tokens := h.auth.Tokens()

	r.Route("/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokens, true))
			r.Use(limit)
			r.Get("/events", h.ListEvents)
			r.Get("/events/{id}", h.GetEvent)
			r.Post("/auth/signup", h.Signup)
			r.Post("/auth/login", h.Login)
		})

		r.Group(func(r chi.Router) {
			r.Use(AuthMiddleware(tokens, false))
			r.Use(limit)

			r.Get("/me", h.Me)
			r.Patch("/me", h.UpdateMe)
			r.Get("/recommendations", h.Recommendations)

			r.With(IdempotencyMiddleware(idemp)).Post("/bookings", h.CreateBooking)
			r.Get("/bookings/mine", h.ListMyBookings)
			r.Get("/bookings/stats", h.MyBookingStats)
			r.Post("/bookings/{id}/cancel", h.CancelBooking)

			r.Group(func(r chi.Router) {
				r.Use(RequireRole(domain.RoleOrganizer))
				r.With(IdempotencyMiddleware(idemp)).Post("/events", h.CreateEvent)
				r.Put("/events/{id}", h.UpdateEvent)
				r.Post("/events/{id}/cancel", h.CancelEvent)
				r.Delete("/events/{id}", h.DeleteEvent)
				r.Get("/organizer/events", h.ListOrganizerEvents)
				r.Get("/organizer/stats", h.OrganizerStats)
			})
		})
	})

	return r
}
