package http

import (
	"context"
	"net/http"
	"time"

	"github.com/robertarktes/event-booking/internal/auth"
	"github.com/robertarktes/event-booking/internal/booking"
	"github.com/robertarktes/event-booking/internal/config"
	"github.com/robertarktes/event-booking/internal/lifecycle"
	"github.com/robertarktes/event-booking/internal/observability"
	"github.com/robertarktes/event-booking/internal/recommend"
)

// Check reports whether a dependency is ready to serve traffic.
type Check func(ctx context.Context) error

type Handlers struct {
	cfg      *config.Config
	bookings *booking.Service
	events   *lifecycle.Service
	auth     *auth.Service
	recs     *recommend.Recommender
	checks   map[string]Check
	logger   observability.Logger
}

func NewHandlers(cfg *config.Config, bookings *booking.Service, events *lifecycle.Service, authSvc *auth.Service,
	recs *recommend.Recommender, checks map[string]Check, logger observability.Logger) *Handlers {
	return &Handlers{
		cfg:      cfg,
		bookings: bookings,
		events:   events,
		auth:     authSvc,
		recs:     recs,
		checks:   checks,
		logger:   logger,
	}
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := http.StatusOK
	result := make(map[string]string, len(h.checks))
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			result[name] = err.Error()
			continue
		}
		result[name] = "ok"
	}
	writeJSON(w, status, result)
}
