package lifecycle

import (
	"context"
	"time"

	"github.com/robertarktes/event-booking/internal/observability"
)

// Sweeper ends started events on a fixed interval. A failed sweep is retried
// with exponential backoff before waiting for the next tick.
type Sweeper struct {
	svc        *Service
	logger     observability.Logger
	interval   time.Duration
	maxRetries int
	backoff    time.Duration
}

func NewSweeper(svc *Service, logger observability.Logger, interval time.Duration) *Sweeper {
	return &Sweeper{
		svc:        svc,
		logger:     logger,
		interval:   interval,
		maxRetries: 3,
		backoff:    time.Second,
	}
}

// Run sweeps once immediately, then on every tick until ctx is done.
func (w *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.logger.WithField("interval", w.interval.String()).Info("sweeper started")
	for {
		if err := w.sweepWithRetry(ctx); err != nil && ctx.Err() == nil {
			w.logger.WithError(err).Error("sweep failed after retries")
		}
		select {
		case <-ctx.Done():
			w.logger.Info("sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

func (w *Sweeper) sweepWithRetry(ctx context.Context) error {
	var err error
	for i := 0; i < w.maxRetries; i++ {
		if _, err = w.svc.SweepEndedEvents(ctx); err == nil {
			return nil
		}
		w.logger.WithError(err).WithField("attempt", i+1).Warn("sweep failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(w.backoff << i):
		}
	}
	return err
}
