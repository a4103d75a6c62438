// Package booking reserves and releases seats. It is the only code path that
// changes available_seats on behalf of attendees, and it does so exclusively
// under the event's row lock.
package booking

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type Service struct {
	store  domain.Store
	log    observability.Logger
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*Service)

// WithClock replaces time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store domain.Store, log observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		log:    log,
		now:    time.Now,
		tracer: otel.Tracer("eventbook/booking"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateBooking reserves seats on a published, not yet started event. When
// the event turns out to have started, the ENDED flip is committed on its own
// and the call still fails with ErrInvalidState.
func (s *Service) CreateBooking(ctx context.Context, eventID, userID uuid.UUID, seats int) (*domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CreateBooking", trace.WithAttributes(
		attribute.String("event.id", eventID.String()),
		attribute.Int("booking.seats", seats),
	))
	defer span.End()

	if err := domain.ValidateSeatRequest(seats); err != nil {
		return nil, s.finish(span, "create", err)
	}

	now := s.now().UTC()
	var (
		booking domain.Booking
		expired bool
	)
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if event.Status != domain.EventPublished {
			return errors.Wrapf(domain.ErrInvalidState, "event %s is %s", eventID, event.Status)
		}
		if event.HasStarted(now) {
			if err := event.Transition(domain.EventEnded, now); err != nil {
				return err
			}
			expired = true
			return tx.UpdateEvent(ctx, event)
		}

		if err := event.Reserve(seats, now); err != nil {
			return err
		}
		if err := tx.UpdateEvent(ctx, event); err != nil {
			return err
		}
		booking = domain.NewBooking(eventID, userID, seats, now)
		if err := tx.InsertBooking(ctx, &booking); err != nil {
			return err
		}
		msg, err := domain.NewOutboxMessage(domain.TopicBookingCreated, "booking", booking.ID,
			domain.NewBookingNotice(booking, *event), now)
		if err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, msg)
	})
	if err == nil && expired {
		observability.EventsEnded.WithLabelValues("booking").Inc()
		s.log.WithField("event_id", eventID).Info("event ended on booking attempt")
		err = errors.Wrapf(domain.ErrInvalidState, "event %s has already started", eventID)
	}
	if err != nil {
		return nil, s.finish(span, "create", err)
	}

	observability.SeatsReserved.Add(float64(seats))
	span.SetAttributes(attribute.String("booking.id", booking.ID.String()))
	s.finish(span, "create", nil)
	return &booking, nil
}

// CancelBookingByUser returns the booking's seats to its event. The event row
// is locked before the booking is re-read so the lock order matches
// CreateBooking and organizer cancellation.
func (s *Service) CancelBookingByUser(ctx context.Context, bookingID, userID uuid.UUID) (*domain.Booking, error) {
	ctx, span := s.tracer.Start(ctx, "booking.CancelBookingByUser", trace.WithAttributes(
		attribute.String("booking.id", bookingID.String()),
	))
	defer span.End()

	current, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, s.finish(span, "cancel", err)
	}
	if err := current.CheckOwner(userID); err != nil {
		return nil, s.finish(span, "cancel", err)
	}

	now := s.now().UTC()
	var booking *domain.Booking
	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		event, err := tx.LockEvent(ctx, current.EventID)
		if err != nil {
			return err
		}
		booking, err = tx.LockBooking(ctx, bookingID)
		if err != nil {
			return err
		}
		if err := booking.CheckOwner(userID); err != nil {
			return err
		}
		if err := booking.Cancel(domain.BookingCancelledByUser, now); err != nil {
			return err
		}
		if err := event.Release(booking.NumberOfSeats, now); err != nil {
			return err
		}
		if err := tx.UpdateEvent(ctx, event); err != nil {
			return err
		}
		if err := tx.UpdateBookingStatus(ctx, booking); err != nil {
			return err
		}
		msg, err := domain.NewOutboxMessage(domain.TopicBookingCancelled, "booking", booking.ID,
			domain.NewBookingNotice(*booking, *event), now)
		if err != nil {
			return err
		}
		return tx.EnqueueOutbox(ctx, msg)
	})
	if err != nil {
		return nil, s.finish(span, "cancel", err)
	}

	observability.SeatsReleased.Add(float64(booking.NumberOfSeats))
	s.finish(span, "cancel", nil)
	return booking, nil
}

func (s *Service) GetUserStats(ctx context.Context, userID uuid.UUID) (domain.UserStats, error) {
	return s.store.UserStats(ctx, userID, s.now().UTC())
}

func (s *Service) ListUserBookings(ctx context.Context, userID uuid.UUID, page domain.Page) ([]domain.Booking, error) {
	return s.store.ListBookingsByUser(ctx, userID, page)
}

func (s *Service) finish(span trace.Span, op string, err error) error {
	kind := "ok"
	if err != nil {
		kind = domain.Kind(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, kind)
		if kind == "internal" || domain.IsRetryable(err) {
			s.log.WithError(err).WithField("operation", op).Warn("booking operation failed")
		}
	}
	observability.BookingsTotal.WithLabelValues(op, kind).Inc()
	return err
}
