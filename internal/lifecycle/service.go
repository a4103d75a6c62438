// Package lifecycle owns event status transitions and the seat-count rules
// that apply outside the booking path.
package lifecycle

import (
	"context"
	"io"
	"net/url"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// ImageStore persists event images. Ids it returns are stored on the event.
type ImageStore interface {
	Save(r io.Reader, filename string) (string, error)
	Fetch(ctx context.Context, rawURL string) (string, error)
	Remove(id string) error
}

// Image is the optional picture attached to a new event: either an upload
// or a remote URL.
type Image struct {
	Upload   io.Reader
	Filename string
	URL      string
}

type Service struct {
	store  domain.Store
	images ImageStore
	log    observability.Logger
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func NewService(store domain.Store, images ImageStore, log observability.Logger, opts ...Option) *Service {
	s := &Service{
		store:  store,
		images: images,
		log:    log,
		now:    time.Now,
		tracer: otel.Tracer("eventbook/lifecycle"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) CreateEvent(ctx context.Context, organizerID uuid.UUID, in domain.EventInput, img *Image) (*domain.Event, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.CreateEvent")
	defer span.End()

	now := s.now().UTC()
	event, err := domain.NewEvent(organizerID, in, now)
	if err != nil {
		return nil, err
	}

	stored, err := s.storeImage(ctx, img)
	if err != nil {
		return nil, err
	}
	event.ImageID = stored

	err = s.store.WithTx(ctx, func(tx domain.Tx) error {
		return tx.InsertEvent(ctx, event)
	})
	if err != nil {
		s.removeImage(stored)
		return nil, err
	}
	span.SetAttributes(attribute.String("event.id", event.ID.String()))
	return event, nil
}

// storeImage returns the id to record on the event. An absolute http(s) URL
// that cannot be downloaded is recorded as is; anything else is rejected.
func (s *Service) storeImage(ctx context.Context, img *Image) (string, error) {
	if img == nil || s.images == nil {
		return "", nil
	}
	if img.Upload != nil {
		return s.images.Save(img.Upload, img.Filename)
	}
	if img.URL == "" {
		return "", nil
	}
	if !remoteURL(img.URL) {
		return "", errors.Wrapf(domain.ErrInvalidInput, "image_url %q is not an absolute http(s) url", img.URL)
	}
	id, err := s.images.Fetch(ctx, img.URL)
	if err != nil {
		s.log.WithError(err).WithField("url", img.URL).Warn("image fetch failed, keeping url")
		return img.URL, nil
	}
	return id, nil
}

func remoteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// removeImage deletes a stored upload. Remote URLs recorded verbatim are
// left alone.
func (s *Service) removeImage(id string) {
	if id == "" || s.images == nil || remoteURL(id) {
		return
	}
	if err := s.images.Remove(id); err != nil {
		s.log.WithError(err).WithField("image_id", id).Warn("failed to remove image")
	}
}

// UpdateEvent applies patch under the event's row lock. Seat changes carry
// the delta into available_seats; a move to CANCELLED cascades exactly like
// CancelEvent. Nothing is written when any part of the patch is rejected.
func (s *Service) UpdateEvent(ctx context.Context, organizerID, eventID uuid.UUID, patch domain.EventPatch) (*domain.Event, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.UpdateEvent", trace.WithAttributes(
		attribute.String("event.id", eventID.String()),
	))
	defer span.End()

	now := s.now().UTC()
	var event *domain.Event
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		event, err = tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := event.CheckOwner(organizerID); err != nil {
			return err
		}
		if err := event.ApplyPatch(patch, now); err != nil {
			return err
		}
		if patch.Status == nil {
			return tx.UpdateEvent(ctx, event)
		}
		to, err := domain.ParseEventStatus(string(*patch.Status))
		if err != nil {
			return err
		}
		if to == domain.EventCancelled {
			return s.cancelLocked(ctx, tx, event, now)
		}
		if err := event.Transition(to, now); err != nil {
			return err
		}
		return tx.UpdateEvent(ctx, event)
	})
	if err != nil {
		return nil, err
	}
	if event.Status == domain.EventEnded {
		observability.EventsEnded.WithLabelValues("organizer").Inc()
	}
	return event, nil
}

// CancelEvent cancels the event and every CONFIRMED booking on it in one
// transaction.
func (s *Service) CancelEvent(ctx context.Context, organizerID, eventID uuid.UUID) (*domain.Event, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.CancelEvent", trace.WithAttributes(
		attribute.String("event.id", eventID.String()),
	))
	defer span.End()

	now := s.now().UTC()
	var event *domain.Event
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		event, err = tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := event.CheckOwner(organizerID); err != nil {
			return err
		}
		return s.cancelLocked(ctx, tx, event, now)
	})
	if err != nil {
		return nil, err
	}
	return event, nil
}

// cancelLocked expects the event row to be locked by tx. Seats held by the
// cancelled bookings go back to the pool so the seat invariant holds for
// dead events too.
func (s *Service) cancelLocked(ctx context.Context, tx domain.Tx, event *domain.Event, now time.Time) error {
	if event.Status == domain.EventCancelled {
		return errors.Wrapf(domain.ErrInvalidState, "event %s is already cancelled", event.ID)
	}
	if err := event.Transition(domain.EventCancelled, now); err != nil {
		return err
	}
	bookings, err := tx.CancelEventBookings(ctx, event.ID, now)
	if err != nil {
		return err
	}

	notice := domain.EventCancelledNotice{
		EventID:     event.ID,
		OrganizerID: event.OrganizerID,
		EventTitle:  event.Title,
		StartsAt:    event.StartsAt,
		Bookings:    make([]domain.BookingNotice, 0, len(bookings)),
	}
	for _, b := range bookings {
		if err := event.Release(b.NumberOfSeats, now); err != nil {
			return err
		}
		notice.Bookings = append(notice.Bookings, domain.NewBookingNotice(b, *event))
	}
	if err := tx.UpdateEvent(ctx, event); err != nil {
		return err
	}

	msg, err := domain.NewOutboxMessage(domain.TopicEventCancelled, "event", event.ID, notice, now)
	if err != nil {
		return err
	}
	s.log.WithField("event_id", event.ID).WithField("bookings", len(bookings)).Info("event cancelled")
	return tx.EnqueueOutbox(ctx, msg)
}

// SweepEndedEvents moves every PUBLISHED event that has started to ENDED.
// It is idempotent and safe to run from any number of processes.
func (s *Service) SweepEndedEvents(ctx context.Context) (int64, error) {
	ctx, span := s.tracer.Start(ctx, "lifecycle.SweepEndedEvents")
	defer span.End()

	n, err := s.store.SweepEndedEvents(ctx, s.now().UTC())
	if err != nil {
		span.RecordError(err)
		return 0, err
	}
	if n > 0 {
		observability.EventsEnded.WithLabelValues("sweep").Add(float64(n))
		s.log.WithField("count", n).Info("events ended")
	}
	span.SetAttributes(attribute.Int64("events.ended", n))
	return n, nil
}

// sweepBeforeRead keeps read paths from showing stale PUBLISHED events. A
// failed sweep does not fail the read.
func (s *Service) sweepBeforeRead(ctx context.Context) {
	if _, err := s.SweepEndedEvents(ctx); err != nil {
		s.log.WithError(err).Warn("sweep before read failed")
	}
}

func (s *Service) DeleteDraftEvent(ctx context.Context, organizerID, eventID uuid.UUID) error {
	ctx, span := s.tracer.Start(ctx, "lifecycle.DeleteDraftEvent", trace.WithAttributes(
		attribute.String("event.id", eventID.String()),
	))
	defer span.End()

	var imageID string
	err := s.store.WithTx(ctx, func(tx domain.Tx) error {
		event, err := tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if err := event.CheckOwner(organizerID); err != nil {
			return err
		}
		if event.Status != domain.EventDraft {
			return errors.Wrapf(domain.ErrInvalidState, "event %s is %s; only drafts can be deleted", eventID, event.Status)
		}
		imageID = event.ImageID
		return tx.DeleteEvent(ctx, eventID)
	})
	if err != nil {
		return err
	}
	s.removeImage(imageID)
	return nil
}

// GetEvent returns the event as seen by viewerID. Drafts are only visible to
// their organizer.
func (s *Service) GetEvent(ctx context.Context, viewerID, eventID uuid.UUID) (*domain.Event, error) {
	s.sweepBeforeRead(ctx)
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if event.Status == domain.EventDraft && event.OrganizerID != viewerID {
		return nil, errors.Wrapf(domain.ErrNotFound, "event %s", eventID)
	}
	return event, nil
}

// ListEvents is the public catalogue. Without an explicit status filter only
// PUBLISHED events are listed; drafts are never listed here.
func (s *Service) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, int, error) {
	s.sweepBeforeRead(ctx)
	f.Statuses = slices.DeleteFunc(slices.Clone(f.Statuses), func(st domain.EventStatus) bool {
		return st == domain.EventDraft
	})
	if len(f.Statuses) == 0 {
		f.Statuses = []domain.EventStatus{domain.EventPublished}
	}
	return s.store.ListEvents(ctx, f)
}

func (s *Service) ListOrganizerEvents(ctx context.Context, organizerID uuid.UUID, f domain.EventFilter) ([]domain.Event, int, error) {
	s.sweepBeforeRead(ctx)
	f.OrganizerID = organizerID
	return s.store.ListEvents(ctx, f)
}

func (s *Service) OrganizerStats(ctx context.Context, organizerID uuid.UUID) (domain.OrganizerStats, error) {
	s.sweepBeforeRead(ctx)
	return s.store.OrganizerStats(ctx, organizerID)
}
