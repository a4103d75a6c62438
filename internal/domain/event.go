package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const MaxSeatsPerEvent = 100_000

// EventInput carries the organizer-supplied fields of a new event.
type EventInput struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	StartsAt    time.Time   `json:"starts_at"`
	TotalSeats  int         `json:"total_seats"`
	PriceCents  int64       `json:"price_cents"`
	Category    Category    `json:"category"`
	Status      EventStatus `json:"status"`
}

// EventPatch is a partial update. Nil fields are left untouched.
type EventPatch struct {
	Title       *string      `json:"title,omitempty"`
	Description *string      `json:"description,omitempty"`
	Location    *string      `json:"location,omitempty"`
	StartsAt    *time.Time   `json:"starts_at,omitempty"`
	TotalSeats  *int         `json:"total_seats,omitempty"`
	PriceCents  *int64       `json:"price_cents,omitempty"`
	Category    *Category    `json:"category,omitempty"`
	Status      *EventStatus `json:"status,omitempty"`
}

func ParseCategory(s string) (Category, error) {
	switch c := Category(strings.ToUpper(strings.TrimSpace(s))); c {
	case "":
		return CategoryOther, nil
	case CategoryConcert, CategoryWorkshop, CategoryConference, CategoryTheater, CategoryOther:
		return c, nil
	default:
		return "", errors.Wrapf(ErrInvalidInput, "unknown category %q", s)
	}
}

func ParseEventStatus(s string) (EventStatus, error) {
	switch st := EventStatus(strings.ToUpper(strings.TrimSpace(s))); st {
	case EventDraft, EventPublished, EventCancelled, EventEnded:
		return st, nil
	default:
		return "", errors.Wrapf(ErrInvalidInput, "unknown event status %q", s)
	}
}

// NewEvent validates in and builds a DRAFT (or PUBLISHED, when asked) event
// with every seat available.
func NewEvent(organizerID uuid.UUID, in EventInput, now time.Time) (*Event, error) {
	in.Title = strings.TrimSpace(in.Title)
	if in.Title == "" {
		return nil, errors.Wrap(ErrInvalidInput, "title is required")
	}
	if err := validateSeats(in.TotalSeats); err != nil {
		return nil, err
	}
	if in.PriceCents < 0 {
		return nil, errors.Wrap(ErrInvalidInput, "price must be non-negative")
	}
	if in.StartsAt.IsZero() {
		return nil, errors.Wrap(ErrInvalidInput, "starts_at is required")
	}
	category, err := ParseCategory(string(in.Category))
	if err != nil {
		return nil, err
	}
	status := in.Status
	switch status {
	case "":
		status = EventDraft
	case EventDraft, EventPublished:
	default:
		return nil, errors.Wrapf(ErrInvalidInput, "an event cannot be created as %s", status)
	}

	return &Event{
		ID:             uuid.New(),
		OrganizerID:    organizerID,
		Title:          in.Title,
		Description:    strings.TrimSpace(in.Description),
		Location:       strings.TrimSpace(in.Location),
		StartsAt:       in.StartsAt.UTC(),
		TotalSeats:     in.TotalSeats,
		AvailableSeats: in.TotalSeats,
		PriceCents:     in.PriceCents,
		Category:       category,
		Status:         status,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

func validateSeats(n int) error {
	if n <= 0 {
		return errors.Wrap(ErrInvalidInput, "total_seats must be a positive integer")
	}
	if n > MaxSeatsPerEvent {
		return errors.Wrapf(ErrInvalidInput, "total_seats cannot exceed %d", MaxSeatsPerEvent)
	}
	return nil
}

// CanTransition reports whether the lifecycle allows moving from one status
// to another. ENDED and CANCELLED are terminal.
func CanTransition(from, to EventStatus) bool {
	switch from {
	case EventDraft:
		return to == EventPublished || to == EventCancelled
	case EventPublished:
		return to == EventCancelled || to == EventEnded
	default:
		return false
	}
}

func (e *Event) CheckOwner(organizerID uuid.UUID) error {
	if e.OrganizerID != organizerID {
		return errors.Wrapf(ErrForbidden, "event %s belongs to another organizer", e.ID)
	}
	return nil
}

// Transition moves the event to status `to`. Setting the current status is a
// no-op.
func (e *Event) Transition(to EventStatus, now time.Time) error {
	if e.Status == to {
		return nil
	}
	if !CanTransition(e.Status, to) {
		return errors.Wrapf(ErrInvalidState, "event %s cannot move from %s to %s", e.ID, e.Status, to)
	}
	e.Status = to
	e.UpdatedAt = now
	return nil
}

// Resize changes the capacity and carries the delta into available seats.
// Capacity cannot drop below the seats already sold.
func (e *Event) Resize(total int) error {
	if err := validateSeats(total); err != nil {
		return err
	}
	available := e.AvailableSeats + total - e.TotalSeats
	if available < 0 {
		return errors.Wrapf(ErrInvalidState,
			"cannot reduce total seats of event %s to %d: %d seats already booked", e.ID, total, e.SoldSeats())
	}
	e.TotalSeats = total
	e.AvailableSeats = available
	return nil
}

// Reserve takes n seats out of the available pool.
func (e *Event) Reserve(n int, now time.Time) error {
	if e.AvailableSeats < n {
		return errors.Wrapf(ErrCapacityExceeded,
			"event %s has %d seats available, %d requested", e.ID, e.AvailableSeats, n)
	}
	e.AvailableSeats -= n
	e.UpdatedAt = now
	return nil
}

// Release puts n seats back into the available pool.
func (e *Event) Release(n int, now time.Time) error {
	if e.AvailableSeats+n > e.TotalSeats {
		return errors.Wrapf(ErrInvalidState,
			"releasing %d seats would exceed capacity of event %s", n, e.ID)
	}
	e.AvailableSeats += n
	e.UpdatedAt = now
	return nil
}

// ApplyPatch validates and applies every non-status field of p. The event is
// left unchanged when an error is returned. Status changes are handled by the
// caller since cancellation cascades to bookings.
func (e *Event) ApplyPatch(p EventPatch, now time.Time) error {
	next := *e
	if p.Title != nil {
		title := strings.TrimSpace(*p.Title)
		if title == "" {
			return errors.Wrap(ErrInvalidInput, "title cannot be empty")
		}
		next.Title = title
	}
	if p.Description != nil {
		next.Description = strings.TrimSpace(*p.Description)
	}
	if p.Location != nil {
		next.Location = strings.TrimSpace(*p.Location)
	}
	if p.StartsAt != nil {
		if p.StartsAt.IsZero() {
			return errors.Wrap(ErrInvalidInput, "starts_at cannot be empty")
		}
		next.StartsAt = p.StartsAt.UTC()
	}
	if p.PriceCents != nil {
		if *p.PriceCents < 0 {
			return errors.Wrap(ErrInvalidInput, "price must be non-negative")
		}
		next.PriceCents = *p.PriceCents
	}
	if p.Category != nil {
		c, err := ParseCategory(string(*p.Category))
		if err != nil {
			return err
		}
		next.Category = c
	}
	if p.TotalSeats != nil && *p.TotalSeats != next.TotalSeats {
		if err := next.Resize(*p.TotalSeats); err != nil {
			return err
		}
	}
	next.UpdatedAt = now
	*e = next
	return nil
}
