package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SortField string

const (
	SortByDate   SortField = "date"
	SortByPrice  SortField = "price"
	SortBySold   SortField = "sold"
	SortByStatus SortField = "status"
)

// EventFilter selects events for browse, search and dashboard listings.
// Zero values mean "no constraint"; Limit <= 0 returns every match.
type EventFilter struct {
	Query        string
	Category     Category
	Statuses     []EventStatus
	OrganizerID  uuid.UUID
	StartsAfter  time.Time
	StartsBefore time.Time
	ExcludeIDs   []uuid.UUID
	SortBy       SortField
	SortDesc     bool
	Offset       int
	Limit        int
}

type Page struct {
	Offset int
	Limit  int
}

// Tx is the unit of work handed to Store.WithTx. Everything written through
// it commits together or not at all.
type Tx interface {
	// LockEvent reads the event and holds an exclusive row lock on it until
	// the transaction ends. Concurrent LockEvent calls on the same id block.
	LockEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	InsertEvent(ctx context.Context, e *Event) error
	UpdateEvent(ctx context.Context, e *Event) error
	DeleteEvent(ctx context.Context, id uuid.UUID) error

	// LockBooking reads the booking and holds a row lock on it. Callers lock
	// the booking's event first.
	LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	InsertBooking(ctx context.Context, b *Booking) error
	UpdateBookingStatus(ctx context.Context, b *Booking) error
	// CancelEventBookings flips every CONFIRMED booking of the event to
	// CANCELLED_BY_ORGANIZER and returns the flipped rows.
	CancelEventBookings(ctx context.Context, eventID uuid.UUID, now time.Time) ([]Booking, error)

	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetEvent(ctx context.Context, id uuid.UUID) (*Event, error)
	ListEvents(ctx context.Context, f EventFilter) ([]Event, int, error)
	// SweepEndedEvents marks every PUBLISHED event that started before now
	// as ENDED in one conditional bulk update and returns the number flipped.
	SweepEndedEvents(ctx context.Context, now time.Time) (int64, error)
	OrganizerStats(ctx context.Context, organizerID uuid.UUID) (OrganizerStats, error)

	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	ListBookingsByUser(ctx context.Context, userID uuid.UUID, p Page) ([]Booking, error)
	// BookedEvents returns the distinct events the user has ever booked.
	BookedEvents(ctx context.Context, userID uuid.UUID) ([]Event, error)
	UserStats(ctx context.Context, userID uuid.UUID, now time.Time) (UserStats, error)

	CreateUser(ctx context.Context, u *User) error
	GetUser(ctx context.Context, id uuid.UUID) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	UpdateUserInterests(ctx context.Context, id uuid.UUID, interests []string) error
}

// OutboxStore is implemented by stores that can relay their outbox.
type OutboxStore interface {
	// PublishPending claims up to limit unpublished messages, hands each to
	// publish and marks the ones that succeeded. Claimed rows are skipped by
	// concurrent callers.
	PublishPending(ctx context.Context, limit int, publish func(OutboxMessage) error) (int, error)
}
