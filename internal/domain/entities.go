package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventStatus string

const (
	EventDraft     EventStatus = "DRAFT"
	EventPublished EventStatus = "PUBLISHED"
	EventCancelled EventStatus = "CANCELLED"
	EventEnded     EventStatus = "ENDED"
)

type Category string

const (
	CategoryConcert    Category = "CONCERT"
	CategoryWorkshop   Category = "WORKSHOP"
	CategoryConference Category = "CONFERENCE"
	CategoryTheater    Category = "THEATER"
	CategoryOther      Category = "OTHER"
)

type BookingStatus string

const (
	BookingConfirmed            BookingStatus = "CONFIRMED"
	BookingCancelledByUser      BookingStatus = "CANCELLED_BY_USER"
	BookingCancelledByOrganizer BookingStatus = "CANCELLED_BY_ORGANIZER"
)

type Role string

const (
	RoleOrganizer Role = "ORGANIZER"
	RoleAttendee  Role = "ATTENDEE"
)

type Event struct {
	ID             uuid.UUID   `json:"id"`
	OrganizerID    uuid.UUID   `json:"organizer_id"`
	Title          string      `json:"title"`
	Description    string      `json:"description"`
	Location       string      `json:"location"`
	StartsAt       time.Time   `json:"starts_at"`
	TotalSeats     int         `json:"total_seats"`
	AvailableSeats int         `json:"available_seats"`
	PriceCents     int64       `json:"price_cents"`
	Category       Category    `json:"category"`
	Status         EventStatus `json:"status"`
	ImageID        string      `json:"image_id,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SoldSeats is the number of seats held by CONFIRMED bookings.
func (e *Event) SoldSeats() int {
	return e.TotalSeats - e.AvailableSeats
}

// HasStarted reports whether the event's scheduled date is at or before now.
// starts_at is the only field that decides whether an event is over.
func (e *Event) HasStarted(now time.Time) bool {
	return !e.StartsAt.After(now)
}

type Booking struct {
	ID            uuid.UUID     `json:"id"`
	EventID       uuid.UUID     `json:"event_id"`
	UserID        uuid.UUID     `json:"user_id"`
	NumberOfSeats int           `json:"number_of_seats"`
	Status        BookingStatus `json:"status"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	PasswordHash string    `json:"-"`
	Role         Role      `json:"role"`
	Interests    []string  `json:"interests"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
}

type UserStats struct {
	TotalBookings    int `json:"total_bookings"`
	UpcomingBookings int `json:"upcoming_bookings"`
}

type OrganizerStats struct {
	TotalEvents  int   `json:"total_events"`
	TicketsSold  int   `json:"tickets_sold"`
	RevenueCents int64 `json:"total_revenue_cents"`
	ActiveEvents int   `json:"active_events"`
}
