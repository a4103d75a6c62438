package domain

import (
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const (
	TopicBookingCreated   = "booking.created"
	TopicBookingCancelled = "booking.cancelled"
	TopicEventCancelled   = "event.cancelled"
)

type OutboxMessage struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	DedupeKey     string
}

// BookingNotice is the payload of booking.created and booking.cancelled.
type BookingNotice struct {
	BookingID     uuid.UUID     `json:"booking_id"`
	EventID       uuid.UUID     `json:"event_id"`
	UserID        uuid.UUID     `json:"user_id"`
	EventTitle    string        `json:"event_title"`
	StartsAt      time.Time     `json:"starts_at"`
	NumberOfSeats int           `json:"number_of_seats"`
	Status        BookingStatus `json:"status"`
}

// EventCancelledNotice is the payload of event.cancelled.
type EventCancelledNotice struct {
	EventID     uuid.UUID       `json:"event_id"`
	OrganizerID uuid.UUID       `json:"organizer_id"`
	EventTitle  string          `json:"event_title"`
	StartsAt    time.Time       `json:"starts_at"`
	Bookings    []BookingNotice `json:"bookings"`
}

func NewBookingNotice(b Booking, e Event) BookingNotice {
	return BookingNotice{
		BookingID:     b.ID,
		EventID:       e.ID,
		UserID:        b.UserID,
		EventTitle:    e.Title,
		StartsAt:      e.StartsAt,
		NumberOfSeats: b.NumberOfSeats,
		Status:        b.Status,
	}
}

func NewOutboxMessage(eventType, aggregateType string, aggregateID uuid.UUID, payload any, now time.Time) (OutboxMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxMessage{}, errors.Wrapf(err, "marshal %s payload", eventType)
	}
	id := uuid.New()
	return OutboxMessage{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     now,
		DedupeKey:     eventType + ":" + id.String(),
	}, nil
}
