package domain

import (
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

const MaxSeatsPerBooking = 100

func ValidateSeatRequest(seats int) error {
	if seats <= 0 {
		return errors.Wrap(ErrInvalidInput, "number_of_seats must be a positive integer")
	}
	if seats > MaxSeatsPerBooking {
		return errors.Wrapf(ErrInvalidInput, "number_of_seats cannot exceed %d", MaxSeatsPerBooking)
	}
	return nil
}

func NewBooking(eventID, userID uuid.UUID, seats int, now time.Time) Booking {
	return Booking{
		ID:            uuid.New(),
		EventID:       eventID,
		UserID:        userID,
		NumberOfSeats: seats,
		Status:        BookingConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (b *Booking) CheckOwner(userID uuid.UUID) error {
	if b.UserID != userID {
		return errors.Wrapf(ErrForbidden, "booking %s belongs to another user", b.ID)
	}
	return nil
}

// Cancel moves a CONFIRMED booking to one of the cancelled states. There is no
// way back to CONFIRMED.
func (b *Booking) Cancel(status BookingStatus, now time.Time) error {
	if b.Status != BookingConfirmed {
		return errors.Wrapf(ErrInvalidState, "booking %s is %s, not %s", b.ID, b.Status, BookingConfirmed)
	}
	if status != BookingCancelledByUser && status != BookingCancelledByOrganizer {
		return errors.Wrapf(ErrInvalidInput, "%s is not a cancellation status", status)
	}
	b.Status = status
	b.UpdatedAt = now
	return nil
}
