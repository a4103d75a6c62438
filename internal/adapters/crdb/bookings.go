package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-booking/internal/domain"
)

const bookingColumns = `id, event_id, user_id, number_of_seats, status, created_at, updated_at`

func scanBooking(row pgx.Row) (*domain.Booking, error) {
	var (
		b      domain.Booking
		status string
	)
	if err := row.Scan(&b.ID, &b.EventID, &b.UserID, &b.NumberOfSeats, &status, &b.CreatedAt, &b.UpdatedAt); err != nil {
		return nil, err
	}
	b.Status = domain.BookingStatus(status)
	return &b, nil
}

func getBooking(ctx context.Context, q querier, id uuid.UUID, lock bool) (*domain.Booking, error) {
	sql := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	b, err := scanBooking(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "booking %s", id)
	}
	if err != nil {
		return nil, classify(err, "get booking")
	}
	return b, nil
}

func collectBookings(rows pgx.Rows) ([]domain.Booking, error) {
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, classify(err, "scan booking")
		}
		out = append(out, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "read bookings")
	}
	return out, nil
}

func (t *txQueries) LockBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return getBooking(ctx, t.tx, id, true)
}

func (t *txQueries) InsertBooking(ctx context.Context, b *domain.Booking) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings (`+bookingColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, b.ID, b.EventID, b.UserID, b.NumberOfSeats, string(b.Status), b.CreatedAt, b.UpdatedAt)
	return classify(err, "insert booking")
}

func (t *txQueries) UpdateBookingStatus(ctx context.Context, b *domain.Booking) error {
	tag, err := t.tx.Exec(ctx, `UPDATE bookings SET status = $2, updated_at = $3 WHERE id = $1`,
		b.ID, string(b.Status), b.UpdatedAt)
	if err != nil {
		return classify(err, "update booking")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "booking %s", b.ID)
	}
	return nil
}

func (t *txQueries) CancelEventBookings(ctx context.Context, eventID uuid.UUID, now time.Time) ([]domain.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		UPDATE bookings SET status = 'CANCELLED_BY_ORGANIZER', updated_at = $2
		WHERE event_id = $1 AND status = 'CONFIRMED'
		RETURNING `+bookingColumns, eventID, now)
	if err != nil {
		return nil, classify(err, "cancel event bookings")
	}
	return collectBookings(rows)
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	return getBooking(ctx, r.pool, id, false)
}

func (r *Repository) ListBookingsByUser(ctx context.Context, userID uuid.UUID, p domain.Page) ([]domain.Booking, error) {
	limit := p.Limit
	if limit <= 0 {
		limit = 1 << 30
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+bookingColumns+` FROM bookings
		WHERE user_id = $1 ORDER BY created_at DESC, id ASC LIMIT $2 OFFSET $3
	`, userID, limit, max(p.Offset, 0))
	if err != nil {
		return nil, classify(err, "list bookings")
	}
	return collectBookings(rows)
}

func (r *Repository) BookedEvents(ctx context.Context, userID uuid.UUID) ([]domain.Event, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+eventColumns+` FROM events
		WHERE id IN (SELECT event_id FROM bookings WHERE user_id = $1)
		ORDER BY starts_at ASC
	`, userID)
	if err != nil {
		return nil, classify(err, "booked events")
	}
	return collectEvents(rows)
}

// UserStats counts every booking the user ever made and the confirmed ones
// whose event has not started yet.
func (r *Repository) UserStats(ctx context.Context, userID uuid.UUID, now time.Time) (domain.UserStats, error) {
	var s domain.UserStats
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
			COALESCE(sum(CASE WHEN b.status = 'CONFIRMED' AND e.starts_at > $2 THEN 1 ELSE 0 END), 0)::INT8
		FROM bookings b JOIN events e ON e.id = b.event_id
		WHERE b.user_id = $1
	`, userID, now).Scan(&s.TotalBookings, &s.UpcomingBookings)
	if err != nil {
		return domain.UserStats{}, classify(err, "user stats")
	}
	return s, nil
}
