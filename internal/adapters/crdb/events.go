package crdb

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-booking/internal/domain"
)

const eventColumns = `id, organizer_id, title, description, location, starts_at, total_seats,
	available_seats, price_cents, category, status, image_id, created_at, updated_at`

func scanEvent(row pgx.Row) (*domain.Event, error) {
	var (
		e        domain.Event
		category string
		status   string
	)
	err := row.Scan(&e.ID, &e.OrganizerID, &e.Title, &e.Description, &e.Location, &e.StartsAt,
		&e.TotalSeats, &e.AvailableSeats, &e.PriceCents, &category, &status, &e.ImageID,
		&e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Category = domain.Category(category)
	e.Status = domain.EventStatus(status)
	return &e, nil
}

func getEvent(ctx context.Context, q querier, id uuid.UUID, lock bool) (*domain.Event, error) {
	sql := `SELECT ` + eventColumns + ` FROM events WHERE id = $1`
	if lock {
		sql += ` FOR UPDATE`
	}
	e, err := scanEvent(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errors.Wrapf(domain.ErrNotFound, "event %s", id)
	}
	if err != nil {
		return nil, classify(err, "get event")
	}
	return e, nil
}

func (t *txQueries) LockEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return getEvent(ctx, t.tx, id, true)
}

func (t *txQueries) InsertEvent(ctx context.Context, e *domain.Event) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, e.ID, e.OrganizerID, e.Title, e.Description, e.Location, e.StartsAt, e.TotalSeats,
		e.AvailableSeats, e.PriceCents, string(e.Category), string(e.Status), e.ImageID,
		e.CreatedAt, e.UpdatedAt)
	return classify(err, "insert event")
}

func (t *txQueries) UpdateEvent(ctx context.Context, e *domain.Event) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE events SET title = $2, description = $3, location = $4, starts_at = $5,
			total_seats = $6, available_seats = $7, price_cents = $8, category = $9,
			status = $10, image_id = $11, updated_at = $12
		WHERE id = $1
	`, e.ID, e.Title, e.Description, e.Location, e.StartsAt, e.TotalSeats, e.AvailableSeats,
		e.PriceCents, string(e.Category), string(e.Status), e.ImageID, e.UpdatedAt)
	if err != nil {
		return classify(err, "update event")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "event %s", e.ID)
	}
	return nil
}

func (t *txQueries) DeleteEvent(ctx context.Context, id uuid.UUID) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM events WHERE id = $1`, id)
	if err != nil {
		return classify(err, "delete event")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrapf(domain.ErrNotFound, "event %s", id)
	}
	return nil
}

func (r *Repository) GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error) {
	return getEvent(ctx, r.pool, id, false)
}

var sortColumns = map[domain.SortField]string{
	domain.SortByDate:   "starts_at",
	domain.SortByPrice:  "price_cents",
	domain.SortBySold:   "(total_seats - available_seats)",
	domain.SortByStatus: "status",
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// eventWhere renders the filter as a WHERE clause and its positional args.
func eventWhere(f domain.EventFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	if q := strings.TrimSpace(f.Query); q != "" {
		p := arg("%" + likeEscaper.Replace(q) + "%")
		conds = append(conds, fmt.Sprintf(`(title ILIKE %[1]s ESCAPE '\' OR description ILIKE %[1]s ESCAPE '\' OR location ILIKE %[1]s ESCAPE '\')`, p))
	}
	if f.Category != "" {
		conds = append(conds, "category = "+arg(string(f.Category)))
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		conds = append(conds, "status = ANY("+arg(statuses)+"::TEXT[])")
	}
	if f.OrganizerID != uuid.Nil {
		conds = append(conds, "organizer_id = "+arg(f.OrganizerID))
	}
	if !f.StartsAfter.IsZero() {
		conds = append(conds, "starts_at > "+arg(f.StartsAfter))
	}
	if !f.StartsBefore.IsZero() {
		conds = append(conds, "starts_at < "+arg(f.StartsBefore))
	}
	if len(f.ExcludeIDs) > 0 {
		ids := make([]string, len(f.ExcludeIDs))
		for i, id := range f.ExcludeIDs {
			ids[i] = id.String()
		}
		conds = append(conds, "NOT (id = ANY("+arg(ids)+"::UUID[]))")
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *Repository) ListEvents(ctx context.Context, f domain.EventFilter) ([]domain.Event, int, error) {
	where, args := eventWhere(f)

	var total int
	if err := r.pool.QueryRow(ctx, `SELECT count(*) FROM events`+where, args...).Scan(&total); err != nil {
		return nil, 0, classify(err, "count events")
	}

	col, ok := sortColumns[f.SortBy]
	if !ok {
		col = sortColumns[domain.SortByDate]
	}
	dir := "ASC"
	if f.SortDesc {
		dir = "DESC"
	}
	sql := `SELECT ` + eventColumns + ` FROM events` + where +
		fmt.Sprintf(" ORDER BY %s %s, id ASC", col, dir)
	if f.Limit > 0 {
		sql += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	if f.Offset > 0 {
		sql += fmt.Sprintf(" OFFSET %d", f.Offset)
	}

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, classify(err, "list events")
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	return events, total, nil
}

func collectEvents(rows pgx.Rows) ([]domain.Event, error) {
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, classify(err, "scan event")
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "read events")
	}
	return events, nil
}

// SweepEndedEvents flips every started PUBLISHED event in one statement. The
// status predicate keeps it safe to race with bookings and organizer edits.
func (r *Repository) SweepEndedEvents(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE events SET status = 'ENDED', updated_at = $1
		WHERE status = 'PUBLISHED' AND starts_at <= $1
	`, now)
	if err != nil {
		return 0, classify(err, "sweep ended events")
	}
	return tag.RowsAffected(), nil
}

func (r *Repository) OrganizerStats(ctx context.Context, organizerID uuid.UUID) (domain.OrganizerStats, error) {
	var s domain.OrganizerStats
	err := r.pool.QueryRow(ctx, `
		SELECT count(*),
			COALESCE(sum(total_seats - available_seats), 0)::INT8,
			COALESCE(sum((total_seats - available_seats) * price_cents), 0)::INT8,
			COALESCE(sum(CASE WHEN status = 'PUBLISHED' THEN 1 ELSE 0 END), 0)::INT8
		FROM events WHERE organizer_id = $1
	`, organizerID).Scan(&s.TotalEvents, &s.TicketsSold, &s.RevenueCents, &s.ActiveEvents)
	if err != nil {
		return domain.OrganizerStats{}, classify(err, "organizer stats")
	}
	return s, nil
}
