package crdb

import (
	"context"

	"github.com/cockroachdb/errors"
)

// Schema is applied statement by statement by Migrate. It is valid on both
// CockroachDB and PostgreSQL.
var Schema = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id UUID PRIMARY KEY,
		email TEXT NOT NULL UNIQUE,
		full_name TEXT NOT NULL DEFAULT '',
		password_hash TEXT NOT NULL,
		role TEXT NOT NULL CHECK (role IN ('ORGANIZER', 'ATTENDEE')),
		interests TEXT[] NOT NULL DEFAULT ARRAY[]::TEXT[],
		is_active BOOL NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE TABLE IF NOT EXISTS events (
		id UUID PRIMARY KEY,
		organizer_id UUID NOT NULL REFERENCES users (id),
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		starts_at TIMESTAMPTZ NOT NULL,
		total_seats INT8 NOT NULL CHECK (total_seats > 0),
		available_seats INT8 NOT NULL CHECK (available_seats >= 0 AND available_seats <= total_seats),
		price_cents INT8 NOT NULL DEFAULT 0 CHECK (price_cents >= 0),
		category TEXT NOT NULL DEFAULT 'OTHER',
		status TEXT NOT NULL CHECK (status IN ('DRAFT', 'PUBLISHED', 'CANCELLED', 'ENDED')),
		image_id TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS events_status_starts_at_idx ON events (status, starts_at)`,
	`CREATE INDEX IF NOT EXISTS events_organizer_idx ON events (organizer_id)`,
	`CREATE TABLE IF NOT EXISTS bookings (
		id UUID PRIMARY KEY,
		event_id UUID NOT NULL REFERENCES events (id),
		user_id UUID NOT NULL REFERENCES users (id),
		number_of_seats INT8 NOT NULL CHECK (number_of_seats > 0),
		status TEXT NOT NULL CHECK (status IN ('CONFIRMED', 'CANCELLED_BY_USER', 'CANCELLED_BY_ORGANIZER')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS bookings_event_status_idx ON bookings (event_id, status)`,
	`CREATE INDEX IF NOT EXISTS bookings_user_idx ON bookings (user_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS outbox (
		id UUID PRIMARY KEY,
		aggregate_type TEXT NOT NULL,
		aggregate_id UUID NOT NULL,
		event_type TEXT NOT NULL,
		payload_json JSONB NOT NULL,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		published_at TIMESTAMPTZ,
		status TEXT NOT NULL DEFAULT 'NEW' CHECK (status IN ('NEW', 'PUBLISHED', 'FAILED')),
		dedupe_key TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS outbox_status_created_idx ON outbox (status, created_at)`,
}

func (r *Repository) Migrate(ctx context.Context) error {
	for i, stmt := range Schema {
		if _, err := r.pool.Exec(ctx, stmt); err != nil {
			return errors.Wrapf(err, "apply schema statement %d", i)
		}
	}
	return nil
}
