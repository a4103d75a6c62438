package crdb

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/robertarktes/event-booking/internal/domain"
)

func (t *txQueries) EnqueueOutbox(ctx context.Context, msg domain.OutboxMessage) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO outbox (id, aggregate_type, aggregate_id, event_type, payload_json, created_at, status, dedupe_key)
		VALUES ($1, $2, $3, $4, $5, $6, 'NEW', $7)
	`, msg.ID, msg.AggregateType, msg.AggregateID, msg.EventType, string(msg.Payload), msg.CreatedAt, msg.DedupeKey)
	return classify(err, "enqueue outbox")
}

// PublishPending claims a batch with FOR UPDATE SKIP LOCKED inside one
// transaction so parallel relays never hand out the same row. Rows whose
// publish fails stay NEW and are retried on the next call.
func (r *Repository) PublishPending(ctx context.Context, limit int, publish func(domain.OutboxMessage) error) (int, error) {
	var published int
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, domain.TransactionFailure(err, "begin outbox claim")
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		SELECT id, aggregate_type, aggregate_id, event_type, payload_json::TEXT, created_at, dedupe_key
		FROM outbox WHERE status = 'NEW'
		ORDER BY created_at ASC LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return 0, classify(err, "claim outbox")
	}
	var batch []domain.OutboxMessage
	for rows.Next() {
		var (
			msg     domain.OutboxMessage
			payload string
		)
		if err := rows.Scan(&msg.ID, &msg.AggregateType, &msg.AggregateID, &msg.EventType, &payload, &msg.CreatedAt, &msg.DedupeKey); err != nil {
			rows.Close()
			return 0, classify(err, "scan outbox")
		}
		msg.Payload = []byte(payload)
		batch = append(batch, msg)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, classify(err, "read outbox")
	}

	var failed error
	for _, msg := range batch {
		if err := publish(msg); err != nil {
			failed = errors.CombineErrors(failed, errors.Wrapf(err, "publish %s", msg.DedupeKey))
			continue
		}
		if _, err := tx.Exec(ctx, `UPDATE outbox SET status = 'PUBLISHED', published_at = $2 WHERE id = $1`,
			msg.ID, time.Now().UTC()); err != nil {
			return 0, classify(err, "mark outbox published")
		}
		published++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, domain.TransactionFailure(err, "commit outbox claim")
	}
	return published, failed
}
