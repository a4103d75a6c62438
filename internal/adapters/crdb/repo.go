package crdb

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/robertarktes/event-booking/internal/domain"
	"github.com/robertarktes/event-booking/internal/observability"
)

const (
	SerializationFailureCode = "40001"
	DeadlockDetectedCode     = "40P01"
	LockNotAvailableCode     = "55P03"
	QueryCanceledCode        = "57014"
	AdminShutdownCode        = "57P01"
	UniqueViolationCode      = "23505"
	CheckViolationCode       = "23514"
	ForeignKeyViolationCode  = "23503"
)

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type Repository struct {
	pool      *pgxpool.Pool
	txTimeout time.Duration
}

var (
	_ domain.Store       = (*Repository)(nil)
	_ domain.OutboxStore = (*Repository)(nil)
)

// NewRepository wraps pool. Every transaction is bounded by txTimeout when
// it is positive.
func NewRepository(pool *pgxpool.Pool, txTimeout time.Duration) *Repository {
	return &Repository{pool: pool, txTimeout: txTimeout}
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// WithTx runs fn in a READ COMMITTED transaction and commits when fn returns
// nil. Every unit of work locks the rows it changes with SELECT ... FOR
// UPDATE first, so a caller that waited on a lock reads the committed row.
// Serialization failures re-run fn from the start, at most maxTxAttempts
// times. Any error rolls the whole unit back. Storage failures come back
// marked with domain.ErrTransactionFailure; domain errors from fn pass
// through.
func (r *Repository) WithTx(ctx context.Context, fn func(tx domain.Tx) error) (err error) {
	if r.txTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.txTimeout)
		defer cancel()
	}

	start := time.Now()
	defer func() {
		observability.DBTxDuration.WithLabelValues(domainOutcome(err)).Observe(time.Since(start).Seconds())
	}()

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 200 * time.Millisecond

	_, err = backoff.Retry(ctx, func() (struct{}, error) {
		err := r.runTx(ctx, fn)
		if err != nil && !isSerializationFailure(err) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}, backoff.WithBackOff(policy), backoff.WithMaxTries(maxTxAttempts))
	return classify(err, "transaction")
}

const maxTxAttempts = 5

func (r *Repository) runTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return domain.TransactionFailure(err, "begin transaction")
	}
	defer tx.Rollback(ctx)

	if err := fn(&txQueries{tx: tx}); err != nil {
		return classify(err, "transaction")
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.TransactionFailure(err, "commit transaction")
	}
	return nil
}

func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode
}

func domainOutcome(err error) string {
	if err == nil {
		return "commit"
	}
	return domain.Kind(err)
}

// classify maps driver errors onto the domain taxonomy. Errors that already
// carry a domain kind are returned untouched.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if domain.Kind(err) != "internal" {
		return err
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == SerializationFailureCode,
			pgErr.Code == DeadlockDetectedCode,
			pgErr.Code == LockNotAvailableCode,
			pgErr.Code == QueryCanceledCode,
			pgErr.Code == AdminShutdownCode,
			len(pgErr.Code) == 5 && pgErr.Code[:2] == "08":
			return domain.TransactionFailure(err, op)
		case pgErr.Code == UniqueViolationCode:
			return errors.Wrapf(domain.ErrConflict, "%s: %s", op, pgErr.Message)
		case pgErr.Code == CheckViolationCode:
			return errors.Wrapf(domain.ErrInvalidState, "%s: %s", op, pgErr.Message)
		case pgErr.Code == ForeignKeyViolationCode:
			return errors.Wrapf(domain.ErrNotFound, "%s: %s", op, pgErr.Detail)
		}
		return errors.Wrap(err, op)
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.As(err, &netErr) ||
		pgconn.Timeout(err) ||
		pgconn.SafeToRetry(err) {
		return domain.TransactionFailure(err, op)
	}
	return errors.Wrap(err, op)
}

type txQueries struct {
	tx pgx.Tx
}

var _ domain.Tx = (*txQueries)(nil)
