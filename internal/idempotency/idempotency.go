// Package idempotency replays stored responses for repeated requests that
// carry the same Idempotency-Key.
package idempotency

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/event-booking/internal/adapters/redis"
)

// ErrInFlight is returned by Begin while another request with the same key
// is still running.
var ErrInFlight = errors.New("request with this idempotency key is in progress")

type Backend interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Lock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, key string) error
}

// Idempotency is safe to use as a nil pointer; every call is then a no-op.
type Idempotency struct {
	backend Backend
	ttl     time.Duration
	lockTTL time.Duration
}

func NewIdempotency(backend Backend, ttl time.Duration) *Idempotency {
	return &Idempotency{backend: backend, ttl: ttl, lockTTL: 30 * time.Second}
}

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Key scopes a client key to its caller so two users cannot collide.
func Key(scope, clientKey string) string {
	return scope + ":" + clientKey
}

func (i *Idempotency) Get(ctx context.Context, key string) (*Response, error) {
	if i == nil || key == "" {
		return nil, nil
	}
	rec, err := i.backend.Get(ctx, key)
	if err != nil || rec == nil {
		return nil, err
	}
	return &Response{Status: rec.Status, ContentType: rec.ContentType, Result: rec.Result}, nil
}

// Begin claims key for the current request. Callers must call End when done.
func (i *Idempotency) Begin(ctx context.Context, key string) error {
	if i == nil || key == "" {
		return nil
	}
	ok, err := i.backend.Lock(ctx, key, i.lockTTL)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInFlight
	}
	return nil
}

func (i *Idempotency) End(ctx context.Context, key string) error {
	if i == nil || key == "" {
		return nil
	}
	return i.backend.Unlock(ctx, key)
}

func (i *Idempotency) Set(ctx context.Context, key string, resp Response) error {
	if i == nil || key == "" {
		return nil
	}
	return i.backend.Set(ctx, key, redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
	}, i.ttl)
}
