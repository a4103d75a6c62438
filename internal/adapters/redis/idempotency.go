package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const (
	idempPrefix     = "idemp:"
	idempLockPrefix = "idemp:lock:"
)

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type IdempResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Result      []byte `json:"result"`
}

func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, idempPrefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get idempotency record")
	}
	var resp IdempResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrap(err, "decode idempotency record")
	}
	return &resp, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return errors.Wrap(err, "encode idempotency record")
	}
	return errors.Wrap(i.client.Set(ctx, idempPrefix+key, data, ttl).Err(), "redis set idempotency record")
}

// Lock marks key as in flight. It reports false when another request holds
// it.
func (i *Idempotency) Lock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, idempLockPrefix+key, 1, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis lock idempotency key")
	}
	return ok, nil
}

func (i *Idempotency) Unlock(ctx context.Context, key string) error {
	return errors.Wrap(i.client.Del(ctx, idempLockPrefix+key).Err(), "redis unlock idempotency key")
}
