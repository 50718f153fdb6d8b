package engine

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hmonster013/ecommerce-microservice-sub008/errs"
)

const (
	idempotencyKeyPrefix = "order:idem:"
	idempotencyTTL       = 24 * time.Hour
)

// RedisIdempotencyStore maps Idempotency-Key values to the order number
// they produced. Entries expire after a day.
type RedisIdempotencyStore struct {
	rdb *redis.Client
}

func NewRedisIdempotencyStore(rdb *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb}
}

func (s *RedisIdempotencyStore) Lookup(ctx context.Context, key string) (string, bool, error) {
	number, err := s.rdb.Get(ctx, idempotencyKeyPrefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.Wrap(errs.KindUpstream, "idempotency lookup", err)
	}
	return number, true, nil
}

func (s *RedisIdempotencyStore) Store(ctx context.Context, key, orderNumber string) error {
	if err := s.rdb.Set(ctx, idempotencyKeyPrefix+key, orderNumber, idempotencyTTL).Err(); err != nil {
		return errs.Wrap(errs.KindUpstream, "idempotency store", err)
	}
	return nil
}
