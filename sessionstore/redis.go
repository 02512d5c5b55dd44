package sessionstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// RedisStore keeps one session as a Redis hash. Every write slides the TTL so
// an idle session expires the way a closed browser tab drops its storage.
type RedisStore struct {
	rdb redis.UniversalClient
	key string
	ttl time.Duration
}

// NewRedisStore scopes the store to prefix:session:<sessionID>.
func NewRedisStore(rdb redis.UniversalClient, prefix, sessionID string, ttl time.Duration) *RedisStore {
	return &RedisStore{
		rdb: rdb,
		key: fmt.Sprintf("%s:session:%s", prefix, sessionID),
		ttl: ttl,
	}
}

func (r *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, r.key, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("[RedisStore Get] %s: %w", key, err)
	}
	return v, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key, value string) error {
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, r.key, key, value)
		if r.ttl > 0 {
			pipe.Expire(ctx, r.key, r.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("[RedisStore Set] %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Remove(ctx context.Context, key string) error {
	if err := r.rdb.HDel(ctx, r.key, key).Err(); err != nil {
		return fmt.Errorf("[RedisStore Remove] %s: %w", key, err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.rdb.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("[RedisStore Clear] %w", err)
	}
	return nil
}
