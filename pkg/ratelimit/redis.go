package ratelimit

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// Redis keeps the counters in Redis so they survive restarts. A window
// starts with the key's expiry; the key vanishing ends it. Any hit that
// finds the key without an expiry sets it again, so a lost EXPIRE cannot
// pin a counter forever.
type Redis struct {
	rdb  redis.Cmdable
	max  int64
	size time.Duration
}

func NewRedis(rdb redis.Cmdable, max int, size time.Duration) *Redis {
	return &Redis{rdb: rdb, max: int64(max), size: size}
}

func (r *Redis) Allow(ctx context.Context, key string) (bool, error) {
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	if _, err := r.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		incr = p.Incr(ctx, key)
		ttl = p.TTL(ctx, key)
		return nil
	}); err != nil {
		return false, errors.Wrap(err, "ratelimit incr")
	}

	current := incr.Val()
	if ttl.Val() < 0 {
		if err := r.rdb.Expire(ctx, key, r.size).Err(); err != nil {
			return false, errors.Wrap(err, "ratelimit expire")
		}
	}
	return current <= r.max, nil
}
