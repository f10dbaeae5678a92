package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	extratelimit "github.com/vnmchuo/ratelimiter"
)

// Limiter caps how often each worker may hit the admission endpoint.
// This protects the governance service itself; the per-service pacing
// of outbound calls is the abuse monitor's job. Thin wrapper around
// github.com/vnmchuo/ratelimiter.
type Limiter struct {
	store extratelimit.Limiter
}

func NewLimiter(rdb *redis.Client, defaultRPM int64) *Limiter {
	store := extratelimit.NewRedisStore(rdb,
		extratelimit.WithLimit(int(defaultRPM)),
		extratelimit.WithWindow(time.Minute),
	)
	return &Limiter{store: store}
}

func NewTestLimiter(store extratelimit.Limiter) *Limiter {
	return &Limiter{store: store}
}

func (l *Limiter) Allow(ctx context.Context, workerID string) (bool, error) {
	key := fmt.Sprintf("ratelimit:worker:%s", workerID)
	res, err := l.store.Allow(ctx, key)
	if err != nil {
		return false, err
	}
	return res.Allowed, nil
}

func (l *Limiter) Status(ctx context.Context, workerID string) (*extratelimit.Result, error) {
	key := fmt.Sprintf("ratelimit:worker:%s", workerID)
	return l.store.Status(ctx, key)
}
