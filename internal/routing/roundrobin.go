package routing

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

const roundRobinKey = "routing:roundrobin"

// RoundRobin hands out agents from a fixed pool in turn. The cursor lives in
// Redis so concurrent processes share it; without Redis it degrades to a
// deterministic per-minute pick.
type RoundRobin struct {
	pool  []string
	redis *redis.Client
	now   func() time.Time
}

// NewRoundRobin creates a pool-based fallback. client may be nil.
func NewRoundRobin(pool []string, client *redis.Client) *RoundRobin {
	return &RoundRobin{pool: pool, redis: client, now: time.Now}
}

// Next returns the next agent id, or "" when the pool is empty.
func (r *RoundRobin) Next(ctx context.Context) string {
	if r == nil || len(r.pool) == 0 {
		return ""
	}
	if r.redis != nil {
		if n, err := r.redis.Incr(ctx, roundRobinKey).Result(); err == nil {
			return r.pool[int((n-1)%int64(len(r.pool)))]
		}
	}
	return r.pool[int(r.now().Unix()/60)%len(r.pool)]
}
