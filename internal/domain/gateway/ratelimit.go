package gateway

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// RateLimiter bounds inbound commands per user
type RateLimiter struct {
	redis  *redis.Client
	limit  int
	window time.Duration
	local  *windowLimiter
}

// NewRateLimiter creates a limiter shared across instances through redis.
// Without redis it counts per process.
func NewRateLimiter(redisClient *redis.Client, limit int, window time.Duration, clk clock.Clock) *RateLimiter {
	if limit <= 0 {
		limit = 30
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RateLimiter{
		redis:  redisClient,
		limit:  limit,
		window: window,
		local:  newWindowLimiter(limit, window, clk),
	}
}

// Allow checks if user can issue another command
func (rl *RateLimiter) Allow(ctx context.Context, userID uuid.UUID) bool {
	if rl.redis == nil {
		return rl.local.Allow(userID.String())
	}

	key := fmt.Sprintf("ratelimit:social:%s", userID)
	count, err := rl.redis.Incr(ctx, key).Result()
	if err != nil {
		return true // Fail open
	}
	if count == 1 {
		rl.redis.Expire(ctx, key, rl.window)
	}
	return count <= int64(rl.limit)
}

type windowLimiter struct {
	mu        sync.Mutex
	clock     clock.Clock
	limit     int
	window    time.Duration
	calls     map[string][]time.Time
	lastSweep time.Time
}

func newWindowLimiter(limit int, window time.Duration, clk clock.Clock) *windowLimiter {
	if clk == nil {
		clk = clock.New()
	}
	return &windowLimiter{
		clock:     clk,
		limit:     limit,
		window:    window,
		calls:     make(map[string][]time.Time),
		lastSweep: clk.Now(),
	}
}

func (l *windowLimiter) Allow(key string) bool {
	now := l.clock.Now()
	cutoff := now.Add(-l.window)

	l.mu.Lock()
	defer l.mu.Unlock()

	// keys that went quiet are dropped at most once per window
	if now.Sub(l.lastSweep) >= l.window {
		for k, ts := range l.calls {
			if len(ts) == 0 || !ts[len(ts)-1].After(cutoff) {
				delete(l.calls, k)
			}
		}
		l.lastSweep = now
	}

	timestamps := l.calls[key]
	kept := timestamps[:0]
	for _, ts := range timestamps {
		if ts.After(cutoff) {
			kept = append(kept, ts)
		}
	}
	if len(kept) >= l.limit {
		l.calls[key] = kept
		return false
	}

	l.calls[key] = append(kept, now)
	return true
}
