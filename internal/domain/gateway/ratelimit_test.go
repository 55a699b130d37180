package gateway

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
)

func TestRateLimiterLocalWindow(t *testing.T) {
	clk := clock.NewMock()
	rl := NewRateLimiter(nil, 2, time.Minute, clk)
	user, other := uuid.New(), uuid.New()
	ctx := context.Background()

	assert.True(t, rl.Allow(ctx, user))
	assert.True(t, rl.Allow(ctx, user))
	assert.False(t, rl.Allow(ctx, user))
	assert.True(t, rl.Allow(ctx, other), "limits are per user")

	clk.Add(61 * time.Second)
	assert.True(t, rl.Allow(ctx, user))
}

func TestRateLimiterRedisSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	newClient := func() *redis.Client {
		c := redis.NewClient(&redis.Options{Addr: mr.Addr()})
		t.Cleanup(func() { _ = c.Close() })
		return c
	}
	a := NewRateLimiter(newClient(), 3, time.Minute, nil)
	b := NewRateLimiter(newClient(), 3, time.Minute, nil)
	user := uuid.New()
	ctx := context.Background()

	assert.True(t, a.Allow(ctx, user))
	assert.True(t, b.Allow(ctx, user))
	assert.True(t, a.Allow(ctx, user))
	assert.False(t, b.Allow(ctx, user))

	mr.FastForward(time.Minute + time.Second)
	assert.True(t, a.Allow(ctx, user))
}

func TestRateLimiterFailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	rl := NewRateLimiter(client, 1, time.Minute, nil)
	mr.Close()

	user := uuid.New()
	assert.True(t, rl.Allow(context.Background(), user))
	assert.True(t, rl.Allow(context.Background(), user))
}

func (l *windowLimiter) tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.calls)
}

func TestWindowLimiterForgetsIdleKeys(t *testing.T) {
	clk := clock.NewMock()
	l := newWindowLimiter(5, time.Minute, clk)

	for i := 0; i < 100; i++ {
		assert.True(t, l.Allow(uuid.NewString()))
	}
	assert.Equal(t, 100, l.tracked())

	clk.Add(30 * time.Second)
	assert.True(t, l.Allow("active"))
	assert.Equal(t, 101, l.tracked(), "entries inside the window stay")

	clk.Add(45 * time.Second)
	assert.True(t, l.Allow("active"))
	assert.Equal(t, 1, l.tracked(), "only the key still inside its window remains")
}
