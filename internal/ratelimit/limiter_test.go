package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return NewLimiter(client)
}

func TestLimiter_FixedWindow(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 3, Window: time.Minute}
	id := uuid.NewString()
	t.Cleanup(func() { l.client.Del(context.Background(), rule.Key+id) })

	remaining, err := l.Remaining(ctx, id, rule)
	require.NoError(t, err)
	require.Equal(t, 3, remaining)

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, id, rule)
		require.NoError(t, err)
		require.True(t, ok, "request %d", i+1)
	}
	ok, err := l.Allow(ctx, id, rule)
	require.NoError(t, err)
	require.False(t, ok)

	remaining, err = l.Remaining(ctx, id, rule)
	require.NoError(t, err)
	require.Zero(t, remaining)

	ttl, err := l.client.TTL(ctx, rule.Key+id).Result()
	require.NoError(t, err)
	require.Greater(t, ttl, time.Duration(0))
}

func TestBound_IdentifiersAreIndependent(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Key: "rl:test:", Limit: 1, Window: time.Minute}
	b := l.Bind(rule)
	alice, bob := uuid.NewString(), uuid.NewString()
	t.Cleanup(func() { l.client.Del(context.Background(), rule.Key+alice, rule.Key+bob) })

	require.True(t, b.Allow(ctx, alice))
	require.False(t, b.Allow(ctx, alice))
	require.True(t, b.Allow(ctx, bob))
}

func TestBound_FailsOpen(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1, DialTimeout: 100 * time.Millisecond})
	defer client.Close()
	b := NewLimiter(client).Bind(RuleMessage)

	require.True(t, b.Allow(context.Background(), "alice"))
}
