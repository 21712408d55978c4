package presence

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// newTestDirectory connects to a local Redis and removes test keys before and
// after the test. Tests that call it require Redis on localhost:6379.
func newTestDirectory(t *testing.T) (*RedisDirectory, *redis.Client) {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}

	cleanup := func() {
		iter := client.Scan(ctx, 0, EntryPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
		client.SRem(ctx, OnlineSetKey, "test_alice", "test_bob")
	}
	cleanup()
	t.Cleanup(func() {
		cleanup()
		client.Close()
	})
	return NewRedisDirectory(client, "node-test"), client
}

func TestRedisDirectory_OnlineOffline(t *testing.T) {
	dir, _ := newTestDirectory(t)
	ctx := context.Background()

	require.NoError(t, dir.MarkOnline(ctx, "test_alice"))

	e, err := dir.Lookup(ctx, "test_alice")
	require.NoError(t, err)
	require.NotNil(t, e)
	require.Equal(t, StatusOnline, e.Status)
	require.Equal(t, "node-test", e.Server)

	online, err := dir.Online(ctx)
	require.NoError(t, err)
	require.Contains(t, online, "test_alice")

	require.NoError(t, dir.MarkOffline(ctx, "test_alice"))
	e, err = dir.Lookup(ctx, "test_alice")
	require.NoError(t, err)
	require.Equal(t, StatusOffline, e.Status)
	require.InDelta(t, time.Now().Unix(), e.LastSeen, 5)

	online, err = dir.Online(ctx)
	require.NoError(t, err)
	require.NotContains(t, online, "test_alice")
}

func TestRedisDirectory_LookupUnknown(t *testing.T) {
	dir, _ := newTestDirectory(t)

	e, err := dir.Lookup(context.Background(), "test_nobody")
	require.NoError(t, err)
	require.Nil(t, e)
}

func TestTracker_WritesDirectoryInOrder(t *testing.T) {
	dir, _ := newTestDirectory(t)
	tr := NewTracker(NewRegistry(8), dir)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tr.Run(ctx)

	bob := newSub("test_bob", "b1")
	tr.Connect(bob)
	tr.Disconnect(bob)

	require.Eventually(t, func() bool {
		e, err := dir.Lookup(context.Background(), "test_bob")
		return err == nil && e != nil && e.Status == StatusOffline
	}, 2*time.Second, 20*time.Millisecond)
}
