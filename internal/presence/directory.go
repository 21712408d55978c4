package presence

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// EntryPrefix is the Redis key prefix for per-user presence hashes.
	EntryPrefix = "presence:"

	// OnlineSetKey is the Redis set holding every user some node reports online.
	OnlineSetKey = "presence:online"

	// EntryTTL bounds how long a presence hash survives without updates.
	EntryTTL = 30 * 24 * time.Hour

	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Entry is the last recorded presence of a user.
type Entry struct {
	UserID   string `redis:"user_id"`
	Status   string `redis:"status"`    // online | offline
	Server   string `redis:"server"`    // node that recorded the transition
	LastSeen int64  `redis:"last_seen"` // unix timestamp
}

// RedisDirectory mirrors presence transitions into Redis so other services
// can read online status and last-seen times. The in-process Registry stays
// authoritative for this node's transitions.
type RedisDirectory struct {
	client     *redis.Client
	serverName string
}

// NewRedisDirectory creates a directory writing through client.
func NewRedisDirectory(client *redis.Client, serverName string) *RedisDirectory {
	return &RedisDirectory{client: client, serverName: serverName}
}

// MarkOnline records userID as online on this node.
func (d *RedisDirectory) MarkOnline(ctx context.Context, userID string) error {
	return d.mark(ctx, userID, StatusOnline)
}

// MarkOffline records userID as offline with the current time as last seen.
func (d *RedisDirectory) MarkOffline(ctx context.Context, userID string) error {
	return d.mark(ctx, userID, StatusOffline)
}

func (d *RedisDirectory) mark(ctx context.Context, userID, status string) error {
	key := EntryPrefix + userID
	pipe := d.client.TxPipeline()
	pipe.HSet(ctx, key, map[string]interface{}{
		"user_id":   userID,
		"status":    status,
		"server":    d.serverName,
		"last_seen": time.Now().Unix(),
	})
	pipe.Expire(ctx, key, EntryTTL)
	if status == StatusOnline {
		pipe.SAdd(ctx, OnlineSetKey, userID)
	} else {
		pipe.SRem(ctx, OnlineSetKey, userID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("presence: mark %s %s: %w", userID, status, err)
	}
	return nil
}

// Lookup returns the recorded presence of userID, or nil if none exists.
func (d *RedisDirectory) Lookup(ctx context.Context, userID string) (*Entry, error) {
	var e Entry
	if err := d.client.HGetAll(ctx, EntryPrefix+userID).Scan(&e); err != nil {
		return nil, fmt.Errorf("presence: lookup %s: %w", userID, err)
	}
	if e.UserID == "" {
		return nil, nil
	}
	return &e, nil
}

// Online returns every user currently marked online by any node.
func (d *RedisDirectory) Online(ctx context.Context) ([]string, error) {
	users, err := d.client.SMembers(ctx, OnlineSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("presence: online set: %w", err)
	}
	return users, nil
}
