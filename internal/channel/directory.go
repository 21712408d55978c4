// Package channel answers the two questions the chat core asks about
// channels: does a channel exist, and may a user take part in it. Channel
// creation and membership management belong to another service; this package
// only reads.
package channel

import (
	"context"
	"database/sql"
	"fmt"
)

// Directory looks up channel existence and membership.
type Directory interface {
	Exists(ctx context.Context, channelID string) (bool, error)
	IsMember(ctx context.Context, userID, channelID string) (bool, error)
}

// Open is a Directory in which every non-empty channel id exists and every
// user is a member. It is used for development and tests.
type Open struct{}

func (Open) Exists(_ context.Context, channelID string) (bool, error) {
	return channelID != "", nil
}

func (Open) IsMember(_ context.Context, _, channelID string) (bool, error) {
	return channelID != "", nil
}

// Static is a fixed Directory. A channel with a nil member set is public.
type Static map[string]map[string]bool

func (s Static) Exists(_ context.Context, channelID string) (bool, error) {
	_, ok := s[channelID]
	return ok, nil
}

func (s Static) IsMember(_ context.Context, userID, channelID string) (bool, error) {
	members, ok := s[channelID]
	if !ok {
		return false, nil
	}
	if members == nil {
		return true, nil
	}
	return members[userID], nil
}

// Postgres reads the channels and channel_members tables.
//
// A channel marked is_private requires a channel_members row; public channels
// are open to every authenticated user.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a directory backed by db.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

func (p *Postgres) Exists(ctx context.Context, channelID string) (bool, error) {
	const query = `SELECT EXISTS (SELECT 1 FROM channels WHERE id = $1)`

	var exists bool
	if err := p.db.QueryRowContext(ctx, query, channelID).Scan(&exists); err != nil {
		return false, fmt.Errorf("channel: exists: %w", err)
	}
	return exists, nil
}

func (p *Postgres) IsMember(ctx context.Context, userID, channelID string) (bool, error) {
	const query = `
		SELECT NOT c.is_private OR EXISTS (
			SELECT 1 FROM channel_members m
			WHERE m.channel_id = c.id AND m.user_id = $2
		)
		FROM channels c
		WHERE c.id = $1`

	var ok bool
	err := p.db.QueryRowContext(ctx, query, channelID, userID).Scan(&ok)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("channel: is member: %w", err)
	}
	return ok, nil
}

// Create inserts a channel if it does not exist yet. It is used by the
// server's seed step and by tests; regular channel management happens
// elsewhere.
func (p *Postgres) Create(ctx context.Context, channelID, name string, private bool) error {
	const query = `
		INSERT INTO channels (id, name, is_private)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO NOTHING`

	if _, err := p.db.ExecContext(ctx, query, channelID, name, private); err != nil {
		return fmt.Errorf("channel: create: %w", err)
	}
	return nil
}

// AddMember grants userID access to a private channel.
func (p *Postgres) AddMember(ctx context.Context, channelID, userID string) error {
	const query = `
		INSERT INTO channel_members (channel_id, user_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING`

	if _, err := p.db.ExecContext(ctx, query, channelID, userID); err != nil {
		return fmt.Errorf("channel: add member: %w", err)
	}
	return nil
}
