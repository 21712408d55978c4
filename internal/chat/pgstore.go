package chat

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresStore persists messages in the messages table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a store backed by the given database handle.
// The schema is created by Migrate.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, msg *Message) error {
	const query = `
		INSERT INTO messages (id, channel_id, sender_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq`

	err := s.db.QueryRowContext(ctx, query,
		msg.ID,
		msg.ChannelID,
		msg.SenderID,
		msg.Content,
		msg.CreatedAt,
	).Scan(&msg.Seq)
	if err != nil {
		return fmt.Errorf("chat: insert message: %w", err)
	}
	return nil
}

func (s *PostgresStore) FetchRecent(ctx context.Context, channelID string, skip, limit int) ([]*Message, error) {
	const query = `
		SELECT id, channel_id, sender_id, content, created_at, seq
		FROM messages
		WHERE channel_id = $1
		ORDER BY created_at DESC, seq DESC
		OFFSET $2
		LIMIT $3`

	rows, err := s.db.QueryContext(ctx, query, channelID, skip, limit)
	if err != nil {
		return nil, fmt.Errorf("chat: fetch recent: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, fmt.Errorf("chat: fetch recent: %w", err)
	}
	reverse(msgs)
	return msgs, nil
}

func (s *PostgresStore) FetchBefore(ctx context.Context, channelID, beforeID string, limit int) ([]*Message, bool, error) {
	const cursorQuery = `
		SELECT created_at, seq
		FROM messages
		WHERE channel_id = $1 AND id = $2`

	var cursor Message
	err := s.db.QueryRowContext(ctx, cursorQuery, channelID, beforeID).Scan(&cursor.CreatedAt, &cursor.Seq)
	if err == sql.ErrNoRows {
		return nil, false, ErrUnknownCursor
	}
	if err != nil {
		return nil, false, fmt.Errorf("chat: fetch cursor: %w", err)
	}

	// One extra row tells whether anything older remains.
	const query = `
		SELECT id, channel_id, sender_id, content, created_at, seq
		FROM messages
		WHERE channel_id = $1 AND (created_at, seq) < ($2, $3)
		ORDER BY created_at DESC, seq DESC
		LIMIT $4`

	rows, err := s.db.QueryContext(ctx, query, channelID, cursor.CreatedAt, cursor.Seq, limit+1)
	if err != nil {
		return nil, false, fmt.Errorf("chat: fetch before: %w", err)
	}
	msgs, err := scanMessages(rows)
	if err != nil {
		return nil, false, fmt.Errorf("chat: fetch before: %w", err)
	}
	more := len(msgs) > limit
	if more {
		msgs = msgs[:limit]
	}
	reverse(msgs)
	return msgs, more, nil
}

func (s *PostgresStore) Count(ctx context.Context, channelID string) (int, error) {
	const query = `SELECT COUNT(*) FROM messages WHERE channel_id = $1`

	var count int
	if err := s.db.QueryRowContext(ctx, query, channelID).Scan(&count); err != nil {
		return 0, fmt.Errorf("chat: count: %w", err)
	}
	return count, nil
}

func scanMessages(rows *sql.Rows) ([]*Message, error) {
	defer rows.Close()

	msgs := []*Message{}
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.ChannelID, &m.SenderID, &m.Content, &m.CreatedAt, &m.Seq); err != nil {
			return nil, err
		}
		m.CreatedAt = m.CreatedAt.UTC()
		msgs = append(msgs, &m)
	}
	return msgs, rows.Err()
}

func reverse(msgs []*Message) {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
}
