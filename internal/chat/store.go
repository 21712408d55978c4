package chat

import (
	"context"
	"errors"
)

// ErrUnknownCursor is returned by FetchBefore when the cursor message is not
// in the channel.
var ErrUnknownCursor = errors.New("chat: unknown cursor message")

// Store persists messages. Implementations must return messages in channel
// order (CreatedAt, then Seq) and must tolerate concurrent use.
type Store interface {
	// Record persists msg and sets msg.Seq.
	Record(ctx context.Context, msg *Message) error

	// FetchRecent skips the skip newest messages of the channel and returns
	// up to limit of the next newest, oldest first.
	FetchRecent(ctx context.Context, channelID string, skip, limit int) ([]*Message, error)

	// FetchBefore returns up to limit messages immediately older than the
	// message with id beforeID, oldest first, and whether older messages
	// remain beyond them.
	FetchBefore(ctx context.Context, channelID, beforeID string, limit int) ([]*Message, bool, error)

	// Count returns the number of messages in the channel.
	Count(ctx context.Context, channelID string) (int, error)
}
