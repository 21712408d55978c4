package chat

import (
	"time"

	"github.com/teamchat/chat-app/internal/protocol"
)

// Message is a persisted chat message. Within a channel CreatedAt is strictly
// increasing in commit order; Seq is the store's insertion sequence and
// breaks ties between stores that lose sub-microsecond precision.
type Message struct {
	ID        string
	ChannelID string
	SenderID  string
	Content   string
	CreatedAt time.Time
	Seq       int64
}

// Wire converts m to its protocol form.
func (m *Message) Wire() protocol.Message {
	return protocol.Message{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		SenderID:  m.SenderID,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

// WireAll converts msgs to their protocol form, preserving order.
func WireAll(msgs []*Message) []protocol.Message {
	out := make([]protocol.Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Wire()
	}
	return out
}

// before reports whether a sorts before b in channel order.
func before(a, b *Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}
