package chat

import (
	"context"
	"errors"

	"github.com/teamchat/chat-app/internal/apperr"
	"github.com/teamchat/chat-app/internal/channel"
	"github.com/teamchat/chat-app/internal/metrics"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// Page is one slice of a channel's history, oldest message first.
type Page struct {
	ChannelID string
	Page      int    // 1-based page number; 0 for cursor pages
	BeforeID  string // cursor the page was fetched with, if any
	Size      int
	Messages  []*Message
	HasMore   bool
	Total     int
}

// History serves backward pagination over a channel's messages.
type History struct {
	store       Store
	channels    channel.Directory
	defaultSize int
}

// NewHistory creates a paginator. defaultSize <= 0 selects DefaultPageSize.
func NewHistory(store Store, channels channel.Directory, defaultSize int) *History {
	if defaultSize <= 0 || defaultSize > MaxPageSize {
		defaultSize = DefaultPageSize
	}
	return &History{store: store, channels: channels, defaultSize: defaultSize}
}

func (h *History) size(n int) int {
	switch {
	case n <= 0:
		return h.defaultSize
	case n > MaxPageSize:
		return MaxPageSize
	default:
		return n
	}
}

// Fetch returns page number page (1 = newest) of channelID for userID.
// HasMore reports whether older messages exist beyond this page, computed
// against the channel's count at the time of the request. Messages that
// arrive between two page requests shift later pages; clients deduplicate by
// id.
func (h *History) Fetch(ctx context.Context, userID, channelID string, page, size int) (*Page, error) {
	const op = "chat.history"
	metrics.HistoryRequests.WithLabelValues("page").Inc()

	if page < 1 {
		return nil, apperr.Validation(op, "page must be at least 1")
	}
	if err := CheckAccess(ctx, op, h.channels, userID, channelID); err != nil {
		return nil, err
	}

	size = h.size(size)
	skip := (page - 1) * size

	total, err := h.store.Count(ctx, channelID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	msgs, err := h.store.FetchRecent(ctx, channelID, skip, size)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}

	return &Page{
		ChannelID: channelID,
		Page:      page,
		Size:      size,
		Messages:  msgs,
		HasMore:   skip+len(msgs) < total,
		Total:     total,
	}, nil
}

// FetchBefore returns up to size messages immediately older than beforeID.
// Unlike page numbers the cursor is stable while new messages arrive.
func (h *History) FetchBefore(ctx context.Context, userID, channelID, beforeID string, size int) (*Page, error) {
	const op = "chat.history"
	metrics.HistoryRequests.WithLabelValues("before").Inc()

	if beforeID == "" {
		return nil, apperr.Validation(op, "before_id is required")
	}
	if err := CheckAccess(ctx, op, h.channels, userID, channelID); err != nil {
		return nil, err
	}

	size = h.size(size)
	msgs, more, err := h.store.FetchBefore(ctx, channelID, beforeID, size)
	if errors.Is(err, ErrUnknownCursor) {
		return nil, apperr.NotFound(op, "message")
	}
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}
	total, err := h.store.Count(ctx, channelID)
	if err != nil {
		return nil, apperr.Persistence(op, err)
	}

	return &Page{
		ChannelID: channelID,
		BeforeID:  beforeID,
		Size:      size,
		Messages:  msgs,
		HasMore:   more,
		Total:     total,
	}, nil
}
