package chat

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/teamchat/chat-app/internal/apperr"
	"github.com/teamchat/chat-app/internal/channel"
	"github.com/teamchat/chat-app/internal/keyed"
	"github.com/teamchat/chat-app/internal/metrics"
)

// Sender identifies who submitted a message.
type Sender struct {
	ConnID string
	UserID string
}

// Broadcaster delivers a committed message to the channel's subscribers,
// sender included. It must not block on slow subscribers.
type Broadcaster interface {
	BroadcastMessage(msg *Message)
}

// Throttle limits how often a user may act. It is satisfied by
// *ratelimit.Bound.
type Throttle interface {
	Allow(ctx context.Context, identifier string) bool
}

// Pipeline accepts submitted messages, persists them and fans them out.
//
// Commits to one channel are serialized: id and timestamp assignment, the
// store write and the broadcast happen under the channel's lock, so every
// subscriber observes a channel's messages in commit order and that order
// matches history.
type Pipeline struct {
	store       Store
	channels    channel.Directory
	broadcaster Broadcaster
	throttle    Throttle

	locks *keyed.Mutex
	last  []time.Time // stripe -> last CreatedAt issued on that stripe
	now   func() time.Time
}

// PipelineConfig holds the pipeline's collaborators. Throttle is optional.
type PipelineConfig struct {
	Store       Store
	Channels    channel.Directory
	Broadcaster Broadcaster
	Throttle    Throttle
	Stripes     int
}

// NewPipeline creates a pipeline from cfg.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	locks := keyed.NewMutex(cfg.Stripes)
	return &Pipeline{
		store:       cfg.Store,
		channels:    cfg.Channels,
		broadcaster: cfg.Broadcaster,
		throttle:    cfg.Throttle,
		locks:       locks,
		last:        make([]time.Time, locks.Len()),
		now:         time.Now,
	}
}

// Submit validates content, commits it to channelID and broadcasts it to the
// channel's subscribers, the sender's own connections included. On any error
// nothing is persisted and nothing is broadcast.
func (p *Pipeline) Submit(ctx context.Context, from Sender, channelID, content string) (*Message, error) {
	const op = "chat.submit"
	start := time.Now()

	text, err := ValidateMessage(content)
	if err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if channelID == "" {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.Validation(op, "channel_id is required")
	}
	if err := CheckAccess(ctx, op, p.channels, from.UserID, channelID); err != nil {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	if p.throttle != nil && !p.throttle.Allow(ctx, from.UserID) {
		metrics.MessagesTotal.WithLabelValues("rejected").Inc()
		return nil, apperr.RateLimited(op)
	}

	p.locks.Lock(channelID)
	defer p.locks.Unlock(channelID)

	msg := &Message{
		ID:        uuid.NewString(),
		ChannelID: channelID,
		SenderID:  from.UserID,
		Content:   text,
		CreatedAt: p.stampLocked(channelID),
	}
	if err := p.store.Record(ctx, msg); err != nil {
		metrics.MessagesTotal.WithLabelValues("failed").Inc()
		log.Printf("[chat] persist failed channel=%s user=%s session=%s: %v", channelID, from.UserID, from.ConnID, err)
		return nil, apperr.Persistence(op, err)
	}
	p.broadcaster.BroadcastMessage(msg)

	metrics.MessagesTotal.WithLabelValues("persisted").Inc()
	metrics.MessageLatency.Observe(time.Since(start).Seconds())
	return msg, nil
}

// stampLocked returns a timestamp at the microsecond precision the database
// keeps, strictly after every stamp previously issued on the channel's
// stripe and so after the channel's previous message. Callers hold the
// channel's lock.
func (p *Pipeline) stampLocked(channelID string) time.Time {
	i := p.locks.Stripe(channelID)
	ts := p.now().UTC().Truncate(time.Microsecond)
	if !ts.After(p.last[i]) {
		ts = p.last[i].Add(time.Microsecond)
	}
	p.last[i] = ts
	return ts
}

// CheckAccess maps channel directory answers onto client errors: unknown
// channels are NotFound, non-members Forbidden, lookup failures Persistence.
func CheckAccess(ctx context.Context, op string, dir channel.Directory, userID, channelID string) error {
	exists, err := dir.Exists(ctx, channelID)
	if err != nil {
		return apperr.Persistence(op, err)
	}
	if !exists {
		return apperr.NotFound(op, "channel")
	}
	member, err := dir.IsMember(ctx, userID, channelID)
	if err != nil {
		return apperr.Persistence(op, err)
	}
	if !member {
		return apperr.Forbidden(op, "not a member of this channel")
	}
	return nil
}
