// Package hub binds WebSocket connections to the chat core. It owns the
// connection lifecycle hooks (presence on connect, teardown on disconnect)
// and the handlers for every client message type.
package hub

import (
	"context"
	"log"
	"time"

	"github.com/teamchat/chat-app/internal/apperr"
	"github.com/teamchat/chat-app/internal/channel"
	"github.com/teamchat/chat-app/internal/chat"
	"github.com/teamchat/chat-app/internal/presence"
	"github.com/teamchat/chat-app/internal/protocol"
	"github.com/teamchat/chat-app/internal/room"
	"github.com/teamchat/chat-app/internal/ws"
)

// Peer is one client connection as the hub sees it. *ws.Connection
// satisfies it.
type Peer interface {
	ConnectionID() string
	Identity() string
	Send(data []byte) bool
}

// Publisher fans an encoded event out to a channel's subscribers on every
// node. It is satisfied by *messaging.Fanout.
type Publisher interface {
	Publish(channelID string, data []byte, excludeConnID string)
}

// Throttle limits how often a user may act. It is satisfied by
// *ratelimit.Bound.
type Throttle interface {
	Allow(ctx context.Context, identifier string) bool
}

// Config holds the hub's collaborators. TypingThrottle is optional.
type Config struct {
	Tracker        *presence.Tracker
	Router         *room.Router
	Pipeline       *chat.Pipeline
	History        *chat.History
	Channels       channel.Directory
	Publisher      Publisher
	TypingThrottle Throttle
	RequestTimeout time.Duration // bound on store calls made for one request
}

// Hub handles client events.
type Hub struct {
	tracker   *presence.Tracker
	router    *room.Router
	pipeline  *chat.Pipeline
	history   *chat.History
	channels  channel.Directory
	publisher Publisher
	typing    Throttle
	timeout   time.Duration
}

// New creates a hub from cfg.
func New(cfg Config) *Hub {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 5 * time.Second
	}
	return &Hub{
		tracker:   cfg.Tracker,
		router:    cfg.Router,
		pipeline:  cfg.Pipeline,
		history:   cfg.History,
		channels:  cfg.Channels,
		publisher: cfg.Publisher,
		typing:    cfg.TypingThrottle,
		timeout:   cfg.RequestTimeout,
	}
}

// Register installs the hub's handlers on d.
func (h *Hub) Register(d *ws.MessageDispatcher) {
	d.Register(protocol.TypeJoinChannel, func(c *ws.Connection, msg interface{}) {
		h.JoinChannel(c, msg.(protocol.JoinChannelMsg))
	})
	d.Register(protocol.TypeLeaveChannel, func(c *ws.Connection, msg interface{}) {
		h.LeaveChannel(c, msg.(protocol.LeaveChannelMsg))
	})
	d.Register(protocol.TypeSendMessage, func(c *ws.Connection, msg interface{}) {
		h.SendMessage(c, msg.(protocol.SendMessageMsg))
	})
	d.Register(protocol.TypeTypingStart, func(c *ws.Connection, msg interface{}) {
		h.Typing(c, msg.(protocol.TypingMsg), true)
	})
	d.Register(protocol.TypeTypingStop, func(c *ws.Connection, msg interface{}) {
		h.Typing(c, msg.(protocol.TypingMsg), false)
	})
	d.Register(protocol.TypeFetchPage, func(c *ws.Connection, msg interface{}) {
		h.FetchPage(c, msg.(protocol.FetchPageMsg))
	})
	d.Register(protocol.TypeFetchBefore, func(c *ws.Connection, msg interface{}) {
		h.FetchBefore(c, msg.(protocol.FetchBeforeMsg))
	})
	d.Register(protocol.TypeGetOnlineUsers, func(c *ws.Connection, _ interface{}) {
		h.OnlineUsers(c)
	})
}

// Connect registers p's presence. The connection receives the online-users
// snapshot; other users hear about p's user only if this is its first
// connection.
func (h *Hub) Connect(p Peer) {
	h.tracker.Connect(p)
}

// Disconnect tears p down: its presence is withdrawn and it leaves every
// room. Calling it more than once for the same connection is harmless.
func (h *Hub) Disconnect(p Peer) {
	// Detach first: JoinChannel checks the registry after joining.
	h.tracker.Disconnect(p)
	channels := h.router.RemoveAll(p.ConnectionID())
	if len(channels) > 0 {
		log.Printf("[hub] teardown session=%s user=%s rooms=%v", p.ConnectionID(), p.Identity(), channels)
	}
}

// JoinChannel subscribes p to a channel's message and typing broadcasts.
func (h *Hub) JoinChannel(p Peer, m protocol.JoinChannelMsg) {
	const op = "hub.join"

	if m.ChannelID == "" {
		h.fail(p, m.RequestID, apperr.Validation(op, "channel_id is required"))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()
	if err := chat.CheckAccess(ctx, op, h.channels, p.Identity(), m.ChannelID); err != nil {
		h.fail(p, m.RequestID, err)
		return
	}

	h.router.Join(p, m.ChannelID)
	if !h.tracker.Registry().Has(p.Identity(), p.ConnectionID()) {
		// Torn down while the join was in progress.
		h.router.Leave(p.ConnectionID(), m.ChannelID)
		return
	}
	h.reply(p, protocol.TypeJoinedChannel, protocol.JoinedChannelMsg{
		ChannelID: m.ChannelID,
		RequestID: m.RequestID,
	})
}

// LeaveChannel unsubscribes p from a channel. Leaving a channel p is not in
// is not an error.
func (h *Hub) LeaveChannel(p Peer, m protocol.LeaveChannelMsg) {
	h.router.Leave(p.ConnectionID(), m.ChannelID)
	h.reply(p, protocol.TypeLeftChannel, protocol.LeftChannelMsg{
		ChannelID: m.ChannelID,
		RequestID: m.RequestID,
	})
}

// SendMessage submits a message. On success the message reaches p through
// the channel broadcast like everyone else's; on failure only p gets an
// error event.
func (h *Hub) SendMessage(p Peer, m protocol.SendMessageMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	from := chat.Sender{ConnID: p.ConnectionID(), UserID: p.Identity()}
	if _, err := h.pipeline.Submit(ctx, from, m.ChannelID, m.Content); err != nil {
		h.fail(p, m.RequestID, err)
	}
}

// Typing relays a typing indicator to the channel's other connections. The
// sending connection must have joined the channel.
func (h *Hub) Typing(p Peer, m protocol.TypingMsg, started bool) {
	const op = "hub.typing"

	if !h.inRoom(p.ConnectionID(), m.ChannelID) {
		h.fail(p, "", apperr.Forbidden(op, "join the channel first"))
		return
	}
	if h.typing != nil {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		allowed := h.typing.Allow(ctx, p.Identity())
		cancel()
		if !allowed {
			return
		}
	}

	msgType := protocol.TypeUserStoppedTyping
	if started {
		msgType = protocol.TypeUserTyping
	}
	data, err := protocol.NewServerMessage(msgType, protocol.UserTypingMsg{
		ChannelID: m.ChannelID,
		UserID:    p.Identity(),
	})
	if err != nil {
		log.Printf("[hub] build %s: %v", msgType, err)
		return
	}
	h.publisher.Publish(m.ChannelID, data, p.ConnectionID())
}

// FetchPage answers a page-numbered history request.
func (h *Hub) FetchPage(p Peer, m protocol.FetchPageMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	page, err := h.history.Fetch(ctx, p.Identity(), m.ChannelID, m.Page, m.PageSize)
	if err != nil {
		h.fail(p, m.RequestID, err)
		return
	}
	h.reply(p, protocol.TypePage, pageMsg(page, m.RequestID))
}

// FetchBefore answers a cursor history request.
func (h *Hub) FetchBefore(p Peer, m protocol.FetchBeforeMsg) {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	page, err := h.history.FetchBefore(ctx, p.Identity(), m.ChannelID, m.BeforeID, m.PageSize)
	if err != nil {
		h.fail(p, m.RequestID, err)
		return
	}
	h.reply(p, protocol.TypePage, pageMsg(page, m.RequestID))
}

// OnlineUsers re-sends the presence snapshot to p.
func (h *Hub) OnlineUsers(p Peer) {
	h.tracker.Snapshot(p)
}

func (h *Hub) inRoom(connID, channelID string) bool {
	for _, ch := range h.router.Channels(connID) {
		if ch == channelID {
			return true
		}
	}
	return false
}

func pageMsg(p *chat.Page, requestID string) protocol.PageMsg {
	return protocol.PageMsg{
		ChannelID: p.ChannelID,
		Page:      p.Page,
		BeforeID:  p.BeforeID,
		Messages:  chat.WireAll(p.Messages),
		HasMore:   p.HasMore,
		Total:     p.Total,
		RequestID: requestID,
	}
}

func (h *Hub) reply(p Peer, msgType string, payload interface{}) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[hub] build %s session=%s: %v", msgType, p.ConnectionID(), err)
		return
	}
	p.Send(data)
}

// fail reports err to p alone.
func (h *Hub) fail(p Peer, requestID string, err error) {
	kind := apperr.KindOf(err)
	if kind == apperr.KindInternal || kind == apperr.KindPersistence {
		log.Printf("[hub] request failed session=%s user=%s request=%s: %v", p.ConnectionID(), p.Identity(), requestID, err)
	}
	ws.SendError(p, kind.Code(), apperr.Message(err), requestID)
}
