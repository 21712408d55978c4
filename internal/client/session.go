package client

import (
	"context"
	"encoding/json"
	"log"
	"sort"
	"strconv"

	"github.com/teamchat/chat-app/internal/protocol"
)

// Event is an input to a Session: a frame from the server or a user action.
type Event interface {
	apply(s *Session)
}

// Frame is one text frame received from the server.
type Frame []byte

// OpenChannel switches the open channel.
type OpenChannel struct{ ChannelID string }

// CloseChannel closes the open channel.
type CloseChannel struct{}

// SendText sends a message to the open channel.
type SendText struct{ Content string }

// SetTyping reports that the user started or stopped typing in the open
// channel.
type SetTyping struct{ Started bool }

// ScrollTo moves the viewport. Reaching the top loads older history.
type ScrollTo struct{ Y float64 }

// RefreshPresence asks the server for a fresh online-users snapshot.
type RefreshPresence struct{}

// Reconnected tells the session that the transport came back after a drop.
type Reconnected struct{}

// Notice reports a change the UI may want to render. Kind is the server
// message type that caused it.
type Notice struct {
	Kind      string
	UserID    string
	ChannelID string
	Message   *protocol.Message
	Error     *protocol.ErrorMsg
}

// SessionConfig configures a Session. Measure and Notify are optional.
type SessionConfig struct {
	PageSize     int
	ClientHeight float64
	QueueSize    int
	// Measure returns the rendered height of a message.
	Measure func(protocol.Message) float64
	// Commands receives every message the session needs sent to the server.
	Commands func(Command)
	Notify   func(Notice)
}

// Session reconciles one client's state with the server. Every event is
// applied on the goroutine running Run, in the order it was posted, so the
// timeline, presence set and viewport never need locks. Accessors must only
// be used from that goroutine, e.g. inside Notify, or when Run is not
// running.
type Session struct {
	timeline *Timeline
	presence *PresenceSet
	viewport *Viewport
	typing   map[string]struct{}

	measure  func(protocol.Message) float64
	commands func(Command)
	notify   func(Notice)

	queue chan Event
	sends int
}

// NewSession creates a session with no channel open.
func NewSession(cfg SessionConfig) *Session {
	if cfg.Measure == nil {
		cfg.Measure = func(protocol.Message) float64 { return 20 }
	}
	if cfg.Notify == nil {
		cfg.Notify = func(Notice) {}
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	return &Session{
		timeline: NewTimeline(cfg.PageSize),
		presence: NewPresenceSet(),
		viewport: &Viewport{ClientHeight: cfg.ClientHeight},
		typing:   make(map[string]struct{}),
		measure:  cfg.Measure,
		commands: cfg.Commands,
		notify:   cfg.Notify,
		queue:    make(chan Event, cfg.QueueSize),
	}
}

func (s *Session) Timeline() *Timeline    { return s.timeline }
func (s *Session) Presence() *PresenceSet { return s.presence }
func (s *Session) Viewport() *Viewport    { return s.viewport }

// Typing returns the users typing in the open channel.
func (s *Session) Typing() []string {
	out := make([]string, 0, len(s.typing))
	for id := range s.typing {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Post queues ev for Run. It blocks while the queue is full.
func (s *Session) Post(ctx context.Context, ev Event) error {
	select {
	case s.queue <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run applies posted events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-s.queue:
			s.Handle(ev)
		}
	}
}

// Handle applies ev immediately on the calling goroutine.
func (s *Session) Handle(ev Event) {
	ev.apply(s)
}

// Anchor returns the topmost message at least partly visible and its
// offset from the top of the window. ok is false when the timeline is empty.
func (s *Session) Anchor() (id string, offset float64, ok bool) {
	m, offset, ok := s.firstVisible()
	return m.ID, offset, ok
}

func (s *Session) firstVisible() (protocol.Message, float64, bool) {
	var top float64
	for _, m := range s.timeline.messages {
		h := s.measure(m)
		if top+h > s.viewport.ScrollTop {
			return m, top - s.viewport.ScrollTop, true
		}
		top += h
	}
	return protocol.Message{}, 0, false
}

func (s *Session) emit(cmds ...Command) {
	if s.commands == nil {
		return
	}
	for _, c := range cmds {
		s.commands(c)
	}
}

func (s *Session) height(msgs []protocol.Message) float64 {
	var h float64
	for _, m := range msgs {
		h += s.measure(m)
	}
	return h
}

// backfillIfShort loads older history when the window is at the top, which
// includes content too short to scroll.
func (s *Session) backfillIfShort() {
	if !s.viewport.AtTop() {
		return
	}
	if cmd, ok := s.timeline.LoadOlder(); ok {
		s.emit(cmd)
	}
}

func (f Frame) apply(s *Session) {
	msgType, raw, err := protocol.ParseServerMessage(f)
	if err != nil {
		log.Printf("[client] dropping frame: %v", err)
		return
	}

	switch msgType {
	case protocol.TypeOnlineUsers:
		var m protocol.OnlineUsersMsg
		if decode(msgType, raw, &m) {
			s.presence.Replace(m.UserIDs)
			s.notify(Notice{Kind: msgType})
		}

	case protocol.TypeUserOnline:
		var m protocol.UserOnlineMsg
		if decode(msgType, raw, &m) && s.presence.Add(m.UserID) {
			s.notify(Notice{Kind: msgType, UserID: m.UserID})
		}

	case protocol.TypeUserOffline:
		var m protocol.UserOfflineMsg
		if decode(msgType, raw, &m) && s.presence.Remove(m.UserID) {
			delete(s.typing, m.UserID)
			s.notify(Notice{Kind: msgType, UserID: m.UserID})
		}

	case protocol.TypeNewMessage:
		var m protocol.NewMessageMsg
		if !decode(msgType, raw, &m) || !s.timeline.Append(m.Message) {
			return
		}
		s.viewport.Append(s.measure(m.Message))
		delete(s.typing, m.Message.SenderID)
		s.notify(Notice{Kind: msgType, ChannelID: m.Message.ChannelID, UserID: m.Message.SenderID, Message: &m.Message})

	case protocol.TypeUserTyping, protocol.TypeUserStoppedTyping:
		var m protocol.UserTypingMsg
		if !decode(msgType, raw, &m) || m.ChannelID != s.timeline.ChannelID() {
			return
		}
		if msgType == protocol.TypeUserTyping {
			s.typing[m.UserID] = struct{}{}
		} else {
			delete(s.typing, m.UserID)
		}
		s.notify(Notice{Kind: msgType, ChannelID: m.ChannelID, UserID: m.UserID})

	case protocol.TypePage:
		var m protocol.PageMsg
		if !decode(msgType, raw, &m) {
			return
		}
		anchor, _, anchored := s.firstVisible()
		effect, added := s.timeline.ApplyPage(m)
		switch effect {
		case PageIgnored:
			return
		case PageReplaced:
			s.viewport.Reset(s.height(added))
		case PagePrepended:
			s.viewport.Prepend(s.height(added))
		case PageAppended:
			// Missed messages can sort above what is on screen.
			var above, below float64
			for _, a := range added {
				if anchored && less(a, anchor) {
					above += s.measure(a)
				} else {
					below += s.measure(a)
				}
			}
			s.viewport.Prepend(above)
			s.viewport.Append(below)
		}
		s.notify(Notice{Kind: msgType, ChannelID: m.ChannelID})
		s.backfillIfShort()

	case protocol.TypeError:
		var m protocol.ErrorMsg
		if decode(msgType, raw, &m) {
			s.timeline.Fail(m.RequestID)
			s.notify(Notice{Kind: msgType, Error: &m})
		}

	case protocol.TypeJoinedChannel, protocol.TypeLeftChannel, protocol.TypePong:
	default:
		log.Printf("[client] ignoring message type=%s", msgType)
	}
}

func decode(msgType string, raw json.RawMessage, v interface{}) bool {
	if err := json.Unmarshal(raw, v); err != nil {
		log.Printf("[client] decode %s: %v", msgType, err)
		return false
	}
	return true
}

func (e OpenChannel) apply(s *Session) {
	prev := s.timeline.ChannelID()
	s.emit(s.timeline.Open(e.ChannelID)...)
	if prev != e.ChannelID {
		s.typing = make(map[string]struct{})
		s.viewport.Reset(0)
	}
}

func (CloseChannel) apply(s *Session) {
	s.emit(s.timeline.Close()...)
	s.typing = make(map[string]struct{})
	s.viewport.Reset(0)
}

func (e SendText) apply(s *Session) {
	if s.timeline.State() == Idle {
		s.notify(Notice{Kind: protocol.TypeError, Error: &protocol.ErrorMsg{
			Code:    "invalid_message",
			Message: "no channel open",
		}})
		return
	}
	s.sends++
	s.emit(Command{Type: protocol.TypeSendMessage, Payload: protocol.SendMessageMsg{
		Type:      protocol.TypeSendMessage,
		ChannelID: s.timeline.ChannelID(),
		Content:   e.Content,
		RequestID: "send-" + strconv.Itoa(s.sends),
	}})
}

func (e SetTyping) apply(s *Session) {
	if s.timeline.State() == Idle {
		return
	}
	msgType := protocol.TypeTypingStop
	if e.Started {
		msgType = protocol.TypeTypingStart
	}
	s.emit(Command{Type: msgType, Payload: protocol.TypingMsg{
		Type:      msgType,
		ChannelID: s.timeline.ChannelID(),
	}})
}

func (e ScrollTo) apply(s *Session) {
	s.viewport.ScrollTo(e.Y)
	s.backfillIfShort()
}

func (RefreshPresence) apply(s *Session) {
	s.emit(getOnlineUsers())
}

func getOnlineUsers() Command {
	return Command{Type: protocol.TypeGetOnlineUsers, Payload: protocol.GetOnlineUsersMsg{
		Type: protocol.TypeGetOnlineUsers,
	}}
}

func (Reconnected) apply(s *Session) {
	s.typing = make(map[string]struct{})
	s.emit(getOnlineUsers())
	s.emit(s.timeline.Reconnected()...)
}
