// Package client keeps a chat client's view of the server consistent with
// the stream of pushed events and history pages: the online-users set, the
// open channel's message timeline, and the viewport scrolled over it.
package client

import (
	"sort"
	"strconv"

	"github.com/teamchat/chat-app/internal/protocol"
)

// State is the timeline's lifecycle state for the open channel.
type State int

const (
	Idle        State = iota // no channel open
	Loading                  // first page in flight
	Ready                    // timeline populated
	LoadingMore              // older page in flight
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Loading:
		return "loading"
	case Ready:
		return "ready"
	case LoadingMore:
		return "loading_more"
	default:
		return "unknown"
	}
}

// Command is a message the client must send to the server. Payload is one of
// the protocol client message structs with its Type field set.
type Command struct {
	Type    string
	Payload interface{}
}

// fetchKind tells ApplyPage what an outstanding page request was for.
type fetchKind int

const (
	fetchInitial fetchKind = iota + 1
	fetchOlder
	fetchCatchup
)

// PageEffect describes what applying a page did to the timeline.
type PageEffect int

const (
	PageIgnored   PageEffect = iota // page did not match the request in flight
	PageReplaced                    // first page loaded
	PagePrepended                   // older messages added at the top
	PageAppended                    // missed messages added at the bottom
)

// Timeline is the message list of the open channel, deduplicated by id and
// ordered by (CreatedAt, ID). It is not safe for concurrent use; Session
// drives it from a single goroutine.
type Timeline struct {
	state     State
	channelID string
	messages  []protocol.Message
	ids       map[string]struct{}
	hasMore   bool
	total     int
	pageSize  int

	pending     string // request id of the page request in flight
	pendingKind fetchKind
	seq         int
}

// NewTimeline creates an idle timeline that requests pageSize messages per
// page. pageSize <= 0 lets the server choose.
func NewTimeline(pageSize int) *Timeline {
	return &Timeline{ids: make(map[string]struct{}), pageSize: pageSize}
}

func (t *Timeline) State() State      { return t.state }
func (t *Timeline) ChannelID() string { return t.channelID }
func (t *Timeline) HasMore() bool     { return t.hasMore }
func (t *Timeline) Total() int        { return t.total }
func (t *Timeline) Len() int          { return len(t.messages) }
func (t *Timeline) Pending() string   { return t.pending }

// Messages returns a copy of the timeline, oldest first.
func (t *Timeline) Messages() []protocol.Message {
	out := make([]protocol.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Open switches the timeline to channelID. It returns the commands that
// leave the previous room, join the new one and request its first page.
// Reopening the channel already open does nothing unless its first page
// failed, in which case the fetch is retried.
func (t *Timeline) Open(channelID string) []Command {
	if t.state != Idle && t.channelID == channelID {
		if cmd, ok := t.Retry(); ok {
			return []Command{cmd}
		}
		return nil
	}
	var cmds []Command
	if t.state != Idle {
		cmds = append(cmds, t.leave())
	}
	t.reset()
	t.channelID = channelID
	t.state = Loading
	return append(cmds, t.join(), t.fetchFirst(fetchInitial))
}

// Close leaves the open channel and returns to Idle.
func (t *Timeline) Close() []Command {
	if t.state == Idle {
		return nil
	}
	cmd := t.leave()
	t.reset()
	return []Command{cmd}
}

// Reconnected returns the commands that restore the open channel after the
// transport reconnects: room membership is per connection, so the room is
// joined again and the newest page is fetched to pick up anything pushed
// while the connection was down.
func (t *Timeline) Reconnected() []Command {
	switch t.state {
	case Idle:
		return nil
	case Loading:
		return []Command{t.join(), t.fetchFirst(fetchInitial)}
	default:
		// An older page requested on the dead connection will never arrive.
		t.state = Ready
		return []Command{t.join(), t.fetchFirst(fetchCatchup)}
	}
}

// LoadOlder requests the page before the oldest loaded message. It only
// fires in Ready while older history remains and no other page request is in
// flight, so a post-reconnect catch-up page is never displaced by a backfill.
func (t *Timeline) LoadOlder() (Command, bool) {
	if t.state != Ready || t.pending != "" || !t.hasMore || len(t.messages) == 0 {
		return Command{}, false
	}
	t.state = LoadingMore
	t.pending = t.nextRequestID()
	t.pendingKind = fetchOlder
	return Command{Type: protocol.TypeFetchBefore, Payload: protocol.FetchBeforeMsg{
		Type:      protocol.TypeFetchBefore,
		ChannelID: t.channelID,
		BeforeID:  t.messages[0].ID,
		PageSize:  t.pageSize,
		RequestID: t.pending,
	}}, true
}

// ApplyPage merges a page response. Responses for another channel or for a
// request other than the one in flight are ignored. It returns what the page
// did and the messages it added, oldest first.
func (t *Timeline) ApplyPage(p protocol.PageMsg) (PageEffect, []protocol.Message) {
	if t.state == Idle || p.ChannelID != t.channelID || p.RequestID == "" || p.RequestID != t.pending {
		return PageIgnored, nil
	}
	kind := t.pendingKind
	t.pending, t.pendingKind = "", 0
	t.total = p.Total

	added := t.merge(p.Messages)
	switch kind {
	case fetchInitial:
		// Messages pushed while the first page was in flight are kept.
		t.hasMore = p.HasMore
		t.state = Ready
		return PageReplaced, t.Messages()
	case fetchOlder:
		t.hasMore = p.HasMore
		t.state = Ready
		return PagePrepended, added
	default:
		return PageAppended, added
	}
}

// Fail records that the request requestID failed. A failed backfill returns
// to Ready so it can be retried. A failed first page stays in Loading with
// nothing in flight; Retry reissues it. Failures of other requests, a send
// for example, leave the timeline unchanged.
func (t *Timeline) Fail(requestID string) bool {
	if requestID == "" || requestID != t.pending {
		return false
	}
	if t.state == LoadingMore {
		t.state = Ready
	}
	t.pending, t.pendingKind = "", 0
	return true
}

// Retry reissues the first page request after it failed.
func (t *Timeline) Retry() (Command, bool) {
	if t.state != Loading || t.pending != "" {
		return Command{}, false
	}
	return t.fetchFirst(fetchInitial), true
}

// Append adds a pushed message if it belongs to the open channel and is not
// already present. It reports whether the timeline changed.
func (t *Timeline) Append(m protocol.Message) bool {
	if t.state == Idle || m.ChannelID != t.channelID {
		return false
	}
	if len(t.merge([]protocol.Message{m})) == 0 {
		return false
	}
	t.total++
	return true
}

// merge inserts the messages not already present and returns them, oldest
// first.
func (t *Timeline) merge(msgs []protocol.Message) []protocol.Message {
	var added []protocol.Message
	for _, m := range msgs {
		if m.ChannelID != "" && m.ChannelID != t.channelID {
			continue
		}
		if _, dup := t.ids[m.ID]; dup {
			continue
		}
		t.ids[m.ID] = struct{}{}
		added = append(added, m)
	}
	if len(added) == 0 {
		return nil
	}
	sort.SliceStable(added, func(i, j int) bool { return less(added[i], added[j]) })

	n := len(t.messages)
	switch {
	case n == 0 || less(t.messages[n-1], added[0]):
		t.messages = append(t.messages, added...)
	case less(added[len(added)-1], t.messages[0]):
		t.messages = append(append(make([]protocol.Message, 0, n+len(added)), added...), t.messages...)
	default:
		t.messages = append(t.messages, added...)
		sort.SliceStable(t.messages, func(i, j int) bool { return less(t.messages[i], t.messages[j]) })
	}
	return added
}

func less(a, b protocol.Message) bool {
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID < b.ID
}

func (t *Timeline) reset() {
	t.state = Idle
	t.channelID = ""
	t.messages = nil
	t.ids = make(map[string]struct{})
	t.hasMore = false
	t.total = 0
	t.pending, t.pendingKind = "", 0
}

func (t *Timeline) nextRequestID() string {
	t.seq++
	return "tl-" + strconv.Itoa(t.seq)
}

func (t *Timeline) join() Command {
	return Command{Type: protocol.TypeJoinChannel, Payload: protocol.JoinChannelMsg{
		Type:      protocol.TypeJoinChannel,
		ChannelID: t.channelID,
	}}
}

func (t *Timeline) leave() Command {
	return Command{Type: protocol.TypeLeaveChannel, Payload: protocol.LeaveChannelMsg{
		Type:      protocol.TypeLeaveChannel,
		ChannelID: t.channelID,
	}}
}

func (t *Timeline) fetchFirst(kind fetchKind) Command {
	t.pending = t.nextRequestID()
	t.pendingKind = kind
	return Command{Type: protocol.TypeFetchPage, Payload: protocol.FetchPageMsg{
		Type:      protocol.TypeFetchPage,
		ChannelID: t.channelID,
		Page:      1,
		PageSize:  t.pageSize,
		RequestID: t.pending,
	}}
}
