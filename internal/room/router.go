// Package room binds connections to channel broadcast groups and decides who
// receives a channel event.
package room

import (
	"sort"
	"sync"

	"github.com/teamchat/chat-app/internal/keyed"
	"github.com/teamchat/chat-app/internal/metrics"
)

// Member is a connection that can receive channel broadcasts.
type Member interface {
	ConnectionID() string
	// Send enqueues an encoded event without blocking.
	Send(data []byte) bool
}

// Router holds two indexes: channel -> members, guarded per channel by a
// striped lock, and connection -> channels, guarded by its own mutex. The
// channel group is the source of truth for broadcast audiences; the reverse
// index exists so teardown can find every group a connection belongs to.
//
// Room membership is for broadcast only. Whether a user may join a channel is
// decided before Join is called.
type Router struct {
	locks  *keyed.Mutex
	groups []map[string]map[string]Member // stripe -> channel -> conn id -> member

	connMu sync.Mutex
	byConn map[string]map[string]struct{} // conn id -> channel ids
}

// NewRouter creates an empty router with the given stripe count.
func NewRouter(stripes int) *Router {
	locks := keyed.NewMutex(stripes)
	groups := make([]map[string]map[string]Member, locks.Len())
	for i := range groups {
		groups[i] = make(map[string]map[string]Member)
	}
	return &Router{
		locks:  locks,
		groups: groups,
		byConn: make(map[string]map[string]struct{}),
	}
}

// Join adds m to channelID's group. Joining twice has no additional effect;
// the return value reports whether the connection was newly added.
func (r *Router) Join(m Member, channelID string) bool {
	connID := m.ConnectionID()

	r.locks.Lock(channelID)
	channels := r.groups[r.locks.Stripe(channelID)]
	group, ok := channels[channelID]
	if !ok {
		group = make(map[string]Member)
		channels[channelID] = group
		metrics.ActiveRooms.Inc()
	}
	_, existed := group[connID]
	group[connID] = m
	r.locks.Unlock(channelID)

	if existed {
		return false
	}

	r.connMu.Lock()
	set, ok := r.byConn[connID]
	if !ok {
		set = make(map[string]struct{})
		r.byConn[connID] = set
	}
	set[channelID] = struct{}{}
	r.connMu.Unlock()
	return true
}

// Leave removes connID from channelID's group. Leaving a channel the
// connection is not in is a no-op; the return value reports whether anything
// was removed.
func (r *Router) Leave(connID, channelID string) bool {
	if !r.removeFromGroup(connID, channelID) {
		return false
	}

	r.connMu.Lock()
	if set, ok := r.byConn[connID]; ok {
		delete(set, channelID)
		if len(set) == 0 {
			delete(r.byConn, connID)
		}
	}
	r.connMu.Unlock()
	return true
}

// SwitchTo leaves every other room the connection is in and joins channelID,
// so a connection that moves between channels never receives duplicate
// fanout. It returns the channels that were left.
func (r *Router) SwitchTo(m Member, channelID string) []string {
	var left []string
	for _, ch := range r.Channels(m.ConnectionID()) {
		if ch == channelID {
			continue
		}
		if r.Leave(m.ConnectionID(), ch) {
			left = append(left, ch)
		}
	}
	r.Join(m, channelID)
	return left
}

// RemoveAll removes connID from every group it belongs to. It is used on
// connection teardown and is safe to call more than once.
func (r *Router) RemoveAll(connID string) []string {
	r.connMu.Lock()
	set := r.byConn[connID]
	delete(r.byConn, connID)
	r.connMu.Unlock()

	channels := make([]string, 0, len(set))
	for ch := range set {
		if r.removeFromGroup(connID, ch) {
			channels = append(channels, ch)
		}
	}
	sort.Strings(channels)
	return channels
}

func (r *Router) removeFromGroup(connID, channelID string) bool {
	r.locks.Lock(channelID)
	defer r.locks.Unlock(channelID)

	channels := r.groups[r.locks.Stripe(channelID)]
	group, ok := channels[channelID]
	if !ok {
		return false
	}
	if _, ok := group[connID]; !ok {
		return false
	}
	delete(group, connID)
	if len(group) == 0 {
		delete(channels, channelID)
		metrics.ActiveRooms.Dec()
	}
	return true
}

// Broadcast delivers data to every connection in channelID's group except
// excludeConnID (pass "" to include everyone). Message events include the
// sender; typing indicators exclude it. It never blocks on a slow connection
// and returns how many connections the event was queued for.
//
// The channel lock is held while events are queued, so two broadcasts on the
// same channel reach every member's queue in the same order.
func (r *Router) Broadcast(channelID string, data []byte, excludeConnID string) int {
	r.locks.Lock(channelID)
	defer r.locks.Unlock(channelID)

	delivered := 0
	for connID, m := range r.groups[r.locks.Stripe(channelID)][channelID] {
		if excludeConnID != "" && connID == excludeConnID {
			continue
		}
		if m.Send(data) {
			delivered++
		} else {
			metrics.FanoutDropped.Inc()
		}
	}
	metrics.FanoutDelivered.Add(float64(delivered))
	return delivered
}

// Members returns the sorted connection ids currently in channelID's group.
func (r *Router) Members(channelID string) []string {
	r.locks.Lock(channelID)
	defer r.locks.Unlock(channelID)

	group := r.groups[r.locks.Stripe(channelID)][channelID]
	ids := make([]string, 0, len(group))
	for id := range group {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Channels returns the sorted channel ids connID currently belongs to.
func (r *Router) Channels(connID string) []string {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	set := r.byConn[connID]
	ids := make([]string, 0, len(set))
	for ch := range set {
		ids = append(ids, ch)
	}
	sort.Strings(ids)
	return ids
}
