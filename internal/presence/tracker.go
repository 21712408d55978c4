package presence

import (
	"context"
	"log"
	"sync"

	"github.com/teamchat/chat-app/internal/metrics"
	"github.com/teamchat/chat-app/internal/protocol"
)

// Subscriber is one live connection as seen by the presence tracker.
type Subscriber interface {
	ConnectionID() string
	Identity() string
	// Send enqueues an encoded event without blocking. It returns false if
	// the event could not be queued.
	Send(data []byte) bool
}

// Directory records presence outside the process (e.g. for other services
// that want last-seen times). It is optional.
type Directory interface {
	MarkOnline(ctx context.Context, userID string) error
	MarkOffline(ctx context.Context, userID string) error
}

type directoryUpdate struct {
	userID string
	online bool
}

// Tracker turns registry mutations into presence events.
//
// Transitions for different users run concurrently: each holds the read side
// of audienceMu plus its user's stripe lock. Adding a subscriber takes the
// write side while it joins the audience and receives its snapshot, so the
// snapshot reflects every transition already broadcast and the subscriber
// receives every transition broadcast afterwards.
type Tracker struct {
	registry *Registry

	audienceMu sync.RWMutex
	audience   map[string]Subscriber // conn id -> subscriber

	directory Directory
	updates   chan directoryUpdate
}

// NewTracker creates a tracker over registry. directory may be nil.
func NewTracker(registry *Registry, directory Directory) *Tracker {
	t := &Tracker{
		registry:  registry,
		audience:  make(map[string]Subscriber),
		directory: directory,
	}
	if directory != nil {
		t.updates = make(chan directoryUpdate, 1024)
	}
	return t
}

// Registry returns the underlying connection registry.
func (t *Tracker) Registry() *Registry {
	return t.registry
}

// Run drains directory updates in transition order until ctx is cancelled.
// It returns immediately when the tracker has no directory.
func (t *Tracker) Run(ctx context.Context) {
	if t.directory == nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-t.updates:
			var err error
			if u.online {
				err = t.directory.MarkOnline(ctx, u.userID)
			} else {
				err = t.directory.MarkOffline(ctx, u.userID)
			}
			if err != nil {
				log.Printf("[presence] directory update user=%s online=%v: %v", u.userID, u.online, err)
			}
		}
	}
}

// Connect attaches sub to the registry. If this is the user's first
// connection every other user's connections receive user_online. The new
// connection itself receives the online_users snapshot instead of its own
// transition. It returns whether the user came online.
func (t *Tracker) Connect(sub Subscriber) bool {
	userID := sub.Identity()

	t.audienceMu.RLock()
	t.registry.locks.Lock(userID)
	first := t.registry.attachLocked(userID, sub.ConnectionID())
	if first {
		t.emitLocked(protocol.TypeUserOnline, protocol.UserOnlineMsg{UserID: userID}, userID)
		t.queueDirectory(userID, true)
	}
	t.registry.locks.Unlock(userID)
	t.audienceMu.RUnlock()

	if first {
		metrics.PresenceTransitions.WithLabelValues("online").Inc()
		metrics.OnlineUsers.Inc()
		log.Printf("[presence] user online user=%s session=%s", userID, sub.ConnectionID())
	}

	t.audienceMu.Lock()
	t.audience[sub.ConnectionID()] = sub
	t.sendSnapshot(sub)
	t.audienceMu.Unlock()

	return first
}

// Disconnect removes sub from the audience and the registry. If it was the
// user's last connection every remaining connection receives user_offline.
// Calling Disconnect more than once for the same subscriber is a no-op.
// It returns whether the user went offline.
func (t *Tracker) Disconnect(sub Subscriber) bool {
	userID := sub.Identity()

	t.audienceMu.Lock()
	delete(t.audience, sub.ConnectionID())
	t.audienceMu.Unlock()

	t.audienceMu.RLock()
	t.registry.locks.Lock(userID)
	last := t.registry.detachLocked(userID, sub.ConnectionID())
	if last {
		t.emitLocked(protocol.TypeUserOffline, protocol.UserOfflineMsg{UserID: userID}, "")
		t.queueDirectory(userID, false)
	}
	t.registry.locks.Unlock(userID)
	t.audienceMu.RUnlock()

	if last {
		metrics.PresenceTransitions.WithLabelValues("offline").Inc()
		metrics.OnlineUsers.Dec()
		log.Printf("[presence] user offline user=%s session=%s", userID, sub.ConnectionID())
	}
	return last
}

// Snapshot re-sends the online_users snapshot to sub, e.g. after the client
// reconnected and asked for it.
func (t *Tracker) Snapshot(sub Subscriber) {
	// The write side orders the snapshot against in-flight transitions.
	t.audienceMu.Lock()
	t.sendSnapshot(sub)
	t.audienceMu.Unlock()
}

func (t *Tracker) sendSnapshot(sub Subscriber) {
	data, err := protocol.NewServerMessage(protocol.TypeOnlineUsers, protocol.OnlineUsersMsg{
		UserIDs: t.registry.ListOnline(),
	})
	if err != nil {
		log.Printf("[presence] build snapshot session=%s: %v", sub.ConnectionID(), err)
		return
	}
	if !sub.Send(data) {
		log.Printf("[presence] snapshot dropped session=%s", sub.ConnectionID())
	}
}

// emitLocked sends one transition to the audience, skipping connections that
// belong to skipUser. Callers hold audienceMu (read) and the user's stripe.
func (t *Tracker) emitLocked(msgType string, payload interface{}, skipUser string) {
	data, err := protocol.NewServerMessage(msgType, payload)
	if err != nil {
		log.Printf("[presence] build %s: %v", msgType, err)
		return
	}
	for _, sub := range t.audience {
		if skipUser != "" && sub.Identity() == skipUser {
			continue
		}
		if !sub.Send(data) {
			metrics.FanoutDropped.Inc()
		}
	}
}

func (t *Tracker) queueDirectory(userID string, online bool) {
	if t.updates == nil {
		return
	}
	select {
	case t.updates <- directoryUpdate{userID: userID, online: online}:
	default:
		log.Printf("[presence] directory queue full, dropping update user=%s online=%v", userID, online)
	}
}
