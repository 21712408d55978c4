// Package presence tracks which users are online across any number of
// simultaneous connections and turns registry mutations into online/offline
// transitions.
package presence

import (
	"sort"

	"github.com/teamchat/chat-app/internal/keyed"
)

// Registry maps a user identity to the set of its live connection ids. A user
// key exists iff the user has at least one live connection.
//
// Mutations for one user are serialized on that user's stripe so the
// first/last computation is atomic with the set mutation. Different users on
// different stripes proceed in parallel.
type Registry struct {
	locks  *keyed.Mutex
	shards []map[string]map[string]struct{} // stripe -> user -> conn ids
}

// NewRegistry creates an empty registry with the given stripe count.
func NewRegistry(stripes int) *Registry {
	locks := keyed.NewMutex(stripes)
	shards := make([]map[string]map[string]struct{}, locks.Len())
	for i := range shards {
		shards[i] = make(map[string]map[string]struct{})
	}
	return &Registry{locks: locks, shards: shards}
}

// Attach records connID for userID. It returns true iff this is the user's
// first live connection. Attaching an already-registered connection is a
// no-op and returns false.
func (r *Registry) Attach(userID, connID string) bool {
	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)
	return r.attachLocked(userID, connID)
}

func (r *Registry) attachLocked(userID, connID string) bool {
	users := r.shards[r.locks.Stripe(userID)]
	conns, ok := users[userID]
	if !ok {
		users[userID] = map[string]struct{}{connID: {}}
		return true
	}
	conns[connID] = struct{}{}
	return false
}

// Detach removes connID from userID. It returns true iff this removed the
// user's last live connection, in which case the user key is deleted.
// Detaching an unknown connection is a no-op and returns false, so duplicate
// teardown signals are harmless.
func (r *Registry) Detach(userID, connID string) bool {
	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)
	return r.detachLocked(userID, connID)
}

func (r *Registry) detachLocked(userID, connID string) bool {
	users := r.shards[r.locks.Stripe(userID)]
	conns, ok := users[userID]
	if !ok {
		return false
	}
	if _, ok := conns[connID]; !ok {
		return false
	}
	delete(conns, connID)
	if len(conns) == 0 {
		delete(users, userID)
		return true
	}
	return false
}

// IsOnline reports whether userID has at least one live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)
	_, ok := r.shards[r.locks.Stripe(userID)][userID]
	return ok
}

// Has reports whether connID is a live connection of userID.
func (r *Registry) Has(userID, connID string) bool {
	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)
	_, ok := r.shards[r.locks.Stripe(userID)][userID][connID]
	return ok
}

// Connections returns how many live connections userID has.
func (r *Registry) Connections(userID string) int {
	r.locks.Lock(userID)
	defer r.locks.Unlock(userID)
	return len(r.shards[r.locks.Stripe(userID)][userID])
}

// ListOnline returns a sorted snapshot of every user with at least one live
// connection. The snapshot is accurate per stripe at the time it was read.
func (r *Registry) ListOnline() []string {
	users := make([]string, 0)
	for i := range r.shards {
		r.locks.LockStripe(i)
		for u := range r.shards[i] {
			users = append(users, u)
		}
		r.locks.UnlockStripe(i)
	}
	sort.Strings(users)
	return users
}

// Count returns the number of online users.
func (r *Registry) Count() int {
	n := 0
	for i := range r.shards {
		r.locks.LockStripe(i)
		n += len(r.shards[i])
		r.locks.UnlockStripe(i)
	}
	return n
}
