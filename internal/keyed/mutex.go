// Package keyed provides striped locking: a fixed set of mutexes where each
// key is hashed onto one stripe. Operations on the same key are serialized,
// while operations on keys that land on different stripes run in parallel.
package keyed

import (
	"sync"

	"github.com/cespare/xxhash/v2"
)

// DefaultStripes is the stripe count used by NewMutex when n <= 0.
const DefaultStripes = 64

// Mutex serializes work per key without a global lock.
type Mutex struct {
	stripes []sync.Mutex
}

// NewMutex creates a Mutex with n stripes.
func NewMutex(n int) *Mutex {
	if n <= 0 {
		n = DefaultStripes
	}
	return &Mutex{stripes: make([]sync.Mutex, n)}
}

// Stripe returns the stripe index for key.
func (m *Mutex) Stripe(key string) int {
	return int(xxhash.Sum64String(key) % uint64(len(m.stripes)))
}

// Lock acquires the lock for key.
func (m *Mutex) Lock(key string) {
	m.stripes[m.Stripe(key)].Lock()
}

// Unlock releases the lock for key.
func (m *Mutex) Unlock(key string) {
	m.stripes[m.Stripe(key)].Unlock()
}

// Do runs fn while holding the lock for key.
func (m *Mutex) Do(key string, fn func()) {
	m.Lock(key)
	defer m.Unlock(key)
	fn()
}

// LockStripe acquires stripe i directly. Used by callers that keep per-stripe
// state and need to walk every stripe (snapshots).
func (m *Mutex) LockStripe(i int) {
	m.stripes[i].Lock()
}

// UnlockStripe releases stripe i.
func (m *Mutex) UnlockStripe(i int) {
	m.stripes[i].Unlock()
}

// Len returns the number of stripes.
func (m *Mutex) Len() int {
	return len(m.stripes)
}
