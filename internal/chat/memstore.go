package chat

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps messages in process memory. It is goroutine-safe and is
// used when no database is configured and in tests.
//
// With a non-zero retention only the newest retention messages per channel
// are kept; older ones are discarded as new messages arrive.
type MemoryStore struct {
	mu        sync.RWMutex
	channels  map[string]*timeline // channelID -> messages
	seq       int64
	retention int

	// failNext makes the next Record fail; tests use it to simulate an
	// unavailable database.
	failNext error
}

type timeline struct {
	msgs  []*Message // channel order
	index map[string]int
	base  int // number of messages discarded from the front
}

// NewMemoryStore creates an empty store. retention <= 0 keeps everything.
func NewMemoryStore(retention int) *MemoryStore {
	return &MemoryStore{
		channels:  make(map[string]*timeline),
		retention: retention,
	}
}

// FailNext makes the next Record call return err.
func (s *MemoryStore) FailNext(err error) {
	s.mu.Lock()
	s.failNext = err
	s.mu.Unlock()
}

func (s *MemoryStore) Record(_ context.Context, msg *Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return err
	}

	tl, ok := s.channels[msg.ChannelID]
	if !ok {
		tl = &timeline{index: make(map[string]int)}
		s.channels[msg.ChannelID] = tl
	}

	s.seq++
	stored := *msg
	stored.Seq = s.seq
	msg.Seq = s.seq

	// Callers normally append in order; insert in place otherwise.
	pos := len(tl.msgs)
	if pos > 0 && before(&stored, tl.msgs[pos-1]) {
		pos = sort.Search(len(tl.msgs), func(i int) bool { return before(&stored, tl.msgs[i]) })
		tl.msgs = append(tl.msgs, nil)
		copy(tl.msgs[pos+1:], tl.msgs[pos:])
		tl.msgs[pos] = &stored
		tl.reindex()
	} else {
		tl.msgs = append(tl.msgs, &stored)
		tl.index[stored.ID] = tl.base + pos
	}

	if s.retention > 0 && len(tl.msgs) > s.retention {
		drop := len(tl.msgs) - s.retention
		for _, m := range tl.msgs[:drop] {
			delete(tl.index, m.ID)
		}
		tl.msgs = append([]*Message(nil), tl.msgs[drop:]...)
		tl.base += drop
	}
	return nil
}

func (tl *timeline) reindex() {
	for i, m := range tl.msgs {
		tl.index[m.ID] = tl.base + i
	}
}

func (s *MemoryStore) FetchRecent(_ context.Context, channelID string, skip, limit int) ([]*Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tl, ok := s.channels[channelID]
	if !ok {
		return []*Message{}, nil
	}
	end := len(tl.msgs) - skip
	if end <= 0 {
		return []*Message{}, nil
	}
	start := end - limit
	if start < 0 {
		start = 0
	}
	return copyMessages(tl.msgs[start:end]), nil
}

func (s *MemoryStore) FetchBefore(_ context.Context, channelID, beforeID string, limit int) ([]*Message, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tl, ok := s.channels[channelID]
	if !ok {
		return nil, false, ErrUnknownCursor
	}
	abs, ok := tl.index[beforeID]
	if !ok {
		return nil, false, ErrUnknownCursor
	}
	end := abs - tl.base
	start := end - limit
	if start < 0 {
		start = 0
	}
	return copyMessages(tl.msgs[start:end]), start > 0, nil
}

func (s *MemoryStore) Count(_ context.Context, channelID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if tl, ok := s.channels[channelID]; ok {
		return len(tl.msgs), nil
	}
	return 0, nil
}

func copyMessages(src []*Message) []*Message {
	out := make([]*Message, len(src))
	for i, m := range src {
		c := *m
		out[i] = &c
	}
	return out
}
