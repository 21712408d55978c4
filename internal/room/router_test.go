package room

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeMember struct {
	id string

	mu     sync.Mutex
	events []string
	full   bool
}

func (f *fakeMember) ConnectionID() string { return f.id }

func (f *fakeMember) Send(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.full {
		return false
	}
	f.events = append(f.events, string(data))
	return true
}

func (f *fakeMember) received() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func TestRouter_JoinLeaveIdempotent(t *testing.T) {
	r := NewRouter(8)
	a := &fakeMember{id: "a1"}

	require.True(t, r.Join(a, "general"))
	require.False(t, r.Join(a, "general"))
	require.Equal(t, []string{"a1"}, r.Members("general"))
	require.Equal(t, []string{"general"}, r.Channels("a1"))

	require.True(t, r.Leave("a1", "general"))
	require.False(t, r.Leave("a1", "general"))
	require.False(t, r.Leave("a1", "never-joined"))
	require.Empty(t, r.Members("general"))
	require.Empty(t, r.Channels("a1"))
}

func TestRouter_BroadcastIncludesOrExcludesSender(t *testing.T) {
	r := NewRouter(8)
	a := &fakeMember{id: "a1"}
	b := &fakeMember{id: "b1"}
	outsider := &fakeMember{id: "c1"}
	r.Join(a, "general")
	r.Join(b, "general")
	r.Join(outsider, "random")

	require.Equal(t, 2, r.Broadcast("general", []byte("msg"), ""))
	require.Equal(t, 1, r.Broadcast("general", []byte("typing"), "a1"))

	require.Equal(t, []string{"msg"}, a.received())
	require.Equal(t, []string{"msg", "typing"}, b.received())
	require.Empty(t, outsider.received())
}

func TestRouter_BroadcastEmptyChannel(t *testing.T) {
	r := NewRouter(8)
	require.Zero(t, r.Broadcast("nobody-here", []byte("x"), ""))
}

func TestRouter_BroadcastSkipsFullQueue(t *testing.T) {
	r := NewRouter(8)
	slow := &fakeMember{id: "slow", full: true}
	fast := &fakeMember{id: "fast"}
	r.Join(slow, "general")
	r.Join(fast, "general")

	require.Equal(t, 1, r.Broadcast("general", []byte("x"), ""))
	require.Equal(t, []string{"x"}, fast.received())
}

func TestRouter_SwitchToLeavesPreviousRoom(t *testing.T) {
	r := NewRouter(8)
	a := &fakeMember{id: "a1"}

	r.Join(a, "general")
	left := r.SwitchTo(a, "random")
	require.Equal(t, []string{"general"}, left)
	require.Equal(t, []string{"random"}, r.Channels("a1"))

	r.Broadcast("general", []byte("old"), "")
	r.Broadcast("random", []byte("new"), "")
	require.Equal(t, []string{"new"}, a.received())

	require.Empty(t, r.SwitchTo(a, "random"))
	require.Equal(t, []string{"random"}, r.Channels("a1"))
}

func TestRouter_RemoveAll(t *testing.T) {
	r := NewRouter(8)
	a := &fakeMember{id: "a1"}
	b := &fakeMember{id: "b1"}
	r.Join(a, "general")
	r.Join(a, "random")
	r.Join(b, "general")

	require.Equal(t, []string{"general", "random"}, r.RemoveAll("a1"))
	require.Empty(t, r.RemoveAll("a1"))
	require.Equal(t, []string{"b1"}, r.Members("general"))
	require.Empty(t, r.Members("random"))
}

// Every member of a channel sees concurrent broadcasts in the same order.
func TestRouter_ConcurrentBroadcastSameOrderForAllMembers(t *testing.T) {
	r := NewRouter(8)
	members := make([]*fakeMember, 4)
	for i := range members {
		members[i] = &fakeMember{id: fmt.Sprintf("m%d", i)}
		r.Join(members[i], "general")
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Broadcast("general", []byte(fmt.Sprintf("e%d", i)), "")
		}(i)
	}
	wg.Wait()

	first := members[0].received()
	require.Len(t, first, 50)
	for _, m := range members[1:] {
		require.Equal(t, first, m.received())
	}
}

func TestRouter_ConcurrentJoinLeave(t *testing.T) {
	r := NewRouter(4)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m := &fakeMember{id: fmt.Sprintf("c%d", i)}
			ch := fmt.Sprintf("ch%d", i%5)
			r.Join(m, ch)
			r.Broadcast(ch, []byte("x"), "")
			if i%2 == 0 {
				r.RemoveAll(m.id)
			}
		}(i)
	}
	wg.Wait()

	total := 0
	for i := 0; i < 5; i++ {
		total += len(r.Members(fmt.Sprintf("ch%d", i)))
	}
	require.Equal(t, 50, total)
}
