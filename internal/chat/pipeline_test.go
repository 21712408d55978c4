package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamchat/chat-app/internal/apperr"
	"github.com/teamchat/chat-app/internal/channel"
)

// recordingBroadcaster captures broadcasts per channel in the order the
// pipeline issued them.
type recordingBroadcaster struct {
	mu   sync.Mutex
	msgs []*Message
}

func (r *recordingBroadcaster) BroadcastMessage(msg *Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func (r *recordingBroadcaster) ids(channelID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	for _, m := range r.msgs {
		if m.ChannelID == channelID {
			ids = append(ids, m.ID)
		}
	}
	return ids
}

type denyAll struct{}

func (denyAll) Allow(context.Context, string) bool { return false }

func newTestPipeline(store Store, dir channel.Directory) (*Pipeline, *recordingBroadcaster) {
	b := &recordingBroadcaster{}
	if dir == nil {
		dir = channel.Open{}
	}
	return NewPipeline(PipelineConfig{Store: store, Channels: dir, Broadcaster: b, Stripes: 8}), b
}

func TestPipeline_SubmitPersistsAndBroadcasts(t *testing.T) {
	store := NewMemoryStore(0)
	p, b := newTestPipeline(store, nil)

	msg, err := p.Submit(context.Background(), Sender{ConnID: "a1", UserID: "alice"}, "general", "  hi  ")
	require.NoError(t, err)
	require.Equal(t, "hi", msg.Content)
	require.Equal(t, "alice", msg.SenderID)
	require.NotEmpty(t, msg.ID)
	require.Equal(t, []string{msg.ID}, b.ids("general"))

	recent, err := store.FetchRecent(context.Background(), "general", 0, 10)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.Equal(t, msg.ID, recent[0].ID)
}

func TestPipeline_Rejections(t *testing.T) {
	dir := channel.Static{
		"general": nil,
		"private": {"bob": true},
	}
	cases := []struct {
		name    string
		channel string
		content string
		kind    apperr.Kind
	}{
		{"empty", "general", "", apperr.KindValidation},
		{"whitespace only", "general", "   \n\t", apperr.KindValidation},
		{"too long", "general", strings.Repeat("x", MaxMessageBytes+1), apperr.KindValidation},
		{"missing channel id", "", "hi", apperr.KindValidation},
		{"unknown channel", "nope", "hi", apperr.KindNotFound},
		{"not a member", "private", "hi", apperr.KindForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := NewMemoryStore(0)
			p, b := newTestPipeline(store, dir)

			_, err := p.Submit(context.Background(), Sender{ConnID: "a1", UserID: "alice"}, tc.channel, tc.content)
			require.Error(t, err)
			require.Equal(t, tc.kind, apperr.KindOf(err))
			require.Empty(t, b.msgs)

			n, _ := store.Count(context.Background(), tc.channel)
			require.Zero(t, n)
		})
	}
}

func TestPipeline_PersistenceFailureDoesNotBroadcast(t *testing.T) {
	store := NewMemoryStore(0)
	p, b := newTestPipeline(store, nil)

	store.FailNext(errors.New("connection refused"))
	_, err := p.Submit(context.Background(), Sender{ConnID: "a1", UserID: "alice"}, "general", "hi")
	require.True(t, apperr.Is(err, apperr.KindPersistence))
	require.Empty(t, b.msgs)

	// The store recovers and the next submit goes through.
	_, err = p.Submit(context.Background(), Sender{ConnID: "a1", UserID: "alice"}, "general", "hi again")
	require.NoError(t, err)
	require.Len(t, b.ids("general"), 1)
}

func TestPipeline_Throttled(t *testing.T) {
	p := NewPipeline(PipelineConfig{
		Store:       NewMemoryStore(0),
		Channels:    channel.Open{},
		Broadcaster: &recordingBroadcaster{},
		Throttle:    denyAll{},
	})

	_, err := p.Submit(context.Background(), Sender{ConnID: "a1", UserID: "alice"}, "general", "hi")
	require.True(t, apperr.Is(err, apperr.KindRateLimited))
}

func TestPipeline_TimestampsStrictlyIncrease(t *testing.T) {
	p, _ := newTestPipeline(NewMemoryStore(0), nil)
	frozen := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return frozen }

	var prev time.Time
	for i := 0; i < 5; i++ {
		msg, err := p.Submit(context.Background(), Sender{UserID: "alice"}, "general", "tick")
		require.NoError(t, err)
		require.True(t, msg.CreatedAt.After(prev), "message %d", i)
		prev = msg.CreatedAt
	}
}

func TestPipeline_TimestampsSurviveClockStepBack(t *testing.T) {
	p, _ := newTestPipeline(NewMemoryStore(0), nil)
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	p.now = func() time.Time { return clock }

	channels := make([]string, 20)
	for i := range channels {
		channels[i] = fmt.Sprintf("ch-%d", i)
	}
	before := make(map[string]time.Time)
	for _, ch := range channels {
		msg, err := p.Submit(context.Background(), Sender{UserID: "alice"}, ch, "first")
		require.NoError(t, err)
		before[ch] = msg.CreatedAt
	}

	clock = clock.Add(-time.Second)
	for _, ch := range channels {
		msg, err := p.Submit(context.Background(), Sender{UserID: "alice"}, ch, "second")
		require.NoError(t, err)
		require.True(t, msg.CreatedAt.After(before[ch]), ch)
	}
	require.Len(t, p.last, p.locks.Len())
}

// Concurrent senders on one channel: broadcast order equals history order.
func TestPipeline_ConcurrentSubmitsKeepOneOrder(t *testing.T) {
	store := NewMemoryStore(0)
	p, b := newTestPipeline(store, nil)

	var wg sync.WaitGroup
	for u := 0; u < 4; u++ {
		wg.Add(1)
		go func(u int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				_, err := p.Submit(context.Background(), Sender{UserID: fmt.Sprintf("user-%d", u)}, "general", fmt.Sprintf("m%d", i))
				require.NoError(t, err)
			}
		}(u)
	}
	wg.Wait()

	history, err := store.FetchRecent(context.Background(), "general", 0, 200)
	require.NoError(t, err)
	require.Len(t, history, 100)

	historyIDs := make([]string, len(history))
	for i, m := range history {
		historyIDs[i] = m.ID
	}
	require.Equal(t, historyIDs, b.ids("general"))
}
