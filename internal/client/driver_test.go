package client

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teamchat/chat-app/internal/auth"
	"github.com/teamchat/chat-app/internal/channel"
	"github.com/teamchat/chat-app/internal/chat"
	"github.com/teamchat/chat-app/internal/hub"
	"github.com/teamchat/chat-app/internal/messaging"
	"github.com/teamchat/chat-app/internal/presence"
	"github.com/teamchat/chat-app/internal/protocol"
	"github.com/teamchat/chat-app/internal/room"
	"github.com/teamchat/chat-app/internal/ws"
)

func startChatServer(t *testing.T) (*ws.Server, string, *auth.JWTVerifier) {
	t.Helper()

	router := room.NewRouter(8)
	fanout := messaging.NewFanout(nil, router)
	store := chat.NewMemoryStore(0)
	dir := channel.Open{}
	h := hub.New(hub.Config{
		Tracker: presence.NewTracker(presence.NewRegistry(8), nil),
		Router:  router,
		Pipeline: chat.NewPipeline(chat.PipelineConfig{
			Store:       store,
			Channels:    dir,
			Broadcaster: fanout,
		}),
		History:   chat.NewHistory(store, dir, 0),
		Channels:  dir,
		Publisher: fanout,
	})

	verifier := auth.NewJWTVerifier(auth.DefaultConfig())
	d := ws.NewMessageDispatcher()
	h.Register(d)
	srv := ws.NewServer(ws.DefaultServerConfig(), verifier, d.Dispatch)
	srv.SetOnConnect(func(c *ws.Connection) { h.Connect(c) })
	srv.SetOnDisconnect(func(c *ws.Connection) { h.Disconnect(c) })

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return srv, ln.Addr().String(), verifier
}

type testClient struct {
	session *Session
	notices chan Notice
	cancel  context.CancelFunc
	done    chan struct{}
}

func startClient(t *testing.T, addr string, verifier *auth.JWTVerifier, userID string) *testClient {
	t.Helper()

	token, err := verifier.IssueToken(userID)
	require.NoError(t, err)

	tc := &testClient{notices: make(chan Notice, 1024), done: make(chan struct{})}
	var drv *Driver
	tc.session = NewSession(SessionConfig{
		PageSize:     50,
		ClientHeight: 400,
		Commands:     func(c Command) { drv.Enqueue(c) },
		Notify:       func(n Notice) { tc.notices <- n },
	})

	cfg := DefaultDriverConfig()
	cfg.URL = "ws://" + addr + "/ws"
	cfg.Token = token
	cfg.MinBackoff = 20 * time.Millisecond
	cfg.MaxBackoff = 100 * time.Millisecond
	drv = NewDriver(cfg, tc.session)

	ctx, cancel := context.WithCancel(context.Background())
	tc.cancel = cancel
	go func() {
		defer close(tc.done)
		drv.Run(ctx)
	}()
	t.Cleanup(tc.stop)
	return tc
}

func (tc *testClient) stop() {
	tc.cancel()
	<-tc.done
}

func (tc *testClient) post(t *testing.T, ev Event) {
	t.Helper()
	require.NoError(t, tc.session.Post(context.Background(), ev))
}

// waitFor consumes notices until one satisfies match.
func (tc *testClient) waitFor(t *testing.T, what string, match func(Notice) bool) Notice {
	t.Helper()
	timeout := time.After(5 * time.Second)
	for {
		select {
		case n := <-tc.notices:
			if match(n) {
				return n
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %s", what)
		}
	}
}

func kind(k string) func(Notice) bool {
	return func(n Notice) bool { return n.Kind == k }
}

func newMessage(content string) func(Notice) bool {
	return func(n Notice) bool {
		return n.Kind == protocol.TypeNewMessage && n.Message.Content == content
	}
}

func TestDriver_TwoUsersExchangeMessage(t *testing.T) {
	_, addr, verifier := startChatServer(t)

	alice := startClient(t, addr, verifier, "alice")
	alice.waitFor(t, "alice snapshot", kind(protocol.TypeOnlineUsers))
	bob := startClient(t, addr, verifier, "bob")
	bob.waitFor(t, "bob snapshot", kind(protocol.TypeOnlineUsers))
	alice.waitFor(t, "bob online", func(n Notice) bool { return n.Kind == protocol.TypeUserOnline && n.UserID == "bob" })

	alice.post(t, OpenChannel{ChannelID: "general"})
	bob.post(t, OpenChannel{ChannelID: "general"})
	alice.waitFor(t, "alice page", kind(protocol.TypePage))
	bob.waitFor(t, "bob page", kind(protocol.TypePage))

	alice.post(t, SendText{Content: "hi"})
	for _, c := range []*testClient{alice, bob} {
		n := c.waitFor(t, "hi", newMessage("hi"))
		require.Equal(t, "alice", n.Message.SenderID)
		require.Equal(t, "general", n.Message.ChannelID)
	}

	bob.stop()
	alice.waitFor(t, "bob offline", func(n Notice) bool { return n.Kind == protocol.TypeUserOffline && n.UserID == "bob" })

	// Round-trip through alice's session so anything else in flight lands.
	alice.post(t, SendText{Content: "still here"})
	alice.waitFor(t, "own message", newMessage("still here"))
	for {
		select {
		case n := <-alice.notices:
			require.False(t, n.Kind == protocol.TypeUserOffline, "second offline event for %s", n.UserID)
			continue
		default:
		}
		break
	}
}

func TestDriver_ReconnectRestoresRoom(t *testing.T) {
	srv, addr, verifier := startChatServer(t)

	alice := startClient(t, addr, verifier, "alice")
	alice.waitFor(t, "alice snapshot", kind(protocol.TypeOnlineUsers))
	alice.post(t, OpenChannel{ChannelID: "general"})
	alice.waitFor(t, "alice page", kind(protocol.TypePage))

	bob := startClient(t, addr, verifier, "bob")
	bob.waitFor(t, "bob snapshot", kind(protocol.TypeOnlineUsers))
	bob.post(t, OpenChannel{ChannelID: "general"})
	bob.waitFor(t, "bob page", kind(protocol.TypePage))

	for _, c := range srv.Connections().All() {
		if c.UserID == "alice" {
			srv.RemoveConnection(c)
		}
	}

	// The catch-up page is only requested after the room is joined again.
	alice.waitFor(t, "catch-up page", kind(protocol.TypePage))

	bob.post(t, SendText{Content: "welcome back"})
	n := alice.waitFor(t, "message after reconnect", newMessage("welcome back"))
	require.Equal(t, "bob", n.Message.SenderID)
}
