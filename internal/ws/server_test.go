package ws

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/require"

	"github.com/teamchat/chat-app/internal/apperr"
	"github.com/teamchat/chat-app/internal/protocol"
)

type tokenTable map[string]string

func (t tokenTable) Authenticate(token string) (string, error) {
	if user, ok := t[token]; ok {
		return user, nil
	}
	return "", apperr.Auth("test", nil)
}

type lifecycle struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
}

func (l *lifecycle) snapshot() ([]string, []string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.connected...), append([]string(nil), l.disconnected...)
}

func startTestServer(t *testing.T) (*Server, string, *lifecycle) {
	t.Helper()

	d := NewMessageDispatcher()
	s := NewServer(DefaultServerConfig(), tokenTable{"tok-alice": "alice"}, d.Dispatch)

	lc := &lifecycle{}
	s.SetOnConnect(func(c *Connection) {
		lc.mu.Lock()
		lc.connected = append(lc.connected, c.UserID)
		lc.mu.Unlock()
	})
	s.SetOnDisconnect(func(c *Connection) {
		lc.mu.Lock()
		lc.disconnected = append(lc.disconnected, c.UserID)
		lc.mu.Unlock()
	})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go s.Serve(ln)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		s.Shutdown(ctx)
	})
	return s, ln.Addr().String(), lc
}

func TestServer_RejectsBadTokenBeforeUpgrade(t *testing.T) {
	s, addr, lc := startTestServer(t)

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	for _, url := range []string{"/ws", "/ws?token=wrong"} {
		resp, err := http.Get("http://" + addr + url)
		require.NoError(t, err)
		resp.Body.Close()
		require.Equal(t, http.StatusUnauthorized, resp.StatusCode, url)
	}

	connected, _ := lc.snapshot()
	require.Empty(t, connected)
	require.Zero(t, s.Connections().Count())
}

func TestServer_ConnectPingDisconnect(t *testing.T) {
	s, addr, lc := startTestServer(t)

	var conn net.Conn
	require.Eventually(t, func() bool {
		var err error
		conn, _, _, err = ws.Dial(context.Background(), "ws://"+addr+"/ws?token=tok-alice")
		return err == nil
	}, 2*time.Second, 20*time.Millisecond)

	require.Eventually(t, func() bool { return s.Connections().Count() == 1 }, time.Second, 10*time.Millisecond)
	connected, _ := lc.snapshot()
	require.Equal(t, []string{"alice"}, connected)

	require.NoError(t, wsutil.WriteClientText(conn, []byte(`{"type":"ping"}`)))
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	data, err := wsutil.ReadServerText(conn)
	require.NoError(t, err)
	typ, _, err := protocol.ParseServerMessage(data)
	require.NoError(t, err)
	require.Equal(t, protocol.TypePong, typ)

	require.NoError(t, wsutil.WriteClientText(conn, []byte(`{"type":"warp_drive"}`)))
	data, err = wsutil.ReadServerText(conn)
	require.NoError(t, err)
	var errMsg protocol.ErrorMsg
	require.NoError(t, json.Unmarshal(data, &errMsg))
	require.Equal(t, protocol.CodeUnsupportedType, errMsg.Code)

	conn.Close()
	require.Eventually(t, func() bool {
		_, disconnected := lc.snapshot()
		return len(disconnected) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Zero(t, s.Connections().Count())

	// A second removal of the same connection does not re-run teardown.
	time.Sleep(50 * time.Millisecond)
	_, disconnected := lc.snapshot()
	require.Equal(t, []string{"alice"}, disconnected)
}

func TestHeartbeat_RemovesStaleConnections(t *testing.T) {
	s := NewServer(DefaultServerConfig(), tokenTable{}, nil)
	var gone []string
	s.SetOnDisconnect(func(c *Connection) { gone = append(gone, c.ID) })

	stale := pipeConnection(t, "stale", 1)
	s.conns.Add(stale)

	cfg := HeartbeatConfig{Interval: time.Second, Timeout: time.Second}
	checkConnections(s, cfg, time.Now().Add(time.Minute))

	require.Equal(t, []string{"stale"}, gone)
	require.Zero(t, s.Connections().Count())
}
