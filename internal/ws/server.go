// Package ws handles WebSocket connection management, including
// authenticating and upgrading HTTP connections, maintaining active client
// connections, and dispatching incoming messages to the appropriate handlers.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"

	"github.com/teamchat/chat-app/internal/auth"
)

// ServerConfig holds tunable parameters for the WebSocket server.
type ServerConfig struct {
	ListenAddr     string          // address to listen on, e.g. ":8080"
	WorkerPoolSize int             // max concurrent read-worker goroutines
	MaxConnections int             // hard cap on total connections
	ReadTimeout    time.Duration   // timeout for WebSocket read operations
	WriteTimeout   time.Duration   // timeout for WebSocket write operations
	SendQueueSize  int             // outbound events buffered per connection
	MaxFrameSize   int64           // largest accepted client frame in bytes
	Heartbeat      HeartbeatConfig // dead connection detection
}

// DefaultServerConfig returns a ServerConfig with sensible production defaults.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr:     ":8080",
		WorkerPoolSize: 256,
		MaxConnections: 100000,
		ReadTimeout:    10 * time.Second,
		WriteTimeout:   10 * time.Second,
		SendQueueSize:  256,
		MaxFrameSize:   16 * 1024,
		Heartbeat:      DefaultHeartbeatConfig(),
	}
}

// Throttle limits connection attempts per client IP. It is satisfied by
// *ratelimit.Bound.
type Throttle interface {
	Allow(ctx context.Context, identifier string) bool
}

// Server is the WebSocket server built on gobwas/ws and Linux epoll. It
// authenticates and upgrades HTTP connections, registers them with an epoll
// instance for I/O readiness notifications, and dispatches ready connections
// to a bounded worker pool for frame reading.
type Server struct {
	config       ServerConfig
	auth         auth.Authenticator
	throttle     Throttle
	poller       *Poller
	conns        *ConnectionManager
	workerPool   chan struct{}                       // semaphore limiting concurrent read workers
	onMessage    func(conn *Connection, data []byte) // message handler callback
	onConnect    func(conn *Connection)              // called once a connection is registered
	onDisconnect func(conn *Connection)              // called exactly once when a connection is removed
	mux          *http.ServeMux
	httpServer   *http.Server
	done         chan struct{}
	startedAt    time.Time // server start time for uptime calculation
}

// NewServer creates a Server with the given configuration, authenticator and
// message callback. The onMessage function is called from a worker goroutine
// whenever a complete WebSocket text frame is received from a client.
func NewServer(config ServerConfig, authenticator auth.Authenticator, onMessage func(conn *Connection, data []byte)) *Server {
	if config.SendQueueSize <= 0 {
		config.SendQueueSize = DefaultServerConfig().SendQueueSize
	}
	if config.WorkerPoolSize <= 0 {
		config.WorkerPoolSize = DefaultServerConfig().WorkerPoolSize
	}
	if config.Heartbeat.Interval <= 0 {
		config.Heartbeat = DefaultHeartbeatConfig()
	}

	s := &Server{
		config:     config,
		auth:       authenticator,
		conns:      NewConnectionManager(),
		workerPool: make(chan struct{}, config.WorkerPoolSize),
		onMessage:  onMessage,
		mux:        http.NewServeMux(),
		done:       make(chan struct{}),
	}
	s.mux.HandleFunc("/ws", s.handleUpgrade)
	s.mux.HandleFunc("/health", s.handleHealth)
	return s
}

// SetOnConnect registers a callback invoked after a connection is registered
// and before its first frame is read. Events it queues on the connection are
// the first the client receives.
func (s *Server) SetOnConnect(fn func(conn *Connection)) {
	s.onConnect = fn
}

// SetOnDisconnect registers a callback invoked when a connection is removed
// (due to read error, heartbeat timeout, slow consumer or graceful close).
// It runs exactly once per connection.
func (s *Server) SetOnDisconnect(fn func(conn *Connection)) {
	s.onDisconnect = fn
}

// SetThrottle enables per-IP connection rate limiting.
func (s *Server) SetThrottle(t Throttle) {
	s.throttle = t
}

// Handle registers an additional HTTP handler on the server's mux.
func (s *Server) Handle(pattern string, handler http.Handler) {
	s.mux.Handle(pattern, handler)
}

// Start listens on the configured address and serves until Shutdown.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.config.ListenAddr)
	if err != nil {
		return fmt.Errorf("ws: listen %s: %w", s.config.ListenAddr, err)
	}
	return s.Serve(ln)
}

// Serve initializes the epoll instance and accepts WebSocket connections on
// ln. It starts the epoll event loop and heartbeat in background goroutines
// and blocks until the HTTP server stops.
func (s *Server) Serve(ln net.Listener) error {
	var err error
	s.poller, err = NewPoller()
	if err != nil {
		return fmt.Errorf("ws: failed to create epoll: %w", err)
	}

	s.startedAt = time.Now()
	s.httpServer = &http.Server{Handler: s.mux}

	go s.startEventLoop()
	StartHeartbeat(s, s.config.Heartbeat)

	log.Printf("ws: server listening on %s (workers=%d, max_conns=%d, send_queue=%d)",
		ln.Addr(), s.config.WorkerPoolSize, s.config.MaxConnections, s.config.SendQueueSize)

	if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ws: http server error: %w", err)
	}
	return nil
}

// handleUpgrade authenticates the request and upgrades it to a WebSocket
// connection using the gobwas/ws zero-copy upgrader. A request with a
// missing or invalid token is refused with 401 before any connection state
// exists.
func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.conns.Count() >= s.config.MaxConnections {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	if s.throttle != nil && !s.throttle.Allow(r.Context(), clientIP(r)) {
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	userID, err := s.auth.Authenticate(auth.TokenFromRequest(r))
	if err != nil {
		log.Printf("ws: handshake rejected remote=%s: %v", r.RemoteAddr, err)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	netConn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		log.Printf("ws: upgrade failed user=%s: %v", userID, err)
		return
	}

	c := newConnection(uuid.New().String(), userID, wrapConn(netConn), s.config.SendQueueSize, s.config.WriteTimeout)
	c.onOverflow = func(c *Connection) {
		log.Printf("ws: slow consumer, closing session=%s user=%s", c.ID, c.UserID)
		s.RemoveConnection(c)
	}

	s.conns.Add(c)
	go c.writeLoop()

	if s.onConnect != nil {
		s.onConnect(c)
	}

	if err := s.poller.Add(c.Conn); err != nil {
		log.Printf("ws: epoll add failed for session %s: %v", c.ID, err)
		s.RemoveConnection(c)
		return
	}

	log.Printf("ws: new connection session=%s user=%s fd=%d (total=%d)", c.ID, userID, c.Fd, s.conns.Count())
}

// handleHealth responds with the server's health status as JSON, including the
// current connection count and uptime.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	resp := struct {
		Status      string `json:"status"`
		Connections int    `json:"connections"`
		Uptime      string `json:"uptime"`
	}{
		Status:      "ok",
		Connections: s.conns.Count(),
		Uptime:      time.Since(s.startedAt).Round(time.Second).String(),
	}

	_ = json.NewEncoder(w).Encode(resp)
}

// startEventLoop runs the epoll wait loop. For each batch of ready
// connections, it dispatches each to a worker goroutine (bounded by the
// worker pool semaphore) that reads and processes the WebSocket frame.
func (s *Server) startEventLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		ready, err := s.poller.Wait()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
				// EINTR is expected during signal handling.
				if isEINTR(err) {
					continue
				}
				log.Printf("ws: epoll wait error: %v", err)
				continue
			}
		}

		for _, r := range ready {
			r := r

			// Acquire a worker slot (blocks if pool is full).
			s.workerPool <- struct{}{}

			go func() {
				defer func() { <-s.workerPool }()
				if r.HungUp {
					if c := s.conns.GetByConn(r.Conn); c != nil {
						s.RemoveConnection(c)
					}
					return
				}
				s.handleConn(r.Conn)
				s.poller.Resume(r.Conn)
			}()
		}
	}
}

// handleConn reads a single WebSocket frame from a ready connection using
// wsutil.NextReader so that control frames (ping, pong) are handled without
// blocking on a data frame that may never arrive. If the read fails
// (connection closed, protocol error, etc.) the connection is removed.
func (s *Server) handleConn(netConn net.Conn) {
	c := s.conns.GetByConn(netConn)
	if c == nil {
		return
	}

	// Guard against duplicate dispatch from level-triggered epoll.
	if !atomic.CompareAndSwapInt32(&c.processing, 0, 1) {
		return
	}
	defer atomic.StoreInt32(&c.processing, 0)

	if s.config.ReadTimeout > 0 {
		_ = netConn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	}

	header, reader, err := wsutil.NextReader(netConn, ws.StateServerSide)
	if err != nil {
		// A read timeout means no data was available (stale epoll dispatch).
		// The heartbeat handles dead connections.
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return
		}
		s.RemoveConnection(c)
		return
	}

	_ = netConn.SetReadDeadline(time.Time{})

	// Any frame proves the connection is alive.
	c.Touch()

	if header.OpCode.IsControl() {
		switch header.OpCode {
		case ws.OpClose:
			s.RemoveConnection(c)
		case ws.OpPing:
			c.writeMu.Lock()
			_ = ws.WriteFrame(c.Conn, ws.NewPongFrame(nil))
			c.writeMu.Unlock()
		}
		return
	}

	if s.config.MaxFrameSize > 0 && header.Length > s.config.MaxFrameSize {
		log.Printf("ws: frame too large session=%s size=%d", c.ID, header.Length)
		s.RemoveConnection(c)
		return
	}

	data := make([]byte, header.Length)
	if header.Length > 0 {
		if _, err := io.ReadFull(reader, data); err != nil {
			s.RemoveConnection(c)
			return
		}
	}

	if len(data) == 0 {
		return
	}

	if s.onMessage != nil {
		s.onMessage(c, data)
	}
}

// RemoveConnection removes a connection from both epoll and the connection
// manager, and closes the underlying network connection. Concurrent removals
// of the same connection (read error, heartbeat timeout, slow consumer) are
// collapsed: only the first runs the disconnect callback.
func (s *Server) RemoveConnection(c *Connection) {
	if s.poller != nil {
		_ = s.poller.Remove(c.Conn)
	}

	if !s.conns.Remove(c.ID) {
		return
	}

	if s.onDisconnect != nil {
		s.onDisconnect(c)
	}

	log.Printf("ws: connection closed session=%s user=%s (total=%d)", c.ID, c.UserID, s.conns.Count())
}

// Connections returns the ConnectionManager for external access to connection
// state (e.g., by the heartbeat).
func (s *Server) Connections() *ConnectionManager {
	return s.conns
}

// Shutdown performs a graceful shutdown of the server. It stops the HTTP
// listener, signals the event loop to exit, removes all active connections
// (running the disconnect callback for each) and cleans up the epoll
// instance.
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("ws: shutting down server...")

	close(s.done)

	var err error
	if s.httpServer != nil {
		if err = s.httpServer.Shutdown(ctx); err != nil {
			log.Printf("ws: http shutdown error: %v", err)
		}
	}

	for _, c := range s.conns.All() {
		s.RemoveConnection(c)
	}

	if s.poller != nil {
		_ = s.poller.Close()
	}

	log.Printf("ws: server stopped, all connections closed")
	return err
}

// clientIP returns the request's remote IP without the port.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// isEINTR checks if the error is a syscall interrupted error (EINTR),
// which is expected during signal handling and should be retried.
func isEINTR(err error) bool {
	if err == nil {
		return false
	}
	return err.Error() == "interrupted system call" ||
		err.Error() == "errno 4"
}
