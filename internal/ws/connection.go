package ws

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/teamchat/chat-app/internal/metrics"
)

// Connection represents a single authenticated WebSocket client connection.
// Outbound events go through a bounded FIFO queue drained by one writer
// goroutine, so producers never block on a slow client and every client sees
// events in enqueue order.
type Connection struct {
	ID        string    // connection ID (UUID)
	UserID    string    // authenticated user
	Conn      net.Conn  // underlying TCP connection
	Fd        int       // file descriptor for epoll lookups
	CreatedAt time.Time // when the connection was established

	lastActive int64      // unix nanos of the last frame read, atomic
	writeMu    sync.Mutex // serializes writes to this connection
	processing int32      // atomic flag: 0 = idle, 1 = being read by handleConn

	send         chan []byte
	closed       chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
	onOverflow   func(*Connection) // called once when the queue overflows or a write fails
	overflowOnce sync.Once
}

func newConnection(id, userID string, conn net.Conn, queueSize int, writeTimeout time.Duration) *Connection {
	c := &Connection{
		ID:           id,
		UserID:       userID,
		Conn:         conn,
		Fd:           socketFD(conn),
		CreatedAt:    time.Now(),
		send:         make(chan []byte, queueSize),
		closed:       make(chan struct{}),
		writeTimeout: writeTimeout,
	}
	c.Touch()
	return c
}

// ConnectionID returns the connection's unique id.
func (c *Connection) ConnectionID() string { return c.ID }

// Identity returns the authenticated user id.
func (c *Connection) Identity() string { return c.UserID }

// Touch records activity on the connection.
func (c *Connection) Touch() {
	atomic.StoreInt64(&c.lastActive, time.Now().UnixNano())
}

// LastActive returns the time of the last frame received from the client.
func (c *Connection) LastActive() time.Time {
	return time.Unix(0, atomic.LoadInt64(&c.lastActive))
}

// Send queues data for delivery without blocking. It returns false if the
// connection is closed or its queue is full; a full queue marks the client
// as too slow and the connection is torn down.
func (c *Connection) Send(data []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		c.fail()
		return false
	}
}

// writeLoop drains the send queue until the connection closes.
func (c *Connection) writeLoop() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.send:
			if err := c.WriteMessage(data); err != nil {
				c.fail()
				return
			}
		}
	}
}

func (c *Connection) fail() {
	c.overflowOnce.Do(func() {
		if c.onOverflow != nil {
			// Teardown re-enters presence and room locks the caller may hold.
			go c.onOverflow(c)
		}
	})
}

// WriteMessage sends a WebSocket text frame to this connection immediately,
// bypassing the queue. The write mutex ensures that concurrent goroutines do
// not interleave frame bytes.
func (c *Connection) WriteMessage(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, data)
}

// Close stops the writer and closes the underlying network connection.
// Queued events that were not yet written are dropped.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		err = c.Conn.Close()
	})
	return err
}

// ConnectionManager is a thread-safe registry that maps connection IDs and
// file descriptors to their respective Connection objects. It supports O(1)
// lookups by both connection ID and fd.
type ConnectionManager struct {
	mu   sync.RWMutex
	byID map[string]*Connection // connection id -> Connection
	byFd map[int]*Connection    // fd -> Connection
}

// NewConnectionManager creates an empty ConnectionManager ready for use.
func NewConnectionManager() *ConnectionManager {
	return &ConnectionManager{
		byID: make(map[string]*Connection),
		byFd: make(map[int]*Connection),
	}
}

// Add registers a new connection in both the ID and fd lookup maps.
func (cm *ConnectionManager) Add(conn *Connection) {
	cm.mu.Lock()
	cm.byID[conn.ID] = conn
	cm.byFd[conn.Fd] = conn
	n := len(cm.byID)
	cm.mu.Unlock()

	metrics.ConnectionsTotal.Set(float64(n))
}

// Remove removes a connection by ID, closes it, and removes it from both
// lookup maps. Returns true if the connection was found and removed, false
// if it was already gone. Exactly one caller wins for a given connection.
func (cm *ConnectionManager) Remove(id string) bool {
	cm.mu.Lock()
	conn, ok := cm.byID[id]
	if ok {
		delete(cm.byID, id)
		if cm.byFd[conn.Fd] == conn {
			delete(cm.byFd, conn.Fd)
		}
	}
	n := len(cm.byID)
	cm.mu.Unlock()

	if ok {
		conn.Close()
		metrics.ConnectionsTotal.Set(float64(n))
	}
	return ok
}

// Get returns the connection for the given ID, or nil if not found.
func (cm *ConnectionManager) Get(id string) *Connection {
	cm.mu.RLock()
	conn := cm.byID[id]
	cm.mu.RUnlock()
	return conn
}

// GetByFd returns the connection for the given file descriptor, or nil if
// not found.
func (cm *ConnectionManager) GetByFd(fd int) *Connection {
	cm.mu.RLock()
	conn := cm.byFd[fd]
	cm.mu.RUnlock()
	return conn
}

// GetByConn returns the connection for the given net.Conn by extracting
// its file descriptor. Returns nil if not found.
func (cm *ConnectionManager) GetByConn(c net.Conn) *Connection {
	return cm.GetByFd(socketFD(c))
}

// Count returns the current number of active connections.
func (cm *ConnectionManager) Count() int {
	cm.mu.RLock()
	n := len(cm.byID)
	cm.mu.RUnlock()
	return n
}

// All returns a snapshot of all current connections. The returned slice is
// safe to iterate without holding the lock.
func (cm *ConnectionManager) All() []*Connection {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.byID))
	for _, conn := range cm.byID {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()
	return conns
}
