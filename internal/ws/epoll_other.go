//go:build !linux

package ws

import (
	"bufio"
	"net"
	"sync"
	"sync/atomic"
)

// Ready is a connection the poller reported. HungUp is set when the socket
// failed with nothing left to read.
type Ready struct {
	Conn   net.Conn
	HungUp bool
}

// Poller is the development fallback for platforms without epoll. Each
// connection gets a monitor goroutine that peeks for data, reports the
// connection ready and waits until the server has read from it.
type Poller struct {
	mu      sync.Mutex
	conns   map[net.Conn]struct{}
	readyCh chan Ready
	done    chan struct{}
}

// peekConn buffers reads so the monitor can wait for data without consuming
// it. It also carries the synthetic descriptor used for lookups.
type peekConn struct {
	net.Conn
	br     *bufio.Reader
	fd     int
	resume chan struct{}
}

func (p *peekConn) Read(b []byte) (int, error) {
	return p.br.Read(b)
}

var nextFd int64

// wrapConn prepares a freshly upgraded connection for the fallback poller.
func wrapConn(conn net.Conn) net.Conn {
	return &peekConn{
		Conn:   conn,
		br:     bufio.NewReader(conn),
		fd:     int(atomic.AddInt64(&nextFd, 1)),
		resume: make(chan struct{}, 1),
	}
}

// NewPoller creates the fallback poller.
func NewPoller() (*Poller, error) {
	return &Poller{
		conns:   make(map[net.Conn]struct{}),
		readyCh: make(chan Ready, 128),
		done:    make(chan struct{}),
	}, nil
}

// Add starts monitoring conn, which must come from wrapConn.
func (e *Poller) Add(conn net.Conn) error {
	pc, ok := conn.(*peekConn)
	if !ok {
		return net.ErrClosed
	}
	e.mu.Lock()
	e.conns[conn] = struct{}{}
	e.mu.Unlock()

	go e.monitor(pc)
	return nil
}

// monitor peeks until data (or an error) is available, reports the
// connection ready, and waits for Resume before peeking again so it never
// races the server's read.
func (e *Poller) monitor(pc *peekConn) {
	for {
		_, err := pc.br.Peek(1)

		select {
		case e.readyCh <- Ready{Conn: pc, HungUp: err != nil}:
		case <-e.done:
			return
		}
		if err != nil {
			return
		}

		select {
		case <-pc.resume:
		case <-e.done:
			return
		}

		e.mu.Lock()
		_, ok := e.conns[pc]
		e.mu.Unlock()
		if !ok {
			return
		}
	}
}

// Resume lets the monitor of conn look for the next frame.
func (e *Poller) Resume(conn net.Conn) {
	if pc, ok := conn.(*peekConn); ok {
		select {
		case pc.resume <- struct{}{}:
		default:
		}
	}
}

// Remove stops monitoring conn.
func (e *Poller) Remove(conn net.Conn) error {
	e.mu.Lock()
	delete(e.conns, conn)
	e.mu.Unlock()
	e.Resume(conn)
	return nil
}

// Wait blocks until at least one connection is ready for reading. It
// collects all currently ready connections from the channel and returns them.
func (e *Poller) Wait() ([]Ready, error) {
	var first Ready
	select {
	case first = <-e.readyCh:
	case <-e.done:
		return nil, net.ErrClosed
	}

	ready := []Ready{first}
	for {
		select {
		case r := <-e.readyCh:
			ready = append(ready, r)
		default:
			return ready, nil
		}
	}
}

// Close stops every monitor.
func (e *Poller) Close() error {
	close(e.done)
	e.mu.Lock()
	e.conns = nil
	e.mu.Unlock()
	return nil
}

// socketFD returns the synthetic descriptor assigned by wrapConn.
func socketFD(conn net.Conn) int {
	if pc, ok := conn.(*peekConn); ok {
		return pc.fd
	}
	return -1
}
