//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

const pollBatch = 128

// Ready is a connection the poller reported. HungUp is set when the socket
// was reset or errored; the server tears such connections down without
// attempting a frame read. An orderly close from the peer is reported as
// readable and ends in EOF on the read path.
type Ready struct {
	Conn   net.Conn
	HungUp bool
}

// Poller schedules frame reads for idle chat connections. One epoll instance
// watches every upgraded socket; a worker is only taken from the pool when a
// socket has a frame (or a hangup) pending.
type Poller struct {
	fd     int
	mu     sync.RWMutex
	byFd   map[int]net.Conn
	events []unix.EpollEvent
}

// NewPoller creates the epoll instance.
func NewPoller() (*Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	return &Poller{
		fd:     fd,
		byFd:   make(map[int]net.Conn),
		events: make([]unix.EpollEvent, pollBatch),
	}, nil
}

// Add starts watching conn. Registration is level-triggered, so a frame left
// partly unread is reported again on the next Wait.
func (p *Poller) Add(conn net.Conn) error {
	fd := socketFD(conn)
	ev := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLRDHUP | unix.EPOLLHUP | unix.EPOLLERR,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(p.fd, syscall.EPOLL_CTL_ADD, fd, ev); err != nil {
		return err
	}

	p.mu.Lock()
	p.byFd[fd] = conn
	p.mu.Unlock()
	return nil
}

// Remove stops watching conn. Removing a connection twice returns ENOENT
// from the kernel, which teardown ignores.
func (p *Poller) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	p.mu.Lock()
	delete(p.byFd, fd)
	p.mu.Unlock()
	return unix.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one watched connection needs attention.
// Descriptors removed while the kernel was reporting them are dropped.
func (p *Poller) Wait() ([]Ready, error) {
	n, err := unix.EpollWait(p.fd, p.events, -1)
	if err != nil {
		return nil, err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	ready := make([]Ready, 0, n)
	for _, ev := range p.events[:n] {
		conn, ok := p.byFd[int(ev.Fd)]
		if !ok {
			continue
		}
		ready = append(ready, Ready{Conn: conn, HungUp: ev.Events&(unix.EPOLLHUP|unix.EPOLLERR) != 0})
	}
	return ready, nil
}

// Resume is a no-op: level-triggered epoll needs no rearming after a read.
func (p *Poller) Resume(net.Conn) {}

func wrapConn(conn net.Conn) net.Conn { return conn }

// Close releases the epoll descriptor. Watched sockets stay open.
func (p *Poller) Close() error {
	p.mu.Lock()
	p.byFd = nil
	p.mu.Unlock()
	return unix.Close(p.fd)
}

// socketFD returns the socket's descriptor without dup'ing it, so the value
// registered with epoll is the one the runtime reads from.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}
	fd := -1
	_ = raw.Control(func(s uintptr) { fd = int(s) })
	return fd
}
