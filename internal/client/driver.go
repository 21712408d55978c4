package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/url"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"golang.org/x/sync/errgroup"
)

// DriverConfig configures the transport.
type DriverConfig struct {
	URL         string // ws://host:port/ws
	Token       string
	DialTimeout time.Duration
	MinBackoff  time.Duration
	MaxBackoff  time.Duration
	OutboxSize  int
}

// DefaultDriverConfig returns a DriverConfig with sensible defaults.
func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		URL:         "ws://localhost:8080/ws",
		DialTimeout: 10 * time.Second,
		MinBackoff:  500 * time.Millisecond,
		MaxBackoff:  15 * time.Second,
		OutboxSize:  256,
	}
}

// Driver connects a Session to the server. Frames read from the socket are
// posted to the session's queue and the session's commands are written back
// by a single writer. When the connection drops it redials with exponential
// backoff and posts Reconnected so the session restores its presence
// snapshot and room membership.
type Driver struct {
	config  DriverConfig
	session *Session
	outbox  chan Command
}

// NewDriver creates a driver for session. The session must have been built
// with Driver.Enqueue as its Commands callback.
func NewDriver(config DriverConfig, session *Session) *Driver {
	if config.OutboxSize <= 0 {
		config.OutboxSize = 256
	}
	return &Driver{
		config:  config,
		session: session,
		outbox:  make(chan Command, config.OutboxSize),
	}
}

// Enqueue queues cmd for the writer without blocking. Commands issued while
// the outbox is full are dropped; the session reissues room and presence
// state on reconnect.
func (d *Driver) Enqueue(cmd Command) {
	select {
	case d.outbox <- cmd:
	default:
		log.Printf("[client] outbox full, dropping type=%s", cmd.Type)
	}
}

// Run drives the session until ctx is cancelled.
func (d *Driver) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return d.session.Run(ctx) })
	g.Go(func() error { return d.connectLoop(ctx) })
	return g.Wait()
}

func (d *Driver) connectLoop(ctx context.Context) error {
	backoff := d.config.MinBackoff
	connected := false
	for {
		conn, err := d.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Printf("[client] dial failed, retrying in %v: %v", backoff, err)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff = min(backoff*2, d.config.MaxBackoff)
			continue
		}

		backoff = d.config.MinBackoff
		if connected {
			if err := d.session.Post(ctx, Reconnected{}); err != nil {
				conn.Close()
				return nil
			}
		}
		connected = true

		err = d.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		log.Printf("[client] connection lost: %v", err)
	}
}

func (d *Driver) dial(ctx context.Context) (net.Conn, error) {
	u, err := url.Parse(d.config.URL)
	if err != nil {
		return nil, fmt.Errorf("client: parse url: %w", err)
	}
	if d.config.Token != "" {
		q := u.Query()
		q.Set("token", d.config.Token)
		u.RawQuery = q.Encode()
	}

	dialCtx, cancel := context.WithTimeout(ctx, d.config.DialTimeout)
	defer cancel()
	conn, _, _, err := ws.Dial(dialCtx, u.String())
	if err != nil {
		return nil, fmt.Errorf("client: dial: %w", err)
	}
	return conn, nil
}

// serve pumps one connection until it fails or ctx is cancelled.
func (d *Driver) serve(ctx context.Context, conn net.Conn) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		<-gctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		for {
			data, err := wsutil.ReadServerText(conn)
			if err != nil {
				return fmt.Errorf("client: read: %w", err)
			}
			if err := d.session.Post(gctx, Frame(data)); err != nil {
				return err
			}
		}
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case cmd := <-d.outbox:
				data, err := json.Marshal(cmd.Payload)
				if err != nil {
					log.Printf("[client] encode type=%s: %v", cmd.Type, err)
					continue
				}
				if err := wsutil.WriteClientMessage(conn, ws.OpText, data); err != nil {
					return fmt.Errorf("client: write: %w", err)
				}
			}
		}
	})

	err := g.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
