package ws

import (
	"log"
	"time"

	"github.com/gobwas/ws"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// StartHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections and removes those that have gone
// stale (no frame read within Interval + Timeout). A removed connection goes
// through the normal teardown, so its user goes offline if it was the last
// one. It returns immediately; the goroutine exits when the server's done
// channel is closed.
func StartHeartbeat(server *Server, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-server.done:
				return
			case <-ticker.C:
				checkConnections(server, config, time.Now())
			}
		}
	}()
}

func checkConnections(server *Server, config HeartbeatConfig, now time.Time) {
	deadline := config.Interval + config.Timeout

	for _, c := range server.Connections().All() {
		idle := now.Sub(c.LastActive())
		if idle > deadline {
			log.Printf("ws: heartbeat timeout session=%s user=%s last_activity=%s ago",
				c.ID, c.UserID, idle.Round(time.Second))
			server.RemoveConnection(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			log.Printf("ws: heartbeat ping failed session=%s: %v", c.ID, err)
			server.RemoveConnection(c)
		}
	}
}

// WritePing sends a WebSocket protocol-level ping frame (opcode 0x9) on the
// connection. Browsers answer it automatically with a pong.
func (c *Connection) WritePing() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.writeTimeout > 0 {
		_ = c.Conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
		defer c.Conn.SetWriteDeadline(time.Time{})
	}
	return ws.WriteFrame(c.Conn, ws.NewPingFrame(nil))
}
