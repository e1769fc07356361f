package ws

import (
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"

	"github.com/soulmatch/realtime-service/internal/hub"
)

type client struct {
	conn *websocket.Conn
	hc   *hub.Client

	// closed when the write pump exits; unblocks ack writers waiting on a
	// full send channel once the connection is gone
	done     chan struct{}
	doneOnce sync.Once

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, hc *hub.Client) *client {
	return &client{conn: conn, hc: hc, done: make(chan struct{})}
}

func (c *client) markDone() {
	c.doneOnce.Do(func() { close(c.done) })
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.hc.Send)
		_ = c.conn.Close()
		c.markDone()
	})
}

// writePump drains the send channel onto the socket and keeps the connection
// alive with pings.
func (c *client) writePump(pingInterval, writeDeadline time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
		c.markDone()
	}()
	for {
		select {
		case b, ok := <-c.hc.Send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(time.Second)); err != nil {
				return
			}
		}
	}
}
