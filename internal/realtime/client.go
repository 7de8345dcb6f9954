package realtime

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const maxInboundMessage = 4096

// client is one WebSocket connection. Frames are queued on send and written by
// writePump; done is closed exactly once when the connection goes away.
type client struct {
	id       string
	identity Identity
	groups   []string
	send     chan []byte
	done     chan struct{}
	once     sync.Once
	conn     *websocket.Conn
}

func newClient(id string, identity Identity, buffer int, conn *websocket.Conn) *client {
	return &client{
		id:       id,
		identity: identity,
		groups:   identity.Groups(),
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		conn:     conn,
	}
}

// enqueue reports false when the client is gone or its buffer is full.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close()
		}
	})
}

func (c *client) writePump(cfg Config) {
	ticker := time.NewTicker(cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			deadline := time.Now().Add(cfg.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.close()
				return
			}
		case <-c.done:
			deadline := time.Now().Add(time.Second)
			_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), deadline)
			return
		}
	}
}

// readPump drains inbound frames until the peer goes away. Clients only listen,
// so anything they send is discarded.
func (c *client) readPump(cfg Config) {
	c.conn.SetReadLimit(maxInboundMessage)
	wait := 2 * cfg.PingInterval
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
