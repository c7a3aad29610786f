package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/daniellecour/storefront-backend/pkg/config"
	"github.com/daniellecour/storefront-backend/pkg/enums"
)

// Identity is who a connection speaks for. The zero value is anonymous.
type Identity struct {
	UserID        uuid.UUID
	Role          enums.Role
	Authenticated bool
}

// socket is the slice of the websocket transport the connection uses.
// *websocket.Conn satisfies it; tests plug in fakes.
type socket interface {
	WriteJSON(v any) error
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Conn is one live websocket client. Writes go through a buffered channel
// drained by a single pump goroutine, so broadcasts never block on a slow
// client; a full buffer drops the message instead.
type Conn struct {
	id     string
	sock   socket
	send   chan Envelope
	done   chan struct{}
	closed sync.Once

	mu       sync.RWMutex
	identity Identity

	writeTimeout time.Duration
	pingInterval time.Duration
}

// NewConn wraps an upgraded socket.
func NewConn(sock socket, cfg config.RealtimeConfig) *Conn {
	buffer := cfg.SendBufferSize
	if buffer <= 0 {
		buffer = 32
	}
	pingInterval := cfg.PongTimeout * 9 / 10
	if pingInterval <= 0 {
		pingInterval = 54 * time.Second
	}
	return &Conn{
		id:           uuid.NewString(),
		sock:         sock,
		send:         make(chan Envelope, buffer),
		done:         make(chan struct{}),
		writeTimeout: cfg.WriteTimeout,
		pingInterval: pingInterval,
	}
}

// ID is a per-connection identifier used for logging.
func (c *Conn) ID() string {
	return c.id
}

// Identity returns the current identity snapshot.
func (c *Conn) Identity() Identity {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

func (c *Conn) setIdentity(identity Identity) {
	c.mu.Lock()
	c.identity = identity
	c.mu.Unlock()
}

// Send queues an envelope for delivery. Returns false when the connection
// is closed or its buffer is full; the message is dropped either way.
func (c *Conn) Send(env Envelope) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
		return false
	}
}

// Close tears the connection down. Safe to call more than once and from
// any goroutine.
func (c *Conn) Close() {
	c.closed.Do(func() {
		close(c.done)
		c.sock.Close()
	})
}

// WritePump drains the send queue onto the socket and keeps the peer alive
// with pings. It returns when the connection closes or the context ends;
// the caller owns running it in its own goroutine.
func (c *Conn) WritePump(ctx context.Context) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	defer c.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case env := <-c.send:
			if c.writeTimeout > 0 {
				_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.sock.WriteJSON(env); err != nil {
				return
			}
		case <-ticker.C:
			if c.writeTimeout > 0 {
				_ = c.sock.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			}
			if err := c.sock.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
