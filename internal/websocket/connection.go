package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"chatrelay/pkg/interfaces"
)

// Options tunes a single connection
type Options struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PingInterval time.Duration
}

// DefaultOptions returns the per-connection defaults
func DefaultOptions() Options {
	return Options{
		SendBuffer:   256,
		WriteTimeout: 10 * time.Second,
		PingInterval: 30 * time.Second,
	}
}

// Connection wraps a gorilla connection with a single writer goroutine.
// All outbound frames go through writeCh, which is never closed; shutdown is
// signalled through ctx so a late send can never panic.
type Connection struct {
	id        string
	conn      *websocket.Conn
	writeCh   chan []byte
	opts      Options
	sessionID string
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	mu        sync.RWMutex
}

var _ interfaces.Connection = (*Connection)(nil)

// NewConnection wraps conn and starts its writer
func NewConnection(conn *websocket.Conn, opts Options) *Connection {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = DefaultOptions().SendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:      uuid.New().String(),
		conn:    conn,
		writeCh: make(chan []byte, opts.SendBuffer),
		opts:    opts,
		ctx:     ctx,
		cancel:  cancel,
	}

	go c.writeLoop()

	return c
}

// writeLoop is the only goroutine that writes data frames or pings.
// A failed write closes the connection, which ends the read pump and runs
// the normal disconnect path.
func (c *Connection) writeLoop() {
	var ping <-chan time.Time
	if c.opts.PingInterval > 0 {
		ticker := time.NewTicker(c.opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.C
	}

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
				c.fail(err)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.fail(err)
				return
			}

		case <-ping:
			deadline := time.Now().Add(c.opts.WriteTimeout)
			if err := c.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				c.fail(err)
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

func (c *Connection) fail(err error) {
	log.Debug().Err(err).Str("conn_id", c.id).Msg("Write failed, closing connection")
	_ = c.Close()
}

// GetID returns the connection id
func (c *Connection) GetID() string {
	return c.id
}

// WriteJSON encodes v and queues it without blocking
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidJSON, err)
	}
	return c.WriteRaw(data)
}

// WriteRaw queues an encoded frame. It returns ErrSendBufferFull instead of
// waiting on a slow reader.
func (c *Connection) WriteRaw(data []byte) error {
	select {
	case <-c.ctx.Done():
		return interfaces.ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	default:
		return interfaces.ErrSendBufferFull
	}
}

// Close stops the writer and closes the socket. Safe to call repeatedly
// and concurrently with writes.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}

// IsClosed reports whether Close has run
func (c *Connection) IsClosed() bool {
	select {
	case <-c.ctx.Done():
		return true
	default:
		return false
	}
}

func (c *Connection) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *Connection) GetSessionID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sessionID
}
