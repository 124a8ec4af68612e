// Package testutil holds in-memory doubles shared by package tests.
package testutil

import (
	"encoding/json"
	"sync"

	"chatrelay/pkg/interfaces"
)

// Frame is a decoded outbound frame. Only the common fields are typed;
// Raw keeps the full JSON for anything else.
type Frame struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	Event     string          `json:"event"`
	Username  string          `json:"username"`
	ID        string          `json:"id"`
	From      string          `json:"from"`
	Content   string          `json:"content"`
	Error     string          `json:"error"`
	Messages  []Frame         `json:"messages"`
	Raw       json.RawMessage `json:"-"`
}

// FakeConn records every frame written to it.
type FakeConn struct {
	id string

	mu        sync.Mutex
	sessionID string
	frames    []Frame
	full      bool
	closed    bool
}

// NewFakeConn creates an open fake connection
func NewFakeConn(id string) *FakeConn {
	return &FakeConn{id: id}
}

var _ interfaces.Connection = (*FakeConn)(nil)

func (c *FakeConn) GetID() string { return c.id }

func (c *FakeConn) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.WriteRaw(data)
}

func (c *FakeConn) WriteRaw(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return interfaces.ErrConnectionClosed
	}
	if c.full {
		return interfaces.ErrSendBufferFull
	}

	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	f.Raw = append(json.RawMessage(nil), data...)
	c.frames = append(c.frames, f)
	return nil
}

func (c *FakeConn) GetSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *FakeConn) SetSessionID(sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sessionID = sessionID
}

func (c *FakeConn) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *FakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// SetFull makes subsequent writes fail as if the send buffer overflowed
func (c *FakeConn) SetFull(full bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.full = full
}

// Frames returns a copy of everything written so far
func (c *FakeConn) Frames() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

// FramesOfType filters Frames by type
func (c *FakeConn) FramesOfType(frameType string) []Frame {
	var out []Frame
	for _, f := range c.Frames() {
		if f.Type == frameType {
			out = append(out, f)
		}
	}
	return out
}

// Types returns the type of each recorded frame in order
func (c *FakeConn) Types() []string {
	frames := c.Frames()
	out := make([]string, len(frames))
	for i, f := range frames {
		out[i] = f.Type
	}
	return out
}

// Reset discards recorded frames
func (c *FakeConn) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = nil
}
