package history

import (
	"sync"

	"chatrelay/pkg/types"
)

// Store is a bounded, append-only log of accepted messages kept in a ring
// buffer. Once retention is reached the oldest entry is overwritten.
//
// Retention is independent of how many messages a joining client is sent;
// callers pick n in Recent.
type Store struct {
	mu        sync.RWMutex
	buf       []types.ChatMessage
	head      int // index of the oldest entry
	size      int
	retention int
}

// NewStore creates a store holding at most retention messages.
// A non-positive retention is treated as 1.
func NewStore(retention int) *Store {
	if retention < 1 {
		retention = 1
	}
	return &Store{
		buf:       make([]types.ChatMessage, retention),
		retention: retention,
	}
}

// Append adds msg at the tail, evicting the oldest message when full.
func (s *Store) Append(msg types.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.size < s.retention {
		s.buf[(s.head+s.size)%s.retention] = msg
		s.size++
		return
	}
	s.buf[s.head] = msg
	s.head = (s.head + 1) % s.retention
}

// Recent returns up to n of the newest messages, oldest first.
// The returned slice is a copy and never nil.
func (s *Store) Recent(n int) []types.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if n > s.size {
		n = s.size
	}
	if n < 0 {
		n = 0
	}

	out := make([]types.ChatMessage, n)
	start := s.head + s.size - n
	for i := 0; i < n; i++ {
		out[i] = s.buf[(start+i)%s.retention]
	}
	return out
}

// Len returns the number of retained messages
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Retention returns the configured capacity
func (s *Store) Retention() int {
	return s.retention
}
