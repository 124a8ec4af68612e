package types

import (
	"time"
)

// Inbound event types accepted from clients.
const (
	EventJoin    = "join"
	EventMessage = "message"
)

// Outbound event types written to clients.
const (
	EventWelcome  = "welcome"
	EventHistory  = "history"
	EventPresence = "presence"
	EventError    = "error"
)

// Presence event values.
const (
	PresenceJoin  = "join"
	PresenceLeave = "leave"
)

// Session binds one live connection to a display name.
// Sessions are only created by the session registry and are never mutated
// after creation; callers receive copies.
type Session struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"username"`
	ConnectedAt time.Time `json:"connectedAt"`
}

// ChatMessage is one accepted, broadcastable unit of content.
// It is immutable once created.
type ChatMessage struct {
	ID        string    `json:"id" db:"id"`
	From      string    `json:"from" db:"from_user"`
	Content   string    `json:"content" db:"content"`
	Timestamp time.Time `json:"timestamp" db:"sent_at"`
}

// Replication event kinds.
const (
	ReplicatedMessage  = "message"
	ReplicatedPresence = "presence"
)

// ReplicatedEvent is the envelope exchanged between relay nodes.
// Origin identifies the node that accepted the event so a node can ignore
// its own publications.
type ReplicatedEvent struct {
	Origin   string         `json:"origin"`
	Kind     string         `json:"kind"`
	Message  *ChatMessage   `json:"message,omitempty"`
	Presence *PresenceFrame `json:"presence,omitempty"`
}
