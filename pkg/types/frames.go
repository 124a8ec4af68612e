package types

import "time"

// WelcomeFrame answers a successful join.
type WelcomeFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

// HistoryFrame carries the recent backlog, oldest first.
type HistoryFrame struct {
	Type     string        `json:"type"`
	Messages []ChatMessage `json:"messages"`
}

// PresenceFrame announces a participant joining or leaving.
type PresenceFrame struct {
	Type     string `json:"type"`
	Event    string `json:"event"`
	Username string `json:"username"`
}

// MessageFrame is the broadcast form of a ChatMessage.
type MessageFrame struct {
	Type      string    `json:"type"`
	ID        string    `json:"id"`
	From      string    `json:"from"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame is only ever written to the connection that caused it.
type ErrorFrame struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

func NewWelcomeFrame(sessionID string) WelcomeFrame {
	return WelcomeFrame{Type: EventWelcome, SessionID: sessionID}
}

// NewHistoryFrame never encodes a null message list.
func NewHistoryFrame(messages []ChatMessage) HistoryFrame {
	if messages == nil {
		messages = []ChatMessage{}
	}
	return HistoryFrame{Type: EventHistory, Messages: messages}
}

func NewPresenceFrame(event, username string) PresenceFrame {
	return PresenceFrame{Type: EventPresence, Event: event, Username: username}
}

func NewMessageFrame(msg ChatMessage) MessageFrame {
	return MessageFrame{
		Type:      EventMessage,
		ID:        msg.ID,
		From:      msg.From,
		Content:   msg.Content,
		Timestamp: msg.Timestamp,
	}
}

func NewErrorFrame(text string) ErrorFrame {
	return ErrorFrame{Type: EventError, Error: text}
}
