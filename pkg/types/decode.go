package types

import (
	"encoding/json"
)

// InboundEvent is the closed set of events a client may send.
// The only implementations are JoinEvent, MessageEvent and UnknownEvent.
type InboundEvent interface {
	Kind() string
	inbound()
}

// JoinEvent requests a session under Username.
// A username that was present but not a JSON string decodes as "".
type JoinEvent struct {
	Username string
}

// MessageEvent submits chat content.
// Content that was present but not a JSON string decodes as "".
type MessageEvent struct {
	Content string
}

// UnknownEvent is any object whose type is missing or unrecognised.
type UnknownEvent struct {
	Type string
}

func (JoinEvent) Kind() string    { return EventJoin }
func (MessageEvent) Kind() string { return EventMessage }
func (e UnknownEvent) Kind() string {
	return e.Type
}

func (JoinEvent) inbound()    {}
func (MessageEvent) inbound() {}
func (UnknownEvent) inbound() {}

// DecodeEvent parses one frame. It returns ErrMalformedFrame when the frame
// is not a JSON object; every JSON object decodes to one of the variants.
func DecodeEvent(data []byte) (InboundEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil || fields == nil {
		return nil, ErrMalformedFrame
	}

	eventType, _ := stringField(fields, "type")
	switch eventType {
	case EventJoin:
		username, _ := stringField(fields, "username")
		return JoinEvent{Username: username}, nil
	case EventMessage:
		content, _ := stringField(fields, "content")
		return MessageEvent{Content: content}, nil
	default:
		return UnknownEvent{Type: eventType}, nil
	}
}

func stringField(fields map[string]json.RawMessage, key string) (string, bool) {
	raw, ok := fields[key]
	if !ok {
		return "", false
	}
	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", false
	}
	return value, true
}
