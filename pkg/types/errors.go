package types

import (
	"errors"
	"fmt"
)

// Client-facing rejection reasons. Each maps to a fixed error frame text
// through ClientMessage.
var (
	ErrMalformedFrame     = errors.New("frame is not a well-formed JSON object")
	ErrUnknownEvent       = errors.New("unknown or unauthorized event")
	ErrAlreadyJoined      = errors.New("connection already joined")
	ErrInvalidUsername    = errors.New("username must be a string of at least 2 characters and within the configured maximum")
	ErrUsernameNotAllowed = errors.New("username rejected by identity service")
	ErrEmptyMessage       = errors.New("message content is empty")
	ErrMessageTooLong     = errors.New("message content exceeds maximum length")
	ErrRateLimited        = errors.New("rate limit exceeded")
)

// Error frame texts.
const (
	TextInvalidFormat       = "Invalid message format"
	TextUnknownEvent        = "Unknown or unauthorized event"
	TextAlreadyJoined       = "Already joined"
	TextInvalidUsername     = "Invalid username"
	TextUsernameNotAllowed  = "Username not allowed"
	TextEmptyMessage        = "Empty message"
	TextMessageTooLong      = "Message too long"
	TextRateLimitExceeded   = "Rate limit exceeded"
	TextMessageRejected     = "Message rejected"
	TextInternalServerError = "Internal server error"
)

// RejectionError reports a message refused by the moderation service.
type RejectionError struct {
	Reason string
}

func (e *RejectionError) Error() string {
	if e.Reason == "" {
		return "message rejected by moderation"
	}
	return fmt.Sprintf("message rejected by moderation: %s", e.Reason)
}

// ClientMessage maps an error produced while handling a frame to the text
// sent back in the error frame. Internal details never leak to clients.
func ClientMessage(err error) string {
	var rejection *RejectionError
	switch {
	case errors.As(err, &rejection):
		if rejection.Reason == "" {
			return TextMessageRejected
		}
		return TextMessageRejected + ": " + rejection.Reason
	case errors.Is(err, ErrMalformedFrame):
		return TextInvalidFormat
	case errors.Is(err, ErrUnknownEvent):
		return TextUnknownEvent
	case errors.Is(err, ErrAlreadyJoined):
		return TextAlreadyJoined
	case errors.Is(err, ErrInvalidUsername):
		return TextInvalidUsername
	case errors.Is(err, ErrUsernameNotAllowed):
		return TextUsernameNotAllowed
	case errors.Is(err, ErrEmptyMessage):
		return TextEmptyMessage
	case errors.Is(err, ErrMessageTooLong):
		return TextMessageTooLong
	case errors.Is(err, ErrRateLimited):
		return TextRateLimitExceeded
	default:
		return TextInternalServerError
	}
}
