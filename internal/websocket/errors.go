package websocket

import "errors"

// Connection-related errors
var (
	ErrInvalidJSON      = errors.New("invalid JSON data")
)

// Registry-related errors
var (
	ErrNilConnection = errors.New("connection cannot be nil")
)

// Handler-related errors
var (
	ErrOriginNotAllowed = errors.New("origin not allowed")
)
