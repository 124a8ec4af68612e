package session

import "errors"

// Session registry errors
var (
	ErrInvalidSessionID = errors.New("session id must not be empty")
	ErrInvalidUsername  = errors.New("username must not be empty")
	ErrDuplicateSession = errors.New("session id already registered")
)
