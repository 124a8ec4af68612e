package interfaces

import "errors"

// Delivery errors shared by connection implementations.
var (
	ErrConnectionClosed = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)
