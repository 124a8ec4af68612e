package interfaces

// Connection is one live client connection as seen by the relay core.
type Connection interface {
	// GetID returns the server-assigned connection identifier.
	GetID() string

	// WriteJSON encodes v and queues it for delivery (thread-safe).
	WriteJSON(v interface{}) error

	// WriteRaw queues an already encoded frame. It never blocks; a full
	// send buffer returns ErrSendBufferFull.
	WriteRaw(data []byte) error

	// GetSessionID returns the bound session id, or "" before join.
	GetSessionID() string

	// SetSessionID binds or clears the session id for this connection.
	SetSessionID(sessionID string)

	// IsClosed reports whether Close has been called.
	IsClosed() bool

	// Close closes the connection and releases its writer goroutine.
	// Calling Close more than once is safe.
	Close() error
}
