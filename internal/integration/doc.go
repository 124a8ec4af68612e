// Package integration runs the relay end to end over real WebSocket
// connections. It has no non-test code.
package integration
