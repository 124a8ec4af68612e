package websocket

import (
	"encoding/json"
	"errors"
	"expvar"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"chatrelay/pkg/interfaces"
)

var (
	framesSent    = expvar.NewInt("relay_frames_sent_total")
	framesDropped = expvar.NewInt("relay_frames_dropped_total")
)

// Registry is the live set of open connections and the broadcast fanout.
// Registration follows the connection lifecycle; the registry never removes
// a connection on its own.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]interfaces.Connection // connID -> Connection
}

// NewRegistry creates an empty connection registry
func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]interfaces.Connection),
	}
}

// Register adds conn to the broadcast set
func (r *Registry) Register(conn interfaces.Connection) error {
	if conn == nil {
		return ErrNilConnection
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.connections[conn.GetID()] = conn
	return nil
}

// Unregister removes conn if it is the instance currently registered under
// its id. Unregistering twice is a no-op.
func (r *Registry) Unregister(conn interfaces.Connection) {
	if conn == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, exists := r.connections[conn.GetID()]; exists && current == conn {
		delete(r.connections, conn.GetID())
	}
}

// Broadcast encodes v once and queues it on every registered connection.
// A failed send never aborts the broadcast: closed connections are skipped
// and connections whose buffer is full are closed so their read pump runs
// the usual disconnect path. It returns the number of connections the
// frame was queued for.
func (r *Registry) Broadcast(v interface{}) int {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode broadcast")
		return 0
	}

	targets := r.Snapshot()

	delivered := 0
	var overflowed []interfaces.Connection
	for _, conn := range targets {
		if conn.IsClosed() {
			continue
		}
		switch err := conn.WriteRaw(data); {
		case err == nil:
			delivered++
		case errors.Is(err, interfaces.ErrSendBufferFull):
			overflowed = append(overflowed, conn)
		default:
			log.Debug().Err(err).Str("conn_id", conn.GetID()).Msg("Broadcast skipped connection")
		}
	}

	for _, conn := range overflowed {
		log.Warn().Str("conn_id", conn.GetID()).Msg("Send buffer full, closing slow connection")
		_ = conn.Close()
	}

	framesSent.Add(int64(delivered))
	framesDropped.Add(int64(len(targets) - delivered))
	return delivered
}

// CloseAll closes every registered connection
func (r *Registry) CloseAll() {
	for _, conn := range r.Snapshot() {
		_ = conn.Close()
	}
}

// Count returns the number of registered connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Snapshot returns the registered connections in no particular order
func (r *Registry) Snapshot() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Values(r.connections)
}
