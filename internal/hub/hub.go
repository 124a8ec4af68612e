package hub

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
	"chatrelay/internal/router"
	"chatrelay/internal/websocket"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

const (
	commandBuffer = 1000
	remoteBuffer  = 100
)

type commandKind int

const (
	cmdConnect commandKind = iota
	cmdFrame
	cmdDisconnect
)

// command is one unit of work for the hub loop. Connect, frame and
// disconnect share a channel so each connection's events are applied in the
// order its read pump produced them.
type command struct {
	kind commandKind
	conn interfaces.Connection
	data []byte
}

// Hub owns every mutation of shared relay state. Connection goroutines post
// commands; a single loop applies them through the router, so no two
// mutations interleave and broadcasts leave in acceptance order.
type Hub struct {
	commands chan command
	remote   chan types.ReplicatedEvent
	shutdown chan struct{}
	done     chan struct{}

	registry   *websocket.Registry
	router     *router.Router
	replicator interfaces.Replicator

	running bool
	mu      sync.RWMutex
}

// NewHub creates a hub. replicator may be nil for a single-node relay.
func NewHub(registry *websocket.Registry, r *router.Router, replicator interfaces.Replicator) *Hub {
	return &Hub{
		remote:     make(chan types.ReplicatedEvent, remoteBuffer),
		registry:   registry,
		router:     r,
		replicator: replicator,
	}
}

var _ websocket.Dispatcher = (*Hub)(nil)

// Start launches the hub loop and, when configured, the replication
// subscriber.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	// a fresh queue per run; a post that raced the last Stop is left behind
	h.commands = make(chan command, commandBuffer)
	h.shutdown = make(chan struct{})
	h.done = make(chan struct{})

	log.Info().Msg("Starting relay hub")
	go h.run(ctx, h.commands, h.shutdown, h.done)

	if h.replicator != nil {
		go func() {
			if err := h.replicator.Run(ctx, h.deliverRemote); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("Replication stopped")
			}
		}()
	}
	return nil
}

// Stop ends the hub loop, waits for it to exit and closes every open
// connection. Commands still queued are discarded and their connections
// closed; registered connections are deregistered and their sessions
// ended, so a later Start begins from an empty relay.
func (h *Hub) Stop() error {
	// held throughout so a concurrent Start waits for the cleanup below
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdown)

	log.Info().Msg("Stopping relay hub")
	<-h.done

	dropped := h.drain(h.commands)
	h.registry.CloseAll()
	for _, conn := range h.registry.Snapshot() {
		h.registry.Unregister(conn)
		if h.router != nil {
			h.router.HandleDisconnect(conn)
		}
	}
	if dropped > 0 {
		log.Warn().Int("commands", dropped).Msg("Discarded queued hub commands")
	}
	return nil
}

// drain empties the queues of a stopped loop and returns how many commands
// it discarded.
func (h *Hub) drain(commands chan command) int {
	dropped := 0
	for {
		select {
		case cmd := <-commands:
			_ = cmd.conn.Close()
			dropped++
		case <-h.remote:
		default:
			return dropped
		}
	}
}

// IsRunning reports whether the hub loop is active
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// Connect registers conn with the fanout
func (h *Hub) Connect(ctx context.Context, conn interfaces.Connection) error {
	return h.post(ctx, command{kind: cmdConnect, conn: conn})
}

// Dispatch queues one inbound frame from conn
func (h *Hub) Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) error {
	return h.post(ctx, command{kind: cmdFrame, conn: conn, data: data})
}

// Disconnect queues teardown of conn's registration and session
func (h *Hub) Disconnect(ctx context.Context, conn interfaces.Connection) error {
	return h.post(ctx, command{kind: cmdDisconnect, conn: conn})
}

// post blocks until the loop accepts cmd so a burst from one connection
// slows that connection's reader instead of dropping frames.
func (h *Hub) post(ctx context.Context, cmd command) error {
	h.mu.RLock()
	if !h.running {
		h.mu.RUnlock()
		return ErrHubNotRunning
	}
	commands, shutdown, done := h.commands, h.shutdown, h.done
	h.mu.RUnlock()

	select {
	case <-done:
		return ErrHubNotRunning
	default:
	}

	select {
	case commands <- cmd:
		return nil
	case <-shutdown:
		return ErrHubNotRunning
	case <-done:
		return ErrHubNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Hub) deliverRemote(ev types.ReplicatedEvent) {
	select {
	case h.remote <- ev:
	default:
		log.Warn().Err(ErrRemoteChannelFull).Str("kind", ev.Kind).Str("origin", ev.Origin).Msg("Dropped replicated event")
	}
}

func (h *Hub) run(ctx context.Context, commands <-chan command, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	defer log.Info().Msg("Hub processing stopped")

	for {
		select {
		case cmd := <-commands:
			h.apply(ctx, cmd)

		case ev := <-h.remote:
			if err := h.router.HandleRemote(ev); err != nil {
				log.Warn().Err(err).Str("origin", ev.Origin).Msg("Ignored replicated event")
			}

		case <-shutdown:
			log.Debug().Msg("Hub shutdown requested")
			return

		case <-ctx.Done():
			log.Debug().Msg("Hub context cancelled")
			return
		}
	}
}

func (h *Hub) apply(ctx context.Context, cmd command) {
	switch cmd.kind {
	case cmdConnect:
		if err := h.registry.Register(cmd.conn); err != nil {
			log.Error().Err(err).Msg("Connection registration failed")
			return
		}
		log.Debug().Str("conn_id", cmd.conn.GetID()).Int("connections", h.registry.Count()).Msg("Connection registered")

	case cmdFrame:
		h.router.HandleFrame(ctx, cmd.conn, cmd.data)

	case cmdDisconnect:
		// unregister first so the leave presence only reaches remaining connections
		h.registry.Unregister(cmd.conn)
		h.router.HandleDisconnect(cmd.conn)
		log.Debug().Str("conn_id", cmd.conn.GetID()).Int("connections", h.registry.Count()).Msg("Connection deregistered")
	}
}
