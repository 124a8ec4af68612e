package websocket

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"chatrelay/pkg/interfaces"
)

// Dispatcher receives connection lifecycle events and inbound frames.
// Implementations serialize them onto shared relay state.
type Dispatcher interface {
	Connect(ctx context.Context, conn interfaces.Connection) error
	Dispatch(ctx context.Context, conn interfaces.Connection, data []byte) error
	Disconnect(ctx context.Context, conn interfaces.Connection) error
}

// HandlerConfig controls the upgrade and read side of each connection
type HandlerConfig struct {
	AllowedOrigins   []string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	MaxFrameBytes    int64
	Connection       Options
}

// DefaultHandlerConfig returns the handler defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		AllowedOrigins:   []string{"*"},
		HandshakeTimeout: 10 * time.Second,
		ReadTimeout:      60 * time.Second,
		MaxFrameBytes:    16 * 1024,
		Connection:       DefaultOptions(),
	}
}

// Handler upgrades HTTP requests and runs one read pump per connection
type Handler struct {
	dispatcher Dispatcher
	cfg        HandlerConfig
	upgrader   websocket.Upgrader
}

// NewHandler creates a WebSocket handler feeding dispatcher
func NewHandler(dispatcher Dispatcher, cfg HandlerConfig) *Handler {
	h := &Handler{
		dispatcher: dispatcher,
		cfg:        cfg,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || lo.Contains(h.cfg.AllowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	allowed := lo.ContainsBy(h.cfg.AllowedOrigins, func(o string) bool {
		return strings.EqualFold(o, origin) || strings.EqualFold(o, u.Host)
	})
	if !allowed {
		log.Warn().Err(ErrOriginNotAllowed).Str("origin", origin).Msg("Rejected WebSocket handshake")
	}
	return allowed
}

// HandleWebSocket upgrades the request and blocks for the lifetime of the
// connection, forwarding every data frame to the dispatcher.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("remote_addr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	conn := NewConnection(ws, h.cfg.Connection)
	ctx := context.Background()

	if err := h.dispatcher.Connect(ctx, conn); err != nil {
		log.Error().Err(err).Str("conn_id", conn.GetID()).Msg("Failed to register connection")
		_ = conn.Close()
		return
	}

	log.Debug().Str("conn_id", conn.GetID()).Str("remote_addr", r.RemoteAddr).Msg("Connection opened")

	defer func() {
		if err := h.dispatcher.Disconnect(ctx, conn); err != nil {
			log.Warn().Err(err).Str("conn_id", conn.GetID()).Msg("Failed to dispatch disconnect")
		}
		_ = conn.Close()
		log.Debug().Str("conn_id", conn.GetID()).Msg("Connection closed")
	}()

	h.readPump(ctx, ws, conn)
}

func (h *Handler) readPump(ctx context.Context, ws *websocket.Conn, conn *Connection) {
	if h.cfg.MaxFrameBytes > 0 {
		ws.SetReadLimit(h.cfg.MaxFrameBytes)
	}

	extend := func() error {
		if h.cfg.ReadTimeout <= 0 {
			return nil
		}
		return ws.SetReadDeadline(time.Now().Add(h.cfg.ReadTimeout))
	}
	if err := extend(); err != nil {
		return
	}
	ws.SetPongHandler(func(string) error { return extend() })

	for {
		messageType, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Str("conn_id", conn.GetID()).Msg("WebSocket read error")
			}
			return
		}
		if err := extend(); err != nil {
			return
		}
		if messageType != websocket.TextMessage && messageType != websocket.BinaryMessage {
			continue
		}

		if err := h.dispatcher.Dispatch(ctx, conn, data); err != nil {
			log.Warn().Err(err).Str("conn_id", conn.GetID()).Msg("Failed to dispatch frame")
			return
		}
	}
}
