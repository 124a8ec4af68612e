package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"chatrelay/internal/api"
	"chatrelay/internal/config"
	"chatrelay/internal/database"
	"chatrelay/internal/history"
	"chatrelay/internal/hub"
	"chatrelay/internal/identity"
	"chatrelay/internal/moderation"
	"chatrelay/internal/replication"
	"chatrelay/internal/router"
	"chatrelay/internal/session"
	"chatrelay/internal/websocket"
	dbconfig "chatrelay/pkg/database"
)

// Application owns every relay component and their lifecycle.
// Initialization order: archive, replication, state, router, hub, HTTP.
type Application struct {
	config     *config.Config
	archive    *database.Manager
	replicator *replication.RedisReplicator
	sessions   *session.Registry
	history    *history.Store
	registry   *websocket.Registry
	router     *router.Router
	hub        *hub.Hub
	apiServer  *api.Server
	httpServer *http.Server
	listener   net.Listener
	cancel     context.CancelFunc
}

// NewApplication builds the relay from cfg. A nil cfg means defaults.
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		config:   cfg,
		sessions: session.NewRegistry(),
		history:  history.NewStore(cfg.History.Retention),
		registry: websocket.NewRegistry(),
	}

	var opts []router.Option

	if cfg.Archive.Enabled() {
		dbCfg := dbconfig.DefaultConfig(cfg.Archive.Path)
		dbCfg.WriteBuffer = cfg.Archive.WriteBuffer
		archive, err := database.NewManager(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open archive: %w", err)
		}
		app.archive = archive
		opts = append(opts, router.WithArchive(archive))
	}

	if len(cfg.Moderation.Words) > 0 {
		moderator, err := moderation.NewKeywordModerator(cfg.Moderation.Words)
		if err != nil && !errors.Is(err, moderation.ErrNoWords) {
			app.closeArchive()
			return nil, fmt.Errorf("failed to build moderator: %w", err)
		}
		if err == nil {
			opts = append(opts, router.WithModerator(moderator))
		}
	}

	if len(cfg.Identity.ReservedNames) > 0 {
		opts = append(opts, router.WithIdentity(identity.NewReservedNames(cfg.Identity.ReservedNames)))
	}

	if cfg.Replication.Enabled() {
		client, err := replication.NewRedis(cfg.Replication.RedisURL)
		if err != nil {
			app.closeArchive()
			return nil, fmt.Errorf("failed to connect replication: %w", err)
		}
		instanceID := cfg.Replication.InstanceID
		if instanceID == "" {
			instanceID = uuid.New().String()
		}
		app.replicator = replication.NewRedisReplicator(client, cfg.Replication.Channel, instanceID, cfg.Replication.Buffer)
		opts = append(opts, router.WithReplicator(app.replicator))
	}

	app.router = router.NewRouter(app.sessions, app.history, app.registry, RouterConfig(cfg), opts...)

	// a nil *RedisReplicator must not become a non-nil interface
	if app.replicator != nil {
		app.hub = hub.NewHub(app.registry, app.router, app.replicator)
	} else {
		app.hub = hub.NewHub(app.registry, app.router, nil)
	}

	var archiveReader api.ArchiveReader
	if app.archive != nil {
		archiveReader = app.archive
	}
	app.apiServer = api.NewServer(app.sessions, app.history, app.registry, archiveReader, api.Options{
		ReplaySize:  cfg.History.ReplaySize,
		CORSOrigins: cfg.HTTP.CORSOrigins,
		InstanceID:  app.instanceID(),
	})

	wsHandler := websocket.NewHandler(app.hub, HandlerConfig(cfg))
	app.apiServer.Mount("/ws", wsHandler.HandleWebSocket)

	app.httpServer = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      app.apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return app, nil
}

// RouterConfig extracts the protocol limits from cfg
func RouterConfig(cfg *config.Config) router.Config {
	return router.Config{
		MaxUsernameLength: cfg.Limits.MaxUsernameLength,
		MaxContentLength:  cfg.Limits.MaxContentLength,
		ReplaySize:        cfg.History.ReplaySize,
		RateWindow:        cfg.RateLimit.Window,
		RateMaxPerWindow:  cfg.RateLimit.MaxPerWindow,
	}
}

// HandlerConfig extracts the WebSocket transport settings from cfg
func HandlerConfig(cfg *config.Config) websocket.HandlerConfig {
	return websocket.HandlerConfig{
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		HandshakeTimeout: cfg.WebSocket.HandshakeTimeout,
		ReadTimeout:      cfg.WebSocket.ReadTimeout,
		MaxFrameBytes:    cfg.WebSocket.MaxFrameBytes,
		Connection: websocket.Options{
			SendBuffer:   cfg.WebSocket.BufferSize,
			WriteTimeout: cfg.WebSocket.WriteTimeout,
			PingInterval: cfg.WebSocket.PingInterval,
		},
	}
}

// Start runs the hub and begins serving HTTP. It returns once the listener
// is bound.
func (app *Application) Start(ctx context.Context) error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener

	hubCtx, cancel := context.WithCancel(context.Background())
	app.cancel = cancel
	if err := app.hub.Start(hubCtx); err != nil {
		cancel()
		_ = listener.Close()
		return fmt.Errorf("failed to start hub: %w", err)
	}

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("HTTP server error")
		}
	}()

	log.Info().
		Str("addr", listener.Addr().String()).
		Str("instance", app.instanceID()).
		Bool("archive", app.archive != nil).
		Bool("replication", app.replicator != nil).
		Msg("Relay started")

	select {
	case <-ctx.Done():
		_ = app.Stop(context.Background())
		return ctx.Err()
	default:
		return nil
	}
}

// Stop shuts down in reverse order: HTTP, hub, replication, archive
func (app *Application) Stop(ctx context.Context) error {
	log.Info().Msg("Shutting down relay")

	var errs []error
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}

	if err := app.hub.Stop(); err != nil && !errors.Is(err, hub.ErrHubNotRunning) {
		errs = append(errs, fmt.Errorf("hub stop: %w", err))
	}
	if app.cancel != nil {
		app.cancel()
	}

	if app.replicator != nil {
		if err := app.replicator.Close(); err != nil {
			errs = append(errs, fmt.Errorf("replication close: %w", err))
		}
		app.replicator = nil
	}

	app.closeArchive()

	log.Info().Msg("Relay shutdown complete")
	return errors.Join(errs...)
}

// instanceID is the replication node id, or "" for a single-node relay
func (app *Application) instanceID() string {
	if app.replicator == nil {
		return ""
	}
	return app.replicator.InstanceID()
}

func (app *Application) closeArchive() {
	if app.archive == nil {
		return
	}
	if err := app.archive.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close archive")
	}
	app.archive = nil
}

// Handler returns the HTTP handler serving both the API and /ws
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// GetAddr returns the bound address once started, the configured one before
func (app *Application) GetAddr() string {
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// ShutdownTimeout is how long Stop may wait for in-flight requests
func (app *Application) ShutdownTimeout() time.Duration {
	return app.config.HTTP.ShutdownTimeout
}
