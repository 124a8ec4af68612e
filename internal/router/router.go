package router

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"chatrelay/internal/history"
	"chatrelay/internal/session"
	"chatrelay/pkg/interfaces"
	"chatrelay/pkg/types"
)

// Broadcaster delivers one event to every registered connection and
// returns the number of connections it was queued for.
type Broadcaster interface {
	Broadcast(v interface{}) int
}

// Config holds the protocol limits enforced by the router. A zero
// MaxUsernameLength or MaxContentLength leaves that field unbounded.
type Config struct {
	MaxUsernameLength int
	MaxContentLength  int
	ReplaySize        int
	RateWindow        time.Duration
	RateMaxPerWindow  int
}

// DefaultConfig returns the limits used when nothing is configured
func DefaultConfig() Config {
	return Config{
		ReplaySize:        50,
		RateWindow:        10 * time.Second,
		RateMaxPerWindow:  10,
	}
}

// Router is the protocol terminal for every connection. It decodes inbound
// frames, applies join and message rules, and drives the session registry,
// rate limiter, history store and fanout.
//
// Router is not safe for concurrent use. The hub calls it from a single
// goroutine, which is what keeps broadcast order equal to acceptance order.
type Router struct {
	sessions    *session.Registry
	history     *history.Store
	fanout      Broadcaster
	rateLimiter *RateLimiter
	cfg         Config

	identity   interfaces.IdentityService
	moderator  interfaces.Moderator
	archive    interfaces.Archive
	replicator interfaces.Replicator

	now       func() time.Time
	lastStamp time.Time
}

// Option configures optional collaborators
type Option func(*Router)

// WithIdentity consults svc before a join is accepted
func WithIdentity(svc interfaces.IdentityService) Option {
	return func(r *Router) { r.identity = svc }
}

// WithModerator consults m before a message is accepted
func WithModerator(m interfaces.Moderator) Option {
	return func(r *Router) { r.moderator = m }
}

// WithArchive copies every accepted message to a
func WithArchive(a interfaces.Archive) Option {
	return func(r *Router) { r.archive = a }
}

// WithReplicator publishes accepted messages and presence changes to rep
func WithReplicator(rep interfaces.Replicator) Option {
	return func(r *Router) { r.replicator = rep }
}

// WithClock replaces the wall clock used for timestamps and rate windows
func WithClock(now func() time.Time) Option {
	return func(r *Router) { r.now = now }
}

// NewRouter creates a router over the shared relay state
func NewRouter(sessions *session.Registry, store *history.Store, fanout Broadcaster, cfg Config, opts ...Option) *Router {
	r := &Router{
		sessions:    sessions,
		history:     store,
		fanout:      fanout,
		rateLimiter: NewRateLimiter(cfg.RateWindow, cfg.RateMaxPerWindow),
		cfg:         cfg,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RateLimiter exposes the limiter for inspection
func (r *Router) RateLimiter() *RateLimiter {
	return r.rateLimiter
}

// HandleFrame processes one inbound frame from conn. Any rejection is
// reported to conn alone as an error frame; nothing here closes the
// connection.
func (r *Router) HandleFrame(ctx context.Context, conn interfaces.Connection, data []byte) {
	event, err := types.DecodeEvent(data)
	if err == nil {
		switch ev := event.(type) {
		case types.JoinEvent:
			err = r.handleJoin(ctx, conn, ev)
		case types.MessageEvent:
			err = r.handleMessage(ctx, conn, ev)
		default:
			err = ErrUnknownEventType
		}
	}

	if err != nil {
		r.reject(conn, err)
	}
}

func (r *Router) reject(conn interfaces.Connection, err error) {
	logger := log.With().
		Str("conn_id", conn.GetID()).
		Str("session_id", conn.GetSessionID()).
		Err(err).
		Logger()

	text := types.ClientMessage(err)
	if text == types.TextInternalServerError {
		logger.Error().Msg("Frame handling failed")
	} else {
		logger.Debug().Str("reply", text).Msg("Frame rejected")
	}

	if werr := conn.WriteJSON(types.NewErrorFrame(text)); werr != nil {
		logger.Debug().AnErr("write_error", werr).Msg("Failed to deliver error frame")
	}
}

func (r *Router) handleJoin(ctx context.Context, conn interfaces.Connection, ev types.JoinEvent) error {
	if conn.GetSessionID() != "" {
		return ErrDuplicateJoin
	}

	username, err := ev.ValidUsername(r.cfg.MaxUsernameLength)
	if err != nil {
		return err
	}

	if r.identity != nil {
		identity, err := r.identity.Authorize(ctx, username)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("username", username).Msg("Identity service failed, allowing join")
		case !identity.Allowed:
			log.Info().Str("username", username).Str("reason", identity.Reason).Msg("Join denied")
			return types.ErrUsernameNotAllowed
		}
	}

	sess, err := r.sessions.Create(uuid.New().String(), username)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	conn.SetSessionID(sess.ID)

	log.Info().
		Str("conn_id", conn.GetID()).
		Str("session_id", sess.ID).
		Str("username", username).
		Msg("Session joined")

	// welcome must precede history on the joining connection
	if err := conn.WriteJSON(types.NewWelcomeFrame(sess.ID)); err != nil {
		log.Debug().Err(err).Str("conn_id", conn.GetID()).Msg("Failed to deliver welcome")
	}

	presence := types.NewPresenceFrame(types.PresenceJoin, username)
	r.fanout.Broadcast(presence)
	r.replicate(types.ReplicatedEvent{Kind: types.ReplicatedPresence, Presence: &presence})

	backlog := r.history.Recent(r.cfg.ReplaySize)
	if err := conn.WriteJSON(types.NewHistoryFrame(backlog)); err != nil {
		log.Debug().Err(err).Str("conn_id", conn.GetID()).Msg("Failed to deliver history")
	}
	return nil
}

func (r *Router) handleMessage(ctx context.Context, conn interfaces.Connection, ev types.MessageEvent) error {
	sessionID := conn.GetSessionID()
	if sessionID == "" {
		return ErrNotJoined
	}
	sess, ok := r.sessions.Get(sessionID)
	if !ok {
		return ErrNotJoined
	}

	content, err := ev.ValidContent(r.cfg.MaxContentLength)
	if err != nil {
		return err
	}

	now := r.now()
	if !r.rateLimiter.Admit(sessionID, now) {
		return types.ErrRateLimited
	}

	if r.moderator != nil {
		verdict, err := r.moderator.Moderate(ctx, sess.DisplayName, content)
		switch {
		case err != nil:
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Moderation failed, accepting message")
		case verdict.Flagged:
			log.Info().Str("session_id", sessionID).Str("reason", verdict.Reason).Msg("Message flagged")
			return &types.RejectionError{Reason: verdict.Reason}
		}
	}

	msg := types.ChatMessage{
		ID:        uuid.New().String(),
		From:      sess.DisplayName,
		Content:   content,
		Timestamp: r.stamp(now),
	}

	r.history.Append(msg)
	if r.archive != nil {
		r.archive.Archive(msg)
	}
	delivered := r.fanout.Broadcast(types.NewMessageFrame(msg))
	r.replicate(types.ReplicatedEvent{Kind: types.ReplicatedMessage, Message: &msg})

	log.Debug().
		Str("session_id", sessionID).
		Str("message_id", msg.ID).
		Int("delivered", delivered).
		Msg("Message accepted")
	return nil
}

// HandleDisconnect tears down the session bound to conn, if any, and
// announces the departure. The caller must have already removed conn from
// the fanout so the leave event only reaches remaining connections.
func (r *Router) HandleDisconnect(conn interfaces.Connection) {
	sessionID := conn.GetSessionID()
	if sessionID == "" {
		return
	}
	conn.SetSessionID("")
	r.rateLimiter.Forget(sessionID)

	sess, ok := r.sessions.Remove(sessionID)
	if !ok {
		return
	}

	log.Info().
		Str("conn_id", conn.GetID()).
		Str("session_id", sessionID).
		Str("username", sess.DisplayName).
		Msg("Session left")

	presence := types.NewPresenceFrame(types.PresenceLeave, sess.DisplayName)
	r.fanout.Broadcast(presence)
	r.replicate(types.ReplicatedEvent{Kind: types.ReplicatedPresence, Presence: &presence})
}

// HandleRemote applies an event accepted by another relay node. Remote
// messages keep their original id; a timestamp older than the newest local
// one is raised to it so history stays in non-decreasing order.
func (r *Router) HandleRemote(ev types.ReplicatedEvent) error {
	switch ev.Kind {
	case types.ReplicatedMessage:
		if ev.Message == nil {
			return fmt.Errorf("%w: message event without payload", ErrInvalidRemoteEvent)
		}
		msg := *ev.Message
		msg.Timestamp = r.stamp(msg.Timestamp)
		r.history.Append(msg)
		r.fanout.Broadcast(types.NewMessageFrame(msg))
	case types.ReplicatedPresence:
		if ev.Presence == nil {
			return fmt.Errorf("%w: presence event without payload", ErrInvalidRemoteEvent)
		}
		r.fanout.Broadcast(types.NewPresenceFrame(ev.Presence.Event, ev.Presence.Username))
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidRemoteEvent, ev.Kind)
	}
	return nil
}

func (r *Router) replicate(ev types.ReplicatedEvent) {
	if r.replicator != nil {
		r.replicator.Publish(ev)
	}
}

// stamp keeps message timestamps non-decreasing in acceptance order even if
// the wall clock steps backwards.
func (r *Router) stamp(now time.Time) time.Time {
	now = now.UTC()
	if now.Before(r.lastStamp) {
		return r.lastStamp
	}
	r.lastStamp = now
	return now
}
