package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"
	"github.com/shirou/gopsutil/process"
	"chatrelay/pkg/types"
)

// SessionLister exposes the joined sessions
type SessionLister interface {
	List() []types.Session
	Count() int
}

// HistoryReader exposes the in-memory message log
type HistoryReader interface {
	Recent(n int) []types.ChatMessage
	Len() int
	Retention() int
}

// ConnectionCounter reports how many connections are registered for fanout
type ConnectionCounter interface {
	Count() int
}

// ArchiveReader reads back the persisted transcript
type ArchiveReader interface {
	RecentMessages(ctx context.Context, limit int) ([]types.ChatMessage, error)
	CountMessages(ctx context.Context) (int, error)
	HealthCheck(ctx context.Context) error
}

// Options configures the operational API
type Options struct {
	ReplaySize  int
	CORSOrigins []string
	// InstanceID names this node when replication is enabled
	InstanceID string
}

// Server serves health and read-only relay state over HTTP. It holds no
// relay logic of its own.
type Server struct {
	sessions    SessionLister
	history     HistoryReader
	connections ConnectionCounter
	archive     ArchiveReader
	opts        Options
	started     time.Time
	router      chi.Router
}

// NewServer wires the routes. archive may be nil when persistence is disabled.
func NewServer(sessions SessionLister, history HistoryReader, connections ConnectionCounter, archive ArchiveReader, opts Options) *Server {
	s := &Server{
		sessions:    sessions,
		history:     history,
		connections: connections,
		archive:     archive,
		opts:        opts,
		started:     time.Now(),
		router:      chi.NewRouter(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(middleware.RealIP)
	s.router.Use(requestLogger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(corsHandler(s.opts.CORSOrigins))

	s.router.Get("/health", s.healthCheck)
	s.router.Route("/api", func(r chi.Router) {
		r.Use(jsonContentType)
		r.Get("/sessions", s.listSessions)
		r.Get("/messages", s.recentMessages)
		r.Get("/archive", s.archivedMessages)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Mount attaches an extra handler, used for the WebSocket endpoint
func (s *Server) Mount(pattern string, h http.HandlerFunc) {
	s.router.Get(pattern, h)
}

type ListSessionsResponse struct {
	Sessions []types.Session `json:"sessions"`
	Count    int             `json:"count"`
}

type MessagesResponse struct {
	Messages []types.ChatMessage `json:"messages"`
	Count    int                 `json:"count"`
}

type HealthResponse struct {
	Status           string         `json:"status"`
	Timestamp        time.Time      `json:"timestamp"`
	Instance         string         `json:"instance,omitempty"`
	Archive          string         `json:"archive"`
	Archived         *int           `json:"archived,omitempty"`
	Connections      int            `json:"connections"`
	Sessions         int            `json:"sessions"`
	History          int            `json:"history"`
	HistoryRetention int            `json:"history_retention"`
	System           map[string]any `json:"system"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions := s.sessions.List()
	writeJSON(w, http.StatusOK, ListSessionsResponse{Sessions: sessions, Count: len(sessions)})
}

// GET /api/messages?limit=n returns the newest in-memory messages, capped at
// the number a joining client would be sent.
func (s *Server) recentMessages(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r, s.opts.ReplaySize, s.opts.ReplaySize)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}
	messages := s.history.Recent(limit)
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages, Count: len(messages)})
}

// GET /api/archive?limit=n reads from the transcript database
func (s *Server) archivedMessages(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		s.sendError(w, "Archive is disabled", http.StatusNotFound)
		return
	}

	limit, err := parseLimit(r, 100, 1000)
	if err != nil {
		s.sendError(w, err.Error(), http.StatusBadRequest)
		return
	}

	messages, err := s.archive.RecentMessages(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Int("limit", limit).Msg("Failed to read archive")
		s.sendError(w, "Failed to read archive", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: messages, Count: len(messages)})
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	archiveStatus := "disabled"
	var archived *int
	if s.archive != nil {
		archiveStatus = "healthy"
		if err := s.archive.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			archiveStatus = fmt.Sprintf("error: %v", err)
		} else if count, err := s.archive.CountMessages(ctx); err != nil {
			log.Warn().Err(err).Msg("Failed to count archived messages")
		} else {
			archived = &count
		}
	}

	response := HealthResponse{
		Status:           status,
		Timestamp:        time.Now().UTC(),
		Instance:         s.opts.InstanceID,
		Archive:          archiveStatus,
		Archived:         archived,
		Connections:      s.connections.Count(),
		Sessions:         s.sessions.Count(),
		History:          s.history.Len(),
		HistoryRetention: s.history.Retention(),
		System:           s.systemInfo(),
	}

	code := http.StatusOK
	if status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, response)
}

func (s *Server) systemInfo() map[string]any {
	info := map[string]any{
		"goroutines": runtime.NumGoroutine(),
		"uptime":     time.Since(s.started).Round(time.Second).String(),
	}

	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		log.Debug().Err(err).Msg("Error while retrieving process")
		return info
	}
	if mem, err := p.MemoryInfo(); err == nil {
		info["rss_bytes"] = mem.RSS
	}
	if cpu, err := p.CPUPercent(); err == nil {
		info["cpu_percent"] = cpu
	}
	return info
}

// parseLimit reads ?limit, falling back to def and clamping to max
func parseLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("limit must be a non-negative integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to write response")
	}
}
