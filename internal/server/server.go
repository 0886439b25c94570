// Package server exposes the reflex engine over HTTP.
package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/rcliao/reflex/internal/engine"
	"github.com/rcliao/reflex/internal/otel"
)

const (
	defaultTimeout    = 30 * time.Second
	DefaultSessionTTL = 30 * time.Minute
)

// Server holds the dependencies of the HTTP API.
type Server struct {
	router    *chi.Mux
	engine    *engine.Engine
	limiter   *RateLimiter
	sessions  *sessions
	startTime time.Time
}

// Option configures the Server.
type Option func(*Server)

// WithRateLimit limits /v1/respond to rpm requests per minute overall and
// per client address. Zero disables limiting.
func WithRateLimit(rpm int) Option {
	return func(s *Server) {
		if rpm > 0 {
			s.limiter = NewRateLimiter(rpm, rpm)
		}
	}
}

// WithSessionTTL sets how long an idle session is kept.
func WithSessionTTL(ttl time.Duration) Option {
	return func(s *Server) {
		if ttl > 0 {
			s.sessions.ttl = ttl
		}
	}
}

// NewServer builds a Server around an engine.
func NewServer(e *engine.Engine, opts ...Option) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		engine:    e,
		sessions:  newSessions(e, DefaultSessionTTL),
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Routes returns the configured router. /v1/respond carries no request
// timeout; the engine bounds every collaborator call itself.
func (s *Server) Routes() http.Handler {
	r := s.router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(otel.Middleware())

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(RateLimitMiddleware(s.limiter))
		r.Post("/v1/respond", s.handleRespond)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(defaultTimeout))
		r.Post("/v1/sessions/{id}/reset", s.handleSessionReset)

		r.Get("/v1/patterns", s.handlePatternsList)
		r.Post("/v1/patterns", s.handlePatternAdd)
		r.Post("/v1/patterns/reload", s.handlePatternsReload)
		r.Get("/v1/patterns/{id}", s.handlePatternGet)
		r.Delete("/v1/patterns/{id}", s.handlePatternRemove)

		r.Get("/v1/stats", s.handleStats)
	})
	return r
}

// sessions maps client-visible IDs to engine sessions and forgets idle ones.
type sessions struct {
	engine *engine.Engine
	ttl    time.Duration

	mu       sync.Mutex
	byID     map[string]*engine.Session
	lastSeen map[string]time.Time
}

func newSessions(e *engine.Engine, ttl time.Duration) *sessions {
	return &sessions{
		engine:   e,
		ttl:      ttl,
		byID:     make(map[string]*engine.Session),
		lastSeen: make(map[string]time.Time),
	}
}

// get returns the session for id, creating it when id is empty or unknown.
func (ss *sessions) get(id string) *engine.Session {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	now := time.Now()
	ss.prune(now)
	if s, ok := ss.byID[id]; ok {
		ss.lastSeen[id] = now
		return s
	}
	var s *engine.Session
	if id == "" {
		s = ss.engine.NewSession()
	} else {
		s = ss.engine.SessionWithID(id)
	}
	ss.byID[s.ID] = s
	ss.lastSeen[s.ID] = now
	return s
}

func (ss *sessions) lookup(id string) (*engine.Session, bool) {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	s, ok := ss.byID[id]
	return s, ok
}

// prune must be called with ss.mu held.
func (ss *sessions) prune(now time.Time) {
	for id, seen := range ss.lastSeen {
		if now.Sub(seen) > ss.ttl {
			delete(ss.byID, id)
			delete(ss.lastSeen, id)
		}
	}
}
