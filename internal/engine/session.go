package engine

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/model"
)

// Response is what a turn produces.
type Response struct {
	Text      string        `json:"text"`
	Stage     model.Stage   `json:"stage"`
	PatternID string        `json:"pattern_id,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
}

// Session holds the conversational state that outlives a turn: cooldowns
// per category and the recent-turn context window.
type Session struct {
	ID     string
	engine *Engine

	turnMu    sync.Mutex // one turn at a time
	mu        sync.Mutex
	cooldowns gate.Cooldowns
	window    *gate.ContextWindow
}

// NewSession starts a session with fresh cooldowns and an empty window.
func (e *Engine) NewSession() *Session {
	return e.SessionWithID(uuid.NewString())
}

// SessionWithID starts a session under a caller-chosen ID.
func (e *Engine) SessionWithID(id string) *Session {
	return &Session{
		ID:        id,
		engine:    e,
		cooldowns: gate.NewCooldowns(e.limits),
		window:    gate.NewContextWindow(e.contextSize),
	}
}

// Reset clears cooldowns and the context window.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cooldowns = gate.NewCooldowns(s.engine.limits)
	s.window = gate.NewContextWindow(s.engine.contextSize)
}

// Cooldowns returns a copy of the per-category cooldown state.
func (s *Session) Cooldowns() map[model.Category]gate.CooldownState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cooldowns.Copy()
}

// Context returns the turns currently in the context window, oldest first.
func (s *Session) Context() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.window.Turns()
}

// Respond runs one turn. It always returns a response; collaborator
// failures fall through to the next stage and end in ApologyText at worst.
func (s *Session) Respond(ctx context.Context, input string) Response {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()
	return newTurn(ctx, s, input).run()
}

// admit walks the ranked candidates and grants the first one the gate
// admits. The check and the grant happen under one lock.
func (s *Session) admit(ctx context.Context, candidates []model.MatchCandidate, now time.Time) (model.MatchCandidate, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	window := s.window.Copy()
	for _, c := range candidates {
		d := s.engine.gate.Admit(c.Pattern, window, s.cooldowns.State(c.Pattern.Category), now)
		if !d.Allowed {
			s.engine.stats.denied(d.Reason)
			recordDenied(ctx, d.Reason)
			continue
		}
		if st, ok := s.cooldowns[c.Pattern.Category]; ok {
			st.Grant(now)
		}
		return c, true
	}
	return model.MatchCandidate{}, false
}

func (s *Session) remember(input string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.window.Push(input)
}
