package engine

import (
	"sync"
	"time"

	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/model"
)

// PatternUsage reports how often a pattern has fired.
type PatternUsage struct {
	ID         string         `json:"id"`
	Pattern    string         `json:"pattern"`
	Category   model.Category `json:"category"`
	Origin     model.Origin   `json:"origin"`
	UseCount   int            `json:"use_count"`
	LastUsedAt *time.Time     `json:"last_used_at,omitempty"`
}

// StageStats aggregates served turns for one stage.
type StageStats struct {
	Count        int           `json:"count"`
	TotalLatency time.Duration `json:"total_latency_ns"`
	MaxLatency   time.Duration `json:"max_latency_ns"`
	AvgLatencyMs float64       `json:"avg_latency_ms"`
}

// Statistics is a point-in-time report of engine activity.
type Statistics struct {
	Patterns        []PatternUsage                        `json:"patterns"`
	Stages          map[model.Stage]StageStats            `json:"stages"`
	Cooldowns       map[model.Category]gate.CooldownState `json:"cooldowns,omitempty"`
	Denied          map[gate.Reason]int                   `json:"denied"`
	Learned         int                                   `json:"learned"`
	LearnRejected   int                                   `json:"learn_rejected"`
	FallbackErrors  int                                   `json:"fallback_errors"`
	CognitionErrors int                                   `json:"cognition_errors"`
}

type recorder struct {
	mu              sync.Mutex
	stages          map[model.Stage]StageStats
	denials         map[gate.Reason]int
	learnedN        int
	learnRejectedN  int
	fallbackErrors  int
	cognitionErrors int
}

func newRecorder() *recorder {
	return &recorder{
		stages:  make(map[model.Stage]StageStats),
		denials: make(map[gate.Reason]int),
	}
}

func (r *recorder) turn(stage model.Stage, latency time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.stages[stage]
	s.Count++
	s.TotalLatency += latency
	if latency > s.MaxLatency {
		s.MaxLatency = latency
	}
	s.AvgLatencyMs = float64(s.TotalLatency) / float64(s.Count) / float64(time.Millisecond)
	r.stages[stage] = s
}

func (r *recorder) denied(reason gate.Reason) {
	r.mu.Lock()
	r.denials[reason]++
	r.mu.Unlock()
}

func (r *recorder) learned() {
	r.mu.Lock()
	r.learnedN++
	r.mu.Unlock()
}

func (r *recorder) learnRejected() {
	r.mu.Lock()
	r.learnRejectedN++
	r.mu.Unlock()
}

func (r *recorder) fallbackError() {
	r.mu.Lock()
	r.fallbackErrors++
	r.mu.Unlock()
}

func (r *recorder) cognitionError() {
	r.mu.Lock()
	r.cognitionErrors++
	r.mu.Unlock()
}

// Statistics reports per-pattern usage, per-stage counts and, when a
// session is given, its cooldown state.
func (e *Engine) Statistics(s *Session) Statistics {
	snap := e.store.Snapshot()
	out := Statistics{Patterns: make([]PatternUsage, 0, snap.Len())}
	for _, p := range snap.Patterns() {
		out.Patterns = append(out.Patterns, PatternUsage{
			ID:         p.ID,
			Pattern:    p.Source,
			Category:   p.Category,
			Origin:     p.Origin,
			UseCount:   p.UseCount,
			LastUsedAt: p.LastUsedAt,
		})
	}

	e.stats.mu.Lock()
	out.Stages = make(map[model.Stage]StageStats, len(e.stats.stages))
	for k, v := range e.stats.stages {
		out.Stages[k] = v
	}
	out.Denied = make(map[gate.Reason]int, len(e.stats.denials))
	for k, v := range e.stats.denials {
		out.Denied[k] = v
	}
	out.Learned = e.stats.learnedN
	out.LearnRejected = e.stats.learnRejectedN
	out.FallbackErrors = e.stats.fallbackErrors
	out.CognitionErrors = e.stats.cognitionErrors
	e.stats.mu.Unlock()

	if s != nil {
		out.Cooldowns = s.Cooldowns()
	}
	return out
}
