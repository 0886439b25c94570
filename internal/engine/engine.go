// Package engine runs the reflex pipeline: every turn tries a cached
// reflex first, then the fallback generator, then full cognition, which
// always answers.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/rcliao/reflex/internal/gate"
	"github.com/rcliao/reflex/internal/learner"
	"github.com/rcliao/reflex/internal/matcher"
	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
	"github.com/rcliao/reflex/internal/patterns"
)

// ApologyText is returned when full cognition cannot produce an answer.
const ApologyText = "Sorry, I can't answer that right now."

const (
	DefaultFallbackTimeout  = 5 * time.Second
	DefaultCognitionTimeout = 30 * time.Second
	DefaultLogTimeout       = 5 * time.Second
)

var (
	// ErrDeclined is returned by a collaborator that chooses not to answer.
	ErrDeclined = errors.New("collaborator declined")

	ErrDuplicate = errors.New("pattern already exists")
)

// Fallback generates a response when no reflex is admitted. A learnable
// answer is turned into a new reflex.
type Fallback interface {
	Generate(ctx context.Context, input string) (text string, learnable bool, err error)
}

// Cognition is the last-resort responder.
type Cognition interface {
	Respond(ctx context.Context, input string) (string, error)
}

// TurnLogger records served turns. Failures never affect the response.
type TurnLogger interface {
	LogTurn(ctx context.Context, t model.Turn) error
}

// Engine holds the components shared by every session.
type Engine struct {
	store     *patterns.Store
	matcher   *matcher.Matcher
	gate      *gate.Gate
	learner   *learner.Learner
	fallback  Fallback
	cognition Cognition
	logger    TurnLogger

	fallbackTimeout  time.Duration
	cognitionTimeout time.Duration
	limits           map[model.Category]gate.Limits
	contextSize      int
	now              func() time.Time

	stats    *recorder
	learning sync.WaitGroup
	logging  sync.WaitGroup
}

// Option configures an Engine.
type Option func(*Engine)

func WithFallback(f Fallback) Option { return func(e *Engine) { e.fallback = f } }

func WithCognition(c Cognition) Option { return func(e *Engine) { e.cognition = c } }

func WithTurnLogger(l TurnLogger) Option { return func(e *Engine) { e.logger = l } }

func WithMatcher(m *matcher.Matcher) Option { return func(e *Engine) { e.matcher = m } }

func WithGate(g *gate.Gate) Option { return func(e *Engine) { e.gate = g } }

func WithLearner(l *learner.Learner) Option { return func(e *Engine) { e.learner = l } }

// WithTimeouts bounds the fallback and full-cognition calls. Zero keeps the default.
func WithTimeouts(fallback, cognition time.Duration) Option {
	return func(e *Engine) {
		if fallback > 0 {
			e.fallbackTimeout = fallback
		}
		if cognition > 0 {
			e.cognitionTimeout = cognition
		}
	}
}

// WithLimits sets the per-category cooldown limits for new sessions.
func WithLimits(limits map[model.Category]gate.Limits) Option {
	return func(e *Engine) { e.limits = limits }
}

// WithContextSize sets the context window capacity for new sessions.
func WithContextSize(n int) Option { return func(e *Engine) { e.contextSize = n } }

// WithClock overrides the time source used for gating and usage stamps.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// New creates an engine over a loaded pattern store.
func New(store *patterns.Store, opts ...Option) *Engine {
	e := &Engine{
		store:            store,
		fallbackTimeout:  DefaultFallbackTimeout,
		cognitionTimeout: DefaultCognitionTimeout,
		limits:           gate.DefaultLimits,
		contextSize:      gate.DefaultWindowSize,
		now:              time.Now,
		stats:            newRecorder(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.matcher == nil {
		e.matcher = matcher.New(matcher.DefaultMaxSteps)
	}
	if e.gate == nil {
		e.gate = gate.New(gate.DefaultCompetingTopics)
	}
	if e.learner == nil {
		e.learner = learner.New(store, learner.NewKeywordClassifier(learner.DefaultVocabulary), learner.DefaultMinTokens)
	}
	return e
}

// Store returns the pattern store.
func (e *Engine) Store() *patterns.Store { return e.store }

// Matcher returns the matcher used for reflex attempts.
func (e *Engine) Matcher() *matcher.Matcher { return e.matcher }

// Wait blocks until background learning, turn logging and pattern
// persistence have finished.
func (e *Engine) Wait() {
	e.learning.Wait()
	e.logging.Wait()
	e.store.Wait()
}

// AddPattern parses and inserts a learned pattern.
func (e *Engine) AddPattern(ctx context.Context, text, response string, category model.Category) (model.Pattern, error) {
	p, err := normalize.Build(text, response, category, model.OriginLearned)
	if err != nil {
		return model.Pattern{}, err
	}
	inserted, ok, err := e.store.Insert(ctx, p)
	if err != nil {
		return model.Pattern{}, err
	}
	if !ok {
		return model.Pattern{}, fmt.Errorf("%w: %s", ErrDuplicate, p.Source)
	}
	return inserted, nil
}

// RemovePattern deletes a learned pattern.
func (e *Engine) RemovePattern(ctx context.Context, id string) error {
	return e.store.Remove(ctx, id)
}

// ReloadDynamicPatterns replaces the learned partition with the persisted one.
func (e *Engine) ReloadDynamicPatterns(ctx context.Context) (patterns.LoadReport, error) {
	return e.store.Reload(ctx)
}

func (e *Engine) learn(ctx context.Context, input, response string) {
	e.learning.Add(1)
	go func() {
		defer e.learning.Done()
		c := e.learner.Candidate(input, response)
		if p, ok := e.learner.Learn(ctx, c); ok {
			e.stats.learned()
			recordLearned(ctx, p.Category)
			return
		}
		e.stats.learnRejected()
	}()
}

func (e *Engine) logTurn(ctx context.Context, t model.Turn) {
	if e.logger == nil {
		return
	}
	e.logging.Add(1)
	go func() {
		defer e.logging.Done()
		ctx, cancel := context.WithTimeout(ctx, DefaultLogTimeout)
		defer cancel()
		if err := e.logger.LogTurn(ctx, t); err != nil {
			log.Debug().Err(err).Str("session_id", t.SessionID).Msg("turn log failed")
		}
	}()
}
