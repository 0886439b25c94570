package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/rcliao/reflex/internal/matcher"
	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
	reflexotel "github.com/rcliao/reflex/internal/otel"
)

type state int

const (
	stateStart state = iota
	stateReflexAttempt
	stateFallbackAttempt
	stateFullCognition
	stateEmit
	stateTerminal
)

var stateNames = [...]string{"Start", "ReflexAttempt", "FallbackAttempt", "FullCognition", "Emit", "Terminal"}

func (s state) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// turn is the per-turn state machine. It is built fresh for every input
// and discarded once it reaches Terminal.
type turn struct {
	ctx     context.Context
	sess    *Session
	e       *Engine
	input   string
	tokens  []string
	started time.Time
	state   state
	resp    Response
	span    trace.Span
}

func newTurn(ctx context.Context, s *Session, input string) *turn {
	return &turn{ctx: ctx, sess: s, e: s.engine, input: input, started: time.Now()}
}

func (t *turn) run() Response {
	var span trace.Span
	t.ctx, span = tracer.Start(t.ctx, "reflex.respond",
		trace.WithAttributes(attribute.String("session.id", t.sess.ID)))
	t.span = span
	defer span.End()

	for t.state != stateTerminal {
		next := t.step()
		log.Trace().Str("session_id", t.sess.ID).Stringer("from", t.state).Stringer("to", next).Msg("turn transition")
		t.state = next
	}
	return t.resp
}

func (t *turn) step() state {
	switch t.state {
	case stateStart:
		return t.start()
	case stateReflexAttempt:
		return t.reflex()
	case stateFallbackAttempt:
		return t.fallback()
	case stateFullCognition:
		return t.fullCognition()
	case stateEmit:
		return t.emit()
	}
	return stateTerminal
}

// start normalizes the input. Blank input has no tokens to match.
func (t *turn) start() state {
	t.tokens = normalize.Tokens(t.input)
	if len(t.tokens) == 0 {
		return stateFallbackAttempt
	}
	return stateReflexAttempt
}

func (t *turn) reflex() state {
	snap := t.e.store.Snapshot()
	candidates := t.e.matcher.Match(snap, t.tokens)
	if len(candidates) == 0 {
		return stateFallbackAttempt
	}
	now := t.e.now()
	c, ok := t.sess.admit(t.ctx, candidates, now)
	if !ok {
		return stateFallbackAttempt
	}
	t.e.store.RecordUse(c.PatternID, now)
	t.resp = Response{Text: matcher.Render(c), Stage: model.StageReflex, PatternID: c.PatternID}
	return stateEmit
}

type generated struct {
	text      string
	learnable bool
}

func (t *turn) fallback() state {
	if t.e.fallback == nil || t.ctx.Err() != nil {
		return stateFullCognition
	}
	g, err := bounded(t.ctx, t.e.fallbackTimeout, func(ctx context.Context) (generated, error) {
		text, learnable, err := t.e.fallback.Generate(ctx, t.input)
		return generated{text: text, learnable: learnable}, err
	})
	if err != nil {
		if !isDeclined(err) {
			t.e.stats.fallbackError()
			t.span.RecordError(err)
		}
		log.Debug().Err(err).Str("session_id", t.sess.ID).Func(reflexotel.LogTraceFields(t.ctx)).Msg("fallback fell through")
		return stateFullCognition
	}
	if strings.TrimSpace(g.text) == "" {
		return stateFullCognition
	}
	t.resp = Response{Text: g.text, Stage: model.StageFallback}
	if g.learnable {
		t.e.learn(context.WithoutCancel(t.ctx), t.input, g.text)
	}
	return stateEmit
}

// fullCognition is terminal: whatever happens, it produces text.
func (t *turn) fullCognition() state {
	t.resp = Response{Text: ApologyText, Stage: model.StageFull}
	if t.e.cognition == nil || t.ctx.Err() != nil {
		return stateEmit
	}
	text, err := bounded(t.ctx, t.e.cognitionTimeout, func(ctx context.Context) (string, error) {
		return t.e.cognition.Respond(ctx, t.input)
	})
	if err != nil {
		t.e.stats.cognitionError()
		t.span.RecordError(err)
		log.Warn().Err(err).Str("session_id", t.sess.ID).Func(reflexotel.LogTraceFields(t.ctx)).Msg("full cognition failed")
		return stateEmit
	}
	if strings.TrimSpace(text) != "" {
		t.resp.Text = text
	}
	return stateEmit
}

func (t *turn) emit() state {
	t.sess.remember(t.input)
	t.resp.Latency = time.Since(t.started)

	t.e.stats.turn(t.resp.Stage, t.resp.Latency)
	recordTurn(t.ctx, t.resp.Stage, t.resp.Latency)
	t.span.SetAttributes(
		attribute.String("reflex.stage", string(t.resp.Stage)),
		attribute.String("reflex.pattern_id", t.resp.PatternID),
	)

	t.e.logTurn(context.WithoutCancel(t.ctx), model.Turn{
		SessionID: t.sess.ID,
		Input:     t.input,
		Stage:     t.resp.Stage,
		Response:  t.resp.Text,
		PatternID: t.resp.PatternID,
		Latency:   t.resp.Latency,
		At:        t.e.now(),
	})
	return stateTerminal
}
