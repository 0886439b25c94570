// Package gate decides whether a matched reflex may actually be emitted.
package gate

import (
	"time"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

// Reason explains an admission decision.
type Reason string

const (
	ReasonGeneral        Reason = "general"
	ReasonAllowed        Reason = "allowed"
	ReasonCooldown       Reason = "cooldown"
	ReasonSessionCap     Reason = "session_cap"
	ReasonCompetingTopic Reason = "competing_topic"
)

// Decision is the outcome of Admit.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

// DefaultCompetingTopics are tokens that mark a task or question in progress.
var DefaultCompetingTopics = []string{
	"what", "why", "how", "when", "where", "who", "which",
	"help", "please", "task", "question",
}

// Gate applies the admission rules in a fixed order.
type Gate struct {
	competing map[string]bool
}

// New builds a gate. Topics are normalized the same way inputs are.
func New(competingTopics []string) *Gate {
	g := &Gate{competing: make(map[string]bool, len(competingTopics))}
	for _, t := range competingTopics {
		for _, tok := range normalize.Tokens(t) {
			g.competing[tok] = true
		}
	}
	return g
}

// Admit evaluates, in order: general patterns always pass; social patterns
// are denied inside the cooldown window, at the session cap, or while the
// context window holds a competing-topic token.
func (g *Gate) Admit(p model.Pattern, window ContextWindow, state CooldownState, now time.Time) Decision {
	if p.Category == model.CategoryGeneral {
		return Decision{Allowed: true, Reason: ReasonGeneral}
	}
	if p.Category == model.CategorySocial {
		if state.LastEmittedAt != nil && now.Sub(*state.LastEmittedAt) < state.Window {
			return Decision{Reason: ReasonCooldown}
		}
		if state.MaxPerSession > 0 && state.EmittedCount >= state.MaxPerSession {
			return Decision{Reason: ReasonSessionCap}
		}
		for _, tok := range window.Tokens() {
			if g.competing[tok] {
				return Decision{Reason: ReasonCompetingTopic}
			}
		}
	}
	return Decision{Allowed: true, Reason: ReasonAllowed}
}
