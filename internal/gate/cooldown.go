package gate

import (
	"time"

	"github.com/rcliao/reflex/internal/model"
)

// Limits configures cooldown for one category.
type Limits struct {
	Window        time.Duration
	MaxPerSession int // 0 means unlimited
}

// DefaultLimits are the per-category defaults.
var DefaultLimits = map[model.Category]Limits{
	model.CategorySocial:  {Window: 30 * time.Second, MaxPerSession: 5},
	model.CategoryGeneral: {},
}

// CooldownState tracks emissions for one category within a session.
type CooldownState struct {
	Category      model.Category `json:"category"`
	LastEmittedAt *time.Time     `json:"last_emitted_at,omitempty"`
	EmittedCount  int            `json:"emitted_count"`
	Window        time.Duration  `json:"window_ns"`
	MaxPerSession int            `json:"max_per_session"`
}

// Grant records an admitted emission. It is the only mutation of the state.
func (c *CooldownState) Grant(now time.Time) {
	t := now
	c.LastEmittedAt = &t
	c.EmittedCount++
}

// Copy returns a value that shares nothing with c.
func (c CooldownState) Copy() CooldownState {
	if c.LastEmittedAt != nil {
		t := *c.LastEmittedAt
		c.LastEmittedAt = &t
	}
	return c
}

// Cooldowns holds one state per category.
type Cooldowns map[model.Category]*CooldownState

// NewCooldowns creates fresh session state: zero counts, no timestamps.
func NewCooldowns(limits map[model.Category]Limits) Cooldowns {
	cs := make(Cooldowns, len(model.ValidCategories))
	for cat := range model.ValidCategories {
		l := limits[cat]
		cs[cat] = &CooldownState{Category: cat, Window: l.Window, MaxPerSession: l.MaxPerSession}
	}
	return cs
}

// State returns a copy of the state for a category.
func (cs Cooldowns) State(cat model.Category) CooldownState {
	if s, ok := cs[cat]; ok {
		return s.Copy()
	}
	return CooldownState{Category: cat}
}

// Copy returns a deep copy for reporting.
func (cs Cooldowns) Copy() map[model.Category]CooldownState {
	out := make(map[model.Category]CooldownState, len(cs))
	for k, v := range cs {
		out[k] = v.Copy()
	}
	return out
}
