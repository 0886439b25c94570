package gate

import "github.com/rcliao/reflex/internal/normalize"

// DefaultWindowSize is the number of recent turns kept for context gating.
const DefaultWindowSize = 5

// ContextWindow is a bounded FIFO of recent raw inputs.
type ContextWindow struct {
	turns []string
	cap   int
}

// NewContextWindow creates a window; size <= 0 selects DefaultWindowSize.
func NewContextWindow(size int) *ContextWindow {
	if size <= 0 {
		size = DefaultWindowSize
	}
	return &ContextWindow{cap: size}
}

// Push appends a turn, evicting the oldest beyond capacity.
func (w *ContextWindow) Push(raw string) {
	w.turns = append(w.turns, raw)
	if len(w.turns) > w.cap {
		w.turns = append([]string(nil), w.turns[len(w.turns)-w.cap:]...)
	}
}

// Turns returns the held turns, oldest first.
func (w ContextWindow) Turns() []string {
	return append([]string(nil), w.turns...)
}

// Tokens returns the normalized tokens of every held turn.
func (w ContextWindow) Tokens() []string {
	var out []string
	for _, t := range w.turns {
		out = append(out, normalize.Tokens(t)...)
	}
	return out
}

// Len returns the number of held turns.
func (w ContextWindow) Len() int { return len(w.turns) }

// Cap returns the capacity.
func (w ContextWindow) Cap() int { return w.cap }

// Copy returns an independent window.
func (w ContextWindow) Copy() ContextWindow {
	return ContextWindow{turns: append([]string(nil), w.turns...), cap: w.cap}
}
