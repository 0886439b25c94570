package collab

import (
	"context"
	"strings"

	"github.com/rcliao/reflex/internal/engine"
)

// LearnMarker flags a generated answer as safe to learn.
const LearnMarker = "[[learn]]"

// TextGenerator is a generator that can only return text.
type TextGenerator interface {
	Generate(ctx context.Context, input string) (string, error)
}

// TextGeneratorFunc adapts a function to TextGenerator.
type TextGeneratorFunc func(ctx context.Context, input string) (string, error)

func (f TextGeneratorFunc) Generate(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// MarkerFallback turns a text-only generator into a Fallback. An answer
// containing LearnMarker is learnable; the marker never reaches the caller.
type MarkerFallback struct {
	gen TextGenerator
}

func NewMarkerFallback(gen TextGenerator) *MarkerFallback {
	return &MarkerFallback{gen: gen}
}

func (m *MarkerFallback) Generate(ctx context.Context, input string) (string, bool, error) {
	text, err := m.gen.Generate(ctx, input)
	if err != nil {
		return "", false, err
	}
	text, learnable := StripMarker(text)
	return text, learnable, nil
}

// StripMarker removes every LearnMarker from text and reports whether one was present.
func StripMarker(text string) (string, bool) {
	if !strings.Contains(text, LearnMarker) {
		return text, false
	}
	return strings.TrimSpace(strings.ReplaceAll(text, LearnMarker, "")), true
}

// TextOnly drops the structured learnable flag of a Fallback, for
// services that signal learnability in the text instead.
func TextOnly(f engine.Fallback) TextGenerator {
	return TextGeneratorFunc(func(ctx context.Context, input string) (string, error) {
		text, _, err := f.Generate(ctx, input)
		return text, err
	})
}
