package matcher

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
	"github.com/rcliao/reflex/internal/patterns"
)

func staticStore(t *testing.T, yamlText string) *patterns.Store {
	t.Helper()
	s := patterns.New(nil)
	t.Cleanup(s.Close)
	report, err := s.LoadStatic(strings.NewReader(yamlText))
	require.NoError(t, err)
	require.Zero(t, report.Skipped)
	return s
}

func tokens(t *testing.T, text string) []model.Token {
	t.Helper()
	tk, err := normalize.ParsePattern(text)
	require.NoError(t, err)
	return tk
}

func TestAlign(t *testing.T) {
	m := New(0)
	tests := []struct {
		pattern  string
		input    string
		ok       bool
		captures []string
	}{
		{"what is *", "what is love", true, []string{"love"}},
		{"what is *", "what is the meaning of life", true, []string{"the meaning of life"}},
		{"what is *", "what is", false, nil},
		{"_ is tired", "carl is tired", true, []string{"carl"}},
		{"_ is tired", "carl sagan is tired", false, nil},
		{"* is *", "the cat is on the mat", true, []string{"the cat", "on the mat"}},
		{"* is *", "this is what it is", true, []string{"this", "what it is"}},
		{"_ _ went home", "anna lee went home", true, []string{"anna", "lee"}},
		{"hello", "hello there", false, nil},
		{"hello", "hello", true, []string{}},
		{"tell me about * please", "tell me about the war please", true, []string{"the war"}},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+"/"+tt.input, func(t *testing.T) {
			got, ok := m.Align(tokens(t, tt.pattern), normalize.Tokens(tt.input))
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.captures, got)
			}
		})
	}
}

func TestAlign_MultiIsGreedy(t *testing.T) {
	got, ok := New(0).Align(tokens(t, "* is *"), normalize.Tokens("this is what it is now"))
	require.True(t, ok)
	assert.Equal(t, []string{"this is what it", "now"}, got)
}

func TestAlign_StepBudgetMeansNoMatch(t *testing.T) {
	pat := tokens(t, "* a * a * c")
	input := normalize.Tokens(strings.Repeat("a ", 10) + "c")

	_, ok := New(5).Align(pat, input)
	assert.False(t, ok, "budget exhausted is treated as no match")

	got, ok := New(0).Align(pat, input)
	require.True(t, ok)
	assert.Len(t, got, 3)
}

func TestAlign_PathologicalInputTerminates(t *testing.T) {
	pat := tokens(t, "* a * a * a * a * b")
	input := normalize.Tokens(strings.Repeat("a ", 200))
	done := make(chan bool, 1)
	go func() {
		_, ok := New(0).Align(pat, input)
		done <- ok
	}()
	select {
	case ok := <-done:
		assert.False(t, ok)
	case <-time.After(5 * time.Second):
		t.Fatal("alignment did not terminate")
	}
}

func TestMatch_RendersCaptures(t *testing.T) {
	s := staticStore(t, `
- pattern: "what is *"
  response: "{0} is a mystery."
- pattern: "_ is tired"
  response: "Maybe {0} should rest."
`)
	m := New(0)

	best, ok := m.Best(s.Snapshot(), normalize.Tokens("What is love?"))
	require.True(t, ok)
	assert.Equal(t, []string{"love"}, best.Captures)
	assert.Equal(t, "love is a mystery.", Render(best))
	assert.InDelta(t, 2.0/3.0, best.LiteralTokenRatio, 1e-9)

	best, ok = m.Best(s.Snapshot(), normalize.Tokens("Carl is tired."))
	require.True(t, ok)
	assert.Equal(t, "Maybe carl should rest.", Render(best))

	_, ok = m.Best(s.Snapshot(), normalize.Tokens("nothing matches this"))
	assert.False(t, ok)
}

func TestMatch_HigherLiteralRatioWins(t *testing.T) {
	s := staticStore(t, `
- pattern: "what is *"
  response: "generic"
- pattern: "what is love"
  response: "baby don't hurt me"
`)
	c := New(0).Match(s.Snapshot(), normalize.Tokens("what is love"))
	require.Len(t, c, 2)
	assert.Equal(t, "baby don't hurt me", Render(c[0]))
	assert.Equal(t, 1.0, c[0].LiteralTokenRatio)
}

func TestMatch_TieBreakRecencyThenInsertion(t *testing.T) {
	s := staticStore(t, `
- pattern: "* the weather"
  response: "first"
- pattern: "how is *"
  response: "second"
`)
	m := New(0)
	input := normalize.Tokens("how is the weather")

	// Equal ratio, never used: earlier insertion wins.
	c := m.Match(s.Snapshot(), input)
	require.Len(t, c, 2)
	assert.Equal(t, c[0].LiteralTokenRatio, c[1].LiteralTokenRatio)
	assert.Equal(t, "first", Render(c[0]))

	// A used pattern outranks a never-used one.
	second := c[1].PatternID
	now := time.Now()
	s.RecordUse(second, now)
	best, _ := m.Best(s.Snapshot(), input)
	assert.Equal(t, "second", Render(best))

	// The more recently used wins.
	s.RecordUse(c[0].PatternID, now.Add(time.Second))
	best, _ = m.Best(s.Snapshot(), input)
	assert.Equal(t, "first", Render(best))
}

func TestMatch_StaticBeforeLearned(t *testing.T) {
	s := staticStore(t, `
- pattern: "tell me about *"
  response: "static"
`)
	learned := model.Pattern{
		Tokens:   tokens(t, "* me about cats"),
		Response: "learned",
	}
	_, ok, err := s.Insert(context.Background(), learned)
	require.NoError(t, err)
	require.True(t, ok)

	c := New(0).Match(s.Snapshot(), normalize.Tokens("tell me about cats"))
	require.Len(t, c, 2)
	assert.Equal(t, model.OriginStatic, c[0].Pattern.Origin)
}

func TestRank_OriginBeforeInsertionOrder(t *testing.T) {
	c := []model.MatchCandidate{
		{PatternID: "learned", LiteralTokenRatio: 0.5, Pattern: model.Pattern{Origin: model.OriginLearned, Seq: 1}},
		{PatternID: "static", LiteralTokenRatio: 0.5, Pattern: model.Pattern{Origin: model.OriginStatic, Seq: 9}},
		{PatternID: "static-early", LiteralTokenRatio: 0.5, Pattern: model.Pattern{Origin: model.OriginStatic, Seq: 2}},
	}
	Rank(c)
	assert.Equal(t, []string{"static-early", "static", "learned"},
		[]string{c[0].PatternID, c[1].PatternID, c[2].PatternID})
}

func TestMatch_Deterministic(t *testing.T) {
	s := patterns.New(nil)
	t.Cleanup(s.Close)
	_, err := s.LoadDefaults()
	require.NoError(t, err)
	ctx := context.Background()
	for _, text := range []string{"say hello world", "say * world", "* hello world"} {
		p, err := normalize.Build(text, "r:"+text, model.CategoryGeneral, model.OriginLearned)
		require.NoError(t, err)
		_, _, err = s.Insert(ctx, p)
		require.NoError(t, err)
	}

	m := New(0)
	snap := s.Snapshot()
	input := normalize.Tokens("say hello world")
	first, ok := m.Best(snap, input)
	require.True(t, ok)
	for i := 0; i < 20; i++ {
		again, _ := m.Best(snap, input)
		assert.Equal(t, first.PatternID, again.PatternID)
	}
	assert.Equal(t, "r:say hello world", Render(first))
}

func TestMatch_EmptyInput(t *testing.T) {
	s := staticStore(t, "- pattern: hello\n  response: hi\n")
	assert.Empty(t, New(0).Match(s.Snapshot(), nil))
}
