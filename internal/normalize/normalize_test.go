package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/reflex/internal/model"
)

func TestTokens(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"empty", "", nil},
		{"whitespace only", "  \t\n ", nil},
		{"lowercases", "Hello There", []string{"hello", "there"}},
		{"strips punctuation", "What is love?!", []string{"what", "is", "love"}},
		{"collapses whitespace", "do   ants\tdream", []string{"do", "ants", "dream"}},
		{"apostrophes removed", "what's up", []string{"whats", "up"}},
		{"wildcard runes stripped from input", "a * b _ c", []string{"a", "b", "c"}},
		{"unicode letters kept", "Grüße, Welt", []string{"grüße", "welt"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Tokens(tt.in)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePattern(t *testing.T) {
	tokens, err := ParsePattern("What is *?")
	require.NoError(t, err)
	require.Len(t, tokens, 3)
	assert.Equal(t, model.Token{Kind: model.TokenLiteral, Text: "what"}, tokens[0])
	assert.Equal(t, model.TokenMulti, tokens[2].Kind)
	assert.Equal(t, "what is *", model.TokensKey(tokens))

	tokens, err = ParsePattern("_ is tired")
	require.NoError(t, err)
	assert.Equal(t, model.TokenSingle, tokens[0].Kind)
}

func TestParsePattern_Rejects(t *testing.T) {
	tests := []struct {
		name string
		in   string
		err  error
	}{
		{"empty", "  ?? ", ErrEmptyPattern},
		{"multi next to multi", "what * * now", ErrAdjacentWildcards},
		{"multi next to single", "tell me * _", ErrAdjacentWildcards},
		{"single next to multi", "_ * please", ErrAdjacentWildcards},
		{"embedded wildcard", "foo* bar", ErrMalformedWildcard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePattern(tt.in)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestParsePattern_AdjacentSinglesAllowed(t *testing.T) {
	tokens, err := ParsePattern("_ _ went home")
	require.NoError(t, err)
	assert.Len(t, tokens, 4)
}

func TestParseTemplateAndRender(t *testing.T) {
	parts, err := ParseTemplate("{0} is {1}, {{really}}", 2)
	require.NoError(t, err)
	assert.Equal(t, "carl is tired, {really}", Render(parts, []string{"carl", "tired"}))

	_, err = ParseTemplate("hi {2}", 2)
	assert.ErrorIs(t, err, ErrCaptureRange)

	_, err = ParseTemplate("hi {x}", 1)
	assert.ErrorIs(t, err, ErrMalformedTemplate)

	_, err = ParseTemplate("hi {0", 1)
	assert.ErrorIs(t, err, ErrMalformedTemplate)
}

func TestLiteralTemplate_KeepsBraces(t *testing.T) {
	parts := LiteralTemplate("set {0} literally")
	assert.Equal(t, "set {0} literally", Render(parts, []string{"ignored"}))
}

func TestBuild(t *testing.T) {
	p, err := Build("What is *", "{0} is a mystery.", model.CategoryGeneral, model.OriginStatic)
	require.NoError(t, err)
	assert.Equal(t, "what is *", p.Source)
	assert.Equal(t, 1, p.WildcardCount())
	assert.Equal(t, "love is a mystery.", Render(p.Template, []string{"love"}))

	_, err = Build("hello", "{0}", model.CategorySocial, model.OriginStatic)
	assert.ErrorIs(t, err, ErrCaptureRange)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("")
	require.NoError(t, err)
	assert.Equal(t, model.CategoryGeneral, c)

	c, err = ParseCategory(" Social ")
	require.NoError(t, err)
	assert.Equal(t, model.CategorySocial, c)

	_, err = ParseCategory("spicy")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}
