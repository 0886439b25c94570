// Package normalize turns raw text into tokens and parses pattern and
// response-template definitions.
package normalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/rcliao/reflex/internal/model"
)

var (
	ErrEmptyPattern      = errors.New("pattern has no tokens")
	ErrAdjacentWildcards = errors.New("multi wildcard adjacent to another wildcard")
	ErrMalformedWildcard = errors.New("wildcard must be a standalone token")
	ErrCaptureRange      = errors.New("template references a capture the pattern does not produce")
	ErrMalformedTemplate = errors.New("malformed template placeholder")
	ErrUnknownCategory   = errors.New("unknown category")
)

// Tokens normalizes raw input: lower-case, punctuation stripped,
// whitespace collapsed, split on whitespace.
func Tokens(raw string) []string {
	return fields(raw, false)
}

// Text returns the normalized form of raw joined by single spaces.
func Text(raw string) string {
	return strings.Join(Tokens(raw), " ")
}

// fields does the shared work for inputs and pattern text. Pattern text
// keeps '*' and '_' so wildcards survive.
func fields(raw string, keepWildcards bool) []string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range strings.ToLower(raw) {
		switch {
		case unicode.IsLetter(r), unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		case keepWildcards && (r == '*' || r == '_'):
			b.WriteRune(r)
		}
	}
	return strings.Fields(b.String())
}

// ParsePattern parses pattern text where "*" matches one or more tokens
// and "_" matches exactly one.
func ParsePattern(text string) ([]model.Token, error) {
	words := fields(text, true)
	if len(words) == 0 {
		return nil, ErrEmptyPattern
	}
	tokens := make([]model.Token, 0, len(words))
	for _, w := range words {
		switch {
		case w == "*":
			tokens = append(tokens, model.Token{Kind: model.TokenMulti})
		case w == "_":
			tokens = append(tokens, model.Token{Kind: model.TokenSingle})
		case strings.ContainsAny(w, "*_"):
			return nil, fmt.Errorf("%w: %q", ErrMalformedWildcard, w)
		default:
			tokens = append(tokens, model.Token{Kind: model.TokenLiteral, Text: w})
		}
	}
	if err := ValidateTokens(tokens); err != nil {
		return nil, err
	}
	return tokens, nil
}

// LiteralTokens builds a fully literal token sequence from normalized words.
func LiteralTokens(words []string) []model.Token {
	tokens := make([]model.Token, len(words))
	for i, w := range words {
		tokens[i] = model.Token{Kind: model.TokenLiteral, Text: w}
	}
	return tokens
}

// ValidateTokens enforces the structural invariants: non-empty, and no
// "*" next to another wildcard (the split between them would be ambiguous).
func ValidateTokens(tokens []model.Token) error {
	if len(tokens) == 0 {
		return ErrEmptyPattern
	}
	for i := 1; i < len(tokens); i++ {
		prev, cur := tokens[i-1], tokens[i]
		if !prev.IsWildcard() || !cur.IsWildcard() {
			continue
		}
		if prev.Kind == model.TokenMulti || cur.Kind == model.TokenMulti {
			return fmt.Errorf("%w at position %d", ErrAdjacentWildcards, i)
		}
	}
	return nil
}

// ParseTemplate parses a response template. "{k}" references the k-th
// capture (0-based); "{{" and "}}" are literal braces.
func ParseTemplate(text string, captures int) ([]model.TemplatePart, error) {
	var parts []model.TemplatePart
	var lit strings.Builder

	flush := func() {
		if lit.Len() > 0 {
			parts = append(parts, model.TemplatePart{Literal: lit.String(), Capture: -1})
			lit.Reset()
		}
	}

	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case c == '{' && i+1 < len(text) && text[i+1] == '{':
			lit.WriteByte('{')
			i++
		case c == '}' && i+1 < len(text) && text[i+1] == '}':
			lit.WriteByte('}')
			i++
		case c == '{':
			end := strings.IndexByte(text[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("%w at offset %d", ErrMalformedTemplate, i)
			}
			k, err := strconv.Atoi(text[i+1 : i+end])
			if err != nil || k < 0 {
				return nil, fmt.Errorf("%w %q", ErrMalformedTemplate, text[i:i+end+1])
			}
			if k >= captures {
				return nil, fmt.Errorf("%w: {%d} with %d captures", ErrCaptureRange, k, captures)
			}
			flush()
			parts = append(parts, model.TemplatePart{Capture: k})
			i += end
		default:
			lit.WriteByte(c)
		}
	}
	flush()
	return parts, nil
}

// LiteralTemplate wraps text verbatim; braces are not interpreted.
func LiteralTemplate(text string) []model.TemplatePart {
	return []model.TemplatePart{{Literal: text, Capture: -1}}
}

// Render substitutes captures into the template by positional index.
func Render(parts []model.TemplatePart, captures []string) string {
	var b strings.Builder
	for _, p := range parts {
		if p.Capture < 0 {
			b.WriteString(p.Literal)
			continue
		}
		if p.Capture < len(captures) {
			b.WriteString(captures[p.Capture])
		}
	}
	return b.String()
}

// ParseCategory validates a category name; empty means general.
func ParseCategory(s string) (model.Category, error) {
	if s == "" {
		return model.CategoryGeneral, nil
	}
	c := model.Category(strings.ToLower(strings.TrimSpace(s)))
	if !model.ValidCategories[c] {
		return "", fmt.Errorf("%w %q", ErrUnknownCategory, s)
	}
	return c, nil
}

// Build parses pattern text and response text into a Pattern with the
// given origin. ID, Seq and timestamps are left for the store to assign.
func Build(patternText, response string, category model.Category, origin model.Origin) (model.Pattern, error) {
	tokens, err := ParsePattern(patternText)
	if err != nil {
		return model.Pattern{}, err
	}
	p := model.Pattern{
		Tokens:   tokens,
		Source:   model.TokensKey(tokens),
		Response: response,
		Category: category,
		Origin:   origin,
	}
	tmpl, err := ParseTemplate(response, p.WildcardCount())
	if err != nil {
		return model.Pattern{}, err
	}
	p.Template = tmpl
	return p, nil
}

// Validate rebuilds derived fields from the stored source text when needed
// and enforces the structural invariants of a stored pattern: well-formed
// wildcards, a known category and template captures within range.
func Validate(p *model.Pattern) error {
	if len(p.Tokens) == 0 {
		tokens, err := ParsePattern(p.Source)
		if err != nil {
			return err
		}
		p.Tokens = tokens
	}
	if err := ValidateTokens(p.Tokens); err != nil {
		return err
	}
	p.Source = model.TokensKey(p.Tokens)
	if p.Category == "" {
		p.Category = model.CategoryGeneral
	}
	if !model.ValidCategories[p.Category] {
		return fmt.Errorf("%w %q", ErrUnknownCategory, p.Category)
	}
	if len(p.Template) == 0 {
		p.Template = LiteralTemplate(p.Response)
	}
	for _, part := range p.Template {
		if part.Capture >= p.WildcardCount() {
			return fmt.Errorf("%w: {%d}", ErrCaptureRange, part.Capture)
		}
	}
	return nil
}
