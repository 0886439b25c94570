// Package model defines the core reflex data types.
package model

import (
	"strings"
	"time"
)

// Category groups patterns for admission control.
type Category string

const (
	CategorySocial  Category = "social"
	CategoryGeneral Category = "general"
)

// Origin records where a pattern came from.
type Origin string

const (
	OriginStatic  Origin = "static"
	OriginLearned Origin = "learned"
)

// Stage is the pipeline stage that produced a response.
type Stage string

const (
	StageReflex   Stage = "reflex"
	StageFallback Stage = "fallback"
	StageFull     Stage = "full"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{StageReflex, StageFallback, StageFull}

// TokenKind distinguishes literal tokens from wildcards.
type TokenKind int

const (
	TokenLiteral TokenKind = iota
	TokenMulti             // "*": one or more input tokens
	TokenSingle            // "_": exactly one input token
)

// Token is one element of a pattern.
type Token struct {
	Kind TokenKind `json:"kind"`
	Text string    `json:"text,omitempty"`
}

// String returns the canonical pattern text for the token.
func (t Token) String() string {
	switch t.Kind {
	case TokenMulti:
		return "*"
	case TokenSingle:
		return "_"
	default:
		return t.Text
	}
}

// IsWildcard reports whether the token captures input.
func (t Token) IsWildcard() bool {
	return t.Kind == TokenMulti || t.Kind == TokenSingle
}

// TemplatePart is one element of a response template. Capture is -1 for literal text.
type TemplatePart struct {
	Literal string `json:"literal,omitempty"`
	Capture int    `json:"capture"`
}

// Pattern is a reflex: a token sequence and the response it produces.
type Pattern struct {
	ID         string         `json:"id"`
	Tokens     []Token        `json:"-"`
	Template   []TemplatePart `json:"template,omitempty"`
	Source     string         `json:"pattern"`
	Response   string         `json:"response"`
	Category   Category       `json:"category"`
	Origin     Origin         `json:"origin"`
	CreatedAt  time.Time      `json:"created_at"`
	LastUsedAt *time.Time     `json:"last_used_at,omitempty"`
	UseCount   int            `json:"use_count"`
	Seq        int64          `json:"-"`
}

// Key returns the structural identity of the pattern used for deduplication.
func (p Pattern) Key() string {
	return TokensKey(p.Tokens)
}

// LiteralCount returns the number of literal tokens.
func (p Pattern) LiteralCount() int {
	n := 0
	for _, t := range p.Tokens {
		if !t.IsWildcard() {
			n++
		}
	}
	return n
}

// WildcardCount returns the number of capturing tokens.
func (p Pattern) WildcardCount() int {
	return len(p.Tokens) - p.LiteralCount()
}

// Clone returns a deep copy so callers never share slices with the store.
func (p Pattern) Clone() Pattern {
	c := p
	c.Tokens = append([]Token(nil), p.Tokens...)
	c.Template = append([]TemplatePart(nil), p.Template...)
	if p.LastUsedAt != nil {
		t := *p.LastUsedAt
		c.LastUsedAt = &t
	}
	return c
}

// TokensKey joins tokens into their canonical text.
func TokensKey(tokens []Token) string {
	parts := make([]string, len(tokens))
	for i, t := range tokens {
		parts[i] = t.String()
	}
	return strings.Join(parts, " ")
}

// MatchCandidate is a successful alignment of an input against a pattern.
type MatchCandidate struct {
	PatternID         string   `json:"pattern_id"`
	Captures          []string `json:"captures"`
	LiteralTokenRatio float64  `json:"literal_token_ratio"`
	Pattern           Pattern  `json:"pattern"`
}

// LearningCandidate is a fallback answer that may become a learned pattern.
type LearningCandidate struct {
	Tokens   []string
	Response string
	Category Category
}

// Turn is the record of one served turn handed to the turn logger.
type Turn struct {
	ID        string        `json:"id"`
	SessionID string        `json:"session_id"`
	Input     string        `json:"input"`
	Stage     Stage         `json:"stage"`
	Response  string        `json:"response"`
	PatternID string        `json:"pattern_id,omitempty"`
	Latency   time.Duration `json:"latency_ns"`
	At        time.Time     `json:"at"`
}

// ValidCategories are the allowed pattern categories.
var ValidCategories = map[Category]bool{
	CategorySocial:  true,
	CategoryGeneral: true,
}

// ValidOrigins are the allowed pattern origins.
var ValidOrigins = map[Origin]bool{
	OriginStatic:  true,
	OriginLearned: true,
}
