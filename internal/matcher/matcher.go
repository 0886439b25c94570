// Package matcher aligns normalized input against reflex patterns and
// ranks the successful alignments deterministically.
package matcher

import (
	"errors"
	"sort"
	"strings"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
	"github.com/rcliao/reflex/internal/patterns"
)

// DefaultMaxSteps bounds the backtracking work spent on a single pattern.
const DefaultMaxSteps = 10000

// errStepBudget marks an alignment abandoned on a pathological input. It
// is treated as "no match" and never leaves this package.
var errStepBudget = errors.New("match step budget exceeded")

// Matcher runs wildcard alignment with a per-pattern step budget.
type Matcher struct {
	MaxSteps int
}

// New returns a matcher; maxSteps <= 0 selects DefaultMaxSteps.
func New(maxSteps int) *Matcher {
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}
	return &Matcher{MaxSteps: maxSteps}
}

// Match returns every pattern in the snapshot that aligns with the input,
// best candidate first.
func (m *Matcher) Match(snap *patterns.Snapshot, input []string) []model.MatchCandidate {
	if len(input) == 0 || snap == nil {
		return nil
	}
	var out []model.MatchCandidate
	for _, p := range snap.Patterns() {
		captures, ok := m.Align(p.Tokens, input)
		if !ok {
			continue
		}
		out = append(out, model.MatchCandidate{
			PatternID:         p.ID,
			Captures:          captures,
			LiteralTokenRatio: float64(p.LiteralCount()) / float64(len(p.Tokens)),
			Pattern:           p,
		})
	}
	Rank(out)
	return out
}

// Best returns the top-ranked candidate.
func (m *Matcher) Best(snap *patterns.Snapshot, input []string) (model.MatchCandidate, bool) {
	c := m.Match(snap, input)
	if len(c) == 0 {
		return model.MatchCandidate{}, false
	}
	return c[0], true
}

// Align reports whether tokens cover the whole input and returns the
// captures in wildcard order.
func (m *Matcher) Align(tokens []model.Token, input []string) ([]string, bool) {
	a := aligner{tokens: tokens, input: input, budget: m.MaxSteps}
	ok, err := a.run(0, 0)
	if err != nil || !ok {
		return nil, false
	}
	return a.captures(), true
}

type span struct{ start, end int }

type aligner struct {
	tokens []model.Token
	input  []string
	budget int
	spans  []span
}

// run aligns tokens[ti:] with input[ii:]. "*" tries the longest span
// first and gives tokens back while later tokens fail.
func (a *aligner) run(ti, ii int) (bool, error) {
	a.budget--
	if a.budget < 0 {
		return false, errStepBudget
	}
	if ti == len(a.tokens) {
		return ii == len(a.input), nil
	}
	// Every remaining token needs at least one input token.
	if len(a.tokens)-ti > len(a.input)-ii {
		return false, nil
	}

	tok := a.tokens[ti]
	switch tok.Kind {
	case model.TokenLiteral:
		if a.input[ii] != tok.Text {
			return false, nil
		}
		return a.run(ti+1, ii+1)

	case model.TokenSingle:
		a.spans = append(a.spans, span{ii, ii + 1})
		ok, err := a.run(ti+1, ii+1)
		if ok || err != nil {
			return ok, err
		}
		a.spans = a.spans[:len(a.spans)-1]
		return false, nil

	default:
		reserved := len(a.tokens) - ti - 1
		for end := len(a.input) - reserved; end > ii; end-- {
			a.spans = append(a.spans, span{ii, end})
			ok, err := a.run(ti+1, end)
			if ok || err != nil {
				return ok, err
			}
			a.spans = a.spans[:len(a.spans)-1]
		}
		return false, nil
	}
}

func (a *aligner) captures() []string {
	out := make([]string, len(a.spans))
	for i, s := range a.spans {
		out[i] = strings.Join(a.input[s.start:s.end], " ")
	}
	return out
}

// Rank orders candidates: higher literal ratio, then most recently used
// (never-used last), then static before learned, then insertion order.
func Rank(c []model.MatchCandidate) {
	sort.SliceStable(c, func(i, j int) bool {
		return less(c[i], c[j])
	})
}

func less(a, b model.MatchCandidate) bool {
	if a.LiteralTokenRatio != b.LiteralTokenRatio {
		return a.LiteralTokenRatio > b.LiteralTokenRatio
	}
	au, bu := a.Pattern.LastUsedAt, b.Pattern.LastUsedAt
	switch {
	case au != nil && bu == nil:
		return true
	case au == nil && bu != nil:
		return false
	case au != nil && bu != nil && !au.Equal(*bu):
		return au.After(*bu)
	}
	if a.Pattern.Origin != b.Pattern.Origin {
		return a.Pattern.Origin == model.OriginStatic
	}
	return a.Pattern.Seq < b.Pattern.Seq
}

// Render substitutes the candidate's captures into its response template.
func Render(c model.MatchCandidate) string {
	return normalize.Render(c.Pattern.Template, c.Captures)
}
