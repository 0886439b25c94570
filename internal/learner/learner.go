// Package learner turns learnable fallback answers into literal reflex patterns.
package learner

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

// DefaultMinTokens rejects inputs too short to be a safe literal reflex.
const DefaultMinTokens = 2

// Inserter is the part of the pattern store the learner writes through.
type Inserter interface {
	Insert(ctx context.Context, p model.Pattern) (model.Pattern, bool, error)
}

// Learner converts learning candidates into learned patterns.
type Learner struct {
	store      Inserter
	classifier Classifier
	minTokens  int
}

// New creates a learner. A nil classifier classifies everything as general.
func New(store Inserter, classifier Classifier, minTokens int) *Learner {
	if classifier == nil {
		classifier = NewKeywordClassifier(nil)
	}
	if minTokens <= 0 {
		minTokens = DefaultMinTokens
	}
	return &Learner{store: store, classifier: classifier, minTokens: minTokens}
}

// Candidate builds a learning candidate from a raw input and the answer it got.
func (l *Learner) Candidate(input, response string) model.LearningCandidate {
	tokens := normalize.Tokens(input)
	return model.LearningCandidate{
		Tokens:   tokens,
		Response: response,
		Category: l.classifier.Classify(tokens),
	}
}

// Learn inserts a fully literal pattern for the candidate. It reports false
// when the input is too short, the response is empty, or an equivalent
// pattern already exists.
func (l *Learner) Learn(ctx context.Context, c model.LearningCandidate) (model.Pattern, bool) {
	if len(c.Tokens) < l.minTokens {
		log.Debug().Int("tokens", len(c.Tokens)).Int("min", l.minTokens).Msg("learning candidate too short")
		return model.Pattern{}, false
	}
	if c.Response == "" {
		return model.Pattern{}, false
	}
	category := c.Category
	if category == "" {
		category = l.classifier.Classify(c.Tokens)
	}

	p, ok, err := l.store.Insert(ctx, model.Pattern{
		Tokens:   normalize.LiteralTokens(c.Tokens),
		Template: normalize.LiteralTemplate(c.Response),
		Response: c.Response,
		Category: category,
		Origin:   model.OriginLearned,
	})
	if err != nil {
		log.Warn().Err(err).Strs("tokens", c.Tokens).Msg("learned pattern rejected")
		return model.Pattern{}, false
	}
	if !ok {
		return model.Pattern{}, false
	}
	log.Info().Str("pattern_id", p.ID).Str("pattern", p.Source).Str("category", string(p.Category)).Msg("learned new reflex")
	return p, true
}
