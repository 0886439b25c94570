package learner

import (
	"github.com/rcliao/reflex/internal/model"
	"github.com/rcliao/reflex/internal/normalize"
)

// Classifier assigns a category to a learned input.
type Classifier interface {
	Classify(tokens []string) model.Category
}

// DefaultVocabulary marks small talk as social.
var DefaultVocabulary = map[model.Category][]string{
	model.CategorySocial: {
		"hello", "hi", "hey", "thanks", "thank", "bye", "goodbye",
		"morning", "night", "love", "sorry",
	},
}

// KeywordClassifier picks the category of the first input token found in
// its vocabulary, falling back to general.
type KeywordClassifier struct {
	vocab map[string]model.Category
}

// NewKeywordClassifier builds a classifier from a category vocabulary.
func NewKeywordClassifier(vocab map[model.Category][]string) *KeywordClassifier {
	k := &KeywordClassifier{vocab: make(map[string]model.Category)}
	for _, cat := range []model.Category{model.CategorySocial, model.CategoryGeneral} {
		for _, term := range vocab[cat] {
			for _, tok := range normalize.Tokens(term) {
				if _, taken := k.vocab[tok]; !taken {
					k.vocab[tok] = cat
				}
			}
		}
	}
	return k
}

func (k *KeywordClassifier) Classify(tokens []string) model.Category {
	for _, t := range tokens {
		if cat, ok := k.vocab[t]; ok {
			return cat
		}
	}
	return model.CategoryGeneral
}
