// Package classify decides what an inbound message wants. A deterministic
// rule pass handles greetings, disputes, stock follow-ups and slot
// extraction; everything else goes to the LLM classifier under a hard
// timeout that fails closed.
package classify

import (
	"context"

	"github.com/convoflow/convoflow/pkg/models"
)

// Input is everything the classifier sees for one turn.
type Input struct {
	Text          string
	LastAssistant string
	Session       *models.Session
	Language      models.Language
	Channel       models.Channel
}

// Classifier produces a classification for one turn.
type Classifier interface {
	Classify(ctx context.Context, in Input) (models.Classification, error)
}

// Chain runs the rule pass first and falls through to the backing
// classifier when no rule fires. Extracted slots from the rule pass are
// merged into the fallthrough result.
type Chain struct {
	rules   *RuleClassifier
	backing Classifier
}

// NewChain builds the standard rules-then-LLM chain.
func NewChain(rules *RuleClassifier, backing Classifier) *Chain {
	return &Chain{rules: rules, backing: backing}
}

// Classify implements Classifier.
func (c *Chain) Classify(ctx context.Context, in Input) (models.Classification, error) {
	if result, ok := c.rules.Apply(in); ok {
		return result, nil
	}
	result, err := c.backing.Classify(ctx, in)
	if err != nil {
		return result, err
	}
	// Deterministic slot extraction wins over model extraction; regexes do
	// not hallucinate order numbers.
	for name, value := range ExtractSlots(in.Text) {
		if result.Slots == nil {
			result.Slots = make(map[string]string)
		}
		result.Slots[name] = value
	}
	return result, nil
}
