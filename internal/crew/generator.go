package crew

import "context"

// SentenceCountInput is the kickoff input the poem crew interpolates.
const SentenceCountInput = "sentence_count"

// PoemGenerator writes poems by kicking off a crew.
type PoemGenerator struct {
	crew *Crew
}

// NewPoemGenerator wraps c.
func NewPoemGenerator(c *Crew) *PoemGenerator {
	return &PoemGenerator{crew: c}
}

// Generate kicks off the crew with the sentence count and returns its raw
// output.
func (g *PoemGenerator) Generate(ctx context.Context, sentenceCount int) (string, error) {
	out, err := g.crew.Kickoff(ctx, map[string]any{SentenceCountInput: sentenceCount})
	if err != nil {
		return "", err
	}
	return out.Raw, nil
}
