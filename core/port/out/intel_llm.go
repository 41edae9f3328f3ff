package out

import "context"

// LLMProvider returns free-form text expected to contain JSON. Output may be
// truncated or malformed; quota failures wrap ErrRateLimited.
type LLMProvider interface {
	Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// EmbeddingProvider maps text to a fixed-length vector.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
	Dimensions() int
}
