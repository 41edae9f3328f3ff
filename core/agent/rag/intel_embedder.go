package rag

import (
	"context"
	"math"

	"intel_server/core/domain"
	"intel_server/core/port/out"
	"intel_server/pkg/logger"

	"github.com/google/uuid"
)

// Embedder produces vectors for analyses and search queries.
type Embedder struct {
	provider out.EmbeddingProvider
	cache    out.QueryEmbeddingCache
}

// NewEmbedder creates an embedder. cache may be nil.
func NewEmbedder(provider out.EmbeddingProvider, cache out.QueryEmbeddingCache) *Embedder {
	return &Embedder{provider: provider, cache: cache}
}

func (e *Embedder) Model() string   { return e.provider.Model() }
func (e *Embedder) Dimensions() int { return e.provider.Dimensions() }

// Embed returns the vector for text without caching.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return e.provider.Embed(ctx, text)
}

// EmbedQuery embeds free-text search input, consulting the cache first.
func (e *Embedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	model := e.provider.Model()
	if e.cache != nil {
		if vec, ok := e.cache.Get(ctx, model, query); ok && len(vec) == e.provider.Dimensions() {
			return vec, nil
		}
	}

	vec, err := e.provider.Embed(ctx, query)
	if err != nil {
		return nil, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, model, query, vec); err != nil {
			logger.WithError(err).Warn("[Embedder] failed to cache query embedding")
		}
	}
	return vec, nil
}

// EmbedAnalysis builds the canonical text of an analysis and embeds it.
func (e *Embedder) EmbedAnalysis(ctx context.Context, ownerID uuid.UUID, rec *domain.AnalysisRecord) (*domain.EmbeddingRecord, error) {
	text := BuildEmbeddingText(FieldsFromRecord(rec))
	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	return &domain.EmbeddingRecord{
		OwnerID:   ownerID,
		MessageID: rec.MessageID,
		ThreadID:  rec.ThreadID,
		Vector:    vec,
		Text:      text,
		Model:     e.provider.Model(),
	}, nil
}

// CosineSimilarity returns the cosine of the angle between a and b. It is 0
// for mismatched lengths, empty input or a zero-magnitude vector.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64

	for i := range a {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
	return math.Max(-1, math.Min(1, sim))
}
