package out

import (
	"context"

	"intel_server/core/domain"

	"github.com/google/uuid"
)

// =============================================================================
// Metadata / Vector Store
// =============================================================================

// AnalysisRepository persists analysis records keyed by (owner, message id).
// UpsertAnalysis must be a single atomic upsert on that key.
type AnalysisRepository interface {
	UpsertAnalysis(ctx context.Context, ownerID uuid.UUID, record *domain.AnalysisRecord) error
	IsAnalyzed(ctx context.Context, ownerID uuid.UUID, messageID string) (bool, error)
	FilterUnanalyzed(ctx context.Context, ownerID uuid.UUID, messageIDs []string) ([]string, error)
	GetMetadata(ctx context.Context, ownerID uuid.UUID, messageIDs []string, filter *domain.MetadataFilter) ([]*domain.EmailMetadata, error)
}

// EmbeddingRepository persists vectors and answers nearest-neighbor queries.
// NearestNeighbors returns hits ordered by descending similarity.
type EmbeddingRepository interface {
	UpsertEmbedding(ctx context.Context, ownerID uuid.UUID, record *domain.EmbeddingRecord) error
	// GetEmbedding returns nil, nil when the message has no stored vector.
	GetEmbedding(ctx context.Context, ownerID uuid.UUID, messageID string) (*domain.EmbeddingRecord, error)
	NearestNeighbors(ctx context.Context, ownerID uuid.UUID, vector []float32, threshold float64, limit int) ([]domain.Neighbor, error)
}

// IntelStore is the full store capability the pipeline consumes.
type IntelStore interface {
	AnalysisRepository
	EmbeddingRepository
}
