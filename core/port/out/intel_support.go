package out

import (
	"context"
	"time"

	"intel_server/core/domain"

	"github.com/google/uuid"
)

// QueryEmbeddingCache caches vectors of free-text search queries.
type QueryEmbeddingCache interface {
	Get(ctx context.Context, model, text string) ([]float32, bool)
	Set(ctx context.Context, model, text string, vector []float32) error
}

// IngestionLock serializes ingestion per owner.
type IngestionLock interface {
	// Acquire returns false when another caller already holds the lock.
	Acquire(ctx context.Context, ownerID uuid.UUID, ttl time.Duration) (bool, error)
	// Extend resets the TTL of a held lock. It returns false when the lock
	// is no longer held by this caller.
	Extend(ctx context.Context, ownerID uuid.UUID, ttl time.Duration) (bool, error)
	Release(ctx context.Context, ownerID uuid.UUID) error
}

// IngestionRunRepository stores batch summaries for audit.
type IngestionRunRepository interface {
	SaveRun(ctx context.Context, run *domain.IngestionRun) error
	ListRuns(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.IngestionRun, error)
}

// KnowledgeGraph receives the entities and topics of each analysis.
type KnowledgeGraph interface {
	RecordAnalysis(ctx context.Context, record *domain.AnalysisRecord) error
}
