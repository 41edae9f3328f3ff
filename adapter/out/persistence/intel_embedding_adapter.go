package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"intel_server/core/domain"
	"intel_server/core/port/out"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// =============================================================================
// Embedding Adapter (pgvector)
// =============================================================================

// EmbeddingAdapter implements out.EmbeddingRepository on email_embeddings.
type EmbeddingAdapter struct {
	pool *pgxpool.Pool
}

func NewEmbeddingAdapter(pool *pgxpool.Pool) *EmbeddingAdapter {
	return &EmbeddingAdapter{pool: pool}
}

func (a *EmbeddingAdapter) UpsertEmbedding(ctx context.Context, ownerID uuid.UUID, rec *domain.EmbeddingRecord) error {
	if len(rec.Vector) == 0 {
		return errors.New("empty embedding vector")
	}
	query := `
		INSERT INTO email_embeddings (user_id, message_id, thread_id, embedding, embedding_text, model, updated_at)
		VALUES ($1, $2, $3, $4::vector, $5, $6, NOW())
		ON CONFLICT (user_id, message_id) DO UPDATE SET
			thread_id = EXCLUDED.thread_id,
			embedding = EXCLUDED.embedding,
			embedding_text = EXCLUDED.embedding_text,
			model = EXCLUDED.model,
			updated_at = NOW()`

	_, err := a.pool.Exec(ctx, query,
		ownerID, rec.MessageID, rec.ThreadID, pgVector(rec.Vector), rec.Text, rec.Model,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert embedding: %w", err)
	}
	return nil
}

// GetEmbedding returns nil, nil when the message has no vector.
func (a *EmbeddingAdapter) GetEmbedding(ctx context.Context, ownerID uuid.UUID, messageID string) (*domain.EmbeddingRecord, error) {
	query := `
		SELECT thread_id, embedding::text, embedding_text, model
		FROM email_embeddings
		WHERE user_id = $1 AND message_id = $2`

	rec := &domain.EmbeddingRecord{OwnerID: ownerID, MessageID: messageID}
	var raw string
	err := a.pool.QueryRow(ctx, query, ownerID, messageID).Scan(&rec.ThreadID, &raw, &rec.Text, &rec.Model)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get embedding: %w", err)
	}

	rec.Vector, err = parseVector(raw)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// NearestNeighbors ranks by cosine distance; similarity is 1 - distance.
func (a *EmbeddingAdapter) NearestNeighbors(ctx context.Context, ownerID uuid.UUID, vector []float32, threshold float64, limit int) ([]domain.Neighbor, error) {
	query := `
		SELECT message_id, thread_id, 1 - (embedding <=> $2::vector) AS similarity
		FROM email_embeddings
		WHERE user_id = $1
		AND 1 - (embedding <=> $2::vector) >= $3
		ORDER BY embedding <=> $2::vector
		LIMIT $4`

	rows, err := a.pool.Query(ctx, query, ownerID, pgVector(vector), threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query neighbors: %w", err)
	}
	defer rows.Close()

	neighbors := []domain.Neighbor{}
	for rows.Next() {
		var n domain.Neighbor
		if err := rows.Scan(&n.MessageID, &n.ThreadID, &n.Similarity); err != nil {
			return nil, err
		}
		neighbors = append(neighbors, n)
	}
	return neighbors, rows.Err()
}

// pgVector converts float32 slice to pgvector text format.
func pgVector(v []float32) string {
	buf := make([]byte, 0, len(v)*13+2)
	buf = append(buf, '[')
	for i, f := range v {
		if i > 0 {
			buf = append(buf, ',')
		}
		buf = strconv.AppendFloat(buf, float64(f), 'f', -1, 32)
	}
	buf = append(buf, ']')
	return string(buf)
}

// parseVector reads pgvector text output such as "[0.1,-2,3e-05]".
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, fmt.Errorf("malformed vector %q", s)
	}
	body := s[1 : len(s)-1]
	if body == "" {
		return []float32{}, nil
	}

	parts := strings.Split(body, ",")
	vec := make([]float32, len(parts))
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return nil, fmt.Errorf("malformed vector element %q: %w", p, err)
		}
		vec[i] = float32(f)
	}
	return vec, nil
}

var _ out.EmbeddingRepository = (*EmbeddingAdapter)(nil)
