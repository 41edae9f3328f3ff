package in

import (
	"context"
	"time"

	"intel_server/core/domain"

	"github.com/google/uuid"
)

// RetrievalService answers similarity questions over stored embeddings.
type RetrievalService interface {
	FindRelated(ctx context.Context, ownerID uuid.UUID, req *RelatedRequest) (*RelatedResult, error)
	Search(ctx context.Context, ownerID uuid.UUID, req *SearchRequest) (*SearchResult, error)
}

type RelatedRequest struct {
	MessageID string   `json:"messageId"`
	Limit     int      `json:"limit,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
}

type RelatedResult struct {
	SourceEmail    *domain.EmailMetadata     `json:"sourceEmail"`
	RelatedEmails  []domain.SimilarityResult `json:"relatedEmails"`
	SharedTopics   []string                  `json:"sharedTopics"`
	SharedEntities []string                  `json:"sharedEntities"`
}

type SearchRequest struct {
	Query   string                 `json:"query"`
	Filters *domain.MetadataFilter `json:"filters,omitempty"`
	Limit   int                    `json:"limit,omitempty"`
}

type SearchHit struct {
	ID         string          `json:"id"`
	ThreadID   string          `json:"threadId,omitempty"`
	Subject    string          `json:"subject"`
	Snippet    string          `json:"snippet"`
	Similarity float64         `json:"similarity"`
	Category   domain.Category `json:"category"`
	Date       time.Time       `json:"date"`
}

type SearchResult struct {
	Results    []SearchHit `json:"results"`
	TotalCount int         `json:"totalCount"`
}
