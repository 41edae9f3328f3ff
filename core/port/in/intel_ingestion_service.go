package in

import (
	"context"

	"intel_server/core/domain"

	"github.com/google/uuid"
)

// IngestionService turns mailbox messages into stored analyses.
type IngestionService interface {
	IngestBulk(ctx context.Context, ownerID uuid.UUID, req *BulkIngestRequest) (*BulkIngestResult, error)
	IngestMessages(ctx context.Context, ownerID uuid.UUID, req *TargetedIngestRequest) (*TargetedIngestResult, error)
	ListRuns(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.IngestionRun, error)
}

type BulkIngestRequest struct {
	LabelScope string `json:"labelScope"`
	DaysBack   int    `json:"daysBack"`
}

// BulkIngestResult summarizes a bulk run. Per-message failures are counted,
// never returned as an error.
type BulkIngestResult struct {
	RunID       uuid.UUID                 `json:"runId"`
	Total       int                       `json:"total"`
	Unanalyzed  int                       `json:"unanalyzed"`
	Analyzed    int                       `json:"analyzed"`
	Errors      int                       `json:"errors"`
	RateLimited bool                      `json:"rateLimited"`
	Cancelled   bool                      `json:"cancelled"`
	Failures    []domain.IngestionFailure `json:"failures,omitempty"`
}

type TargetedIngestRequest struct {
	MessageIDs     []string `json:"messageIds"`
	ForceReanalyze bool     `json:"forceReanalyze"`
}

type TargetedIngestResult struct {
	RunID       uuid.UUID                 `json:"runId"`
	Processed   int                       `json:"processed"`
	Skipped     int                       `json:"skipped"`
	Errors      []domain.IngestionFailure `json:"errors"`
	Results     []*domain.AnalysisRecord  `json:"results"`
	RateLimited bool                      `json:"rateLimited"`
	Cancelled   bool                      `json:"cancelled"`
}
