package mongodb

import (
	"context"
	"fmt"
	"time"

	"intel_server/core/domain"
	"intel_server/core/port/out"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	collectionRuns = "ingestion_runs"

	defaultRunLimit = 20
	maxRunLimit     = 200
)

// RunAdapter implements out.IngestionRunRepository using MongoDB.
type RunAdapter struct {
	collection *mongo.Collection
}

func NewRunAdapter(db *mongo.Database) *RunAdapter {
	return &RunAdapter{collection: db.Collection(collectionRuns)}
}

// EnsureIndexes creates the lookup indexes for run listing.
func (a *RunAdapter) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "id", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{
				{Key: "owner_id", Value: 1},
				{Key: "started_at", Value: -1},
			},
		},
	}

	_, err := a.collection.Indexes().CreateMany(ctx, indexes)
	return err
}

// runDocument stores ids as strings so the collection stays readable from
// the mongo shell.
type runDocument struct {
	ID          string            `bson:"id"`
	OwnerID     string            `bson:"owner_id"`
	Mode        string            `bson:"mode"`
	Scope       string            `bson:"scope,omitempty"`
	Total       int               `bson:"total"`
	Candidates  int               `bson:"candidates"`
	Processed   int               `bson:"processed"`
	Skipped     int               `bson:"skipped"`
	Failures    []failureDocument `bson:"failures"`
	RateLimited bool              `bson:"rate_limited"`
	Cancelled   bool              `bson:"cancelled"`
	StartedAt   time.Time         `bson:"started_at"`
	FinishedAt  time.Time         `bson:"finished_at"`
}

type failureDocument struct {
	MessageID string `bson:"message_id"`
	Error     string `bson:"error"`
}

// SaveRun upserts by run id.
func (a *RunAdapter) SaveRun(ctx context.Context, run *domain.IngestionRun) error {
	doc := toRunDocument(run)

	opts := options.Replace().SetUpsert(true)
	if _, err := a.collection.ReplaceOne(ctx, bson.M{"id": doc.ID}, doc, opts); err != nil {
		return fmt.Errorf("failed to save ingestion run: %w", err)
	}
	return nil
}

// ListRuns returns the newest runs first.
func (a *RunAdapter) ListRuns(ctx context.Context, ownerID uuid.UUID, limit int) ([]*domain.IngestionRun, error) {
	opts := options.Find().
		SetSort(bson.D{{Key: "started_at", Value: -1}}).
		SetLimit(int64(clampRunLimit(limit)))

	cursor, err := a.collection.Find(ctx, bson.M{"owner_id": ownerID.String()}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingestion runs: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []runDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode ingestion runs: %w", err)
	}

	return lo.Map(docs, func(d runDocument, _ int) *domain.IngestionRun {
		return d.toEntity()
	}), nil
}

func clampRunLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultRunLimit
	case limit > maxRunLimit:
		return maxRunLimit
	default:
		return limit
	}
}

func toRunDocument(run *domain.IngestionRun) *runDocument {
	return &runDocument{
		ID:          run.ID.String(),
		OwnerID:     run.OwnerID.String(),
		Mode:        string(run.Mode),
		Scope:       run.Scope,
		Total:       run.Total,
		Candidates:  run.Candidates,
		Processed:   run.Processed,
		Skipped:     run.Skipped,
		RateLimited: run.RateLimited,
		Cancelled:   run.Cancelled,
		StartedAt:   run.StartedAt.UTC(),
		FinishedAt:  run.FinishedAt.UTC(),
		Failures: lo.Map(run.Failures, func(f domain.IngestionFailure, _ int) failureDocument {
			return failureDocument{MessageID: f.MessageID, Error: f.Error}
		}),
	}
}

func (d *runDocument) toEntity() *domain.IngestionRun {
	// Ids written by this adapter always parse; anything else maps to Nil.
	id, _ := uuid.Parse(d.ID)
	ownerID, _ := uuid.Parse(d.OwnerID)

	return &domain.IngestionRun{
		ID:          id,
		OwnerID:     ownerID,
		Mode:        domain.IngestionMode(d.Mode),
		Scope:       d.Scope,
		Total:       d.Total,
		Candidates:  d.Candidates,
		Processed:   d.Processed,
		Skipped:     d.Skipped,
		RateLimited: d.RateLimited,
		Cancelled:   d.Cancelled,
		StartedAt:   d.StartedAt,
		FinishedAt:  d.FinishedAt,
		Failures: lo.Map(d.Failures, func(f failureDocument, _ int) domain.IngestionFailure {
			return domain.IngestionFailure{MessageID: f.MessageID, Error: f.Error}
		}),
	}
}

var _ out.IngestionRunRepository = (*RunAdapter)(nil)
