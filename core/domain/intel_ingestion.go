package domain

import (
	"time"

	"github.com/google/uuid"
)

// IngestionMode names the entry point that started a run.
type IngestionMode string

const (
	IngestionModeBulk     IngestionMode = "bulk"
	IngestionModeTargeted IngestionMode = "targeted"
)

// IngestionFailure is one per-message error inside a batch.
type IngestionFailure struct {
	MessageID string `json:"messageId"`
	Error     string `json:"error"`
}

// IngestionRun is the audit record of one batch.
type IngestionRun struct {
	ID          uuid.UUID          `json:"id"`
	OwnerID     uuid.UUID          `json:"owner_id"`
	Mode        IngestionMode      `json:"mode"`
	Scope       string             `json:"scope,omitempty"`
	Total       int                `json:"total"`
	Candidates  int                `json:"candidates"`
	Processed   int                `json:"processed"`
	Skipped     int                `json:"skipped"`
	Failures    []IngestionFailure `json:"failures"`
	RateLimited bool               `json:"rate_limited"`
	Cancelled   bool               `json:"cancelled"`
	StartedAt   time.Time          `json:"started_at"`
	FinishedAt  time.Time          `json:"finished_at"`
}
