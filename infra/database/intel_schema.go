package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// SchemaStatements returns the DDL for the analysis and embedding tables.
// dims fixes the width of the vector column.
func SchemaStatements(dims int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS email_analysis (
			user_id             UUID             NOT NULL,
			message_id          TEXT             NOT NULL,
			thread_id           TEXT             NOT NULL DEFAULT '',
			subject             TEXT             NOT NULL DEFAULT '',
			from_email          TEXT             NOT NULL DEFAULT '',
			direction           TEXT             NOT NULL DEFAULT 'inbound',
			received_at         TIMESTAMPTZ,
			category            TEXT             NOT NULL,
			category_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
			intent              TEXT             NOT NULL DEFAULT 'unknown',
			sentiment           TEXT             NOT NULL DEFAULT 'neutral',
			sentiment_score     DOUBLE PRECISION NOT NULL DEFAULT 0.5,
			urgency_score       SMALLINT         NOT NULL DEFAULT 2,
			priority            TEXT             NOT NULL DEFAULT 'Medium',
			requires_reply      BOOLEAN          NOT NULL DEFAULT FALSE,
			product_type        TEXT             NOT NULL DEFAULT 'Unknown',
			counterparty_type   TEXT             NOT NULL DEFAULT '',
			keywords            TEXT[]           NOT NULL DEFAULT '{}',
			topics              TEXT[]           NOT NULL DEFAULT '{}',
			entities            JSONB            NOT NULL DEFAULT '{}',
			action_items        JSONB            NOT NULL DEFAULT '[]',
			summary             TEXT             NOT NULL DEFAULT '',
			source              TEXT             NOT NULL DEFAULT 'ai',
			is_analyzed         BOOLEAN          NOT NULL DEFAULT TRUE,
			analyzed_at         TIMESTAMPTZ      NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, message_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_email_analysis_category ON email_analysis (user_id, category)`,
		`CREATE INDEX IF NOT EXISTS idx_email_analysis_received ON email_analysis (user_id, received_at DESC)`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS email_embeddings (
			user_id        UUID        NOT NULL,
			message_id     TEXT        NOT NULL,
			thread_id      TEXT        NOT NULL DEFAULT '',
			embedding      vector(%d)  NOT NULL,
			embedding_text TEXT        NOT NULL DEFAULT '',
			model          TEXT        NOT NULL DEFAULT '',
			updated_at     TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (user_id, message_id)
		)`, dims),
		`CREATE INDEX IF NOT EXISTS idx_email_embeddings_cosine ON email_embeddings
			USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
}

// EnsureSchema creates missing tables and indexes.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("invalid embedding dimensions: %d", dims)
	}
	for _, stmt := range SchemaStatements(dims) {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
