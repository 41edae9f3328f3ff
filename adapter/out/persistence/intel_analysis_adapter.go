// Package persistence provides database adapters implementing outbound ports.
package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"intel_server/core/domain"
	"intel_server/core/port/out"
	"intel_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// =============================================================================
// Analysis Adapter
// =============================================================================

// AnalysisAdapter implements out.AnalysisRepository on the email_analysis table.
type AnalysisAdapter struct {
	db  *sqlx.DB
	log *logger.Logger
}

func NewAnalysisAdapter(db *sqlx.DB) *AnalysisAdapter {
	return &AnalysisAdapter{db: db, log: logger.Default()}
}

type metadataRow struct {
	MessageID string         `db:"message_id"`
	ThreadID  string         `db:"thread_id"`
	Subject   string         `db:"subject"`
	Summary   string         `db:"summary"`
	Date      sql.NullTime   `db:"date"`
	Category  string         `db:"category"`
	Direction string         `db:"direction"`
	Topics    pq.StringArray `db:"topics"`
	Entities  []byte         `db:"entities"`
}

// toEntity converts a row. Unreadable entities JSON is logged and the
// metadata is returned with empty entities.
func (r *metadataRow) toEntity(log *logger.Logger) *domain.EmailMetadata {
	meta := &domain.EmailMetadata{
		MessageID: r.MessageID,
		ThreadID:  r.ThreadID,
		Subject:   r.Subject,
		Summary:   r.Summary,
		Category:  domain.Category(r.Category),
		Direction: domain.Direction(r.Direction),
		Topics:    []string(r.Topics),
	}
	if r.Date.Valid {
		meta.Date = r.Date.Time
	}
	if meta.Topics == nil {
		meta.Topics = []string{}
	}
	if len(r.Entities) > 0 {
		if err := json.Unmarshal(r.Entities, &meta.Entities); err != nil {
			meta.Entities = domain.Entities{}
			log.WithError(err).WithField("message_id", r.MessageID).Warn("unreadable entities in stored analysis")
		}
	}
	return meta
}

const upsertAnalysisQuery = `
	INSERT INTO email_analysis (
		user_id, message_id, thread_id, subject, from_email, direction, received_at,
		category, category_confidence, intent, sentiment, sentiment_score,
		urgency_score, priority, requires_reply, product_type, counterparty_type,
		keywords, topics, entities, action_items, summary, source, is_analyzed, analyzed_at
	) VALUES (
		$1, $2, $3, $4, $5, $6, $7,
		$8, $9, $10, $11, $12,
		$13, $14, $15, $16, $17,
		$18, $19, $20, $21, $22, $23, TRUE, $24
	)
	ON CONFLICT (user_id, message_id) DO UPDATE SET
		thread_id = EXCLUDED.thread_id,
		subject = EXCLUDED.subject,
		from_email = EXCLUDED.from_email,
		direction = EXCLUDED.direction,
		received_at = EXCLUDED.received_at,
		category = EXCLUDED.category,
		category_confidence = EXCLUDED.category_confidence,
		intent = EXCLUDED.intent,
		sentiment = EXCLUDED.sentiment,
		sentiment_score = EXCLUDED.sentiment_score,
		urgency_score = EXCLUDED.urgency_score,
		priority = EXCLUDED.priority,
		requires_reply = EXCLUDED.requires_reply,
		product_type = EXCLUDED.product_type,
		counterparty_type = EXCLUDED.counterparty_type,
		keywords = EXCLUDED.keywords,
		topics = EXCLUDED.topics,
		entities = EXCLUDED.entities,
		action_items = EXCLUDED.action_items,
		summary = EXCLUDED.summary,
		source = EXCLUDED.source,
		is_analyzed = TRUE,
		analyzed_at = EXCLUDED.analyzed_at`

// UpsertAnalysis writes one record in a single statement keyed on
// (user_id, message_id).
func (a *AnalysisAdapter) UpsertAnalysis(ctx context.Context, ownerID uuid.UUID, rec *domain.AnalysisRecord) error {
	args, err := upsertArgs(ownerID, rec)
	if err != nil {
		return err
	}
	if _, err := a.db.ExecContext(ctx, upsertAnalysisQuery, args...); err != nil {
		return fmt.Errorf("failed to upsert analysis: %w", err)
	}
	return nil
}

func upsertArgs(ownerID uuid.UUID, rec *domain.AnalysisRecord) ([]any, error) {
	entities, err := json.Marshal(rec.Entities)
	if err != nil {
		return nil, fmt.Errorf("failed to encode entities: %w", err)
	}
	actionItems := rec.ActionItems
	if actionItems == nil {
		actionItems = []domain.ActionItem{}
	}
	items, err := json.Marshal(actionItems)
	if err != nil {
		return nil, fmt.Errorf("failed to encode action items: %w", err)
	}

	var receivedAt sql.NullTime
	if !rec.ReceivedAt.IsZero() {
		receivedAt = sql.NullTime{Time: rec.ReceivedAt, Valid: true}
	}
	analyzedAt := rec.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = time.Now().UTC()
	}

	return []any{
		ownerID, rec.MessageID, rec.ThreadID, rec.Subject, rec.FromEmail, string(rec.Direction), receivedAt,
		string(rec.Category), rec.CategoryConfidence, string(rec.Intent), string(rec.Sentiment), rec.SentimentScore,
		rec.UrgencyScore, string(rec.Priority), rec.RequiresReply, string(rec.ProductType), string(rec.CounterpartyType),
		pq.Array(nonNil(rec.Keywords)), pq.Array(nonNil(rec.Topics)), string(entities), string(items), rec.Summary, string(rec.Source),
		analyzedAt,
	}, nil
}

func (a *AnalysisAdapter) IsAnalyzed(ctx context.Context, ownerID uuid.UUID, messageID string) (bool, error) {
	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM email_analysis WHERE user_id = $1 AND message_id = $2 AND is_analyzed)`
	if err := a.db.GetContext(ctx, &exists, query, ownerID, messageID); err != nil {
		return false, fmt.Errorf("failed to check analysis: %w", err)
	}
	return exists, nil
}

// FilterUnanalyzed returns the ids without an analysis, in input order.
func (a *AnalysisAdapter) FilterUnanalyzed(ctx context.Context, ownerID uuid.UUID, messageIDs []string) ([]string, error) {
	if len(messageIDs) == 0 {
		return []string{}, nil
	}

	var analyzed []string
	query := `SELECT message_id FROM email_analysis WHERE user_id = $1 AND message_id = ANY($2) AND is_analyzed`
	if err := a.db.SelectContext(ctx, &analyzed, query, ownerID, pq.Array(messageIDs)); err != nil {
		return nil, fmt.Errorf("failed to filter analyzed ids: %w", err)
	}
	return excludeIDs(messageIDs, analyzed), nil
}

// GetMetadata returns display rows for the ids that exist and pass filter.
// Missing ids are omitted, not reported.
func (a *AnalysisAdapter) GetMetadata(ctx context.Context, ownerID uuid.UUID, messageIDs []string, filter *domain.MetadataFilter) ([]*domain.EmailMetadata, error) {
	if len(messageIDs) == 0 {
		return []*domain.EmailMetadata{}, nil
	}

	query, args := buildMetadataQuery(ownerID, messageIDs, filter)
	var rows []metadataRow
	if err := a.db.SelectContext(ctx, &rows, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []*domain.EmailMetadata{}, nil
		}
		return nil, fmt.Errorf("failed to get metadata: %w", err)
	}

	metas := make([]*domain.EmailMetadata, len(rows))
	for i := range rows {
		metas[i] = rows[i].toEntity(a.log)
	}
	return metas, nil
}

func buildMetadataQuery(ownerID uuid.UUID, messageIDs []string, filter *domain.MetadataFilter) (string, []any) {
	var b strings.Builder
	b.WriteString(`SELECT message_id, thread_id, subject, summary, COALESCE(received_at, analyzed_at) AS date,
		category, direction, topics, entities
		FROM email_analysis
		WHERE user_id = $1 AND message_id = ANY($2)`)
	args := []any{ownerID, pq.Array(messageIDs)}

	add := func(cond string, v any) {
		args = append(args, v)
		fmt.Fprintf(&b, " AND %s $%d", cond, len(args))
	}
	if !filter.IsEmpty() {
		if filter.Category != "" {
			add("category =", string(filter.Category))
		}
		if filter.Direction != "" {
			add("direction =", string(filter.Direction))
		}
		if filter.DateFrom != nil {
			add("COALESCE(received_at, analyzed_at) >=", *filter.DateFrom)
		}
		if filter.DateTo != nil {
			add("COALESCE(received_at, analyzed_at) <=", *filter.DateTo)
		}
	}
	return b.String(), args
}

func excludeIDs(ids, drop []string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	kept := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			kept = append(kept, id)
		}
	}
	return kept
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

var _ out.AnalysisRepository = (*AnalysisAdapter)(nil)
