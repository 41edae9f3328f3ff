package graph

import (
	"context"
	"fmt"
	"strings"

	"intel_server/core/domain"
	"intel_server/core/port/out"
	"intel_server/pkg/logger"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/samber/lo"
)

// =============================================================================
// Neo4j Knowledge Graph Adapter
// =============================================================================

// KnowledgeGraphAdapter projects analyses into a graph of
// (:Message)-[:MENTIONS]->(:Entity) and (:Message)-[:ABOUT]->(:Topic).
type KnowledgeGraphAdapter struct {
	driver neo4j.DriverWithContext
	dbName string
}

func NewKnowledgeGraphAdapter(driver neo4j.DriverWithContext, dbName string) *KnowledgeGraphAdapter {
	return &KnowledgeGraphAdapter{driver: driver, dbName: dbName}
}

// EnsureIndexes creates the uniqueness constraints. Failures are logged and
// skipped so older servers without IF NOT EXISTS support still start.
func (a *KnowledgeGraphAdapter) EnsureIndexes(ctx context.Context) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: a.dbName})
	defer session.Close(ctx)

	queries := []string{
		`CREATE CONSTRAINT message_unique IF NOT EXISTS FOR (m:Message) REQUIRE (m.owner_id, m.message_id) IS UNIQUE`,
		`CREATE CONSTRAINT entity_unique IF NOT EXISTS FOR (e:Entity) REQUIRE (e.owner_id, e.kind, e.name) IS UNIQUE`,
		`CREATE CONSTRAINT topic_unique IF NOT EXISTS FOR (t:Topic) REQUIRE (t.owner_id, t.name) IS UNIQUE`,
		`CREATE INDEX message_category_idx IF NOT EXISTS FOR (m:Message) ON (m.category)`,
	}

	for _, query := range queries {
		if _, err := session.Run(ctx, query, nil); err != nil {
			logger.WithError(err).Warn("[KnowledgeGraph] index statement failed")
		}
	}
	return nil
}

const recordMessageQuery = `
	MERGE (m:Message {owner_id: $ownerID, message_id: $messageID})
	SET m.thread_id = $threadID,
		m.subject = $subject,
		m.category = $category,
		m.priority = $priority,
		m.direction = $direction,
		m.analyzed_at = $analyzedAt
	WITH m
	UNWIND $entities AS ent
	MERGE (e:Entity {owner_id: $ownerID, kind: ent.kind, name: ent.name})
	MERGE (m)-[:MENTIONS]->(e)
`

const recordTopicsQuery = `
	MATCH (m:Message {owner_id: $ownerID, message_id: $messageID})
	UNWIND $topics AS topic
	MERGE (t:Topic {owner_id: $ownerID, name: topic})
	MERGE (m)-[:ABOUT]->(t)
`

// RecordAnalysis upserts the message node with its entity and topic edges in
// one write transaction. Re-recording the same analysis is idempotent.
func (a *KnowledgeGraphAdapter) RecordAnalysis(ctx context.Context, record *domain.AnalysisRecord) error {
	session := a.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: a.dbName,
		AccessMode:   neo4j.AccessModeWrite,
	})
	defer session.Close(ctx)

	params := messageParams(record)
	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		if _, err := tx.Run(ctx, recordMessageQuery, params); err != nil {
			return nil, err
		}
		if _, err := tx.Run(ctx, recordTopicsQuery, params); err != nil {
			return nil, err
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to record analysis %s in graph: %w", record.MessageID, err)
	}
	return nil
}

func messageParams(record *domain.AnalysisRecord) map[string]any {
	return map[string]any{
		"ownerID":    record.OwnerID.String(),
		"messageID":  record.MessageID,
		"threadID":   record.ThreadID,
		"subject":    record.Subject,
		"category":   string(record.Category),
		"priority":   string(record.Priority),
		"direction":  string(record.Direction),
		"analyzedAt": record.AnalyzedAt.Unix(),
		"entities":   entityParams(record.Entities),
		"topics":     normalizeNames(record.Topics),
	}
}

// entityParams flattens entities into {kind, name} maps, deduplicated per kind.
func entityParams(e domain.Entities) []any {
	groups := []struct {
		kind   string
		values []string
	}{
		{"person", e.People},
		{"company", e.Companies},
		{"product", e.Products},
		{"ticker", e.Tickers},
		{"amount", e.Amounts},
		{"date", e.Dates},
	}

	params := make([]any, 0)
	for _, g := range groups {
		for _, name := range normalizeNames(g.values) {
			params = append(params, map[string]any{"kind": g.kind, "name": name})
		}
	}
	return params
}

func normalizeNames(values []string) []any {
	names := lo.Uniq(lo.FilterMap(values, func(v string, _ int) (string, bool) {
		v = strings.TrimSpace(v)
		return v, v != ""
	}))
	return lo.Map(names, func(n string, _ int) any { return n })
}

var _ out.KnowledgeGraph = (*KnowledgeGraphAdapter)(nil)
