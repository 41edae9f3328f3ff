package search

import (
	"context"
	"fmt"
	"strings"

	"intel_server/core/agent/rag"
	"intel_server/core/domain"
	"intel_server/core/port/in"
	"intel_server/core/port/out"
	"intel_server/pkg/apperr"
	"intel_server/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultRelatedThreshold = 0.7
	DefaultSearchThreshold  = 0.5
	DefaultLimit            = 20
	maxLimit                = 100
	snippetLen              = 200
)

type RetrievalConfig struct {
	RelatedThreshold float64
	SearchThreshold  float64
	DefaultLimit     int
}

// RetrievalService finds related messages by stored vector or by query text.
type RetrievalService struct {
	analysis   out.AnalysisRepository
	embeddings out.EmbeddingRepository
	embedder   *rag.Embedder
	cfg        RetrievalConfig
}

func NewRetrievalService(analysis out.AnalysisRepository, embeddings out.EmbeddingRepository, embedder *rag.Embedder, cfg RetrievalConfig) *RetrievalService {
	if cfg.RelatedThreshold <= 0 {
		cfg.RelatedThreshold = DefaultRelatedThreshold
	}
	if cfg.SearchThreshold <= 0 {
		cfg.SearchThreshold = DefaultSearchThreshold
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	return &RetrievalService{
		analysis:   analysis,
		embeddings: embeddings,
		embedder:   embedder,
		cfg:        cfg,
	}
}

// FindRelated returns the nearest stored neighbors of an analyzed message.
// The source message itself is never part of the result.
func (s *RetrievalService) FindRelated(ctx context.Context, ownerID uuid.UUID, req *in.RelatedRequest) (*in.RelatedResult, error) {
	if req == nil || strings.TrimSpace(req.MessageID) == "" {
		return nil, apperr.MissingField("messageId")
	}
	limit := s.limit(req.Limit)
	threshold, err := s.threshold(req.Threshold, s.cfg.RelatedThreshold)
	if err != nil {
		return nil, err
	}

	source, err := s.embeddings.GetEmbedding(ctx, ownerID, req.MessageID)
	if err != nil {
		return nil, apperr.DatabaseError("get embedding", err)
	}
	if source == nil || len(source.Vector) == 0 {
		return nil, apperr.NotAnalyzed(req.MessageID)
	}

	neighbors, err := s.embeddings.NearestNeighbors(ctx, ownerID, source.Vector, threshold, limit+1)
	if err != nil {
		return nil, apperr.DatabaseError("nearest neighbors", err)
	}
	neighbors = lo.Filter(neighbors, func(n domain.Neighbor, _ int) bool {
		return n.MessageID != req.MessageID
	})
	if len(neighbors) > limit {
		neighbors = neighbors[:limit]
	}

	ids := append([]string{req.MessageID}, neighborIDs(neighbors)...)
	metas, err := s.analysis.GetMetadata(ctx, ownerID, ids, nil)
	if err != nil {
		return nil, apperr.DatabaseError("get metadata", err)
	}
	byID := lo.KeyBy(metas, func(m *domain.EmailMetadata) string { return m.MessageID })

	sourceMeta, ok := byID[req.MessageID]
	if !ok {
		return nil, apperr.NotAnalyzed(req.MessageID)
	}

	result := &in.RelatedResult{
		SourceEmail:    sourceMeta,
		RelatedEmails:  make([]domain.SimilarityResult, 0, len(neighbors)),
		SharedTopics:   []string{},
		SharedEntities: []string{},
	}

	var relatedTopics, relatedEntities []string
	for _, n := range neighbors {
		meta, ok := byID[n.MessageID]
		if !ok {
			continue
		}
		result.RelatedEmails = append(result.RelatedEmails, domain.SimilarityResult{
			MessageID:  n.MessageID,
			ThreadID:   n.ThreadID,
			Similarity: n.Similarity,
			Subject:    meta.Subject,
			Date:       meta.Date,
			Category:   meta.Category,
		})
		relatedTopics = append(relatedTopics, meta.Topics...)
		relatedEntities = append(relatedEntities, meta.Entities.All()...)
	}

	result.SharedTopics = lo.Uniq(lo.Intersect(sourceMeta.Topics, relatedTopics))
	result.SharedEntities = lo.Uniq(lo.Intersect(sourceMeta.Entities.All(), relatedEntities))

	logger.WithFields(map[string]any{
		"message_id": req.MessageID,
		"related":    len(result.RelatedEmails),
	}).Debug("[RetrievalService.FindRelated] done")

	return result, nil
}

// Search embeds a free-text query and returns the closest analyzed messages
// that pass the optional filters.
func (s *RetrievalService) Search(ctx context.Context, ownerID uuid.UUID, req *in.SearchRequest) (*in.SearchResult, error) {
	if req == nil || strings.TrimSpace(req.Query) == "" {
		return nil, apperr.ValidationFailed("query is required")
	}
	limit := s.limit(req.Limit)

	vector, err := s.embedder.EmbedQuery(ctx, strings.TrimSpace(req.Query))
	if err != nil {
		return nil, err
	}

	neighbors, err := s.embeddings.NearestNeighbors(ctx, ownerID, vector, s.cfg.SearchThreshold, limit*2)
	if err != nil {
		return nil, apperr.DatabaseError("nearest neighbors", err)
	}

	result := &in.SearchResult{Results: []in.SearchHit{}}
	if len(neighbors) == 0 {
		return result, nil
	}

	metas, err := s.analysis.GetMetadata(ctx, ownerID, neighborIDs(neighbors), req.Filters)
	if err != nil {
		return nil, apperr.DatabaseError("get metadata", err)
	}
	byID := lo.KeyBy(metas, func(m *domain.EmailMetadata) string { return m.MessageID })

	for _, n := range neighbors {
		meta, ok := byID[n.MessageID]
		if !ok || !req.Filters.Matches(meta) {
			continue
		}
		result.Results = append(result.Results, in.SearchHit{
			ID:         n.MessageID,
			ThreadID:   n.ThreadID,
			Subject:    meta.Subject,
			Snippet:    snippet(meta),
			Similarity: n.Similarity,
			Category:   meta.Category,
			Date:       meta.Date,
		})
		if len(result.Results) == limit {
			break
		}
	}
	result.TotalCount = len(result.Results)
	return result, nil
}

func (s *RetrievalService) limit(requested int) int {
	switch {
	case requested <= 0:
		return s.cfg.DefaultLimit
	case requested > maxLimit:
		return maxLimit
	default:
		return requested
	}
}

func (s *RetrievalService) threshold(requested *float64, def float64) (float64, error) {
	if requested == nil {
		return def, nil
	}
	if *requested < 0 || *requested > 1 {
		return 0, apperr.InvalidInput("threshold", fmt.Sprintf("%v is outside [0, 1]", *requested))
	}
	return *requested, nil
}

func neighborIDs(neighbors []domain.Neighbor) []string {
	return lo.Map(neighbors, func(n domain.Neighbor, _ int) string { return n.MessageID })
}

func snippet(m *domain.EmailMetadata) string {
	text := strings.TrimSpace(m.Summary)
	if text == "" {
		text = strings.TrimSpace(m.Subject)
	}
	runes := []rune(text)
	if len(runes) <= snippetLen {
		return text
	}
	return string(runes[:snippetLen]) + "..."
}

var _ in.RetrievalService = (*RetrievalService)(nil)
