// Package analysis merges lexical classification with model extraction into
// one AnalysisRecord per message.
package analysis

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"intel_server/core/agent/llm"
	"intel_server/core/domain"
	"intel_server/core/port/out"
	"intel_server/core/service/classification"
	"intel_server/pkg/logger"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

const previewLen = 200

// Augmenter builds analysis records. It never returns a partial record.
type Augmenter struct {
	llm out.LLMProvider
	now func() time.Time
}

func NewAugmenter(provider out.LLMProvider) *Augmenter {
	return &Augmenter{llm: provider, now: time.Now}
}

// Analyze classifies msg and asks the model for the rest. Malformed or
// missing model output degrades to a classifier-only record with a nil
// error. The error is non-nil only when the provider rate-limited; the
// returned record is the complete fallback in that case too.
func (a *Augmenter) Analyze(ctx context.Context, ownerID uuid.UUID, msg *domain.RawMessage) (*domain.AnalysisRecord, error) {
	lex := classification.Classify(msg.Subject, msg.Body, msg.Direction)
	now := a.now().UTC()
	log := logger.WithField("message_id", msg.ID)

	if a.llm == nil {
		return buildFallbackRecord(ownerID, msg, lex, now), nil
	}

	raw, err := a.llm.Generate(ctx, systemPrompt, buildUserPrompt(msg, lex))
	if err != nil {
		if out.IsRateLimited(err) {
			return buildFallbackRecord(ownerID, msg, lex, now), fmt.Errorf("analyze %s: %w", msg.ID, err)
		}
		log.WithError(err).Warn("[Augmenter] model call failed, using classifier-only analysis")
		return buildFallbackRecord(ownerID, msg, lex, now), nil
	}

	var resp aiResponse
	repaired, err := llm.DecodeModelJSON(raw, &resp)
	if err != nil {
		log.WithError(err).WithField("preview", preview(raw)).Warn("[Augmenter] unparseable model output, using classifier-only analysis")
		return buildFallbackRecord(ownerID, msg, lex, now), nil
	}
	if repaired {
		log.Debug("[Augmenter] model output repaired")
	}

	return mergeAI(ownerID, msg, lex, &resp, now), nil
}

// =============================================================================
// Model Response
// =============================================================================

type aiEntities struct {
	People    []string `json:"people"`
	Companies []string `json:"companies"`
	Products  []string `json:"products"`
	Tickers   []string `json:"tickers"`
	Amounts   []string `json:"amounts"`
	Dates     []string `json:"dates"`
}

type aiActionItem struct {
	Task     string     `json:"task"`
	DueDate  flexString `json:"due_date"`
	Priority flexString `json:"priority"`
	Owner    flexString `json:"owner"`
}

type aiResponse struct {
	Entities       aiEntities     `json:"entities"`
	Topics         []string       `json:"topics"`
	Keywords       []string       `json:"keywords"`
	Intent         flexString     `json:"intent"`
	Sentiment      flexString     `json:"sentiment"`
	SentimentScore flexFloat      `json:"sentiment_score"`
	ActionItems    []aiActionItem `json:"action_items"`
	Summary        flexString     `json:"summary"`
}

// flexString accepts a string, number, bool or null.
type flexString string

func (s *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = ""
		return nil
	}
	if data[0] == '"' {
		var v string
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		*s = flexString(v)
		return nil
	}
	*s = flexString(data)
	return nil
}

// flexFloat accepts a number, a numeric string or null.
type flexFloat struct {
	Value float64
	Valid bool
}

func (f *flexFloat) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*f = flexFloat{}
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		*f = flexFloat{}
		return nil
	}
	*f = flexFloat{Value: v, Valid: true}
	return nil
}

// =============================================================================
// Merge
// =============================================================================

func mergeAI(ownerID uuid.UUID, msg *domain.RawMessage, lex classification.LexicalResult, resp *aiResponse, now time.Time) *domain.AnalysisRecord {
	rec := baseRecord(ownerID, msg, lex, now)
	rec.Source = domain.SourceAI

	rec.Entities = domain.Entities{
		People:    cleanList(resp.Entities.People),
		Companies: cleanList(resp.Entities.Companies),
		Products:  cleanList(resp.Entities.Products),
		Tickers:   upperList(resp.Entities.Tickers),
		Amounts:   cleanList(resp.Entities.Amounts),
		Dates:     cleanList(resp.Entities.Dates),
	}
	rec.Topics = cleanList(resp.Topics)
	rec.Keywords = mergeKeywords(resp.Keywords, lex.MatchedKeywords, ExtractFallbackKeywords(msg.Subject+"\n"+msg.Body))

	rec.Intent = domain.ParseIntent(strings.ToLower(strings.TrimSpace(string(resp.Intent))))
	rec.Sentiment = domain.ParseSentiment(strings.ToLower(strings.TrimSpace(string(resp.Sentiment))))
	rec.SentimentScore = 0.5
	if resp.SentimentScore.Valid && !math.IsNaN(resp.SentimentScore.Value) {
		rec.SentimentScore = math.Max(0, math.Min(1, resp.SentimentScore.Value))
	}

	rec.ActionItems = rankActionItems(resp.ActionItems, rec.Priority)

	rec.Summary = strings.TrimSpace(string(resp.Summary))
	if rec.Summary == "" {
		rec.Summary = strings.TrimSpace(msg.Subject)
	}
	return rec
}

var priorityRank = map[domain.Priority]int{
	domain.PriorityCritical: 0,
	domain.PriorityHigh:     1,
	domain.PriorityMedium:   2,
	domain.PriorityLow:      3,
}

// rankActionItems drops empty tasks and orders by priority, keeping model
// order within a priority.
func rankActionItems(items []aiActionItem, defaultPriority domain.Priority) []domain.ActionItem {
	ranked := make([]domain.ActionItem, 0, len(items))
	for _, it := range items {
		task := strings.TrimSpace(it.Task)
		if task == "" {
			continue
		}
		p, ok := domain.ParsePriority(strings.ToLower(strings.TrimSpace(string(it.Priority))))
		if !ok {
			p = defaultPriority
		}
		ranked = append(ranked, domain.ActionItem{
			Task:     task,
			DueDate:  strings.TrimSpace(string(it.DueDate)),
			Priority: p,
			Owner:    strings.TrimSpace(string(it.Owner)),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return priorityRank[ranked[i].Priority] < priorityRank[ranked[j].Priority]
	})
	return ranked
}

func cleanList(items []string) []string {
	out := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, it := range items {
		it = strings.TrimSpace(it)
		if it == "" {
			continue
		}
		if _, dup := seen[it]; dup {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	return out
}

func upperList(items []string) []string {
	up := make([]string, len(items))
	for i, it := range items {
		up[i] = strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(it), "$"))
	}
	return cleanList(up)
}

func preview(s string) string {
	if len(s) <= previewLen {
		return s
	}
	return truncateBody(s, previewLen)
}
