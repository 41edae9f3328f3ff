package classification

import (
	"strings"

	"intel_server/core/domain"
)

// =============================================================================
// Lexical Classifier
// =============================================================================

const (
	// categoryFloor is the minimum winning score for a non-GENERAL category.
	categoryFloor = 2
	// longKeywordLen marks keywords that weigh double.
	longKeywordLen = 10

	baseUrgency       = 2
	replyChainUrgency = 3
)

// LexicalResult is the deterministic part of an analysis.
type LexicalResult struct {
	Category           domain.Category
	CategoryConfidence float64
	CounterpartyType   domain.CounterpartyType
	ProductType        domain.ProductType
	UrgencyScore       int
	RequiresReply      bool
	// MatchedKeywords are the hits of the winning category, in table order.
	MatchedKeywords []string
}

// Classify runs every lexical rule over subject and body. It performs no I/O
// and returns identical results for identical input.
func Classify(subject, body string, direction domain.Direction) LexicalResult {
	text := strings.ToLower(subject + "\n" + body)

	category, confidence, matched := scoreCategory(text)
	return LexicalResult{
		Category:           category,
		CategoryConfidence: confidence,
		CounterpartyType:   counterpartyFor(text),
		ProductType:        productFor(text),
		UrgencyScore:       urgencyFor(subject, text),
		RequiresReply:      requiresReply(text, direction),
		MatchedKeywords:    matched,
	}
}

// ClassifyCategory returns the category and its confidence.
func ClassifyCategory(subject, body string) (domain.Category, float64) {
	category, confidence, _ := scoreCategory(strings.ToLower(subject + "\n" + body))
	return category, confidence
}

// UrgencyScore returns the 1-5 urgency of a message.
func UrgencyScore(subject, body string) int {
	return urgencyFor(subject, strings.ToLower(subject+"\n"+body))
}

// RequiresReply reports whether the owner is expected to answer.
func RequiresReply(subject, body string, direction domain.Direction) bool {
	return requiresReply(strings.ToLower(subject+"\n"+body), direction)
}

func keywordWeight(keyword string) int {
	if len(keyword) > longKeywordLen {
		return 2
	}
	return 1
}

// weightedHits sums the weights of keywords present in text.
func weightedHits(text string, keywords []string) (int, []string) {
	score := 0
	var hits []string
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			score += keywordWeight(kw)
			hits = append(hits, kw)
		}
	}
	return score, hits
}

func scoreCategory(text string) (domain.Category, float64, []string) {
	best := domain.CategoryGeneral
	bestScore, total := 0, 0
	var bestHits []string

	for _, category := range domain.AllCategories {
		keywords, ok := domain.CategoryKeywords[category]
		if !ok {
			continue
		}
		score, hits := weightedHits(text, keywords)
		total += score
		if score > bestScore {
			best, bestScore, bestHits = category, score, hits
		}
	}

	if total == 0 {
		return domain.CategoryGeneral, 0.5, nil
	}

	confidence := clamp01(float64(bestScore) / float64(total))
	if bestScore < categoryFloor {
		return domain.CategoryGeneral, confidence, nil
	}
	return best, confidence, bestHits
}

func counterpartyFor(text string) domain.CounterpartyType {
	for _, cp := range domain.AllCounterpartyTypes {
		if containsAny(text, domain.CounterpartyKeywords[cp]) {
			return cp
		}
	}
	return domain.CounterpartyUnknown
}

func productFor(text string) domain.ProductType {
	best := domain.ProductUnknown
	bestScore := 0
	for _, pt := range domain.AllProductTypes {
		score, _ := weightedHits(text, domain.ProductKeywords[pt])
		if score > bestScore {
			best, bestScore = pt, score
		}
	}
	return best
}

// urgencyFor applies the clamps in a fixed order: urgent sets 5, high raises
// to at least 4, low lowers to at most 1, then a reply chain floors at 3.
// A message matching both urgent and low phrases therefore ends at 1.
func urgencyFor(subject, text string) int {
	score := baseUrgency
	if containsAny(text, domain.UrgentKeywords) {
		score = 5
	}
	if containsAny(text, domain.HighUrgencyKeywords) {
		score = max(score, 4)
	}
	if containsAny(text, domain.LowUrgencyKeywords) {
		score = min(score, 1)
	}
	if isReplyChain(subject) {
		score = max(score, replyChainUrgency)
	}
	return score
}

func isReplyChain(subject string) bool {
	s := strings.ToLower(strings.TrimSpace(subject))
	return strings.HasPrefix(s, "re:") || strings.HasPrefix(s, "fw:") || strings.HasPrefix(s, "fwd:")
}

func requiresReply(text string, direction domain.Direction) bool {
	if direction == domain.DirectionOutbound {
		return false
	}
	if containsAny(text, domain.NoReplyPhrases) {
		return false
	}
	return strings.Contains(text, "?") || containsAny(text, domain.RequestPhrases)
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
