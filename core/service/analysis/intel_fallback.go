package analysis

import (
	"regexp"
	"strings"
	"time"

	"intel_server/core/domain"
	"intel_server/core/service/classification"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

var (
	tickerPattern = regexp.MustCompile(`\b[A-Z]{2,5}\b`)

	fallbackTermPatterns = func() []*regexp.Regexp {
		out := make([]*regexp.Regexp, len(domain.FallbackTerms))
		for i, term := range domain.FallbackTerms {
			out[i] = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(term) + `\b`)
		}
		return out
	}()
)

// ExtractFallbackKeywords returns the ETF-domain terms present in text, in
// table order.
func ExtractFallbackKeywords(text string) []string {
	var found []string
	for i, re := range fallbackTermPatterns {
		if re.MatchString(text) {
			found = append(found, domain.FallbackTerms[i])
		}
	}
	return found
}

// ExtractTickers finds 2-5 letter uppercase tokens that are not common
// acronyms, in order of first appearance.
func ExtractTickers(text string) []string {
	var tickers []string
	for _, tok := range tickerPattern.FindAllString(text, -1) {
		if _, stop := domain.TickerStoplist[tok]; stop {
			continue
		}
		tickers = append(tickers, tok)
	}
	return lo.Uniq(tickers)
}

// buildFallbackRecord produces a complete analysis without the model.
func buildFallbackRecord(ownerID uuid.UUID, msg *domain.RawMessage, lex classification.LexicalResult, now time.Time) *domain.AnalysisRecord {
	text := msg.Subject + "\n" + msg.Body

	rec := baseRecord(ownerID, msg, lex, now)
	rec.Intent = domain.IntentUnknown
	rec.Sentiment = domain.SentimentNeutral
	rec.SentimentScore = 0.5
	rec.Keywords = mergeKeywords(lex.MatchedKeywords, ExtractFallbackKeywords(text))
	rec.Entities.Tickers = ExtractTickers(text)
	rec.Summary = strings.TrimSpace(msg.Subject)
	rec.Source = domain.SourceFallback
	return rec
}

// baseRecord fills everything the lexical classifier owns.
func baseRecord(ownerID uuid.UUID, msg *domain.RawMessage, lex classification.LexicalResult, now time.Time) *domain.AnalysisRecord {
	return &domain.AnalysisRecord{
		OwnerID:            ownerID,
		MessageID:          msg.ID,
		ThreadID:           msg.ThreadID,
		Subject:            msg.Subject,
		FromEmail:          msg.FromEmail,
		Direction:          msg.Direction,
		ReceivedAt:         msg.ReceivedAt,
		Category:           lex.Category,
		CategoryConfidence: lex.CategoryConfidence,
		UrgencyScore:       lex.UrgencyScore,
		Priority:           domain.PriorityFromUrgency(lex.UrgencyScore),
		RequiresReply:      lex.RequiresReply,
		ProductType:        lex.ProductType,
		CounterpartyType:   lex.CounterpartyType,
		Keywords:           []string{},
		Entities:           emptyEntities(),
		Topics:             []string{},
		ActionItems:        []domain.ActionItem{},
		AnalyzedAt:         now,
	}
}

func emptyEntities() domain.Entities {
	return domain.Entities{
		People:    []string{},
		Companies: []string{},
		Products:  []string{},
		Tickers:   []string{},
		Amounts:   []string{},
		Dates:     []string{},
	}
}

// mergeKeywords lowercases, trims and dedupes while keeping first-seen order.
func mergeKeywords(lists ...[]string) []string {
	merged := []string{}
	for _, list := range lists {
		for _, kw := range list {
			if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" {
				merged = append(merged, kw)
			}
		}
	}
	return lo.Uniq(merged)
}
