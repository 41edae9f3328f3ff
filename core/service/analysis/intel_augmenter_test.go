package analysis

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"intel_server/core/domain"
	"intel_server/core/port/out"
	"intel_server/pkg/apperr"

	"github.com/google/uuid"
)

// MockLLM for testing
type MockLLM struct {
	response string
	err      error
	calls    int
	prompts  []string
}

func (m *MockLLM) Generate(_ context.Context, _, userPrompt string) (string, error) {
	m.calls++
	m.prompts = append(m.prompts, userPrompt)
	return m.response, m.err
}

var fixedNow = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func newTestAugmenter(provider out.LLMProvider) *Augmenter {
	a := NewAugmenter(provider)
	a.now = func() time.Time { return fixedNow }
	return a
}

func testMessage() *domain.RawMessage {
	return &domain.RawMessage{
		ID:         "msg-1",
		ThreadID:   "thr-1",
		FromEmail:  "ops@broker.com",
		FromName:   "Broker Ops",
		Subject:    "  Creation order for QQQM basket  ",
		Body:       "Please confirm the creation basket for QQQM by 3pm. Settlement is T+1.",
		ReceivedAt: fixedNow.Add(-time.Hour),
		Direction:  domain.DirectionInbound,
	}
}

const validResponse = `{
  "entities": {"people": ["Jane Doe"], "companies": ["Broker Co"], "products": [], "tickers": ["$qqqm"], "amounts": ["$5,000,000"], "dates": ["2024-03-01"]},
  "topics": ["creation order", "settlement"],
  "keywords": ["Creation", "basket"],
  "intent": "Request",
  "sentiment": "neutral",
  "sentiment_score": "0.6",
  "action_items": [
    {"task": "Send basket file", "due_date": "2024-03-01", "priority": "low", "owner": "ops"},
    {"task": "  ", "priority": "high"},
    {"task": "Confirm creation", "priority": "HIGH"}
  ],
  "summary": "Broker asks to confirm a QQQM creation basket."
}`

func TestAnalyze_ValidResponse(t *testing.T) {
	mock := &MockLLM{response: validResponse}
	a := newTestAugmenter(mock)
	owner := uuid.New()

	rec, err := a.Analyze(context.Background(), owner, testMessage())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Source != domain.SourceAI {
		t.Errorf("source = %s, want ai", rec.Source)
	}
	if rec.OwnerID != owner || rec.MessageID != "msg-1" || rec.ThreadID != "thr-1" {
		t.Errorf("identity not carried: %+v", rec)
	}
	if rec.Intent != domain.IntentRequest {
		t.Errorf("intent = %s", rec.Intent)
	}
	if rec.SentimentScore != 0.6 {
		t.Errorf("sentiment score = %v", rec.SentimentScore)
	}
	if len(rec.Entities.Tickers) != 1 || rec.Entities.Tickers[0] != "QQQM" {
		t.Errorf("tickers = %v", rec.Entities.Tickers)
	}
	if len(rec.ActionItems) != 2 {
		t.Fatalf("action items = %+v", rec.ActionItems)
	}
	if rec.ActionItems[0].Task != "Confirm creation" || rec.ActionItems[0].Priority != domain.PriorityHigh {
		t.Errorf("first action item = %+v", rec.ActionItems[0])
	}
	if rec.ActionItems[1].Priority != domain.PriorityLow || rec.ActionItems[1].Owner != "ops" {
		t.Errorf("second action item = %+v", rec.ActionItems[1])
	}
	if rec.Summary != "Broker asks to confirm a QQQM creation basket." {
		t.Errorf("summary = %q", rec.Summary)
	}
	if !rec.AnalyzedAt.Equal(fixedNow) {
		t.Errorf("analyzedAt = %v", rec.AnalyzedAt)
	}
	if rec.Priority != domain.PriorityFromUrgency(rec.UrgencyScore) {
		t.Errorf("priority %s does not follow urgency %d", rec.Priority, rec.UrgencyScore)
	}
	if !containsString(rec.Keywords, "creation") || !containsString(rec.Keywords, "basket") {
		t.Errorf("keywords = %v", rec.Keywords)
	}
	for _, kw := range rec.Keywords {
		if kw != strings.ToLower(kw) {
			t.Errorf("keyword %q not lowercased", kw)
		}
	}
	if mock.calls != 1 || !strings.Contains(mock.prompts[0], "QQQM") {
		t.Errorf("prompt not built from message: %v", mock.prompts)
	}
}

func TestAnalyze_FencedResponse(t *testing.T) {
	mock := &MockLLM{response: "Here you go:\n```json\n{\"intent\":\"alert\",\"sentiment\":\"negative\",\"sentiment_score\":0.1,\"summary\":\"Break on the fund.\"}\n```"}
	rec, err := newTestAugmenter(mock).Analyze(context.Background(), uuid.New(), testMessage())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Source != domain.SourceAI || rec.Intent != domain.IntentAlert || rec.Sentiment != domain.SentimentNegative {
		t.Errorf("record = %+v", rec)
	}
}

func TestAnalyze_TruncatedResponseIsRepaired(t *testing.T) {
	mock := &MockLLM{response: `{"topics":["creation","settlement"],"intent":"request","summary":"Broker asks to confirm the bask`}
	rec, err := newTestAugmenter(mock).Analyze(context.Background(), uuid.New(), testMessage())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Source != domain.SourceAI {
		t.Fatalf("source = %s, want ai", rec.Source)
	}
	if rec.Summary != "Broker asks to confirm the bask" {
		t.Errorf("summary = %q", rec.Summary)
	}
	if len(rec.Topics) != 2 {
		t.Errorf("topics = %v", rec.Topics)
	}
}

func TestAnalyze_FallbackPaths(t *testing.T) {
	tests := []struct {
		name string
		mock *MockLLM
	}{
		{name: "garbage", mock: &MockLLM{response: "I cannot help with that."}},
		{name: "empty", mock: &MockLLM{response: ""}},
		{name: "unrepairable", mock: &MockLLM{response: `{"topics": "x" "y"}`}},
		{name: "provider error", mock: &MockLLM{err: apperr.ExternalError("openai chat completion", errors.New("boom"))}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec, err := newTestAugmenter(tt.mock).Analyze(context.Background(), uuid.New(), testMessage())
			if err != nil {
				t.Fatalf("fallback must not surface an error, got %v", err)
			}
			assertFallbackRecord(t, rec)
		})
	}
}

func TestAnalyze_NilProviderFallsBack(t *testing.T) {
	rec, err := newTestAugmenter(nil).Analyze(context.Background(), uuid.New(), testMessage())
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	assertFallbackRecord(t, rec)
}

func TestAnalyze_RateLimitReturnsFallbackAndError(t *testing.T) {
	mock := &MockLLM{err: apperr.RateLimited("openai", errors.New("429 Too Many Requests"))}
	rec, err := newTestAugmenter(mock).Analyze(context.Background(), uuid.New(), testMessage())
	if !out.IsRateLimited(err) {
		t.Fatalf("expected rate-limit error, got %v", err)
	}
	assertFallbackRecord(t, rec)
}

func TestAnalyze_InvalidEnumsDefault(t *testing.T) {
	mock := &MockLLM{response: `{"intent":"celebrate","sentiment":"ecstatic","sentiment_score":7,"summary":"","action_items":[{"task":"Call back","priority":"whenever"}]}`}
	msg := testMessage()
	rec, err := newTestAugmenter(mock).Analyze(context.Background(), uuid.New(), msg)
	if err != nil {
		t.Fatalf("Analyze: %v", err)
	}
	if rec.Intent != domain.IntentUnknown {
		t.Errorf("intent = %s", rec.Intent)
	}
	if rec.Sentiment != domain.SentimentNeutral {
		t.Errorf("sentiment = %s", rec.Sentiment)
	}
	if rec.SentimentScore != 1 {
		t.Errorf("sentiment score = %v, want clamped to 1", rec.SentimentScore)
	}
	if rec.Summary != strings.TrimSpace(msg.Subject) {
		t.Errorf("summary = %q, want subject", rec.Summary)
	}
	if len(rec.ActionItems) != 1 || rec.ActionItems[0].Priority != rec.Priority {
		t.Errorf("action items = %+v", rec.ActionItems)
	}
}

func TestExtractTickers(t *testing.T) {
	got := ExtractTickers("Buy QQQM and SPY, not the ETF or USD. QQQM again.")
	want := []string{"QQQM", "SPY"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ExtractTickers = %v, want %v", got, want)
	}
}

func TestExtractFallbackKeywords(t *testing.T) {
	got := ExtractFallbackKeywords("The NAV and tracking error look fine; creation units settle via the Authorized Participant.")
	for _, want := range []string{"nav", "creation", "authorized participant", "tracking error"} {
		if !containsString(got, want) {
			t.Errorf("missing %q in %v", want, got)
		}
	}
	if containsString(got, "index") {
		t.Errorf("unexpected index in %v", got)
	}
}

func assertFallbackRecord(t *testing.T, rec *domain.AnalysisRecord) {
	t.Helper()
	if rec == nil {
		t.Fatal("nil record")
	}
	if rec.Source != domain.SourceFallback {
		t.Errorf("source = %s, want fallback", rec.Source)
	}
	if rec.Intent != domain.IntentUnknown || rec.Sentiment != domain.SentimentNeutral {
		t.Errorf("intent/sentiment = %s/%s", rec.Intent, rec.Sentiment)
	}
	if rec.Summary != "Creation order for QQQM basket" {
		t.Errorf("summary = %q", rec.Summary)
	}
	if rec.Priority != domain.PriorityFromUrgency(rec.UrgencyScore) {
		t.Errorf("priority %s does not follow urgency %d", rec.Priority, rec.UrgencyScore)
	}
	if !containsString(rec.Entities.Tickers, "QQQM") {
		t.Errorf("tickers = %v", rec.Entities.Tickers)
	}
	if !containsString(rec.Keywords, "creation") || !containsString(rec.Keywords, "basket") {
		t.Errorf("keywords = %v", rec.Keywords)
	}
	if rec.ActionItems == nil || rec.Topics == nil || rec.Entities.People == nil {
		t.Error("fallback record must have non-nil collections")
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
