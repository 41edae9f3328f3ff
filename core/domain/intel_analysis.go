package domain

import (
	"time"

	"github.com/google/uuid"
)

// Category is the closed business classification of a message.
type Category string

const (
	CategorySettlement     Category = "SETTLEMENT"
	CategoryTrade          Category = "TRADE"
	CategoryCompliance     Category = "COMPLIANCE"
	CategoryProduct        Category = "PRODUCT"
	CategoryClientService  Category = "CLIENT_SERVICE"
	CategoryMarketResearch Category = "MARKET_RESEARCH"
	CategoryReport         Category = "REPORT"
	CategoryMeeting        Category = "MEETING"
	CategoryActionRequired Category = "ACTION_REQUIRED"
	CategoryGeneral        Category = "GENERAL"
)

// AllCategories lists every category in declared order. Ties in scoring go to
// the earlier entry.
var AllCategories = []Category{
	CategorySettlement,
	CategoryTrade,
	CategoryCompliance,
	CategoryProduct,
	CategoryClientService,
	CategoryMarketResearch,
	CategoryReport,
	CategoryMeeting,
	CategoryActionRequired,
	CategoryGeneral,
}

func (c Category) IsValid() bool {
	for _, v := range AllCategories {
		if v == c {
			return true
		}
	}
	return false
}

// Intent of the sender as inferred by the model.
type Intent string

const (
	IntentRequest  Intent = "request"
	IntentInform   Intent = "inform"
	IntentConfirm  Intent = "confirm"
	IntentInquiry  Intent = "inquiry"
	IntentFollowUp Intent = "follow_up"
	IntentResponse Intent = "response"
	IntentAlert    Intent = "alert"
	IntentUnknown  Intent = "unknown"
)

var allIntents = []Intent{
	IntentRequest, IntentInform, IntentConfirm, IntentInquiry,
	IntentFollowUp, IntentResponse, IntentAlert, IntentUnknown,
}

// ParseIntent maps free text to an Intent, returning IntentUnknown for
// anything outside the set.
func ParseIntent(s string) Intent {
	for _, v := range allIntents {
		if string(v) == s {
			return v
		}
	}
	return IntentUnknown
}

type Sentiment string

const (
	SentimentPositive Sentiment = "positive"
	SentimentNeutral  Sentiment = "neutral"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment maps free text to a Sentiment, defaulting to neutral.
func ParseSentiment(s string) Sentiment {
	switch Sentiment(s) {
	case SentimentPositive, SentimentNegative:
		return Sentiment(s)
	default:
		return SentimentNeutral
	}
}

type Priority string

const (
	PriorityLow      Priority = "Low"
	PriorityMedium   Priority = "Medium"
	PriorityHigh     Priority = "High"
	PriorityCritical Priority = "Critical"
)

// ParsePriority accepts any casing and returns false for unknown values.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "low", "Low", "LOW":
		return PriorityLow, true
	case "medium", "Medium", "MEDIUM":
		return PriorityMedium, true
	case "high", "High", "HIGH":
		return PriorityHigh, true
	case "critical", "Critical", "CRITICAL":
		return PriorityCritical, true
	}
	return "", false
}

// PriorityFromUrgency derives a priority purely from an urgency score.
func PriorityFromUrgency(urgency int) Priority {
	switch {
	case urgency >= 5:
		return PriorityCritical
	case urgency >= 4:
		return PriorityHigh
	case urgency <= 1:
		return PriorityLow
	default:
		return PriorityMedium
	}
}

// ProductType is the ETF family a message concerns.
type ProductType string

const (
	ProductEquityETF           ProductType = "Equity ETF"
	ProductFixedIncomeETF      ProductType = "Fixed Income ETF"
	ProductCommodityETF        ProductType = "Commodity ETF"
	ProductThematicETF         ProductType = "Thematic ETF"
	ProductLeveragedInverseETF ProductType = "Leveraged/Inverse ETF"
	ProductUnknown             ProductType = "Unknown"
)

// AllProductTypes lists the scored product types in declared order.
var AllProductTypes = []ProductType{
	ProductEquityETF,
	ProductFixedIncomeETF,
	ProductCommodityETF,
	ProductThematicETF,
	ProductLeveragedInverseETF,
}

// CounterpartyType is the inferred role of the external party.
type CounterpartyType string

const (
	CounterpartyCustodian             CounterpartyType = "Custodian"
	CounterpartyAdministrator         CounterpartyType = "Administrator"
	CounterpartyTransferAgent         CounterpartyType = "Transfer Agent"
	CounterpartyAuthorizedParticipant CounterpartyType = "Authorized Participant"
	CounterpartyIndexProvider         CounterpartyType = "Index Provider"
	CounterpartyExchange              CounterpartyType = "Exchange"
	CounterpartyRegulator             CounterpartyType = "Regulator"
	CounterpartyInternal              CounterpartyType = "Internal"
	CounterpartyClient                CounterpartyType = "Client"
	CounterpartyUnknown               CounterpartyType = "Unknown"
)

// AllCounterpartyTypes is the matching precedence; the first family with a
// hit wins.
var AllCounterpartyTypes = []CounterpartyType{
	CounterpartyCustodian,
	CounterpartyAdministrator,
	CounterpartyTransferAgent,
	CounterpartyAuthorizedParticipant,
	CounterpartyIndexProvider,
	CounterpartyExchange,
	CounterpartyRegulator,
	CounterpartyInternal,
	CounterpartyClient,
}

// Entities extracted from a message body.
type Entities struct {
	People    []string `json:"people"`
	Companies []string `json:"companies"`
	Products  []string `json:"products"`
	Tickers   []string `json:"tickers"`
	Amounts   []string `json:"amounts"`
	Dates     []string `json:"dates"`
}

// All returns every entity value in a stable order.
func (e Entities) All() []string {
	out := make([]string, 0, len(e.People)+len(e.Companies)+len(e.Products)+len(e.Tickers)+len(e.Amounts)+len(e.Dates))
	out = append(out, e.People...)
	out = append(out, e.Companies...)
	out = append(out, e.Products...)
	out = append(out, e.Tickers...)
	out = append(out, e.Amounts...)
	out = append(out, e.Dates...)
	return out
}

// ActionItem is a task extracted from a message. It is only ever stored
// inside its AnalysisRecord.
type ActionItem struct {
	Task     string   `json:"task"`
	DueDate  string   `json:"due_date,omitempty"`
	Priority Priority `json:"priority"`
	Owner    string   `json:"owner,omitempty"`
}

// AnalysisSource records which path produced a record.
type AnalysisSource string

const (
	SourceAI       AnalysisSource = "ai"
	SourceFallback AnalysisSource = "fallback"
)

// AnalysisRecord is the structured knowledge for one (owner, message id).
type AnalysisRecord struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`

	// Display metadata carried from the raw message.
	Subject    string    `json:"subject"`
	FromEmail  string    `json:"from_email"`
	Direction  Direction `json:"direction"`
	ReceivedAt time.Time `json:"received_at"`

	Category           Category         `json:"category"`
	CategoryConfidence float64          `json:"category_confidence"`
	Intent             Intent           `json:"intent"`
	Sentiment          Sentiment        `json:"sentiment"`
	SentimentScore     float64          `json:"sentiment_score"`
	UrgencyScore       int              `json:"urgency_score"`
	Priority           Priority         `json:"priority"`
	RequiresReply      bool             `json:"requires_reply"`
	ProductType        ProductType      `json:"product_type"`
	CounterpartyType   CounterpartyType `json:"counterparty_type"`
	Keywords           []string         `json:"keywords"`
	Entities           Entities         `json:"entities"`
	Topics             []string         `json:"topics"`
	ActionItems        []ActionItem     `json:"action_items"`
	Summary            string           `json:"summary"`
	Source             AnalysisSource   `json:"source"`
	AnalyzedAt         time.Time        `json:"analyzed_at"`
}

// EmbeddingRecord is the stored vector for one (owner, message id).
type EmbeddingRecord struct {
	OwnerID   uuid.UUID `json:"owner_id"`
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Vector    []float32 `json:"-"`
	Text      string    `json:"text"`
	Model     string    `json:"model"`
}

// Neighbor is one raw nearest-neighbor hit from the vector store.
type Neighbor struct {
	MessageID  string  `json:"message_id"`
	ThreadID   string  `json:"thread_id,omitempty"`
	Similarity float64 `json:"similarity"`
}

// EmailMetadata is the display information joined onto retrieval results.
type EmailMetadata struct {
	MessageID string    `json:"message_id"`
	ThreadID  string    `json:"thread_id,omitempty"`
	Subject   string    `json:"subject"`
	Summary   string    `json:"summary"`
	Date      time.Time `json:"date"`
	Category  Category  `json:"category"`
	Direction Direction `json:"direction"`
	Topics    []string  `json:"topics"`
	Entities  Entities  `json:"entities"`
}

// MetadataFilter narrows a metadata lookup. Zero values mean no filter.
type MetadataFilter struct {
	Category  Category   `json:"category,omitempty"`
	DateFrom  *time.Time `json:"date_from,omitempty"`
	DateTo    *time.Time `json:"date_to,omitempty"`
	Direction Direction  `json:"direction,omitempty"`
}

// IsEmpty reports whether no filter field is set.
func (f *MetadataFilter) IsEmpty() bool {
	return f == nil || (f.Category == "" && f.DateFrom == nil && f.DateTo == nil && f.Direction == "")
}

// Matches applies the filter to one metadata row.
func (f *MetadataFilter) Matches(m *EmailMetadata) bool {
	if f.IsEmpty() {
		return true
	}
	if f.Category != "" && m.Category != f.Category {
		return false
	}
	if f.Direction != "" && m.Direction != f.Direction {
		return false
	}
	if f.DateFrom != nil && m.Date.Before(*f.DateFrom) {
		return false
	}
	if f.DateTo != nil && m.Date.After(*f.DateTo) {
		return false
	}
	return true
}

// SimilarityResult is one related message with display fields joined at
// query time.
type SimilarityResult struct {
	MessageID  string    `json:"message_id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	Similarity float64   `json:"similarity"`
	Subject    string    `json:"subject"`
	Date       time.Time `json:"date"`
	Category   Category  `json:"category"`
}
