package analysis

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"intel_server/core/domain"
	"intel_server/core/service/classification"
)

const maxPromptBody = 6000

const systemPrompt = `You are an operations analyst for an ETF issuer. Extract structured knowledge from one email.

Respond with ONLY this JSON object, no prose:
{
  "entities": {
    "people": ["full names"],
    "companies": ["organizations"],
    "products": ["funds or products"],
    "tickers": ["ticker symbols"],
    "amounts": ["monetary amounts or share quantities, as written"],
    "dates": ["dates or deadlines, as written"]
  },
  "topics": ["2-5 short topic phrases"],
  "keywords": ["up to 8 lowercase keywords"],
  "intent": "request|inform|confirm|inquiry|follow_up|response|alert|unknown",
  "sentiment": "positive|neutral|negative",
  "sentiment_score": 0.0,
  "action_items": [
    {"task": "what must be done", "due_date": "as written or null", "priority": "Low|Medium|High|Critical", "owner": "who or null"}
  ],
  "summary": "one or two sentences"
}

Rank action_items from most to least important. Use empty arrays when nothing applies.`

// buildUserPrompt renders one message plus the lexical hints.
func buildUserPrompt(msg *domain.RawMessage, lex classification.LexicalResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "From: %s\n", msg.Sender())
	if len(msg.ToEmails) > 0 {
		fmt.Fprintf(&b, "To: %s\n", strings.Join(msg.ToEmails, ", "))
	}
	if !msg.ReceivedAt.IsZero() {
		fmt.Fprintf(&b, "Date: %s\n", msg.ReceivedAt.Format("2006-01-02 15:04 MST"))
	}
	fmt.Fprintf(&b, "Direction: %s\n", msg.Direction)

	b.WriteString("\nClassifier hints:\n")
	fmt.Fprintf(&b, "- category: %s\n", lex.Category)
	fmt.Fprintf(&b, "- urgency (1-5): %d\n", lex.UrgencyScore)
	fmt.Fprintf(&b, "- counterparty: %s\n", lex.CounterpartyType)
	fmt.Fprintf(&b, "- product: %s\n", lex.ProductType)
	fmt.Fprintf(&b, "- requires reply: %t\n", lex.RequiresReply)

	b.WriteString("\nBody:\n")
	b.WriteString(truncateBody(msg.Body, maxPromptBody))
	return b.String()
}

// truncateBody cuts at a rune boundary and marks the cut.
func truncateBody(body string, maxLen int) string {
	if len(body) <= maxLen {
		return body
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
