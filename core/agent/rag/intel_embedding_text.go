package rag

import (
	"strings"

	"intel_server/core/domain"
)

// Canonical embedding text labels, in emission order.
const (
	labelSubject  = "[SUBJECT]"
	labelFrom     = "[FROM]"
	labelIntent   = "[INTENT]"
	labelTopics   = "[TOPICS]"
	labelKeywords = "[KEYWORDS]"
	labelSummary  = "[SUMMARY]"

	listSeparator = ", "
)

// EmbeddingFields are the inputs of the canonical embedding text.
type EmbeddingFields struct {
	Subject  string
	From     string
	Intent   string
	Topics   []string
	Keywords []string
	Summary  string
}

// FieldsFromRecord picks the embedded fields out of an analysis.
func FieldsFromRecord(rec *domain.AnalysisRecord) EmbeddingFields {
	intent := string(rec.Intent)
	if rec.Intent == domain.IntentUnknown {
		intent = ""
	}
	return EmbeddingFields{
		Subject:  rec.Subject,
		From:     rec.FromEmail,
		Intent:   intent,
		Topics:   rec.Topics,
		Keywords: rec.Keywords,
		Summary:  rec.Summary,
	}
}

// BuildEmbeddingText renders fields one per line as "[LABEL] value" in fixed
// order. Empty fields are omitted and whitespace inside a value collapses to
// single spaces, so the same fields always produce the same text.
func BuildEmbeddingText(f EmbeddingFields) string {
	var lines []string
	add := func(label, value string) {
		value = normalizeSpace(value)
		if value != "" {
			lines = append(lines, label+" "+value)
		}
	}

	add(labelSubject, f.Subject)
	add(labelFrom, f.From)
	add(labelIntent, f.Intent)
	add(labelTopics, joinList(f.Topics))
	add(labelKeywords, joinList(f.Keywords))
	add(labelSummary, f.Summary)

	return strings.Join(lines, "\n")
}

// ParseEmbeddingText is the inverse of BuildEmbeddingText for normalized
// fields whose list items contain no ", ".
func ParseEmbeddingText(text string) EmbeddingFields {
	var f EmbeddingFields
	for _, line := range strings.Split(text, "\n") {
		label, value, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		switch label {
		case labelSubject:
			f.Subject = value
		case labelFrom:
			f.From = value
		case labelIntent:
			f.Intent = value
		case labelTopics:
			f.Topics = strings.Split(value, listSeparator)
		case labelKeywords:
			f.Keywords = strings.Split(value, listSeparator)
		case labelSummary:
			f.Summary = value
		}
	}
	return f
}

func joinList(items []string) string {
	kept := make([]string, 0, len(items))
	for _, item := range items {
		if item = normalizeSpace(item); item != "" {
			kept = append(kept, item)
		}
	}
	return strings.Join(kept, listSeparator)
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
