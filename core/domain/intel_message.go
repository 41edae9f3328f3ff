package domain

import (
	"strings"
	"time"
)

// Direction of a message relative to the mailbox owner.
type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// IsValid reports whether d is one of the known directions.
func (d Direction) IsValid() bool {
	return d == DirectionInbound || d == DirectionOutbound
}

// RawMessage is one fetched mailbox message. It only lives for the duration
// of an ingestion call.
type RawMessage struct {
	ID         string    `json:"id"`
	ThreadID   string    `json:"thread_id,omitempty"`
	FromEmail  string    `json:"from_email"`
	FromName   string    `json:"from_name,omitempty"`
	ToEmails   []string  `json:"to_emails,omitempty"`
	Subject    string    `json:"subject"`
	Body       string    `json:"body"`
	ReceivedAt time.Time `json:"received_at"`
	Direction  Direction `json:"direction"`
	Labels     []string  `json:"labels,omitempty"`
}

// Sender returns "Name <email>" when a display name is known.
func (m *RawMessage) Sender() string {
	name := strings.TrimSpace(m.FromName)
	if name == "" {
		return m.FromEmail
	}
	if m.FromEmail == "" {
		return name
	}
	return name + " <" + m.FromEmail + ">"
}
