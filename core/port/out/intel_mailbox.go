package out

import (
	"context"

	"intel_server/core/domain"

	"github.com/google/uuid"
)

// MailboxScope selects the message ids a bulk ingestion considers.
type MailboxScope struct {
	Label      string // e.g. INBOX, SENT; empty means all mail
	DaysBack   int    // 0 means no date bound
	MaxResults int
}

// Mailbox supplies raw messages for one owner. Both operations may fail
// transiently; a quota failure must satisfy errors.Is(err, ErrRateLimited).
type Mailbox interface {
	ListMessageIDs(ctx context.Context, ownerID uuid.UUID, scope MailboxScope) ([]string, error)
	GetMessage(ctx context.Context, ownerID uuid.UUID, messageID string) (*domain.RawMessage, error)
}

// MailboxToken is the stored OAuth credential for an owner's mailbox.
type MailboxToken struct {
	OwnerID      uuid.UUID
	Email        string
	AccessToken  string
	RefreshToken string
	ExpiresAt    int64 // unix seconds
}

// MailboxTokenRepository resolves credentials for the mailbox adapter.
type MailboxTokenRepository interface {
	GetToken(ctx context.Context, ownerID uuid.UUID) (*MailboxToken, error)
}
