package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"intel_server/core/port/out"
	"intel_server/pkg/apperr"
	"intel_server/pkg/crypto"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// TokenAdapter reads mailbox credentials that the account service stores in
// oauth_connections. Tokens may be sealed with the shared encryption key.
type TokenAdapter struct {
	db        *sqlx.DB
	encryptor *crypto.Encryptor
}

// NewTokenAdapter accepts a nil encryptor for plaintext token storage.
func NewTokenAdapter(db *sqlx.DB, encryptor *crypto.Encryptor) *TokenAdapter {
	return &TokenAdapter{db: db, encryptor: encryptor}
}

type tokenRow struct {
	UserID       uuid.UUID    `db:"user_id"`
	Email        string       `db:"email"`
	AccessToken  string       `db:"access_token"`
	RefreshToken string       `db:"refresh_token"`
	ExpiresAt    sql.NullTime `db:"expires_at"`
}

// GetToken returns the owner's default connected Google account.
func (a *TokenAdapter) GetToken(ctx context.Context, ownerID uuid.UUID) (*out.MailboxToken, error) {
	var row tokenRow
	query := `
		SELECT user_id, email, access_token, refresh_token, expires_at
		FROM oauth_connections
		WHERE user_id = $1 AND provider = 'google' AND is_connected = TRUE
		ORDER BY is_default DESC, updated_at DESC
		LIMIT 1`

	if err := a.db.GetContext(ctx, &row, query, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperr.NotFound("mailbox connection")
		}
		return nil, fmt.Errorf("failed to get mailbox token: %w", err)
	}
	return a.toToken(&row), nil
}

func (a *TokenAdapter) toToken(row *tokenRow) *out.MailboxToken {
	token := &out.MailboxToken{
		OwnerID:      row.UserID,
		Email:        row.Email,
		AccessToken:  a.encryptor.DecryptToken(row.AccessToken),
		RefreshToken: a.encryptor.DecryptToken(row.RefreshToken),
	}
	if row.ExpiresAt.Valid {
		token.ExpiresAt = row.ExpiresAt.Time.Unix()
	}
	return token
}

var _ out.MailboxTokenRepository = (*TokenAdapter)(nil)
