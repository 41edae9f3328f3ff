package out

import (
	"errors"

	"intel_server/pkg/apperr"
)

// ErrRateLimited is matched with errors.Is by the ingestion controller. Any
// adapter reporting a provider quota or 429 must wrap it, either directly or
// through a ProviderError with code ProviderErrRateLimit.
var ErrRateLimited = apperr.ErrRateLimited

// IsRateLimited reports whether err is a provider rate-limit.
func IsRateLimited(err error) bool {
	return err != nil && errors.Is(err, ErrRateLimited)
}

// ProviderErrorCode classifies mailbox provider failures.
type ProviderErrorCode string

const (
	ProviderErrAuth         ProviderErrorCode = "auth_error"
	ProviderErrTokenExpired ProviderErrorCode = "token_expired"
	ProviderErrRateLimit    ProviderErrorCode = "rate_limit"
	ProviderErrNotFound     ProviderErrorCode = "not_found"
	ProviderErrServer       ProviderErrorCode = "server_error"
)

// ProviderError is returned by Mailbox implementations. Retryable marks
// failures a later run may get past.
type ProviderError struct {
	Provider  string
	Code      ProviderErrorCode
	Message   string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is lets rate-limit provider errors match ErrRateLimited.
func (e *ProviderError) Is(target error) bool {
	return e.Code == ProviderErrRateLimit && target == ErrRateLimited
}

func NewProviderError(provider string, code ProviderErrorCode, message string, err error, retryable bool) *ProviderError {
	return &ProviderError{
		Provider:  provider,
		Code:      code,
		Message:   message,
		Err:       err,
		Retryable: retryable,
	}
}
