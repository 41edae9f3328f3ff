// Package provider implements mailbox provider adapters.
package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"intel_server/core/domain"
	"intel_server/core/port/out"
	"intel_server/pkg/logger"
	"intel_server/pkg/resilience"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/net/html"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	gmailUser         = "me"
	gmailPageSize     = 500
	defaultMaxResults = 500
	maxBodyDepth      = 10
)

// GmailConfig holds the OAuth client used to refresh stored tokens.
type GmailConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// GmailMailbox implements out.Mailbox with read-only Gmail access.
type GmailMailbox struct {
	config *oauth2.Config
	tokens out.MailboxTokenRepository
	cb     *resilience.Breaker
}

func NewGmailMailbox(cfg *GmailConfig, tokens out.MailboxTokenRepository) *GmailMailbox {
	config := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURL:  cfg.RedirectURL,
		Scopes:       []string{gmail.GmailReadonlyScope},
		Endpoint:     google.Endpoint,
	}

	return &GmailMailbox{
		config: config,
		tokens: tokens,
		cb: resilience.NewBreaker(resilience.BreakerConfig{
			Name:        "gmail-api",
			MaxRequests: 3,
			ReadyToTrip: resilience.FailureRatio(5, 10, 0.6),
			Ignore:      isRequestError,
		}),
	}
}

// ListMessageIDs pages through the scope newest first until MaxResults ids
// are collected.
func (m *GmailMailbox) ListMessageIDs(ctx context.Context, ownerID uuid.UUID, scope out.MailboxScope) ([]string, error) {
	svc, err := m.service(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	maxResults := scope.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}
	query := BuildQuery(scope)

	ids := make([]string, 0)
	pageToken := ""
	for len(ids) < maxResults {
		call := svc.Users.Messages.List(gmailUser).
			MaxResults(int64(min(gmailPageSize, maxResults-len(ids)))).
			Context(ctx)
		if query != "" {
			call = call.Q(query)
		}
		if pageToken != "" {
			call = call.PageToken(pageToken)
		}

		var resp *gmail.ListMessagesResponse
		err := m.execute("list", func() error {
			var apiErr error
			resp, apiErr = call.Do()
			return apiErr
		})
		if err != nil {
			return nil, wrapError(err, "failed to list messages")
		}

		for _, msg := range resp.Messages {
			ids = append(ids, msg.Id)
		}
		if resp.NextPageToken == "" || len(resp.Messages) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(ids) > maxResults {
		ids = ids[:maxResults]
	}
	return ids, nil
}

// GetMessage fetches one message in full format. A missing message returns
// nil, nil.
func (m *GmailMailbox) GetMessage(ctx context.Context, ownerID uuid.UUID, messageID string) (*domain.RawMessage, error) {
	svc, err := m.service(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	var msg *gmail.Message
	err = m.execute("get", func() error {
		var apiErr error
		msg, apiErr = svc.Users.Messages.Get(gmailUser, messageID).Format("full").Context(ctx).Do()
		return apiErr
	})
	if err != nil {
		var pe *out.ProviderError
		if errors.As(wrapError(err, ""), &pe) && pe.Code == out.ProviderErrNotFound {
			return nil, nil
		}
		return nil, wrapError(err, "failed to get message")
	}
	return convertMessage(msg), nil
}

func (m *GmailMailbox) service(ctx context.Context, ownerID uuid.UUID) (*gmail.Service, error) {
	stored, err := m.tokens.GetToken(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	token := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    "Bearer",
	}
	if stored.ExpiresAt > 0 {
		token.Expiry = time.Unix(stored.ExpiresAt, 0)
	}

	// The token source outlives this call, so it must not be bound to ctx.
	return gmail.NewService(ctx, option.WithTokenSource(
		m.config.TokenSource(context.Background(), token),
	))
}

// execute runs fn behind the breaker. Client errors other than quota
// failures do not count toward tripping it.
func (m *GmailMailbox) execute(operation string, fn func() error) error {
	err := m.cb.Execute(fn)
	if err != nil {
		logger.WithError(err).Debug("[GmailMailbox] %s failed: breaker=%s", operation, m.cb.State())
	}
	return err
}

// isRequestError reports failures caused by the request itself. They are
// returned without counting against the breaker.
func isRequestError(err error) bool {
	var apiErr *googleapi.Error
	if !errors.As(err, &apiErr) {
		return false
	}
	switch apiErr.Code {
	case 400, 401, 404:
		return true
	case 403:
		return !isRateLimitReason(apiErr)
	}
	return false
}

// BuildQuery renders the Gmail search expression for a scope.
func BuildQuery(scope out.MailboxScope) string {
	var parts []string
	if label := strings.TrimSpace(scope.Label); label != "" {
		parts = append(parts, "in:"+strings.ToLower(label))
	}
	if scope.DaysBack > 0 {
		parts = append(parts, fmt.Sprintf("newer_than:%dd", scope.DaysBack))
	}
	return strings.Join(parts, " ")
}

func convertMessage(msg *gmail.Message) *domain.RawMessage {
	raw := &domain.RawMessage{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		Labels:    msg.LabelIds,
		Direction: domain.DirectionInbound,
	}
	if lo.Contains(msg.LabelIds, "SENT") {
		raw.Direction = domain.DirectionOutbound
	}
	if msg.InternalDate > 0 {
		raw.ReceivedAt = time.UnixMilli(msg.InternalDate).UTC()
	}

	if msg.Payload == nil {
		raw.Body = msg.Snippet
		return raw
	}

	for _, h := range msg.Payload.Headers {
		switch h.Name {
		case "Subject":
			raw.Subject = h.Value
		case "From":
			raw.FromName, raw.FromEmail = parseAddress(h.Value)
		case "To":
			raw.ToEmails = parseAddressList(h.Value)
		case "Date":
			if raw.ReceivedAt.IsZero() {
				if t, err := mail.ParseDate(h.Value); err == nil {
					raw.ReceivedAt = t.UTC()
				}
			}
		}
	}

	var body messageBody
	extractBody(msg.Payload, &body, 0)
	switch {
	case strings.TrimSpace(body.text) != "":
		raw.Body = body.text
	case body.html != "":
		raw.Body = HTMLToText(body.html)
	default:
		raw.Body = msg.Snippet
	}
	return raw
}

type messageBody struct {
	text string
	html string
}

// extractBody keeps the first text/plain and text/html parts found depth
// first.
func extractBody(part *gmail.MessagePart, body *messageBody, depth int) {
	if part == nil || depth > maxBodyDepth {
		return
	}

	if part.Body != nil && part.Body.Data != "" && part.Filename == "" {
		switch part.MimeType {
		case "text/plain":
			if body.text == "" {
				body.text = decodePart(part.Body.Data)
			}
		case "text/html":
			if body.html == "" {
				body.html = decodePart(part.Body.Data)
			}
		}
	}

	for _, p := range part.Parts {
		extractBody(p, body, depth+1)
	}
}

// decodePart accepts both padded and unpadded base64url.
func decodePart(data string) string {
	if decoded, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	if decoded, err := base64.RawURLEncoding.DecodeString(data); err == nil {
		return string(decoded)
	}
	return ""
}

// HTMLToText extracts visible text, dropping script and style content.
func HTMLToText(src string) string {
	tokenizer := html.NewTokenizer(strings.NewReader(src))
	var sb strings.Builder
	skip := 0

	for {
		switch tokenizer.Next() {
		case html.ErrorToken:
			return strings.Join(strings.Fields(sb.String()), " ")
		case html.StartTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style", "head":
				skip++
			case "br", "p", "div", "tr", "li":
				sb.WriteByte(' ')
			}
		case html.EndTagToken:
			name, _ := tokenizer.TagName()
			switch string(name) {
			case "script", "style", "head":
				if skip > 0 {
					skip--
				}
			}
		case html.TextToken:
			if skip == 0 {
				sb.Write(tokenizer.Text())
				sb.WriteByte(' ')
			}
		}
	}
}

func parseAddress(s string) (name, email string) {
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return "", strings.TrimSpace(s)
	}
	return addr.Name, strings.ToLower(addr.Address)
}

func parseAddressList(s string) []string {
	list, err := mail.ParseAddressList(s)
	if err != nil {
		if s = strings.TrimSpace(s); s != "" {
			return []string{s}
		}
		return nil
	}
	return lo.Map(list, func(a *mail.Address, _ int) string {
		return strings.ToLower(a.Address)
	})
}

func isRateLimitReason(apiErr *googleapi.Error) bool {
	for _, item := range apiErr.Errors {
		if item.Reason == "rateLimitExceeded" || item.Reason == "userRateLimitExceeded" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(apiErr.Message), "rate limit")
}

// wrapError maps Gmail failures onto ProviderError. Quota failures and an
// open breaker become ProviderErrRateLimit so ingestion halts.
func wrapError(err error, defaultMsg string) error {
	if err == nil {
		return nil
	}
	if resilience.IsOpen(err) {
		return out.NewProviderError("gmail", out.ProviderErrRateLimit, "Circuit open", err, true)
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case 401:
			return out.NewProviderError("gmail", out.ProviderErrTokenExpired, "Token expired", err, false)
		case 403:
			if isRateLimitReason(apiErr) {
				return out.NewProviderError("gmail", out.ProviderErrRateLimit, "Rate limit exceeded", err, true)
			}
			return out.NewProviderError("gmail", out.ProviderErrAuth, "Access denied", err, false)
		case 404:
			return out.NewProviderError("gmail", out.ProviderErrNotFound, "Not found", err, false)
		case 429:
			return out.NewProviderError("gmail", out.ProviderErrRateLimit, "Too many requests", err, true)
		case 500, 502, 503:
			return out.NewProviderError("gmail", out.ProviderErrServer, "Server error", err, true)
		}
	}

	return out.NewProviderError("gmail", out.ProviderErrServer, defaultMsg, err, true)
}

var _ out.Mailbox = (*GmailMailbox)(nil)
