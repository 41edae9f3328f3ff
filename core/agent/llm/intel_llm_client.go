package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"intel_server/core/port/out"
	"intel_server/pkg/apperr"
	"intel_server/pkg/resilience"

	openai "github.com/sashabaranov/go-openai"
)

const (
	DefaultModel          = "gpt-4o-mini"
	DefaultEmbeddingModel = "text-embedding-ada-002"
	DefaultDimensions     = 1536

	// maxEmbedChars keeps embedding input well under the model token limit.
	maxEmbedChars = 24000
)

// embeddingModels maps configured model names onto the identifiers the
// OpenAI client can send. Only models producing DefaultDimensions vectors
// are listed.
var embeddingModels = map[string]openai.EmbeddingModel{
	"text-embedding-ada-002": openai.AdaEmbeddingV2,
}

// SupportedEmbeddingModel reports whether name can be requested.
func SupportedEmbeddingModel(name string) bool {
	_, ok := embeddingModels[name]
	return ok
}

// chatAPI is the subset of *openai.Client the pipeline uses.
type chatAPI interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// Client talks to OpenAI for both chat completion and embeddings.
type Client struct {
	api            chatAPI
	model          string
	embeddingModel string
	embeddingID    openai.EmbeddingModel
	dimensions     int
	maxTokens      int
	temperature    float32
	timeout        time.Duration
	cb             *resilience.Breaker
}

type ClientConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	Dimensions     int
	MaxTokens      int
	Temperature    float64
	TimeoutSec     int
}

// NewClientWithConfig fails with CONFIG_ERROR when the embedding model is not
// one the client can request.
func NewClientWithConfig(cfg ClientConfig) (*Client, error) {
	if cfg.EmbeddingModel != "" && !SupportedEmbeddingModel(cfg.EmbeddingModel) {
		return nil, apperr.ConfigError(fmt.Sprintf("unsupported embedding model %q", cfg.EmbeddingModel))
	}
	return newClient(openai.NewClient(cfg.APIKey), cfg), nil
}

func newClient(api chatAPI, cfg ClientConfig) *Client {
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}
	dimensions := cfg.Dimensions
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	maxTokens := cfg.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	timeout := time.Duration(cfg.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		api:            api,
		model:          model,
		embeddingModel: embeddingModel,
		embeddingID:    embeddingModels[embeddingModel],
		dimensions:     dimensions,
		maxTokens:      maxTokens,
		temperature:    float32(cfg.Temperature),
		timeout:        timeout,
		cb: resilience.NewBreaker(resilience.BreakerConfig{
			Name:        "openai-api",
			MaxRequests: 2,
			ReadyToTrip: resilience.ConsecutiveFailures(5),
			Ignore:      isClientError,
		}),
	}
}

// Generate asks for a JSON object. The returned text is not validated.
func (c *Client) Generate(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp openai.ChatCompletionResponse
	err := c.cb.Execute(func() error {
		var apiErr error
		resp, apiErr = c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
			Model: c.model,
			Messages: []openai.ChatCompletionMessage{
				{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
				{Role: openai.ChatMessageRoleUser, Content: userPrompt},
			},
			MaxTokens:   c.maxTokens,
			Temperature: c.temperature,
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONObject,
			},
		})
		return apiErr
	})
	if err != nil {
		return "", mapError("chat completion", err)
	}

	if len(resp.Choices) == 0 {
		return "", apperr.ExternalError("openai chat completion", errors.New("no choices returned"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the vector for text. The vector length must match the
// configured dimension.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.ValidationFailed("cannot embed empty text")
	}
	text = truncateRunes(text, maxEmbedChars)

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var resp openai.EmbeddingResponse
	err := c.cb.Execute(func() error {
		var apiErr error
		resp, apiErr = c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Model: c.embeddingID,
			Input: []string{text},
		})
		return apiErr
	})
	if err != nil {
		return nil, mapError("embeddings", err)
	}

	if len(resp.Data) == 0 {
		return nil, apperr.ExternalError("openai embeddings", errors.New("no embedding returned"))
	}
	vec := resp.Data[0].Embedding
	if len(vec) != c.dimensions {
		return nil, apperr.ValidationFailed(fmt.Sprintf("embedding dimension mismatch: got %d, want %d", len(vec), c.dimensions))
	}
	return vec, nil
}

// Model is the name of the embedding model every request is sent with.
func (c *Client) Model() string   { return c.embeddingModel }
func (c *Client) Dimensions() int { return c.dimensions }

// truncateRunes cuts s to at most maxLen bytes without splitting a rune.
func truncateRunes(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	cut := maxLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// isClientError keeps 4xx responses other than 429 from tripping the
// breaker.
func isClientError(err error) bool {
	status := httpStatus(err)
	return status >= 400 && status < 500 && status != http.StatusTooManyRequests
}

func httpStatus(err error) int {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode
	}
	return 0
}

// mapError turns provider failures into AppErrors. Quota failures and an
// open breaker become rate-limit errors so ingestion halts the batch.
func mapError(op string, err error) error {
	if resilience.IsOpen(err) {
		return apperr.RateLimited("openai", err)
	}
	if httpStatus(err) == http.StatusTooManyRequests || IsRateLimitMessage(err.Error()) {
		return apperr.RateLimited("openai", err)
	}
	return apperr.ExternalError("openai "+op, err)
}

// IsRateLimitMessage matches the wording providers use for quota errors.
func IsRateLimitMessage(msg string) bool {
	msg = strings.ToLower(msg)
	return strings.Contains(msg, "429") ||
		strings.Contains(msg, "rate limit") ||
		strings.Contains(msg, "rate_limit") ||
		strings.Contains(msg, "too many requests") ||
		strings.Contains(msg, "insufficient_quota")
}

// =============================================================================
// Interface Compliance
// =============================================================================

var (
	_ out.LLMProvider       = (*Client)(nil)
	_ out.EmbeddingProvider = (*Client)(nil)
)
