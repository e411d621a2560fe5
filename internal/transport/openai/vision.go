package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/metrics"
)

// DefaultBaseURL is the OpenAI-compatible endpoint of the Gemini API.
const DefaultBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// Generation settings for the description call.
const (
	Temperature = 0.1
	MaxTokens   = 600
)

// VisionBackend describes an image with a vision chat model and embeds the
// description with a text embedding model. One Extract is one description.
type VisionBackend struct {
	client         *openai.Client
	visionModel    string
	embeddingModel openai.EmbeddingModel
	dimensions     int
	provider       string
	timeout        time.Duration
	limiter        *rate.Limiter
	logger         *zap.Logger
}

// Config holds the vision backend settings.
type Config struct {
	APIKey         string
	BaseURL        string
	VisionModel    string
	EmbeddingModel string
	Dimensions     int
	Provider       string
	Timeout        time.Duration
	// RatePerSecond <= 0 disables client-side rate limiting.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// NewVisionBackend creates an OpenAI-compatible vision backend.
func NewVisionBackend(cfg *Config) *VisionBackend {
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = cfg.BaseURL
	if clientCfg.BaseURL == "" {
		clientCfg.BaseURL = DefaultBaseURL
	}
	if cfg.HTTPClient != nil {
		clientCfg.HTTPClient = cfg.HTTPClient
	}

	provider := cfg.Provider
	if provider == "" {
		provider = "gemini"
	}
	dims := cfg.Dimensions
	if dims <= 0 {
		dims = domain.DescriptionDimensions
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &VisionBackend{
		client:         openai.NewClientWithConfig(clientCfg),
		visionModel:    cfg.VisionModel,
		embeddingModel: openai.EmbeddingModel(cfg.EmbeddingModel),
		dimensions:     dims,
		provider:       provider,
		timeout:        cfg.Timeout,
		limiter:        newLimiter(cfg.RatePerSecond, cfg.Burst),
		logger:         logger,
	}
}

// Name implements signature.Backend.
func (b *VisionBackend) Name() string { return b.provider }

// Space implements signature.Backend.
func (b *VisionBackend) Space() domain.EmbeddingSpace {
	return domain.DescriptionSpace(b.dimensions)
}

// Extract implements signature.Backend. The description and the vector come
// from one chat completion followed by one embedding of its text.
func (b *VisionBackend) Extract(ctx context.Context, image []byte) (domain.Signature, error) {
	desc, err := b.describe(ctx, image)
	if err != nil {
		return domain.Signature{}, err
	}

	vec, err := b.embed(ctx, desc)
	if err != nil {
		return domain.Signature{}, err
	}

	return domain.Signature{
		Vector:      vec,
		Description: desc,
		Space:       b.Space(),
		Backend:     b.provider,
	}, nil
}

func (b *VisionBackend) describe(ctx context.Context, image []byte) (string, error) {
	if err := b.wait(ctx); err != nil {
		return "", err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:       b.visionModel,
		Temperature: Temperature,
		MaxTokens:   MaxTokens,
		Messages: []openai.ChatCompletionMessage{{
			Role: openai.ChatMessageRoleUser,
			MultiContent: []openai.ChatMessagePart{
				{Type: openai.ChatMessagePartTypeText, Text: DescriptionPrompt},
				{
					Type: openai.ChatMessagePartTypeImageURL,
					ImageURL: &openai.ChatMessageImageURL{
						URL:    "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
						Detail: openai.ImageURLDetailHigh,
					},
				},
			},
		}},
	}

	start := time.Now()
	resp, err := b.client.CreateChatCompletion(ctx, req)
	duration := time.Since(start)

	if err != nil {
		b.recordError(b.visionModel, "api_error")
		return "", b.parseAPIError("describe", err)
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		b.recordError(b.visionModel, "empty_response")
		return "", domain.NewBackendError(b.provider, false, errors.New("no description generated"))
	}

	metrics.ExtractionRequestsTotal.WithLabelValues(b.provider, b.visionModel, "success").Inc()
	metrics.ExtractionRequestDuration.WithLabelValues(b.provider, b.visionModel).Observe(duration.Seconds())
	return resp.Choices[0].Message.Content, nil
}

func (b *VisionBackend) embed(ctx context.Context, text string) ([]float32, error) {
	if err := b.wait(ctx); err != nil {
		return nil, err
	}
	ctx, cancel := b.withTimeout(ctx)
	defer cancel()

	model := string(b.embeddingModel)
	req := openai.EmbeddingRequest{
		Input:          []string{text},
		Model:          b.embeddingModel,
		EncodingFormat: openai.EmbeddingEncodingFormatFloat,
		Dimensions:     b.dimensions,
	}

	start := time.Now()
	resp, err := b.client.CreateEmbeddings(ctx, req)
	duration := time.Since(start)

	if err != nil {
		b.recordError(model, "api_error")
		return nil, b.parseAPIError("embed description", err)
	}
	if len(resp.Data) == 0 {
		b.recordError(model, "empty_response")
		return nil, domain.NewBackendError(b.provider, false, errors.New("empty embedding response"))
	}

	vec := resp.Data[0].Embedding
	if len(vec) != b.dimensions {
		b.recordError(model, "dimension_mismatch")
		return nil, domain.NewBackendError(b.provider, false,
			fmt.Errorf("%w: expected %d, got %d", domain.ErrVectorDimMismatch, b.dimensions, len(vec)))
	}

	metrics.ExtractionRequestsTotal.WithLabelValues(b.provider, model, "success").Inc()
	metrics.ExtractionRequestDuration.WithLabelValues(b.provider, model).Observe(duration.Seconds())
	return vec, nil
}

// HealthCheck verifies API availability via ListModels (free endpoint).
func (b *VisionBackend) HealthCheck(ctx context.Context) error {
	if _, err := b.client.ListModels(ctx); err != nil {
		return fmt.Errorf("list models: %w", err)
	}
	return nil
}

func (b *VisionBackend) recordError(model, errorType string) {
	metrics.ExtractionRequestsTotal.WithLabelValues(b.provider, model, "error").Inc()
	metrics.ExtractionErrorsTotal.WithLabelValues(b.provider, model, errorType).Inc()
}

func (b *VisionBackend) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if b.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, b.timeout)
}

// wait blocks on the client-side limiter. A wait that cannot complete before
// the deadline is reported as a retryable rate limit.
func (b *VisionBackend) wait(ctx context.Context) error {
	if b.limiter == nil {
		return nil
	}
	if err := b.limiter.Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return domain.NewBackendError(b.provider, false, ctx.Err())
		}
		b.recordError(b.visionModel, "rate_limited")
		return domain.NewBackendError(b.provider, true, fmt.Errorf("client rate limit: %w", err))
	}
	return nil
}

func newLimiter(perSecond float64, burst int) *rate.Limiter {
	if perSecond <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}

// parseAPIError converts a go-openai error into a backend error. HTTP 429
// and 503 responses are retryable.
func (b *VisionBackend) parseAPIError(op string, err error) error {
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		detail := extractDetail(reqErr.Body)
		if detail == "" {
			detail = string(reqErr.Body)
		}
		return domain.NewBackendError(b.provider, retryableStatus(reqErr.HTTPStatusCode),
			fmt.Errorf("%s: API error %d: %s", op, reqErr.HTTPStatusCode, detail))
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return domain.NewBackendError(b.provider, retryableStatus(apiErr.HTTPStatusCode),
			fmt.Errorf("%s: API error %d: %s", op, apiErr.HTTPStatusCode, apiErr.Message))
	}

	return domain.NewBackendError(b.provider, false, fmt.Errorf("%s: request failed: %w", op, err))
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code == http.StatusServiceUnavailable
}

// extractDetail reads the "detail" or "error.message" field of a JSON error body.
func extractDetail(body []byte) string {
	var parsed struct {
		Detail string `json:"detail"`
		Error  struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &parsed) != nil {
		return ""
	}
	if parsed.Detail != "" {
		return parsed.Detail
	}
	return parsed.Error.Message
}
