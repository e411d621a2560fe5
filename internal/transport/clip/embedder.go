// Package clip is the direct image embedding backend. It calls a hosted
// feature-extraction pipeline and returns the image vector without a description.
package clip

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/metrics"
)

// Defaults for the hosted inference API.
const (
	DefaultBaseURL = "https://router.huggingface.co/hf-inference/models"
	DefaultModel   = "openai/clip-vit-base-patch32"
)

const maxErrorBody = 4 << 10

// Embedder calls a feature-extraction endpoint with a base64 data URL.
type Embedder struct {
	http       *http.Client
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	provider   string
	timeout    time.Duration
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// Config holds the image embedding backend settings.
type Config struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
	Provider   string
	Timeout    time.Duration
	// RatePerSecond <= 0 disables client-side rate limiting.
	RatePerSecond float64
	Burst         int
	HTTPClient    *http.Client
	Logger        *zap.Logger
}

// NewEmbedder creates an image embedding backend.
func NewEmbedder(cfg *Config) *Embedder {
	e := &Embedder{
		http:       cfg.HTTPClient,
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		provider:   cfg.Provider,
		timeout:    cfg.Timeout,
		logger:     cfg.Logger,
	}
	if e.http == nil {
		e.http = &http.Client{}
	}
	if e.baseURL == "" {
		e.baseURL = DefaultBaseURL
	}
	if e.model == "" {
		e.model = DefaultModel
	}
	if e.dimensions <= 0 {
		e.dimensions = domain.ImageDimensions
	}
	if e.provider == "" {
		e.provider = "clip"
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	if cfg.RatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), max(1, cfg.Burst))
	}
	return e
}

// Name implements signature.Backend.
func (e *Embedder) Name() string { return e.provider }

// Space implements signature.Backend.
func (e *Embedder) Space() domain.EmbeddingSpace {
	return domain.ImageSpace(e.dimensions)
}

// Extract implements signature.Backend.
func (e *Embedder) Extract(ctx context.Context, image []byte) (domain.Signature, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return domain.Signature{}, domain.NewBackendError(e.provider, false, ctx.Err())
			}
			e.recordError("rate_limited")
			return domain.Signature{}, domain.NewBackendError(e.provider, true, fmt.Errorf("client rate limit: %w", err))
		}
	}
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	body, err := json.Marshal(map[string]string{
		"inputs": "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(image),
	})
	if err != nil {
		return domain.Signature{}, domain.NewBackendError(e.provider, false, fmt.Errorf("marshal request: %w", err))
	}

	url := e.baseURL + "/" + e.model + "/pipeline/feature-extraction"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return domain.Signature{}, domain.NewBackendError(e.provider, false, fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if e.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.apiKey)
	}

	start := time.Now()
	resp, err := e.http.Do(req)
	if err != nil {
		e.recordError("transport")
		return domain.Signature{}, domain.NewBackendError(e.provider, false, fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		e.recordError("api_error")
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable
		return domain.Signature{}, domain.NewBackendError(e.provider, retryable,
			fmt.Errorf("API error %d: %s", resp.StatusCode, strings.TrimSpace(string(msg))))
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		e.recordError("transport")
		return domain.Signature{}, domain.NewBackendError(e.provider, false, fmt.Errorf("read response: %w", err))
	}

	vec, err := parseFeatures(raw)
	if err != nil {
		e.recordError("bad_response")
		return domain.Signature{}, domain.NewBackendError(e.provider, false, err)
	}
	if len(vec) != e.dimensions {
		e.recordError("dimension_mismatch")
		return domain.Signature{}, domain.NewBackendError(e.provider, false,
			fmt.Errorf("%w: expected %d, got %d", domain.ErrVectorDimMismatch, e.dimensions, len(vec)))
	}

	metrics.ExtractionRequestsTotal.WithLabelValues(e.provider, e.model, "success").Inc()
	metrics.ExtractionRequestDuration.WithLabelValues(e.provider, e.model).Observe(time.Since(start).Seconds())

	return domain.Signature{Vector: vec, Space: e.Space(), Backend: e.provider}, nil
}

func (e *Embedder) recordError(errorType string) {
	metrics.ExtractionRequestsTotal.WithLabelValues(e.provider, e.model, "error").Inc()
	metrics.ExtractionErrorsTotal.WithLabelValues(e.provider, e.model, errorType).Inc()
}

// parseFeatures accepts a flat vector or a batch of vectors, taking the first row.
func parseFeatures(raw []byte) ([]float32, error) {
	var rows []json.RawMessage
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, fmt.Errorf("%w: unexpected response format: %w", domain.ErrDataIntegrity, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: empty feature vector", domain.ErrDataIntegrity)
	}
	if first := bytes.TrimSpace(rows[0]); len(first) > 0 && first[0] == '[' {
		return domain.DecodeVector(string(first))
	}
	return domain.DecodeVector(string(raw))
}

// errNoKey is returned by HealthCheck when no API key is configured.
var errNoKey = errors.New("clip: no api key")

// HealthCheck reports whether the backend is configured. The inference API
// has no free probe endpoint.
func (e *Embedder) HealthCheck(_ context.Context) error {
	if e.apiKey == "" {
		return errNoKey
	}
	return nil
}
