package signature

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/metrics"
)

// Extractor runs the primary backend and falls back to the secondary one
// when the primary fails. Vectors from the two are never blended.
type Extractor struct {
	primary  Backend
	fallback Backend
	logger   *zap.Logger
}

// New creates an extractor. Either backend may be nil, but not both.
func New(primary, fallback Backend, logger *zap.Logger) (*Extractor, error) {
	if primary == nil && fallback == nil {
		return nil, domain.ErrNotConfigured
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{primary: primary, fallback: fallback, logger: logger}, nil
}

// Spaces lists the embedding spaces the extractor can produce, primary first.
func (e *Extractor) Spaces() []domain.EmbeddingSpace {
	var out []domain.EmbeddingSpace
	for _, b := range []Backend{e.primary, e.fallback} {
		if b != nil {
			out = append(out, b.Space())
		}
	}
	return out
}

// Extract returns the signature of a normalized image. Failure of every
// attempted backend yields domain.ErrExtractionFailed; the error is also
// retryable when any backend reported a rate limit.
func (e *Extractor) Extract(ctx context.Context, image []byte) (domain.Signature, error) {
	if e == nil || (e.primary == nil && e.fallback == nil) {
		return domain.Signature{}, domain.ErrNotConfigured
	}
	if len(image) == 0 {
		return domain.Signature{}, domain.ErrEmptyInput
	}

	first, second := e.primary, e.fallback
	if first == nil {
		first, second = second, nil
	}

	sig, primaryErr := run(ctx, first, image)
	if primaryErr == nil {
		return sig, nil
	}
	if second == nil || ctx.Err() != nil {
		return domain.Signature{}, fmt.Errorf("%w: %w", domain.ErrExtractionFailed, primaryErr)
	}

	e.logger.Warn("Primary signature backend failed, using fallback",
		zap.String("primary", first.Name()),
		zap.String("fallback", second.Name()),
		zap.Bool("retryable", domain.IsRetryable(primaryErr)),
		zap.Error(primaryErr),
	)
	metrics.ExtractionFallbacksTotal.Inc()

	sig, fallbackErr := run(ctx, second, image)
	if fallbackErr != nil {
		return domain.Signature{}, fmt.Errorf("%w: %w",
			domain.ErrExtractionFailed, errors.Join(primaryErr, fallbackErr))
	}
	// Fallback vectors carry no description.
	sig.Description = ""
	return sig, nil
}

// ExtractWithDescription returns the vector and the raw description from a
// single backend invocation.
func (e *Extractor) ExtractWithDescription(
	ctx context.Context, image []byte,
) ([]float32, string, domain.EmbeddingSpace, error) {
	sig, err := e.Extract(ctx, image)
	if err != nil {
		return nil, "", domain.EmbeddingSpace{}, err
	}
	return sig.Vector, sig.Description, sig.Space, nil
}

func run(ctx context.Context, b Backend, image []byte) (domain.Signature, error) {
	sig, err := b.Extract(ctx, image)
	if err != nil {
		return domain.Signature{}, err
	}
	space := b.Space()
	if err := space.Validate(sig.Vector); err != nil {
		return domain.Signature{}, domain.NewBackendError(b.Name(), false, err)
	}
	sig.Space = space
	sig.Backend = b.Name()
	return sig, nil
}
