package consensus

import (
	"context"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Sampler reduces a video to representative still frames.
type Sampler interface {
	Sample(ctx context.Context, video []byte) ([][]byte, error)
}

// Extractor produces the vector and description of one frame in a single
// backend call.
type Extractor interface {
	ExtractWithDescription(ctx context.Context, image []byte) ([]float32, string, domain.EmbeddingSpace, error)
}

// NameMatcher looks up reference items by declared identity.
type NameMatcher interface {
	ByName(ctx context.Context, name string) ([]domain.Match, error)
}
