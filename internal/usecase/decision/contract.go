package decision

import (
	"context"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Extractor produces the signature of a normalized image.
type Extractor interface {
	Extract(ctx context.Context, image []byte) (domain.Signature, error)
}

// Matcher queries the reference corpus.
type Matcher interface {
	ByName(ctx context.Context, name string) ([]domain.Match, error)
	ByVector(ctx context.Context, vector []float32, space domain.EmbeddingSpace, threshold float64) ([]domain.Match, error)
}
