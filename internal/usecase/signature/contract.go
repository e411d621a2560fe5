package signature

import (
	"context"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Backend turns one normalized still image into a signature.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string
	// Space is the embedding space of every vector the backend returns.
	Space() domain.EmbeddingSpace
	// Extract runs the backend once. Description is empty for backends
	// without vision-to-text support.
	Extract(ctx context.Context, image []byte) (domain.Signature, error)
}
