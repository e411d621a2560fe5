package matching

import (
	"context"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Store is the read side of the protected reference corpus.
type Store interface {
	// Space reports the embedding space every stored vector belongs to.
	Space() domain.EmbeddingSpace
	// Nearest returns up to k items ordered by descending cosine similarity.
	Nearest(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error)
	// FindByLabel returns up to limit distinct items whose label contains
	// token, case-insensitively.
	FindByLabel(ctx context.Context, token string, limit int) ([]domain.ReferenceItem, error)
}
