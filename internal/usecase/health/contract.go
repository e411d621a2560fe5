package health

import (
	"context"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// ReferenceStore is one reference collection, checked for reachability and size.
type ReferenceStore interface {
	Space() domain.EmbeddingSpace
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// BackendChecker checks signature backend availability.
type BackendChecker interface {
	Name() string
	HealthCheck(ctx context.Context) error
}
