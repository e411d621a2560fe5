package upload

import (
	"context"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Normalizer converts an accepted still image to the canonical JPEG.
type Normalizer interface {
	Normalize(ctx context.Context, data []byte, mimeType string) ([]byte, error)
}

// ImageDecider decides a normalized still image.
type ImageDecider interface {
	Decide(ctx context.Context, image []byte) (domain.Verdict, error)
}

// VideoDecider decides a video by frame consensus.
type VideoDecider interface {
	Decide(ctx context.Context, video []byte) (domain.Verdict, error)
}
