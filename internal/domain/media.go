package domain

import (
	"fmt"
	"mime"
	"strings"
)

// MediaKind is the pipeline an upload is dispatched to.
type MediaKind string

const (
	// MediaImage uploads go through the single-image decision engine.
	MediaImage MediaKind = "image"
	// MediaVideo uploads go through frame sampling and consensus.
	MediaVideo MediaKind = "video"
)

// Accepted MIME types.
const (
	MimeJPEG = "image/jpeg"
	MimePNG  = "image/png"
	MimeWebP = "image/webp"
	MimeAVIF = "image/avif"
	MimeMP4  = "video/mp4"
)

var mediaKinds = map[string]MediaKind{
	MimeJPEG: MediaImage,
	MimePNG:  MediaImage,
	MimeWebP: MediaImage,
	MimeAVIF: MediaImage,
	MimeMP4:  MediaVideo,
}

// ClassifyMedia maps a declared MIME type to its pipeline.
// Parameters such as "; charset=binary" are ignored.
func ClassifyMedia(mimeType string) (MediaKind, error) {
	kind, ok := mediaKinds[NormalizeMime(mimeType)]
	if !ok {
		return "", fmt.Errorf("%w: %q, accepted formats: JPEG, PNG, WebP, AVIF (images), MP4 (video)",
			ErrUnsupportedFormat, mimeType)
	}
	return kind, nil
}

// NormalizeMime returns the bare lowercase media type.
func NormalizeMime(mimeType string) string {
	mt := strings.ToLower(strings.TrimSpace(mimeType))
	if parsed, _, err := mime.ParseMediaType(mt); err == nil {
		return parsed
	}
	return mt
}
