package domain

import (
	"errors"
	"fmt"
)

// Input errors: reported to the caller as-is, never retried.
var (
	// ErrUnsupportedFormat signals a media type outside the accepted allow-list.
	ErrUnsupportedFormat = errors.New("unsupported format")
	// ErrEmptyInput signals an empty upload payload.
	ErrEmptyInput = errors.New("empty input")
	// ErrInvalidMedia signals a payload that cannot be decoded as its declared type.
	ErrInvalidMedia = errors.New("invalid media")
)

// Configuration, processing and data errors.
var (
	// ErrNotConfigured signals that no signature backend credentials are configured.
	ErrNotConfigured = errors.New("no signature backend configured")
	// ErrExtractionFailed signals that every attempted signature backend failed.
	ErrExtractionFailed = errors.New("signature extraction failed")
	// ErrVideoProcessing signals a frame sampling failure.
	ErrVideoProcessing = errors.New("video processing failed")
	// ErrDataIntegrity signals malformed stored data (e.g. a non-finite embedding element).
	ErrDataIntegrity = errors.New("data integrity violation")
	// ErrVectorDimMismatch signals a vector dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrSpaceMismatch signals a query against a store of a different embedding space.
	ErrSpaceMismatch = errors.New("embedding space mismatch")
	// ErrRateLimited signals a rate limit hit at a backend; the caller may retry later.
	ErrRateLimited = errors.New("rate limited")
)

// BackendError is returned by signature backend adapters. Retryable is decided
// by the adapter from the provider response, never by inspecting message text.
type BackendError struct {
	Backend   string
	Retryable bool
	Err       error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("%s backend: %v", e.Backend, e.Err)
}

func (e *BackendError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrRateLimited) match retryable backend failures.
func (e *BackendError) Is(target error) bool {
	return target == ErrRateLimited && e.Retryable
}

// NewBackendError creates a BackendError.
func NewBackendError(backend string, retryable bool, err error) error {
	return &BackendError{Backend: backend, Retryable: retryable, Err: err}
}

// IsRetryable reports whether err carries a retryable backend failure.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrRateLimited)
}
