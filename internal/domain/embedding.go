package domain

import (
	"fmt"
	"math"
)

// SpaceKind names the extraction method that produced a vector.
type SpaceKind string

const (
	// SpaceDescription vectors embed a vision-model description of the image.
	SpaceDescription SpaceKind = "description"
	// SpaceImage vectors come from a direct image embedding model.
	SpaceImage SpaceKind = "image"
)

// Default dimensionalities of the two supported spaces.
const (
	DescriptionDimensions = 768
	ImageDimensions       = 512
)

// EmbeddingSpace tags every stored and queried vector. Vectors from different
// spaces are never compared.
type EmbeddingSpace struct {
	Kind       SpaceKind
	Dimensions int
}

// DescriptionSpace returns the description space with the given width.
func DescriptionSpace(dims int) EmbeddingSpace {
	return EmbeddingSpace{Kind: SpaceDescription, Dimensions: dims}
}

// ImageSpace returns the direct image embedding space with the given width.
func ImageSpace(dims int) EmbeddingSpace {
	return EmbeddingSpace{Kind: SpaceImage, Dimensions: dims}
}

func (s EmbeddingSpace) String() string {
	return fmt.Sprintf("%s/%d", s.Kind, s.Dimensions)
}

// IsZero reports whether the space is unset.
func (s EmbeddingSpace) IsZero() bool {
	return s.Kind == "" && s.Dimensions == 0
}

// Check returns nil when other is the same space as s.
func (s EmbeddingSpace) Check(other EmbeddingSpace) error {
	if s == other {
		return nil
	}
	if s.Dimensions != other.Dimensions {
		return fmt.Errorf("%w: %w: store %s, query %s", ErrSpaceMismatch, ErrVectorDimMismatch, s, other)
	}
	return fmt.Errorf("%w: store %s, query %s", ErrSpaceMismatch, s, other)
}

// Validate checks that v belongs to the space: right width, finite components.
func (s EmbeddingSpace) Validate(v []float32) error {
	if len(v) == 0 {
		return fmt.Errorf("%w: empty vector", ErrVectorDimMismatch)
	}
	if len(v) != s.Dimensions {
		return fmt.Errorf("%w: space %s, got %d components", ErrVectorDimMismatch, s, len(v))
	}
	return ValidateFinite(v)
}

// ValidateFinite rejects vectors with NaN or infinite components.
func ValidateFinite(v []float32) error {
	for i, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return fmt.Errorf("%w: element %d is not a finite number", ErrDataIntegrity, i)
		}
	}
	return nil
}

// Signature is the transient identity/content signature of one still image.
type Signature struct {
	Vector      []float32
	Description string
	Space       EmbeddingSpace
	Backend     string
}

// HasDescription reports whether the backend produced a textual description.
func (s Signature) HasDescription() bool {
	return s.Description != ""
}
