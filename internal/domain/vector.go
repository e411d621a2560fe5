package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// CosineSimilarity returns the cosine similarity of a and b (1 - cosine distance).
// A zero-magnitude vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("%w: %d vs %d", ErrVectorDimMismatch, len(a), len(b))
	}

	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb)), nil
}

// EncodeVector serializes v as a JSON array of numbers.
func EncodeVector(v []float32) (string, error) {
	if err := ValidateFinite(v); err != nil {
		return "", err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode vector: %w", err)
	}
	return string(data), nil
}

// DecodeVector parses a JSON array of finite numbers. Anything else, including
// string elements and values outside float32 range, is a data integrity error.
func DecodeVector(s string) ([]float32, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: decode vector: %w", ErrDataIntegrity, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after vector", ErrDataIntegrity)
	}

	elems, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: vector is not an array", ErrDataIntegrity)
	}

	out := make([]float32, len(elems))
	for i, e := range elems {
		n, ok := e.(json.Number)
		if !ok {
			return nil, fmt.Errorf("%w: element %d: expected number, got %T", ErrDataIntegrity, i, e)
		}
		f, err := strconv.ParseFloat(n.String(), 32)
		if err != nil {
			if errors.Is(err, strconv.ErrRange) {
				return nil, fmt.Errorf("%w: element %d is not a finite number", ErrDataIntegrity, i)
			}
			return nil, fmt.Errorf("%w: element %d: %w", ErrDataIntegrity, i, err)
		}
		out[i] = float32(f)
	}

	return out, nil
}
