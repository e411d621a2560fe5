package domain

import (
	"errors"
	"math"
	"testing"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 2, 3}, []float32{1, 2, 3}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"scaled", []float32{1, 1}, []float32{3, 3}, 1},
		{"zero vector", []float32{0, 0}, []float32{1, 1}, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := CosineSimilarity(tc.a, tc.b)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tc.want) > 1e-9 {
				t.Errorf("got %f, want %f", got, tc.want)
			}
		})
	}
}

func TestCosineSimilarity_LengthMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if !errors.Is(err, ErrVectorDimMismatch) {
		t.Errorf("expected ErrVectorDimMismatch, got %v", err)
	}
}

func TestVectorCodec_RoundTrip(t *testing.T) {
	vectors := [][]float32{
		{},
		{0},
		{0.1, -0.2, 0.3},
		{1e-7, 3.4028235e38, -3.4028235e38},
		{0.123456789, 42, -0.000001},
	}
	for _, v := range vectors {
		s, err := EncodeVector(v)
		if err != nil {
			t.Fatalf("encode %v: %v", v, err)
		}
		got, err := DecodeVector(s)
		if err != nil {
			t.Fatalf("decode %q: %v", s, err)
		}
		if len(got) != len(v) {
			t.Fatalf("length: got %d, want %d", len(got), len(v))
		}
		for i := range v {
			if got[i] != v[i] {
				t.Errorf("element %d: got %v, want %v", i, got[i], v[i])
			}
		}
	}
}

func TestEncodeVector_RejectsNonFinite(t *testing.T) {
	_, err := EncodeVector([]float32{1, float32(math.NaN())})
	if !errors.Is(err, ErrDataIntegrity) {
		t.Errorf("expected ErrDataIntegrity, got %v", err)
	}
}

func TestDecodeVector_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"string element", `[0.1, "0.2", 0.3]`},
		{"null element", `[0.1, null]`},
		{"nested array", `[[0.1]]`},
		{"object", `{"v": [0.1]}`},
		{"not json", `0.1,0.2`},
		{"out of float32 range", `[1e39]`},
		{"trailing data", `[0.1] [0.2]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeVector(tc.input)
			if !errors.Is(err, ErrDataIntegrity) {
				t.Errorf("expected ErrDataIntegrity, got %v", err)
			}
		})
	}
}
