package domain

import (
	"errors"
	"testing"
)

func TestFormatSimilarity(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{0.873, "87.3%"},
		{1.0, "100.0%"},
		{0.0, "0.0%"},
		{0.95, "95.0%"},
		{0.90001, "90.0%"},
	}
	for _, tc := range tests {
		if got := FormatSimilarity(tc.in); got != tc.want {
			t.Errorf("FormatSimilarity(%v) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestFlagged_CapsMatches(t *testing.T) {
	matches := []Match{{ReferenceID: "1"}, {ReferenceID: "2"}, {ReferenceID: "3"}, {ReferenceID: "4"}}
	v := Flagged(matches)
	if !v.IsFlagged() {
		t.Fatal("expected flagged")
	}
	if len(v.Matches) != MaxMatches {
		t.Errorf("expected %d matches, got %d", MaxMatches, len(v.Matches))
	}
}

func TestSafe_EmptyMatches(t *testing.T) {
	v := Safe()
	if v.IsFlagged() {
		t.Fatal("expected safe")
	}
	if v.Matches == nil || len(v.Matches) != 0 {
		t.Errorf("expected empty non-nil matches, got %#v", v.Matches)
	}
}

func TestClassifyMedia(t *testing.T) {
	tests := []struct {
		mime string
		want MediaKind
	}{
		{"image/jpeg", MediaImage},
		{"image/png", MediaImage},
		{"image/webp", MediaImage},
		{"image/avif", MediaImage},
		{"IMAGE/JPEG", MediaImage},
		{"video/mp4", MediaVideo},
		{"video/mp4; codecs=avc1", MediaVideo},
	}
	for _, tc := range tests {
		got, err := ClassifyMedia(tc.mime)
		if err != nil {
			t.Errorf("ClassifyMedia(%q): unexpected error: %v", tc.mime, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ClassifyMedia(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}

	for _, bad := range []string{"image/gif", "video/quicktime", "application/pdf", ""} {
		if _, err := ClassifyMedia(bad); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("ClassifyMedia(%q): expected ErrUnsupportedFormat, got %v", bad, err)
		}
	}
}
