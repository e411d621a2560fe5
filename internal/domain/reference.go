package domain

import (
	"strings"
	"time"
)

// ContentKind records what kind of media a reference item was derived from.
type ContentKind string

const (
	// ContentImage reference items come from still images.
	ContentImage ContentKind = "image"
	// ContentVideo reference items come from video frames.
	ContentVideo ContentKind = "video"
)

// ReferenceItem is a protected corpus entry. All items of one store share one space.
type ReferenceItem struct {
	ID          string
	Label       string
	Vector      []float32
	Space       EmbeddingSpace
	ContentKind ContentKind
	CreatedAt   time.Time
}

// Neighbor is a reference item with its cosine similarity to a query vector.
type Neighbor struct {
	Item       ReferenceItem
	Similarity float64
}

// KeyPrefix namespaces every key vecguard writes to a shared key-value store.
const KeyPrefix = "vecguard:"

// LabelGramSize is the width of the label n-grams stores index so that
// substring lookups need not scan the whole corpus.
const LabelGramSize = 3

// LabelGrams returns the distinct lowercased rune trigrams of s in first-seen
// order. Every substring of a label shares all of its grams with the label,
// so a gram match is a superset of a substring match. Strings shorter than
// LabelGramSize have no grams.
func LabelGrams(s string) []string {
	runes := []rune(strings.ToLower(s))
	if len(runes) < LabelGramSize {
		return nil
	}
	seen := make(map[string]struct{}, len(runes))
	out := make([]string, 0, len(runes)-LabelGramSize+1)
	for i := 0; i+LabelGramSize <= len(runes); i++ {
		g := string(runes[i : i+LabelGramSize])
		if _, dup := seen[g]; dup {
			continue
		}
		seen[g] = struct{}{}
		out = append(out, g)
	}
	return out
}
