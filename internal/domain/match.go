package domain

import "fmt"

// MaxMatches caps the number of matches in any verdict.
const MaxMatches = 3

// MatchKind tells which signal produced a match.
type MatchKind string

const (
	// MatchEmbedding is a visual (vector) similarity match.
	MatchEmbedding MatchKind = "embedding"
	// MatchName is a declared-identity name match against stored labels.
	MatchName MatchKind = "name"
)

// Match is a single reference hit with its cosine similarity in [0,1].
type Match struct {
	ReferenceID string
	Label       string
	Similarity  float64
	Kind        MatchKind
}

// Status is the verdict outcome.
type Status string

const (
	// StatusFlagged means the upload matches protected content.
	StatusFlagged Status = "flagged"
	// StatusSafe means no protected content was matched.
	StatusSafe Status = "safe"
)

// Verdict is the per-request decision with up to MaxMatches ranked matches.
type Verdict struct {
	Status  Status
	Matches []Match
}

// Flagged builds a flagged verdict, capping matches at MaxMatches.
func Flagged(matches []Match) Verdict {
	if len(matches) > MaxMatches {
		matches = matches[:MaxMatches]
	}
	return Verdict{Status: StatusFlagged, Matches: matches}
}

// Safe builds a safe verdict with no matches.
func Safe() Verdict {
	return Verdict{Status: StatusSafe, Matches: []Match{}}
}

// IsFlagged reports whether the verdict is flagged.
func (v Verdict) IsFlagged() bool {
	return v.Status == StatusFlagged
}

// FormatSimilarity renders a similarity as a percentage with one decimal: 0.873 -> "87.3%".
func FormatSimilarity(s float64) string {
	return fmt.Sprintf("%.1f%%", s*100)
}
