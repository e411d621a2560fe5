package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// seedEntry is one pre-computed reference vector. Embedding holds the vector
// as a JSON array, either inline or as a string (the Postgres text form).
type seedEntry struct {
	Label       string          `json:"label"`
	ContentKind string          `json:"content_kind"`
	Embedding   json.RawMessage `json:"embedding"`
}

// LoadSeedFile inserts every entry of the JSON seed file at path.
func (s *Store) LoadSeedFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return s.LoadSeed(ctx, f)
}

// LoadSeed inserts every entry of a JSON seed array read from r.
func (s *Store) LoadSeed(ctx context.Context, r io.Reader) (int, error) {
	var entries []seedEntry
	if err := json.NewDecoder(r).Decode(&entries); err != nil {
		return 0, fmt.Errorf("%w: decode seed: %w", domain.ErrDataIntegrity, err)
	}

	for i, e := range entries {
		raw := string(e.Embedding)
		var quoted string
		if json.Unmarshal(e.Embedding, &quoted) == nil {
			raw = quoted
		}
		vec, err := domain.DecodeVector(raw)
		if err != nil {
			return i, fmt.Errorf("seed entry %d (%s): %w", i, e.Label, err)
		}
		kind := domain.ContentKind(e.ContentKind)
		if _, err := s.Insert(ctx, domain.ReferenceItem{
			Label:       e.Label,
			Vector:      vec,
			ContentKind: kind,
		}); err != nil {
			return i, fmt.Errorf("seed entry %d (%s): %w", i, e.Label, err)
		}
	}
	return len(entries), nil
}
