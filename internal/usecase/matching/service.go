package matching

import (
	"cmp"
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Policy constants.
const (
	// NameMatchScore is the fixed confidence assigned to every name match.
	NameMatchScore = 0.95
	// DefaultThreshold is the vector similarity threshold when the caller has
	// no stricter requirement.
	DefaultThreshold = 0.85
	// StrictThreshold applies to images with no declared identity.
	StrictThreshold = 0.90

	minTokenLen = 3
)

// Service queries the reference corpus by name and by vector.
//
// Name queries go to the primary store. Vector queries go to the store of
// the query's embedding space; additional spaces are registered with WithStore.
type Service struct {
	store        Store
	stores       []Store
	threshold    float64
	queryTimeout time.Duration
}

// New creates a matching service over the primary store. A non-positive
// threshold selects DefaultThreshold.
func New(store Store, threshold float64) *Service {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Service{store: store, stores: []Store{store}, threshold: threshold}
}

// WithStore registers the corpus of another embedding space. A store whose
// space is already served is ignored.
func (s *Service) WithStore(store Store) *Service {
	if _, err := s.storeFor(store.Space()); err != nil {
		s.stores = append(s.stores, store)
	}
	return s
}

// Spaces lists the embedding spaces with a corpus, primary first.
func (s *Service) Spaces() []domain.EmbeddingSpace {
	out := make([]domain.EmbeddingSpace, len(s.stores))
	for i, st := range s.stores {
		out[i] = st.Space()
	}
	return out
}

func (s *Service) storeFor(space domain.EmbeddingSpace) (Store, error) {
	for _, st := range s.stores {
		if st.Space().Check(space) == nil {
			return st, nil
		}
	}
	return nil, s.store.Space().Check(space)
}

// WithQueryTimeout bounds every store call. Zero disables the bound.
func (s *Service) WithQueryTimeout(d time.Duration) *Service {
	s.queryTimeout = d
	return s
}

func (s *Service) queryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.queryTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.queryTimeout)
}

// SearchToken picks the most distinctive token of name: the last
// whitespace-separated fragment longer than two characters, lowercased.
func SearchToken(name string) (string, bool) {
	fields := strings.Fields(strings.ToLower(name))
	for i := len(fields) - 1; i >= 0; i-- {
		if utf8.RuneCountInString(fields[i]) >= minTokenLen {
			return fields[i], true
		}
	}
	return "", false
}

// ByName returns up to MaxMatches items whose label contains the search token
// of name. Every match scores NameMatchScore.
func (s *Service) ByName(ctx context.Context, name string) ([]domain.Match, error) {
	token, ok := SearchToken(name)
	if !ok {
		return nil, nil
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()
	items, err := s.store.FindByLabel(qctx, token, domain.MaxMatches)
	if err != nil {
		return nil, fmt.Errorf("find by label %q: %w", token, err)
	}

	seen := make(map[string]struct{}, len(items))
	matches := make([]domain.Match, 0, len(items))
	for _, it := range items {
		if _, dup := seen[it.ID]; dup {
			continue
		}
		seen[it.ID] = struct{}{}
		matches = append(matches, domain.Match{
			ReferenceID: it.ID,
			Label:       it.Label,
			Similarity:  NameMatchScore,
			Kind:        domain.MatchName,
		})
		if len(matches) == domain.MaxMatches {
			break
		}
	}
	return matches, nil
}

// ByVector returns up to MaxMatches items with cosine similarity strictly
// above threshold, most similar first. A non-positive threshold selects the
// service default. A query from a space no store serves fails with
// domain.ErrSpaceMismatch; a non-finite similarity from the store fails with
// domain.ErrDataIntegrity.
func (s *Service) ByVector(
	ctx context.Context, vector []float32, space domain.EmbeddingSpace, threshold float64,
) ([]domain.Match, error) {
	store, err := s.storeFor(space)
	if err != nil {
		return nil, err
	}
	if threshold <= 0 {
		threshold = s.threshold
	}
	if err := space.Validate(vector); err != nil {
		return nil, fmt.Errorf("query vector: %w", err)
	}

	qctx, cancel := s.queryContext(ctx)
	defer cancel()
	neighbors, err := store.Nearest(qctx, vector, domain.MaxMatches)
	if err != nil {
		return nil, fmt.Errorf("nearest neighbors: %w", err)
	}

	matches := make([]domain.Match, 0, len(neighbors))
	for _, n := range neighbors {
		if math.IsNaN(n.Similarity) || math.IsInf(n.Similarity, 0) {
			return nil, fmt.Errorf("%w: similarity %v for reference %s", domain.ErrDataIntegrity, n.Similarity, n.Item.ID)
		}
		if n.Similarity <= threshold {
			continue
		}
		matches = append(matches, domain.Match{
			ReferenceID: n.Item.ID,
			Label:       n.Item.Label,
			Similarity:  n.Similarity,
			Kind:        domain.MatchEmbedding,
		})
	}
	sortMatches(matches)
	if len(matches) > domain.MaxMatches {
		matches = matches[:domain.MaxMatches]
	}
	return matches, nil
}

func sortMatches(ms []domain.Match) {
	slices.SortStableFunc(ms, func(a, b domain.Match) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.ReferenceID, b.ReferenceID)
	})
}
