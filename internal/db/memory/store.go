// Package memory is an in-process reference store. It keeps every item in a
// slice and answers nearest-neighbor queries by brute force.
package memory

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

// Store holds reference items of a single embedding space.
type Store struct {
	mu     sync.RWMutex
	space  domain.EmbeddingSpace
	items  []domain.ReferenceItem
	ids    map[string]struct{}
	nextID int
	now    func() time.Time
}

// New creates an empty store for the given space.
func New(space domain.EmbeddingSpace) *Store {
	return &Store{space: space, ids: make(map[string]struct{}), now: time.Now}
}

// Space reports the embedding space of the store.
func (s *Store) Space() domain.EmbeddingSpace {
	return s.space
}

// Ping always succeeds.
func (s *Store) Ping(_ context.Context) error {
	return nil
}

// Len returns the number of stored items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// Count returns the number of stored items.
func (s *Store) Count(_ context.Context) (int, error) {
	return s.Len(), nil
}

// Insert stores item and returns it with the assigned ID and creation time.
// An item without a space is taken to be in the store's space. A caller
// supplied ID must be unused; assigned IDs skip the ones already taken.
func (s *Store) Insert(_ context.Context, item domain.ReferenceItem) (domain.ReferenceItem, error) {
	if item.Space.IsZero() {
		item.Space = s.space
	}
	if err := s.space.Check(item.Space); err != nil {
		return domain.ReferenceItem{}, err
	}
	if err := s.space.Validate(item.Vector); err != nil {
		return domain.ReferenceItem{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if item.ID == "" {
		for {
			s.nextID++
			item.ID = strconv.Itoa(s.nextID)
			if _, taken := s.ids[item.ID]; !taken {
				break
			}
		}
	} else if _, taken := s.ids[item.ID]; taken {
		return domain.ReferenceItem{}, fmt.Errorf("%w: duplicate reference id %q", domain.ErrDataIntegrity, item.ID)
	}
	if item.ContentKind == "" {
		item.ContentKind = domain.ContentImage
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now()
	}
	item.Vector = slices.Clone(item.Vector)
	s.items = append(s.items, item)
	s.ids[item.ID] = struct{}{}
	return item, nil
}

// Nearest returns up to k items by descending cosine similarity.
// Ties are broken by ID.
func (s *Store) Nearest(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if k <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Neighbor, 0, len(s.items))
	for _, it := range s.items {
		sim, err := domain.CosineSimilarity(vector, it.Vector)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Neighbor{Item: it, Similarity: sim})
	}

	slices.SortFunc(out, func(a, b domain.Neighbor) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// FindByLabel returns up to limit items whose label contains token,
// case-insensitively, in insertion order.
func (s *Store) FindByLabel(ctx context.Context, token string, limit int) ([]domain.ReferenceItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	token = strings.ToLower(token)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ReferenceItem
	for _, it := range s.items {
		if len(out) >= limit {
			break
		}
		if strings.Contains(strings.ToLower(it.Label), token) {
			out = append(out, it)
		}
	}
	return out, nil
}
