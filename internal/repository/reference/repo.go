package reference

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/vecguard/internal/db"
	"github.com/kailas-cloud/vecguard/internal/db/redis"
	"github.com/kailas-cloud/vecguard/internal/domain"
)

// listPageSize bounds one FT.SEARCH page while scanning labels.
const listPageSize = 500

var returnFields = []string{fieldLabel, fieldKind, fieldCreatedAt}

// store is the consumer interface for the reference index (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	IndexExists(ctx context.Context, name string) (bool, error)
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
	SearchList(ctx context.Context, index, query string, offset, limit int, fields []string) (*db.SearchResult, error)
	SearchCount(ctx context.Context, index, query string) (int, error)
}

// HNSWConfig HNSW index parameters.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Repo is a reference corpus kept as Redis hashes under an FT vector index.
// It implements matching.Store.
type Repo struct {
	store      store
	collection string
	space      domain.EmbeddingSpace
	hnsw       HNSWConfig
	now        func() time.Time
}

// New creates a reference repository for one collection in one embedding space.
func New(s store, collection string, space domain.EmbeddingSpace) *Repo {
	return &Repo{
		store:      s,
		collection: collection,
		space:      space,
		hnsw:       HNSWConfig{M: 16, EFConstruct: 200},
		now:        time.Now,
	}
}

// WithHNSW configures HNSW index parameters.
func (r *Repo) WithHNSW(cfg HNSWConfig) *Repo {
	if cfg.M > 0 {
		r.hnsw.M = cfg.M
	}
	if cfg.EFConstruct > 0 {
		r.hnsw.EFConstruct = cfg.EFConstruct
	}
	return r
}

// Space implements matching.Store.
func (r *Repo) Space() domain.EmbeddingSpace { return r.space }

// EnsureIndex creates the FT index if it is missing. Safe to call on every start.
func (r *Repo) EnsureIndex(ctx context.Context) error {
	name := indexName(r.collection)
	exists, err := r.store.IndexExists(ctx, name)
	if err != nil {
		return fmt.Errorf("check index %s: %w", name, err)
	}
	if exists {
		return nil
	}
	def := buildIndex(r.collection, r.space.Dimensions, r.hnsw)
	if err := r.store.CreateIndex(ctx, def); err != nil && !errors.Is(err, db.ErrIndexExists) {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// Insert stores item and returns it with its assigned ID and timestamps.
func (r *Repo) Insert(ctx context.Context, item domain.ReferenceItem) (domain.ReferenceItem, error) {
	if item.Space.IsZero() {
		item.Space = r.space
	}
	if err := r.space.Check(item.Space); err != nil {
		return domain.ReferenceItem{}, err
	}
	if err := r.space.Validate(item.Vector); err != nil {
		return domain.ReferenceItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ContentKind == "" {
		item.ContentKind = domain.ContentImage
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = r.now().UTC()
	}

	key := itemKey(r.collection, item.ID)
	if err := r.store.HSet(ctx, key, toHash(item)); err != nil {
		return domain.ReferenceItem{}, fmt.Errorf("hset reference %s: %w", item.ID, err)
	}
	return item, nil
}

// Nearest implements matching.Store.
func (r *Repo) Nearest(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error) {
	if k <= 0 {
		return []domain.Neighbor{}, nil
	}
	if err := r.space.Validate(vector); err != nil {
		return nil, err
	}

	sr, err := r.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    indexName(r.collection),
		Vector:       vector,
		K:            k,
		ReturnFields: returnFields,
	})
	if err != nil {
		return nil, fmt.Errorf("search knn %s: %w", r.collection, err)
	}

	out := make([]domain.Neighbor, 0, len(sr.Entries))
	for _, e := range sr.Entries {
		item, err := r.fromEntry(e)
		if err != nil {
			return nil, err
		}
		out = append(out, domain.Neighbor{Item: item, Similarity: e.Score})
	}
	slices.SortStableFunc(out, func(a, b domain.Neighbor) int {
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

// FindByLabel implements matching.Store. The index narrows candidates to items
// holding every label gram of token; labels are then compared
// case-insensitively on the client because FT TEXT tokenization does not
// preserve substrings.
func (r *Repo) FindByLabel(ctx context.Context, token string, limit int) ([]domain.ReferenceItem, error) {
	out := []domain.ReferenceItem{}
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" || limit <= 0 {
		return out, nil
	}

	idx := indexName(r.collection)
	query := labelQuery(token)
	seen := make(map[string]struct{})
	for offset := 0; ; offset += listPageSize {
		sr, err := r.store.SearchList(ctx, idx, query, offset, listPageSize, returnFields)
		if err != nil {
			return nil, fmt.Errorf("list references %s: %w", r.collection, err)
		}
		for _, e := range sr.Entries {
			if !strings.Contains(strings.ToLower(e.Fields[fieldLabel]), token) {
				continue
			}
			item, err := r.fromEntry(e)
			if err != nil {
				return nil, err
			}
			if _, dup := seen[item.ID]; dup {
				continue
			}
			seen[item.ID] = struct{}{}
			out = append(out, item)
			if len(out) == limit {
				return out, nil
			}
		}
		if len(sr.Entries) < listPageSize || offset+listPageSize >= sr.Total {
			return out, nil
		}
	}
}

// Count returns the number of indexed reference items.
func (r *Repo) Count(ctx context.Context) (int, error) {
	n, err := r.store.SearchCount(ctx, indexName(r.collection), "*")
	if err != nil {
		return 0, fmt.Errorf("count references %s: %w", r.collection, err)
	}
	return n, nil
}

func (r *Repo) fromEntry(e db.SearchEntry) (domain.ReferenceItem, error) {
	prefix := itemPrefix(r.collection)
	if !strings.HasPrefix(e.Key, prefix) {
		return domain.ReferenceItem{}, fmt.Errorf("%w: key %q outside %q", domain.ErrDataIntegrity, e.Key, prefix)
	}
	item := domain.ReferenceItem{
		ID:          strings.TrimPrefix(e.Key, prefix),
		Label:       e.Fields[fieldLabel],
		Space:       r.space,
		ContentKind: domain.ContentKind(e.Fields[fieldKind]),
	}
	if ts, ok := e.Fields[fieldCreatedAt]; ok && ts != "" {
		ms, err := strconv.ParseInt(ts, 10, 64)
		if err != nil {
			return domain.ReferenceItem{}, fmt.Errorf("%w: created_at %q: %w", domain.ErrDataIntegrity, ts, err)
		}
		item.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return item, nil
}

func toHash(item domain.ReferenceItem) map[string]string {
	return map[string]string{
		fieldLabel:     item.Label,
		fieldKind:      string(item.ContentKind),
		fieldCreatedAt: strconv.FormatInt(item.CreatedAt.UnixMilli(), 10),
		fieldGrams:     encodeGrams(item.Label),
		fieldVector:    redis.VectorBlob(item.Vector),
	}
}
