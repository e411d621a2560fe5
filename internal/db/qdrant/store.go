// Package qdrant keeps the reference corpus in a Qdrant collection over gRPC.
// It implements matching.Store.
package qdrant

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/kailas-cloud/vecguard/internal/domain"
)

const (
	payloadLabel     = "label"
	payloadKind      = "content_kind"
	payloadCreatedAt = "created_at"
	payloadGrams     = "label_grams"

	scrollPageSize = 256
	// maxFilterGrams bounds the gram conditions of one label query; the
	// client-side substring check keeps the result exact.
	maxFilterGrams = 8
)

// pointsAPI is the subset of pb.PointsClient the store uses.
type pointsAPI interface {
	Search(ctx context.Context, in *pb.SearchPoints, opts ...grpc.CallOption) (*pb.SearchResponse, error)
	Scroll(ctx context.Context, in *pb.ScrollPoints, opts ...grpc.CallOption) (*pb.ScrollResponse, error)
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Count(ctx context.Context, in *pb.CountPoints, opts ...grpc.CallOption) (*pb.CountResponse, error)
	CreateFieldIndex(
		ctx context.Context, in *pb.CreateFieldIndexCollection, opts ...grpc.CallOption,
	) (*pb.PointsOperationResponse, error)
}

// collectionsAPI is the subset of pb.CollectionsClient the store uses.
type collectionsAPI interface {
	CollectionExists(
		ctx context.Context, in *pb.CollectionExistsRequest, opts ...grpc.CallOption,
	) (*pb.CollectionExistsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// Config holds connection parameters.
type Config struct {
	Addr       string // host:port of the gRPC endpoint
	Collection string
	APIKey     string
}

// Store is a Qdrant-backed reference corpus.
type Store struct {
	conn        *grpc.ClientConn
	points      pointsAPI
	collections collectionsAPI
	collection  string
	apiKey      string
	space       domain.EmbeddingSpace
	now         func() time.Time
}

// Open dials Qdrant. The connection is lazy; use Ping to verify it.
func Open(cfg Config, space domain.EmbeddingSpace) (*Store, error) {
	if cfg.Addr == "" {
		return nil, errors.New("qdrant addr is required")
	}
	if cfg.Collection == "" {
		return nil, errors.New("qdrant collection is required")
	}
	conn, err := grpc.NewClient(cfg.Addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	s := newStore(pb.NewPointsClient(conn), pb.NewCollectionsClient(conn), cfg.Collection, space)
	s.conn = conn
	s.apiKey = cfg.APIKey
	return s, nil
}

func newStore(points pointsAPI, collections collectionsAPI, collection string, space domain.EmbeddingSpace) *Store {
	return &Store{
		points:      points,
		collections: collections,
		collection:  collection,
		space:       space,
		now:         time.Now,
	}
}

// Close releases the gRPC connection.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// Space implements matching.Store.
func (s *Store) Space() domain.EmbeddingSpace { return s.space }

// Ping checks that the collection endpoint answers.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.exists(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// EnsureCollection creates the cosine collection and its label gram index
// if they are missing.
func (s *Store) EnsureCollection(ctx context.Context) error {
	ok, err := s.exists(ctx)
	if err != nil {
		return fmt.Errorf("check collection %s: %w", s.collection, err)
	}
	if ok {
		return nil
	}
	_, err = s.collections.Create(s.auth(ctx), &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{Params: &pb.VectorParams{
			Size:     uint64(s.space.Dimensions),
			Distance: pb.Distance_Cosine,
		}}},
	})
	if err != nil {
		return fmt.Errorf("create collection %s: %w", s.collection, err)
	}

	wait := true
	keyword := pb.FieldType_FieldTypeKeyword
	_, err = s.points.CreateFieldIndex(s.auth(ctx), &pb.CreateFieldIndexCollection{
		CollectionName: s.collection,
		Wait:           &wait,
		FieldName:      payloadGrams,
		FieldType:      &keyword,
	})
	if err != nil {
		return fmt.Errorf("create %s index on %s: %w", payloadGrams, s.collection, err)
	}
	return nil
}

// Insert upserts item as a point with a UUID id.
func (s *Store) Insert(ctx context.Context, item domain.ReferenceItem) (domain.ReferenceItem, error) {
	if item.Space.IsZero() {
		item.Space = s.space
	}
	if err := s.space.Check(item.Space); err != nil {
		return domain.ReferenceItem{}, err
	}
	if err := s.space.Validate(item.Vector); err != nil {
		return domain.ReferenceItem{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	if item.ContentKind == "" {
		item.ContentKind = domain.ContentImage
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = s.now().UTC()
	}

	wait := true
	_, err := s.points.Upsert(s.auth(ctx), &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: []*pb.PointStruct{{
			Id:      &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: item.ID}},
			Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: item.Vector}}},
			Payload: map[string]*pb.Value{
				payloadLabel:     {Kind: &pb.Value_StringValue{StringValue: item.Label}},
				payloadKind:      {Kind: &pb.Value_StringValue{StringValue: string(item.ContentKind)}},
				payloadCreatedAt: {Kind: &pb.Value_IntegerValue{IntegerValue: item.CreatedAt.UnixMilli()}},
				payloadGrams:     gramsValue(domain.LabelGrams(item.Label)),
			},
		}},
	})
	if err != nil {
		return domain.ReferenceItem{}, fmt.Errorf("upsert %s: %w", item.ID, err)
	}
	return item, nil
}

// Nearest implements matching.Store.
func (s *Store) Nearest(ctx context.Context, vector []float32, k int) ([]domain.Neighbor, error) {
	if k <= 0 {
		return []domain.Neighbor{}, nil
	}
	if err := s.space.Validate(vector); err != nil {
		return nil, err
	}

	resp, err := s.points.Search(s.auth(ctx), &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         vector,
		Limit:          uint64(k),
		WithPayload:    withPayload(),
	})
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", s.collection, err)
	}

	out := make([]domain.Neighbor, 0, len(resp.GetResult()))
	for _, pt := range resp.GetResult() {
		out = append(out, domain.Neighbor{
			Item:       s.toItem(pt.GetId(), pt.GetPayload()),
			Similarity: float64(pt.GetScore()),
		})
	}
	slices.SortStableFunc(out, func(a, b domain.Neighbor) int {
		if c := cmp.Compare(b.Similarity, a.Similarity); c != 0 {
			return c
		}
		return cmp.Compare(a.Item.ID, b.Item.ID)
	})
	return out, nil
}

// FindByLabel implements matching.Store. The scroll is narrowed to points
// holding every label gram of token; labels are then matched
// case-insensitively on the client.
func (s *Store) FindByLabel(ctx context.Context, token string, limit int) ([]domain.ReferenceItem, error) {
	out := []domain.ReferenceItem{}
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" || limit <= 0 {
		return out, nil
	}

	page := uint32(scrollPageSize)
	filter := gramFilter(domain.LabelGrams(token))
	var offset *pb.PointId
	for {
		resp, err := s.points.Scroll(s.auth(ctx), &pb.ScrollPoints{
			CollectionName: s.collection,
			Filter:         filter,
			Offset:         offset,
			Limit:          &page,
			WithPayload:    withPayload(),
		})
		if err != nil {
			return nil, fmt.Errorf("scroll %s: %w", s.collection, err)
		}
		for _, pt := range resp.GetResult() {
			label := pt.GetPayload()[payloadLabel].GetStringValue()
			if !strings.Contains(strings.ToLower(label), token) {
				continue
			}
			out = append(out, s.toItem(pt.GetId(), pt.GetPayload()))
			if len(out) == limit {
				return out, nil
			}
		}
		offset = resp.GetNextPageOffset()
		if offset == nil {
			return out, nil
		}
	}
}

// Count returns the exact number of stored points.
func (s *Store) Count(ctx context.Context) (int, error) {
	exact := true
	resp, err := s.points.Count(s.auth(ctx), &pb.CountPoints{CollectionName: s.collection, Exact: &exact})
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", s.collection, err)
	}
	return int(resp.GetResult().GetCount()), nil
}

func (s *Store) exists(ctx context.Context) (bool, error) {
	resp, err := s.collections.CollectionExists(s.auth(ctx), &pb.CollectionExistsRequest{CollectionName: s.collection})
	if err != nil {
		return false, err
	}
	return resp.GetResult().GetExists(), nil
}

// auth attaches the api-key header Qdrant Cloud expects.
func (s *Store) auth(ctx context.Context) context.Context {
	if s.apiKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", s.apiKey)
}

func (s *Store) toItem(id *pb.PointId, payload map[string]*pb.Value) domain.ReferenceItem {
	item := domain.ReferenceItem{
		ID:          pointID(id),
		Label:       payload[payloadLabel].GetStringValue(),
		Space:       s.space,
		ContentKind: domain.ContentKind(payload[payloadKind].GetStringValue()),
	}
	if item.ContentKind == "" {
		item.ContentKind = domain.ContentImage
	}
	if ms := payload[payloadCreatedAt].GetIntegerValue(); ms > 0 {
		item.CreatedAt = time.UnixMilli(ms).UTC()
	}
	return item
}

func pointID(id *pb.PointId) string {
	if u := id.GetUuid(); u != "" {
		return u
	}
	return fmt.Sprintf("%d", id.GetNum())
}

func gramsValue(grams []string) *pb.Value {
	values := make([]*pb.Value, len(grams))
	for i, g := range grams {
		values[i] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: g}}
	}
	return &pb.Value{Kind: &pb.Value_ListValue{ListValue: &pb.ListValue{Values: values}}}
}

// gramFilter requires every gram; nil for tokens too short to have grams.
func gramFilter(grams []string) *pb.Filter {
	if len(grams) == 0 {
		return nil
	}
	if len(grams) > maxFilterGrams {
		grams = grams[:maxFilterGrams]
	}
	must := make([]*pb.Condition, len(grams))
	for i, g := range grams {
		must[i] = &pb.Condition{ConditionOneOf: &pb.Condition_Field{Field: &pb.FieldCondition{
			Key:   payloadGrams,
			Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: g}},
		}}}
	}
	return &pb.Filter{Must: must}
}

func withPayload() *pb.WithPayloadSelector {
	return &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
}
