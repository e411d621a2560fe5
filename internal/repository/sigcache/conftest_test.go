package sigcache

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/db"
	"github.com/kailas-cloud/vecguard/internal/domain"
)

type mockBackend struct {
	sig   domain.Signature
	err   error
	calls int
}

func (m *mockBackend) Name() string                  { return "gemini" }
func (m *mockBackend) Space() domain.EmbeddingSpace { return domain.DescriptionSpace(3) }

func (m *mockBackend) Extract(_ context.Context, _ []byte) (domain.Signature, error) {
	m.calls++
	return m.sig, m.err
}

// mockKVStore implements the consumer interface for tests.
type mockKVStore struct {
	getFn func(ctx context.Context, key string) ([]byte, error)
	setFn func(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

func (m *mockKVStore) Get(ctx context.Context, key string) ([]byte, error) {
	if m.getFn != nil {
		return m.getFn(ctx, key)
	}
	return nil, db.ErrKeyNotFound
}

func (m *mockKVStore) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if m.setFn != nil {
		return m.setFn(ctx, key, value, ttl)
	}
	return nil
}

func newTestCachedBackend(t *testing.T, inner *mockBackend) (*CachedBackend, *mockKVStore) {
	t.Helper()
	ms := &mockKVStore{}
	cb := New(inner, ms, time.Hour, nil, zap.NewNop())
	return cb, ms
}
