package sigcache

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/db"
	"github.com/kailas-cloud/vecguard/internal/domain"
)

var image = []byte{0xff, 0xd8, 0xff, 0xe0}

func TestExtract_CacheMissStoresSignature(t *testing.T) {
	inner := &mockBackend{sig: domain.Signature{
		Vector:      []float32{0.1, 0.2, 0.3},
		Description: "CELEBRITY: Jane Doe",
	}}
	cb, ms := newTestCachedBackend(t, inner)

	var (
		stored   []byte
		storedAt string
		ttl      time.Duration
	)
	ms.setFn = func(_ context.Context, key string, value []byte, d time.Duration) error {
		storedAt, stored, ttl = key, value, d
		return nil
	}

	sig, err := cb.Extract(context.Background(), image)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sig.Description != "CELEBRITY: Jane Doe" {
		t.Errorf("unexpected description %q", sig.Description)
	}
	if stored == nil {
		t.Fatal("expected SET to be called for cache put")
	}
	if !strings.HasPrefix(storedAt, "vecguard:sig_cache:gemini:description/3:") {
		t.Errorf("unexpected cache key %q", storedAt)
	}
	if ttl != time.Hour {
		t.Errorf("expected ttl 1h, got %v", ttl)
	}

	// The stored bytes decode back into the same signature.
	ms.getFn = func(_ context.Context, _ string) ([]byte, error) { return stored, nil }
	inner.err = errors.New("backend must not be called on hit")

	hit, err := cb.Extract(context.Background(), image)
	if err != nil {
		t.Fatalf("unexpected error on hit: %v", err)
	}
	if inner.calls != 1 {
		t.Errorf("expected 1 backend call, got %d", inner.calls)
	}
	if hit.Description != sig.Description || len(hit.Vector) != 3 || hit.Vector[2] != 0.3 {
		t.Errorf("cached signature differs: %+v", hit)
	}
	if hit.Space != domain.DescriptionSpace(3) {
		t.Errorf("unexpected space %s", hit.Space)
	}
}

func TestExtract_CorruptCacheIsMiss(t *testing.T) {
	inner := &mockBackend{sig: domain.Signature{Vector: []float32{0.1, 0.2, 0.3}}}
	cb, ms := newTestCachedBackend(t, inner)

	corrupt := [][]byte{
		[]byte(`not json`),
		[]byte(`{"vector":[0.1,"x",0.3]}`),
		[]byte(`{"vector":[0.1,0.2]}`),
	}
	for _, data := range corrupt {
		ms.getFn = func(_ context.Context, _ string) ([]byte, error) { return data, nil }

		sig, err := cb.Extract(context.Background(), image)
		if err != nil {
			t.Fatalf("unexpected error for %s: %v", data, err)
		}
		if len(sig.Vector) != 3 {
			t.Errorf("expected backend signature for %s, got %+v", data, sig)
		}
	}
	if inner.calls != len(corrupt) {
		t.Errorf("expected %d backend calls, got %d", len(corrupt), inner.calls)
	}
}

func TestExtract_StoreErrorFallsThrough(t *testing.T) {
	inner := &mockBackend{sig: domain.Signature{Vector: []float32{0.1, 0.2, 0.3}}}
	cb, ms := newTestCachedBackend(t, inner)

	ms.getFn = func(_ context.Context, _ string) ([]byte, error) { return nil, errors.New("connection reset") }
	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) error { return errors.New("connection reset") }

	if _, err := cb.Extract(context.Background(), image); err != nil {
		t.Fatalf("cache failures must not fail extraction: %v", err)
	}
}

func TestExtract_InnerErrorNotCached(t *testing.T) {
	backendErr := domain.NewBackendError("gemini", true, errors.New("429"))
	inner := &mockBackend{err: backendErr}
	cb, ms := newTestCachedBackend(t, inner)

	ms.setFn = func(_ context.Context, _ string, _ []byte, _ time.Duration) error {
		t.Error("failed extraction must not be cached")
		return nil
	}

	_, err := cb.Extract(context.Background(), image)
	if !domain.IsRetryable(err) {
		t.Fatalf("expected retryable backend error, got %v", err)
	}
}

func TestExtract_CountsHitsAndMisses(t *testing.T) {
	counter := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_sig_cache_total"}, []string{"result"})
	inner := &mockBackend{sig: domain.Signature{Vector: []float32{0.1, 0.2, 0.3}}}
	ms := &mockKVStore{getFn: func(_ context.Context, _ string) ([]byte, error) { return nil, db.ErrKeyNotFound }}
	cb := New(inner, ms, 0, counter, zap.NewNop())

	_, _ = cb.Extract(context.Background(), image)

	if got := testutil.ToFloat64(counter.WithLabelValues("miss")); got != 1 {
		t.Errorf("expected 1 miss, got %f", got)
	}
	if got := testutil.ToFloat64(counter.WithLabelValues("hit")); got != 0 {
		t.Errorf("expected 0 hits, got %f", got)
	}
}
