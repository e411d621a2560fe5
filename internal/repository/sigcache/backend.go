package sigcache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/db"
	"github.com/kailas-cloud/vecguard/internal/domain"
)

var cacheKeyPrefix = domain.KeyPrefix + "sig_cache:"

// store is the consumer interface for the signature cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Backend is the decorated signature backend.
type Backend interface {
	Name() string
	Space() domain.EmbeddingSpace
	Extract(ctx context.Context, image []byte) (domain.Signature, error)
}

// entry is the cached form of a signature.
type entry struct {
	Vector      json.RawMessage `json:"vector"`
	Description string          `json:"description,omitempty"`
}

// CachedBackend caches signatures keyed by backend, space and image digest.
// Identical frames and re-uploads skip the backend call.
type CachedBackend struct {
	inner      Backend
	store      store
	ttl        time.Duration
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a caching decorator.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(
	inner Backend,
	s store,
	ttl time.Duration,
	cacheTotal *prometheus.CounterVec,
	logger *zap.Logger,
) *CachedBackend {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachedBackend{
		inner:      inner,
		store:      s,
		ttl:        ttl,
		cacheTotal: cacheTotal,
		logger:     logger,
	}
}

// Name implements signature.Backend.
func (c *CachedBackend) Name() string { return c.inner.Name() }

// Space implements signature.Backend.
func (c *CachedBackend) Space() domain.EmbeddingSpace { return c.inner.Space() }

// Extract returns a cached signature or calls the inner backend.
func (c *CachedBackend) Extract(ctx context.Context, image []byte) (domain.Signature, error) {
	key := c.cacheKey(image)

	if sig, ok := c.getFromCache(ctx, key); ok {
		c.incCache("hit")
		return sig, nil
	}

	c.incCache("miss")

	sig, err := c.inner.Extract(ctx, image)
	if err != nil {
		return domain.Signature{}, err
	}

	c.putToCache(ctx, key, sig)
	return sig, nil
}

func (c *CachedBackend) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

func (c *CachedBackend) cacheKey(image []byte) string {
	h := sha256.Sum256(image)
	return cacheKeyPrefix + c.inner.Name() + ":" + c.inner.Space().String() + ":" + hex.EncodeToString(h[:])
}

func (c *CachedBackend) getFromCache(ctx context.Context, key string) (domain.Signature, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached signature", zap.String("key", key), zap.Error(err))
		}
		return domain.Signature{}, false
	}
	if len(data) == 0 {
		return domain.Signature{}, false
	}

	sig, err := c.decode(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached signature", zap.String("key", key), zap.Error(err))
		return domain.Signature{}, false
	}
	return sig, true
}

func (c *CachedBackend) putToCache(ctx context.Context, key string, sig domain.Signature) {
	vec, err := domain.EncodeVector(sig.Vector)
	if err != nil {
		c.logger.Warn("Refusing to cache invalid signature", zap.String("key", key), zap.Error(err))
		return
	}
	data, err := json.Marshal(entry{Vector: json.RawMessage(vec), Description: sig.Description})
	if err != nil {
		c.logger.Warn("Failed to encode signature", zap.String("key", key), zap.Error(err))
		return
	}
	if err := c.store.SetWithTTL(ctx, key, data, c.ttl); err != nil {
		c.logger.Warn("Failed to cache signature", zap.String("key", key), zap.Error(err))
	}
}

func (c *CachedBackend) decode(data []byte) (domain.Signature, error) {
	var e entry
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.Signature{}, fmt.Errorf("%w: %w", domain.ErrDataIntegrity, err)
	}
	vec, err := domain.DecodeVector(string(e.Vector))
	if err != nil {
		return domain.Signature{}, err
	}
	space := c.inner.Space()
	if err := space.Validate(vec); err != nil {
		return domain.Signature{}, err
	}
	return domain.Signature{
		Vector:      vec,
		Description: e.Description,
		Space:       space,
		Backend:     c.inner.Name(),
	}, nil
}
