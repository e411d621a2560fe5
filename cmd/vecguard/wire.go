package main

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/vecguard/internal/config"
	"github.com/kailas-cloud/vecguard/internal/db"
	"github.com/kailas-cloud/vecguard/internal/db/memory"
	"github.com/kailas-cloud/vecguard/internal/db/postgres"
	"github.com/kailas-cloud/vecguard/internal/db/qdrant"
	dbRedis "github.com/kailas-cloud/vecguard/internal/db/redis"
	"github.com/kailas-cloud/vecguard/internal/domain"
	"github.com/kailas-cloud/vecguard/internal/media"
	"github.com/kailas-cloud/vecguard/internal/metrics"
	"github.com/kailas-cloud/vecguard/internal/repository/reference"
	"github.com/kailas-cloud/vecguard/internal/repository/sigcache"
	"github.com/kailas-cloud/vecguard/internal/transport/clip"
	"github.com/kailas-cloud/vecguard/internal/transport/openai"
	"github.com/kailas-cloud/vecguard/internal/usecase/consensus"
	"github.com/kailas-cloud/vecguard/internal/usecase/decision"
	healthuc "github.com/kailas-cloud/vecguard/internal/usecase/health"
	"github.com/kailas-cloud/vecguard/internal/usecase/matching"
	"github.com/kailas-cloud/vecguard/internal/usecase/signature"
	uploaduc "github.com/kailas-cloud/vecguard/internal/usecase/upload"
)

// referenceStore is a matching.Store that can also be health-checked.
type referenceStore interface {
	matching.Store
	Ping(ctx context.Context) error
	Count(ctx context.Context) (int, error)
}

// app holds the assembled pipeline and the resources to release on exit.
type app struct {
	orchestrator *uploaduc.Orchestrator
	health       *healthuc.Service
	closers      []func()
}

func (a *app) Close() {
	for _, c := range slices.Backward(a.closers) {
		c()
	}
}

// build is the composition root: backends, stores, use cases.
func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	redisStores := make(map[string]*dbRedis.Store)
	redisFor := func(addrs []string) (*dbRedis.Store, error) {
		key := strings.Join(addrs, ",")
		if s, ok := redisStores[key]; ok {
			return s, nil
		}
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    addrs,
			Username: cfg.Database.Username,
			Password: cfg.Database.Password,
			DB:       cfg.Database.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("create redis store: %w", err)
		}
		a.closers = append(a.closers, s.Close)
		if err := s.WaitForReady(ctx, time.Duration(cfg.Database.ReadinessTimeout)*time.Second); err != nil {
			return nil, fmt.Errorf("redis not ready: %w", err)
		}
		redisStores[key] = s
		return s, nil
	}

	// Signature backends: vision description first, direct image embedding as fallback.
	timeout := time.Duration(cfg.Extraction.TimeoutSec) * time.Second
	var primary, fallback signature.Backend
	var checkers []healthuc.BackendChecker
	if g := cfg.Extraction.Gemini; g.APIKey != "" {
		b := openai.NewVisionBackend(&openai.Config{
			APIKey:         g.APIKey,
			BaseURL:        g.BaseURL,
			VisionModel:    g.VisionModel,
			EmbeddingModel: g.EmbeddingModel,
			Dimensions:     g.Dimensions,
			Provider:       "gemini",
			Timeout:        timeout,
			RatePerSecond:  cfg.Extraction.RatePerSecond,
			Burst:          cfg.Extraction.Burst,
			Logger:         logger,
		})
		primary = b
		checkers = append(checkers, b)
	}
	if c := cfg.Extraction.Clip; c.APIKey != "" {
		b := clip.NewEmbedder(&clip.Config{
			APIKey:        c.APIKey,
			BaseURL:       c.BaseURL,
			Model:         c.Model,
			Dimensions:    c.Dimensions,
			Provider:      "clip",
			Timeout:       timeout,
			RatePerSecond: cfg.Extraction.RatePerSecond,
			Burst:         cfg.Extraction.Burst,
			Logger:        logger,
		})
		fallback = b
		checkers = append(checkers, b)
	}

	if cfg.Cache.Enabled {
		cache, err := redisFor(cfg.Cache.Addrs)
		if err != nil {
			return fail(fmt.Errorf("signature cache: %w", err))
		}
		ttl := time.Duration(cfg.Cache.TTLSec) * time.Second
		if primary != nil {
			primary = sigcache.New(primary, cache, ttl, metrics.SignatureCacheTotal, logger)
		}
		if fallback != nil {
			fallback = sigcache.New(fallback, cache, ttl, metrics.SignatureCacheTotal, logger)
		}
		logger.Info("Signature cache enabled", zap.Duration("ttl", ttl))
	}

	extractor, err := signature.New(primary, fallback, logger)
	if err != nil {
		return fail(fmt.Errorf("signature extractor: %w", err))
	}

	// One reference store per space the extractor can produce, primary first.
	var stores []referenceStore
	for i, space := range extractor.Spaces() {
		collection := cfg.Database.Collection
		if i > 0 {
			collection += "_" + string(space.Kind)
		}
		refs, err := openReferenceStore(ctx, cfg, space, collection, i == 0, redisFor, a, logger)
		if err != nil {
			return fail(err)
		}
		stores = append(stores, refs)
		logger.Info("Reference store ready",
			zap.String("driver", cfg.Database.Driver),
			zap.String("collection", collection),
			zap.String("space", space.String()),
		)
	}

	matcher := matching.New(stores[0], cfg.Matching.DefaultThreshold).WithQueryTimeout(cfg.QueryTimeout())
	checked := []healthuc.ReferenceStore{stores[0]}
	for _, st := range stores[1:] {
		matcher.WithStore(st)
		checked = append(checked, st)
	}
	logger.Info("Matcher ready", zap.Stringers("spaces", matcher.Spaces()))
	engine := decision.New(extractor, matcher, cfg.Matching.StrictThreshold)

	runner := media.ExecRunner{}
	sampler := media.NewFrameSampler(runner, media.SamplerConfig{
		FFmpegPath:  cfg.Video.FFmpegPath,
		FFprobePath: cfg.Video.FFprobePath,
		FrameWidth:  cfg.Video.FrameWidth,
		TempDir:     cfg.Video.TempDir,
	}, logger)
	aggregator := consensus.New(sampler, extractor, matcher, cfg.Video.FrameConcurrency)
	normalizer := media.NewNormalizer(runner, cfg.Video.FFmpegPath, cfg.Upload.MaxImageDimension)

	a.orchestrator = uploaduc.New(normalizer, engine, aggregator,
		time.Duration(cfg.Upload.RequestTimeoutSec)*time.Second)
	a.health = healthuc.New(checked, checkers...)
	return a, nil
}

// openReferenceStore opens the configured driver's store for one embedding
// space. The seed file is loaded into the primary store only.
func openReferenceStore(
	ctx context.Context,
	cfg config.Config,
	space domain.EmbeddingSpace,
	collection string,
	primary bool,
	redisFor func([]string) (*dbRedis.Store, error),
	a *app,
	logger *zap.Logger,
) (referenceStore, error) {
	switch cfg.Database.Driver {
	case config.DriverRedis:
		s, err := redisFor(cfg.Database.Addrs)
		if err != nil {
			return nil, err
		}
		repo := reference.New(s, collection, space).WithHNSW(reference.HNSWConfig{
			M:           cfg.Database.HNSWM,
			EFConstruct: cfg.Database.HNSWEFConstruct,
		})
		if err := repo.EnsureIndex(ctx); err != nil {
			return nil, fmt.Errorf("ensure reference index %s: %w", collection, err)
		}
		return pingableRepo{Repo: repo, pinger: s}, nil
	case config.DriverPostgres:
		s, err := postgres.Open(ctx, postgres.Config{DSN: cfg.Database.DSN, Table: collection}, space)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		if err := s.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure postgres schema %s: %w", collection, err)
		}
		return s, nil
	case config.DriverQdrant:
		s, err := qdrant.Open(qdrant.Config{
			Addr:       cfg.Database.Addrs[0],
			Collection: collection,
			APIKey:     cfg.Database.APIKey,
		}, space)
		if err != nil {
			return nil, fmt.Errorf("open qdrant: %w", err)
		}
		a.closers = append(a.closers, func() { _ = s.Close() })
		if err := s.EnsureCollection(ctx); err != nil {
			return nil, fmt.Errorf("ensure qdrant collection %s: %w", collection, err)
		}
		return s, nil
	case config.DriverMemory:
		s := memory.New(space)
		if primary && cfg.Database.SeedFile != "" {
			n, err := s.LoadSeedFile(ctx, cfg.Database.SeedFile)
			if err != nil {
				return nil, fmt.Errorf("load seed file: %w", err)
			}
			logger.Info("Loaded reference seed", zap.Int("items", n))
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// pingableRepo pairs the Redis reference repository with its connection for health checks.
type pingableRepo struct {
	*reference.Repo
	pinger db.Pinger
}

func (p pingableRepo) Ping(ctx context.Context) error { return p.pinger.Ping(ctx) }
