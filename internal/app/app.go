// Package app wires the FeedForge components from configuration. Both the
// server and the CLI build on it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/config"
	"github.com/lvonguyen/feedforge/internal/dedup"
	"github.com/lvonguyen/feedforge/internal/enrichment"
	"github.com/lvonguyen/feedforge/internal/ingestion"
	"github.com/lvonguyen/feedforge/internal/normalization"
	"github.com/lvonguyen/feedforge/internal/observability"
	"github.com/lvonguyen/feedforge/internal/pipeline"
	"github.com/lvonguyen/feedforge/internal/store"
)

// App holds the wired components.
type App struct {
	Config    *config.Config
	Telemetry *observability.Telemetry
	Logger    *zap.Logger
	Redis     *redis.Client
	Mirror    *store.Mirror
	Store     *store.Store
	Pipeline  *pipeline.Pipeline
}

// Options adjust how the app is built.
type Options struct {
	Version string
	// Telemetry, when set, is used instead of building one from config.
	Telemetry *observability.Telemetry
	// Fetchers, when set, replace the HTTP fetchers built from config.
	Fetchers []ingestion.Fetcher
}

// New builds the app. Close releases what it opened.
func New(cfg *config.Config, opts Options) (*App, error) {
	tel := opts.Telemetry
	if tel == nil {
		var err error
		tel, err = observability.New(cfg.ObservabilityConfig(opts.Version))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}
	logger := tel.Logger()

	a := &App{
		Config:    cfg,
		Telemetry: tel,
		Logger:    logger,
	}

	if redisOpts := cfg.RedisOptions(); redisOpts != nil {
		a.Redis = redis.NewClient(redisOpts)
		logger.Info("Redis configured", zap.String("addr", redisOpts.Addr))
	}

	if cfg.Storage.SQLitePath != "" {
		mirror, err := store.OpenMirror(cfg.Storage.SQLitePath, logger)
		if err != nil {
			a.Close(context.Background())
			return nil, err
		}
		a.Mirror = mirror
	}

	st, err := store.New(cfg.Storage, a.Mirror, logger)
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}
	a.Store = st

	fetchers := opts.Fetchers
	if fetchers == nil {
		fetchers, err = a.buildFetchers()
		if err != nil {
			a.Close(context.Background())
			return nil, err
		}
	}

	engine, err := a.buildEngine()
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	deduper, err := dedup.New(cfg.Dedup.Mode, logger)
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}

	var lock pipeline.Locker = &pipeline.LocalLock{}
	if a.Redis != nil {
		lock = pipeline.NewRedisLock(a.Redis, cfg.Lock.Key, cfg.Lock.TTL, logger)
	}

	p, err := pipeline.New(pipeline.Deps{
		Collector:  ingestion.NewCollector(fetchers, logger, tel.Metrics()),
		Normalizer: normalization.NewNormalizer(cfg.Normalization, logger),
		Deduper:    deduper,
		Engine:     engine,
		Store:      st,
		Lock:       lock,
		Telemetry:  tel,
	})
	if err != nil {
		a.Close(context.Background())
		return nil, err
	}
	a.Pipeline = p

	return a, nil
}

func (a *App) buildFetchers() ([]ingestion.Fetcher, error) {
	var archive ingestion.Archiver
	if a.Config.Storage.ArchiveRaw {
		archive = a.Store.RawArchive()
	}

	feeds := a.Config.EnabledFeeds()
	fetchers := make([]ingestion.Fetcher, 0, len(feeds))
	for _, feed := range feeds {
		f, err := ingestion.NewHTTPFetcher(feed, archive, a.Logger)
		if err != nil {
			return nil, err
		}
		fetchers = append(fetchers, f)
	}

	a.Logger.Info("Feeds configured", zap.Int("count", len(fetchers)))
	return fetchers, nil
}

func (a *App) buildEngine() (*enrichment.Engine, error) {
	cfg := a.Config.Enrichment
	metrics := a.Telemetry.Metrics()

	var dataset *enrichment.ReferenceDataset
	if cfg.DatasetPath != "" {
		var err error
		dataset, err = enrichment.LoadReferenceDataset(cfg.DatasetPath, cfg.DatasetName)
		if err != nil {
			return nil, err
		}
		a.Logger.Info("Reference dataset loaded", zap.String("name", dataset.Name()), zap.Int("addresses", dataset.Len()))
	}

	// The ipinfo provider is only wired when its token is present; without it
	// IPs fall back to range classification.
	var provider enrichment.Provider
	if cfg.IPInfo.Enabled && os.Getenv(cfg.IPInfo.APIKey) != "" {
		cache := enrichment.NewLookupCache(cfg.IPInfo.Cache, a.Redis, a.Logger, metrics)
		p, err := enrichment.NewIPInfoProvider(cfg.IPInfo, cache, a.Logger)
		if err != nil {
			return nil, err
		}
		provider = p
		a.Logger.Info("IP provider configured", zap.String("provider", p.Name()))
	}

	ip := enrichment.NewIPEnricher(dataset, provider, a.Logger, metrics)
	return enrichment.NewEngine(ip, enrichment.NewClassifier(nil, nil), a.Logger, metrics), nil
}

// Ping checks the optional Redis connection.
func (a *App) Ping(ctx context.Context) error {
	if a.Redis == nil {
		return nil
	}
	return a.Redis.Ping(ctx).Err()
}

// Close releases the Redis client, the mirror and telemetry.
func (a *App) Close(ctx context.Context) error {
	var errs []error
	if a.Redis != nil {
		errs = append(errs, a.Redis.Close())
	}
	if a.Mirror != nil {
		errs = append(errs, a.Mirror.Close())
	}
	if a.Telemetry != nil {
		errs = append(errs, a.Telemetry.Shutdown(ctx))
	}
	return errors.Join(errs...)
}
