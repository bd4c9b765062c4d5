package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/observability"
)

// Cache layer names reported in metrics.
const (
	CacheLayerLocal = "local"
	CacheLayerRedis = "redis"
)

// CacheConfig configures the lookup cache.
type CacheConfig struct {
	Size      int           `yaml:"size"`
	TTL       time.Duration `yaml:"ttl"`
	KeyPrefix string        `yaml:"key_prefix"`
}

// LookupCache is a two-level cache for provider lookups: an in-process LRU in
// front of an optional shared redis.
type LookupCache struct {
	local   *expirable.LRU[string, GeoRecord]
	redis   *redis.Client
	config  CacheConfig
	logger  *zap.Logger
	metrics *observability.Metrics
}

// NewLookupCache creates a cache. rdb may be nil.
func NewLookupCache(cfg CacheConfig, rdb *redis.Client, logger *zap.Logger, metrics *observability.Metrics) *LookupCache {
	if cfg.Size <= 0 {
		cfg.Size = 4096
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "feedforge:ipinfo"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &LookupCache{
		local:   expirable.NewLRU[string, GeoRecord](cfg.Size, nil, cfg.TTL),
		redis:   rdb,
		config:  cfg,
		logger:  logger.Named("lookup_cache"),
		metrics: metrics,
	}
}

func (c *LookupCache) key(addr string) string {
	return c.config.KeyPrefix + ":" + addr
}

// Get returns the cached record for addr.
func (c *LookupCache) Get(ctx context.Context, addr string) (*GeoRecord, bool) {
	if rec, ok := c.local.Get(addr); ok {
		c.metrics.RecordCacheHit(CacheLayerLocal)
		return &rec, true
	}

	if c.redis == nil {
		return nil, false
	}

	data, err := c.redis.Get(ctx, c.key(addr)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("Redis cache read failed", zap.String("addr", addr), zap.Error(err))
		}
		return nil, false
	}

	var rec GeoRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		c.logger.Warn("Discarding corrupt cache entry", zap.String("addr", addr), zap.Error(err))
		return nil, false
	}

	c.local.Add(addr, rec)
	c.metrics.RecordCacheHit(CacheLayerRedis)
	return &rec, true
}

// Set stores rec under addr in every configured layer.
func (c *LookupCache) Set(ctx context.Context, addr string, rec GeoRecord) {
	c.local.Add(addr, rec)

	if c.redis == nil {
		return
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, c.key(addr), data, c.config.TTL).Err(); err != nil {
		c.logger.Warn("Redis cache write failed", zap.String("addr", addr), zap.Error(err))
	}
}

// Len returns the number of entries in the local layer.
func (c *LookupCache) Len() int {
	return c.local.Len()
}
