package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/feedforge/internal/observability"
)

func TestLookupCache_LocalOnly(t *testing.T) {
	c := NewLookupCache(CacheConfig{Size: 2, TTL: time.Minute}, nil, nil, nil)
	ctx := context.Background()

	_, ok := c.Get(ctx, "203.0.113.5")
	assert.False(t, ok)

	c.Set(ctx, "203.0.113.5", GeoRecord{Country: "NL"})
	rec, ok := c.Get(ctx, "203.0.113.5")
	require.True(t, ok)
	assert.Equal(t, "NL", rec.Country)

	c.Set(ctx, "a", GeoRecord{})
	c.Set(ctx, "b", GeoRecord{})
	assert.Equal(t, 2, c.Len())
}

// TestLookupCache_RedisBackfill verifies a redis hit is served and copied
// into the local layer.
func TestLookupCache_RedisBackfill(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	metrics := observability.NewMetrics(prometheus.NewRegistry())
	ctx := context.Background()

	writer := NewLookupCache(CacheConfig{TTL: time.Hour}, rdb, zaptest.NewLogger(t), metrics)
	writer.Set(ctx, "198.51.100.7", GeoRecord{Country: "US", Source: "ipinfo.io"})

	assert.True(t, mr.Exists("feedforge:ipinfo:198.51.100.7"))
	assert.Equal(t, time.Hour, mr.TTL("feedforge:ipinfo:198.51.100.7"))

	reader := NewLookupCache(CacheConfig{TTL: time.Hour}, rdb, zaptest.NewLogger(t), metrics)
	rec, ok := reader.Get(ctx, "198.51.100.7")
	require.True(t, ok)
	assert.Equal(t, "US", rec.Country)
	assert.Equal(t, 1, reader.Len())

	_, ok = reader.Get(ctx, "198.51.100.7")
	require.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EnrichmentCacheHit.WithLabelValues(CacheLayerRedis)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.EnrichmentCacheHit.WithLabelValues(CacheLayerLocal)))
}

func TestLookupCache_CorruptEntry(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	defer mr.Close()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	require.NoError(t, mr.Set("feedforge:ipinfo:192.0.2.1", "{broken"))

	c := NewLookupCache(CacheConfig{}, rdb, zaptest.NewLogger(t), nil)
	_, ok := c.Get(context.Background(), "192.0.2.1")
	assert.False(t, ok)
}
