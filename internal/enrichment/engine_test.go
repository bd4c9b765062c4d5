package enrichment

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/observability"
)

func indicator(value string, kind ioc.Kind, source string, confidence float64) *ioc.Indicator {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	return &ioc.Indicator{
		ID:             ioc.ID(value, kind, source),
		Value:          value,
		Kind:           kind,
		Source:         source,
		Sources:        []string{source},
		FirstSeen:      now,
		LastUpdated:    now,
		Confidence:     confidence,
		DuplicateCount: 1,
	}
}

func TestEngine_EnrichIPs(t *testing.T) {
	ds := NewReferenceDataset("mock_ip_db", map[string]map[string]any{
		"198.51.100.7": {"country": "NL"},
	})
	engine := NewEngine(NewIPEnricher(ds, nil, nil, nil), nil, zaptest.NewLogger(t), nil)

	records := []*ioc.Indicator{
		indicator("198.51.100.7", ioc.KindIP, ioc.SourceBlocklist, 0.8),
		indicator("10.0.0.0/8", ioc.KindIP, ioc.SourceSpamhaus, 0.95),
		indicator("999.1.1.1", ioc.KindIP, ioc.SourceBlocklist, 0.8),
		indicator("http://example.org/a.exe", ioc.KindURL, ioc.SourceDigitalSide, 0.8),
	}

	out := engine.EnrichIPs(context.Background(), records)
	require.Len(t, out, 4)

	assert.Equal(t, "mock_ip_db", out[0].Enrichment["source"])
	assert.Equal(t, "NL", out[0].Enrichment["country"])
	assert.Equal(t, ClassPrivate, out[1].Enrichment["classification"])
	assert.Empty(t, out[2].Enrichment, "invalid address stays unenriched")
	assert.Empty(t, out[3].Enrichment, "URLs are not touched")
}

// TestEngine_EnrichIPs_Additive verifies enrichment never overwrites keys
// that are already present.
func TestEngine_EnrichIPs_Additive(t *testing.T) {
	engine := NewEngine(nil, nil, nil, nil)

	rec := indicator("8.8.8.8", ioc.KindIP, ioc.SourceBlocklist, 0.8)
	rec.Enrichment = map[string]any{"source": "earlier"}

	engine.EnrichIPs(context.Background(), []*ioc.Indicator{rec})

	assert.Equal(t, "earlier", rec.Enrichment["source"])
	assert.Equal(t, ClassPublic, rec.Enrichment["classification"])
}

func TestEngine_FilterURLs(t *testing.T) {
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	engine := NewEngine(nil, nil, nil, metrics)

	ipRec := indicator("203.0.113.5", ioc.KindIP, ioc.SourceBlocklist, 0.8)
	bad := indicator("http://malware-update-crack.tk/file.exe", ioc.KindURL, ioc.SourceDigitalSide, 0.9)
	plain := indicator("https://example.org/index.html", ioc.KindURL, ioc.SourceDigitalSide, 0.8)
	embedded := indicator("https://example.org/?next=203.0.113.9", ioc.KindURL, ioc.SourceDigitalSide, 0.8)

	out := engine.FilterURLs([]*ioc.Indicator{ipRec, bad, plain, embedded})

	require.Len(t, out, 3)
	assert.Same(t, ipRec, out[0])
	assert.Same(t, bad, out[1])
	assert.Same(t, embedded, out[2])

	assert.InDelta(t, 0.7, bad.Enrichment[KeySuspicionScore], 1e-9)
	assert.Equal(t, true, bad.Enrichment[KeyIsSuspicious])
	assert.Contains(t, bad.Enrichment[KeySuspiciousIndicators], "suspicious_extension:.exe")

	assert.Equal(t, 0.0, plain.Enrichment[KeySuspicionScore])
	assert.Equal(t, []string{}, plain.Enrichment[KeySuspiciousIndicators])
	assert.Nil(t, ipRec.Enrichment)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.IOCsDropped.WithLabelValues("filter_urls")))
}

func TestEngine_ClassifyURLs(t *testing.T) {
	engine := NewEngine(nil, nil, nil, nil)

	bad := indicator("http://malware-update-crack.tk/file.exe", ioc.KindURL, ioc.SourceDigitalSide, 0.9)
	docs := indicator("https://docs.github.com/en/help", ioc.KindURL, ioc.SourceDigitalSide, 0.8)
	ipRec := indicator("203.0.113.5", ioc.KindIP, ioc.SourceBlocklist, 0.8)

	engine.ClassifyURLs([]*ioc.Indicator{bad, docs, ipRec})

	c, ok := bad.Enrichment[KeyClassification].(Classification)
	require.True(t, ok)
	assert.True(t, c.IsSuspicious)
	assert.Equal(t, 1.0, bad.Confidence, "0.9 + 0.9*0.2 clamps to 1")

	c, ok = docs.Enrichment[KeyClassification].(Classification)
	require.True(t, ok)
	assert.False(t, c.IsSuspicious)
	assert.Equal(t, 0.8, docs.Confidence)

	assert.Nil(t, ipRec.Enrichment)
}

// TestEngine_ClassifyURLs_Boost verifies the boost is proportional to the
// classifier probability.
func TestEngine_ClassifyURLs_Boost(t *testing.T) {
	engine := NewEngine(nil, nil, nil, nil)

	rec := indicator("http://example.org/download/crack", ioc.KindURL, ioc.SourceDigitalSide, 0.5)
	engine.ClassifyURLs([]*ioc.Indicator{rec})

	c := rec.Enrichment[KeyClassification].(Classification)
	require.True(t, c.IsSuspicious)
	assert.InDelta(t, 0.5+c.Probability*0.2, rec.Confidence, 1e-9)
}
