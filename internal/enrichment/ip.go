package enrichment

import (
	"context"
	"net/netip"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/observability"
)

// Basic range classes.
const (
	ClassPrivate = "private"
	ClassPublic  = "public"
	ClassSpecial = "special"

	basicSourceName = "basic_analysis"
)

// IPEnricher resolves IP indicators through the reference dataset, then the
// optional provider, then range classification.
type IPEnricher struct {
	dataset  *ReferenceDataset
	provider Provider
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewIPEnricher creates an IP enricher. dataset and provider may be nil.
func NewIPEnricher(dataset *ReferenceDataset, provider Provider, logger *zap.Logger, metrics *observability.Metrics) *IPEnricher {
	if dataset == nil {
		dataset = NewReferenceDataset("reference", nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IPEnricher{
		dataset:  dataset,
		provider: provider,
		logger:   logger.Named("ip_enricher"),
		metrics:  metrics,
	}
}

// Lookup returns the enrichment fields for an IP or CIDR value.
func (e *IPEnricher) Lookup(ctx context.Context, value string) (map[string]any, error) {
	addr := BareAddress(value)
	if _, err := parseIPv4(addr); err != nil {
		return nil, &ioc.EnrichmentError{Value: value, Stage: "enrich_ip", Err: err}
	}

	if rec, ok := e.dataset.Lookup(addr); ok {
		e.metrics.RecordEnrichment(e.dataset.Name(), "hit", 0)
		return rec, nil
	}

	if e.provider != nil {
		start := time.Now()
		rec, err := e.provider.Lookup(ctx, addr)
		if err == nil {
			e.metrics.RecordEnrichment(e.provider.Name(), "success", time.Since(start))
			return rec.Fields(), nil
		}
		e.metrics.RecordEnrichment(e.provider.Name(), "error", time.Since(start))
		e.logger.Warn("Provider lookup failed, falling back to range classification",
			zap.String("provider", e.provider.Name()),
			zap.String("addr", addr),
			zap.Error(err),
		)
	}

	class, err := BasicClassification(addr)
	if err != nil {
		return nil, &ioc.EnrichmentError{Value: value, Stage: "enrich_ip", Err: err}
	}
	e.metrics.RecordEnrichment(basicSourceName, "success", 0)
	return map[string]any{
		"classification": class,
		"source":         basicSourceName,
	}, nil
}

// BareAddress strips a CIDR suffix.
func BareAddress(value string) string {
	addr, _, _ := strings.Cut(strings.TrimSpace(value), "/")
	return addr
}

// BasicClassification classifies an IPv4 address by well-known ranges
// without any data dependency.
func BasicClassification(addr string) (string, error) {
	ip, err := parseIPv4(addr)
	if err != nil {
		return "", err
	}

	o := ip.As4()
	switch {
	case o[0] == 10:
		return ClassPrivate, nil
	case o[0] == 172:
		if o[1] >= 16 && o[1] <= 31 {
			return ClassPrivate, nil
		}
		return ClassPublic, nil
	case o[0] == 192:
		if o[1] == 168 {
			return ClassPrivate, nil
		}
		return ClassPublic, nil
	case o[0] == 127, o[0] == 169:
		return ClassSpecial, nil
	default:
		return ClassPublic, nil
	}
}

func parseIPv4(addr string) (netip.Addr, error) {
	ip, err := netip.ParseAddr(addr)
	if err != nil || !ip.Is4() {
		return netip.Addr{}, ioc.ErrInvalidAddress
	}
	return ip, nil
}
