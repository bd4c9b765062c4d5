package observability

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "feedforge"

// Metrics holds Prometheus metrics for FeedForge
type Metrics struct {
	// Ingestion metrics
	IOCsIngested *prometheus.CounterVec
	FetchErrors  *prometheus.CounterVec

	// Reconciliation metrics
	IOCsNormalized prometheus.Counter
	IOCsDropped    *prometheus.CounterVec
	IOCsMerged     prometheus.Counter
	IOCsActive     *prometheus.GaugeVec

	// Enrichment metrics
	EnrichmentDuration *prometheus.HistogramVec
	EnrichmentRequests *prometheus.CounterVec
	EnrichmentCacheHit *prometheus.CounterVec

	// Pipeline metrics
	PipelineRuns  *prometheus.CounterVec
	StageDuration *prometheus.HistogramVec
	LastRunTime   prometheus.Gauge

	// API metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// NewMetrics registers the FeedForge metrics on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		IOCsIngested: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iocs_ingested_total",
				Help:      "Total raw IOCs ingested by source",
			},
			[]string{"source"},
		),
		FetchErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fetch_errors_total",
				Help:      "Feed fetch failures by source",
			},
			[]string{"source"},
		),
		IOCsNormalized: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iocs_normalized_total",
				Help:      "Total IOCs normalized",
			},
		),
		IOCsDropped: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iocs_dropped_total",
				Help:      "IOCs dropped by pipeline stage",
			},
			[]string{"stage"},
		),
		IOCsMerged: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "iocs_merged_total",
				Help:      "Duplicate IOCs merged into an existing record",
			},
		),
		IOCsActive: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "iocs_active",
				Help:      "IOCs in the latest artifact by type",
			},
			[]string{"type"},
		),
		EnrichmentDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "enrichment_duration_seconds",
				Help:      "Enrichment lookup duration by provider",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			},
			[]string{"provider"},
		),
		EnrichmentRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_requests_total",
				Help:      "Total enrichment lookups",
			},
			[]string{"provider", "status"},
		),
		EnrichmentCacheHit: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "enrichment_cache_hits_total",
				Help:      "Enrichment cache hits by cache layer",
			},
			[]string{"layer"},
		),
		PipelineRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "pipeline_runs_total",
				Help:      "Pipeline runs by outcome",
			},
			[]string{"status"},
		),
		StageDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "pipeline_stage_duration_seconds",
				Help:      "Pipeline stage duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
			},
			[]string{"stage"},
		),
		LastRunTime: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "last_run_timestamp",
				Help:      "Timestamp of the last completed pipeline run",
			},
		),
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
			},
			[]string{"method", "path"},
		),
	}
}

func (m *Metrics) RecordIngested(source string, n int) {
	if m == nil {
		return
	}
	m.IOCsIngested.WithLabelValues(source).Add(float64(n))
}

func (m *Metrics) RecordFetchError(source string) {
	if m == nil {
		return
	}
	m.FetchErrors.WithLabelValues(source).Inc()
}

func (m *Metrics) RecordNormalized(n int) {
	if m == nil {
		return
	}
	m.IOCsNormalized.Add(float64(n))
}

func (m *Metrics) RecordDropped(stage string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IOCsDropped.WithLabelValues(stage).Add(float64(n))
}

func (m *Metrics) RecordMerged(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.IOCsMerged.Add(float64(n))
}

// SetActive replaces the active gauge with the per-type counts of the latest
// artifact.
func (m *Metrics) SetActive(byType map[string]int) {
	if m == nil {
		return
	}
	m.IOCsActive.Reset()
	for t, n := range byType {
		m.IOCsActive.WithLabelValues(t).Set(float64(n))
	}
}

func (m *Metrics) RecordEnrichment(provider, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.EnrichmentRequests.WithLabelValues(provider, status).Inc()
	m.EnrichmentDuration.WithLabelValues(provider).Observe(d.Seconds())
}

func (m *Metrics) RecordCacheHit(layer string) {
	if m == nil {
		return
	}
	m.EnrichmentCacheHit.WithLabelValues(layer).Inc()
}

func (m *Metrics) RecordRun(status string) {
	if m == nil {
		return
	}
	m.PipelineRuns.WithLabelValues(status).Inc()
	m.LastRunTime.SetToCurrentTime()
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

func (m *Metrics) ObserveRequest(method, path string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
