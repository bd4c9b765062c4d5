package enrichment

import (
	"context"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/observability"
)

// Enrichment keys written by the URL path.
const (
	KeySuspicionScore       = "suspicion_score"
	KeyIsSuspicious         = "is_suspicious"
	KeySuspiciousIndicators = "suspicious_indicators"
	KeyClassification       = "ml_classification"
)

// Engine runs the enrichment stages over a record set. Every stage is
// fail-soft per record.
type Engine struct {
	ip         *IPEnricher
	classifier *Classifier
	logger     *zap.Logger
	metrics    *observability.Metrics
}

// NewEngine creates an enrichment engine.
func NewEngine(ip *IPEnricher, classifier *Classifier, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	if ip == nil {
		ip = NewIPEnricher(nil, nil, logger, metrics)
	}
	if classifier == nil {
		classifier = NewClassifier(nil, nil)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		ip:         ip,
		classifier: classifier,
		logger:     logger.Named("enrichment"),
		metrics:    metrics,
	}
}

// EnrichIPs attaches IP enrichment to every IP record. Records are never
// dropped.
func (e *Engine) EnrichIPs(ctx context.Context, records []*ioc.Indicator) []*ioc.Indicator {
	enriched, failed := 0, 0

	for _, rec := range records {
		if rec.Kind != ioc.KindIP {
			continue
		}
		fields, err := e.ip.Lookup(ctx, rec.Value)
		if err != nil {
			failed++
			e.logger.Warn("IP enrichment failed", zap.String("value", rec.Value), zap.Error(err))
			continue
		}
		rec.EnrichAll(fields)
		enriched++
	}

	e.logger.Info("Enriched IP indicators", zap.Int("enriched", enriched), zap.Int("failed", failed))
	return records
}

// FilterURLs scores every URL record, annotates it and drops the ones that
// fail retention. Non-URL records pass through untouched.
func (e *Engine) FilterURLs(records []*ioc.Indicator) []*ioc.Indicator {
	out := make([]*ioc.Indicator, 0, len(records))
	total, kept := 0, 0

	for _, rec := range records {
		if rec.Kind != ioc.KindURL {
			out = append(out, rec)
			continue
		}
		total++

		a := AnalyzeURL(rec.Value)
		rec.Enrich(KeySuspicionScore, a.Score)
		rec.Enrich(KeyIsSuspicious, a.Score > SuspiciousThreshold)
		rec.Enrich(KeySuspiciousIndicators, a.Indicators)

		if !ShouldKeep(rec.Value, a.Score) {
			e.logger.Debug("Filtered out URL", zap.String("value", rec.Value), zap.Float64("score", a.Score))
			continue
		}
		kept++
		out = append(out, rec)
	}

	e.metrics.RecordDropped("filter_urls", total-kept)
	e.logger.Info("Filtered URL indicators", zap.Int("kept", kept), zap.Int("total", total))
	return out
}

// ClassifyURLs attaches the keyword classification to every URL record and
// boosts the confidence of suspicious ones.
func (e *Engine) ClassifyURLs(records []*ioc.Indicator) []*ioc.Indicator {
	classified := 0

	for _, rec := range records {
		if rec.Kind != ioc.KindURL {
			continue
		}
		c := e.classifier.Classify(rec.Value)
		rec.Enrich(KeyClassification, c)
		if c.IsSuspicious {
			rec.Confidence = ioc.BoostConfidence(rec.Confidence, c.Probability)
		}
		classified++
	}

	e.logger.Info("Classified URL indicators", zap.Int("classified", classified))
	return records
}
