// Package pipeline orchestrates one reconciliation run: ingest, normalize,
// dedupe, enrich, filter, classify and persist.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/dedup"
	"github.com/lvonguyen/feedforge/internal/enrichment"
	"github.com/lvonguyen/feedforge/internal/ingestion"
	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/normalization"
	"github.com/lvonguyen/feedforge/internal/observability"
	"github.com/lvonguyen/feedforge/internal/store"
)

// Stage is a step of the run state machine.
type Stage string

const (
	StageIngest       Stage = "ingest"
	StageNormalize    Stage = "normalize"
	StageDedupe       Stage = "dedupe"
	StageEnrichIP     Stage = "enrich_ip"
	StageFilterURLs   Stage = "filter_urls"
	StageClassifyURLs Stage = "classify_urls"
	StagePersist      Stage = "persist"
	StageDone         Stage = "done"
	StageFailed       Stage = "failed"
)

// Result is the outcome of a full run.
type Result struct {
	Success        bool            `json:"success"`
	RunID          string          `json:"run_id,omitempty"`
	ProcessedCount int             `json:"processed_count"`
	ProcessingTime float64         `json:"processing_time,omitempty"`
	Statistics     *store.RunStats `json:"statistics,omitempty"`
	Error          string          `json:"error,omitempty"`
	// Stage is StageDone on success, otherwise the stage that failed.
	Stage Stage `json:"stage"`
	// Err is the underlying failure.
	Err error `json:"-"`
}

// IngestResult is the outcome of an ingestion-only run.
type IngestResult struct {
	Success  bool                `json:"success"`
	RawCount int                 `json:"raw_iocs_count"`
	Counts   map[string]int      `json:"ingestion_stats"`
	Raw      []*ioc.RawIndicator `json:"raw_iocs"`
	Error    string              `json:"error,omitempty"`
}

// Deps are the collaborators of a pipeline. Lock and Telemetry are optional.
type Deps struct {
	Collector  *ingestion.Collector
	Normalizer *normalization.Normalizer
	Deduper    *dedup.Deduper
	Engine     *enrichment.Engine
	Store      *store.Store
	Lock       Locker
	Telemetry  *observability.Telemetry
}

// Pipeline runs reconciliation batches. Runs never overlap.
type Pipeline struct {
	collector  *ingestion.Collector
	normalizer *normalization.Normalizer
	deduper    *dedup.Deduper
	engine     *enrichment.Engine
	store      *store.Store
	lock       Locker
	telemetry  *observability.Telemetry
	logger     *zap.Logger
	metrics    *observability.Metrics
	now        func() time.Time
}

// New creates a pipeline.
func New(deps Deps) (*Pipeline, error) {
	switch {
	case deps.Collector == nil:
		return nil, fmt.Errorf("pipeline: collector is required")
	case deps.Store == nil:
		return nil, fmt.Errorf("pipeline: store is required")
	}

	if deps.Telemetry == nil {
		deps.Telemetry = observability.NewNop()
	}
	logger := deps.Telemetry.Logger()
	metrics := deps.Telemetry.Metrics()

	if deps.Normalizer == nil {
		deps.Normalizer = normalization.NewNormalizer(normalization.NormalizerConfig{}, logger)
	}
	if deps.Deduper == nil {
		d, err := dedup.New(dedup.ModeExact, logger)
		if err != nil {
			return nil, err
		}
		deps.Deduper = d
	}
	if deps.Engine == nil {
		deps.Engine = enrichment.NewEngine(nil, nil, logger, metrics)
	}
	if deps.Lock == nil {
		deps.Lock = &LocalLock{}
	}

	return &Pipeline{
		collector:  deps.Collector,
		normalizer: deps.Normalizer,
		deduper:    deps.Deduper,
		engine:     deps.Engine,
		store:      deps.Store,
		lock:       deps.Lock,
		telemetry:  deps.Telemetry,
		logger:     logger.Named("pipeline"),
		metrics:    metrics,
		now:        func() time.Time { return time.Now().UTC() },
	}, nil
}

// Run executes one full reconciliation run.
func (p *Pipeline) Run(ctx context.Context) Result {
	release, err := p.lock.Acquire(ctx)
	if err != nil {
		status := "error"
		if errors.Is(err, ioc.ErrRunInProgress) {
			status = "rejected"
		}
		p.metrics.RecordRun(status)
		p.logger.Warn("Pipeline run not started", zap.Error(err))
		return Result{Success: false, Error: err.Error(), Stage: StageFailed, Err: err}
	}
	defer release()

	runID := uuid.NewString()
	start := p.now()

	ctx, span := p.telemetry.StartSpan(ctx, "pipeline.run")
	span.SetAttributes(attribute.String("run_id", runID))
	defer span.End()

	logger := p.logger.With(zap.String("run_id", runID))
	logger.Info("Starting threat intelligence pipeline")

	stats := store.RunStats{
		RunID:  runID,
		Stages: make(map[string]store.StageCount),
	}

	// fail reports public to the caller and keeps cause for logs and Err.
	fail := func(stage Stage, public, cause error, processed int) Result {
		stats.Error = public.Error()
		stats.FinalIOCs = processed
		stats.ProcessingTimeSeconds = p.now().Sub(start).Seconds()
		p.appendHistory(stats)
		p.metrics.RecordRun("failure")
		p.telemetry.RecordError(ctx, cause, zap.String("run_id", runID), zap.String("stage", string(stage)))
		return Result{
			Success:        false,
			RunID:          runID,
			ProcessedCount: processed,
			Error:          public.Error(),
			Stage:          stage,
			Err:            cause,
		}
	}

	var batch *ingestion.Batch
	p.runStage(ctx, &stats, StageIngest, 0, func(ctx context.Context) int {
		batch = p.collector.Collect(ctx)
		return len(batch.Indicators)
	})
	stats.RawIOCs = len(batch.Indicators)
	stats.IngestionStats = batch.Counts
	if stats.RawIOCs == 0 {
		return fail(StageIngest, ioc.ErrNoIndicators, ioc.ErrNoIndicators, 0)
	}

	var records []*ioc.Indicator
	p.runStage(ctx, &stats, StageNormalize, stats.RawIOCs, func(ctx context.Context) int {
		var dropped int
		records, dropped = p.normalizer.NormalizeAll(batch.Indicators, start)
		p.metrics.RecordNormalized(len(records))
		p.metrics.RecordDropped(string(StageNormalize), dropped)
		return len(records)
	})
	stats.NormalizedIOCs = len(records)

	p.runStage(ctx, &stats, StageDedupe, len(records), func(ctx context.Context) int {
		before := len(records)
		records = p.deduper.Dedupe(records)
		p.metrics.RecordMerged(before - len(records))
		return len(records)
	})
	stats.DeduplicatedIOCs = len(records)

	p.runStage(ctx, &stats, StageEnrichIP, len(records), func(ctx context.Context) int {
		records = p.engine.EnrichIPs(ctx, records)
		return len(records)
	})

	p.runStage(ctx, &stats, StageFilterURLs, len(records), func(ctx context.Context) int {
		records = p.engine.FilterURLs(records)
		return len(records)
	})

	p.runStage(ctx, &stats, StageClassifyURLs, len(records), func(ctx context.Context) int {
		records = p.engine.ClassifyURLs(records)
		return len(records)
	})
	stats.FinalIOCs = len(records)

	var art *store.Artifact
	var saveErr error
	p.runStage(ctx, &stats, StagePersist, len(records), func(ctx context.Context) int {
		art, saveErr = p.store.Save(ctx, records, store.RunInfo{
			RunID:          runID,
			Start:          start,
			End:            p.now(),
			IngestionStats: batch.Counts,
		})
		if saveErr != nil {
			return 0
		}
		return len(records)
	})
	if saveErr != nil {
		return fail(StagePersist, ioc.ErrSaveFailed, fmt.Errorf("%w: %w", ioc.ErrSaveFailed, saveErr), len(records))
	}

	elapsed := p.now().Sub(start).Seconds()
	stats.Success = true
	stats.ProcessingTimeSeconds = elapsed
	p.appendHistory(stats)

	p.metrics.SetActive(art.Metadata.IOCTypes)
	p.metrics.RecordRun("success")

	logger.Info("Pipeline completed successfully",
		zap.Float64("processing_time_seconds", elapsed),
		zap.Int("final_iocs", len(records)),
	)

	return Result{
		Success:        true,
		RunID:          runID,
		ProcessedCount: len(records),
		ProcessingTime: elapsed,
		Statistics:     &stats,
		Stage:          StageDone,
	}
}

// Ingest runs only the ingestion stage and returns the raw indicators.
func (p *Pipeline) Ingest(ctx context.Context) IngestResult {
	ctx, span := p.telemetry.StartSpan(ctx, "pipeline.ingest")
	defer span.End()

	p.logger.Info("Running ingestion only")
	batch := p.collector.Collect(ctx)

	raw := batch.Indicators
	if raw == nil {
		raw = []*ioc.RawIndicator{}
	}
	return IngestResult{
		Success:  true,
		RawCount: len(raw),
		Counts:   batch.Counts,
		Raw:      raw,
	}
}

// Store returns the pipeline's store.
func (p *Pipeline) Store() *store.Store {
	return p.store
}

// runStage runs fn inside a span and records its entry and exit counts.
func (p *Pipeline) runStage(ctx context.Context, stats *store.RunStats, stage Stage, in int, fn func(context.Context) int) {
	ctx, span := p.telemetry.StartSpan(ctx, "pipeline."+string(stage))
	defer span.End()

	start := time.Now()
	out := fn(ctx)
	elapsed := time.Since(start)

	stats.Stages[string(stage)] = store.StageCount{In: in, Out: out}
	span.SetAttributes(attribute.Int("records.in", in), attribute.Int("records.out", out))
	p.metrics.ObserveStage(string(stage), elapsed)

	p.logger.Debug("Stage complete",
		zap.String("stage", string(stage)),
		zap.Int("in", in),
		zap.Int("out", out),
		zap.Duration("duration", elapsed),
	)
}

func (p *Pipeline) appendHistory(stats store.RunStats) {
	if err := p.store.AppendHistory(stats); err != nil {
		p.logger.Warn("Failed to save processing statistics", zap.Error(err))
	}
}
