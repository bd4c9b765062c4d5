// Package scheduler triggers pipeline runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/pipeline"
)

// Runner executes one reconciliation run.
type Runner interface {
	Run(ctx context.Context) pipeline.Result
}

// Config holds scheduler configuration
type Config struct {
	// Spec is a standard five-field cron expression or a descriptor such as
	// "@hourly" or "@every 30m".
	Spec       string
	Timezone   string
	RunOnStart bool
	// RunTimeout bounds a single scheduled run. Zero means no bound.
	RunTimeout time.Duration
}

// Scheduler runs the pipeline periodically. A tick that fires while the
// previous run is still going is skipped; runs started elsewhere are rejected
// by the pipeline run-lock.
type Scheduler struct {
	runner     Runner
	cron       *cron.Cron
	entry      cron.EntryID
	runOnStart bool
	runTimeout time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	running bool
	ctx     context.Context
	cancel  context.CancelFunc
	started sync.WaitGroup
}

// New creates a scheduler. The spec is parsed eagerly.
func New(runner Runner, cfg Config, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil {
		return nil, fmt.Errorf("scheduler: runner is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("scheduler")

	tz := time.UTC
	if cfg.Timezone != "" {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			logger.Warn("Invalid timezone, using UTC", zap.String("timezone", cfg.Timezone), zap.Error(err))
		} else {
			tz = loc
		}
	}

	cronLogger := zapCronLogger{logger: logger.Sugar()}
	ctx, cancel := context.WithCancel(context.Background())

	s := &Scheduler{
		runner:     runner,
		runOnStart: cfg.RunOnStart,
		runTimeout: cfg.RunTimeout,
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
		cron: cron.New(
			cron.WithLocation(tz),
			cron.WithLogger(cronLogger),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
		),
	}

	entry, err := s.cron.AddFunc(cfg.Spec, s.tick)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid cron spec %q: %w", cfg.Spec, err)
	}
	s.entry = entry

	return s, nil
}

// Start starts the scheduler
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", zap.Time("next_run", s.Next()))

	if s.runOnStart {
		s.started.Add(1)
		go func() {
			defer s.started.Done()
			s.tick()
		}()
	}
}

// Stop stops the scheduler and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	stopped := s.cron.Stop()
	<-stopped.Done()
	s.started.Wait()
	s.cancel()

	s.running = false
	s.logger.Info("Scheduler stopped")
}

// Next returns the next scheduled activation.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

func (s *Scheduler) tick() {
	ctx := s.ctx
	if s.runTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.runTimeout)
		defer cancel()
	}

	result := s.runner.Run(ctx)

	switch {
	case result.Success:
		s.logger.Info("Scheduled run completed",
			zap.String("run_id", result.RunID),
			zap.Int("processed_count", result.ProcessedCount),
		)
	case errors.Is(result.Err, ioc.ErrRunInProgress):
		s.logger.Info("Scheduled run skipped, another run is in progress")
	default:
		s.logger.Error("Scheduled run failed",
			zap.String("run_id", result.RunID),
			zap.String("stage", string(result.Stage)),
			zap.String("error", result.Error),
		)
	}
}

// zapCronLogger adapts zap to the cron.Logger interface.
type zapCronLogger struct {
	logger *zap.SugaredLogger
}

func (l zapCronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l zapCronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
