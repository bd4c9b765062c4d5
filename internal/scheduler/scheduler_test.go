package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/pipeline"
)

type countingRunner struct {
	calls  int32
	result pipeline.Result
}

func (r *countingRunner) Run(ctx context.Context) pipeline.Result {
	atomic.AddInt32(&r.calls, 1)
	return r.result
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(&countingRunner{}, Config{Spec: "every tuesday"}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid cron spec")
}

func TestNew_RequiresRunner(t *testing.T) {
	_, err := New(nil, Config{Spec: "@hourly"}, nil)
	require.Error(t, err)
}

// TestNext verifies a five-field spec is scheduled.
func TestNext(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Spec: "0 */6 * * *"}, nil)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	next := s.Next()
	require.False(t, next.IsZero())
	assert.Equal(t, 0, next.Minute())
	assert.Equal(t, 0, next.Hour()%6)
}

// TestRunOnStart verifies an immediate run when configured.
func TestRunOnStart(t *testing.T) {
	runner := &countingRunner{result: pipeline.Result{Success: true, ProcessedCount: 3}}
	s, err := New(runner, Config{Spec: "@daily", RunOnStart: true}, nil)
	require.NoError(t, err)

	s.Start()
	s.Stop()

	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

// TestTick_Periodic verifies the job fires on schedule.
func TestTick_Periodic(t *testing.T) {
	runner := &countingRunner{result: pipeline.Result{Success: true}}
	s, err := New(runner, Config{Spec: "@every 1s"}, nil)
	require.NoError(t, err)

	s.Start()
	defer s.Stop()

	assert.Eventually(t, func() bool {
		return atomic.LoadInt32(&runner.calls) >= 1
	}, 3*time.Second, 50*time.Millisecond)
}

// TestTick_LogsOutcome verifies rejected and failed runs are logged
// differently.
func TestTick_LogsOutcome(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	rejected := &countingRunner{result: pipeline.Result{
		Error: ioc.ErrRunInProgress.Error(),
		Err:   ioc.ErrRunInProgress,
	}}
	s, err := New(rejected, Config{Spec: "@daily"}, zap.New(core))
	require.NoError(t, err)
	s.tick()

	require.Equal(t, 1, logs.FilterMessage("Scheduled run skipped, another run is in progress").Len())

	failed := &countingRunner{result: pipeline.Result{
		Error: ioc.ErrNoIndicators.Error(),
		Err:   ioc.ErrNoIndicators,
		Stage: pipeline.StageIngest,
	}}
	s, err = New(failed, Config{Spec: "@daily"}, zap.New(core))
	require.NoError(t, err)
	s.tick()

	entries := logs.FilterMessage("Scheduled run failed").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, "No IOCs were successfully ingested", entries[0].ContextMap()["error"])
	assert.Equal(t, "ingest", entries[0].ContextMap()["stage"])
}

// TestStop_Idempotent verifies Stop before and after Start is safe.
func TestStop_Idempotent(t *testing.T) {
	s, err := New(&countingRunner{}, Config{Spec: "@hourly"}, nil)
	require.NoError(t, err)

	s.Stop()
	s.Start()
	s.Start()
	s.Stop()
	s.Stop()
}
