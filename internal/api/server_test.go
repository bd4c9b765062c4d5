package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lvonguyen/feedforge/internal/api/gateway"
	"github.com/lvonguyen/feedforge/internal/ingestion"
	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/observability"
	"github.com/lvonguyen/feedforge/internal/pipeline"
	"github.com/lvonguyen/feedforge/internal/store"
)

type stubRunner struct {
	result pipeline.Result
	calls  int32
	ctxErr error
}

func (r *stubRunner) Run(ctx context.Context) pipeline.Result {
	atomic.AddInt32(&r.calls, 1)
	r.ctxErr = ctx.Err()
	return r.result
}

type fakeFetcher struct {
	name    string
	records []*ioc.RawIndicator
}

func (f *fakeFetcher) Name() string { return f.name }

func (f *fakeFetcher) Fetch(ctx context.Context) ([]*ioc.RawIndicator, error) {
	return f.records, nil
}

func indicator(value string, kind ioc.Kind, source string, confidence float64) *ioc.Indicator {
	seen := time.Date(2026, 3, 4, 5, 6, 7, 0, time.UTC)
	return &ioc.Indicator{
		ID:             ioc.ID(value, kind, source),
		Value:          value,
		Kind:           kind,
		Source:         source,
		Sources:        []string{source},
		FirstSeen:      seen,
		LastUpdated:    seen,
		Confidence:     confidence,
		DuplicateCount: 1,
	}
}

func seededStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.New(store.Config{DataDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	_, err = st.Save(context.Background(), []*ioc.Indicator{
		indicator("203.0.113.5", ioc.KindIP, ioc.SourceBlocklist, 0.9),
		indicator("192.0.2.0/24", ioc.KindIP, ioc.SourceSpamhaus, 0.95),
		indicator("http://a.tk/x.exe", ioc.KindURL, ioc.SourceDigitalSide, 0.6),
		indicator("http://b.example/", ioc.KindURL, ioc.SourceDigitalSide, 0.3),
	}, store.RunInfo{RunID: "run-1"})
	require.NoError(t, err)
	return st
}

func do(t *testing.T, h http.Handler, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var body map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	}
	return rec, body
}

// =============================================================================
// Query Tests
// =============================================================================

func TestIOCs_All(t *testing.T) {
	srv := NewServer(Deps{Store: seededStore(t)})
	h := srv.Router()

	for _, path := range []string{"/iocs", "/api/v1/iocs"} {
		rec, body := do(t, h, http.MethodGet, path)
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.Equal(t, true, body["success"])
		assert.Equal(t, float64(4), body["count"])
		assert.Len(t, body["data"], 4)
	}
}

// TestIOCs_Filters verifies type/kind and source filters combine with AND.
func TestIOCs_Filters(t *testing.T) {
	h := NewServer(Deps{Store: seededStore(t)}).Router()

	tests := []struct {
		query string
		want  int
	}{
		{"type=ip", 2},
		{"kind=ip", 2},
		{"type=url", 2},
		{"source=spamhaus", 1},
		{"type=ip&source=digitalside", 0},
		{"type=url&source=digitalside", 2},
		{"type=domain", 0},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec, body := do(t, h, http.MethodGet, "/api/v1/iocs?"+tt.query)
			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, float64(tt.want), body["count"])
			assert.Len(t, body["data"], tt.want)
		})
	}
}

// TestIOCs_NoArtifact verifies an empty set before the first run.
func TestIOCs_NoArtifact(t *testing.T) {
	st, err := store.New(store.Config{DataDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	rec, body := do(t, NewServer(Deps{Store: st}).Router(), http.MethodGet, "/iocs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["data"])
}

// TestIOCs_CorruptArtifact verifies read failures surface as 500.
func TestIOCs_CorruptArtifact(t *testing.T) {
	st, err := store.New(store.Config{DataDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(st.ArtifactPath(), []byte("{not json"), 0o644))

	rec, body := do(t, NewServer(Deps{Store: st}).Router(), http.MethodGet, "/iocs")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Failed to retrieve IOCs", body["error"])
}

func TestStats(t *testing.T) {
	h := NewServer(Deps{Store: seededStore(t)}).Router()

	for _, path := range []string{"/api/stats", "/api/v1/stats"} {
		rec, body := do(t, h, http.MethodGet, path)
		require.Equal(t, http.StatusOK, rec.Code, path)

		stats := body["statistics"].(map[string]any)
		assert.Equal(t, float64(4), stats["total_iocs"])
		assert.Equal(t, map[string]any{"ip": float64(2), "url": float64(2)}, stats["by_type"])
		assert.Equal(t, map[string]any{
			"blocklist":   float64(1),
			"spamhaus":    float64(1),
			"digitalside": float64(2),
		}, stats["by_source"])
		assert.Equal(t, map[string]any{
			"high":   float64(2),
			"medium": float64(1),
			"low":    float64(1),
		}, stats["by_confidence"])
	}
}

// =============================================================================
// Refresh Tests
// =============================================================================

func TestRefresh_Success(t *testing.T) {
	runner := &stubRunner{result: pipeline.Result{Success: true, RunID: "abc", ProcessedCount: 7}}
	h := NewServer(Deps{Runner: runner, Store: seededStore(t)}).Router()

	rec, body := do(t, h, http.MethodPost, "/refresh")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "IOCs refreshed successfully", body["message"])
	assert.Equal(t, float64(7), body["processed_count"])
	assert.Equal(t, "abc", body["run_id"])
	assert.Equal(t, int32(1), atomic.LoadInt32(&runner.calls))
}

// TestRefresh_Failure verifies the pipeline error is passed through.
func TestRefresh_Failure(t *testing.T) {
	for _, msg := range []string{
		ioc.ErrNoIndicators.Error(),
		ioc.ErrRunInProgress.Error(),
		ioc.ErrSaveFailed.Error(),
	} {
		runner := &stubRunner{result: pipeline.Result{Success: false, Error: msg}}
		h := NewServer(Deps{Runner: runner, Store: seededStore(t)}).Router()

		rec, body := do(t, h, http.MethodPost, "/api/v1/refresh")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.Equal(t, false, body["success"])
		assert.Equal(t, msg, body["error"])
	}
}

func TestRefresh_NoRunner(t *testing.T) {
	rec, body := do(t, NewServer(Deps{Store: seededStore(t)}).Router(), http.MethodPost, "/refresh")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, false, body["success"])
}

func TestRefresh_MethodNotAllowed(t *testing.T) {
	runner := &stubRunner{}
	h := NewServer(Deps{Runner: runner, Store: seededStore(t)}).Router()

	rec, _ := do(t, h, http.MethodGet, "/refresh")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, int32(0), atomic.LoadInt32(&runner.calls))
}

// TestRefresh_ClientCancelDoesNotAbortRun verifies the run context is
// detached from the request.
func TestRefresh_ClientCancelDoesNotAbortRun(t *testing.T) {
	runner := &stubRunner{result: pipeline.Result{Success: true}}
	h := NewServer(Deps{Runner: runner, Store: seededStore(t), RefreshTimeout: time.Minute}).Router()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/refresh", nil).WithContext(ctx)
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.NoError(t, runner.ctxErr)
}

// TestRefresh_RateLimited verifies the refresh budget applies to both paths.
func TestRefresh_RateLimited(t *testing.T) {
	runner := &stubRunner{result: pipeline.Result{Success: true}}
	limiter := gateway.NewRateLimiter(nil, gateway.DefaultRateLimitConfig(), nil)
	h := NewServer(Deps{Runner: runner, Store: seededStore(t), Limiter: limiter}).Router()

	var codes []int
	for i := 0; i < 3; i++ {
		rec, _ := do(t, h, http.MethodPost, "/refresh")
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
	assert.Equal(t, int32(2), atomic.LoadInt32(&runner.calls))

	rec, _ := do(t, h, http.MethodGet, "/iocs")
	assert.Equal(t, http.StatusOK, rec.Code, "queries are not limited")
}

// TestRefresh_EndToEnd drives a real pipeline through the handler.
func TestRefresh_EndToEnd(t *testing.T) {
	tel := observability.NewNop()
	st, err := store.New(store.Config{DataDir: t.TempDir()}, nil, tel.Logger())
	require.NoError(t, err)

	fetchers := []ingestion.Fetcher{
		&fakeFetcher{name: ioc.SourceBlocklist, records: []*ioc.RawIndicator{
			{Value: "203.0.113.5", Kind: ioc.KindIP, Source: ioc.SourceBlocklist, RawLine: "203.0.113.5", LineNumber: 1},
		}},
		&fakeFetcher{name: ioc.SourceSpamhaus, records: []*ioc.RawIndicator{
			{Value: "203.0.113.5", Kind: ioc.KindIP, Source: ioc.SourceSpamhaus, RawLine: "203.0.113.5", LineNumber: 1},
		}},
		&fakeFetcher{name: ioc.SourceDigitalSide, records: []*ioc.RawIndicator{
			{Value: "http://malware-update-crack.tk/file.exe", Kind: ioc.KindURL, Source: ioc.SourceDigitalSide, LineNumber: 1},
		}},
	}
	p, err := pipeline.New(pipeline.Deps{
		Collector: ingestion.NewCollector(fetchers, tel.Logger(), tel.Metrics()),
		Store:     st,
		Telemetry: tel,
	})
	require.NoError(t, err)

	h := NewServer(Deps{Runner: p, Store: st, Telemetry: tel}).Router()

	rec, body := do(t, h, http.MethodPost, "/api/v1/refresh")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, float64(2), body["processed_count"])

	_, body = do(t, h, http.MethodGet, "/iocs?type=ip")
	require.Equal(t, float64(1), body["count"])
	ip := body["data"].([]any)[0].(map[string]any)
	assert.Equal(t, []any{"blocklist", "spamhaus"}, ip["sources"])
	assert.Equal(t, float64(2), ip["duplicate_count"])

	_, body = do(t, h, http.MethodGet, "/api/v1/history")
	assert.Equal(t, float64(1), body["count"])

	rec, body = do(t, h, http.MethodGet, "/api/v1/integrity")
	assert.Equal(t, http.StatusOK, rec.Code)
	integrity := body["integrity"].(map[string]any)
	assert.Equal(t, true, integrity["is_valid"])
	assert.Equal(t, float64(2), integrity["total_iocs"])
}

// =============================================================================
// History & Integrity Tests
// =============================================================================

func TestHistory_Empty(t *testing.T) {
	st, err := store.New(store.Config{DataDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)

	rec, body := do(t, NewServer(Deps{Store: st}).Router(), http.MethodGet, "/api/v1/history")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(0), body["count"])
	assert.Equal(t, []any{}, body["data"])
}

func TestIntegrity_Unparseable(t *testing.T) {
	st, err := store.New(store.Config{DataDir: t.TempDir()}, nil, nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(st.ArtifactPath(), []byte("garbage"), 0o644))

	rec, body := do(t, NewServer(Deps{Store: st}).Router(), http.MethodGet, "/api/v1/integrity")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, false, body["success"])
}

// =============================================================================
// Health & Metrics Tests
// =============================================================================

func TestHealth(t *testing.T) {
	rec, body := do(t, NewServer(Deps{Store: seededStore(t), Version: "1.0.0"}).Router(), http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "1.0.0", body["version"])
}

func TestReady(t *testing.T) {
	checks := map[string]ReadinessCheck{
		"store": func(ctx context.Context) error { return nil },
	}
	h := NewServer(Deps{Store: seededStore(t), Checks: checks}).Router()

	rec, body := do(t, h, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", body["status"])

	checks["redis"] = func(ctx context.Context) error { return errors.New("connection refused") }
	h = NewServer(Deps{Store: seededStore(t), Checks: checks}).Router()

	rec, body = do(t, h, http.MethodGet, "/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "not_ready", body["status"])
	assert.Equal(t, map[string]any{"store": "ok", "redis": "connection refused"}, body["checks"])
}

// TestMetrics verifies requests are counted by route pattern and exposed.
func TestMetrics(t *testing.T) {
	tel := observability.NewNop()
	h := NewServer(Deps{Store: seededStore(t), Telemetry: tel}).Router()

	do(t, h, http.MethodGet, "/api/v1/iocs?type=ip")
	do(t, h, http.MethodGet, "/api/v1/iocs?type=url")

	m := tel.Metrics()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.RequestsTotal.WithLabelValues("GET", "/api/v1/iocs", "200")))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "feedforge_http_requests_total")
}
