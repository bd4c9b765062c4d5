package ingestion

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// maxFeedSize bounds a single feed body.
const maxFeedSize = 64 << 20

// Fetcher retrieves and parses one feed.
type Fetcher interface {
	// Name returns the feed name, which is also the indicator source.
	Name() string
	// Fetch downloads the feed and returns its valid indicators.
	Fetch(ctx context.Context) ([]*ioc.RawIndicator, error)
}

// Archiver keeps a copy of every fetched feed body.
type Archiver interface {
	Archive(feed string, body []byte) error
}

// FetcherStats tracks fetcher activity.
type FetcherStats struct {
	Fetches      int64
	Failures     int64
	BytesFetched int64
	LastFetchAt  time.Time
	LastCount    int
}

// HTTPFetcher fetches a line-oriented feed over HTTP.
type HTTPFetcher struct {
	config     FeedConfig
	httpClient *http.Client
	archive    Archiver
	logger     *zap.Logger
	mu         sync.RWMutex
	stats      FetcherStats
}

// NewHTTPFetcher creates a fetcher for cfg. archive may be nil.
func NewHTTPFetcher(cfg FeedConfig, archive Archiver, logger *zap.Logger) (*HTTPFetcher, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("feed name is required")
	}
	if cfg.URL == "" {
		return nil, fmt.Errorf("feed %s: url is required", cfg.Name)
	}
	if _, ok := lineFormats[formatFor(cfg)]; !ok {
		return nil, fmt.Errorf("feed %s: unknown format %q", cfg.Name, cfg.Format)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPFetcher{
		config: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		archive: archive,
		logger:  logger.Named("fetcher").With(zap.String("feed", cfg.Name)),
	}, nil
}

// Name returns the feed name.
func (f *HTTPFetcher) Name() string {
	return f.config.Name
}

// Stats returns current fetcher statistics.
func (f *HTTPFetcher) Stats() FetcherStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.stats
}

// Fetch downloads and parses the feed. Invalid lines are logged and skipped.
func (f *HTTPFetcher) Fetch(ctx context.Context) ([]*ioc.RawIndicator, error) {
	f.logger.Info("Fetching feed", zap.String("url", f.config.URL))

	body, err := f.fetchWithRetry(ctx)
	if err != nil {
		f.mu.Lock()
		f.stats.Failures++
		f.mu.Unlock()
		return nil, &ioc.FetchError{Source: f.config.Name, Err: err}
	}

	if f.archive != nil {
		if err := f.archive.Archive(f.config.Name, body); err != nil {
			f.logger.Warn("Failed to archive raw feed", zap.Error(err))
		}
	}

	res := Parse(f.config, string(body))
	for _, bad := range res.Invalid {
		f.logger.Warn("Invalid line in feed", zap.Int("line", bad.Line), zap.String("value", bad.Value))
	}

	f.mu.Lock()
	f.stats.Fetches++
	f.stats.BytesFetched += int64(len(body))
	f.stats.LastFetchAt = time.Now()
	f.stats.LastCount = len(res.Indicators)
	f.mu.Unlock()

	f.logger.Info("Parsed feed",
		zap.Int("indicators", len(res.Indicators)),
		zap.Int("invalid", len(res.Invalid)),
	)
	return res.Indicators, nil
}

// fetchWithRetry fetches the body with retries.
func (f *HTTPFetcher) fetchWithRetry(ctx context.Context) ([]byte, error) {
	var lastErr error

	for attempt := 0; attempt <= f.config.RetryCount; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt*attempt) * time.Second):
			}
		}

		body, err := f.fetch(ctx)
		if err == nil {
			return body, nil
		}
		lastErr = err
	}

	if f.config.RetryCount > 0 {
		return nil, fmt.Errorf("failed after %d retries: %w", f.config.RetryCount, lastErr)
	}
	return nil, lastErr
}

// fetch performs the actual HTTP request.
func (f *HTTPFetcher) fetch(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "FeedForge/1.0")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("feed request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("feed returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedSize))
	if err != nil {
		return nil, fmt.Errorf("reading feed body: %w", err)
	}
	return body, nil
}
