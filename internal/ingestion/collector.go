package ingestion

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
	"github.com/lvonguyen/feedforge/internal/observability"
)

// Batch is the joined output of one collection round.
type Batch struct {
	// Indicators holds every feed's output appended in fetcher order.
	Indicators []*ioc.RawIndicator
	// Counts maps feed name to indicators fetched. Failed feeds report 0.
	Counts map[string]int
	// Errors holds one FetchError per failed feed.
	Errors []error
}

// Collector fetches every feed concurrently and joins the results.
type Collector struct {
	fetchers []Fetcher
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// NewCollector creates a collector. The order of fetchers fixes the order of
// the joined output.
func NewCollector(fetchers []Fetcher, logger *zap.Logger, metrics *observability.Metrics) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Collector{
		fetchers: fetchers,
		logger:   logger.Named("collector"),
		metrics:  metrics,
	}
}

// Feeds returns the configured feed names in join order.
func (c *Collector) Feeds() []string {
	names := make([]string, len(c.fetchers))
	for i, f := range c.fetchers {
		names[i] = f.Name()
	}
	return names
}

// Collect runs every fetcher and waits for all of them. A failing feed
// contributes nothing and never aborts the others.
func (c *Collector) Collect(ctx context.Context) *Batch {
	type slot struct {
		records []*ioc.RawIndicator
		err     error
	}
	slots := make([]slot, len(c.fetchers))

	var wg sync.WaitGroup
	for i, f := range c.fetchers {
		wg.Add(1)
		go func(i int, f Fetcher) {
			defer wg.Done()
			records, err := f.Fetch(ctx)
			slots[i] = slot{records: records, err: err}
		}(i, f)
	}
	wg.Wait()

	batch := &Batch{Counts: make(map[string]int, len(c.fetchers))}
	for i, f := range c.fetchers {
		s := slots[i]
		if s.err != nil {
			var fe *ioc.FetchError
			if !errors.As(s.err, &fe) {
				s.err = &ioc.FetchError{Source: f.Name(), Err: s.err}
			}
			batch.Counts[f.Name()] = 0
			batch.Errors = append(batch.Errors, s.err)
			c.metrics.RecordFetchError(f.Name())
			c.logger.Error("Failed to fetch feed", zap.String("feed", f.Name()), zap.Error(s.err))
			continue
		}
		batch.Counts[f.Name()] = len(s.records)
		batch.Indicators = append(batch.Indicators, s.records...)
		c.metrics.RecordIngested(f.Name(), len(s.records))
		c.logger.Info("Fetched feed", zap.String("feed", f.Name()), zap.Int("count", len(s.records)))
	}

	c.logger.Info("Collection complete",
		zap.Int("total", len(batch.Indicators)),
		zap.Int("failed_feeds", len(batch.Errors)),
	)
	return batch
}
