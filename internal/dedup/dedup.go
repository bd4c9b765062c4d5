// Package dedup collapses canonical indicators that share an identity key.
package dedup

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// Mode selects how the dedup key is derived from an indicator value.
type Mode string

const (
	// ModeExact keys on the raw value.
	ModeExact Mode = "exact"
	// ModeNormalized lowercases URLs, drops their query string and
	// trailing slashes, and trims whitespace from IPs before keying.
	ModeNormalized Mode = "normalized"
)

// Deduper merges indicators that map to the same (value, kind) key.
type Deduper struct {
	mode   Mode
	logger *zap.Logger
}

// New creates a Deduper. An empty mode means ModeExact.
func New(mode Mode, logger *zap.Logger) (*Deduper, error) {
	switch mode {
	case "":
		mode = ModeExact
	case ModeExact, ModeNormalized:
	default:
		return nil, fmt.Errorf("unsupported dedup mode: %s", mode)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deduper{mode: mode, logger: logger.Named("dedup")}, nil
}

// Mode returns the active key mode.
func (d *Deduper) Mode() Mode {
	return d.mode
}

// Dedupe returns one record per key in first-seen order. Later duplicates
// are folded into the retained record and discarded.
func (d *Deduper) Dedupe(records []*ioc.Indicator) []*ioc.Indicator {
	index := make(map[string]*ioc.Indicator, len(records))
	out := make([]*ioc.Indicator, 0, len(records))

	for _, rec := range records {
		key := d.Key(rec)
		if existing, ok := index[key]; ok {
			Merge(existing, rec)
			continue
		}
		index[key] = rec
		out = append(out, rec)
	}

	d.logger.Info("Deduplicated indicators",
		zap.String("mode", string(d.mode)),
		zap.Int("removed", len(records)-len(out)),
		zap.Int("kept", len(out)),
	)
	return out
}

// Key returns the dedup key for rec under the active mode.
func (d *Deduper) Key(rec *ioc.Indicator) string {
	value := rec.Value
	if d.mode == ModeNormalized {
		value = NormalizeValue(rec.Value, rec.Kind)
	}
	return value + ":" + string(rec.Kind)
}

// NormalizeValue canonicalizes a value for near-duplicate detection.
func NormalizeValue(value string, kind ioc.Kind) string {
	switch kind {
	case ioc.KindURL:
		v := strings.ToLower(value)
		if i := strings.IndexByte(v, '?'); i >= 0 {
			v = v[:i]
		}
		return strings.TrimRight(v, "/")
	case ioc.KindIP:
		return strings.TrimSpace(value)
	}
	return value
}

// Merge folds incoming into existing: unseen sources are appended, the
// higher confidence wins, enrichment keys are copied only when absent and
// the duplicate count grows by one.
func Merge(existing, incoming *ioc.Indicator) {
	if len(existing.Sources) == 0 {
		existing.Sources = []string{existing.Source}
	}
	for _, s := range sourcesOf(incoming) {
		existing.AddSource(s)
	}

	existing.Confidence = ioc.MergeConfidence(existing.Confidence, incoming.Confidence)

	for k, v := range incoming.Enrichment {
		existing.Enrich(k, v)
	}

	if existing.DuplicateCount < 1 {
		existing.DuplicateCount = 1
	}
	existing.DuplicateCount++
}

func sourcesOf(rec *ioc.Indicator) []string {
	if len(rec.Sources) > 0 {
		return rec.Sources
	}
	return []string{rec.Source}
}
