// Package normalization maps raw feed observations onto the canonical
// indicator schema.
package normalization

import (
	"time"

	"go.uber.org/zap"

	"github.com/lvonguyen/feedforge/internal/ioc"
)

// NormalizerConfig holds configuration for normalization
type NormalizerConfig struct {
	// SourceConfidence overrides the built-in base score per source.
	SourceConfidence map[string]float64 `yaml:"source_confidence"`
}

// Normalizer converts raw indicators into canonical records
type Normalizer struct {
	config NormalizerConfig
	logger *zap.Logger
}

// NewNormalizer creates a new normalizer
func NewNormalizer(cfg NormalizerConfig, logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{config: cfg, logger: logger.Named("normalizer")}
}

// Normalize converts a raw indicator into a canonical record stamped with seen.
func (n *Normalizer) Normalize(raw *ioc.RawIndicator, seen time.Time) (*ioc.Indicator, error) {
	if err := validate(raw); err != nil {
		return nil, &ioc.NormalizationError{Source: raw.Source, Line: raw.LineNumber, Err: err}
	}

	return &ioc.Indicator{
		ID:             ioc.ID(raw.Value, raw.Kind, raw.Source),
		Value:          raw.Value,
		Kind:           raw.Kind,
		Source:         raw.Source,
		Sources:        []string{raw.Source},
		SourceURL:      raw.SourceURL,
		Category:       raw.Category,
		FirstSeen:      seen,
		LastUpdated:    seen,
		Confidence:     n.confidence(raw),
		DuplicateCount: 1,
		Metadata:       extractMetadata(raw),
	}, nil
}

// NormalizeAll normalizes every raw record, dropping and logging the ones
// that fail. The second return value is the number of dropped records.
func (n *Normalizer) NormalizeAll(raws []*ioc.RawIndicator, seen time.Time) ([]*ioc.Indicator, int) {
	out := make([]*ioc.Indicator, 0, len(raws))
	dropped := 0

	for _, raw := range raws {
		ind, err := n.Normalize(raw, seen)
		if err != nil {
			dropped++
			n.logger.Warn("Dropping raw indicator", zap.Error(err), zap.String("value", raw.Value))
			continue
		}
		out = append(out, ind)
	}

	n.logger.Info("Normalized indicators",
		zap.Int("normalized", len(out)),
		zap.Int("raw", len(raws)),
		zap.Int("dropped", dropped),
	)
	return out, dropped
}

func (n *Normalizer) confidence(raw *ioc.RawIndicator) float64 {
	score := ioc.InitialConfidence(raw)
	if base, ok := n.config.SourceConfidence[raw.Source]; ok {
		score = ioc.Clamp(score - ioc.BaseConfidence(raw.Source) + base)
	}
	return score
}

func validate(raw *ioc.RawIndicator) error {
	switch {
	case raw.Value == "":
		return ioc.ErrMissingValue
	case raw.Source == "":
		return ioc.ErrMissingSource
	case !raw.Kind.Valid():
		return ioc.ErrUnknownKind
	}
	return nil
}

// extractMetadata keeps the provenance of the raw line plus the attributes
// each source is known to carry. Empty values are omitted.
func extractMetadata(raw *ioc.RawIndicator) map[string]any {
	md := make(map[string]any)
	if raw.RawLine != "" {
		md["raw_data"] = raw.RawLine
	}
	if raw.LineNumber > 0 {
		md["line_number"] = raw.LineNumber
	}

	var keys []string
	switch {
	case raw.Source == ioc.SourceSpamhaus:
		keys = []string{ioc.FieldSBLReference}
	case raw.Source == ioc.SourceDigitalSide && raw.Kind == ioc.KindURL:
		keys = []string{ioc.FieldDomain, ioc.FieldPath, ioc.FieldScheme}
	}
	for _, k := range keys {
		if v := raw.Fields[k]; v != "" {
			md[k] = v
		}
	}

	return md
}
