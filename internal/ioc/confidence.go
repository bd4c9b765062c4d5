package ioc

import "strings"

// DefaultConfidence applies to sources without a configured base score.
const DefaultConfidence = 0.5

var sourceConfidence = map[string]float64{
	SourceSpamhaus:    0.9,
	SourceBlocklist:   0.8,
	SourceDigitalSide: 0.7,
}

// confidenceExtensions raise the initial confidence of URL indicators.
var confidenceExtensions = []string{".exe", ".zip", ".rar", ".bat", ".scr"}

const (
	cidrBonus      = 0.05
	extensionBonus = 0.1
	classifierGain = 0.2
)

// BaseConfidence returns the base score for a feed source.
func BaseConfidence(source string) float64 {
	if c, ok := sourceConfidence[source]; ok {
		return c
	}
	return DefaultConfidence
}

// InitialConfidence scores a raw indicator from its source and shape.
func InitialConfidence(raw *RawIndicator) float64 {
	score := BaseConfidence(raw.Source)

	switch raw.Kind {
	case KindIP:
		if strings.Contains(raw.Value, "/") {
			score += cidrBonus
		}
	case KindURL:
		lower := strings.ToLower(raw.Value)
		for _, ext := range confidenceExtensions {
			if strings.HasSuffix(lower, ext) {
				score += extensionBonus
				break
			}
		}
	}

	return Clamp(score)
}

// MergeConfidence keeps the higher of two scores.
func MergeConfidence(existing, incoming float64) float64 {
	if incoming > existing {
		return incoming
	}
	return existing
}

// BoostConfidence raises c by a share of a classifier probability.
func BoostConfidence(c, probability float64) float64 {
	return Clamp(c + probability*classifierGain)
}

// Clamp bounds v to [0,1].
func Clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
