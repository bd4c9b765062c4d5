package store

import "github.com/lvonguyen/feedforge/internal/ioc"

// Confidence band edges.
const (
	highConfidence   = 0.8
	mediumConfidence = 0.5
)

// Statistics summarizes an indicator set.
type Statistics struct {
	TotalIOCs    int             `json:"total_iocs"`
	ByType       map[string]int  `json:"by_type"`
	BySource     map[string]int  `json:"by_source"`
	ByConfidence ConfidenceBands `json:"by_confidence"`
}

// ConfidenceBands counts indicators by confidence: high above 0.8, medium
// from 0.5 to 0.8 inclusive, low below 0.5.
type ConfidenceBands struct {
	High   int `json:"high"`
	Medium int `json:"medium"`
	Low    int `json:"low"`
}

// Filter returns the indicators whose kind and primary source match exactly.
// An empty filter matches everything.
func Filter(iocs []*ioc.Indicator, kind, source string) []*ioc.Indicator {
	out := make([]*ioc.Indicator, 0, len(iocs))
	for _, i := range iocs {
		if kind != "" && string(i.Kind) != kind {
			continue
		}
		if source != "" && i.Source != source {
			continue
		}
		out = append(out, i)
	}
	return out
}

// ComputeStats counts iocs by type, primary source and confidence band.
func ComputeStats(iocs []*ioc.Indicator) Statistics {
	st := Statistics{
		TotalIOCs: len(iocs),
		ByType:    countBy(iocs, func(i *ioc.Indicator) string { return string(i.Kind) }),
		BySource:  countBy(iocs, func(i *ioc.Indicator) string { return i.Source }),
	}
	for _, i := range iocs {
		switch {
		case i.Confidence > highConfidence:
			st.ByConfidence.High++
		case i.Confidence >= mediumConfidence:
			st.ByConfidence.Medium++
		default:
			st.ByConfidence.Low++
		}
	}
	return st
}
