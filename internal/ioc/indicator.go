// Package ioc defines the indicator records that flow through the FeedForge
// pipeline, from the raw per-feed observation to the canonical, enriched form.
package ioc

import (
	"crypto/md5"
	"encoding/hex"
	"time"
)

// Kind is the indicator type.
type Kind string

const (
	KindIP  Kind = "ip"
	KindURL Kind = "url"
)

// Valid reports whether k is a supported indicator kind.
func (k Kind) Valid() bool {
	return k == KindIP || k == KindURL
}

// Known feed source names.
const (
	SourceBlocklist   = "blocklist"
	SourceSpamhaus    = "spamhaus"
	SourceDigitalSide = "digitalside"
)

// Source-specific raw field keys.
const (
	FieldSBLReference = "sbl_reference"
	FieldDomain       = "domain"
	FieldPath         = "path"
	FieldScheme       = "scheme"
)

// RawIndicator is a single parsed line from a feed, before normalization.
type RawIndicator struct {
	Value      string            `json:"value"`
	Kind       Kind              `json:"type"`
	Source     string            `json:"source"`
	SourceURL  string            `json:"source_url"`
	Category   string            `json:"category,omitempty"`
	RawLine    string            `json:"raw_data"`
	LineNumber int               `json:"line_number"`
	Fields     map[string]string `json:"fields,omitempty"`
}

// Indicator is the canonical record. Value and Kind never change after
// creation; Enrichment only ever grows.
type Indicator struct {
	ID             string         `json:"id"`
	Value          string         `json:"value"`
	Kind           Kind           `json:"type"`
	Source         string         `json:"source"`
	Sources        []string       `json:"sources"`
	SourceURL      string         `json:"source_url,omitempty"`
	Category       string         `json:"category,omitempty"`
	FirstSeen      time.Time      `json:"first_seen"`
	LastUpdated    time.Time      `json:"last_updated"`
	Confidence     float64        `json:"confidence"`
	DuplicateCount int            `json:"duplicate_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	Enrichment     map[string]any `json:"enrichment,omitempty"`
}

// ID returns the deterministic identity for a (value, kind, source) triple.
func ID(value string, kind Kind, source string) string {
	sum := md5.Sum([]byte(value + "-" + string(kind) + "-" + source))
	return hex.EncodeToString(sum[:])
}

// HasSource reports whether source already contributed to the indicator.
func (i *Indicator) HasSource(source string) bool {
	for _, s := range i.Sources {
		if s == source {
			return true
		}
	}
	return false
}

// AddSource appends source if it is not already present.
func (i *Indicator) AddSource(source string) bool {
	if source == "" || i.HasSource(source) {
		return false
	}
	i.Sources = append(i.Sources, source)
	return true
}

// Enrich sets key in the enrichment map unless it is already present.
// It returns false when an existing value was kept.
func (i *Indicator) Enrich(key string, value any) bool {
	if i.Enrichment == nil {
		i.Enrichment = make(map[string]any)
	}
	if _, exists := i.Enrichment[key]; exists {
		return false
	}
	i.Enrichment[key] = value
	return true
}

// EnrichAll applies Enrich for every entry in fields.
func (i *Indicator) EnrichAll(fields map[string]any) {
	for k, v := range fields {
		i.Enrich(k, v)
	}
}

// Clone returns a deep copy of the indicator's maps and slices.
func (i *Indicator) Clone() *Indicator {
	c := *i
	c.Sources = append([]string(nil), i.Sources...)
	if i.Metadata != nil {
		c.Metadata = make(map[string]any, len(i.Metadata))
		for k, v := range i.Metadata {
			c.Metadata[k] = v
		}
	}
	if i.Enrichment != nil {
		c.Enrichment = make(map[string]any, len(i.Enrichment))
		for k, v := range i.Enrichment {
			c.Enrichment[k] = v
		}
	}
	return &c
}
