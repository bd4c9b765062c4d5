// Package enrichment attaches derived context to canonical indicators: geo and
// range classification for IPs, suspicion scoring and keyword classification
// for URLs.
package enrichment

import (
	"context"
	"time"
)

// GeoRecord is the field set produced by IP lookups.
type GeoRecord struct {
	Country  string `json:"country,omitempty"`
	Region   string `json:"region,omitempty"`
	City     string `json:"city,omitempty"`
	Org      string `json:"org,omitempty"`
	Timezone string `json:"timezone,omitempty"`
	Source   string `json:"source,omitempty"`
}

// Fields returns the non-empty fields as an enrichment map.
func (g GeoRecord) Fields() map[string]any {
	out := make(map[string]any, 6)
	for k, v := range map[string]string{
		"country":  g.Country,
		"region":   g.Region,
		"city":     g.City,
		"org":      g.Org,
		"timezone": g.Timezone,
		"source":   g.Source,
	} {
		if v != "" {
			out[k] = v
		}
	}
	return out
}

// Provider is the interface for external IP intelligence sources.
type Provider interface {
	Name() string
	Lookup(ctx context.Context, addr string) (*GeoRecord, error)
	HealthCheck(ctx context.Context) error
	RateLimit() RateLimitStatus
}

// RateLimitStatus represents API rate limiting.
type RateLimitStatus struct {
	Remaining int       `json:"remaining"`
	Limit     int       `json:"limit"`
	ResetAt   time.Time `json:"reset_at"`
}

// ProviderConfig holds common provider configuration.
type ProviderConfig struct {
	APIKey     string        `yaml:"api_key_env"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
	RetryCount int           `yaml:"retry_count"`
	CacheTTL   time.Duration `yaml:"cache_ttl"`
	RateLimit  int           `yaml:"rate_limit"` // requests per minute
}

// DefaultProviderConfig returns sensible defaults.
func DefaultProviderConfig() ProviderConfig {
	return ProviderConfig{
		Timeout:    10 * time.Second,
		RetryCount: 2,
		CacheTTL:   24 * time.Hour,
		RateLimit:  60,
	}
}
