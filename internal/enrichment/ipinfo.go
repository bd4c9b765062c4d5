package enrichment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	ipinfoDefaultBaseURL = "https://ipinfo.io"
	ipinfoProviderName   = "ipinfo.io"
)

// errRetryable marks failures worth another attempt.
var errRetryable = errors.New("retryable ipinfo failure")

// IPInfoProvider implements the Provider interface for ipinfo.io.
type IPInfoProvider struct {
	config     IPInfoConfig
	token      string
	httpClient *http.Client
	limiter    *rate.Limiter
	cache      *LookupCache
	logger     *zap.Logger
}

// IPInfoConfig holds ipinfo-specific configuration.
type IPInfoConfig struct {
	ProviderConfig `yaml:",inline"`
	Enabled        bool        `yaml:"enabled"`
	Cache          CacheConfig `yaml:"cache"`
}

// DefaultIPInfoConfig returns sensible defaults for ipinfo.
func DefaultIPInfoConfig() IPInfoConfig {
	pc := DefaultProviderConfig()
	pc.APIKey = "IPINFO_API_KEY"
	pc.BaseURL = ipinfoDefaultBaseURL
	return IPInfoConfig{
		ProviderConfig: pc,
		Enabled:        true,
		Cache: CacheConfig{
			Size: 4096,
			TTL:  pc.CacheTTL,
		},
	}
}

// ipinfoResponse is the subset of the ipinfo JSON document we map.
type ipinfoResponse struct {
	IP       string `json:"ip"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
	Bogon    bool   `json:"bogon"`
}

// NewIPInfoProvider creates a new ipinfo provider. The token is read from the
// environment variable named by config.APIKey. cache may be nil.
func NewIPInfoProvider(config IPInfoConfig, cache *LookupCache, logger *zap.Logger) (*IPInfoProvider, error) {
	token := os.Getenv(config.APIKey)
	if token == "" {
		return nil, fmt.Errorf("ipinfo token not found in env var: %s", config.APIKey)
	}

	if config.BaseURL == "" {
		config.BaseURL = ipinfoDefaultBaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}
	if config.RateLimit <= 0 {
		config.RateLimit = 60
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &IPInfoProvider{
		config: config,
		token:  token,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(config.RateLimit)), config.RateLimit),
		cache:   cache,
		logger:  logger.Named("ipinfo"),
	}, nil
}

// Name returns the provider identifier.
func (p *IPInfoProvider) Name() string {
	return ipinfoProviderName
}

// HealthCheck verifies connectivity to ipinfo.
func (p *IPInfoProvider) HealthCheck(ctx context.Context) error {
	req, err := p.newRequest(ctx, "/me")
	if err != nil {
		return fmt.Errorf("creating health check request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ipinfo health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("ipinfo authentication failed: invalid token")
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ipinfo returned status %d", resp.StatusCode)
	}

	return nil
}

// RateLimit reports the local request budget.
func (p *IPInfoProvider) RateLimit() RateLimitStatus {
	remaining := int(p.limiter.Tokens())
	if remaining < 0 {
		remaining = 0
	}
	return RateLimitStatus{
		Remaining: remaining,
		Limit:     p.config.RateLimit,
		ResetAt:   time.Now().Add(time.Minute),
	}
}

// Lookup returns geo and ownership data for addr.
func (p *IPInfoProvider) Lookup(ctx context.Context, addr string) (*GeoRecord, error) {
	if p.cache != nil {
		if rec, ok := p.cache.Get(ctx, addr); ok {
			return rec, nil
		}
	}

	var lastErr error
	for attempt := 0; attempt <= p.config.RetryCount; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 200 * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		rec, err := p.lookup(ctx, addr)
		if err == nil {
			if p.cache != nil {
				p.cache.Set(ctx, addr, *rec)
			}
			return rec, nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) {
			break
		}
		p.logger.Debug("Retrying ipinfo lookup", zap.String("addr", addr), zap.Int("attempt", attempt+1), zap.Error(err))
	}

	return nil, lastErr
}

func (p *IPInfoProvider) lookup(ctx context.Context, addr string) (*GeoRecord, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("ipinfo rate limit wait: %w", err)
	}

	req, err := p.newRequest(ctx, "/"+addr+"/json")
	if err != nil {
		return nil, fmt.Errorf("creating lookup request: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipinfo lookup failed: %w: %w", errRetryable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("ipinfo returned status %d: %w", resp.StatusCode, errRetryable)
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, resp.Body)
		return nil, fmt.Errorf("ipinfo returned status %d", resp.StatusCode)
	}

	var body ipinfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding ipinfo response: %w", err)
	}

	return &GeoRecord{
		Country:  body.Country,
		Region:   body.Region,
		City:     body.City,
		Org:      body.Org,
		Timezone: body.Timezone,
		Source:   ipinfoProviderName,
	}, nil
}

func (p *IPInfoProvider) newRequest(ctx context.Context, path string) (*http.Request, error) {
	fullURL := strings.TrimSuffix(p.config.BaseURL, "/") + path

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+p.token)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "FeedForge/1.0")

	return req, nil
}
