// Package gateway provides API gateway functionality including rate limiting
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// RateLimiter provides configurable rate limiting for API endpoints. Counters
// live in Redis when a client is configured so that every replica shares one
// budget; otherwise each process keeps its own token buckets.
type RateLimiter struct {
	redis       *redis.Client
	logger      *zap.Logger
	config      RateLimitConfig
	localLimits sync.Map
	now         func() time.Time
}

// RateLimitConfig configures the rate limiter
type RateLimitConfig struct {
	Enabled                  bool                      `yaml:"enabled"`
	DefaultRequestsPerMinute int                       `yaml:"default_requests_per_minute" validate:"gte=0"`
	KeyPrefix                string                    `yaml:"key_prefix"`
	Endpoints                map[string]EndpointLimits `yaml:"endpoints"`
	IncludeHeaders           bool                      `yaml:"include_headers"`
}

// EndpointLimits defines rate limits for specific endpoints
type EndpointLimits struct {
	Path              string `yaml:"path"`
	Method            string `yaml:"method"`
	RequestsPerMinute int    `yaml:"requests_per_minute"`
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int
	Limit      int
	ResetAt    time.Time
	RetryAfter time.Duration
	Reason     string
}

var fixedWindowScript = redis.NewScript(`
	local current = redis.call('INCR', KEYS[1])
	if current == 1 then
		redis.call('PEXPIRE', KEYS[1], ARGV[1])
	end
	return current
`)

// DefaultRateLimitConfig returns the refresh limits. A refresh runs the whole
// pipeline, so the budget is small.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Enabled:                  true,
		DefaultRequestsPerMinute: 60,
		KeyPrefix:                "feedforge:ratelimit",
		Endpoints:                DefaultEndpointLimits(),
		IncludeHeaders:           true,
	}
}

// DefaultEndpointLimits returns default endpoint-specific limits
func DefaultEndpointLimits() map[string]EndpointLimits {
	return map[string]EndpointLimits{
		"POST:/refresh": {
			Path:              "/refresh",
			Method:            http.MethodPost,
			RequestsPerMinute: 2,
		},
		"POST:/api/v1/refresh": {
			Path:              "/api/v1/refresh",
			Method:            http.MethodPost,
			RequestsPerMinute: 2,
		},
	}
}

// NewRateLimiter creates a new rate limiter. redisClient may be nil.
func NewRateLimiter(redisClient *redis.Client, cfg RateLimitConfig, logger *zap.Logger) *RateLimiter {
	if cfg.DefaultRequestsPerMinute == 0 {
		cfg.DefaultRequestsPerMinute = 60
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = "feedforge:ratelimit"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RateLimiter{
		redis:  redisClient,
		logger: logger.Named("ratelimit"),
		config: cfg,
		now:    time.Now,
	}
}

// Check performs a rate limit check
func (rl *RateLimiter) Check(ctx context.Context, clientID, endpoint, method string) (*RateLimitResult, error) {
	limit := rl.limitFor(endpoint, method)
	if rl.redis == nil {
		return rl.checkLocal(clientID, endpoint, method, limit), nil
	}

	redisKey := fmt.Sprintf("%s:%s:%s:%s:minute", rl.config.KeyPrefix, clientID, method, endpoint)
	now := rl.now()

	result, err := fixedWindowScript.Run(ctx, rl.redis, []string{redisKey}, time.Minute.Milliseconds()).Int()
	if err != nil {
		rl.logger.Warn("Rate limit check failed, allowing request", zap.Error(err))
		return &RateLimitResult{Allowed: true, Limit: limit, Remaining: limit}, nil
	}

	allowed := result <= limit
	remaining := limit - result
	if remaining < 0 {
		remaining = 0
	}

	ttl, err := rl.redis.PTTL(ctx, redisKey).Result()
	if err != nil || ttl < 0 {
		ttl = time.Minute
	}

	res := &RateLimitResult{
		Allowed:   allowed,
		Remaining: remaining,
		Limit:     limit,
		ResetAt:   now.Add(ttl),
	}
	if !allowed {
		res.RetryAfter = ttl
		res.Reason = "Rate limit exceeded"
	}
	return res, nil
}

func (rl *RateLimiter) checkLocal(clientID, endpoint, method string, limit int) *RateLimitResult {
	key := clientID + ":" + method + ":" + endpoint
	v, _ := rl.localLimits.LoadOrStore(key, rate.NewLimiter(rate.Every(time.Minute/time.Duration(limit)), limit))
	limiter := v.(*rate.Limiter)

	now := rl.now()
	res := &RateLimitResult{Limit: limit, ResetAt: now.Add(time.Minute)}
	if limiter.AllowN(now, 1) {
		res.Allowed = true
		res.Remaining = max(int(limiter.TokensAt(now)), 0)
		return res
	}

	res.RetryAfter = time.Minute / time.Duration(limit)
	res.Reason = "Rate limit exceeded"
	return res
}

func (rl *RateLimiter) limitFor(endpoint, method string) int {
	if limits, ok := rl.config.Endpoints[method+":"+endpoint]; ok && limits.RequestsPerMinute > 0 {
		return limits.RequestsPerMinute
	}
	return rl.config.DefaultRequestsPerMinute
}

// Middleware returns an HTTP middleware for rate limiting. getClientID may be
// nil, in which case the remote address identifies the client.
func (rl *RateLimiter) Middleware(getClientID func(r *http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if !rl.config.Enabled {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var clientID string
			if getClientID != nil {
				clientID = getClientID(r)
			}
			if clientID == "" {
				clientID = getClientIP(r)
			}

			result, err := rl.Check(r.Context(), clientID, r.URL.Path, r.Method)
			if err != nil {
				next.ServeHTTP(w, r)
				return
			}

			if rl.config.IncludeHeaders {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))
			}

			if !result.Allowed {
				retryAfter := int(result.RetryAfter.Seconds())
				w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				fmt.Fprintf(w, `{"success":false,"error":"%s","retry_after":%d}`, result.Reason, retryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

func getClientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first, _, _ := strings.Cut(xff, ",")
		return strings.TrimSpace(first)
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return xri
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}
