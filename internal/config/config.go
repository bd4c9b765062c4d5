// Package config handles FeedForge configuration
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/lvonguyen/feedforge/internal/api/gateway"
	"github.com/lvonguyen/feedforge/internal/dedup"
	"github.com/lvonguyen/feedforge/internal/enrichment"
	"github.com/lvonguyen/feedforge/internal/ingestion"
	"github.com/lvonguyen/feedforge/internal/normalization"
	"github.com/lvonguyen/feedforge/internal/observability"
	"github.com/lvonguyen/feedforge/internal/store"
)

// Config holds all configuration for FeedForge
type Config struct {
	Server        ServerConfig                   `yaml:"server"`
	Redis         RedisConfig                    `yaml:"redis"`
	Feeds         []ingestion.FeedConfig         `yaml:"feeds" validate:"dive"`
	Normalization normalization.NormalizerConfig `yaml:"normalization"`
	Dedup         DedupConfig                    `yaml:"dedup"`
	Enrichment    EnrichmentConfig               `yaml:"enrichment"`
	Storage       store.Config                   `yaml:"storage"`
	Lock          LockConfig                     `yaml:"lock"`
	Schedule      ScheduleConfig                 `yaml:"schedule"`
	RateLimit     gateway.RateLimitConfig        `yaml:"rate_limit"`
	Telemetry     TelemetryConfig                `yaml:"telemetry"`
	Logging       LoggingConfig                  `yaml:"logging"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// RefreshTimeout bounds a synchronous refresh request.
	RefreshTimeout time.Duration `yaml:"refresh_timeout"`
}

// RedisConfig holds Redis configuration. Redis backs the run-lock, the
// refresh rate limiter and the shared lookup cache; all three fall back to
// in-process behaviour when it is disabled.
type RedisConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Addr        string        `yaml:"addr" validate:"required_if=Enabled true"`
	PasswordEnv string        `yaml:"password_env"`
	DB          int           `yaml:"db" validate:"gte=0"`
	PoolSize    int           `yaml:"pool_size" validate:"gte=0"`
	DialTimeout time.Duration `yaml:"dial_timeout"`
}

// DedupConfig selects the dedup key mode
type DedupConfig struct {
	Mode dedup.Mode `yaml:"mode" validate:"omitempty,oneof=exact normalized"`
}

// EnrichmentConfig holds enrichment configuration
type EnrichmentConfig struct {
	IPInfo      enrichment.IPInfoConfig `yaml:"ipinfo"`
	DatasetPath string                  `yaml:"dataset_path"`
	DatasetName string                  `yaml:"dataset_name"`
}

// LockConfig configures the distributed run-lock
type LockConfig struct {
	Key string        `yaml:"key"`
	TTL time.Duration `yaml:"ttl"`
}

// ScheduleConfig configures periodic refreshes
type ScheduleConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Cron       string `yaml:"cron" validate:"required_if=Enabled true"`
	Timezone   string `yaml:"timezone"`
	RunOnStart bool   `yaml:"run_on_start"`
}

// TelemetryConfig holds tracing and metrics configuration
type TelemetryConfig struct {
	ServiceName    string  `yaml:"service_name"`
	Environment    string  `yaml:"environment"`
	TracingEnabled bool    `yaml:"tracing_enabled"`
	OTLPEndpoint   string  `yaml:"otlp_endpoint" validate:"required_if=TracingEnabled true"`
	SamplingRate   float64 `yaml:"sampling_rate" validate:"gte=0,lte=1"`
	MetricsEnabled bool    `yaml:"metrics_enabled"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=json console"`
}

// Load loads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    5 * time.Minute,
			ShutdownTimeout: 10 * time.Second,
			RefreshTimeout:  5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PasswordEnv: "REDIS_PASSWORD",
			PoolSize:    10,
			DialTimeout: 5 * time.Second,
		},
		Feeds: ingestion.DefaultFeeds(),
		Dedup: DedupConfig{
			Mode: dedup.ModeExact,
		},
		Enrichment: EnrichmentConfig{
			IPInfo:      enrichment.DefaultIPInfoConfig(),
			DatasetName: "geolocation_db",
		},
		Storage: store.DefaultConfig(),
		Lock: LockConfig{
			Key: "feedforge:pipeline:lock",
			TTL: 15 * time.Minute,
		},
		Schedule: ScheduleConfig{
			Cron: "0 */6 * * *",
		},
		RateLimit: gateway.DefaultRateLimitConfig(),
		Telemetry: TelemetryConfig{
			ServiceName:    "feedforge",
			Environment:    "development",
			SamplingRate:   1.0,
			MetricsEnabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for structural errors
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	seen := make(map[string]bool, len(c.Feeds))
	for _, f := range c.Feeds {
		if seen[f.Name] {
			return fmt.Errorf("invalid config: duplicate feed %q", f.Name)
		}
		seen[f.Name] = true
	}

	return nil
}

// EnabledFeeds returns the enabled feeds in configured order
func (c *Config) EnabledFeeds() []ingestion.FeedConfig {
	var feeds []ingestion.FeedConfig
	for _, f := range c.Feeds {
		if f.Enabled {
			feeds = append(feeds, f)
		}
	}
	return feeds
}

// Addr returns the HTTP listen address
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Server.Port)
}

// RedisOptions returns client options, or nil when Redis is disabled. The
// password is read from the environment variable named by PasswordEnv.
func (c *Config) RedisOptions() *redis.Options {
	if !c.Redis.Enabled {
		return nil
	}

	var password string
	if c.Redis.PasswordEnv != "" {
		password = os.Getenv(c.Redis.PasswordEnv)
	}

	return &redis.Options{
		Addr:        c.Redis.Addr,
		Password:    password,
		DB:          c.Redis.DB,
		PoolSize:    c.Redis.PoolSize,
		DialTimeout: c.Redis.DialTimeout,
	}
}

// ObservabilityConfig assembles the telemetry configuration
func (c *Config) ObservabilityConfig(version string) observability.Config {
	return observability.Config{
		ServiceName:    c.Telemetry.ServiceName,
		ServiceVersion: version,
		Environment:    c.Telemetry.Environment,
		LogLevel:       c.Logging.Level,
		LogFormat:      c.Logging.Format,
		TracingEnabled: c.Telemetry.TracingEnabled,
		OTLPEndpoint:   c.Telemetry.OTLPEndpoint,
		SamplingRate:   c.Telemetry.SamplingRate,
		MetricsEnabled: c.Telemetry.MetricsEnabled,
	}
}
