package config

import (
	"log/slog"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/cobra"
)

type Config struct {
	Server    ServerConfig     `koanf:"server" yaml:"server"`
	Failover  FailoverConfig   `koanf:"failover" yaml:"failover"`
	Providers []ProviderConfig `koanf:"providers" yaml:"providers"`
	Daemon    DaemonConfig     `koanf:"daemon" yaml:"daemon"`
}

type ServerConfig struct {
	Port            int    `koanf:"port" yaml:"port"`
	LogLevel        string `koanf:"log_level" yaml:"log_level"`
	LogFormat       string `koanf:"log_format" yaml:"log_format"`
	ReadTimeout     string `koanf:"read_timeout" yaml:"read_timeout"`
	WriteTimeout    string `koanf:"write_timeout" yaml:"write_timeout"`
	IdleTimeout     string `koanf:"idle_timeout" yaml:"idle_timeout"`
	ShutdownTimeout string `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	MaxImageBytes   int64  `koanf:"max_image_bytes" yaml:"max_image_bytes"`

	// RateLimitRequests caps analysis requests per client IP per window; 0 disables it.
	RateLimitRequests  int      `koanf:"rate_limit_requests" yaml:"rate_limit_requests"`
	RateLimitWindow    string   `koanf:"rate_limit_window" yaml:"rate_limit_window"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins" yaml:"cors_allowed_origins"`
}

// FailoverConfig is the raw, string-typed policy; the vision package parses
// it into its immutable runtime form.
type FailoverConfig struct {
	ProviderOrder       []string              `koanf:"provider_order" yaml:"provider_order"`
	MaxAttempts         int                   `koanf:"max_attempts" yaml:"max_attempts"`
	RetryDelay          string                `koanf:"retry_delay" yaml:"retry_delay"`
	BackoffMultiplier   float64               `koanf:"backoff_multiplier" yaml:"backoff_multiplier"`
	MaxDelay            string                `koanf:"max_delay" yaml:"max_delay"`
	GlobalTimeout       string                `koanf:"global_timeout" yaml:"global_timeout"`
	MinConfidence       float64               `koanf:"min_confidence" yaml:"min_confidence"`
	HealthCheckInterval string                `koanf:"health_check_interval" yaml:"health_check_interval"`
	HealthCheckTimeout  string                `koanf:"health_check_timeout" yaml:"health_check_timeout"`
	ErrorThresholds     ErrorThresholdsConfig `koanf:"error_thresholds" yaml:"error_thresholds"`
}

type ErrorThresholdsConfig struct {
	Consecutive int     `koanf:"consecutive" yaml:"consecutive"`
	Percentage  float64 `koanf:"percentage" yaml:"percentage"`
}

type ProviderConfig struct {
	ID             string        `koanf:"id" yaml:"id"`
	Disabled       bool          `koanf:"disabled" yaml:"disabled"`
	APIKey         string        `koanf:"api_key" yaml:"api_key"`
	BaseURL        string        `koanf:"base_url" yaml:"base_url"`
	Model          string        `koanf:"model" yaml:"model"`
	Region         string        `koanf:"region" yaml:"region"`
	RequestTimeout string        `koanf:"request_timeout" yaml:"request_timeout"`
	RateLimit      float64       `koanf:"rate_limit" yaml:"rate_limit"`
	Burst          int           `koanf:"burst" yaml:"burst"`
	Cooldown       string        `koanf:"cooldown" yaml:"cooldown"`
	Breaker        BreakerConfig `koanf:"breaker" yaml:"breaker"`
}

type BreakerConfig struct {
	OpenTimeout      string `koanf:"open_timeout" yaml:"open_timeout"`
	Window           string `koanf:"window" yaml:"window"`
	HalfOpenRequests int    `koanf:"half_open_requests" yaml:"half_open_requests"`
	MinRequests      int    `koanf:"min_requests" yaml:"min_requests"`
}

type DaemonConfig struct {
	ShutdownTimeout        string `koanf:"shutdown_timeout" yaml:"shutdown_timeout"`
	StartupShutdownTimeout string `koanf:"startup_shutdown_timeout" yaml:"startup_shutdown_timeout"`
	HealthCheckInterval    string `koanf:"health_check_interval" yaml:"health_check_interval"`
	// LockPath guards against two daemons sharing one home directory.
	// Empty means $HOME/.kagami/kagami.lock.
	LockPath    string `koanf:"lock_path" yaml:"lock_path"`
	LockTimeout string `koanf:"lock_timeout" yaml:"lock_timeout"`
}

const (
	DefaultServerPort                   = 8080
	DefaultServerLogLevel               = "info"
	DefaultServerLogFormat              = "text"
	DefaultServerReadTimeout            = "30s"
	DefaultServerWriteTimeout           = "60s"
	DefaultServerIdleTimeout            = "60s"
	DefaultServerShutdownTimeout        = "5s"
	DefaultServerMaxImageBytes          = 15 * 1024 * 1024
	DefaultServerRateLimitRequests      = 60
	DefaultServerRateLimitWindow        = "1m"
	DefaultFailoverMaxAttempts          = 3
	DefaultFailoverRetryDelay           = "1s"
	DefaultFailoverBackoffMultiplier    = 1.5
	DefaultFailoverMaxDelay             = "30s"
	DefaultFailoverGlobalTimeout        = "60s"
	DefaultFailoverMinConfidence        = 0.7
	DefaultFailoverHealthCheckInterval  = "30s"
	DefaultFailoverHealthCheckTimeout   = "2s"
	DefaultFailoverConsecutiveFailures  = 5
	DefaultFailoverErrorPercentage      = 50.0
	DefaultProviderRequestTimeout       = "30s"
	DefaultProviderRateLimit            = 5.0
	DefaultProviderBurst                = 10
	DefaultProviderCooldown             = "30s"
	DefaultBreakerOpenTimeout           = "60s"
	DefaultBreakerWindow                = "5m"
	DefaultBreakerHalfOpenRequests      = 1
	DefaultBreakerMinRequests           = 10
	DefaultOpenAIModel                  = "gpt-4o-mini"
	DefaultAnthropicModel               = "claude-3-5-haiku-latest"
	DefaultGoogleModel                  = "gemini-2.0-flash"
	DefaultAWSRegion                    = "us-east-1"
	DefaultDaemonShutdownTimeout        = "30s"
	DefaultDaemonStartupShutdownTimeout = "10s"
	DefaultDaemonHealthCheckInterval    = "1m"
	DefaultDaemonLockTimeout            = "5s"
	EnvPrefix                           = "KAGAMI_"
)

// DefaultProviderOrder mirrors the production priority: cheapest general
// vision model first, dedicated face/label service second.
var DefaultProviderOrder = []string{"openai", "aws", "google", "anthropic"}

func Load(cmd *cobra.Command) (*Config, error) {
	k := koanf.New(".")

	// Hardcoded Defaults
	defaults := map[string]interface{}{
		"server.port":                           DefaultServerPort,
		"server.log_level":                      DefaultServerLogLevel,
		"server.log_format":                     DefaultServerLogFormat,
		"server.read_timeout":                   DefaultServerReadTimeout,
		"server.write_timeout":                  DefaultServerWriteTimeout,
		"server.idle_timeout":                   DefaultServerIdleTimeout,
		"server.shutdown_timeout":               DefaultServerShutdownTimeout,
		"server.max_image_bytes":                DefaultServerMaxImageBytes,
		"server.rate_limit_requests":            DefaultServerRateLimitRequests,
		"server.rate_limit_window":              DefaultServerRateLimitWindow,
		"failover.provider_order":               DefaultProviderOrder,
		"failover.max_attempts":                 DefaultFailoverMaxAttempts,
		"failover.retry_delay":                  DefaultFailoverRetryDelay,
		"failover.backoff_multiplier":           DefaultFailoverBackoffMultiplier,
		"failover.max_delay":                    DefaultFailoverMaxDelay,
		"failover.global_timeout":               DefaultFailoverGlobalTimeout,
		"failover.min_confidence":               DefaultFailoverMinConfidence,
		"failover.health_check_interval":        DefaultFailoverHealthCheckInterval,
		"failover.health_check_timeout":         DefaultFailoverHealthCheckTimeout,
		"failover.error_thresholds.consecutive": DefaultFailoverConsecutiveFailures,
		"failover.error_thresholds.percentage":  DefaultFailoverErrorPercentage,
		"daemon.shutdown_timeout":               DefaultDaemonShutdownTimeout,
		"daemon.startup_shutdown_timeout":       DefaultDaemonStartupShutdownTimeout,
		"daemon.health_check_interval":          DefaultDaemonHealthCheckInterval,
		"daemon.lock_timeout":                   DefaultDaemonLockTimeout,
		"providers": []ProviderConfig{
			{ID: "openai", Model: DefaultOpenAIModel},
			{ID: "aws", Region: DefaultAWSRegion},
			{ID: "google", Model: DefaultGoogleModel},
			{ID: "anthropic", Model: DefaultAnthropicModel},
		},
	}
	for key, value := range defaults {
		k.Set(key, value)
	}

	// Config file loading
	configPath := ""
	if cmd != nil {
		if flag := cmd.Flags().Lookup("config"); flag != nil {
			configPath = strings.TrimSpace(flag.Value.String())
		}
	}

	if configPath != "" {
		expanded, err := ExpandPath(configPath)
		if err != nil {
			return nil, err
		}
		if err := k.Load(file.Provider(expanded), yaml.Parser()); err != nil {
			return nil, err
		}
	} else if globalPath, err := DefaultConfigPath(); err == nil {
		if err := k.Load(file.Provider(globalPath), yaml.Parser()); err != nil {
			slog.Debug("Global config not found or invalid", "path", globalPath, "error", err)
		}
	}

	// Environment Variables: KAGAMI_FAILOVER__MIN_CONFIDENCE -> failover.min_confidence
	k.Load(env.Provider(EnvPrefix, ".", EnvKey), nil)

	// CLI Flags
	if cmd != nil {
		k.Load(posflag.Provider(cmd.Flags(), ".", k), nil)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	applyProviderDefaults(&cfg)
	injectStandardEnv(&cfg)

	return &cfg, nil
}

// EnvKey maps an environment variable name to a koanf key. A double
// underscore separates levels so single underscores survive in key names.
func EnvKey(s string) string {
	trimmed := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	return strings.ReplaceAll(trimmed, "__", ".")
}

func applyProviderDefaults(cfg *Config) {
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		p.ID = strings.ToLower(strings.TrimSpace(p.ID))
		if p.RequestTimeout == "" {
			p.RequestTimeout = DefaultProviderRequestTimeout
		}
		if p.RateLimit <= 0 {
			p.RateLimit = DefaultProviderRateLimit
		}
		if p.Burst <= 0 {
			p.Burst = DefaultProviderBurst
		}
		if p.Cooldown == "" {
			p.Cooldown = DefaultProviderCooldown
		}
		if p.Breaker.OpenTimeout == "" {
			p.Breaker.OpenTimeout = DefaultBreakerOpenTimeout
		}
		if p.Breaker.Window == "" {
			p.Breaker.Window = DefaultBreakerWindow
		}
		if p.Breaker.HalfOpenRequests <= 0 {
			p.Breaker.HalfOpenRequests = DefaultBreakerHalfOpenRequests
		}
		if p.Breaker.MinRequests <= 0 {
			p.Breaker.MinRequests = DefaultBreakerMinRequests
		}
		switch p.ID {
		case "openai":
			if p.Model == "" {
				p.Model = DefaultOpenAIModel
			}
		case "anthropic":
			if p.Model == "" {
				p.Model = DefaultAnthropicModel
			}
		case "google":
			if p.Model == "" {
				p.Model = DefaultGoogleModel
			}
		case "aws":
			if p.Region == "" {
				p.Region = DefaultAWSRegion
			}
		}
	}
}

// Post-Process: Inject standard vendor env vars if missing
func injectStandardEnv(cfg *Config) {
	keys := map[string][]string{
		"openai":    {"OPENAI_API_KEY"},
		"anthropic": {"ANTHROPIC_API_KEY"},
		"google":    {"GEMINI_API_KEY", "GOOGLE_API_KEY"},
	}

	for i, p := range cfg.Providers {
		if p.APIKey == "" {
			for _, name := range keys[p.ID] {
				if key := os.Getenv(name); key != "" {
					cfg.Providers[i].APIKey = key
					break
				}
			}
		}
		if p.ID == "aws" {
			if region := os.Getenv("AWS_REGION"); region != "" && (p.Region == "" || p.Region == DefaultAWSRegion) {
				cfg.Providers[i].Region = region
			}
		}
	}
}

// Provider returns the entry for id, if configured.
func (c *Config) Provider(id string) (ProviderConfig, bool) {
	for _, p := range c.Providers {
		if p.ID == id {
			return p, true
		}
	}
	return ProviderConfig{}, false
}
