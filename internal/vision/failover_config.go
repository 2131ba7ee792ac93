package vision

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/harunnryd/kagami/internal/config"
	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
)

type ErrorThresholds struct {
	Consecutive int
	Percentage  float64
}

// FailoverConfig is the request policy. Build it once at start-up and pass
// it by value; the orchestrator keeps its own copy of ProviderOrder.
type FailoverConfig struct {
	ProviderOrder       []contract.ProviderID
	MaxAttempts         int
	RetryDelay          time.Duration
	BackoffMultiplier   float64
	MaxDelay            time.Duration
	GlobalTimeout       time.Duration
	MinConfidence       float64
	HealthCheckInterval time.Duration
	HealthCheckTimeout  time.Duration
	ErrorThresholds     ErrorThresholds
}

func DefaultFailoverConfig() FailoverConfig {
	cfg, err := FailoverConfigFrom(config.FailoverConfig{
		ProviderOrder:     config.DefaultProviderOrder,
		MaxAttempts:       config.DefaultFailoverMaxAttempts,
		BackoffMultiplier: config.DefaultFailoverBackoffMultiplier,
		MinConfidence:     config.DefaultFailoverMinConfidence,
		ErrorThresholds:   config.ErrorThresholdsConfig{Consecutive: config.DefaultFailoverConsecutiveFailures, Percentage: config.DefaultFailoverErrorPercentage},
	})
	if err != nil {
		panic(fmt.Sprintf("default failover config is invalid: %v", err))
	}
	return cfg
}

// FailoverConfigFrom parses the raw configuration section. Empty durations
// fall back to the package defaults.
func FailoverConfigFrom(raw config.FailoverConfig) (FailoverConfig, error) {
	var cfg FailoverConfig
	var err error

	durations := []struct {
		dst   *time.Duration
		value string
		def   string
		name  string
	}{
		{&cfg.RetryDelay, raw.RetryDelay, config.DefaultFailoverRetryDelay, "retry_delay"},
		{&cfg.MaxDelay, raw.MaxDelay, config.DefaultFailoverMaxDelay, "max_delay"},
		{&cfg.GlobalTimeout, raw.GlobalTimeout, config.DefaultFailoverGlobalTimeout, "global_timeout"},
		{&cfg.HealthCheckInterval, raw.HealthCheckInterval, config.DefaultFailoverHealthCheckInterval, "health_check_interval"},
		{&cfg.HealthCheckTimeout, raw.HealthCheckTimeout, config.DefaultFailoverHealthCheckTimeout, "health_check_timeout"},
	}
	for _, d := range durations {
		if *d.dst, err = config.DurationOrDefault(d.value, d.def); err != nil {
			return FailoverConfig{}, kagamiErrors.WrapWithCategory(err, "failover."+d.name, kagamiErrors.ErrInvalidInput)
		}
	}

	for _, id := range raw.ProviderOrder {
		cfg.ProviderOrder = append(cfg.ProviderOrder, contract.ProviderID(strings.ToLower(strings.TrimSpace(id))))
	}
	cfg.MaxAttempts = raw.MaxAttempts
	cfg.BackoffMultiplier = raw.BackoffMultiplier
	cfg.MinConfidence = raw.MinConfidence
	cfg.ErrorThresholds = ErrorThresholds{
		Consecutive: raw.ErrorThresholds.Consecutive,
		Percentage:  raw.ErrorThresholds.Percentage,
	}

	if err := cfg.Validate(); err != nil {
		return FailoverConfig{}, err
	}
	return cfg, nil
}

func (c FailoverConfig) Validate() error {
	var problems []string

	if len(c.ProviderOrder) == 0 {
		problems = append(problems, "provider_order is empty")
	}
	seen := make(map[contract.ProviderID]struct{}, len(c.ProviderOrder))
	for _, id := range c.ProviderOrder {
		if id == "" {
			problems = append(problems, "provider_order contains an empty id")
			continue
		}
		if _, dup := seen[id]; dup {
			problems = append(problems, fmt.Sprintf("provider_order lists %s twice", id))
		}
		seen[id] = struct{}{}
	}
	if c.MaxAttempts < 0 {
		problems = append(problems, "max_attempts must not be negative")
	}
	if c.RetryDelay <= 0 || c.MaxDelay <= 0 || c.GlobalTimeout <= 0 {
		problems = append(problems, "retry_delay, max_delay and global_timeout must be positive")
	}
	if c.MaxDelay < c.RetryDelay {
		problems = append(problems, "max_delay is shorter than retry_delay")
	}
	if c.BackoffMultiplier < 1 {
		problems = append(problems, fmt.Sprintf("backoff_multiplier %.2f is below 1", c.BackoffMultiplier))
	}
	if c.MinConfidence < 0 || c.MinConfidence > 1 {
		problems = append(problems, fmt.Sprintf("min_confidence %.2f is outside [0,1]", c.MinConfidence))
	}
	if c.HealthCheckInterval <= 0 || c.HealthCheckTimeout <= 0 {
		problems = append(problems, "health check interval and timeout must be positive")
	}
	if c.ErrorThresholds.Consecutive < 1 {
		problems = append(problems, "error_thresholds.consecutive must be at least 1")
	}
	if c.ErrorThresholds.Percentage <= 0 || c.ErrorThresholds.Percentage > 100 {
		problems = append(problems, "error_thresholds.percentage must be in (0,100]")
	}

	if len(problems) > 0 {
		return kagamiErrors.InvalidInput("failover config: " + strings.Join(problems, "; "))
	}
	return nil
}

// Backoff is the sleep before overall attempt number attempt. The first
// attempt (0) is immediate.
func (c FailoverConfig) Backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}

	d := float64(c.RetryDelay) * math.Pow(c.BackoffMultiplier, float64(attempt))
	if math.IsInf(d, 0) || math.IsNaN(d) || d >= float64(c.MaxDelay) {
		return c.MaxDelay
	}
	return time.Duration(d)
}

// attemptLimit caps attempts for a request with n eligible providers. Each
// provider is tried at most once.
func (c FailoverConfig) attemptLimit(n int) int {
	if c.MaxAttempts > 0 && c.MaxAttempts < n {
		return c.MaxAttempts
	}
	return n
}

func (c FailoverConfig) orderIndex() map[contract.ProviderID]int {
	idx := make(map[contract.ProviderID]int, len(c.ProviderOrder))
	for i, id := range c.ProviderOrder {
		idx[id] = i
	}
	return idx
}
