// Package resilience holds the per-adapter protection every vendor adapter
// shares: circuit breaker, local rate limiter, vendor throttle cool-down and
// per-call timeout. Guard.Status is what an adapter reports to the health
// tracker.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kagami/internal/config"
	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"

	gobreaker "github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"
)

type Settings struct {
	Provider       contract.ProviderID
	RequestTimeout time.Duration

	// RateLimit is requests per second; zero or less disables the limiter.
	RateLimit float64
	Burst     int
	Cooldown  time.Duration

	ConsecutiveFailures uint32
	FailurePercentage   float64
	MinRequests         uint32
	Window              time.Duration
	OpenTimeout         time.Duration
	HalfOpenRequests    uint32
}

// SettingsFrom combines a provider entry with the failover error thresholds.
func SettingsFrom(p config.ProviderConfig, thresholds config.ErrorThresholdsConfig) (Settings, error) {
	s := Settings{
		Provider:            contract.ProviderID(p.ID),
		RateLimit:           p.RateLimit,
		Burst:               p.Burst,
		ConsecutiveFailures: uint32(max(thresholds.Consecutive, 1)),
		FailurePercentage:   thresholds.Percentage,
		MinRequests:         uint32(max(p.Breaker.MinRequests, 1)),
		HalfOpenRequests:    uint32(max(p.Breaker.HalfOpenRequests, 1)),
	}

	var err error
	if s.RequestTimeout, err = config.DurationOrDefault(p.RequestTimeout, config.DefaultProviderRequestTimeout); err != nil {
		return Settings{}, fmt.Errorf("provider %s request_timeout: %w", p.ID, err)
	}
	if s.Cooldown, err = config.DurationOrDefault(p.Cooldown, config.DefaultProviderCooldown); err != nil {
		return Settings{}, fmt.Errorf("provider %s cooldown: %w", p.ID, err)
	}
	if s.Window, err = config.DurationOrDefault(p.Breaker.Window, config.DefaultBreakerWindow); err != nil {
		return Settings{}, fmt.Errorf("provider %s breaker.window: %w", p.ID, err)
	}
	if s.OpenTimeout, err = config.DurationOrDefault(p.Breaker.OpenTimeout, config.DefaultBreakerOpenTimeout); err != nil {
		return Settings{}, fmt.Errorf("provider %s breaker.open_timeout: %w", p.ID, err)
	}
	return s, nil
}

// Classifier turns a raw vendor error into ProviderError or RateLimitedError.
// DefaultErrorMapper.MapError satisfies it.
type Classifier func(provider, operation string, err error) error

type Guard struct {
	settings Settings
	breaker  *gobreaker.CircuitBreaker[any]
	limiter  *rate.Limiter
	classify Classifier
	now      func() time.Time

	mu            sync.Mutex
	cooldownUntil time.Time
	disabled      string
}

func NewGuard(s Settings, classify Classifier) *Guard {
	if classify == nil {
		classify = kagamiErrors.NewDefaultErrorMapper().MapError
	}

	limit := rate.Inf
	if s.RateLimit > 0 {
		limit = rate.Limit(s.RateLimit)
	}
	burst := s.Burst
	if burst < 1 {
		burst = 1
	}

	g := &Guard{
		settings: s,
		limiter:  rate.NewLimiter(limit, burst),
		classify: classify,
		now:      time.Now,
	}

	g.breaker = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
		Name:        string(s.Provider),
		MaxRequests: s.HalfOpenRequests,
		Interval:    s.Window,
		Timeout:     s.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= s.ConsecutiveFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			slog.Warn("Circuit breaker state changed", "provider", name, "from", from.String(), "to", to.String())
		},
		// Throttling says nothing about vendor health.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, kagamiErrors.ErrRateLimited)
		},
		// A call the caller gave up on, by cancelling or by running out of its
		// own budget, is not counted at all.
		IsExcluded: func(err error) bool {
			var a *abandonedError
			return errors.As(err, &a) || errors.Is(err, context.Canceled)
		},
	})

	return g
}

// Disable marks the adapter as misconfigured; it reports unavailable and
// rejects every call.
func (g *Guard) Disable(reason string) {
	g.mu.Lock()
	g.disabled = reason
	g.mu.Unlock()
	slog.Warn("Provider disabled", "provider", g.settings.Provider, "reason", reason)
}

func (g *Guard) Provider() contract.ProviderID { return g.settings.Provider }

// Status maps the guard's bookkeeping to a provider status. Half-open is
// reported available so probe requests can close the breaker again.
func (g *Guard) Status() contract.ProviderStatus {
	g.mu.Lock()
	disabled := g.disabled
	cooling := g.now().Before(g.cooldownUntil)
	g.mu.Unlock()

	if disabled != "" {
		return contract.StatusUnavailable
	}

	// State first: it rolls the counting window over before Counts reads it.
	state := g.breaker.State()
	counts := g.breaker.Counts()

	switch {
	case state == gobreaker.StateOpen:
		return contract.StatusUnavailable
	case cooling, g.limiter.Limit() != rate.Inf && g.limiter.Tokens() < 1:
		return contract.StatusRateLimited
	case state == gobreaker.StateClosed && g.overErrorRate(counts):
		return contract.StatusDegraded
	default:
		return contract.StatusAvailable
	}
}

func (g *Guard) overErrorRate(c gobreaker.Counts) bool {
	if c.Requests == 0 || c.Requests < g.settings.MinRequests || g.settings.FailurePercentage <= 0 {
		return false
	}
	return float64(c.TotalFailures)*100/float64(c.Requests) >= g.settings.FailurePercentage
}

// BreakerState is exposed for logs and the status command.
func (g *Guard) BreakerState() string { return g.breaker.State().String() }

func (g *Guard) startCooldown(err error) {
	wait := g.settings.Cooldown
	if d, ok := kagamiErrors.RetryAfter(err); ok {
		wait = d
	}
	if wait <= 0 {
		return
	}

	g.mu.Lock()
	if until := g.now().Add(wait); until.After(g.cooldownUntil) {
		g.cooldownUntil = until
	}
	g.mu.Unlock()
}

func (g *Guard) admit(op string) error {
	g.mu.Lock()
	disabled := g.disabled
	remaining := g.cooldownUntil.Sub(g.now())
	g.mu.Unlock()

	provider := string(g.settings.Provider)
	if disabled != "" {
		return &kagamiErrors.ProviderError{Provider: provider, Operation: op, Err: errors.New(disabled)}
	}
	if remaining > 0 {
		return &kagamiErrors.RateLimitedError{Provider: provider, Operation: op, RetryAfter: remaining, Err: errors.New("vendor cool-down active")}
	}
	if !g.limiter.Allow() {
		return &kagamiErrors.RateLimitedError{Provider: provider, Operation: op, Err: errors.New("local rate limit exceeded")}
	}
	return nil
}

// Execute runs fn under the guard. Rejections never reach the vendor; vendor
// errors come back classified.
func Execute[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	provider := string(g.settings.Provider)

	if err := g.admit(op); err != nil {
		return zero, err
	}

	callCtx := ctx
	if g.settings.RequestTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, g.settings.RequestTimeout)
		defer cancel()
	}

	out, err := g.breaker.Execute(func() (any, error) {
		res, err := fn(callCtx)
		if err != nil {
			classified := g.classify(provider, op, err)
			if ctx.Err() != nil {
				return nil, &abandonedError{err: classified}
			}
			return nil, classified
		}
		return res, nil
	})
	var abandoned *abandonedError
	if errors.As(err, &abandoned) {
		return zero, abandoned.err
	}
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return zero, &kagamiErrors.ProviderError{Provider: provider, Operation: op, Err: err}
		}
		if errors.Is(err, kagamiErrors.ErrRateLimited) {
			g.startCooldown(err)
		}
		return zero, err
	}

	typed, ok := out.(T)
	if !ok {
		return zero, &kagamiErrors.ProviderError{Provider: provider, Operation: op, Err: fmt.Errorf("unexpected result type %T", out)}
	}
	return typed, nil
}

// abandonedError marks a vendor call whose outcome the caller no longer
// wanted. Only the per-call RequestTimeout counts against the breaker.
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string { return e.err.Error() }

func (e *abandonedError) Unwrap() error { return e.err }
