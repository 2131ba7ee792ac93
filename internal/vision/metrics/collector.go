// Package metrics keeps per-provider usage counters for the failover
// orchestrator and mirrors them into Prometheus series.
//
// The collector is write-only from the orchestrator's point of view: health
// decisions never read it back.
package metrics

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RecentWindow is the number of latency samples kept for the recent average.
const RecentWindow = 50

const (
	OutcomeSuccess          = "success"
	OutcomeError            = "error"
	OutcomeRateLimited      = "rate_limited"
	OutcomeValidationFailed = "validation_failed"
	OutcomeTimeout          = "timeout"
	OutcomeNoProviders      = "no_providers"
	OutcomeAllFailed        = "all_failed"
	OutcomeCanceled         = "canceled"
	OutcomeInvalidInput     = "invalid_input"
)

// ProviderStats is a read-only copy of one provider's counters.
type ProviderStats struct {
	Provider       contract.ProviderID `json:"provider" yaml:"provider"`
	Requests       int64               `json:"requests" yaml:"requests"`
	Successes      int64               `json:"successes" yaml:"successes"`
	Errors         int64               `json:"errors" yaml:"errors"`
	AverageLatency time.Duration       `json:"average_latency" yaml:"average_latency"`
	RecentLatency  time.Duration       `json:"recent_latency" yaml:"recent_latency"`
	LastUsed       time.Time           `json:"last_used" yaml:"last_used"`
	LastErrorAt    time.Time           `json:"last_error_at,omitempty" yaml:"last_error_at,omitempty"`
	LastError      string              `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// ErrorRate is errors over requests, 0 when nothing was recorded.
func (s ProviderStats) ErrorRate() float64 {
	if s.Requests == 0 {
		return 0
	}
	return float64(s.Errors) / float64(s.Requests)
}

type providerState struct {
	stats        ProviderStats
	totalLatency time.Duration
	window       [RecentWindow]time.Duration
	windowLen    int
	windowNext   int
}

func (p *providerState) observe(latency time.Duration) {
	p.totalLatency += latency
	p.stats.AverageLatency = p.totalLatency / time.Duration(p.stats.Requests)

	p.window[p.windowNext] = latency
	p.windowNext = (p.windowNext + 1) % RecentWindow
	if p.windowLen < RecentWindow {
		p.windowLen++
	}

	var sum time.Duration
	for i := 0; i < p.windowLen; i++ {
		sum += p.window[i]
	}
	p.stats.RecentLatency = sum / time.Duration(p.windowLen)
}

type Collector struct {
	mu        sync.Mutex
	providers map[contract.ProviderID]*providerState
	now       func() time.Time

	attempts *prometheus.CounterVec
	latency  *prometheus.HistogramVec
	status   *prometheus.GaugeVec
	requests *prometheus.CounterVec
}

// NewCollector builds a collector. Series are registered on reg; a nil reg
// keeps them unregistered, which is what tests and the CLI use.
func NewCollector(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		providers: make(map[contract.ProviderID]*providerState),
		now:       time.Now,
		attempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kagami_provider_requests_total",
				Help: "Provider attempts by provider, operation and outcome",
			},
			[]string{"provider", "operation", "outcome"},
		),
		latency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "kagami_provider_latency_seconds",
				Help:    "Latency of individual provider attempts in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "operation"},
		),
		status: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "kagami_provider_status",
				Help: "Last observed provider status (1 for the current status, 0 otherwise)",
			},
			[]string{"provider", "status"},
		),
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "kagami_failover_requests_total",
				Help: "Orchestrated requests by operation and final outcome",
			},
			[]string{"operation", "outcome"},
		),
	}
}

func (c *Collector) state(id contract.ProviderID) *providerState {
	p, ok := c.providers[id]
	if !ok {
		p = &providerState{stats: ProviderStats{Provider: id}}
		c.providers[id] = p
	}
	return p
}

// RecordSuccess counts a validated attempt.
func (c *Collector) RecordSuccess(id contract.ProviderID, operation string, latency time.Duration) {
	c.mu.Lock()
	p := c.state(id)
	p.stats.Requests++
	p.stats.Successes++
	p.stats.LastUsed = c.now()
	p.observe(latency)
	c.mu.Unlock()

	c.attempts.WithLabelValues(string(id), operation, OutcomeSuccess).Inc()
	c.latency.WithLabelValues(string(id), operation).Observe(latency.Seconds())
}

// RecordFailure counts a failed attempt. Validation rejections count as errors.
func (c *Collector) RecordFailure(id contract.ProviderID, operation string, latency time.Duration, err error) {
	now := c.now()

	c.mu.Lock()
	p := c.state(id)
	p.stats.Requests++
	p.stats.Errors++
	p.stats.LastUsed = now
	p.stats.LastErrorAt = now
	if err != nil {
		p.stats.LastError = err.Error()
	}
	p.observe(latency)
	c.mu.Unlock()

	c.attempts.WithLabelValues(string(id), operation, AttemptOutcome(err)).Inc()
	c.latency.WithLabelValues(string(id), operation).Observe(latency.Seconds())
}

// RecordRequest counts one orchestrated request by its final outcome.
func (c *Collector) RecordRequest(operation, outcome string) {
	c.requests.WithLabelValues(operation, outcome).Inc()
}

// SetStatus publishes the last observed status as a one-hot gauge.
func (c *Collector) SetStatus(id contract.ProviderID, status contract.ProviderStatus) {
	for _, s := range []contract.ProviderStatus{contract.StatusAvailable, contract.StatusDegraded, contract.StatusRateLimited, contract.StatusUnavailable} {
		v := 0.0
		if s == status {
			v = 1
		}
		c.status.WithLabelValues(string(id), string(s)).Set(v)
	}
}

// Provider returns a copy of the stats for id.
func (c *Collector) Provider(id contract.ProviderID) (ProviderStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.providers[id]
	if !ok {
		return ProviderStats{Provider: id}, false
	}
	return p.stats, true
}

// Snapshot copies every provider's stats, sorted by provider id.
func (c *Collector) Snapshot() []ProviderStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ProviderStats, 0, len(c.providers))
	for _, p := range c.providers {
		out = append(out, p.stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}

// AttemptOutcome maps a per-attempt error to its metrics label.
func AttemptOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, kagamiErrors.ErrRateLimited):
		return OutcomeRateLimited
	case errors.Is(err, kagamiErrors.ErrValidationFailed):
		return OutcomeValidationFailed
	default:
		return OutcomeError
	}
}

// RequestOutcome maps the orchestrator's final error to its metrics label.
func RequestOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, kagamiErrors.ErrNoProvidersAvailable):
		return OutcomeNoProviders
	case errors.Is(err, kagamiErrors.ErrAllProvidersFailed):
		return OutcomeAllFailed
	case errors.Is(err, kagamiErrors.ErrGlobalTimeout):
		return OutcomeTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case errors.Is(err, kagamiErrors.ErrInvalidInput):
		return OutcomeInvalidInput
	default:
		return OutcomeError
	}
}
