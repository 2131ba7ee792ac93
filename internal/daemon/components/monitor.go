package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/kagami/internal/config"
	"github.com/harunnryd/kagami/internal/daemon"
	"github.com/harunnryd/kagami/internal/vision/contract"

	"github.com/robfig/cron/v3"
)

// HealthMonitorComponent polls provider status on a cron schedule, exports
// it as a gauge and logs transitions.
type HealthMonitorComponent struct {
	cfg    *config.FailoverConfig
	vision *VisionComponent

	mu       sync.Mutex
	cron     *cron.Cron
	last     map[contract.ProviderID]contract.ProviderStatus
	lastPoll time.Time
	interval time.Duration
}

func NewHealthMonitorComponent(cfg *config.FailoverConfig, vision *VisionComponent) *HealthMonitorComponent {
	return &HealthMonitorComponent{
		cfg:    cfg,
		vision: vision,
		last:   map[contract.ProviderID]contract.ProviderStatus{},
	}
}

func (m *HealthMonitorComponent) Name() string { return "HealthMonitor" }

func (m *HealthMonitorComponent) Dependencies() []string { return []string{"Vision"} }

func (m *HealthMonitorComponent) Init(context.Context) error {
	if m.vision == nil {
		return fmt.Errorf("vision component not provided")
	}

	interval, err := config.DurationOrDefault(m.cfg.HealthCheckInterval, config.DefaultFailoverHealthCheckInterval)
	if err != nil {
		return fmt.Errorf("parse health check interval: %w", err)
	}
	if interval <= 0 {
		return fmt.Errorf("health check interval must be positive, got %v", interval)
	}

	m.mu.Lock()
	m.interval = interval
	logger := cronLogger{}
	m.cron = cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)))
	m.mu.Unlock()

	if _, err := m.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { m.Poll(context.Background()) }); err != nil {
		return fmt.Errorf("schedule health poll: %w", err)
	}

	slog.Info("HealthMonitor initialized", "component", m.Name(), "interval", interval)
	return nil
}

func (m *HealthMonitorComponent) Start(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.mu.Unlock()
	if c == nil {
		return fmt.Errorf("health monitor not initialized")
	}

	// Seed the gauge so /metrics is populated before the first tick.
	m.Poll(ctx)
	c.Start()
	return nil
}

func (m *HealthMonitorComponent) Stop(ctx context.Context) error {
	m.mu.Lock()
	c := m.cron
	m.mu.Unlock()
	if c == nil {
		return nil
	}

	select {
	case <-c.Stop().Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for running health poll: %w", ctx.Err())
	}
}

func (m *HealthMonitorComponent) Health(context.Context) (*daemon.ComponentHealth, error) {
	m.mu.Lock()
	lastPoll, interval := m.lastPoll, m.interval
	m.mu.Unlock()

	if lastPoll.IsZero() {
		return daemon.Unhealthy(m.Name(), fmt.Errorf("no poll yet")), nil
	}
	if since := time.Since(lastPoll); since > 3*interval {
		return daemon.Unhealthy(m.Name(), fmt.Errorf("last poll %v ago", since.Round(time.Second))), nil
	}
	return daemon.Healthy(m.Name()), nil
}

// Poll reads every provider's status once.
func (m *HealthMonitorComponent) Poll(ctx context.Context) {
	orch := m.vision.Orchestrator()
	if orch == nil {
		return
	}

	statuses := orch.ProviderStatus(ctx)
	collector := orch.Metrics()

	m.mu.Lock()
	defer m.mu.Unlock()

	for id, status := range statuses {
		collector.SetStatus(id, status)

		prev, seen := m.last[id]
		switch {
		case !seen:
			slog.Info("Provider status", "provider", id, "status", status)
		case prev != status && status.IsUsable():
			slog.Info("Provider recovered", "provider", id, "from", prev, "to", status)
		case prev != status:
			slog.Warn("Provider status changed", "provider", id, "from", prev, "to", status)
		}
		m.last[id] = status
	}
	m.lastPoll = time.Now()
}

// Statuses returns the statuses seen by the last poll.
func (m *HealthMonitorComponent) Statuses() map[contract.ProviderID]contract.ProviderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[contract.ProviderID]contract.ProviderStatus, len(m.last))
	for id, s := range m.last {
		out[id] = s
	}
	return out
}

// cronLogger routes cron's internal logs to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.Debug("Cron "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("Cron "+msg, append([]any{"error", err}, keysAndValues...)...)
}
