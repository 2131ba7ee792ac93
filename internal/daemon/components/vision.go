package components

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/harunnryd/kagami/internal/config"
	"github.com/harunnryd/kagami/internal/daemon"
	"github.com/harunnryd/kagami/internal/vision"
	"github.com/harunnryd/kagami/internal/vision/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// AdapterFactory builds the provider adapters; tests swap in fakes.
type AdapterFactory func(ctx context.Context, cfg *config.Config) ([]vision.Adapter, error)

func defaultAdapterFactory(ctx context.Context, cfg *config.Config) ([]vision.Adapter, error) {
	return vision.BuildAdapters(ctx, cfg.Providers, cfg.Failover.ErrorThresholds)
}

// VisionComponent owns the orchestrator, its adapters and the metrics registry.
type VisionComponent struct {
	cfg     *config.Config
	factory AdapterFactory

	mu           sync.RWMutex
	orchestrator *vision.Orchestrator
	registry     *prometheus.Registry
}

func NewVisionComponent(cfg *config.Config) *VisionComponent {
	return NewVisionComponentWithFactory(cfg, defaultAdapterFactory)
}

func NewVisionComponentWithFactory(cfg *config.Config, factory AdapterFactory) *VisionComponent {
	return &VisionComponent{cfg: cfg, factory: factory}
}

func (v *VisionComponent) Name() string { return "Vision" }

func (v *VisionComponent) Dependencies() []string { return nil }

func (v *VisionComponent) Init(ctx context.Context) error {
	failoverCfg, err := vision.FailoverConfigFrom(v.cfg.Failover)
	if err != nil {
		return fmt.Errorf("failover config: %w", err)
	}

	adapters, err := v.factory(ctx, v.cfg)
	if err != nil {
		return fmt.Errorf("build adapters: %w", err)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	orch, err := vision.NewOrchestrator(failoverCfg, adapters, vision.WithMetrics(metrics.NewCollector(reg)))
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	v.mu.Lock()
	v.orchestrator = orch
	v.registry = reg
	v.mu.Unlock()

	slog.Info("Vision initialized", "component", v.Name(), "providers", orch.Providers(), "order", failoverCfg.ProviderOrder)
	return nil
}

func (v *VisionComponent) Start(context.Context) error {
	if v.Orchestrator() == nil {
		return fmt.Errorf("vision not initialized")
	}
	return nil
}

func (v *VisionComponent) Stop(context.Context) error { return nil }

// Health is unhealthy only when no provider can take work right now.
func (v *VisionComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	orch := v.Orchestrator()
	if orch == nil {
		return daemon.Unhealthy(v.Name(), fmt.Errorf("not initialized")), nil
	}

	for _, status := range orch.ProviderStatus(ctx) {
		if status.IsUsable() {
			return daemon.Healthy(v.Name()), nil
		}
	}
	return daemon.Unhealthy(v.Name(), fmt.Errorf("no provider available")), nil
}

func (v *VisionComponent) Orchestrator() *vision.Orchestrator {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.orchestrator
}

func (v *VisionComponent) Registry() *prometheus.Registry {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.registry
}
