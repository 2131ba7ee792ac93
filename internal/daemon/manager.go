package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"slices"
	"sync"
	"syscall"
	"time"

	"github.com/harunnryd/kagami/internal/config"
)

// Daemon owns the component lifecycle. Components initialise and start in
// dependency order and stop in the reverse of that order.
type Daemon struct {
	cfg *config.Config

	mu          sync.RWMutex
	components  []Component
	byName      map[string]Component
	duplicates  []string
	order       []string
	initialized []Component
	health      HealthStatus
}

func NewDaemon(cfg *config.Config) (*Daemon, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return &Daemon{
		cfg:    cfg,
		byName: make(map[string]Component),
		health: StatusStarting,
	}, nil
}

// AddComponent registers comp. A second component with the same name is
// reported when the daemon starts.
func (d *Daemon) AddComponent(comp Component) {
	d.mu.Lock()
	defer d.mu.Unlock()

	name := comp.Name()
	if _, dup := d.byName[name]; dup {
		d.duplicates = append(d.duplicates, name)
		slog.Warn("Component registered twice", "component", name)
		return
	}
	d.components = append(d.components, comp)
	d.byName[name] = comp
	slog.Info("Component registered", "component", name, "total_components", len(d.components))
}

// Start initialises and starts every component, then blocks until ctx is
// cancelled or SIGINT/SIGTERM arrives.
func (d *Daemon) Start(ctx context.Context) error {
	slog.Info("Kagami daemon starting...", "port", d.cfg.Server.Port)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := d.validateConfig(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := d.initializeComponents(ctx); err != nil {
		d.rollback(ctx)
		return fmt.Errorf("component initialization failed: %w", err)
	}

	if err := d.startComponents(ctx); err != nil {
		timeout, timeoutErr := config.DurationOrDefault(d.cfg.Daemon.StartupShutdownTimeout, config.DefaultDaemonStartupShutdownTimeout)
		if timeoutErr != nil {
			return fmt.Errorf("parse daemon startup shutdown timeout: %w", timeoutErr)
		}
		_ = d.gracefulShutdown(context.Background(), timeout)
		return fmt.Errorf("component startup failed: %w", err)
	}

	d.setHealth(StatusRunning)
	slog.Info("Kagami daemon is running", "components", len(d.components))

	go d.watchHealth(ctx)

	<-ctx.Done()

	slog.Info("Context cancelled, initiating graceful shutdown", "reason", ctx.Err())
	d.setHealth(StatusStopping)
	timeout, err := config.DurationOrDefault(d.cfg.Daemon.ShutdownTimeout, config.DefaultDaemonShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon shutdown timeout: %w", err)
	}
	if err := d.gracefulShutdown(context.Background(), timeout); err != nil {
		return err
	}

	// A signal or a cancelled parent is the normal way to stop.
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}

func (d *Daemon) Health() HealthStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.health
}

// ComponentHealth asks every registered component for its health. An error
// from Health marks the component unhealthy.
func (d *Daemon) ComponentHealth() map[string]*ComponentHealth {
	d.mu.RLock()
	components := slices.Clone(d.components)
	d.mu.RUnlock()

	result := make(map[string]*ComponentHealth, len(components))
	for _, comp := range components {
		health, err := comp.Health(context.Background())
		if health == nil {
			health = &ComponentHealth{Name: comp.Name()}
		}
		if err != nil {
			health = Unhealthy(comp.Name(), err)
		}
		result[comp.Name()] = health
	}
	return result
}

func (d *Daemon) setHealth(status HealthStatus) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.health = status
}

func (d *Daemon) validateConfig() error {
	slog.Info("Validating configuration...")

	if d.cfg.Server.Port < 1 || d.cfg.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d (must be 1-65535)", d.cfg.Server.Port)
	}
	if d.cfg.Server.MaxImageBytes <= 0 {
		return fmt.Errorf("invalid max_image_bytes: %d (must be positive)", d.cfg.Server.MaxImageBytes)
	}

	enabled := 0
	for _, p := range d.cfg.Providers {
		if !p.Disabled {
			enabled++
		}
	}
	if enabled == 0 {
		slog.Warn("No providers enabled; every request will fail with no providers available")
	}

	slog.Info("Configuration validated", "port", d.cfg.Server.Port, "providers", enabled)
	return nil
}

func (d *Daemon) initializeComponents(ctx context.Context) error {
	slog.Info("Initializing components...")

	order, err := d.resolveOrder()
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.order = order
	d.initialized = d.initialized[:0]
	d.mu.Unlock()

	for _, name := range order {
		comp := d.byName[name]
		slog.Info("Initializing component...", "component", name)
		if err := comp.Init(ctx); err != nil {
			slog.Error("Component initialization failed", "component", name, "error", err)
			return fmt.Errorf("component %s init failed: %w", name, err)
		}
		d.mu.Lock()
		d.initialized = append(d.initialized, comp)
		d.mu.Unlock()
		slog.Info("Component initialized", "component", name)
	}

	slog.Info("All components initialized", "count", len(order))
	return nil
}

func (d *Daemon) startComponents(ctx context.Context) error {
	slog.Info("Starting components...")

	for _, name := range d.order {
		slog.Info("Starting component...", "component", name)
		if err := d.byName[name].Start(ctx); err != nil {
			slog.Error("Component startup failed", "component", name, "error", err)
			return fmt.Errorf("component %s startup failed: %w", name, err)
		}
		slog.Info("Component started", "component", name)
	}

	slog.Info("All components started", "count", len(d.order))
	return nil
}

func (d *Daemon) gracefulShutdown(ctx context.Context, timeout time.Duration) error {
	slog.Info("Graceful shutdown initiated", "timeout", timeout)

	shutdownCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- d.shutdownComponents(shutdownCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			slog.Error("Shutdown completed with error", "error", err)
		} else {
			slog.Info("Graceful shutdown completed")
		}
		return err
	case <-shutdownCtx.Done():
		if ctx.Err() != nil {
			return fmt.Errorf("shutdown cancelled: %w", ctx.Err())
		}
		slog.Error("Shutdown timeout exceeded", "timeout", timeout)
		return fmt.Errorf("shutdown timeout after %v", timeout)
	}
}

// stopOrder is the reverse of the resolved dependency order, or of the
// registration order when the daemon never got as far as resolving one.
func (d *Daemon) stopOrder() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := slices.Clone(d.order)
	if len(names) == 0 {
		for _, comp := range d.components {
			names = append(names, comp.Name())
		}
	}
	slices.Reverse(names)
	return names
}

// shutdownComponents stops every component even when one fails; the
// failures are joined.
func (d *Daemon) shutdownComponents(ctx context.Context) error {
	var errs []error
	for _, name := range d.stopOrder() {
		slog.Info("Stopping component...", "component", name)
		if err := d.byName[name].Stop(ctx); err != nil {
			slog.Error("Component stop failed", "component", name, "error", err)
			errs = append(errs, fmt.Errorf("stop %s: %w", name, err))
			continue
		}
		slog.Info("Component stopped", "component", name)
	}

	d.setHealth(StatusStopped)
	return errors.Join(errs...)
}

// rollback stops only the components whose Init succeeded, newest first.
func (d *Daemon) rollback(ctx context.Context) {
	d.mu.RLock()
	initialized := slices.Clone(d.initialized)
	d.mu.RUnlock()

	slog.Warn("Rolling back initialized components...", "count", len(initialized))
	for i := len(initialized) - 1; i >= 0; i-- {
		comp := initialized[i]
		if err := comp.Stop(ctx); err != nil {
			slog.Error("Rollback failed", "component", comp.Name(), "error", err)
		}
	}

	d.setHealth(StatusStopped)
}

// watchHealth logs unhealthy components on every daemon health tick until
// ctx is done.
func (d *Daemon) watchHealth(ctx context.Context) {
	interval, err := config.DurationOrDefault(d.cfg.Daemon.HealthCheckInterval, config.DefaultDaemonHealthCheckInterval)
	if err != nil {
		slog.Error("Failed to parse daemon health check interval", "error", err)
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			unhealthy := 0
			for name, health := range d.ComponentHealth() {
				if !health.Healthy {
					unhealthy++
					slog.Warn("Component unhealthy", "component", name, "error", health.Error)
				}
			}
			if unhealthy > 0 {
				slog.Warn("Daemon has unhealthy components", "count", unhealthy)
			}
		}
	}
}

// resolveOrder checks registrations and dependencies, then sorts the
// components depth-first so that dependencies come before dependents.
// Registration order breaks ties.
func (d *Daemon) resolveOrder() ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if len(d.duplicates) > 0 {
		return nil, fmt.Errorf("component %s registered twice", d.duplicates[0])
	}
	for _, comp := range d.components {
		for _, dep := range comp.Dependencies() {
			if _, ok := d.byName[dep]; !ok {
				return nil, fmt.Errorf("component %s depends on %s which is not registered", comp.Name(), dep)
			}
		}
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(d.components))
	order := make([]string, 0, len(d.components))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case visiting:
			return fmt.Errorf("circular dependency detected involving %s", name)
		case done:
			return nil
		}
		state[name] = visiting
		for _, dep := range d.byName[name].Dependencies() {
			if err := visit(dep); err != nil {
				return err
			}
		}
		state[name] = done
		order = append(order, name)
		return nil
	}

	for _, comp := range d.components {
		if err := visit(comp.Name()); err != nil {
			return nil, err
		}
	}

	slog.Debug("Component order resolved", "order", order)
	return order, nil
}
