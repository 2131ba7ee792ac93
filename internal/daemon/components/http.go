package components

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/harunnryd/kagami/internal/api"
	"github.com/harunnryd/kagami/internal/config"
	"github.com/harunnryd/kagami/internal/daemon"
)

type HTTPServerComponent struct {
	daemon       *daemon.Daemon
	cfg          *config.ServerConfig
	vision       *VisionComponent
	version      string
	dependencies []string

	mu          sync.RWMutex
	server      *http.Server
	listener    net.Listener
	shutdownTTL time.Duration
	initialized bool
	started     bool
	serveErr    error
}

func NewHTTPServerComponent(d *daemon.Daemon, cfg *config.ServerConfig, vision *VisionComponent, version string) *HTTPServerComponent {
	return NewHTTPServerComponentWithDependencies(d, cfg, vision, version, []string{"Vision"})
}

func NewHTTPServerComponentWithDependencies(d *daemon.Daemon, cfg *config.ServerConfig, vision *VisionComponent, version string, deps []string) *HTTPServerComponent {
	return &HTTPServerComponent{
		daemon:       d,
		cfg:          cfg,
		vision:       vision,
		version:      version,
		dependencies: append([]string(nil), deps...),
	}
}

func (h *HTTPServerComponent) Name() string { return "HTTPServer" }

func (h *HTTPServerComponent) Dependencies() []string {
	return append([]string(nil), h.dependencies...)
}

func (h *HTTPServerComponent) Init(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.vision == nil || h.vision.Orchestrator() == nil {
		return fmt.Errorf("vision component not initialized")
	}

	readTimeout, err := config.DurationOrDefault(h.cfg.ReadTimeout, config.DefaultServerReadTimeout)
	if err != nil {
		return fmt.Errorf("parse server read timeout: %w", err)
	}
	writeTimeout, err := config.DurationOrDefault(h.cfg.WriteTimeout, config.DefaultServerWriteTimeout)
	if err != nil {
		return fmt.Errorf("parse server write timeout: %w", err)
	}
	idleTimeout, err := config.DurationOrDefault(h.cfg.IdleTimeout, config.DefaultServerIdleTimeout)
	if err != nil {
		return fmt.Errorf("parse server idle timeout: %w", err)
	}
	shutdownTimeout, err := config.DurationOrDefault(h.cfg.ShutdownTimeout, config.DefaultServerShutdownTimeout)
	if err != nil {
		return fmt.Errorf("parse server shutdown timeout: %w", err)
	}

	rateWindow, err := config.DurationOrDefault(h.cfg.RateLimitWindow, config.DefaultServerRateLimitWindow)
	if err != nil {
		return fmt.Errorf("parse server rate limit window: %w", err)
	}

	opts := api.Options{
		MaxImageBytes:      h.cfg.MaxImageBytes,
		Gatherer:           h.vision.Registry(),
		Version:            h.version,
		RateLimitRequests:  h.cfg.RateLimitRequests,
		RateLimitWindow:    rateWindow,
		CORSAllowedOrigins: h.cfg.CORSAllowedOrigins,
	}
	if h.daemon != nil {
		opts.Components = h.daemon.ComponentHealth
	}

	h.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", h.cfg.Port),
		Handler:      api.NewRouter(h.vision.Orchestrator(), opts),
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
	h.shutdownTTL = shutdownTimeout

	h.initialized = true
	slog.Info("HTTPServer initialized", "component", h.Name(), "port", h.cfg.Port)
	return nil
}

// Start binds synchronously so a taken port fails startup instead of
// surfacing later in a log line.
func (h *HTTPServerComponent) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.initialized {
		return fmt.Errorf("HTTPServer not initialized")
	}

	ln, err := net.Listen("tcp", h.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", h.server.Addr, err)
	}
	h.listener = ln

	go func() {
		slog.Info("HTTP server listening", "component", h.Name(), "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "component", h.Name(), "error", err)
			h.mu.Lock()
			h.serveErr = err
			h.mu.Unlock()
		}
	}()

	h.started = true
	slog.Info("HTTPServer started", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Stop(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.started {
		slog.Info("HTTPServer not started, skipping stop", "component", h.Name())
		return nil
	}

	slog.Info("Stopping HTTPServer...", "component", h.Name())
	shutdownCtx, cancel := context.WithTimeout(ctx, h.shutdownTTL)
	defer cancel()

	if err := h.server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTPServer shutdown error", "component", h.Name(), "error", err)
		return err
	}

	h.started = false
	slog.Info("HTTPServer stopped", "component", h.Name())
	return nil
}

func (h *HTTPServerComponent) Health(ctx context.Context) (*daemon.ComponentHealth, error) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	switch {
	case !h.initialized:
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not initialized")), nil
	case h.serveErr != nil:
		return daemon.Unhealthy(h.Name(), h.serveErr), nil
	case !h.started:
		return daemon.Unhealthy(h.Name(), fmt.Errorf("not started")), nil
	default:
		return daemon.Healthy(h.Name()), nil
	}
}

// Addr is the bound listen address, useful when the port is 0.
func (h *HTTPServerComponent) Addr() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.listener == nil {
		return ""
	}
	return h.listener.Addr().String()
}
