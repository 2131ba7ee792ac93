package components

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/harunnryd/kagami/internal/config"
	"github.com/harunnryd/kagami/internal/daemon"

	"github.com/gofrs/flock"
)

const lockRetryInterval = 100 * time.Millisecond

// InstanceLockComponent holds an exclusive file lock for the daemon's lifetime.
type InstanceLockComponent struct {
	cfg *config.DaemonConfig

	mu         sync.Mutex
	lock       *flock.Flock
	path       string
	acquiredAt time.Time
}

func NewInstanceLockComponent(cfg *config.DaemonConfig) *InstanceLockComponent {
	return &InstanceLockComponent{cfg: cfg}
}

func (l *InstanceLockComponent) Name() string { return "InstanceLock" }

func (l *InstanceLockComponent) Dependencies() []string { return nil }

func (l *InstanceLockComponent) Init(ctx context.Context) error {
	path, err := config.ExpandPath(l.cfg.LockPath)
	if err != nil {
		return fmt.Errorf("resolve lock path: %w", err)
	}
	if path == "" {
		if path, err = config.DefaultLockPath(); err != nil {
			return fmt.Errorf("resolve default lock path: %w", err)
		}
	}
	timeout, err := config.DurationOrDefault(l.cfg.LockTimeout, config.DefaultDaemonLockTimeout)
	if err != nil {
		return fmt.Errorf("parse daemon lock timeout: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create lock directory: %w", err)
	}

	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	fl := flock.New(path)
	locked, err := fl.TryLockContext(lockCtx, lockRetryInterval)
	if err != nil && lockCtx.Err() == nil {
		return fmt.Errorf("attempt lock %s: %w", path, err)
	}
	if !locked {
		return fmt.Errorf("another kagami daemon holds %s (waited %v)", path, timeout)
	}

	l.mu.Lock()
	l.lock = fl
	l.path = path
	l.acquiredAt = time.Now()
	l.mu.Unlock()

	slog.Info("Instance lock acquired", "path", path)
	return nil
}

func (l *InstanceLockComponent) Start(context.Context) error { return nil }

func (l *InstanceLockComponent) Stop(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock == nil {
		return nil
	}
	if err := l.lock.Unlock(); err != nil {
		return fmt.Errorf("release lock %s: %w", l.path, err)
	}
	slog.Info("Instance lock released", "path", l.path, "held_ms", time.Since(l.acquiredAt).Milliseconds())
	l.lock = nil
	return nil
}

func (l *InstanceLockComponent) Health(context.Context) (*daemon.ComponentHealth, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.lock == nil || !l.lock.Locked() {
		return daemon.Unhealthy(l.Name(), fmt.Errorf("lock not held")), nil
	}
	return daemon.Healthy(l.Name()), nil
}
