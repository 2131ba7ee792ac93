package vision

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/harunnryd/kagami/internal/concurrency"
	"github.com/harunnryd/kagami/internal/vision/contract"

	"golang.org/x/sync/errgroup"
)

// HealthTracker turns adapter status reads into the per-request attempt order.
type HealthTracker struct {
	adapters []Adapter
	order    map[contract.ProviderID]int
	timeout  time.Duration
}

func NewHealthTracker(cfg FailoverConfig, adapters []Adapter) *HealthTracker {
	return &HealthTracker{
		adapters: append([]Adapter(nil), adapters...),
		order:    cfg.orderIndex(),
		timeout:  cfg.HealthCheckTimeout,
	}
}

// Snapshot reads every adapter's status concurrently. A read that does not
// return within the health-check timeout counts as unavailable.
func (h *HealthTracker) Snapshot(ctx context.Context) map[contract.ProviderID]contract.ProviderStatus {
	statuses := make([]contract.ProviderStatus, len(h.adapters))

	g, gctx := errgroup.WithContext(ctx)
	for i, a := range h.adapters {
		g.Go(func() error {
			statuses[i] = h.status(gctx, a)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[contract.ProviderID]contract.ProviderStatus, len(h.adapters))
	for i, a := range h.adapters {
		out[a.ID()] = statuses[i]
	}
	return out
}

// Available returns the adapters reporting available, in configured
// priority order, together with the full status map. Adapters missing from
// the priority order are never returned.
func (h *HealthTracker) Available(ctx context.Context) ([]Adapter, map[contract.ProviderID]contract.ProviderStatus) {
	statuses := h.Snapshot(ctx)

	eligible := make([]Adapter, 0, len(h.adapters))
	for _, a := range h.adapters {
		if _, ordered := h.order[a.ID()]; !ordered {
			continue
		}
		if statuses[a.ID()].IsUsable() {
			eligible = append(eligible, a)
		}
	}

	sort.SliceStable(eligible, func(i, j int) bool {
		return h.order[eligible[i].ID()] < h.order[eligible[j].ID()]
	})
	return eligible, statuses
}

func (h *HealthTracker) status(ctx context.Context, a Adapter) contract.ProviderStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	ch := make(chan contract.ProviderStatus, 1)
	concurrency.SafeGo(func() {
		ch <- a.Status(ctx)
	}, func(any) {
		ch <- contract.StatusUnavailable
	})

	select {
	case s := <-ch:
		if s == "" {
			return contract.StatusUnavailable
		}
		return s
	case <-ctx.Done():
		slog.Warn("Provider status check timed out", "provider", a.ID(), "timeout", h.timeout)
		return contract.StatusUnavailable
	}
}
