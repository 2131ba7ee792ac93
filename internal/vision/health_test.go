package vision

import (
	"context"
	"testing"
	"time"

	"github.com/harunnryd/kagami/internal/vision/contract"

	"github.com/stretchr/testify/assert"
)

type blockingStatusAdapter struct {
	fakeAdapter
}

func (b *blockingStatusAdapter) Status(ctx context.Context) contract.ProviderStatus {
	<-ctx.Done()
	return contract.StatusAvailable
}

type panickingStatusAdapter struct {
	fakeAdapter
}

func (p *panickingStatusAdapter) Status(context.Context) contract.ProviderStatus {
	panic("status exploded")
}

func ids(list []Adapter) []contract.ProviderID {
	out := make([]contract.ProviderID, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID())
	}
	return out
}

func TestHealthTracker_OrdersByPriorityAndFilters(t *testing.T) {
	cfg := DefaultFailoverConfig()
	cfg.ProviderOrder = []contract.ProviderID{contract.ProviderGoogle, contract.ProviderOpenAI, contract.ProviderAWS}

	tracker := NewHealthTracker(cfg, adapters(
		&fakeAdapter{id: contract.ProviderOpenAI},
		&fakeAdapter{id: contract.ProviderAWS, status: contract.StatusDegraded},
		&fakeAdapter{id: contract.ProviderGoogle},
		&fakeAdapter{id: contract.ProviderAnthropic},
	))

	got, statuses := tracker.Available(context.Background())
	assert.Equal(t, []contract.ProviderID{contract.ProviderGoogle, contract.ProviderOpenAI}, ids(got))
	assert.Len(t, statuses, 4)
	assert.Equal(t, contract.StatusDegraded, statuses[contract.ProviderAWS])
	assert.Equal(t, contract.StatusAvailable, statuses[contract.ProviderAnthropic], "unordered providers are reported but never attempted")
}

func TestHealthTracker_SlowStatusCountsAsUnavailable(t *testing.T) {
	cfg := DefaultFailoverConfig()
	cfg.HealthCheckTimeout = 20 * time.Millisecond

	slow := &blockingStatusAdapter{fakeAdapter{id: contract.ProviderOpenAI}}
	tracker := NewHealthTracker(cfg, []Adapter{slow, &fakeAdapter{id: contract.ProviderAWS}})

	started := time.Now()
	got, statuses := tracker.Available(context.Background())
	assert.Less(t, time.Since(started), time.Second)
	assert.Equal(t, []contract.ProviderID{contract.ProviderAWS}, ids(got))
	assert.Equal(t, contract.StatusUnavailable, statuses[contract.ProviderOpenAI])
}

func TestHealthTracker_PanickingStatusCountsAsUnavailable(t *testing.T) {
	cfg := DefaultFailoverConfig()
	bad := &panickingStatusAdapter{fakeAdapter{id: contract.ProviderGoogle}}
	tracker := NewHealthTracker(cfg, []Adapter{bad})

	statuses := tracker.Snapshot(context.Background())
	assert.Equal(t, contract.StatusUnavailable, statuses[contract.ProviderGoogle])
}

func TestHealthTracker_StatusReadsRunConcurrently(t *testing.T) {
	cfg := DefaultFailoverConfig()
	cfg.HealthCheckTimeout = 100 * time.Millisecond

	list := make([]Adapter, 0, 4)
	for _, id := range cfg.ProviderOrder {
		list = append(list, &blockingStatusAdapter{fakeAdapter{id: id}})
	}
	tracker := NewHealthTracker(cfg, list)

	started := time.Now()
	tracker.Snapshot(context.Background())
	assert.Less(t, time.Since(started), 350*time.Millisecond, "four timed-out reads must overlap")
}
