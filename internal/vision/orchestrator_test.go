package vision

import (
	"context"
	"errors"
	"testing"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/metrics"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scenarioConfig() FailoverConfig {
	cfg := DefaultFailoverConfig()
	cfg.MinConfidence = 0.98
	cfg.ProviderOrder = []contract.ProviderID{contract.ProviderOpenAI, contract.ProviderAWS, contract.ProviderGoogle}
	cfg.RetryDelay = 1000 * time.Millisecond
	cfg.BackoffMultiplier = 1.5
	cfg.MaxDelay = 30000 * time.Millisecond
	cfg.GlobalTimeout = 5000 * time.Millisecond
	return cfg
}

func newTestOrchestrator(t *testing.T, cfg FailoverConfig, fakes ...*fakeAdapter) (*Orchestrator, *fakeTime, *metrics.Collector) {
	t.Helper()
	clock := newFakeTime()
	collector := metrics.NewCollector(nil)
	o, err := NewOrchestrator(cfg, adapters(fakes...),
		WithMetrics(collector),
		WithSleeper(clock.Sleep),
		WithClock(clock.Now),
	)
	require.NoError(t, err)
	return o, clock, collector
}

func errorCount(c *metrics.Collector, id contract.ProviderID) int64 {
	stats, _ := c.Provider(id)
	return stats.Errors
}

func TestAnalyzeImage_FailsOverToSecondProvider(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, analyze: failing("openai exploded")}
	aws := &fakeAdapter{id: contract.ProviderAWS, analyze: returning(goodAnalysis(contract.ProviderAWS, 0.99))}
	google := &fakeAdapter{id: contract.ProviderGoogle}

	o, clock, collector := newTestOrchestrator(t, scenarioConfig(), openai, aws, google)
	start := clock.Now()

	res, err := o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	require.NoError(t, err)

	assert.Equal(t, contract.ProviderAWS, res.Provider)
	assert.GreaterOrEqual(t, clock.Now().Sub(start), 1000*time.Millisecond)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, int64(1), errorCount(collector, contract.ProviderOpenAI))
	assert.Equal(t, int32(1), openai.analyzeCalls.Load())
	assert.Equal(t, int32(1), aws.analyzeCalls.Load())
	assert.Equal(t, int32(0), google.analyzeCalls.Load())

	awsStats, _ := collector.Provider(contract.ProviderAWS)
	assert.Equal(t, int64(1), awsStats.Successes)
}

func TestAnalyzeImage_AllProvidersFail(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, analyze: failing("openai down")}
	aws := &fakeAdapter{id: contract.ProviderAWS, analyze: failing("aws down")}
	google := &fakeAdapter{id: contract.ProviderGoogle, analyze: failing("google down")}

	o, clock, collector := newTestOrchestrator(t, scenarioConfig(), openai, aws, google)
	start := clock.Now()

	_, err := o.AnalyzeImage(context.Background(), testImage, contract.KindObject)
	require.Error(t, err)

	var all *kagamiErrors.AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, 3, all.Attempts)
	assert.Contains(t, all.Last.Error(), "google down")

	for _, id := range []contract.ProviderID{contract.ProviderOpenAI, contract.ProviderAWS, contract.ProviderGoogle} {
		assert.Equal(t, int64(1), errorCount(collector, id), "provider %s", id)
	}
	assert.Equal(t, []time.Duration{1500 * time.Millisecond, 2250 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, 3750*time.Millisecond, clock.Now().Sub(start))
}

func TestAnalyzeImage_ReturnsFirstValidatedInPriorityOrder(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI}
	aws := &fakeAdapter{id: contract.ProviderAWS}

	cfg := scenarioConfig()
	cfg.ProviderOrder = []contract.ProviderID{contract.ProviderAWS, contract.ProviderOpenAI}

	o, clock, _ := newTestOrchestrator(t, cfg, openai, aws)

	res, err := o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	require.NoError(t, err)
	assert.Equal(t, contract.ProviderAWS, res.Provider)
	assert.Empty(t, clock.Sleeps(), "first attempt is immediate")
	assert.Equal(t, int32(0), openai.analyzeCalls.Load())
}

func TestAnalyzeImage_LowConfidenceIsAFailedAttempt(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, analyze: returning(goodAnalysis(contract.ProviderOpenAI, 0.6))}
	aws := &fakeAdapter{id: contract.ProviderAWS}

	o, _, collector := newTestOrchestrator(t, scenarioConfig(), openai, aws)

	res, err := o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	require.NoError(t, err)
	assert.Equal(t, contract.ProviderAWS, res.Provider)

	stats, _ := collector.Provider(contract.ProviderOpenAI)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Contains(t, stats.LastError, "confidence 0.60 below minimum 0.98")
}

func TestAnalyzeImage_ProviderMismatchIsRejected(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, analyze: returning(goodAnalysis(contract.ProviderGoogle, 0.99))}

	o, _, _ := newTestOrchestrator(t, scenarioConfig(), openai)

	_, err := o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	require.ErrorIs(t, err, kagamiErrors.ErrAllProvidersFailed)
	assert.ErrorIs(t, err, kagamiErrors.ErrValidationFailed)
}

func TestAnalyzeImage_NoProvidersAvailable(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, status: contract.StatusUnavailable}
	aws := &fakeAdapter{id: contract.ProviderAWS, status: contract.StatusRateLimited}
	google := &fakeAdapter{id: contract.ProviderGoogle, status: contract.StatusDegraded}

	o, clock, _ := newTestOrchestrator(t, scenarioConfig(), openai, aws, google)

	_, err := o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	var none *kagamiErrors.NoProvidersAvailableError
	require.ErrorAs(t, err, &none)
	assert.Equal(t, "rate_limited", none.Statuses["aws"])

	for _, f := range []*fakeAdapter{openai, aws, google} {
		assert.Equal(t, int32(0), f.analyzeCalls.Load())
		assert.Equal(t, int32(0), f.facesCalls.Load())
	}
	assert.Empty(t, clock.Sleeps())
}

func TestAnalyzeImage_SkipsUnavailableWithoutConsumingBackoff(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, status: contract.StatusUnavailable}
	aws := &fakeAdapter{id: contract.ProviderAWS, analyze: failing("throttled: 429")}
	google := &fakeAdapter{id: contract.ProviderGoogle}

	o, clock, collector := newTestOrchestrator(t, scenarioConfig(), openai, aws, google)

	res, err := o.AnalyzeImage(context.Background(), testImage, contract.KindText)
	require.NoError(t, err)
	assert.Equal(t, contract.ProviderGoogle, res.Provider)
	assert.Equal(t, []time.Duration{1500 * time.Millisecond}, clock.Sleeps())
	assert.Equal(t, int32(0), openai.analyzeCalls.Load())

	stats, _ := collector.Provider(contract.ProviderAWS)
	assert.Contains(t, stats.LastError, "rate limited")
}

func TestAnalyzeImage_RespectsMaxAttempts(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, analyze: failing("x")}
	aws := &fakeAdapter{id: contract.ProviderAWS, analyze: failing("y")}
	google := &fakeAdapter{id: contract.ProviderGoogle}

	cfg := scenarioConfig()
	cfg.MaxAttempts = 2
	o, _, _ := newTestOrchestrator(t, cfg, openai, aws, google)

	_, err := o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	var all *kagamiErrors.AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	assert.Equal(t, 2, all.Attempts)
	assert.Equal(t, int32(0), google.analyzeCalls.Load())
}

func TestAnalyzeImage_GlobalTimeoutDiscardsLateResult(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	slow := &fakeAdapter{id: contract.ProviderOpenAI, analyze: func(context.Context, contract.AnalysisRequest) (*contract.AnalysisResult, error) {
		<-release
		return goodAnalysis(contract.ProviderOpenAI, 0.99), nil
	}}
	aws := &fakeAdapter{id: contract.ProviderAWS}

	cfg := scenarioConfig()
	cfg.GlobalTimeout = 50 * time.Millisecond
	cfg.RetryDelay = 10 * time.Millisecond
	collector := metrics.NewCollector(nil)
	o, err := NewOrchestrator(cfg, adapters(slow, aws), WithMetrics(collector))
	require.NoError(t, err)

	started := time.Now()
	_, err = o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	require.Error(t, err)

	var timeout *kagamiErrors.GlobalTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 1, timeout.Attempts)
	assert.Less(t, time.Since(started), 2*time.Second)
	assert.Equal(t, int32(0), aws.analyzeCalls.Load(), "no attempt starts after the budget is spent")
	assert.Equal(t, int64(0), errorCount(collector, contract.ProviderOpenAI), "a call cut off by the budget is not the provider's failure")
}

type slowStatusAdapter struct {
	fakeAdapter
	delay time.Duration
}

func (s *slowStatusAdapter) Status(context.Context) contract.ProviderStatus {
	time.Sleep(s.delay)
	return contract.StatusAvailable
}

func TestAnalyzeImage_GlobalTimeoutCoversHealthRead(t *testing.T) {
	slow := &slowStatusAdapter{fakeAdapter: fakeAdapter{id: contract.ProviderOpenAI}, delay: 150 * time.Millisecond}

	cfg := scenarioConfig()
	cfg.GlobalTimeout = 50 * time.Millisecond
	cfg.HealthCheckTimeout = time.Second
	o, err := NewOrchestrator(cfg, []Adapter{slow})
	require.NoError(t, err)

	_, err = o.AnalyzeImage(context.Background(), testImage, contract.KindScene)

	var timeout *kagamiErrors.GlobalTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, 0, timeout.Attempts)
	assert.Equal(t, int32(0), slow.analyzeCalls.Load())
}

func TestAnalyzeImage_CallerCancellationIsNotATimeout(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI}
	o, _, _ := newTestOrchestrator(t, scenarioConfig(), openai)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := o.AnalyzeImage(ctx, testImage, contract.KindScene)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, kagamiErrors.ErrGlobalTimeout)
	assert.Equal(t, int32(0), openai.analyzeCalls.Load())
}

func TestAnalyzeImage_CancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	openai := &fakeAdapter{id: contract.ProviderOpenAI, analyze: func(context.Context, contract.AnalysisRequest) (*contract.AnalysisResult, error) {
		cancel()
		return nil, errors.New("boom")
	}}
	aws := &fakeAdapter{id: contract.ProviderAWS}

	o, _, _ := newTestOrchestrator(t, scenarioConfig(), openai, aws)

	_, err := o.AnalyzeImage(ctx, testImage, contract.KindScene)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), aws.analyzeCalls.Load())
}

func TestAnalyzeImage_AdapterPanicIsAFailedAttempt(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, analyze: func(context.Context, contract.AnalysisRequest) (*contract.AnalysisResult, error) {
		panic("nil map")
	}}
	aws := &fakeAdapter{id: contract.ProviderAWS}

	o, _, collector := newTestOrchestrator(t, scenarioConfig(), openai, aws)

	res, err := o.AnalyzeImage(context.Background(), testImage, contract.KindScene)
	require.NoError(t, err)
	assert.Equal(t, contract.ProviderAWS, res.Provider)
	assert.Equal(t, int64(1), errorCount(collector, contract.ProviderOpenAI))
}

func TestAnalyzeImage_RejectsBadInput(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI}
	o, _, _ := newTestOrchestrator(t, scenarioConfig(), openai)

	_, err := o.AnalyzeImage(context.Background(), nil, contract.KindScene)
	assert.ErrorIs(t, err, kagamiErrors.ErrInvalidInput)

	_, err = o.AnalyzeImage(context.Background(), testImage, contract.KindFaceDetection)
	assert.ErrorIs(t, err, kagamiErrors.ErrInvalidInput)
	assert.True(t, IsCallerError(err))

	assert.Equal(t, int32(0), openai.analyzeCalls.Load())
}

func TestDetectFaces_FailsOverOnPoorQuality(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, faces: func(context.Context, contract.AnalysisRequest) (*contract.FaceDetectionResult, error) {
		res := goodFaces(contract.ProviderOpenAI, 0.99)
		res.Quality = contract.QualityPoor
		return res, nil
	}}
	aws := &fakeAdapter{id: contract.ProviderAWS}

	cfg := scenarioConfig()
	cfg.MinConfidence = 0.9
	o, _, collector := newTestOrchestrator(t, cfg, openai, aws)

	res, err := o.DetectFaces(context.Background(), testImage)
	require.NoError(t, err)
	assert.Equal(t, contract.ProviderAWS, res.Provider)
	assert.Len(t, res.Faces, 1)

	stats, _ := collector.Provider(contract.ProviderOpenAI)
	assert.Contains(t, stats.LastError, "detection quality is poor")
}

func TestNewOrchestrator_RejectsDuplicatesAndBadConfig(t *testing.T) {
	a := &fakeAdapter{id: contract.ProviderOpenAI}
	b := &fakeAdapter{id: contract.ProviderOpenAI}

	_, err := NewOrchestrator(scenarioConfig(), adapters(a, b))
	assert.ErrorIs(t, err, kagamiErrors.ErrInvalidInput)

	bad := scenarioConfig()
	bad.BackoffMultiplier = 0.5
	_, err = NewOrchestrator(bad, adapters(a))
	assert.ErrorIs(t, err, kagamiErrors.ErrInvalidInput)
}

func TestOrchestrator_ConfigIsCopied(t *testing.T) {
	cfg := scenarioConfig()
	o, _, _ := newTestOrchestrator(t, cfg, &fakeAdapter{id: contract.ProviderOpenAI})

	cfg.ProviderOrder[0] = contract.ProviderAnthropic
	got := o.Config()
	assert.Equal(t, contract.ProviderOpenAI, got.ProviderOrder[0])

	got.ProviderOrder[0] = contract.ProviderAnthropic
	assert.Equal(t, contract.ProviderOpenAI, o.Config().ProviderOrder[0])
}

func TestProviderStatus(t *testing.T) {
	openai := &fakeAdapter{id: contract.ProviderOpenAI, status: contract.StatusDegraded}
	aws := &fakeAdapter{id: contract.ProviderAWS}
	o, _, _ := newTestOrchestrator(t, scenarioConfig(), openai, aws)

	got := o.ProviderStatus(context.Background())
	assert.Equal(t, map[contract.ProviderID]contract.ProviderStatus{
		contract.ProviderOpenAI: contract.StatusDegraded,
		contract.ProviderAWS:    contract.StatusAvailable,
	}, got)
	assert.Equal(t, []contract.ProviderID{contract.ProviderOpenAI, contract.ProviderAWS}, o.Providers())
}
