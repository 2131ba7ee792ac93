package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/harunnryd/kagami/internal/concurrency"
	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/logger"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/metrics"
)

const (
	OperationAnalyze     = "analyze"
	OperationDetectFaces = "detect_faces"
)

// Orchestrator sends each request to the highest-priority available
// provider and fails over down the list until one result validates.
type Orchestrator struct {
	cfg       FailoverConfig
	adapters  []Adapter
	tracker   *HealthTracker
	validator ResultValidator
	metrics   *metrics.Collector
	mapper    kagamiErrors.ErrorMapper
	sleep     Sleeper
	now       Clock
}

type Option func(*Orchestrator)

func WithMetrics(m *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithSleeper replaces the backoff sleep.
func WithSleeper(s Sleeper) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

func WithClock(c Clock) Option {
	return func(o *Orchestrator) { o.now = c }
}

func WithErrorMapper(m kagamiErrors.ErrorMapper) Option {
	return func(o *Orchestrator) { o.mapper = m }
}

func NewOrchestrator(cfg FailoverConfig, adapters []Adapter, opts ...Option) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	seen := make(map[contract.ProviderID]struct{}, len(adapters))
	for _, a := range adapters {
		if a == nil {
			return nil, kagamiErrors.InvalidInput("nil adapter")
		}
		if _, dup := seen[a.ID()]; dup {
			return nil, kagamiErrors.InvalidInput(fmt.Sprintf("duplicate adapter for provider %s", a.ID()))
		}
		seen[a.ID()] = struct{}{}
	}

	cfg.ProviderOrder = append([]contract.ProviderID(nil), cfg.ProviderOrder...)
	o := &Orchestrator{
		cfg:       cfg,
		adapters:  append([]Adapter(nil), adapters...),
		tracker:   NewHealthTracker(cfg, adapters),
		validator: NewResultValidator(cfg),
		mapper:    kagamiErrors.NewDefaultErrorMapper(),
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = metrics.NewCollector(nil)
	}

	for _, id := range cfg.ProviderOrder {
		if _, ok := seen[id]; !ok {
			slog.Warn("Provider listed in order has no adapter", "provider", id)
		}
	}

	return o, nil
}

// AnalyzeImage runs a scene, object, text or sentiment analysis. Face
// detection has its own entry point.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, image []byte, kind contract.AnalysisKind) (*contract.AnalysisResult, error) {
	if kind == contract.KindFaceDetection {
		return nil, kagamiErrors.InvalidInput("use DetectFaces for face detection")
	}
	req, err := contract.NewAnalysisRequest(image, "", kind)
	if err != nil {
		return nil, err
	}

	return run[*contract.AnalysisResult](ctx, o, OperationAnalyze,
		func(ctx context.Context, a Adapter) (*contract.AnalysisResult, error) {
			return a.Analyze(ctx, req)
		},
		o.validator.ValidateAnalysis,
	)
}

func (o *Orchestrator) DetectFaces(ctx context.Context, image []byte) (*contract.FaceDetectionResult, error) {
	req, err := contract.NewAnalysisRequest(image, "", contract.KindFaceDetection)
	if err != nil {
		return nil, err
	}

	return run[*contract.FaceDetectionResult](ctx, o, OperationDetectFaces,
		func(ctx context.Context, a Adapter) (*contract.FaceDetectionResult, error) {
			return a.DetectFaces(ctx, req)
		},
		o.validator.ValidateFaces,
	)
}

// ProviderStatus is a read-only snapshot of every configured provider.
func (o *Orchestrator) ProviderStatus(ctx context.Context) map[contract.ProviderID]contract.ProviderStatus {
	return o.tracker.Snapshot(ctx)
}

func (o *Orchestrator) Metrics() *metrics.Collector { return o.metrics }

func (o *Orchestrator) Config() FailoverConfig {
	cfg := o.cfg
	cfg.ProviderOrder = append([]contract.ProviderID(nil), o.cfg.ProviderOrder...)
	return cfg
}

// Providers lists the configured adapter ids in construction order.
func (o *Orchestrator) Providers() []contract.ProviderID {
	ids := make([]contract.ProviderID, 0, len(o.adapters))
	for _, a := range o.adapters {
		ids = append(ids, a.ID())
	}
	return ids
}

type callFunc[T any] func(ctx context.Context, a Adapter) (T, error)

type validateFunc[T any] func(provider contract.ProviderID, res T) error

func run[T any](ctx context.Context, o *Orchestrator, op string, call callFunc[T], validate validateFunc[T]) (T, error) {
	var zero T

	ctx, requestID := logger.EnsureRequestID(ctx)
	if err := ctx.Err(); err != nil {
		o.metrics.RecordRequest(op, metrics.RequestOutcome(err))
		return zero, err
	}

	// The budget covers the health read as well as every attempt.
	start := o.now()
	runCtx, cancel := context.WithTimeout(ctx, o.cfg.GlobalTimeout)
	defer cancel()

	attempts := 0
	var lastErr error

	abort := func() (T, error) {
		err := o.timeoutError(ctx, start, attempts, lastErr)
		slog.Warn("Failover aborted", "request_id", requestID, "operation", op, "attempts", attempts, "elapsed", o.now().Sub(start), "error", err)
		o.metrics.RecordRequest(op, metrics.RequestOutcome(err))
		return zero, err
	}

	candidates, statuses := o.tracker.Available(runCtx)
	if runCtx.Err() != nil {
		return abort()
	}
	if len(candidates) == 0 {
		err := noProviders(statuses)
		slog.Warn("No providers available", "request_id", requestID, "operation", op, "statuses", statuses)
		o.metrics.RecordRequest(op, metrics.RequestOutcome(err))
		return zero, err
	}

	limit := o.cfg.attemptLimit(len(candidates))

	for i := 0; i < limit; i++ {
		a := candidates[i]
		id := a.ID()

		if i > 0 {
			if err := o.sleep(runCtx, o.cfg.Backoff(i)); err != nil {
				return abort()
			}
		}
		if runCtx.Err() != nil {
			return abort()
		}

		attempts++
		attemptStart := o.now()
		res, err := attempt(runCtx, a, call)
		latency := o.now().Sub(attemptStart)

		if err == nil {
			err = validate(id, res)
		}
		if err == nil {
			o.metrics.RecordSuccess(id, op, latency)
			o.metrics.RecordRequest(op, metrics.OutcomeSuccess)
			slog.Info("Provider attempt succeeded", "request_id", requestID, "provider", id, "operation", op, "attempt", i, "duration", latency, "elapsed", o.now().Sub(start))
			return res, nil
		}

		// Cut off by the caller or the budget; the provider is not at fault.
		if runCtx.Err() != nil {
			return abort()
		}

		lastErr = o.mapper.MapError(string(id), op, err)
		o.metrics.RecordFailure(id, op, latency, lastErr)
		slog.Warn("Provider attempt failed",
			"request_id", requestID,
			"provider", id,
			"operation", op,
			"attempt", i,
			"duration", latency,
			"elapsed", o.now().Sub(start),
			"category", o.mapper.Category(lastErr),
			"error", lastErr,
		)
	}

	err := &kagamiErrors.AllProvidersFailedError{Attempts: attempts, Last: lastErr}
	slog.Error("All providers failed", "request_id", requestID, "operation", op, "attempts", attempts, "elapsed", o.now().Sub(start), "error", lastErr)
	o.metrics.RecordRequest(op, metrics.RequestOutcome(err))
	return zero, err
}

// attempt runs one vendor call and races it against ctx. A result that
// arrives after ctx is done is dropped.
func attempt[T any](ctx context.Context, a Adapter, call callFunc[T]) (T, error) {
	type outcome struct {
		res T
		err error
	}

	ch := make(chan outcome, 1)
	concurrency.SafeGo(func() {
		res, err := call(ctx, a)
		ch <- outcome{res: res, err: err}
	}, func(r any) {
		var zero T
		ch <- outcome{res: zero, err: fmt.Errorf("adapter panic: %v", r)}
	})

	select {
	case out := <-ch:
		return out.res, out.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// timeoutError distinguishes the request budget running out from the
// caller giving up; the latter is returned as the caller's own ctx error.
func (o *Orchestrator) timeoutError(parent context.Context, start time.Time, attempts int, last error) error {
	if err := parent.Err(); err != nil {
		return err
	}
	return &kagamiErrors.GlobalTimeoutError{
		Timeout:  o.cfg.GlobalTimeout,
		Elapsed:  o.now().Sub(start),
		Attempts: attempts,
		Last:     last,
	}
}

func noProviders(statuses map[contract.ProviderID]contract.ProviderStatus) error {
	out := make(map[string]string, len(statuses))
	for id, s := range statuses {
		out[string(id)] = string(s)
	}
	return &kagamiErrors.NoProvidersAvailableError{Statuses: out}
}

// IsCallerError reports whether err was caused by the request itself
// rather than by provider availability.
func IsCallerError(err error) bool {
	return errors.Is(err, kagamiErrors.ErrInvalidInput) || errors.Is(err, context.Canceled)
}
