package vision

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/harunnryd/kagami/internal/vision/contract"
)

var testImage = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeAdapter struct {
	id     contract.ProviderID
	status contract.ProviderStatus

	analyze func(ctx context.Context, req contract.AnalysisRequest) (*contract.AnalysisResult, error)
	faces   func(ctx context.Context, req contract.AnalysisRequest) (*contract.FaceDetectionResult, error)

	analyzeCalls atomic.Int32
	facesCalls   atomic.Int32
	statusCalls  atomic.Int32
}

func (f *fakeAdapter) ID() contract.ProviderID { return f.id }

func (f *fakeAdapter) Status(context.Context) contract.ProviderStatus {
	f.statusCalls.Add(1)
	if f.status == "" {
		return contract.StatusAvailable
	}
	return f.status
}

func (f *fakeAdapter) Analyze(ctx context.Context, req contract.AnalysisRequest) (*contract.AnalysisResult, error) {
	f.analyzeCalls.Add(1)
	if f.analyze == nil {
		return goodAnalysis(f.id, 0.99), nil
	}
	return f.analyze(ctx, req)
}

func (f *fakeAdapter) DetectFaces(ctx context.Context, req contract.AnalysisRequest) (*contract.FaceDetectionResult, error) {
	f.facesCalls.Add(1)
	if f.faces == nil {
		return goodFaces(f.id, 0.97), nil
	}
	return f.faces(ctx, req)
}

func failing(msg string) func(context.Context, contract.AnalysisRequest) (*contract.AnalysisResult, error) {
	return func(context.Context, contract.AnalysisRequest) (*contract.AnalysisResult, error) {
		return nil, errors.New(msg)
	}
}

func returning(res *contract.AnalysisResult) func(context.Context, contract.AnalysisRequest) (*contract.AnalysisResult, error) {
	return func(context.Context, contract.AnalysisRequest) (*contract.AnalysisResult, error) {
		return res, nil
	}
}

func goodAnalysis(id contract.ProviderID, confidence float64) *contract.AnalysisResult {
	return &contract.AnalysisResult{
		Provider:       id,
		Kind:           contract.KindScene,
		Tags:           []contract.Tag{{Label: "beach", Confidence: confidence, Category: "scene"}},
		Confidence:     confidence,
		Timestamp:      time.Now(),
		ProcessingTime: 20 * time.Millisecond,
	}
}

func goodFaces(id contract.ProviderID, confidence float64) *contract.FaceDetectionResult {
	faces := []contract.Face{{
		BoundingBox: contract.BoundingBox{Left: 0.1, Top: 0.1, Width: 0.3, Height: 0.4},
		Confidence:  confidence,
	}}
	return &contract.FaceDetectionResult{
		Provider:       id,
		Faces:          faces,
		Confidence:     confidence,
		Quality:        contract.AssessDetectionQuality(faces),
		Timestamp:      time.Now(),
		ProcessingTime: 20 * time.Millisecond,
	}
}

// fakeTime is a clock that only moves when the orchestrator sleeps.
type fakeTime struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeTime() *fakeTime {
	return &fakeTime{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (f *fakeTime) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeTime) Sleep(ctx context.Context, d time.Duration) error {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.sleeps = append(f.sleeps, d)
	f.mu.Unlock()
	return ctx.Err()
}

func (f *fakeTime) Sleeps() []time.Duration {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]time.Duration(nil), f.sleeps...)
}

func adapters(fakes ...*fakeAdapter) []Adapter {
	out := make([]Adapter, 0, len(fakes))
	for _, f := range fakes {
		out = append(out, f)
	}
	return out
}
