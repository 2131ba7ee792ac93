package vision

import (
	"context"
	"time"

	"github.com/harunnryd/kagami/internal/vision/contract"
)

// Adapter wraps one vendor's image-analysis API. Implementations are
// long-lived and shared by every concurrent request, so they must be safe
// for concurrent use.
type Adapter interface {
	ID() contract.ProviderID
	Analyze(ctx context.Context, req contract.AnalysisRequest) (*contract.AnalysisResult, error)
	DetectFaces(ctx context.Context, req contract.AnalysisRequest) (*contract.FaceDetectionResult, error)
	Status(ctx context.Context) contract.ProviderStatus
}

// Sleeper blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type Sleeper func(ctx context.Context, d time.Duration) error

// Clock returns the current time.
type Clock func() time.Time

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
