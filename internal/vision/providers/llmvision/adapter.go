package llmvision

import (
	"context"
	"time"

	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/resilience"
)

// Completion is one model reply.
type Completion struct {
	Text         string
	Model        string
	InputTokens  int64
	OutputTokens int64
}

// Completer sends the system prompt, the instruction and the image to one vendor.
type Completer interface {
	Complete(ctx context.Context, prompt string, req contract.AnalysisRequest) (Completion, error)
}

type Adapter struct {
	id        contract.ProviderID
	guard     *resilience.Guard
	completer Completer
	now       func() time.Time
}

func NewAdapter(id contract.ProviderID, guard *resilience.Guard, completer Completer) *Adapter {
	return &Adapter{id: id, guard: guard, completer: completer, now: time.Now}
}

func (a *Adapter) ID() contract.ProviderID { return a.id }

func (a *Adapter) Status(context.Context) contract.ProviderStatus { return a.guard.Status() }

func (a *Adapter) Guard() *resilience.Guard { return a.guard }

func (a *Adapter) Analyze(ctx context.Context, req contract.AnalysisRequest) (*contract.AnalysisResult, error) {
	start := a.now()

	// Parsing runs inside the guard so malformed replies count against the breaker.
	return resilience.Execute(ctx, a.guard, "analyze", func(ctx context.Context) (*contract.AnalysisResult, error) {
		comp, err := a.completer.Complete(ctx, Prompt(req.Kind()), req)
		if err != nil {
			return nil, err
		}
		res, err := ParseAnalysis(a.id, req.Kind(), comp.Text)
		if err != nil {
			return nil, err
		}
		res.Timestamp = a.now()
		res.ProcessingTime = res.Timestamp.Sub(start)
		annotate(res.Metadata, comp)
		return res, nil
	})
}

func (a *Adapter) DetectFaces(ctx context.Context, req contract.AnalysisRequest) (*contract.FaceDetectionResult, error) {
	start := a.now()

	return resilience.Execute(ctx, a.guard, "detect_faces", func(ctx context.Context) (*contract.FaceDetectionResult, error) {
		comp, err := a.completer.Complete(ctx, Prompt(contract.KindFaceDetection), req)
		if err != nil {
			return nil, err
		}
		res, err := ParseFaces(a.id, comp.Text)
		if err != nil {
			return nil, err
		}
		res.Timestamp = a.now()
		res.ProcessingTime = res.Timestamp.Sub(start)
		annotate(res.Metadata, comp)
		return res, nil
	})
}

func annotate(md map[string]any, comp Completion) {
	if comp.Model != "" {
		md["model"] = comp.Model
	}
	if comp.InputTokens > 0 || comp.OutputTokens > 0 {
		md["input_tokens"] = comp.InputTokens
		md["output_tokens"] = comp.OutputTokens
	}
}
