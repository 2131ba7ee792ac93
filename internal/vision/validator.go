package vision

import (
	"fmt"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
)

// ResultValidator decides whether a successful vendor response is good
// enough to return. It holds no state besides its thresholds.
type ResultValidator struct {
	minConfidence float64
	globalTimeout time.Duration
}

func NewResultValidator(cfg FailoverConfig) ResultValidator {
	return ResultValidator{minConfidence: cfg.MinConfidence, globalTimeout: cfg.GlobalTimeout}
}

// ValidateAnalysis returns nil or a *ValidationFailedError listing every failed check.
func (v ResultValidator) ValidateAnalysis(provider contract.ProviderID, res *contract.AnalysisResult) error {
	if res == nil {
		return v.reject(provider, []string{"empty result"})
	}

	reasons := v.common(provider, res.Provider, res.Confidence, res.ProcessingTime)
	if len(res.Tags) == 0 {
		reasons = append(reasons, "no tags returned")
	}
	return v.reject(provider, reasons)
}

// ValidateFaces applies the analysis checks plus the detection-quality gate.
// A result that did not grade itself is graded here.
func (v ResultValidator) ValidateFaces(provider contract.ProviderID, res *contract.FaceDetectionResult) error {
	if res == nil {
		return v.reject(provider, []string{"empty result"})
	}

	reasons := v.common(provider, res.Provider, res.Confidence, res.ProcessingTime)
	if len(res.Faces) == 0 {
		reasons = append(reasons, "no faces returned")
	}

	quality := res.Quality
	if quality == "" {
		quality = contract.AssessDetectionQuality(res.Faces)
	}
	if quality == contract.QualityPoor {
		reasons = append(reasons, "detection quality is poor")
	}
	return v.reject(provider, reasons)
}

func (v ResultValidator) common(expected, reported contract.ProviderID, confidence float64, took time.Duration) []string {
	var reasons []string
	if reported != expected {
		reasons = append(reasons, fmt.Sprintf("result claims provider %q", reported))
	}
	// Written so that a NaN confidence also fails.
	if !(confidence >= v.minConfidence) {
		reasons = append(reasons, fmt.Sprintf("confidence %.2f below minimum %.2f", confidence, v.minConfidence))
	}
	if took >= v.globalTimeout {
		reasons = append(reasons, fmt.Sprintf("processing time %s not below global timeout %s", took, v.globalTimeout))
	}
	return reasons
}

func (v ResultValidator) reject(provider contract.ProviderID, reasons []string) error {
	if len(reasons) == 0 {
		return nil
	}
	return &kagamiErrors.ValidationFailedError{Provider: string(provider), Reasons: reasons}
}
