package contract

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
)

type ProviderID string

const (
	ProviderOpenAI    ProviderID = "openai"
	ProviderAWS       ProviderID = "aws"
	ProviderGoogle    ProviderID = "google"
	ProviderAnthropic ProviderID = "anthropic"
)

func (id ProviderID) String() string { return string(id) }

type ProviderStatus string

const (
	StatusAvailable   ProviderStatus = "available"
	StatusDegraded    ProviderStatus = "degraded"
	StatusRateLimited ProviderStatus = "rate_limited"
	StatusUnavailable ProviderStatus = "unavailable"
)

// IsUsable reports whether the orchestrator may send work to a provider in this state.
func (s ProviderStatus) IsUsable() bool { return s == StatusAvailable }

type AnalysisKind string

const (
	KindScene         AnalysisKind = "scene"
	KindObject        AnalysisKind = "object"
	KindText          AnalysisKind = "text"
	KindSentiment     AnalysisKind = "sentiment"
	KindFaceDetection AnalysisKind = "face_detection"
)

var analysisKinds = []AnalysisKind{KindScene, KindObject, KindText, KindSentiment, KindFaceDetection}

func (k AnalysisKind) Valid() bool {
	for _, known := range analysisKinds {
		if k == known {
			return true
		}
	}
	return false
}

func ParseAnalysisKind(s string) (AnalysisKind, error) {
	kind := AnalysisKind(strings.ToLower(strings.TrimSpace(s)))
	if kind == "faces" || kind == "face" {
		kind = KindFaceDetection
	}
	if !kind.Valid() {
		return "", kagamiErrors.InvalidInput(fmt.Sprintf("unknown analysis kind %q", s))
	}
	return kind, nil
}

// AnalysisRequest is immutable: the image is copied in and copied out.
type AnalysisRequest struct {
	image    []byte
	mimeType string
	kind     AnalysisKind
}

// NewAnalysisRequest validates and snapshots the payload. An empty mimeType is sniffed.
func NewAnalysisRequest(image []byte, mimeType string, kind AnalysisKind) (AnalysisRequest, error) {
	if len(image) == 0 {
		return AnalysisRequest{}, kagamiErrors.InvalidInput("image payload is empty")
	}
	if !kind.Valid() {
		return AnalysisRequest{}, kagamiErrors.InvalidInput(fmt.Sprintf("unknown analysis kind %q", kind))
	}

	mimeType = strings.TrimSpace(mimeType)
	if mimeType == "" {
		mimeType = http.DetectContentType(image)
	}
	if !strings.HasPrefix(mimeType, "image/") {
		return AnalysisRequest{}, kagamiErrors.InvalidInput(fmt.Sprintf("payload is not an image (%s)", mimeType))
	}

	buf := make([]byte, len(image))
	copy(buf, image)

	return AnalysisRequest{image: buf, mimeType: mimeType, kind: kind}, nil
}

func (r AnalysisRequest) Image() []byte {
	buf := make([]byte, len(r.image))
	copy(buf, r.image)
	return buf
}

func (r AnalysisRequest) Size() int { return len(r.image) }
func (r AnalysisRequest) MIMEType() string { return r.mimeType }
func (r AnalysisRequest) Kind() AnalysisKind { return r.kind }
func (r AnalysisRequest) IsZero() bool { return len(r.image) == 0 }

type Tag struct {
	Label      string  `json:"label" yaml:"label"`
	Confidence float64 `json:"confidence" yaml:"confidence"`
	Category   string  `json:"category,omitempty" yaml:"category,omitempty"`
}

type AnalysisResult struct {
	Provider       ProviderID     `json:"provider" yaml:"provider"`
	Kind           AnalysisKind   `json:"kind" yaml:"kind"`
	Tags           []Tag          `json:"tags" yaml:"tags"`
	Confidence     float64        `json:"confidence" yaml:"confidence"`
	Timestamp      time.Time      `json:"timestamp" yaml:"timestamp"`
	ProcessingTime time.Duration  `json:"processing_time" yaml:"processing_time"`
	Metadata       map[string]any `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}
