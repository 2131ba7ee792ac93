package contract

import "time"

// BoundingBox is expressed as ratios of the image size (0..1).
type BoundingBox struct {
	Left   float64 `json:"left" yaml:"left"`
	Top    float64 `json:"top" yaml:"top"`
	Width  float64 `json:"width" yaml:"width"`
	Height float64 `json:"height" yaml:"height"`
}

func (b BoundingBox) Area() float64 { return b.Width * b.Height }

type Face struct {
	BoundingBox BoundingBox       `json:"bounding_box" yaml:"bounding_box"`
	Confidence  float64           `json:"confidence" yaml:"confidence"`
	Attributes  map[string]string `json:"attributes,omitempty" yaml:"attributes,omitempty"`
}

type DetectionQuality string

const (
	QualityExcellent DetectionQuality = "excellent"
	QualityGood      DetectionQuality = "good"
	QualityFair      DetectionQuality = "fair"
	QualityPoor      DetectionQuality = "poor"
)

type FaceDetectionResult struct {
	Provider       ProviderID       `json:"provider" yaml:"provider"`
	Faces          []Face           `json:"faces" yaml:"faces"`
	Confidence     float64          `json:"confidence" yaml:"confidence"`
	Quality        DetectionQuality `json:"quality" yaml:"quality"`
	Timestamp      time.Time        `json:"timestamp" yaml:"timestamp"`
	ProcessingTime time.Duration    `json:"processing_time" yaml:"processing_time"`
	Metadata       map[string]any   `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// Faces smaller than this share of the frame are too small to be useful downstream.
const minUsefulFaceArea = 0.0025

// AssessDetectionQuality grades a detection from the mean face confidence,
// penalising detections made only of tiny faces. No faces grades poor.
func AssessDetectionQuality(faces []Face) DetectionQuality {
	if len(faces) == 0 {
		return QualityPoor
	}

	var sum float64
	usable := 0
	for _, f := range faces {
		sum += f.Confidence
		if f.BoundingBox.Area() >= minUsefulFaceArea {
			usable++
		}
	}
	mean := sum / float64(len(faces))

	grade := QualityPoor
	switch {
	case mean >= 0.95:
		grade = QualityExcellent
	case mean >= 0.85:
		grade = QualityGood
	case mean >= 0.70:
		grade = QualityFair
	}

	if usable == 0 && grade != QualityPoor {
		return QualityFair
	}
	return grade
}

// MeanFaceConfidence is the overall confidence adapters report for a detection.
func MeanFaceConfidence(faces []Face) float64 {
	if len(faces) == 0 {
		return 0
	}
	var sum float64
	for _, f := range faces {
		sum += f.Confidence
	}
	return sum / float64(len(faces))
}
