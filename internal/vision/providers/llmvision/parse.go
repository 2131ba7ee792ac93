package llmvision

import (
	"fmt"
	"sort"
	"strings"

	"github.com/harunnryd/kagami/internal/vision/contract"

	"github.com/goccy/go-json"
)

type tagPayload struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Category   string  `json:"category"`
}

type facePayload struct {
	BoundingBox contract.BoundingBox `json:"bounding_box"`
	Confidence  float64              `json:"confidence"`
	Attributes  map[string]any       `json:"attributes"`
}

type payload struct {
	Tags       []tagPayload  `json:"tags"`
	Faces      []facePayload `json:"faces"`
	Confidence *float64      `json:"confidence"`
	Summary    string        `json:"summary"`
}

// StripFence removes a markdown code fence some models wrap JSON in.
func StripFence(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func decode(raw string) (payload, error) {
	var p payload
	body := StripFence(raw)
	if body == "" {
		return p, fmt.Errorf("invalid json response: empty body")
	}
	if err := json.Unmarshal([]byte(body), &p); err != nil {
		return p, fmt.Errorf("invalid json response: %w", err)
	}
	return p, nil
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ParseAnalysis builds a result from the model's JSON. Overall confidence
// falls back to the mean tag confidence when the model omits it.
func ParseAnalysis(provider contract.ProviderID, kind contract.AnalysisKind, raw string) (*contract.AnalysisResult, error) {
	p, err := decode(raw)
	if err != nil {
		return nil, err
	}

	tags := make([]contract.Tag, 0, len(p.Tags))
	var sum float64
	for _, t := range p.Tags {
		label := strings.TrimSpace(t.Label)
		if label == "" {
			continue
		}
		c := clamp01(t.Confidence)
		sum += c
		tags = append(tags, contract.Tag{Label: label, Confidence: c, Category: strings.TrimSpace(t.Category)})
	}
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Confidence > tags[j].Confidence })

	confidence := 0.0
	switch {
	case p.Confidence != nil:
		confidence = clamp01(*p.Confidence)
	case len(tags) > 0:
		confidence = sum / float64(len(tags))
	}

	res := &contract.AnalysisResult{
		Provider:   provider,
		Kind:       kind,
		Tags:       tags,
		Confidence: confidence,
		Metadata:   map[string]any{},
	}
	if p.Summary != "" {
		res.Metadata["summary"] = p.Summary
	}
	return res, nil
}

// ParseFaces builds a face detection result and grades it.
func ParseFaces(provider contract.ProviderID, raw string) (*contract.FaceDetectionResult, error) {
	p, err := decode(raw)
	if err != nil {
		return nil, err
	}

	faces := make([]contract.Face, 0, len(p.Faces))
	for _, f := range p.Faces {
		box := contract.BoundingBox{
			Left:   clamp01(f.BoundingBox.Left),
			Top:    clamp01(f.BoundingBox.Top),
			Width:  clamp01(f.BoundingBox.Width),
			Height: clamp01(f.BoundingBox.Height),
		}
		face := contract.Face{BoundingBox: box, Confidence: clamp01(f.Confidence)}
		if len(f.Attributes) > 0 {
			face.Attributes = make(map[string]string, len(f.Attributes))
			for k, v := range f.Attributes {
				face.Attributes[k] = fmt.Sprint(v)
			}
		}
		faces = append(faces, face)
	}

	confidence := contract.MeanFaceConfidence(faces)
	if p.Confidence != nil && len(faces) > 0 {
		confidence = clamp01(*p.Confidence)
	}

	return &contract.FaceDetectionResult{
		Provider:   provider,
		Faces:      faces,
		Confidence: confidence,
		Quality:    contract.AssessDetectionQuality(faces),
		Metadata:   map[string]any{},
	}, nil
}
