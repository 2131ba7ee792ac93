package rekognition

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/resilience"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/rekognition"
	"github.com/aws/aws-sdk-go-v2/service/rekognition/types"
	"github.com/aws/smithy-go"
)

const (
	maxLabels = 25
	// Rekognition reports 0..100; anything under this is noise for every kind.
	minConfidencePercent = 50
)

// API is the subset of the Rekognition client the adapter calls.
type API interface {
	DetectLabels(ctx context.Context, in *rekognition.DetectLabelsInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectLabelsOutput, error)
	DetectText(ctx context.Context, in *rekognition.DetectTextInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectTextOutput, error)
	DetectFaces(ctx context.Context, in *rekognition.DetectFacesInput, optFns ...func(*rekognition.Options)) (*rekognition.DetectFacesOutput, error)
}

type Adapter struct {
	api   API
	guard *resilience.Guard
	now   func() time.Time
}

// New loads the default AWS credential chain for region. A config that
// cannot be loaded leaves the adapter disabled.
func New(ctx context.Context, region, baseURL string, settings resilience.Settings) *Adapter {
	settings.Provider = contract.ProviderAWS

	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		slog.Warn("AWS config unavailable", "region", region, "error", err)
		a := NewWithAPI(nil, settings)
		a.guard.Disable("aws config load failed")
		return a
	}

	client := rekognition.NewFromConfig(cfg, func(o *rekognition.Options) {
		// The failover loop owns retries.
		o.RetryMaxAttempts = 1
		if baseURL != "" {
			o.BaseEndpoint = aws.String(baseURL)
		}
	})
	return NewWithAPI(client, settings)
}

func NewWithAPI(api API, settings resilience.Settings) *Adapter {
	settings.Provider = contract.ProviderAWS
	return &Adapter{
		api:   api,
		guard: resilience.NewGuard(settings, Classify),
		now:   time.Now,
	}
}

func (a *Adapter) ID() contract.ProviderID { return contract.ProviderAWS }

func (a *Adapter) Status(context.Context) contract.ProviderStatus { return a.guard.Status() }

func (a *Adapter) Guard() *resilience.Guard { return a.guard }

func (a *Adapter) Analyze(ctx context.Context, req contract.AnalysisRequest) (*contract.AnalysisResult, error) {
	start := a.now()

	return resilience.Execute(ctx, a.guard, "analyze", func(ctx context.Context) (*contract.AnalysisResult, error) {
		if a.api == nil {
			return nil, errors.New("rekognition client not initialised")
		}
		image := &types.Image{Bytes: req.Image()}

		var (
			tags []contract.Tag
			md   = map[string]any{}
		)
		switch req.Kind() {
		case contract.KindScene, contract.KindObject:
			out, err := a.api.DetectLabels(ctx, &rekognition.DetectLabelsInput{
				Image:         image,
				MaxLabels:     aws.Int32(maxLabels),
				MinConfidence: aws.Float32(minConfidencePercent),
			})
			if err != nil {
				return nil, err
			}
			tags = labelTags(out.Labels, req.Kind() == contract.KindObject)
			if v := aws.ToString(out.LabelModelVersion); v != "" {
				md["model"] = "rekognition-labels-" + v
			}

		case contract.KindText:
			out, err := a.api.DetectText(ctx, &rekognition.DetectTextInput{Image: image})
			if err != nil {
				return nil, err
			}
			tags = textTags(out.TextDetections)
			if v := aws.ToString(out.TextModelVersion); v != "" {
				md["model"] = "rekognition-text-" + v
			}

		case contract.KindSentiment:
			out, err := a.detectFaces(ctx, image)
			if err != nil {
				return nil, err
			}
			tags = emotionTags(out.FaceDetails)
			md["faces"] = len(out.FaceDetails)

		default:
			return nil, kagamiErrors.InvalidInput(fmt.Sprintf("rekognition cannot analyze %q", req.Kind()))
		}

		res := &contract.AnalysisResult{
			Provider:   contract.ProviderAWS,
			Kind:       req.Kind(),
			Tags:       tags,
			Confidence: meanTagConfidence(tags),
			Metadata:   md,
		}
		res.Timestamp = a.now()
		res.ProcessingTime = res.Timestamp.Sub(start)
		return res, nil
	})
}

func (a *Adapter) DetectFaces(ctx context.Context, req contract.AnalysisRequest) (*contract.FaceDetectionResult, error) {
	start := a.now()

	return resilience.Execute(ctx, a.guard, "detect_faces", func(ctx context.Context) (*contract.FaceDetectionResult, error) {
		if a.api == nil {
			return nil, errors.New("rekognition client not initialised")
		}
		out, err := a.detectFaces(ctx, &types.Image{Bytes: req.Image()})
		if err != nil {
			return nil, err
		}

		faces := make([]contract.Face, 0, len(out.FaceDetails))
		for _, d := range out.FaceDetails {
			faces = append(faces, toFace(d))
		}

		res := &contract.FaceDetectionResult{
			Provider:   contract.ProviderAWS,
			Faces:      faces,
			Confidence: contract.MeanFaceConfidence(faces),
			Quality:    contract.AssessDetectionQuality(faces),
			Metadata:   map[string]any{},
		}
		res.Timestamp = a.now()
		res.ProcessingTime = res.Timestamp.Sub(start)
		return res, nil
	})
}

func (a *Adapter) detectFaces(ctx context.Context, image *types.Image) (*rekognition.DetectFacesOutput, error) {
	return a.api.DetectFaces(ctx, &rekognition.DetectFacesInput{
		Image:      image,
		Attributes: []types.Attribute{types.AttributeAll},
	})
}

func ratio(percent *float32) float64 {
	v := float64(aws.ToFloat32(percent)) / 100
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func sortTags(tags []contract.Tag) {
	sort.SliceStable(tags, func(i, j int) bool { return tags[i].Confidence > tags[j].Confidence })
}

func meanTagConfidence(tags []contract.Tag) float64 {
	if len(tags) == 0 {
		return 0
	}
	var sum float64
	for _, t := range tags {
		sum += t.Confidence
	}
	return sum / float64(len(tags))
}

// labelTags keeps only localised labels (those with instances) for object detection.
func labelTags(labels []types.Label, objectsOnly bool) []contract.Tag {
	tags := make([]contract.Tag, 0, len(labels))
	for _, l := range labels {
		name := strings.TrimSpace(aws.ToString(l.Name))
		if name == "" {
			continue
		}
		if objectsOnly && len(l.Instances) == 0 {
			continue
		}
		tag := contract.Tag{Label: name, Confidence: ratio(l.Confidence)}
		if objectsOnly {
			tag.Category = "object"
		} else if len(l.Categories) > 0 {
			tag.Category = aws.ToString(l.Categories[0].Name)
		}
		tags = append(tags, tag)
	}
	sortTags(tags)
	return tags
}

// textTags keeps whole lines; words would duplicate them.
func textTags(detections []types.TextDetection) []contract.Tag {
	tags := make([]contract.Tag, 0, len(detections))
	for _, d := range detections {
		if d.Type != types.TextTypesLine {
			continue
		}
		text := strings.TrimSpace(aws.ToString(d.DetectedText))
		if text == "" {
			continue
		}
		tags = append(tags, contract.Tag{Label: text, Confidence: ratio(d.Confidence), Category: "text"})
	}
	sortTags(tags)
	return tags
}

// emotionTags reports each face's dominant emotion once, at its highest confidence.
func emotionTags(details []types.FaceDetail) []contract.Tag {
	best := map[string]float64{}
	for _, d := range details {
		name, conf := dominantEmotion(d.Emotions)
		if name == "" {
			continue
		}
		if conf > best[name] {
			best[name] = conf
		}
	}

	tags := make([]contract.Tag, 0, len(best))
	for name, conf := range best {
		tags = append(tags, contract.Tag{Label: name, Confidence: conf, Category: "emotion"})
	}
	sort.Slice(tags, func(i, j int) bool {
		if tags[i].Confidence != tags[j].Confidence {
			return tags[i].Confidence > tags[j].Confidence
		}
		return tags[i].Label < tags[j].Label
	})
	return tags
}

func dominantEmotion(emotions []types.Emotion) (string, float64) {
	var (
		name string
		conf float64
	)
	for _, e := range emotions {
		if c := ratio(e.Confidence); c > conf {
			name, conf = strings.ToLower(string(e.Type)), c
		}
	}
	return name, conf
}

func toFace(d types.FaceDetail) contract.Face {
	face := contract.Face{Confidence: ratio(d.Confidence)}
	if b := d.BoundingBox; b != nil {
		face.BoundingBox = contract.BoundingBox{
			Left:   clampBox(b.Left),
			Top:    clampBox(b.Top),
			Width:  clampBox(b.Width),
			Height: clampBox(b.Height),
		}
	}

	attrs := map[string]string{}
	if name, _ := dominantEmotion(d.Emotions); name != "" {
		attrs["emotion"] = name
	}
	if r := d.AgeRange; r != nil {
		attrs["age_range"] = fmt.Sprintf("%d-%d", aws.ToInt32(r.Low), aws.ToInt32(r.High))
	}
	if s := d.Smile; s != nil {
		attrs["smile"] = fmt.Sprint(s.Value != nil && *s.Value)
	}
	if len(attrs) > 0 {
		face.Attributes = attrs
	}
	return face
}

// Rekognition boxes are already ratios but may spill past the frame edge.
func clampBox(v *float32) float64 {
	f := float64(aws.ToFloat32(v))
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

var throttlingCodes = map[string]bool{
	"ThrottlingException":                    true,
	"ProvisionedThroughputExceededException": true,
	"LimitExceededException":                 true,
	"TooManyRequestsException":               true,
}

// Classify maps smithy API error codes.
func Classify(provider, operation string, err error) error {
	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return kagamiErrors.NewDefaultErrorMapper().MapError(provider, operation, err)
	}

	if throttlingCodes[apiErr.ErrorCode()] {
		return &kagamiErrors.RateLimitedError{
			Provider:  provider,
			Operation: operation,
			Err:       fmt.Errorf("rekognition %s", apiErr.ErrorCode()),
		}
	}
	return &kagamiErrors.ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("rekognition %s: %w", apiErr.ErrorCode(), err)}
}
