// Package llmvision is the shared half of the three LLM-backed vision
// adapters: prompt text, response parsing and the Adapter that runs a
// vendor Completer under a resilience.Guard.
package llmvision

import (
	"fmt"

	"github.com/harunnryd/kagami/internal/vision/contract"
)

const SystemPrompt = `You are an image analysis service. Reply with a single JSON object and nothing else.
Confidences are numbers between 0 and 1. Never invent content you cannot see.`

const tagSchema = `{"tags":[{"label":string,"confidence":number,"category":string}],"confidence":number,"summary":string}`

const faceSchema = `{"faces":[{"bounding_box":{"left":number,"top":number,"width":number,"height":number},"confidence":number,"attributes":{string:string}}],"confidence":number}`

// Prompt is the user instruction sent with the image for kind.
func Prompt(kind contract.AnalysisKind) string {
	var task string
	switch kind {
	case contract.KindScene:
		task = "Describe the scene: setting, activity, time of day, and notable elements. Use category \"scene\" or \"activity\"."
	case contract.KindObject:
		task = "List the distinct objects visible in the image. Use the object class as category."
	case contract.KindText:
		task = "Transcribe every piece of legible text. One tag per line or word group; use category \"line\" or \"word\"."
	case contract.KindSentiment:
		task = "Judge the emotional tone of the people or the scene. Labels are emotions; use category \"emotion\"."
	case contract.KindFaceDetection:
		return fmt.Sprintf("Detect every human face. Bounding boxes are ratios of image width and height. "+
			"Attributes may include age_range, emotion, and smile. Respond with JSON shaped as %s. "+
			"Return an empty faces list when there are none.", faceSchema)
	default:
		task = "Describe the image."
	}

	return fmt.Sprintf("%s Order tags by confidence, highest first. Respond with JSON shaped as %s.", task, tagSchema)
}
