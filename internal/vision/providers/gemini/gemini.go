package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/providers/llmvision"
	"github.com/harunnryd/kagami/internal/vision/resilience"

	"google.golang.org/genai"
)

const DefaultModel = "gemini-2.0-flash"

type Completer struct {
	client *genai.Client
	model  string
}

// New never fails: a client that cannot be built leaves the adapter disabled
// so the provider shows up as unavailable instead of aborting startup.
func New(ctx context.Context, apiKey, baseURL, model string, settings resilience.Settings) *llmvision.Adapter {
	if model == "" {
		model = DefaultModel
	}

	settings.Provider = contract.ProviderGoogle
	guard := resilience.NewGuard(settings, Classify)
	completer := &Completer{model: model}

	if apiKey == "" {
		guard.Disable("gemini api key not configured")
		return llmvision.NewAdapter(contract.ProviderGoogle, guard, completer)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      apiKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: baseURL},
	})
	if err != nil {
		slog.Warn("Gemini client unavailable", "error", err)
		guard.Disable("gemini client init failed")
	}
	completer.client = client

	return llmvision.NewAdapter(contract.ProviderGoogle, guard, completer)
}

func (c *Completer) Complete(ctx context.Context, prompt string, req contract.AnalysisRequest) (llmvision.Completion, error) {
	if c.client == nil {
		return llmvision.Completion{}, errors.New("gemini client not initialised")
	}

	content := genai.NewContentFromParts([]*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(req.Image(), req.MIMEType()),
	}, genai.RoleUser)

	resp, err := c.client.Models.GenerateContent(ctx, c.model, []*genai.Content{content}, &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(llmvision.SystemPrompt, genai.RoleUser),
		ResponseMIMEType:  "application/json",
	})
	if err != nil {
		return llmvision.Completion{}, fmt.Errorf("gemini request failed: %w", err)
	}

	comp := llmvision.Completion{Text: resp.Text(), Model: c.model}
	if resp.ModelVersion != "" {
		comp.Model = resp.ModelVersion
	}
	if resp.UsageMetadata != nil {
		comp.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		comp.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	return comp, nil
}

// Classify maps genai.APIError. The SDK returns it by value.
func Classify(provider, operation string, err error) error {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		var ptr *genai.APIError
		if !errors.As(err, &ptr) || ptr == nil {
			return kagamiErrors.NewDefaultErrorMapper().MapError(provider, operation, err)
		}
		apiErr = *ptr
	}

	if apiErr.Code == http.StatusTooManyRequests || strings.Contains(strings.ToUpper(apiErr.Status), "RESOURCE_EXHAUSTED") {
		return &kagamiErrors.RateLimitedError{
			Provider:  provider,
			Operation: operation,
			Err:       fmt.Errorf("gemini status %d %s", apiErr.Code, apiErr.Status),
		}
	}
	return &kagamiErrors.ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("gemini status %d: %w", apiErr.Code, err)}
}
