package openai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/providers/llmvision"
	"github.com/harunnryd/kagami/internal/vision/resilience"

	"github.com/sashabaranov/go-openai"
)

const DefaultModel = "gpt-4o-mini"

type Completer struct {
	client *openai.Client
	model  string
}

// New builds the openai adapter. A missing API key yields an adapter that
// reports unavailable instead of an error, so the rest of the chain still runs.
func New(apiKey, baseURL, model string, settings resilience.Settings) *llmvision.Adapter {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	if model == "" {
		model = DefaultModel
	}

	settings.Provider = contract.ProviderOpenAI
	guard := resilience.NewGuard(settings, Classify)
	if apiKey == "" {
		guard.Disable("openai api key not configured")
	}

	return llmvision.NewAdapter(contract.ProviderOpenAI, guard, &Completer{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	})
}

func (c *Completer) Complete(ctx context.Context, prompt string, req contract.AnalysisRequest) (llmvision.Completion, error) {
	dataURI := fmt.Sprintf("data:%s;base64,%s", req.MIMEType(), base64.StdEncoding.EncodeToString(req.Image()))

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: llmvision.SystemPrompt},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{Type: openai.ChatMessagePartTypeText, Text: prompt},
					{Type: openai.ChatMessagePartTypeImageURL, ImageURL: &openai.ChatMessageImageURL{URL: dataURI, Detail: openai.ImageURLDetailAuto}},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject},
		Temperature:    0,
	})
	if err != nil {
		return llmvision.Completion{}, fmt.Errorf("openai request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llmvision.Completion{}, fmt.Errorf("openai returned no choices")
	}

	return llmvision.Completion{
		Text:         resp.Choices[0].Message.Content,
		Model:        resp.Model,
		InputTokens:  int64(resp.Usage.PromptTokens),
		OutputTokens: int64(resp.Usage.CompletionTokens),
	}, nil
}

// Classify maps go-openai error types before falling back to message matching.
func Classify(provider, operation string, err error) error {
	status := 0
	var apiErr *openai.APIError
	var reqErr *openai.RequestError
	switch {
	case errors.As(err, &apiErr):
		status = apiErr.HTTPStatusCode
		if apiErr.Type == "insufficient_quota" {
			return &kagamiErrors.RateLimitedError{Provider: provider, Operation: operation, Err: err}
		}
	case errors.As(err, &reqErr):
		status = reqErr.HTTPStatusCode
	}

	if status == http.StatusTooManyRequests {
		return &kagamiErrors.RateLimitedError{Provider: provider, Operation: operation, Err: err}
	}
	if status != 0 {
		return &kagamiErrors.ProviderError{Provider: provider, Operation: operation, Err: err}
	}
	return kagamiErrors.NewDefaultErrorMapper().MapError(provider, operation, err)
}
