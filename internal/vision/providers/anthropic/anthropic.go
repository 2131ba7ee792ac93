package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/providers/llmvision"
	"github.com/harunnryd/kagami/internal/vision/resilience"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const (
	DefaultModel = string(anthropic.ModelClaude3_5HaikuLatest)
	maxTokens    = 1024
)

type Completer struct {
	client anthropic.Client
	model  string
}

func New(apiKey, baseURL, model string, settings resilience.Settings) *llmvision.Adapter {
	// Retries belong to the failover loop, not the SDK.
	opts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if model == "" {
		model = DefaultModel
	}

	settings.Provider = contract.ProviderAnthropic
	guard := resilience.NewGuard(settings, Classify)
	if apiKey == "" {
		guard.Disable("anthropic api key not configured")
	}

	return llmvision.NewAdapter(contract.ProviderAnthropic, guard, &Completer{
		client: anthropic.NewClient(opts...),
		model:  model,
	})
}

func (c *Completer) Complete(ctx context.Context, prompt string, req contract.AnalysisRequest) (llmvision.Completion, error) {
	image := anthropic.NewImageBlockBase64(req.MIMEType(), base64.StdEncoding.EncodeToString(req.Image()))

	msg, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: maxTokens,
		System:    []anthropic.TextBlockParam{{Text: llmvision.SystemPrompt}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(image, anthropic.NewTextBlock(prompt)),
		},
	})
	if err != nil {
		return llmvision.Completion{}, fmt.Errorf("anthropic request failed: %w", err)
	}

	var text strings.Builder
	for _, block := range msg.Content {
		if b, ok := block.AsAny().(anthropic.TextBlock); ok {
			text.WriteString(b.Text)
		}
	}

	return llmvision.Completion{
		Text:         text.String(),
		Model:        string(msg.Model),
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// Classify reads the HTTP status off the SDK error. 429 and 529 (overloaded)
// are throttling; Retry-After is honoured when present.
func Classify(provider, operation string, err error) error {
	var apiErr *anthropic.Error
	if !errors.As(err, &apiErr) {
		return kagamiErrors.NewDefaultErrorMapper().MapError(provider, operation, err)
	}

	switch apiErr.StatusCode {
	case http.StatusTooManyRequests, 529:
		return &kagamiErrors.RateLimitedError{
			Provider:   provider,
			Operation:  operation,
			RetryAfter: retryAfter(apiErr.Response),
			Err:        fmt.Errorf("anthropic status %d", apiErr.StatusCode),
		}
	default:
		return &kagamiErrors.ProviderError{Provider: provider, Operation: operation, Err: fmt.Errorf("anthropic status %d: %w", apiErr.StatusCode, err)}
	}
}

func retryAfter(resp *http.Response) time.Duration {
	if resp == nil {
		return 0
	}
	v := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
