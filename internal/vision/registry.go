package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/harunnryd/kagami/internal/config"
	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"
	"github.com/harunnryd/kagami/internal/vision/providers/anthropic"
	"github.com/harunnryd/kagami/internal/vision/providers/gemini"
	"github.com/harunnryd/kagami/internal/vision/providers/openai"
	"github.com/harunnryd/kagami/internal/vision/providers/rekognition"
	"github.com/harunnryd/kagami/internal/vision/resilience"
)

// BuildAdapters constructs one adapter per enabled provider entry. Entries
// without credentials still produce an adapter; it reports unavailable.
func BuildAdapters(ctx context.Context, providers []config.ProviderConfig, thresholds config.ErrorThresholdsConfig) ([]Adapter, error) {
	adapters := make([]Adapter, 0, len(providers))
	seen := make(map[contract.ProviderID]bool, len(providers))

	for _, p := range providers {
		id := contract.ProviderID(strings.ToLower(strings.TrimSpace(p.ID)))
		if seen[id] {
			return nil, kagamiErrors.InvalidInput(fmt.Sprintf("provider %q configured twice", id))
		}
		seen[id] = true

		if p.Disabled {
			continue
		}

		settings, err := resilience.SettingsFrom(p, thresholds)
		if err != nil {
			return nil, kagamiErrors.WrapWithCategory(err, "invalid provider settings", kagamiErrors.ErrInvalidInput)
		}

		var a Adapter
		switch id {
		case contract.ProviderOpenAI:
			a = openai.New(p.APIKey, p.BaseURL, p.Model, settings)
		case contract.ProviderAnthropic:
			a = anthropic.New(p.APIKey, p.BaseURL, p.Model, settings)
		case contract.ProviderGoogle:
			a = gemini.New(ctx, p.APIKey, p.BaseURL, p.Model, settings)
		case contract.ProviderAWS:
			a = rekognition.New(ctx, p.Region, p.BaseURL, settings)
		default:
			return nil, kagamiErrors.InvalidInput(fmt.Sprintf("unknown provider %q", p.ID))
		}
		adapters = append(adapters, a)
	}

	return adapters, nil
}
