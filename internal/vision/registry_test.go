package vision

import (
	"context"
	"testing"

	"github.com/harunnryd/kagami/internal/config"
	kagamiErrors "github.com/harunnryd/kagami/internal/errors"
	"github.com/harunnryd/kagami/internal/vision/contract"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func thresholds() config.ErrorThresholdsConfig {
	return config.ErrorThresholdsConfig{Consecutive: 5, Percentage: 50}
}

func TestBuildAdapters(t *testing.T) {
	adapters, err := BuildAdapters(context.Background(), []config.ProviderConfig{
		{ID: "openai"},
		{ID: "Anthropic", APIKey: "sk-ant-test"},
		{ID: "google", Disabled: true},
		{ID: "aws", Region: "eu-west-1"},
	}, thresholds())
	require.NoError(t, err)
	require.Len(t, adapters, 3)

	assert.Equal(t, contract.ProviderOpenAI, adapters[0].ID())
	assert.Equal(t, contract.ProviderAnthropic, adapters[1].ID())
	assert.Equal(t, contract.ProviderAWS, adapters[2].ID())

	ctx := context.Background()
	assert.Equal(t, contract.StatusUnavailable, adapters[0].Status(ctx), "missing key disables the adapter")
	assert.Equal(t, contract.StatusAvailable, adapters[1].Status(ctx))
}

func TestBuildAdapters_Rejects(t *testing.T) {
	tests := []struct {
		name      string
		providers []config.ProviderConfig
	}{
		{name: "duplicate", providers: []config.ProviderConfig{{ID: "openai"}, {ID: "OpenAI", Disabled: true}}},
		{name: "unknown", providers: []config.ProviderConfig{{ID: "azure"}}},
		{name: "bad duration", providers: []config.ProviderConfig{{ID: "openai", RequestTimeout: "soon"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := BuildAdapters(context.Background(), tt.providers, thresholds())
			assert.ErrorIs(t, err, kagamiErrors.ErrInvalidInput)
		})
	}
}
