package switchboard

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/llitpux/cogstream/internal/config"
)

func TestBuildErrorsWhenNoProviderIsConfigured(t *testing.T) {
	_, err := Build(config.ProvidersConfig{}, nil)
	assert.Error(t, err)
}

func TestBuildOnlyRegistersConfiguredProviders(t *testing.T) {
	sb, err := Build(config.ProvidersConfig{
		Order:     []string{"anthropic", "cli_gemini"},
		Anthropic: config.AnthropicConfig{APIKey: "sk-test", Model: "claude"},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, sb)

	_, ok := sb.providers["anthropic"]
	assert.True(t, ok, "anthropic should be registered once an api key is configured")
	_, ok = sb.providers["openai_compatible"]
	assert.False(t, ok, "openai should stay unregistered without an api key")
	_, ok = sb.providers["cli_gemini"]
	assert.False(t, ok, "the cli provider should stay unregistered without a command")
}

func TestBuildRegistersCLIProviderPerOrderName(t *testing.T) {
	sb, err := Build(config.ProvidersConfig{
		Order: []string{"cli_gemini", "cli_claude"},
		CLI:   config.CLIProviderConfig{Command: "gemini-cli"},
	}, nil)
	require.NoError(t, err)

	_, ok := sb.providers["cli_gemini"]
	assert.True(t, ok)
	_, ok = sb.providers["cli_claude"]
	assert.True(t, ok)
}
