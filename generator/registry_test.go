package generator

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSelectIsCaseInsensitive(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"mock", "MOCK", " Mock "} {
		b, err := r.Select(name, LLMSettings{})
		require.NoError(t, err, name)
		assert.Equal(t, "mock", b.Name())
	}
}

func TestSelectUnknownBackend(t *testing.T) {
	_, err := NewRegistry().Select("gpt-neo", LLMSettings{APIKey: "k"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnsupportedBackend))
}

func TestSelectMissingCredentialFailsAtConstruction(t *testing.T) {
	r := NewRegistry()
	for _, name := range []string{"openai", "deepseek", "gemini", "qwen", "claude", "ollama"} {
		t.Run(name, func(t *testing.T) {
			_, err := r.Select(name, LLMSettings{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMisconfiguredBackend), "got %v", err)
		})
	}
}

func TestSelectAliasesAndCapabilities(t *testing.T) {
	r := NewRegistry()

	b, err := r.Select("Anthropic", LLMSettings{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "claude", b.Name())
	assert.True(t, b.Capabilities().Has(CapMultimodal))

	b, err = r.Select("DeepSeek", LLMSettings{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "deepseek", b.Name())
	assert.False(t, b.Capabilities().Has(CapMultimodal))

	b, err = r.Select("qwen-vl", LLMSettings{APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "qwen", b.Name())

	b, err = r.Select("ollama", LLMSettings{BaseURL: "http://localhost:11434", Vision: true})
	require.NoError(t, err)
	assert.True(t, b.Capabilities().Has(CapMultimodal))
}

func TestRegisterCustomBackend(t *testing.T) {
	r := NewRegistry()
	r.Register("Local", func(LLMSettings) (Backend, error) { return &MockLLM{}, nil }, "dev")

	key, ok := r.Canonical("DEV")
	require.True(t, ok)
	assert.Equal(t, "local", key)
	assert.Contains(t, r.Names(), "local")
}
