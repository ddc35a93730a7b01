package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// clearEnv blanks every variable Load reads so the host environment cannot leak in.
func clearEnv(t *testing.T) {
	t.Helper()
	keys := []string{
		"AI_PROVIDER", "API_TIMEOUT", "DEBUG", "SERVER_ADDR", "PORT", "FRONTEND_URL",
		"FEISHU_APP_ID", "FEISHU_APP_SECRET", "FEISHU_BASE_URL", "FEISHU_BATCH_SIZE", "FEISHU_BATCH_DELAY_MS",
		"OLLAMA_HOST", "OLLAMA_VISION",
	}
	for _, prefix := range envPrefixes {
		keys = append(keys, prefix+"_API_KEY", prefix+"_MODEL", prefix+"_BASE_URL", prefix+"_TIMEOUT")
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultProvider, cfg.Provider)
	assert.Equal(t, DefaultTimeout, cfg.TimeoutFor("gemini"))
	assert.Equal(t, DefaultAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultFrontend, cfg.Server.FrontendURL)
	assert.Equal(t, 50, cfg.BatchOptions().Size)
	assert.Equal(t, DefaultBatchDelay, cfg.BatchOptions().Delay)
}

func TestLoadTOMLThenEnv(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "config.toml", `
provider = "claude"
timeout = 45

[server]
addr = ":9000"

[feishu]
app_id = "cli_file"
app_secret = "file-secret"

[batch]
size = 20
delay_ms = 0

[llm.claude]
api_key = "file-key"
model = "claude-3-5-haiku-latest"
timeout = 90

[llm.ollama]
base_url = "http://gpu:11434"
vision = true
`)
	t.Setenv("ANTHROPIC_API_KEY", "env-key")
	t.Setenv("FEISHU_APP_ID", "cli_env")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "claude", cfg.Provider)
	assert.Equal(t, ":9000", cfg.Server.Addr)
	assert.Equal(t, "cli_env", cfg.Feishu.AppID)
	assert.Equal(t, "file-secret", cfg.Feishu.AppSecret)
	assert.Equal(t, 20, cfg.BatchOptions().Size)
	assert.Zero(t, cfg.BatchOptions().Delay)

	s := cfg.Settings("Anthropic")
	assert.Equal(t, "claude", s.Provider)
	assert.Equal(t, "env-key", s.APIKey)
	assert.Equal(t, "claude-3-5-haiku-latest", s.Model)
	assert.Equal(t, 90*time.Second, s.Timeout)

	o := cfg.Settings("ollama")
	assert.Equal(t, "http://gpu:11434", o.BaseURL)
	assert.True(t, o.Vision)
	assert.Equal(t, 45*time.Second, o.Timeout)
}

func TestLoadEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("AI_PROVIDER", "deepseek")
	t.Setenv("API_TIMEOUT", "12")
	t.Setenv("DEEPSEEK_API_KEY", "sk-ds")
	t.Setenv("QWEN_TIMEOUT", "60")
	t.Setenv("OLLAMA_HOST", "http://127.0.0.1:11434")
	t.Setenv("OLLAMA_VISION", "true")
	t.Setenv("PORT", "8080")
	t.Setenv("DEBUG", "1")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "deepseek", cfg.Provider)
	assert.True(t, cfg.Debug)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "sk-ds", cfg.Settings("deepseek").APIKey)
	assert.Equal(t, 12*time.Second, cfg.TimeoutFor("deepseek"))
	assert.Equal(t, 60*time.Second, cfg.TimeoutFor("qwen"))
	assert.Equal(t, "http://127.0.0.1:11434", cfg.Settings("ollama").BaseURL)
	assert.True(t, cfg.Settings("ollama").Vision)
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("FEISHU_BATCH_SIZE", "80")
	_, err := Load("")
	assert.Error(t, err)

	clearEnv(t)
	_, err = Load(writeFile(t, "bad.toml", "provider = [1"))
	assert.Error(t, err)

	_, err = Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)
}

func TestLoadRejectsUnparsableEnv(t *testing.T) {
	for key, value := range map[string]string{
		"API_TIMEOUT":       "abc",
		"FEISHU_BATCH_SIZE": "x",
		"QWEN_TIMEOUT":      "1.5",
		"DEBUG":             "maybe",
		"OLLAMA_VISION":     "yes please",
	} {
		t.Run(key, func(t *testing.T) {
			clearEnv(t)
			t.Setenv(key, value)
			_, err := Load("")
			require.Error(t, err)
			assert.Contains(t, err.Error(), key)
		})
	}
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	t.Setenv("GEMINI_MODEL", "from-env")
	t.Setenv("GEMINI_API_KEY", "")
	require.NoError(t, os.Unsetenv("GEMINI_API_KEY"))
	path := writeFile(t, ".env", "GEMINI_MODEL=from-file\nGEMINI_API_KEY=dotenv-key\n")

	require.NoError(t, LoadDotEnv(path))
	assert.Equal(t, "from-env", os.Getenv("GEMINI_MODEL"))
	assert.Equal(t, "dotenv-key", os.Getenv("GEMINI_API_KEY"))

	assert.NoError(t, LoadDotEnv(filepath.Join(t.TempDir(), "absent.env")))
}
