// Package config loads service settings from an optional TOML file, a .env
// file and the process environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"

	"feishu_article_studio/generator"
	"feishu_article_studio/publisher"
)

const (
	DefaultProvider   = "gemini"
	DefaultTimeout    = 30 * time.Second
	DefaultAddr       = ":8000"
	DefaultFrontend   = "http://localhost:3000"
	DefaultBatchDelay = 200 * time.Millisecond
)

// Config holds every setting the service reads.
type Config struct {
	Provider string `toml:"provider"`
	// Timeout is the default backend timeout in seconds.
	Timeout int  `toml:"timeout"`
	Debug   bool `toml:"debug"`

	Server ServerConfig         `toml:"server"`
	Feishu FeishuConfig         `toml:"feishu"`
	Batch  BatchConfig          `toml:"batch"`
	LLM    map[string]LLMConfig `toml:"llm"`
}

type ServerConfig struct {
	Addr        string `toml:"addr"`
	FrontendURL string `toml:"frontend_url"`
}

type FeishuConfig struct {
	AppID     string `toml:"app_id"`
	AppSecret string `toml:"app_secret"`
	BaseURL   string `toml:"base_url"`
}

type BatchConfig struct {
	Size    int `toml:"size"`
	DelayMS int `toml:"delay_ms"`
}

// LLMConfig 单个模型后端的配置，键为后端名。
type LLMConfig struct {
	APIKey  string `toml:"api_key"`
	Model   string `toml:"model"`
	BaseURL string `toml:"base_url"`
	Timeout int    `toml:"timeout"`
	Vision  bool   `toml:"vision"`
}

// envPrefixes maps backend names to their environment variable prefix.
var envPrefixes = map[string]string{
	"gemini":   "GEMINI",
	"deepseek": "DEEPSEEK",
	"qwen":     "QWEN",
	"openai":   "OPENAI",
	"claude":   "ANTHROPIC",
	"ollama":   "OLLAMA",
}

func defaults() *Config {
	return &Config{
		Provider: DefaultProvider,
		Timeout:  int(DefaultTimeout / time.Second),
		Server:   ServerConfig{Addr: DefaultAddr, FrontendURL: DefaultFrontend},
		Batch:    BatchConfig{Size: publisher.MaxBatchSize, DelayMS: int(DefaultBatchDelay / time.Millisecond)},
		LLM:      map[string]LLMConfig{},
	}
}

// Load reads path (skipped when empty), then .env in the working directory,
// then the environment.
func Load(path string) (*Config, error) {
	cfg := defaults()
	if path != "" {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("error parsing config file %s: %w", path, err)
		}
		if cfg.LLM == nil {
			cfg.LLM = map[string]LLMConfig{}
		}
	}
	if err := LoadDotEnv(".env"); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

// LoadDotEnv loads variables from a .env file without overriding ones already
// set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("failed to check if .env file exists: %w", err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("could not load %s: %w", path, err)
	}
	return nil
}

// applyEnv overlays the environment; every unparsable value is reported.
func (c *Config) applyEnv() error {
	var errs []error
	setInt := func(dst *int, key string) { errs = append(errs, parseInt(dst, key)) }
	setBool := func(dst *bool, key string) { errs = append(errs, parseBool(dst, key)) }

	setString(&c.Provider, "AI_PROVIDER")
	setInt(&c.Timeout, "API_TIMEOUT")
	setBool(&c.Debug, "DEBUG")

	setString(&c.Server.Addr, "SERVER_ADDR")
	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" && os.Getenv("SERVER_ADDR") == "" {
		c.Server.Addr = ":" + port
	}
	setString(&c.Server.FrontendURL, "FRONTEND_URL")

	setString(&c.Feishu.AppID, "FEISHU_APP_ID")
	setString(&c.Feishu.AppSecret, "FEISHU_APP_SECRET")
	setString(&c.Feishu.BaseURL, "FEISHU_BASE_URL")
	setInt(&c.Batch.Size, "FEISHU_BATCH_SIZE")
	setInt(&c.Batch.DelayMS, "FEISHU_BATCH_DELAY_MS")

	for name, prefix := range envPrefixes {
		llm := c.LLM[name]
		setString(&llm.APIKey, prefix+"_API_KEY")
		setString(&llm.Model, prefix+"_MODEL")
		setString(&llm.BaseURL, prefix+"_BASE_URL")
		setInt(&llm.Timeout, prefix+"_TIMEOUT")
		if name == "ollama" {
			setString(&llm.BaseURL, "OLLAMA_HOST")
			setBool(&llm.Vision, "OLLAMA_VISION")
		}
		if llm != (LLMConfig{}) {
			c.LLM[name] = llm
		}
	}
	return errors.Join(errs...)
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.Provider) == "" {
		return errors.New("provider must not be empty")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive, got %d", c.Timeout)
	}
	if c.Batch.Size <= 0 || c.Batch.Size > publisher.MaxBatchSize {
		return fmt.Errorf("batch size must be within 1..%d, got %d", publisher.MaxBatchSize, c.Batch.Size)
	}
	return nil
}

// Settings returns the backend settings for name; aliases resolve through
// the registry's canonical names.
func (c *Config) Settings(name string) generator.LLMSettings {
	key := strings.ToLower(strings.TrimSpace(name))
	if canonical, ok := generator.NewRegistry().Canonical(key); ok {
		key = canonical
	}
	llm := c.LLM[key]
	return generator.LLMSettings{
		Provider: key,
		Model:    llm.Model,
		APIKey:   llm.APIKey,
		BaseURL:  llm.BaseURL,
		Timeout:  c.TimeoutFor(key),
		Vision:   llm.Vision,
	}
}

// TimeoutFor returns the backend's own timeout, falling back to the default.
func (c *Config) TimeoutFor(name string) time.Duration {
	if llm, ok := c.LLM[strings.ToLower(name)]; ok && llm.Timeout > 0 {
		return time.Duration(llm.Timeout) * time.Second
	}
	return time.Duration(c.Timeout) * time.Second
}

func (c *Config) BatchOptions() publisher.BatchOptions {
	return publisher.BatchOptions{
		Size:  c.Batch.Size,
		Delay: time.Duration(c.Batch.DelayMS) * time.Millisecond,
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func parseInt(dst *int, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: expected an integer", key, v)
	}
	*dst = n
	return nil
}

func parseBool(dst *bool, key string) error {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fmt.Errorf("invalid %s=%q: expected a boolean", key, v)
	}
	*dst = b
	return nil
}
