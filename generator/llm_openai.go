package generator

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	openai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

const deepSeekBaseURL = "https://api.deepseek.com"

// OpenAILLM implements Backend using the official openai-go SDK (chat completions).
// DeepSeek exposes the same API, so it reuses this adapter in text-only mode.
type OpenAILLM struct {
	name    string
	Model   string
	Opts    []option.RequestOption
	caps    Capability
	timeout time.Duration
}

func NewOpenAILLMFromConfig(cfg LLMSettings) (*OpenAILLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, misconfigured("openai", "OPENAI_API_KEY is not set")
	}
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithMaxRetries(1)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAILLM{
		name:    "openai",
		Model:   cfg.modelOr("gpt-4o-mini"),
		Opts:    opts,
		caps:    CapText | CapMultimodal,
		timeout: cfg.timeout(),
	}, nil
}

// NewDeepSeekLLMFromConfig 使用 OpenAI 兼容接口访问 DeepSeek，仅支持文本。
func NewDeepSeekLLMFromConfig(cfg LLMSettings) (*OpenAILLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, misconfigured("deepseek", "DEEPSEEK_API_KEY is not set")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = deepSeekBaseURL
	}
	return &OpenAILLM{
		name:    "deepseek",
		Model:   cfg.modelOr("deepseek-chat"),
		Opts:    []option.RequestOption{option.WithAPIKey(cfg.APIKey), option.WithBaseURL(baseURL), option.WithMaxRetries(1)},
		caps:    CapText,
		timeout: cfg.timeout(),
	}, nil
}

func (o *OpenAILLM) Name() string             { return o.name }
func (o *OpenAILLM) Capabilities() Capability { return o.caps }

func (o *OpenAILLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	timeout, err := validate(req, o.timeout)
	if err != nil {
		return "", err
	}
	return withDeadline(ctx, o.name, timeout, func(ctx context.Context) (string, error) {
		return o.complete(ctx, req)
	})
}

func (o *OpenAILLM) complete(ctx context.Context, req GenerationRequest) (string, error) {
	client := openai.NewClient(o.Opts...)

	var msgs []openai.ChatCompletionMessageParamUnion
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	if len(req.Images) > 0 && o.caps.Has(CapMultimodal) {
		parts := []openai.ChatCompletionContentPartUnionParam{openai.TextContentPart(req.Prompt)}
		for _, img := range req.Images {
			parts = append(parts, openai.ImageContentPart(openai.ChatCompletionContentPartImageImageURLParam{
				URL: dataURL(img),
			}))
		}
		msgs = append(msgs, openai.UserMessage(parts))
	} else {
		msgs = append(msgs, openai.UserMessage(req.Prompt))
	}

	resp, err := client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(o.Model),
		Messages:    msgs,
		Temperature: openai.Float(defaultTemperature),
		MaxTokens:   openai.Int(defaultMaxTokens),
	})
	if err != nil {
		return "", unavailable(o.name, err)
	}
	if len(resp.Choices) == 0 {
		return "", malformed(o.name, "empty choices")
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", malformed(o.name, "empty message content")
	}
	return text, nil
}

func dataURL(img ImageAttachment) string {
	return "data:" + mimeOrDefault(img.MIMEType) + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}

func mimeOrDefault(mt string) string {
	mt = strings.ToLower(strings.TrimSpace(mt))
	switch mt {
	case "":
		return "image/jpeg"
	case "image/jpg":
		return "image/jpeg"
	default:
		return mt
	}
}
