package generator

import (
	"context"
	"encoding/base64"
	"strings"
	"time"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	anthropicopt "github.com/anthropics/anthropic-sdk-go/option"
)

// ClaudeLLM uses Anthropic's Messages API; images go in as base64 image blocks.
type ClaudeLLM struct {
	client  anthropic.Client
	model   string
	timeout time.Duration
}

func NewClaudeLLMFromConfig(cfg LLMSettings) (*ClaudeLLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, misconfigured("claude", "ANTHROPIC_API_KEY is not set")
	}
	opts := []anthropicopt.RequestOption{anthropicopt.WithAPIKey(cfg.APIKey), anthropicopt.WithMaxRetries(1)}
	if cfg.BaseURL != "" {
		opts = append(opts, anthropicopt.WithBaseURL(cfg.BaseURL))
	}
	return &ClaudeLLM{
		client:  anthropic.NewClient(opts...),
		model:   cfg.modelOr("claude-3-5-sonnet-latest"),
		timeout: cfg.timeout(),
	}, nil
}

func (c *ClaudeLLM) Name() string             { return "claude" }
func (c *ClaudeLLM) Capabilities() Capability { return CapText | CapMultimodal }

func (c *ClaudeLLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	timeout, err := validate(req, c.timeout)
	if err != nil {
		return "", err
	}
	return withDeadline(ctx, c.Name(), timeout, func(ctx context.Context) (string, error) {
		return c.call(ctx, req)
	})
}

func (c *ClaudeLLM) call(ctx context.Context, req GenerationRequest) (string, error) {
	blocks := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	for _, img := range req.Images {
		blocks = append(blocks, anthropic.NewImageBlockBase64(
			mimeOrDefault(img.MIMEType),
			base64.StdEncoding.EncodeToString(img.Data),
		))
	}
	blocks = append(blocks, anthropic.NewTextBlock(req.Prompt))

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   defaultMaxTokens,
		Temperature: anthropic.Float(defaultTemperature),
		Messages:    []anthropic.MessageParam{anthropic.NewUserMessage(blocks...)},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return "", unavailable(c.Name(), err)
	}

	var b strings.Builder
	for _, cb := range msg.Content {
		if tb, ok := cb.AsAny().(anthropic.TextBlock); ok {
			b.WriteString(tb.Text)
		}
	}
	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", malformed(c.Name(), "no text blocks in message")
	}
	return text, nil
}
