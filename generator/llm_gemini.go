package generator

import (
	"context"
	"fmt"
	"strings"
	"time"

	genai "github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiLLM calls Google Gemini; it accepts images alongside the prompt.
type GeminiLLM struct {
	client  *genai.Client
	model   string
	timeout time.Duration
}

func NewGeminiLLMFromConfig(cfg LLMSettings) (*GeminiLLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, misconfigured("gemini", "GEMINI_API_KEY is not set")
	}
	opts := []option.ClientOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithEndpoint(cfg.BaseURL))
	}
	client, err := genai.NewClient(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("gemini init: %w", err)
	}
	return &GeminiLLM{
		client:  client,
		model:   cfg.modelOr("gemini-1.5-pro"),
		timeout: cfg.timeout(),
	}, nil
}

func (g *GeminiLLM) Name() string             { return "gemini" }
func (g *GeminiLLM) Capabilities() Capability { return CapText | CapMultimodal }

func (g *GeminiLLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	timeout, err := validate(req, g.timeout)
	if err != nil {
		return "", err
	}
	return withDeadline(ctx, g.Name(), timeout, func(ctx context.Context) (string, error) {
		return g.call(ctx, req)
	})
}

func (g *GeminiLLM) call(ctx context.Context, req GenerationRequest) (string, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(defaultTemperature)
	model.SetMaxOutputTokens(defaultMaxTokens)
	if req.System != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(req.System))
	}

	parts := []genai.Part{genai.Text(req.Prompt)}
	for _, img := range req.Images {
		parts = append(parts, genai.Blob{MIMEType: mimeOrDefault(img.MIMEType), Data: img.Data})
	}

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return "", unavailable(g.Name(), err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", malformed(g.Name(), "no candidates")
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", malformed(g.Name(), "candidate has no text parts")
	}
	return out, nil
}
