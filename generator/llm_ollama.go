package generator

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	ollama "github.com/ollama/ollama/api"
)

// OllamaLLM talks to a local Ollama server. Whether it understands images depends on
// the pulled model, so the capability comes from configuration.
type OllamaLLM struct {
	client  *ollama.Client
	model   string
	caps    Capability
	timeout time.Duration
}

func NewOllamaLLMFromConfig(cfg LLMSettings) (*OllamaLLM, error) {
	host := strings.TrimSpace(cfg.BaseURL)
	if host == "" {
		return nil, misconfigured("ollama", "OLLAMA_HOST is not set")
	}
	u, err := url.Parse(host)
	if err != nil || u.Scheme == "" {
		return nil, misconfigured("ollama", "invalid OLLAMA_HOST %q", host)
	}
	caps := CapText
	if cfg.Vision {
		caps |= CapMultimodal
	}
	return &OllamaLLM{
		client:  ollama.NewClient(u, &http.Client{}),
		model:   cfg.modelOr("llava"),
		caps:    caps,
		timeout: cfg.timeout(),
	}, nil
}

func (o *OllamaLLM) Name() string             { return "ollama" }
func (o *OllamaLLM) Capabilities() Capability { return o.caps }

func (o *OllamaLLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	timeout, err := validate(req, o.timeout)
	if err != nil {
		return "", err
	}
	return withDeadline(ctx, o.Name(), timeout, func(ctx context.Context) (string, error) {
		return o.chat(ctx, req)
	})
}

func (o *OllamaLLM) chat(ctx context.Context, req GenerationRequest) (string, error) {
	user := ollama.Message{Role: "user", Content: req.Prompt}
	if o.caps.Has(CapMultimodal) {
		for _, img := range req.Images {
			user.Images = append(user.Images, ollama.ImageData(img.Data))
		}
	}
	var msgs []ollama.Message
	if req.System != "" {
		msgs = append(msgs, ollama.Message{Role: "system", Content: req.System})
	}
	msgs = append(msgs, user)

	stream := false
	var (
		text strings.Builder
		done bool
	)
	err := o.client.Chat(ctx, &ollama.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": defaultTemperature,
			"num_predict": defaultMaxTokens,
		},
	}, func(resp ollama.ChatResponse) error {
		text.WriteString(resp.Message.Content)
		done = resp.Done
		return nil
	})
	if err != nil {
		return "", unavailable(o.Name(), err)
	}
	out := strings.TrimSpace(text.String())
	if out == "" {
		return "", malformed(o.Name(), fmt.Sprintf("empty message (done=%t)", done))
	}
	return out, nil
}
