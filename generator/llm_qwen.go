package generator

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

const qwenURL = "https://dashscope.aliyuncs.com/api/v1/services/aigc/multimodal-generation/generation"

// QwenLLM 调用阿里千问VL（DashScope 多模态接口），国内可直接访问。
type QwenLLM struct {
	apiKey  string
	model   string
	url     string
	client  *http.Client
	timeout time.Duration
}

func NewQwenLLMFromConfig(cfg LLMSettings) (*QwenLLM, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, misconfigured("qwen", "QWEN_API_KEY is not set")
	}
	url := cfg.BaseURL
	if url == "" {
		url = qwenURL
	}
	return &QwenLLM{
		apiKey:  cfg.APIKey,
		model:   cfg.modelOr("qwen-vl-plus"),
		url:     url,
		client:  http.DefaultClient,
		timeout: cfg.timeout(),
	}, nil
}

func (q *QwenLLM) Name() string             { return "qwen" }
func (q *QwenLLM) Capabilities() Capability { return CapText | CapMultimodal }

func (q *QwenLLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	timeout, err := validate(req, q.timeout)
	if err != nil {
		return "", err
	}
	return withDeadline(ctx, q.Name(), timeout, func(ctx context.Context) (string, error) {
		return q.call(ctx, req)
	})
}

func (q *QwenLLM) call(ctx context.Context, req GenerationRequest) (string, error) {
	body, err := q.buildBody(req)
	if err != nil {
		return "", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, q.url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+q.apiKey)

	resp, err := q.client.Do(httpReq)
	if err != nil {
		return "", unavailable(q.Name(), err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", unavailable(q.Name(), err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := gjson.GetBytes(data, "message").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		return "", unavailable(q.Name(), fmt.Errorf("status %d: %s", resp.StatusCode, msg))
	}
	return parseQwenContent(data)
}

// buildBody assembles the DashScope envelope: images first, then the text prompt.
func (q *QwenLLM) buildBody(req GenerationRequest) ([]byte, error) {
	type item map[string]string
	var messages []map[string]any
	if req.System != "" {
		messages = append(messages, map[string]any{"role": "system", "content": []item{{"text": req.System}}})
	}
	content := make([]item, 0, len(req.Images)+1)
	for _, img := range req.Images {
		content = append(content, item{"image": dataURL(img)})
	}
	content = append(content, item{"text": req.Prompt})
	messages = append(messages, map[string]any{"role": "user", "content": content})

	body := []byte(`{}`)
	var err error
	for _, kv := range []struct {
		path  string
		value any
	}{
		{"model", q.model},
		{"input.messages", messages},
		{"parameters.max_tokens", defaultMaxTokens},
		{"parameters.temperature", defaultTemperature},
	} {
		if body, err = sjson.SetBytes(body, kv.path, kv.value); err != nil {
			return nil, fmt.Errorf("qwen: build request: %w", err)
		}
	}
	return body, nil
}

// parseQwenContent reads output.choices[0].message.content, which is either a string
// or a list of {"text": ...} items.
func parseQwenContent(data []byte) (string, error) {
	if !gjson.ValidBytes(data) {
		return "", malformed("qwen", "response is not JSON")
	}
	content := gjson.GetBytes(data, "output.choices.0.message.content")
	if !content.Exists() {
		return "", malformed("qwen", "missing output.choices[0].message.content")
	}

	var text string
	if content.IsArray() {
		var b strings.Builder
		content.ForEach(func(_, item gjson.Result) bool {
			b.WriteString(item.Get("text").String())
			return true
		})
		text = b.String()
	} else {
		text = content.String()
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", malformed("qwen", "empty content")
	}
	return text, nil
}
