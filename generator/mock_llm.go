package generator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockLLM 本地调试用的占位实现，不调用外部模型。
// Reply 为空时，把指令拼成一篇简单的 Markdown 文章。
type MockLLM struct {
	Caps  Capability
	Delay time.Duration
	Err   error
	Reply func(req GenerationRequest) string

	mu       sync.Mutex
	requests []GenerationRequest
}

func NewMockLLMFromConfig(cfg LLMSettings) (*MockLLM, error) {
	caps := CapText
	if cfg.Vision {
		caps |= CapMultimodal
	}
	return &MockLLM{Caps: caps}, nil
}

func (m *MockLLM) Name() string { return "mock" }

func (m *MockLLM) Capabilities() Capability {
	if m.Caps == 0 {
		return CapText
	}
	return m.Caps
}

func (m *MockLLM) Generate(ctx context.Context, req GenerationRequest) (string, error) {
	timeout, err := validate(req, defaultTimeout)
	if err != nil {
		return "", err
	}
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	return withDeadline(ctx, m.Name(), timeout, func(ctx context.Context) (string, error) {
		if m.Delay > 0 {
			select {
			case <-time.After(m.Delay):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}
		if m.Err != nil {
			if IsBackendFailure(m.Err) {
				return "", m.Err
			}
			return "", unavailable(m.Name(), m.Err)
		}
		if m.Reply != nil {
			return m.Reply(req), nil
		}
		return mockArticle(req), nil
	})
}

// Requests returns the requests seen so far.
func (m *MockLLM) Requests() []GenerationRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]GenerationRequest(nil), m.requests...)
}

func mockArticle(req GenerationRequest) string {
	var sb strings.Builder
	sb.WriteString("# 自动生成示例标题\n\n")
	sb.WriteString("这里是一段自动生成的摘要，概述全文要点。\n\n")
	sb.WriteString("## 正文\n\n")
	for i := range req.Images {
		sb.WriteString(fmt.Sprintf("![配图%d](image_%d)\n\n", i+1, i+1))
	}
	lines := strings.Split(strings.TrimSpace(req.Prompt), "\n")
	sb.WriteString(strings.TrimSpace(lines[len(lines)-1]))
	sb.WriteString("\n")
	return sb.String()
}
