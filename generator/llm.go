package generator

import (
	"context"
	"errors"
	"strings"
	"time"
)

// Backend 抽象一个大模型后端，便于替换/Mock。
type Backend interface {
	Name() string
	Capabilities() Capability
	Generate(ctx context.Context, req GenerationRequest) (string, error)
}

// LLMSettings 提供给具体实现的基础配置。
type LLMSettings struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
	Timeout  time.Duration
	// Vision overrides the default capability of backends whose models vary (ollama, mock).
	Vision bool
}

const (
	defaultTimeout     = 30 * time.Second
	defaultTemperature = 0.7
	defaultMaxTokens   = 4096
)

func (s LLMSettings) timeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return defaultTimeout
}

func (s LLMSettings) modelOr(fallback string) string {
	if m := strings.TrimSpace(s.Model); m != "" {
		return m
	}
	return fallback
}

// validate checks the adapter input contract and resolves the effective timeout.
func validate(req GenerationRequest, fallback time.Duration) (time.Duration, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return 0, ErrEmptyPrompt
	}
	if req.Timeout > 0 {
		return req.Timeout, nil
	}
	return fallback, nil
}

// withDeadline runs call on its own goroutine and returns once it finishes or the
// deadline passes, whichever comes first. On timeout the call's context is cancelled
// and its eventual result is dropped into a buffered channel nobody reads.
func withDeadline(ctx context.Context, backend string, timeout time.Duration, call func(context.Context) (string, error)) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := call(callCtx)
		done <- result{text: text, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil && errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", timedOut(backend, timeout)
		}
		return r.text, r.err
	case <-callCtx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", timedOut(backend, timeout)
	}
}
