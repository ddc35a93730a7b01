package generator

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"feishu_article_studio/logger"
)

const imagesIgnoredNotice = "（注意：当前模型不支持图片理解，文档中的图片已被忽略，请仅根据文字内容创作。）"

// Result is a normalized generation outcome.
type Result struct {
	Text          string
	ImagesIgnored bool
	Elapsed       time.Duration
}

// Agent 负责能力协商、调用后端并规整输出。
type Agent struct {
	backend Backend
	logger  *zap.Logger
}

func NewAgent(backend Backend, l *zap.Logger) (*Agent, error) {
	if backend == nil {
		return nil, errors.New("backend is required")
	}
	return &Agent{backend: backend, logger: logger.OrNop(l)}, nil
}

// Backend returns the backend the agent drives.
func (a *Agent) Backend() Backend { return a.backend }

// Negotiate drops images the backend cannot accept. The returned request is a copy;
// when images were dropped the prompt tells the model so.
func Negotiate(b Backend, req GenerationRequest) (GenerationRequest, bool) {
	if len(req.Images) == 0 || b.Capabilities().Has(CapMultimodal) {
		return req, false
	}
	return req.withoutImages(), true
}

// Generate negotiates capabilities, calls the backend and normalizes its output.
func (a *Agent) Generate(ctx context.Context, req GenerationRequest) (Result, error) {
	name := a.backend.Name()
	sent, ignored := Negotiate(a.backend, req)
	if ignored {
		a.logger.Warn("backend does not support images; images ignored",
			zap.String("backend", name),
			zap.Int("images", len(req.Images)),
		)
	}

	started := time.Now()
	a.logger.Debug("generation start",
		zap.String("backend", name),
		zap.Int("prompt_len", len(sent.Prompt)),
		zap.Int("images", len(sent.Images)),
		zap.Duration("timeout", sent.Timeout),
	)
	raw, err := a.backend.Generate(ctx, sent)
	elapsed := time.Since(started)
	if err != nil {
		a.logger.Warn("generation failed",
			zap.String("backend", name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return Result{ImagesIgnored: ignored, Elapsed: elapsed}, err
	}

	text, err := PostProcess(name, raw)
	if err != nil {
		return Result{ImagesIgnored: ignored, Elapsed: elapsed}, err
	}
	a.logger.Info("generation done",
		zap.String("backend", name),
		zap.Duration("elapsed", elapsed),
		zap.Int("text_len", len(text)),
	)
	return Result{Text: text, ImagesIgnored: ignored, Elapsed: elapsed}, nil
}
