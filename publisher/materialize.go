package publisher

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feishu_article_studio/generator"
	"feishu_article_studio/logger"
)

const uploadLimit = 4

var (
	ErrEmptyDocID   = errors.New("document id is required")
	ErrEmptyArticle = errors.New("article is empty")
)

// AssetUploader stores one image in the target document and returns its token.
type AssetUploader interface {
	UploadImage(ctx context.Context, docID, fileName string, img generator.ImageAttachment) (string, error)
}

// DocumentSink is everything Materialize needs from the target document.
type DocumentSink interface {
	AssetUploader
	BlockSink
}

type MaterializeRequest struct {
	DocID       string
	Article     string
	Attachments []generator.ImageAttachment
	// Assets are placeholder -> token bindings uploaded earlier; they win over
	// fresh uploads of the same placeholder.
	Assets map[string]string
}

type MaterializeResult struct {
	DocID          string            `json:"doc_id"`
	Assets         map[string]string `json:"assets"`
	Blocks         int               `json:"blocks"`
	Unresolved     []string          `json:"unresolved,omitempty"`
	UploadFailures []string          `json:"upload_failures,omitempty"`
	Report         BatchReport       `json:"report"`
	Elapsed        time.Duration     `json:"elapsed_ns"`
}

// Materializer uploads attachments, compiles an article and submits its blocks.
type Materializer struct {
	sink   DocumentSink
	opts   BatchOptions
	logger *zap.Logger
}

func NewMaterializer(sink DocumentSink, opts BatchOptions, l *zap.Logger) *Materializer {
	return &Materializer{sink: sink, opts: opts, logger: logger.OrNop(l)}
}

// Materialize writes the article into the document. A failed upload drops only
// that placeholder. A failed batch yields a *PartialBatchError alongside the
// result describing what was applied.
func (m *Materializer) Materialize(ctx context.Context, req MaterializeRequest) (MaterializeResult, error) {
	if strings.TrimSpace(req.DocID) == "" {
		return MaterializeResult{}, ErrEmptyDocID
	}
	if strings.TrimSpace(req.Article) == "" {
		return MaterializeResult{}, ErrEmptyArticle
	}
	start := time.Now()

	assets, failures := m.uploadAll(ctx, req)
	blocks, unresolved := Compile(req.Article, assets, m.logger)
	report := SubmitBatches(ctx, m.sink, req.DocID, blocks, m.opts, m.logger)

	res := MaterializeResult{
		DocID:          req.DocID,
		Assets:         assets,
		Blocks:         len(blocks),
		Unresolved:     unresolved,
		UploadFailures: failures,
		Report:         report,
		Elapsed:        time.Since(start),
	}
	m.logger.Info("article materialized",
		zap.String("doc_id", req.DocID),
		zap.Int("blocks", len(blocks)),
		zap.Int("assets", len(assets)),
		zap.Strings("unresolved", unresolved),
		zap.String("progress", report.Summary()),
		zap.Duration("elapsed", res.Elapsed))
	if report.Err != nil {
		return res, report.Err
	}
	return res, nil
}

func (m *Materializer) uploadAll(ctx context.Context, req MaterializeRequest) (map[string]string, []string) {
	assets := make(map[string]string, len(req.Attachments)+len(req.Assets))
	var (
		mu       sync.Mutex
		failures []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uploadLimit)
	for i, img := range req.Attachments {
		name := PlaceholderName(i)
		if _, ok := req.Assets[name]; ok {
			continue
		}
		g.Go(func() error {
			token, err := m.sink.UploadImage(gctx, req.DocID, name+extensionFor(img.MIMEType), img)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				m.logger.Warn("asset upload failed", zap.String("placeholder", name), zap.Error(err))
				failures = append(failures, fmt.Sprintf("%s: %v", name, err))
				return nil
			}
			assets[name] = token
			return nil
		})
	}
	_ = g.Wait()
	slices.Sort(failures)

	maps.Copy(assets, req.Assets)
	return assets, failures
}

func extensionFor(mt string) string {
	switch mt {
	case "image/jpeg":
		return ".jpg"
	case "image/gif":
		return ".gif"
	case "image/webp":
		return ".webp"
	case "image/bmp":
		return ".bmp"
	}
	return ".png"
}
