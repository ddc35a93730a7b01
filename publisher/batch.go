package publisher

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"feishu_article_studio/logger"
)

// MaxBatchSize is the per-request block limit of the docx API.
const MaxBatchSize = 50

var ErrPartialBatch = errors.New("partial batch failure")

// BlockSink accepts ordered blocks for a document.
type BlockSink interface {
	CreateBlocks(ctx context.Context, docID string, blocks []Block) error
}

type BatchOptions struct {
	Size  int           // blocks per request, capped at MaxBatchSize
	Delay time.Duration // minimum spacing between requests
}

func (o BatchOptions) size() int {
	if o.Size <= 0 || o.Size > MaxBatchSize {
		return MaxBatchSize
	}
	return o.Size
}

// BatchReport describes how far a submission got.
type BatchReport struct {
	TotalBlocks    int    `json:"total_blocks"`
	AppliedBlocks  int    `json:"applied_blocks"`
	TotalBatches   int    `json:"total_batches"`
	AppliedBatches int    `json:"applied_batches"`
	Error          string `json:"error,omitempty"`

	Err error `json:"-"`
}

func (r BatchReport) Partial() bool { return r.Err != nil }

func (r BatchReport) Summary() string {
	return fmt.Sprintf("%d of %d applied", r.AppliedBlocks, r.TotalBlocks)
}

// PartialBatchError reports the batch that stopped a submission.
type PartialBatchError struct {
	Batch   int // 1-based
	Applied int
	Total   int
	Err     error
}

func (e *PartialBatchError) Error() string {
	return fmt.Sprintf("batch %d failed, %d of %d applied: %v", e.Batch, e.Applied, e.Total, e.Err)
}

func (e *PartialBatchError) Unwrap() []error { return []error{ErrPartialBatch, e.Err} }

// SubmitBatches sends blocks in order, at most opts.Size per request. The first
// failing batch stops the submission; earlier batches stay applied.
func SubmitBatches(ctx context.Context, sink BlockSink, docID string, blocks []Block, opts BatchOptions, l *zap.Logger) BatchReport {
	l = logger.OrNop(l)
	size := opts.size()
	report := BatchReport{
		TotalBlocks:  len(blocks),
		TotalBatches: (len(blocks) + size - 1) / size,
	}

	limit := rate.Inf
	if opts.Delay > 0 {
		limit = rate.Every(opts.Delay)
	}
	limiter := rate.NewLimiter(limit, 1)

	for start, batch := 0, 1; start < len(blocks); start, batch = start+size, batch+1 {
		end := min(start+size, len(blocks))

		err := limiter.Wait(ctx)
		if err == nil {
			err = sink.CreateBlocks(ctx, docID, blocks[start:end])
		}
		if err != nil {
			perr := &PartialBatchError{Batch: batch, Applied: report.AppliedBlocks, Total: report.TotalBlocks, Err: err}
			report.Err = perr
			report.Error = perr.Error()
			l.Error("batch submission stopped",
				zap.String("doc_id", docID),
				zap.Int("batch", batch),
				zap.Int("total_batches", report.TotalBatches),
				zap.String("progress", report.Summary()),
				zap.Error(err))
			return report
		}

		report.AppliedBlocks = end
		report.AppliedBatches = batch
		l.Debug("batch applied",
			zap.String("doc_id", docID),
			zap.Int("batch", batch),
			zap.Int("blocks", end-start))
	}
	return report
}
