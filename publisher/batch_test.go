package publisher

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"feishu_article_studio/generator"
)

// fakeDocument records created blocks and uploads; failBatch (1-based) makes
// that CreateBlocks call fail.
type fakeDocument struct {
	mu        sync.Mutex
	calls     [][]Block
	failBatch int
	failName  string
	uploads   map[string]generator.ImageAttachment
}

func (f *fakeDocument) CreateBlocks(_ context.Context, _ string, blocks []Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, append([]Block(nil), blocks...))
	if len(f.calls) == f.failBatch {
		return errors.New("server busy")
	}
	return nil
}

func (f *fakeDocument) UploadImage(_ context.Context, _ string, name string, img generator.ImageAttachment) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if name == f.failName {
		return "", errors.New("upload rejected")
	}
	if f.uploads == nil {
		f.uploads = map[string]generator.ImageAttachment{}
	}
	f.uploads[name] = img
	return "tok-" + name, nil
}

func (f *fakeDocument) batchSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	sizes := make([]int, 0, len(f.calls))
	for _, c := range f.calls {
		sizes = append(sizes, len(c))
	}
	return sizes
}

func paragraphs(n int) []Block {
	out := make([]Block, n)
	for i := range out {
		out[i] = Paragraph("p" + strconv.Itoa(i))
	}
	return out
}

func TestSubmitBatchesSplitsIntoFifty(t *testing.T) {
	sink := &fakeDocument{}
	report := SubmitBatches(context.Background(), sink, "doc", paragraphs(120), BatchOptions{}, zaptest.NewLogger(t))

	require.NoError(t, report.Err)
	assert.Equal(t, []int{50, 50, 20}, sink.batchSizes())
	assert.Equal(t, 3, report.TotalBatches)
	assert.Equal(t, 3, report.AppliedBatches)
	assert.Equal(t, "120 of 120 applied", report.Summary())
	assert.False(t, report.Partial())
}

func TestSubmitBatchesStopsAtFailedBatch(t *testing.T) {
	sink := &fakeDocument{failBatch: 2}
	blocks := paragraphs(120)
	report := SubmitBatches(context.Background(), sink, "doc", blocks, BatchOptions{Size: 50}, zaptest.NewLogger(t))

	assert.True(t, report.Partial())
	assert.Equal(t, "50 of 120 applied", report.Summary())
	assert.Equal(t, 1, report.AppliedBatches)
	assert.Equal(t, []int{50, 50}, sink.batchSizes(), "batch 3 must not be attempted")
	assert.Equal(t, blocks[50:100], sink.calls[1])

	require.Error(t, report.Err)
	assert.True(t, errors.Is(report.Err, ErrPartialBatch))
	var perr *PartialBatchError
	require.True(t, errors.As(report.Err, &perr))
	assert.Equal(t, 2, perr.Batch)
	assert.Contains(t, report.Error, "server busy")
}

func TestSubmitBatchesCapsSize(t *testing.T) {
	sink := &fakeDocument{}
	SubmitBatches(context.Background(), sink, "doc", paragraphs(60), BatchOptions{Size: 500}, nil)
	assert.Equal(t, []int{50, 10}, sink.batchSizes())

	sink = &fakeDocument{}
	SubmitBatches(context.Background(), sink, "doc", paragraphs(5), BatchOptions{Size: 2}, nil)
	assert.Equal(t, []int{2, 2, 1}, sink.batchSizes())
}

func TestSubmitBatchesSpacesRequests(t *testing.T) {
	sink := &fakeDocument{}
	started := time.Now()
	report := SubmitBatches(context.Background(), sink, "doc", paragraphs(3), BatchOptions{Size: 1, Delay: 20 * time.Millisecond}, nil)
	require.NoError(t, report.Err)
	assert.GreaterOrEqual(t, time.Since(started), 35*time.Millisecond)
}

func TestSubmitBatchesHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sink := &fakeDocument{}
	report := SubmitBatches(ctx, sink, "doc", paragraphs(3), BatchOptions{Size: 1, Delay: time.Hour}, nil)
	assert.True(t, report.Partial())
	assert.True(t, errors.Is(report.Err, context.Canceled))
	assert.Empty(t, sink.batchSizes())
}

func TestSubmitBatchesEmpty(t *testing.T) {
	report := SubmitBatches(context.Background(), &fakeDocument{}, "doc", nil, BatchOptions{}, nil)
	assert.Equal(t, BatchReport{}, report)
}
