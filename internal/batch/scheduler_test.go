package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/docingest/internal/admission"
	"github.com/sells-group/docingest/internal/cost"
	"github.com/sells-group/docingest/internal/gate"
	"github.com/sells-group/docingest/internal/model"
	"github.com/sells-group/docingest/internal/resilience"
	"github.com/sells-group/docingest/internal/store"
	"github.com/sells-group/docingest/internal/validate"
)

// stubExtractor routes each call through fn, keyed by item name.
type stubExtractor struct {
	mu    sync.Mutex
	calls map[string]int
	fn    func(item model.Item, call int) (*model.ExtractedRecord, error)
}

func (s *stubExtractor) Extract(_ context.Context, item model.Item) (*model.ExtractedRecord, error) {
	s.mu.Lock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[item.Name]++
	call := s.calls[item.Name]
	s.mu.Unlock()
	return s.fn(item, call)
}

func (s *stubExtractor) callCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func goodRecord() *model.ExtractedRecord {
	return &model.ExtractedRecord{
		Date:        time.Now().AddDate(0, -1, 0).Format("2006-01-02"),
		Amount:      42.50,
		Vendor:      "Acme Supplies",
		Category:    "office_supplies",
		Description: "printer paper",
		Confidence:  0.95,
	}
}

func textItem(name string) model.Item {
	// Distinct payload per name: the duplicate pre-check hashes content
	// only, so identical bodies would otherwise dedupe against each other.
	body := []byte("RECEIPT " + name + "\nAcme Supplies\nTotal: $42.50\n")
	return model.Item{Name: name, MIMEType: "text/plain", Size: int64(len(body)), Data: body}
}

func testOptions() Options {
	opts := DefaultOptions()
	opts.Concurrency = 3
	opts.WindowDelay = time.Millisecond
	opts.RetryBaseDelay = time.Millisecond
	opts.AttemptTimeout = time.Second
	opts.SubjectID = "acct-1"
	return opts
}

func newTestScheduler(t *testing.T, opts Options, ext *stubExtractor, ledger store.Ledger) *Scheduler {
	t.Helper()
	s, err := New(opts,
		admission.NewLimiter(nil),
		validate.New(),
		gate.New(),
		ext,
		ledger,
		cost.NewCalculator(cost.DefaultRates()),
	)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsBadOptions(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	calc := cost.NewCalculator(cost.DefaultRates())

	cases := []struct {
		name   string
		mutate func(*Options)
	}{
		{"zero concurrency", func(o *Options) { o.Concurrency = 0 }},
		{"negative concurrency", func(o *Options) { o.Concurrency = -2 }},
		{"zero retries", func(o *Options) { o.MaxRetries = 0 }},
		{"negative window delay", func(o *Options) { o.WindowDelay = -time.Second }},
		{"zero attempt timeout", func(o *Options) { o.AttemptTimeout = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			opts := testOptions()
			tc.mutate(&opts)
			_, err := New(opts, admission.NewLimiter(nil), validate.New(), gate.New(), ext, nil, calc)
			assert.Error(t, err)
		})
	}

	t.Run("nil extractor", func(t *testing.T) {
		t.Parallel()
		_, err := New(testOptions(), admission.NewLimiter(nil), validate.New(), gate.New(), nil, nil, calc)
		assert.Error(t, err)
	})
}

func TestProcessBatch_AllSucceedInInputOrder(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	items := make([]model.Item, 7)
	for i := range items {
		items[i] = textItem(fmt.Sprintf("receipt-%02d.txt", i))
	}

	report := s.ProcessBatch(context.Background(), items, nil)

	assert.Equal(t, 7, report.Total)
	assert.Equal(t, 7, report.Successful)
	assert.Equal(t, 0, report.Failed)
	assert.Equal(t, 0, report.Skipped)
	assert.NotEmpty(t, report.BatchID)
	assert.Greater(t, report.EstimatedCost, 0.0)
	assert.False(t, report.FinishedAt.Before(report.StartedAt))

	require.Len(t, report.Items, 7)
	for i, res := range report.Items {
		assert.Equal(t, i, res.Index)
		assert.Equal(t, items[i].Name, res.Name)
		assert.True(t, res.Success)
		assert.Equal(t, model.StateGated, res.State)
		assert.Equal(t, 1, res.Attempts)
		require.NotNil(t, res.Decision)
		assert.False(t, res.Decision.NeedsReview)
	}
}

func TestProcessBatch_TransientFailuresAreRetried(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(item model.Item, call int) (*model.ExtractedRecord, error) {
		if item.Name == "flaky.txt" && call < 3 {
			return nil, resilience.NewTransientError(errors.New("upstream overloaded"), 529)
		}
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	report := s.ProcessBatch(context.Background(), []model.Item{textItem("flaky.txt")}, nil)

	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Items, 1)
	assert.Equal(t, 3, report.Items[0].Attempts)
	assert.True(t, report.Items[0].Success)
}

func TestProcessBatch_GenericErrorsAreRetried(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(item model.Item, call int) (*model.ExtractedRecord, error) {
		if call < 3 {
			return nil, errors.New("boom")
		}
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	report := s.ProcessBatch(context.Background(), []model.Item{textItem("doc.txt")}, nil)

	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 0, report.Failed)
	require.Len(t, report.Items, 1)
	assert.True(t, report.Items[0].Success)
	assert.Equal(t, 3, report.Items[0].Attempts)
}

func TestProcessBatch_AttemptTimeoutIsRetried(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(item model.Item, call int) (*model.ExtractedRecord, error) {
		if call == 1 {
			return nil, context.DeadlineExceeded
		}
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	report := s.ProcessBatch(context.Background(), []model.Item{textItem("slow.txt")}, nil)

	assert.Equal(t, 1, report.Successful)
	require.Len(t, report.Items, 1)
	assert.Equal(t, 2, report.Items[0].Attempts)
}

func TestProcessBatch_AuthErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return nil, resilience.NewAuthError(errors.New("401 invalid api key"))
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	report := s.ProcessBatch(context.Background(), []model.Item{textItem("doc.txt")}, nil)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Items, 1)
	assert.Equal(t, 1, report.Items[0].Attempts)
	assert.Equal(t, 1, ext.callCount("doc.txt"))
	assert.True(t, resilience.IsAuthError(report.Items[0].Err))
}

func TestProcessBatch_OneFailureDoesNotSinkTheBatch(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(item model.Item, _ int) (*model.ExtractedRecord, error) {
		if item.Name == "broken.txt" {
			return nil, resilience.NewTransientError(errors.New("connection reset"), 0)
		}
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	items := []model.Item{
		textItem("a.txt"), textItem("broken.txt"), textItem("b.txt"),
		textItem("c.txt"), textItem("d.txt"),
	}
	report := s.ProcessBatch(context.Background(), items, nil)

	assert.Equal(t, 4, report.Successful)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, model.StateFailed, report.Items[1].State)
	assert.Equal(t, 3, report.Items[1].Attempts)
	assert.NotEmpty(t, report.Items[1].ErrMessage)
}

func TestProcessBatch_InvalidItemIsSkipped(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	bad := model.Item{Name: "archive.zip", MIMEType: "application/zip", Size: 10, Data: []byte("PK\x03\x04junk!")}
	report := s.ProcessBatch(context.Background(), []model.Item{textItem("ok.txt"), bad}, nil)

	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Failed)
	assert.True(t, report.Items[1].Skipped)
	assert.Contains(t, report.Items[1].SkipReason, "INVALID_TYPE")
	assert.Equal(t, 0, ext.callCount("archive.zip"))
}

func TestProcessBatch_DuplicateIsSkippedBeforeExtraction(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	ledger := store.NewMemory()
	item := textItem("seen-before.txt")
	require.NoError(t, ledger.MarkProcessed(context.Background(), store.Entry{
		Hash:        payloadHash(item),
		Name:        item.Name,
		BatchID:     "previous-run",
		ProcessedAt: time.Now(),
	}))
	s := newTestScheduler(t, testOptions(), ext, ledger)

	report := s.ProcessBatch(context.Background(), []model.Item{item, textItem("fresh.txt")}, nil)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 1, report.Successful)
	assert.Contains(t, report.Items[0].SkipReason, "duplicate")
	assert.Equal(t, 0, ext.callCount("seen-before.txt"))
	assert.Equal(t, 1, ext.callCount("fresh.txt"))

	// the run itself lands in the ledger
	runs, err := ledger.ListBatches(context.Background(), 10)
	require.NoError(t, err)
	require.NotEmpty(t, runs)
	assert.Equal(t, report.BatchID, runs[0].ID)
}

func TestProcessBatch_DuplicateDetectionIgnoresName(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	ledger := store.NewMemory()
	s := newTestScheduler(t, testOptions(), ext, ledger)

	original := textItem("scan.txt")
	renamed := model.Item{
		Name:     "scan-copy.txt",
		MIMEType: original.MIMEType,
		Size:     original.Size,
		Data:     original.Data,
	}
	require.NoError(t, ledger.MarkProcessed(context.Background(), store.Entry{
		Hash:        payloadHash(original),
		Name:        original.Name,
		BatchID:     "previous-run",
		ProcessedAt: time.Now(),
	}))

	report := s.ProcessBatch(context.Background(), []model.Item{renamed}, nil)

	// same bytes under a new name is still the same document
	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Items[0].SkipReason, "duplicate")
	assert.Equal(t, 0, ext.callCount("scan-copy.txt"))
}

func TestProcessBatch_RateLimitedItemsAreSkipped(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	limiter := admission.NewLimiter(map[string]admission.Quota{
		"extract": {MaxRequests: 2, Window: time.Minute},
	})
	opts := testOptions()
	opts.Concurrency = 1 // serialize so admission outcomes are deterministic
	s, err := New(opts, limiter, validate.New(), gate.New(), ext, nil,
		cost.NewCalculator(cost.DefaultRates()))
	require.NoError(t, err)

	items := []model.Item{
		textItem("1.txt"), textItem("2.txt"), textItem("3.txt"), textItem("4.txt"),
	}
	report := s.ProcessBatch(context.Background(), items, nil)

	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 2, report.Skipped)
	assert.Contains(t, report.Items[2].SkipReason, "rate limited")
	assert.Contains(t, report.Items[3].SkipReason, "retry after")
}

func TestProcessBatch_UnknownModelSkipsBeforeSpending(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	opts := testOptions()
	opts.Model = "claude-imaginary-9"
	s := newTestScheduler(t, opts, ext, nil)

	report := s.ProcessBatch(context.Background(), []model.Item{textItem("doc.txt")}, nil)

	assert.Equal(t, 1, report.Skipped)
	assert.Contains(t, report.Items[0].SkipReason, "pricing")
	assert.Equal(t, 0, ext.callCount("doc.txt"))
}

func TestProcessBatch_CancellationSkipsRemainder(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items := []model.Item{textItem("a.txt"), textItem("b.txt"), textItem("c.txt")}
	report := s.ProcessBatch(ctx, items, nil)

	assert.Equal(t, 3, report.Total)
	assert.Equal(t, 3, report.Skipped)
	assert.Equal(t, 0, report.Successful)
	for _, res := range report.Items {
		assert.True(t, res.Skipped)
		assert.Contains(t, res.SkipReason, "canceled")
	}
}

func TestProcessBatch_CancellationBetweenWindows(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		cancel() // first window triggers cancellation
		return goodRecord(), nil
	}}
	opts := testOptions()
	opts.Concurrency = 2
	opts.WindowDelay = 10 * time.Millisecond
	s := newTestScheduler(t, opts, ext, nil)

	items := []model.Item{
		textItem("a.txt"), textItem("b.txt"),
		textItem("c.txt"), textItem("d.txt"),
	}
	report := s.ProcessBatch(ctx, items, nil)

	// window one completes, windows after the cancel never dispatch
	assert.Equal(t, 2, report.Successful)
	assert.Equal(t, 2, report.Skipped)
	assert.Equal(t, 0, ext.callCount("c.txt"))
	assert.Equal(t, 0, ext.callCount("d.txt"))
}

func TestProcessBatch_LowConfidenceNeedsReview(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		rec := goodRecord()
		rec.Confidence = 0.40
		return rec, nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	report := s.ProcessBatch(context.Background(), []model.Item{textItem("blurry.txt")}, nil)

	assert.Equal(t, 1, report.Successful)
	assert.Equal(t, 1, report.NeedsReview)
	require.NotNil(t, report.Items[0].Decision)
	assert.True(t, report.Items[0].Decision.NeedsReview)
}

func TestProcessBatch_ProgressFiresPerDispatchedItem(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	var mu sync.Mutex
	var labels []string
	var totals []int
	onProgress := func(completed, total int, current string) {
		mu.Lock()
		defer mu.Unlock()
		labels = append(labels, current)
		totals = append(totals, total)
		assert.LessOrEqual(t, completed, total)
	}

	items := []model.Item{textItem("a.txt"), textItem("b.txt"), textItem("c.txt"), textItem("d.txt")}
	s.ProcessBatch(context.Background(), items, onProgress)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, labels, 4)
	assert.Equal(t, []string{"a.txt", "b.txt", "c.txt", "d.txt"}, labels)
	for _, total := range totals {
		assert.Equal(t, 4, total)
	}
}

func TestProcessBatch_EmptyInput(t *testing.T) {
	t.Parallel()

	ext := &stubExtractor{fn: func(model.Item, int) (*model.ExtractedRecord, error) {
		return goodRecord(), nil
	}}
	s := newTestScheduler(t, testOptions(), ext, nil)

	report := s.ProcessBatch(context.Background(), nil, nil)

	assert.Equal(t, 0, report.Total)
	assert.Empty(t, report.Items)
	assert.Equal(t, 0.0, report.EstimatedCost)
}
