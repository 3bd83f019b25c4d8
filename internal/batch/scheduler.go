// Package batch drives submitted items through admission, validation,
// extraction, and confidence gating with bounded concurrency, retries,
// and progress reporting. One item failing never aborts the batch; every
// input maps to exactly one ItemResult in the report.
package batch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/docingest/internal/admission"
	"github.com/sells-group/docingest/internal/cost"
	"github.com/sells-group/docingest/internal/gate"
	"github.com/sells-group/docingest/internal/model"
	"github.com/sells-group/docingest/internal/resilience"
	"github.com/sells-group/docingest/internal/store"
	"github.com/sells-group/docingest/internal/validate"
	"github.com/sells-group/docingest/pkg/extraction"
)

// ProgressFunc is called once per item as it is dispatched, with the
// number of items completed so far, the batch total, and the current
// item's label. It is advisory: it must be cheap, and it does not fire in
// completion order.
type ProgressFunc func(completed, total int, current string)

// Options configures a Scheduler. Start from DefaultOptions; New rejects
// invalid values synchronously rather than misbehaving mid-batch.
type Options struct {
	// Concurrency is the window size: at most this many item pipelines
	// run in parallel.
	Concurrency int
	// WindowDelay is the cooperative pause between windows, independent
	// of the admission controller's per-subject quota.
	WindowDelay time.Duration
	// MaxRetries is the total number of extraction attempts per item.
	MaxRetries int
	// RetryBaseDelay is the backoff unit between attempts; the sleep
	// after failed attempt n is RetryBaseDelay doubled n times.
	RetryBaseDelay time.Duration
	// AttemptTimeout bounds a single extraction call so one slow item
	// cannot stall its window indefinitely.
	AttemptTimeout time.Duration

	// SubjectID and Action key the admission controller.
	SubjectID string
	Action    string

	// Model and AvgTokensPerItem feed cost estimation.
	Model            string
	AvgTokensPerItem int
}

// DefaultOptions returns the scheduler defaults.
func DefaultOptions() Options {
	return Options{
		Concurrency:      5,
		WindowDelay:      time.Second,
		MaxRetries:       3,
		RetryBaseDelay:   time.Second,
		AttemptTimeout:   60 * time.Second,
		Action:           "extract",
		Model:            "claude-haiku-4-5-20251001",
		AvgTokensPerItem: 2000,
	}
}

// Scheduler orchestrates batch runs. Construct with New.
type Scheduler struct {
	opts      Options
	limiter   *admission.Limiter
	validator *validate.Validator
	gate      *gate.Gate
	extractor extraction.Extractor
	ledger    store.Ledger // optional; nil disables the duplicate pre-check
	calc      *cost.Calculator
}

// New validates options and wires the scheduler's collaborators. The
// ledger may be nil; everything else is required.
func New(
	opts Options,
	limiter *admission.Limiter,
	validator *validate.Validator,
	g *gate.Gate,
	extractor extraction.Extractor,
	ledger store.Ledger,
	calc *cost.Calculator,
) (*Scheduler, error) {
	if opts.Concurrency <= 0 {
		return nil, eris.Errorf("batch: concurrency must be positive, got %d", opts.Concurrency)
	}
	if opts.MaxRetries <= 0 {
		return nil, eris.Errorf("batch: max retries must be positive, got %d", opts.MaxRetries)
	}
	if opts.WindowDelay < 0 {
		return nil, eris.New("batch: window delay must not be negative")
	}
	if opts.AttemptTimeout <= 0 {
		return nil, eris.New("batch: attempt timeout must be positive")
	}
	if limiter == nil || validator == nil || g == nil || extractor == nil || calc == nil {
		return nil, eris.New("batch: missing collaborator")
	}
	return &Scheduler{
		opts:      opts,
		limiter:   limiter,
		validator: validator,
		gate:      g,
		extractor: extractor,
		ledger:    ledger,
		calc:      calc,
	}, nil
}

// ProcessBatch runs every item through the pipeline and returns the full
// accounting. It never fails: per-item errors are captured in the item's
// result, and cancellation marks the not-yet-dispatched remainder as
// skipped while still returning the report.
//
// Windows execute strictly in submission order; items within a window
// run concurrently with no ordering guarantee, but results are written
// back by input index so Report.Items always matches the input order.
// Cancellation is cooperative: the context is checked between windows
// and passed into extraction calls, with no mid-window preemption.
func (s *Scheduler) ProcessBatch(ctx context.Context, items []model.Item, onProgress ProgressFunc) model.Report {
	report := model.Report{
		BatchID:   uuid.New().String(),
		Total:     len(items),
		StartedAt: time.Now().UTC(),
	}
	log := zap.L().With(zap.String("batch_id", report.BatchID))
	log.Info("batch started",
		zap.Int("items", len(items)),
		zap.Int("concurrency", s.opts.Concurrency),
	)

	results := make([]model.ItemResult, len(items))
	for i, item := range items {
		results[i] = model.ItemResult{Index: i, Name: item.Name, State: model.StatePending}
	}

	var completed atomic.Int64

	for start := 0; start < len(items); start += s.opts.Concurrency {
		if start > 0 {
			if err := sleepCtx(ctx, s.opts.WindowDelay); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}

		end := start + s.opts.Concurrency
		if end > len(items) {
			end = len(items)
		}

		g, gctx := errgroup.WithContext(ctx)
		for idx := start; idx < end; idx++ {
			if onProgress != nil {
				onProgress(int(completed.Load()), len(items), items[idx].Name)
			}
			g.Go(func() error {
				results[idx] = s.processItem(gctx, idx, items[idx], report.BatchID)
				completed.Add(1)
				return nil
			})
		}
		_ = g.Wait() // pipelines never return errors
	}

	// Anything still pending was never dispatched (cancellation between
	// windows). Every input still gets a result.
	for i := range results {
		if results[i].State == model.StatePending {
			results[i].State = model.StateFailed
			results[i].Skipped = true
			results[i].SkipReason = "batch canceled before dispatch"
		}
	}

	report.Items = results
	for i := range results {
		switch {
		case results[i].Skipped:
			report.Skipped++
		case results[i].Success:
			report.Successful++
			if results[i].Decision != nil && results[i].Decision.NeedsReview {
				report.NeedsReview++
			}
		default:
			report.Failed++
		}
	}
	report.EstimatedCost = s.calc.EstimateBatch(
		report.Total-report.Skipped, s.opts.AvgTokensPerItem, s.opts.Model)
	report.FinishedAt = time.Now().UTC()

	s.recordRun(ctx, report)

	log.Info("batch finished",
		zap.Int("successful", report.Successful),
		zap.Int("failed", report.Failed),
		zap.Int("skipped", report.Skipped),
		zap.Int("needs_review", report.NeedsReview),
		zap.Float64("estimated_cost_usd", report.EstimatedCost),
	)
	return report
}

// processItem runs one item's pipeline to a terminal state. It never
// panics or returns an error; whatever happens lands in the result.
func (s *Scheduler) processItem(ctx context.Context, idx int, item model.Item, batchID string) model.ItemResult {
	res := model.ItemResult{Index: idx, Name: item.Name, State: model.StatePending}

	// Admission: a denial is recoverable by the caller after RetryAfter,
	// so it is a skip, not a failure of the item's content.
	check := s.limiter.CheckLimit(s.opts.SubjectID, s.opts.Action)
	if !check.Allowed {
		res.State = model.StateFailed
		res.Skipped = true
		res.SkipReason = fmt.Sprintf("rate limited; retry after %ds", check.RetryAfterSeconds())
		return res
	}
	s.limiter.RecordRequest(s.opts.SubjectID, s.opts.Action)
	res.State = model.StateAdmitted

	// Validation failures are permanent for the item as submitted.
	outcome := s.validator.Validate(item)
	if outcome.SanitizedName != "" {
		res.Name = outcome.SanitizedName
	}
	if !outcome.Valid {
		res.State = model.StateFailed
		res.Skipped = true
		res.SkipReason = "validation failed: " + joinCodes(outcome)
		res.Err = eris.New(res.SkipReason)
		res.ErrMessage = res.SkipReason
		return res
	}
	res.State = model.StateValidated

	// Duplicate / worth-processing pre-check, before any extraction
	// spend. The ledger is advisory: a read error logs and the item
	// proceeds as unseen.
	if reason := s.preCheck(ctx, item); reason != "" {
		res.State = model.StateFailed
		res.Skipped = true
		res.SkipReason = reason
		return res
	}

	res.State = model.StateSubmitted
	hash := payloadHash(item)

	attempts := 0
	retryCfg := resilience.RetryConfig{
		MaxAttempts: s.opts.MaxRetries,
		BaseDelay:   s.opts.RetryBaseDelay,
		// The scheduler's policy is broader than the transport default:
		// any extraction failure is retried except authentication-class
		// ones, including per-attempt timeouts and decode errors.
		ShouldRetry: func(err error) bool {
			return !resilience.IsAuthError(err)
		},
		OnRetry: func(attempt int, err error) {
			res.State = model.StateRetrying
			zap.L().Warn("extraction attempt failed, retrying",
				zap.String("item", res.Name),
				zap.Int("failed_attempt", attempt),
				zap.Error(err),
			)
		},
	}
	rec, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (*model.ExtractedRecord, error) {
		attempts++
		res.State = model.StateSubmitted
		actx, cancel := context.WithTimeout(ctx, s.opts.AttemptTimeout)
		defer cancel()
		return s.extractor.Extract(actx, item)
	})
	res.Attempts = attempts

	if err != nil {
		res.State = model.StateFailed
		res.Err = err
		res.ErrMessage = err.Error()
		return res
	}

	res.Record = rec
	res.Success = true
	res.State = model.StateSucceeded

	decision := s.gate.Evaluate(*rec, rec.Confidence)
	res.Decision = &decision
	res.State = model.StateGated

	if s.ledger != nil {
		if err := s.ledger.MarkProcessed(ctx, store.Entry{
			Hash:        hash,
			Name:        res.Name,
			BatchID:     batchID,
			ProcessedAt: time.Now().UTC(),
		}); err != nil {
			zap.L().Warn("ledger write failed", zap.String("item", res.Name), zap.Error(err))
		}
	}
	return res
}

// preCheck returns a skip reason, or "" if the item should be extracted.
func (s *Scheduler) preCheck(ctx context.Context, item model.Item) string {
	if !s.calc.Known(s.opts.Model) {
		return fmt.Sprintf("model %q has no configured pricing", s.opts.Model)
	}
	if s.ledger == nil {
		return ""
	}
	seen, err := s.ledger.Seen(ctx, payloadHash(item))
	if err != nil {
		zap.L().Warn("ledger read failed, treating item as unseen",
			zap.String("item", item.Name), zap.Error(err))
		return ""
	}
	if seen {
		return "duplicate of an already-processed item"
	}
	return ""
}

func (s *Scheduler) recordRun(ctx context.Context, report model.Report) {
	if s.ledger == nil {
		return
	}
	err := s.ledger.RecordBatch(ctx, store.BatchRun{
		ID:            report.BatchID,
		Total:         report.Total,
		Successful:    report.Successful,
		Failed:        report.Failed,
		Skipped:       report.Skipped,
		EstimatedCost: report.EstimatedCost,
		StartedAt:     report.StartedAt,
		FinishedAt:    report.FinishedAt,
	})
	if err != nil {
		zap.L().Warn("batch run not recorded", zap.String("batch_id", report.BatchID), zap.Error(err))
	}
}

func payloadHash(item model.Item) string {
	sum := sha256.Sum256(item.Data)
	return hex.EncodeToString(sum[:])
}

func joinCodes(outcome validate.Outcome) string {
	codes := make([]string, len(outcome.Errors))
	for i, e := range outcome.Errors {
		codes[i] = string(e.Code)
	}
	return strings.Join(codes, ", ")
}

// sleepCtx waits for d or until the context is canceled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
