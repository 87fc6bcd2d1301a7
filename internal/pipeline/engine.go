package pipeline

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"addrclean/internal"
	"addrclean/internal/config"
)

// Normalizer turns raw lines into normalized records in the same order.
type Normalizer interface {
	Normalize(ctx context.Context, prefix string, lines []string) ([]internal.NormalizedRecord, error)
}

type EngineOptions struct {
	PromptPrefix          string
	BatchSize             int
	Workers               int
	MinNameLength         int
	CallTimeout           time.Duration
	ServiceRetryAttempts  int
	ServiceRetryBackoff   time.Duration
	MismatchRetryAttempts int
}

func EngineOptionsFromConfig(cfg config.Config) EngineOptions {
	return EngineOptions{
		PromptPrefix:          cfg.PromptPrefix,
		BatchSize:             cfg.BatchSize,
		Workers:               cfg.Workers,
		MinNameLength:         cfg.MinNameLength,
		CallTimeout:           cfg.GeminiTimeout(),
		ServiceRetryAttempts:  cfg.ServiceRetryAttempts,
		ServiceRetryBackoff:   cfg.ServiceRetryBackoff(),
		MismatchRetryAttempts: cfg.MismatchRetryAttempts,
	}
}

type Engine struct {
	normalizer Normalizer
	opts       EngineOptions
	logger     *zap.Logger
}

type Result struct {
	Table     *OutputTable
	Failures  []internal.BatchFailure
	Stats     internal.RunStats
	Cancelled bool
}

type batchOutcome struct {
	pairs []internal.Pair
	err   error
}

func NewEngine(normalizer Normalizer, opts EngineOptions, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = internal.DefaultBatchSize
	}
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.MinNameLength <= 0 {
		opts.MinNameLength = internal.DefaultMinNameLength
	}
	if opts.ServiceRetryAttempts <= 0 {
		opts.ServiceRetryAttempts = 1
	}
	if opts.MismatchRetryAttempts < 0 {
		opts.MismatchRetryAttempts = 0
	}
	return &Engine{normalizer: normalizer, opts: opts, logger: logger}
}

// Run validates the mapping, normalizes every slot and returns the best-effort
// table. Only an invalid mapping is returned as an error; batch problems are
// reported in Result.Failures.
func (e *Engine) Run(ctx context.Context, rc internal.RunContext) (*Result, error) {
	start := time.Now()
	ds := rc.Dataset
	if err := ValidateMapping(ds, rc.Mapping); err != nil {
		return nil, err
	}

	res := &Result{
		Table: NewOutputTable(ds, len(rc.Mapping.Slots)),
		Stats: internal.RunStats{Slots: len(rc.Mapping.Slots), RowsSkipped: map[int]int{}},
	}

	var units []internal.Batch
	for slot, spec := range rc.Mapping.Slots {
		records := ExtractRecords(ds, slot, spec, e.opts.MinNameLength)
		batches := SplitBatches(slot, records, e.opts.BatchSize)
		res.Stats.RecordsExtracted += len(records)
		res.Stats.RowsSkipped[slot] = len(ds.Rows) - len(records)
		units = append(units, batches...)
		e.logger.Info("respondent extracted",
			zap.Int("respondent", slot+1),
			zap.String("name_column", spec.NameColumn),
			zap.Int("records", len(records)),
			zap.Int("skipped_rows", len(ds.Rows)-len(records)),
			zap.Int("batches", len(batches)))
	}
	res.Stats.Batches = len(units)

	outcomes := make([]batchOutcome, len(units))
	var g errgroup.Group
	g.SetLimit(e.opts.Workers)
	for i, b := range units {
		if ctx.Err() != nil {
			outcomes[i] = batchOutcome{err: internal.ErrRunCancelled}
			continue
		}
		i, b := i, b
		// g.Go may block on a full pool; the unit re-checks ctx once it gets a slot.
		g.Go(func() error {
			if ctx.Err() != nil {
				outcomes[i] = batchOutcome{err: internal.ErrRunCancelled}
				return nil
			}
			outcomes[i] = e.processBatch(ctx, b)
			return nil
		})
	}
	_ = g.Wait()

	for i, b := range units {
		out := outcomes[i]
		if errors.Is(out.err, internal.ErrRunCancelled) {
			res.Cancelled = true
		}
		if out.err != nil {
			failure := internal.BatchFailure{
				Slot:       b.Slot,
				BatchIndex: b.Index,
				FirstRowID: b.FirstRowID(),
				LastRowID:  b.LastRowID(),
				Records:    len(b.Records),
				Cause:      out.err,
			}
			res.Failures = append(res.Failures, failure)
			e.logger.Warn("batch not normalized",
				zap.Int("respondent", b.Slot+1),
				zap.Int("batch", b.Index+1),
				zap.Int("first_row", failure.FirstRowID+1),
				zap.Int("last_row", failure.LastRowID+1),
				zap.String("kind", internal.FailureKind(out.err)),
				zap.Error(out.err))
			continue
		}
		res.Table.MergeSlot(b.Slot, out.pairs)
		res.Stats.RecordsNormalized += len(out.pairs)
	}
	res.Stats.FailedBatches = len(res.Failures)

	res.Table.CopyPassthrough(ds, PassthroughColumns(ds, rc.Mapping))
	res.Stats.DurationMs = time.Since(start).Milliseconds()
	return res, nil
}

// processBatch calls the service with bounded retries. In-flight calls are not
// cut short by run cancellation; they end on their own timeout.
func (e *Engine) processBatch(ctx context.Context, b internal.Batch) batchOutcome {
	lines := make([]string, len(b.Records))
	for i, r := range b.Records {
		lines[i] = r.Text
	}

	serviceAttempts, mismatchRetries := 0, 0
	for {
		records, err := e.call(ctx, lines)
		if err == nil {
			pairs, verr := ValidateResponse(b, records)
			if verr == nil {
				return batchOutcome{pairs: pairs}
			}
			if mismatchRetries >= e.opts.MismatchRetryAttempts || ctx.Err() != nil {
				return batchOutcome{err: verr}
			}
			mismatchRetries++
			e.logger.Warn("count mismatch, retrying batch",
				zap.Int("respondent", b.Slot+1),
				zap.Int("batch", b.Index+1),
				zap.Error(verr))
			continue
		}

		serviceAttempts++
		var svcErr *internal.ServiceError
		if !errors.As(err, &svcErr) || !retryableService(svcErr) || serviceAttempts >= e.opts.ServiceRetryAttempts {
			return batchOutcome{err: err}
		}
		delay := e.backoff(serviceAttempts)
		e.logger.Warn("service call failed, retrying",
			zap.Int("respondent", b.Slot+1),
			zap.Int("batch", b.Index+1),
			zap.Int("attempt", serviceAttempts),
			zap.Duration("backoff", delay),
			zap.Error(err))
		if sleepCtx(ctx, delay) != nil {
			return batchOutcome{err: err}
		}
	}
}

func (e *Engine) call(ctx context.Context, lines []string) ([]internal.NormalizedRecord, error) {
	callCtx := context.WithoutCancel(ctx)
	if e.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(callCtx, e.opts.CallTimeout)
		defer cancel()
	}
	return e.normalizer.Normalize(callCtx, e.opts.PromptPrefix, lines)
}

func (e *Engine) backoff(attempt int) time.Duration {
	base := e.opts.ServiceRetryBackoff
	if base <= 0 {
		return 0
	}
	jitter := time.Duration(rand.Int63n(int64(base)/4 + 1))
	return base*time.Duration(1<<(attempt-1)) + jitter
}

func retryableService(err *internal.ServiceError) bool {
	if err.Kind != internal.ServiceStatus || err.StatusCode == 0 {
		return true
	}
	switch err.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests,
		http.StatusInternalServerError, http.StatusBadGateway,
		http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

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
