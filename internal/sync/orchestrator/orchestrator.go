package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/syncd/internal/core/config"
	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/sync/classify"
	"github.com/vietddude/syncd/internal/sync/event"
	"github.com/vietddude/syncd/internal/sync/metrics"
	"github.com/vietddude/syncd/internal/sync/retry"
	"github.com/vietddude/syncd/internal/sync/session"
	"github.com/vietddude/syncd/internal/sync/source"
	"github.com/vietddude/syncd/internal/sync/target"
)

const (
	// progressInterval is how many records pass between incremental
	// batch progress updates.
	progressInterval = 25

	// parallelWorkers caps concurrent record applications when the
	// parallel processing flag is set.
	parallelWorkers = 5
)

// Orchestrator drives the full pipeline: source stream through filters
// and transforms, chunked into batches, applied to the target under
// retry, tracked by the session tracker.
type Orchestrator struct {
	registry *source.Registry
	targets  map[string]target.Store
	tracker  *session.Tracker
	sink     event.Sink
	log      *slog.Logger
}

func New(
	registry *source.Registry,
	targets map[string]target.Store,
	tracker *session.Tracker,
	sink event.Sink,
	log *slog.Logger,
) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = event.NewLogSink(log)
	}
	return &Orchestrator{
		registry: registry,
		targets:  targets,
		tracker:  tracker,
		sink:     sink,
		log:      log,
	}
}

// Options tunes one ExecuteSync call.
type Options struct {
	// DryRun validates config and initializes the adapter and target
	// without touching either the target or the session store.
	DryRun bool
}

// Status is the caller-facing outcome of a run.
type Status string

const (
	StatusSuccess Status = "success"
	StatusPartial Status = "partial"
	StatusFailure Status = "failure"
)

// ErrorDetail is one structured failure surfaced to the caller.
type ErrorDetail struct {
	RecordID  string `json:"record_id,omitempty"`
	Category  string `json:"category,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

// SyncResult is returned to the caller of ExecuteSync.
type SyncResult struct {
	Status           Status            `json:"status"`
	Stats            domain.SyncCounts `json:"stats"`
	SessionID        string            `json:"session_id,omitempty"`
	ErrorDetails     []ErrorDetail     `json:"error_details,omitempty"`
	ProcessingTimeMs int64             `json:"processing_time_ms"`
}

// ValidationFailedError carries the full violation list for an invalid
// config. The pipeline is never partially executed.
type ValidationFailedError struct {
	Errors []domain.FieldError
}

func (e *ValidationFailedError) Error() string {
	return fmt.Sprintf("config validation failed with %d error(s)", len(e.Errors))
}

// ExecuteSync runs one full synchronization described by cfg.
func (o *Orchestrator) ExecuteSync(ctx context.Context, cfg config.SyncConfig, opts Options) (*SyncResult, error) {
	start := time.Now()

	adapter, store, err := o.prepare(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if opts.DryRun {
		return &SyncResult{
			Status:           StatusSuccess,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
		}, nil
	}

	estimated := 0
	if c, ok := adapter.(source.Counter); ok {
		if n, err := c.TotalCount(ctx); err == nil {
			estimated = n
		}
	}

	sess, err := o.tracker.StartSession(ctx, cfg.Session.SyncType, cfg.Session.InitiatedBy, estimated)
	if err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}

	result := o.run(ctx, cfg, sess, adapter, store, nil)
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return result, nil
}

// prepare validates the config and initializes the adapter and resolves
// the target store. Nothing is initialized when validation fails.
func (o *Orchestrator) prepare(ctx context.Context, cfg config.SyncConfig) (source.Adapter, target.Store, error) {
	errs := cfg.Validate()

	var store target.Store
	if cfg.TargetResource != "" {
		var ok bool
		if store, ok = o.targets[cfg.TargetResource]; !ok {
			errs = append(errs, domain.FieldError{
				Field:   "target_resource",
				Rule:    "allowed",
				Message: fmt.Sprintf("unknown target resource %q", cfg.TargetResource),
			})
		}
	}
	if len(errs) > 0 {
		return nil, nil, &ValidationFailedError{Errors: errs}
	}

	adapter, err := o.registry.New(cfg.SourceAdapter)
	if err != nil {
		return nil, nil, &ValidationFailedError{Errors: []domain.FieldError{{
			Field:   "source_adapter",
			Rule:    "allowed",
			Message: err.Error(),
		}}}
	}
	if err := adapter.Init(ctx, source.Config(cfg.SourceConfig)); err != nil {
		return nil, nil, fmt.Errorf("initialize source adapter: %w", err)
	}
	if v, ok := adapter.(source.ConnectionValidator); ok {
		if err := v.ValidateConnection(ctx); err != nil {
			return nil, nil, fmt.Errorf("source connection check: %w", err)
		}
	}
	return adapter, store, nil
}

// run drives the streaming pipeline. It always leaves the session in a
// terminal state, panics included.
func (o *Orchestrator) run(
	ctx context.Context,
	cfg config.SyncConfig,
	sess *domain.SyncSession,
	adapter source.Adapter,
	store target.Store,
	emit func(BatchResult),
) (res *SyncResult) {
	res = &SyncResult{SessionID: sess.ID}

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("sync pipeline panic", "session", sess.ID, "panic", r)
			msg := fmt.Sprintf("internal error: %v", r)
			if err := o.tracker.FailSession(ctx, sess.ID, msg); err != nil {
				o.log.Error("failed to finalize panicked session", "session", sess.ID, "error", err)
			}
			res.Status = StatusFailure
			res.ErrorDetails = append(res.ErrorDetails, ErrorDetail{Message: msg})
		}
	}()

	if err := o.tracker.MarkRunning(ctx, sess.ID); err != nil {
		return o.failRun(ctx, res, sess.ID, fmt.Sprintf("mark running: %v", err))
	}

	// Error recovery is opt-in: without it no retry engine (and no
	// breaker) wraps the target, so every record gets exactly one
	// attempt.
	var engine *retry.Engine
	if cfg.Processing.EnableErrorRecovery {
		engine = retry.NewEngine(
			cfg.RetryPolicy.ToPolicy(),
			retry.NewBreaker(cfg.CircuitBreaker.ToBreakerConfig()),
			o.sink,
			sess.ID,
			o.log,
		)
	}
	processor := target.NewProcessor(store, o.log)

	cursor, err := adapter.Stream(ctx)
	if err != nil {
		return o.failRun(ctx, res, sess.ID, fmt.Sprintf("open source stream: %v", err))
	}
	defer cursor.Close()

	operation := "target." + cfg.TargetResource
	limit := cfg.Processing.Limit
	streamDone := false
	streamFailed := false

	for !streamDone {
		if o.tracker.IsCancelled(sess.ID) {
			o.log.Info("cancellation observed at batch boundary", "session", sess.ID)
			break
		}

		remaining := cfg.Processing.BatchSize
		if limit > 0 && limit-res.Stats.Processed < remaining {
			remaining = limit - res.Stats.Processed
		}
		if remaining <= 0 {
			break
		}

		records, streamErr := o.pullChunk(ctx, cursor, cfg, remaining)
		if streamErr != nil {
			// Stream failures are batch-level errors: no more records
			// can be pulled either way.
			o.log.Error("source stream failed", "session", sess.ID, "error", streamErr)
			res.ErrorDetails = append(res.ErrorDetails, ErrorDetail{
				Message:   fmt.Sprintf("source stream failed: %v", streamErr),
				Retryable: true,
			})
			if !cfg.Processing.ContinueOnBatchError {
				return o.failRun(ctx, res, sess.ID, fmt.Sprintf("source stream failed: %v", streamErr))
			}
			streamFailed = true
			streamDone = true
		}
		if len(records) == 0 {
			if streamErr == nil {
				streamDone = true
			}
			continue
		}

		batch, err := o.tracker.StartBatch(ctx, sess.ID, len(records), recordIDs(records))
		if err != nil {
			return o.failRun(ctx, res, sess.ID, fmt.Sprintf("start batch: %v", err))
		}

		counts, results := o.processBatch(ctx, cfg, sess.ID, batch.Number, operation, engine, processor, records, res)
		res.Stats.Add(counts)

		if counts.Errors > 0 && !cfg.Processing.ContinueOnBatchError {
			msg := fmt.Sprintf("%d record(s) failed", counts.Errors)
			if err := o.tracker.FailBatch(ctx, sess.ID, batch.Number, counts, msg); err != nil {
				o.log.Error("failed to fail batch", "session", sess.ID, "error", err)
			}
			if emit != nil {
				emit(BatchResult{BatchNumber: batch.Number, Counts: counts, Results: results, Err: errors.New(msg)})
			}
			return o.failRun(ctx, res, sess.ID, fmt.Sprintf("batch %d failed: %s", batch.Number, msg))
		}

		if err := o.tracker.CompleteBatch(ctx, sess.ID, batch.Number, counts); err != nil {
			return o.failRun(ctx, res, sess.ID, fmt.Sprintf("complete batch: %v", err))
		}
		if emit != nil {
			emit(BatchResult{BatchNumber: batch.Number, Counts: counts, Results: results})
		}

		if limit > 0 && res.Stats.Processed >= limit {
			o.log.Info("record limit reached, stopping stream",
				"session", sess.ID,
				"limit", limit,
			)
			break
		}
	}

	// Finalize. Cancellation already moved the session to a terminal
	// state; everything else completes here.
	if o.tracker.IsCancelled(sess.ID) {
		res.Status = StatusPartial
		return res
	}
	if err := o.tracker.CompleteSession(ctx, sess.ID); err != nil {
		return o.failRun(ctx, res, sess.ID, fmt.Sprintf("complete session: %v", err))
	}
	if streamFailed {
		res.Status = StatusPartial
	} else {
		res.Status = StatusSuccess
	}
	return res
}

func (o *Orchestrator) failRun(ctx context.Context, res *SyncResult, sessionID, msg string) *SyncResult {
	if err := o.tracker.FailSession(ctx, sessionID, msg); err != nil && !errors.Is(err, session.ErrTerminalState) {
		o.log.Error("failed to finalize session", "session", sessionID, "error", err)
	}
	res.Status = StatusFailure
	res.ErrorDetails = append(res.ErrorDetails, ErrorDetail{Message: msg})
	return res
}

// pullChunk reads up to max records from the cursor, applying filters
// and run-level transforms. Filtered-out records are not counted.
func (o *Orchestrator) pullChunk(
	ctx context.Context,
	cursor source.RecordCursor,
	cfg config.SyncConfig,
	max int,
) ([]*domain.Record, error) {
	records := make([]*domain.Record, 0, max)
	for len(records) < max {
		rec, err := cursor.Next(ctx)
		if errors.Is(err, source.ErrEndOfStream) {
			return records, nil
		}
		if err != nil {
			return records, err
		}
		if !matchesFilters(rec, cfg.Processing.Filters, o.log) {
			continue
		}
		if len(cfg.Processing.Transformations) > 0 {
			fields, err := target.ApplyTransforms(rec.Fields, cfg.Processing.Transformations)
			if err != nil {
				// Run-level transform failures degrade to the raw
				// record; target-level validation still applies.
				o.log.Warn("run-level transform failed, passing record through",
					"record", rec.ID,
					"error", err,
				)
			} else {
				rec.Fields = fields
			}
		}
		records = append(records, rec)
	}
	return records, nil
}

// processBatch applies one batch. With error recovery the retry engine
// wraps each record; without it the processor drives the whole batch in
// a single pass. Parallel batches report progress only on completion.
func (o *Orchestrator) processBatch(
	ctx context.Context,
	cfg config.SyncConfig,
	sessionID string,
	batchNumber int,
	operation string,
	engine *retry.Engine,
	processor *target.Processor,
	records []*domain.Record,
	res *SyncResult,
) (domain.SyncCounts, []domain.ProcessingResult) {
	var counts domain.SyncCounts
	cctx := classify.Context{
		Operation:    operation,
		ResourceType: cfg.TargetResource,
		BatchSize:    len(records),
	}

	var results []domain.ProcessingResult
	switch {
	case engine == nil:
		results = processor.ProcessBatch(ctx, records, cfg.Target, cfg.Session.InitiatedBy, cfg.Processing.Parallel)
		for i := range results {
			results[i].CountInto(&counts)
		}
	case cfg.Processing.Parallel:
		results = make([]domain.ProcessingResult, len(records))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(parallelWorkers)
		for i, rec := range records {
			i, rec := i, rec
			g.Go(func() error {
				results[i] = o.applyRecord(gctx, engine, processor, cfg, operation, cctx, rec)
				return nil
			})
		}
		_ = g.Wait()
		for i := range results {
			results[i].CountInto(&counts)
		}
	default:
		results = make([]domain.ProcessingResult, len(records))
		for i, rec := range records {
			results[i] = o.applyRecord(ctx, engine, processor, cfg, operation, cctx, rec)
			results[i].CountInto(&counts)

			if (i+1)%progressInterval == 0 && i+1 < len(records) {
				if err := o.tracker.UpdateBatchProgress(ctx, sessionID, batchNumber, counts); err != nil {
					o.log.Warn("progress update failed", "session", sessionID, "error", err)
				}
			}
		}
	}

	failed := 0
	for _, result := range results {
		metrics.RecordsProcessed.WithLabelValues(cfg.Session.SyncType, string(result.Outcome)).Inc()
		if result.Outcome != domain.OutcomeError {
			continue
		}
		failed++
		c := classify.Classify(result.Err, cctx)
		res.ErrorDetails = append(res.ErrorDetails, ErrorDetail{
			RecordID:  result.RecordID,
			Category:  string(c.Category),
			Message:   result.Err.Error(),
			Retryable: c.RetryEligible,
		})
	}

	if engine != nil {
		engine.ReportBatch(operation, failed, len(records))
	}
	return counts, results
}

// applyRecord runs one record's target application under the retry
// engine.
func (o *Orchestrator) applyRecord(
	ctx context.Context,
	engine *retry.Engine,
	processor *target.Processor,
	cfg config.SyncConfig,
	operation string,
	cctx classify.Context,
	rec *domain.Record,
) domain.ProcessingResult {
	unit := func(uctx context.Context) (any, error) {
		r := processor.ProcessRecord(uctx, rec, cfg.Target, cfg.Session.InitiatedBy)
		if r.Outcome == domain.OutcomeError && r.Err != nil {
			return r, r.Err
		}
		return r, nil
	}

	raw, attempts, err := engine.Execute(ctx, operation, unit, cctx)
	if err != nil {
		return domain.ProcessingResult{
			RecordID: rec.ID,
			Outcome:  domain.OutcomeError,
			Attempts: attempts,
			Err:      err,
		}
	}
	result := raw.(domain.ProcessingResult)
	result.Attempts = attempts
	return result
}

func recordIDs(records []*domain.Record) []string {
	ids := make([]string, len(records))
	for i, r := range records {
		ids[i] = r.ID
	}
	return ids
}
