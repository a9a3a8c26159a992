package retry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/sync/classify"
	"github.com/vietddude/syncd/internal/sync/event"
	"github.com/vietddude/syncd/internal/sync/metrics"
)

// UnitOfWork is the smallest retryable operation.
type UnitOfWork func(ctx context.Context) (any, error)

// Engine executes units of work under a backoff policy and an optional
// circuit breaker. Construct one per sync run.
type Engine struct {
	policy    *Policy // caller override; nil = follow classifier suggestion
	breaker   *Breaker
	sink      event.Sink
	sessionID string
	log       *slog.Logger

	// sleep is swapped out in tests
	sleep func(ctx context.Context, d time.Duration) error
}

// NewEngine creates a retry engine. policy overrides the classifier's
// suggested strategy when non-nil. breaker may be nil to disable
// circuit breaking.
func NewEngine(policy *Policy, breaker *Breaker, sink event.Sink, sessionID string, log *slog.Logger) *Engine {
	if sink == nil {
		sink = event.NewLogSink(log)
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		policy:    policy,
		breaker:   breaker,
		sink:      sink,
		sessionID: sessionID,
		log:       log,
		sleep:     sleepCtx,
	}
	if breaker != nil {
		breaker.SetTransitionCallback(e.onBreakerTransition)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	// Blocking sleep on the caller's goroutine is intentional
	// backpressure: it throttles the pipeline instead of queuing
	// unbounded retries.
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (e *Engine) onBreakerTransition(operation string, from, to BreakerStatus) {
	evType := domain.EventBreakerClosed
	if to == StatusOpen {
		evType = domain.EventBreakerOpened
	} else if to != StatusClosed {
		return
	}
	ev := event.New(e.sessionID, evType, map[string]any{
		"operation": operation,
		"from":      from.String(),
		"to":        to.String(),
	})
	if err := e.sink.Publish(context.Background(), ev); err != nil {
		e.log.Warn("failed to publish breaker event", "operation", operation, "error", err)
	}
	e.log.Info("circuit breaker transition", "operation", operation, "from", from, "to", to)
}

// Execute runs work under the retry loop. It returns the result, the
// number of invocations performed, and the final error.
func (e *Engine) Execute(
	ctx context.Context,
	operation string,
	work UnitOfWork,
	cctx classify.Context,
) (any, int, error) {
	if e.breaker != nil {
		if err := e.breaker.Allow(operation); err != nil {
			return nil, 0, err
		}
	}

	attempt := 0
	for {
		attempt++
		start := time.Now()
		result, err := work(ctx)
		elapsed := time.Since(start)

		if err == nil {
			if e.breaker != nil {
				e.breaker.RecordSuccess(operation)
			}
			if attempt > 1 {
				e.publish(ctx, domain.EventRetrySucceeded, map[string]any{
					"operation": operation,
					"attempt":   attempt,
					"elapsedMs": elapsed.Milliseconds(),
				})
			}
			return result, attempt, nil
		}

		if e.breaker != nil {
			e.breaker.RecordFailure(operation)
		}

		failCtx := cctx
		failCtx.ConsecutiveFailures = cctx.ConsecutiveFailures + attempt - 1
		c := classify.Classify(err, failCtx)
		metrics.RetryAttempts.WithLabelValues(operation, string(c.Category)).Inc()

		if !c.RetryEligible {
			return nil, attempt, err
		}

		policy := e.policyFor(c)
		if attempt >= policy.MaxAttempts {
			e.publish(ctx, domain.EventRetryExhausted, map[string]any{
				"operation": operation,
				"attempts":  attempt,
				"category":  string(c.Category),
			})
			metrics.RetryExhausted.WithLabelValues(operation).Inc()
			return nil, attempt, fmt.Errorf("retry exhausted after %d attempts: %w", attempt, err)
		}

		delay := policy.Delay(attempt)
		e.publish(ctx, domain.EventRetryScheduled, map[string]any{
			"operation": operation,
			"attempt":   attempt,
			"delayMs":   delay.Milliseconds(),
			"category":  string(c.Category),
		})
		e.log.Debug("retry scheduled",
			"operation", operation,
			"attempt", attempt,
			"delay", delay,
			"category", c.Category,
		)

		if err := e.sleep(ctx, delay); err != nil {
			return nil, attempt, err
		}
	}
}

func (e *Engine) policyFor(c classify.Classification) Policy {
	if e.policy != nil {
		return *e.policy
	}
	p := fromStrategy(c.Strategy)
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	return p
}

func (e *Engine) publish(ctx context.Context, t domain.SyncEventType, payload map[string]any) {
	if err := e.sink.Publish(ctx, event.New(e.sessionID, t, payload)); err != nil {
		e.log.Warn("failed to publish retry event", "type", t, "error", err)
	}
}

// BatchItem pairs one unit of work with its outcome.
type BatchItem struct {
	Result   any
	Attempts int
	Err      error
}

// ExecuteBatch runs each unit independently, then evaluates the batch
// success rate. The batch-level check is evaluated after the batch
// completes and takes precedence over per-call failure counting: a rate
// below the configured threshold forces the breaker open even when no
// single failure streak reached the per-operation threshold.
func (e *Engine) ExecuteBatch(
	ctx context.Context,
	operation string,
	units []UnitOfWork,
	cctx classify.Context,
) []BatchItem {
	items := make([]BatchItem, len(units))
	for i, unit := range units {
		result, attempts, err := e.Execute(ctx, operation, unit, cctx)
		items[i] = BatchItem{Result: result, Attempts: attempts, Err: err}
	}

	failed := 0
	for _, item := range items {
		if item.Err != nil {
			failed++
		}
	}
	e.ReportBatch(operation, failed, len(units))

	return items
}

// ReportBatch evaluates a finished batch's success rate and forces the
// breaker open when it falls below the configured threshold. Callers
// driving units through Execute directly invoke this once per batch.
func (e *Engine) ReportBatch(operation string, failed, total int) {
	if e.breaker == nil || total == 0 {
		return
	}
	successRate := 1 - float64(failed)/float64(total)
	threshold := e.breaker.cfg.BatchFailureRate
	if threshold > 0 && successRate < threshold {
		e.log.Warn("batch success rate below threshold, forcing breaker open",
			"operation", operation,
			"successRate", successRate,
			"threshold", threshold,
		)
		e.breaker.ForceOpen(operation)
	}
}
