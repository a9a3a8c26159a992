package orchestrator

import (
	"context"
	"fmt"

	"github.com/vietddude/syncd/internal/core/config"
	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/sync/source"
)

// BatchResult is the per-batch output of StreamAndProcess.
type BatchResult struct {
	BatchNumber int
	Counts      domain.SyncCounts
	Results     []domain.ProcessingResult
	Err         error
}

// StreamAndProcess is the lower-level variant of ExecuteSync for
// callers wanting per-batch control. Finished batches are delivered
// over the returned channel; it closes once the session reaches a
// terminal state. Session and batch lifecycle are tracked exactly as
// ExecuteSync tracks them.
func (o *Orchestrator) StreamAndProcess(ctx context.Context, cfg config.SyncConfig) (<-chan BatchResult, error) {
	adapter, store, err := o.prepare(ctx, cfg)
	if err != nil {
		return nil, err
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

	out := make(chan BatchResult)
	go func() {
		defer close(out)
		emit := func(br BatchResult) {
			select {
			case out <- br:
			case <-ctx.Done():
			}
		}
		o.run(ctx, cfg, sess, adapter, store, emit)
	}()
	return out, nil
}
