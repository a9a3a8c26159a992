package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/infra/storage"
	"github.com/vietddude/syncd/internal/sync/event"
	"github.com/vietddude/syncd/internal/sync/metrics"
)

// Tracker owns the session and batch lifecycle. All status transitions
// flow through it so the state machine and persistence stay consistent.
type Tracker struct {
	sessions storage.SessionRepository
	batches  storage.BatchRepository
	sink     event.Sink
	log      *slog.Logger

	mu   sync.Mutex
	live map[string]*liveSession
}

// liveSession is the in-flight view of one session. Completed batch
// counts accumulate into base; the active batch is layered on top.
type liveSession struct {
	session   *domain.SyncSession
	base      domain.SyncCounts
	batch     *domain.BatchProgress
	nextBatch int
	cancelled bool
}

func NewTracker(sessions storage.SessionRepository, batches storage.BatchRepository, sink event.Sink, log *slog.Logger) *Tracker {
	if log == nil {
		log = slog.Default()
	}
	if sink == nil {
		sink = event.NewLogSink(log)
	}
	return &Tracker{
		sessions: sessions,
		batches:  batches,
		sink:     sink,
		log:      log,
		live:     make(map[string]*liveSession),
	}
}

// StartSession creates a new session in pending state.
func (t *Tracker) StartSession(ctx context.Context, syncType, initiatedBy string, estimatedTotal int) (*domain.SyncSession, error) {
	s := &domain.SyncSession{
		ID:             uuid.New().String(),
		SyncType:       syncType,
		Status:         domain.SessionStatusPending,
		EstimatedTotal: estimatedTotal,
		StartedAt:      time.Now(),
		InitiatedBy:    initiatedBy,
	}
	if err := t.sessions.Save(ctx, s); err != nil {
		return nil, fmt.Errorf("save session: %w", err)
	}

	t.mu.Lock()
	t.live[s.ID] = &liveSession{session: s, nextBatch: 1}
	t.mu.Unlock()

	metrics.SessionsActive.Inc()
	t.publish(ctx, event.New(s.ID, domain.EventSessionStarted, map[string]any{
		"sync_type":       syncType,
		"initiated_by":    initiatedBy,
		"estimated_total": estimatedTotal,
	}))
	return s, nil
}

// MarkRunning moves a pending session into running.
func (t *Tracker) MarkRunning(ctx context.Context, sessionID string) error {
	if err := t.transitionSession(ctx, sessionID, domain.SessionStatusRunning, ""); err != nil {
		return err
	}
	t.publish(ctx, event.New(sessionID, domain.EventSessionRunning, nil))
	return nil
}

// StartBatch registers the next batch for a session. Batch numbers are
// assigned by the tracker, contiguous from 1.
func (t *Tracker) StartBatch(ctx context.Context, sessionID string, size int, sourceIDs []string) (*domain.BatchProgress, error) {
	t.mu.Lock()
	ls, ok := t.live[sessionID]
	if !ok {
		t.mu.Unlock()
		return nil, storage.ErrSessionNotFound
	}
	if ls.session.Status != domain.SessionStatusRunning {
		t.mu.Unlock()
		return nil, fmt.Errorf("%w: cannot start batch in %s session", ErrInvalidTransition, ls.session.Status)
	}
	if ls.batch != nil && !ls.batch.Status.IsTerminal() {
		t.mu.Unlock()
		return nil, fmt.Errorf("batch %d still in flight", ls.batch.Number)
	}
	b := &domain.BatchProgress{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Number:    ls.nextBatch,
		Size:      size,
		SourceIDs: sourceIDs,
		Status:    domain.BatchStatusProcessing,
		StartedAt: time.Now(),
	}
	ls.nextBatch++
	ls.batch = b
	t.mu.Unlock()

	if err := t.batches.Save(ctx, b); err != nil {
		return nil, fmt.Errorf("save batch: %w", err)
	}

	ev := event.New(sessionID, domain.EventBatchStarted, map[string]any{"size": size})
	ev.BatchNumber = b.Number
	t.publish(ctx, ev)
	return b, nil
}

// UpdateBatchProgress records cumulative counts of the active batch.
// Counts may only grow; a regression indicates a caller bug.
func (t *Tracker) UpdateBatchProgress(ctx context.Context, sessionID string, batchNumber int, counts domain.SyncCounts) error {
	t.mu.Lock()
	ls, b, err := t.activeBatchLocked(sessionID, batchNumber)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if counts.Processed < b.Counts.Processed {
		t.mu.Unlock()
		return fmt.Errorf("batch %d counts regressed: %d -> %d", batchNumber, b.Counts.Processed, counts.Processed)
	}
	b.Counts = counts
	session := ls.session
	session.Counts = ls.base
	session.Counts.Add(counts)
	t.mu.Unlock()

	if err := t.batches.UpdateCounts(ctx, b.ID, counts); err != nil {
		return fmt.Errorf("update batch counts: %w", err)
	}
	if err := t.sessions.UpdateCounts(ctx, sessionID, session.Counts); err != nil {
		return fmt.Errorf("update session counts: %w", err)
	}

	ev := event.New(sessionID, domain.EventBatchProgressUpdated, map[string]any{
		"processed": counts.Processed,
		"errors":    counts.Errors,
	})
	ev.BatchNumber = batchNumber
	t.publish(ctx, ev)
	return nil
}

// CompleteBatch finalizes the active batch with its closing counts.
func (t *Tracker) CompleteBatch(ctx context.Context, sessionID string, batchNumber int, counts domain.SyncCounts) error {
	return t.finishBatch(ctx, sessionID, batchNumber, counts, domain.BatchStatusCompleted, "")
}

// FailBatch finalizes the active batch as failed. Counts reflect what
// was processed before the failure.
func (t *Tracker) FailBatch(ctx context.Context, sessionID string, batchNumber int, counts domain.SyncCounts, errMsg string) error {
	return t.finishBatch(ctx, sessionID, batchNumber, counts, domain.BatchStatusFailed, errMsg)
}

func (t *Tracker) finishBatch(ctx context.Context, sessionID string, batchNumber int, counts domain.SyncCounts, status domain.BatchStatus, errMsg string) error {
	t.mu.Lock()
	ls, b, err := t.activeBatchLocked(sessionID, batchNumber)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !CanTransitionBatch(b.Status, status) {
		t.mu.Unlock()
		if b.Status.IsTerminal() {
			return fmt.Errorf("%w: batch %d already %s", ErrTerminalState, batchNumber, b.Status)
		}
		return fmt.Errorf("%w: batch %s -> %s", ErrInvalidTransition, b.Status, status)
	}
	b.Counts = counts
	b.Status = status
	now := time.Now()
	b.EndedAt = &now
	b.ErrorMsg = errMsg
	ls.base.Add(counts)
	session := ls.session
	session.Counts = ls.base
	started := b.StartedAt
	syncType := session.SyncType
	t.mu.Unlock()

	if err := t.batches.UpdateCounts(ctx, b.ID, counts); err != nil {
		return fmt.Errorf("update batch counts: %w", err)
	}
	if err := t.batches.UpdateStatus(ctx, b.ID, status, errMsg); err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	if err := t.sessions.UpdateCounts(ctx, sessionID, session.Counts); err != nil {
		return fmt.Errorf("update session counts: %w", err)
	}

	metrics.BatchesTotal.WithLabelValues(syncType, string(status)).Inc()
	metrics.BatchDuration.WithLabelValues(syncType).Observe(now.Sub(started).Seconds())

	evType := domain.EventBatchCompleted
	payload := map[string]any{"processed": counts.Processed, "errors": counts.Errors}
	if status == domain.BatchStatusFailed {
		evType = domain.EventBatchFailed
		payload["error"] = errMsg
	}
	ev := event.New(sessionID, evType, payload)
	ev.BatchNumber = batchNumber
	t.publish(ctx, ev)
	return nil
}

// CompleteSession moves a running session to completed.
func (t *Tracker) CompleteSession(ctx context.Context, sessionID string) error {
	if err := t.transitionSession(ctx, sessionID, domain.SessionStatusCompleted, ""); err != nil {
		return err
	}
	t.publish(ctx, event.New(sessionID, domain.EventSessionCompleted, t.countsPayload(sessionID)))
	return nil
}

// FailSession moves a session to failed with an error summary.
func (t *Tracker) FailSession(ctx context.Context, sessionID, errorSummary string) error {
	if err := t.transitionSession(ctx, sessionID, domain.SessionStatusFailed, errorSummary); err != nil {
		return err
	}
	payload := t.countsPayload(sessionID)
	payload["error"] = errorSummary
	t.publish(ctx, event.New(sessionID, domain.EventSessionFailed, payload))
	return nil
}

// CancelSession requests cooperative cancellation and, once the session
// is not mid-batch, moves it to cancelled. The cancellation flag is set
// immediately either way so the processing loop stops at the next
// batch boundary.
func (t *Tracker) CancelSession(ctx context.Context, sessionID string) error {
	t.mu.Lock()
	ls, ok := t.live[sessionID]
	if !ok {
		t.mu.Unlock()
		return storage.ErrSessionNotFound
	}
	if ls.session.Status.IsTerminal() {
		t.mu.Unlock()
		return fmt.Errorf("%w: session already %s", ErrTerminalState, ls.session.Status)
	}
	ls.cancelled = true
	t.mu.Unlock()

	if err := t.transitionSession(ctx, sessionID, domain.SessionStatusCancelled, "cancelled by operator"); err != nil {
		return err
	}
	t.publish(ctx, event.New(sessionID, domain.EventSessionCancelled, t.countsPayload(sessionID)))
	return nil
}

// IsCancelled reports whether cancellation has been requested. The
// processing loop checks this between records and batches.
func (t *Tracker) IsCancelled(sessionID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	ls, ok := t.live[sessionID]
	return ok && ls.cancelled
}

// GetStatus returns the current session snapshot together with its
// batches, reading through to storage for sessions no longer live.
func (t *Tracker) GetStatus(ctx context.Context, sessionID string) (*domain.SyncSession, []*domain.BatchProgress, error) {
	s, err := t.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	batches, err := t.batches.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, nil, err
	}
	return s, batches, nil
}

func (t *Tracker) transitionSession(ctx context.Context, sessionID string, to domain.SessionStatus, errorSummary string) error {
	t.mu.Lock()
	ls, ok := t.live[sessionID]
	if !ok {
		t.mu.Unlock()
		return storage.ErrSessionNotFound
	}
	from := ls.session.Status
	if !CanTransitionSession(from, to) {
		t.mu.Unlock()
		if from.IsTerminal() {
			return fmt.Errorf("%w: session already %s", ErrTerminalState, from)
		}
		return fmt.Errorf("%w: session %s -> %s", ErrInvalidTransition, from, to)
	}
	ls.session.Status = to
	if errorSummary != "" {
		ls.session.ErrorSummary = errorSummary
	}
	if to.IsTerminal() {
		now := time.Now()
		ls.session.EndedAt = &now
	}
	syncType := ls.session.SyncType
	t.mu.Unlock()

	if err := t.sessions.UpdateStatus(ctx, sessionID, to, errorSummary); err != nil {
		return fmt.Errorf("update session status: %w", err)
	}

	if to.IsTerminal() {
		metrics.SessionsActive.Dec()
		metrics.SessionsTotal.WithLabelValues(syncType, string(to)).Inc()
		t.log.Info("session finished",
			"session", sessionID,
			"status", to,
		)
	}
	return nil
}

// activeBatchLocked resolves the in-flight batch by number. Caller
// holds t.mu.
func (t *Tracker) activeBatchLocked(sessionID string, batchNumber int) (*liveSession, *domain.BatchProgress, error) {
	ls, ok := t.live[sessionID]
	if !ok {
		return nil, nil, storage.ErrSessionNotFound
	}
	if ls.batch == nil || ls.batch.Number != batchNumber {
		return nil, nil, fmt.Errorf("%w: batch %d", storage.ErrBatchNotFound, batchNumber)
	}
	return ls, ls.batch, nil
}

func (t *Tracker) countsPayload(sessionID string) map[string]any {
	t.mu.Lock()
	defer t.mu.Unlock()
	ls, ok := t.live[sessionID]
	if !ok {
		return map[string]any{}
	}
	c := ls.session.Counts
	return map[string]any{
		"processed": c.Processed,
		"created":   c.Created,
		"updated":   c.Updated,
		"existing":  c.Existing,
		"errors":    c.Errors,
	}
}

func (t *Tracker) publish(ctx context.Context, ev domain.SyncEvent) {
	if err := t.sink.Publish(ctx, ev); err != nil {
		t.log.Warn("event publish failed", "type", ev.Type, "error", err)
	}
}
