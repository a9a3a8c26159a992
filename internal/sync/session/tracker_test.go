package session

import (
	"context"
	"errors"
	"testing"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/infra/storage"
	"github.com/vietddude/syncd/internal/infra/storage/memory"
	"github.com/vietddude/syncd/internal/sync/event"
)

func newTestTracker() (*Tracker, *event.MemorySink) {
	store := memory.NewMemoryStorage()
	sink := event.NewMemorySink()
	return NewTracker(memory.NewSessionRepo(store), memory.NewBatchRepo(store), sink, nil), sink
}

func startRunning(t *testing.T, tr *Tracker) *domain.SyncSession {
	t.Helper()
	ctx := context.Background()
	s, err := tr.StartSession(ctx, "contacts", "tester", 100)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := tr.MarkRunning(ctx, s.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	return s
}

func TestSessionLifecycle(t *testing.T) {
	tr, sink := newTestTracker()
	ctx := context.Background()

	s, err := tr.StartSession(ctx, "contacts", "tester", 100)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if s.Status != domain.SessionStatusPending {
		t.Fatalf("new session status = %s, want pending", s.Status)
	}
	if err := tr.MarkRunning(ctx, s.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := tr.CompleteSession(ctx, s.ID); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	got, _, err := tr.GetStatus(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != domain.SessionStatusCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
	if got.EndedAt == nil {
		t.Error("EndedAt not set on terminal session")
	}

	for _, evType := range []domain.SyncEventType{
		domain.EventSessionStarted,
		domain.EventSessionRunning,
		domain.EventSessionCompleted,
	} {
		if len(sink.ByType(evType)) != 1 {
			t.Errorf("expected one %s event", evType)
		}
	}
}

func TestTerminalSessionIsWriteOnce(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	if err := tr.CompleteSession(ctx, s.ID); err != nil {
		t.Fatalf("CompleteSession: %v", err)
	}

	if err := tr.FailSession(ctx, s.ID, "late failure"); !errors.Is(err, ErrTerminalState) {
		t.Errorf("FailSession after complete = %v, want ErrTerminalState", err)
	}
	if err := tr.CancelSession(ctx, s.ID); !errors.Is(err, ErrTerminalState) {
		t.Errorf("CancelSession after complete = %v, want ErrTerminalState", err)
	}

	got, _, _ := tr.GetStatus(ctx, s.ID)
	if got.Status != domain.SessionStatusCompleted {
		t.Errorf("terminal status overwritten: %s", got.Status)
	}
}

func TestInvalidSessionTransitions(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()

	s, err := tr.StartSession(ctx, "contacts", "tester", 0)
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	// pending -> completed skips running
	if err := tr.CompleteSession(ctx, s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("pending -> completed = %v, want ErrInvalidTransition", err)
	}

	if err := tr.MarkRunning(ctx, s.ID); err != nil {
		t.Fatalf("MarkRunning: %v", err)
	}
	if err := tr.MarkRunning(ctx, s.ID); !errors.Is(err, ErrInvalidTransition) {
		t.Errorf("running -> running = %v, want ErrInvalidTransition", err)
	}
}

func TestBatchNumbersAreContiguous(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	for want := 1; want <= 3; want++ {
		b, err := tr.StartBatch(ctx, s.ID, 10, nil)
		if err != nil {
			t.Fatalf("StartBatch %d: %v", want, err)
		}
		if b.Number != want {
			t.Errorf("batch number = %d, want %d", b.Number, want)
		}
		counts := domain.SyncCounts{Processed: 10, Created: 10}
		if err := tr.CompleteBatch(ctx, s.ID, b.Number, counts); err != nil {
			t.Fatalf("CompleteBatch %d: %v", want, err)
		}
	}

	_, batches, err := tr.GetStatus(ctx, s.ID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if len(batches) != 3 {
		t.Fatalf("persisted batches = %d, want 3", len(batches))
	}
}

func TestStartBatchRejectedWhileBatchInFlight(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	if _, err := tr.StartBatch(ctx, s.ID, 5, nil); err != nil {
		t.Fatalf("StartBatch: %v", err)
	}
	if _, err := tr.StartBatch(ctx, s.ID, 5, nil); err == nil {
		t.Error("expected error starting batch while previous one is in flight")
	}
}

func TestBatchCountsRollUpIntoSession(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	b1, _ := tr.StartBatch(ctx, s.ID, 3, nil)
	if err := tr.UpdateBatchProgress(ctx, s.ID, b1.Number, domain.SyncCounts{Processed: 2, Created: 2}); err != nil {
		t.Fatalf("UpdateBatchProgress: %v", err)
	}
	if err := tr.CompleteBatch(ctx, s.ID, b1.Number, domain.SyncCounts{Processed: 3, Created: 2, Errors: 1}); err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}

	b2, _ := tr.StartBatch(ctx, s.ID, 2, nil)
	if err := tr.CompleteBatch(ctx, s.ID, b2.Number, domain.SyncCounts{Processed: 2, Updated: 1, Existing: 1}); err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}

	got, _, _ := tr.GetStatus(ctx, s.ID)
	want := domain.SyncCounts{Processed: 5, Created: 2, Updated: 1, Existing: 1, Errors: 1}
	if got.Counts != want {
		t.Errorf("session counts = %+v, want %+v", got.Counts, want)
	}
	if !got.Counts.Consistent() {
		t.Error("session counts inconsistent")
	}
}

func TestBatchProgressCannotRegress(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	b, _ := tr.StartBatch(ctx, s.ID, 10, nil)
	if err := tr.UpdateBatchProgress(ctx, s.ID, b.Number, domain.SyncCounts{Processed: 5, Created: 5}); err != nil {
		t.Fatalf("UpdateBatchProgress: %v", err)
	}
	if err := tr.UpdateBatchProgress(ctx, s.ID, b.Number, domain.SyncCounts{Processed: 3, Created: 3}); err == nil {
		t.Error("expected error on count regression")
	}
}

func TestFailBatchKeepsPartialCountsAndEmitsEvent(t *testing.T) {
	tr, sink := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	b, _ := tr.StartBatch(ctx, s.ID, 10, nil)
	counts := domain.SyncCounts{Processed: 4, Created: 3, Errors: 1}
	if err := tr.FailBatch(ctx, s.ID, b.Number, counts, "target unavailable"); err != nil {
		t.Fatalf("FailBatch: %v", err)
	}

	_, batches, _ := tr.GetStatus(ctx, s.ID)
	if batches[0].Status != domain.BatchStatusFailed {
		t.Errorf("batch status = %s, want failed", batches[0].Status)
	}
	if batches[0].Counts != counts {
		t.Errorf("batch counts = %+v, want %+v", batches[0].Counts, counts)
	}

	failed := sink.ByType(domain.EventBatchFailed)
	if len(failed) != 1 {
		t.Fatalf("batch.failed events = %d, want 1", len(failed))
	}
	if failed[0].BatchNumber != b.Number {
		t.Errorf("event batch number = %d, want %d", failed[0].BatchNumber, b.Number)
	}
}

func TestTerminalBatchIsWriteOnce(t *testing.T) {
	tr, _ := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	b, _ := tr.StartBatch(ctx, s.ID, 1, nil)
	counts := domain.SyncCounts{Processed: 1, Created: 1}
	if err := tr.CompleteBatch(ctx, s.ID, b.Number, counts); err != nil {
		t.Fatalf("CompleteBatch: %v", err)
	}
	if err := tr.FailBatch(ctx, s.ID, b.Number, counts, "late"); !errors.Is(err, ErrTerminalState) {
		t.Errorf("FailBatch after complete = %v, want ErrTerminalState", err)
	}
}

func TestCancelSetsFlagImmediately(t *testing.T) {
	tr, sink := newTestTracker()
	ctx := context.Background()
	s := startRunning(t, tr)

	if tr.IsCancelled(s.ID) {
		t.Fatal("fresh session reported cancelled")
	}
	if err := tr.CancelSession(ctx, s.ID); err != nil {
		t.Fatalf("CancelSession: %v", err)
	}
	if !tr.IsCancelled(s.ID) {
		t.Error("cancellation flag not visible after CancelSession")
	}

	got, _, _ := tr.GetStatus(ctx, s.ID)
	if got.Status != domain.SessionStatusCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if len(sink.ByType(domain.EventSessionCancelled)) != 1 {
		t.Error("expected one session.cancelled event")
	}
}

func TestStartBatchOnUnknownSession(t *testing.T) {
	tr, _ := newTestTracker()
	if _, err := tr.StartBatch(context.Background(), "missing", 1, nil); !errors.Is(err, storage.ErrSessionNotFound) {
		t.Errorf("err = %v, want ErrSessionNotFound", err)
	}
}
