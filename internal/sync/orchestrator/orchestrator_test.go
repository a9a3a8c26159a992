package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vietddude/syncd/internal/core/config"
	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/infra/storage"
	"github.com/vietddude/syncd/internal/infra/storage/memory"
	"github.com/vietddude/syncd/internal/sync/event"
	"github.com/vietddude/syncd/internal/sync/session"
	"github.com/vietddude/syncd/internal/sync/source"
	"github.com/vietddude/syncd/internal/sync/target"
)

// fakeAdapter streams a fixed record slice. failAfter > 0 makes the
// cursor error out after that many records.
type fakeAdapter struct {
	records   []*domain.Record
	failAfter int
	inited    bool
}

func (a *fakeAdapter) Init(ctx context.Context, cfg source.Config) error {
	a.inited = true
	return nil
}

func (a *fakeAdapter) Stream(ctx context.Context) (source.RecordCursor, error) {
	return &fakeCursor{adapter: a}, nil
}

func (a *fakeAdapter) TotalCount(ctx context.Context) (int, error) {
	return len(a.records), nil
}

type fakeCursor struct {
	adapter *fakeAdapter
	pos     int
}

func (c *fakeCursor) Next(ctx context.Context) (*domain.Record, error) {
	if c.adapter.failAfter > 0 && c.pos >= c.adapter.failAfter {
		return nil, errors.New("connection reset mid-stream")
	}
	if c.pos >= len(c.adapter.records) {
		return nil, source.ErrEndOfStream
	}
	rec := c.adapter.records[c.pos]
	c.pos++
	return rec, nil
}

func (c *fakeCursor) Close() error { return nil }

// rig bundles the wired pipeline for one test.
type rig struct {
	orch    *Orchestrator
	tracker *session.Tracker
	sink    *event.MemorySink
	store   *memory.MemoryStorage
	adapter *fakeAdapter
}

func newRig(records []*domain.Record) *rig {
	return newRigWithStore(records, nil)
}

func newRigWithStore(records []*domain.Record, override target.Store) *rig {
	store := memory.NewMemoryStorage()
	sink := event.NewMemorySink()
	tracker := session.NewTracker(memory.NewSessionRepo(store), memory.NewBatchRepo(store), sink, nil)

	adapter := &fakeAdapter{records: records}
	registry := source.NewRegistry()
	registry.Register("fake", func() source.Adapter { return adapter })

	var ts target.Store = storage.NewRecordStore(memory.NewRecordRepo(store), "email")
	if override != nil {
		ts = override
	}
	targets := map[string]target.Store{"contacts": ts}

	return &rig{
		orch:    New(registry, targets, tracker, sink, nil),
		tracker: tracker,
		sink:    sink,
		store:   store,
		adapter: adapter,
	}
}

func testConfig() config.SyncConfig {
	return config.SyncConfig{
		SourceAdapter:  "fake",
		TargetResource: "contacts",
		Target: target.Config{
			UniqueField:       "email",
			DuplicateStrategy: target.StrategySkip,
			ValidationRules: []target.ValidationRule{
				{Field: "email", Rule: "required"},
			},
		},
		Processing: config.ProcessingConfig{
			BatchSize:            100,
			Limit:                1000,
			EnableErrorRecovery:  true,
			ContinueOnBatchError: true,
		},
		RetryPolicy: config.RetryPolicy{Type: "fixed", BaseDelayMs: 1, MaxAttempts: 2},
		Session:     config.SessionConfig{SyncType: "contacts", InitiatedBy: "test"},
	}
}

func contactRecords(n int, invalidEvery int) []*domain.Record {
	records := make([]*domain.Record, n)
	for i := 0; i < n; i++ {
		fields := map[string]any{
			"email": fmt.Sprintf("user%d@example.com", i),
			"name":  fmt.Sprintf("User %d", i),
		}
		if invalidEvery > 0 && i%invalidEvery == invalidEvery-1 {
			delete(fields, "email")
		}
		records[i] = &domain.Record{ID: fmt.Sprintf("src-%d", i), Fields: fields}
	}
	return records
}

func TestExecuteSync_EndToEnd(t *testing.T) {
	// 250 records, 5 with a missing required field, batch size 100.
	records := contactRecords(250, 50)
	r := newRig(records)

	result, err := r.orch.ExecuteSync(context.Background(), testConfig(), Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}

	if result.Status != StatusSuccess {
		t.Errorf("status = %s, want success", result.Status)
	}
	if result.Stats.Processed != 250 {
		t.Errorf("processed = %d, want 250", result.Stats.Processed)
	}
	if result.Stats.Errors != 5 {
		t.Errorf("errors = %d, want 5", result.Stats.Errors)
	}
	if result.Stats.Created != 245 {
		t.Errorf("created = %d, want 245", result.Stats.Created)
	}
	if !result.Stats.Consistent() {
		t.Error("result stats inconsistent")
	}
	if len(result.ErrorDetails) != 5 {
		t.Errorf("error details = %d, want 5", len(result.ErrorDetails))
	}

	sess, batches, err := r.tracker.GetStatus(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if sess.Status != domain.SessionStatusCompleted {
		t.Errorf("session status = %s, want completed", sess.Status)
	}
	if len(batches) != 3 {
		t.Fatalf("batches = %d, want 3 (100,100,50)", len(batches))
	}
	for _, b := range batches {
		if !b.Counts.Consistent() {
			t.Errorf("batch %d counts inconsistent", b.Number)
		}
	}
	sizes := map[int]int{}
	for _, b := range batches {
		sizes[b.Number] = b.Size
	}
	if sizes[1] != 100 || sizes[2] != 100 || sizes[3] != 50 {
		t.Errorf("batch sizes = %v, want 100,100,50", sizes)
	}
}

func TestExecuteSync_DuplicateSecondRun(t *testing.T) {
	records := contactRecords(40, 0)
	r := newRig(records)
	cfg := testConfig()
	cfg.Target.DuplicateStrategy = target.StrategyUpdate

	first, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	if first.Stats.Created != 40 || first.Stats.Updated != 0 {
		t.Errorf("first run created=%d updated=%d, want 40/0", first.Stats.Created, first.Stats.Updated)
	}

	second, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if second.Stats.Created != 0 || second.Stats.Existing != 40 || second.Stats.Updated != 0 {
		t.Errorf("second run created=%d existing=%d updated=%d, want 0/40/0",
			second.Stats.Created, second.Stats.Existing, second.Stats.Updated)
	}
}

func TestExecuteSync_LimitStopsStream(t *testing.T) {
	records := contactRecords(250, 0)
	r := newRig(records)
	cfg := testConfig()
	cfg.Processing.Limit = 120

	result, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Stats.Processed != 120 {
		t.Errorf("processed = %d, want 120 (limit cut-off)", result.Stats.Processed)
	}

	_, batches, _ := r.tracker.GetStatus(context.Background(), result.SessionID)
	if len(batches) != 2 {
		t.Errorf("batches = %d, want 2 (100,20)", len(batches))
	}
}

func TestExecuteSync_DryRun(t *testing.T) {
	r := newRig(contactRecords(10, 0))

	result, err := r.orch.ExecuteSync(context.Background(), testConfig(), Options{DryRun: true})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}

	if result.Status != StatusSuccess {
		t.Errorf("status = %s, want success", result.Status)
	}
	if result.SessionID != "" {
		t.Error("dry run must not create a session")
	}
	if result.Stats != (domain.SyncCounts{}) {
		t.Errorf("dry run stats = %+v, want zero", result.Stats)
	}
	if !r.adapter.inited {
		t.Error("dry run should still initialize the adapter")
	}
	if len(r.sink.Events()) != 0 {
		t.Error("dry run must not emit lifecycle events")
	}
}

func TestExecuteSync_BatchErrorFailsSession(t *testing.T) {
	records := contactRecords(50, 10) // 5 invalid in the first batch
	r := newRig(records)
	cfg := testConfig()
	cfg.Processing.ContinueOnBatchError = false

	result, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Status != StatusFailure {
		t.Errorf("status = %s, want failure", result.Status)
	}

	sess, batches, _ := r.tracker.GetStatus(context.Background(), result.SessionID)
	if sess.Status != domain.SessionStatusFailed {
		t.Errorf("session status = %s, want failed", sess.Status)
	}
	if len(batches) != 1 || batches[0].Status != domain.BatchStatusFailed {
		t.Errorf("expected exactly one failed batch, got %+v", batches)
	}
}

type panicStore struct{}

func (panicStore) Create(context.Context, string, map[string]any, string) (*domain.Record, error) {
	panic("target store exploded")
}
func (panicStore) FindByUnique(context.Context, string, string) (*domain.Record, error) {
	return nil, nil
}
func (panicStore) Update(context.Context, string, string, map[string]any, string) (*domain.Record, error) {
	return nil, nil
}

func TestExecuteSync_PanicFinalizesSession(t *testing.T) {
	r := newRigWithStore(contactRecords(10, 0), panicStore{})

	result, err := r.orch.ExecuteSync(context.Background(), testConfig(), Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Status != StatusFailure {
		t.Errorf("status = %s, want failure", result.Status)
	}

	sess, _, err := r.tracker.GetStatus(context.Background(), result.SessionID)
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if sess.Status != domain.SessionStatusFailed {
		t.Errorf("session left in %s, must be failed after panic", sess.Status)
	}
}

func TestExecuteSync_StreamFailureMidRun(t *testing.T) {
	records := contactRecords(250, 0)
	r := newRig(records)
	r.adapter.failAfter = 150

	result, err := r.orch.ExecuteSync(context.Background(), testConfig(), Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Status != StatusPartial {
		t.Errorf("status = %s, want partial", result.Status)
	}
	if result.Stats.Processed != 150 {
		t.Errorf("processed = %d, want 150", result.Stats.Processed)
	}

	sess, _, _ := r.tracker.GetStatus(context.Background(), result.SessionID)
	if sess.Status != domain.SessionStatusCompleted {
		t.Errorf("session status = %s, want completed", sess.Status)
	}
}

func TestExecuteSync_StreamFailureFailsSessionWhenNotTolerated(t *testing.T) {
	records := contactRecords(250, 0)
	r := newRig(records)
	r.adapter.failAfter = 150
	cfg := testConfig()
	cfg.Processing.ContinueOnBatchError = false

	result, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Status != StatusFailure {
		t.Errorf("status = %s, want failure", result.Status)
	}
}

func TestExecuteSync_ValidationFailureSkipsInit(t *testing.T) {
	r := newRig(contactRecords(5, 0))
	cfg := testConfig()
	cfg.Target.UniqueField = ""

	_, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	var vErr *ValidationFailedError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationFailedError", err)
	}
	found := false
	for _, fe := range vErr.Errors {
		if fe.Field == "target_config.unique_field" {
			found = true
		}
	}
	if !found {
		t.Errorf("unique_field violation not reported: %+v", vErr.Errors)
	}
	if r.adapter.inited {
		t.Error("adapter must not be initialized on invalid config")
	}
}

func TestExecuteSync_UnknownAdapterHandle(t *testing.T) {
	r := newRig(nil)
	cfg := testConfig()
	cfg.SourceAdapter = "nope"

	_, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	var vErr *ValidationFailedError
	if !errors.As(err, &vErr) {
		t.Fatalf("err = %v, want ValidationFailedError", err)
	}
}

// cancellingSink requests cancellation as soon as the first batch
// completes, exercising the batch-boundary check.
type cancellingSink struct {
	*event.MemorySink
	tracker   **session.Tracker
	cancelled bool
}

func (s *cancellingSink) Publish(ctx context.Context, ev domain.SyncEvent) error {
	if ev.Type == domain.EventBatchCompleted && !s.cancelled {
		s.cancelled = true
		if err := (*s.tracker).CancelSession(ctx, ev.SessionID); err != nil {
			return err
		}
	}
	return s.MemorySink.Publish(ctx, ev)
}

func TestExecuteSync_CancellationStopsAtBatchBoundary(t *testing.T) {
	store := memory.NewMemoryStorage()
	var tracker *session.Tracker
	sink := &cancellingSink{MemorySink: event.NewMemorySink(), tracker: &tracker}
	tracker = session.NewTracker(memory.NewSessionRepo(store), memory.NewBatchRepo(store), sink, nil)

	adapter := &fakeAdapter{records: contactRecords(250, 0)}
	registry := source.NewRegistry()
	registry.Register("fake", func() source.Adapter { return adapter })
	targets := map[string]target.Store{
		"contacts": storage.NewRecordStore(memory.NewRecordRepo(store), "email"),
	}
	orch := New(registry, targets, tracker, sink, nil)

	result, err := orch.ExecuteSync(context.Background(), testConfig(), Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Status != StatusPartial {
		t.Errorf("status = %s, want partial", result.Status)
	}
	if result.Stats.Processed != 100 {
		t.Errorf("processed = %d, want 100 (one batch before cancellation)", result.Stats.Processed)
	}

	sess, _, _ := tracker.GetStatus(context.Background(), result.SessionID)
	if sess.Status != domain.SessionStatusCancelled {
		t.Errorf("session status = %s, want cancelled", sess.Status)
	}
}

func TestStreamAndProcess_DeliversPerBatchResults(t *testing.T) {
	r := newRig(contactRecords(250, 0))

	out, err := r.orch.StreamAndProcess(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("StreamAndProcess: %v", err)
	}

	var batches []BatchResult
	for br := range out {
		batches = append(batches, br)
	}
	if len(batches) != 3 {
		t.Fatalf("batch results = %d, want 3", len(batches))
	}
	wantSizes := []int{100, 100, 50}
	for i, br := range batches {
		if br.BatchNumber != i+1 {
			t.Errorf("batch %d number = %d", i, br.BatchNumber)
		}
		if len(br.Results) != wantSizes[i] {
			t.Errorf("batch %d results = %d, want %d", i+1, len(br.Results), wantSizes[i])
		}
		if br.Err != nil {
			t.Errorf("batch %d err = %v", i+1, br.Err)
		}
	}
}

// transientStore fails the first create per unique value with a network
// error, then delegates. Counts invocations so tests can assert how
// many attempts reached the target.
type transientStore struct {
	inner target.Store
	mu    sync.Mutex
	calls map[string]int
}

func newTransientStore(inner target.Store) *transientStore {
	return &transientStore{inner: inner, calls: map[string]int{}}
}

func (s *transientStore) Create(ctx context.Context, action string, attrs map[string]any, actor string) (*domain.Record, error) {
	key := fmt.Sprintf("%v", attrs["email"])
	s.mu.Lock()
	s.calls[key]++
	first := s.calls[key] == 1
	s.mu.Unlock()
	if first {
		return nil, errors.New("connection reset by peer")
	}
	return s.inner.Create(ctx, action, attrs, actor)
}

func (s *transientStore) FindByUnique(ctx context.Context, field, value string) (*domain.Record, error) {
	return s.inner.FindByUnique(ctx, field, value)
}

func (s *transientStore) Update(ctx context.Context, action, id string, attrs map[string]any, actor string) (*domain.Record, error) {
	return s.inner.Update(ctx, action, id, attrs, actor)
}

func (s *transientStore) attempts(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[key]
}

func TestExecuteSync_ErrorRecoveryRetriesTransientFailures(t *testing.T) {
	store := memory.NewMemoryStorage()
	ts := newTransientStore(storage.NewRecordStore(memory.NewRecordRepo(store), "email"))
	r := newRigWithStore(contactRecords(3, 0), ts)

	cfg := testConfig()
	cfg.RetryPolicy = config.RetryPolicy{Type: "fixed", BaseDelayMs: 1, MaxAttempts: 3}

	result, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Status != StatusSuccess {
		t.Fatalf("status = %s, want success", result.Status)
	}
	if result.Stats.Created != 3 || result.Stats.Errors != 0 {
		t.Fatalf("stats = %+v, want 3 created / 0 errors", result.Stats)
	}
	if got := ts.attempts("user0@example.com"); got != 2 {
		t.Errorf("create attempts = %d, want 2 (one failure, one retry)", got)
	}
}

func TestExecuteSync_ErrorRecoveryDisabledSingleAttempt(t *testing.T) {
	store := memory.NewMemoryStorage()
	ts := newTransientStore(storage.NewRecordStore(memory.NewRecordRepo(store), "email"))
	r := newRigWithStore(contactRecords(3, 0), ts)

	cfg := testConfig()
	cfg.Processing.EnableErrorRecovery = false
	cfg.RetryPolicy = config.RetryPolicy{Type: "fixed", BaseDelayMs: 1, MaxAttempts: 4}

	result, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
	if err != nil {
		t.Fatalf("ExecuteSync: %v", err)
	}
	if result.Stats.Errors != 3 || result.Stats.Created != 0 {
		t.Fatalf("stats = %+v, want 3 errors / 0 created", result.Stats)
	}
	for i := 0; i < 3; i++ {
		key := fmt.Sprintf("user%d@example.com", i)
		if got := ts.attempts(key); got != 1 {
			t.Errorf("create attempts for %s = %d, want exactly 1 without error recovery", key, got)
		}
	}
}

func TestExecuteSync_ParallelBatches(t *testing.T) {
	for _, recovery := range []bool{true, false} {
		name := "with_recovery"
		if !recovery {
			name = "without_recovery"
		}
		t.Run(name, func(t *testing.T) {
			r := newRig(contactRecords(50, 0))

			cfg := testConfig()
			cfg.Processing.BatchSize = 25
			cfg.Processing.Parallel = true
			cfg.Processing.EnableErrorRecovery = recovery

			result, err := r.orch.ExecuteSync(context.Background(), cfg, Options{})
			if err != nil {
				t.Fatalf("ExecuteSync: %v", err)
			}
			if result.Status != StatusSuccess {
				t.Fatalf("status = %s, want success", result.Status)
			}
			if result.Stats.Processed != 50 || result.Stats.Created != 50 {
				t.Fatalf("stats = %+v, want 50 processed / 50 created", result.Stats)
			}

			_, batches, err := r.tracker.GetStatus(context.Background(), result.SessionID)
			if err != nil {
				t.Fatalf("GetStatus: %v", err)
			}
			if len(batches) != 2 {
				t.Fatalf("batches = %d, want 2", len(batches))
			}
			for _, b := range batches {
				if b.Status != domain.BatchStatusCompleted {
					t.Errorf("batch %d status = %s", b.Number, b.Status)
				}
			}
		})
	}
}
