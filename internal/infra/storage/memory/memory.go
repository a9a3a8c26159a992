package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/infra/storage"
)

// MemoryStorage backs all repositories with mutex-guarded maps.
// The default store when no database URL is configured, and the store
// tests run against.
type MemoryStorage struct {
	sessions map[string]*domain.SyncSession
	batches  map[string]*domain.BatchProgress
	records  map[string]*domain.Record // id -> record
	unique   map[string]string         // uniqueField|value -> record id
	mu       sync.RWMutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		sessions: make(map[string]*domain.SyncSession),
		batches:  make(map[string]*domain.BatchProgress),
		records:  make(map[string]*domain.Record),
		unique:   make(map[string]string),
	}
}

func uniqueKey(field, value string) string {
	return field + "|" + value
}

// -----------------------------------------------------------------------------
// Session Repository
// -----------------------------------------------------------------------------

type SessionRepo struct {
	store *MemoryStorage
}

func NewSessionRepo(store *MemoryStorage) *SessionRepo {
	return &SessionRepo{store: store}
}

func (r *SessionRepo) Save(ctx context.Context, session *domain.SyncSession) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *session
	r.store.sessions[session.ID] = &copied
	return nil
}

func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.SyncSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return nil, storage.ErrSessionNotFound
	}
	copied := *s
	return &copied, nil
}

func (r *SessionRepo) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, errorSummary string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return storage.ErrSessionNotFound
	}
	s.Status = status
	if errorSummary != "" {
		s.ErrorSummary = errorSummary
	}
	if status.IsTerminal() {
		now := time.Now()
		s.EndedAt = &now
	}
	return nil
}

func (r *SessionRepo) UpdateCounts(ctx context.Context, id string, counts domain.SyncCounts) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	s, ok := r.store.sessions[id]
	if !ok {
		return storage.ErrSessionNotFound
	}
	s.Counts = counts
	return nil
}

func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]*domain.SyncSession, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	sessions := make([]*domain.SyncSession, 0, len(r.store.sessions))
	for _, s := range r.store.sessions {
		copied := *s
		sessions = append(sessions, &copied)
	}
	sort.Slice(sessions, func(i, j int) bool {
		return sessions[i].StartedAt.After(sessions[j].StartedAt)
	})
	if limit > 0 && len(sessions) > limit {
		sessions = sessions[:limit]
	}
	return sessions, nil
}

// -----------------------------------------------------------------------------
// Batch Repository
// -----------------------------------------------------------------------------

type BatchRepo struct {
	store *MemoryStorage
}

func NewBatchRepo(store *MemoryStorage) *BatchRepo {
	return &BatchRepo{store: store}
}

func (r *BatchRepo) Save(ctx context.Context, batch *domain.BatchProgress) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	copied := *batch
	r.store.batches[batch.ID] = &copied
	return nil
}

func (r *BatchRepo) Get(ctx context.Context, id string) (*domain.BatchProgress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	b, ok := r.store.batches[id]
	if !ok {
		return nil, storage.ErrBatchNotFound
	}
	copied := *b
	return &copied, nil
}

func (r *BatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus, errorMsg string) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.batches[id]
	if !ok {
		return storage.ErrBatchNotFound
	}
	b.Status = status
	if errorMsg != "" {
		b.ErrorMsg = errorMsg
	}
	if status.IsTerminal() {
		now := time.Now()
		b.EndedAt = &now
	}
	return nil
}

func (r *BatchRepo) UpdateCounts(ctx context.Context, id string, counts domain.SyncCounts) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	b, ok := r.store.batches[id]
	if !ok {
		return storage.ErrBatchNotFound
	}
	b.Counts = counts
	return nil
}

func (r *BatchRepo) GetBySession(ctx context.Context, sessionID string) ([]*domain.BatchProgress, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	var batches []*domain.BatchProgress
	for _, b := range r.store.batches {
		if b.SessionID == sessionID {
			copied := *b
			batches = append(batches, &copied)
		}
	}
	sort.Slice(batches, func(i, j int) bool {
		return batches[i].Number < batches[j].Number
	})
	return batches, nil
}

// -----------------------------------------------------------------------------
// Target Record Repository
// -----------------------------------------------------------------------------

type RecordRepo struct {
	store *MemoryStorage
}

func NewRecordRepo(store *MemoryStorage) *RecordRepo {
	return &RecordRepo{store: store}
}

func (r *RecordRepo) Create(ctx context.Context, uniqueField string, attrs map[string]any, actor string) (*domain.Record, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	value := fmt.Sprintf("%v", attrs[uniqueField])
	if uniqueField != "" {
		if _, exists := r.store.unique[uniqueKey(uniqueField, value)]; exists {
			return nil, &domain.DuplicateKeyError{Field: uniqueField, Value: value}
		}
	}

	now := time.Now()
	record := &domain.Record{
		ID:        uuid.New().String(),
		Fields:    attrs,
		CreatedAt: &now,
		UpdatedAt: &now,
	}
	r.store.records[record.ID] = record
	if uniqueField != "" {
		r.store.unique[uniqueKey(uniqueField, value)] = record.ID
	}
	return record.Clone(), nil
}

func (r *RecordRepo) FindByUnique(ctx context.Context, uniqueField, value string) (*domain.Record, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	id, ok := r.store.unique[uniqueKey(uniqueField, value)]
	if !ok {
		return nil, nil
	}
	record, ok := r.store.records[id]
	if !ok {
		return nil, nil
	}
	return record.Clone(), nil
}

func (r *RecordRepo) Update(ctx context.Context, id string, attrs map[string]any, actor string) (*domain.Record, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	record, ok := r.store.records[id]
	if !ok {
		return nil, fmt.Errorf("record %s not found", id)
	}
	for k, v := range attrs {
		record.Fields[k] = v
	}
	now := time.Now()
	record.UpdatedAt = &now
	return record.Clone(), nil
}

func (r *RecordRepo) Count(ctx context.Context) (int, error) {
	r.store.mu.RLock()
	defer r.store.mu.RUnlock()
	return len(r.store.records), nil
}
