package storage

import (
	"context"
	"errors"

	"github.com/vietddude/syncd/internal/core/domain"
)

var (
	// ErrSessionNotFound is returned when a session doesn't exist
	ErrSessionNotFound = errors.New("session not found")

	// ErrBatchNotFound is returned when a batch doesn't exist
	ErrBatchNotFound = errors.New("batch not found")
)

// SessionRepository handles sync session persistence
type SessionRepository interface {
	// Save inserts or replaces a session
	Save(ctx context.Context, session *domain.SyncSession) error

	// Get retrieves a session by id
	Get(ctx context.Context, id string) (*domain.SyncSession, error)

	// UpdateStatus updates session status and end timestamp
	UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, errorSummary string) error

	// UpdateCounts updates the aggregate counters
	UpdateCounts(ctx context.Context, id string, counts domain.SyncCounts) error

	// ListRecent retrieves the most recent sessions
	ListRecent(ctx context.Context, limit int) ([]*domain.SyncSession, error)
}

// BatchRepository handles batch progress persistence
type BatchRepository interface {
	// Save inserts or replaces a batch
	Save(ctx context.Context, batch *domain.BatchProgress) error

	// Get retrieves a batch by id
	Get(ctx context.Context, id string) (*domain.BatchProgress, error)

	// UpdateStatus updates batch status and end timestamp
	UpdateStatus(ctx context.Context, id string, status domain.BatchStatus, errorMsg string) error

	// UpdateCounts updates the per-batch counters
	UpdateCounts(ctx context.Context, id string, counts domain.SyncCounts) error

	// GetBySession retrieves all batches for a session ordered by number
	GetBySession(ctx context.Context, sessionID string) ([]*domain.BatchProgress, error)
}

// TargetRecordRepository is the backing store for synced records.
// Create returns *domain.DuplicateKeyError on a unique-field collision
// so callers never have to inspect error messages.
type TargetRecordRepository interface {
	// Create inserts a record; attrs must include the unique field
	Create(ctx context.Context, uniqueField string, attrs map[string]any, actor string) (*domain.Record, error)

	// FindByUnique retrieves a record by unique-field value, nil when absent
	FindByUnique(ctx context.Context, uniqueField, value string) (*domain.Record, error)

	// Update replaces attrs on an existing record
	Update(ctx context.Context, id string, attrs map[string]any, actor string) (*domain.Record, error)

	// Count returns the number of stored records
	Count(ctx context.Context) (int, error)
}
