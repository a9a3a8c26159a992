package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/infra/storage"
)

// BatchRepo implements storage.BatchRepository using PostgreSQL.
type BatchRepo struct {
	db *DB
}

// NewBatchRepo creates a new PostgreSQL batch repository.
func NewBatchRepo(db *DB) *BatchRepo {
	return &BatchRepo{db: db}
}

type batchRow struct {
	ID        string         `db:"id"`
	SessionID string         `db:"session_id"`
	Number    int            `db:"number"`
	Size      int            `db:"size"`
	SourceIDs pq.StringArray `db:"source_ids"`
	Processed int            `db:"processed"`
	Created   int            `db:"created"`
	Updated   int            `db:"updated"`
	Existing  int            `db:"existing"`
	Errors    int            `db:"errors"`
	Status    string         `db:"status"`
	StartedAt time.Time      `db:"started_at"`
	EndedAt   sql.NullTime   `db:"ended_at"`
	ErrorMsg  sql.NullString `db:"error_msg"`
}

func (r batchRow) toDomain() *domain.BatchProgress {
	b := &domain.BatchProgress{
		ID:        r.ID,
		SessionID: r.SessionID,
		Number:    r.Number,
		Size:      r.Size,
		SourceIDs: r.SourceIDs,
		Counts: domain.SyncCounts{
			Processed: r.Processed,
			Created:   r.Created,
			Updated:   r.Updated,
			Existing:  r.Existing,
			Errors:    r.Errors,
		},
		Status:    domain.BatchStatus(r.Status),
		StartedAt: r.StartedAt,
		ErrorMsg:  r.ErrorMsg.String,
	}
	if r.EndedAt.Valid {
		b.EndedAt = &r.EndedAt.Time
	}
	return b
}

// Save inserts a batch record.
func (r *BatchRepo) Save(ctx context.Context, batch *domain.BatchProgress) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_batches (
			id, session_id, number, size, source_ids,
			processed, created, updated, existing, errors,
			status, started_at, ended_at, error_msg
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		batch.ID, batch.SessionID, batch.Number, batch.Size, pq.StringArray(batch.SourceIDs),
		batch.Counts.Processed, batch.Counts.Created, batch.Counts.Updated,
		batch.Counts.Existing, batch.Counts.Errors,
		string(batch.Status), batch.StartedAt, batch.EndedAt, nullString(batch.ErrorMsg),
	)
	if err != nil {
		return fmt.Errorf("failed to save batch: %w", err)
	}
	return nil
}

// Get retrieves a batch by id.
func (r *BatchRepo) Get(ctx context.Context, id string) (*domain.BatchProgress, error) {
	var row batchRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM sync_batches WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrBatchNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateStatus moves a batch to a new status, stamping ended_at on
// terminal states.
func (r *BatchRepo) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus, errorMsg string) error {
	var endedAt any
	if status.IsTerminal() {
		endedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_batches
		SET status = $2,
		    error_msg = COALESCE(NULLIF($3, ''), error_msg),
		    ended_at = COALESCE($4, ended_at)
		WHERE id = $1`,
		id, string(status), errorMsg, endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch status: %w", err)
	}
	return checkFound(res, storage.ErrBatchNotFound)
}

// UpdateCounts overwrites batch counters.
func (r *BatchRepo) UpdateCounts(ctx context.Context, id string, counts domain.SyncCounts) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_batches
		SET processed = $2, created = $3, updated = $4, existing = $5, errors = $6
		WHERE id = $1`,
		id, counts.Processed, counts.Created, counts.Updated, counts.Existing, counts.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to update batch counts: %w", err)
	}
	return checkFound(res, storage.ErrBatchNotFound)
}

// GetBySession returns a session's batches in batch-number order.
func (r *BatchRepo) GetBySession(ctx context.Context, sessionID string) ([]*domain.BatchProgress, error) {
	var rows []batchRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM sync_batches WHERE session_id = $1 ORDER BY number`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	batches := make([]*domain.BatchProgress, len(rows))
	for i, row := range rows {
		batches[i] = row.toDomain()
	}
	return batches, nil
}
