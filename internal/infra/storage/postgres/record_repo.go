package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vietddude/syncd/internal/core/domain"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation.
const uniqueViolation = "23505"

// RecordRepo implements storage.TargetRecordRepository using
// PostgreSQL. Attributes are stored as JSONB; the unique field is
// denormalized into an indexed column so duplicate detection is a
// database constraint, not an application-level scan.
type RecordRepo struct {
	db *DB
}

// NewRecordRepo creates a new PostgreSQL target record repository.
func NewRecordRepo(db *DB) *RecordRepo {
	return &RecordRepo{db: db}
}

type recordRow struct {
	ID          string         `db:"id"`
	UniqueField sql.NullString `db:"unique_field"`
	UniqueValue sql.NullString `db:"unique_value"`
	Attrs       []byte         `db:"attrs"`
	CreatedAt   time.Time      `db:"created_at"`
	UpdatedAt   time.Time      `db:"updated_at"`
	CreatedBy   sql.NullString `db:"created_by"`
}

func (r recordRow) toDomain() (*domain.Record, error) {
	var fields map[string]any
	if len(r.Attrs) > 0 {
		if err := json.Unmarshal(r.Attrs, &fields); err != nil {
			return nil, fmt.Errorf("failed to decode record attrs: %w", err)
		}
	}
	createdAt, updatedAt := r.CreatedAt, r.UpdatedAt
	return &domain.Record{
		ID:        r.ID,
		Fields:    fields,
		CreatedAt: &createdAt,
		UpdatedAt: &updatedAt,
	}, nil
}

// Create inserts a record. A unique constraint violation surfaces as a
// structured *domain.DuplicateKeyError.
func (r *RecordRepo) Create(ctx context.Context, uniqueField string, attrs map[string]any, actor string) (*domain.Record, error) {
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record attrs: %w", err)
	}

	uniqueValue := ""
	if uniqueField != "" {
		if v, ok := attrs[uniqueField]; ok {
			uniqueValue = fmt.Sprintf("%v", v)
		}
	}

	id := uuid.New().String()
	now := time.Now()
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO sync_records (id, unique_field, unique_value, attrs, created_at, updated_at, created_by)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $5, $6)`,
		id, uniqueField, uniqueValue, payload, now, actor,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, &domain.DuplicateKeyError{Field: uniqueField, Value: uniqueValue}
		}
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	return &domain.Record{ID: id, Fields: attrs, CreatedAt: &now, UpdatedAt: &now}, nil
}

// FindByUnique looks up a record by unique-field value. Returns nil
// when not found.
func (r *RecordRepo) FindByUnique(ctx context.Context, uniqueField, value string) (*domain.Record, error) {
	var row recordRow
	err := r.db.GetContext(ctx, &row,
		`SELECT * FROM sync_records WHERE unique_field = $1 AND unique_value = $2`,
		uniqueField, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find record: %w", err)
	}
	return row.toDomain()
}

// Update merges attrs into an existing record's attributes.
func (r *RecordRepo) Update(ctx context.Context, id string, attrs map[string]any, actor string) (*domain.Record, error) {
	payload, err := json.Marshal(attrs)
	if err != nil {
		return nil, fmt.Errorf("failed to encode record attrs: %w", err)
	}

	var row recordRow
	err = r.db.GetContext(ctx, &row, `
		UPDATE sync_records
		SET attrs = attrs || $2, updated_at = $3
		WHERE id = $1
		RETURNING *`,
		id, payload, time.Now(),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("record %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update record: %w", err)
	}
	return row.toDomain()
}

// Count returns the total number of stored records.
func (r *RecordRepo) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM sync_records`); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}
