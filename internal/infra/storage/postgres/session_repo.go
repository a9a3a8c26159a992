package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/vietddude/syncd/internal/core/domain"
	"github.com/vietddude/syncd/internal/infra/storage"
)

// SessionRepo implements storage.SessionRepository using PostgreSQL.
type SessionRepo struct {
	db *DB
}

// NewSessionRepo creates a new PostgreSQL session repository.
func NewSessionRepo(db *DB) *SessionRepo {
	return &SessionRepo{db: db}
}

type sessionRow struct {
	ID             string         `db:"id"`
	SyncType       string         `db:"sync_type"`
	Status         string         `db:"status"`
	Processed      int            `db:"processed"`
	Created        int            `db:"created"`
	Updated        int            `db:"updated"`
	Existing       int            `db:"existing"`
	Errors         int            `db:"errors"`
	EstimatedTotal int            `db:"estimated_total"`
	StartedAt      time.Time      `db:"started_at"`
	EndedAt        sql.NullTime   `db:"ended_at"`
	InitiatedBy    string         `db:"initiated_by"`
	ErrorSummary   sql.NullString `db:"error_summary"`
}

func (r sessionRow) toDomain() *domain.SyncSession {
	s := &domain.SyncSession{
		ID:       r.ID,
		SyncType: r.SyncType,
		Status:   domain.SessionStatus(r.Status),
		Counts: domain.SyncCounts{
			Processed: r.Processed,
			Created:   r.Created,
			Updated:   r.Updated,
			Existing:  r.Existing,
			Errors:    r.Errors,
		},
		EstimatedTotal: r.EstimatedTotal,
		StartedAt:      r.StartedAt,
		InitiatedBy:    r.InitiatedBy,
		ErrorSummary:   r.ErrorSummary.String,
	}
	if r.EndedAt.Valid {
		s.EndedAt = &r.EndedAt.Time
	}
	return s
}

// Save inserts or replaces a session.
func (r *SessionRepo) Save(ctx context.Context, session *domain.SyncSession) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sync_sessions (
			id, sync_type, status, processed, created, updated, existing, errors,
			estimated_total, started_at, ended_at, initiated_by, error_summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			processed = EXCLUDED.processed,
			created = EXCLUDED.created,
			updated = EXCLUDED.updated,
			existing = EXCLUDED.existing,
			errors = EXCLUDED.errors,
			ended_at = EXCLUDED.ended_at,
			error_summary = EXCLUDED.error_summary`,
		session.ID, session.SyncType, string(session.Status),
		session.Counts.Processed, session.Counts.Created, session.Counts.Updated,
		session.Counts.Existing, session.Counts.Errors,
		session.EstimatedTotal, session.StartedAt, session.EndedAt,
		session.InitiatedBy, nullString(session.ErrorSummary),
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Get retrieves a session by id.
func (r *SessionRepo) Get(ctx context.Context, id string) (*domain.SyncSession, error) {
	var row sessionRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM sync_sessions WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return row.toDomain(), nil
}

// UpdateStatus moves a session to a new status, stamping ended_at on
// terminal states.
func (r *SessionRepo) UpdateStatus(ctx context.Context, id string, status domain.SessionStatus, errorSummary string) error {
	var endedAt any
	if status.IsTerminal() {
		endedAt = time.Now()
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_sessions
		SET status = $2,
		    error_summary = COALESCE(NULLIF($3, ''), error_summary),
		    ended_at = COALESCE($4, ended_at)
		WHERE id = $1`,
		id, string(status), errorSummary, endedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update session status: %w", err)
	}
	return checkFound(res, storage.ErrSessionNotFound)
}

// UpdateCounts overwrites session counters.
func (r *SessionRepo) UpdateCounts(ctx context.Context, id string, counts domain.SyncCounts) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE sync_sessions
		SET processed = $2, created = $3, updated = $4, existing = $5, errors = $6
		WHERE id = $1`,
		id, counts.Processed, counts.Created, counts.Updated, counts.Existing, counts.Errors,
	)
	if err != nil {
		return fmt.Errorf("failed to update session counts: %w", err)
	}
	return checkFound(res, storage.ErrSessionNotFound)
}

// ListRecent returns the most recently started sessions.
func (r *SessionRepo) ListRecent(ctx context.Context, limit int) ([]*domain.SyncSession, error) {
	if limit <= 0 {
		limit = 20
	}
	var rows []sessionRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM sync_sessions ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	sessions := make([]*domain.SyncSession, len(rows))
	for i, row := range rows {
		sessions[i] = row.toDomain()
	}
	return sessions, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func checkFound(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return notFound
	}
	return nil
}
