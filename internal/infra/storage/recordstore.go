package storage

import (
	"context"

	"github.com/vietddude/syncd/internal/core/domain"
)

// RecordStore adapts a TargetRecordRepository to the target processor's
// store contract, binding the unique field the repository enforces.
// The create/update action names are accepted for interface parity;
// repositories apply attributes directly.
type RecordStore struct {
	Repo        TargetRecordRepository
	UniqueField string
}

func NewRecordStore(repo TargetRecordRepository, uniqueField string) *RecordStore {
	return &RecordStore{Repo: repo, UniqueField: uniqueField}
}

func (s *RecordStore) Create(ctx context.Context, _ string, attrs map[string]any, actor string) (*domain.Record, error) {
	return s.Repo.Create(ctx, s.UniqueField, attrs, actor)
}

func (s *RecordStore) FindByUnique(ctx context.Context, field, value string) (*domain.Record, error) {
	return s.Repo.FindByUnique(ctx, field, value)
}

func (s *RecordStore) Update(ctx context.Context, _ string, id string, attrs map[string]any, actor string) (*domain.Record, error) {
	return s.Repo.Update(ctx, id, attrs, actor)
}
