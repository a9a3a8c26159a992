package target

import (
	"context"

	"github.com/vietddude/syncd/internal/core/domain"
)

// Store is the target-store capability the processor needs. Create
// returns a structured *domain.DuplicateKeyError on a unique-field
// collision; the processor never inspects error messages.
type Store interface {
	// Create inserts a new record with the mapped attributes.
	Create(ctx context.Context, action string, attrs map[string]any, actor string) (*domain.Record, error)

	// FindByUnique looks up an existing record by unique-field value.
	// Returns nil when not found.
	FindByUnique(ctx context.Context, field, value string) (*domain.Record, error)

	// Update applies the update action to an existing record.
	Update(ctx context.Context, action, id string, attrs map[string]any, actor string) (*domain.Record, error)
}
