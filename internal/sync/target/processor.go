package target

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/vietddude/syncd/internal/core/domain"
)

const (
	// parallelThreshold is the minimum batch size before opt-in
	// fan-out kicks in.
	parallelThreshold = 10

	// parallelLimit caps concurrent record applications within a batch.
	parallelLimit = 5

	// recordTimeout bounds one record application in parallel mode.
	// Hitting it fails that record, not the batch.
	recordTimeout = 30 * time.Second
)

// Processor applies records to the target store with duplicate
// detection and create/update/skip semantics.
type Processor struct {
	store Store
	log   *slog.Logger
}

// NewProcessor creates a target processor.
func NewProcessor(store Store, log *slog.Logger) *Processor {
	if log == nil {
		log = slog.Default()
	}
	return &Processor{store: store, log: log}
}

// ProcessRecord applies one record. Every input yields exactly one
// result; failures are returned in the result, never panicked.
func (p *Processor) ProcessRecord(
	ctx context.Context,
	record *domain.Record,
	cfg Config,
	actor string,
) domain.ProcessingResult {
	result := domain.ProcessingResult{RecordID: record.ID, Attempts: 1}

	// 1. Validation rules.
	if err := ValidateRecord(record.Fields, cfg.ValidationRules); err != nil {
		if !cfg.ContinueOnValidationError {
			result.Outcome = domain.OutcomeError
			result.Err = err
			return result
		}
		p.log.Debug("validation downgraded to pass-through", "record", record.ID, "error", err)
	}

	// 2. Transformations, in configured order.
	fields, err := ApplyTransforms(record.Fields, cfg.Transformations)
	if err != nil {
		result.Outcome = domain.OutcomeError
		result.Err = err
		return result
	}

	// 3. Field mapping.
	attrs := cfg.MapFields(fields)

	uniqueValue := ""
	if cfg.UniqueField != "" {
		if v, ok := attrs[cfg.UniqueField]; ok {
			uniqueValue = fmt.Sprintf("%v", v)
		}
	}
	result.UniqueValue = uniqueValue

	// 4. Create first, handle duplicates per strategy.
	created, err := p.store.Create(ctx, cfg.CreateAction, attrs, actor)
	if err == nil {
		result.Outcome = domain.OutcomeCreated
		if created != nil {
			result.RecordID = created.ID
		}
		return result
	}

	var dup *domain.DuplicateKeyError
	if !errors.As(err, &dup) {
		result.Outcome = domain.OutcomeError
		result.Err = err
		return result
	}

	return p.handleDuplicate(ctx, cfg, actor, attrs, uniqueValue, dup, result)
}

func (p *Processor) handleDuplicate(
	ctx context.Context,
	cfg Config,
	actor string,
	attrs map[string]any,
	uniqueValue string,
	dup *domain.DuplicateKeyError,
	result domain.ProcessingResult,
) domain.ProcessingResult {
	switch cfg.DuplicateStrategy {
	case StrategyUpdate:
		existing, err := p.store.FindByUnique(ctx, cfg.UniqueField, uniqueValue)
		if err != nil || existing == nil {
			result.Outcome = domain.OutcomeError
			result.Err = fmt.Errorf("duplicate lookup failed: %w", errOrNotFound(err, uniqueValue))
			return result
		}
		if attrsUnchanged(existing.Fields, attrs) {
			result.Outcome = domain.OutcomeExisting
			result.RecordID = existing.ID
			return result
		}
		updated, err := p.store.Update(ctx, cfg.UpdateAction, existing.ID, attrs, actor)
		if err != nil {
			// Update failures on an already-existing record are
			// non-fatal to the batch: fall back to the pre-update
			// record tagged Existing.
			p.log.Warn("update fallback to existing", "record", existing.ID, "error", err)
			result.Outcome = domain.OutcomeExisting
			result.RecordID = existing.ID
			return result
		}
		result.Outcome = domain.OutcomeUpdated
		result.RecordID = updated.ID
		return result

	case StrategySkip:
		existing, err := p.store.FindByUnique(ctx, cfg.UniqueField, uniqueValue)
		if err != nil || existing == nil {
			result.Outcome = domain.OutcomeError
			result.Err = fmt.Errorf("duplicate lookup failed: %w", errOrNotFound(err, uniqueValue))
			return result
		}
		result.Outcome = domain.OutcomeExisting
		result.RecordID = existing.ID
		return result

	default: // StrategyError, StrategyCreate
		result.Outcome = domain.OutcomeError
		result.Err = dup
		return result
	}
}

// attrsUnchanged reports whether applying attrs would be a no-op.
// Unchanged duplicates are tagged Existing rather than Updated.
func attrsUnchanged(existing, attrs map[string]any) bool {
	for k, v := range attrs {
		cur, ok := existing[k]
		if !ok || fmt.Sprintf("%v", cur) != fmt.Sprintf("%v", v) {
			return false
		}
	}
	return true
}

func errOrNotFound(err error, uniqueValue string) error {
	if err != nil {
		return err
	}
	return fmt.Errorf("record with unique value %q not found", uniqueValue)
}

// ProcessBatch applies every record in order. With parallel set and a
// large enough batch it fans out with bounded concurrency, preserving
// result order; a per-record timeout fails that record only.
func (p *Processor) ProcessBatch(
	ctx context.Context,
	records []*domain.Record,
	cfg Config,
	actor string,
	parallel bool,
) []domain.ProcessingResult {
	results := make([]domain.ProcessingResult, len(records))

	if !parallel || len(records) < parallelThreshold {
		for i, record := range records {
			results[i] = p.ProcessRecord(ctx, record, cfg, actor)
		}
		return results
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelLimit)

	for i, record := range records {
		i, record := i, record
		g.Go(func() error {
			recCtx, cancel := context.WithTimeout(gctx, recordTimeout)
			defer cancel()
			results[i] = p.ProcessRecord(recCtx, record, cfg, actor)
			return nil
		})
	}
	_ = g.Wait()

	return results
}
