package source

import (
	"context"
	"errors"

	"github.com/vietddude/syncd/internal/core/domain"
)

var (
	// ErrEndOfStream is returned by RecordCursor.Next when the source
	// is exhausted.
	ErrEndOfStream = errors.New("end of record stream")

	// ErrNotSupported is returned by optional capabilities the adapter
	// does not implement.
	ErrNotSupported = errors.New("capability not supported")
)

// Config is the adapter-specific configuration blob from SyncConfig.
type Config map[string]any

// Adapter produces a record stream from one external source.
// The interface is intentionally small; chain-specific behavior lives
// behind optional capability interfaces.
type Adapter interface {
	// Init prepares the adapter. The stream is restartable only by
	// re-initializing.
	Init(ctx context.Context, cfg Config) error

	// Stream opens a pull-based record cursor. Each pull may perform
	// I/O and may fail; a cursor failure is a stream-termination
	// error, not a record-level error.
	Stream(ctx context.Context) (RecordCursor, error)
}

// RecordCursor is a lazy, pull-based sequence of records.
type RecordCursor interface {
	// Next returns the next record, or ErrEndOfStream when exhausted.
	Next(ctx context.Context) (*domain.Record, error)

	Close() error
}

// ConnectionValidator is an optional capability for adapters that can
// probe their source before streaming.
type ConnectionValidator interface {
	ValidateConnection(ctx context.Context) error
}

// Counter is an optional capability for adapters that can estimate the
// total record count for progress reporting.
type Counter interface {
	TotalCount(ctx context.Context) (int, error)
}
