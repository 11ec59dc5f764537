package port

import (
	"context"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
)

type LedgerStore interface {
	// Create inserts a chain root.
	Create(ctx context.Context, rec domain.PartRecord) error

	// Close sets next and date_replaced on an open record with a single
	// conditional write. Returns ErrConcurrencyConflict if it was already closed.
	Close(ctx context.Context, id, next string, at time.Time) error

	// Replace closes each predecessor and inserts its successor atomically.
	// Replacements without a predecessor insert chain roots.
	Replace(ctx context.Context, reps []domain.Replacement) error

	Get(ctx context.Context, id string) (domain.PartRecord, error)

	// FindActive returns open records oldest first. limit <= 0 means no limit.
	FindActive(ctx context.Context, f domain.RecordFilter, limit int) ([]domain.PartRecord, error)
	CountActive(ctx context.Context, f domain.RecordFilter) (int, error)

	// FindAt returns records with date_created <= t < date_replaced.
	FindAt(ctx context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error)
	FindCreatedAt(ctx context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error)
	FindReplacedAt(ctx context.Context, f domain.RecordFilter, t time.Time) ([]domain.PartRecord, error)

	// EventTimes returns the distinct created and replaced instants of matching records.
	EventTimes(ctx context.Context, f domain.RecordFilter) ([]time.Time, error)
}

// ContainerHistory exposes the version chain of container entities.
type ContainerHistory interface {
	AppendContainerVersion(ctx context.Context, v domain.ContainerVersion) error
	ContainerVersions(ctx context.Context, c domain.Container) ([]domain.ContainerVersion, error)
}
