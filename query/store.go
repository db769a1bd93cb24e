package query

import (
	"context"

	"github.com/google/uuid"
)

// Store persists pending-query bookkeeping. Transitions are guarded so
// an at-least-once watcher or webhook replay cannot move a query
// backwards.
type Store interface {
	Create(ctx context.Context, q *PendingQuery) error
	GetByID(ctx context.Context, id uuid.UUID) (*PendingQuery, error)
	GetByClaimID(ctx context.Context, claimID string) (*PendingQuery, error)

	// Fire transitions submitted -> ready|timeout. Returns
	// ErrAlreadyFired when the watcher outcome is already recorded.
	Fire(ctx context.Context, id uuid.UUID, outcome Status) error

	// Collect transitions ready|timeout -> collected.
	Collect(ctx context.Context, id uuid.UUID) error
}
