package tabpool

import (
	"context"

	"github.com/google/uuid"
)

// Store is the shared bookkeeping behind the pool. All mutating
// transitions are atomic with respect to concurrent callers racing on
// the same tab row.
type Store interface {
	Create(ctx context.Context, tab *Tab) error

	// CreateBounded inserts the tab only while the service type holds
	// fewer than maxTabs rows, counting and inserting in one atomic
	// statement. Returns ErrCapacityExceeded when the pool is full.
	CreateBounded(ctx context.Context, tab *Tab, maxTabs int) error
	GetByID(ctx context.Context, id uuid.UUID) (*Tab, error)
	GetByClaimID(ctx context.Context, claimID string) (*Tab, error)
	GetBySession(ctx context.Context, serviceType, sessionID string) (*Tab, error)

	// FindFree returns any free tab of the service type, or ErrTabNotFound.
	FindFree(ctx context.Context, serviceType string) (*Tab, error)

	// Claim transitions free -> busy via a conditional update. Returns
	// ErrTabBusy if another caller won the row first.
	Claim(ctx context.Context, id uuid.UUID, claimID, ownerJobID string) error

	// Release transitions the tab back to free, clearing claim and
	// ownership metadata and stamping LastUsedAt. Idempotent.
	Release(ctx context.Context, id uuid.UUID) error

	// Count returns the number of tabs for the service type, or all tabs
	// when serviceType is empty.
	Count(ctx context.Context, serviceType string) (int, error)

	// ServiceTypes lists the distinct service types present in the pool.
	ServiceTypes(ctx context.Context) ([]string, error)

	// ListFreeOldest returns up to limit free tabs of the service type,
	// least recently used first.
	ListFreeOldest(ctx context.Context, serviceType string, limit int) ([]*Tab, error)

	Delete(ctx context.Context, id uuid.UUID) error
}
