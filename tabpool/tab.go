package tabpool

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	// ErrCapacityExceeded means the pool already holds MaxTabs tabs for
	// the service type. Retryable; never fatal to the pool.
	ErrCapacityExceeded = errors.New("tab pool capacity exceeded")

	// ErrTabBusy means the requested tab is held by another caller.
	// Retryable; the caller decides when to come back.
	ErrTabBusy = errors.New("tab is busy")

	// ErrTabNotFound means no tab matches the given identifier, typically
	// because it was recycled or pruned since the identifier was issued.
	ErrTabNotFound = errors.New("tab not found")

	ErrInvalidServiceType = errors.New("service type is required")
	ErrInvalidTargetID    = errors.New("target_id is required")
)

type State string

const (
	StateFree State = "free"
	StateBusy State = "busy"
)

// Tab is one browser page tracked by the pool. The page itself lives in
// the long-running external browser process; this row is the shared
// bookkeeping every relay replica sees.
type Tab struct {
	ID          uuid.UUID `json:"id" gorm:"type:char(36);primaryKey"`
	ServiceType string    `json:"service_type" gorm:"type:varchar(50);not null;index:idx_tabs_service_type"`
	TargetID    string    `json:"target_id" gorm:"type:varchar(64);not null;uniqueIndex:idx_tabs_target_id"`
	State       State     `json:"state" gorm:"type:varchar(10);not null;default:'free'"`
	// ClaimID is regenerated on every busy cycle; stale claim identifiers
	// stop resolving once the tab is freed, which is what makes phase-two
	// collection idempotent.
	ClaimID    string    `json:"claim_id,omitempty" gorm:"type:char(36);index:idx_tabs_claim_id"`
	OwnerJobID string    `json:"owner_job_id,omitempty" gorm:"type:varchar(64)"`
	SessionID  string    `json:"session_id,omitempty" gorm:"type:varchar(64);index:idx_tabs_session_id"`
	LastUsedAt time.Time `json:"last_used_at"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

func (t *Tab) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

func (t *Tab) Validate() error {
	if t.ServiceType == "" {
		return ErrInvalidServiceType
	}
	if t.TargetID == "" {
		return ErrInvalidTargetID
	}
	return nil
}

// IsFree reports whether the tab can be handed to a caller.
func (t *Tab) IsFree() bool {
	return t.State == StateFree
}
