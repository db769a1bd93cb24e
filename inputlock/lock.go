package inputlock

import (
	"errors"
	"time"
)

var (
	// ErrLockTimeout means the lock stayed contested past the caller's
	// timeout. Retryable.
	ErrLockTimeout = errors.New("timed out waiting for input lock")

	// ErrLockLost means the lease expired or was displaced while the
	// holder's action was still running. The action was aborted; its
	// effects may be incomplete.
	ErrLockLost = errors.New("input lock lost during hold")

	ErrInvalidKey   = errors.New("lock key is required")
	ErrInvalidToken = errors.New("holder token is required")
)

// DefaultKey is the cluster-wide key serializing all simulated human
// input. Every agent on every relay replica contends on this one key so
// keystrokes system-wide look like a single pair of hands.
const DefaultKey = "human-input"

// Lock is one lease row in shared storage. At most one unexpired row
// may exist per key; the expiry self-heals the lock if a holder crashes
// mid-hold.
type Lock struct {
	Key         string    `json:"key" gorm:"column:lock_key;type:varchar(100);primaryKey"`
	HolderToken string    `json:"holder_token" gorm:"type:char(36);not null"`
	ExpiresAt   time.Time `json:"expires_at" gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
}

// TableName returns the database table name.
func (Lock) TableName() string {
	return "input_locks"
}

// IsExpired reports whether the lease has lapsed.
func (l *Lock) IsExpired() bool {
	return time.Now().After(l.ExpiresAt)
}
