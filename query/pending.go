package query

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

var (
	ErrPendingNotFound  = errors.New("pending query not found")
	ErrInvalidQuery     = errors.New("query text is required")
	ErrInvalidClaimID   = errors.New("claim_id is required")
	ErrAlreadyFired     = errors.New("completion already fired")
	ErrAlreadyCollected = errors.New("result already collected")
	ErrNotFired         = errors.New("completion has not fired")
)

type Status string

const (
	StatusSubmitted Status = "submitted"
	StatusReady     Status = "ready"
	StatusTimeout   Status = "timeout"
	StatusCollected Status = "collected"
)

// PendingQuery tracks one in-flight query from submission until its
// result is collected. The state machine is strictly forward:
// submitted -> ready|timeout -> collected.
type PendingQuery struct {
	ID           uuid.UUID  `json:"id" gorm:"type:char(36);primaryKey"`
	ClaimID      string     `json:"claim_id" gorm:"type:char(36);not null;uniqueIndex:idx_pending_queries_claim_id"`
	ServiceType  string     `json:"service_type" gorm:"type:varchar(50);not null"`
	Query        string     `json:"query" gorm:"type:text;not null"`
	WebhookURL   string     `json:"webhook_url,omitempty" gorm:"type:varchar(500)"`
	DeepResearch bool       `json:"deep_research"`
	Status       Status     `json:"status" gorm:"type:varchar(20);not null;default:'submitted'"`
	SubmittedAt  time.Time  `json:"submitted_at" gorm:"not null"`
	DeadlineAt   time.Time  `json:"deadline_at" gorm:"not null"`
	FiredAt      *time.Time `json:"fired_at,omitempty"`
	CollectedAt  *time.Time `json:"collected_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

func (q *PendingQuery) BeforeCreate(tx *gorm.DB) error {
	if q.ID == uuid.Nil {
		q.ID = uuid.New()
	}
	return nil
}

func (q *PendingQuery) Validate() error {
	if q.Query == "" {
		return ErrInvalidQuery
	}
	if q.ClaimID == "" {
		return ErrInvalidClaimID
	}
	return nil
}

// Fire records the watcher outcome. Only the first transition out of
// submitted succeeds; this is the logical fire-once flag.
func (q *PendingQuery) Fire(outcome Status) error {
	if q.Status != StatusSubmitted {
		return ErrAlreadyFired
	}
	if outcome != StatusReady && outcome != StatusTimeout {
		return errors.New("fire outcome must be ready or timeout")
	}
	now := time.Now()
	q.Status = outcome
	q.FiredAt = &now
	return nil
}

// Collect marks the result as retrieved. Valid only after the watcher
// has fired; replays land on ErrAlreadyCollected.
func (q *PendingQuery) Collect() error {
	switch q.Status {
	case StatusReady, StatusTimeout:
		now := time.Now()
		q.Status = StatusCollected
		q.CollectedAt = &now
		return nil
	case StatusCollected:
		return ErrAlreadyCollected
	default:
		return ErrNotFired
	}
}

// ProcessingTime returns the wall-clock span from submission to the
// watcher firing, or to now if it has not fired.
func (q *PendingQuery) ProcessingTime() time.Duration {
	if q.FiredAt != nil {
		return q.FiredAt.Sub(q.SubmittedAt)
	}
	return time.Since(q.SubmittedAt)
}
