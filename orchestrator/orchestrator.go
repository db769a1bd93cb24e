package orchestrator

import (
	"errors"
	"regexp"
)

var (
	// ErrJobNotFound means the orchestrator has no job registered under
	// the agent identifier.
	ErrJobNotFound = errors.New("job not found")

	// ErrJobDead means the job reached a terminal state.
	ErrJobDead = errors.New("job is dead")

	// ErrJobUnhealthy means the job failed to become healthy within the
	// bounded wait.
	ErrJobUnhealthy = errors.New("job did not become healthy in time")

	// ErrInvalidVariant means the requested variant failed identifier
	// validation. Rejected before any remote call so arbitrary values
	// can never be injected into a resubmitted job specification.
	ErrInvalidVariant = errors.New("invalid variant name")

	// ErrNoAddress means no allocation or registry entry exposes an
	// address for the job.
	ErrNoAddress = errors.New("no service address available")
)

// variantPattern is the identifier discipline for the one patchable
// field of a job spec.
var variantPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]{0,63}$`)

// Status mirrors orchestrator-reported job state.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusDead    Status = "dead"
	StatusUnknown Status = "unknown"
)

// JobHandle aggregates orchestrator-reported job state. It reflects the
// remote system and is not owned by the relay.
type JobHandle struct {
	AgentID         string `json:"agent_id"`
	Status          Status `json:"status"`
	AllocationCount int    `json:"allocation_count"`
	Healthy         bool   `json:"healthy"`
}

// OpResult reports the outcome of a start or stop operation.
type OpResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// EnsureResult reports the outcome of EnsureRunning. WasStarted tells
// the caller whether a cold start occurred, informing whether to add
// extra warmup delay before driving the browser.
type EnsureResult struct {
	Address    string `json:"address"`
	WasStarted bool   `json:"was_started"`
}

// ValidVariant reports whether a variant name passes the identifier
// pattern.
func ValidVariant(variant string) bool {
	return variantPattern.MatchString(variant)
}
