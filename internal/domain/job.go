package domain

import "time"

type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a job in this status will never run again.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// CanTransition enforces the monotonic job lifecycle:
// pending -> running -> (completed | failed | cancelled).
// running -> pending is the retry reset; it is the only way back.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPending:
		return to == StatusRunning || to == StatusFailed || to == StatusCancelled
	case StatusRunning:
		return to.Terminal() || to == StatusPending
	default:
		return false
	}
}

// Priority 1 is critical, 4 is background. Lower runs first.
const (
	PriorityCritical = 1
	PriorityHigh     = 2
	PriorityNormal   = 3
	PriorityLow      = 4
)

type Job struct {
	ID           string
	TenantID     string
	Marketplace  string
	ActionTypeID int
	Action       string
	ResourceID   *string
	BatchID      *string
	Status       Status
	Priority     int
	Params       []byte
	Result       []byte
	ErrorMessage *string
	RetryCount   int
	MaxRetries   int
	TimeoutSec   int
	CancelFlag   bool
	CreatedAt    time.Time
	AvailableAt  time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	ExpiresAt    *time.Time
}

// Expired reports whether the job sat pending past its expiry; such jobs are
// reaped, never executed.
func (j *Job) Expired(now time.Time) bool {
	return j.Status == StatusPending && j.ExpiresAt != nil && !j.ExpiresAt.After(now)
}
