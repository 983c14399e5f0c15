package domain

import "time"

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskSent      TaskStatus = "sent"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
)

// Task is one HTTP step a remote browser agent performs on behalf of a job,
// used only for marketplaces without a programmatic API. The owning job
// stays running until its tasks settle.
type Task struct {
	ID         string
	JobID      string
	TenantID   string
	Method     string
	Path       string
	Payload    []byte
	Status     TaskStatus
	Result     []byte
	ErrorMsg   *string
	RetryCount int
	CreatedAt  time.Time
	SentAt     *time.Time
	DoneAt     *time.Time
}

func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}
