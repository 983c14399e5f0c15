package domain

import "time"

type BatchStatus string

const (
	BatchPending         BatchStatus = "pending"
	BatchRunning         BatchStatus = "running"
	BatchCompleted       BatchStatus = "completed"
	BatchPartiallyFailed BatchStatus = "partially_failed"
	BatchFailed          BatchStatus = "failed"
	BatchCancelled       BatchStatus = "cancelled"
)

type Batch struct {
	ID          string
	TenantID    string
	Marketplace string
	Action      string
	Total       int
	Completed   int
	Failed      int
	Cancelled   int
	Priority    int
	Status      BatchStatus
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// Settled reports whether every member job has reached a terminal state.
func (b *Batch) Settled() bool {
	return b.Completed+b.Failed+b.Cancelled >= b.Total
}

// DeriveStatus maps the counters onto the batch status. The result is
// terminal only once all members are; until then the batch stays running
// (or pending if nothing has finished and nothing started).
func (b *Batch) DeriveStatus() BatchStatus {
	if !b.Settled() {
		if b.Completed+b.Failed+b.Cancelled > 0 {
			return BatchRunning
		}
		return BatchPending
	}
	switch {
	case b.Completed == b.Total:
		return BatchCompleted
	case b.Cancelled == b.Total:
		return BatchCancelled
	case b.Completed > 0 && b.Failed > 0:
		return BatchPartiallyFailed
	case b.Failed > 0 && b.Completed == 0:
		return BatchFailed
	default:
		// mix of cancelled and completed, no failures
		return BatchCompleted
	}
}
