package domain

import (
	"testing"
	"time"
)

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusRunning, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusRunning, StatusCompleted, true},
		{StatusRunning, StatusFailed, true},
		{StatusRunning, StatusCancelled, true},
		{StatusRunning, StatusPending, true}, // retry reset
		{StatusCompleted, StatusRunning, false},
		{StatusFailed, StatusPending, false},
		{StatusCancelled, StatusRunning, false},
	}
	for _, c := range cases {
		if got := c.from.CanTransition(c.to); got != c.ok {
			t.Errorf("%s -> %s: got %v, want %v", c.from, c.to, got, c.ok)
		}
	}
}

func TestExpiredOnlyAppliesToPending(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	j := &Job{Status: StatusPending, ExpiresAt: &past}
	if !j.Expired(now) {
		t.Fatal("pending past expires_at must be expired")
	}
	j.Status = StatusRunning
	if j.Expired(now) {
		t.Fatal("a running job is never expired")
	}
	j = &Job{Status: StatusPending}
	if j.Expired(now) {
		t.Fatal("no expires_at means never expired")
	}
}

func TestBatchDeriveStatus(t *testing.T) {
	cases := []struct {
		name string
		b    Batch
		want BatchStatus
	}{
		{"untouched", Batch{Total: 5}, BatchPending},
		{"in progress", Batch{Total: 5, Completed: 2}, BatchRunning},
		{"all completed", Batch{Total: 5, Completed: 5}, BatchCompleted},
		{"all failed", Batch{Total: 5, Failed: 5}, BatchFailed},
		{"all cancelled", Batch{Total: 5, Cancelled: 5}, BatchCancelled},
		{"mixed outcome", Batch{Total: 5, Completed: 3, Failed: 2}, BatchPartiallyFailed},
		{"completed and cancelled", Batch{Total: 5, Completed: 3, Cancelled: 2}, BatchCompleted},
		{"failed and cancelled", Batch{Total: 4, Failed: 3, Cancelled: 1}, BatchFailed},
	}
	for _, c := range cases {
		if got := c.b.DeriveStatus(); got != c.want {
			t.Errorf("%s: got %s, want %s", c.name, got, c.want)
		}
	}
}

func TestBatchTerminalOnlyWhenSettled(t *testing.T) {
	b := Batch{Total: 3, Completed: 1, Failed: 1}
	if b.Settled() {
		t.Fatal("2 of 3 settled, batch must not be settled")
	}
	switch b.DeriveStatus() {
	case BatchCompleted, BatchFailed, BatchPartiallyFailed, BatchCancelled:
		t.Fatal("batch reached a terminal status before all members settled")
	}

	b.Cancelled = 1
	if !b.Settled() {
		t.Fatal("all members settled")
	}
	if got := b.DeriveStatus(); got != BatchPartiallyFailed {
		t.Fatalf("got %s, want partially_failed", got)
	}
}
