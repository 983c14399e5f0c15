package cleanup

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
)

type sweepCall struct {
	name   string
	cutoff time.Time
}

type fakeSweeps struct {
	calls []sweepCall
}

func (f *fakeSweeps) FailStalePending(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls = append(f.calls, sweepCall{"stale_pending", cutoff})
	return 1, nil
}
func (f *fakeSweeps) FailStuckRunning(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls = append(f.calls, sweepCall{"stuck_running", cutoff})
	return 1, nil
}
func (f *fakeSweeps) SoftDeleteTerminal(_ context.Context, cutoff time.Time) (int64, error) {
	f.calls = append(f.calls, sweepCall{"tombstone", cutoff})
	return 0, nil
}
func (f *fakeSweeps) ReconcileBatchCounters(context.Context) (int64, error) {
	f.calls = append(f.calls, sweepCall{"batches", time.Time{}})
	return 0, nil
}

func TestRunOnceCutoffs(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	sweeps := &fakeSweeps{}
	svc := New(sweeps, DefaultConfig(), zap.NewNop())
	svc.now = func() time.Time { return now }

	if err := svc.RunOnce(context.Background()); err != nil {
		t.Fatalf("run once: %v", err)
	}

	want := map[string]time.Time{
		"stale_pending": now.Add(-24 * time.Hour),
		"stuck_running": now.Add(-2 * time.Hour),
		"tombstone":     now.Add(-30 * 24 * time.Hour),
	}
	if len(sweeps.calls) != 4 {
		t.Fatalf("got %d sweep calls, want 4", len(sweeps.calls))
	}
	for _, c := range sweeps.calls {
		if c.name == "batches" {
			continue
		}
		if !c.cutoff.Equal(want[c.name]) {
			t.Errorf("%s cutoff = %v, want %v", c.name, c.cutoff, want[c.name])
		}
	}
	// batch reconciliation runs last, after the forced failures
	if sweeps.calls[len(sweeps.calls)-1].name != "batches" {
		t.Fatal("batch reconciliation must run after the job sweeps")
	}
}

func TestRunOnceIsRepeatable(t *testing.T) {
	sweeps := &fakeSweeps{}
	svc := New(sweeps, DefaultConfig(), zap.NewNop())

	for i := 0; i < 3; i++ {
		if err := svc.RunOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}
	if len(sweeps.calls) != 12 {
		t.Fatalf("got %d calls over 3 passes, want 12", len(sweeps.calls))
	}
}
