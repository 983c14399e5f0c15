package ratelimit

import (
	"context"
	"net/http"
	"testing"
	"time"
)

func testLimiter(cfg Config) (*Limiter, *time.Time) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	l := New(cfg, 42)
	l.now = func() time.Time { return now }
	return l, &now
}

func TestDelayWithinMethodSpan(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PauseAfter = [2]int{1000, 1000} // keep pauses out of this test
	l, now := testLimiter(cfg)

	for i := 0; i < 50; i++ {
		d := l.reserve(http.MethodGet, 0)
		if d < cfg.ReadDelay.Min {
			t.Fatalf("read delay %v below span min %v", d, cfg.ReadDelay.Min)
		}
		// spacing extension can push past Max, so only the floor is hard
		*now = now.Add(d)
	}

	l2, now2 := testLimiter(cfg)
	for i := 0; i < 50; i++ {
		d := l2.reserve(http.MethodPost, 0)
		if d < cfg.WriteDelay.Min {
			t.Fatalf("write delay %v below span min %v", d, cfg.WriteDelay.Min)
		}
		*now2 = now2.Add(d)
	}
}

func TestMinSpacingEnforced(t *testing.T) {
	cfg := Config{
		ReadDelay:  Span{0, 1 * time.Millisecond},
		WriteDelay: Span{0, 1 * time.Millisecond},
		MinSpacing: 3 * time.Second,
		Pause:      Span{15 * time.Second, 30 * time.Second},
		PauseAfter: [2]int{1000, 1000},
	}
	l, now := testLimiter(cfg)

	var prevCall time.Time
	for i := 0; i < 40; i++ {
		d := l.reserve(http.MethodGet, 0)
		call := now.Add(d)
		if !prevCall.IsZero() && call.Sub(prevCall) < cfg.MinSpacing {
			t.Fatalf("call %d only %v after previous, min spacing %v",
				i, call.Sub(prevCall), cfg.MinSpacing)
		}
		prevCall = call
		// simulate the call returning quickly; wall time barely moves
		*now = now.Add(time.Millisecond)
	}
}

func TestPeriodicLongPause(t *testing.T) {
	cfg := Config{
		ReadDelay:  Span{1 * time.Second, 2 * time.Second},
		WriteDelay: Span{1 * time.Second, 2 * time.Second},
		MinSpacing: 0,
		Pause:      Span{15 * time.Second, 30 * time.Second},
		PauseAfter: [2]int{3, 5},
	}
	l, now := testLimiter(cfg)

	pauses := 0
	for i := 0; i < 40; i++ {
		d := l.reserve(http.MethodGet, 0)
		if d >= cfg.Pause.Min {
			pauses++
		}
		*now = now.Add(d)
	}
	// threshold redraws between 3 and 5, so 40 requests must hit several
	if pauses < 5 {
		t.Fatalf("saw %d long pauses in 40 requests, expected at least 5", pauses)
	}
	if pauses > 14 {
		t.Fatalf("saw %d long pauses in 40 requests, threshold ignored", pauses)
	}
}

func TestActionFloorRaisesDelay(t *testing.T) {
	cfg := Config{
		ReadDelay:  Span{0, time.Millisecond},
		WriteDelay: Span{0, time.Millisecond},
		PauseAfter: [2]int{1000, 1000},
	}
	l, now := testLimiter(cfg)

	floor := 2 * time.Second
	for i := 0; i < 20; i++ {
		if d := l.reserve(http.MethodGet, floor); d < floor {
			t.Fatalf("delay %v undercut the action floor %v", d, floor)
		}
		*now = now.Add(floor)
	}

	// a zero floor leaves the span draw untouched
	if d := l.reserve(http.MethodPost, 0); d > cfg.WriteDelay.Max {
		t.Fatalf("delay %v drawn above the write span with no floor", d)
	}
}

func TestWaitHonoursCancel(t *testing.T) {
	cfg := Config{
		ReadDelay:  Span{10 * time.Second, 20 * time.Second},
		WriteDelay: Span{10 * time.Second, 20 * time.Second},
		PauseAfter: [2]int{1000, 1000},
	}
	l := New(cfg, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := l.Wait(ctx, http.MethodGet, "sync", 0); err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > 5*time.Second {
		t.Fatal("Wait did not return promptly on cancel")
	}
}

func TestRegistryPerTenant(t *testing.T) {
	reg := NewRegistry(DefaultConfig())
	if reg.For("acme") != reg.For("acme") {
		t.Fatal("same tenant must share one limiter")
	}
	if reg.For("acme") == reg.For("globex") {
		t.Fatal("tenants must not share pacing state")
	}
}
