package agent

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestAwaitResolves(t *testing.T) {
	w := NewWaiter()
	ch := w.Register("t1")

	go w.Resolve("t1", Outcome{Success: true, Result: []byte(`{"ok":1}`)})

	out, err := w.Await(context.Background(), "t1", ch, time.Second)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if !out.Success {
		t.Fatal("want success outcome")
	}
}

func TestAwaitTimesOut(t *testing.T) {
	w := NewWaiter()
	ch := w.Register("t1")

	_, err := w.Await(context.Background(), "t1", ch, 20*time.Millisecond)
	if !errors.Is(err, ErrAwaitTimeout) {
		t.Fatalf("err = %v, want ErrAwaitTimeout", err)
	}

	// a late report must be a no-op, not a send into the void that blocks
	if w.Resolve("t1", Outcome{Success: true}) {
		t.Fatal("resolve after timeout should report unknown id")
	}
}

func TestAwaitCancelled(t *testing.T) {
	w := NewWaiter()
	ch := w.Register("t1")

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := w.Await(ctx, "t1", ch, time.Minute)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

func TestResolveUnknownID(t *testing.T) {
	w := NewWaiter()
	if w.Resolve("nobody", Outcome{}) {
		t.Fatal("unknown id must not resolve")
	}
}
