package agent

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Outcome is what a remote agent reports back for one task.
type Outcome struct {
	Success bool   `json:"success"`
	Result  []byte `json:"result,omitempty"`
	Error   string `json:"error,omitempty"`
}

var ErrAwaitTimeout = errors.New("agent: task result timed out")

// Waiter hands out one-shot futures keyed by task id. The job handler
// registers before enqueueing the task and parks on Await; the gateway
// resolves when the agent reports. Resolving an unknown id is a no-op so
// late or duplicate reports are harmless.
type Waiter struct {
	mu sync.Mutex
	m  map[string]chan Outcome
}

func NewWaiter() *Waiter {
	return &Waiter{m: make(map[string]chan Outcome)}
}

func (w *Waiter) Register(taskID string) <-chan Outcome {
	w.mu.Lock()
	defer w.mu.Unlock()
	ch := make(chan Outcome, 1)
	w.m[taskID] = ch
	return ch
}

func (w *Waiter) Resolve(taskID string, o Outcome) bool {
	w.mu.Lock()
	ch, ok := w.m[taskID]
	delete(w.m, taskID)
	w.mu.Unlock()
	if !ok {
		return false
	}
	ch <- o
	return true
}

func (w *Waiter) Forget(taskID string) {
	w.mu.Lock()
	delete(w.m, taskID)
	w.mu.Unlock()
}

// Await parks until the task resolves, the timeout passes, or ctx is
// cancelled. Cancellation resolves the wait early; the caller decides what
// to do with the abandoned task.
func (w *Waiter) Await(ctx context.Context, taskID string, ch <-chan Outcome, timeout time.Duration) (Outcome, error) {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case o := <-ch:
		return o, nil
	case <-t.C:
		w.Forget(taskID)
		return Outcome{}, ErrAwaitTimeout
	case <-ctx.Done():
		w.Forget(taskID)
		return Outcome{}, ctx.Err()
	}
}
