package handler

import (
	"context"
	"fmt"

	"github.com/you/crosslist/internal/domain"
)

// Result is the only thing a handler may return. Failures are data, not
// errors: nothing a handler does escapes to the dispatcher.
type Result struct {
	Success   bool
	Cancelled bool
	Permanent bool // failed in a way retrying cannot fix
	Error     string
	Fields    map[string]any // marketplace-assigned ids, URLs
}

func ok(fields map[string]any) Result { return Result{Success: true, Fields: fields} }

func transient(format string, args ...any) Result {
	return Result{Error: fmt.Sprintf(format, args...)}
}

func permanent(format string, args ...any) Result {
	return Result{Permanent: true, Error: fmt.Sprintf(format, args...)}
}

func cancelled() Result { return Result{Cancelled: true} }

// Handler executes one marketplace x action pair.
type Handler interface {
	Execute(ctx context.Context, job *domain.Job) Result
}

// CancelChecker re-reads a job's cancellation flag mid-flight.
type CancelChecker interface {
	CancelRequested(ctx context.Context, id string) (bool, error)
}

// Registry maps {marketplace, action} to a handler. It is built once at
// startup and read-only afterwards; resolution is a single map lookup, no
// reflection, no string dispatch at call time.
type Registry struct {
	m map[domain.ActionKey]Handler
}

func NewRegistry() *Registry {
	return &Registry{m: make(map[domain.ActionKey]Handler)}
}

func (r *Registry) Register(key domain.ActionKey, h Handler) {
	r.m[key] = h
}

func (r *Registry) Resolve(marketplace, action string) (Handler, bool) {
	h, ok := r.m[domain.ActionKey{Marketplace: marketplace, Code: action}]
	return h, ok
}

// SafeExecute is the handler boundary: a panic inside a handler becomes a
// failed result instead of taking down the worker.
func SafeExecute(ctx context.Context, h Handler, job *domain.Job) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Error: fmt.Sprintf("handler panic: %v", r)}
		}
	}()
	return h.Execute(ctx, job)
}
