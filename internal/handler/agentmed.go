package handler

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/google/uuid"

	"github.com/you/crosslist/internal/agent"
	"github.com/you/crosslist/internal/domain"
)

// TaskEnqueuer is the slice of storage the agent-mediated handler needs.
type TaskEnqueuer interface {
	InsertTask(ctx context.Context, t *domain.Task) (string, error)
	AbandonTask(ctx context.Context, id, msg string) error
}

// AgentHandler serves a marketplace with no API: it turns the job into one
// HTTP step for a remote browser agent, then parks on a waiter future until
// the agent reports or the deadline passes. The park is a channel wait, the
// goroutine is free to be scheduled away; nothing spins.
type AgentHandler struct {
	tasks   TaskEnqueuer
	cancels CancelChecker
	waiter  *agent.Waiter
	method  string
	path    string
	timeout time.Duration

	// cancelPoll is how often the cancellation flag is re-read while
	// parked; the future resolves early when the flag comes up.
	cancelPoll time.Duration
}

func NewAgentHandler(tasks TaskEnqueuer, cancels CancelChecker, waiter *agent.Waiter, method, path string, timeout time.Duration) *AgentHandler {
	return &AgentHandler{
		tasks: tasks, cancels: cancels, waiter: waiter,
		method: method, path: path, timeout: timeout,
		cancelPoll: 10 * time.Second,
	}
}

func (h *AgentHandler) Execute(ctx context.Context, job *domain.Job) Result {
	if flagged, err := h.cancels.CancelRequested(ctx, job.ID); err == nil && flagged {
		return cancelled()
	}

	t := &domain.Task{
		ID:       uuid.NewString(),
		JobID:    job.ID,
		TenantID: job.TenantID,
		Method:   h.method,
		Path:     h.path,
		Payload:  job.Params,
	}

	// register before insert so a fast agent cannot report into the void
	ch := h.waiter.Register(t.ID)
	if _, err := h.tasks.InsertTask(ctx, t); err != nil {
		h.waiter.Forget(t.ID)
		return transient("enqueue agent task: %v", err)
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go h.watchCancel(waitCtx, cancel, job.ID)

	out, err := h.waiter.Await(waitCtx, t.ID, ch, h.timeout)
	switch {
	case err == nil:
		// fall through
	case stderrors.Is(err, agent.ErrAwaitTimeout):
		// nobody waits on the task anymore; fail it so the job and its
		// tasks settle together
		h.abandon(t.ID, "job stopped waiting for the agent")
		return transient("agent did not report within %s", h.timeout)
	case stderrors.Is(err, context.Canceled):
		h.abandon(t.ID, "job cancelled")
		return cancelled()
	default:
		// includes the job deadline expiring before the agent timeout
		h.abandon(t.ID, "job stopped waiting for the agent")
		return transient("await agent result: %v", err)
	}

	if !out.Success {
		// the agent saw the site reject the request; treat as permanent
		// only when it says so via a non-retryable marker upstream, so
		// default to retryable
		return transient("agent reported failure: %s", out.Error)
	}
	fields := map[string]any{}
	if len(out.Result) > 0 {
		fields["agent_result"] = string(out.Result)
	}
	return ok(fields)
}

// abandon runs on a detached context: the job's own context is typically
// the thing that just expired or got cancelled.
func (h *AgentHandler) abandon(taskID, msg string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = h.tasks.AbandonTask(ctx, taskID, msg)
}

func (h *AgentHandler) watchCancel(ctx context.Context, cancel context.CancelFunc, jobID string) {
	tick := time.NewTicker(h.cancelPoll)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
			if flagged, err := h.cancels.CancelRequested(ctx, jobID); err == nil && flagged {
				cancel()
				return
			}
		}
	}
}

// RegisterAgentMarketplace wires the standard actions for an
// agent-mediated marketplace. Paths mirror the site's own endpoints; the
// agent replays them inside a real browser session.
func RegisterAgentMarketplace(reg *Registry, name string, tasks TaskEnqueuer, cancels CancelChecker, waiter *agent.Waiter, timeout time.Duration) {
	key := func(code string) domain.ActionKey {
		return domain.ActionKey{Marketplace: name, Code: code}
	}
	reg.Register(key("publish"), NewAgentHandler(tasks, cancels, waiter, "POST", "/listings", timeout))
	reg.Register(key("update"), NewAgentHandler(tasks, cancels, waiter, "PUT", "/listings", timeout))
	reg.Register(key("delete"), NewAgentHandler(tasks, cancels, waiter, "DELETE", "/listings", timeout))
	reg.Register(key("sync"), NewAgentHandler(tasks, cancels, waiter, "GET", "/listings", timeout))
}
