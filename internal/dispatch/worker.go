package dispatch

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/you/crosslist/internal/domain"
	"github.com/you/crosslist/internal/handler"
)

type State int32

const (
	StateIdle State = iota
	StateActive
	StateDraining
	StateStopped
)

// Worker is the execution loop for one tenant's partition. It claims jobs
// in priority-then-age order under the tenant's permit cap plus the global
// one, so no tenant can starve the rest of the pool. The permit pool is
// dispatcher-owned; a worker only borrows it for its lifetime.
type Worker struct {
	tenant    string
	d         *Dispatcher
	sem       *semaphore.Weighted
	wake      chan struct{}
	retire    chan struct{}
	retired   atomic.Bool
	state     atomic.Int32
	lastBusy  atomic.Int64
	createdAt time.Time
	log       *zap.Logger
}

func newWorker(tenant string, d *Dispatcher) *Worker {
	w := &Worker{
		tenant:    tenant,
		d:         d,
		sem:       d.tenantSem(tenant),
		wake:      make(chan struct{}, 1),
		retire:    make(chan struct{}),
		createdAt: time.Now(),
		log:       d.log.Named("worker").With(zap.String("tenant", tenant)),
	}
	w.lastBusy.Store(time.Now().UnixNano())
	return w
}

func (w *Worker) State() State          { return State(w.state.Load()) }
func (w *Worker) LastActive() time.Time { return time.Unix(0, w.lastBusy.Load()) }

// Wake nudges the loop; coalesces while a pump pass is in progress.
func (w *Worker) Wake() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// Retire stops the loop from claiming anything new. In-flight jobs keep
// their permits and finish on their own.
func (w *Worker) Retire() {
	if w.retired.CompareAndSwap(false, true) {
		w.state.Store(int32(StateDraining))
		close(w.retire)
	}
}

func (w *Worker) loop(ctx context.Context) {
	defer w.state.Store(int32(StateStopped))
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.retire:
			return
		case <-w.wake:
			w.pump(ctx)
		}
	}
}

// pump claims until permits or work run out. Permits are taken before the
// claim so a claimed job always has the right to run; when either pool is
// exhausted the pass ends and a finishing job (or the next poll) re-wakes
// the loop.
func (w *Worker) pump(ctx context.Context) {
	for {
		if w.retired.Load() || ctx.Err() != nil {
			return
		}
		if !w.sem.TryAcquire(1) {
			return
		}
		if !w.d.global.TryAcquire(1) {
			w.sem.Release(1)
			return
		}

		blocked := w.d.breakers.OpenMarketplaces()
		job, err := w.d.store.ClaimNext(ctx, w.tenant, blocked)
		if err != nil {
			w.releasePermits()
			w.log.Error("claim failed", zap.Error(err))
			return
		}
		if job == nil {
			w.releasePermits()
			w.state.Store(int32(StateIdle))
			return
		}

		w.state.Store(int32(StateActive))
		w.lastBusy.Store(time.Now().UnixNano())
		w.d.inflight.Add(1)
		go w.run(ctx, job)
	}
}

func (w *Worker) releasePermits() {
	w.d.global.Release(1)
	w.sem.Release(1)
}

func (w *Worker) run(ctx context.Context, job *domain.Job) {
	defer func() {
		w.releasePermits()
		w.d.inflight.Done()
		w.lastBusy.Store(time.Now().UnixNano())
		w.d.wakeAll()
	}()

	log := w.log.With(zap.String("job", job.ID),
		zap.String("marketplace", job.Marketplace),
		zap.String("action", job.Action))

	floor, timeout, _ := w.actionDefaults(job)

	// the limiter pays the same randomized cost for retries as for first
	// attempts; skipping it for "quick" retries is exactly what gets a
	// tenant's account flagged
	limiter := w.d.limiters.For(w.tenant)
	delay, err := limiter.Wait(ctx, methodFor(job.Action), job.Action, floor)
	if err != nil {
		w.release(job, log)
		return
	}

	br := w.d.breakers.For(job.Marketplace)
	if !br.CanExecute() {
		// opened while we were pacing; no retry consumed
		w.release(job, log)
		return
	}

	h, ok := w.d.handlers.Resolve(job.Marketplace, job.Action)
	if !ok {
		w.finish(job, domain.StatusFailed, "no handler registered", nil, log)
		return
	}

	jctx, cancel := context.WithTimeout(ctx, timeout)
	res := handler.SafeExecute(jctx, h, job)
	cancel()

	log.Debug("handler returned",
		zap.Bool("success", res.Success),
		zap.Duration("paced", delay))

	switch {
	case res.Cancelled:
		w.finish(job, domain.StatusCancelled, "", nil, log)
	case res.Success:
		br.RecordSuccess()
		var payload []byte
		if len(res.Fields) > 0 {
			payload, _ = json.Marshal(res.Fields)
		}
		w.finish(job, domain.StatusCompleted, "", payload, log)
	case res.Permanent:
		// marketplace rejected the request outright; retrying cannot help
		// and the breaker only counts transport-level trouble
		w.finish(job, domain.StatusFailed, res.Error, nil, log)
	default:
		br.RecordFailure()
		w.retryOrFail(job, res.Error, log)
	}
}

// release undoes the claim without consuming a retry (circuit-open path
// and interrupted pacing waits).
func (w *Worker) release(job *domain.Job, log *zap.Logger) {
	ctx, cancel := dbContext()
	defer cancel()
	if err := w.d.store.ReleaseToPending(ctx, job.ID); err != nil {
		log.Error("release to pending failed", zap.Error(err))
	}
}

func (w *Worker) finish(job *domain.Job, status domain.Status, msg string, payload []byte, log *zap.Logger) {
	ctx, cancel := dbContext()
	defer cancel()

	var err error
	switch status {
	case domain.StatusCompleted:
		err = w.d.store.MarkCompleted(ctx, job.ID, payload)
	case domain.StatusCancelled:
		err = w.d.store.MarkCancelled(ctx, job.ID)
	default:
		err = w.d.store.MarkFailed(ctx, job.ID, msg)
	}
	if err != nil {
		log.Error("final state write failed", zap.Error(err))
		return
	}
	if job.BatchID != nil {
		if err := w.d.store.ApplyJobOutcome(ctx, *job.BatchID, status); err != nil {
			log.Error("batch counter update failed", zap.Error(err))
		}
	}
}

// actionDefaults resolves the job's effective pacing floor, timeout, and
// retry budget. Fields set on the job row win; zero fields fall back to
// the action-type catalog, then to the engine config.
func (w *Worker) actionDefaults(job *domain.Job) (floor time.Duration, timeout time.Duration, maxRetries int) {
	at, _ := w.d.catalog.ByID(job.ActionTypeID)

	if at.RateLimitMs > 0 {
		floor = time.Duration(at.RateLimitMs) * time.Millisecond
	}

	timeout = w.d.cfg.JobTimeout
	switch {
	case job.TimeoutSec > 0:
		timeout = time.Duration(job.TimeoutSec) * time.Second
	case at.TimeoutSec > 0:
		timeout = time.Duration(at.TimeoutSec) * time.Second
	}

	maxRetries = job.MaxRetries
	if maxRetries == 0 {
		maxRetries = at.MaxRetries
	}
	return floor, timeout, maxRetries
}

func (w *Worker) retryOrFail(job *domain.Job, msg string, log *zap.Logger) {
	_, _, maxRetries := w.actionDefaults(job)
	if job.RetryCount >= maxRetries {
		log.Warn("retries exhausted", zap.Int("retries", job.RetryCount))
		w.finish(job, domain.StatusFailed, msg, nil, log)
		return
	}

	backoff := time.Duration(math.Pow(float64(w.d.cfg.BackoffBase), float64(job.RetryCount+1))) * time.Second
	if backoff > w.d.cfg.BackoffCap {
		backoff = w.d.cfg.BackoffCap
	}
	until := time.Now().UTC().Add(backoff)

	ctx, cancel := dbContext()
	defer cancel()
	if err := w.d.store.RequeueForRetry(ctx, job.ID, until, msg); err != nil {
		log.Error("requeue failed", zap.Error(err))
		return
	}
	if w.d.delay != nil {
		if err := w.d.delay.Defer(ctx, w.tenant, job.ID, until); err != nil {
			// poll fallback will still find it once available_at passes
			log.Warn("delay park failed", zap.Error(err))
		}
	}
	log.Info("retry scheduled",
		zap.Int("attempt", job.RetryCount+1),
		zap.Duration("backoff", backoff))
}

// dbContext detaches state writes from the worker context so a drain or
// hard stop cannot lose a finished job's outcome.
func dbContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}

func methodFor(action string) string {
	switch action {
	case "publish":
		return http.MethodPost
	case "update":
		return http.MethodPut
	case "delete":
		return http.MethodDelete
	default:
		return http.MethodGet
	}
}
