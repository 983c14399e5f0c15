package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/you/crosslist/internal/breaker"
	"github.com/you/crosslist/internal/domain"
	"github.com/you/crosslist/internal/handler"
	"github.com/you/crosslist/internal/ratelimit"
)

// JobStore is the slice of storage the engine mutates. The engine and the
// cleanup sweeps are the only writers of job state besides the API layer
// that inserts jobs.
type JobStore interface {
	ClaimNext(ctx context.Context, tenant string, blocked []string) (*domain.Job, error)
	MarkCompleted(ctx context.Context, id string, result []byte) error
	MarkFailed(ctx context.Context, id, msg string) error
	MarkCancelled(ctx context.Context, id string) error
	RequeueForRetry(ctx context.Context, id string, availableAt time.Time, msg string) error
	ReleaseToPending(ctx context.Context, id string) error
	ApplyJobOutcome(ctx context.Context, batchID string, outcome domain.Status) error
}

// Deferrer parks a retried job until its backoff elapses. May be nil; the
// poll fallback then provides the wake-up.
type Deferrer interface {
	Defer(ctx context.Context, tenant, jobID string, until time.Time) error
}

type Config struct {
	GlobalPermits int64
	TenantPermits int64
	JobTimeout    time.Duration
	WorkerIdleTTL time.Duration
	WorkerMaxAge  time.Duration
	JanitorTick   time.Duration
	DrainTimeout  time.Duration
	BackoffBase   int
	BackoffCap    time.Duration
}

func DefaultConfig() Config {
	return Config{
		GlobalPermits: 150,
		TenantPermits: 30,
		JobTimeout:    600 * time.Second,
		WorkerIdleTTL: 2 * time.Hour,
		WorkerMaxAge:  24 * time.Hour,
		JanitorTick:   time.Minute,
		DrainTimeout:  60 * time.Second,
		BackoffBase:   2,
		BackoffCap:    900 * time.Second,
	}
}

// Dispatcher owns the worker registry and every permit pool, global and
// per-tenant. It routes trigger events to tenant workers, evicts idle and
// aged ones, and never touches a marketplace itself.
type Dispatcher struct {
	cfg      Config
	store    JobStore
	delay    Deferrer
	breakers *breaker.Registry
	limiters *ratelimit.Registry
	handlers *handler.Registry
	catalog  domain.Catalog
	log      *zap.Logger

	global *semaphore.Weighted
	events <-chan domain.TriggerEvent

	semMu      sync.Mutex
	tenantSems map[string]*semaphore.Weighted

	mu       sync.Mutex
	workers  map[string]*Worker
	draining bool

	inflight sync.WaitGroup
}

func New(cfg Config, store JobStore, delay Deferrer, breakers *breaker.Registry,
	limiters *ratelimit.Registry, handlers *handler.Registry, catalog domain.Catalog,
	events <-chan domain.TriggerEvent, log *zap.Logger) *Dispatcher {
	return &Dispatcher{
		cfg:        cfg,
		store:      store,
		delay:      delay,
		breakers:   breakers,
		limiters:   limiters,
		handlers:   handlers,
		catalog:    catalog,
		events:     events,
		log:        log.Named("dispatch"),
		global:     semaphore.NewWeighted(cfg.GlobalPermits),
		tenantSems: make(map[string]*semaphore.Weighted),
		workers:    make(map[string]*Worker),
	}
}

// tenantSem returns the tenant's permit pool, created lazily. Pools outlive
// workers: an aged-out worker's in-flight jobs keep their permits, so the
// rebuilt worker draws from the same pool and the tenant cap holds across
// the handover.
func (d *Dispatcher) tenantSem(tenant string) *semaphore.Weighted {
	d.semMu.Lock()
	defer d.semMu.Unlock()
	s, ok := d.tenantSems[tenant]
	if !ok {
		s = semaphore.NewWeighted(d.cfg.TenantPermits)
		d.tenantSems[tenant] = s
	}
	return s
}

// Run pumps events into workers until ctx is cancelled, then drains: no
// new claims, in-flight jobs get up to DrainTimeout to finish, anything
// still running is left for the cleanup sweep to reap.
func (d *Dispatcher) Run(ctx context.Context) error {
	// workers outlive ctx so in-flight jobs can finish during drain
	workerCtx, hardStop := context.WithCancel(context.Background())
	defer hardStop()

	tick := time.NewTicker(d.cfg.JanitorTick)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			return d.drain(hardStop)
		case ev := <-d.events:
			d.route(workerCtx, ev)
		case <-tick.C:
			d.evict()
		}
	}
}

func (d *Dispatcher) route(workerCtx context.Context, ev domain.TriggerEvent) {
	if ev.TenantID == "" {
		return
	}
	d.mu.Lock()
	if d.draining {
		d.mu.Unlock()
		return
	}
	w, ok := d.workers[ev.TenantID]
	if !ok {
		w = newWorker(ev.TenantID, d)
		d.workers[ev.TenantID] = w
		go w.loop(workerCtx)
	}
	d.mu.Unlock()
	w.Wake()
}

// evict retires workers idle past the TTL and force-retires workers past
// the max age; an aged worker with pending work is simply rebuilt on the
// next trigger or poll.
func (d *Dispatcher) evict() {
	now := time.Now()
	d.mu.Lock()
	defer d.mu.Unlock()
	for tenant, w := range d.workers {
		idleTooLong := w.State() == StateIdle && now.Sub(w.LastActive()) > d.cfg.WorkerIdleTTL
		tooOld := now.Sub(w.createdAt) > d.cfg.WorkerMaxAge
		if idleTooLong || tooOld {
			w.Retire()
			delete(d.workers, tenant)
			d.log.Info("worker retired",
				zap.String("tenant", tenant),
				zap.Bool("aged_out", tooOld))
		}
	}
}

func (d *Dispatcher) drain(hardStop context.CancelFunc) error {
	d.mu.Lock()
	d.draining = true
	for _, w := range d.workers {
		w.Retire()
	}
	n := len(d.workers)
	d.mu.Unlock()
	d.log.Info("draining", zap.Int("workers", n))

	done := make(chan struct{})
	go func() {
		d.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.log.Info("drain complete")
	case <-time.After(d.cfg.DrainTimeout):
		d.log.Warn("drain timeout, abandoning in-flight jobs",
			zap.Duration("waited", d.cfg.DrainTimeout))
	}
	hardStop()
	return nil
}

// wakeAll nudges every worker after a global permit frees up, so a tenant
// that backed off on an exhausted pool does not wait for the next poll.
func (d *Dispatcher) wakeAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, w := range d.workers {
		w.Wake()
	}
}

// WorkerCount is used by tests and the janitor log line.
func (d *Dispatcher) WorkerCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.workers)
}
