package trigger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/crosslist/internal/domain"
)

// PendingScanner backs the polling fallback.
type PendingScanner interface {
	TenantsWithPending(ctx context.Context) ([]string, error)
}

// Hub merges the two wake-up paths into one event stream: a LISTEN
// connection for low latency, and a fixed-interval rescan that catches any
// notification the channel dropped. Consumers cannot tell which path an
// event came from, and must not care.
type Hub struct {
	pool     *pgxpool.Pool
	store    PendingScanner
	interval time.Duration
	log      *zap.Logger
	events   chan domain.TriggerEvent
}

func NewHub(pool *pgxpool.Pool, store PendingScanner, pollInterval time.Duration, log *zap.Logger) *Hub {
	return &Hub{
		pool:     pool,
		store:    store,
		interval: pollInterval,
		log:      log.Named("trigger"),
		events:   make(chan domain.TriggerEvent, 256),
	}
}

func (h *Hub) Events() <-chan domain.TriggerEvent { return h.events }

// Run blocks until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.listen(ctx) })
	g.Go(func() error { return h.poll(ctx) })
	return g.Wait()
}

func (h *Hub) listen(ctx context.Context) error {
	for {
		if err := h.listenOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			h.log.Warn("listen connection lost, retrying", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}

// listenOnce pins one connection for LISTEN and pumps notifications until
// the connection breaks. Missed notifications while reconnecting are
// covered by the poll loop.
func (h *Hub) listenOnce(ctx context.Context) error {
	conn, err := h.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `listen `+domain.TriggerChannel); err != nil {
		return err
	}
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err != nil {
			return err
		}
		var ev domain.TriggerEvent
		if err := json.Unmarshal([]byte(n.Payload), &ev); err != nil {
			h.log.Warn("bad trigger payload", zap.String("payload", n.Payload))
			continue
		}
		h.emit(ctx, ev)
	}
}

func (h *Hub) poll(ctx context.Context) error {
	tick := time.NewTicker(h.interval)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			tenants, err := h.store.TenantsWithPending(ctx)
			if err != nil {
				h.log.Warn("poll scan failed", zap.Error(err))
				continue
			}
			for _, t := range tenants {
				h.emit(ctx, domain.TriggerEvent{TenantID: t})
			}
		}
	}
}

func (h *Hub) emit(_ context.Context, ev domain.TriggerEvent) {
	select {
	case h.events <- ev:
	default:
		// buffer full: drop, the next poll pass finds the work anyway
	}
}
