package cleanup

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SweepStore is the slice of storage the sweeps need.
type SweepStore interface {
	FailStalePending(ctx context.Context, cutoff time.Time) (int64, error)
	FailStuckRunning(ctx context.Context, cutoff time.Time) (int64, error)
	SoftDeleteTerminal(ctx context.Context, cutoff time.Time) (int64, error)
	ReconcileBatchCounters(ctx context.Context) (int64, error)
}

type Config struct {
	PendingTimeout time.Duration // pending older than this never started
	RunningTimeout time.Duration // running older than this is a dead worker
	Retention      time.Duration // terminal jobs older than this get tombstoned
}

func DefaultConfig() Config {
	return Config{
		PendingTimeout: 24 * time.Hour,
		RunningTimeout: 2 * time.Hour,
		Retention:      30 * 24 * time.Hour,
	}
}

// Service reconciles jobs that never reached a terminal state on their
// own: a crash, a hung call, a job nobody ever picked up. Every sweep is
// idempotent and safe to run while dispatch is live.
type Service struct {
	store SweepStore
	cfg   Config
	log   *zap.Logger

	now func() time.Time
}

func New(store SweepStore, cfg Config, log *zap.Logger) *Service {
	return &Service{store: store, cfg: cfg, log: log.Named("cleanup"), now: time.Now}
}

func (s *Service) RunOnce(ctx context.Context) error {
	now := s.now().UTC()

	stale, err := s.store.FailStalePending(ctx, now.Add(-s.cfg.PendingTimeout))
	if err != nil {
		return err
	}
	stuck, err := s.store.FailStuckRunning(ctx, now.Add(-s.cfg.RunningTimeout))
	if err != nil {
		return err
	}
	reaped, err := s.store.SoftDeleteTerminal(ctx, now.Add(-s.cfg.Retention))
	if err != nil {
		return err
	}
	// forced failures bypass the worker's counter path
	batches, err := s.store.ReconcileBatchCounters(ctx)
	if err != nil {
		return err
	}

	if stale+stuck+reaped+batches > 0 {
		s.log.Info("sweep",
			zap.Int64("stale_pending", stale),
			zap.Int64("stuck_running", stuck),
			zap.Int64("tombstoned", reaped),
			zap.Int64("batches_reconciled", batches))
	}
	return nil
}
