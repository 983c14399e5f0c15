package main

import (
	"context"
	"database/sql"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/you/crosslist/internal/cleanup"
	"github.com/you/crosslist/internal/config"
	"github.com/you/crosslist/internal/domain"
	"github.com/you/crosslist/internal/queue"
	"github.com/you/crosslist/internal/storage"
)

// advisory lock key for janitor leader election; only one instance sweeps
const leaderLockKey = 913

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	if cfg.AppEnv == "dev" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// single plain connection: advisory locks are session-scoped
	lockDB, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer lockDB.Close()
	lockDB.SetMaxOpenConns(1)

	if err := goose.Up(lockDB, cfg.MigrationsDir); err != nil {
		logger.Fatal("migrations", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres pool", zap.Error(err))
	}
	defer pool.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(pool)
	delayq := queue.New(rdb)
	sweeps := cleanup.New(store, cleanup.Config{
		PendingTimeout: cfg.PendingTimeout,
		RunningTimeout: cfg.RunningTimeout,
		Retention:      time.Duration(cfg.RetentionDays) * 24 * time.Hour,
	}, logger)

	tick := time.NewTicker(cfg.JanitorTick)
	defer tick.Stop()
	var lastSweep time.Time

	logger.Info("janitor up", zap.Duration("tick", cfg.JanitorTick))
	for {
		select {
		case <-ctx.Done():
			logger.Info("bye")
			return
		case <-tick.C:
		}

		var leader bool
		if err := lockDB.QueryRowContext(ctx,
			`select pg_try_advisory_lock($1)`, leaderLockKey).Scan(&leader); err != nil {
			logger.Warn("leader election", zap.Error(err))
			continue
		}
		if !leader {
			continue
		}

		moveDueRetries(ctx, delayq, store, logger)

		if time.Since(lastSweep) >= cfg.CleanupInterval {
			if err := sweeps.RunOnce(ctx); err != nil {
				logger.Error("sweep failed", zap.Error(err))
			} else {
				lastSweep = time.Now()
			}
		}
	}
}

// moveDueRetries promotes jobs whose backoff has elapsed and re-announces
// them so dispatch wakes before the next poll. The database already made
// them claimable via available_at; this is purely a latency win.
func moveDueRetries(ctx context.Context, delayq *queue.DelayQ, store *storage.Store, logger *zap.Logger) {
	tenants, err := delayq.Tenants(ctx)
	if err != nil {
		logger.Warn("delay tenants", zap.Error(err))
		return
	}
	now := time.Now().UTC().Unix()
	for _, tenant := range tenants {
		ids, err := delayq.MoveDue(ctx, tenant, now, 200)
		if err != nil {
			logger.Warn("move due", zap.String("tenant", tenant), zap.Error(err))
			continue
		}
		for _, id := range ids {
			ev, err := store.ReadyEvent(ctx, id)
			if err != nil {
				// the job may have been claimed or swept since parking;
				// announce the bare minimum and let the claim sort it out
				ev = domain.TriggerEvent{JobID: id, TenantID: tenant}
			}
			if err := store.NotifyReady(ctx, ev); err != nil {
				logger.Warn("notify ready", zap.String("job", id), zap.Error(err))
			}
		}
	}
}
