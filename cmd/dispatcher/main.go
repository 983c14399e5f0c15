package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/you/crosslist/internal/agent"
	"github.com/you/crosslist/internal/breaker"
	"github.com/you/crosslist/internal/config"
	"github.com/you/crosslist/internal/dispatch"
	"github.com/you/crosslist/internal/handler"
	"github.com/you/crosslist/internal/marketplace"
	"github.com/you/crosslist/internal/queue"
	"github.com/you/crosslist/internal/ratelimit"
	"github.com/you/crosslist/internal/storage"
	"github.com/you/crosslist/internal/trigger"
)

func main() {
	cfg := config.Load()

	var logger *zap.Logger
	if cfg.AppEnv == "dev" {
		logger, _ = zap.NewDevelopment()
	} else {
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync()

	// SIGTERM/SIGINT starts the drain; the dispatcher decides when we exit
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		logger.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rdb.Close()

	store := storage.New(db)
	delayq := queue.New(rdb)

	catalog, err := store.LoadCatalog(ctx)
	if err != nil {
		logger.Fatal("load action catalog", zap.Error(err))
	}

	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	limiters := ratelimit.NewRegistry(ratelimit.DefaultConfig())
	waiter := agent.NewWaiter()

	handlers := handler.NewRegistry()
	handler.RegisterAPIMarketplace(handlers, "ebay",
		marketplace.NewClient("ebay", cfg.EbayBaseURL, cfg.EbayToken), store)
	handler.RegisterAPIMarketplace(handlers, "etsy",
		marketplace.NewClient("etsy", cfg.EtsyBaseURL, cfg.EtsyToken), store)
	handler.RegisterAgentMarketplace(handlers, "poshmark", store, store, waiter, cfg.JobTimeout)

	// every catalog entry must resolve to a handler before we take work
	for key := range catalog {
		if _, ok := handlers.Resolve(key.Marketplace, key.Code); !ok {
			logger.Fatal("catalog entry without handler",
				zap.String("marketplace", key.Marketplace),
				zap.String("action", key.Code))
		}
	}
	logger.Info("handlers wired", zap.Int("actions", len(catalog)))

	hub := trigger.NewHub(db, store, cfg.PollInterval, logger)

	dcfg := dispatch.DefaultConfig()
	dcfg.GlobalPermits = int64(cfg.GlobalPermits)
	dcfg.TenantPermits = int64(cfg.TenantPermits)
	dcfg.JobTimeout = cfg.JobTimeout
	dcfg.WorkerIdleTTL = cfg.WorkerIdleTTL
	dcfg.WorkerMaxAge = cfg.WorkerMaxAge
	dcfg.DrainTimeout = cfg.DrainTimeout
	dcfg.BackoffBase = cfg.BackoffBase
	dcfg.BackoffCap = cfg.BackoffCapDuration()
	disp := dispatch.New(dcfg, store, delayq, breakers, limiters, handlers, catalog, hub.Events(), logger)

	rtr := chi.NewRouter()
	rtr.Mount("/agent", agent.NewGateway(store, waiter, logger).Routes())
	srv := &http.Server{Addr: cfg.AgentAddr, Handler: rtr}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		err := hub.Run(gctx)
		if gctx.Err() != nil {
			return nil
		}
		return err
	})
	g.Go(func() error { return disp.Run(gctx) })
	g.Go(func() error {
		err := srv.ListenAndServe()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	})
	g.Go(func() error {
		<-gctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), cfg.DrainTimeout)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})

	logger.Info("dispatcher up",
		zap.Int("global_permits", cfg.GlobalPermits),
		zap.Int("tenant_permits", cfg.TenantPermits),
		zap.String("agent_addr", cfg.AgentAddr))

	if err := g.Wait(); err != nil {
		logger.Fatal("exit", zap.Error(err))
	}
	logger.Info("bye")
}
