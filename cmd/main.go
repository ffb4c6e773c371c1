package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"pulse/internal/app/registry"
	"pulse/internal/app/server"
	"pulse/internal/app/server/handlers"
	"pulse/internal/app/worker"
	"pulse/internal/config"
	"pulse/internal/core/contracts"
	"pulse/internal/core/domain"
	"pulse/internal/core/services"
	"pulse/internal/platform/logger"
	"pulse/internal/platform/telemetry"
	natsPlugin "pulse/internal/plugins/nats"
	"pulse/internal/plugins/postgres"
	redisPlugin "pulse/internal/plugins/redis"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
)

func main() {
	// Context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	// Logger
	log := logger.NewLogger(*cfg)
	log.Info("starting application")

	otelShutdown, err := telemetry.InitTelemetry(ctx, *cfg)
	if err != nil {
		log.Error("failed to initialize telemetry", "err", err)
		return
	}
	defer func() {
		log.Info("flushing telemetry...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			log.Error("telemetry shutdown failed", "err", err)
		}
	}()

	// Infra
	pdb, err := postgres.New(ctx, cfg.Postgres)
	if err != nil {
		log.Error("postgres connection failed", "err", err)
		return
	}
	defer pdb.Close()
	log.Info("postgres connected")
	if cfg.Postgres.EnsureSchema {
		if err := postgres.EnsureSchema(ctx, pdb); err != nil {
			log.Error("postgres schema setup failed", "err", err)
			return
		}
	}
	rdb, err := redisPlugin.NewRedisClient(ctx, cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "url", cfg.Redis.URL, "err", err)
		return
	}
	defer rdb.Close()
	log.Info("redis connected")

	var bus contracts.EnvelopeBus
	switch cfg.Notify.Backend {
	case "redis":
		bus = redisPlugin.NewRedisNotifier(rdb, log, cfg.Notify.Channel)
	default:
		nc, err := natsPlugin.NewConn(cfg.Nats, log)
		if err != nil {
			log.Error("nats connection failed", "url", cfg.Nats.URL, "err", err)
			return
		}
		bus = natsPlugin.NewNotifier(nc, log, cfg.Nats.Subject)
	}
	defer bus.Close()
	log.Info("notifier ready", "backend", cfg.Notify.Backend)

	// Adapters
	accountRepo := postgres.NewAccountRepo(pdb)
	presStore := redisPlugin.NewRedisPresenceStore(rdb)
	schedule := redisPlugin.NewRedisOfflineSchedule(rdb)
	locker := redisPlugin.NewRedisLocker(rdb)
	windows := redisPlugin.NewRedisWindowCounter(rdb)

	// Core Services
	presCfg := cfg.Presence
	hub := registry.NewRegistry(log)
	broadcaster := services.NewBroadcaster(log, accountRepo, bus)
	presenceSvc := services.NewPresenceService(log, presStore, presStore, schedule, broadcaster, presCfg.HeartbeatTTL(), presCfg.OfflineGrace())
	offlineSvc := services.NewOfflineService(log, presStore, schedule, locker, accountRepo, broadcaster, presCfg.OfflineLockTTL())
	snapshotSvc := services.NewSnapshotService(log, accountRepo, presStore, presCfg.LastSeenWindow(), presCfg.SnapshotMaxTargets)
	limiter := services.NewRateLimiter(log, windows, presCfg.SnapshotWindow(), presCfg.SnapshotMaxRequests)
	tokenSvc := services.NewTokenService(cfg.JWTSecret)

	if err := bus.Subscribe(ctx, func(ctx context.Context, env domain.Envelope) {
		hub.Deliver(ctx, env)
	}); err != nil {
		log.Error("notifier subscribe failed", "err", err)
		return
	}

	// Server
	srv := server.NewServer(cfg.Service.Add, cfg.Service.Name, log, tokenSvc,
		handlers.NewWSHandler(hub, presenceSvc, presCfg.HeartbeatInterval(), presCfg.HeartbeatTTL()),
		handlers.NewSnapshotHandler(snapshotSvc, limiter),
	)
	sweeper := worker.NewOfflineSweeper(log, offlineSvc, presCfg.SweepInterval(), presCfg.SweepBatchSize)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Error("application stopped with error", "err", err)
		return
	}
	log.Info("application stopped")
}
