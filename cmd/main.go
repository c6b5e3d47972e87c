package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/cache"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/config"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/kafka"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/live"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/logger"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/order"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/server"
	"gitlab.ozon.dev/pupkingeorgij/cargotrack/internal/storage"
)

func main() {
	envFile := config.LoadEnv()

	cfg, err := config.Load()
	if err != nil {
		logger.New("info").Fatal("Failed to load configuration", zap.Error(err))
	}

	log := logger.New(cfg.Logging.Level)
	defer func() { _ = log.Sync() }()

	if envFile != "" {
		log.Info("Loaded environment file", zap.String("path", envFile))
	}
	if cfg.UsesDefaultSecret() && !cfg.Auth.PublicAccess {
		log.Warn("Using the built-in JWT secret; set JWT_SECRET in production")
	}

	if err := run(cfg, log); err != nil {
		log.Error("Service stopped with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("Service gracefully stopped")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	storeOpts := []storage.Option{storage.WithLogger(log)}
	if cfg.Store.LenientRead {
		storeOpts = append(storeOpts, storage.WithLenientRead())
	}
	store := storage.NewFileStorage(cfg.Store.Path, storeOpts...)

	seed, err := auth.NewAdminAccount(auth.SignupInput{
		FirstName: cfg.Admin.FirstName,
		LastName:  cfg.Admin.LastName,
		Email:     cfg.Admin.Email,
		Password:  cfg.Admin.Password,
	}, auth.RoleSuperAdmin, time.Now())
	if err != nil {
		return err
	}
	created, err := store.Initialize(ctx, seed)
	if err != nil {
		return err
	}
	if created {
		log.Info("Created new store with default admin", zap.String("path", cfg.Store.Path), zap.String("admin_email", seed.Email))
	}

	trackingCache := cache.NewOrderCache(store, log)
	if err := trackingCache.LoadInitialData(ctx); err != nil {
		return err
	}

	eventsProducer := kafka.NewProducer(cfg.Kafka.Brokers, log)
	publisher := kafka.NewPublisher(eventsProducer, kafka.PublisherConfig{Topic: cfg.Kafka.EventsTopic}, log)
	hub := live.NewHub(log)

	orders := order.NewService(store, trackingCache, order.MultiNotifier{publisher, hub}, log)
	orders.SetLocation(loc)

	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	admins := auth.NewService(store, tokens, log)

	var (
		auditManager  *server.AuditManager
		auditProducer kafka.Producer
	)
	if cfg.Audit.Enabled {
		auditProducer = kafka.NewProducer(cfg.Kafka.Brokers, log)
		auditManager = server.NewAuditManager(server.AuditConfig{
			Workers:   cfg.Audit.Workers,
			BatchSize: cfg.Audit.BatchSize,
			Timeout:   cfg.Audit.BatchTimeout,
			Topic:     cfg.Kafka.AuditTopic,
		}, auditProducer, log)
	}

	srv := server.New(orders, admins, hub, auditManager, server.Config{
		Addr:         cfg.Addr(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		PublicAccess: cfg.Auth.PublicAccess,
		AllowSignup:  cfg.Auth.AllowSignup,
	}, log)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		// In-flight requests must outlive the signal so Shutdown can drain them.
		return srv.Run(context.WithoutCancel(gctx))
	})

	g.Go(func() error {
		publisher.Run(gctx)
		return nil
	})

	if cfg.Store.Watch {
		watcher, err := cache.NewWatcher(cfg.Store.Path, cache.DefaultDebounce, trackingCache.Reset, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return watcher.Run(gctx)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer shutdownCancel()

		err := srv.Shutdown(shutdownCtx)
		hub.Close()
		publisher.Shutdown()
		if auditProducer != nil {
			if cerr := auditProducer.Close(); cerr != nil {
				log.Error("Failed to close audit producer", zap.Error(cerr))
			}
		}
		return err
	})

	return g.Wait()
}
