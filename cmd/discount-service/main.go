package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Cheertaboi/discount-code-service/internal/api"
	"github.com/Cheertaboi/discount-code-service/internal/api/handlers"
	"github.com/Cheertaboi/discount-code-service/internal/cache"
	"github.com/Cheertaboi/discount-code-service/internal/config"
	"github.com/Cheertaboi/discount-code-service/internal/repository"
	"github.com/Cheertaboi/discount-code-service/internal/service"
	"github.com/Cheertaboi/discount-code-service/pkg/db"
)

func main() {
	configPath := flag.String("config", os.Getenv("CONFIG_PATH"), "path to an optional TOML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load config", slog.Any("error", err))
		os.Exit(1)
	}
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", slog.Any("error", err))
		os.Exit(1)
	}
	logger.Info("server stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// load DB config from env
	pgCfg, err := db.LoadPostgresConfig()
	if err != nil {
		return err
	}
	conn, err := db.NewPostgresConnection(ctx, pgCfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.EnsureSchema(ctx, conn); err != nil {
		return err
	}

	store, closeCache, err := newCacheStore(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	defer closeCache()

	repo := repository.NewCachingRepository(
		repository.NewPostgresStore(conn),
		store,
		repository.TTLConfig{Code: cfg.Cache.CodeTTL.Duration, Projection: cfg.Cache.ProjectionTTL.Duration},
		logger,
	)
	svc := service.NewDiscountService(repo, service.NewCodeGenerator(), logger)
	preloader := service.NewPreloader(repo, logger)

	if cfg.Security.HubSecret == "" {
		logger.Warn("hub secret is empty, real-time endpoint is unauthenticated")
	}
	hub := handlers.NewHub(svc, cfg.Security.HubSecret, logger)
	defer hub.Close()

	srv := &http.Server{
		Addr: ":" + cfg.Server.Port,
		Handler: api.NewRouter(api.Options{
			Service:     svc,
			Hub:         hub,
			Ready:       preloader.Ready,
			AdminSecret: cfg.Security.AdminSecret,
			Logger:      logger,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// projections must be warm before traffic is accepted
	if err := preloader.Run(ctx); err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting discount-service", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	// graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration)
	defer cancel()
	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func newCacheStore(ctx context.Context, cfg config.CacheConfig) (cache.Store, func(), error) {
	switch cfg.Driver {
	case config.CacheDriverMemory:
		store, err := cache.NewMemoryStore(cfg.MemoryEntries)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	default:
		client, err := cache.NewRedisClient(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewRedisStore(client), func() { _ = client.Close() }, nil
	}
}
