// cmd/main.go is the application entry point.
// It wires together all layers and starts the HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/Shivanand-hulikatti/concert-rsvp/internal/clock"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/config"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/database"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/handler"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/notify"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/repository"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/repository/memory"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/service"
	"github.com/Shivanand-hulikatti/concert-rsvp/internal/telemetry"
)

// store is what every backend provides to the services.
type store interface {
	service.ConcertRepository
	service.AdmissionRepository
	service.StatsRepository
}

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	flagSet := pflag.NewFlagSet("concert-rsvp", pflag.ContinueOnError)
	addr := flagSet.String("addr", "", "listen address (default :$PORT)")
	storeFlag := flagSet.String("store", "", "storage backend: postgres, sqlite or memory (overrides STORE)")
	envFiles := flagSet.StringSlice("env-file", []string{".env", ".env.local"}, "dotenv files to load before the environment")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(*envFiles...)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *storeFlag != "" {
		cfg.Store = *storeFlag
		if err := cfg.Validate(); err != nil {
			return err
		}
	}

	logger := setupLogger(cfg)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.ServiceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// ── 2. Wire up layers ────────────────────────────────────────────────
	clk := clock.NewSystem()
	cache := service.NewStatsCache(cfg.StatsCacheTTL, clk)
	dispatcher := notify.NewDispatcher(notify.LogSink{Logger: logger}, logger,
		notify.WithWorkers(cfg.NotifyWorkers),
		notify.WithQueueSize(cfg.NotifyQueue),
		notify.WithDeliveryTimeout(cfg.NotifyTimeout),
	)

	concerts := service.NewConcertService(repo, clk)
	admission := service.NewAdmissionService(repo, clk,
		service.WithEmitter(dispatcher),
		service.WithInvalidator(cache),
		service.WithLogger(logger),
	)
	stats := service.NewStatsService(repo, cache)

	h := handler.NewHandler(concerts, admission, stats, logger, handler.DefaultRetryPolicy())
	router := handler.NewRouter(h, handler.RouterConfig{
		Logger:      logger,
		JWTSecret:   cfg.JWTSecret,
		CORSOrigins: cfg.CORSOrigins,
	})

	// ── 3. Start server with graceful shutdown ────────────────────────────
	listen := *addr
	if listen == "" {
		listen = ":" + cfg.Port
	}
	srv := &http.Server{
		Addr:         listen,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", listen, "store", cfg.Store, "environment", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("graceful shutdown: %w", err))
	}
	// Drain notifications for transitions that already committed.
	if err := dispatcher.Close(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("drain notifications: %w", err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("flush traces: %w", err))
	}
	logger.Info("server stopped")
	return errors.Join(errs...)
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-memory store, data is lost on exit")
		return memory.New(memory.WithLockTimeout(cfg.LockTimeout)), func() {}, nil

	case config.StoreSQLite:
		s, err := sqlite.Open(cfg.SQLitePath, cfg.LockTimeout)
		if err != nil {
			return nil, nil, fmt.Errorf("sqlite: %w", err)
		}
		logger.Info("opened sqlite store", "path", cfg.SQLitePath)
		return s, func() { _ = s.Close() }, nil

	default:
		pool, err := database.NewPool(ctx, cfg.Database(), logger)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		logger.Info("connected to postgres")
		return repository.NewStore(pool, cfg.LockTimeout), pool.Close, nil
	}
}

func setupLogger(cfg *config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
