package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tinoosan/transfer/internal/config"
	"github.com/tinoosan/transfer/internal/httpapi"
	"github.com/tinoosan/transfer/internal/metrics"
	"github.com/tinoosan/transfer/internal/service/account"
	"github.com/tinoosan/transfer/internal/service/transfer"
	"github.com/tinoosan/transfer/internal/storage/memory"
	pgstore "github.com/tinoosan/transfer/internal/storage/postgres"
)

// backend is what both storage implementations provide.
type backend interface {
	transfer.Store
	account.Repo
	account.Writer
	httpapi.EntryReader
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("invalid configuration", "err", err)
		os.Exit(1)
	}
	logger := cfg.Logger()
	slog.SetDefault(logger)

	collector := metrics.New()
	opts := cfg.Transfer
	opts.Logger = logger
	opts.Recorder = collector

	var store backend
	var closeFn func()

	if cfg.DatabaseURL != "" {
		pg, err := pgstore.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to connect to postgres", "err", err)
			os.Exit(1)
		}
		closeFn = pg.Close
		if cfg.DBMigrate {
			if err := pg.Migrate(ctx); err != nil {
				logger.Error("migration failed", "err", err)
				pg.Close()
				os.Exit(1)
			}
			logger.Info("migrations applied")
		}
		store = pg
		logger.Info("storage backend: postgres")
	} else {
		store = memory.New()
		logger.Info("storage backend: memory")
	}

	engine := transfer.New(store, opts)

	// The memory backend starts empty on every run, so it is always seeded.
	_, inMemory := store.(*memory.Store)
	if cfg.DevSeed || inMemory {
		accs, err := seedDev(ctx, store, engine, devFunding)
		if err != nil {
			logger.Error("dev seed failed", "err", err)
		} else {
			logDevSeed(logger, backendName(inMemory), accs)
			printDevSeedBanner(accs)
		}
	}

	api := httpapi.New(account.New(store, store), engine, store, collector, logger)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("transfer service listening", "addr", srv.Addr, "locking", opts.Locking)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctxShutdown); err != nil {
			logger.Error("server shutdown error", "err", err)
		}
	case err := <-errCh:
		logger.Error("server error", "err", err)
	}
	if closeFn != nil {
		closeFn()
	}
}
