package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"sitehive/internal/config"
	"sitehive/internal/database"
	"sitehive/internal/huts"
	"sitehive/internal/ingest"
	"sitehive/internal/server"
)

const (
	httpWriteTimeout = 30 * time.Second
	httpReadTimeout  = 10 * time.Second
	httpIdleTimeout  = 60 * time.Second
	shutdownTimeout  = 5 * time.Second
)

// App orchestrates the background jobs and the API server.
type App struct {
	cfg        config.AppConfig
	log        *slog.Logger
	rollup     *RollupWorker
	server     *server.Server
	httpServer *http.Server
}

// New builds an App with all dependencies wired.
func New(cfg config.AppConfig, store *database.Store, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	svc := ingest.New(store, ingest.Options{
		DefaultTimezone: cfg.Sites.DefaultTimezone,
		IngestKey:       cfg.Auth.IngestKey,
		RawRetention:    cfg.Retention.Raw(),
		HourlyRetention: cfg.Retention.Hourly(),
		SweepInterval:   cfg.Retention.SweepInterval(),
	}, logger)
	ledger := huts.NewLedger(store, nil, logger)
	rollup := NewRollupWorker(store, svc, cfg.Intervals.Rollup(), logger)

	srv, err := server.New(server.Options{
		Store:    store,
		Ingest:   svc,
		Ledger:   ledger,
		AdminKey: cfg.Auth.AdminKey,
	}, logger)
	if err != nil {
		return nil, err
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: httpReadTimeout,
		WriteTimeout:      httpWriteTimeout,
		IdleTimeout:       httpIdleTimeout,
	}

	return &App{
		cfg:        cfg,
		log:        logger.With("component", "app"),
		rollup:     rollup,
		server:     srv,
		httpServer: httpServer,
	}, nil
}

// Run starts the services and blocks until the context is cancelled or an error occurs.
func (a *App) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	var wg sync.WaitGroup

	startService := func(name string, run func(context.Context)) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.log.Info("service started", "service", name)
			run(ctx)
			a.log.Info("service stopped", "service", name)
		}()
	}

	startService("rollup", a.rollup.Run)

	wg.Add(1)
	go func() {
		defer wg.Done()
		a.log.Info("http listening", "addr", a.cfg.HTTP.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		runErr = ctx.Err()
	case err := <-errCh:
		runErr = err
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := a.httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Error("http shutdown failed", "err", err)
	}

	cancel()
	wg.Wait()

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}
