/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the hostel fee engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags, load configuration
  2. Build the zap logger
  3. Open the store (SQLite or PostgreSQL) and migrate the schema
  4. Start the notification dispatcher (log + metrics publishers)
  5. Create API handler, router and expiry scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  YAML config file (default: configs/config.yaml, optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the scheduler
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Drain queued approval notifications
  5. Close database connection
  6. Exit

EXAMPLES:
  # Run with defaults (fees.db next to the binary)
  ./server

  # Run against PostgreSQL
  FEES_DATABASE_DRIVER=postgres FEES_DATABASE_DSN=postgres://fees@localhost/fees ./server

  # Run in-memory with approvals required
  FEES_DATABASE_DSN=":memory:" FEES_FEES_REQUIRE_APPROVAL=true ./server

SEE ALSO:
  - config/config.go: Every setting and its environment variable
  - api/server.go: Router configuration
  - store/sqlstore/sqlstore.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/fee-engine/api"
	"github.com/warp/fee-engine/config"
	"github.com/warp/fee-engine/metrics"
	"github.com/warp/fee-engine/notify"
	"github.com/warp/fee-engine/store/sqlstore"
)

func main() {
	// Flags
	configPath := flag.String("config", config.DefaultFile, "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := cfg.Logger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	// run returns instead of exiting so its deferred cleanup completes
	// before the logger is flushed.
	err = run(cfg, logger)
	if err != nil {
		logger.Error("server failed", zap.Error(err))
	}
	_ = logger.Sync()
	if err != nil {
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	tax, err := cfg.TaxPercentage()
	if err != nil {
		return err
	}

	// Initialize store
	store, err := sqlstore.Open(sqlstore.Options{Driver: cfg.Database.Driver, DSN: cfg.Database.DSN})
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()
	logger.Info("database ready", zap.String("driver", cfg.Database.Driver))

	m := metrics.New()
	dispatcher := notify.NewDispatcher(
		notify.Multi{notify.NewLogNotifier(logger), m.ApprovalPublisher()},
		logger,
		notify.DispatcherOptions{},
	)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := dispatcher.Close(ctx); err != nil {
			logger.Warn("notification queue not drained", zap.Error(err))
		}
	}()

	// Initialize handler
	handler := api.NewHandler(store, api.Options{
		RequireApproval:      cfg.Fees.RequireApproval,
		DefaultTaxPercentage: tax,
		NoticePeriodDays:     cfg.Fees.NoticePeriodDays,
		Publisher:            dispatcher,
		Metrics:              m,
		Logger:               logger,
	})

	scheduler := api.NewExpiryScheduler(handler)
	scheduler.Enabled = cfg.Scheduler.Enabled
	scheduler.CheckInterval = cfg.Scheduler.Interval
	if cfg.Scheduler.StaleAfter > 0 {
		scheduler.StaleAfter = cfg.Scheduler.StaleAfter
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.NewRouter(handler, api.RouterOptions{AllowedOrigins: cfg.Server.CorsAllowedOrigins}),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.Int("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-serveErr:
		return err
	}

	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
