/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the reward engine server.
  Handles configuration, dependency injection, and graceful shutdown.

COMMANDS:
  reward-engine serve     Run the HTTP API and the issuance scheduler
  reward-engine migrate   Create or update the database schema and exit

STARTUP SEQUENCE (serve):
  1. Load configuration (defaults < --config file < REWARD_ENGINE_* env < flags)
  2. Build the logger
  3. Open the store (memory, sqlite or postgres)
  4. Wire the engine with the built-in condition strategies
  5. Start the issuance scheduler
  6. Start the HTTP server with graceful shutdown

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, waiting for a running pass
  4. Close the store

EXAMPLES:
  # SQLite file database
  reward-engine serve --store-dsn=./data/rewards.db

  # In-memory store on another port
  reward-engine serve --store-driver=memory --addr=:3000

  # PostgreSQL via environment
  REWARD_ENGINE_STORE_DRIVER=postgres \
  REWARD_ENGINE_STORE_DSN=postgres://rewards@localhost/rewards reward-engine serve

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/warp/reward-engine/api"
	"github.com/warp/reward-engine/conditions"
	"github.com/warp/reward-engine/config"
	"github.com/warp/reward-engine/engine"
	"github.com/warp/reward-engine/engine/store"
	"github.com/warp/reward-engine/logging"
	"github.com/warp/reward-engine/store/postgres"
	"github.com/warp/reward-engine/store/sqlite"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "reward-engine",
		Short:         "Event reward request lifecycle engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().String("store-driver", "", "Store driver: memory, sqlite or postgres")
	rootCmd.PersistentFlags().String("store-dsn", "", "SQLite path or PostgreSQL URL")
	rootCmd.PersistentFlags().String("log-level", "", "Log level")
	_ = v.BindPFlag("store.driver", rootCmd.PersistentFlags().Lookup("store-driver"))
	_ = v.BindPFlag("store.dsn", rootCmd.PersistentFlags().Lookup("store-dsn"))
	_ = v.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))

	rootCmd.AddCommand(newServeCommand(v, &configPath))
	rootCmd.AddCommand(newMigrateCommand(v, &configPath))
	return rootCmd
}

func newServeCommand(v *viper.Viper, configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, logger)
		},
	}
	cmd.Flags().String("addr", "", "HTTP listen address")
	_ = v.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

func newMigrateCommand(v *viper.Viper, configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup(v, *configPath)
			if err != nil {
				return err
			}
			_, closeStore, err := openStore(cmd.Context(), cfg.Store)
			if err != nil {
				return err
			}
			logger.WithField("driver", cfg.Store.Driver).Info("schema up to date")
			return closeStore()
		},
	}
}

// setup loads the configuration and builds the logger. Bound flags only
// take effect when set on the command line.
func setup(v *viper.Viper, configPath string) (*config.Config, *logrus.Logger, error) {
	cfg, err := config.Load(v, configPath)
	if err != nil {
		return nil, nil, err
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context, cfg config.StoreConfig) (engine.Store, func() error, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), func() error { return nil }, nil
	case config.DriverSQLite:
		st, err := sqlite.New(cfg.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to initialize database: %w", err)
		}
		return st, st.Close, nil
	case config.DriverPostgres:
		st, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := st.EnsureSchema(ctx); err != nil {
			st.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		return st, st.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
}

func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	if ctx == nil {
		ctx = context.Background()
	}
	st, closeStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.WithError(err).Warn("failed to close store")
		}
	}()

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	eng := engine.New(st, conditions.DefaultRegistry(logger.WithField("component", "conditions")), engine.Options{
		Logger:           logger,
		Registerer:       registry,
		ValidatorTimeout: cfg.Engine.ValidatorTimeout,
		LedgerTimeout:    cfg.Engine.LedgerTimeout,
		EventCache:       engine.EventCacheConfig{MaxSize: cfg.Cache.Size, TTL: cfg.Cache.TTL},
	})

	scheduler := api.NewIssuanceScheduler(eng.Requests, logger)
	scheduler.Spec = cfg.Scheduler.Spec
	scheduler.Grace = cfg.Scheduler.Grace
	scheduler.Enabled = cfg.Scheduler.Enabled
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	handler := api.NewHandler(eng, st, logger.WithField("component", "api"))
	router := api.NewRouter(handler, api.RouterOptions{
		AllowedOrigins: cfg.Server.CORSOrigins,
		Gatherer:       registry,
	})

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":   cfg.Server.Addr,
			"driver": cfg.Store.Driver,
		}).Info("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("server stopped")
	return nil
}
