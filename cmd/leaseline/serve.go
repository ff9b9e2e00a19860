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

	"github.com/spf13/cobra"

	"github.com/leaseline-dev/leaseline/internal/config"
	"github.com/leaseline-dev/leaseline/internal/server"
	"github.com/leaseline-dev/leaseline/internal/store"
	"github.com/leaseline-dev/leaseline/internal/store/sqlstore"
)

func serveCmd() *cobra.Command {
	var (
		addr       string
		configPath string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		Long: `Start the API server.

Configuration is read from leaseline.json in the working directory,
overridable with LEASELINE_* environment variables and flags.

Examples:
  leaseline serve
  leaseline serve --addr=:9090
  LEASELINE_DB_DRIVER=postgres LEASELINE_DB_DSN=postgres://localhost/leaseline leaseline serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(addr, configPath)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (default from leaseline.json)")
	cmd.Flags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "Path to the configuration file")

	return cmd
}

func runServe(addr, configPath string) error {
	cfg, err := config.LoadFrom(configPath)
	if err != nil {
		return err
	}
	if addr != "" {
		cfg.Addr = addr
	}

	logger := newLogger(cfg.Log)

	st, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	var metrics *server.Metrics
	if cfg.Metrics.Enabled {
		metrics = server.NewMetrics()
	}

	api := server.New(server.Config{
		Store:   st,
		Logger:  logger,
		Metrics: metrics,
		Tracing: cfg.Tracing,
	})
	defer api.Close()

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Addr, "driver", cfg.Database.Driver)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(ctx)
}

func openStore(cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case "sqlite":
		return sqlstore.OpenSQLite(cfg.Database.DSN, logger)
	case "postgres":
		return sqlstore.OpenPostgres(cfg.Database.DSN, logger)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}
