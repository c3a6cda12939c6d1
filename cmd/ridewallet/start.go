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

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ent0n29/ridewallet/internal/app"
	"github.com/ent0n29/ridewallet/internal/config"
	"github.com/ent0n29/ridewallet/internal/observability"
)

func newStartCmd() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the agent worker HTTP and websocket server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStart(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading configuration")
	return cmd
}

func runStart(parent context.Context, envFile string) error {
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("load %s: %w", envFile, err)
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config error: %w", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("logger init failed: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if parent == nil {
		parent = context.Background()
	}
	built, err := buildWithTimeout(parent, cfg, logger)
	if err != nil {
		logger.Error("initialization failed", zap.Error(err))
		return err
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			logger.Warn("cleanup failed", zap.Error(err))
		}
	}()

	httpServer := &http.Server{
		Addr:              cfg.BindAddr,
		Handler:           built.API.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	runCtx, runCancel := context.WithCancel(parent)
	defer runCancel()
	built.Sessions.StartJanitor(runCtx, 5*time.Second)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", cfg.BindAddr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err, ok := <-serveErr:
		if ok && err != nil {
			return fmt.Errorf("listen error: %w", err)
		}
	}

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		_ = httpServer.Close()
	}

	logger.Info("shutdown complete")
	return nil
}

// buildApp is replaced in tests to stall or fail initialization.
var buildApp = app.Build

// buildWithTimeout fails when initialization does not finish within
// cfg.InitTimeout.
func buildWithTimeout(parent context.Context, cfg config.Config, logger *zap.Logger) (*app.BuildResult, error) {
	ctx, cancel := context.WithTimeout(parent, cfg.InitTimeout)
	defer cancel()

	type result struct {
		built *app.BuildResult
		err   error
	}
	done := make(chan result, 1)
	go func() {
		built, err := buildApp(ctx, cfg, app.Options{Logger: logger})
		done <- result{built: built, err: err}
	}()

	select {
	case r := <-done:
		return r.built, r.err
	case <-ctx.Done():
		// A late Build still owns resources; release them when it returns.
		go func() {
			if r := <-done; r.built != nil {
				_ = r.built.Cleanup()
			}
		}()
		return nil, fmt.Errorf("initialization exceeded %s", cfg.InitTimeout)
	}
}
