package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/api"
	"github.com/JakeFAU/lurk/internal/scheduler"
)

const shutdownTimeout = 10 * time.Second

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Run searches on an interval and serve the run API",
		Long: `Runs every enabled search immediately and then every watch.interval until
interrupted. While watching, an HTTP server on server.port exposes health
checks, Prometheus metrics and the run history, and accepts requests for an
immediate run.`,
		Args: cobra.NoArgs,
		RunE: withApp(runWatchCommand),
	}
}

func runWatchCommand(cmd *cobra.Command, appInstance App) error {
	cfg := appInstance.Config()
	logger := appInstance.Logger()

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	watcher := scheduler.NewWatcher(appInstance.Scheduler(), cfg.Watch.Interval, logger)
	apiServer := api.NewServer(appInstance.Runs(), watcher, api.Config{
		APIKey:    cfg.Server.APIKey,
		ListLimit: cfg.History.Limit,
	}, logger)

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
			stop()
		}
		close(serveErr)
	}()

	logger.Info("watching", zap.Duration("interval", cfg.Watch.Interval))
	if err := watcher.Run(ctx); err != nil {
		logger.Error("watcher stopped", zap.Error(err))
	}
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	if err := <-serveErr; err != nil {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}
