package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pitabwire/fieldadmin/internal/config"
	"github.com/pitabwire/fieldadmin/internal/observability"
	"github.com/pitabwire/fieldadmin/internal/store"
	"github.com/pitabwire/fieldadmin/internal/transport"
)

func newServeCommand(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the admin HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := g.load()
			if err != nil {
				return err
			}
			logger, err := observability.NewLogger(cfg.Observability)
			if err != nil {
				return fmt.Errorf("logger error: %w", err)
			}
			defer logger.Sync()
			return serve(cmd.Context(), cfg, logger, prometheus.NewRegistry())
		},
	}
}

// serve runs the HTTP server until ctx is cancelled, then drains in-flight
// requests and releases every dependency.
func serve(ctx context.Context, cfg *config.Config, logger *zap.Logger, reg *prometheus.Registry) error {
	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "fieldadmin", version)
	if err != nil {
		return fmt.Errorf("tracing initialization failed: %w", err)
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(reg)
	}

	b, err := buildBackend(ctx, cfg, logger, metrics)
	if err != nil {
		return err
	}
	defer b.close()

	sessions := store.NewSessions(0, store.WithMetrics(metrics), store.WithLogger(logger))
	router := transport.NewRouter(transport.Dependencies{
		Config:    cfg,
		Service:   b.service(sessions),
		Logger:    logger,
		Metrics:   metrics,
		Gatherer:  reg,
		Readiness: b.readiness(),
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.String("remote", cfg.Remote.BaseURL),
		zap.Int("operations", b.index.Len()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			logger.Error("server error", zap.Error(err))
			return err
		}
	}

	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return nil
}
