package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/akhi19-dev/incident-agent/internal/api"
	"github.com/akhi19-dev/incident-agent/internal/metrics"
	"github.com/akhi19-dev/incident-agent/internal/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the webhook ingress, health server, metrics endpoint and indexing loop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
			return err
		}
		shutdownTracing, err := tracing.Setup(ctx, cfg.Tracing, logger)
		if err != nil {
			return err
		}
		defer shutdownTracing(context.Background())

		a, err := newApp(ctx, cfg, logger)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.syncSource(ctx); err != nil {
			logger.Warn("runbook source sync failed", slog.Any("error", err))
		}

		serviceName := ""
		if cfg.Tracing.Enabled {
			serviceName = cfg.Tracing.ServiceName
		}
		var logs api.LogAnalyzer
		if a.logs != nil {
			logs = a.logs
		}
		router := api.NewRouter(logger, api.NewHandlers(a.incidentS, a.source, logs), serviceName)
		httpServer, err := api.NewHTTPServer(cfg.Server, router)
		if err != nil {
			return err
		}
		grpcServer, err := api.NewServer(cfg.Server)
		if err != nil {
			return err
		}

		var metricsServer *http.Server
		if cfg.Server.MetricsAddress != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			metricsServer = &http.Server{
				Addr:         cfg.Server.MetricsAddress,
				Handler:      mux,
				ReadTimeout:  5 * time.Second,
				WriteTimeout: 15 * time.Second,
			}
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			logger.Info("webhook server listening", slog.String("address", httpServer.Address()))
			return httpServer.Start()
		})
		g.Go(func() error {
			logger.Info("health server listening", slog.String("address", grpcServer.Address()))
			return grpcServer.Start()
		})
		if metricsServer != nil {
			g.Go(func() error {
				logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
				if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		}
		if cfg.Indexer.Enabled {
			g.Go(func() error {
				return a.indexer.Run(gctx)
			})
		}
		g.Go(func() error {
			<-gctx.Done()
			logger.Info("shutting down")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
			defer cancel()
			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.Warn("webhook server shutdown", slog.Any("error", err))
			}
			if err := a.incidentS.Shutdown(shutdownCtx); err != nil {
				logger.Warn("in-flight pipeline runs cancelled", slog.Any("error", err))
			}
			grpcServer.Shutdown(shutdownCtx)
			if metricsServer != nil {
				if err := metricsServer.Shutdown(shutdownCtx); err != nil {
					logger.Warn("metrics server shutdown", slog.Any("error", err))
				}
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			return err
		}
		logger.Info("incident-agent stopped")
		return nil
	},
}
