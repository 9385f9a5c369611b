package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/miradorstack/mirador-incident/internal/api"
	"github.com/miradorstack/mirador-incident/internal/artifacts"
	"github.com/miradorstack/mirador-incident/internal/config"
	"github.com/miradorstack/mirador-incident/internal/engine"
	"github.com/miradorstack/mirador-incident/internal/metrics"
	"github.com/miradorstack/mirador-incident/internal/patterns"
	"github.com/miradorstack/mirador-incident/internal/repo"
	"github.com/miradorstack/mirador-incident/internal/scoring"
	"github.com/miradorstack/mirador-incident/internal/services"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, gRPC and metrics listeners",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadRuntime()
	if err != nil {
		return err
	}
	logger.Info("starting mirador-incident",
		slog.String("grpc_address", cfg.Server.Address),
		slog.String("http_address", cfg.Server.HTTPAddress),
	)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, closers, err := buildService(ctx, cfg, logger)
	defer func() {
		for _, c := range closers {
			_ = c.Close()
		}
	}()
	if err != nil {
		return err
	}

	modelsLoaded := svc.Readiness(ctx).ModelsLoaded
	grpcServer, err := api.NewServer(cfg.Server, api.NewGRPCService(svc), modelsLoaded)
	if err != nil {
		return fmt.Errorf("create gRPC server: %w", err)
	}

	httpServer := &http.Server{
		Addr:         cfg.Server.HTTPAddress,
		Handler:      api.NewHTTPHandler(svc, cfg.Server, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", slog.Any("error", err))
			stop()
		}
	}()

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
		go func() {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("metrics server exited", slog.Any("error", err))
				stop()
			}
		}()
	}

	go func() {
		logger.Info("gRPC server listening", slog.String("address", grpcServer.Address()))
		if serveErr := grpcServer.Start(); serveErr != nil {
			logger.Error("gRPC server exited", slog.Any("error", serveErr))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()
	grpcServer.Shutdown(shutdownCtx)
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}

	logger.Info("mirador-incident stopped")
	return nil
}

// buildService wires the store, scorer, artifacts and engines into the facade. The returned
// closers must be closed even when err is non-nil.
func buildService(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*services.IncidentService, []io.Closer, error) {
	var closers []io.Closer

	store, err := repo.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, closers, fmt.Errorf("open store: %w", err)
	}
	closers = append(closers, store)

	artifactStore, err := artifacts.Open(cfg.Artifacts, cfg.Cache, logger)
	if err != nil {
		return nil, closers, fmt.Errorf("open artifact store: %w", err)
	}
	if c, ok := artifactStore.(io.Closer); ok {
		closers = append(closers, c)
	}

	graph, err := engine.LoadDependencyGraph(cfg.Graph.Path, logger)
	if err != nil {
		return nil, closers, fmt.Errorf("load dependency graph: %w", err)
	}

	var live repo.HealthSource
	if cfg.Prometheus.URL != "" {
		source, err := repo.NewPrometheusSource(cfg.Prometheus.URL, cfg.Prometheus.Step, cfg.Prometheus.Timeout, logger)
		if err != nil {
			logger.Warn("prometheus health source disabled", slog.Any("error", err))
		} else {
			live = source
		}
	}

	scorer := scoring.Select(ctx, cfg.Scoring, logger)
	orchestrator := engine.NewOrchestrator(logger, store, scorer, artifactStore,
		engine.ScanOptionsFromConfig(cfg.Scan, time.Now(), logger))
	blastRadius := engine.NewBlastRadiusService(logger,
		engine.NewBlastRadiusAnalyzer(graph, cfg.Graph.MaxDepth),
		live, store, artifactStore, cfg.BlastRadius.Window, cfg.BlastRadius.DemoFallback)

	svc := services.NewIncidentService(logger, services.Deps{
		Store:        store,
		Correlation:  engine.NewCorrelationEngine(store, logger),
		Orchestrator: orchestrator,
		BlastRadius:  blastRadius,
		Miner:        patterns.NewMiner(logger, store),
	}, cfg.Server.RequestTimeout)
	return svc, closers, nil
}
