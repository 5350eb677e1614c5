package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/devrev/pairdb/metastore/internal/config"
	"github.com/devrev/pairdb/metastore/internal/health"
	"github.com/devrev/pairdb/metastore/internal/metadata"
	"github.com/devrev/pairdb/metastore/internal/metrics"
	"github.com/devrev/pairdb/metastore/internal/server"
	"github.com/devrev/pairdb/metastore/internal/service"
	"github.com/devrev/pairdb/metastore/internal/store"
)

const readinessInterval = 10 * time.Second

func serve(ctx context.Context, cfg *config.Config) error {
	logger, err := newLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting PairDB metastore",
		zap.String("backend", cfg.Backend.Type),
		zap.Int("port", cfg.Server.Port),
		zap.Int("history_chunk_size", cfg.History.ChunkSize))

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.NewMetrics(registry)

	backend, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.Backend.Type, err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Warn("Failed to close store", zap.Error(err))
		}
	}()
	logger.Info("Backing store initialized", zap.String("backend", cfg.Backend.Type))

	cache := store.NewInMemoryCache(cfg.Cache.MaxSize, cfg.Cache.TTL, logger)
	helper := store.NewHelper(backend, cache, m, logger)
	engine, err := metadata.NewEngine(helper, cfg.History.ChunkSize, m, logger)
	if err != nil {
		return err
	}

	retry := service.RetryConfig{
		InitialInterval: cfg.Task.InitialBackoff,
		MaxInterval:     cfg.Task.MaxBackoff,
		MaxRetries:      uint64(cfg.Task.MaxRetries),
	}
	svc := service.NewMetadataService(engine, service.NewLoggingNotifier(logger), retry, logger)

	healthChecker := health.NewHealthChecker(map[string]health.Pinger{"backing_store": backend}, logger)
	apiServer := server.NewServer(cfg, svc, healthChecker, m, logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	go healthChecker.Run(ctx, readinessInterval)

	serverErrors := make(chan error, 3)
	go func() { serverErrors <- apiServer.Start() }()

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		mux := http.NewServeMux()
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}))
		metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Metrics.Port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("Starting metrics server", zap.String("address", metricsServer.Addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				serverErrors <- fmt.Errorf("metrics server: %w", err)
			}
		}()
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Enabled {
		listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("failed to create gRPC listener: %w", err)
		}
		grpcServer = grpc.NewServer()
		healthpb.RegisterHealthServer(grpcServer, healthChecker.GRPCServer())
		go func() {
			logger.Info("Starting gRPC health server", zap.String("address", listener.Addr().String()))
			serverErrors <- grpcServer.Serve(listener)
		}()
	}

	select {
	case err := <-serverErrors:
		if err != nil {
			logger.Error("Server error", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("Received shutdown signal")
	}

	logger.Info("Shutting down gracefully")
	healthChecker.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown incomplete", zap.Error(err))
	}
	if metricsServer != nil {
		_ = metricsServer.Shutdown(shutdownCtx)
	}
	if grpcServer != nil {
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			grpcServer.Stop()
		}
	}

	logger.Info("Shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (store.Store, error) {
	switch cfg.Backend.Type {
	case config.BackendMemory:
		logger.Warn("Using in-process store; metadata is lost on restart")
		return store.NewMemoryStore(), nil
	case config.BackendPostgres:
		db := cfg.Database
		return store.NewPostgresStore(db.Host, db.Port, db.Database, db.User, db.Password,
			db.MaxConnections, db.MinConnections, logger)
	case config.BackendRedis:
		r := cfg.Redis
		return store.NewRedisStore(r.Host, r.Port, r.Password, r.DB, r.KeyPrefix, logger)
	case config.BackendBolt:
		return store.NewBoltStore(cfg.Bolt.Path, cfg.Bolt.OpenTimeout, logger)
	default:
		return nil, fmt.Errorf("unknown backend %q", cfg.Backend.Type)
	}
}

func newLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	return zc.Build()
}
