package main

import (
	"context"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/devrev/analysisdb/internal/config"
	"github.com/devrev/analysisdb/internal/engine"
	"github.com/devrev/analysisdb/internal/health"
	"github.com/devrev/analysisdb/internal/metrics"
	"github.com/devrev/analysisdb/internal/registry"
	"github.com/devrev/analysisdb/internal/server"
	"github.com/devrev/analysisdb/internal/service"
	"github.com/devrev/analysisdb/internal/util/workerpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Configuration loaded",
		zap.String("node_id", cfg.Server.NodeID),
		zap.Bool("gc_enabled", cfg.GC.Enabled),
		zap.Duration("gc_cooldown", cfg.GC.Cooldown),
		zap.Bool("gc_async", cfg.GC.Async))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("Analysis database failed", zap.Error(err))
	}
	logger.Info("Analysis database stopped")
}

// loadConfig reads CONFIG_PATH, falling back to defaults when the default
// path does not exist
func loadConfig() (*config.Config, error) {
	configPath := os.Getenv("CONFIG_PATH")
	explicit := configPath != ""
	if !explicit {
		configPath = "./config.yaml"
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil && !explicit && stderrors.Is(err, fs.ErrNotExist) {
		return config.Parse(nil)
	}
	return cfg, err
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	reg, err := registry.New(cfg.Database.Tables)
	if err != nil {
		return fmt.Errorf("failed to build table registry: %w", err)
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.NewMetrics(cfg.Server.NodeID, promRegistry)

	eng := engine.NewMemoryEngine(reg.IDs(), logger.Named("engine"))

	db := service.NewDatabaseService(&service.DatabaseConfig{
		MaxFileSize: cfg.Database.MaxFileSize,
	}, eng, m, logger.Named("database"))

	var pool *workerpool.Pool
	if cfg.GC.Async {
		pool = workerpool.New(workerpool.Config{
			Name:       "memo-gc",
			MaxWorkers: cfg.GC.Workers,
			QueueSize:  cfg.GC.QueueSize,
			Logger:     logger.Named("gc-pool"),
		})
		defer func() {
			if err := pool.Stop(cfg.Server.ShutdownTimeout); err != nil {
				logger.Warn("GC pool did not stop cleanly", zap.Error(err))
			}
		}()
	}

	gc := service.NewGCService(&service.GCConfig{
		Enabled:  cfg.GC.Enabled,
		Cooldown: cfg.GC.Cooldown,
		Async:    cfg.GC.Async,
	}, eng, reg, pool, m, logger.Named("gc"))

	profiler := service.NewProfilerService(eng, reg, m, logger.Named("profiler"))

	var gcSource health.GCSource
	if cfg.GC.Enabled {
		gcSource = gc
	}
	hc := health.NewHealthChecker(&health.HealthCheckConfig{
		InstanceID:          db.InstanceID(),
		MemoryPressureBytes: cfg.Debug.MemoryPressureBytes,
		GCStaleAfter:        cfg.Debug.GCStaleAfter,
	}, eng, gcSource, logger.Named("health"))

	logger.Info("Analysis database started",
		zap.String("instance_id", db.InstanceID()),
		zap.Int("tables", reg.Len()),
		zap.Uint64("revision", uint64(db.Revision())))

	g, gctx := errgroup.WithContext(ctx)

	scheduler := service.NewScheduler(cfg.GC.Interval, gc, eng, m, logger.Named("scheduler"))
	scheduler.Start(gctx)
	defer scheduler.Stop()

	g.Go(func() error {
		hc.Start(gctx)
		return nil
	})

	if cfg.Metrics.Enabled {
		ms := server.NewMetricsServer(&server.MetricsServerConfig{
			Port:               cfg.Metrics.Port,
			MetricsPath:        cfg.Metrics.Path,
			AllowMemoryProfile: cfg.Debug.AllowMemoryProfile,
		}, promRegistry, hc, profiler, logger.Named("metrics"))

		g.Go(func() error {
			return ms.Serve(gctx)
		})
	}

	<-gctx.Done()
	logger.Info("Shutting down")
	hc.SetReadiness(false)

	// A final cancellation unblocks any reader still holding a snapshot.
	done := make(chan struct{})
	go func() {
		db.RequestCancellation()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("Readers did not release the database before shutdown timeout")
	}

	return g.Wait()
}

// initLogger builds the zap logger described by the logging configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}

	zapCfg := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	zapCfg.Level = level
	return zapCfg.Build()
}
