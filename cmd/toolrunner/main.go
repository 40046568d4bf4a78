package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/cortexhub/cortex-toolrunner/internal/capability/builtin"
	"github.com/cortexhub/cortex-toolrunner/internal/config"
	"github.com/cortexhub/cortex-toolrunner/internal/gate"
	"github.com/cortexhub/cortex-toolrunner/internal/logging"
	"github.com/cortexhub/cortex-toolrunner/internal/metrics"
	"github.com/cortexhub/cortex-toolrunner/internal/payload"
	"github.com/cortexhub/cortex-toolrunner/internal/ratelimit"
	"github.com/cortexhub/cortex-toolrunner/internal/registry"
	"github.com/cortexhub/cortex-toolrunner/internal/scheduler"
	"github.com/cortexhub/cortex-toolrunner/internal/scope"
	"github.com/cortexhub/cortex-toolrunner/internal/server"
	"github.com/cortexhub/cortex-toolrunner/internal/task"
)

const version = "1.0.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	logger := logging.WithComponent("main")

	logger.Info("Starting Cortex-Toolrunner", "version", version)

	// Load configuration. A missing file is fine; defaults carry the
	// runtime.
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.Info("No config file found, using defaults", "path", *configPath)
			cfg = config.Default()
		} else {
			logger.Error("Failed to load config", "error", err)
			os.Exit(1)
		}
	} else {
		logger.Info("Configuration loaded successfully", "path", *configPath)
	}

	if err := cfg.Validate(); err != nil {
		logger.Error("Invalid config", "error", err)
		os.Exit(1)
	}

	logging.SetLevel(cfg.Logging.Level)

	// Metrics registry and collectors
	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promReg)
	metricsHandler := promhttp.HandlerFor(promReg, promhttp.HandlerOpts{})

	// Rate-limit counter store: Redis when configured, in-process otherwise
	var store ratelimit.Store
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			logger.Error("Redis connection failed", "addr", cfg.Redis.Addr, "error", err)
		} else {
			logger.Info("Redis connected", "addr", cfg.Redis.Addr)
		}
		cancel()
		store = ratelimit.NewRedisStore(rdb)
	} else {
		store = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(store, cfg.RateLimit.PerMinute, cfg.RateLimit.PerHour)

	// Scope requirements and per-capability timeouts from config
	required := make(map[string]string)
	timeouts := make(map[string]time.Duration)
	for _, c := range cfg.Capabilities {
		if c.Scope != "" {
			required[c.Name] = c.Scope
		}
		if d := c.GetTimeout(); d > 0 {
			timeouts[c.Name] = d
		}
	}

	gateway := gate.New(payload.Limits{
		MaxBytes:        cfg.Limits.MaxPayloadKB * 1024,
		MaxDepth:        cfg.Limits.MaxDepth,
		MaxStringLength: cfg.Limits.MaxStringLength,
		MaxArrayLength:  cfg.Limits.MaxArrayLength,
		MaxKeyLength:    cfg.Limits.MaxKeyLength,
	}, scope.NewAuthorizer(required), limiter, m, logging.WithComponent("gate"))

	// Capability registry with the builtin pack
	reg := registry.New(m)
	builtin.Register(reg)
	logger.Info("Capabilities registered", "count", len(reg.Discover()))

	// Task manager and worker pool
	manager := task.NewManager(cfg.Tasks.GetTTL(), m, logging.WithComponent("task"))
	executor := task.NewExecutor(manager, reg, m, logging.WithComponent("executor"), task.ExecutorOptions{
		Workers:        cfg.Tasks.Workers,
		QueueSize:      cfg.Tasks.QueueSize,
		DefaultTimeout: cfg.Tasks.GetDefaultTimeout(),
		Timeouts:       timeouts,
	})
	ctx, cancelWorkers := context.WithCancel(context.Background())
	executor.Start(ctx)
	logger.Info("Worker pool started", "workers", cfg.Tasks.Workers)

	// TTL sweep scheduler
	sched, err := scheduler.New(manager, cfg.Tasks.SweepSchedule, logging.WithComponent("scheduler"))
	if err != nil {
		logger.Error("Invalid sweep schedule", "schedule", cfg.Tasks.SweepSchedule, "error", err)
		os.Exit(1)
	}
	sched.Start()
	logger.Info("Scheduler started", "schedule", cfg.Tasks.SweepSchedule)

	// Create HTTP server
	srv := server.New(cfg, gateway, reg, manager, executor, m, metricsHandler, logging.WithComponent("server"))

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Error("Server error", "error", err)
		}
	}()

	logger.Info("Server listening", "host", cfg.Server.Host, "port", cfg.Server.Port)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	logger.Info("Stopping HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", "error", err)
	}

	logger.Info("Stopping worker pool")
	cancelWorkers()
	executor.Stop()

	logger.Info("Stopping scheduler")
	sched.Stop()

	if rdb != nil {
		logger.Info("Closing Redis")
		if err := rdb.Close(); err != nil {
			logger.Error("Redis close error", "error", err)
		}
	}

	logger.Info("Shutdown complete")
}
