package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ramiqadoumi/go-task-pool/internal/cache"
	"github.com/ramiqadoumi/go-task-pool/internal/domain"
	"github.com/ramiqadoumi/go-task-pool/internal/kafka"
	"github.com/ramiqadoumi/go-task-pool/internal/store"
	"github.com/ramiqadoumi/go-task-pool/internal/version"
	"github.com/ramiqadoumi/go-task-pool/pkg/telemetry"
	"github.com/ramiqadoumi/go-task-pool/services/manager"
	"github.com/ramiqadoumi/go-task-pool/services/manager/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the manager: worker pool, queue, and HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("http-addr", ":8080", "HTTP API listen address")
	serveCmd.Flags().String("metrics-addr", ":9095", "Prometheus metrics server address")
	serveCmd.Flags().String("worker-bin", "./worker", "path to the worker binary")
	serveCmd.Flags().Int("pool-size", 4, "initial number of worker processes")
	serveCmd.Flags().String("store-path", "data/taskpool-state.json", "queue state file path")
	serveCmd.Flags().String("otel-endpoint", "", "OTLP HTTP endpoint for tracing (e.g. localhost:4318); empty disables tracing")

	bindFlag("http_addr", serveCmd.Flags(), "http-addr")
	bindFlag("metrics_addr", serveCmd.Flags(), "metrics-addr")
	bindFlag("worker_bin", serveCmd.Flags(), "worker-bin")
	bindFlag("pool_size", serveCmd.Flags(), "pool-size")
	bindFlag("store_path", serveCmd.Flags(), "store-path")
	bindFlag("otel_endpoint", serveCmd.Flags(), "otel-endpoint")
	_ = viper.BindEnv("otel_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg := config.Load(viper.GetViper())
	logger := buildLogger(cfg.LogLevel, "manager")
	logger.Info("manager starting", slog.String("version", version.String()))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), "manager", cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("tracer: %w", err)
	}
	defer shutdownTracer()

	// ── durable store ─────────────────────────────────────────────────────────
	var backing store.Store
	switch cfg.StoreBackend {
	case "postgres":
		initCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		pool, err := store.NewPool(initCtx, cfg.PostgresDSN)
		if err != nil {
			cancel()
			return fmt.Errorf("postgres: %w", err)
		}
		pg := store.NewPostgres(pool)
		if err := pg.Migrate(initCtx); err != nil {
			cancel()
			return fmt.Errorf("postgres migrate: %w", err)
		}
		cancel()
		defer pool.Close()
		backing = pg
	case "", "file":
		backing = store.NewFile(cfg.StorePath)
	default:
		return fmt.Errorf("unknown store_backend %q", cfg.StoreBackend)
	}
	st := store.NewDebouncer(backing, cfg.PersistDebounce, logger)

	// ── result cache ──────────────────────────────────────────────────────────
	var results cache.Cache
	switch cfg.CacheBackend {
	case "redis":
		client := cache.NewClient(cfg.RedisAddr)
		defer func() { _ = client.Close() }()
		results = cache.NewRedis(client, cfg.CacheTTL)
	case "", "memory":
		results = cache.NewMemory(cfg.CacheTTL)
	default:
		return fmt.Errorf("unknown cache_backend %q", cfg.CacheBackend)
	}

	// ── manager ───────────────────────────────────────────────────────────────
	launcher := &manager.ExecLauncher{Bin: cfg.WorkerBin}
	opts := managerOptions(cfg, logger)

	var dlqProducer kafka.Producer
	if cfg.KafkaBrokers != "" && cfg.KafkaDLQTopic != "" {
		dlqProducer = kafka.NewProducer(strings.Split(cfg.KafkaBrokers, ","))
		defer func() { _ = dlqProducer.Close() }()
		opts = append(opts, manager.WithDeadLetterProducer(dlqProducer, cfg.KafkaDLQTopic))
	}

	mgr, err := manager.New(st, results, launcher, opts...)
	if err != nil {
		return fmt.Errorf("manager: %w", err)
	}

	// ── signal handling ───────────────────────────────────────────────────────
	runCtx, runCancel := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer runCancel()

	// ── Prometheus metrics ────────────────────────────────────────────────────
	telemetry.StartMetricsServer(runCtx, cfg.MetricsAddr, logger)

	// ── HTTP API ──────────────────────────────────────────────────────────────
	api := manager.NewAPI(mgr, logger)
	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      api.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // wait=true submissions block until completion
		IdleTimeout:  60 * time.Second,
	}
	go func() {
		logger.Info("manager HTTP starting", slog.String("addr", httpSrv.Addr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}()

	// ── Kafka ingestion bridge ────────────────────────────────────────────────
	if cfg.KafkaBrokers != "" && cfg.KafkaTopic != "" {
		groupID := cfg.KafkaGroupID
		if groupID == "" {
			groupID = "taskpool-manager"
		}
		consumer := kafka.NewConsumer(strings.Split(cfg.KafkaBrokers, ","), cfg.KafkaTopic, groupID, logger)
		defer func() { _ = consumer.Close() }()
		bridge := manager.NewBridge(consumer, mgr, logger)
		go func() {
			logger.Info("kafka bridge starting", slog.String("topic", cfg.KafkaTopic))
			if err := bridge.Run(runCtx); err != nil {
				logger.Error("kafka bridge stopped", slog.String("error", err.Error()))
			}
		}()
	}

	// ── recurring jobs ────────────────────────────────────────────────────────
	if len(cfg.Recurring) > 0 {
		jobs := make([]manager.RecurringJob, 0, len(cfg.Recurring))
		for _, j := range cfg.Recurring {
			jobs = append(jobs, manager.RecurringJob{
				Name:     j.Name,
				Spec:     j.Spec,
				Priority: domain.Priority(j.Priority),
				Payload:  json.RawMessage(j.Payload),
			})
		}
		runner, err := manager.NewRecurringRunner(mgr, jobs, logger)
		if err != nil {
			return fmt.Errorf("recurring jobs: %w", err)
		}
		go runner.Run(runCtx)
	}

	// Blocks until SIGTERM/SIGINT, then drains the pool and flushes state.
	runErr := mgr.Run(runCtx)

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutCancel()
	if err := httpSrv.Shutdown(shutCtx); err != nil {
		logger.Error("HTTP shutdown error", slog.String("error", err.Error()))
	}

	logger.Info("stopped")
	return runErr
}

func managerOptions(cfg config.Config, logger *slog.Logger) []manager.Option {
	opts := []manager.Option{manager.WithLogger(logger)}
	if cfg.PoolSize > 0 {
		opts = append(opts, manager.WithPoolSize(cfg.PoolSize))
	}
	if cfg.MinWorkers > 0 && cfg.MaxWorkers > 0 {
		opts = append(opts, manager.WithWorkerBounds(cfg.MinWorkers, cfg.MaxWorkers))
	}
	if cfg.MaxRestarts > 0 {
		opts = append(opts, manager.WithMaxRestarts(cfg.MaxRestarts))
	}
	if cfg.MaxRetries > 0 {
		opts = append(opts, manager.WithMaxRetries(cfg.MaxRetries))
	}
	if cfg.RetryBaseDelay > 0 && cfg.RetryMaxDelay > 0 {
		opts = append(opts, manager.WithRetryBackoff(cfg.RetryBaseDelay, cfg.RetryMaxDelay))
	}
	if cfg.SweepInterval > 0 {
		opts = append(opts, manager.WithSweepInterval(cfg.SweepInterval))
	}
	if cfg.HealthInterval > 0 && cfg.HealthTimeout > 0 && cfg.HealthThreshold > 0 {
		opts = append(opts, manager.WithHealthCheck(cfg.HealthInterval, cfg.HealthTimeout, cfg.HealthThreshold))
	}
	if cfg.ScaleInterval > 0 && cfg.ScaleUpLoad > cfg.ScaleDownLoad {
		opts = append(opts, manager.WithAutoscale(cfg.ScaleInterval, cfg.ScaleDownLoad, cfg.ScaleUpLoad))
	}
	if cfg.ShutdownTimeout > 0 {
		opts = append(opts, manager.WithShutdownTimeout(cfg.ShutdownTimeout))
	}
	return opts
}
