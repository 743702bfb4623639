package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sagaflow/sagaflow/config"
	"github.com/sagaflow/sagaflow/pkg/api"
	"github.com/sagaflow/sagaflow/pkg/api/handlers"
	"github.com/sagaflow/sagaflow/pkg/logger"
	"github.com/sagaflow/sagaflow/pkg/metrics"
	"github.com/sagaflow/sagaflow/pkg/saga"
	"github.com/sagaflow/sagaflow/pkg/telemetry/tracing"
	"github.com/sagaflow/sagaflow/pkg/version"
)

var (
	configPath  = flag.String("config", "", "Path to configuration file")
	versionFlag = flag.Bool("version", false, "Print version information")
	helpFlag    = flag.Bool("help", false, "Print help information")

	// CLI overrides
	appName    = flag.String("app-name", "", "Override app name")
	serverPort = flag.Int("port", 0, "Override server port")
	logLevel   = flag.String("log-level", "", "Override log level")
	storeType  = flag.String("store", "", "Override storage backend (memory, badger, redis)")
	debugMode  = flag.Bool("debug", false, "Enable debug mode")
	demoMode   = flag.Bool("demo", false, "Register the built-in order-processing demo saga")
)

func main() {
	flag.Parse()

	if *helpFlag {
		printHelp()
		os.Exit(0)
	}
	if *versionFlag {
		printVersion()
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, buildOverrides())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration:\n%s\n", err)
		os.Exit(1)
	}

	logCfg := &logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}
	if cfg.App.Debug || *debugMode {
		logCfg.Level = logger.DebugLevel
	}
	log := logger.New(logCfg)
	logger.SetGlobal(log)

	log.Info("Starting SagaFlow",
		"version", version.String(),
		"buildTime", version.BuildTime,
		"app", cfg.App.Name,
		"environment", cfg.App.Environment,
	)
	log.Debug("Configuration loaded", "config", cfg.String())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := tracing.Init(ctx, cfg.Tracing, cfg.App.Name, version.Version)
	if err != nil {
		log.Error("Failed to initialize tracing", "error", err)
		os.Exit(1)
	}

	store, closeStore, err := openStateStore(cfg, log)
	if err != nil {
		log.Error("Failed to initialize state store", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Error("Error closing state store", "error", err)
		}
	}()

	metricsManager := metrics.NewManager(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Path:    cfg.Metrics.Path,
	})

	registry := saga.NewRegistry()
	if *demoMode {
		if err := registerDemoDefinitions(registry, log); err != nil {
			log.Error("Failed to register demo definitions", "error", err)
			os.Exit(1)
		}
	}

	wsHandler := handlers.NewWebSocketHandler(log, handlers.WebSocketConfig{})

	orchestratorOpts := []saga.Option{
		saga.WithStateStore(store),
		saga.WithLogger(log),
		saga.WithSink(wsHandler.Sink()),
		saga.WithMaxConcurrent(cfg.Saga.MaxConcurrent),
		saga.WithHistorySize(cfg.Saga.HistorySize),
		saga.WithSagaTimeout(cfg.Saga.Timeout),
	}
	if metricsManager.Enabled() {
		orchestratorOpts = append(orchestratorOpts, saga.WithMetrics(metricsManager))
	}
	orchestrator := saga.NewOrchestrator(registry, orchestratorOpts...)

	if *configPath != "" {
		startConfigWatcher(ctx, *configPath, cfg, log)
	}

	recoveryManager := saga.NewRecoveryManager(orchestrator, store, log)
	if cfg.Saga.RecoverOnStart {
		result, err := recoveryManager.RecoverAll(ctx)
		if err != nil {
			log.Error("Startup recovery sweep failed", "error", err)
		} else {
			log.Info("Startup recovery sweep finished",
				"recovered", len(result.Recovered),
				"skipped", len(result.Skipped),
				"failed", len(result.Failed),
			)
		}
	}

	httpServer := api.NewHTTPServer(cfg, log, &api.Handlers{
		Saga:           handlers.NewSagaHandler(orchestrator, store, recoveryManager, log),
		Health:         handlers.NewHealthHandler(orchestrator, store),
		Events:         wsHandler,
		MetricsHandler: metricsManager.Handler(),
		Metrics:        metricsManager,
	})

	serverErrChan := make(chan error, 1)
	go func() {
		if err := httpServer.Start(); err != nil {
			serverErrChan <- err
		}
	}()

	log.Info("SagaFlow is running",
		"http_addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"storage", cfg.Storage.Type,
		"metrics_enabled", cfg.Metrics.Enabled,
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info("Received shutdown signal", "signal", sig)
	case err := <-serverErrChan:
		log.Error("HTTP server error", "error", err)
	case <-ctx.Done():
		log.Info("Context cancelled")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("Error shutting down HTTP server", "error", err)
	}
	wsHandler.Close()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("Error shutting down tracing", "error", err)
	}

	log.Info("SagaFlow stopped gracefully")
}

// startConfigWatcher hot-reloads the log level when the config file changes.
// Other settings require a restart.
func startConfigWatcher(ctx context.Context, path string, cfg *config.Config, log logger.Logger) {
	watcher, err := config.NewWatcher(path, config.NewLoader())
	if err != nil {
		log.Warn("Config watcher unavailable", "error", err)
		return
	}

	var mu sync.Mutex
	current := config.ExtractHotReloadable(cfg)
	watcher.OnChange(func(next *config.Config) {
		mu.Lock()
		defer mu.Unlock()
		reloaded := config.ExtractHotReloadable(next)
		if !current.Changed(reloaded) {
			return
		}
		if reloaded.LogLevel != current.LogLevel {
			log.SetLevel(logger.ParseLevel(reloaded.LogLevel))
			log.Info("Log level reloaded", "level", reloaded.LogLevel)
		}
		current = reloaded
	})

	go func() {
		if err := watcher.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Warn("Config watcher stopped", "error", err)
		}
	}()
}

// openStateStore builds the snapshot store named by configuration. The
// returned close function releases backend resources; for memory and redis
// it is cheap, for badger it flushes and closes the database.
func openStateStore(cfg *config.Config, log logger.Logger) (saga.StateStore, func() error, error) {
	switch cfg.Storage.Type {
	case "badger":
		store, closeFn, err := saga.OpenBadgerStore(cfg.Storage.Badger.Path)
		if err != nil {
			return nil, nil, err
		}
		log.Info("Initialized Badger state store", "path", cfg.Storage.Badger.Path)
		return store, closeFn, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Storage.Redis.Address,
			Password: cfg.Storage.Redis.Password,
			DB:       cfg.Storage.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			return nil, nil, fmt.Errorf("ping redis at %s: %w", cfg.Storage.Redis.Address, err)
		}
		store := saga.NewRedisStore(client)
		if cfg.Storage.Redis.KeyPrefix != "" {
			store = store.WithKeyPrefix(cfg.Storage.Redis.KeyPrefix)
		}
		if cfg.Storage.Redis.TerminalTTL > 0 {
			store = store.WithTTL(cfg.Storage.Redis.TerminalTTL)
		}
		log.Info("Initialized Redis state store", "address", cfg.Storage.Redis.Address)
		return store, client.Close, nil
	case "memory", "":
		log.Info("Initialized memory state store")
		return saga.NewMemoryStore(), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage type %q", cfg.Storage.Type)
	}
}

// registerDemoDefinitions installs the order-processing saga so a fresh
// server has something to run. The steps only log; real deployments register
// their own definitions in code.
func registerDemoDefinitions(registry *saga.Registry, log logger.Logger) error {
	def, err := saga.NewDefinition("order-processing").
		AddStep("create-order",
			func(ctx context.Context, stepCtx *saga.StepContext) (map[string]any, error) {
				orderID := fmt.Sprintf("ord-%d", time.Now().UnixNano())
				log.Info("Demo: order created", "saga_id", stepCtx.SagaID, "order_id", orderID)
				return map[string]any{"order_id": orderID}, nil
			},
			saga.WithCompensation(func(ctx context.Context, compCtx *saga.CompensationContext) error {
				log.Info("Demo: order cancelled", "saga_id", compCtx.SagaID, "order_id", compCtx.Produced["order_id"])
				return nil
			}),
		).
		AddStep("reserve-inventory",
			func(ctx context.Context, stepCtx *saga.StepContext) (map[string]any, error) {
				if fail, _ := stepCtx.Data["fail_inventory"].(bool); fail {
					return nil, errors.New("insufficient inventory")
				}
				log.Info("Demo: inventory reserved", "saga_id", stepCtx.SagaID)
				return map[string]any{"reservation_id": "rsv-1"}, nil
			},
			saga.WithCompensation(func(ctx context.Context, compCtx *saga.CompensationContext) error {
				log.Info("Demo: inventory released", "saga_id", compCtx.SagaID)
				return nil
			}),
			saga.WithMaxRetries(2),
			saga.WithRetryDelay(100*time.Millisecond),
		).
		AddStep("charge-payment",
			func(ctx context.Context, stepCtx *saga.StepContext) (map[string]any, error) {
				if fail, _ := stepCtx.Data["fail_payment"].(bool); fail {
					return nil, errors.New("payment declined")
				}
				log.Info("Demo: payment charged", "saga_id", stepCtx.SagaID)
				return map[string]any{"charge_id": "ch-1"}, nil
			},
			saga.WithCompensation(func(ctx context.Context, compCtx *saga.CompensationContext) error {
				log.Info("Demo: payment refunded", "saga_id", compCtx.SagaID)
				return nil
			}),
		).
		AddStep("ship-order",
			func(ctx context.Context, stepCtx *saga.StepContext) (map[string]any, error) {
				log.Info("Demo: order shipped", "saga_id", stepCtx.SagaID)
				return map[string]any{"tracking_id": "trk-1"}, nil
			},
			saga.WithTimeout(5*time.Second),
		).
		Build()
	if err != nil {
		return err
	}
	return registry.Register(def)
}

func buildOverrides() map[string]interface{} {
	overrides := make(map[string]interface{})

	if *appName != "" {
		overrides["app.name"] = *appName
	}
	if *serverPort != 0 {
		overrides["server.port"] = *serverPort
	}
	if *logLevel != "" {
		overrides["log.level"] = *logLevel
	}
	if *storeType != "" {
		overrides["storage.type"] = *storeType
	}
	if *debugMode {
		overrides["app.debug"] = true
	}

	return overrides
}

func printVersion() {
	fmt.Printf("SagaFlow - Saga Orchestration Engine\n")
	fmt.Printf("Version:    %s\n", version.Version)
	fmt.Printf("Build Time: %s\n", version.BuildTime)
	fmt.Printf("Git Commit: %s\n", version.GitCommit)
	fmt.Printf("Go Version: %s\n", version.GoVersion)
}

func printHelp() {
	fmt.Printf("SagaFlow - Saga orchestration engine with compensation and crash recovery\n\n")
	fmt.Printf("Usage: sagaflow [options]\n\n")
	fmt.Printf("Options:\n")
	flag.PrintDefaults()
	fmt.Printf("\nExamples:\n")
	fmt.Printf("  sagaflow                                  # Run with default config\n")
	fmt.Printf("  sagaflow -config config.yaml              # Use specific config file\n")
	fmt.Printf("  sagaflow -store badger -log-level debug   # Override specific options\n")
	fmt.Printf("  sagaflow -demo                            # Register the demo saga\n")
	fmt.Printf("  sagaflow -version                         # Print version info\n")
}
