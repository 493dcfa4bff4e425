// Conveyor API — HTTP сервис: execute trigger пользовательских endpoints
// и управление workflows, endpoints, метаданными моделей и историей runs.
//
// Использование:
//
//	conveyor-api [--config conveyor.yaml]
//
// Конфигурация: см. internal/config (переменные окружения CONVEYOR_*).
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/shaiso/Conveyor/internal/api"
	"github.com/shaiso/Conveyor/internal/cache"
	"github.com/shaiso/Conveyor/internal/config"
	"github.com/shaiso/Conveyor/internal/docstore"
	"github.com/shaiso/Conveyor/internal/files"
	"github.com/shaiso/Conveyor/internal/mq"
	"github.com/shaiso/Conveyor/internal/orchestrator"
	"github.com/shaiso/Conveyor/internal/repo"
	"github.com/shaiso/Conveyor/internal/retention"
	"github.com/shaiso/Conveyor/internal/schema"
	"github.com/shaiso/Conveyor/internal/steps"
	"github.com/shaiso/Conveyor/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger := telemetry.SetupLogger(cfg.Log.Level, cfg.Log.Format)
	logger.Info("starting conveyor-api")

	if err := run(cfg, logger); err != nil {
		logger.Error("conveyor-api failed", "error", err)
		os.Exit(1)
	}
	logger.Info("stopped")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	// PostgreSQL: control plane
	pool, err := repo.NewPool(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()
	if err := repo.Migrate(ctx, pool); err != nil {
		return err
	}
	logger.Info("connected to database")

	endpointRepo := repo.NewEndpointRepo(pool)
	workflowRepo := repo.NewWorkflowRepo(pool)
	metadataRepo := repo.NewMetadataRepo(pool)
	runRepo := repo.NewRunRepo(pool)

	dbRoutes := repo.Routes{Endpoints: endpointRepo, Workflows: workflowRepo}

	handlerCfg := api.Config{
		Workflows: workflowRepo,
		Endpoints: endpointRepo,
		Metadata:  metadataRepo,
		Runs:      runRepo,
		Routes:    dbRoutes,
		Metrics:   metrics,
		Logger:    logger,
	}
	var metadataSource schema.MetadataSource = cache.SourceFunc(metadataRepo.GetByID)

	// Redis: кэш маршрутов и метаданных (опционально)
	if cfg.Redis.Addr != "" {
		client, err := cache.NewClient(ctx, cfg.Redis.Addr)
		if err != nil {
			return err
		}
		defer client.Close()

		c := cache.New(cache.Config{Client: client, TTL: cfg.Redis.TTL, Logger: logger})
		routes := cache.NewRoutes(c, dbRoutes)
		metadata := cache.NewMetadata(c, metadataRepo)

		handlerCfg.Routes = routes
		handlerCfg.RouteCache = routes
		handlerCfg.MetadataCache = metadata
		metadataSource = metadata
		logger.Info("redis cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.TTL)
	}

	// Хранилище документов для dbOperation
	store, err := openDocstore(ctx, cfg)
	if err != nil {
		return err
	}
	defer store.Close(context.Background())

	builder := schema.NewBuilder(schema.Config{
		Store:   store,
		Source:  metadataSource,
		Metrics: metrics,
		Logger:  logger,
	})
	handlerCfg.Schemas = builder

	bucket, err := files.Open(ctx, cfg.Blob.BucketURL, cfg.Blob.Prefix)
	if err != nil {
		return err
	}
	defer bucket.Close()

	deps := steps.Dependencies{
		Models:            builder,
		Files:             bucket,
		MaxLoopIterations: cfg.Engine.MaxLoopIterations,
	}
	orchCfg := orchestrator.Config{
		Runs:        runRepo,
		MaxSteps:    cfg.Engine.MaxSteps,
		StepTimeout: cfg.Engine.StepTimeout,
		Metrics:     metrics,
		Logger:      logger,
	}

	// RabbitMQ: события runs и очередь уведомлений (опционально)
	if cfg.RabbitMQ.URL != "" {
		conn, err := mq.NewConnection(cfg.RabbitMQ.URL, logger)
		if err != nil {
			return err
		}
		defer conn.Close()
		if err := mq.SetupTopology(ctx, conn); err != nil {
			return err
		}

		publisher := mq.NewPublisher(conn, logger)
		deps.Notifier = publisher
		orchCfg.Events = publisher
		logger.Info("rabbitmq connected")
	} else {
		logger.Warn("rabbitmq is not configured: notification steps are disabled")
	}

	orchCfg.Registry = steps.DefaultRegistry(deps)
	orch := orchestrator.New(orchCfg)
	handlerCfg.Executor = orch

	if cfg.Retention.MaxAge > 0 {
		pruner, err := retention.New(retention.Config{
			Store:    runRepo,
			Schedule: cfg.Retention.Schedule,
			MaxAge:   cfg.Retention.MaxAge,
			Logger:   logger,
		})
		if err != nil {
			return err
		}
		pruner.Start(ctx)
		defer pruner.Stop()
	}

	mux := http.NewServeMux()
	api.NewHandler(handlerCfg).RegisterRoutes(mux)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.HTTP.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
	// ждём текущие runs после остановки приёма запросов
	orch.Stop()
	return nil
}

func openDocstore(ctx context.Context, cfg *config.Config) (docstore.Store, error) {
	if cfg.Docstore.Driver == config.DocstoreMemory {
		return docstore.NewMemoryStore(), nil
	}
	store, err := docstore.OpenMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
	if err != nil {
		return nil, err
	}
	return store, nil
}
