package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/cuongbtq/asset-forge/internal/config"
	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/embedding"
	"github.com/cuongbtq/asset-forge/internal/events"
	"github.com/cuongbtq/asset-forge/internal/filestore"
	"github.com/cuongbtq/asset-forge/internal/generation/mock"
	"github.com/cuongbtq/asset-forge/internal/generation/ollama"
	"github.com/cuongbtq/asset-forge/internal/generation/vertex"
	"github.com/cuongbtq/asset-forge/internal/indexer"
	"github.com/cuongbtq/asset-forge/internal/queue"
	"github.com/cuongbtq/asset-forge/internal/store/postgres"
	"github.com/cuongbtq/asset-forge/internal/usage"
	"github.com/cuongbtq/asset-forge/internal/worker"
	"github.com/cuongbtq/asset-forge/shared/logger"
	"github.com/cuongbtq/asset-forge/shared/postgresql"
	"github.com/cuongbtq/asset-forge/shared/rabbitmq"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
		slog.String("generation_backend", cfg.Generation.Backend),
	)

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established", slog.String("pool", dbClient.Stats()))

	store := postgres.NewStore(dbClient.GetDB(), appLogger.Logger)
	directWriter := postgres.NewDirectWriter(dbClient.GetDB(), cfg.Database.FallbackTimeout, appLogger.Logger)

	// Initialize event broadcaster
	broadcaster := events.NewRedisBroadcaster(cfg.Redis.URL, cfg.Redis.PublishTimeout, appLogger.Logger)
	if err := broadcaster.Connect(ctx); err != nil {
		return fmt.Errorf("failed to initialize redis: %w", err)
	}
	defer broadcaster.Close()

	// Initialize RabbitMQ client
	rabbitClient, err := initRabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}
	defer rabbitClient.Close()

	appLogger.Info("RabbitMQ connection established")

	publisher := queue.NewPublisher(rabbitClient, queue.RoutingKeys{
		Generation: cfg.RabbitMQ.Queues.Generation.RoutingKey,
		Indexing:   cfg.RabbitMQ.Queues.Indexing.RoutingKey,
	}, appLogger.Logger)

	files, err := initFileStore(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	// Provider call counters, read back by the API's stats endpoint
	counter := usage.NewRedisCounter(broadcaster.Redis(), appLogger.Logger)

	generator, describer, err := initGeneration(ctx, &cfg.Generation, counter, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize generation backend: %w", err)
	}

	encoder, err := initEmbedding(&cfg.Embedding, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding: %w", err)
	}
	warmupCtx, cancelWarmup := context.WithTimeout(ctx, cfg.Embedding.Timeout)
	if err := encoder.Warmup(warmupCtx); err != nil {
		appLogger.Warn("Embedding warm-up failed, model loads on first index", slog.Any("error", err))
	}
	cancelWarmup()

	finalizer := worker.NewFinalizer(store, directWriter, files, broadcaster, appLogger.Logger)
	executor := worker.NewExecutor(store, generator, files, finalizer, publisher, worker.ExecutorConfig{
		MaxRetries: cfg.Worker.MaxRetries,
		JobTimeout: cfg.Worker.JobTimeout,
	}, appLogger.Logger)
	idx := indexer.New(store, files, describer, encoder, cfg.Indexer.MaxFileBytes, appLogger.Logger)

	workers := []*worker.Worker{
		worker.NewWorker(&worker.Config{
			Name:        "generation",
			Queue:       cfg.RabbitMQ.Queues.Generation.Name,
			Concurrency: cfg.Worker.Concurrency,
			Source:      rabbitClient,
			Handler:     worker.NewGenerationHandler(executor, appLogger.Logger),
			Logger:      appLogger.Logger,
		}),
		worker.NewWorker(&worker.Config{
			Name:        "indexing",
			Queue:       cfg.RabbitMQ.Queues.Indexing.Name,
			Concurrency: cfg.Worker.IndexingConcurrency,
			Source:      rabbitClient,
			Handler:     worker.NewIndexHandler(idx, publisher, cfg.Indexer.MaxRetries, appLogger.Logger),
			Logger:      appLogger.Logger,
		}),
	}

	// Start workers in goroutines
	errChan := make(chan error, len(workers))
	for _, w := range workers {
		go func(w *worker.Worker) {
			if err := w.Start(ctx); err != nil {
				errChan <- err
			}
		}(w)
	}

	appLogger.Info("Worker service started successfully")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		return err
	}

	// Cancel context to stop workers
	cancel()

	// Give workers time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		var wg sync.WaitGroup
		for _, w := range workers {
			wg.Add(1)
			go func(w *worker.Worker) {
				defer wg.Done()
				w.Stop()
			}(w)
		}
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Workers stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// initLogger initializes and configures the application logger
func initLogger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		Service:      service,
	}

	return logger.New(loggerCfg)
}

// initPostgreSQL initializes the PostgreSQL database client
func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// initRabbitMQ initializes the RabbitMQ client and declares both work queues
func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	rabbitConfig := &rabbitmq.Config{
		Host:         cfg.Host,
		Port:         cfg.Port,
		User:         cfg.User,
		Password:     cfg.Password,
		VHost:        cfg.VHost,
		ExchangeName: cfg.Exchange.Name,
		ExchangeType: cfg.Exchange.Type,
		Queues: []rabbitmq.QueueConfig{
			{Name: cfg.Queues.Generation.Name, RoutingKey: cfg.Queues.Generation.RoutingKey},
			{Name: cfg.Queues.Indexing.Name, RoutingKey: cfg.Queues.Indexing.RoutingKey},
		},
		Prefetch:          cfg.Consumer.PrefetchCount,
		RetryAttempts:     cfg.Connection.RetryAttempts,
		RetryInterval:     cfg.Connection.RetryInterval,
		Heartbeat:         cfg.Connection.Heartbeat,
		PublishRetries:    cfg.Publish.RetryAttempts,
		PublishRetryDelay: cfg.Publish.RetryInterval,
	}

	return rabbitmq.NewClient(rabbitConfig, logger)
}

// initFileStore opens the configured storage backend
func initFileStore(ctx context.Context, cfg *config.StorageConfig) (domain.FileStore, error) {
	if cfg.Backend == config.StorageMinio {
		return filestore.NewMinioStore(ctx, filestore.MinioConfig{
			Endpoint:      cfg.Minio.Endpoint,
			AccessKey:     cfg.Minio.AccessKey,
			SecretKey:     cfg.Minio.SecretKey,
			UseSSL:        cfg.Minio.UseSSL,
			Bucket:        cfg.Minio.Bucket,
			PresignExpiry: cfg.Minio.PresignExpiry,
		})
	}
	return filestore.NewLocalStore(cfg.Local.Root, cfg.Local.PublicBaseURL)
}

// initGeneration picks the generator and describer. The ollama backend
// describes with a local vision model and generates placeholder media.
func initGeneration(ctx context.Context, cfg *config.GenerationConfig, tracker domain.RequestTracker, logger *slog.Logger) (domain.Generator, domain.Describer, error) {
	switch cfg.Backend {
	case config.GenerationVertex:
		client, err := vertex.NewClient(ctx, vertex.Config{
			ProjectID:     cfg.Vertex.ProjectID,
			Region:        cfg.Vertex.Region,
			ImageModel:    cfg.Vertex.ImageModel,
			VideoModel:    cfg.Vertex.VideoModel,
			DescribeModel: cfg.Vertex.DescribeModel,
			PollInterval:  cfg.Vertex.PollInterval,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		client.WithTracker(tracker)
		return client, client, nil

	case config.GenerationOllama:
		describer, err := ollama.NewDescriber(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.Timeout)
		if err != nil {
			return nil, nil, err
		}
		return mock.New(0), describer, nil

	default:
		backend := mock.New(0)
		return backend, backend, nil
	}
}

// initEmbedding builds the shared text encoder
func initEmbedding(cfg *config.EmbeddingConfig, logger *slog.Logger) (*embedding.Service, error) {
	backend, err := embedding.NewOllamaBackend(cfg.BaseURL, cfg.Model, cfg.Timeout)
	if err != nil {
		return nil, err
	}
	return embedding.NewService(backend, embedding.Config{
		Dimension:   cfg.Dimension,
		Concurrency: cfg.Concurrency,
	}, logger), nil
}
