package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/asset-forge/internal/api/handler"
	"github.com/cuongbtq/asset-forge/internal/api/router"
	"github.com/cuongbtq/asset-forge/internal/config"
	"github.com/cuongbtq/asset-forge/internal/domain"
	"github.com/cuongbtq/asset-forge/internal/embedding"
	"github.com/cuongbtq/asset-forge/internal/events"
	"github.com/cuongbtq/asset-forge/internal/filestore"
	"github.com/cuongbtq/asset-forge/internal/orchestrator"
	"github.com/cuongbtq/asset-forge/internal/queue"
	"github.com/cuongbtq/asset-forge/internal/reconciler"
	"github.com/cuongbtq/asset-forge/internal/search"
	"github.com/cuongbtq/asset-forge/internal/store/postgres"
	"github.com/cuongbtq/asset-forge/internal/usage"
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
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := initLogger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize PostgreSQL client
	dbClient, err := initPostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer dbClient.Close()

	appLogger.Info("Database connection established", slog.String("pool", dbClient.Stats()))

	store := postgres.NewStore(dbClient.GetDB(), appLogger.Logger)
	if cfg.Database.EnsureSchema {
		if err := store.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}

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

	files, localDir, err := initFileStore(ctx, &cfg.Storage)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	encoder, err := initEmbedding(&cfg.Embedding, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize embedding: %w", err)
	}
	warmupCtx, cancelWarmup := context.WithTimeout(ctx, cfg.Embedding.Timeout)
	if err := encoder.Warmup(warmupCtx); err != nil {
		appLogger.Warn("Embedding warm-up failed, model loads on first search", slog.Any("error", err))
	}
	cancelWarmup()

	// Fail whatever a previous process left in flight
	rec := reconciler.New(store, reconciler.Config{
		SweepInterval: cfg.Reconciler.SweepInterval,
		StaleAfter:    cfg.Reconciler.StaleAfter,
	}, appLogger.Logger)
	if _, err := rec.Run(ctx); err != nil {
		appLogger.Warn("Continuing startup without reconciliation")
	}
	go rec.Start(ctx)

	assets := orchestrator.NewService(store, publisher, files, appLogger.Logger)
	engine := search.NewEngine(store, encoder, appLogger.Logger)

	// Initialize router
	r := initRouter(cfg, &handler.Dependencies{
		Logger:          appLogger.Logger,
		Assets:          assets,
		Search:          engine,
		Broadcaster:     broadcaster,
		Files:           files,
		MaxUploadBytes:  cfg.Server.MaxUploadBytes,
		StreamKeepAlive: cfg.Server.StreamKeepAlive,
		ServiceName:     cfg.App.Name,
		LocalFilesDir:   localDir,
		Usage:           usage.NewRedisCounter(broadcaster.Redis(), appLogger.Logger),
		HealthChecks: []handler.HealthCheck{
			{Name: "database", Check: dbClient.HealthCheck},
			{Name: "redis", Check: broadcaster.Ping},
			{Name: "rabbitmq", Check: func(context.Context) error {
				if !rabbitClient.IsConnected() {
					return rabbitmq.ErrNotConnected
				}
				return nil
			}},
		},
		LocalFilesURLPath: cfg.Storage.Local.URLPath,
	})

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	appLogger.Info("API service is running", slog.String("address", addr))

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		return fmt.Errorf("server failed: %w", err)
	}

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("Server forced to shutdown", slog.Any("error", err))
		return err
	}

	appLogger.Info("Server shutdown complete")
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

// initFileStore opens the configured storage backend. The returned directory
// is set only for local storage, which the API serves itself.
func initFileStore(ctx context.Context, cfg *config.StorageConfig) (domain.FileStore, string, error) {
	if cfg.Backend == config.StorageMinio {
		store, err := filestore.NewMinioStore(ctx, filestore.MinioConfig{
			Endpoint:      cfg.Minio.Endpoint,
			AccessKey:     cfg.Minio.AccessKey,
			SecretKey:     cfg.Minio.SecretKey,
			UseSSL:        cfg.Minio.UseSSL,
			Bucket:        cfg.Minio.Bucket,
			PresignExpiry: cfg.Minio.PresignExpiry,
		})
		return store, "", err
	}

	store, err := filestore.NewLocalStore(cfg.Local.Root, cfg.Local.PublicBaseURL)
	if err != nil {
		return nil, "", err
	}
	return store, store.Root(), nil
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

// initRouter initializes the Gin router with all routes and middleware
func initRouter(cfg *config.Config, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if cfg.App.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
