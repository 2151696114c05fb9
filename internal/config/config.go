package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535
)

// Backends selectable in the configuration
const (
	StorageLocal = "local"
	StorageMinio = "minio"

	GenerationVertex = "vertex"
	GenerationOllama = "ollama"
	GenerationMock   = "mock"
)

// Config represents the complete application configuration
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	RabbitMQ   RabbitMQConfig   `yaml:"rabbitmq"`
	Redis      RedisConfig      `yaml:"redis"`
	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Worker     WorkerConfig     `yaml:"worker"`
	Indexer    IndexerConfig    `yaml:"indexer"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Logging    LoggingConfig    `yaml:"logging"`
	App        AppConfig        `yaml:"app"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	StreamKeepAlive time.Duration `yaml:"stream_keep_alive"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	FallbackTimeout time.Duration `yaml:"fallback_timeout"`
	EnsureSchema    bool          `yaml:"ensure_schema"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queues     QueuesConfig     `yaml:"queues"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name string `yaml:"name"`
	Type string `yaml:"type"`
}

// QueuesConfig names the generation and indexing work queues
type QueuesConfig struct {
	Generation QueueConfig `yaml:"generation"`
	Indexing   QueueConfig `yaml:"indexing"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	RoutingKey string `yaml:"routing_key"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
	Heartbeat     time.Duration `yaml:"heartbeat"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryInterval time.Duration `yaml:"retry_interval"`
}

// ConsumerConfig holds RabbitMQ consumer settings
type ConsumerConfig struct {
	PrefetchCount int `yaml:"prefetch_count"`
}

// RedisConfig holds the event broadcaster connection
type RedisConfig struct {
	URL            string        `yaml:"url"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
}

// StorageConfig selects where generated files are kept
type StorageConfig struct {
	Backend string             `yaml:"backend"`
	Local   LocalStorageConfig `yaml:"local"`
	Minio   MinioStorageConfig `yaml:"minio"`
}

// LocalStorageConfig stores files on disk and serves them over HTTP
type LocalStorageConfig struct {
	Root          string `yaml:"root"`
	PublicBaseURL string `yaml:"public_base_url"`
	URLPath       string `yaml:"url_path"`
}

// MinioStorageConfig stores files in an S3 compatible bucket
type MinioStorageConfig struct {
	Endpoint      string        `yaml:"endpoint"`
	AccessKey     string        `yaml:"access_key"`
	SecretKey     string        `yaml:"secret_key"`
	UseSSL        bool          `yaml:"use_ssl"`
	Bucket        string        `yaml:"bucket"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// GenerationConfig selects the generation and description backends
type GenerationConfig struct {
	Backend string       `yaml:"backend"`
	Vertex  VertexConfig `yaml:"vertex"`
	Ollama  OllamaConfig `yaml:"ollama"`
}

// VertexConfig holds Vertex AI settings
type VertexConfig struct {
	ProjectID     string        `yaml:"project_id"`
	Region        string        `yaml:"region"`
	ImageModel    string        `yaml:"image_model"`
	VideoModel    string        `yaml:"video_model"`
	DescribeModel string        `yaml:"describe_model"`
	PollInterval  time.Duration `yaml:"poll_interval"`
}

// OllamaConfig holds the local vision model used for descriptions
type OllamaConfig struct {
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// EmbeddingConfig holds the embedding model settings
type EmbeddingConfig struct {
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension"`
	Concurrency int           `yaml:"concurrency"`
	Timeout     time.Duration `yaml:"timeout"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency         int           `yaml:"concurrency"`
	IndexingConcurrency int           `yaml:"indexing_concurrency"`
	MaxRetries          int           `yaml:"max_retries"`
	JobTimeout          time.Duration `yaml:"job_timeout"`
	ShutdownTimeout     time.Duration `yaml:"shutdown_timeout"`
}

// IndexerConfig holds metadata indexer settings
type IndexerConfig struct {
	MaxFileBytes int64 `yaml:"max_file_bytes"`
	MaxRetries   int   `yaml:"max_retries"`
}

// ReconcilerConfig holds the stale job sweep settings. A zero
// sweep_interval disables the sweep.
type ReconcilerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	StaleAfter    time.Duration `yaml:"stale_after"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// Load reads and parses the configuration file. ${VAR} references are
// expanded from the environment before parsing.
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	config := defaults()
	if err := yaml.Unmarshal([]byte(expanded), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			ReadTimeout:     15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			MaxUploadBytes:  10 << 20,
			StreamKeepAlive: 15 * time.Second,
		},
		Database: DatabaseConfig{
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			FallbackTimeout: 5 * time.Second,
		},
		RabbitMQ: RabbitMQConfig{
			Exchange: ExchangeConfig{Type: "direct"},
			Queues: QueuesConfig{
				Generation: QueueConfig{Name: "generation", RoutingKey: "generation"},
				Indexing:   QueueConfig{Name: "analysis", RoutingKey: "analysis"},
			},
			Connection: ConnectionConfig{RetryAttempts: 5, RetryInterval: 2 * time.Second, Heartbeat: 10 * time.Second},
			Publish:    PublishConfig{RetryAttempts: 3, RetryInterval: 500 * time.Millisecond},
			Consumer:   ConsumerConfig{PrefetchCount: 4},
		},
		Redis: RedisConfig{PublishTimeout: 1500 * time.Millisecond},
		Storage: StorageConfig{
			Backend: StorageLocal,
			Local:   LocalStorageConfig{Root: "storage/assets", URLPath: "/files"},
			Minio:   MinioStorageConfig{PresignExpiry: time.Hour},
		},
		Generation: GenerationConfig{
			Backend: GenerationVertex,
			Vertex:  VertexConfig{Region: "us-central1", PollInterval: 10 * time.Second},
			Ollama:  OllamaConfig{BaseURL: "http://localhost:11434", Timeout: 2 * time.Minute},
		},
		Embedding: EmbeddingConfig{
			BaseURL:     "http://localhost:11434",
			Dimension:   1024,
			Concurrency: 2,
			Timeout:     30 * time.Second,
		},
		Worker: WorkerConfig{
			Concurrency:         2,
			IndexingConcurrency: 1,
			MaxRetries:          1,
			JobTimeout:          10 * time.Minute,
			ShutdownTimeout:     30 * time.Second,
		},
		Indexer:    IndexerConfig{MaxFileBytes: 20 << 20, MaxRetries: 3},
		Reconciler: ReconcilerConfig{StaleAfter: 30 * time.Minute},
		Logging:    LoggingConfig{Level: "info", Format: "console", Output: "stdout"},
	}
}

// Validate checks the settings the API service needs
func (c *Config) Validate() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Reconciler.SweepInterval < 0 {
		return fmt.Errorf("reconciler sweep_interval must not be negative")
	}

	if c.Reconciler.SweepInterval > 0 && c.Reconciler.StaleAfter <= 0 {
		return fmt.Errorf("reconciler stale_after must be greater than 0 when the sweep is enabled")
	}

	return nil
}

// ValidateWorkerConfig checks the settings the worker service needs
func (c *Config) ValidateWorkerConfig() error {
	if err := c.validateShared(); err != nil {
		return err
	}

	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.IndexingConcurrency <= 0 {
		return fmt.Errorf("worker indexing_concurrency must be greater than 0")
	}

	if c.Worker.MaxRetries < 0 {
		return fmt.Errorf("worker max_retries must not be negative")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	if c.Indexer.MaxRetries < 0 {
		return fmt.Errorf("indexer max_retries must not be negative")
	}

	switch c.Generation.Backend {
	case GenerationVertex:
		if c.Generation.Vertex.ProjectID == "" {
			return fmt.Errorf("generation vertex project_id is required")
		}
	case GenerationOllama:
		if c.Generation.Ollama.Model == "" {
			return fmt.Errorf("generation ollama model is required")
		}
	case GenerationMock:
	default:
		return fmt.Errorf("unknown generation backend: %q", c.Generation.Backend)
	}

	return nil
}

func (c *Config) validateShared() error {
	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queues.Generation.Name == "" || c.RabbitMQ.Queues.Indexing.Name == "" {
		return fmt.Errorf("rabbitmq queue names are required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("redis url is required")
	}

	switch c.Storage.Backend {
	case StorageLocal:
		if c.Storage.Local.Root == "" {
			return fmt.Errorf("storage local root is required")
		}
	case StorageMinio:
		if c.Storage.Minio.Endpoint == "" || c.Storage.Minio.Bucket == "" {
			return fmt.Errorf("storage minio endpoint and bucket are required")
		}
	default:
		return fmt.Errorf("unknown storage backend: %q", c.Storage.Backend)
	}

	if c.Embedding.Model == "" {
		return fmt.Errorf("embedding model is required")
	}

	if c.Embedding.Dimension <= 0 {
		return fmt.Errorf("embedding dimension must be greater than 0")
	}

	return nil
}
