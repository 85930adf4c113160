package common

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Blob       BlobConfig
	Queue      QueueConfig
	Engine     EngineConfig
	Classifier ClassifierConfig
	Pipeline   PipelineConfig
}

// ServerConfig holds the HTTP boundary configuration
type ServerConfig struct {
	Addr     string `envconfig:"HTTP_ADDR" default:":8080"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// DatabaseConfig holds record-store configuration
type DatabaseConfig struct {
	DSN              string        `envconfig:"DB_URL"`
	MaxConns         int32         `envconfig:"DB_MAX_CONNS" default:"20"`
	MinConns         int32         `envconfig:"DB_MIN_CONNS" default:"5"`
	MaxConnLifetime  time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	MaxConnIdleTime  time.Duration `envconfig:"DB_MAX_CONN_IDLE_TIME" default:"5m"`
	DialTimeout      time.Duration `envconfig:"DB_DIAL_TIMEOUT" default:"3s"`
	StatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"0"`
}

// BlobConfig holds block-dump storage configuration. BucketURL is a
// gocloud.dev bucket URL (file://, s3://, mem://).
type BlobConfig struct {
	BucketURL string `envconfig:"BLOB_BUCKET_URL" default:"file://./data/blobs"`
}

// QueueConfig holds message-channel configuration. Backend "memory" runs the
// in-process delayed queue; "pubsub" opens the gocloud.dev topic/subscription
// URLs (awssqs:// for SQS).
type QueueConfig struct {
	Backend         string        `envconfig:"QUEUE_BACKEND" default:"memory"`
	TopicURL        string        `envconfig:"QUEUE_TOPIC_URL"`
	SubscriptionURL string        `envconfig:"QUEUE_SUBSCRIPTION_URL"`
	Workers         int           `envconfig:"QUEUE_WORKERS" default:"4"`
	HandleTimeout   time.Duration `envconfig:"QUEUE_HANDLE_TIMEOUT" default:"3m"`
}

// EngineConfig holds recognition-engine configuration
type EngineConfig struct {
	BaseURL string        `envconfig:"ENGINE_BASE_URL"`
	Bucket  string        `envconfig:"ENGINE_BUCKET"`
	Timeout time.Duration `envconfig:"ENGINE_TIMEOUT" default:"30s"`
}

// ClassifierConfig holds classification-collaborator configuration
type ClassifierConfig struct {
	BaseURL     string        `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	Model       string        `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	APIKey      string        `envconfig:"OPENAI_API_KEY"`
	Temperature float32       `envconfig:"OPENAI_TEMPERATURE" default:"0.0"`
	Timeout     time.Duration `envconfig:"OPENAI_TIMEOUT" default:"45s"`
}

// PipelineConfig holds orchestrator behavior
type PipelineConfig struct {
	PartitionKey string `envconfig:"PIPELINE_PARTITION_KEY" default:"ocr-job"`
	// ProcessDelay is the backoff before the first stage queries the engine;
	// the stage itself still tolerates "not ready yet" via redelivery.
	ProcessDelay    time.Duration `envconfig:"PIPELINE_PROCESS_DELAY" default:"240s"`
	SearchKeyFields []string      `envconfig:"PIPELINE_SEARCH_KEY_FIELDS" default:"name,date"`
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := new(Config)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate validates the loaded configuration
func (c *Config) Validate() error {
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.Engine.BaseURL == "" {
		return NewAppError("CONFIG_ERROR", "ENGINE_BASE_URL is required", ErrInvalidInput)
	}
	if c.Engine.Bucket == "" {
		return NewAppError("CONFIG_ERROR", "ENGINE_BUCKET is required", ErrInvalidInput)
	}
	if c.Queue.Backend == "pubsub" && (c.Queue.TopicURL == "" || c.Queue.SubscriptionURL == "") {
		return NewAppError("CONFIG_ERROR", "QUEUE_TOPIC_URL and QUEUE_SUBSCRIPTION_URL are required for the pubsub backend", ErrInvalidInput)
	}
	if c.Classifier.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "OPENAI_API_KEY is required", ErrInvalidInput)
	}
	return nil
}
