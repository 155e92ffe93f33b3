// Package config loads the ingestion service settings from environment
// variables, applying defaults and validating everything on startup.
package config

import (
	"net"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Ingest   IngestConfig
	Metadata MetadataConfig
	Registry RegistryConfig
	Hooks    HooksConfig
	Logging  LoggingConfig
}

// ServerConfig holds admin HTTP server settings.
type ServerConfig struct {
	Host string `env:"INGEST_HOST" default:"0.0.0.0"`
	Port int    `env:"INGEST_PORT" default:"8080"`

	ReadTimeout  time.Duration `env:"INGEST_READ_TIMEOUT" default:"15s"`
	WriteTimeout time.Duration `env:"INGEST_WRITE_TIMEOUT" default:"30s"`
	IdleTimeout  time.Duration `env:"INGEST_IDLE_TIMEOUT" default:"60s"`

	// ShutdownTimeout bounds how long in-flight runs may drain on shutdown.
	ShutdownTimeout time.Duration `env:"INGEST_SHUTDOWN_TIMEOUT" default:"30s"`

	// APIKeys protects /api with an X-API-Key header when set (comma-separated).
	APIKeys []string `env:"INGEST_API_KEYS"`
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	// URL is the PostgreSQL connection string. Workers open their own
	// connections from it in addition to the pool.
	URL string `env:"DATABASE_URL" envAlt:"DB_URL" required:"true"`

	MaxConns        int           `env:"DB_MAX_CONNS" default:"20"`
	MinConns        int           `env:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `env:"DB_MAX_CONN_LIFETIME" default:"1h"`
	MaxConnIdleTime time.Duration `env:"DB_MAX_CONN_IDLE_TIME" default:"30m"`
}

// IngestConfig holds engine tuning.
type IngestConfig struct {
	// BatchSize is the number of records committed per transaction (default: 10000)
	BatchSize int `env:"INGEST_BATCH_SIZE" default:"10000"`

	// MaxWorkers caps the chunk workers of one run (default: 8)
	MaxWorkers int `env:"INGEST_MAX_WORKERS" default:"8"`

	// MinRowsPerWorker keeps small files from being spread thin (default: 1000)
	MinRowsPerWorker int `env:"INGEST_MIN_ROWS_PER_WORKER" default:"1000"`

	// SampleSize is the number of bytes sniffed for the dialect (default: 1024)
	SampleSize int `env:"INGEST_SAMPLE_SIZE" default:"1024"`

	// MinHeaderColumns below which the other delimiter is tried (default: 2)
	MinHeaderColumns int `env:"INGEST_MIN_HEADER_COLUMNS" default:"2"`

	// ChunkDir is where chunk files are written; empty means the OS temp dir.
	ChunkDir string `env:"INGEST_CHUNK_DIR"`

	// MaxConcurrentFiles is how many files the server ingests at once (default: 2)
	MaxConcurrentFiles int `env:"INGEST_MAX_CONCURRENT_FILES" default:"2"`

	// MaxWait is how long a run request waits for a free slot (default: 30s)
	MaxWait time.Duration `env:"INGEST_MAX_WAIT" default:"30s"`
}

// MetadataConfig points at the checklist metadata API.
type MetadataConfig struct {
	BaseURL string        `env:"METADATA_BASE_URL"`
	Token   string        `env:"METADATA_TOKEN" envAlt:"JWT_TOKEN"`
	Timeout time.Duration `env:"METADATA_TIMEOUT" default:"30s"`
}

// RegistryConfig selects where common ids are kept.
type RegistryConfig struct {
	// Backend is "postgres" or "redis" (default: postgres)
	Backend string `env:"COMMON_ID_BACKEND" default:"postgres"`

	RedisAddr     string `env:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" default:"0"`
}

// HooksConfig selects the completion hooks.
type HooksConfig struct {
	// KafkaBrokers enables the Kafka hook when set (comma-separated).
	KafkaBrokers []string `env:"KAFKA_BROKERS"`
	KafkaTopic   string   `env:"KAFKA_TOPIC" default:"checklist.ingest.completed"`

	// SummaryRecords creates a checklist_results row per completed inspection.
	SummaryRecords bool `env:"SUMMARY_RECORDS" default:"true"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error (default: info)
	Level string `env:"LOG_LEVEL" default:"info"`

	// Format is the log format: text or json (default: text)
	Format string `env:"LOG_FORMAT" default:"text"`
}

// Addr returns the server listen address in host:port format.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
