package config

import (
	"strings"
	"testing"
	"time"
)

func env(vars map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{"DATABASE_URL": "postgres://localhost/test"}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Addr() != "0.0.0.0:8080" {
		t.Errorf("Server.Addr() = %q, want %q", cfg.Server.Addr(), "0.0.0.0:8080")
	}
	if cfg.Ingest.BatchSize != 10000 {
		t.Errorf("Ingest.BatchSize = %d, want 10000", cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.MaxWorkers != 8 {
		t.Errorf("Ingest.MaxWorkers = %d, want 8", cfg.Ingest.MaxWorkers)
	}
	if cfg.Ingest.MinRowsPerWorker != 1000 {
		t.Errorf("Ingest.MinRowsPerWorker = %d, want 1000", cfg.Ingest.MinRowsPerWorker)
	}
	if cfg.Ingest.SampleSize != 1024 {
		t.Errorf("Ingest.SampleSize = %d, want 1024", cfg.Ingest.SampleSize)
	}
	if cfg.Ingest.MinHeaderColumns != 2 {
		t.Errorf("Ingest.MinHeaderColumns = %d, want 2", cfg.Ingest.MinHeaderColumns)
	}
	if cfg.Ingest.ChunkDir != "" {
		t.Errorf("Ingest.ChunkDir = %q, want empty", cfg.Ingest.ChunkDir)
	}
	if cfg.Registry.Backend != "postgres" {
		t.Errorf("Registry.Backend = %q, want postgres", cfg.Registry.Backend)
	}
	if len(cfg.Hooks.KafkaBrokers) != 0 {
		t.Errorf("Hooks.KafkaBrokers = %v, want none", cfg.Hooks.KafkaBrokers)
	}
	if !cfg.Hooks.SummaryRecords {
		t.Error("Hooks.SummaryRecords = false, want true")
	}
}

func TestLoad_Overrides(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"DATABASE_URL":       "postgres://localhost/test",
		"INGEST_PORT":        "9090",
		"INGEST_BATCH_SIZE":  "500",
		"INGEST_MAX_WAIT":    "1m30s",
		"LOG_LEVEL":          "debug",
		"KAFKA_BROKERS":      "kafka-1:9092, kafka-2:9092 ,",
		"SUMMARY_RECORDS":    "false",
		"COMMON_ID_BACKEND":  "redis",
		"REDIS_DB":           "3",
		"INGEST_CHUNK_DIR":   "/var/tmp/chunks",
		"METADATA_BASE_URL":  "https://api.example.com",
		"INGEST_SAMPLE_SIZE": "4096",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Ingest.BatchSize != 500 {
		t.Errorf("Ingest.BatchSize = %d, want 500", cfg.Ingest.BatchSize)
	}
	if cfg.Ingest.MaxWait != 90*time.Second {
		t.Errorf("Ingest.MaxWait = %v, want 1m30s", cfg.Ingest.MaxWait)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
	if got := cfg.Hooks.KafkaBrokers; len(got) != 2 || got[0] != "kafka-1:9092" || got[1] != "kafka-2:9092" {
		t.Errorf("Hooks.KafkaBrokers = %v", got)
	}
	if cfg.Hooks.SummaryRecords {
		t.Error("Hooks.SummaryRecords = true, want false")
	}
	if cfg.Registry.RedisDB != 3 {
		t.Errorf("Registry.RedisDB = %d, want 3", cfg.Registry.RedisDB)
	}
	if cfg.Ingest.ChunkDir != "/var/tmp/chunks" {
		t.Errorf("Ingest.ChunkDir = %q", cfg.Ingest.ChunkDir)
	}
}

func TestLoad_AltEnvVars(t *testing.T) {
	cfg, err := LoadFrom(env(map[string]string{
		"DB_URL":    "postgres://localhost/alttest",
		"JWT_TOKEN": "secret-token",
	}))
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.Database.URL != "postgres://localhost/alttest" {
		t.Errorf("Database.URL = %q", cfg.Database.URL)
	}
	if cfg.Metadata.Token != "secret-token" {
		t.Errorf("Metadata.Token = %q", cfg.Metadata.Token)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	_, err := LoadFrom(env(nil))
	if err == nil || !strings.Contains(err.Error(), "DATABASE_URL") {
		t.Fatalf("LoadFrom() error = %v, want missing DATABASE_URL", err)
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"int", "INGEST_BATCH_SIZE", "lots"},
		{"duration", "INGEST_MAX_WAIT", "soon"},
		{"bool", "SUMMARY_RECORDS", "maybe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(env(map[string]string{
				"DATABASE_URL": "postgres://localhost/test",
				tt.key:         tt.val,
			}))
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("LoadFrom() error = %v, want mention of %s", err, tt.key)
			}
		})
	}
}

func validConfig() *Config {
	cfg, err := LoadFrom(env(map[string]string{"DATABASE_URL": "postgres://localhost/test"}))
	if err != nil {
		panic(err)
	}
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		want   string
	}{
		{"valid", func(*Config) {}, ""},
		{"batch size", func(c *Config) { c.Ingest.BatchSize = 0 }, "INGEST_BATCH_SIZE"},
		{"workers", func(c *Config) { c.Ingest.MaxWorkers = -1 }, "INGEST_MAX_WORKERS"},
		{"sample", func(c *Config) { c.Ingest.SampleSize = 10 }, "INGEST_SAMPLE_SIZE"},
		{"port", func(c *Config) { c.Server.Port = 70000 }, "INGEST_PORT"},
		{"pool", func(c *Config) { c.Database.MinConns = 50 }, "DB_MAX_CONNS"},
		{"backend", func(c *Config) { c.Registry.Backend = "etcd" }, "COMMON_ID_BACKEND"},
		{"redis addr", func(c *Config) { c.Registry.Backend = "redis"; c.Registry.RedisAddr = "" }, "REDIS_ADDR"},
		{"kafka topic", func(c *Config) { c.Hooks.KafkaBrokers = []string{"k:9092"}; c.Hooks.KafkaTopic = "" }, "KAFKA_TOPIC"},
		{"log level", func(c *Config) { c.Logging.Level = "trace" }, "LOG_LEVEL"},
		{"log format", func(c *Config) { c.Logging.Format = "xml" }, "LOG_FORMAT"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.want == "" {
				if err != nil {
					t.Errorf("Validate() error = %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() error = %v, want mention of %s", err, tt.want)
			}
		})
	}
}

func TestValidate_ReportsEveryError(t *testing.T) {
	cfg := validConfig()
	cfg.Ingest.BatchSize = 0
	cfg.Logging.Format = "xml"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() = nil")
	}
	for _, want := range []string{"INGEST_BATCH_SIZE", "LOG_FORMAT"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestString_MasksSecrets(t *testing.T) {
	cfg := validConfig()
	cfg.Database.URL = "postgres://user:hunter2@db/ingest"
	cfg.Metadata.Token = "jwt-secret"

	s := cfg.String()
	for _, secret := range []string{"hunter2", "jwt-secret"} {
		if strings.Contains(s, secret) {
			t.Errorf("String() leaks %q: %s", secret, s)
		}
	}
	if !strings.Contains(s, "[MASKED]") {
		t.Errorf("String() = %s, want masked fields", s)
	}
}
