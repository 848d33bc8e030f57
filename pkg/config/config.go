// Package config handles fraudgraph configuration via environment variables.
//
// Configuration is loaded from environment variables using LoadFromEnv() and
// validated with Validate() before use. All values have sensible defaults,
// so LoadFromEnv() can be called without any environment variables set.
//
// Example Usage:
//
//	cfg := config.LoadFromEnv()
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
//	eng, err := store.NewBadgerEngine(store.BadgerOptions{DataDir: cfg.Store.DataDir})
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all fraudgraph configuration loaded from environment
// variables, organized into logical sections:
//   - Store: persistence backend settings
//   - Worker: processor poll/claim/deadline tunables
//   - Graph: default traversal bounds
//   - Audit: fault-log settings
//   - Logging: process-wide logging settings
//   - Features: feature flags
type Config struct {
	Store    StoreConfig
	Worker   WorkerConfig
	Graph    GraphConfig
	Audit    AuditConfig
	Logging  LoggingConfig
	Features FeatureFlagsConfig
}

// StoreConfig holds persistence backend settings.
type StoreConfig struct {
	// MemoryOnly selects the in-memory reference Engine instead of Badger,
	// useful for tests and ephemeral demos.
	MemoryOnly bool
	// DataDir is the BadgerDB data directory.
	DataDir string
}

// WorkerConfig holds processor.Config's tunables (spec.md §6).
type WorkerConfig struct {
	PollInterval time.Duration
	JobDeadline  time.Duration
	MaxWorkers   int
	// Channels lists the active scoring channels run for every processed
	// transaction.
	Channels []string
}

// GraphConfig holds default traversal bounds applied when a caller doesn't
// override them (spec.md §4.2 Options).
type GraphConfig struct {
	DefaultMaxDepth      int
	DefaultLimit         int
	DefaultMinConfidence int
}

// AuditConfig holds fault-log settings (spec.md §7).
type AuditConfig struct {
	Enabled    bool
	LogPath    string
	SyncWrites bool
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level (DEBUG, INFO, WARN, ERROR)
	Level string
	// Format (json, text)
	Format string
	// Output path (stdout, stderr, or file path)
	Output string
}

// FeatureFlagsConfig holds fraudgraph's feature toggles.
type FeatureFlagsConfig struct {
	// StrictSchemaEnabled is loaded from FRAUDGRAPH_STRICT_SCHEMA_ENABLED
	// (default false). Nothing consults it: the schema-compatibility check
	// (store.CompatibleSchema) compares major versions only, whatever its
	// value.
	StrictSchemaEnabled bool
}

// LoadFromEnv loads configuration from environment variables. All values
// have sensible defaults, so LoadFromEnv() can be called without any
// environment variables set.
func LoadFromEnv() *Config {
	cfg := &Config{}

	cfg.Store.MemoryOnly = getEnvBool("FRAUDGRAPH_STORE_MEMORY_ONLY", false)
	cfg.Store.DataDir = getEnv("FRAUDGRAPH_STORE_DATA_DIR", "./data")

	cfg.Worker.PollInterval = getEnvDuration("FRAUDGRAPH_WORKER_POLL_INTERVAL", 500*time.Millisecond)
	cfg.Worker.JobDeadline = getEnvDuration("FRAUDGRAPH_WORKER_JOB_DEADLINE", 30*time.Second)
	cfg.Worker.MaxWorkers = getEnvInt("FRAUDGRAPH_WORKER_MAX_WORKERS", 4)
	cfg.Worker.Channels = getEnvStringSlice("FRAUDGRAPH_WORKER_CHANNELS", nil)

	cfg.Graph.DefaultMaxDepth = getEnvInt("FRAUDGRAPH_GRAPH_MAX_DEPTH", 10)
	cfg.Graph.DefaultLimit = getEnvInt("FRAUDGRAPH_GRAPH_LIMIT", 1000)
	cfg.Graph.DefaultMinConfidence = getEnvInt("FRAUDGRAPH_GRAPH_MIN_CONFIDENCE", 0)

	cfg.Audit.Enabled = getEnvBool("FRAUDGRAPH_AUDIT_ENABLED", true)
	cfg.Audit.LogPath = getEnv("FRAUDGRAPH_AUDIT_LOG_PATH", "./data/fault.log")
	cfg.Audit.SyncWrites = getEnvBool("FRAUDGRAPH_AUDIT_SYNC_WRITES", false)

	cfg.Logging.Level = getEnv("FRAUDGRAPH_LOG_LEVEL", "INFO")
	cfg.Logging.Format = getEnv("FRAUDGRAPH_LOG_FORMAT", "json")
	cfg.Logging.Output = getEnv("FRAUDGRAPH_LOG_OUTPUT", "stdout")

	cfg.Features.StrictSchemaEnabled = getEnvBool("FRAUDGRAPH_STRICT_SCHEMA_ENABLED", false)

	return cfg
}

// Validate checks the configuration for logical errors and invalid values.
// Call it after LoadFromEnv() and before using the Config.
func (c *Config) Validate() error {
	if !c.Store.MemoryOnly && c.Store.DataDir == "" {
		return fmt.Errorf("config: store data dir must be set unless memory-only")
	}
	if c.Worker.MaxWorkers <= 0 {
		return fmt.Errorf("config: worker max workers must be positive, got %d", c.Worker.MaxWorkers)
	}
	if c.Worker.PollInterval <= 0 {
		return fmt.Errorf("config: worker poll interval must be positive")
	}
	if c.Worker.JobDeadline <= 0 {
		return fmt.Errorf("config: worker job deadline must be positive")
	}
	if c.Graph.DefaultMaxDepth <= 0 {
		return fmt.Errorf("config: graph max depth must be positive, got %d", c.Graph.DefaultMaxDepth)
	}
	if c.Graph.DefaultLimit <= 0 {
		return fmt.Errorf("config: graph limit must be positive, got %d", c.Graph.DefaultLimit)
	}
	return nil
}

// String returns a string representation of the Config suitable for
// logging.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Store: %s, Workers: %d, PollInterval: %s, MaxDepth: %d, AuditEnabled: %v}",
		c.Store.DataDir, c.Worker.MaxWorkers, c.Worker.PollInterval, c.Graph.DefaultMaxDepth, c.Audit.Enabled,
	)
}

// Helper functions for environment variable parsing.

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		val = strings.ToLower(val)
		return val == "true" || val == "1" || val == "yes" || val == "on"
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
		if secs, err := strconv.Atoi(val); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultVal
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	if val := os.Getenv(key); val != "" {
		parts := strings.Split(val, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultVal
}
