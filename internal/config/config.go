// Package config provides configuration management for mnemo.
// Defaults are applied first, an optional YAML config file is merged on top,
// and MNEMO_* environment variables override both.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that unmarshals from YAML strings like "300s"
// or "5m".
type Duration time.Duration

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return fmt.Errorf("duration must be a string such as \"300s\": %w", err)
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Config holds all configuration settings for the mnemo daemon.
type Config struct {
	Storage    StorageConfig    `yaml:"storage"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Checkpoint CheckpointConfig `yaml:"checkpoint"`
	Backup     BackupConfig     `yaml:"backup"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// StorageConfig selects and configures the storage backend.
type StorageConfig struct {
	Backend     string `yaml:"backend"`      // sqlite or postgres (default: sqlite)
	SQLitePath  string `yaml:"sqlite_path"`  // SQLite database file (default: ./data/mnemo.db)
	PostgresDSN string `yaml:"postgres_dsn"` // required when backend is postgres
}

// EmbeddingConfig configures the embedding provider. When Disabled is set
// the daemon runs lexical-only.
type EmbeddingConfig struct {
	Disabled          bool     `yaml:"disabled"`
	Provider          string   `yaml:"provider"` // ollama or openai (default: ollama)
	BaseURL           string   `yaml:"base_url"`
	Model             string   `yaml:"model"`
	APIKey            string   `yaml:"api_key"`
	Timeout           Duration `yaml:"timeout"`             // per-request timeout (default: 30s)
	RequestsPerSecond float64  `yaml:"requests_per_second"` // provider pacing (default: 10)
	CacheCapacity     int      `yaml:"cache_capacity"`      // LRU entries (default: 2048)
}

// CheckpointConfig configures the checkpoint service.
type CheckpointConfig struct {
	Disabled      bool     `yaml:"disabled"`
	Interval      Duration `yaml:"interval"`        // periodic cycle interval (default: 300s)
	StopGrace     Duration `yaml:"stop_grace"`      // shutdown drain budget (default: 10s)
	WriteTimeout  Duration `yaml:"write_timeout"`   // per-item write budget (default: 30s)
	WorkItemsPath string   `yaml:"work_items_path"` // tracker export file (default: ./data/work_items.json)
}

// BackupConfig configures archive creation.
type BackupConfig struct {
	ArchiveDir string `yaml:"archive_dir"` // default: ./backups
	Keep       int    `yaml:"keep"`        // archives to retain (default: 10)
	SkipVerify bool   `yaml:"skip_verify"` // skip the integrity check before archiving
}

// LoggingConfig configures the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // console or json (default: console)
}

// Default returns the configuration used when no file or environment
// overrides are present.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			Backend:    "sqlite",
			SQLitePath: "./data/mnemo.db",
		},
		Embedding: EmbeddingConfig{
			Provider:          "ollama",
			Timeout:           Duration(30 * time.Second),
			RequestsPerSecond: 10,
			CacheCapacity:     2048,
		},
		Checkpoint: CheckpointConfig{
			Interval:      Duration(300 * time.Second),
			StopGrace:     Duration(10 * time.Second),
			WriteTimeout:  Duration(30 * time.Second),
			WorkItemsPath: "./data/work_items.json",
		},
		Backup: BackupConfig{
			ArchiveDir: "./backups",
			Keep:       10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the effective configuration: defaults, then the config file at
// path (skipped when path is empty), then MNEMO_* environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %q: %w", path, err)
		}

		var fileCfg Config
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %q: %w", path, err)
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge config file: %w", err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the daemon cannot run with.
func (c *Config) Validate() error {
	switch c.Storage.Backend {
	case "sqlite":
		if c.Storage.SQLitePath == "" {
			return fmt.Errorf("storage.sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			return fmt.Errorf("storage.postgres_dsn is required for the postgres backend")
		}
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}

	if !c.Embedding.Disabled {
		switch c.Embedding.Provider {
		case "ollama", "openai":
		default:
			return fmt.Errorf("unknown embedding provider %q", c.Embedding.Provider)
		}
		if c.Embedding.Timeout <= 0 {
			return fmt.Errorf("embedding.timeout must be positive")
		}
		if c.Embedding.RequestsPerSecond <= 0 {
			return fmt.Errorf("embedding.requests_per_second must be positive")
		}
		if c.Embedding.CacheCapacity < 1 {
			return fmt.Errorf("embedding.cache_capacity must be at least 1")
		}
	}

	if !c.Checkpoint.Disabled {
		if c.Checkpoint.Interval <= 0 {
			return fmt.Errorf("checkpoint.interval must be positive")
		}
		if c.Checkpoint.StopGrace <= 0 {
			return fmt.Errorf("checkpoint.stop_grace must be positive")
		}
		if c.Checkpoint.WriteTimeout <= 0 {
			return fmt.Errorf("checkpoint.write_timeout must be positive")
		}
		if c.Checkpoint.WorkItemsPath == "" {
			return fmt.Errorf("checkpoint.work_items_path is required")
		}
	}

	if c.Backup.Keep < 1 {
		return fmt.Errorf("backup.keep must be at least 1")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}

	return nil
}

// applyEnv overrides configuration from MNEMO_* environment variables.
func (c *Config) applyEnv() {
	c.Storage.Backend = getEnv("MNEMO_STORAGE_BACKEND", c.Storage.Backend)
	c.Storage.SQLitePath = getEnv("MNEMO_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.PostgresDSN = getEnv("MNEMO_POSTGRES_DSN", c.Storage.PostgresDSN)

	c.Embedding.Disabled = getEnvBool("MNEMO_EMBEDDING_DISABLED", c.Embedding.Disabled)
	c.Embedding.Provider = getEnv("MNEMO_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Embedding.BaseURL = getEnv("MNEMO_EMBEDDING_BASE_URL", c.Embedding.BaseURL)
	c.Embedding.Model = getEnv("MNEMO_EMBEDDING_MODEL", c.Embedding.Model)
	c.Embedding.APIKey = getEnv("MNEMO_EMBEDDING_API_KEY", c.Embedding.APIKey)
	c.Embedding.Timeout = getEnvDuration("MNEMO_EMBEDDING_TIMEOUT", c.Embedding.Timeout)
	c.Embedding.RequestsPerSecond = getEnvFloat("MNEMO_EMBEDDING_RPS", c.Embedding.RequestsPerSecond)
	c.Embedding.CacheCapacity = getEnvInt("MNEMO_EMBEDDING_CACHE_CAPACITY", c.Embedding.CacheCapacity)

	c.Checkpoint.Disabled = getEnvBool("MNEMO_CHECKPOINT_DISABLED", c.Checkpoint.Disabled)
	c.Checkpoint.Interval = getEnvDuration("MNEMO_CHECKPOINT_INTERVAL", c.Checkpoint.Interval)
	c.Checkpoint.StopGrace = getEnvDuration("MNEMO_CHECKPOINT_STOP_GRACE", c.Checkpoint.StopGrace)
	c.Checkpoint.WriteTimeout = getEnvDuration("MNEMO_CHECKPOINT_WRITE_TIMEOUT", c.Checkpoint.WriteTimeout)
	c.Checkpoint.WorkItemsPath = getEnv("MNEMO_WORK_ITEMS_PATH", c.Checkpoint.WorkItemsPath)

	c.Backup.ArchiveDir = getEnv("MNEMO_BACKUP_DIR", c.Backup.ArchiveDir)
	c.Backup.Keep = getEnvInt("MNEMO_BACKUP_KEEP", c.Backup.Keep)
	c.Backup.SkipVerify = getEnvBool("MNEMO_BACKUP_SKIP_VERIFY", c.Backup.SkipVerify)

	c.Logging.Level = getEnv("MNEMO_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = getEnv("MNEMO_LOG_FORMAT", c.Logging.Format)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default
// value. A set but unparseable variable returns the default.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default
// value. A set but unparseable variable returns the default.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default
// value. It recognizes "true", "1", "yes" as true and "false", "0", "no" as
// false (case-insensitive).
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}

// getEnvDuration retrieves a duration environment variable like "90s" or
// returns a default value. A set but unparseable variable returns the
// default.
func getEnvDuration(key string, defaultValue Duration) Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return Duration(parsed)
		}
	}
	return defaultValue
}
