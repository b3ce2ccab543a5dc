package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Migration targets.
const (
	TargetPostgres = "postgres"
	TargetSQLite   = "sqlite"
)

// Document sources.
const (
	SourceMongo  = "mongo"
	SourceExport = "export"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL string
	Target      string
	SQLitePath  string

	Source        string
	MongoURI      string
	MongoDatabase string
	ExportFile    string

	ModelFile     string
	Workers       int
	BatchSize     int
	QueryTimeout  time.Duration
	RetryAttempts int
	RetryBackoff  time.Duration

	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	ReportFile  string
	MetricsFile string
	LogLevel    slog.Level

	dbURL *url.URL // Parsed database URL for building new connections
}

// Load reads configuration from .env file and environment variables and
// validates it.
func Load() (*Config, error) {
	cfg, err := LoadEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv reads configuration like Load but leaves validation to the caller,
// so command line flags can complete it first.
func LoadEnv() (*Config, error) {
	// Load .env file if it exists (silently ignore if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL:   os.Getenv("DATABASE_URL"),
		Target:        envOr("TARGET", TargetPostgres),
		SQLitePath:    envOr("SQLITE_PATH", "docmigrate.db"),
		Source:        envOr("SOURCE", SourceExport),
		MongoURI:      envOr("MONGO_URI", "mongodb://localhost:27017"),
		MongoDatabase: os.Getenv("MONGO_DATABASE"),
		ExportFile:    envOr("EXPORT_FILE", "export.json"),
		ModelFile:     envOr("MODEL_FILE", "model.yaml"),
		Port:          envOr("PORT", "8080"),
		ReportFile:    envOr("REPORT_FILE", "report.json"),
		MetricsFile:   os.Getenv("METRICS_FILE"),
	}

	var err error
	if cfg.Workers, err = envInt("WORKERS", 8); err != nil {
		return nil, err
	}
	if cfg.BatchSize, err = envInt("BATCH_SIZE", 500); err != nil {
		return nil, err
	}
	if cfg.RetryAttempts, err = envInt("RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.QueryTimeout, err = envDuration("QUERY_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.RetryBackoff, err = envDuration("RETRY_BACKOFF", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.ReadTimeout, err = envDuration("READ_TIMEOUT", 15*time.Second); err != nil {
		return nil, err
	}
	if cfg.WriteTimeout, err = envDuration("WRITE_TIMEOUT", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.ShutdownTimeout, err = envDuration("SHUTDOWN_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.LogLevel, err = parseLevel(os.Getenv("LOG_LEVEL")); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that depend on each other.
func (c *Config) Validate() error {
	switch c.Target {
	case TargetPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL environment variable is required")
		}
		parsedURL, err := url.Parse(c.DatabaseURL)
		if err != nil {
			return fmt.Errorf("invalid DATABASE_URL: %w", err)
		}
		c.dbURL = parsedURL
	case TargetSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required for the sqlite target")
		}
	default:
		return fmt.Errorf("invalid TARGET %q: want %q or %q", c.Target, TargetPostgres, TargetSQLite)
	}

	switch c.Source {
	case SourceMongo:
		if c.MongoDatabase == "" {
			return fmt.Errorf("MONGO_DATABASE is required for the mongo source")
		}
	case SourceExport:
	default:
		return fmt.Errorf("invalid SOURCE %q: want %q or %q", c.Source, SourceMongo, SourceExport)
	}

	if c.Workers < 1 {
		return fmt.Errorf("WORKERS must be at least 1, got %d", c.Workers)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("BATCH_SIZE must be at least 1, got %d", c.BatchSize)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("RETRY_ATTEMPTS must be at least 1, got %d", c.RetryAttempts)
	}
	return nil
}

// CurrentDatabase returns the database name from the current connection URL.
func (c *Config) CurrentDatabase() string {
	if c.dbURL == nil || c.dbURL.Path == "" {
		return ""
	}
	return c.dbURL.Path[1:] // Remove leading slash
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func envDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if s == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(strings.ToUpper(s))); err != nil {
		return 0, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}
	return l, nil
}
