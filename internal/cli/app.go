// Package cli holds the docmigrate commands.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/docmigrate/internal/api"
	"github.com/JonMunkholm/docmigrate/internal/config"
	"github.com/JonMunkholm/docmigrate/internal/metrics"
	"github.com/JonMunkholm/docmigrate/internal/migrate"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/source"
	"github.com/JonMunkholm/docmigrate/internal/store/postgres"
	"github.com/JonMunkholm/docmigrate/internal/store/sqlite"
)

// Target is a relational store the commands migrate into.
type Target interface {
	migrate.Store
	api.Target
}

// flags are the settings every command can override on the command line.
type flags struct {
	modelFile  string
	target     string
	sqlitePath string
	source     string
	exportFile string
	workers    int
}

func addFlags(cmd *cobra.Command, f *flags) {
	cmd.Flags().StringVarP(&f.modelFile, "model", "m", "", "Entity model file (default $MODEL_FILE)")
	cmd.Flags().StringVar(&f.target, "target", "", "Target store: postgres or sqlite (default $TARGET)")
	cmd.Flags().StringVar(&f.sqlitePath, "sqlite-path", "", "SQLite database file (default $SQLITE_PATH)")
	cmd.Flags().StringVar(&f.source, "source", "", "Document source: mongo or export (default $SOURCE)")
	cmd.Flags().StringVar(&f.exportFile, "export-file", "", "Document export file (default $EXPORT_FILE)")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "Concurrent workers (default $WORKERS)")
}

// loadConfig loads the environment and applies command line overrides.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.LoadEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if f.target != "" {
		cfg.Target = f.target
	}
	if f.modelFile != "" {
		cfg.ModelFile = f.modelFile
	}
	if f.sqlitePath != "" {
		cfg.SQLitePath = f.sqlitePath
	}
	if f.source != "" {
		cfg.Source = f.source
	}
	if f.exportFile != "" {
		cfg.ExportFile = f.exportFile
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)
	return logger
}

func loadModel(cfg *config.Config) (*model.Model, error) {
	m, err := model.LoadFile(cfg.ModelFile)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// openTarget connects to the configured relational store. The returned
// function releases it.
func openTarget(ctx context.Context, cfg *config.Config) (Target, func(), error) {
	switch cfg.Target {
	case config.TargetSQLite:
		s, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { s.Close() }, nil
	default:
		s, err := postgres.Connect(ctx, cfg.DatabaseURL, postgres.Options{
			BatchSize:    cfg.BatchSize,
			QueryTimeout: cfg.QueryTimeout,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("connected to target", "target", cfg.Target, "database", cfg.CurrentDatabase())
		return s, s.Close, nil
	}
}

// openSource opens the configured document store.
func openSource(ctx context.Context, cfg *config.Config) (source.DocumentStore, func(), error) {
	switch cfg.Source {
	case config.SourceMongo:
		s, err := source.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			s.Close(ctx)
		}, nil
	default:
		s, err := source.LoadExportFile(cfg.ExportFile)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

func engineConfig(cfg *config.Config) migrate.Config {
	return migrate.Config{
		Workers: cfg.Workers,
		Retry: migrate.RetryPolicy{
			Attempts:     cfg.RetryAttempts,
			InitialDelay: cfg.RetryBackoff,
			MaxDelay:     20 * cfg.RetryBackoff,
		},
	}
}

// newEngine builds an engine over target. docs may be nil for commands that
// never read the source.
func newEngine(cfg *config.Config, target Target, docs source.DocumentStore, logger *slog.Logger, m *metrics.Collector) *migrate.Engine {
	var reader *source.Reader
	if docs != nil {
		reader = source.NewReader(docs)
	}
	return migrate.New(target, reader, engineConfig(cfg), migrate.WithLogger(logger), migrate.WithMetrics(m))
}
