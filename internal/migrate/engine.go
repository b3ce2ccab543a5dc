// Package migrate runs a migration: it loads every entity type in dependency
// order, rewrites legacy references to surrogate ids and verifies the result.
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/docmigrate/internal/depgraph"
	"github.com/JonMunkholm/docmigrate/internal/mapper"
	"github.com/JonMunkholm/docmigrate/internal/metrics"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/report"
	"github.com/JonMunkholm/docmigrate/internal/rewrite"
	"github.com/JonMunkholm/docmigrate/internal/source"
	"github.com/JonMunkholm/docmigrate/internal/verify"
)

// Config tunes an Engine.
type Config struct {
	Workers int // concurrent row builders, reference rewriters and checks
	Retry   RetryPolicy
}

// MigrationContext is the state of one run. It is passed explicitly between
// the phases of a run and never shared between runs.
type MigrationContext struct {
	RunID    string
	Mapper   *mapper.Mapper
	Order    []model.EntityType
	Recorder *report.Recorder
	Rows     map[string][]*model.Row // committed rows per entity type, kept for the rewrite pass
}

// Engine orchestrates migrations against one store.
type Engine struct {
	store      Store
	reader     *source.Reader
	cfg        Config
	logger     *slog.Logger
	metrics    *metrics.Collector
	mapperOpts []mapper.Option
	newRunID   func() string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// WithMetrics records run metrics into c.
func WithMetrics(c *metrics.Collector) Option {
	return func(e *Engine) { e.metrics = c }
}

// WithMapperOptions passes options to the mapper of every run.
func WithMapperOptions(opts ...mapper.Option) Option {
	return func(e *Engine) { e.mapperOpts = append(e.mapperOpts, opts...) }
}

// WithRunID overrides run id generation.
func WithRunID(fn func() string) Option {
	return func(e *Engine) { e.newRunID = fn }
}

// New creates an Engine. reader may be nil for engines that only verify or
// evolve.
func New(store Store, reader *source.Reader, cfg Config, opts ...Option) *Engine {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Retry.Attempts < 1 {
		cfg.Retry = DefaultRetryPolicy
	}
	e := &Engine{
		store:    store,
		reader:   reader,
		cfg:      cfg,
		logger:   slog.Default(),
		newRunID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Prepare resolves the load order of m and creates the state of a new run.
// Configuration errors are returned before anything touches the store.
func (e *Engine) Prepare(m *model.Model) (*MigrationContext, error) {
	order, err := depgraph.Order(m.EntityTypes)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(order))
	for i := range order {
		names[i] = order[i].Name
	}

	runID := e.newRunID()
	rec := report.NewRecorder(runID)
	rec.SetOrder(names)
	return &MigrationContext{
		RunID:    runID,
		Mapper:   mapper.New(e.mapperOpts...),
		Order:    order,
		Recorder: rec,
		Rows:     make(map[string][]*model.Row, len(order)),
	}, nil
}

// Run migrates every entity type of m. Integrity anomalies never fail the
// run; they are collected in the returned report. When a fatal error stops
// the run, the partial report is returned with it and the entity types
// committed before the failure stay in the store.
func (e *Engine) Run(ctx context.Context, m *model.Model) (*report.Report, error) {
	if e.reader == nil {
		return nil, fmt.Errorf("migration requires a source reader")
	}
	mc, err := e.Prepare(m)
	if err != nil {
		return nil, err
	}
	log := e.logger.With("runId", mc.RunID)
	log.Info("migration started", "entityTypes", len(mc.Order), "workers", e.cfg.Workers)
	start := time.Now()

	applied, err := e.store.ApplyEvolutions(ctx, m.Evolutions)
	if err != nil {
		return mc.Recorder.Report(), fmt.Errorf("failed to apply schema evolutions: %w", err)
	}
	if len(applied) > 0 {
		log.Info("schema evolutions applied", "versions", applied)
	}

	if err := e.store.EnsureSchema(ctx, mc.Order); err != nil {
		return mc.Recorder.Report(), fmt.Errorf("failed to ensure schema: %w", err)
	}

	persisted, err := e.store.LoadMappings(ctx)
	if err != nil {
		return mc.Recorder.Report(), fmt.Errorf("failed to load mappings: %w", err)
	}
	mc.Mapper.Prime(persisted)
	log.Info("mapper primed", "mappings", len(persisted))

	e.warnUnbound(ctx, log, mc.Order)

	for i := range mc.Order {
		if err := e.loadEntityType(ctx, mc, &mc.Order[i]); err != nil {
			return mc.Recorder.Report(), err
		}
	}

	if err := e.rewriteReferences(ctx, mc); err != nil {
		return mc.Recorder.Report(), err
	}

	if err := verify.New(e.store, e.cfg.Workers, log).Verify(ctx, mc.Order, mc.Recorder); err != nil {
		return mc.Recorder.Report(), fmt.Errorf("failed to verify: %w", err)
	}

	r := mc.Recorder.Report()
	e.metrics.ObserveReport(r)
	log.Info("migration finished",
		"duration", time.Since(start).Round(time.Millisecond),
		"anomalies", r.AnomalyCount())
	return r, nil
}

// Verify runs the constraint checks alone against already migrated data.
func (e *Engine) Verify(ctx context.Context, m *model.Model) (*report.Report, error) {
	mc, err := e.Prepare(m)
	if err != nil {
		return nil, err
	}
	if err := verify.New(e.store, e.cfg.Workers, e.logger).Verify(ctx, mc.Order, mc.Recorder); err != nil {
		return mc.Recorder.Report(), fmt.Errorf("failed to verify: %w", err)
	}
	r := mc.Recorder.Report()
	e.metrics.ObserveReport(r)
	return r, nil
}

// Evolve applies the pending schema evolutions of m and nothing else.
func (e *Engine) Evolve(ctx context.Context, m *model.Model) ([]int, error) {
	applied, err := e.store.ApplyEvolutions(ctx, m.Evolutions)
	if err != nil {
		return applied, fmt.Errorf("failed to apply schema evolutions: %w", err)
	}
	return applied, nil
}

func (e *Engine) warnUnbound(ctx context.Context, log *slog.Logger, types []model.EntityType) {
	paths, err := e.reader.Discover(ctx)
	if err != nil {
		log.Warn("source discovery failed", "error", err)
		return
	}
	for _, p := range source.Unbound(paths, types) {
		log.Warn("source path not bound to any entity type", "path", p.Path, "documents", p.Documents)
	}
}

// rewriteReferences resolves the foreign keys of every loaded entity type.
// Entity types are independent at this point, so they run concurrently.
func (e *Engine) rewriteReferences(ctx context.Context, mc *MigrationContext) error {
	rw := rewrite.New(mc.Mapper, mc.Recorder)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range mc.Order {
		et := &mc.Order[i]
		if len(et.ForeignKeys) == 0 {
			continue
		}
		g.Go(func() error {
			updates := rw.Rewrite(et, mc.Rows[et.Name])
			return e.retry(gctx, et.Name, "rewrite", func(ctx context.Context) error {
				return e.store.WriteReferences(ctx, et, updates)
			})
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("failed to rewrite references: %w", err)
	}
	return nil
}
