// Package verify checks the written relational graph for duplicate unique
// values, orphaned foreign keys and incomplete primary keys. It never
// modifies data.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/report"
)

// DuplicateValue is one row whose value in a column is shared with other rows.
type DuplicateValue struct {
	Value string
	ID    string
}

// Orphan is one row whose foreign key value matches no referenced row.
type Orphan struct {
	ID    string
	Value string
}

// KeyAudit describes the primary key state of a table.
type KeyAudit struct {
	Columns      []string // declared primary key columns
	NullRows     int64
	DuplicateIDs []string
}

// Store runs the read-only verification queries.
type Store interface {
	DuplicateValues(ctx context.Context, table, column string) ([]DuplicateValue, error)
	OrphanReferences(ctx context.Context, table, column, refTable string) ([]Orphan, error)
	PrimaryKeyAudit(ctx context.Context, table string) (KeyAudit, error)
}

// Verifier runs the uniqueness, orphan and primary key checks.
type Verifier struct {
	store   Store
	workers int
	logger  *slog.Logger
}

// New creates a Verifier running at most workers checks at once.
func New(store Store, workers int, logger *slog.Logger) *Verifier {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Verifier{store: store, workers: workers, logger: logger}
}

// Verify checks every entity type and records the findings. Checks run
// concurrently; an error from any check cancels the rest.
func (v *Verifier) Verify(ctx context.Context, types []model.EntityType, rec *report.Recorder) error {
	tables := make(map[string]string, len(types))
	for i := range types {
		tables[types[i].Name] = types[i].TableName()
	}
	for i := range types {
		for _, fk := range types[i].ForeignKeys {
			if _, ok := tables[fk.References]; !ok {
				return &model.ConfigError{EntityType: types[i].Name, Msg: fmt.Sprintf("column %q references unknown entity type %q", fk.Column, fk.References)}
			}
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(v.workers)

	for i := range types {
		et := &types[i]
		g.Go(func() error { return v.checkPrimaryKey(gctx, et, rec) })

		for _, col := range et.UniqueColumns() {
			g.Go(func() error { return v.checkUnique(gctx, et, col, rec) })
		}
		for _, fk := range et.ForeignKeys {
			refTable := tables[fk.References]
			g.Go(func() error { return v.checkOrphans(gctx, et, fk, refTable, rec) })
		}
	}
	return g.Wait()
}

func (v *Verifier) checkUnique(ctx context.Context, et *model.EntityType, column string, rec *report.Recorder) error {
	rows, err := v.store.DuplicateValues(ctx, et.TableName(), column)
	if err != nil {
		return fmt.Errorf("failed to check uniqueness of %s.%s: %w", et.TableName(), column, err)
	}

	// rows are ordered by value, so each group is a contiguous run
	var groups []report.DuplicateGroup
	for _, r := range rows {
		if n := len(groups); n > 0 && groups[n-1].Value == r.Value {
			groups[n-1].SurrogateIDs = append(groups[n-1].SurrogateIDs, r.ID)
			continue
		}
		groups = append(groups, report.DuplicateGroup{
			EntityType:   et.Name,
			Column:       column,
			Value:        r.Value,
			SurrogateIDs: []string{r.ID},
		})
	}
	for _, grp := range groups {
		rec.AddDuplicateGroup(grp)
	}
	if len(groups) > 0 {
		v.logger.Warn("duplicate values in unique column",
			"entityType", et.Name, "column", column, "groups", len(groups))
	}
	return nil
}

func (v *Verifier) checkOrphans(ctx context.Context, et *model.EntityType, fk model.ForeignKeySpec, refTable string, rec *report.Recorder) error {
	orphans, err := v.store.OrphanReferences(ctx, et.TableName(), fk.Column, refTable)
	if err != nil {
		return fmt.Errorf("failed to check orphans of %s.%s: %w", et.TableName(), fk.Column, err)
	}
	for _, o := range orphans {
		rec.AddOrphan(report.OrphanReference{
			EntityType:  et.Name,
			SurrogateID: o.ID,
			Column:      fk.Column,
			Value:       o.Value,
			References:  fk.References,
		})
	}
	if len(orphans) > 0 {
		v.logger.Warn("orphaned references",
			"entityType", et.Name, "column", fk.Column, "count", len(orphans))
	}
	return nil
}

func (v *Verifier) checkPrimaryKey(ctx context.Context, et *model.EntityType, rec *report.Recorder) error {
	audit, err := v.store.PrimaryKeyAudit(ctx, et.TableName())
	if err != nil {
		return fmt.Errorf("failed to audit primary key of %s: %w", et.TableName(), err)
	}

	missing := func(reason string) report.MissingPrimaryKey {
		return report.MissingPrimaryKey{EntityType: et.Name, Table: et.TableName(), Reason: reason}
	}

	switch {
	case len(audit.Columns) == 0:
		rec.AddMissingPrimaryKey(missing("no primary key column"))
	case len(audit.Columns) > 1:
		rec.AddMissingPrimaryKey(missing(fmt.Sprintf("composite primary key %v", audit.Columns)))
	case audit.Columns[0] != model.ColumnID:
		rec.AddMissingPrimaryKey(missing(fmt.Sprintf("primary key is %q, not %q", audit.Columns[0], model.ColumnID)))
	}
	if audit.NullRows > 0 {
		m := missing("null primary key values")
		m.NullRows = audit.NullRows
		rec.AddMissingPrimaryKey(m)
	}
	if len(audit.DuplicateIDs) > 0 {
		m := missing("duplicate primary key values")
		m.DuplicateIDs = audit.DuplicateIDs
		rec.AddMissingPrimaryKey(m)
	}
	return nil
}
