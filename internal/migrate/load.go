package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/report"
)

// loadResult is what one attempt at loading an entity type produced. It is
// committed to the run only after the write succeeds so a retried attempt
// never double counts.
type loadResult struct {
	read       int
	rows       []*model.Row
	duplicates []report.DuplicateLegacyID
	invalid    []report.InvalidValue
}

type buildJob struct {
	rec model.SourceRecord
	id  uuid.UUID
}

// loadEntityType reads, builds and writes one entity type, retrying the
// whole type on transient failures.
func (e *Engine) loadEntityType(ctx context.Context, mc *MigrationContext, et *model.EntityType) error {
	start := time.Now()

	var res *loadResult
	err := e.retry(ctx, et.Name, "load", func(ctx context.Context) error {
		var err error
		res, err = e.loadOnce(ctx, mc, et)
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to load %s: %w", et.Name, err)
	}

	mc.Mapper.MarkPersisted(et.Name)
	mc.Rows[et.Name] = res.rows
	mc.Recorder.Count(et.Name, func(c *report.EntityCounts) {
		c.RowsRead += res.read
		c.RowsWritten += len(res.rows)
	})
	for _, d := range res.duplicates {
		mc.Recorder.AddDuplicateLegacyID(d)
	}
	for _, v := range res.invalid {
		mc.Recorder.AddInvalidValue(v)
	}

	elapsed := time.Since(start)
	e.metrics.ObserveLoad(et.Name, res.read, len(res.rows), elapsed)
	e.logger.Info("entity type loaded",
		"runId", mc.RunID,
		"entityType", et.Name,
		"read", res.read,
		"written", len(res.rows),
		"mappings", mc.Mapper.Len(et.Name),
		"duplicates", len(res.duplicates),
		"invalidValues", len(res.invalid),
		"duration", elapsed.Round(time.Millisecond))
	return nil
}

func (e *Engine) loadOnce(ctx context.Context, mc *MigrationContext, et *model.EntityType) (*loadResult, error) {
	res := &loadResult{}

	// Identity is assigned sequentially in read order so that the first
	// record carrying a legacy id is the one that keeps it.
	var jobs []buildJob
	claimed := make(map[string]bool)
	for rec, err := range e.reader.Records(ctx, et) {
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", et.Name, err)
		}
		res.read++

		legacyID, ok := et.LegacyID(rec)
		if !ok {
			jobs = append(jobs, buildJob{rec: rec, id: mc.Mapper.AssignOrigin(et.Name, rec.Origin().Path())})
			continue
		}
		if claimed[legacyID] {
			winner, _ := mc.Mapper.Lookup(et.Name, legacyID)
			res.duplicates = append(res.duplicates, report.DuplicateLegacyID{
				EntityType:  et.Name,
				LegacyID:    legacyID,
				SurrogateID: winner.String(),
				Origin:      rec.Origin().Path(),
			})
			continue
		}
		claimed[legacyID] = true
		jobs = append(jobs, buildJob{rec: rec, id: mc.Mapper.Assign(et.Name, legacyID)})
	}

	rows, invalid, err := e.buildRows(ctx, et, jobs)
	if err != nil {
		return nil, err
	}
	res.rows = rows
	res.invalid = invalid

	if err := e.store.WriteEntities(ctx, et, rows, mc.Mapper.Pending(et.Name)); err != nil {
		return nil, err
	}
	return res, nil
}

// buildRows converts records to rows on a bounded worker pool. Output order
// matches jobs.
func (e *Engine) buildRows(ctx context.Context, et *model.EntityType, jobs []buildJob) ([]*model.Row, []report.InvalidValue, error) {
	rows := make([]*model.Row, len(jobs))
	bad := make([][]model.InvalidValue, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i := range jobs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			rows[i], bad[i] = model.BuildRow(et, jobs[i].rec, jobs[i].id)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	var invalid []report.InvalidValue
	for i, vals := range bad {
		for _, v := range vals {
			invalid = append(invalid, report.InvalidValue{
				EntityType:  et.Name,
				SurrogateID: rows[i].ID.String(),
				Column:      v.Column,
				Field:       v.Field,
				Value:       v.Value,
				Reason:      v.Reason,
			})
		}
	}
	return rows, invalid, nil
}
