// Package rewrite replaces legacy reference values with surrogate ids.
package rewrite

import (
	"github.com/google/uuid"

	"github.com/JonMunkholm/docmigrate/internal/mapper"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/report"
)

// Resolver resolves a legacy reference value of an entity type.
type Resolver interface {
	Resolve(entityType, legacyValue string) mapper.Resolution
}

// Update holds the new foreign key values of one row, aligned with
// EntityType.ForeignKeys. Invalid entries are written as NULL.
type Update struct {
	RowID  uuid.UUID
	Values []uuid.NullUUID
}

// Rewriter resolves the foreign keys of loaded rows and records every
// reference it cannot resolve.
type Rewriter struct {
	resolver Resolver
	rec      *report.Recorder
}

// New creates a Rewriter.
func New(resolver Resolver, rec *report.Recorder) *Rewriter {
	return &Rewriter{resolver: resolver, rec: rec}
}

// Rewrite computes the foreign key values of every row of et.
//
//   - resolved: the surrogate id is set.
//   - not found or absent on a required key: NULL, recorded as unresolved and
//     the row counts as integrity-degraded.
//   - not found or absent on an optional key: NULL, no anomaly.
//   - ambiguous: NULL, recorded as a conflict with every candidate surrogate.
func (w *Rewriter) Rewrite(et *model.EntityType, rows []*model.Row) []Update {
	if len(et.ForeignKeys) == 0 {
		return nil
	}

	var counts report.EntityCounts
	updates := make([]Update, 0, len(rows))
	for _, row := range rows {
		u := Update{RowID: row.ID, Values: make([]uuid.NullUUID, len(et.ForeignKeys))}
		for i, fk := range et.ForeignKeys {
			var ref model.Reference
			if i < len(row.Refs) {
				ref = row.Refs[i]
			}

			res := mapper.Resolution{Status: mapper.NotFound}
			if ref.Present {
				res = w.resolver.Resolve(fk.References, ref.Value)
			}

			switch res.Status {
			case mapper.Resolved:
				u.Values[i] = uuid.NullUUID{UUID: res.ID, Valid: true}
				counts.ReferencesResolved++
			case mapper.Ambiguous:
				counts.ReferencesAmbiguous++
				w.rec.AddAmbiguous(report.AmbiguousReference{
					EntityType:   et.Name,
					SurrogateID:  row.ID.String(),
					Column:       fk.Column,
					LegacyValue:  ref.Value,
					References:   fk.References,
					CandidateIDs: idStrings(res.Candidates),
				})
			default:
				if fk.Nullable {
					counts.ReferencesSkipped++
					continue
				}
				counts.ReferencesUnresolved++
				w.rec.AddUnresolved(report.UnresolvedReference{
					EntityType:  et.Name,
					SurrogateID: row.ID.String(),
					Column:      fk.Column,
					Field:       ref.Field,
					LegacyValue: ref.Value,
					References:  fk.References,
				})
			}
		}
		updates = append(updates, u)
	}

	w.rec.Count(et.Name, func(c *report.EntityCounts) {
		c.ReferencesResolved += counts.ReferencesResolved
		c.ReferencesUnresolved += counts.ReferencesUnresolved
		c.ReferencesAmbiguous += counts.ReferencesAmbiguous
		c.ReferencesSkipped += counts.ReferencesSkipped
	})
	return updates
}

func idStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}
