package rewrite

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/docmigrate/internal/mapper"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/report"
)

var invoiceType = model.EntityType{
	Name:   "invoice",
	Source: "invoices",
	ForeignKeys: []model.ForeignKeySpec{
		{Column: "customer_id", References: "customer", Candidates: []string{"customer_ref", "customerRef"}},
		{Column: "job_id", References: "job", Nullable: true, Candidates: []string{"job_ref"}},
	},
}

func invoiceRow(t *testing.T, fields map[string]any) *model.Row {
	t.Helper()
	rec := model.NewSourceRecord(model.Origin{Collection: "invoices", DocumentID: uuid.NewString()}, fields)
	row, invalid := model.BuildRow(&invoiceType, rec, uuid.New())
	require.Empty(t, invalid)
	return row
}

func TestRewrite_ExampleScenario(t *testing.T) {
	m := mapper.New()
	c1 := m.Assign("customer", "C1")
	c2 := m.Assign("customer", "C2")
	rec := report.NewRecorder("run")

	rows := []*model.Row{
		invoiceRow(t, map[string]any{"customer_ref": "C1"}),
		invoiceRow(t, map[string]any{"customer_ref": "C2"}),
		invoiceRow(t, map[string]any{"customer_ref": "C9"}),
	}

	updates := New(m, rec).Rewrite(&invoiceType, rows)
	require.Len(t, updates, 3)
	assert.Equal(t, uuid.NullUUID{UUID: c1, Valid: true}, updates[0].Values[0])
	assert.Equal(t, uuid.NullUUID{UUID: c2, Valid: true}, updates[1].Values[0])
	assert.False(t, updates[2].Values[0].Valid)

	r := rec.Report()
	require.Len(t, r.Unresolved, 1)
	assert.Equal(t, report.UnresolvedReference{
		EntityType:  "invoice",
		SurrogateID: rows[2].ID.String(),
		Column:      "customer_id",
		Field:       "customer_ref",
		LegacyValue: "C9",
		References:  "customer",
	}, r.Unresolved[0])

	counts := r.Counts("invoice")
	assert.Equal(t, 2, counts.ReferencesResolved)
	assert.Equal(t, 1, counts.ReferencesUnresolved)
	assert.Equal(t, 3, counts.ReferencesSkipped, "absent optional job_id on every row")
	assert.Equal(t, 1, counts.DegradedRows)
}

func TestRewrite_CandidateColumnDrift(t *testing.T) {
	m := mapper.New()
	c1 := m.Assign("customer", "C1")
	rec := report.NewRecorder("run")

	row := invoiceRow(t, map[string]any{"customerRef": "C1"})
	updates := New(m, rec).Rewrite(&invoiceType, []*model.Row{row})

	assert.Equal(t, uuid.NullUUID{UUID: c1, Valid: true}, updates[0].Values[0])
	assert.True(t, rec.Report().Clean())
}

func TestRewrite_OptionalMissingIsSilent(t *testing.T) {
	m := mapper.New()
	m.Assign("customer", "C1")
	rec := report.NewRecorder("run")

	row := invoiceRow(t, map[string]any{"customer_ref": "C1", "job_ref": "J404"})
	updates := New(m, rec).Rewrite(&invoiceType, []*model.Row{row})

	assert.False(t, updates[0].Values[1].Valid)
	r := rec.Report()
	assert.True(t, r.Clean())
	assert.Equal(t, 1, r.Counts("invoice").ReferencesSkipped)
}

func TestRewrite_RequiredAbsentIsUnresolved(t *testing.T) {
	rec := report.NewRecorder("run")
	row := invoiceRow(t, map[string]any{})

	updates := New(mapper.New(), rec).Rewrite(&invoiceType, []*model.Row{row})

	assert.False(t, updates[0].Values[0].Valid)
	r := rec.Report()
	require.Len(t, r.Unresolved, 1)
	assert.Equal(t, "", r.Unresolved[0].LegacyValue)
}

func TestRewrite_UnusableValueKeepsRemediationDetail(t *testing.T) {
	rec := report.NewRecorder("run")
	row := invoiceRow(t, map[string]any{"customerRef": map[string]any{"id": "C1"}})

	updates := New(mapper.New(), rec).Rewrite(&invoiceType, []*model.Row{row})

	assert.False(t, updates[0].Values[0].Valid)
	r := rec.Report()
	require.Len(t, r.Unresolved, 1)
	assert.Equal(t, "customerRef", r.Unresolved[0].Field)
	assert.Equal(t, "map[id:C1]", r.Unresolved[0].LegacyValue)
}

func TestRewrite_AmbiguousIsConflict(t *testing.T) {
	m := mapper.New()
	upper := m.Assign("customer", "C1")
	lower := m.Assign("customer", "c1")
	rec := report.NewRecorder("run")

	row := invoiceRow(t, map[string]any{"customer_ref": "C1"})
	updates := New(m, rec).Rewrite(&invoiceType, []*model.Row{row})

	assert.False(t, updates[0].Values[0].Valid)
	r := rec.Report()
	assert.Empty(t, r.Unresolved)
	require.Len(t, r.Ambiguous, 1)
	assert.ElementsMatch(t, []string{upper.String(), lower.String()}, r.Ambiguous[0].CandidateIDs)
	assert.Equal(t, 1, r.Counts("invoice").ReferencesAmbiguous)
}

func TestRewrite_NoForeignKeys(t *testing.T) {
	rec := report.NewRecorder("run")
	customer := model.EntityType{Name: "customer", Source: "customers"}
	assert.Nil(t, New(mapper.New(), rec).Rewrite(&customer, []*model.Row{{ID: uuid.New()}}))
}
