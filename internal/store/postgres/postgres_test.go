package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/docmigrate/internal/mapper"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/rewrite"
)

func TestTransient(t *testing.T) {
	s := &Store{}
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("boom"), false},
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "40P01"}), true},
		{"connection exception", &pgconn.PgError{Code: "08006"}, true},
		{"admin shutdown", &pgconn.PgError{Code: "57P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"undefined table", &pgconn.PgError{Code: "42P01"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Transient(tt.err))
		})
	}
}

func TestToPG(t *testing.T) {
	id := uuid.New()
	assert.Equal(t, pgtype.UUID{Bytes: [16]byte(id), Valid: true}, toPG(id))
	assert.Equal(t, `{"a":1}`, toPG(json.RawMessage(`{"a":1}`)))
	assert.Equal(t, int64(7), toPG(int64(7)))
	assert.Nil(t, toPG(nil))
}

// TestStore_Integration runs against a live database named by
// TEST_DATABASE_URL. The tables it creates are dropped afterwards.
func TestStore_Integration(t *testing.T) {
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()

	s, err := Connect(ctx, url, Options{BatchSize: 2})
	require.NoError(t, err)
	t.Cleanup(s.Close)

	customer := model.EntityType{
		Name: "customer", Table: "it_customers", Source: "customers",
		Attributes: []model.Attribute{{Column: "customer_number", Fields: []string{"number"}, Type: "text", Unique: true}},
	}
	invoice := model.EntityType{
		Name: "invoice", Table: "it_invoices", Source: "invoices",
		ForeignKeys: []model.ForeignKeySpec{{Column: "customer_id", References: "customer", Candidates: []string{"customer_ref"}}},
	}
	t.Cleanup(func() {
		for _, table := range []string{"it_customers", "it_invoices"} {
			_, _ = s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+table)
		}
		_, _ = s.pool.Exec(ctx, "DELETE FROM id_mappings WHERE entity_type IN ('customer', 'invoice')")
	})

	require.NoError(t, s.EnsureSchema(ctx, []model.EntityType{customer, invoice}))

	current, err := s.GetSchema(ctx)
	require.NoError(t, err)
	table := current.Table("it_customers")
	require.NotNil(t, table)
	require.NotNil(t, table.Column("id"))
	assert.True(t, table.Column("id").IsPrimary)
	assert.NotNil(t, table.Column("customer_number"))

	c1, c2, i1 := uuid.New(), uuid.New(), uuid.New()
	rows := make([]*model.Row, 0, 3)
	for _, r := range []struct {
		id  uuid.UUID
		doc string
	}{{c1, "C1"}, {c2, "C2"}} {
		rec := model.NewSourceRecord(model.Origin{Collection: "customers", DocumentID: r.doc}, map[string]any{"number": "CUS-001"})
		row, _ := model.BuildRow(&customer, rec, r.id)
		rows = append(rows, row)
	}
	mappings := []mapper.Mapping{
		{EntityType: "customer", Kind: mapper.KindLegacy, LegacyID: "C1", SurrogateID: c1},
		{EntityType: "customer", Kind: mapper.KindLegacy, LegacyID: "C2", SurrogateID: c2},
	}
	require.NoError(t, s.WriteEntities(ctx, &customer, rows, mappings))
	require.NoError(t, s.WriteEntities(ctx, &customer, rows, mappings))

	got, ok, err := s.LookupMapping(ctx, "customer", "C1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, c1, got)

	invRec := model.NewSourceRecord(model.Origin{Collection: "invoices", DocumentID: "I1"}, nil)
	invRow, _ := model.BuildRow(&invoice, invRec, i1)
	require.NoError(t, s.WriteEntities(ctx, &invoice, []*model.Row{invRow}, nil))
	require.NoError(t, s.WriteReferences(ctx, &invoice, []rewrite.Update{
		{RowID: i1, Values: []uuid.NullUUID{{UUID: uuid.New(), Valid: true}}},
	}))

	dups, err := s.DuplicateValues(ctx, "it_customers", "customer_number")
	require.NoError(t, err)
	assert.Len(t, dups, 2)

	orphans, err := s.OrphanReferences(ctx, "it_invoices", "customer_id", "it_customers")
	require.NoError(t, err)
	require.Len(t, orphans, 1)
	assert.Equal(t, i1.String(), orphans[0].ID)

	audit, err := s.PrimaryKeyAudit(ctx, "it_customers")
	require.NoError(t, err)
	assert.Equal(t, []string{"id"}, audit.Columns)
	assert.Zero(t, audit.NullRows)
	assert.Empty(t, audit.DuplicateIDs)
}
