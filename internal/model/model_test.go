package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = `
entity_types:
  - name: customer
    source: customers
    attributes:
      - column: customer_number
        fields: [customerNumber, customer_no]
        unique: true
      - column: credit_limit
        type: numeric
  - name: invoice
    source: customers/*/invoices
    legacy_key: invoiceNo
    attributes:
      - column: issued_at
        type: timestamptz
    foreign_keys:
      - column: customer_id
        references: customer
        candidates: [customer_ref, customerRef, $parent]
evolutions:
  - version: 1
    name: rename_cust_ref
    steps:
      - op: rename_column
        table: invoice
        column: cust_ref
        to: customer_ref
`

func TestParse(t *testing.T) {
	m, err := Parse([]byte(testModel))
	require.NoError(t, err)

	assert.Equal(t, "1", m.Version)
	require.Len(t, m.EntityTypes, 2)

	customer, ok := m.EntityType("customer")
	require.True(t, ok)
	assert.Equal(t, "customer", customer.TableName())
	assert.Equal(t, IDField, customer.LegacyKey)
	assert.Equal(t, "text", customer.Attributes[0].Type)
	assert.Equal(t, []string{"credit_limit"}, customer.Attributes[1].Fields)
	assert.Equal(t, []string{"customer_number"}, customer.UniqueColumns())

	invoice, ok := m.EntityType("invoice")
	require.True(t, ok)
	path, err := invoice.SourcePath()
	require.NoError(t, err)
	assert.Equal(t, SourcePath{Collection: "customers", Subcollection: "invoices"}, path)
	assert.False(t, invoice.ForeignKeys[0].Nullable)
	assert.Equal(t, []string{"legacy_id", "issued_at", "extra"}, invoice.WriteColumns())
	assert.Equal(t, []string{"customer_id"}, invoice.ReferenceColumns())

	require.Len(t, m.Evolutions, 1)
	assert.Equal(t, "rename_column", m.Evolutions[0].Steps[0].Op)
}

func TestParse_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "no entity types",
			yaml: `version: "1"`,
			want: "no entity types declared",
		},
		{
			name: "unknown reference",
			yaml: `
entity_types:
  - name: invoice
    source: invoices
    foreign_keys:
      - column: customer_id
        references: customer
`,
			want: `references unknown entity type "customer"`,
		},
		{
			name: "reserved column",
			yaml: `
entity_types:
  - name: customer
    source: customers
    attributes:
      - column: legacy_id
`,
			want: "reserved or declared more than once",
		},
		{
			name: "bad source path",
			yaml: `
entity_types:
  - name: job
    source: customers/C1/jobs
`,
			want: "invalid source path",
		},
		{
			name: "bad type",
			yaml: `
entity_types:
  - name: customer
    source: customers
    attributes:
      - column: n
        type: serial
`,
			want: `unsupported type "serial"`,
		},
		{
			name: "duplicate table",
			yaml: `
entity_types:
  - name: customer
    source: customers
  - name: client
    table: customer
    source: clients
`,
			want: `table "customer" is used by another entity type`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrConfig))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestSourceRecord_Immutable(t *testing.T) {
	fields := map[string]any{"name": "Acme", "tags": []any{"a"}}
	rec := NewSourceRecord(Origin{Collection: "customers", DocumentID: "C1"}, fields)

	fields["name"] = "changed"
	fields["tags"].([]any)[0] = "changed"

	v, ok := rec.Value("name")
	require.True(t, ok)
	assert.Equal(t, "Acme", v)

	tags, _ := rec.Value("tags")
	tags.([]any)[0] = "mutated"
	again, _ := rec.Value("tags")
	assert.Equal(t, []any{"a"}, again)
}

func TestSourceRecord_First(t *testing.T) {
	rec := NewSourceRecord(
		Origin{Collection: "customers", ParentID: "C1", Subcollection: "invoices", DocumentID: "I1"},
		map[string]any{"customerRef": nil, "customer_ref": "C2"},
	)

	field, v, ok := rec.First([]string{"customerRef", "customer_ref", ParentField})
	require.True(t, ok)
	assert.Equal(t, "customer_ref", field)
	assert.Equal(t, "C2", v)

	field, v, ok = rec.First([]string{"missing", ParentField})
	require.True(t, ok)
	assert.Equal(t, ParentField, field)
	assert.Equal(t, "C1", v)

	_, _, ok = rec.First([]string{"missing"})
	assert.False(t, ok)
}

func TestLegacyString(t *testing.T) {
	s, ok := LegacyString(float64(42))
	assert.True(t, ok)
	assert.Equal(t, "42", s)

	s, ok = LegacyString(1.5)
	assert.True(t, ok)
	assert.Equal(t, "1.5", s)

	_, ok = LegacyString("  ")
	assert.False(t, ok)

	_, ok = LegacyString(map[string]any{"a": 1})
	assert.False(t, ok)
}

func TestBuildRow(t *testing.T) {
	m, err := Parse([]byte(testModel))
	require.NoError(t, err)
	invoice, _ := m.EntityType("invoice")

	rec := NewSourceRecord(
		Origin{Collection: "customers", ParentID: "C1", Subcollection: "invoices", DocumentID: "doc-1"},
		map[string]any{
			"invoiceNo":   "INV-7",
			"issued_at":   "2021-03-04T05:06:07Z",
			"customerRef": "C9",
			"memo":        "paid late",
		},
	)
	id := uuid.New()

	row, invalid := BuildRow(invoice, rec, id)
	assert.Empty(t, invalid)
	assert.Equal(t, id, row.ID)
	assert.Equal(t, "INV-7", row.LegacyID)
	assert.Equal(t, time.Date(2021, 3, 4, 5, 6, 7, 0, time.UTC), row.Values[0])
	assert.Equal(t, Reference{Field: "customerRef", Value: "C9", Present: true}, row.Refs[0])
	assert.Equal(t, map[string]any{"memo": "paid late"}, row.Extra)

	vals, err := row.WriteValues()
	require.NoError(t, err)
	require.Len(t, vals, 3)
	assert.Equal(t, "INV-7", vals[0])
	assert.JSONEq(t, `{"memo":"paid late"}`, string(vals[2].(json.RawMessage)))
}

func TestBuildRow_UnusableReferenceValue(t *testing.T) {
	m, err := Parse([]byte(testModel))
	require.NoError(t, err)
	invoice, _ := m.EntityType("invoice")

	rec := NewSourceRecord(
		Origin{Collection: "customers", ParentID: "C1", Subcollection: "invoices", DocumentID: "doc-2"},
		map[string]any{"invoiceNo": "INV-8", "customerRef": "   "},
	)
	row, _ := BuildRow(invoice, rec, uuid.New())
	assert.Equal(t, Reference{Field: "customerRef", Value: "   "}, row.Refs[0])
}

func TestBuildRow_InvalidValue(t *testing.T) {
	m, err := Parse([]byte(testModel))
	require.NoError(t, err)
	customer, _ := m.EntityType("customer")

	rec := NewSourceRecord(
		Origin{Collection: "customers", DocumentID: "C1"},
		map[string]any{"customer_no": "CUS-001", "credit_limit": "lots"},
	)

	row, invalid := BuildRow(customer, rec, uuid.New())
	assert.Equal(t, "C1", row.LegacyID)
	assert.Equal(t, "CUS-001", row.Values[0])
	assert.Nil(t, row.Values[1])
	require.Len(t, invalid, 1)
	assert.Equal(t, "credit_limit", invalid[0].Column)
	assert.Equal(t, "lots", invalid[0].Value)
}

func TestCoerce(t *testing.T) {
	v, err := Coerce("integer", float64(7))
	require.NoError(t, err)
	assert.Equal(t, int64(7), v)

	_, err = Coerce("integer", 7.5)
	assert.Error(t, err)

	v, err = Coerce("boolean", "true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	v, err = Coerce("text", float64(12))
	require.NoError(t, err)
	assert.Equal(t, "12", v)

	v, err = Coerce("date", "2020-01-02")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC), v)

	v, err = Coerce("jsonb", map[string]any{"a": float64(1)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(v.(json.RawMessage)))
}
