package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/docmigrate/internal/schema"
)

// Reference is the legacy value captured for one foreign key at read time.
// When the first present candidate holds no usable legacy id, Present is
// false and Value is the raw value rendered for the report.
type Reference struct {
	Field   string // candidate field the value came from
	Value   string
	Present bool
}

// Row is the relational representation of one source record.
type Row struct {
	ID       uuid.UUID
	LegacyID string // empty for anonymous records
	Origin   Origin
	Values   []any          // coerced attribute values, aligned with EntityType.Attributes
	Extra    map[string]any // undeclared source fields, kept opaquely
	Refs     []Reference    // aligned with EntityType.ForeignKeys
}

// InvalidValue reports a source value that could not be coerced to its column type.
type InvalidValue struct {
	Column string
	Field  string
	Value  string
	Reason string
}

// LegacyID returns the record's legacy identifier. ok is false for anonymous
// records whose legacy key is absent.
func (e *EntityType) LegacyID(rec SourceRecord) (string, bool) {
	key := e.LegacyKey
	if key == "" {
		key = IDField
	}
	v, ok := rec.Value(key)
	if !ok {
		return "", false
	}
	return LegacyString(v)
}

// BuildRow converts a source record into a row with the given surrogate id.
// Values that cannot be coerced are stored as NULL and reported.
func BuildRow(et *EntityType, rec SourceRecord, id uuid.UUID) (*Row, []InvalidValue) {
	row := &Row{
		ID:     id,
		Origin: rec.Origin(),
		Values: make([]any, len(et.Attributes)),
		Refs:   make([]Reference, len(et.ForeignKeys)),
	}
	row.LegacyID, _ = et.LegacyID(rec)

	consumed := map[string]bool{et.LegacyKey: true}
	var invalid []InvalidValue

	for i, a := range et.Attributes {
		for _, f := range a.Fields {
			consumed[f] = true
		}
		field, raw, ok := rec.First(a.Fields)
		if !ok {
			continue
		}
		v, err := Coerce(a.Type, raw)
		if err != nil {
			invalid = append(invalid, InvalidValue{
				Column: a.Column,
				Field:  field,
				Value:  truncate(fmt.Sprint(raw), 200),
				Reason: err.Error(),
			})
			continue
		}
		row.Values[i] = v
	}

	for i, fk := range et.ForeignKeys {
		for _, f := range fk.Candidates {
			consumed[f] = true
		}
		field, raw, ok := rec.First(fk.Candidates)
		if !ok {
			continue
		}
		if s, ok := LegacyString(raw); ok {
			row.Refs[i] = Reference{Field: field, Value: s, Present: true}
			continue
		}
		row.Refs[i] = Reference{Field: field, Value: truncate(fmt.Sprint(raw), 200)}
	}

	for _, name := range rec.FieldNames() {
		if consumed[name] {
			continue
		}
		if row.Extra == nil {
			row.Extra = make(map[string]any)
		}
		row.Extra[name], _ = rec.Value(name)
	}

	return row, invalid
}

// WriteValues returns the values for EntityType.WriteColumns.
func (r *Row) WriteValues() ([]any, error) {
	vals := make([]any, 0, len(r.Values)+2)
	if r.LegacyID == "" {
		vals = append(vals, nil)
	} else {
		vals = append(vals, r.LegacyID)
	}
	vals = append(vals, r.Values...)

	if len(r.Extra) == 0 {
		return append(vals, nil), nil
	}
	extra, err := json.Marshal(r.Extra)
	if err != nil {
		return nil, fmt.Errorf("failed to encode extra fields of %s: %w", r.Origin.Path(), err)
	}
	return append(vals, json.RawMessage(extra)), nil
}

// Coerce converts a source value to the Go representation of a column type.
func Coerce(colType string, v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	switch colType {
	case "smallint", "integer", "bigint":
		return coerceInt(v)
	case "numeric", "real", "double precision":
		return coerceFloat(v)
	case "boolean":
		return coerceBool(v)
	case "date", "timestamp", "timestamptz":
		return coerceTime(v)
	case "uuid":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected uuid string, got %T", v)
		}
		return uuid.Parse(strings.TrimSpace(s))
	case "json", "jsonb":
		b, err := json.Marshal(v)
		if err != nil {
			return nil, err
		}
		return json.RawMessage(b), nil
	}

	if schema.Category(colType) != "String" {
		return nil, fmt.Errorf("unsupported column type %q", colType)
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	default:
		if s, ok := LegacyString(t); ok {
			return s, nil
		}
		return fmt.Sprint(t), nil
	}
}

func coerceInt(v any) (any, error) {
	switch t := v.(type) {
	case int64:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case float64:
		if t != math.Trunc(t) || math.Abs(t) > math.MaxInt64 {
			return nil, fmt.Errorf("%v is not an integer", t)
		}
		return int64(t), nil
	case json.Number:
		return t.Int64()
	case string:
		return strconv.ParseInt(strings.TrimSpace(t), 10, 64)
	}
	return nil, fmt.Errorf("expected integer, got %T", v)
}

func coerceFloat(v any) (any, error) {
	switch t := v.(type) {
	case float64:
		return t, nil
	case int64:
		return float64(t), nil
	case int:
		return float64(t), nil
	case json.Number:
		return t.Float64()
	case string:
		return strconv.ParseFloat(strings.TrimSpace(t), 64)
	}
	return nil, fmt.Errorf("expected number, got %T", v)
}

func coerceBool(v any) (any, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case string:
		return strconv.ParseBool(strings.TrimSpace(t))
	case float64:
		if t == 0 || t == 1 {
			return t == 1, nil
		}
	}
	return nil, fmt.Errorf("expected boolean, got %v", v)
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTime(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return nil, fmt.Errorf("unrecognized time format %q", s)
	}
	return nil, fmt.Errorf("expected time, got %T", v)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
