package model

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Origin is where a source record was read from.
type Origin struct {
	Collection    string `json:"collection"`
	ParentID      string `json:"parentId,omitempty"`
	Subcollection string `json:"subcollection,omitempty"`
	DocumentID    string `json:"documentId"`
}

// Path renders the origin as a document path, e.g. "customers/C1/jobs/J7".
func (o Origin) Path() string {
	if o.Subcollection == "" {
		return o.Collection + "/" + o.DocumentID
	}
	return o.Collection + "/" + o.ParentID + "/" + o.Subcollection + "/" + o.DocumentID
}

// SourceRecord is a raw document read from the document store. It is
// immutable: the field map is copied on construction and never exposed.
type SourceRecord struct {
	origin Origin
	fields map[string]any
}

// NewSourceRecord builds a record from a document, deep-copying its fields.
func NewSourceRecord(origin Origin, fields map[string]any) SourceRecord {
	copied, _ := copyValue(fields).(map[string]any)
	if copied == nil {
		copied = map[string]any{}
	}
	return SourceRecord{origin: origin, fields: copied}
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, val := range t {
			m[k] = copyValue(val)
		}
		return m
	case []any:
		s := make([]any, len(t))
		for i, val := range t {
			s[i] = copyValue(val)
		}
		return s
	default:
		return v
	}
}

// Origin returns where the record was read from.
func (r SourceRecord) Origin() Origin { return r.origin }

// Value returns a present, non-null field. IDField and ParentField resolve to
// the origin's document and parent identifiers.
func (r SourceRecord) Value(name string) (any, bool) {
	switch name {
	case IDField:
		return r.origin.DocumentID, r.origin.DocumentID != ""
	case ParentField:
		return r.origin.ParentID, r.origin.ParentID != ""
	}
	v, ok := r.fields[name]
	if !ok || v == nil {
		return nil, false
	}
	return copyValue(v), true
}

// First returns the first candidate field that is present and non-null.
func (r SourceRecord) First(candidates []string) (string, any, bool) {
	for _, name := range candidates {
		if v, ok := r.Value(name); ok {
			return name, v, true
		}
	}
	return "", nil, false
}

// FieldNames returns the record's field names in sorted order.
func (r SourceRecord) FieldNames() []string {
	names := make([]string, 0, len(r.fields))
	for name := range r.fields {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// LegacyString renders a legacy identifier or reference value as a string.
// Integral floats (as decoded from JSON) render without a fraction. Empty
// strings and composite values are not usable identifiers.
func LegacyString(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, strings.TrimSpace(t) != ""
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1<<53 {
			return strconv.FormatInt(int64(t), 10), true
		}
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case int:
		return strconv.Itoa(t), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case json.Number:
		return t.String(), true
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano), true
	case fmt.Stringer:
		s := t.String()
		return s, s != ""
	default:
		return "", false
	}
}
