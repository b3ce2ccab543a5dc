// Package report accumulates migration counts and integrity anomalies into a
// reconciliation report.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// EntityCounts summarizes one entity type.
type EntityCounts struct {
	RowsRead             int `json:"rowsRead"`
	RowsWritten          int `json:"rowsWritten"`
	ReferencesResolved   int `json:"referencesResolved"`
	ReferencesUnresolved int `json:"referencesUnresolved"`
	ReferencesAmbiguous  int `json:"referencesAmbiguous"`
	ReferencesSkipped    int `json:"referencesSkipped"` // optional references left null
	DegradedRows         int `json:"degradedRows"`
}

// UnresolvedReference is a required reference whose legacy value has no mapping.
type UnresolvedReference struct {
	EntityType  string `json:"entityType"`
	SurrogateID string `json:"surrogateId"`
	Column      string `json:"column"`
	Field       string `json:"field,omitempty"`
	LegacyValue string `json:"legacyValue"`
	References  string `json:"references"`
}

// AmbiguousReference is a reference whose legacy value maps to more than one
// surrogate id. It needs manual resolution.
type AmbiguousReference struct {
	EntityType   string   `json:"entityType"`
	SurrogateID  string   `json:"surrogateId"`
	Column       string   `json:"column"`
	LegacyValue  string   `json:"legacyValue"`
	References   string   `json:"references"`
	CandidateIDs []string `json:"candidateIds"`
}

// DuplicateLegacyID is a source record skipped because an earlier record of
// the same entity type already claimed its legacy id in this run.
type DuplicateLegacyID struct {
	EntityType  string `json:"entityType"`
	LegacyID    string `json:"legacyId"`
	SurrogateID string `json:"surrogateId"`
	Origin      string `json:"origin"`
}

// InvalidValue is an attribute value that could not be coerced to its column type.
type InvalidValue struct {
	EntityType  string `json:"entityType"`
	SurrogateID string `json:"surrogateId"`
	Column      string `json:"column"`
	Field       string `json:"field"`
	Value       string `json:"value"`
	Reason      string `json:"reason"`
}

// DuplicateGroup lists rows sharing a value in a column intended to be unique.
type DuplicateGroup struct {
	EntityType   string   `json:"entityType"`
	Column       string   `json:"column"`
	Value        string   `json:"value"`
	SurrogateIDs []string `json:"surrogateIds"`
}

// OrphanReference is a foreign key value with no row in the referenced table.
type OrphanReference struct {
	EntityType  string `json:"entityType"`
	SurrogateID string `json:"surrogateId"`
	Column      string `json:"column"`
	Value       string `json:"value"`
	References  string `json:"references"`
}

// MissingPrimaryKey reports a primary key defect of an entity table.
type MissingPrimaryKey struct {
	EntityType   string   `json:"entityType"`
	Table        string   `json:"table"`
	Reason       string   `json:"reason"`
	NullRows     int64    `json:"nullRows,omitempty"`
	DuplicateIDs []string `json:"duplicateIds,omitempty"`
}

// Report is the reconciliation report of one run.
type Report struct {
	RunID              string                   `json:"runId"`
	GeneratedAt        time.Time                `json:"generatedAt"`
	Order              []string                 `json:"order"`
	Entities           map[string]*EntityCounts `json:"entities"`
	Unresolved         []UnresolvedReference    `json:"unresolvedReferences"`
	Ambiguous          []AmbiguousReference     `json:"ambiguousReferences"`
	DuplicateLegacyIDs []DuplicateLegacyID      `json:"duplicateLegacyIds"`
	InvalidValues      []InvalidValue           `json:"invalidValues"`
	DuplicateValues    []DuplicateGroup         `json:"duplicateValues"`
	Orphans            []OrphanReference        `json:"orphanedReferences"`
	MissingPrimaryKeys []MissingPrimaryKey      `json:"missingPrimaryKeys"`
}

// AnomalyCount returns the total number of recorded anomalies.
func (r *Report) AnomalyCount() int {
	return len(r.Unresolved) + len(r.Ambiguous) + len(r.DuplicateLegacyIDs) +
		len(r.InvalidValues) + len(r.DuplicateValues) + len(r.Orphans) + len(r.MissingPrimaryKeys)
}

// Clean reports whether the run produced no anomalies.
func (r *Report) Clean() bool {
	return r.AnomalyCount() == 0
}

// Counts returns the counts of an entity type, or zero counts when absent.
func (r *Report) Counts(entityType string) EntityCounts {
	if c, ok := r.Entities[entityType]; ok {
		return *c
	}
	return EntityCounts{}
}

// AnomaliesByKind returns the number of anomalies per kind.
func (r *Report) AnomaliesByKind() map[string]int {
	return map[string]int{
		"unresolved_reference": len(r.Unresolved),
		"ambiguous_reference":  len(r.Ambiguous),
		"duplicate_legacy_id":  len(r.DuplicateLegacyIDs),
		"invalid_value":        len(r.InvalidValues),
		"duplicate_value":      len(r.DuplicateValues),
		"orphaned_reference":   len(r.Orphans),
		"missing_primary_key":  len(r.MissingPrimaryKeys),
	}
}

// WriteJSON writes the report as indented JSON.
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// ReadJSON decodes a report written by WriteJSON.
func ReadJSON(rd io.Reader) (*Report, error) {
	var r Report
	if err := json.NewDecoder(rd).Decode(&r); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	return &r, nil
}
