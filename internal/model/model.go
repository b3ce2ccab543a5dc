// Package model declares the entity types a migration moves from the document
// store into relational tables, and the records flowing between them.
package model

import (
	"fmt"
	"strings"

	"github.com/JonMunkholm/docmigrate/internal/schema"
)

// Special field names understood by SourceRecord.Value.
const (
	IDField     = "$id"     // the document identifier
	ParentField = "$parent" // the parent document identifier of a subcollection document
)

// Reserved columns present on every entity table.
const (
	ColumnID       = schema.PrimaryKeyColumn
	ColumnLegacyID = "legacy_id"
	ColumnExtra    = "extra"
)

// Model is the parsed entity model file.
type Model struct {
	Version     string             `yaml:"version"`
	EntityTypes []EntityType       `yaml:"entity_types"`
	Evolutions  []schema.Evolution `yaml:"evolutions,omitempty"`
}

// EntityType returns the declared entity type with the given name.
func (m *Model) EntityType(name string) (*EntityType, bool) {
	for i := range m.EntityTypes {
		if m.EntityTypes[i].Name == name {
			return &m.EntityTypes[i], true
		}
	}
	return nil, false
}

// EntityType is a named category of migrated record.
type EntityType struct {
	Name        string           `yaml:"name"`
	Table       string           `yaml:"table,omitempty"`
	Source      string           `yaml:"source"`
	LegacyKey   string           `yaml:"legacy_key,omitempty"`
	Attributes  []Attribute      `yaml:"attributes,omitempty"`
	ForeignKeys []ForeignKeySpec `yaml:"foreign_keys,omitempty"`
}

// Attribute maps source fields onto one scalar column.
type Attribute struct {
	Column string   `yaml:"column"`
	Fields []string `yaml:"fields,omitempty"` // candidate source fields, first present wins
	Type   string   `yaml:"type,omitempty"`
	Unique bool     `yaml:"unique,omitempty"`
}

// ForeignKeySpec declares a reference from one entity type to another.
type ForeignKeySpec struct {
	Column     string   `yaml:"column"`
	References string   `yaml:"references"`
	Nullable   bool     `yaml:"nullable,omitempty"`
	Candidates []string `yaml:"candidates,omitempty"` // legacy spellings of the reference field, in priority order
}

// SourcePath locates the documents of an entity type: a root collection, or a
// named subcollection under every document of a root collection.
type SourcePath struct {
	Collection    string
	Subcollection string
}

// ParseSourcePath parses "customers" or "customers/*/jobs".
func ParseSourcePath(s string) (SourcePath, error) {
	parts := strings.Split(s, "/")
	switch {
	case len(parts) == 1 && parts[0] != "":
		return SourcePath{Collection: parts[0]}, nil
	case len(parts) == 3 && parts[0] != "" && parts[1] == "*" && parts[2] != "":
		return SourcePath{Collection: parts[0], Subcollection: parts[2]}, nil
	default:
		return SourcePath{}, fmt.Errorf("invalid source path %q: want \"collection\" or \"collection/*/subcollection\"", s)
	}
}

func (p SourcePath) String() string {
	if p.Subcollection == "" {
		return p.Collection
	}
	return p.Collection + "/*/" + p.Subcollection
}

// SourcePath returns the parsed source path of the entity type.
func (e *EntityType) SourcePath() (SourcePath, error) {
	return ParseSourcePath(e.Source)
}

// TableName returns the relational table the entity type is written to.
func (e *EntityType) TableName() string {
	if e.Table != "" {
		return e.Table
	}
	return e.Name
}

// WriteColumns lists the columns written by the load pass, excluding the
// primary key. Foreign key columns are written by the rewrite pass.
func (e *EntityType) WriteColumns() []string {
	cols := make([]string, 0, len(e.Attributes)+2)
	cols = append(cols, ColumnLegacyID)
	for _, a := range e.Attributes {
		cols = append(cols, a.Column)
	}
	return append(cols, ColumnExtra)
}

// ReferenceColumns lists the foreign key columns in declaration order.
func (e *EntityType) ReferenceColumns() []string {
	cols := make([]string, 0, len(e.ForeignKeys))
	for _, fk := range e.ForeignKeys {
		cols = append(cols, fk.Column)
	}
	return cols
}

// UniqueColumns lists the attribute columns declared unique.
func (e *EntityType) UniqueColumns() []string {
	var cols []string
	for _, a := range e.Attributes {
		if a.Unique {
			cols = append(cols, a.Column)
		}
	}
	return cols
}

// TableDef describes the relational table of the entity type.
func (e *EntityType) TableDef() schema.TableDef {
	cols := make([]schema.ColumnDef, 0, len(e.Attributes)+len(e.ForeignKeys)+3)
	cols = append(cols,
		schema.ColumnDef{Name: ColumnID, Type: "uuid", PrimaryKey: true},
		schema.ColumnDef{Name: ColumnLegacyID, Type: "text"},
	)
	for _, a := range e.Attributes {
		cols = append(cols, schema.ColumnDef{Name: a.Column, Type: a.Type})
	}
	for _, fk := range e.ForeignKeys {
		cols = append(cols, schema.ColumnDef{Name: fk.Column, Type: "uuid"})
	}
	cols = append(cols, schema.ColumnDef{Name: ColumnExtra, Type: "jsonb"})
	return schema.TableDef{Name: e.TableName(), Columns: cols}
}
