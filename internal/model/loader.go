package model

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/docmigrate/internal/schema"
)

// ErrConfig matches every configuration error; they are fatal and abort a
// migration before anything is written.
var ErrConfig = errors.New("configuration error")

// ConfigError describes an invalid entity model.
type ConfigError struct {
	EntityType string
	Msg        string
}

func (e *ConfigError) Error() string {
	if e.EntityType == "" {
		return "configuration error: " + e.Msg
	}
	return fmt.Sprintf("configuration error: entity type %q: %s", e.EntityType, e.Msg)
}

func (e *ConfigError) Is(target error) bool { return target == ErrConfig }

func configErrorf(entityType, format string, args ...any) *ConfigError {
	return &ConfigError{EntityType: entityType, Msg: fmt.Sprintf(format, args...)}
}

// LoadFile loads, defaults and validates a YAML model file.
func LoadFile(path string) (*Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read model file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses YAML data into a validated Model.
func Parse(data []byte) (*Model, error) {
	var m Model
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse model YAML: %w", err)
	}

	applyDefaults(&m)

	if err := Validate(&m); err != nil {
		return nil, err
	}
	return &m, nil
}

// applyDefaults fills in default values for optional fields.
func applyDefaults(m *Model) {
	if m.Version == "" {
		m.Version = "1"
	}

	for i := range m.EntityTypes {
		et := &m.EntityTypes[i]
		if et.Table == "" {
			et.Table = et.Name
		}
		if et.LegacyKey == "" {
			et.LegacyKey = IDField
		}
		for j := range et.Attributes {
			a := &et.Attributes[j]
			if len(a.Fields) == 0 {
				a.Fields = []string{a.Column}
			}
			if a.Type == "" {
				a.Type = "text"
			}
		}
		for j := range et.ForeignKeys {
			fk := &et.ForeignKeys[j]
			if len(fk.Candidates) == 0 {
				fk.Candidates = []string{fk.Column}
			}
		}
	}
}

// Validate checks the model for configuration errors.
func Validate(m *Model) error {
	if len(m.EntityTypes) == 0 {
		return configErrorf("", "no entity types declared")
	}

	names := make(map[string]bool, len(m.EntityTypes))
	tables := make(map[string]bool, len(m.EntityTypes))
	for i := range m.EntityTypes {
		et := &m.EntityTypes[i]
		if !schema.ValidIdentifier(et.Name) {
			return configErrorf(et.Name, "invalid name")
		}
		if names[et.Name] {
			return configErrorf(et.Name, "declared more than once")
		}
		names[et.Name] = true

		table := et.TableName()
		if !schema.ValidIdentifier(table) || table == schema.MappingsTable || table == schema.EvolutionsTable {
			return configErrorf(et.Name, "invalid table name %q", table)
		}
		if tables[table] {
			return configErrorf(et.Name, "table %q is used by another entity type", table)
		}
		tables[table] = true
	}

	for i := range m.EntityTypes {
		if err := validateEntityType(&m.EntityTypes[i], names); err != nil {
			return err
		}
	}

	if _, err := schema.SortEvolutions(m.Evolutions); err != nil {
		return configErrorf("", "%v", err)
	}
	for _, ev := range m.Evolutions {
		for _, step := range ev.Steps {
			if _, err := schema.BuildEvolutionDDL(schema.Postgres, step); err != nil {
				return configErrorf("", "evolution %d (%s): %v", ev.Version, ev.Name, err)
			}
		}
	}
	return nil
}

func validateEntityType(et *EntityType, known map[string]bool) error {
	if _, err := et.SourcePath(); err != nil {
		return configErrorf(et.Name, "%v", err)
	}
	if et.LegacyKey == ParentField {
		return configErrorf(et.Name, "legacy_key cannot be %s", ParentField)
	}

	columns := map[string]bool{ColumnID: true, ColumnLegacyID: true, ColumnExtra: true}
	claim := func(col string) error {
		if !schema.ValidIdentifier(col) {
			return configErrorf(et.Name, "invalid column name %q", col)
		}
		if columns[col] {
			return configErrorf(et.Name, "column %q is reserved or declared more than once", col)
		}
		columns[col] = true
		return nil
	}

	for _, a := range et.Attributes {
		if err := claim(a.Column); err != nil {
			return err
		}
		if !schema.IsValidType(a.Type) {
			return configErrorf(et.Name, "column %q: unsupported type %q", a.Column, a.Type)
		}
	}

	for _, fk := range et.ForeignKeys {
		if err := claim(fk.Column); err != nil {
			return err
		}
		if !known[fk.References] {
			return configErrorf(et.Name, "column %q references unknown entity type %q", fk.Column, fk.References)
		}
		if len(fk.Candidates) == 0 {
			return configErrorf(et.Name, "column %q has no candidate fields", fk.Column)
		}
	}
	return nil
}
