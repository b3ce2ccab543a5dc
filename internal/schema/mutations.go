package schema

import (
	"fmt"
	"sort"
)

// Evolution is one versioned, declarative set of schema changes applied before
// the data migration runs.
type Evolution struct {
	Version int             `yaml:"version" json:"version"`
	Name    string          `yaml:"name" json:"name"`
	Steps   []EvolutionStep `yaml:"steps" json:"steps"`
}

// Supported evolution operations.
const (
	OpCreateTable  = "create_table"
	OpAddColumn    = "add_column"
	OpRenameColumn = "rename_column"
	OpDropColumn   = "drop_column"
	OpRenameTable  = "rename_table"
	OpDropTable    = "drop_table"
)

// EvolutionStep is a single schema change.
type EvolutionStep struct {
	Op       string `yaml:"op" json:"op"`
	Table    string `yaml:"table" json:"table"`
	Column   string `yaml:"column,omitempty" json:"column,omitempty"`
	To       string `yaml:"to,omitempty" json:"to,omitempty"`
	Type     string `yaml:"type,omitempty" json:"type,omitempty"`
	Nullable bool   `yaml:"nullable,omitempty" json:"nullable,omitempty"`
}

// EvolutionsTable records which evolution versions have been applied.
const EvolutionsTable = "schema_evolutions"

// BuildEvolutionsTableDDL returns the DDL of the evolution bookkeeping table.
func BuildEvolutionsTableDDL(d Dialect) string {
	ts := "timestamptz NOT NULL DEFAULT now()"
	if d == SQLite {
		ts = "DATETIME DEFAULT CURRENT_TIMESTAMP"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at %s
	)`, QuoteIdentifier(EvolutionsTable), ts)
}

// SortEvolutions orders evolutions by version and rejects duplicate versions.
func SortEvolutions(evolutions []Evolution) ([]Evolution, error) {
	sorted := make([]Evolution, len(evolutions))
	copy(sorted, evolutions)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })
	for i := range sorted {
		if sorted[i].Version <= 0 {
			return nil, fmt.Errorf("evolution %q: version must be positive", sorted[i].Name)
		}
		if i > 0 && sorted[i].Version == sorted[i-1].Version {
			return nil, fmt.Errorf("duplicate evolution version %d", sorted[i].Version)
		}
	}
	return sorted, nil
}

// BuildEvolutionDDL constructs the statement for one evolution step.
func BuildEvolutionDDL(d Dialect, step EvolutionStep) (string, error) {
	if !ValidIdentifier(step.Table) {
		return "", fmt.Errorf("%s: invalid table name %q", step.Op, step.Table)
	}
	table := QuoteIdentifier(step.Table)

	switch step.Op {
	case OpCreateTable:
		return BuildCreateTableDDL(d, TableDef{
			Name:    step.Table,
			Columns: []ColumnDef{{Name: "id", Type: "uuid", PrimaryKey: true}},
		})
	case OpAddColumn:
		colType := step.Type
		if colType == "" {
			colType = "text"
		}
		return BuildAddColumnDDL(d, step.Table, ColumnDef{
			Name:    step.Column,
			Type:    colType,
			NotNull: !step.Nullable,
		})
	case OpRenameColumn:
		if !ValidIdentifier(step.Column) || !ValidIdentifier(step.To) {
			return "", fmt.Errorf("rename_column: invalid column names %q -> %q", step.Column, step.To)
		}
		return fmt.Sprintf("ALTER TABLE %s RENAME COLUMN %s TO %s",
			table, QuoteIdentifier(step.Column), QuoteIdentifier(step.To)), nil
	case OpDropColumn:
		if !ValidIdentifier(step.Column) {
			return "", fmt.Errorf("drop_column: invalid column name %q", step.Column)
		}
		return fmt.Sprintf("ALTER TABLE %s DROP COLUMN %s", table, QuoteIdentifier(step.Column)), nil
	case OpRenameTable:
		if !ValidIdentifier(step.To) {
			return "", fmt.Errorf("rename_table: invalid table name %q", step.To)
		}
		return fmt.Sprintf("ALTER TABLE %s RENAME TO %s", table, QuoteIdentifier(step.To)), nil
	case OpDropTable:
		return fmt.Sprintf("DROP TABLE IF EXISTS %s", table), nil
	default:
		return "", fmt.Errorf("unknown evolution op %q", step.Op)
	}
}
