package schema

import (
	"fmt"
	"strings"
)

// TypeInfo represents a column data type with metadata.
type TypeInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category"`
}

// AllowedTypes is the canonical list of column types an entity attribute may declare.
// Names follow PostgreSQL; other dialects map them through Dialect.TypeName.
var AllowedTypes = []TypeInfo{
	// String types
	{Name: "text", Description: "Variable length string", Category: "String"},
	{Name: "varchar", Description: "Variable length (limited)", Category: "String"},
	{Name: "char", Description: "Fixed length", Category: "String"},

	// Numeric types
	{Name: "smallint", Description: "16-bit integer", Category: "Numeric"},
	{Name: "integer", Description: "32-bit integer", Category: "Numeric"},
	{Name: "bigint", Description: "64-bit integer", Category: "Numeric"},
	{Name: "numeric", Description: "Decimal number", Category: "Numeric"},
	{Name: "real", Description: "32-bit floating point", Category: "Numeric"},
	{Name: "double precision", Description: "64-bit floating point", Category: "Numeric"},

	// Boolean
	{Name: "boolean", Description: "true/false", Category: "Boolean"},

	// Date/Time types
	{Name: "date", Description: "Date only", Category: "Date/Time"},
	{Name: "timestamp", Description: "Date and time", Category: "Date/Time"},
	{Name: "timestamptz", Description: "Timestamp with timezone", Category: "Date/Time"},

	// UUID
	{Name: "uuid", Description: "UUID", Category: "UUID"},

	// JSON types
	{Name: "json", Description: "JSON data", Category: "JSON"},
	{Name: "jsonb", Description: "Binary JSON data", Category: "JSON"},
}

// allowedTypesMap is built from AllowedTypes for O(1) lookup
var allowedTypesMap = buildAllowedTypesMap()

func buildAllowedTypesMap() map[string]TypeInfo {
	m := make(map[string]TypeInfo, len(AllowedTypes))
	for _, t := range AllowedTypes {
		m[t.Name] = t
	}
	return m
}

// ValidIdentifier checks if a name is a valid SQL identifier.
func ValidIdentifier(name string) bool {
	if name == "" || len(name) > 63 {
		return false
	}
	for i, r := range name {
		if i == 0 {
			if !((r >= 'a' && r <= 'z') || r == '_') {
				return false
			}
		} else {
			if !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_') {
				return false
			}
		}
	}
	return true
}

// QuoteIdentifier makes the identifier safe for SQL.
// Escapes double quotes and wraps in quotes to prevent injection.
func QuoteIdentifier(name string) string {
	// Escape any double quotes by doubling them (SQL standard)
	escaped := strings.ReplaceAll(name, `"`, `""`)
	return `"` + escaped + `"`
}

// IsValidType checks if the given type name is in the allowed types list.
func IsValidType(t string) bool {
	_, ok := allowedTypesMap[t]
	return ok
}

// Category returns the category of an allowed type, or "" if unknown.
func Category(t string) string {
	return allowedTypesMap[t].Category
}

// sanitizeType validates and returns the dialect's name for a type.
func sanitizeType(d Dialect, t string) (string, error) {
	if !IsValidType(t) {
		return "", fmt.Errorf("unsupported column type %q", t)
	}
	return d.TypeName(t), nil
}

// ColumnDef holds validated column definition parts for DDL building.
type ColumnDef struct {
	Name       string
	Type       string
	NotNull    bool
	PrimaryKey bool
	Unique     bool
}

// TableDef describes a table to create.
type TableDef struct {
	Name    string
	Columns []ColumnDef
}

// BuildCreateTableDDL constructs a CREATE TABLE IF NOT EXISTS statement safely.
func BuildCreateTableDDL(d Dialect, table TableDef) (string, error) {
	if !ValidIdentifier(table.Name) {
		return "", fmt.Errorf("invalid table name %q: must be lowercase letters, numbers, underscores, and start with letter or underscore", table.Name)
	}
	if len(table.Columns) == 0 {
		return "", fmt.Errorf("table %q has no columns", table.Name)
	}

	defs := make([]string, 0, len(table.Columns))
	for _, col := range table.Columns {
		def, err := buildColumnDef(d, col)
		if err != nil {
			return "", fmt.Errorf("table %q: %w", table.Name, err)
		}
		defs = append(defs, def)
	}

	return fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)",
		QuoteIdentifier(table.Name), strings.Join(defs, ", ")), nil
}

// BuildAddColumnDDL constructs an ALTER TABLE ADD COLUMN statement safely.
func BuildAddColumnDDL(d Dialect, tableName string, col ColumnDef) (string, error) {
	if !ValidIdentifier(tableName) {
		return "", fmt.Errorf("invalid table name %q", tableName)
	}
	def, err := buildColumnDef(d, col)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", QuoteIdentifier(tableName), def), nil
}

func buildColumnDef(d Dialect, col ColumnDef) (string, error) {
	if !ValidIdentifier(col.Name) {
		return "", fmt.Errorf("invalid column name %q: must be lowercase letters, numbers, underscores, and start with letter or underscore", col.Name)
	}

	safeType, err := sanitizeType(d, col.Type)
	if err != nil {
		return "", err
	}

	parts := []string{QuoteIdentifier(col.Name), safeType}
	if col.NotNull {
		parts = append(parts, "NOT NULL")
	}
	if col.PrimaryKey {
		parts = append(parts, "PRIMARY KEY")
	}
	if col.Unique && !col.PrimaryKey { // PK is already unique
		parts = append(parts, "UNIQUE")
	}
	return strings.Join(parts, " "), nil
}
