package schema

// Column represents a single column in a database table.
type Column struct {
	Name       string  `json:"name"`
	DataType   string  `json:"dataType"`
	IsNullable bool    `json:"isNullable"`
	IsPrimary  bool    `json:"isPrimary"`
	IsUnique   bool    `json:"isUnique"`
	Default    *string `json:"default,omitempty"`
}

// ForeignKey represents a foreign key constraint.
type ForeignKey struct {
	ColumnName       string `json:"columnName"`
	ReferencesTable  string `json:"referencesTable"`
	ReferencesColumn string `json:"referencesColumn"`
}

// Table represents a database table with its columns and relationships.
type Table struct {
	Name        string       `json:"name"`
	Columns     []Column     `json:"columns"`
	ForeignKeys []ForeignKey `json:"foreignKeys"`
}

// Schema represents the complete public schema of the target database.
type Schema struct {
	Tables []Table `json:"tables"`
}

// Column returns the named column, or nil when the table has no such column.
func (t *Table) Column(name string) *Column {
	for i := range t.Columns {
		if t.Columns[i].Name == name {
			return &t.Columns[i]
		}
	}
	return nil
}

// Table returns the named table, or nil when the schema has no such table.
func (s *Schema) Table(name string) *Table {
	for i := range s.Tables {
		if s.Tables[i].Name == name {
			return &s.Tables[i]
		}
	}
	return nil
}
