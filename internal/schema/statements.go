package schema

import (
	"fmt"
	"strings"
)

// MappingsTable is the persisted identifier-mapping table.
const MappingsTable = "id_mappings"

// PrimaryKeyColumn is the surrogate primary key column of every entity table.
const PrimaryKeyColumn = "id"

// BuildMappingsTableDDL returns the DDL of the identifier-mapping table.
func BuildMappingsTableDDL(d Dialect) string {
	idType, ts := "uuid", "timestamptz NOT NULL DEFAULT now()"
	if d == SQLite {
		idType, ts = "TEXT", "DATETIME DEFAULT CURRENT_TIMESTAMP"
	}
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		entity_type TEXT NOT NULL,
		key_kind TEXT NOT NULL DEFAULT 'legacy',
		legacy_id TEXT NOT NULL,
		surrogate_id %s NOT NULL UNIQUE,
		created_at %s,
		PRIMARY KEY (entity_type, key_kind, legacy_id)
	)`, QuoteIdentifier(MappingsTable), idType, ts)
}

// BuildInsertMappingSQL inserts one mapping, leaving an existing one untouched.
func BuildInsertMappingSQL(d Dialect) string {
	return fmt.Sprintf(`INSERT INTO %s (entity_type, key_kind, legacy_id, surrogate_id)
		VALUES (%s, %s, %s, %s)
		ON CONFLICT (entity_type, key_kind, legacy_id) DO NOTHING`,
		QuoteIdentifier(MappingsTable),
		d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4))
}

// BuildUpsertSQL builds an insert keyed by the surrogate id that overwrites the
// given columns on conflict. columns must not include the id column.
func BuildUpsertSQL(d Dialect, table string, columns []string) string {
	names := make([]string, 0, len(columns)+1)
	params := make([]string, 0, len(columns)+1)
	names = append(names, QuoteIdentifier(PrimaryKeyColumn))
	params = append(params, d.Placeholder(1))

	sets := make([]string, 0, len(columns))
	for i, col := range columns {
		q := QuoteIdentifier(col)
		names = append(names, q)
		params = append(params, d.Placeholder(i+2))
		sets = append(sets, q+" = EXCLUDED."+q)
	}

	conflict := "DO NOTHING"
	if len(sets) > 0 {
		conflict = "DO UPDATE SET " + strings.Join(sets, ", ")
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		QuoteIdentifier(table), strings.Join(names, ", "), strings.Join(params, ", "),
		QuoteIdentifier(PrimaryKeyColumn), conflict)
}

// BuildUpdateSQL sets the given columns of the row identified by the last parameter.
func BuildUpdateSQL(d Dialect, table string, columns []string) string {
	sets := make([]string, 0, len(columns))
	for i, col := range columns {
		sets = append(sets, QuoteIdentifier(col)+" = "+d.Placeholder(i+1))
	}
	return fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		QuoteIdentifier(table), strings.Join(sets, ", "),
		QuoteIdentifier(PrimaryKeyColumn), d.Placeholder(len(columns)+1))
}

// BuildDuplicateValuesSQL selects (value, id) for every row whose value in
// column is shared with at least one other row, ordered by value then id.
func BuildDuplicateValuesSQL(d Dialect, table, column string) string {
	t, c := QuoteIdentifier(table), QuoteIdentifier(column)
	return fmt.Sprintf(`SELECT %s, %s FROM %s
		WHERE %s IS NOT NULL AND %s IN (
			SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1
		)
		ORDER BY 1, 2`,
		d.TextCast(c), d.TextCast(QuoteIdentifier(PrimaryKeyColumn)), t,
		c, c,
		c, t, c, c)
}

// BuildOrphanSQL selects (id, value) for rows whose non-null column value has
// no matching primary key in refTable.
func BuildOrphanSQL(d Dialect, table, column, refTable string) string {
	id := QuoteIdentifier(PrimaryKeyColumn)
	c := QuoteIdentifier(column)
	return fmt.Sprintf(`SELECT %s, %s FROM %s AS child
		LEFT JOIN %s AS parent ON parent.%s = child.%s
		WHERE child.%s IS NOT NULL AND parent.%s IS NULL
		ORDER BY 1`,
		d.TextCast("child."+id), d.TextCast("child."+c), QuoteIdentifier(table),
		QuoteIdentifier(refTable), id, c,
		c, id)
}

// BuildNullKeyCountSQL counts rows with a null primary key value.
func BuildNullKeyCountSQL(table string) string {
	return fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s IS NULL",
		QuoteIdentifier(table), QuoteIdentifier(PrimaryKeyColumn))
}

// BuildDuplicateKeySQL selects primary key values that occur more than once.
func BuildDuplicateKeySQL(d Dialect, table string) string {
	id := QuoteIdentifier(PrimaryKeyColumn)
	return fmt.Sprintf("SELECT %s FROM %s WHERE %s IS NOT NULL GROUP BY %s HAVING COUNT(*) > 1 ORDER BY 1",
		d.TextCast(id), QuoteIdentifier(table), id, id)
}
