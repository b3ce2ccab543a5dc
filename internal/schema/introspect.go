package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Catalog queries read pg_catalog directly. Only single column foreign keys
// are described, which is the only kind the migration creates.
const (
	tablesQuery = `
		SELECT c.relname
		FROM pg_class c
		JOIN pg_namespace n ON n.oid = c.relnamespace
		WHERE n.nspname = 'public' AND c.relkind IN ('r', 'p')
		ORDER BY c.relname`

	columnsQuery = `
		SELECT
			c.relname,
			a.attname,
			format_type(a.atttypid, a.atttypmod),
			NOT a.attnotnull,
			EXISTS (
				SELECT 1 FROM pg_index i
				WHERE i.indrelid = c.oid AND i.indisprimary AND a.attnum = ANY(i.indkey)
			),
			EXISTS (
				SELECT 1 FROM pg_index i
				WHERE i.indrelid = c.oid AND i.indisunique AND NOT i.indisprimary
				  AND i.indnatts = 1 AND i.indkey[0] = a.attnum
			),
			pg_get_expr(d.adbin, d.adrelid)
		FROM pg_attribute a
		JOIN pg_class c ON c.oid = a.attrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		LEFT JOIN pg_attrdef d ON d.adrelid = a.attrelid AND d.adnum = a.attnum
		WHERE n.nspname = 'public' AND c.relkind IN ('r', 'p')
		  AND a.attnum > 0 AND NOT a.attisdropped
		ORDER BY c.relname, a.attnum`

	foreignKeysQuery = `
		SELECT c.relname, a.attname, rc.relname, ra.attname
		FROM pg_constraint k
		JOIN pg_class c ON c.oid = k.conrelid
		JOIN pg_namespace n ON n.oid = c.relnamespace
		JOIN pg_class rc ON rc.oid = k.confrelid
		JOIN pg_attribute a ON a.attrelid = k.conrelid AND a.attnum = k.conkey[1]
		JOIN pg_attribute ra ON ra.attrelid = k.confrelid AND ra.attnum = k.confkey[1]
		WHERE k.contype = 'f' AND n.nspname = 'public'
		ORDER BY c.relname, a.attname`

	primaryKeyQuery = `
		SELECT a.attname
		FROM pg_index i
		JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = ANY(i.indkey)
		WHERE i.indrelid = to_regclass('public.' || quote_ident($1)) AND i.indisprimary
		ORDER BY array_position(i.indkey::int2[], a.attnum)`
)

// Introspector describes the public schema of a PostgreSQL database.
type Introspector struct {
	pool         *pgxpool.Pool
	queryTimeout time.Duration
}

// NewIntrospector creates an introspector over pool.
func NewIntrospector(pool *pgxpool.Pool, queryTimeout time.Duration) *Introspector {
	return &Introspector{pool: pool, queryTimeout: queryTimeout}
}

// WithQueryTimeout bounds parent by d unless parent already ends sooner.
func WithQueryTimeout(parent context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok && time.Until(deadline) <= d {
		return context.WithCancel(parent)
	}
	return context.WithTimeout(parent, d)
}

// PrimaryKeyColumns returns the primary key columns of a public table in key
// order. An empty result means the table has no primary key or does not exist.
func (i *Introspector) PrimaryKeyColumns(ctx context.Context, table string) ([]string, error) {
	ctx, cancel := WithQueryTimeout(ctx, i.queryTimeout)
	defer cancel()

	rows, err := i.pool.Query(ctx, primaryKeyQuery, table)
	if err != nil {
		return nil, fmt.Errorf("failed to get primary key of %s: %w", table, err)
	}
	cols, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read primary key of %s: %w", table, err)
	}
	return cols, nil
}

type tableColumn struct {
	table string
	col   Column
}

type tableForeignKey struct {
	table string
	fk    ForeignKey
}

// GetSchema describes every table of the public schema. The three catalog
// queries share one round trip.
func (i *Introspector) GetSchema(ctx context.Context) (*Schema, error) {
	ctx, cancel := WithQueryTimeout(ctx, i.queryTimeout)
	defer cancel()

	batch := &pgx.Batch{}
	batch.Queue(tablesQuery)
	batch.Queue(columnsQuery)
	batch.Queue(foreignKeysQuery)

	br := i.pool.SendBatch(ctx, batch)
	defer br.Close()

	rows, err := br.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to read tables: %w", err)
	}

	rows, err = br.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	columns, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tableColumn, error) {
		var tc tableColumn
		err := row.Scan(&tc.table, &tc.col.Name, &tc.col.DataType, &tc.col.IsNullable,
			&tc.col.IsPrimary, &tc.col.IsUnique, &tc.col.Default)
		return tc, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read columns: %w", err)
	}

	rows, err = br.Query()
	if err != nil {
		return nil, fmt.Errorf("failed to get foreign keys: %w", err)
	}
	fks, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (tableForeignKey, error) {
		var tf tableForeignKey
		err := row.Scan(&tf.table, &tf.fk.ColumnName, &tf.fk.ReferencesTable, &tf.fk.ReferencesColumn)
		return tf, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read foreign keys: %w", err)
	}

	s := &Schema{Tables: make([]Table, len(names))}
	for idx, name := range names {
		s.Tables[idx] = Table{Name: name, Columns: []Column{}, ForeignKeys: []ForeignKey{}}
	}
	for _, tc := range columns {
		if t := s.Table(tc.table); t != nil {
			t.Columns = append(t.Columns, tc.col)
		}
	}
	for _, tf := range fks {
		if t := s.Table(tf.table); t != nil {
			t.ForeignKeys = append(t.ForeignKeys, tf.fk)
		}
	}
	return s, nil
}
