// Package sqlite implements the relational writer on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"

	"github.com/JonMunkholm/docmigrate/internal/mapper"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/rewrite"
	"github.com/JonMunkholm/docmigrate/internal/schema"
	"github.com/JonMunkholm/docmigrate/internal/verify"
)

const dialect = schema.SQLite

// Store writes entity tables into a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens the database at path. The pool is limited to one connection:
// SQLite serializes writers, and ":memory:" databases are private to the
// connection that created them.
func Open(path string) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_busy_timeout=5000"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db), nil
}

// New wraps an open database.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// DB returns the underlying database.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Transient reports whether err is a lock conflict worth retrying.
func (s *Store) Transient(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrBusy || serr.Code == sqlite3.ErrLocked
	}
	return false
}

// EnsureSchema creates the mapping table and every entity table, adding
// declared columns missing from tables created by earlier runs.
func (s *Store) EnsureSchema(ctx context.Context, types []model.EntityType) error {
	if _, err := s.db.ExecContext(ctx, schema.BuildMappingsTableDDL(dialect)); err != nil {
		return fmt.Errorf("failed to create mapping table: %w", err)
	}

	for i := range types {
		def := types[i].TableDef()
		ddl, err := schema.BuildCreateTableDDL(dialect, def)
		if err != nil {
			return fmt.Errorf("failed to build table %s: %w", def.Name, err)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", def.Name, err)
		}

		existing, err := s.tableInfo(ctx, def.Name)
		if err != nil {
			return err
		}
		for _, col := range def.Columns {
			if _, ok := existing[col.Name]; ok {
				continue
			}
			ddl, err := schema.BuildAddColumnDDL(dialect, def.Name, col)
			if err != nil {
				return fmt.Errorf("failed to build column %s.%s: %w", def.Name, col.Name, err)
			}
			if _, err := s.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", def.Name, col.Name, err)
			}
		}
	}
	return nil
}

type columnInfo struct {
	name    string
	colType string
	notNull bool
	pk      int // 1-based position in the primary key, 0 when not part of it
	dflt    sql.NullString
}

func (s *Store) tableInfo(ctx context.Context, table string) (map[string]columnInfo, error) {
	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return nil, err
	}
	out := make(map[string]columnInfo, len(cols))
	for _, c := range cols {
		out[c.name] = c
	}
	return out, nil
}

func (s *Store) tableColumns(ctx context.Context, table string) ([]columnInfo, error) {
	rows, err := s.db.QueryContext(ctx, "PRAGMA table_info("+schema.QuoteIdentifier(table)+")")
	if err != nil {
		return nil, fmt.Errorf("failed to get columns of %s: %w", table, err)
	}
	defer rows.Close()

	var cols []columnInfo
	for rows.Next() {
		var cid, notNull int
		var c columnInfo
		if err := rows.Scan(&cid, &c.name, &c.colType, &notNull, &c.dflt, &c.pk); err != nil {
			return nil, fmt.Errorf("failed to scan column of %s: %w", table, err)
		}
		c.notNull = notNull != 0
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// ApplyEvolutions applies every evolution not yet recorded, in version order,
// each in its own transaction. It returns the versions applied by this call.
func (s *Store) ApplyEvolutions(ctx context.Context, evolutions []schema.Evolution) ([]int, error) {
	if len(evolutions) == 0 {
		return nil, nil
	}
	sorted, err := schema.SortEvolutions(evolutions)
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx, schema.BuildEvolutionsTableDDL(dialect)); err != nil {
		return nil, fmt.Errorf("failed to create evolutions table: %w", err)
	}

	done, err := s.appliedVersions(ctx)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, ev := range sorted {
		if done[ev.Version] {
			continue
		}
		if err := s.applyEvolution(ctx, ev); err != nil {
			return applied, err
		}
		applied = append(applied, ev.Version)
	}
	return applied, nil
}

func (s *Store) appliedVersions(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM "+schema.QuoteIdentifier(schema.EvolutionsTable))
	if err != nil {
		return nil, fmt.Errorf("failed to read applied evolutions: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan evolution version: %w", err)
		}
		done[v] = true
	}
	return done, rows.Err()
}

func (s *Store) applyEvolution(ctx context.Context, ev schema.Evolution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin evolution %d: %w", ev.Version, err)
	}
	defer tx.Rollback()

	for _, step := range ev.Steps {
		ddl, err := schema.BuildEvolutionDDL(dialect, step)
		if err != nil {
			return fmt.Errorf("evolution %d: %w", ev.Version, err)
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply evolution %d (%s %s): %w", ev.Version, step.Op, step.Table, err)
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES (?, ?)", schema.QuoteIdentifier(schema.EvolutionsTable))
	if _, err := tx.ExecContext(ctx, insert, ev.Version, ev.Name); err != nil {
		return fmt.Errorf("failed to record evolution %d: %w", ev.Version, err)
	}
	return tx.Commit()
}

// LoadMappings returns every persisted mapping.
func (s *Store) LoadMappings(ctx context.Context) ([]mapper.Mapping, error) {
	query := fmt.Sprintf(`SELECT entity_type, key_kind, legacy_id, surrogate_id, created_at
		FROM %s ORDER BY entity_type, key_kind, legacy_id`, schema.QuoteIdentifier(schema.MappingsTable))
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	defer rows.Close()

	var out []mapper.Mapping
	for rows.Next() {
		var m mapper.Mapping
		var kind, id string
		var created sql.NullTime
		if err := rows.Scan(&m.EntityType, &kind, &m.LegacyID, &id, &created); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		if m.SurrogateID, err = uuid.Parse(id); err != nil {
			return nil, fmt.Errorf("mapping %s/%s: invalid surrogate id: %w", m.EntityType, m.LegacyID, err)
		}
		m.Kind = mapper.KeyKind(kind)
		m.CreatedAt = created.Time
		out = append(out, m)
	}
	return out, rows.Err()
}

// LookupMapping returns the surrogate id persisted for a legacy id.
func (s *Store) LookupMapping(ctx context.Context, entityType, legacyID string) (uuid.UUID, bool, error) {
	query := fmt.Sprintf(`SELECT surrogate_id FROM %s
		WHERE entity_type = ? AND key_kind = ? AND legacy_id = ?`, schema.QuoteIdentifier(schema.MappingsTable))
	var id string
	err := s.db.QueryRowContext(ctx, query, entityType, string(mapper.KindLegacy), legacyID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to look up mapping: %w", err)
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("invalid surrogate id %q: %w", id, err)
	}
	return parsed, true, nil
}

// WriteEntities upserts rows and inserts the new mappings in one transaction.
// Foreign key columns are left untouched.
func (s *Store) WriteEntities(ctx context.Context, et *model.EntityType, rows []*model.Row, mappings []mapper.Mapping) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	upsert, err := tx.PrepareContext(ctx, schema.BuildUpsertSQL(dialect, et.TableName(), et.WriteColumns()))
	if err != nil {
		return fmt.Errorf("failed to prepare upsert into %s: %w", et.TableName(), err)
	}
	defer upsert.Close()

	for _, row := range rows {
		vals, err := row.WriteValues()
		if err != nil {
			return err
		}
		args := make([]any, 0, len(vals)+1)
		args = append(args, row.ID.String())
		for _, v := range vals {
			args = append(args, toSQLite(v))
		}
		if _, err := upsert.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to write %s row %s: %w", et.Name, row.Origin.Path(), err)
		}
	}

	if err := insertMappings(ctx, tx, mappings); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit %s: %w", et.Name, err)
	}
	return nil
}

func insertMappings(ctx context.Context, tx *sql.Tx, mappings []mapper.Mapping) error {
	if len(mappings) == 0 {
		return nil
	}
	stmt, err := tx.PrepareContext(ctx, schema.BuildInsertMappingSQL(dialect))
	if err != nil {
		return fmt.Errorf("failed to prepare mapping insert: %w", err)
	}
	defer stmt.Close()

	for _, m := range mappings {
		kind := m.Kind
		if kind == "" {
			kind = mapper.KindLegacy
		}
		if _, err := stmt.ExecContext(ctx, m.EntityType, string(kind), m.LegacyID, m.SurrogateID.String()); err != nil {
			return fmt.Errorf("failed to insert mapping %s/%s: %w", m.EntityType, m.LegacyID, err)
		}
	}
	return nil
}

// WriteReferences sets the foreign key columns of every updated row in one
// transaction.
func (s *Store) WriteReferences(ctx context.Context, et *model.EntityType, updates []rewrite.Update) error {
	cols := et.ReferenceColumns()
	if len(cols) == 0 || len(updates) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, schema.BuildUpdateSQL(dialect, et.TableName(), cols))
	if err != nil {
		return fmt.Errorf("failed to prepare reference update of %s: %w", et.TableName(), err)
	}
	defer stmt.Close()

	for _, u := range updates {
		args := make([]any, 0, len(cols)+1)
		for _, v := range u.Values {
			if v.Valid {
				args = append(args, v.UUID.String())
			} else {
				args = append(args, nil)
			}
		}
		args = append(args, u.RowID.String())
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("failed to update references of %s %s: %w", et.Name, u.RowID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit references of %s: %w", et.Name, err)
	}
	return nil
}

func toSQLite(v any) any {
	switch t := v.(type) {
	case uuid.UUID:
		return t.String()
	case json.RawMessage:
		return string(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	default:
		return v
	}
}

// DuplicateValues returns rows sharing a value in column, ordered by value.
func (s *Store) DuplicateValues(ctx context.Context, table, column string) ([]verify.DuplicateValue, error) {
	rows, err := s.db.QueryContext(ctx, schema.BuildDuplicateValuesSQL(dialect, table, column))
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates: %w", err)
	}
	defer rows.Close()

	var out []verify.DuplicateValue
	for rows.Next() {
		var d verify.DuplicateValue
		if err := rows.Scan(&d.Value, &d.ID); err != nil {
			return nil, fmt.Errorf("failed to scan duplicate: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// OrphanReferences returns rows whose column value matches no row of refTable.
func (s *Store) OrphanReferences(ctx context.Context, table, column, refTable string) ([]verify.Orphan, error) {
	rows, err := s.db.QueryContext(ctx, schema.BuildOrphanSQL(dialect, table, column, refTable))
	if err != nil {
		return nil, fmt.Errorf("failed to query orphans: %w", err)
	}
	defer rows.Close()

	var out []verify.Orphan
	for rows.Next() {
		var o verify.Orphan
		if err := rows.Scan(&o.ID, &o.Value); err != nil {
			return nil, fmt.Errorf("failed to scan orphan: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// PrimaryKeyAudit reports the declared primary key of table along with null
// and duplicate id values.
func (s *Store) PrimaryKeyAudit(ctx context.Context, table string) (verify.KeyAudit, error) {
	var audit verify.KeyAudit

	cols, err := s.tableColumns(ctx, table)
	if err != nil {
		return audit, err
	}
	pk := make([]string, 0, 1)
	for pos := 1; ; pos++ {
		found := false
		for _, c := range cols {
			if c.pk == pos {
				pk = append(pk, c.name)
				found = true
			}
		}
		if !found {
			break
		}
	}
	audit.Columns = pk

	// SQLite allows NULL in a non-integer primary key column.
	if err := s.db.QueryRowContext(ctx, schema.BuildNullKeyCountSQL(table)).Scan(&audit.NullRows); err != nil {
		return audit, fmt.Errorf("failed to count null ids of %s: %w", table, err)
	}

	rows, err := s.db.QueryContext(ctx, schema.BuildDuplicateKeySQL(dialect, table))
	if err != nil {
		return audit, fmt.Errorf("failed to query duplicate ids of %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return audit, fmt.Errorf("failed to scan duplicate id: %w", err)
		}
		audit.DuplicateIDs = append(audit.DuplicateIDs, id)
	}
	return audit, rows.Err()
}

// GetSchema describes every user table of the database.
func (s *Store) GetSchema(ctx context.Context) (*schema.Schema, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to get tables: %w", err)
	}
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan table name: %w", err)
		}
		names = append(names, name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	out := &schema.Schema{Tables: make([]schema.Table, 0, len(names))}
	for _, name := range names {
		cols, err := s.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		t := schema.Table{Name: name, Columns: make([]schema.Column, 0, len(cols)), ForeignKeys: []schema.ForeignKey{}}
		for _, c := range cols {
			col := schema.Column{
				Name:       c.name,
				DataType:   c.colType,
				IsNullable: !c.notNull && c.pk == 0,
				IsPrimary:  c.pk > 0,
			}
			if c.dflt.Valid {
				d := c.dflt.String
				col.Default = &d
			}
			t.Columns = append(t.Columns, col)
		}
		out.Tables = append(out.Tables, t)
	}
	return out, nil
}
