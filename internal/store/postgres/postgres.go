// Package postgres implements the relational writer on PostgreSQL using pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/docmigrate/internal/mapper"
	"github.com/JonMunkholm/docmigrate/internal/model"
	"github.com/JonMunkholm/docmigrate/internal/rewrite"
	"github.com/JonMunkholm/docmigrate/internal/schema"
	"github.com/JonMunkholm/docmigrate/internal/verify"
)

const dialect = schema.Postgres

// Options tunes a Store.
type Options struct {
	BatchSize    int           // statements queued per round trip
	QueryTimeout time.Duration // applied to introspection and verification queries
}

// Store writes entity tables into PostgreSQL.
type Store struct {
	pool         *pgxpool.Pool
	introspector *schema.Introspector
	batchSize    int
	queryTimeout time.Duration
}

// Connect opens a pool to databaseURL and verifies it with a ping.
func Connect(ctx context.Context, databaseURL string, opts Options) (*Store, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return New(pool, opts), nil
}

// New wraps an open pool.
func New(pool *pgxpool.Pool, opts Options) *Store {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 500
	}
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = 30 * time.Second
	}
	return &Store{
		pool:         pool,
		introspector: schema.NewIntrospector(pool, opts.QueryTimeout),
		batchSize:    opts.BatchSize,
		queryTimeout: opts.QueryTimeout,
	}
}

// Close closes the pool.
func (s *Store) Close() { s.pool.Close() }

// GetSchema describes the public schema of the connected database.
func (s *Store) GetSchema(ctx context.Context) (*schema.Schema, error) {
	return s.introspector.GetSchema(ctx)
}

// Transient reports whether err is a connectivity or concurrency failure
// that a fresh attempt may not hit.
func (s *Store) Transient(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) {
		return true
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "40001", pgErr.Code == "40P01": // serialization failure, deadlock
			return true
		case pgErr.Code == "57P01", pgErr.Code == "57P03": // admin shutdown, cannot connect now
			return true
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		}
	}
	return false
}

func (s *Store) withTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	return schema.WithQueryTimeout(parent, s.queryTimeout)
}

// EnsureSchema creates the mapping table and every entity table, adding
// declared columns missing from tables created by earlier runs.
func (s *Store) EnsureSchema(ctx context.Context, types []model.EntityType) error {
	if _, err := s.pool.Exec(ctx, schema.BuildMappingsTableDDL(dialect)); err != nil {
		return fmt.Errorf("failed to create mapping table: %w", err)
	}

	defs := make([]schema.TableDef, 0, len(types))
	for i := range types {
		def := types[i].TableDef()
		ddl, err := schema.BuildCreateTableDDL(dialect, def)
		if err != nil {
			return fmt.Errorf("failed to build table %s: %w", def.Name, err)
		}
		if _, err := s.pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to create table %s: %w", def.Name, err)
		}
		defs = append(defs, def)
	}

	current, err := s.introspector.GetSchema(ctx)
	if err != nil {
		return err
	}
	for _, def := range defs {
		table := current.Table(def.Name)
		if table == nil {
			return fmt.Errorf("table %s missing after create", def.Name)
		}
		for _, col := range def.Columns {
			if table.Column(col.Name) != nil {
				continue
			}
			ddl, err := schema.BuildAddColumnDDL(dialect, def.Name, col)
			if err != nil {
				return fmt.Errorf("failed to build column %s.%s: %w", def.Name, col.Name, err)
			}
			if _, err := s.pool.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", def.Name, col.Name, err)
			}
		}
	}
	return nil
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
	if _, err := s.pool.Exec(ctx, schema.BuildEvolutionsTableDDL(dialect)); err != nil {
		return nil, fmt.Errorf("failed to create evolutions table: %w", err)
	}

	rows, err := s.pool.Query(ctx, "SELECT version FROM "+schema.QuoteIdentifier(schema.EvolutionsTable))
	if err != nil {
		return nil, fmt.Errorf("failed to read applied evolutions: %w", err)
	}
	versions, err := pgx.CollectRows(rows, pgx.RowTo[int32])
	if err != nil {
		return nil, fmt.Errorf("failed to read applied evolutions: %w", err)
	}
	done := make(map[int]bool, len(versions))
	for _, v := range versions {
		done[int(v)] = true
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

func (s *Store) applyEvolution(ctx context.Context, ev schema.Evolution) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin evolution %d: %w", ev.Version, err)
	}
	defer tx.Rollback(ctx)

	for _, step := range ev.Steps {
		ddl, err := schema.BuildEvolutionDDL(dialect, step)
		if err != nil {
			return fmt.Errorf("evolution %d: %w", ev.Version, err)
		}
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("failed to apply evolution %d (%s %s): %w", ev.Version, step.Op, step.Table, err)
		}
	}
	insert := fmt.Sprintf("INSERT INTO %s (version, name) VALUES ($1, $2)", schema.QuoteIdentifier(schema.EvolutionsTable))
	if _, err := tx.Exec(ctx, insert, ev.Version, ev.Name); err != nil {
		return fmt.Errorf("failed to record evolution %d: %w", ev.Version, err)
	}
	return tx.Commit(ctx)
}

// LoadMappings returns every persisted mapping.
func (s *Store) LoadMappings(ctx context.Context) ([]mapper.Mapping, error) {
	query := fmt.Sprintf(`SELECT entity_type, key_kind, legacy_id, surrogate_id, created_at
		FROM %s ORDER BY entity_type, key_kind, legacy_id`, schema.QuoteIdentifier(schema.MappingsTable))
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to load mappings: %w", err)
	}
	defer rows.Close()

	var out []mapper.Mapping
	for rows.Next() {
		var m mapper.Mapping
		var kind string
		var id pgtype.UUID
		if err := rows.Scan(&m.EntityType, &kind, &m.LegacyID, &id, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		m.Kind = mapper.KeyKind(kind)
		m.SurrogateID = uuid.UUID(id.Bytes)
		out = append(out, m)
	}
	return out, rows.Err()
}

// LookupMapping returns the surrogate id persisted for a legacy id.
func (s *Store) LookupMapping(ctx context.Context, entityType, legacyID string) (uuid.UUID, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf(`SELECT surrogate_id FROM %s
		WHERE entity_type = $1 AND key_kind = $2 AND legacy_id = $3`, schema.QuoteIdentifier(schema.MappingsTable))
	var id pgtype.UUID
	err := s.pool.QueryRow(ctx, query, entityType, string(mapper.KindLegacy), legacyID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, false, nil
	}
	if err != nil {
		return uuid.Nil, false, fmt.Errorf("failed to look up mapping: %w", err)
	}
	return uuid.UUID(id.Bytes), true, nil
}

// WriteEntities upserts rows and inserts the new mappings in one transaction,
// queuing statements in batches. Foreign key columns are left untouched.
func (s *Store) WriteEntities(ctx context.Context, et *model.EntityType, rows []*model.Row, mappings []mapper.Mapping) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	upsert := schema.BuildUpsertSQL(dialect, et.TableName(), et.WriteColumns())
	batch := &pgx.Batch{}
	for _, row := range rows {
		vals, err := row.WriteValues()
		if err != nil {
			return err
		}
		args := make([]any, 0, len(vals)+1)
		args = append(args, pgUUID(row.ID))
		for _, v := range vals {
			args = append(args, toPG(v))
		}
		batch.Queue(upsert, args...)
		if batch.Len() >= s.batchSize {
			if err := sendBatch(ctx, tx, batch); err != nil {
				return fmt.Errorf("failed to write %s rows: %w", et.Name, err)
			}
			batch = &pgx.Batch{}
		}
	}

	insert := schema.BuildInsertMappingSQL(dialect)
	for _, m := range mappings {
		kind := m.Kind
		if kind == "" {
			kind = mapper.KindLegacy
		}
		batch.Queue(insert, m.EntityType, string(kind), m.LegacyID, pgUUID(m.SurrogateID))
		if batch.Len() >= s.batchSize {
			if err := sendBatch(ctx, tx, batch); err != nil {
				return fmt.Errorf("failed to write %s mappings: %w", et.Name, err)
			}
			batch = &pgx.Batch{}
		}
	}
	if err := sendBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("failed to write %s: %w", et.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit %s: %w", et.Name, err)
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

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	update := schema.BuildUpdateSQL(dialect, et.TableName(), cols)
	batch := &pgx.Batch{}
	for _, u := range updates {
		args := make([]any, 0, len(cols)+1)
		for _, v := range u.Values {
			args = append(args, pgtype.UUID{Bytes: [16]byte(v.UUID), Valid: v.Valid})
		}
		args = append(args, pgUUID(u.RowID))
		batch.Queue(update, args...)
		if batch.Len() >= s.batchSize {
			if err := sendBatch(ctx, tx, batch); err != nil {
				return fmt.Errorf("failed to update references of %s: %w", et.Name, err)
			}
			batch = &pgx.Batch{}
		}
	}
	if err := sendBatch(ctx, tx, batch); err != nil {
		return fmt.Errorf("failed to update references of %s: %w", et.Name, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit references of %s: %w", et.Name, err)
	}
	return nil
}

func sendBatch(ctx context.Context, tx pgx.Tx, batch *pgx.Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return err
		}
	}
	return br.Close()
}

func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: [16]byte(id), Valid: true}
}

func toPG(v any) any {
	switch t := v.(type) {
	case uuid.UUID:
		return pgUUID(t)
	case json.RawMessage:
		return string(t)
	default:
		return v
	}
}

// DuplicateValues returns rows sharing a value in column, ordered by value.
func (s *Store) DuplicateValues(ctx context.Context, table, column string) ([]verify.DuplicateValue, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, schema.BuildDuplicateValuesSQL(dialect, table, column))
	if err != nil {
		return nil, fmt.Errorf("failed to query duplicates: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (verify.DuplicateValue, error) {
		var d verify.DuplicateValue
		err := row.Scan(&d.Value, &d.ID)
		return d, err
	})
}

// OrphanReferences returns rows whose column value matches no row of refTable.
func (s *Store) OrphanReferences(ctx context.Context, table, column, refTable string) ([]verify.Orphan, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.pool.Query(ctx, schema.BuildOrphanSQL(dialect, table, column, refTable))
	if err != nil {
		return nil, fmt.Errorf("failed to query orphans: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (verify.Orphan, error) {
		var o verify.Orphan
		err := row.Scan(&o.ID, &o.Value)
		return o, err
	})
}

// PrimaryKeyAudit reports the declared primary key of table along with null
// and duplicate id values.
func (s *Store) PrimaryKeyAudit(ctx context.Context, table string) (verify.KeyAudit, error) {
	var audit verify.KeyAudit

	cols, err := s.introspector.PrimaryKeyColumns(ctx, table)
	if err != nil {
		return audit, err
	}
	audit.Columns = cols

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.pool.QueryRow(ctx, schema.BuildNullKeyCountSQL(table)).Scan(&audit.NullRows); err != nil {
		return audit, fmt.Errorf("failed to count null ids of %s: %w", table, err)
	}
	rows, err := s.pool.Query(ctx, schema.BuildDuplicateKeySQL(dialect, table))
	if err != nil {
		return audit, fmt.Errorf("failed to query duplicate ids of %s: %w", table, err)
	}
	dups, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return audit, fmt.Errorf("failed to read duplicate ids of %s: %w", table, err)
	}
	audit.DuplicateIDs = dups
	return audit, nil
}
