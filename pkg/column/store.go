// Package column implements the Column Store described in spec §3/§8.2:
// typed rows addressed by a primary key, an in-memory PK hash index over a
// modernc.org/sqlite-backed table, per-row TTL, and vacuum of expired rows.
//
// Grounded on the teacher's pkg/core/store_init.go (sqlite DSN/pragma tuning,
// connection pool sizing) and store_crud.go (RWMutex-guarded upsert,
// op-scoped error wrapping), generalized from the teacher's single fixed
// "embeddings" table to an arbitrary typed schema driven by Schema.
package column

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ColumnType is the declared type of a column in a Schema.
type ColumnType int

const (
	TypeInt64 ColumnType = iota
	TypeFloat64
	TypeString
	TypeBool
	TypeBytes
)

func (t ColumnType) sqlAffinity() string {
	switch t {
	case TypeInt64:
		return "INTEGER"
	case TypeFloat64:
		return "REAL"
	case TypeBool:
		return "INTEGER"
	case TypeBytes:
		return "BLOB"
	default:
		return "TEXT"
	}
}

// ColumnDef names one column and its type.
type ColumnDef struct {
	Name string
	Type ColumnType
}

// Schema describes a column store's typed row layout and designates one
// column as the primary key.
type Schema struct {
	Name       string
	Columns    []ColumnDef
	PrimaryKey string
}

func (s Schema) columnDef(name string) (ColumnDef, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return ColumnDef{}, false
}

var (
	ErrNotFound      = errors.New("column: row not found")
	ErrClosed        = errors.New("column: store is closed")
	ErrUnknownColumn = errors.New("column: unknown column")
	ErrMissingPK     = errors.New("column: row missing primary key value")
)

// StoreError wraps an error with the operation that produced it, mirroring
// the teacher's StoreError{Op,Err} idiom.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return fmt.Sprintf("column: %s: %v", e.Op, e.Err) }
func (e *StoreError) Unwrap() error { return e.Err }

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// Row is a single typed record, keyed by column name.
type Row map[string]any

// Store is a typed columnar table backed by SQLite, with an in-memory PK
// hash index mapping primary key values directly to SQLite rowids so
// point lookups skip a B-tree descent on the PK column (spec §3: "a hash
// index maps PK → row slot").
type Store struct {
	mu     sync.RWMutex
	db     *sql.DB
	schema Schema
	closed bool

	pkIndex map[string]int64 // string(pk) -> sqlite rowid
}

// Open creates (or reopens) a column store at path with the given schema.
func Open(ctx context.Context, path string, schema Schema) (*Store, error) {
	if _, ok := schema.columnDef(schema.PrimaryKey); !ok {
		return nil, wrapErr("open", fmt.Errorf("primary key column %q not declared in schema", schema.PrimaryKey))
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, wrapErr("open", err)
	}
	db.SetMaxOpenConns(1) // single-writer discipline; spec §5 serializes column mutations like WAL appends

	s := &Store{db: db, schema: schema, pkIndex: make(map[string]int64)}
	if err := s.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("open", err)
	}
	if err := s.loadIndex(ctx); err != nil {
		_ = db.Close()
		return nil, wrapErr("open", err)
	}
	return s, nil
}

func (s *Store) tableName() string {
	if s.schema.Name == "" {
		return "rows"
	}
	return s.schema.Name
}

func (s *Store) createTable(ctx context.Context) error {
	var cols []string
	for _, c := range s.schema.Columns {
		def := fmt.Sprintf("%q %s", c.Name, c.Type.sqlAffinity())
		if c.Name == s.schema.PrimaryKey {
			def += " PRIMARY KEY"
		}
		cols = append(cols, def)
	}
	cols = append(cols, `"__expires_at" INTEGER`) // unix seconds; NULL means no TTL

	stmt := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %q (%s)`, s.tableName(), strings.Join(cols, ", "))
	_, err := s.db.ExecContext(ctx, stmt)
	return err
}

func (s *Store) loadIndex(ctx context.Context) error {
	query := fmt.Sprintf(`SELECT rowid, %q FROM %q`, s.schema.PrimaryKey, s.tableName())
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var rowid int64
		var pk any
		if err := rows.Scan(&rowid, &pk); err != nil {
			return err
		}
		s.pkIndex[pkKey(pk)] = rowid
	}
	return rows.Err()
}

func pkKey(v any) string {
	return fmt.Sprintf("%v", v)
}

// Close releases the underlying SQLite connection.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// Upsert inserts or replaces a row. If ttl is non-nil, the row expires
// ttl after now and becomes invisible to Get/Scan and eligible for Vacuum.
func (s *Store) Upsert(ctx context.Context, row Row, ttl *time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapErr("upsert", ErrClosed)
	}

	pk, ok := row[s.schema.PrimaryKey]
	if !ok {
		return wrapErr("upsert", ErrMissingPK)
	}

	names := make([]string, 0, len(s.schema.Columns)+1)
	placeholders := make([]string, 0, len(s.schema.Columns)+1)
	values := make([]any, 0, len(s.schema.Columns)+1)

	for _, c := range s.schema.Columns {
		v, present := row[c.Name]
		if !present {
			continue
		}
		converted, err := convertValue(c, v)
		if err != nil {
			return wrapErr("upsert", err)
		}
		names = append(names, fmt.Sprintf("%q", c.Name))
		placeholders = append(placeholders, "?")
		values = append(values, converted)
	}

	names = append(names, `"__expires_at"`)
	placeholders = append(placeholders, "?")
	if ttl != nil {
		values = append(values, time.Now().Add(*ttl).Unix())
	} else {
		values = append(values, nil)
	}

	stmt := fmt.Sprintf(`INSERT OR REPLACE INTO %q (%s) VALUES (%s)`,
		s.tableName(), strings.Join(names, ", "), strings.Join(placeholders, ", "))

	result, err := s.db.ExecContext(ctx, stmt, values...)
	if err != nil {
		return wrapErr("upsert", err)
	}
	rowid, err := result.LastInsertId()
	if err != nil {
		return wrapErr("upsert", err)
	}
	s.pkIndex[pkKey(pk)] = rowid
	return nil
}

func convertValue(c ColumnDef, v any) (any, error) {
	switch c.Type {
	case TypeBytes:
		if b, ok := v.([]byte); ok {
			return b, nil
		}
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("%w: column %q: %v", ErrUnknownColumn, c.Name, err)
		}
		return encoded, nil
	case TypeBool:
		if b, ok := v.(bool); ok {
			if b {
				return 1, nil
			}
			return 0, nil
		}
		return v, nil
	default:
		return v, nil
	}
}

// Get retrieves a row by primary key, using the in-memory rowid index to
// avoid a PK B-tree lookup. Expired rows (TTL elapsed) are reported as
// absent even if not yet reclaimed by Vacuum.
func (s *Store) Get(ctx context.Context, pk any) (Row, bool, error) {
	s.mu.RLock()
	rowid, ok := s.pkIndex[pkKey(pk)]
	s.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}

	cols := make([]string, 0, len(s.schema.Columns)+1)
	for _, c := range s.schema.Columns {
		cols = append(cols, fmt.Sprintf("%q", c.Name))
	}
	cols = append(cols, `"__expires_at"`)

	query := fmt.Sprintf(`SELECT %s FROM %q WHERE rowid = ?`, strings.Join(cols, ", "), s.tableName())
	row := s.db.QueryRowContext(ctx, query, rowid)

	values := make([]any, len(s.schema.Columns)+1)
	scanTargets := make([]any, len(values))
	for i := range values {
		scanTargets[i] = &values[i]
	}
	if err := row.Scan(scanTargets...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, wrapErr("get", err)
	}

	if expiresAt, ok := values[len(values)-1].(int64); ok {
		if time.Now().Unix() >= expiresAt {
			return nil, false, nil
		}
	}

	result := make(Row, len(s.schema.Columns))
	for i, c := range s.schema.Columns {
		result[c.Name] = values[i]
	}
	return result, true, nil
}

// Delete removes a row by primary key. Deleting an absent key is a no-op.
func (s *Store) Delete(ctx context.Context, pk any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return wrapErr("delete", ErrClosed)
	}

	rowid, ok := s.pkIndex[pkKey(pk)]
	if !ok {
		return nil
	}

	stmt := fmt.Sprintf(`DELETE FROM %q WHERE rowid = ?`, s.tableName())
	if _, err := s.db.ExecContext(ctx, stmt, rowid); err != nil {
		return wrapErr("delete", err)
	}
	delete(s.pkIndex, pkKey(pk))
	return nil
}

// Scan returns every non-expired row, in PK order. Intended for the query
// executor's full-table scan fallback and for JOIN materialization.
func (s *Store) Scan(ctx context.Context) ([]Row, error) {
	cols := make([]string, 0, len(s.schema.Columns)+1)
	for _, c := range s.schema.Columns {
		cols = append(cols, fmt.Sprintf("%q", c.Name))
	}
	cols = append(cols, `"__expires_at"`)

	query := fmt.Sprintf(`SELECT %s FROM %q ORDER BY %q`, strings.Join(cols, ", "), s.tableName(), s.schema.PrimaryKey)
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, wrapErr("scan", err)
	}
	defer rows.Close()

	now := time.Now().Unix()
	var out []Row
	for rows.Next() {
		values := make([]any, len(s.schema.Columns)+1)
		scanTargets := make([]any, len(values))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return nil, wrapErr("scan", err)
		}
		if expiresAt, ok := values[len(values)-1].(int64); ok && now >= expiresAt {
			continue
		}
		row := make(Row, len(s.schema.Columns))
		for i, c := range s.schema.Columns {
			row[c.Name] = values[i]
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// Vacuum deletes rows whose TTL has elapsed and reclaims their PK index
// entries, then runs SQLite's own VACUUM to compact free pages (spec §3:
// "vacuum reclaims expired rows").
func (s *Store) Vacuum(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, wrapErr("vacuum", ErrClosed)
	}

	now := time.Now().Unix()
	query := fmt.Sprintf(`SELECT rowid, %q FROM %q WHERE "__expires_at" IS NOT NULL AND "__expires_at" <= ?`,
		s.schema.PrimaryKey, s.tableName())
	rows, err := s.db.QueryContext(ctx, query, now)
	if err != nil {
		return 0, wrapErr("vacuum", err)
	}
	type expired struct {
		rowid int64
		pk    any
	}
	var victims []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.rowid, &e.pk); err != nil {
			rows.Close()
			return 0, wrapErr("vacuum", err)
		}
		victims = append(victims, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, wrapErr("vacuum", err)
	}

	deleteStmt := fmt.Sprintf(`DELETE FROM %q WHERE "__expires_at" IS NOT NULL AND "__expires_at" <= ?`, s.tableName())
	if _, err := s.db.ExecContext(ctx, deleteStmt, now); err != nil {
		return 0, wrapErr("vacuum", err)
	}
	for _, v := range victims {
		delete(s.pkIndex, pkKey(v.pk))
	}

	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return len(victims), wrapErr("vacuum", err)
	}
	return len(victims), nil
}

// Len reports the number of live (non-expired, as of the last index load
// or mutation) rows tracked by the PK index.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.pkIndex)
}
