// Package store provides embedded SQLite access for the mirrored stores.
//
// Each mirrored side (primary and replica) is opened as its own Store. The
// database runs in embedded mode with WAL enabled so the sync worker's reads
// and writes never block external application connections to the same file.
//
// The store does not own the mirrored table's schema; it only reads and
// writes rows described by a schema.TableSpec.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jverity/tablemirror/internal/mirror/schema"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Store wraps one SQLite connection to a mirrored database file.
type Store struct {
	conn *sql.DB
	path string
}

// Row is one table row read from a store: the primary-key value plus the
// tracked column values in TableSpec.Columns order.
type Row struct {
	Key    any
	Values []any
}

// Open opens (creating if necessary) the database at path.
//
// The database is opened in embedded mode with WAL for concurrent reads and
// a busy timeout so replication writes wait out brief lock contention from
// external writers instead of failing immediately.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Path returns the database file path this store was opened with.
func (s *Store) Path() string {
	return s.path
}

// RawDB returns the underlying sql.DB connection.
func (s *Store) RawDB() *sql.DB {
	return s.conn
}

// Close closes the database connection after checkpointing the WAL so all
// replicated changes are persisted in the main database file.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	s.conn = nil
	return nil
}

// Rows reads every row of the mirrored table ordered by primary key.
// This is a single consistent read; no lock is held after it returns.
func (s *Store) Rows(ctx context.Context, spec *schema.TableSpec) ([]Row, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s ORDER BY %s`,
		selectList(spec), quoteIdent(spec.Name), quoteIdent(spec.PrimaryKey))

	rows, err := s.conn.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", spec.Name, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows, spec)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating %s: %w", spec.Name, err)
	}

	return out, nil
}

// GetRow reads a single row by primary key. The bool result reports whether
// the row exists.
func (s *Store) GetRow(ctx context.Context, spec *schema.TableSpec, key any) (Row, bool, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE %s = ?`,
		selectList(spec), quoteIdent(spec.Name), quoteIdent(spec.PrimaryKey))

	rows, err := s.conn.QueryContext(ctx, query, key)
	if err != nil {
		return Row{}, false, fmt.Errorf("failed to read %s row: %w", spec.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return Row{}, false, fmt.Errorf("error reading %s row: %w", spec.Name, err)
		}
		return Row{}, false, nil
	}

	row, err := scanRow(rows, spec)
	if err != nil {
		return Row{}, false, err
	}
	return row, true, nil
}

// Begin starts a write transaction on this store.
func (s *Store) Begin(ctx context.Context) (*sql.Tx, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

// UpsertRow inserts or updates one row inside the given transaction,
// keyed by primary key.
func (s *Store) UpsertRow(ctx context.Context, tx *sql.Tx, spec *schema.TableSpec, row Row) error {
	cols := make([]string, 0, len(spec.Columns)+1)
	cols = append(cols, quoteIdent(spec.PrimaryKey))
	sets := make([]string, 0, len(spec.Columns))
	for _, c := range spec.Columns {
		cols = append(cols, quoteIdent(c))
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoteIdent(c), quoteIdent(c)))
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(cols)), ", ")

	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(%s) DO UPDATE SET %s`,
		quoteIdent(spec.Name), strings.Join(cols, ", "), marks,
		quoteIdent(spec.PrimaryKey), strings.Join(sets, ", "))

	args := make([]any, 0, len(cols))
	args = append(args, row.Key)
	args = append(args, row.Values...)

	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("failed to upsert %s row %v: %w", spec.Name, row.Key, err)
	}
	return nil
}

// DeleteRow deletes one row by primary key inside the given transaction.
// Deleting a row that does not exist is not an error.
func (s *Store) DeleteRow(ctx context.Context, tx *sql.Tx, spec *schema.TableSpec, key any) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE %s = ?`,
		quoteIdent(spec.Name), quoteIdent(spec.PrimaryKey))

	if _, err := tx.ExecContext(ctx, query, key); err != nil {
		return fmt.Errorf("failed to delete %s row %v: %w", spec.Name, key, err)
	}
	return nil
}

// RowCount returns the number of rows in the mirrored table.
func (s *Store) RowCount(ctx context.Context, spec *schema.TableSpec) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, quoteIdent(spec.Name))

	var count int
	if err := s.conn.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count %s rows: %w", spec.Name, err)
	}
	return count, nil
}

// scanRow scans the current result row into a Row. Byte slices are copied
// because the driver may reuse their backing arrays between Next calls.
func scanRow(rows *sql.Rows, spec *schema.TableSpec) (Row, error) {
	dest := make([]any, len(spec.Columns)+1)
	ptrs := make([]any, len(dest))
	for i := range dest {
		ptrs[i] = &dest[i]
	}

	if err := rows.Scan(ptrs...); err != nil {
		return Row{}, fmt.Errorf("failed to scan %s row: %w", spec.Name, err)
	}

	for i, v := range dest {
		if b, ok := v.([]byte); ok {
			cp := make([]byte, len(b))
			copy(cp, b)
			dest[i] = cp
		}
	}

	return Row{Key: dest[0], Values: dest[1:]}, nil
}

// selectList builds the quoted pk-first column list for SELECT statements.
func selectList(spec *schema.TableSpec) string {
	parts := make([]string, 0, len(spec.Columns)+1)
	parts = append(parts, quoteIdent(spec.PrimaryKey))
	for _, c := range spec.Columns {
		parts = append(parts, quoteIdent(c))
	}
	return strings.Join(parts, ", ")
}

// quoteIdent quotes an identifier already validated by schema.ValidIdent.
func quoteIdent(name string) string {
	return `"` + name + `"`
}
