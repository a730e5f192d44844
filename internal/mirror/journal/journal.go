// Package journal records synchronization outcomes in an analytics database.
//
// The journal is a separate SQLite file holding two tables: sync_events (one
// row per pass outcome) and sync_conflicts (one row per resolved conflict).
// It is an optional collaborator wired into an engine through its event and
// conflict hooks; the pass pipeline itself never reads from it.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/jverity/tablemirror/internal/mirror/engine"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// Event is one recorded pass outcome.
type Event struct {
	ID        int64
	Pair      string
	Phase     string
	Error     string
	CreatedAt time.Time
}

// Conflict is one recorded conflict decision.
type Conflict struct {
	ID        int64
	Pair      string
	Table     string
	RowKey    string
	Winner    string
	CreatedAt time.Time
}

// Journal wraps the analytics database connection.
type Journal struct {
	conn *sql.DB
	path string
}

// Open opens (creating if necessary) the analytics database at path and
// ensures its schema exists. The caller MUST call Close() when done.
func Open(path string) (*Journal, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping journal database: %w", err)
	}

	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	j := &Journal{conn: conn, path: path}
	if err := j.initSchema(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return j, nil
}

// Close closes the analytics database connection.
func (j *Journal) Close() error {
	if j.conn == nil {
		return nil
	}
	if err := j.conn.Close(); err != nil {
		return fmt.Errorf("failed to close journal database: %w", err)
	}
	j.conn = nil
	return nil
}

// Path returns the analytics database file path.
func (j *Journal) Path() string {
	return j.path
}

func (j *Journal) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sync_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		phase TEXT NOT NULL,
		error TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sync_conflicts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pair TEXT NOT NULL,
		table_name TEXT NOT NULL,
		row_key TEXT NOT NULL,
		winner TEXT NOT NULL,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sync_events_pair ON sync_events(pair);
	CREATE INDEX IF NOT EXISTS idx_sync_conflicts_pair ON sync_conflicts(pair);
	`

	if _, err := j.conn.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize journal schema: %w", err)
	}
	return nil
}

// RecordEvent stores one pass outcome for the named pair.
func (j *Journal) RecordEvent(ctx context.Context, pair string, ev engine.SyncEvent) error {
	var errText sql.NullString
	if ev.Err != nil {
		errText = sql.NullString{String: ev.Err.Error(), Valid: true}
	}

	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO sync_events (pair, phase, error, created_at) VALUES (?, ?, ?, ?)`,
		pair, string(ev.Phase), errText, time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record sync event: %w", err)
	}
	return nil
}

// RecordConflict stores one conflict decision for the named pair.
func (j *Journal) RecordConflict(ctx context.Context, pair, table, rowKey string, winner engine.Origin) error {
	_, err := j.conn.ExecContext(ctx,
		`INSERT INTO sync_conflicts (pair, table_name, row_key, winner, created_at) VALUES (?, ?, ?, ?, ?)`,
		pair, table, rowKey, winner.String(), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("failed to record conflict: %w", err)
	}
	return nil
}

// ListEvents returns the most recent pass outcomes, newest first.
func (j *Journal) ListEvents(ctx context.Context, limit int) ([]Event, error) {
	rows, err := j.conn.QueryContext(ctx,
		`SELECT id, pair, phase, error, created_at FROM sync_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var ev Event
		var errText sql.NullString
		var createdAt string
		if err := rows.Scan(&ev.ID, &ev.Pair, &ev.Phase, &errText, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan sync event: %w", err)
		}
		ev.Error = errText.String
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			ev.CreatedAt = t
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sync events: %w", err)
	}
	return events, nil
}

// ListConflicts returns the most recent conflict decisions, newest first.
func (j *Journal) ListConflicts(ctx context.Context, limit int) ([]Conflict, error) {
	rows, err := j.conn.QueryContext(ctx,
		`SELECT id, pair, table_name, row_key, winner, created_at FROM sync_conflicts ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var conflicts []Conflict
	for rows.Next() {
		var c Conflict
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Pair, &c.Table, &c.RowKey, &c.Winner, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conflict: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			c.CreatedAt = t
		}
		conflicts = append(conflicts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating conflicts: %w", err)
	}
	return conflicts, nil
}

// Hooks returns engine event and conflict hooks that record into the
// journal for the named pair and table. Recording failures are logged and
// absorbed so journaling can never abort a pass.
//
// If logger is nil, a default logger writing to stderr is used.
func (j *Journal) Hooks(pair, table string, logger *log.Logger) (func(engine.SyncEvent), func(engine.ConflictRecord, engine.ChangeRecord)) {
	if logger == nil {
		logger = log.New(os.Stderr, "[journal] ", log.LstdFlags)
	}

	eventHook := func(ev engine.SyncEvent) {
		if err := j.RecordEvent(context.Background(), pair, ev); err != nil {
			logger.Printf("failed to record event: %v", err)
		}
	}
	conflictHook := func(c engine.ConflictRecord, winner engine.ChangeRecord) {
		if err := j.RecordConflict(context.Background(), pair, table, winner.Key, winner.Origin); err != nil {
			logger.Printf("failed to record conflict: %v", err)
		}
	}
	return eventHook, conflictHook
}
