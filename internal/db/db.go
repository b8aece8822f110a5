package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is the SQL flavour of the connected database.
type Dialect string

const (
	SQLite   Dialect = "sqlite3"
	Postgres Dialect = "pgx"
)

// DB wraps the run history database connection.
type DB struct {
	conn    *sql.DB
	dsn     string
	dialect Dialect
}

// DefaultDBPath returns ~/.factory/factory.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	dir := filepath.Join(home, ".factory")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create directory %s: %w", dir, err)
	}
	return filepath.Join(dir, "factory.db"), nil
}

// DialectFor picks the driver for a DSN: postgres URLs use pgx, anything
// else is a SQLite path.
func DialectFor(dsn string) Dialect {
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return Postgres
	}
	return SQLite
}

// Open opens or creates the database named by dsn.
func Open(dsn string) (*DB, error) {
	dialect := DialectFor(dsn)
	conn, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if dialect == SQLite {
		conn.SetMaxOpenConns(1)
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("set journal mode: %w", err)
		}
		if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("enable foreign keys: %w", err)
		}
	}
	return &DB{conn: conn, dsn: dsn, dialect: dialect}, nil
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Conn returns the underlying *sql.DB for advanced queries.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// Dialect reports which driver is in use.
func (d *DB) Dialect() Dialect {
	return d.dialect
}

// rebind rewrites ? placeholders to $N for postgres.
func (d *DB) rebind(q string) string {
	if d.dialect != Postgres {
		return q
	}
	var sb strings.Builder
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteByte(q[i])
	}
	return sb.String()
}

func (d *DB) exec(q string, args ...any) (sql.Result, error) {
	return d.conn.Exec(d.rebind(q), args...)
}

func (d *DB) query(q string, args ...any) (*sql.Rows, error) {
	return d.conn.Query(d.rebind(q), args...)
}

// Query runs a read-only query written with ? placeholders.
func (d *DB) Query(q string, args ...any) (*sql.Rows, error) {
	return d.query(q, args...)
}

func (d *DB) queryRow(q string, args ...any) *sql.Row {
	return d.conn.QueryRow(d.rebind(q), args...)
}

// schemaV1 uses {{id}} for the auto-increment primary key column type.
var schemaV1 = []string{
	`CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at TEXT NOT NULL
)`,
	`CREATE TABLE IF NOT EXISTS runs (
    run_id      TEXT PRIMARY KEY,
    issue_ref   TEXT NOT NULL,
    repo        TEXT NOT NULL DEFAULT '',
    source      TEXT NOT NULL DEFAULT '',
    title       TEXT NOT NULL DEFAULT '',
    outcome     TEXT NOT NULL DEFAULT '',
    exit_code   INTEGER,
    retry_count INTEGER NOT NULL DEFAULT 0,
    degraded    BOOLEAN NOT NULL DEFAULT FALSE,
    commit_sha  TEXT NOT NULL DEFAULT '',
    pr_url      TEXT NOT NULL DEFAULT '',
    error       TEXT NOT NULL DEFAULT '',
    started_at  TEXT NOT NULL,
    finished_at TEXT NOT NULL DEFAULT ''
)`,
	`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC)`,
	`CREATE TABLE IF NOT EXISTS phase_events (
    id          {{id}},
    run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    seq         INTEGER NOT NULL,
    phase       TEXT NOT NULL,
    result      TEXT NOT NULL CHECK(result IN ('ok','error')),
    duration_ms INTEGER NOT NULL,
    detail      TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_phase_run ON phase_events(run_id, seq)`,
	`CREATE TABLE IF NOT EXISTS check_runs (
    id          {{id}},
    run_id      TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    attempt     INTEGER NOT NULL,
    check_name  TEXT NOT NULL,
    passed      BOOLEAN NOT NULL,
    skipped     BOOLEAN NOT NULL DEFAULT FALSE,
    timed_out   BOOLEAN NOT NULL DEFAULT FALSE,
    exit_code   INTEGER,
    duration_ms INTEGER,
    summary     TEXT NOT NULL DEFAULT '',
    findings    TEXT NOT NULL DEFAULT '',
    timestamp   TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_check_run ON check_runs(run_id, attempt)`,
	`CREATE TABLE IF NOT EXISTS model_calls (
    id             {{id}},
    run_id         TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
    purpose        TEXT NOT NULL,
    prompt_tokens  INTEGER NOT NULL DEFAULT 0,
    response_chars INTEGER NOT NULL DEFAULT 0,
    duration_ms    INTEGER NOT NULL,
    error          TEXT NOT NULL DEFAULT '',
    timestamp      TEXT NOT NULL
)`,
	`CREATE INDEX IF NOT EXISTS idx_model_run ON model_calls(run_id)`,
}

var tables = []string{"model_calls", "check_runs", "phase_events", "runs", "schema_version"}

func (d *DB) ddl(stmt string) string {
	id := "INTEGER PRIMARY KEY AUTOINCREMENT"
	if d.dialect == Postgres {
		id = "BIGSERIAL PRIMARY KEY"
	}
	return strings.ReplaceAll(stmt, "{{id}}", id)
}

// Migrate applies the database schema.
func (d *DB) Migrate() error {
	var count int
	err := d.queryRow("SELECT COUNT(*) FROM schema_version WHERE version = 1").Scan(&count)
	if err == nil && count > 0 {
		return nil
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range schemaV1 {
		if _, err := tx.Exec(d.ddl(stmt)); err != nil {
			return fmt.Errorf("apply schema v1: %w", err)
		}
	}
	if _, err := tx.Exec(d.rebind("INSERT INTO schema_version (version, applied_at) VALUES (1, ?)"), now()); err != nil {
		return fmt.Errorf("record schema version: %w", err)
	}
	return tx.Commit()
}

// Reset drops all tables and re-applies the schema.
func (d *DB) Reset() error {
	for _, t := range tables {
		if _, err := d.conn.Exec("DROP TABLE IF EXISTS " + t); err != nil {
			return fmt.Errorf("drop table %s: %w", t, err)
		}
	}
	return d.Migrate()
}
