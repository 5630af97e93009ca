// Package db persists Context entries and the dump ledger in SQLite.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver with database/sql

	"github.com/go-ports/ctxsync/internal/models"
	"github.com/go-ports/ctxsync/internal/value"
)

// schemaVersion is stored in meta and bumped on incompatible schema changes.
const schemaVersion = "1"

// DB wraps a *sql.DB with the path it was opened from.
type DB struct {
	db   *sql.DB
	path string
}

// Open opens (or creates) the SQLite database at path and initialises the schema.
func Open(path string) (*DB, error) {
	sqldb, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("db.Open: %w", err)
	}
	d := &DB{db: sqldb, path: path}
	if err := d.createSchema(); err != nil {
		_ = sqldb.Close()
		return nil, fmt.Errorf("db.Open createSchema: %w", err)
	}
	return d, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	return d.db.Close()
}

// Path returns the file the database was opened from.
func (d *DB) Path() string { return d.path }

// ---------------------------------------------------------------------------
// Schema
// ---------------------------------------------------------------------------

func (d *DB) createSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS entries (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			type       TEXT NOT NULL,
			updated_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS dumps (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			filename        TEXT NOT NULL,
			format          TEXT NOT NULL,
			who             TEXT,
			key_count       INTEGER NOT NULL,
			file_size       INTEGER NOT NULL,
			include_history INTEGER NOT NULL DEFAULT 0,
			created_at      TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := d.db.Exec(s); err != nil {
			return fmt.Errorf("createSchema exec: %w\nSQL: %s", err, s)
		}
	}
	return d.SetMeta("schema_version", schemaVersion)
}

// ---------------------------------------------------------------------------
// Entries
// ---------------------------------------------------------------------------

// SaveEntries upserts the given entries and deletes the given keys in a single
// transaction. Either every row is written or none is.
func (d *DB) SaveEntries(upserts map[string]value.Value, deletes []string) error {
	if len(upserts) == 0 && len(deletes) == 0 {
		return nil
	}
	tx, err := d.db.Begin()
	if err != nil {
		return fmt.Errorf("db.SaveEntries: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC().Format(time.RFC3339Nano)
	for k, v := range upserts {
		b, err := v.MarshalJSON()
		if err != nil {
			return fmt.Errorf("db.SaveEntries: encode %q: %w", k, err)
		}
		if _, err := tx.Exec(
			`INSERT INTO entries (key, value, type, updated_at) VALUES (?, ?, ?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, type = excluded.type, updated_at = excluded.updated_at`,
			k, string(b), v.TypeName(), now,
		); err != nil {
			return fmt.Errorf("db.SaveEntries: upsert %q: %w", k, err)
		}
	}
	for _, k := range deletes {
		if _, err := tx.Exec(`DELETE FROM entries WHERE key = ?`, k); err != nil {
			return fmt.Errorf("db.SaveEntries: delete %q: %w", k, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("db.SaveEntries: commit: %w", err)
	}
	return nil
}

// LoadEntries returns every persisted entry.
func (d *DB) LoadEntries() (map[string]value.Value, error) {
	rows, err := d.db.Query(`SELECT key, value FROM entries`)
	if err != nil {
		return nil, fmt.Errorf("db.LoadEntries: %w", err)
	}
	defer rows.Close()

	out := make(map[string]value.Value)
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("db.LoadEntries: scan: %w", err)
		}
		v, err := value.Parse([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("db.LoadEntries: decode %q: %w", key, err)
		}
		out[key] = v
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Dump ledger
// ---------------------------------------------------------------------------

// RecordDump appends a dump record to the ledger.
func (d *DB) RecordDump(rec models.DumpRecord) error {
	_, err := d.db.Exec(`
		INSERT INTO dumps (filename, format, who, key_count, file_size, include_history, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.Filename, rec.Format, rec.Who, rec.KeyCount, rec.FileSize,
		rec.WithHistory, rec.Timestamp.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("db.RecordDump: %w", err)
	}
	return nil
}

// DumpHistory returns every recorded dump, oldest first.
func (d *DB) DumpHistory() ([]models.DumpRecord, error) {
	rows, err := d.db.Query(`
		SELECT filename, format, COALESCE(who, ''), key_count, file_size, include_history, created_at
		FROM dumps ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("db.DumpHistory: %w", err)
	}
	defer rows.Close()

	var out []models.DumpRecord
	for rows.Next() {
		var rec models.DumpRecord
		var created string
		if err := rows.Scan(&rec.Filename, &rec.Format, &rec.Who, &rec.KeyCount,
			&rec.FileSize, &rec.WithHistory, &created); err != nil {
			return nil, fmt.Errorf("db.DumpHistory: scan: %w", err)
		}
		rec.Timestamp, _ = time.Parse(time.RFC3339Nano, created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ---------------------------------------------------------------------------
// Meta
// ---------------------------------------------------------------------------

// GetMeta returns the value for key, or ("", false, nil) if not set.
func (d *DB) GetMeta(key string) (string, bool, error) {
	var val string
	err := d.db.QueryRow(`SELECT value FROM meta WHERE key = ?`, key).Scan(&val)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

// SetMeta upserts a key-value pair in the meta table.
func (d *DB) SetMeta(key, val string) error {
	_, err := d.db.Exec(
		`INSERT OR REPLACE INTO meta (key, value) VALUES (?, ?)`, key, val,
	)
	return err
}
