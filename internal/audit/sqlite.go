package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

// sqliteSchema creates the audit table.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS search_audit (
    id TEXT PRIMARY KEY,
    tool TEXT NOT NULL,
    hosts TEXT NOT NULL,
    indices TEXT NOT NULL,
    path TEXT NOT NULL,
    total_rows INTEGER NOT NULL DEFAULT 0,
    status TEXT NOT NULL,
    error TEXT,
    duration_ms INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_search_audit_created_at ON search_audit(created_at);
`

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (creating if needed) the audit database at path.
// ":memory:" gives a private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if path == "" {
		path = "./data/esmcp-audit.db"
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("audit: failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to open database: %w", err)
	}

	// SQLite only supports one concurrent writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("audit: failed to enable WAL mode: %w", err)
		}
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to set busy timeout: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: failed to create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Record implements Store.
func (s *SQLiteStore) Record(ctx context.Context, e *Entry) error {
	if err := prepare(e); err != nil {
		return err
	}
	hosts, err := json.Marshal(e.Hosts)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal hosts: %w", err)
	}
	indices, err := json.Marshal(e.Indices)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal indices: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO search_audit (id, tool, hosts, indices, path, total_rows, status, error, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Tool, string(hosts), string(indices), e.Path, e.TotalRows, e.Status,
		nullString(e.Error), e.DurationMs, e.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("audit: failed to insert entry: %w", err)
	}
	return nil
}

// Recent implements Store.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tool, hosts, indices, path, total_rows, status, error, duration_ms, created_at
		FROM search_audit
		ORDER BY created_at DESC
		LIMIT ?`, normaliseLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to query entries: %w", err)
	}
	defer rows.Close()

	out := []Entry{}
	for rows.Next() {
		var (
			e              Entry
			hosts, indices string
			errText        sql.NullString
			createdAt      string
		)
		if err := rows.Scan(&e.ID, &e.Tool, &hosts, &indices, &e.Path, &e.TotalRows, &e.Status, &errText, &e.DurationMs, &createdAt); err != nil {
			return nil, fmt.Errorf("audit: failed to scan entry: %w", err)
		}
		if err := decodeLists(&e, []byte(hosts), []byte(indices)); err != nil {
			return nil, err
		}
		e.Error = errText.String
		if t, err := time.Parse(time.RFC3339Nano, createdAt); err == nil {
			e.CreatedAt = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close implements Store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func decodeLists(e *Entry, hosts, indices []byte) error {
	if err := json.Unmarshal(hosts, &e.Hosts); err != nil {
		return fmt.Errorf("audit: corrupt hosts column for %s: %w", e.ID, err)
	}
	if err := json.Unmarshal(indices, &e.Indices); err != nil {
		return fmt.Errorf("audit: corrupt indices column for %s: %w", e.ID, err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
