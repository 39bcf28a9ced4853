// Package drafts journals unsaved cell buffers in a local SQLite database so
// keystrokes survive a crash or restart of the sync process.
//
// A draft is written on every local edit the server has not acknowledged and
// deleted once it has. On the next start the session restores drafts that
// still differ from the server's code.
//
// The database runs in embedded mode with WAL, one table:
//
//	drafts(cell_id TEXT PRIMARY KEY, code TEXT, updated_at TEXT)
package drafts

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// ErrNotFound is returned by Get when a cell has no draft.
var ErrNotFound = errors.New("draft not found")

// Draft is one journaled buffer.
type Draft struct {
	CellID    string
	Code      string
	UpdatedAt time.Time
}

// Store wraps the draft database.
type Store struct {
	conn *sql.DB
	path string
	now  func() time.Time
}

// Open opens (creating if needed) the draft database at path and initializes
// its schema.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create draft directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open draft database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping draft database: %w", err)
	}

	// one writer; the session loop is the only caller
	conn.SetMaxOpenConns(1)

	s := &Store{conn: conn, path: path, now: time.Now}

	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if err := s.InitSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close checkpoints the WAL and closes the database.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close draft database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the drafts table. It is idempotent.
func (s *Store) InitSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS drafts (
		cell_id TEXT PRIMARY KEY,
		code TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);`
	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create drafts schema: %w", err)
	}
	return nil
}

// Put inserts or replaces the draft for cellID.
func (s *Store) Put(ctx context.Context, cellID, code string) error {
	if cellID == "" {
		return fmt.Errorf("cell id cannot be empty")
	}
	query := `
	INSERT INTO drafts (cell_id, code, updated_at) VALUES (?, ?, ?)
	ON CONFLICT(cell_id) DO UPDATE SET code = excluded.code, updated_at = excluded.updated_at`
	updatedAt := s.now().UTC().Format(time.RFC3339Nano)
	if _, err := s.conn.ExecContext(ctx, query, cellID, code, updatedAt); err != nil {
		return fmt.Errorf("failed to put draft for %s: %w", cellID, err)
	}
	return nil
}

// Delete removes the draft for cellID. Deleting a missing draft is not an
// error.
func (s *Store) Delete(ctx context.Context, cellID string) error {
	if _, err := s.conn.ExecContext(ctx, `DELETE FROM drafts WHERE cell_id = ?`, cellID); err != nil {
		return fmt.Errorf("failed to delete draft for %s: %w", cellID, err)
	}
	return nil
}

// Get returns the draft for cellID or ErrNotFound.
func (s *Store) Get(ctx context.Context, cellID string) (Draft, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT cell_id, code, updated_at FROM drafts WHERE cell_id = ?`, cellID)
	d, err := scanDraft(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Draft{}, fmt.Errorf("%w: %s", ErrNotFound, cellID)
	}
	if err != nil {
		return Draft{}, fmt.Errorf("failed to get draft for %s: %w", cellID, err)
	}
	return d, nil
}

// List returns every draft, most recently updated first.
func (s *Store) List(ctx context.Context) ([]Draft, error) {
	rows, err := s.conn.QueryContext(ctx, `SELECT cell_id, code, updated_at FROM drafts ORDER BY updated_at DESC, cell_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	defer rows.Close()

	var out []Draft
	for rows.Next() {
		d, err := scanDraft(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan draft: %w", err)
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list drafts: %w", err)
	}
	return out, nil
}

// Load returns every draft's code keyed by cell id.
func (s *Store) Load(ctx context.Context) (map[string]string, error) {
	list, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(list))
	for _, d := range list {
		out[d.CellID] = d.Code
	}
	return out, nil
}

// Count returns the number of drafts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM drafts`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count drafts: %w", err)
	}
	return n, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDraft(row scanner) (Draft, error) {
	var d Draft
	var updatedAt string
	if err := row.Scan(&d.CellID, &d.Code, &updatedAt); err != nil {
		return Draft{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Draft{}, fmt.Errorf("invalid updated_at %q: %w", updatedAt, err)
	}
	d.UpdatedAt = t
	return d, nil
}
