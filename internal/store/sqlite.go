package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// SQLite is a KV backed by an embedded SQLite database.
//
// The database is opened in WAL mode for concurrent reads. All entries
// live in a single kv table with an optional expiry column.
type SQLite struct {
	conn *sql.DB
	path string
}

// Open creates a KV store at the specified path.
//
// The parent directory is created if needed. The caller MUST call
// Close() when done.
//
// Example:
//
//	kv, err := store.Open(".ttsync/state.db")
//	if err != nil {
//	    return err
//	}
//	defer kv.Close()
func Open(path string) (*SQLite, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &SQLite{conn: conn, path: path}

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := s.conn.Exec(pragma); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}

	if err := s.initSchema(context.Background()); err != nil {
		_ = s.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLite) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS kv (
		key TEXT PRIMARY KEY,
		value BLOB NOT NULL,
		expires_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_kv_expires ON kv(expires_at)
	    WHERE expires_at IS NOT NULL;
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize store schema: %w", err)
	}
	return nil
}

// Close closes the store, checkpointing the WAL first.
func (s *SQLite) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}

	s.conn = nil
	return nil
}

// Get implements KV.Get.
func (s *SQLite) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	var expiresAt sql.NullString

	row := s.conn.QueryRowContext(ctx,
		"SELECT value, expires_at FROM kv WHERE key = ?", key)
	if err := row.Scan(&value, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get key %s: %w", key, err)
	}

	if expired(expiresAt, time.Now()) {
		return nil, ErrNotFound
	}

	return value, nil
}

// Put implements KV.Put.
func (s *SQLite) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	_, err := s.conn.ExecContext(ctx, `
		INSERT INTO kv (key, value, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at
	`, key, value, expiryString(ttl, time.Now()))
	if err != nil {
		return fmt.Errorf("failed to put key %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent implements KV.PutIfAbsent. The expired-entry cleanup and
// the conditional insert run inside one transaction so that two
// concurrent callers cannot both win.
func (s *SQLite) PutIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM kv WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?",
		key, now.UTC().Format(time.RFC3339Nano)); err != nil {
		return false, fmt.Errorf("failed to clear expired key %s: %w", key, err)
	}

	res, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO kv (key, value, expires_at) VALUES (?, ?, ?)",
		key, value, expiryString(ttl, now))
	if err != nil {
		return false, fmt.Errorf("failed to put-if-absent key %s: %w", key, err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check insert result: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit put-if-absent: %w", err)
	}

	return inserted > 0, nil
}

// Delete implements KV.Delete.
func (s *SQLite) Delete(ctx context.Context, key string) error {
	if _, err := s.conn.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key); err != nil {
		return fmt.Errorf("failed to delete key %s: %w", key, err)
	}
	return nil
}

// List implements KV.List.
func (s *SQLite) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT key FROM kv
		WHERE key >= ? AND key < ?
		  AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key ASC
	`, prefix, prefix+"\xff", time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return nil, fmt.Errorf("failed to list keys with prefix %s: %w", prefix, err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating keys: %w", err)
	}

	return keys, nil
}

// ExpireSweep implements KV.ExpireSweep.
func (s *SQLite) ExpireSweep(ctx context.Context) (int, error) {
	res, err := s.conn.ExecContext(ctx,
		"DELETE FROM kv WHERE expires_at IS NOT NULL AND expires_at <= ?",
		time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("failed to sweep expired keys: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count swept keys: %w", err)
	}
	return int(n), nil
}

func expiryString(ttl time.Duration, now time.Time) sql.NullString {
	if ttl <= 0 {
		return sql.NullString{}
	}
	return sql.NullString{
		String: now.Add(ttl).UTC().Format(time.RFC3339Nano),
		Valid:  true,
	}
}

func expired(expiresAt sql.NullString, now time.Time) bool {
	if !expiresAt.Valid {
		return false
	}
	t, err := time.Parse(time.RFC3339Nano, expiresAt.String)
	if err != nil {
		return false
	}
	return !t.After(now)
}
