package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore shares windows between processes on one host. Keys are
// hashed before they are written.
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("ratelimit: create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", sqliteDSN(dbPath))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: open database: %w", err)
	}
	// One connection serializes consumers within this process; busy_timeout
	// covers the others.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	const schema = `
	CREATE TABLE IF NOT EXISTS rate_windows (
		key       TEXT PRIMARY KEY,
		count     INTEGER NOT NULL,
		reset_at  INTEGER NOT NULL
	);`
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ratelimit: migrate: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN takes the write lock at BEGIN so concurrent read-then-write
// transactions wait on busy_timeout instead of failing on upgrade.
func sqliteDSN(dbPath string) string {
	return dbPath + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"
}

func (s *SQLiteStore) Consume(ctx context.Context, key string, limit int, window time.Duration, now time.Time) (bool, error) {
	hashed := HashKey(key)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("ratelimit: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		e       entry
		resetMs int64
		found   = true
	)
	err = tx.QueryRowContext(ctx, `SELECT count, reset_at FROM rate_windows WHERE key = ?`, hashed).Scan(&e.count, &resetMs)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		found = false
	case err != nil:
		return false, fmt.Errorf("ratelimit: read window: %w", err)
	default:
		e.resetAt = time.UnixMilli(resetMs)
	}

	next, ok := admit(e, found, limit, window, now)
	if !ok {
		return false, nil
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO rate_windows (key, count, reset_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET count = excluded.count, reset_at = excluded.reset_at`,
		hashed, next.count, next.resetAt.UnixMilli())
	if err != nil {
		return false, fmt.Errorf("ratelimit: write window: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("ratelimit: commit: %w", err)
	}
	return true, nil
}

// Prune deletes windows that expired before now.
func (s *SQLiteStore) Prune(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM rate_windows WHERE reset_at < ?`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("ratelimit: prune: %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
