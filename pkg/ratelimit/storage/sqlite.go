package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS bucket_states (
	scope TEXT NOT NULL,
	key TEXT NOT NULL,
	tokens REAL NOT NULL,
	last_refill INTEGER NOT NULL,
	updated_at INTEGER NOT NULL,
	PRIMARY KEY (scope, key)
);
`

// SQLiteBackend implements Backend using SQLite. Snapshots are written
// in a single transaction so a crash mid-snapshot never leaves a
// partial state visible.
type SQLiteBackend struct {
	db *sql.DB
}

// NewSQLiteBackend opens (or creates) the database at path and
// initializes the schema.
func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}

	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open bucket database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create bucket schema: %w", err)
	}

	return &SQLiteBackend{db: db}, nil
}

// SaveStates writes all states in one transaction, replacing existing
// rows for the same keys.
func (s *SQLiteBackend) SaveStates(ctx context.Context, states []*BucketState) error {
	if len(states) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bucket_states (scope, key, tokens, last_refill, updated_at)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare snapshot: %w", err)
	}
	defer stmt.Close()

	for _, st := range states {
		_, err := stmt.ExecContext(ctx, st.Scope, st.Key, st.Tokens,
			st.LastRefill.UnixMilli(), st.UpdatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("save bucket %s/%s: %w", st.Scope, st.Key, err)
		}
	}

	return tx.Commit()
}

// LoadStates returns every persisted bucket state.
func (s *SQLiteBackend) LoadStates(ctx context.Context) ([]*BucketState, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT scope, key, tokens, last_refill, updated_at FROM bucket_states")
	if err != nil {
		return nil, fmt.Errorf("load bucket states: %w", err)
	}
	defer rows.Close()

	var out []*BucketState
	for rows.Next() {
		var st BucketState
		var refillMs, updatedMs int64
		if err := rows.Scan(&st.Scope, &st.Key, &st.Tokens, &refillMs, &updatedMs); err != nil {
			return nil, fmt.Errorf("scan bucket state: %w", err)
		}
		st.LastRefill = time.UnixMilli(refillMs)
		st.UpdatedAt = time.UnixMilli(updatedMs)
		out = append(out, &st)
	}
	return out, rows.Err()
}

// DeleteState removes the persisted row for one bucket.
func (s *SQLiteBackend) DeleteState(ctx context.Context, scope, key string) error {
	_, err := s.db.ExecContext(ctx,
		"DELETE FROM bucket_states WHERE scope = ? AND key = ?", scope, key)
	if err != nil {
		return fmt.Errorf("delete bucket state %s/%s: %w", scope, key, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteBackend) Close() error {
	return s.db.Close()
}

// compile-time interface checks
var (
	_ Backend = (*SQLiteBackend)(nil)
	_ Backend = (*MemoryBackend)(nil)
)
