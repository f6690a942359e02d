package credentials

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure-Go SQLite driver
)

const createStateTable = `CREATE TABLE IF NOT EXISTS client_state (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
)`

// SQLStore keeps the session in a client_state key/value table.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if needed) a SQLite database at path.
func OpenSQLStore(ctx context.Context, path string) (*SQLStore, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := NewSQLStore(db)
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLStore wraps an open database. Call Migrate before first use.
func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

// Migrate creates the client_state table.
func (s *SQLStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createStateTable); err != nil {
		return fmt.Errorf("create client_state: %w", err)
	}
	return nil
}

func (s *SQLStore) Load(ctx context.Context) (*Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, value FROM client_state WHERE key IN (?, ?, ?)`,
		KeyAccessToken, KeyRefreshToken, KeyUser)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	defer rows.Close()

	values := make(map[string]string, len(storeKeys))
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		values[key] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeSession(values)
}

func (s *SQLStore) Save(ctx context.Context, session *Session) error {
	values, err := encodeSession(session)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	for _, key := range storeKeys {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO client_state (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
			key, values[key]); err != nil {
			_ = tx.Rollback() //nolint:errcheck // returning the exec error
			return fmt.Errorf("save %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM client_state WHERE key IN (?, ?, ?)`,
		KeyAccessToken, KeyRefreshToken, KeyUser); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
