package localstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("key not found")

const schema = `
CREATE TABLE IF NOT EXISTS kv (
    key        TEXT PRIMARY KEY,
    value      TEXT NOT NULL,
    updated_at INTEGER NOT NULL
)`

// envelope wraps values stored with an expiry, in unix milliseconds.
type envelope struct {
	Value  json.RawMessage `json:"value"`
	Expiry int64           `json:"expiry"`
}

// Store is a small persistent key/value store, the server-side stand-in for
// the browser's localStorage.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
	now     func() time.Time
}

// Open opens (or creates) the SQLite file at path. Use ":memory:" for a
// throwaway store.
func Open(path string) (*Store, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}
	// SQLite has a single writer; one connection also keeps :memory: stable.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create store schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Set stores value as-is under key.
func (s *Store) Set(ctx context.Context, key, value string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("set %q: %w", key, err)
	}
	return nil
}

// Get returns the raw value for key or ErrNotFound.
func (s *Store) Get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM kv WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return v, nil
}

func (s *Store) Remove(ctx context.Context, key string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM kv WHERE key = ?`, key); err != nil {
		return fmt.Errorf("remove %q: %w", key, err)
	}
	return nil
}

// SetWithExpiry stores value JSON-encoded inside a {value, expiry} envelope.
func (s *Store) SetWithExpiry(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %q: %w", key, err)
	}
	b, err := json.Marshal(envelope{Value: raw, Expiry: s.now().Add(ttl).UnixMilli()})
	if err != nil {
		return err
	}
	return s.Set(ctx, key, string(b))
}

// GetWithExpiry decodes the enveloped value into dst. Expired entries are
// removed and reported as ErrNotFound.
func (s *Store) GetWithExpiry(ctx context.Context, key string, dst any) error {
	v, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	var env envelope
	if err := json.Unmarshal([]byte(v), &env); err != nil {
		return fmt.Errorf("decode %q: %w", key, err)
	}
	if s.now().UnixMilli() > env.Expiry {
		if err := s.Remove(ctx, key); err != nil {
			return err
		}
		return ErrNotFound
	}
	if err := json.Unmarshal(env.Value, dst); err != nil {
		return fmt.Errorf("decode %q value: %w", key, err)
	}
	return nil
}
