package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	// Registers the "sqlite3" database/sql driver.
	_ "github.com/mattn/go-sqlite3"
)

// KVStore is the persisted key-value collaborator. Keys are paths such as
// ["currentEffectId"] or ["rotary_param_map", "<uri>"]; values are JSON documents.
type KVStore interface {
	// Get decodes the value at path into v. It returns false if nothing is stored.
	Get(path []string, v any) (bool, error)
	Set(path []string, v any) error
	Has(path []string) (bool, error)
	Close() error
}

// storeKey encodes a path so that segments containing "/" or "." (uris) stay unambiguous.
func storeKey(path []string) (string, error) {
	if len(path) == 0 {
		return "", errors.New("empty store path")
	}
	b, err := json.Marshal(path)
	if err != nil {
		return "", fmt.Errorf("encode store path: %w", err)
	}
	return string(b), nil
}

// ============================================================================
// MemoryStore
// ============================================================================

// MemoryStore keeps values in memory. Used by tests and by store.path ":memory:".
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte)}
}

func (m *MemoryStore) Get(path []string, v any) (bool, error) {
	key, err := storeKey(path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	b, ok := m.data[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (m *MemoryStore) Set(path []string, v any) error {
	key, err := storeKey(path)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	m.mu.Lock()
	m.data[key] = b
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) Has(path []string) (bool, error) {
	key, err := storeKey(path)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	_, ok := m.data[key]
	m.mu.Unlock()
	return ok, nil
}

func (m *MemoryStore) Close() error { return nil }

// ============================================================================
// SQLiteStore
// ============================================================================

// SQLiteStore persists values in a single key/value table.
type SQLiteStore struct {
	db *sql.DB

	get *sql.Stmt
	set *sql.Stmt
}

// OpenSQLiteStore opens (and creates if needed) the database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create store dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", path, err)
	}
	// One writer; the daemon loop is the only user.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS kv (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create kv table: %w", err)
	}

	s := &SQLiteStore{db: db}
	if s.get, err = db.Prepare(`SELECT value FROM kv WHERE key = ?`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare get: %w", err)
	}
	if s.set, err = db.Prepare(`INSERT INTO kv (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`); err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare set: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Get(path []string, v any) (bool, error) {
	key, err := storeKey(path)
	if err != nil {
		return false, err
	}
	var raw string
	if err := s.get.QueryRow(key).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("get %s: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (s *SQLiteStore) Set(path []string, v any) error {
	key, err := storeKey(path)
	if err != nil {
		return err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if _, err := s.set.Exec(key, string(b)); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	return nil
}

func (s *SQLiteStore) Has(path []string) (bool, error) {
	var raw json.RawMessage
	return s.Get(path, &raw)
}

func (s *SQLiteStore) Close() error {
	if s.get != nil {
		s.get.Close()
	}
	if s.set != nil {
		s.set.Close()
	}
	return s.db.Close()
}

// openStore picks the implementation from the configured path.
func openStore(path string) (KVStore, error) {
	if path == "" || path == ":memory:" {
		return NewMemoryStore(), nil
	}
	return OpenSQLiteStore(ExpandPath(path))
}
