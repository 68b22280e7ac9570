package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/glebarez/go-sqlite"
	"github.com/sirupsen/logrus"
)

// SQLiteProvider keeps every named store in a single SQLite database.
// Stores are listed in the order they were created.
type SQLiteProvider struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLite opens the database at filename.
// If file name is empty, a new in-memory db is opened.
func NewSQLite(filename string) (*SQLiteProvider, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite db: %w", err)
	}
	return &SQLiteProvider{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteProvider) Init() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS stores (
			name TEXT PRIMARY KEY,
			created_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS entries (
			store TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (store, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to initialize sqlite db: %w", err)
		}
	}
	return nil
}

func (s *SQLiteProvider) Open(name string) (Store, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	_, err := s.db.Exec("INSERT OR IGNORE INTO stores (name, created_at) VALUES (?, ?)", name, time.Now().UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to create store %s: %w", name, err)
	}
	return &sqliteStore{provider: s, name: name}, nil
}

func (s *SQLiteProvider) Lookup(name string) (Store, error) {
	exists, err := s.Has(name)
	if err != nil || !exists {
		return nil, err
	}
	return &sqliteStore{provider: s, name: name}, nil
}

func (s *SQLiteProvider) Has(name string) (bool, error) {
	var n int
	err := s.db.QueryRow("SELECT COUNT(*) FROM stores WHERE name = ?", name).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *SQLiteProvider) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM stores ORDER BY created_at, rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list stores: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteProvider) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec("DELETE FROM stores WHERE name = ?", name)
	if err != nil {
		return false, fmt.Errorf("failed to delete store %s: %w", name, err)
	}
	if _, err := tx.Exec("DELETE FROM entries WHERE store = ?", name); err != nil {
		return false, fmt.Errorf("failed to delete entries of store %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	logrus.Debugf("Deleted store %s from sqlite db", name)
	return n > 0, nil
}

func (s *SQLiteProvider) Close() error {
	return s.db.Close()
}

type sqliteStore struct {
	provider *SQLiteProvider
	name     string
}

func (s *sqliteStore) Get(key string) ([]byte, error) {
	var bytes []byte
	err := s.provider.db.QueryRow("SELECT bytes FROM entries WHERE store = ? AND key = ?", s.name, key).Scan(&bytes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return bytes, nil
}

func (s *sqliteStore) Set(key string, value []byte) error {
	s.provider.writeMutex.Lock()
	defer s.provider.writeMutex.Unlock()
	_, err := s.provider.db.Exec("INSERT OR REPLACE INTO entries (store, key, bytes) VALUES (?, ?, ?)", s.name, key, value)
	return err
}

func (s *sqliteStore) Keys() ([]string, error) {
	rows, err := s.provider.db.Query("SELECT key FROM entries WHERE store = ? ORDER BY key", s.name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}
