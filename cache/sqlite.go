package cache

import (
	"database/sql"
	"fmt"
	"net/http"
	"sync"

	_ "github.com/glebarez/go-sqlite"
)

// SQLiteStorage is a Storage backed by a single SQLite database. Cache
// contents survive process restarts until pruned.
type SQLiteStorage struct {
	db         *sql.DB
	writeMutex *sync.Mutex
}

// NewSQLiteStorage opens (or creates) the database at the given filename.
// If the filename is empty, an in-memory db is used.
func NewSQLiteStorage(filename string) (*SQLiteStorage, error) {
	if filename == "" {
		filename = "file::memory:?cache=shared"
	}
	db, err := sql.Open("sqlite", filename)
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}
	stmts := []string{
		"CREATE TABLE IF NOT EXISTS caches (name TEXT PRIMARY KEY)",
		`CREATE TABLE IF NOT EXISTS entries (
			cache_name TEXT NOT NULL,
			key TEXT NOT NULL,
			bytes BLOB,
			PRIMARY KEY (cache_name, key)
		)`,
		"PRAGMA journal_mode=WAL",
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return nil, fmt.Errorf("init cache db: %w", err)
		}
	}
	return &SQLiteStorage{
		db:         db,
		writeMutex: &sync.Mutex{},
	}, nil
}

func (s *SQLiteStorage) Open(name string) (Cache, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("INSERT OR IGNORE INTO caches (name) VALUES (?)", name); err != nil {
		return nil, fmt.Errorf("open cache %q: %w", name, err)
	}
	return &sqliteCache{storage: s, name: name}, nil
}

func (s *SQLiteStorage) Match(r *http.Request) ([]byte, bool, error) {
	var bytes []byte
	err := s.db.QueryRow("SELECT bytes FROM entries WHERE key = ? LIMIT 1", Key(r)).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (s *SQLiteStorage) Names() ([]string, error) {
	rows, err := s.db.Query("SELECT name FROM caches ORDER BY name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	names := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLiteStorage) Delete(name string) (bool, error) {
	s.writeMutex.Lock()
	defer s.writeMutex.Unlock()
	if _, err := s.db.Exec("DELETE FROM entries WHERE cache_name = ?", name); err != nil {
		return false, err
	}
	result, err := s.db.Exec("DELETE FROM caches WHERE name = ?", name)
	if err != nil {
		return false, err
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return deleted > 0, nil
}

// Close closes the underlying database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

type sqliteCache struct {
	storage *SQLiteStorage
	name    string
}

func (c *sqliteCache) Match(r *http.Request) ([]byte, bool, error) {
	var bytes []byte
	err := c.storage.db.QueryRow(
		"SELECT bytes FROM entries WHERE cache_name = ? AND key = ?",
		c.name, Key(r),
	).Scan(&bytes)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return bytes, true, nil
}

func (c *sqliteCache) Put(r *http.Request, snapshot []byte) error {
	c.storage.writeMutex.Lock()
	defer c.storage.writeMutex.Unlock()
	_, err := c.storage.db.Exec(
		"INSERT OR REPLACE INTO entries (cache_name, key, bytes) VALUES (?, ?, ?)",
		c.name, Key(r), snapshot,
	)
	return err
}
