package cache

import (
	"net/http"
	"sort"
	"sync"
)

// Storage is a collection of named caches. Each name partitions stored
// response snapshots into an independent namespace; names not recognized by
// the current worker version are garbage and get pruned at activation.
//
// Implementations must be thread-safe! Concurrent writes to the same key are
// last-write-wins; no further coordination is provided.
type Storage interface {
	// Open returns the named cache, creating it if it does not exist yet.
	Open(name string) (Cache, error)
	// Match looks up the request across every cache in the store and
	// returns the first snapshot found.
	Match(r *http.Request) ([]byte, bool, error)
	// Names lists every cache name currently present in the store.
	Names() ([]string, error)
	// Delete removes the named cache and all of its entries.
	// It reports whether the cache existed.
	Delete(name string) (bool, error)
}

// Cache is a single named namespace of request key -> response snapshot
// pairs. Snapshots are raw serialized HTTP responses.
type Cache interface {
	// Match returns the stored snapshot for the request, if any.
	Match(r *http.Request) ([]byte, bool, error)
	// Put stores the snapshot under the request's key, replacing any
	// previous entry.
	Put(r *http.Request, snapshot []byte) error
}

// Key returns the storage key for a request. Relative URLs (own-origin
// requests) key on the request URI so that precached paths and live requests
// agree; absolute URLs keep their host to avoid cross-origin collisions.
func Key(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.Method + " " + r.URL.String()
	}
	return r.Method + " " + r.URL.RequestURI()
}

// MemStorage is an in-memory Storage for tests and single-process setups.
// Contents do not survive a restart.
type MemStorage struct {
	mutex *sync.RWMutex
	dbs   map[string]map[string][]byte
}

func NewMemStorage() *MemStorage {
	return &MemStorage{
		mutex: &sync.RWMutex{},
		dbs:   make(map[string]map[string][]byte),
	}
}

func (m *MemStorage) Open(name string) (Cache, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	if _, ok := m.dbs[name]; !ok {
		m.dbs[name] = make(map[string][]byte)
	}
	return &memCache{storage: m, name: name}, nil
}

func (m *MemStorage) Match(r *http.Request) ([]byte, bool, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	key := Key(r)
	for _, db := range m.dbs {
		if snapshot, ok := db[key]; ok {
			return snapshot, true, nil
		}
	}
	return nil, false, nil
}

func (m *MemStorage) Names() ([]string, error) {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	names := make([]string, 0, len(m.dbs))
	for name := range m.dbs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

func (m *MemStorage) Delete(name string) (bool, error) {
	m.mutex.Lock()
	defer m.mutex.Unlock()
	_, ok := m.dbs[name]
	delete(m.dbs, name)
	return ok, nil
}

type memCache struct {
	storage *MemStorage
	name    string
}

func (c *memCache) Match(r *http.Request) ([]byte, bool, error) {
	c.storage.mutex.RLock()
	defer c.storage.mutex.RUnlock()
	db, ok := c.storage.dbs[c.name]
	if !ok {
		return nil, false, nil
	}
	snapshot, ok := db[Key(r)]
	return snapshot, ok, nil
}

func (c *memCache) Put(r *http.Request, snapshot []byte) error {
	c.storage.mutex.Lock()
	defer c.storage.mutex.Unlock()
	db, ok := c.storage.dbs[c.name]
	if !ok {
		// the cache was deleted after being opened; re-create it
		db = make(map[string][]byte)
		c.storage.dbs[c.name] = db
	}
	db[Key(r)] = snapshot
	return nil
}
