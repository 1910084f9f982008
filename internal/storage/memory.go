package storage

import (
	"errors"
	"strings"
	"sync"
)

// MemoryDB implements DB using an in-memory map, guarded by a mutex so it
// gives the same concurrent-safety guarantee BadgerDB's own transactions
// provide. MeshState relies on this: multiple goroutines call update/get_all
// concurrently even when MemoryDB backs a single-node or test deployment.
type MemoryDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewMemory creates a new in-memory database.
func NewMemory() *MemoryDB {
	return &MemoryDB{
		data: make(map[string][]byte),
	}
}

// Get retrieves a value by key.
func (m *MemoryDB) Get(key []byte) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.data[string(key)]
	if !ok {
		return nil, errors.New("key not found")
	}
	return v, nil
}

// Put stores a key-value pair.
func (m *MemoryDB) Put(key, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[string(key)] = value
	return nil
}

// Delete removes a key.
func (m *MemoryDB) Delete(key []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, string(key))
	return nil
}

// Has checks if a key exists.
func (m *MemoryDB) Has(key []byte) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.data[string(key)]
	return ok, nil
}

// ForEach iterates over all keys with the given prefix.
func (m *MemoryDB) ForEach(prefix []byte, fn func(key, value []byte) error) error {
	m.mu.RLock()
	type kv struct {
		k string
		v []byte
	}
	p := string(prefix)
	var snapshot []kv
	for k, v := range m.data {
		if strings.HasPrefix(k, p) {
			snapshot = append(snapshot, kv{k, v})
		}
	}
	m.mu.RUnlock()

	for _, e := range snapshot {
		if err := fn([]byte(e.k), append([]byte(nil), e.v...)); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	return nil
}

// CompareAndUpdate atomically applies update under the given key only if
// condition(existing, existingOK) reports true, where existing is the
// current value for key (nil, false if absent). This is MemoryDB's
// equivalent of a Badger read-modify-write transaction, giving MeshState's
// LWW comparison-and-swap the same atomicity guarantee regardless of which
// backing store is in use.
func (m *MemoryDB) CompareAndUpdate(key []byte, condition func(existing []byte, ok bool) bool, newValue []byte) (applied bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.data[string(key)]
	if !condition(existing, ok) {
		return false, nil
	}
	m.data[string(key)] = newValue
	return true, nil
}
