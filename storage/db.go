package storage

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned by Get when the key is absent from the store.
var ErrNotFound = errors.New("storage: key not found")

// Database is a generic interface for a key-value store.
// This allows the settlement state to use any backend (in-memory or persistent).
type Database interface {
	Put(key []byte, value []byte) error
	Get(key []byte) ([]byte, error)
	Delete(key []byte) error
	// Write applies every operation of the batch atomically.
	Write(batch *Batch) error
	// Keys returns every key sharing the supplied prefix in ascending order.
	Keys(prefix []byte) ([][]byte, error)
	Close() // A way to gracefully shut down the database connection.
}

type batchOp struct {
	key    []byte
	value  []byte
	delete bool
}

// Batch collects writes that must land together.
type Batch struct {
	ops []batchOp
}

// Put queues a write of value under key.
func (b *Batch) Put(key, value []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), value: append([]byte(nil), value...)})
}

// Delete queues the removal of key.
func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, batchOp{key: append([]byte(nil), key...), delete: true})
}

// Len reports the number of queued operations.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.ops)
}

// --- In-Memory DB (for testing) ---

type MemDB struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemDB() *MemDB {
	return &MemDB{
		data: make(map[string][]byte),
	}
}

func (db *MemDB) Put(key []byte, value []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.data[string(key)] = append([]byte(nil), value...)
	return nil
}

func (db *MemDB) Get(key []byte) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	value, ok := db.data[string(key)]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), value...), nil
}

func (db *MemDB) Delete(key []byte) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	delete(db.data, string(key))
	return nil
}

func (db *MemDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	db.mu.Lock()
	defer db.mu.Unlock()
	for _, op := range batch.ops {
		if op.delete {
			delete(db.data, string(op.key))
			continue
		}
		db.data[string(op.key)] = op.value
	}
	return nil
}

func (db *MemDB) Keys(prefix []byte) ([][]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	matches := make([]string, 0)
	for key := range db.data {
		if strings.HasPrefix(key, string(prefix)) {
			matches = append(matches, key)
		}
	}
	sort.Strings(matches)
	out := make([][]byte, len(matches))
	for i, key := range matches {
		out[i] = []byte(key)
	}
	return out, nil
}

// Close satisfies the Database interface for MemDB.
func (db *MemDB) Close() {
	// Nothing to close for an in-memory database.
}

// --- Persistent DB ---

// LevelDB is a persistent key-value store using LevelDB.
type LevelDB struct {
	db *leveldb.DB
}

// NewLevelDB creates or opens a LevelDB database at the specified path.
func NewLevelDB(path string) (*LevelDB, error) {
	db, err := leveldb.OpenFile(path, nil)
	if err != nil {
		return nil, fmt.Errorf("open leveldb %s: %w", path, err)
	}
	return &LevelDB{db: db}, nil
}

// Put inserts or updates a key-value pair.
func (ldb *LevelDB) Put(key []byte, value []byte) error {
	return ldb.db.Put(key, value, nil)
}

// Get retrieves a value for a given key.
func (ldb *LevelDB) Get(key []byte) ([]byte, error) {
	value, err := ldb.db.Get(key, nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return nil, ErrNotFound
	}
	return value, err
}

// Delete removes the key. Missing keys are ignored.
func (ldb *LevelDB) Delete(key []byte) error {
	return ldb.db.Delete(key, nil)
}

// Write commits the batch through a single LevelDB batch write.
func (ldb *LevelDB) Write(batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	lb := new(leveldb.Batch)
	for _, op := range batch.ops {
		if op.delete {
			lb.Delete(op.key)
			continue
		}
		lb.Put(op.key, op.value)
	}
	if err := ldb.db.Write(lb, nil); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

// Keys iterates the prefix range and returns the matching keys.
func (ldb *LevelDB) Keys(prefix []byte) ([][]byte, error) {
	iter := ldb.db.NewIterator(util.BytesPrefix(prefix), nil)
	defer iter.Release()
	out := make([][]byte, 0)
	for iter.Next() {
		out = append(out, append([]byte(nil), iter.Key()...))
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate prefix: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (ldb *LevelDB) Close() {
	ldb.db.Close()
}
