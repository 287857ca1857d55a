package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"brokerfund/storage"
	"brokerfund/storage/trie"
)

// Manager exposes typed, RLP encoded records on top of a key-value store.
//
// Writes are buffered in an in-memory overlay and only reach the database on
// Commit. Snapshot/RevertToSnapshot let a caller undo every write performed
// after a snapshot was taken, which is how a failed settlement call is rolled
// back without leaving partial effects behind.
//
// Committed returns a read-only view over the same database that skips the
// overlay. Readers outside a settlement use it so they only ever observe
// committed records.
type Manager struct {
	mu       sync.RWMutex
	nonceMu  sync.Mutex
	commitMu *sync.RWMutex
	db       storage.Database
	pending  map[string]pendingValue
	journal  []journalEntry
	readOnly bool
}

// ErrReadOnly is returned when a committed view is asked to write.
var ErrReadOnly = errors.New("state: committed view is read-only")

type pendingValue struct {
	data    []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    pendingValue
	hadPrev bool
}

// NewManager creates a state manager backed by the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{
		db:       db,
		commitMu: new(sync.RWMutex),
		pending:  make(map[string]pendingValue),
	}
}

// Committed returns a read-only view of the records as of the last Commit.
// Reads through the view never block on, or observe, a call in flight.
func (m *Manager) Committed() *Manager {
	if m.readOnly {
		return m
	}
	return &Manager{
		db:       m.db,
		commitMu: m.commitMu,
		pending:  make(map[string]pendingValue),
		readOnly: true,
	}
}

// ReadOnly reports whether m is a committed view.
func (m *Manager) ReadOnly() bool { return m.readOnly }

func (m *Manager) read(key string) ([]byte, bool, error) {
	m.commitMu.RLock()
	defer m.commitMu.RUnlock()
	return m.readLocked(key)
}

// readLocked resolves key through the overlay. Callers hold commitMu.
func (m *Manager) readLocked(key string) ([]byte, bool, error) {
	if value, ok := m.pending[key]; ok {
		if value.deleted {
			return nil, false, nil
		}
		return value.data, true, nil
	}
	data, err := m.db.Get([]byte(key))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("state: read %q: %w", key, err)
	}
	return data, true, nil
}

func (m *Manager) write(key string, value pendingValue) {
	prev, hadPrev := m.pending[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadPrev: hadPrev})
	m.pending[key] = value
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode %q: %w", key, err)
	}
	if m.readOnly {
		return ErrReadOnly
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write(string(key), pendingValue{data: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	m.mu.RLock()
	data, ok, err := m.read(string(key))
	m.mu.RUnlock()
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode %q: %w", key, err)
	}
	return true, nil
}

// KVDelete removes the supplied key. Missing keys are ignored.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	if m.readOnly {
		return ErrReadOnly
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.write(string(key), pendingValue{deleted: true})
	return nil
}

// KVKeys lists every live key with the supplied prefix, including buffered
// writes that have not been committed yet.
func (m *Manager) KVKeys(prefix []byte) ([][]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.commitMu.RLock()
	defer m.commitMu.RUnlock()
	return m.keysLocked(prefix)
}

// keysLocked lists live keys. Callers hold mu and commitMu for reading.
func (m *Manager) keysLocked(prefix []byte) ([][]byte, error) {
	stored, err := m.db.Keys(prefix)
	if err != nil {
		return nil, fmt.Errorf("state: list %q: %w", prefix, err)
	}
	live := make(map[string]struct{}, len(stored))
	for _, key := range stored {
		live[string(key)] = struct{}{}
	}
	for key, value := range m.pending {
		if !strings.HasPrefix(key, string(prefix)) {
			continue
		}
		if value.deleted {
			delete(live, key)
			continue
		}
		live[key] = struct{}{}
	}
	keys := make([][]byte, 0, len(live))
	for key := range live {
		keys = append(keys, []byte(key))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })
	return keys, nil
}

// Snapshot returns an identifier for the current write position.
func (m *Manager) Snapshot() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.journal)
}

// RevertToSnapshot undoes every write performed after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id < 0 {
		id = 0
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.pending[entry.key] = entry.prev
		} else {
			delete(m.pending, entry.key)
		}
	}
	if id < len(m.journal) {
		m.journal = m.journal[:id]
	}
}

// Commit flushes the buffered writes to the database in a single batch and
// clears the journal.
func (m *Manager) Commit() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	batch := new(storage.Batch)
	for key, value := range m.pending {
		if value.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value.data)
	}
	m.commitMu.Lock()
	err := m.db.Write(batch)
	m.commitMu.Unlock()
	if err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.pending = make(map[string]pendingValue)
	m.journal = m.journal[:0]
	return nil
}

// Dirty reports whether uncommitted writes are buffered.
func (m *Manager) Dirty() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.pending) > 0
}

// StateRoot returns the Merkle Patricia commitment over every live record.
// On the live manager buffered writes are included; on a committed view the
// root covers exactly the last commit.
func (m *Manager) StateRoot() (common.Hash, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	m.commitMu.RLock()
	defer m.commitMu.RUnlock()
	keys, err := m.keysLocked(nil)
	if err != nil {
		return common.Hash{}, err
	}
	entries := make([]trie.Entry, 0, len(keys))
	for _, key := range keys {
		data, ok, err := m.readLocked(string(key))
		if err != nil {
			return common.Hash{}, err
		}
		if ok {
			entries = append(entries, trie.Entry{Key: key, Value: data})
		}
	}
	return trie.Root(entries)
}
