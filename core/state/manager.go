package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"sorosusu/storage"
)

// ErrFinished is returned when a committed or discarded manager is reused.
var ErrFinished = errors.New("state: manager already finished")

// Store hands out journaled managers over a key-value database. Commits are
// serialised so that each manager's writes land as one batch.
type Store struct {
	db storage.Database
	mu sync.Mutex
}

// NewStore wraps db.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Begin opens a manager whose writes stay private until Commit.
func (s *Store) Begin() *Manager {
	return &Manager{store: s, dirty: make(map[string]journalEntry)}
}

type journalEntry struct {
	value   []byte
	deleted bool
}

// Manager reads through to the database and buffers every write in a journal.
// It is not safe for concurrent use.
type Manager struct {
	store *Store
	dirty map[string]journalEntry
	done  bool
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

func prefixedKey(prefix []byte, parts ...[]byte) []byte {
	buf := append([]byte(nil), prefix...)
	for i, part := range parts {
		if i > 0 {
			buf = append(buf, ':')
		}
		buf = append(buf, part...)
	}
	return kvKey(buf)
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if m.done {
		return nil, ErrFinished
	}
	if entry, ok := m.dirty[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return append([]byte(nil), entry.value...), nil
	}
	data, err := m.store.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (m *Manager) put(hashed, value []byte) error {
	if m.done {
		return ErrFinished
	}
	m.dirty[string(hashed)] = journalEntry{value: append([]byte(nil), value...)}
	return nil
}

func (m *Manager) delete(hashed []byte) error {
	if m.done {
		return ErrFinished
	}
	m.dirty[string(hashed)] = journalEntry{deleted: true}
	return nil
}

// KVPut stores value under key using RLP encoding. The key is hashed with
// keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(kvKey(key), encoded)
}

// KVGet decodes the value stored under key into out. The boolean reports
// whether the key existed.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	return m.getDecoded(kvKey(key), out)
}

// KVDelete removes key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.delete(kvKey(key))
}

func (m *Manager) getDecoded(hashed []byte, out interface{}) (bool, error) {
	data, err := m.get(hashed)
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Manager) putEncoded(hashed []byte, value interface{}) error {
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.put(hashed, encoded)
}

// Pending returns the number of journaled writes.
func (m *Manager) Pending() int { return len(m.dirty) }

// Commit writes the journal as a single batch in key order and finishes the
// manager.
func (m *Manager) Commit() error {
	if m.done {
		return ErrFinished
	}
	m.done = true
	if len(m.dirty) == 0 {
		return nil
	}
	keys := make([][]byte, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, []byte(k))
	}
	sort.Slice(keys, func(i, j int) bool { return bytes.Compare(keys[i], keys[j]) < 0 })

	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	batch := m.store.db.NewBatch()
	for _, k := range keys {
		entry := m.dirty[string(k)]
		if entry.deleted {
			batch.Delete(k)
			continue
		}
		batch.Put(k, entry.value)
	}
	m.dirty = nil
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	return nil
}

// Discard drops the journal. It is safe to call after Commit.
func (m *Manager) Discard() {
	m.done = true
	m.dirty = nil
}
