package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"stakeledger/storage"
)

// Manager is a journaled overlay over a key/value database. Writes stay in
// memory until Commit flushes them in one atomic batch; Snapshot and
// RevertToSnapshot undo writes made since a snapshot. A Manager is not safe
// for concurrent use.
type Manager struct {
	db        storage.Database
	dirty     map[string]dirtyValue
	journal   []journalEntry
	revisions []int
}

type dirtyValue struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyValue
	hadPrev bool
}

// NewManager creates a state manager backed by db.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]dirtyValue)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// Snapshot returns an identifier for the current revision of the overlay.
func (m *Manager) Snapshot() int {
	m.revisions = append(m.revisions, len(m.journal))
	return len(m.revisions) - 1
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
// Later snapshots are invalidated.
func (m *Manager) RevertToSnapshot(id int) {
	if id < 0 || id >= len(m.revisions) {
		panic(fmt.Errorf("state: revision id %d cannot be reverted", id))
	}
	mark := m.revisions[id]
	for i := len(m.journal) - 1; i >= mark; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:mark]
	m.revisions = m.revisions[:id]
}

// Dirty reports how many keys are pending commit.
func (m *Manager) Dirty() int { return len(m.dirty) }

// Commit writes every pending change to the database atomically and clears
// the journal.
func (m *Manager) Commit() error {
	if len(m.dirty) == 0 {
		m.reset()
		return nil
	}
	keys := make([]string, 0, len(m.dirty))
	for k := range m.dirty {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, k := range keys {
		entry := m.dirty[k]
		if entry.deleted {
			batch.Delete([]byte(k))
			continue
		}
		batch.Put([]byte(k), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.reset()
	return nil
}

// Discard drops every pending change.
func (m *Manager) Discard() { m.reset() }

func (m *Manager) reset() {
	m.dirty = make(map[string]dirtyValue)
	m.journal = nil
	m.revisions = nil
}

func (m *Manager) get(hashed []byte) ([]byte, error) {
	if entry, ok := m.dirty[string(hashed)]; ok {
		if entry.deleted {
			return nil, nil
		}
		return entry.value, nil
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) set(hashed []byte, value dirtyValue) {
	key := string(hashed)
	prev, had := m.dirty[key]
	m.journal = append(m.journal, journalEntry{key: key, prev: prev, hadPrev: had})
	m.dirty[key] = value
}

// KVPut stores the provided value under the supplied key using RLP encoding.
// The key is hashed with keccak256 before it reaches the database.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.set(kvKey(key), dirtyValue{value: encoded})
	return nil
}

// KVDelete removes the value stored under key.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.set(kvKey(key), dirtyValue{deleted: true})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
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

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.KVPut(key, list)
}

// KVRemove drops value from the byte slice list stored under key. The key is
// deleted once the list is empty.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	var list [][]byte
	if err := m.KVGetList(key, &list); err != nil {
		return err
	}
	out := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			out = append(out, existing)
		}
	}
	if len(out) == 0 {
		return m.KVDelete(key)
	}
	return m.KVPut(key, out)
}

// KVGetList retrieves an RLP-encoded slice stored under the provided key and
// decodes it into the supplied destination slice pointer. When no value is
// present the destination is initialised with an empty slice to avoid nil
// surprises for callers.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.get(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
