// Package mdb implements the Module KV: a byte-prefix-namespaced,
// write-capable wrapper over internal/ordkv. Each registered module owns
// one namespace exclusively; bulk_write batches are the only write path
// used during steady state.
package mdb

import (
	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/ordkv"
)

// MDB is a namespaced view over a shared ordkv.Store.
type MDB struct {
	store  *ordkv.Store
	prefix []byte
}

// New returns an MDB scoped to namespace (e.g. "essentials:", "ammdata:").
func New(store *ordkv.Store, namespace string) *MDB {
	return &MDB{store: store, prefix: []byte(namespace)}
}

func (m *MDB) fullKey(key []byte) []byte {
	full := make([]byte, 0, len(m.prefix)+len(key))
	full = append(full, m.prefix...)
	full = append(full, key...)
	return full
}

// Get reads a single namespace-relative key.
func (m *MDB) Get(key []byte) ([]byte, error) {
	return m.store.Get(m.fullKey(key))
}

// MultiGet reads several namespace-relative keys in one snapshot.
func (m *MDB) MultiGet(keys [][]byte) ([][]byte, error) {
	full := make([][]byte, len(keys))
	for i, k := range keys {
		full[i] = m.fullKey(k)
	}
	return m.store.MultiGet(full)
}

// Put writes a single key/value pair. Reserved for bootstrap.
func (m *MDB) Put(key, value []byte) error {
	return m.store.Put(m.fullKey(key), value)
}

// Delete removes a single key. Reserved for bootstrap.
func (m *MDB) Delete(key []byte) error {
	return m.store.Delete(m.fullKey(key))
}

// Batch accumulates namespace-relative puts/deletes for atomic application.
type Batch struct {
	m *MDB
	b *ordkv.Batch
	// preimageHook, if non-nil, is invoked once per distinct key the first
	// time it is written in this batch, recording its prior value for
	// AOF capture. It is wired in by callers that need AOF.
	preimageHook func(fullKey, priorValue []byte, existed bool)
	seen         map[string]bool
}

// NewBatch returns an empty batch bound to this namespace.
func (m *MDB) NewBatch() *Batch {
	return &Batch{m: m, b: ordkv.NewBatch(), seen: make(map[string]bool)}
}

// OnFirstWrite registers a hook invoked with the full (namespaced) key and
// its pre-write value the first time each distinct key is staged in this
// batch. internal/aof uses this to capture each key's pre-image exactly
// once per generation.
func (b *Batch) OnFirstWrite(hook func(fullKey, priorValue []byte, existed bool)) {
	b.preimageHook = hook
}

func (b *Batch) recordFirstWrite(fullKey []byte) {
	if b.preimageHook == nil {
		return
	}
	k := string(fullKey)
	if b.seen[k] {
		return
	}
	b.seen[k] = true

	prior, err := b.m.store.Get(fullKey)
	existed := true
	if err == ordkv.ErrNotFound {
		existed = false
		prior = nil
	}
	b.preimageHook(fullKey, prior, existed)
}

// Put stages a namespace-relative put.
func (b *Batch) Put(key, value []byte) {
	full := b.m.fullKey(key)
	b.recordFirstWrite(full)
	b.b.Put(full, value)
}

// Delete stages a namespace-relative delete.
func (b *Batch) Delete(key []byte) {
	full := b.m.fullKey(key)
	b.recordFirstWrite(full)
	b.b.Delete(full)
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return b.b.Len()
}

// Write atomically applies the batch. A failure leaves the namespace
// unmodified — the batch is all-or-nothing.
func (m *MDB) Write(b *Batch) error {
	if err := m.store.WriteBatch(b.b); err != nil {
		return errors.Wrap(err, "mdb bulk_write")
	}
	return nil
}

// ScanPrefix returns all namespace-relative keys under the given
// namespace-relative prefix, excluding the MDB's own namespace bytes.
func (m *MDB) ScanPrefix(prefix []byte) ([][]byte, error) {
	c := m.store.Cursor(m.fullKey(prefix))
	defer c.Close()

	var keys [][]byte
	for ok := c.First(); ok; ok = c.Next() {
		k := append([]byte{}, c.FullKey()[len(m.prefix):]...)
		keys = append(keys, k)
	}
	return keys, nil
}

// Cursor opens a namespace-relative prefix cursor for ascending iteration.
func (m *MDB) Cursor(prefix []byte) *ordkv.Cursor {
	return m.store.Cursor(m.fullKey(prefix))
}

// IterPrefixRev returns a descending cursor over a namespace-relative
// prefix, positioned via Last()/Prev() by the caller — the "latest-first"
// window pattern used pervasively for recent-activity and creation feeds.
func (m *MDB) IterPrefixRev(prefix []byte) *ordkv.Cursor {
	return m.store.Cursor(m.fullKey(prefix))
}

// IterFrom returns an ascending cursor starting at a namespace-relative
// position, unrestricted to any further prefix.
func (m *MDB) IterFrom(start []byte) *ordkv.Cursor {
	return m.store.IterFrom(m.fullKey(start))
}

// Namespace returns the raw namespace prefix bytes, for callers (AOF) that
// need to recognize which module a captured key belongs to.
func (m *MDB) Namespace() []byte {
	return m.prefix
}
