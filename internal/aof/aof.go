// Package aof implements the Append-Only-File change-capture manager:
// per-block pre-images of every key touched across module namespaces,
// retained for a bounded depth (REORG_DEPTH) to support
// reverting the last N blocks on a detected reorg. The pre-image model is
// grounded on Irregularshooter-amc's AccountChangeSet/StorageChangeSet doc
// comment ("store values of state before block N changed them").
package aof

import (
	"encoding/binary"
	"sync"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

var log = logs.Logger(logs.Tags.AOF)

const (
	genPrefix = "aof:gen:" // aof:gen:<height BE u32> -> blockHash(32)
	entPrefix = "aof:ent:" // aof:ent:<height BE u32><seq BE u32> -> keyLen BE u32||key||existed||priorValue
)

// Manager captures per-block pre-images and supports bounded-depth revert.
type Manager struct {
	store *ordkv.Store
	depth int

	mu          sync.Mutex
	openHeight  uint32
	openHash    [32]byte
	isOpen      bool
	seenInGen   map[string]bool
	nextSeq     uint32
}

// New returns an AOF manager retaining up to depth generations.
func New(store *ordkv.Store, depth int) *Manager {
	return &Manager{store: store, depth: depth}
}

// StartBlock opens a new generation for height/blockHash. At most one
// generation may be open at a time.
func (m *Manager) StartBlock(height uint32, blockHash [32]byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isOpen {
		return errors.Errorf("aof: generation for height %d still open when starting height %d", m.openHeight, height)
	}
	m.isOpen = true
	m.openHeight = height
	m.openHash = blockHash
	m.seenInGen = make(map[string]bool)
	m.nextSeq = 0
	return nil
}

// RecordPreimage records key's pre-image (as observed just before this
// write) for the currently open generation, exactly once per key: later
// calls in the same generation for the same key are no-ops — a key's
// pre-image within a generation is the value observed on the first
// write to that key in that generation.
func (m *Manager) RecordPreimage(key, priorValue []byte, priorExists bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.isOpen {
		return errors.New("aof: RecordPreimage called with no open generation")
	}
	k := string(key)
	if m.seenInGen[k] {
		return nil
	}
	m.seenInGen[k] = true

	entKey := entryKey(m.openHeight, m.nextSeq)
	m.nextSeq++

	val := encodeEntry(key, priorValue, priorExists)
	if err := m.store.Put(entKey, val); err != nil {
		return errors.Wrap(err, "aof: recording preimage")
	}
	return nil
}

// FinishBlock seals the currently open generation and discards
// generations older than tip-depth.
func (m *Manager) FinishBlock() error {
	m.mu.Lock()
	if !m.isOpen {
		m.mu.Unlock()
		return errors.New("aof: FinishBlock called with no open generation")
	}
	height := m.openHeight
	hash := m.openHash
	m.mu.Unlock()

	if err := m.store.Put(genKeyFor(height), hash[:]); err != nil {
		return errors.Wrap(err, "aof: sealing generation")
	}

	m.mu.Lock()
	m.isOpen = false
	m.mu.Unlock()

	return m.pruneOlderThan(height)
}

func (m *Manager) pruneOlderThan(tip uint32) error {
	if int(tip) <= m.depth {
		return nil
	}
	cutoff := tip - uint32(m.depth)
	gens, err := m.listGenerations()
	if err != nil {
		return err
	}
	for _, g := range gens {
		if g.height < cutoff {
			if err := m.discardGeneration(g.height); err != nil {
				return err
			}
		}
	}
	return nil
}

// Generation describes one sealed AOF generation.
type Generation struct {
	Height    uint32
	BlockHash [32]byte
}

func (m *Manager) listGenerations() ([]Generation, error) {
	c := m.store.Cursor([]byte(genPrefix))
	defer c.Close()

	var out []Generation
	for ok := c.First(); ok; ok = c.Next() {
		k := c.Key()
		if len(k) != 4 {
			continue
		}
		var g Generation
		g.Height = binary.BigEndian.Uint32(k)
		copy(g.BlockHash[:], c.Value())
		out = append(out, g)
	}
	return out, nil
}

// RecentBlocks returns the last n sealed generations, most recent last.
func (m *Manager) RecentBlocks(n int) ([]Generation, error) {
	gens, err := m.listGenerations()
	if err != nil {
		return nil, err
	}
	if len(gens) > n {
		gens = gens[len(gens)-n:]
	}
	return gens, nil
}

// RevertLastBlocks applies the pre-images of the n most recent generations
// in reverse order and discards them.
func (m *Manager) RevertLastBlocks(n int) error {
	gens, err := m.listGenerations()
	if err != nil {
		return err
	}
	if len(gens) > n {
		gens = gens[len(gens)-n:]
	}
	// Revert from the highest height down to the lowest.
	for i := len(gens) - 1; i >= 0; i-- {
		if err := m.revertGeneration(gens[i].Height); err != nil {
			return err
		}
	}
	log.Infof("aof: reverted %d block(s)", len(gens))
	return nil
}

// RevertAllBlocks reverts every retained generation, used by
// simulate_reorg to test the rollback path at startup.
func (m *Manager) RevertAllBlocks() error {
	gens, err := m.listGenerations()
	if err != nil {
		return err
	}
	return m.RevertLastBlocks(len(gens))
}

func (m *Manager) revertGeneration(height uint32) error {
	entries, err := m.entriesFor(height)
	if err != nil {
		return err
	}
	b := ordkv.NewBatch()
	for _, e := range entries {
		if e.existed {
			b.Put(e.key, e.priorValue)
		} else {
			b.Delete(e.key)
		}
	}
	if err := m.store.WriteBatch(b); err != nil {
		return errors.Wrapf(err, "aof: reverting generation at height %d", height)
	}
	return m.discardGeneration(height)
}

func (m *Manager) discardGeneration(height uint32) error {
	b := ordkv.NewBatch()
	b.Delete(genKeyFor(height))

	c := m.store.Cursor(heightEntryPrefix(height))
	for ok := c.First(); ok; ok = c.Next() {
		full := make([]byte, len(heightEntryPrefix(height))+len(c.Key()))
		n := copy(full, heightEntryPrefix(height))
		copy(full[n:], c.Key())
		b.Delete(full)
	}
	c.Close()

	return errors.Wrap(m.store.WriteBatch(b), "aof: discarding generation")
}

type decodedEntry struct {
	key        []byte
	priorValue []byte
	existed    bool
}

func (m *Manager) entriesFor(height uint32) ([]decodedEntry, error) {
	c := m.store.Cursor(heightEntryPrefix(height))
	defer c.Close()

	var out []decodedEntry
	for ok := c.Last(); ok; ok = c.Prev() {
		key, prior, existed := decodeEntry(c.Value())
		out = append(out, decodedEntry{key: key, priorValue: prior, existed: existed})
	}
	return out, nil
}

func entryKey(height, seq uint32) []byte {
	out := make([]byte, len(entPrefix)+8)
	n := copy(out, entPrefix)
	binary.BigEndian.PutUint32(out[n:], height)
	binary.BigEndian.PutUint32(out[n+4:], seq)
	return out
}

func heightEntryPrefix(height uint32) []byte {
	out := make([]byte, len(entPrefix)+4)
	n := copy(out, entPrefix)
	binary.BigEndian.PutUint32(out[n:], height)
	return out
}

func genKeyFor(height uint32) []byte {
	out := make([]byte, len(genPrefix)+4)
	n := copy(out, genPrefix)
	binary.BigEndian.PutUint32(out[n:], height)
	return out
}

// encodeEntry packs "key_len BE u32 || key || existed(1) || priorValue".
func encodeEntry(key, priorValue []byte, existed bool) []byte {
	out := make([]byte, 4+len(key)+1+len(priorValue))
	binary.BigEndian.PutUint32(out[0:4], uint32(len(key)))
	n := 4
	n += copy(out[n:], key)
	if existed {
		out[n] = 1
	}
	n++
	copy(out[n:], priorValue)
	return out
}

func decodeEntry(raw []byte) (key, priorValue []byte, existed bool) {
	klen := binary.BigEndian.Uint32(raw[0:4])
	n := 4
	key = raw[n : n+int(klen)]
	n += int(klen)
	existed = raw[n] == 1
	n++
	priorValue = raw[n:]
	return
}
