// Package ordkv is the local ordered key/value engine every module store
// and the AOF manager are built on. It wraps github.com/syndtr/goleveldb,
// the same backend daglabs-btcd/database/ffldb/ldb uses, exposing point
// get, multi-get, write batch, prefix scan, forward iteration, and
// reverse iteration.
package ordkv

import (
	"github.com/pkg/errors"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/iterator"
	"github.com/syndtr/goleveldb/leveldb/opt"
	"github.com/syndtr/goleveldb/leveldb/util"
)

// ErrNotFound is returned when a point lookup finds no value.
var ErrNotFound = errors.New("ordkv: key not found")

// Store is a thin, namespace-agnostic wrapper around a goleveldb handle.
// Namespacing, batching-as-the-only-write-path, and height indexing are
// layered on top of this by internal/mdb.
type Store struct {
	db *leveldb.DB
}

// Open opens (creating if necessary) a goleveldb database at path.
func Open(path string) (*Store, error) {
	db, err := leveldb.OpenFile(path, &opt.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "opening ordkv store at %s", path)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// Get performs a single-key read.
func (s *Store) Get(key []byte) ([]byte, error) {
	v, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "ordkv get")
	}
	return v, nil
}

// MultiGet reads several keys in one snapshot; missing keys yield a nil
// slice at their index rather than an error, since callers expect
// partial results.
func (s *Store) MultiGet(keys [][]byte) ([][]byte, error) {
	snap, err := s.db.GetSnapshot()
	if err != nil {
		return nil, errors.Wrap(err, "ordkv multi-get snapshot")
	}
	defer snap.Release()

	out := make([][]byte, len(keys))
	for i, k := range keys {
		v, err := snap.Get(k, nil)
		if err == leveldb.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, errors.Wrap(err, "ordkv multi-get")
		}
		out[i] = v
	}
	return out, nil
}

// Put writes a single key/value pair, atomic per call. Reserved for
// bootstrap; steady-state writes go through WriteBatch.
func (s *Store) Put(key, value []byte) error {
	return errors.Wrap(s.db.Put(key, value, nil), "ordkv put")
}

// Delete removes a single key, atomic per call.
func (s *Store) Delete(key []byte) error {
	return errors.Wrap(s.db.Delete(key, nil), "ordkv delete")
}

// Batch accumulates puts and deletes for atomic application via WriteBatch.
type Batch struct {
	b leveldb.Batch
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put stages a put.
func (b *Batch) Put(key, value []byte) {
	b.b.Put(key, value)
}

// Delete stages a delete.
func (b *Batch) Delete(key []byte) {
	b.b.Delete(key)
}

// Len returns the number of staged operations.
func (b *Batch) Len() int {
	return b.b.Len()
}

// WriteBatch atomically applies a batch. This is the only write path the
// indexer uses during steady state: a failure leaves the store
// unmodified.
func (s *Store) WriteBatch(b *Batch) error {
	return errors.Wrap(s.db.Write(&b.b, nil), "ordkv write batch")
}

// Cursor is a thin wrapper around a native goleveldb iterator scoped to a
// key prefix, modeled directly on database/ffldb/ldb.LevelDBCursor.
type Cursor struct {
	it       iterator.Iterator
	prefix   []byte
	isClosed bool
}

// Cursor opens a new ascending cursor over the given prefix.
func (s *Store) Cursor(prefix []byte) *Cursor {
	it := s.db.NewIterator(util.BytesPrefix(prefix), nil)
	return &Cursor{it: it, prefix: prefix}
}

// First moves to the first key/value pair in the prefix range.
func (c *Cursor) First() bool {
	if c.isClosed {
		return false
	}
	return c.it.First()
}

// Last moves to the last key/value pair in the prefix range, the entry
// point for iter_prefix_rev.
func (c *Cursor) Last() bool {
	if c.isClosed {
		return false
	}
	return c.it.Last()
}

// Next advances forward.
func (c *Cursor) Next() bool {
	if c.isClosed {
		return false
	}
	return c.it.Next()
}

// Prev moves backward, used for descending "latest-first" iteration.
func (c *Cursor) Prev() bool {
	if c.isClosed {
		return false
	}
	return c.it.Prev()
}

// Seek moves to the first key >= key within the prefix range.
func (c *Cursor) Seek(key []byte) bool {
	if c.isClosed {
		return false
	}
	return c.it.Seek(key)
}

// Key returns the current key with the cursor's prefix trimmed off.
func (c *Cursor) Key() []byte {
	full := c.it.Key()
	if full == nil {
		return nil
	}
	if len(full) >= len(c.prefix) {
		return full[len(c.prefix):]
	}
	return full
}

// FullKey returns the current key including the prefix.
func (c *Cursor) FullKey() []byte {
	return c.it.Key()
}

// Value returns the current value.
func (c *Cursor) Value() []byte {
	return c.it.Value()
}

// Close releases the iterator.
func (c *Cursor) Close() {
	if c.isClosed {
		return
	}
	c.isClosed = true
	c.it.Release()
}

// IterFrom returns an ascending iterator starting at position start
// (no prefix restriction), the engine's iter_from primitive.
func (s *Store) IterFrom(start []byte) *Cursor {
	rng := &util.Range{Start: start}
	it := s.db.NewIterator(rng, nil)
	return &Cursor{it: it}
}
