package mdb

import (
	"encoding/binary"
	"sort"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/ordkv"
)

// versionNamespaceSuffix is appended after the logical key to form the secondary
// version-chain key "(K, H) -> prior_value": per-key version chains are
// stored as (key || height BE) -> prior_value under a secondary prefix.
// Grounded on AKJUS-bsc-erigon's history_reader_v3.go "read value as of a
// past block" pattern.
const versionNamespaceSuffix = "\x00__ver__\x00"

// HeightIndexed wraps an MDB, additionally recording a version entry for
// every key written through its batches, enabling get_at_height reads and
// height-bounded rollback.
type HeightIndexed struct {
	*MDB
	verPrefix []byte
}

// NewHeightIndexed wraps base with version-chain tracking.
func NewHeightIndexed(base *MDB) *HeightIndexed {
	return &HeightIndexed{
		MDB:       base,
		verPrefix: append(append([]byte{}, base.prefix...), []byte(versionNamespaceSuffix)...),
	}
}

func heightKey(key []byte, height uint32) []byte {
	out := make([]byte, len(key)+4)
	copy(out, key)
	binary.BigEndian.PutUint32(out[len(key):], height)
	return out
}

// HeightBatch is a Batch that also records, for each logical key written in
// block height H, a version entry (K, H) -> prior_value, where prior_value
// is the value read from the base MDB before this batch's writes are
// applied.
type HeightBatch struct {
	*Batch
	h        *HeightIndexed
	height   uint32
	recorded map[string]bool
}

// NewHeightBatch returns an empty batch tracking version entries for block
// height.
func (h *HeightIndexed) NewHeightBatch(height uint32) *HeightBatch {
	hb := &HeightBatch{Batch: h.MDB.NewBatch(), h: h, height: height, recorded: make(map[string]bool)}
	return hb
}

// PutVersioned stages a put of key, first recording key's current value (or
// absence) as its pre-image at this height.
func (hb *HeightBatch) PutVersioned(key, value []byte) error {
	if err := hb.recordVersion(key); err != nil {
		return err
	}
	hb.Put(key, value)
	return nil
}

// DeleteVersioned stages a delete of key, first recording its pre-image.
func (hb *HeightBatch) DeleteVersioned(key []byte) error {
	if err := hb.recordVersion(key); err != nil {
		return err
	}
	hb.Delete(key)
	return nil
}

func (hb *HeightBatch) recordVersion(key []byte) error {
	k := string(key)
	if hb.recorded[k] {
		return nil
	}
	hb.recorded[k] = true

	prior, err := hb.h.MDB.Get(key)
	if err != nil {
		if err != ordkv.ErrNotFound {
			return errors.Wrap(err, "height-indexed: reading prior value")
		}
		prior = nil
	}
	vk := append(append([]byte{}, hb.h.verPrefix...), heightKey(key, hb.height)...)
	// vk is namespace-relative to the base MDB's store, but we already
	// included h.verPrefix (which itself begins with the base namespace),
	// so write directly via the underlying batch rather than through
	// Batch.Put (which would add the namespace prefix a second time).
	hb.Batch.b.Put(vk, encodeVersionValue(prior))
	return nil
}

// encodeVersionValue distinguishes "absent" from "empty value" with a
// leading tag byte, since goleveldb cannot store a nil-vs-empty
// distinction directly.
func encodeVersionValue(v []byte) []byte {
	if v == nil {
		return []byte{0}
	}
	out := make([]byte, 1+len(v))
	out[0] = 1
	copy(out[1:], v)
	return out
}

func decodeVersionValue(v []byte) []byte {
	if len(v) == 0 || v[0] == 0 {
		return nil
	}
	return v[1:]
}

// GetAtHeight returns key's value as of the end of block height: the
// pre-image recorded by the lowest version entry above height (nil if the
// key was absent then), or, when no version entry lies above height, the
// key's current value (ordkv.ErrNotFound if it does not exist).
func (h *HeightIndexed) GetAtHeight(key []byte, height uint32) ([]byte, error) {
	// Collect version entries for this key with height' > height: the
	// smallest such entry's *prior_value* is the value as of the end of
	// `height`, because a version entry at height' records the value
	// that was overwritten AT height'.
	c := h.MDB.store.Cursor(append(append([]byte{}, h.verPrefix...), key...))
	defer c.Close()

	type entry struct {
		height uint32
		prior  []byte
	}
	var entries []entry
	for ok := c.First(); ok; ok = c.Next() {
		k := c.Key()
		if len(k) != 4 {
			continue
		}
		eh := binary.BigEndian.Uint32(k[len(k)-4:])
		entries = append(entries, entry{height: eh, prior: decodeVersionValue(c.Value())})
	}
	if len(entries) == 0 {
		return h.MDB.Get(key)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].height < entries[j].height })

	for _, e := range entries {
		if e.height > height {
			return e.prior, nil
		}
	}
	// Every recorded version is <= height: nothing changed after height,
	// so the current value holds.
	return h.MDB.Get(key)
}

// TruncateVersionsAbove deletes all version entries for key with recorded
// height > target, used by rollback to make get_at_height consistent
// again after reverting blocks: truncates entries whose height exceeds
// the new tip.
func (h *HeightIndexed) TruncateVersionsAbove(key []byte, target uint32) error {
	c := h.MDB.store.Cursor(append(append([]byte{}, h.verPrefix...), key...))
	defer c.Close()

	b := h.MDB.NewBatch()
	for ok := c.First(); ok; ok = c.Next() {
		k := c.Key()
		if len(k) != 4 {
			continue
		}
		eh := binary.BigEndian.Uint32(k[len(k)-4:])
		if eh > target {
			full := append([]byte{}, c.FullKey()...)
			b.b.Delete(full)
		}
	}
	if b.Len() == 0 {
		return nil
	}
	return h.MDB.Write(b)
}
