// Package alkaneid defines the identity primitives of the system: alkane
// ids, outpoints, and the holder sum type. Values are
// small, comparable-by-convention structs in the style of
// externalapi.DomainHash — [N]byte-backed where the wire format demands
// it, with String/Less/Equal methods rather than operator overloading.
package alkaneid

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ID is an alkane identifier: (block, tx). Ordered lexicographically by
// (Block, Tx).
type ID struct {
	Block uint32
	Tx    uint64
}

// String renders the id as "<block>:<tx>".
func (id ID) String() string {
	return fmt.Sprintf("%d:%d", id.Block, id.Tx)
}

// ParseID parses the inverse of String: "<block>:<tx>".
func ParseID(s string) (ID, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return ID{}, errors.Errorf("alkaneid: malformed id %q, want \"<block>:<tx>\"", s)
	}
	block, err := strconv.ParseUint(parts[0], 10, 32)
	if err != nil {
		return ID{}, errors.Wrapf(err, "alkaneid: parsing block of id %q", s)
	}
	tx, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return ID{}, errors.Wrapf(err, "alkaneid: parsing tx of id %q", s)
	}
	return ID{Block: uint32(block), Tx: tx}, nil
}

// Less implements the total order over ids: lexicographic on (Block, Tx).
func (id ID) Less(other ID) bool {
	if id.Block != other.Block {
		return id.Block < other.Block
	}
	return id.Tx < other.Tx
}

// Equal reports whether id and other denote the same alkane.
func (id ID) Equal(other ID) bool {
	return id.Block == other.Block && id.Tx == other.Tx
}

// Bytes encodes the id in the upstream's 32-byte wire form: block as u128
// LE followed by tx as u128 LE.
func (id ID) Bytes() [32]byte {
	var out [32]byte
	binary.LittleEndian.PutUint32(out[0:4], id.Block)
	binary.LittleEndian.PutUint64(out[16:24], id.Tx)
	return out
}

// IDFromBytes decodes the upstream's 32-byte wire form back into an ID.
// The high bytes of each u128 lane are expected to be zero; non-zero high
// bytes are silently truncated away, matching the upstream's own
// convention of using u128 lanes to hold values that never exceed 64/32
// bits in practice.
func IDFromBytes(b [32]byte) ID {
	return ID{
		Block: binary.LittleEndian.Uint32(b[0:4]),
		Tx:    binary.LittleEndian.Uint64(b[16:24]),
	}
}

// StorageBytes encodes the id as the compact 12-byte form used in this
// indexer's own persisted key layout: block BE u32 followed by tx BE
// u64. This is our own on-disk convention, distinct from
// the upstream's 32-byte wire form, chosen to keep keys short.
func (id ID) StorageBytes() [12]byte {
	var out [12]byte
	binary.BigEndian.PutUint32(out[0:4], id.Block)
	binary.BigEndian.PutUint64(out[4:12], id.Tx)
	return out
}

// IDFromStorageBytes decodes the 12-byte storage form.
func IDFromStorageBytes(b [12]byte) ID {
	return ID{
		Block: binary.BigEndian.Uint32(b[0:4]),
		Tx:    binary.BigEndian.Uint64(b[4:12]),
	}
}
