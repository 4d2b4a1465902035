package alkaneid

import (
	"encoding/binary"
	"encoding/hex"
)

// TxidSize is the size of a transaction id in bytes.
const TxidSize = 32

// Txid is a transaction id. Display convention is big-endian hex (the way
// block explorers show it); storage convention is little-endian bytes
// (the way Bitcoin serializes it on the wire).
type Txid [TxidSize]byte

// String renders the txid as big-endian hex, the display convention.
func (t Txid) String() string {
	reversed := make([]byte, TxidSize)
	for i := 0; i < TxidSize; i++ {
		reversed[i] = t[TxidSize-1-i]
	}
	return hex.EncodeToString(reversed)
}

// Bytes returns the little-endian storage encoding.
func (t Txid) Bytes() []byte {
	return t[:]
}

// Equal reports whether t and other are the same txid.
func (t Txid) Equal(other Txid) bool {
	return t == other
}

// TxidFromDisplayHex parses a big-endian display-form hex string into the
// little-endian storage form.
func TxidFromDisplayHex(s string) (Txid, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Txid{}, err
	}
	var t Txid
	if len(raw) != TxidSize {
		return t, errShortTxid(len(raw))
	}
	for i := 0; i < TxidSize; i++ {
		t[i] = raw[TxidSize-1-i]
	}
	return t, nil
}

type errShortTxid int

func (e errShortTxid) Error() string {
	return "alkaneid: expected 32-byte txid, got different length"
}

// Outpoint identifies a transaction output: (txid, vout). TxSpent, when
// set, is the confirmed spender's txid.
type Outpoint struct {
	Txid     Txid
	Vout     uint32
	TxSpent  *Txid
}

// Bytes encodes the outpoint as "txid_le || vout_le", the form used for
// derived outpoint bytes throughout the resolver.
func (o Outpoint) Bytes() [36]byte {
	var out [36]byte
	copy(out[0:32], o.Txid.Bytes())
	binary.LittleEndian.PutUint32(out[32:36], o.Vout)
	return out
}

// OutpointFromBytes decodes the 36-byte "txid_le || vout_le" form.
func OutpointFromBytes(b [36]byte) Outpoint {
	var o Outpoint
	copy(o.Txid[:], b[0:32])
	o.Vout = binary.LittleEndian.Uint32(b[32:36])
	return o
}

// IsSpent reports whether the outpoint has a recorded confirmed spender.
func (o Outpoint) IsSpent() bool {
	return o.TxSpent != nil
}
