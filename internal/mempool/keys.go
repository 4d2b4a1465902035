package mempool

import "encoding/binary"

// Key layout (namespace-relative; mdb.MDB prepends "mempool:"): three
// key families covering tx rows, the first-seen order index, and the address
// index.
const (
	prefixTx   = "tx/"
	prefixSeen = "seen/"
	prefixAddr = "addr/"
)

func txKey(txid [32]byte) []byte {
	return append([]byte(prefixTx), txid[:]...)
}

func seenKey(firstSeen uint64, txid [32]byte) []byte {
	out := make([]byte, 0, len(prefixSeen)+8+32)
	out = append(out, prefixSeen...)
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], firstSeen)
	out = append(out, ts[:]...)
	return append(out, txid[:]...)
}

func addrKey(address string, firstSeen uint64, txid [32]byte) []byte {
	out := append([]byte(prefixAddr), address...)
	out = append(out, '/')
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], firstSeen)
	out = append(out, ts[:]...)
	return append(out, txid[:]...)
}
