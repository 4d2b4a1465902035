package essentials

import "encoding/binary"

// Key layout (namespace-relative; mdb.MDB prepends "essentials:"), built
// around this indexer's own storage-byte id/outpoint conventions
// (internal/alkaneid).
const (
	prefixStorageValue = 0x01 // per-alkane storage value row
	prefixStorageDir   = 0x03 // per-alkane storage directory marker

	prefixOutpointBalance = "ob/"    // ob/<txid 32><vout BE4> -> balance row
	prefixAddrIndex       = "addr/"  // addr/<holder order key>/<outpoint 36> -> ()
	prefixHolderVector    = "hv/"    // hv/<alkane 12> -> sorted vector
	prefixHolderCount     = "hvcnt/" // hvcnt/<count BE8><alkane 12> -> ()
	prefixCircLatest      = "circ/l/"
	prefixCircHeight      = "circ/h/"
	prefixTotalMinted     = "minted/"
	prefixHeldBalance     = "held/" // held/<owner 12>/<token 12> -> amount
	prefixBalTxPage       = "baltx/p/"
	prefixBalTxMeta       = "baltx/m/"
	prefixCreationByID    = "cr/id/"
	prefixCreationOrdered = "cr/ord/"
	prefixCreationName    = "cr/name/"
	prefixCreationSymbol  = "cr/sym/"
	prefixBlockSummary    = "blk/"
	prefixTxSummary       = "tx/"
	keyGenesisDone        = "genesis/done"
)

func outpointBalanceKey(txid [32]byte, vout uint32) []byte {
	out := make([]byte, len(prefixOutpointBalance)+32+4)
	n := copy(out, prefixOutpointBalance)
	n += copy(out[n:], txid[:])
	binary.BigEndian.PutUint32(out[n:], vout)
	return out
}

func addrIndexKey(orderKey []byte, outpoint [36]byte) []byte {
	out := make([]byte, 0, len(prefixAddrIndex)+len(orderKey)+1+36)
	out = append(out, prefixAddrIndex...)
	out = append(out, orderKey...)
	out = append(out, '/')
	out = append(out, outpoint[:]...)
	return out
}

func addrIndexPrefix(orderKey []byte) []byte {
	out := make([]byte, 0, len(prefixAddrIndex)+len(orderKey)+1)
	out = append(out, prefixAddrIndex...)
	out = append(out, orderKey...)
	out = append(out, '/')
	return out
}

func holderVectorKey(alkane [12]byte) []byte {
	return append([]byte(prefixHolderVector), alkane[:]...)
}

func holderCountKey(count uint64, alkane [12]byte) []byte {
	out := make([]byte, len(prefixHolderCount)+8+12)
	n := copy(out, prefixHolderCount)
	binary.BigEndian.PutUint64(out[n:], count)
	n += 8
	copy(out[n:], alkane[:])
	return out
}

func circLatestKey(alkane [12]byte) []byte {
	return append([]byte(prefixCircLatest), alkane[:]...)
}

func circHeightKey(alkane [12]byte, height uint32) []byte {
	out := make([]byte, len(prefixCircHeight)+12+4)
	n := copy(out, prefixCircHeight)
	n += copy(out[n:], alkane[:])
	binary.BigEndian.PutUint32(out[n:], height)
	return out
}

func totalMintedKey(alkane [12]byte) []byte {
	return append([]byte(prefixTotalMinted), alkane[:]...)
}

func heldBalanceKey(owner, token [12]byte) []byte {
	out := make([]byte, 0, len(prefixHeldBalance)+12+1+12)
	out = append(out, prefixHeldBalance...)
	out = append(out, owner[:]...)
	out = append(out, '/')
	out = append(out, token[:]...)
	return out
}

func heldBalancePrefix(owner [12]byte) []byte {
	out := make([]byte, 0, len(prefixHeldBalance)+12+1)
	out = append(out, prefixHeldBalance...)
	out = append(out, owner[:]...)
	out = append(out, '/')
	return out
}

func balTxPageKey(token [12]byte, page uint64) []byte {
	out := make([]byte, len(prefixBalTxPage)+12+8)
	n := copy(out, prefixBalTxPage)
	n += copy(out[n:], token[:])
	binary.BigEndian.PutUint64(out[n:], page)
	return out
}

func balTxMetaKey(token [12]byte) []byte {
	return append([]byte(prefixBalTxMeta), token[:]...)
}

func creationByIDKey(alkane [12]byte) []byte {
	return append([]byte(prefixCreationByID), alkane[:]...)
}

func creationOrderedKey(ts, height, txIndex uint32, alkane [12]byte) []byte {
	out := make([]byte, len(prefixCreationOrdered)+4+4+4+12)
	n := copy(out, prefixCreationOrdered)
	binary.BigEndian.PutUint32(out[n:], ts)
	n += 4
	binary.BigEndian.PutUint32(out[n:], height)
	n += 4
	binary.BigEndian.PutUint32(out[n:], txIndex)
	n += 4
	copy(out[n:], alkane[:])
	return out
}

func creationNameKey(normalized string, alkane [12]byte) []byte {
	out := make([]byte, 0, len(prefixCreationName)+len(normalized)+1+12)
	out = append(out, prefixCreationName...)
	out = append(out, normalized...)
	out = append(out, '/')
	out = append(out, alkane[:]...)
	return out
}

func creationSymbolKey(normalized string, alkane [12]byte) []byte {
	out := make([]byte, 0, len(prefixCreationSymbol)+len(normalized)+1+12)
	out = append(out, prefixCreationSymbol...)
	out = append(out, normalized...)
	out = append(out, '/')
	out = append(out, alkane[:]...)
	return out
}

func blockSummaryKey(height uint32) []byte {
	out := make([]byte, len(prefixBlockSummary)+4)
	n := copy(out, prefixBlockSummary)
	binary.BigEndian.PutUint32(out[n:], height)
	return out
}

func txSummaryKey(txid [32]byte) []byte {
	return append([]byte(prefixTxSummary), txid[:]...)
}

func storageValueKey(owner [12]byte, key []byte) []byte {
	out := make([]byte, 0, 1+12+2+len(key))
	out = append(out, prefixStorageValue)
	out = append(out, owner[:]...)
	var kl [2]byte
	binary.BigEndian.PutUint16(kl[:], uint16(len(key)))
	out = append(out, kl[:]...)
	out = append(out, key...)
	return out
}

func storageDirKey(owner [12]byte, key []byte) []byte {
	out := make([]byte, 0, 1+12+2+len(key))
	out = append(out, prefixStorageDir)
	out = append(out, owner[:]...)
	var kl [2]byte
	binary.BigEndian.PutUint16(kl[:], uint16(len(key)))
	out = append(out, kl[:]...)
	out = append(out, key...)
	return out
}
