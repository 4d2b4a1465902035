package ammdata

import "encoding/binary"

// Key layout (namespace-relative; mdb.MDB prepends "ammdata:"), following
// essentials/keys.go's byte-prefix convention with representative key
// names (activity:v1:, candle/<pool><tf><bucket>).
const (
	prefixFactory  = "factory/"  // factory/<alkane 12> -> ()
	prefixPool     = "pool/def/" // pool/def/<pool 12> -> pool definition row
	prefixPoolList = "pool/ord/" // pool/ord/<height BE4><txindex BE4><pool 12> -> ()

	prefixActivity          = "activity:v1:"
	prefixByPoolTs          = "by_pool_ts/"
	prefixByPoolTsByKind    = "by_pool_ts_by_kind/"
	prefixByTokenTs         = "by_token_ts/"
	prefixByAddressByPoolTs = "by_address_by_pool_ts/"
	prefixByAddressAnyTs    = "by_address_any_ts/"
	prefixAllTs             = "all_ts/"

	prefixCandle = "candle/" // candle/<pool 12><tf BE4><bucket BE8> -> OHLCV row

	prefixTVLHeight = "tvl/h/" // tvl/h/<pool 12><canonical 12><height BE4> -> usd row
	prefixTVLLatest = "tvl/l/" // tvl/l/<pool 12><canonical 12> -> usd row
)

func factoryKey(alkane [12]byte) []byte {
	return append([]byte(prefixFactory), alkane[:]...)
}

func poolKey(pool [12]byte) []byte {
	return append([]byte(prefixPool), pool[:]...)
}

func poolOrderedKey(height, txIndex uint32, pool [12]byte) []byte {
	out := make([]byte, len(prefixPoolList)+4+4+12)
	n := copy(out, prefixPoolList)
	binary.BigEndian.PutUint32(out[n:], height)
	n += 4
	binary.BigEndian.PutUint32(out[n:], txIndex)
	n += 4
	copy(out[n:], pool[:])
	return out
}

// activitySeq packs (height, txIndex) into the 8-byte sequence component
// every activity index key carries, keeping activity ordering stable and
// collision-free within one (pool, timestamp) bucket.
func activitySeq(height, txIndex uint32) uint64 {
	return uint64(height)<<32 | uint64(txIndex)
}

func tsSeqSuffix(ts uint32, seq uint64) []byte {
	out := make([]byte, 12)
	binary.BigEndian.PutUint32(out[0:4], ts)
	binary.BigEndian.PutUint64(out[4:12], seq)
	return out
}

func activityKey(pool [12]byte, ts uint32, seq uint64) []byte {
	out := make([]byte, 0, len(prefixActivity)+12+12)
	out = append(out, prefixActivity...)
	out = append(out, pool[:]...)
	out = append(out, ':')
	out = append(out, tsSeqSuffix(ts, seq)...)
	return out
}

func byPoolTsKey(pool [12]byte, ts uint32, seq uint64) []byte {
	out := append([]byte(prefixByPoolTs), pool[:]...)
	out = append(out, '/')
	return append(out, tsSeqSuffix(ts, seq)...)
}

func byPoolTsByKindKey(pool [12]byte, kind byte, ts uint32, seq uint64) []byte {
	out := append([]byte(prefixByPoolTsByKind), pool[:]...)
	out = append(out, '/', kind, '/')
	return append(out, tsSeqSuffix(ts, seq)...)
}

func byTokenTsKey(token [12]byte, ts uint32, seq uint64) []byte {
	out := append([]byte(prefixByTokenTs), token[:]...)
	out = append(out, '/')
	return append(out, tsSeqSuffix(ts, seq)...)
}

func byAddressByPoolTsKey(address string, pool [12]byte, ts uint32, seq uint64) []byte {
	out := append([]byte(prefixByAddressByPoolTs), address...)
	out = append(out, '/')
	out = append(out, pool[:]...)
	out = append(out, '/')
	return append(out, tsSeqSuffix(ts, seq)...)
}

func byAddressAnyTsKey(address string, ts uint32, seq uint64) []byte {
	out := append([]byte(prefixByAddressAnyTs), address...)
	out = append(out, '/')
	return append(out, tsSeqSuffix(ts, seq)...)
}

func allTsKey(ts uint32, seq uint64) []byte {
	return append([]byte(prefixAllTs), tsSeqSuffix(ts, seq)...)
}

func candleKey(pool [12]byte, tf uint32, bucket uint64) []byte {
	out := make([]byte, len(prefixCandle)+12+4+8)
	n := copy(out, prefixCandle)
	n += copy(out[n:], pool[:])
	binary.BigEndian.PutUint32(out[n:], tf)
	n += 4
	binary.BigEndian.PutUint64(out[n:], bucket)
	return out
}

func tvlHeightKey(pool [12]byte, canonical [12]byte, height uint32) []byte {
	out := make([]byte, len(prefixTVLHeight)+12+12+4)
	n := copy(out, prefixTVLHeight)
	n += copy(out[n:], pool[:])
	n += copy(out[n:], canonical[:])
	binary.BigEndian.PutUint32(out[n:], height)
	return out
}

func tvlLatestKey(pool [12]byte, canonical [12]byte) []byte {
	out := make([]byte, 0, len(prefixTVLLatest)+12+12)
	out = append(out, prefixTVLLatest...)
	out = append(out, pool[:]...)
	return append(out, canonical[:]...)
}
