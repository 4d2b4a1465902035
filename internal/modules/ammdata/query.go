package ammdata

import (
	"github.com/subfrost/alkanes-index/internal/alkaneid"
)

// ActivityPage is one page of activity records; HasMore is true when the
// page stopped because it reached the requested limit.
type ActivityPage struct {
	Records []ActivityRecord
	HasMore bool
}

// GetPoolActivity returns up to limit activity rows for pool, newest
// first, strictly before (beforeTs, beforeSeq) (0, 0 means "from the
// newest"), mirroring the by_pool_ts index.
func (m *Module) GetPoolActivity(pool alkaneid.ID, beforeTs uint32, beforeSeq uint64, limit int) (ActivityPage, error) {
	poolSB := pool.StorageBytes()
	c := m.db.IterPrefixRev([]byte(prefixByPoolTs + string(poolSB[:]) + "/"))
	defer c.Close()

	var recs []ActivityRecord
	skipping := beforeTs != 0 || beforeSeq != 0
	for ok := c.Last(); ok; ok = c.Prev() {
		key := c.Key()
		ts, seq, err := parseTsSeqSuffix(key)
		if err != nil {
			continue
		}
		if skipping {
			if ts > beforeTs || (ts == beforeTs && seq >= beforeSeq) {
				continue
			}
			skipping = false
		}
		raw, err := m.db.Get(activityKey(poolSB, ts, seq))
		if err != nil {
			continue
		}
		rec, err := decodeActivityRecord(pool, raw)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
		if len(recs) >= limit {
			return ActivityPage{Records: recs, HasMore: true}, nil
		}
	}
	return ActivityPage{Records: recs, HasMore: false}, nil
}

// GetAddressActivity returns up to limit activity rows across every pool
// touched by address, newest first.
func (m *Module) GetAddressActivity(address string, limit int) ([]ActivityRecord, error) {
	c := m.db.IterPrefixRev([]byte(prefixByAddressAnyTs + address + "/"))
	defer c.Close()

	var recs []ActivityRecord
	for ok := c.Last(); ok; ok = c.Prev() {
		key := c.Key()
		ts, seq, err := parseTsSeqSuffix(key)
		if err != nil {
			continue
		}
		poolSB := c.Value()
		if len(poolSB) != 12 {
			continue
		}
		var pb [12]byte
		copy(pb[:], poolSB)
		pool := alkaneid.IDFromStorageBytes(pb)

		raw, err := m.db.Get(activityKey(pb, ts, seq))
		if err != nil {
			continue
		}
		rec, err := decodeActivityRecord(pool, raw)
		if err != nil {
			continue
		}
		recs = append(recs, rec)
		if len(recs) >= limit {
			break
		}
	}
	return recs, nil
}

// parseTsSeqSuffix extracts the trailing 12-byte (ts BE4, seq BE8)
// suffix every activity index key carries.
func parseTsSeqSuffix(key []byte) (uint32, uint64, error) {
	if len(key) < 12 {
		return 0, 0, errTruncatedKey
	}
	suf := key[len(key)-12:]
	ts := uint32(suf[0])<<24 | uint32(suf[1])<<16 | uint32(suf[2])<<8 | uint32(suf[3])
	var seq uint64
	for i := 4; i < 12; i++ {
		seq = seq<<8 | uint64(suf[i])
	}
	return ts, seq, nil
}

var errTruncatedKey = &queryError{"ammdata: truncated index key"}

type queryError struct{ s string }

func (e *queryError) Error() string { return e.s }

// GetPool returns pool's definition, if discovered, for the rpcserver's
// ammdata.getPool handler.
func (m *Module) GetPool(pool alkaneid.ID) (PoolDefinition, bool, error) {
	return m.GetPoolDefinition(pool)
}

// GetAllPools returns every discovered pool, for ammdata.listPools.
func (m *Module) GetAllPools() ([]PoolDefinition, error) {
	return m.ListPools()
}

// GetLatestTVL returns pool's most recently computed TVL against
// canonical, for ammdata.getTVL.
func (m *Module) GetLatestTVL(pool, canonical alkaneid.ID) (TVLRow, bool, error) {
	return m.getLatestTVL(pool, canonical)
}

// GetDerivedPrice returns token's price expressed in canonical under the
// given merge strategy, for ammdata.getPrice.
func (m *Module) GetDerivedPrice(token, canonical alkaneid.ID, strategy PriceMergeStrategy) (uint64, bool, error) {
	p, ok, err := m.derivePriceToCanonical(token, canonical, strategy)
	if err != nil || !ok {
		return 0, ok, err
	}
	return p.Uint64(), true, nil
}

// CanonicalQuotes exposes the canonical quote alkane ids TVL/pricing are
// derived against, for ammdata.listCanonicalQuotes.
func CanonicalQuotes() []alkaneid.ID {
	out := make([]alkaneid.ID, len(canonicalQuotes))
	copy(out, canonicalQuotes)
	return out
}
