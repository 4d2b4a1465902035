package ammdata

import (
	"encoding/binary"
	"math/big"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/modules/essentials"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
)

// ActivityKind classifies one pool-touching transaction.
type ActivityKind byte

const (
	ActivityPoolCreate ActivityKind = iota
	ActivityTrade
	ActivityMint
	ActivityBurn
)

func (k ActivityKind) String() string {
	switch k {
	case ActivityPoolCreate:
		return "pool_create"
	case ActivityTrade:
		return "trade"
	case ActivityMint:
		return "mint"
	case ActivityBurn:
		return "burn"
	default:
		return "unknown"
	}
}

// ActivityRecord is one pool activity row.
type ActivityRecord struct {
	Pool       alkaneid.ID
	Kind       ActivityKind
	Height     uint32
	TxIndex    uint32
	Timestamp  uint32
	Txid       alkaneid.Txid
	Address    string
	BaseDelta  amount.Signed128
	QuoteDelta amount.Signed128
	LPDelta    amount.Signed128
}

func encodeActivityRecord(r ActivityRecord) []byte {
	out := make([]byte, 0, 64)
	out = append(out, byte(r.Kind))
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], r.Height)
	binary.BigEndian.PutUint32(hdr[4:8], r.TxIndex)
	binary.BigEndian.PutUint32(hdr[8:12], r.Timestamp)
	out = append(out, hdr[:]...)
	out = append(out, r.Txid[:]...)
	out = appendAddrField(out, r.Address)
	out = appendSigned128(out, r.BaseDelta)
	out = appendSigned128(out, r.QuoteDelta)
	out = appendSigned128(out, r.LPDelta)
	return out
}

func decodeActivityRecord(pool alkaneid.ID, raw []byte) (ActivityRecord, error) {
	r := ActivityRecord{Pool: pool}
	if len(raw) < 1+12+32 {
		return r, errors.New("ammdata: truncated activity record")
	}
	n := 0
	r.Kind = ActivityKind(raw[n])
	n++
	r.Height = binary.BigEndian.Uint32(raw[n:])
	n += 4
	r.TxIndex = binary.BigEndian.Uint32(raw[n:])
	n += 4
	r.Timestamp = binary.BigEndian.Uint32(raw[n:])
	n += 4
	copy(r.Txid[:], raw[n:n+32])
	n += 32

	var err error
	r.Address, n, err = readAddrField(raw, n)
	if err != nil {
		return r, err
	}
	r.BaseDelta, n, err = readSigned128(raw, n)
	if err != nil {
		return r, err
	}
	r.QuoteDelta, n, err = readSigned128(raw, n)
	if err != nil {
		return r, err
	}
	r.LPDelta, _, err = readSigned128(raw, n)
	return r, err
}

func appendAddrField(out []byte, addr string) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(addr)))
	out = append(out, l[:]...)
	return append(out, addr...)
}

func readAddrField(raw []byte, n int) (string, int, error) {
	if len(raw) < n+2 {
		return "", n, errors.New("ammdata: truncated activity record (address len)")
	}
	l := int(binary.BigEndian.Uint16(raw[n:]))
	n += 2
	if len(raw) < n+l {
		return "", n, errors.New("ammdata: truncated activity record (address bytes)")
	}
	return string(raw[n : n+l]), n + l, nil
}

func appendSigned128(out []byte, s amount.Signed128) []byte {
	var sign byte
	var mag []byte
	if s.Magnitude != nil {
		mag = s.Magnitude.Bytes()
	}
	if s.IsNegative {
		sign = 1
	}
	out = append(out, sign)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(mag)))
	out = append(out, l[:]...)
	return append(out, mag...)
}

func readSigned128(raw []byte, n int) (amount.Signed128, int, error) {
	if len(raw) < n+3 {
		return amount.Zero(), n, errors.New("ammdata: truncated activity record (signed128)")
	}
	neg := raw[n] == 1
	n++
	l := int(binary.BigEndian.Uint16(raw[n:]))
	n += 2
	if len(raw) < n+l {
		return amount.Zero(), n, errors.New("ammdata: truncated activity record (signed128 bytes)")
	}
	mag := append([]byte{}, raw[n:n+l]...)
	n += l
	return amount.FromBigInt(neg, new(big.Int).SetBytes(mag)), n, nil
}

// poolDeltaAccum accumulates one transaction's deltas against a single
// pool, the shape classifyActivity builds per (tx, pool) before
// classification.
type poolDeltaAccum struct {
	Base    amount.Signed128
	Quote   amount.Signed128
	LP      amount.Signed128
	Address string
}

// classifyActivity groups each tx's resolved deltas by pool, classifies
// them, and writes the canonical
// activity row plus its six mirror indexes. Returns the set of pools
// touched this block, for price.go/tvl.go's refresh pass.
func (m *Module) classifyActivity(b *mdb.HeightBatch, ib *traceassembler.IndexedBlock, res *resolver.BlockResult, newPools map[int][]alkaneid.ID) (map[alkaneid.ID]bool, error) {
	touched := make(map[alkaneid.ID]bool)
	candleTouched := make(map[candleTouchKey]bool)

	for i, it := range ib.Transactions {
		txResult := res.Txs[i]
		accums, err := m.groupDeltasByPool(txResult)
		if err != nil {
			return nil, err
		}
		for _, poolID := range newPools[i] {
			if _, ok := accums[poolID]; !ok {
				accums[poolID] = &poolDeltaAccum{Base: amount.Zero(), Quote: amount.Zero(), LP: amount.Zero()}
			}
		}
		if len(accums) == 0 {
			continue
		}

		for poolID, acc := range accums {
			kind, ok := classifyKind(m.ess, poolID, it.Tx.Txid, acc)
			if !ok {
				continue
			}

			rec := ActivityRecord{
				Pool:       poolID,
				Kind:       kind,
				Height:     ib.Height,
				TxIndex:    uint32(i),
				Timestamp:  m.lastBlockTimestamp,
				Txid:       it.Tx.Txid,
				Address:    acc.Address,
				BaseDelta:  acc.Base,
				QuoteDelta: acc.Quote,
				LPDelta:    acc.LP,
			}
			m.writeActivity(b, rec)
			touched[poolID] = true

			if kind == ActivityTrade {
				if err := m.updateTradePrice(b, poolID, ib.Height, rec.Timestamp, acc, candleTouched); err != nil {
					return nil, err
				}
			}
		}
	}
	return touched, nil
}

// updateTradePrice computes this trade's base-in-quote price from the
// pool's resolved base/quote deltas and folds it into the pool's running
// price row and every candle timeframe bucket it falls in.
func (m *Module) updateTradePrice(b *mdb.HeightBatch, poolID alkaneid.ID, height, ts uint32, acc *poolDeltaAccum, candleTouched map[candleTouchKey]bool) error {
	if acc.Base.Magnitude == nil || acc.Quote.Magnitude == nil {
		return nil
	}
	price, ok := PriceOf(acc.Base.Magnitude, acc.Quote.Magnitude)
	if !ok {
		return nil
	}
	quoteVolume := new(big.Int).Set(acc.Quote.Magnitude)

	if err := m.updatePoolPriceRow(b, poolID, height, price, quoteVolume); err != nil {
		return err
	}
	return m.updateCandles(b, poolID, ts, price, quoteVolume, candleTouched)
}

// groupDeltasByPool buckets txResult.HolderDeltas by the pool alkane
// holding each delta, recording base/quote reserve-side deltas, LP
// supply-side deltas (deltas against the pool's own token), and the first
// address-kind counterparty encountered.
func (m *Module) groupDeltasByPool(txResult resolver.TxResult) (map[alkaneid.ID]*poolDeltaAccum, error) {
	out := make(map[alkaneid.ID]*poolDeltaAccum)

	ensure := func(pool alkaneid.ID) *poolDeltaAccum {
		if a, ok := out[pool]; ok {
			return a
		}
		a := &poolDeltaAccum{Base: amount.Zero(), Quote: amount.Zero(), LP: amount.Zero()}
		out[pool] = a
		return a
	}

	for _, d := range txResult.HolderDeltas {
		if d.Holder.Kind == alkaneid.HolderAlkane {
			poolID := d.Holder.Alkane
			def, exists, err := m.GetPoolDefinition(poolID)
			if err != nil {
				return nil, err
			}
			if exists {
				acc := ensure(poolID)
				switch {
				case d.Token.Equal(def.Base):
					acc.Base = acc.Base.Add(d.Delta)
				case d.Token.Equal(def.Quote):
					acc.Quote = acc.Quote.Add(d.Delta)
				}
			}
		}
		// LP-side: the delta's token is the pool's own id, regardless of
		// which holder carries it (the LP share owner).
		_, exists, err := m.GetPoolDefinition(d.Token)
		if err != nil {
			return nil, err
		}
		if exists {
			acc := ensure(d.Token)
			acc.LP = acc.LP.Add(d.Delta)
			if d.Holder.Kind == alkaneid.HolderAddress && acc.Address == "" {
				acc.Address = d.Holder.Address
			}
		}
	}

	// Backfill the counterparty address for pools touched only through
	// base/quote deltas (no LP delta this tx), scanning once more for any
	// address-kind holder delta against that pool's base/quote tokens.
	for poolID, acc := range out {
		if acc.Address != "" {
			continue
		}
		def, exists, err := m.GetPoolDefinition(poolID)
		if err != nil {
			return nil, err
		}
		if !exists {
			continue
		}
		for _, d := range txResult.HolderDeltas {
			if d.Holder.Kind != alkaneid.HolderAddress {
				continue
			}
			if d.Token.Equal(def.Base) || d.Token.Equal(def.Quote) || d.Token.Equal(poolID) {
				acc.Address = d.Holder.Address
				break
			}
		}
	}
	return out, nil
}

// classifyKind applies this priority order: pool_create (the
// pool's own creation tx) beats trade (opposite-signed nonzero base and
// quote deltas) beats mint/burn (nonzero LP delta, sign-discriminated).
func classifyKind(ess *essentials.Module, poolID alkaneid.ID, txid alkaneid.Txid, acc *poolDeltaAccum) (ActivityKind, bool) {
	if info, exists, err := ess.GetCreationRecord(poolID); err == nil && exists && info.CreateTxid == txid {
		return ActivityPoolCreate, true
	}

	baseNonZero := !acc.Base.IsZero()
	quoteNonZero := !acc.Quote.IsZero()
	if baseNonZero && quoteNonZero && acc.Base.IsNegative != acc.Quote.IsNegative {
		return ActivityTrade, true
	}
	if !acc.LP.IsZero() {
		if acc.LP.IsNegative {
			return ActivityBurn, true
		}
		return ActivityMint, true
	}
	return ActivityPoolCreate, false
}

// writeActivity persists the canonical activity row and its six mirror
// indexes.
func (m *Module) writeActivity(b *mdb.HeightBatch, r ActivityRecord) {
	poolSB := r.Pool.StorageBytes()
	seq := activitySeq(r.Height, r.TxIndex)
	ts := r.Timestamp

	b.Put(activityKey(poolSB, ts, seq), encodeActivityRecord(r))
	b.Put(byPoolTsKey(poolSB, ts, seq), []byte{byte(r.Kind)})
	b.Put(byPoolTsByKindKey(poolSB, byte(r.Kind), ts, seq), []byte{})
	b.Put(allTsKey(ts, seq), poolSB[:])

	def, exists, err := m.GetPoolDefinition(r.Pool)
	if err == nil && exists {
		baseSB := def.Base.StorageBytes()
		quoteSB := def.Quote.StorageBytes()
		b.Put(byTokenTsKey(baseSB, ts, seq), poolSB[:])
		b.Put(byTokenTsKey(quoteSB, ts, seq), poolSB[:])
	}

	if r.Address != "" {
		b.Put(byAddressByPoolTsKey(r.Address, poolSB, ts, seq), []byte{byte(r.Kind)})
		b.Put(byAddressAnyTsKey(r.Address, ts, seq), poolSB[:])
	}
}
