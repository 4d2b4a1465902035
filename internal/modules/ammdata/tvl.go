package ammdata

import (
	"encoding/binary"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

// TVLRow is one pool's total-value-locked snapshot against a single
// canonical quote denomination.
type TVLRow struct {
	Pool           alkaneid.ID
	Canonical      alkaneid.ID
	BaseReserve    *big.Int
	QuoteReserve   *big.Int
	DerivedBaseUSD *uint256.Int
	QuoteUSD       *uint256.Int
	TVL            *uint256.Int
	Height         uint32
}

func encodeTVLRow(r TVLRow) []byte {
	out := make([]byte, 0, 160)
	out = appendBigIntField(out, r.BaseReserve)
	out = appendBigIntField(out, r.QuoteReserve)
	out = append(out, priceFieldBytes(r.DerivedBaseUSD)...)
	out = append(out, priceFieldBytes(r.QuoteUSD)...)
	out = append(out, priceFieldBytes(r.TVL)...)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], r.Height)
	out = append(out, hdr[:]...)
	return out
}

func priceFieldBytes(v *uint256.Int) []byte {
	var b32 [32]byte
	if v != nil {
		b32 = v.Bytes32()
	}
	return b32[:]
}

func appendBigIntField(out []byte, v *big.Int) []byte {
	var raw []byte
	if v != nil {
		raw = v.Bytes()
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(raw)))
	out = append(out, l[:]...)
	return append(out, raw...)
}

func readBigIntField(raw []byte, n int) (*big.Int, int) {
	if len(raw) < n+2 {
		return big.NewInt(0), n
	}
	l := int(binary.BigEndian.Uint16(raw[n:]))
	n += 2
	v := new(big.Int)
	if len(raw) >= n+l {
		v.SetBytes(raw[n : n+l])
	}
	return v, n + l
}

func decodeTVLRow(pool, canonical alkaneid.ID, raw []byte) (TVLRow, bool) {
	r := TVLRow{Pool: pool, Canonical: canonical}
	n := 0
	r.BaseReserve, n = readBigIntField(raw, n)
	r.QuoteReserve, n = readBigIntField(raw, n)
	if len(raw) < n+32*3+4 {
		return r, false
	}
	r.DerivedBaseUSD = new(uint256.Int).SetBytes(raw[n : n+32])
	n += 32
	r.QuoteUSD = new(uint256.Int).SetBytes(raw[n : n+32])
	n += 32
	r.TVL = new(uint256.Int).SetBytes(raw[n : n+32])
	n += 32
	r.Height = binary.BigEndian.Uint32(raw[n : n+4])
	return r, true
}

// updatePricesAndTVL refreshes, for every pool touched this block, its TVL
// against each canonical quote denomination. Pool
// price rows themselves are already updated inline by
// activity.go's updateTradePrice as each trade is classified; this pass
// only needs current reserves plus derived USD/BTC pricing.
func (m *Module) updatePricesAndTVL(b *mdb.HeightBatch, height uint32, touchedPools map[alkaneid.ID]bool) error {
	for poolID := range touchedPools {
		def, exists, err := m.GetPoolDefinition(poolID)
		if err != nil {
			return err
		}
		if !exists {
			continue
		}

		baseReserve, err := m.ess.GetAlkaneBalance(poolID, def.Base)
		if err != nil {
			return err
		}
		quoteReserve, err := m.ess.GetAlkaneBalance(poolID, def.Quote)
		if err != nil {
			return err
		}

		for _, canonical := range canonicalQuotes {
			row, err := m.computeTVLRow(poolID, def, canonical, baseReserve, quoteReserve, height)
			if err != nil {
				return err
			}
			b.Put(tvlHeightKey(poolID.StorageBytes(), canonical.StorageBytes(), height), encodeTVLRow(row))
			b.Put(tvlLatestKey(poolID.StorageBytes(), canonical.StorageBytes()), encodeTVLRow(row))
		}
	}
	return nil
}

func (m *Module) computeTVLRow(poolID alkaneid.ID, def PoolDefinition, canonical alkaneid.ID, baseReserve, quoteReserve *big.Int, height uint32) (TVLRow, error) {
	row := TVLRow{
		Pool: poolID, Canonical: canonical,
		BaseReserve: baseReserve, QuoteReserve: quoteReserve,
		Height: height,
	}

	baseUSD, baseOK, err := m.derivePriceToCanonical(def.Base, canonical, defaultMergeStrategy)
	if err != nil {
		return row, err
	}
	quoteUSD, quoteOK, err := m.derivePriceToCanonical(def.Quote, canonical, defaultMergeStrategy)
	if err != nil {
		return row, err
	}
	if !baseOK {
		baseUSD = new(uint256.Int)
	}
	if !quoteOK {
		quoteUSD = new(uint256.Int)
	}
	row.DerivedBaseUSD = baseUSD
	row.QuoteUSD = quoteUSD

	baseValue := valueOf(baseReserve, baseUSD)
	quoteValue := valueOf(quoteReserve, quoteUSD)
	row.TVL = new(uint256.Int).Add(baseValue, quoteValue)
	return row, nil
}

// valueOf returns reserve*priceScaled/PriceScale, clamped to zero on
// overflow or a missing/unconvertible reserve amount.
func valueOf(reserve *big.Int, priceScaled *uint256.Int) *uint256.Int {
	if reserve == nil || reserve.Sign() <= 0 || priceScaled == nil || priceScaled.IsZero() {
		return new(uint256.Int)
	}
	reserveU256, overflow := uint256.FromBig(reserve)
	if overflow {
		return new(uint256.Int)
	}
	value, overflow := new(uint256.Int).MulDivOverflow(reserveU256, priceScaled, PriceScale)
	if overflow {
		return new(uint256.Int)
	}
	return value
}

func (m *Module) getLatestTVL(pool, canonical alkaneid.ID) (TVLRow, bool, error) {
	raw, err := m.db.Get(tvlLatestKey(pool.StorageBytes(), canonical.StorageBytes()))
	if err == ordkv.ErrNotFound {
		return TVLRow{}, false, nil
	}
	if err != nil {
		return TVLRow{}, false, err
	}
	row, ok := decodeTVLRow(pool, canonical, raw)
	return row, ok, nil
}
