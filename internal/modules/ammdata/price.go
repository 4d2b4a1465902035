package ammdata

import (
	"encoding/binary"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

// PriceScale is the fixed-point denominator every stored/derived price is
// expressed against. Grounded on AKJUS-bsc-erigon's eip4844.go FakeExponential,
// the only pack usage of github.com/holiman/uint256 for fixed-point
// integer math without floats.
var PriceScale = uint256.NewInt(1_000_000_000_000_000_000)

// PriceOf returns the price of one unit of base denominated in quote
// (quoteAmount/baseAmount, scaled by PriceScale), or ok=false if
// baseAmount is zero or the computation overflows 256 bits.
func PriceOf(baseAmount, quoteAmount *big.Int) (price *uint256.Int, ok bool) {
	if baseAmount == nil || baseAmount.Sign() == 0 {
		return nil, false
	}
	base, overflow := uint256.FromBig(baseAmount)
	if overflow {
		return nil, false
	}
	quote, overflow := uint256.FromBig(quoteAmount)
	if overflow {
		return nil, false
	}
	result, overflow := new(uint256.Int).MulDivOverflow(quote, PriceScale, base)
	if overflow {
		return nil, false
	}
	return result, true
}

// Invert returns 1/p in the same PriceScale fixed-point representation:
// invert(p) = PRICE_SCALE^2 / p.
func Invert(p *uint256.Int) (*uint256.Int, bool) {
	if p == nil || p.IsZero() {
		return nil, false
	}
	result, overflow := new(uint256.Int).MulDivOverflow(PriceScale, PriceScale, p)
	if overflow {
		return nil, false
	}
	return result, true
}

// poolPriceRow is the mutable per-pool "last trade price" row price.go
// maintains alongside the immutable PoolDefinition, keyed the same as the
// definition but under its own prefix so pool discovery's immutability
// guarantee is untouched.
type poolPriceRow struct {
	// LastPriceBaseInQuote is the most recent trade's base-in-quote price
	// (scaled by PriceScale), 0 if the pool has never traded.
	LastPriceBaseInQuote *uint256.Int
	// QuoteVolume is this pool's cumulative absolute quote-side volume,
	// used as the weight in the neutral_vwap merge strategy.
	QuoteVolume *big.Int
	UpdateHeight uint32
}

const prefixPoolPrice = "pool/price/"

func poolPriceKey(pool [12]byte) []byte {
	return append([]byte(prefixPoolPrice), pool[:]...)
}

func encodePoolPriceRow(r poolPriceRow) []byte {
	priceBytes := make([]byte, 32)
	if r.LastPriceBaseInQuote != nil {
		b32 := r.LastPriceBaseInQuote.Bytes32()
		copy(priceBytes, b32[:])
	}
	var vol []byte
	if r.QuoteVolume != nil {
		vol = r.QuoteVolume.Bytes()
	}
	out := make([]byte, 0, 32+4+2+len(vol))
	out = append(out, priceBytes...)
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], r.UpdateHeight)
	out = append(out, hdr[:]...)
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(vol)))
	out = append(out, l[:]...)
	out = append(out, vol...)
	return out
}

func decodePoolPriceRow(raw []byte) (poolPriceRow, bool) {
	if len(raw) < 32+4+2 {
		return poolPriceRow{}, false
	}
	price := new(uint256.Int).SetBytes(raw[0:32])
	height := binary.BigEndian.Uint32(raw[32:36])
	l := int(binary.BigEndian.Uint16(raw[36:38]))
	vol := new(big.Int)
	if len(raw) >= 38+l {
		vol.SetBytes(raw[38 : 38+l])
	}
	return poolPriceRow{LastPriceBaseInQuote: price, QuoteVolume: vol, UpdateHeight: height}, true
}

func (m *Module) getPoolPriceRow(pool alkaneid.ID) (poolPriceRow, bool, error) {
	raw, err := m.db.Get(poolPriceKey(pool.StorageBytes()))
	if err == ordkv.ErrNotFound {
		return poolPriceRow{}, false, nil
	}
	if err != nil {
		return poolPriceRow{}, false, err
	}
	row, ok := decodePoolPriceRow(raw)
	return row, ok, nil
}

// updatePoolPriceRow folds one trade's base-in-quote price and absolute
// quote volume into pool's running price row.
func (m *Module) updatePoolPriceRow(b *mdb.HeightBatch, pool alkaneid.ID, height uint32, price *uint256.Int, quoteVolume *big.Int) error {
	row, _, err := m.getPoolPriceRow(pool)
	if err != nil {
		return err
	}
	row.LastPriceBaseInQuote = price
	row.UpdateHeight = height
	if row.QuoteVolume == nil {
		row.QuoteVolume = new(big.Int)
	}
	if quoteVolume != nil {
		row.QuoteVolume = new(big.Int).Add(row.QuoteVolume, quoteVolume)
	}
	b.Put(poolPriceKey(pool.StorageBytes()), encodePoolPriceRow(row))
	return nil
}

// edge is one directed hop of the derivation graph: trading `from` for
// `to` through pool multiplies a from-denominated amount's price by
// toInFromPx (i.e. the price of one unit of `from` expressed in `to`,
// inverted as needed depending on which side of the pool `from`/`to` sit
// on).
type edge struct {
	pool        alkaneid.ID
	to          alkaneid.ID
	toInFromPx  *uint256.Int
	quoteVolume *big.Int
}

// buildGraph returns, for every known pool with a recorded price, the two
// directed edges it contributes (base->quote and quote->base).
func (m *Module) buildGraph() (map[alkaneid.ID][]edge, error) {
	pools, err := m.ListPools()
	if err != nil {
		return nil, err
	}
	graph := make(map[alkaneid.ID][]edge)
	for _, def := range pools {
		row, ok, err := m.getPoolPriceRow(def.PoolID)
		if err != nil {
			return nil, err
		}
		if !ok || row.LastPriceBaseInQuote == nil || row.LastPriceBaseInQuote.IsZero() {
			continue
		}
		quoteInBase, ok := Invert(row.LastPriceBaseInQuote)
		if !ok {
			continue
		}
		graph[def.Base] = append(graph[def.Base], edge{pool: def.PoolID, to: def.Quote, toInFromPx: row.LastPriceBaseInQuote, quoteVolume: row.QuoteVolume})
		graph[def.Quote] = append(graph[def.Quote], edge{pool: def.PoolID, to: def.Base, toInFromPx: quoteInBase, quoteVolume: row.QuoteVolume})
	}
	return graph, nil
}

// pathPrice is one candidate derivation of token's price in canonical,
// with the weakest-link volume along the path as its merge weight.
type pathPrice struct {
	price  *uint256.Int
	weight *big.Int
}

// derivePriceToCanonical finds every path of at most two hops from token
// to canonical through the pool graph and merges the candidates per
// strategy.
func (m *Module) derivePriceToCanonical(token, canonical alkaneid.ID, strategy PriceMergeStrategy) (*uint256.Int, bool, error) {
	if token.Equal(canonical) {
		return new(uint256.Int).Set(PriceScale), true, nil
	}
	graph, err := m.buildGraph()
	if err != nil {
		return nil, false, err
	}

	var candidates []pathPrice
	for _, e1 := range graph[token] {
		if e1.to.Equal(canonical) {
			candidates = append(candidates, pathPrice{price: e1.toInFromPx, weight: e1.quoteVolume})
			continue
		}
		for _, e2 := range graph[e1.to] {
			if !e2.to.Equal(canonical) {
				continue
			}
			combined, overflow := new(uint256.Int).MulDivOverflow(e1.toInFromPx, e2.toInFromPx, PriceScale)
			if overflow {
				continue
			}
			weight := minBigInt(e1.quoteVolume, e2.quoteVolume)
			candidates = append(candidates, pathPrice{price: combined, weight: weight})
		}
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	return mergeCandidates(candidates, strategy), true, nil
}

func minBigInt(a, b *big.Int) *big.Int {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

func mergeCandidates(candidates []pathPrice, strategy PriceMergeStrategy) *uint256.Int {
	switch strategy {
	case MergeOptimistic:
		best := candidates[0].price
		for _, c := range candidates[1:] {
			if c.price.Cmp(best) > 0 {
				best = c.price
			}
		}
		return best
	case MergePessimistic:
		worst := candidates[0].price
		for _, c := range candidates[1:] {
			if c.price.Cmp(worst) < 0 {
				worst = c.price
			}
		}
		return worst
	case MergeNeutralVWAP:
		return vwap(candidates)
	default: // MergeNeutral
		return average(candidates)
	}
}

func average(candidates []pathPrice) *uint256.Int {
	sum := new(uint256.Int)
	for _, c := range candidates {
		sum = new(uint256.Int).Add(sum, c.price)
	}
	return new(uint256.Int).Div(sum, uint256.NewInt(uint64(len(candidates))))
}

func vwap(candidates []pathPrice) *uint256.Int {
	totalWeight := new(big.Int)
	anyWeight := false
	for _, c := range candidates {
		if c.weight != nil && c.weight.Sign() > 0 {
			totalWeight.Add(totalWeight, c.weight)
			anyWeight = true
		}
	}
	if !anyWeight || totalWeight.Sign() == 0 {
		return average(candidates)
	}

	weightU256, overflow := uint256.FromBig(totalWeight)
	if overflow {
		return average(candidates)
	}
	acc := new(uint256.Int)
	for _, c := range candidates {
		w := c.weight
		if w == nil || w.Sign() <= 0 {
			continue
		}
		wU256, overflow := uint256.FromBig(w)
		if overflow {
			return average(candidates)
		}
		term, overflow := new(uint256.Int).MulDivOverflow(c.price, wU256, weightU256)
		if overflow {
			return average(candidates)
		}
		acc = new(uint256.Int).Add(acc, term)
	}
	if acc.IsZero() {
		return average(candidates)
	}
	return acc
}
