package ammdata

import (
	"encoding/binary"
	"math/big"

	"github.com/holiman/uint256"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

// Timeframes are the seven candle bucket widths this indexer maintains
// per pool.
var Timeframes = []uint32{60, 300, 900, 3600, 14400, 86400, 604800}

// Candle is one OHLCV bucket.
type Candle struct {
	Open, High, Low, Close *uint256.Int
	Volume                 *big.Int
}

func encodeCandle(c Candle) []byte {
	out := make([]byte, 0, 32*4+2+32)
	for _, v := range []*uint256.Int{c.Open, c.High, c.Low, c.Close} {
		var b32 [32]byte
		if v != nil {
			b32 = v.Bytes32()
		}
		out = append(out, b32[:]...)
	}
	var vol []byte
	if c.Volume != nil {
		vol = c.Volume.Bytes()
	}
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(vol)))
	out = append(out, l[:]...)
	return append(out, vol...)
}

func decodeCandle(raw []byte) (Candle, bool) {
	if len(raw) < 32*4+2 {
		return Candle{}, false
	}
	c := Candle{
		Open:  new(uint256.Int).SetBytes(raw[0:32]),
		High:  new(uint256.Int).SetBytes(raw[32:64]),
		Low:   new(uint256.Int).SetBytes(raw[64:96]),
		Close: new(uint256.Int).SetBytes(raw[96:128]),
	}
	l := int(binary.BigEndian.Uint16(raw[128:130]))
	c.Volume = new(big.Int)
	if len(raw) >= 130+l {
		c.Volume.SetBytes(raw[130 : 130+l])
	}
	return c, true
}

func (m *Module) getCandle(pool alkaneid.ID, tf uint32, bucket uint64) (Candle, bool, error) {
	raw, err := m.db.Get(candleKey(pool.StorageBytes(), tf, bucket))
	if err == ordkv.ErrNotFound {
		return Candle{}, false, nil
	}
	if err != nil {
		return Candle{}, false, err
	}
	c, ok := decodeCandle(raw)
	return c, ok, nil
}

// GetCandles returns the stored candles for (pool, timeframe) in buckets
// fromBucket through toBucket inclusive, oldest first; buckets with no
// candle are skipped.
func (m *Module) GetCandles(pool alkaneid.ID, tf uint32, fromBucket, toBucket uint64) ([]Candle, error) {
	poolSB := pool.StorageBytes()
	var out []Candle
	for bucket := fromBucket; bucket <= toBucket; bucket++ {
		c, ok, err := m.getCandle(pool, tf, bucket)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, c)
		}
	}
	_ = poolSB
	return out, nil
}

// updateCandles folds one trade's base-in-quote price and absolute quote
// volume into every timeframe bucket it falls in. The open price resets
// only the first time a given (pool, timeframe, bucket) is touched within
// this call to IndexBlock — tracked via touched, a fresh set the caller
// allocates once per block: open is set to the trade price if the
// candle is new in this block; otherwise it is left unchanged.
func (m *Module) updateCandles(b *mdb.HeightBatch, pool alkaneid.ID, ts uint32, price *uint256.Int, quoteVolume *big.Int, touched map[candleTouchKey]bool) error {
	if price == nil || price.IsZero() {
		return nil
	}
	poolSB := pool.StorageBytes()
	for _, tf := range Timeframes {
		bucket := uint64(ts / tf)
		key := candleTouchKey{Pool: pool, TF: tf, Bucket: bucket}

		cur, exists, err := m.getCandle(pool, tf, bucket)
		if err != nil {
			return err
		}

		newInBlock := !touched[key]
		touched[key] = true

		if !exists {
			cur = Candle{Open: price, High: price, Low: price, Close: price, Volume: new(big.Int)}
		} else {
			if newInBlock {
				cur.Open = price
			}
			if price.Cmp(cur.High) > 0 {
				cur.High = price
			}
			if price.Cmp(cur.Low) < 0 {
				cur.Low = price
			}
			cur.Close = price
		}
		if cur.Volume == nil {
			cur.Volume = new(big.Int)
		}
		if quoteVolume != nil {
			cur.Volume = new(big.Int).Add(cur.Volume, quoteVolume)
		}
		b.Put(candleKey(poolSB, tf, bucket), encodeCandle(cur))
	}
	return nil
}

// candleTouchKey identifies a single candle bucket for the per-block
// "new in this block" open-reset tracking set.
type candleTouchKey struct {
	Pool   alkaneid.ID
	TF     uint32
	Bucket uint64
}
