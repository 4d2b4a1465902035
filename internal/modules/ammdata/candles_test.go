package ammdata

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
)

func TestUpdateCandlesFirstTradeOpensBucket(t *testing.T) {
	m := newTestModule(t)
	pool := alkaneid.ID{Block: 840000, Tx: 10}
	touched := map[candleTouchKey]bool{}

	price, ok := PriceOf(big.NewInt(10), big.NewInt(5))
	require.True(t, ok)

	b := m.newBatch(1)
	require.NoError(t, m.updateCandles(b, pool, 1700000000, price, big.NewInt(5), touched))
	require.NoError(t, m.db.Write(b.Batch))

	bucket := uint64(1700000000 / 60)
	c, ok, err := m.getCandle(pool, 60, bucket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, c.Open.Cmp(price))
	require.Zero(t, c.Close.Cmp(price))
	require.Zero(t, c.High.Cmp(price))
	require.Zero(t, c.Low.Cmp(price))
	require.Equal(t, big.NewInt(5), c.Volume)
}

func TestUpdateCandlesSecondTradeSameBucketRaisesHighLeavesOpen(t *testing.T) {
	m := newTestModule(t)
	pool := alkaneid.ID{Block: 840000, Tx: 11}
	touched := map[candleTouchKey]bool{}

	firstPrice, ok := PriceOf(big.NewInt(10), big.NewInt(5))
	require.True(t, ok)
	secondPrice, ok := PriceOf(big.NewInt(10), big.NewInt(6))
	require.True(t, ok)
	require.Equal(t, 1, secondPrice.Cmp(firstPrice))

	b := m.newBatch(1)
	require.NoError(t, m.updateCandles(b, pool, 1700000000, firstPrice, big.NewInt(5), touched))
	require.NoError(t, m.updateCandles(b, pool, 1700000005, secondPrice, big.NewInt(6), touched))
	require.NoError(t, m.db.Write(b.Batch))

	bucket := uint64(1700000000 / 60)
	c, ok, err := m.getCandle(pool, 60, bucket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, c.Open.Cmp(firstPrice), "open must stay at the bucket's first trade price")
	require.Zero(t, c.Close.Cmp(secondPrice))
	require.Zero(t, c.High.Cmp(secondPrice))
	require.Zero(t, c.Low.Cmp(firstPrice))
	require.Equal(t, big.NewInt(11), c.Volume)
}

func TestUpdateCandlesLowerPriceTradeDropsLowLeavesHigh(t *testing.T) {
	m := newTestModule(t)
	pool := alkaneid.ID{Block: 840000, Tx: 12}
	touched := map[candleTouchKey]bool{}

	firstPrice, ok := PriceOf(big.NewInt(10), big.NewInt(5))
	require.True(t, ok)
	lowerPrice, ok := PriceOf(big.NewInt(10), big.NewInt(3))
	require.True(t, ok)

	b := m.newBatch(1)
	require.NoError(t, m.updateCandles(b, pool, 1700000000, firstPrice, big.NewInt(5), touched))
	require.NoError(t, m.updateCandles(b, pool, 1700000010, lowerPrice, big.NewInt(3), touched))
	require.NoError(t, m.db.Write(b.Batch))

	bucket := uint64(1700000000 / 60)
	c, ok, err := m.getCandle(pool, 60, bucket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, c.Low.Cmp(lowerPrice))
	require.Zero(t, c.High.Cmp(firstPrice))
	require.Zero(t, c.Close.Cmp(lowerPrice))
}

func TestUpdateCandlesNextBucketOpensIndependently(t *testing.T) {
	m := newTestModule(t)
	pool := alkaneid.ID{Block: 840000, Tx: 13}
	touched := map[candleTouchKey]bool{}

	firstPrice, ok := PriceOf(big.NewInt(10), big.NewInt(5))
	require.True(t, ok)
	nextPrice, ok := PriceOf(big.NewInt(10), big.NewInt(9))
	require.True(t, ok)

	b := m.newBatch(1)
	require.NoError(t, m.updateCandles(b, pool, 1700000000, firstPrice, big.NewInt(5), touched))
	require.NoError(t, m.updateCandles(b, pool, 1700000000+60, nextPrice, big.NewInt(9), touched))
	require.NoError(t, m.db.Write(b.Batch))

	firstBucket := uint64(1700000000 / 60)
	nextBucket := firstBucket + 1

	c1, ok, err := m.getCandle(pool, 60, firstBucket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, c1.Close.Cmp(firstPrice))

	c2, ok, err := m.getCandle(pool, 60, nextBucket)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, c2.Open.Cmp(nextPrice))
	require.Equal(t, big.NewInt(9), c2.Volume)
}

func TestUpdateCandlesWritesEveryTimeframe(t *testing.T) {
	m := newTestModule(t)
	pool := alkaneid.ID{Block: 840000, Tx: 14}
	touched := map[candleTouchKey]bool{}

	price, ok := PriceOf(big.NewInt(10), big.NewInt(5))
	require.True(t, ok)

	b := m.newBatch(1)
	require.NoError(t, m.updateCandles(b, pool, 1700000000, price, big.NewInt(5), touched))
	require.NoError(t, m.db.Write(b.Batch))

	for _, tf := range Timeframes {
		bucket := uint64(1700000000 / tf)
		_, ok, err := m.getCandle(pool, tf, bucket)
		require.NoError(t, err)
		require.True(t, ok, "timeframe %d should have a bucket written", tf)
	}
}

func TestInvertRoundTripsWithinTwoUnits(t *testing.T) {
	price, ok := PriceOf(big.NewInt(3), big.NewInt(7))
	require.True(t, ok)
	inv, ok := Invert(price)
	require.True(t, ok)
	back, ok := Invert(inv)
	require.True(t, ok)

	diff := new(big.Int).Sub(price.ToBig(), back.ToBig())
	diff.Abs(diff)
	require.True(t, diff.Cmp(big.NewInt(2)) <= 0, "invert(invert(price)) must equal price within two units (one floor per inversion)")
}
