package essentials

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

func loadHolderVector(t *testing.T, m *Module, token alkaneid.ID) []holderEntry {
	t.Helper()
	raw, err := m.db.Get(holderVectorKey(token.StorageBytes()))
	if err != nil && err != ordkv.ErrNotFound {
		require.NoError(t, err)
	}
	return decodeHolderVector(raw)
}

func TestHolderVectorEveryEntryPositive(t *testing.T) {
	m := newTestModule(t)
	token := alkaneid.ID{Block: 840000, Tx: 1}
	a := alkaneid.NewAddressHolder("bc1qaddr1")
	b := alkaneid.NewAddressHolder("bc1qaddr2")

	batch := m.newBatch(1)
	require.NoError(t, m.applyHolderDeltas(batch, 1, token, []holderDelta{
		{Holder: a, Delta: amount.FromUint64(100)},
		{Holder: b, Delta: amount.FromUint64(50)},
	}))
	require.NoError(t, m.db.Write(batch.Batch))

	entries := loadHolderVector(t, m, token)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.Positive(t, e.Amount.Sign())
	}
}

func TestHolderVectorZeroedHolderIsRemoved(t *testing.T) {
	m := newTestModule(t)
	token := alkaneid.ID{Block: 840000, Tx: 2}
	a := alkaneid.NewAddressHolder("bc1qaddr1")

	b1 := m.newBatch(1)
	require.NoError(t, m.applyHolderDeltas(b1, 1, token, []holderDelta{
		{Holder: a, Delta: amount.FromUint64(100)},
	}))
	require.NoError(t, m.db.Write(b1.Batch))

	b2 := m.newBatch(2)
	require.NoError(t, m.applyHolderDeltas(b2, 2, token, []holderDelta{
		{Holder: a, Delta: amount.FromUint64(100).Neg()},
	}))
	require.NoError(t, m.db.Write(b2.Batch))

	entries := loadHolderVector(t, m, token)
	require.Empty(t, entries)
}

func TestHolderVectorNegativeBalancePanics(t *testing.T) {
	m := newTestModule(t)
	token := alkaneid.ID{Block: 840000, Tx: 3}
	a := alkaneid.NewAddressHolder("bc1qaddr1")

	b1 := m.newBatch(1)
	require.NoError(t, m.applyHolderDeltas(b1, 1, token, []holderDelta{
		{Holder: a, Delta: amount.FromUint64(10)},
	}))
	require.NoError(t, m.db.Write(b1.Batch))

	b2 := m.newBatch(2)
	require.Panics(t, func() {
		_ = m.applyHolderDeltas(b2, 2, token, []holderDelta{
			{Holder: a, Delta: amount.FromUint64(11).Neg()},
		})
	})
}

func TestHolderVectorSumEqualsCirculatingSupply(t *testing.T) {
	m := newTestModule(t)
	token := alkaneid.ID{Block: 840000, Tx: 4}
	a := alkaneid.NewAddressHolder("bc1qaddr1")
	b := alkaneid.NewAddressHolder("bc1qaddr2")
	c := alkaneid.NewAddressHolder("bc1qaddr3")

	batch := m.newBatch(5)
	require.NoError(t, m.applyHolderDeltas(batch, 5, token, []holderDelta{
		{Holder: a, Delta: amount.FromUint64(30)},
		{Holder: b, Delta: amount.FromUint64(20)},
		{Holder: c, Delta: amount.FromUint64(7)},
	}))
	require.NoError(t, m.db.Write(batch.Batch))

	entries := loadHolderVector(t, m, token)
	sum := big.NewInt(0)
	for _, e := range entries {
		sum.Add(sum, e.Amount)
	}

	raw, err := m.db.Get(circLatestKey(token.StorageBytes()))
	require.NoError(t, err)
	circ := new(big.Int).SetBytes(raw)
	require.Zero(t, sum.Cmp(circ))
}

func TestHolderCountRowTracksVectorLength(t *testing.T) {
	m := newTestModule(t)
	token := alkaneid.ID{Block: 840000, Tx: 5}
	a := alkaneid.NewAddressHolder("bc1qaddr1")
	b := alkaneid.NewAddressHolder("bc1qaddr2")

	batch := m.newBatch(1)
	require.NoError(t, m.applyHolderDeltas(batch, 1, token, []holderDelta{
		{Holder: a, Delta: amount.FromUint64(10)},
		{Holder: b, Delta: amount.FromUint64(10)},
	}))
	require.NoError(t, m.db.Write(batch.Batch))

	entries := loadHolderVector(t, m, token)
	_, err := m.db.Get(holderCountKey(uint64(len(entries)), token.StorageBytes()))
	require.NoError(t, err)
}
