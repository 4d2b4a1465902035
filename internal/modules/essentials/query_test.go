package essentials

import (
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

func openTestStore(t *testing.T) *ordkv.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "essentials-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := ordkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestModule(t *testing.T) *Module {
	t.Helper()
	store := openTestStore(t)
	return New(store, nil, nil, 0)
}

func TestGetAlkaneBalanceDefaultsToZero(t *testing.T) {
	m := newTestModule(t)
	owner := alkaneid.ID{Block: 2, Tx: 0}
	token := alkaneid.ID{Block: 840000, Tx: 1}

	bal, err := m.GetAlkaneBalance(owner, token)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Sign())
}

func TestWriteHeldBalancesThenQuery(t *testing.T) {
	m := newTestModule(t)
	owner := alkaneid.ID{Block: 2, Tx: 0}
	tokenA := alkaneid.ID{Block: 840000, Tx: 1}
	tokenB := alkaneid.ID{Block: 840000, Tx: 2}

	b := m.newBatch(100)
	deltas := map[heldKey]amount.Signed128{
		{Owner: owner, Token: tokenA}: amount.FromUint64(500),
		{Owner: owner, Token: tokenB}: amount.FromUint64(7),
	}
	require.NoError(t, m.writeHeldBalances(b, deltas))
	require.NoError(t, m.db.Write(b.Batch))

	balA, err := m.GetAlkaneBalance(owner, tokenA)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(500), balA)

	balances, err := m.GetAlkaneBalances(owner)
	require.NoError(t, err)
	require.Len(t, balances, 2)

	seen := map[string]*big.Int{}
	for _, hb := range balances {
		seen[hb.Token.String()] = hb.Balance
	}
	require.Equal(t, big.NewInt(500), seen[tokenA.String()])
	require.Equal(t, big.NewInt(7), seen[tokenB.String()])
}

func TestWriteHeldBalancesNegativeDeltaDeletesAtZero(t *testing.T) {
	m := newTestModule(t)
	owner := alkaneid.ID{Block: 2, Tx: 0}
	token := alkaneid.ID{Block: 840000, Tx: 1}

	b := m.newBatch(100)
	require.NoError(t, m.writeHeldBalances(b, map[heldKey]amount.Signed128{
		{Owner: owner, Token: token}: amount.FromUint64(10),
	}))
	require.NoError(t, m.db.Write(b.Batch))

	b2 := m.newBatch(101)
	neg := amount.FromUint64(10)
	neg.IsNegative = true
	require.NoError(t, m.writeHeldBalances(b2, map[heldKey]amount.Signed128{
		{Owner: owner, Token: token}: neg,
	}))
	require.NoError(t, m.db.Write(b2.Batch))

	bal, err := m.GetAlkaneBalance(owner, token)
	require.NoError(t, err)
	require.Equal(t, 0, bal.Sign())
}

func TestGetCreationRecordNotFound(t *testing.T) {
	m := newTestModule(t)
	_, exists, err := m.GetCreationRecord(alkaneid.ID{Block: 840000, Tx: 99})
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGetCreationRecordRoundTrip(t *testing.T) {
	m := newTestModule(t)
	id := alkaneid.ID{Block: 840000, Tx: 1}
	rec := creationRecord{
		ID:         id,
		Height:     100,
		Timestamp:  1700000000,
		TxIndex:    3,
		Names:      []string{"PIZZA"},
		Symbols:    []string{"PZA"},
		Cap:        []byte{0x01},
		MintAmount: []byte{0x02, 0x03},
	}
	rec.CreateTxid[0] = 0xab

	b := m.newBatch(100)
	b.Put(creationByIDKey(id.StorageBytes()), encodeCreationRecord(rec))
	require.NoError(t, m.db.Write(b.Batch))

	got, exists, err := m.GetCreationRecord(id)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, id, got.ID)
	require.Equal(t, uint32(100), got.Height)
	require.Equal(t, uint32(1700000000), got.Timestamp)
	require.Equal(t, []string{"PIZZA"}, got.Names)
	require.Equal(t, []string{"PZA"}, got.Symbols)
	require.Equal(t, []byte{0x01}, got.Cap)
	require.Equal(t, []byte{0x02, 0x03}, got.MintAmount)
}
