package ammdata

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

func openTestStore(t *testing.T) *ordkv.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "ammdata-test-*")
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

func writePoolDefinition(t *testing.T, m *Module, d PoolDefinition) {
	t.Helper()
	b := m.newBatch(d.Height)
	poolSB := d.PoolID.StorageBytes()
	b.Put(poolKey(poolSB), encodePoolDefinition(d))
	b.Put(poolOrderedKey(d.Height, d.TxIndex, poolSB), nil)
	require.NoError(t, m.db.Write(b.Batch))
}

func TestGetPoolDefinitionNotFound(t *testing.T) {
	m := newTestModule(t)
	_, exists, err := m.GetPool(alkaneid.ID{Block: 840000, Tx: 7})
	require.NoError(t, err)
	require.False(t, exists)
}

func TestGetPoolAndListPools(t *testing.T) {
	m := newTestModule(t)
	pool1 := PoolDefinition{
		PoolID:  alkaneid.ID{Block: 840000, Tx: 10},
		Factory: alkaneid.ID{Block: 840000, Tx: 1},
		Base:    alkaneid.ID{Block: 0, Tx: 0},
		Quote:   alkaneid.ID{Block: 840000, Tx: 2},
		Height:  100,
		TxIndex: 3,
	}
	pool2 := PoolDefinition{
		PoolID:  alkaneid.ID{Block: 840000, Tx: 11},
		Factory: alkaneid.ID{Block: 840000, Tx: 1},
		Base:    alkaneid.ID{Block: 0, Tx: 0},
		Quote:   alkaneid.ID{Block: 840000, Tx: 3},
		Height:  101,
		TxIndex: 0,
	}
	writePoolDefinition(t, m, pool1)
	writePoolDefinition(t, m, pool2)

	got, exists, err := m.GetPool(pool1.PoolID)
	require.NoError(t, err)
	require.True(t, exists)
	require.Equal(t, pool1, got)

	all, err := m.GetAllPools()
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, pool1, all[0], "pools are listed in discovery (height, tx_index) order")
	require.Equal(t, pool2, all[1])
}

func TestCanonicalQuotes(t *testing.T) {
	quotes := CanonicalQuotes()
	require.Len(t, quotes, 2)
	require.Equal(t, alkaneid.ID{Block: 0, Tx: 0}, quotes[0])
	require.Equal(t, alkaneid.ID{Block: 0, Tx: 1}, quotes[1])

	// Mutating the returned slice must not affect the package-internal one.
	quotes[0] = alkaneid.ID{Block: 9, Tx: 9}
	require.Equal(t, alkaneid.ID{Block: 0, Tx: 0}, CanonicalQuotes()[0])
}

func TestGetPoolActivityEmpty(t *testing.T) {
	m := newTestModule(t)
	page, err := m.GetPoolActivity(alkaneid.ID{Block: 840000, Tx: 10}, 0, 0, 50)
	require.NoError(t, err)
	require.Empty(t, page.Records)
	require.False(t, page.HasMore)
}

func TestGetAddressActivityEmpty(t *testing.T) {
	m := newTestModule(t)
	recs, err := m.GetAddressActivity("bc1qexample", 50)
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestGetLatestTVLNotFound(t *testing.T) {
	m := newTestModule(t)
	_, exists, err := m.GetLatestTVL(alkaneid.ID{Block: 840000, Tx: 10}, alkaneid.ID{Block: 0, Tx: 0})
	require.NoError(t, err)
	require.False(t, exists)
}
