package mempool

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

func openTestStore(t *testing.T) *ordkv.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "mempool-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := ordkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	store := openTestStore(t)
	s, err := New(Options{Store: store})
	require.NoError(t, err)
	return s
}

func testTxid(b byte) [32]byte {
	var txid [32]byte
	txid[0] = b
	return txid
}

func TestGetTxNotTracked(t *testing.T) {
	s := newTestService(t)
	rec, err := s.GetTx(alkaneid.Txid(testTxid(1)))
	require.NoError(t, err)
	require.Nil(t, rec)
}

func TestPersistAndGetTx(t *testing.T) {
	s := newTestService(t)
	txid := testTxid(1)
	rec := MempoolTx{
		Txid:      txid,
		RawTx:     []byte{0xde, 0xad, 0xbe, 0xef},
		FirstSeen: 1700000000,
		Addresses: []string{"bc1qaddr1", "bc1qaddr2"},
	}
	require.NoError(t, s.persistTx(rec))

	got, err := s.GetTx(alkaneid.Txid(txid))
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, rec.RawTx, got.RawTx)
	require.Equal(t, rec.FirstSeen, got.FirstSeen)
	require.Equal(t, rec.Addresses, got.Addresses)
}

func TestPurgeTxidRemovesAllIndexEntries(t *testing.T) {
	s := newTestService(t)
	txid := testTxid(2)
	rec := MempoolTx{
		Txid:      txid,
		RawTx:     []byte{0x01},
		FirstSeen: 1700000001,
		Addresses: []string{"bc1qaddr3"},
	}
	require.NoError(t, s.persistTx(rec))

	recent, err := s.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 1)

	s.PurgeConfirmedTxids([][32]byte{txid})

	got, err := s.GetTx(alkaneid.Txid(txid))
	require.NoError(t, err)
	require.Nil(t, got)

	recent, err = s.ListRecent(10)
	require.NoError(t, err)
	require.Empty(t, recent)

	byAddr, err := s.ListByAddress("bc1qaddr3", 10)
	require.NoError(t, err)
	require.Empty(t, byAddr)
}

func TestListByAddressAndListRecentOrdering(t *testing.T) {
	s := newTestService(t)
	older := MempoolTx{Txid: testTxid(10), RawTx: []byte{1}, FirstSeen: 100, Addresses: []string{"addrX"}}
	newer := MempoolTx{Txid: testTxid(11), RawTx: []byte{2}, FirstSeen: 200, Addresses: []string{"addrX"}}
	require.NoError(t, s.persistTx(older))
	require.NoError(t, s.persistTx(newer))

	recent, err := s.ListRecent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	require.Equal(t, newer.Txid, recent[0].Txid, "newest first")
	require.Equal(t, older.Txid, recent[1].Txid)

	byAddr, err := s.ListByAddress("addrX", 10)
	require.NoError(t, err)
	require.Len(t, byAddr, 2)
	require.Equal(t, newer.Txid, byAddr[0].Txid)
}

func TestResetDropsEverything(t *testing.T) {
	s := newTestService(t)
	require.NoError(t, s.persistTx(MempoolTx{Txid: testTxid(20), RawTx: []byte{1}, FirstSeen: 1}))
	require.NoError(t, s.Reset())

	recent, err := s.ListRecent(10)
	require.NoError(t, err)
	require.Empty(t, recent)
}
