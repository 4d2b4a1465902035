package resolver

import (
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

// emptyUpstream returns a real *upstream.Adapter over a freshly opened,
// unseeded store: every read it serves reports "none", matching what
// GetReservesForAlkane returns for a height with no recorded entry.
func emptyUpstream(t *testing.T) *upstream.Adapter {
	t.Helper()
	dir, err := os.MkdirTemp("", "strict-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := ordkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return upstream.New(store, "")
}

type fixedBalanceStore struct {
	balances map[alkaneid.Outpoint][]upstream.OutpointBalance
	held     map[[2]alkaneid.ID]*big.Int
}

func (f *fixedBalanceStore) OutpointAlkaneBalances(op alkaneid.Outpoint) ([]upstream.OutpointBalance, error) {
	return f.balances[op], nil
}

func (f *fixedBalanceStore) GetAlkaneBalance(owner, token alkaneid.ID) (*big.Int, error) {
	if v, ok := f.held[[2]alkaneid.ID{owner, token}]; ok {
		return v, nil
	}
	return big.NewInt(0), nil
}

func TestCrossCheckEmptyBlockNoPanic(t *testing.T) {
	result := &BlockResult{Height: 100}
	ib := &traceassembler.IndexedBlock{Height: 100}
	store := &fixedBalanceStore{}
	up := emptyUpstream(t)

	err := crossCheck(result, ib, store, up)
	require.NoError(t, err)
}

func TestCrossCheckOutpointMismatchPanics(t *testing.T) {
	token := alkaneid.ID{Block: 840000, Tx: 1}
	txid := alkaneid.Txid{0xaa}

	result := &BlockResult{
		Height: 100,
		Txs: []TxResult{
			{
				Txid: txid,
				VoutAllocations: map[uint32][]VoutAllocation{
					0: {{Token: token, Amount: big.NewInt(300)}},
				},
			},
		},
	}
	ib := &traceassembler.IndexedBlock{Height: 100}
	store := &fixedBalanceStore{}
	up := emptyUpstream(t) // upstream reports no balance for this outpoint at all

	require.PanicsWithValue(t,
		"strict mode: block 100 diverged from upstream: outpoint "+txid.String()+":0 token "+token.String()+" local=300 upstream=0",
		func() { _ = crossCheck(result, ib, store, up) },
	)
}

func TestCrossCheckReserveMismatchPanicsAndEnumeratesOwnerTokenLocalMetashrew(t *testing.T) {
	owner := alkaneid.ID{Block: 2, Tx: 0}
	token := alkaneid.ID{Block: 840000, Tx: 1}
	txid := alkaneid.Txid{0xbb}

	result := &BlockResult{
		Height: 101,
		Txs: []TxResult{
			{
				Txid: txid,
				HolderDeltas: []HolderTokenDelta{
					{Holder: alkaneid.NewAlkaneHolder(owner), Token: token, Delta: amount.FromUint64(50)},
				},
			},
		},
	}
	ib := &traceassembler.IndexedBlock{Height: 101}
	// essentials reports no prior balance; this block's delta alone makes
	// local=50 while the (empty) upstream adapter reports none (== 0).
	store := &fixedBalanceStore{}
	up := emptyUpstream(t)

	require.PanicsWithValue(t,
		"strict mode: block 101 diverged from upstream: (owner="+owner.String()+", token="+token.String()+", local=50, metashrew=0) txs="+txid.String(),
		func() { _ = crossCheck(result, ib, store, up) },
	)
}

func TestCrossCheckAddressHolderDeltaSkipsReserveCheck(t *testing.T) {
	token := alkaneid.ID{Block: 840000, Tx: 1}

	// The only HolderDelta belongs to an address holder; the reserve check
	// covers alkane holders only, so it has nothing to compare and must not
	// manufacture a mismatch.
	result := &BlockResult{
		Height: 102,
		Txs: []TxResult{
			{
				Txid: alkaneid.Txid{0xcc},
				HolderDeltas: []HolderTokenDelta{
					{Holder: alkaneid.NewAddressHolder("bc1qaddr"), Token: token, Delta: amount.FromUint64(50)},
				},
			},
		},
	}
	ib := &traceassembler.IndexedBlock{Height: 102}
	store := &fixedBalanceStore{}
	up := emptyUpstream(t)

	require.NotPanics(t, func() {
		err := crossCheck(result, ib, store, up)
		require.NoError(t, err)
	})
}
