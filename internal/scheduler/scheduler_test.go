package scheduler

import (
	"encoding/binary"
	"math/big"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/modules/essentials"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/registry"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

func appendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// singleEdictRunestoneScript builds an OP_RETURN script carrying one
// protocol_tag==1 protostone with no cellpack, routing amount sats of
// token (block,tx) entirely to the given spendable output index. Mirrors
// internal/resolver/resolver_test.go's helper of the same shape.
func singleEdictRunestoneScript(block, tx, amount uint64, output uint32) []byte {
	var protoPayload []byte
	protoPayload = appendVarint(protoPayload, 0) // tagBody
	protoPayload = appendVarint(protoPayload, 0) // no cellpack
	protoPayload = appendVarint(protoPayload, block)
	protoPayload = appendVarint(protoPayload, tx)
	protoPayload = appendVarint(protoPayload, amount)
	protoPayload = appendVarint(protoPayload, uint64(output))

	var outerBody []byte
	outerBody = appendVarint(outerBody, ^uint64(0)) // sentinel
	outerBody = appendVarint(outerBody, 1)          // protocol_tag
	outerBody = appendVarint(outerBody, uint64(len(protoPayload)))
	outerBody = append(outerBody, protoPayload...)

	var payload []byte
	payload = appendVarint(payload, 0) // tagBody
	payload = append(payload, outerBody...)

	script := []byte{0x6a, 0x5d, byte(len(payload))}
	return append(script, payload...)
}

type fakeSource struct {
	block *blocksource.Block
}

func (f *fakeSource) GetBlockByHeight(height uint32, tip uint32) (*blocksource.Block, error) {
	return f.block, nil
}

func openTestUpstream(t *testing.T, tip uint32) *upstream.Adapter {
	t.Helper()
	dir, err := os.MkdirTemp("", "scheduler-upstream-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := ordkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	var tipLE [4]byte
	binary.LittleEndian.PutUint32(tipLE[:], tip)
	require.NoError(t, store.Put([]byte("__INTERNAL/height"), tipLE[:]))

	return upstream.New(store, "")
}

// TestTickStrictModeDivergencePanics drives a real Scheduler.tick() through
// a one-block, one-tx "simple send" (a VIN carrying 300 of an alkane,
// routed whole to output 0 via a single edict) while the upstream adapter
// has nothing recorded for that outpoint at all. Strict mode's
// cross-check must treat "upstream reports none" as a divergence from the
// resolver's own 300 and abort the block via an unrecovered panic, not a
// logged-and-retried error.
func TestTickStrictModeDivergencePanics(t *testing.T) {
	dir, err := os.MkdirTemp("", "scheduler-essentials-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := ordkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ess := essentials.New(store, nil, nil, 0)

	token := alkaneid.ID{Block: 840000, Tx: 1}
	prevTxid := alkaneid.Txid{0xaa}
	prevOutpoint := alkaneid.Outpoint{Txid: prevTxid, Vout: 0}

	// Seed a prior block's worth of essentials state: the outpoint this
	// block's only input spends already carries 300 of token.
	seedTx := blocksource.Tx{
		Txid: prevTxid,
		Vout: []blocksource.TxOut{{Value: 546, Script: []byte{0x76, 0xa9, 0x14}}},
	}
	seedIB := &traceassembler.IndexedBlock{
		Height:       99,
		Transactions: []traceassembler.IndexedTransaction{{Index: 0, Tx: seedTx}},
	}
	seedResult := &resolver.BlockResult{
		Height: 99,
		Txs: []resolver.TxResult{{
			Txid:            prevTxid,
			VoutAllocations: map[uint32][]resolver.VoutAllocation{0: {{Token: token, Amount: big.NewInt(300)}}},
		}},
	}
	require.NoError(t, ess.IndexBlock(seedIB, seedResult))

	script := singleEdictRunestoneScript(840000, 1, 300, 0)
	tx := blocksource.Tx{
		Txid: alkaneid.Txid{0xbb},
		Vin:  []blocksource.TxIn{{PrevOut: prevOutpoint}},
		Vout: []blocksource.TxOut{
			{Value: 546, Script: []byte{0x76, 0xa9, 0x14}}, // spendable
			{Value: 0, Script: script},                     // OP_RETURN
		},
	}
	block := &blocksource.Block{
		Height: 100,
		Txs:    []blocksource.Tx{tx},
	}

	reg := registry.New()
	reg.Register(ess)

	up := openTestUpstream(t, 100)

	s := New(Options{
		Registry:      reg,
		Upstream:      up,
		BlockSrc:      &fakeSource{block: block},
		StrictMode:    true,
		GenesisHeight: 100,
	})

	require.Panics(t, func() {
		_ = s.tick()
	})
}
