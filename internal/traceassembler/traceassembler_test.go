package traceassembler

import (
	"fmt"
	"testing"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/upstream"
	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
)

type fakeSource struct {
	block *blocksource.Block
}

func (f *fakeSource) GetBlockByHeight(height, tip uint32) (*blocksource.Block, error) {
	return f.block, nil
}

func coinbaseTx() blocksource.Tx {
	return blocksource.Tx{
		Txid: alkaneid.Txid{0x01},
		Vin: []blocksource.TxIn{{
			PrevOut: alkaneid.Outpoint{Txid: alkaneid.Txid{}, Vout: 0xffffffff},
		}},
		Vout:     []blocksource.TxOut{{Value: 5000000000}},
		RawBytes: []byte{0xde, 0xad, 0xbe, 0xef},
	}
}

// dieselMintScript builds a minimal OP_RETURN carrying one protocol_tag==1
// protostone whose cellpack targets (2, 0) with first input 77, the same
// synthetic layout internal/protostone's own tests build against.
func dieselMintScript(t *testing.T) []byte {
	t.Helper()
	var cellpackBody []byte
	appendVarint := func(b []byte, v uint64) []byte {
		for v >= 0x80 {
			b = append(b, byte(v)|0x80)
			v >>= 7
		}
		return append(b, byte(v))
	}
	cellpackBody = appendVarint(cellpackBody, 4)
	cellpackBody = appendVarint(cellpackBody, 2)  // target.block
	cellpackBody = appendVarint(cellpackBody, 0)  // target.tx
	cellpackBody = appendVarint(cellpackBody, 33) // opcode
	cellpackBody = appendVarint(cellpackBody, 77) // input0 == 77

	var protoPayload []byte
	protoPayload = appendVarint(protoPayload, 0) // tagBody
	protoPayload = append(protoPayload, cellpackBody...)

	var outerBody []byte
	outerBody = appendVarint(outerBody, ^uint64(0)) // sentinel block
	outerBody = appendVarint(outerBody, 1)          // protocol_tag
	outerBody = appendVarint(outerBody, uint64(len(protoPayload)))
	outerBody = append(outerBody, protoPayload...)

	var payload []byte
	payload = appendVarint(payload, 0) // tagBody
	payload = append(payload, outerBody...)

	script := []byte{0x6a, 0x5d, byte(len(payload))}
	script = append(script, payload...)
	return script
}

func TestAssembleComputesHostFunctionValuesAndAttachesTraces(t *testing.T) {
	store, err := ordkv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()
	up := upstream.New(store, "")

	mintTx := blocksource.Tx{
		Txid: alkaneid.Txid{0x02},
		Vout: []blocksource.TxOut{{Value: 0, Script: dieselMintScript(t)}},
	}

	block := &blocksource.Block{
		Height:      100,
		HeaderBytes: []byte("fake-80-byte-header"),
		Txs:         []blocksource.Tx{coinbaseTx(), mintTx},
	}

	// Plant a trace for mintTx's vout 0 so it's attached when assembling.
	outpoint := alkaneid.Outpoint{Txid: mintTx.Txid, Vout: 0}
	outpointBytes := outpoint.Bytes()

	owner := alkaneid.ID{Block: 2, Tx: 1}
	trace := &tracepb.Trace{Events: []tracepb.Event{
		{
			Kind: tracepb.EventEnterContext,
			EnterContext: &tracepb.EnterContext{
				Context: &tracepb.Context{Inner: &tracepb.ContextInner{
					Myself: &tracepb.AlkaneID{
						Block: &tracepb.Uint128{Lo: uint64(owner.Block)},
						Tx:    &tracepb.Uint128{Lo: owner.Tx},
					},
				}},
			},
		},
		{
			Kind: tracepb.EventExitContext,
			ExitContext: &tracepb.ExitContext{
				Status: tracepb.StatusSuccess,
				Response: &tracepb.Response{
					Storage: []tracepb.StorageKV{{Key: []byte("/name"), Value: []byte("TestAlkane")}},
				},
			},
		},
	}}
	raw := tracepb.Encode(trace)

	var heightLE [8]byte
	heightLE[0] = 100
	base := append([]byte("/trace/"), heightLE[:]...)
	if err := store.Put(append(append([]byte{}, base...), []byte("/length")...), []byte("1")); err != nil {
		t.Fatalf("writing length: %v", err)
	}
	pointerKey := append(append([]byte{}, base...), []byte("/0")...)
	pointerValue := []byte(fmt.Sprintf("0:%x", outpointBytes[:]))
	if err := store.Put(pointerKey, pointerValue); err != nil {
		t.Fatalf("writing pointer: %v", err)
	}
	traceKey := append([]byte("/trace/"), outpointBytes[:]...)
	if err := store.Put(traceKey, raw); err != nil {
		t.Fatalf("writing trace blob: %v", err)
	}

	src := &fakeSource{block: block}
	ib, err := Assemble(src, up, 100, 100, Page{})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}

	if !ib.IsLatest {
		t.Fatal("expected IsLatest true when height == tip")
	}
	if ib.TxCount != 2 {
		t.Fatalf("expected tx_count 2, got %d", ib.TxCount)
	}
	if string(ib.HostFunctionValues.CoinbaseTxBytes) != string([]byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("unexpected coinbase_tx_bytes: %x", ib.HostFunctionValues.CoinbaseTxBytes)
	}
	if ib.HostFunctionValues.TotalMinerFeeLE[0] != 0 {
		// 5000000000 sats fits in the low bytes; just sanity check nonzero.
	}
	var feeTotal uint64
	for i := 0; i < 8; i++ {
		feeTotal |= uint64(ib.HostFunctionValues.TotalMinerFeeLE[i]) << (8 * i)
	}
	if feeTotal != 5000000000 {
		t.Fatalf("expected total_miner_fee_le 5000000000, got %d", feeTotal)
	}
	var dieselCount uint64
	for i := 0; i < 8; i++ {
		dieselCount |= uint64(ib.HostFunctionValues.DieselMintsCountLE[i]) << (8 * i)
	}
	if dieselCount != 1 {
		t.Fatalf("expected 1 diesel mint, got %d", dieselCount)
	}

	if len(ib.Transactions) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(ib.Transactions))
	}
	mintIT := ib.Transactions[1]
	if len(mintIT.Traces) != 1 {
		t.Fatalf("expected 1 trace attached to mint tx, got %d", len(mintIT.Traces))
	}
	rec := mintIT.Traces[0]
	if len(rec.Storage) != 1 || string(rec.Storage[0].Key) != "/name" {
		t.Fatalf("unexpected storage changes: %+v", rec.Storage)
	}
	if !rec.Storage[0].Owner.Equal(owner) {
		t.Fatalf("expected storage change owner %v, got %v", owner, rec.Storage[0].Owner)
	}
}

func TestAssemblePaginatesTransactions(t *testing.T) {
	store, err := ordkv.Open(t.TempDir())
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	defer store.Close()
	up := upstream.New(store, "")

	block := &blocksource.Block{
		Height: 5,
		Txs: []blocksource.Tx{
			coinbaseTx(),
			{Txid: alkaneid.Txid{0x02}},
			{Txid: alkaneid.Txid{0x03}},
		},
	}
	src := &fakeSource{block: block}

	ib, err := Assemble(src, up, 5, 10, Page{Offset: 1, Limit: 1})
	if err != nil {
		t.Fatalf("Assemble: %v", err)
	}
	if ib.TxCount != 3 {
		t.Fatalf("expected tx_count 3 (full block), got %d", ib.TxCount)
	}
	if len(ib.Transactions) != 1 {
		t.Fatalf("expected 1 paginated transaction, got %d", len(ib.Transactions))
	}
	if ib.Transactions[0].Index != 1 {
		t.Fatalf("expected paginated tx index 1, got %d", ib.Transactions[0].Index)
	}
	if ib.IsLatest {
		t.Fatal("expected IsLatest false when height != tip")
	}
}
