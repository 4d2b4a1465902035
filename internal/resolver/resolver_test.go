package resolver

import (
	"math/big"
	"testing"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

func appendVarintT(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// singleEdictRunestoneScript builds an OP_RETURN script carrying one
// protocol_tag==1 protostone with no cellpack, routing amount sats of
// token (block,tx) entirely to the given spendable output index.
func singleEdictRunestoneScript(block, tx, amount uint64, output uint32) []byte {
	var protoPayload []byte
	protoPayload = appendVarintT(protoPayload, 0) // tagBody
	protoPayload = appendVarintT(protoPayload, 0) // cellpack int count: 0 (no cellpack)
	protoPayload = appendVarintT(protoPayload, block)
	protoPayload = appendVarintT(protoPayload, tx)
	protoPayload = appendVarintT(protoPayload, amount)
	protoPayload = appendVarintT(protoPayload, uint64(output))

	var outerBody []byte
	outerBody = appendVarintT(outerBody, ^uint64(0)) // sentinel
	outerBody = appendVarintT(outerBody, 1)          // protocol_tag
	outerBody = appendVarintT(outerBody, uint64(len(protoPayload)))
	outerBody = append(outerBody, protoPayload...)

	var payload []byte
	payload = appendVarintT(payload, 0) // tagBody
	payload = append(payload, outerBody...)

	script := []byte{0x6a, 0x5d, byte(len(payload))}
	return append(script, payload...)
}

type fakeBalanceStore struct {
	balances map[alkaneid.Outpoint][]upstream.OutpointBalance
}

func (f *fakeBalanceStore) OutpointAlkaneBalances(op alkaneid.Outpoint) ([]upstream.OutpointBalance, error) {
	return f.balances[op], nil
}

func (f *fakeBalanceStore) GetAlkaneBalance(owner, token alkaneid.ID) (*big.Int, error) {
	return big.NewInt(0), nil
}

// TestResolveSimpleEdictSend exercises a simple send: a single spent
// outpoint carries an alkane balance, no trace is attached (NoTrace
// status), and the sole protostone's edict routes the entire VIN pool to
// one spendable output via the index-0 NoTrace merge.
func TestResolveSimpleEdictSend(t *testing.T) {
	token := alkaneid.ID{Block: 1, Tx: 5}
	prevTxid := alkaneid.Txid{0xaa}
	prevOutpoint := alkaneid.Outpoint{Txid: prevTxid, Vout: 0}

	store := &fakeBalanceStore{balances: map[alkaneid.Outpoint][]upstream.OutpointBalance{
		prevOutpoint: {{ID: token, Balance: big.NewInt(300)}},
	}}

	script := singleEdictRunestoneScript(1, 5, 300, 0)
	tx := blocksource.Tx{
		Txid: alkaneid.Txid{0xbb},
		Vin:  []blocksource.TxIn{{PrevOut: prevOutpoint}},
		Vout: []blocksource.TxOut{
			{Value: 546, Script: []byte{0x76, 0xa9, 0x14}}, // vout 0: spendable
			{Value: 0, Script: script},                     // vout 1: OP_RETURN
		},
	}

	ib := &traceassembler.IndexedBlock{
		Height: 100,
		Transactions: []traceassembler.IndexedTransaction{
			{Index: 0, Tx: tx},
		},
	}

	result, err := Resolve(ib, store, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(result.Txs) != 1 {
		t.Fatalf("expected 1 tx result, got %d", len(result.Txs))
	}
	txResult := result.Txs[0]

	allocs, ok := txResult.VoutAllocations[0]
	if !ok || len(allocs) != 1 {
		t.Fatalf("expected 1 allocation on vout 0, got %+v", txResult.VoutAllocations)
	}
	if !allocs[0].Token.Equal(token) || allocs[0].Amount.Cmp(big.NewInt(300)) != 0 {
		t.Fatalf("unexpected allocation: %+v", allocs[0])
	}
	if _, ok := txResult.VoutAllocations[1]; ok {
		t.Fatalf("expected no allocation on the OP_RETURN output")
	}

	var sawDebit, sawCredit bool
	for _, d := range txResult.HolderDeltas {
		if !d.Token.Equal(token) {
			continue
		}
		if d.Delta.IsNegative {
			sawDebit = true
		} else {
			sawCredit = true
		}
	}
	if !sawDebit {
		t.Fatal("expected a holder-vector debit for the spent VIN balance")
	}
	if !sawCredit {
		t.Fatal("expected a holder-vector credit for the routed output")
	}
}

// TestResolveMulticastEvenSplit exercises scenario 2 (multicast): an edict
// with output == n and amount == 0 splits the sheet evenly across every
// spendable output.
func TestResolveMulticastEvenSplit(t *testing.T) {
	token := alkaneid.ID{Block: 2, Tx: 7}
	prevOutpoint := alkaneid.Outpoint{Txid: alkaneid.Txid{0xcc}, Vout: 0}

	store := &fakeBalanceStore{balances: map[alkaneid.Outpoint][]upstream.OutpointBalance{
		prevOutpoint: {{ID: token, Balance: big.NewInt(100)}},
	}}

	// n = 4 outputs: spendable 0,1,2 plus the OP_RETURN at index 3; multicast
	// destination == n == 4.
	script := singleEdictRunestoneScript(2, 7, 0, 4)
	tx := blocksource.Tx{
		Txid: alkaneid.Txid{0xdd},
		Vin:  []blocksource.TxIn{{PrevOut: prevOutpoint}},
		Vout: []blocksource.TxOut{
			{Value: 546, Script: []byte{0x01}},
			{Value: 546, Script: []byte{0x02}},
			{Value: 546, Script: []byte{0x03}},
			{Value: 0, Script: script},
		},
	}

	ib := &traceassembler.IndexedBlock{
		Height:       50,
		Transactions: []traceassembler.IndexedTransaction{{Index: 0, Tx: tx}},
	}

	result, err := Resolve(ib, store, Options{})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	txResult := result.Txs[0]

	total := big.NewInt(0)
	for vout := uint32(0); vout < 3; vout++ {
		allocs, ok := txResult.VoutAllocations[vout]
		if !ok || len(allocs) != 1 {
			t.Fatalf("expected an allocation on vout %d, got %+v", vout, txResult.VoutAllocations)
		}
		total.Add(total, allocs[0].Amount)
	}
	if total.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected multicast shares to sum to 100, got %s", total)
	}
}
