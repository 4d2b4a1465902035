// Package resolver turns one assembled block's transactions, protostones,
// and alkane traces into balance movements: per-vout outpoint-balance
// allocations, per-(holder, token) deltas, and a per-tx outflow summary
// the AMM indexer reconstructs swaps and liquidity events from.
//
// The algorithm runs in two stages per transaction: Stage 1 replays each
// attached trace as a call stack to derive (holder, token) deltas between
// alkane contexts (stage1.go); Stage 2 walks a tx's Protostones, routing
// edicts and leftover balances across spendable/multicast/shadow output
// indices (edicts.go). A strict-mode cross-check (strict.go) queries the
// upstream adapter to validate the result before it is allowed to persist.
//
// Grounded throughout on the EnterContext/ExitContext replay shape
// recovered from original_source/src/alkanes/ (trace.rs/metashrew.rs) and
// on daglabs-btcd/domain/blockdag's block-processing idiom of producing
// one consolidated "UTXO diff" per block before anything is written.
package resolver

import (
	"math/big"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/protostone"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

var log = logs.Logger(logs.Tags.ESNT)

// deltaKey is a (holder alkane, token alkane) pair, the unit Stage 1's
// call-stack replay accumulates deltas over.
type deltaKey struct {
	Holder alkaneid.ID
	Token  alkaneid.ID
}

// HolderTokenDelta is a signed balance change against a holder (address or
// alkane) for one token, the shape both the holder-vector maintainer and
// the AMM outflow reconstruction consume.
type HolderTokenDelta struct {
	Holder alkaneid.Holder
	Token  alkaneid.ID
	Delta  amount.Signed128
}

// VoutAllocation is one (token, amount) credit recorded against a tx
// output, feeding the outpoint-balance table.
type VoutAllocation struct {
	Token  alkaneid.ID
	Amount *big.Int
}

// TxResult is one transaction's resolved output.
type TxResult struct {
	TxIndex         int
	Txid            alkaneid.Txid
	VoutAllocations map[uint32][]VoutAllocation
	HolderDeltas    []HolderTokenDelta
	Outflow         []HolderTokenDelta
}

// BlockResult is the Transfer Resolver's output for an entire block.
type BlockResult struct {
	Height uint32
	Txs    []TxResult
}

// BalanceStore is this indexer's own persisted outpoint-balance table and
// held-balance table, implemented by internal/modules/essentials. The
// resolver queries it for VIN resolution and overlays it with balances
// this same block has already allocated to earlier outpoints; strict
// mode also uses it to read an (owner, token) pair's balance as of the
// end of the prior block, the baseline the cross-check adds this
// block's delta onto before comparing against upstream.
type BalanceStore interface {
	OutpointAlkaneBalances(op alkaneid.Outpoint) ([]upstream.OutpointBalance, error)
	GetAlkaneBalance(owner, token alkaneid.ID) (*big.Int, error)
}

// blockOverlay tracks outpoint balances newly created within the block
// being resolved, so a later transaction in the same block can spend an
// earlier transaction's output before it is persisted to BalanceStore.
type blockOverlay struct {
	created map[alkaneid.Outpoint][]upstream.OutpointBalance
	holders map[alkaneid.Outpoint]alkaneid.Holder
}

func newBlockOverlay() *blockOverlay {
	return &blockOverlay{
		created: make(map[alkaneid.Outpoint][]upstream.OutpointBalance),
		holders: make(map[alkaneid.Outpoint]alkaneid.Holder),
	}
}

// record stores a tx's newly-allocated outpoint balances (for later VIN
// lookups within the same block) plus the holder each such outpoint
// belongs to, derived from that output's own scriptPubKey.
func (o *blockOverlay) record(txid alkaneid.Txid, tx blocksource.Tx, allocations map[uint32][]VoutAllocation) {
	for vout, allocs := range allocations {
		op := alkaneid.Outpoint{Txid: txid, Vout: vout}
		balances := make([]upstream.OutpointBalance, 0, len(allocs))
		for _, a := range allocs {
			balances = append(balances, upstream.OutpointBalance{ID: a.Token, Balance: new(big.Int).Set(a.Amount)})
		}
		o.created[op] = balances
		if int(vout) < len(tx.Vout) {
			o.holders[op] = scriptHolder(tx.Vout[vout].Script)
		}
	}
}

func lookupOutpointBalances(store BalanceStore, overlay *blockOverlay, op alkaneid.Outpoint) ([]upstream.OutpointBalance, error) {
	if overlay != nil {
		if bal, ok := overlay.created[op]; ok {
			return bal, nil
		}
	}
	if store == nil {
		return nil, nil
	}
	return store.OutpointAlkaneBalances(op)
}

// Options configures a Resolve run.
type Options struct {
	StrictMode bool
	// Upstream, when StrictMode is set, backs the agreement cross-check.
	Upstream *upstream.Adapter
}

// Resolve runs Stage 1 and Stage 2 over every transaction in ib, in tx
// order, maintaining the in-block ephemeral outpoint-balance overlay so
// later transactions can spend earlier ones' outputs.
func Resolve(ib *traceassembler.IndexedBlock, store BalanceStore, opts Options) (*BlockResult, error) {
	result := &BlockResult{Height: ib.Height}
	overlay := newBlockOverlay()

	for _, it := range ib.Transactions {
		txResult, err := resolveTx(it, store, overlay, ib.HostFunctionValues)
		if err != nil {
			return nil, err
		}
		overlay.record(it.Tx.Txid, it.Tx, txResult.VoutAllocations)
		result.Txs = append(result.Txs, txResult)
	}

	if opts.StrictMode && opts.Upstream != nil {
		if err := crossCheck(result, ib, store, opts.Upstream); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func resolveTx(it traceassembler.IndexedTransaction, store BalanceStore, overlay *blockOverlay, hv traceassembler.HostFunctionValues) (TxResult, error) {
	res := TxResult{TxIndex: it.Index, Txid: it.Tx.Txid, VoutAllocations: make(map[uint32][]VoutAllocation)}

	stage1Deltas, rootTraces := runStage1(it, hv)
	applyStage1HolderDeltas(&res, stage1Deltas)

	// Spending an outpoint always destroys whatever alkane balance it
	// carried, whether or not this tx turns out to be a protostone tx at
	// all; only an explicit edict (or the index-0 NoTrace merge) ever
	// carries it forward to a new holder.
	vinBalances, vinDebits, err := collectVinBalances(it.Tx, store, overlay)
	if err != nil {
		return res, err
	}
	res.HolderDeltas = append(res.HolderDeltas, vinDebits...)
	res.Outflow = append(res.Outflow, vinDebits...)

	rs, opReturnVout, ok := decodeTxRunestone(it.Tx)
	if !ok || !hasProtocolTagOne(rs) {
		return res, nil
	}

	if err := runStage2(&res, it, rs, opReturnVout, rootTraces, vinBalances); err != nil {
		return res, err
	}
	return res, nil
}

// decodeTxRunestone finds the tx's OP_RETURN output (if any) and decodes
// its Runestone. Non-Runestone OP_RETURN outputs, or a tx with no
// OP_RETURN output at all, both yield ok=false.
func decodeTxRunestone(tx blocksource.Tx) (*protostone.Runestone, uint32, bool) {
	for i, out := range tx.Vout {
		if len(out.Script) == 0 || out.Script[0] != 0x6a {
			continue
		}
		rs, err := protostone.Decode(out.Script)
		if err != nil {
			log.Debugf("resolver: decoding runestone for %s vout %d: %v", tx.Txid, i, err)
			return nil, 0, false
		}
		if rs == nil {
			return nil, 0, false
		}
		return rs, uint32(i), true
	}
	return nil, 0, false
}

func hasProtocolTagOne(rs *protostone.Runestone) bool {
	for _, p := range rs.Protostones {
		if p.ProtocolTag == 1 {
			return true
		}
	}
	return false
}

// applyStage1HolderDeltas records Stage 1's (owner_alkane, token) deltas
// as holder-vector deltas, excluding self-token deltas (owner == token)
// from the holder-vector/held-balance view — those still count toward
// outflow/total-minted accounting but never toward a token's own
// holder vector.
func applyStage1HolderDeltas(res *TxResult, deltas map[deltaKey]amount.Signed128) {
	for k, v := range deltas {
		if v.IsZero() {
			continue
		}
		htd := HolderTokenDelta{Holder: alkaneid.NewAlkaneHolder(k.Holder), Token: k.Token, Delta: v}
		res.Outflow = append(res.Outflow, htd)
		if k.Holder.Equal(k.Token) {
			continue
		}
		res.HolderDeltas = append(res.HolderDeltas, htd)
	}
}
