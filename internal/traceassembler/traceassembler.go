// Package traceassembler builds the enriched IndexedBlock
// that the resolver (internal/resolver) consumes: a block's transactions
// paired with the upstream adapter's trace blobs, indexed by txid/vout,
// plus the four "host function values" the resolver's diesel-mint and
// miner-fee accounting needs. Grounded on daglabs-btcd's
// domain/blockdag.BlockDAG block-acceptance pipeline, which likewise
// fetches a block, validates/decorates it, and hands the enriched form to
// downstream consumers rather than letting every consumer re-derive it.
package traceassembler

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/protostone"
	"github.com/subfrost/alkanes-index/internal/upstream"
	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
)

var log = logs.Logger(logs.Tags.ESNT)

// diesel mint gate: a Protostone with protocol_tag 1 whose
// cellpack targets alkane (2, 0) with first input 77.
var dieselTarget = alkaneid.ID{Block: 2, Tx: 0}

const dieselFirstInput = 77

// StorageChange is one storage write recorded inside a trace, attributed
// to the frame (alkane id) that was executing when the write happened.
type StorageChange struct {
	Owner alkaneid.ID
	Key   []byte
	Value []byte
}

// TraceRecord pairs one upstream trace with its computed storage-change
// list.
type TraceRecord struct {
	Outpoint alkaneid.Outpoint
	Events   *tracepb.Trace
	Storage  []StorageChange
}

// IndexedTransaction is one transaction decorated with every trace the
// upstream recorded against any of its vouts.
type IndexedTransaction struct {
	Index  int
	Tx     blocksource.Tx
	Traces []TraceRecord
}

// HostFunctionValues are the four upstream-visible values every alkane
// invocation can read as host function results.
type HostFunctionValues struct {
	HeaderBytes        []byte
	CoinbaseTxBytes    []byte
	DieselMintsCountLE [16]byte
	TotalMinerFeeLE    [16]byte
}

// IndexedBlock is the Trace Assembler's output.
type IndexedBlock struct {
	Height             uint32
	IsLatest           bool
	Hash               [32]byte
	Header             []byte
	TxCount            int
	HostFunctionValues HostFunctionValues
	Transactions       []IndexedTransaction
}

// Page bounds an optional transaction-index window, used by RPC callers
// that paginate a block's transactions. A zero-value Page means "no pagination" (every tx).
type Page struct {
	Offset int
	Limit  int
}

// Assemble fetches the block at height from src, combines it with the
// upstream adapter's traces, and computes the host function values.
// page, if non-zero, restricts which transactions are decorated with
// traces and returned in IndexedBlock.Transactions (IndexedBlock.TxCount
// still reflects the full block).
func Assemble(src blocksource.Source, up *upstream.Adapter, height uint32, tip uint32, page Page) (*IndexedBlock, error) {
	block, err := src.GetBlockByHeight(height, tip)
	if err != nil {
		return nil, errors.Wrapf(err, "traceassembler: fetching block %d", height)
	}

	ib := &IndexedBlock{
		Height:   height,
		IsLatest: height == tip,
		Hash:     block.Hash,
		Header:   block.HeaderBytes,
		TxCount:  len(block.Txs),
	}
	ib.HostFunctionValues = computeHostFunctionValues(block)

	traces, err := up.TracesForBlock(uint64(height))
	if err != nil {
		return nil, errors.Wrapf(err, "traceassembler: fetching traces for block %d", height)
	}
	tracesByTxid := make(map[alkaneid.Txid][]upstream.Trace, len(traces))
	for _, tr := range traces {
		txid := tr.Outpoint.Txid
		tracesByTxid[txid] = append(tracesByTxid[txid], tr)
	}

	start, end := page.bounds(len(block.Txs))
	ib.Transactions = make([]IndexedTransaction, 0, end-start)
	for i := start; i < end; i++ {
		tx := block.Txs[i]
		it := IndexedTransaction{Index: i, Tx: tx}
		for _, tr := range tracesByTxid[tx.Txid] {
			it.Traces = append(it.Traces, TraceRecord{
				Outpoint: tr.Outpoint,
				Events:   tr.Events,
				Storage:  computeStorageChanges(tr.Events),
			})
		}
		ib.Transactions = append(ib.Transactions, it)
	}
	return ib, nil
}

func (p Page) bounds(n int) (start, end int) {
	if p.Limit <= 0 {
		return 0, n
	}
	start = p.Offset
	if start < 0 {
		start = 0
	}
	if start > n {
		start = n
	}
	end = start + p.Limit
	if end > n {
		end = n
	}
	return start, end
}

// computeHostFunctionValues derives header_bytes, coinbase_tx_bytes,
// diesel_mints_count_le and total_miner_fee_le.
func computeHostFunctionValues(block *blocksource.Block) HostFunctionValues {
	hv := HostFunctionValues{HeaderBytes: block.HeaderBytes}

	var feeSats uint64
	if len(block.Txs) > 0 && block.Txs[0].IsCoinbase() {
		coinbase := block.Txs[0]
		hv.CoinbaseTxBytes = coinbase.RawBytes
		for _, out := range coinbase.Vout {
			if out.Value > 0 {
				feeSats += uint64(out.Value)
			}
		}
	}
	binary.LittleEndian.PutUint64(hv.TotalMinerFeeLE[0:8], feeSats)

	var dieselMints uint64
	for _, tx := range block.Txs {
		isMint, err := isDieselMint(tx)
		if err != nil {
			log.Debugf("traceassembler: skipping diesel-mint check for %s: %v", tx.Txid, err)
			continue
		}
		if isMint {
			dieselMints++
		}
	}
	binary.LittleEndian.PutUint64(hv.DieselMintsCountLE[0:8], dieselMints)

	return hv
}

// isDieselMint reports whether tx's first protocol_tag==1 Protostone
// decodes a cellpack targeting (2, 0) with first input 77.
func isDieselMint(tx blocksource.Tx) (bool, error) {
	for _, out := range tx.Vout {
		rs, err := protostone.Decode(out.Script)
		if err != nil {
			return false, err
		}
		if rs == nil {
			continue
		}
		for _, stone := range rs.Protostones {
			if stone.ProtocolTag != 1 {
				continue
			}
			if stone.Cellpack == nil {
				return false, nil
			}
			matches := stone.Cellpack.Target.Equal(dieselTarget) &&
				len(stone.Cellpack.Inputs) > 0 &&
				stone.Cellpack.Inputs[0] == dieselFirstInput
			return matches, nil
		}
	}
	return false, nil
}

// computeStorageChanges walks a trace's EnterContext/ExitContext pairs as
// a call stack (the same frame shape the resolver's Stage 1 replays, but
// without trace cleaning or delta accounting — this only needs to know
// which alkane owned the frame that issued each storage write), attaching
// every Response.Storage write recorded on a Return to the frame that
// produced it. Used downstream by the creation/metadata indexer watching for writes to /name, /symbol, /cap,
// /value-per-mint.
func computeStorageChanges(t *tracepb.Trace) []StorageChange {
	if t == nil {
		return nil
	}
	var stack []alkaneid.ID
	var changes []StorageChange
	for _, ev := range t.Events {
		switch ev.Kind {
		case tracepb.EventEnterContext:
			var owner alkaneid.ID
			if ev.EnterContext != nil && ev.EnterContext.Context != nil && ev.EnterContext.Context.Inner != nil {
				owner = ev.EnterContext.Context.Inner.Myself.ToDomain()
			}
			stack = append(stack, owner)
		case tracepb.EventExitContext:
			if len(stack) == 0 {
				continue
			}
			owner := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if ev.ExitContext == nil || ev.ExitContext.Response == nil {
				continue
			}
			for _, kv := range ev.ExitContext.Response.Storage {
				changes = append(changes, StorageChange{Owner: owner, Key: kv.Key, Value: kv.Value})
			}
		}
	}
	return changes
}
