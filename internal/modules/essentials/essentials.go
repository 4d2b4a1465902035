// Package essentials is the Essentials module:
// the dependency every other module reads from. It owns per-outpoint
// balance rows, the address→outpoint index, per-alkane holder vectors,
// alkane-held balances, creation/metadata records, and paged
// balance-change tx lists, all under its own "essentials:" MDB namespace.
//
// Grounded on kaspad's dbaccess package (dbaccess/fee_data.go): one file
// per logical table, thin get/put helpers layered over a shared
// DatabaseContext — here, over a shared *mdb.HeightIndexed.
package essentials

import (
	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/aof"
	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
	"github.com/subfrost/alkanes-index/internal/wasminspect"
)

var log = logs.Logger(logs.Tags.ESNT)

// Namespace is this module's exclusive MDB byte prefix.
const Namespace = "essentials:"

// Module ties together the per-table helpers into the single unit the
// scheduler (internal/registry) registers and calls per block.
type Module struct {
	db  *mdb.HeightIndexed
	up  *upstream.Adapter
	aof *aof.Manager

	inspector *wasminspect.Inspector

	// genesisHeight gates the genesis bootstrap and whatever
	// index_block callers use to decide "has essentials ever run".
	genesisHeight uint32
	bootstrapped  bool

	// lastBlockTimestamp is the current block's header timestamp, set at
	// the top of IndexBlock and read by detectCreations for the creation
	// record's (timestamp, height, tx_index, alkane) ordered key.
	lastBlockTimestamp uint32
}

// New builds the Essentials module over store, scoped under Namespace, with
// aofMgr wired to capture every batch's first-write pre-images.
func New(store *ordkv.Store, up *upstream.Adapter, aofMgr *aof.Manager, genesisHeight uint32) *Module {
	base := mdb.New(store, Namespace)
	return &Module{
		db:            mdb.NewHeightIndexed(base),
		up:            up,
		aof:           aofMgr,
		inspector:     wasminspect.New(),
		genesisHeight: genesisHeight,
	}
}

// Name satisfies internal/registry's Module interface.
func (m *Module) Name() string { return "essentials" }

// GenesisHeight satisfies internal/registry's Module interface.
func (m *Module) GenesisHeight() uint32 { return m.genesisHeight }

// newBatch opens a height-tracked batch wired to record AOF pre-images,
// the single write path used by IndexBlock.
func (m *Module) newBatch(height uint32) *mdb.HeightBatch {
	hb := m.db.NewHeightBatch(height)
	if m.aof != nil {
		hb.OnFirstWrite(func(fullKey, priorValue []byte, existed bool) {
			if err := m.aof.RecordPreimage(fullKey, priorValue, existed); err != nil {
				log.Errorf("essentials: recording AOF preimage: %v", err)
			}
		})
	}
	return hb
}

// IndexBlock is the Essentials module's index_block entry point: given the already-assembled block and the resolver's output for it,
// derive and batch-write every table this module owns. Essentials must run
// before any other module observes height ib.Height.
func (m *Module) IndexBlock(ib *traceassembler.IndexedBlock, res *resolver.BlockResult) error {
	b := m.newBatch(ib.Height)
	m.lastBlockTimestamp = blockTimestamp(ib.Header)

	holderDeltas := make(map[tokenKey][]holderDelta)
	selfOutflow := make(map[selfOutflowKey]*selfOutflowAccum)
	heldDeltas := make(map[heldKey]amount.Signed128)
	balanceTxAdds := make(map[tokenKey][]alkaneid.Txid)

	for i, it := range ib.Transactions {
		txResult := res.Txs[i]
		relevant := len(it.Traces) > 0 || len(it.Tx.Vin) > 0 && hasAnyAllocationOrDelta(txResult)

		if err := m.writeOutpointBalances(b, ib.Height, it, txResult); err != nil {
			return errors.Wrapf(err, "essentials: outpoint balances for tx %s", it.Tx.Txid)
		}
		if err := m.markSpentOutpoints(b, ib.Height, it); err != nil {
			return errors.Wrapf(err, "essentials: marking spent outpoints for tx %s", it.Tx.Txid)
		}
		if err := m.mirrorStorageWrites(b, ib.Height, it); err != nil {
			return errors.Wrapf(err, "essentials: mirroring storage writes for tx %s", it.Tx.Txid)
		}
		for _, tok := range collectBalanceTxTokens(txResult) {
			k := tokenKey{tok}
			balanceTxAdds[k] = append(balanceTxAdds[k], it.Tx.Txid)
		}
		if relevant {
			if err := m.writeTxSummary(b, ib.Height, i, it, txResult); err != nil {
				return err
			}
		}

		for _, d := range txResult.HolderDeltas {
			k := tokenKey{d.Token}
			holderDeltas[k] = append(holderDeltas[k], holderDelta{Holder: d.Holder, Delta: d.Delta})
		}
		for _, d := range txResult.Outflow {
			if isSelfTokenHolder(d.Holder, d.Token) {
				k := selfOutflowKey{d.Token}
				accForSelfOutflow(selfOutflow, k).apply(d.Delta)
			}
			if d.Holder.Kind == alkaneid.HolderAlkane {
				hk := heldKey{Owner: d.Holder.Alkane, Token: d.Token}
				heldDeltas[hk] = heldDeltas[hk].Add(d.Delta)
			}
		}

		if err := m.detectCreations(b, ib.Height, i, it); err != nil {
			return errors.Wrapf(err, "essentials: creation detection for tx %s", it.Tx.Txid)
		}
	}

	for tok, deltas := range holderDeltas {
		if err := m.applyHolderDeltas(b, ib.Height, tok.Token, deltas); err != nil {
			return errors.Wrapf(err, "essentials: holder vector for %s", tok.Token)
		}
	}
	for tok, acc := range selfOutflow {
		if err := m.applyTotalMinted(b, tok.Token, acc); err != nil {
			return err
		}
	}
	for tok, txids := range balanceTxAdds {
		if err := m.appendBalanceTxs(b, tok.Token, txids); err != nil {
			return errors.Wrapf(err, "essentials: balance txs for %s", tok.Token)
		}
	}
	if err := m.writeHeldBalances(b, heldDeltas); err != nil {
		return errors.Wrap(err, "essentials: alkane-held balances")
	}

	if err := m.writeBlockSummary(b, ib); err != nil {
		return err
	}

	if !m.bootstrapped && ib.Height == m.genesisHeight {
		if err := m.bootstrapGenesis(b, ib.Height); err != nil {
			return errors.Wrap(err, "essentials: genesis bootstrap")
		}
		m.bootstrapped = true
	}

	if err := m.db.Write(b.Batch); err != nil {
		return errors.Wrap(err, "essentials: writing block batch")
	}
	return nil
}

func hasAnyAllocationOrDelta(tr resolver.TxResult) bool {
	return len(tr.VoutAllocations) > 0 || len(tr.HolderDeltas) > 0 || len(tr.Outflow) > 0
}

// tokenKey/selfOutflowKey group per-token accumulation across a block's
// transactions before the single per-token holder-vector/total-minted
// write.
type tokenKey struct{ Token alkaneid.ID }
type selfOutflowKey struct{ Token alkaneid.ID }

type holderDelta struct {
	Holder alkaneid.Holder
	Delta  amount.Signed128
}

// selfOutflowAccum tracks the cumulative positive drift of a token's
// self-outflow deltas within one block, the block-local contribution to
// total_minted.
type selfOutflowAccum struct {
	PositiveDrift amount.Signed128
}

func (a *selfOutflowAccum) apply(d amount.Signed128) {
	if d.IsNegative || d.IsZero() {
		return
	}
	a.PositiveDrift = a.PositiveDrift.Add(d)
}

func accForSelfOutflow(m map[selfOutflowKey]*selfOutflowAccum, k selfOutflowKey) *selfOutflowAccum {
	if a, ok := m[k]; ok {
		return a
	}
	a := &selfOutflowAccum{PositiveDrift: amount.Zero()}
	m[k] = a
	return a
}

// isSelfTokenHolder reports whether h is the alkane holder matching token
// itself, the case resolver.go's applyStage1HolderDeltas excludes from
// HolderDeltas but keeps in Outflow for total-minted accounting.
func isSelfTokenHolder(h alkaneid.Holder, token alkaneid.ID) bool {
	return h.Kind == alkaneid.HolderAlkane && h.Alkane.Equal(token)
}
