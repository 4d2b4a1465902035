// Package ammdata is the AMM Indexer: it discovers AMM
// factories and the pools they create, classifies each block's resolved
// balance deltas against those pools into trade/mint/burn/pool_create
// activity, rolls activity up into OHLCV candles across seven timeframes,
// and derives per-pool USD pricing and TVL against a small set of
// canonical quote alkanes.
//
// Grounded on internal/modules/essentials' package layout (one file per
// table/concern over a shared *mdb.HeightIndexed) and on
// daglabs-btcd/kaspad.go's wrapper-struct idiom for the Module itself.
package ammdata

import (
	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/modules/essentials"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
	"github.com/subfrost/alkanes-index/internal/wasminspect"
)

var log = logs.Logger(logs.Tags.AMMD)

// Namespace is this module's exclusive MDB byte prefix.
const Namespace = "ammdata:"

// PriceMergeStrategy selects how derivePriceToCanonical folds multiple
// candidate paths into one price.
type PriceMergeStrategy int

const (
	MergeOptimistic PriceMergeStrategy = iota
	MergePessimistic
	MergeNeutral
	MergeNeutralVWAP
)

// canonicalQuotes are the alkane ids every derived USD/BTC price path
// terminates at. Neither the example pack nor original_source/ names a
// real stablecoin or wrapped-BTC alkane id, so these are invented
// sentinels local to this indexer (documented in DESIGN.md as an Open
// Question resolution): {0,0} stands in for the native BTC unit of
// account, {0,1} for a synthetic USD quote.
var canonicalQuotes = []alkaneid.ID{
	{Block: 0, Tx: 0},
	{Block: 0, Tx: 1},
}

// defaultMergeStrategy is used wherever a caller does not specify one.
const defaultMergeStrategy = MergeNeutralVWAP

// Module is the AMM Indexer's registry.Module implementation.
type Module struct {
	db        *mdb.HeightIndexed
	up        *upstream.Adapter
	ess       *essentials.Module
	inspector *wasminspect.Inspector

	genesisHeight uint32

	// lastBlockTimestamp is the current block's header timestamp, read by
	// candles.go for bucket/open-reset computation.
	lastBlockTimestamp uint32
}

// New builds the AMM Indexer over store, scoped under Namespace. ess is
// the already-registered Essentials module this indexer reads creation
// records, mirrored storage, and held balances from.
func New(store *ordkv.Store, up *upstream.Adapter, ess *essentials.Module, genesisHeight uint32) *Module {
	base := mdb.New(store, Namespace)
	return &Module{
		db:            mdb.NewHeightIndexed(base),
		up:            up,
		ess:           ess,
		inspector:     wasminspect.New(),
		genesisHeight: genesisHeight,
	}
}

// Name satisfies internal/registry's Module interface.
func (m *Module) Name() string { return "ammdata" }

// GenesisHeight satisfies internal/registry's Module interface.
func (m *Module) GenesisHeight() uint32 { return m.genesisHeight }

// newBatch opens a height-tracked batch, mirroring essentials.Module's
// own newBatch (no AOF wiring here: the AMM indexer is a derived view
// that can always be rebuilt from Essentials plus upstream state, so it
// is intentionally left out of the reorg rollback set — see DESIGN.md).
func (m *Module) newBatch(height uint32) *mdb.HeightBatch {
	return m.db.NewHeightBatch(height)
}

// IndexBlock is the AMM Indexer's per-block entry point:
// discover any new factories/pools this block created, classify every
// resolved balance delta into activity against known pools, roll
// activity into candles, and refresh each touched pool's derived price
// and TVL.
func (m *Module) IndexBlock(ib *traceassembler.IndexedBlock, res *resolver.BlockResult) error {
	b := m.newBatch(ib.Height)
	m.lastBlockTimestamp = blockTimestamp(ib.Header)

	newPools, err := m.discoverFactoriesAndPools(b, ib)
	if err != nil {
		return errors.Wrapf(err, "ammdata: pool discovery at block %d", ib.Height)
	}

	touchedPools, err := m.classifyActivity(b, ib, res, newPools)
	if err != nil {
		return errors.Wrapf(err, "ammdata: activity classification at block %d", ib.Height)
	}

	if err := m.updatePricesAndTVL(b, ib.Height, touchedPools); err != nil {
		return errors.Wrapf(err, "ammdata: pricing/TVL at block %d", ib.Height)
	}

	if err := m.db.Write(b.Batch); err != nil {
		return errors.Wrap(err, "ammdata: writing block batch")
	}
	return nil
}

// blockTimestamp extracts the 4-byte little-endian timestamp at offset 68
// of a standard 80-byte Bitcoin block header, duplicating
// essentials.blockTimestamp since the two packages intentionally don't
// import each other's unexported helpers.
func blockTimestamp(header []byte) uint32 {
	if len(header) < 72 {
		return 0
	}
	var v uint32
	for i := 0; i < 4; i++ {
		v |= uint32(header[68+i]) << (8 * i)
	}
	return v
}
