// Package pizzafun is a no-op registry.Module: a stub third-party module
// registration point demonstrating the registry's open-ended (name,
// genesis_height, index_block_fn, register_rpc_fn) contract without
// modifying the core. It consumes every block offered to it and tracks
// nothing but its own tip height, proving a module outside
// essentials/ammdata can register and run unmodified.
package pizzafun

import (
	"sync"

	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
)

var log = logs.Logger(logs.Tags.PZZA)

// Name is this module's registry.Module name and RPC namespace.
const Name = "pizzafun"

// Module is a no-op registry.Module: it observes every block it is
// offered and remembers the highest height seen, nothing else.
type Module struct {
	mu         sync.RWMutex
	genesis    uint32
	lastHeight uint32
	blocksSeen uint64
}

// New returns a Module starting at genesisHeight.
func New(genesisHeight uint32) *Module {
	return &Module{genesis: genesisHeight}
}

func (m *Module) Name() string { return Name }

func (m *Module) GenesisHeight() uint32 { return m.genesis }

// IndexBlock is a deliberate no-op beyond bookkeeping: it demonstrates
// that the registry drives third-party modules exactly like the built-in
// ones, with no special-casing in internal/registry or internal/scheduler.
func (m *Module) IndexBlock(ib *traceassembler.IndexedBlock, _ *resolver.BlockResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastHeight = ib.Height
	m.blocksSeen++
	log.Debugf("pizzafun: observed block %d (%d total)", ib.Height, m.blocksSeen)
	return nil
}

// Status is this module's only externally visible state, exposed over
// "pizzafun.status".
type Status struct {
	LastHeight uint32
	BlocksSeen uint64
}

// GetStatus returns the module's current bookkeeping state.
func (m *Module) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Status{LastHeight: m.lastHeight, BlocksSeen: m.blocksSeen}
}
