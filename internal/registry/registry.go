// Package registry holds the ordered list of block-consuming modules the
// scheduler drives each block through. Grounded on kaspad's
// domain/consensus processes registry: a fixed, order-significant list of
// collaborators wired once at startup, each consulted in registration
// order for every accepted block.
package registry

import (
	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
)

// EssentialsName is the registration name the registry requires to be
// first: Essentials must be registered before any other module, enforced
// by Register panicking otherwise.
const EssentialsName = "essentials"

// Module is the contract every block-consuming module satisfies: a
// stable name, the height at which it starts indexing, and the per-block
// entry point the scheduler calls in registration order.
type Module interface {
	Name() string
	GenesisHeight() uint32
	IndexBlock(ib *traceassembler.IndexedBlock, res *resolver.BlockResult) error
}

// Registry is the ordered module list.
type Registry struct {
	modules []Module
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{}
}

// Register appends m to the registry. The first registered module must
// be named EssentialsName; any other module in that slot is a
// programming error the process cannot recover from, so this
// panics rather than returning an error.
func (r *Registry) Register(m Module) {
	if len(r.modules) == 0 && m.Name() != EssentialsName {
		panic(errors.Errorf("registry: first registered module must be %q, got %q", EssentialsName, m.Name()))
	}
	if len(r.modules) > 0 {
		for _, existing := range r.modules {
			if existing.Name() == m.Name() {
				panic(errors.Errorf("registry: module %q already registered", m.Name()))
			}
		}
	}
	r.modules = append(r.modules, m)
}

// Modules returns the registered modules in registration order.
func (r *Registry) Modules() []Module {
	return r.modules
}

// IndexBlock calls IndexBlock on every module whose genesis height has
// been reached, in registration order.
func (r *Registry) IndexBlock(ib *traceassembler.IndexedBlock, res *resolver.BlockResult) error {
	for _, m := range r.modules {
		if ib.Height < m.GenesisHeight() {
			continue
		}
		if err := m.IndexBlock(ib, res); err != nil {
			return errors.Wrapf(err, "registry: module %q indexing block %d", m.Name(), ib.Height)
		}
	}
	return nil
}
