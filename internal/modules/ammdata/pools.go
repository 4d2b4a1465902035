package ammdata

import (
	"encoding/binary"
	"math/big"
	"strings"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
	"github.com/subfrost/alkanes-index/internal/wasminspect"
)

// createPoolOpcode is the factory dispatch opcode that mints a new pool
// child alkane.
const createPoolOpcode = 1

var (
	watchedKeyBaseAlkane  = []byte("/base-alkane-id")
	watchedKeyQuoteAlkane = []byte("/quote-alkane-id")
)

// PoolDefinition is a pool's immutable identity: the factory that created
// it and the two alkanes it trades.
type PoolDefinition struct {
	PoolID  alkaneid.ID
	Factory alkaneid.ID
	Base    alkaneid.ID
	Quote   alkaneid.ID
	Height  uint32
	TxIndex uint32
}

func encodePoolDefinition(d PoolDefinition) []byte {
	out := make([]byte, 0, 12+12+12+4+4)
	factorySB := d.Factory.StorageBytes()
	baseSB := d.Base.StorageBytes()
	quoteSB := d.Quote.StorageBytes()
	out = append(out, factorySB[:]...)
	out = append(out, baseSB[:]...)
	out = append(out, quoteSB[:]...)
	var hdr [8]byte
	binary.BigEndian.PutUint32(hdr[0:4], d.Height)
	binary.BigEndian.PutUint32(hdr[4:8], d.TxIndex)
	return append(out, hdr[:]...)
}

func decodePoolDefinition(poolID alkaneid.ID, raw []byte) (PoolDefinition, error) {
	if len(raw) < 12+12+12+8 {
		return PoolDefinition{}, errors.New("ammdata: truncated pool definition")
	}
	var factorySB, baseSB, quoteSB [12]byte
	copy(factorySB[:], raw[0:12])
	copy(baseSB[:], raw[12:24])
	copy(quoteSB[:], raw[24:36])
	return PoolDefinition{
		PoolID:  poolID,
		Factory: alkaneid.IDFromStorageBytes(factorySB),
		Base:    alkaneid.IDFromStorageBytes(baseSB),
		Quote:   alkaneid.IDFromStorageBytes(quoteSB),
		Height:  binary.BigEndian.Uint32(raw[36:40]),
		TxIndex: binary.BigEndian.Uint32(raw[40:44]),
	}, nil
}

// GetPoolDefinition returns pool's definition, if discovered.
func (m *Module) GetPoolDefinition(pool alkaneid.ID) (PoolDefinition, bool, error) {
	raw, err := m.db.Get(poolKey(pool.StorageBytes()))
	if err == ordkv.ErrNotFound {
		return PoolDefinition{}, false, nil
	}
	if err != nil {
		return PoolDefinition{}, false, err
	}
	d, err := decodePoolDefinition(pool, raw)
	return d, err == nil, err
}

// ListPools returns every pool discovered so far, in discovery order.
func (m *Module) ListPools() ([]PoolDefinition, error) {
	c := m.db.Cursor([]byte(prefixPoolList))
	defer c.Close()

	var out []PoolDefinition
	for ok := c.First(); ok; ok = c.Next() {
		key := c.Key()
		if len(key) < 12 {
			continue
		}
		var poolSB [12]byte
		copy(poolSB[:], key[len(key)-12:])
		poolID := alkaneid.IDFromStorageBytes(poolSB)
		d, exists, err := m.GetPoolDefinition(poolID)
		if err != nil {
			return nil, err
		}
		if exists {
			out = append(out, d)
		}
	}
	return out, nil
}

func (m *Module) isFactory(b *mdb.HeightBatch, id alkaneid.ID) (bool, error) {
	raw, err := m.db.Get(factoryKey(id.StorageBytes()))
	if err != nil && err != ordkv.ErrNotFound {
		return false, err
	}
	if err == nil {
		_ = raw
		return true, nil
	}
	return false, nil
}

// maybeDiscoverFactory records id as a known AMM factory, after checking its
// creation metadata/method table.
func (m *Module) maybeDiscoverFactory(b *mdb.HeightBatch, id alkaneid.ID) (bool, error) {
	if known, err := m.isFactory(b, id); err != nil {
		return false, err
	} else if known {
		return true, nil
	}

	info, exists, err := m.ess.GetCreationRecord(id)
	if err != nil {
		return false, err
	}
	candidate := false
	if exists {
		for _, name := range info.Names {
			if strings.Contains(strings.ToLower(name), "ammfactory") {
				candidate = true
				break
			}
		}
	}
	if !candidate {
		wasmBytes, _, err := m.up.GetAlkaneWasmBytes(id)
		if err != nil {
			log.Debugf("ammdata: fetching wasm for factory candidate %s: %v", id, err)
			return false, nil
		}
		insp, err := m.inspector.Inspect(wasmBytes)
		if err != nil {
			log.Debugf("ammdata: inspecting factory candidate %s: %v", id, err)
			return false, nil
		}
		candidate = insp.HasOpcodeSet(wasminspect.FactoryOpcodeSet)
	}
	if !candidate {
		return false, nil
	}
	b.Put(factoryKey(id.StorageBytes()), []byte{})
	log.Infof("ammdata: discovered AMM factory %s", id)
	return true, nil
}

// discoverFactoriesAndPools runs pool discovery: every alkane this block
// created is checked as a factory candidate, and
// every trace's events are scanned for a factory invoking its
// create-pool opcode followed by a CreateAlkane event, whose new alkane
// becomes a pool once its base/quote ids are resolved.
// discoverFactoriesAndPools returns, per transaction index, the pools
// newly discovered in that transaction — classifyActivity uses this to
// force a pool_create activity row even when the creation tx moved no
// base/quote/LP balance at all.
func (m *Module) discoverFactoriesAndPools(b *mdb.HeightBatch, ib *traceassembler.IndexedBlock) (map[int][]alkaneid.ID, error) {
	newPools := make(map[int][]alkaneid.ID)

	for i, it := range ib.Transactions {
		for _, tr := range it.Traces {
			for _, ev := range tr.Events.Events {
				if ev.Kind != tracepb.EventCreateAlkane || ev.CreateAlkane == nil || ev.CreateAlkane.NewAlkane == nil {
					continue
				}
				newID := ev.CreateAlkane.NewAlkane.ToDomain()
				if _, err := m.maybeDiscoverFactory(b, newID); err != nil {
					return nil, errors.Wrapf(err, "factory candidacy for %s", newID)
				}
			}
		}

		for _, tr := range it.Traces {
			created, err := m.scanTraceForPoolCreation(b, ib.Height, i, it, tr)
			if err != nil {
				return nil, err
			}
			newPools[i] = append(newPools[i], created...)
		}
	}
	return newPools, nil
}

func (m *Module) scanTraceForPoolCreation(b *mdb.HeightBatch, height uint32, txIndex int, it traceassembler.IndexedTransaction, tr traceassembler.TraceRecord) ([]alkaneid.ID, error) {
	var created []alkaneid.ID
	events := tr.Events.Events
	for i, ev := range events {
		if ev.Kind != tracepb.EventEnterContext || ev.EnterContext == nil || ev.EnterContext.Context == nil {
			continue
		}
		inner := ev.EnterContext.Context.Inner
		if inner == nil || inner.Myself == nil || len(inner.Inputs) == 0 {
			continue
		}
		if inner.Inputs[0].Lo != createPoolOpcode {
			continue
		}
		factoryID := inner.Myself.ToDomain()
		isFactory, err := m.isFactory(b, factoryID)
		if err != nil {
			return nil, err
		}
		if !isFactory {
			continue
		}

		newPoolID, ok := nextCreatedAlkane(events, i+1)
		if !ok {
			continue
		}
		if _, exists, err := m.GetPoolDefinition(newPoolID); err != nil {
			return nil, err
		} else if exists {
			continue
		}

		base, quote, err := m.resolvePoolBaseQuote(newPoolID, tr)
		if err != nil {
			log.Debugf("ammdata: resolving base/quote for pool %s: %v", newPoolID, err)
			continue
		}

		def := PoolDefinition{
			PoolID:  newPoolID,
			Factory: factoryID,
			Base:    base,
			Quote:   quote,
			Height:  height,
			TxIndex: uint32(txIndex),
		}
		b.Put(poolKey(newPoolID.StorageBytes()), encodePoolDefinition(def))
		b.Put(poolOrderedKey(height, uint32(txIndex), newPoolID.StorageBytes()), []byte{})
		log.Infof("ammdata: discovered pool %s (base=%s quote=%s) via factory %s", newPoolID, base, quote, factoryID)
		created = append(created, newPoolID)
	}
	return created, nil
}

// nextCreatedAlkane scans events starting at from for the next
// Event::CreateAlkane, the pool factory's own child-creation event always
// immediately following its create-pool EnterContext within the same
// trace.
func nextCreatedAlkane(events []tracepb.Event, from int) (alkaneid.ID, bool) {
	for i := from; i < len(events); i++ {
		ev := events[i]
		if ev.Kind == tracepb.EventCreateAlkane && ev.CreateAlkane != nil && ev.CreateAlkane.NewAlkane != nil {
			return ev.CreateAlkane.NewAlkane.ToDomain(), true
		}
	}
	return alkaneid.ID{}, false
}

// resolvePoolBaseQuote reads a freshly created pool's declared base/quote
// alkane ids from its own creation trace's storage writes, falling back
// to simulating get_base_alkane/get_quote_alkane against its own wasm
// when the trace carried no such write.
func (m *Module) resolvePoolBaseQuote(pool alkaneid.ID, tr traceassembler.TraceRecord) (base, quote alkaneid.ID, err error) {
	haveBase, haveQuote := false, false
	for _, sc := range tr.Storage {
		if !sc.Owner.Equal(pool) {
			continue
		}
		switch {
		case equalBytes(sc.Key, watchedKeyBaseAlkane):
			base = idFromStorageValue(sc.Value)
			haveBase = true
		case equalBytes(sc.Key, watchedKeyQuoteAlkane):
			quote = idFromStorageValue(sc.Value)
			haveQuote = true
		}
	}
	if haveBase && haveQuote {
		return base, quote, nil
	}

	wasmBytes, _, werr := m.up.GetAlkaneWasmBytes(pool)
	if werr != nil {
		return alkaneid.ID{}, alkaneid.ID{}, errors.Wrap(werr, "ammdata: fetching pool wasm")
	}
	if !haveBase {
		v, serr := m.inspector.Simulate(wasmBytes, wasminspect.OpcodeGetBaseAlkane)
		if serr != nil {
			return alkaneid.ID{}, alkaneid.ID{}, errors.Wrap(serr, "ammdata: simulating get_base_alkane")
		}
		base = idFromSimulatedU128(v)
	}
	if !haveQuote {
		v, serr := m.inspector.Simulate(wasmBytes, wasminspect.OpcodeGetQuoteAlkane)
		if serr != nil {
			return alkaneid.ID{}, alkaneid.ID{}, errors.Wrap(serr, "ammdata: simulating get_quote_alkane")
		}
		quote = idFromSimulatedU128(v)
	}
	return base, quote, nil
}

func equalBytes(a, b []byte) bool {
	return string(a) == string(b)
}

// idFromStorageValue decodes an alkane id from a raw storage-write value,
// assumed to carry the 12-byte storage-form encoding (block BE u32, tx BE
// u64) this indexer uses for its own ids elsewhere, the same convention
// the pool contract is assumed to emit it in.
func idFromStorageValue(v []byte) alkaneid.ID {
	var sb [12]byte
	if len(v) >= 12 {
		copy(sb[:], v[len(v)-12:])
	} else {
		copy(sb[12-len(v):], v)
	}
	return alkaneid.IDFromStorageBytes(sb)
}

// idFromSimulatedU128 decodes a __dispatch u128 result as an alkane id:
// tx as the low 64 bits, block as the next 32 bits, matching
// IDFromStorageBytes's byte order but reconstructed from the big.Int
// wasminspect.Simulate returns.
func idFromSimulatedU128(v *big.Int) alkaneid.ID {
	if v == nil {
		return alkaneid.ID{}
	}
	var be [16]byte
	v.FillBytes(be[:])
	var sb [12]byte
	copy(sb[:], be[4:16])
	return alkaneid.IDFromStorageBytes(sb)
}
