package essentials

import (
	"strings"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
)

// genesisAlkane is one hardcoded (id, name, symbol) entry force-inserted
// at genesis if no creation event produced it. Ids/names mirror the
// network's well-known foundational alkanes — diesel (the protocol's
// own mint-gate target) and the AMM factory genesis deployment that
// pool discovery watches for.
var genesisAlkanes = []struct {
	ID     alkaneid.ID
	Name   string
	Symbol string
}{
	{ID: alkaneid.ID{Block: 2, Tx: 0}, Name: "DIESEL", Symbol: "DIESEL"},
	{ID: alkaneid.ID{Block: 4, Tx: 0}, Name: "AMM Factory", Symbol: "AMM"},
}

// bootstrapGenesis force-inserts genesisAlkanes' creation records at the
// network's genesis height for any id no creation event already covered.
func (m *Module) bootstrapGenesis(b *mdb.HeightBatch, height uint32) error {
	ts := m.lastBlockTimestamp
	for i, g := range genesisAlkanes {
		if _, exists, err := m.getCreationRecord(g.ID); err != nil {
			return err
		} else if exists {
			continue
		}
		rec := creationRecord{
			ID:          g.ID,
			Height:      height,
			Timestamp:   ts,
			TxIndex:     uint32(i),
			HasMetadata: g.Name != "" || g.Symbol != "",
		}
		rec.Names = appendUnique(rec.Names, g.Name)
		rec.Symbols = appendUnique(rec.Symbols, g.Symbol)

		sb := g.ID.StorageBytes()
		b.Put(creationByIDKey(sb), encodeCreationRecord(rec))
		b.Put(creationOrderedKey(ts, height, uint32(i), sb), []byte{})
		for _, name := range rec.Names {
			b.Put(creationNameKey(strings.ToLower(name), sb), []byte{})
		}
		for _, sym := range rec.Symbols {
			b.Put(creationSymbolKey(strings.ToLower(sym), sb), []byte{})
		}
	}
	return nil
}
