package essentials

import (
	"encoding/binary"
	"math/big"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
)

// mirrorStorageWrites copies every trace-recorded storage write into this
// module's own per-alkane storage value table, so downstream modules
// (ammdata's pool/inspection reads) and the creation/metadata indexer's
// watched-key detection can read storage without going back to the
// upstream KV. Height-indexed so get_at_height historical reads are
// possible on these rows.
func (m *Module) mirrorStorageWrites(b *mdb.HeightBatch, height uint32, it traceassembler.IndexedTransaction) error {
	for _, tr := range it.Traces {
		for _, sc := range tr.Storage {
			sb := sc.Owner.StorageBytes()
			var value []byte
			value = append(value, it.Tx.Txid[:]...)
			value = append(value, sc.Value...)
			if err := b.PutVersioned(storageValueKey(sb, sc.Key), value); err != nil {
				return err
			}
			b.Put(storageDirKey(sb, sc.Key), []byte{})
		}
	}
	return nil
}

// GetAlkaneStorageValue reads this module's own mirrored storage value for
// (owner, key), the local read path ammdata and the RPC layer use instead
// of re-querying the upstream KV.
func (m *Module) GetAlkaneStorageValue(owner alkaneid.ID, key []byte) ([]byte, bool, error) {
	sb := owner.StorageBytes()
	raw, err := m.db.Get(storageValueKey(sb, key))
	if err == ordkv.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	if len(raw) < 32 {
		return nil, false, nil
	}
	return raw[32:], true, nil
}

// writeHeldBalances updates the alkane-held-balances table from the block's per-(owner_alkane, token) Stage-1 deltas,
// including self-token deltas, matching the entity table's own scope.
func (m *Module) writeHeldBalances(b *mdb.HeightBatch, deltas map[heldKey]amount.Signed128) error {
	for k, delta := range deltas {
		if delta.IsZero() {
			continue
		}
		ownerSB := k.Owner.StorageBytes()
		tokenSB := k.Token.StorageBytes()
		key := heldBalanceKey(ownerSB, tokenSB)
		raw, err := m.db.Get(key)
		if err != nil && err != ordkv.ErrNotFound {
			return err
		}
		cur := new(big.Int)
		if len(raw) > 0 {
			cur.SetBytes(raw)
		}
		signed := delta.Magnitude
		if delta.IsNegative {
			signed = new(big.Int).Neg(delta.Magnitude)
		}
		cur.Add(cur, signed)
		if cur.Sign() <= 0 {
			b.Delete(key)
			continue
		}
		b.Put(key, cur.Bytes())
	}
	return nil
}

// writeTxSummary persists the minimal per-tx summary row.
func (m *Module) writeTxSummary(b *mdb.HeightBatch, height uint32, txIndex int, it traceassembler.IndexedTransaction, tr resolver.TxResult) error {
	var value [8]byte
	binary.BigEndian.PutUint32(value[0:4], height)
	binary.BigEndian.PutUint32(value[4:8], uint32(txIndex))
	b.Put(txSummaryKey(it.Tx.Txid), value[:])
	return nil
}

// writeBlockSummary persists the per-height block summary row: trace
// count alongside the raw header bytes.
func (m *Module) writeBlockSummary(b *mdb.HeightBatch, ib *traceassembler.IndexedBlock) error {
	traceCount := 0
	for _, it := range ib.Transactions {
		traceCount += len(it.Traces)
	}
	value := make([]byte, 4+len(ib.Header))
	binary.BigEndian.PutUint32(value[0:4], uint32(traceCount))
	copy(value[4:], ib.Header)
	b.Put(blockSummaryKey(ib.Height), value)
	return nil
}

// heldKey groups a block's per-(owner alkane, token) deltas before the
// single read-modify-write per pair.
type heldKey struct {
	Owner alkaneid.ID
	Token alkaneid.ID
}
