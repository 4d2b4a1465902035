package essentials

import (
	"encoding/binary"
	"encoding/hex"
	"math/big"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

// scriptHolder represents an output's scriptPubKey as a hex-encoded
// "address" holder, matching internal/resolver/edicts.go's own convention
// (DESIGN.md Open Question resolution #6) — essentials needs its own
// copy since the resolver's is unexported and this module must derive the
// same holder identity independently from the raw tx outputs.
func scriptHolder(script []byte) alkaneid.Holder {
	return alkaneid.NewAddressHolder(hex.EncodeToString(script))
}

// outpointRow is the decoded form of a persisted per-outpoint balance row
//.
type outpointRow struct {
	Holder    alkaneid.Holder
	SpentTxid *alkaneid.Txid
	Balances  []upstream.OutpointBalance
}

func encodeOutpointRow(row outpointRow) []byte {
	var out []byte
	if row.SpentTxid != nil {
		out = append(out, 1)
		out = append(out, row.SpentTxid[:]...)
	} else {
		out = append(out, 0)
	}

	ok := row.Holder.OrderKey()
	var klen [2]byte
	binary.BigEndian.PutUint16(klen[:], uint16(len(ok)))
	out = append(out, klen[:]...)
	out = append(out, ok...)

	var cnt [2]byte
	binary.BigEndian.PutUint16(cnt[:], uint16(len(row.Balances)))
	out = append(out, cnt[:]...)
	for _, bal := range row.Balances {
		sb := bal.ID.StorageBytes()
		out = append(out, sb[:]...)
		amtBytes := bal.Balance.Bytes()
		var al [2]byte
		binary.BigEndian.PutUint16(al[:], uint16(len(amtBytes)))
		out = append(out, al[:]...)
		out = append(out, amtBytes...)
	}
	return out
}

// decodeOutpointRow parses encodeOutpointRow's output. holderKind/Address
// are recovered only as an opaque order-key-derived address holder, since
// the row never persists an alkane-holder form (an outpoint's holder is
// always the scriptPubKey it pays to).
func decodeOutpointRow(raw []byte) (outpointRow, error) {
	var row outpointRow
	if len(raw) < 1 {
		return row, errors.New("essentials: empty outpoint row")
	}
	n := 0
	spent := raw[n]
	n++
	if spent == 1 {
		if len(raw) < n+32 {
			return row, errors.New("essentials: truncated outpoint row (spent txid)")
		}
		var txid alkaneid.Txid
		copy(txid[:], raw[n:n+32])
		row.SpentTxid = &txid
		n += 32
	}
	if len(raw) < n+2 {
		return row, errors.New("essentials: truncated outpoint row (holder key len)")
	}
	klen := int(binary.BigEndian.Uint16(raw[n:]))
	n += 2
	if len(raw) < n+klen {
		return row, errors.New("essentials: truncated outpoint row (holder key)")
	}
	orderKey := raw[n : n+klen]
	n += klen
	row.Holder = holderFromOrderKey(orderKey)

	if len(raw) < n+2 {
		return row, errors.New("essentials: truncated outpoint row (count)")
	}
	count := int(binary.BigEndian.Uint16(raw[n:]))
	n += 2
	row.Balances = make([]upstream.OutpointBalance, 0, count)
	for i := 0; i < count; i++ {
		if len(raw) < n+12+2 {
			return row, errors.New("essentials: truncated outpoint row (balance entry)")
		}
		var sb [12]byte
		copy(sb[:], raw[n:n+12])
		n += 12
		id := alkaneid.IDFromStorageBytes(sb)
		alen := int(binary.BigEndian.Uint16(raw[n:]))
		n += 2
		if len(raw) < n+alen {
			return row, errors.New("essentials: truncated outpoint row (amount bytes)")
		}
		amt := new(big.Int).SetBytes(raw[n : n+alen])
		n += alen
		row.Balances = append(row.Balances, upstream.OutpointBalance{ID: id, Balance: amt})
	}
	return row, nil
}

// holderFromOrderKey recovers a Holder from its OrderKey encoding
// (alkaneid.Holder.OrderKey: a discriminant byte then the payload). Only
// used to round-trip what this module itself wrote.
func holderFromOrderKey(ok []byte) alkaneid.Holder {
	if len(ok) == 0 {
		return alkaneid.NewAddressHolder("")
	}
	if ok[0] == 0x00 {
		return alkaneid.NewAddressHolder(string(ok[1:]))
	}
	var sb [12]byte
	copy(sb[:], ok[1:])
	return alkaneid.NewAlkaneHolder(alkaneid.IDFromStorageBytes(sb))
}

func (m *Module) getOutpointRow(op alkaneid.Outpoint) (outpointRow, bool, error) {
	txid := op.Txid
	raw, err := m.db.Get(outpointBalanceKey(txid, op.Vout))
	if err == ordkv.ErrNotFound {
		return outpointRow{}, false, nil
	}
	if err != nil {
		return outpointRow{}, false, err
	}
	row, err := decodeOutpointRow(raw)
	if err != nil {
		return outpointRow{}, false, err
	}
	return row, true, nil
}

// OutpointAlkaneBalances implements internal/resolver.BalanceStore: the
// VIN-resolution read path Stage 2 (and the VIN-debit collector) consults
// for every spent outpoint not covered by the in-block overlay.
func (m *Module) OutpointAlkaneBalances(op alkaneid.Outpoint) ([]upstream.OutpointBalance, error) {
	row, ok, err := m.getOutpointRow(op)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return row.Balances, nil
}

// writeOutpointBalances persists every vout this tx allocated a balance
// to, plus the address→outpoint index entry.
func (m *Module) writeOutpointBalances(b *mdb.HeightBatch, height uint32, it traceassembler.IndexedTransaction, tr resolver.TxResult) error {
	for vout, allocs := range tr.VoutAllocations {
		if len(allocs) == 0 {
			continue
		}
		if int(vout) >= len(it.Tx.Vout) {
			continue
		}
		holder := scriptHolder(it.Tx.Vout[vout].Script)
		row := outpointRow{Holder: holder}
		for _, a := range allocs {
			if a.Amount.Sign() <= 0 {
				continue
			}
			row.Balances = append(row.Balances, upstream.OutpointBalance{ID: a.Token, Balance: a.Amount})
		}
		if len(row.Balances) == 0 {
			continue
		}
		op := alkaneid.Outpoint{Txid: it.Tx.Txid, Vout: vout}
		if err := b.PutVersioned(outpointBalanceKey(op.Txid, vout), encodeOutpointRow(row)); err != nil {
			return err
		}
		opBytes := op.Bytes()
		b.Put(addrIndexKey(holder.OrderKey(), opBytes), []byte{})
	}
	return nil
}

// markSpentOutpoints records tx_spent on every outpoint this tx consumes
// and purges its address→outpoint index entry.
func (m *Module) markSpentOutpoints(b *mdb.HeightBatch, height uint32, it traceassembler.IndexedTransaction) error {
	for _, in := range it.Tx.Vin {
		row, ok, err := m.getOutpointRow(in.PrevOut)
		if err != nil {
			return err
		}
		if !ok || row.SpentTxid != nil {
			continue
		}
		spender := it.Tx.Txid
		row.SpentTxid = &spender
		if err := b.PutVersioned(outpointBalanceKey(in.PrevOut.Txid, in.PrevOut.Vout), encodeOutpointRow(row)); err != nil {
			return err
		}
		opBytes := in.PrevOut.Bytes()
		b.Delete(addrIndexKey(row.Holder.OrderKey(), opBytes))
	}
	return nil
}
