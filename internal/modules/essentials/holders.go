package essentials

import (
	"encoding/binary"
	"math/big"
	"sort"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/consistency"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

// holderEntry is one (holder, amount) pair in a token's sorted holder
// vector.
type holderEntry struct {
	Holder alkaneid.Holder
	Amount *big.Int
}

func encodeHolderVector(entries []holderEntry) []byte {
	var out []byte
	var cnt [4]byte
	binary.BigEndian.PutUint32(cnt[:], uint32(len(entries)))
	out = append(out, cnt[:]...)
	for _, e := range entries {
		ok := e.Holder.OrderKey()
		var kl [2]byte
		binary.BigEndian.PutUint16(kl[:], uint16(len(ok)))
		out = append(out, kl[:]...)
		out = append(out, ok...)

		ab := e.Amount.Bytes()
		var al [2]byte
		binary.BigEndian.PutUint16(al[:], uint16(len(ab)))
		out = append(out, al[:]...)
		out = append(out, ab...)
	}
	return out
}

func decodeHolderVector(raw []byte) []holderEntry {
	if len(raw) < 4 {
		return nil
	}
	n := 0
	count := binary.BigEndian.Uint32(raw[n:])
	n += 4
	entries := make([]holderEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		if len(raw) < n+2 {
			break
		}
		kl := int(binary.BigEndian.Uint16(raw[n:]))
		n += 2
		if len(raw) < n+kl {
			break
		}
		holder := holderFromOrderKey(raw[n : n+kl])
		n += kl

		if len(raw) < n+2 {
			break
		}
		al := int(binary.BigEndian.Uint16(raw[n:]))
		n += 2
		if len(raw) < n+al {
			break
		}
		amt := new(big.Int).SetBytes(raw[n : n+al])
		n += al
		entries = append(entries, holderEntry{Holder: holder, Amount: amt})
	}
	return entries
}

func sortHolderVector(entries []holderEntry) {
	sort.Slice(entries, func(i, j int) bool {
		c := entries[i].Amount.Cmp(entries[j].Amount)
		if c != 0 {
			return c > 0 // desc by amount
		}
		return entries[i].Holder.Less(entries[j].Holder) // asc by holder order key
	})
}

// applyHolderDeltas loads the vector, applies every delta (panicking on
// a would-be-negative holder balance), swap-removes holders that reach
// zero, re-sorts, writes back, and updates the count index plus
// circulating supply rows.
func (m *Module) applyHolderDeltas(b *mdb.HeightBatch, height uint32, token alkaneid.ID, deltas []holderDelta) error {
	sb := token.StorageBytes()
	raw, err := m.db.Get(holderVectorKey(sb))
	if err != nil && err != ordkv.ErrNotFound {
		return err
	}
	entries := decodeHolderVector(raw)
	oldCount := len(entries)

	byHolder := make(map[alkaneid.Holder]*big.Int, len(entries))
	for _, e := range entries {
		byHolder[e.Holder] = e.Amount
	}

	for _, d := range deltas {
		if d.Delta.IsZero() {
			continue
		}
		cur, ok := byHolder[d.Holder]
		if !ok {
			cur = big.NewInt(0)
		}
		if d.Delta.IsNegative {
			if cur.Cmp(d.Delta.Magnitude) < 0 {
				consistency.Panicf("essentials: holder %s balance %s for token %s would go negative by %s",
					d.Holder, cur, token, d.Delta)
			}
			next := new(big.Int).Sub(cur, d.Delta.Magnitude)
			if next.Sign() == 0 {
				delete(byHolder, d.Holder)
			} else {
				byHolder[d.Holder] = next
			}
		} else {
			next := new(big.Int).Add(cur, d.Delta.Magnitude)
			byHolder[d.Holder] = next
		}
	}

	newEntries := make([]holderEntry, 0, len(byHolder))
	for h, a := range byHolder {
		newEntries = append(newEntries, holderEntry{Holder: h, Amount: a})
	}
	sortHolderVector(newEntries)

	b.Put(holderVectorKey(sb), encodeHolderVector(newEntries))

	newCount := len(newEntries)
	if newCount != oldCount {
		if oldCount > 0 {
			b.Delete(holderCountKey(uint64(oldCount), sb))
		}
		b.Put(holderCountKey(uint64(newCount), sb), []byte{})
	}

	circ := big.NewInt(0)
	for _, e := range newEntries {
		circ.Add(circ, e.Amount)
	}
	b.Put(circLatestKey(sb), circ.Bytes())
	b.Put(circHeightKey(sb, height), circ.Bytes())

	return nil
}

// applyTotalMinted accumulates the block's positive self-outflow drift
// into the token's cumulative total_minted row.
func (m *Module) applyTotalMinted(b *mdb.HeightBatch, token alkaneid.ID, acc *selfOutflowAccum) error {
	if acc.PositiveDrift.IsZero() {
		return nil
	}
	sb := token.StorageBytes()
	raw, err := m.db.Get(totalMintedKey(sb))
	if err != nil && err != ordkv.ErrNotFound {
		return err
	}
	cur := new(big.Int)
	if len(raw) > 0 {
		cur.SetBytes(raw)
	}
	cur.Add(cur, acc.PositiveDrift.Magnitude)
	b.Put(totalMintedKey(sb), cur.Bytes())
	return nil
}
