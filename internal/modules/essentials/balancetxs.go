package essentials

import (
	"encoding/binary"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/resolver"
)

// balTxPageSize caps each balance-change tx page at 2048 entries.
const balTxPageSize = 2048

// balTxMeta is the decoded (page_size, last_page, total_len) row.
type balTxMeta struct {
	PageSize uint32
	LastPage uint64
	TotalLen uint64
}

func encodeBalTxMeta(m balTxMeta) []byte {
	out := make([]byte, 4+8+8)
	binary.BigEndian.PutUint32(out[0:4], m.PageSize)
	binary.BigEndian.PutUint64(out[4:12], m.LastPage)
	binary.BigEndian.PutUint64(out[12:20], m.TotalLen)
	return out
}

func decodeBalTxMeta(raw []byte) balTxMeta {
	if len(raw) < 20 {
		return balTxMeta{PageSize: balTxPageSize}
	}
	return balTxMeta{
		PageSize: binary.BigEndian.Uint32(raw[0:4]),
		LastPage: binary.BigEndian.Uint64(raw[4:12]),
		TotalLen: binary.BigEndian.Uint64(raw[12:20]),
	}
}

// collectBalanceTxTokens returns the distinct tokens tr's holder deltas
// touched, the unit recordBalanceTxs-equivalent accumulation batches by
// before appending.
func collectBalanceTxTokens(tr resolver.TxResult) []alkaneid.ID {
	seen := make(map[alkaneid.ID]bool)
	var out []alkaneid.ID
	for _, d := range tr.HolderDeltas {
		if seen[d.Token] {
			continue
		}
		seen[d.Token] = true
		out = append(out, d.Token)
	}
	return out
}

// appendBalanceTxs appends every txid in txids (block order) to token's
// paged balance-change tx list in one read-modify-write, so multiple
// transactions touching the same token within a block don't clobber each
// other's append (a per-tx read-modify-write would race against the
// batch's own uncommitted writes, since mdb reads never see a batch's
// pending puts before it is written).
func (m *Module) appendBalanceTxs(b *mdb.HeightBatch, token alkaneid.ID, txids []alkaneid.Txid) error {
	if len(txids) == 0 {
		return nil
	}
	sb := token.StorageBytes()
	metaRaw, err := m.db.Get(balTxMetaKey(sb))
	if err != nil && err != ordkv.ErrNotFound {
		return err
	}
	meta := decodeBalTxMeta(metaRaw)
	if meta.PageSize == 0 {
		meta.PageSize = balTxPageSize
	}

	pageKey := balTxPageKey(sb, meta.LastPage)
	pageRaw, err := m.db.Get(pageKey)
	if err != nil && err != ordkv.ErrNotFound {
		return err
	}
	page := append([]byte{}, pageRaw...)

	for _, txid := range txids {
		if meta.TotalLen > 0 && len(page)/32 >= int(meta.PageSize) {
			b.Put(pageKey, page)
			meta.LastPage++
			pageKey = balTxPageKey(sb, meta.LastPage)
			page = nil
		}
		page = append(page, txid[:]...)
		meta.TotalLen++
	}
	b.Put(pageKey, page)
	b.Put(balTxMetaKey(sb), encodeBalTxMeta(meta))
	return nil
}
