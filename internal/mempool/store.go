package mempool

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
)

func nowUnix() int64 {
	return time.Now().Unix()
}

func decodeTraceBytes(raw []byte) (*tracepb.Trace, error) {
	return tracepb.Decode(raw)
}

// getTx returns txid's persisted record, or nil if not yet tracked.
func (s *Service) getTx(txid [32]byte) (*MempoolTx, error) {
	raw, err := s.db.Get(txKey(txid))
	if err == ordkv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	rec, err := decodeMempoolTx(txid, raw)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// persistTx writes rec's canonical tx/<txid> row plus its seen/ and addr/
// mirror index entries.
func (s *Service) persistTx(rec MempoolTx) error {
	b := s.db.NewBatch()
	b.Put(txKey(rec.Txid), encodeMempoolTx(rec))
	b.Put(seenKey(rec.FirstSeen, rec.Txid), []byte{})
	for _, addr := range rec.Addresses {
		b.Put(addrKey(addr, rec.FirstSeen, rec.Txid), []byte{})
	}
	return s.db.Write(b)
}

// purgeTxid removes a confirmed transaction's tx/, seen/, and addr/
// entries.
func (s *Service) purgeTxid(txid [32]byte) error {
	rec, err := s.getTx(txid)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	b := s.db.NewBatch()
	b.Delete(txKey(txid))
	b.Delete(seenKey(rec.FirstSeen, txid))
	for _, addr := range rec.Addresses {
		b.Delete(addrKey(addr, rec.FirstSeen, txid))
	}
	return s.db.Write(b)
}

// evictIfOverCap enforces MaxTrackedTxs, oldest first by seen/ order
//.
func (s *Service) evictIfOverCap() error {
	seenKeys, err := s.db.ScanPrefix([]byte(prefixSeen))
	if err != nil {
		return err
	}
	if len(seenKeys) <= MaxTrackedTxs {
		return nil
	}

	type entry struct {
		ts   uint64
		txid [32]byte
	}
	entries := make([]entry, 0, len(seenKeys))
	for _, k := range seenKeys {
		suffix := k[len(prefixSeen):]
		if len(suffix) != 8+32 {
			continue
		}
		var e entry
		e.ts = binary.BigEndian.Uint64(suffix[0:8])
		copy(e.txid[:], suffix[8:40])
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ts != entries[j].ts {
			return entries[i].ts < entries[j].ts
		}
		return alkaneid.Txid(entries[i].txid).String() < alkaneid.Txid(entries[j].txid).String()
	})

	overflow := len(entries) - MaxTrackedTxs
	for i := 0; i < overflow; i++ {
		if err := s.purgeTxid(entries[i].txid); err != nil {
			log.Errorf("mempool: evicting tx %x: %v", entries[i].txid, err)
		}
	}
	return nil
}
