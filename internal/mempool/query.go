package mempool

import (
	"github.com/subfrost/alkanes-index/internal/alkaneid"
)

// GetTx returns the persisted preview record for txid, if tracked.
func (s *Service) GetTx(txid alkaneid.Txid) (*MempoolTx, error) {
	return s.getTx([32]byte(txid))
}

// ListByAddress returns up to limit tracked transactions touching
// address (as an input), newest first, via the addr/ index.
func (s *Service) ListByAddress(address string, limit int) ([]MempoolTx, error) {
	c := s.db.IterPrefixRev([]byte(prefixAddr + address + "/"))
	defer c.Close()

	var out []MempoolTx
	for ok := c.Last(); ok; ok = c.Prev() {
		key := c.Key()
		if len(key) < 32 {
			continue
		}
		var txid [32]byte
		copy(txid[:], key[len(key)-32:])
		rec, err := s.getTx(txid)
		if err != nil || rec == nil {
			continue
		}
		out = append(out, *rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}

// ListRecent returns up to limit tracked transactions, newest first, by
// first_seen order.
func (s *Service) ListRecent(limit int) ([]MempoolTx, error) {
	c := s.db.IterPrefixRev([]byte(prefixSeen))
	defer c.Close()

	var out []MempoolTx
	for ok := c.Last(); ok; ok = c.Prev() {
		key := c.Key()
		if len(key) < 32 {
			continue
		}
		var txid [32]byte
		copy(txid[:], key[len(key)-32:])
		rec, err := s.getTx(txid)
		if err != nil || rec == nil {
			continue
		}
		out = append(out, *rec)
		if len(out) >= limit {
			break
		}
	}
	return out, nil
}
