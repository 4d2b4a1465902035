package aof

import "github.com/subfrost/alkanes-index/internal/mdb"

// Attach wires this generation's pre-image capture into b, so that every
// first write to a distinct key within b records its pre-image via
// m.RecordPreimage. Call this on every module's batch for a block while a
// generation is open; when AOF is disabled for a deep catch-up run,
// simply don't call Attach.
func (m *Manager) Attach(b *mdb.Batch) {
	b.OnFirstWrite(func(fullKey, priorValue []byte, existed bool) {
		if err := m.RecordPreimage(fullKey, priorValue, existed); err != nil {
			log.Errorf("aof: failed to record preimage: %s", err)
		}
	})
}
