package essentials

import (
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
	"github.com/subfrost/alkanes-index/internal/wasminspect"
)

// Reserved per-alkane storage keys the creation indexer additionally
// watches for in-block.
var (
	watchedKeyName         = []byte("/name")
	watchedKeySymbol       = []byte("/symbol")
	watchedKeyCap          = []byte("/cap")
	watchedKeyValuePerMint = []byte("/value-per-mint")
)

// creationRecord is the decoded by_id row.
type creationRecord struct {
	ID          alkaneid.ID
	CreateTxid  alkaneid.Txid
	Height      uint32
	Timestamp   uint32
	TxIndex     uint32
	HasMetadata bool
	Names       []string
	Symbols     []string
	Cap         []byte
	MintAmount  []byte
}

func encodeCreationRecord(r creationRecord) []byte {
	var out []byte
	out = append(out, r.CreateTxid[:]...)
	var hdr [12]byte
	binary.BigEndian.PutUint32(hdr[0:4], r.Height)
	binary.BigEndian.PutUint32(hdr[4:8], r.Timestamp)
	binary.BigEndian.PutUint32(hdr[8:12], r.TxIndex)
	out = append(out, hdr[:]...)
	if r.HasMetadata {
		out = append(out, 1)
	} else {
		out = append(out, 0)
	}
	out = appendStringList(out, r.Names)
	out = appendStringList(out, r.Symbols)
	out = appendBytesField(out, r.Cap)
	out = appendBytesField(out, r.MintAmount)
	return out
}

func appendStringList(out []byte, list []string) []byte {
	var cnt [2]byte
	binary.BigEndian.PutUint16(cnt[:], uint16(len(list)))
	out = append(out, cnt[:]...)
	for _, s := range list {
		var l [2]byte
		binary.BigEndian.PutUint16(l[:], uint16(len(s)))
		out = append(out, l[:]...)
		out = append(out, s...)
	}
	return out
}

func appendBytesField(out []byte, b []byte) []byte {
	var l [2]byte
	binary.BigEndian.PutUint16(l[:], uint16(len(b)))
	out = append(out, l[:]...)
	return append(out, b...)
}

func decodeCreationRecord(id alkaneid.ID, raw []byte) (creationRecord, error) {
	r := creationRecord{ID: id}
	if len(raw) < 32+12+1 {
		return r, errors.New("essentials: truncated creation record")
	}
	n := 0
	copy(r.CreateTxid[:], raw[n:n+32])
	n += 32
	r.Height = binary.BigEndian.Uint32(raw[n:])
	n += 4
	r.Timestamp = binary.BigEndian.Uint32(raw[n:])
	n += 4
	r.TxIndex = binary.BigEndian.Uint32(raw[n:])
	n += 4
	r.HasMetadata = raw[n] == 1
	n++

	var err error
	r.Names, n, err = readStringList(raw, n)
	if err != nil {
		return r, err
	}
	r.Symbols, n, err = readStringList(raw, n)
	if err != nil {
		return r, err
	}
	r.Cap, n, err = readBytesField(raw, n)
	if err != nil {
		return r, err
	}
	r.MintAmount, _, err = readBytesField(raw, n)
	if err != nil {
		return r, err
	}
	return r, nil
}

func readStringList(raw []byte, n int) ([]string, int, error) {
	if len(raw) < n+2 {
		return nil, n, errors.New("essentials: truncated creation record (string list count)")
	}
	count := int(binary.BigEndian.Uint16(raw[n:]))
	n += 2
	out := make([]string, 0, count)
	for i := 0; i < count; i++ {
		if len(raw) < n+2 {
			return nil, n, errors.New("essentials: truncated creation record (string len)")
		}
		l := int(binary.BigEndian.Uint16(raw[n:]))
		n += 2
		if len(raw) < n+l {
			return nil, n, errors.New("essentials: truncated creation record (string bytes)")
		}
		out = append(out, string(raw[n:n+l]))
		n += l
	}
	return out, n, nil
}

func readBytesField(raw []byte, n int) ([]byte, int, error) {
	if len(raw) < n+2 {
		return nil, n, errors.New("essentials: truncated creation record (bytes len)")
	}
	l := int(binary.BigEndian.Uint16(raw[n:]))
	n += 2
	if len(raw) < n+l {
		return nil, n, errors.New("essentials: truncated creation record (bytes)")
	}
	return append([]byte{}, raw[n:n+l]...), n + l, nil
}

// appendUnique appends s to list if not already present (case-insensitive),
// preserving insertion order.
func appendUnique(list []string, s string) []string {
	if s == "" {
		return list
	}
	for _, existing := range list {
		if strings.EqualFold(existing, s) {
			return list
		}
	}
	return append(list, s)
}

// blockTimestamp extracts the 4-byte little-endian timestamp at offset 68
// of a standard 80-byte Bitcoin block header.
func blockTimestamp(header []byte) uint32 {
	if len(header) < 72 {
		return 0
	}
	return binary.LittleEndian.Uint32(header[68:72])
}

func (m *Module) getCreationRecord(id alkaneid.ID) (creationRecord, bool, error) {
	raw, err := m.db.Get(creationByIDKey(id.StorageBytes()))
	if err == ordkv.ErrNotFound {
		return creationRecord{}, false, nil
	}
	if err != nil {
		return creationRecord{}, false, err
	}
	rec, err := decodeCreationRecord(id, raw)
	if err != nil {
		return creationRecord{}, false, err
	}
	return rec, true, nil
}

// detectCreations handles every Event::CreateAlkane in tx's traces:
// fetch and inspect the new alkane's WASM, simulate
// cap/mint-amount calls when advertised, fold in any in-block watched-key
// storage writes, and update the by_id/ordered/name_index/symbol_index
// views.
func (m *Module) detectCreations(b *mdb.HeightBatch, height uint32, txIndex int, it traceassembler.IndexedTransaction) error {
	ts := m.lastBlockTimestamp
	for _, tr := range it.Traces {
		for _, ev := range tr.Events.Events {
			if ev.Kind != tracepb.EventCreateAlkane || ev.CreateAlkane == nil || ev.CreateAlkane.NewAlkane == nil {
				continue
			}
			newID := ev.CreateAlkane.NewAlkane.ToDomain()
			if err := m.recordCreation(b, height, ts, txIndex, it, newID, tr); err != nil {
				return errors.Wrapf(err, "essentials: recording creation of %s", newID)
			}
		}
	}
	return nil
}

func (m *Module) recordCreation(b *mdb.HeightBatch, height, ts uint32, txIndex int, it traceassembler.IndexedTransaction, newID alkaneid.ID, tr traceassembler.TraceRecord) error {
	if _, exists, err := m.getCreationRecord(newID); err != nil {
		return err
	} else if exists {
		return nil
	}

	rec := creationRecord{
		ID:         newID,
		CreateTxid: it.Tx.Txid,
		Height:     height,
		Timestamp:  ts,
		TxIndex:    uint32(txIndex),
	}

	sb := newID.StorageBytes()
	for _, sc := range tr.Storage {
		if !sc.Owner.Equal(newID) {
			continue
		}
		switch {
		case equalKey(sc.Key, watchedKeyName):
			rec.Names = appendUnique(rec.Names, string(sc.Value))
		case equalKey(sc.Key, watchedKeySymbol):
			rec.Symbols = appendUnique(rec.Symbols, string(sc.Value))
		case equalKey(sc.Key, watchedKeyCap):
			rec.Cap = append([]byte{}, sc.Value...)
		case equalKey(sc.Key, watchedKeyValuePerMint):
			rec.MintAmount = append([]byte{}, sc.Value...)
		}
	}

	if wasmBytes, _, err := m.up.GetAlkaneWasmBytes(newID); err != nil {
		log.Debugf("essentials: fetching wasm for %s: %v", newID, err)
	} else if insp, err := m.inspector.Inspect(wasmBytes); err != nil {
		log.Debugf("essentials: inspecting wasm for %s: %v", newID, err)
	} else {
		rec.HasMetadata = true
		rec.Names = appendUnique(rec.Names, insp.Name)
		rec.Symbols = appendUnique(rec.Symbols, insp.Symbol)
		if insp.HasOpcode(wasminspect.OpcodeGetCap) {
			if cap, err := m.inspector.Simulate(wasmBytes, wasminspect.OpcodeGetCap); err == nil {
				rec.Cap = cap.Bytes()
			}
		}
		if insp.HasOpcode(wasminspect.OpcodeGetValuePerMint) {
			if mint, err := m.inspector.Simulate(wasmBytes, wasminspect.OpcodeGetValuePerMint); err == nil {
				rec.MintAmount = mint.Bytes()
			}
		}
	}

	b.Put(creationByIDKey(sb), encodeCreationRecord(rec))
	b.Put(creationOrderedKey(ts, height, uint32(txIndex), sb), []byte{})
	for _, name := range rec.Names {
		b.Put(creationNameKey(strings.ToLower(name), sb), []byte{})
	}
	for _, sym := range rec.Symbols {
		b.Put(creationSymbolKey(strings.ToLower(sym), sb), []byte{})
	}
	return nil
}

func equalKey(a, b []byte) bool {
	return string(a) == string(b)
}
