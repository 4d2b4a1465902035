// Package upstream adapts this indexer's own ordkv-backed store onto the
// metashrew-style "/alkanes/..." and "/trace/..." key conventions the
// upstream indexer writes. It is grounded directly on
// original_source/src/alkanes/metashrew.rs: versioned-pointer lookup with
// bounded recursive depth, WASM alias chain resolution, and the paired
// runes/balances list scan for an outpoint's alkane holdings.
package upstream

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/big"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
)

var log = logs.Logger(logs.Tags.UPST)

const maxAliasHops = 64

// Adapter reads the upstream's key/value conventions out of a raw ordkv
// store. label, when non-empty, namespaces every upstream key with
// "<label>://", letting multiple upstream views share one physical DB.
type Adapter struct {
	store *ordkv.Store
	label string
}

// New returns an adapter over store, optionally scoped to label.
func New(store *ordkv.Store, label string) *Adapter {
	return &Adapter{store: store, label: strings.TrimSpace(label)}
}

// CatchUpNow approximates the upstream's secondary-DB freshness barrier.
// goleveldb has no native RocksDB-style "catch up with primary" secondary
// instance mode, so every read path here simply reads whatever the shared
// handle currently sees; CatchUpNow is a deliberate no-op kept as an
// explicit call site so the boot sequence and callers read the same as the
// original's db.catch_up_now() barrier (see DESIGN.md Open Questions).
func (a *Adapter) CatchUpNow() error {
	return nil
}

func (a *Adapter) applyLabel(key []byte) []byte {
	if a.label == "" {
		return key
	}
	out := make([]byte, 0, len(a.label)+3+len(key))
	out = append(out, a.label...)
	out = append(out, ':', '/', '/')
	out = append(out, key...)
	return out
}

// nextPrefix computes the exclusive upper bound for an ascending scan over
// everything beginning with p, incrementing the last non-0xff byte.
func nextPrefix(p []byte) []byte {
	out := append([]byte{}, p...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

// versionedPointer mirrors metashrew.rs's VersionedPointer: a base key that
// may resolve directly, or via a "<base>/length" counter plus a
// "<base>/<len-1>" entry, recursed up to depth 2 to follow one extra
// indirection layer some upstream entries carry.
type versionedPointer struct {
	a    *Adapter
	base []byte
}

func (a *Adapter) pointer(base []byte) versionedPointer {
	return versionedPointer{a: a, base: base}
}

func (p versionedPointer) getKey(key []byte) ([]byte, error) {
	v, err := p.a.store.Get(p.a.applyLabel(key))
	if err == ordkv.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

func (p versionedPointer) Get() ([]byte, error) {
	return p.getWithDepth(p.base, 0)
}

func (p versionedPointer) Len() (int, bool, error) {
	return p.lengthWithDepth(p.base, 0)
}

func (p versionedPointer) GetIndex(idx uint64) ([]byte, error) {
	key := append(append([]byte{}, p.base...), '/')
	key = append(key, []byte(strconv.FormatUint(idx, 10))...)
	return p.getWithDepth(key, 0)
}

func (p versionedPointer) getWithDepth(base []byte, depth int) ([]byte, error) {
	if depth > 2 {
		return nil, nil
	}
	if v, err := p.getKey(base); err != nil {
		return nil, err
	} else if v != nil {
		return v, nil
	}

	length, ok, err := p.lengthWithDepth(base, depth)
	if err != nil {
		return nil, err
	}
	if !ok || length == 0 {
		return nil, nil
	}
	idx := length - 1

	key := append(append([]byte{}, base...), '/')
	key = append(key, []byte(strconv.Itoa(idx))...)

	if v, err := p.getKey(key); err != nil {
		return nil, err
	} else if v != nil {
		return v, nil
	}
	if depth >= 2 {
		return nil, nil
	}
	return p.getWithDepth(key, depth+1)
}

func (p versionedPointer) lengthWithDepth(base []byte, depth int) (int, bool, error) {
	lengthKey := append(append([]byte{}, base...), []byte("/length")...)
	if v, err := p.getKey(lengthKey); err != nil {
		return 0, false, err
	} else if v != nil {
		n, ok := parseASCIIOrLEUint64(v)
		return int(n), ok, nil
	}
	if depth >= 2 {
		return 0, false, nil
	}
	v, err := p.getWithDepth(lengthKey, depth+1)
	if err != nil {
		return 0, false, err
	}
	if v == nil {
		return 0, false, nil
	}
	n, ok := parseASCIIOrLEUint64(v)
	return int(n), ok, nil
}

// parseASCIIOrLEUint64 parses bytes as a decimal ASCII integer, an
// ascii "height:HEX" pointer to one, or a raw 4/8-byte little-endian
// integer — the three encodings length counters and index values appear in.
func parseASCIIOrLEUint64(b []byte) (uint64, bool) {
	if s := string(b); isPrintableASCII(s) {
		if v, err := strconv.ParseUint(s, 10, 64); err == nil {
			return v, true
		}
		if _, hexPart, ok := strings.Cut(s, ":"); ok {
			if decoded, err := hex.DecodeString(hexPart); err == nil {
				return parseASCIIOrLEUint64(decoded)
			}
		}
	}
	switch len(b) {
	case 4:
		return uint64(binary.LittleEndian.Uint32(b)), true
	case 8:
		return binary.LittleEndian.Uint64(b), true
	default:
		return 0, false
	}
}

func isPrintableASCII(s string) bool {
	for _, r := range s {
		if r < 0x20 || r > 0x7e {
			return false
		}
	}
	return len(s) > 0
}

// decodeVersionedPayload strips an optional "<height>:<hex>" ASCII
// wrapper some upstream entries carry, returning the raw payload.
func decodeVersionedPayload(b []byte) ([]byte, error) {
	if isPrintableASCII(string(b)) {
		if _, hexPart, ok := strings.Cut(string(b), ":"); ok {
			decoded, err := hex.DecodeString(hexPart)
			if err != nil {
				return nil, errors.Wrapf(err, "hex decode versioned payload %q", hexPart)
			}
			return decoded, nil
		}
	}
	return b, nil
}

func decodeU128LE(b []byte) (*big.Int, error) {
	if len(b) != 16 {
		return nil, errors.Errorf("expected 16 bytes for u128, got %d", len(b))
	}
	le := make([]byte, 16)
	for i, v := range b {
		le[15-i] = v
	}
	return new(big.Int).SetBytes(le), nil
}

// --- WASM bytecode resolution ---

// GetAlkaneWasmBytes resolves id's WASM module bytes, following alias
// chains (an alkane whose "/alkanes/<id>" slot stores another AlkaneId
// rather than gzip-compressed bytecode) up to maxAliasHops, detecting
// cycles along the way. Returns the resolved (possibly aliased-to) id
// alongside the decompressed bytes.
func (a *Adapter) GetAlkaneWasmBytes(id alkaneid.ID) ([]byte, alkaneid.ID, error) {
	seen := make(map[alkaneid.ID]bool)
	return a.loadWasmInner(id, seen, 0)
}

func (a *Adapter) loadWasmInner(id alkaneid.ID, seen map[alkaneid.ID]bool, hops int) ([]byte, alkaneid.ID, error) {
	if hops > maxAliasHops {
		return nil, alkaneid.ID{}, errors.New("upstream: alias chain too deep (possible cycle)")
	}
	if seen[id] {
		return nil, alkaneid.ID{}, errors.Errorf("upstream: alias cycle detected at %s", id)
	}
	seen[id] = true

	wire := id.Bytes()
	baseLE := append([]byte("/alkanes/"), wire[:]...)

	candidates := make([][]byte, 0, 5)
	candidates = append(candidates, append([]byte{}, baseLE...))
	for i := byte(0); i <= 3; i++ {
		k := append(append([]byte{}, baseLE...), '/', '0'+i)
		candidates = append(candidates, k)
	}

	var lastErr error
	for _, key := range candidates {
		raw, err := a.pointer(key).Get()
		if err != nil {
			return nil, alkaneid.ID{}, err
		}
		if len(raw) == 0 {
			continue
		}

		if len(raw) == 32 {
			var arr [32]byte
			copy(arr[:], raw)
			alias := alkaneid.IDFromBytes(arr)
			return a.loadWasmInner(alias, seen, hops+1)
		}

		payload := raw
		if isPrintableASCII(string(raw)) {
			if _, hexPart, ok := strings.Cut(string(raw), ":"); ok {
				if decoded, err := hex.DecodeString(hexPart); err == nil {
					payload = decoded
				}
			}
		}
		if len(payload) == 32 {
			var arr [32]byte
			copy(arr[:], payload)
			alias := alkaneid.IDFromBytes(arr)
			return a.loadWasmInner(alias, seen, hops+1)
		}

		bytesOut, err := gunzip(payload)
		if err != nil {
			lastErr = err
			continue
		}
		return bytesOut, id, nil
	}

	if lastErr != nil {
		return nil, alkaneid.ID{}, errors.Wrap(lastErr, "upstream: decompress alkane wasm payload")
	}
	return nil, alkaneid.ID{}, nil
}

func gunzip(payload []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer r.Close()
	return io.ReadAll(r)
}

// --- Reserves (price-feed support) ---

// GetReservesForAlkane returns who's balance of what as of height (or the
// latest known value if height is nil), via binary search over the
// versioned "/alkanes/<what>/balances/<who>" entry list.
func (a *Adapter) GetReservesForAlkane(who, what alkaneid.ID, height *uint64) (*big.Int, error) {
	whatWire, whoWire := what.Bytes(), who.Bytes()
	prefix := append([]byte("/alkanes/"), whatWire[:]...)
	prefix = append(prefix, []byte("/balances/")...)
	prefix = append(prefix, whoWire[:]...)

	ptr := a.pointer(prefix)

	parseEntry := func(b []byte) (uint64, *big.Int, error) {
		s := string(b)
		heightStr, hexPart, ok := strings.Cut(s, ":")
		if !ok {
			return 0, nil, errors.New("upstream: balance entry missing ':'")
		}
		updatedHeight, err := strconv.ParseUint(heightStr, 10, 64)
		if err != nil {
			return 0, nil, errors.Wrapf(err, "parse balance height %q", heightStr)
		}
		raw, err := hex.DecodeString(hexPart)
		if err != nil {
			return 0, nil, errors.Wrapf(err, "hex decode balance payload %q", hexPart)
		}
		bal, err := decodeU128LE(raw)
		if err != nil {
			return 0, nil, err
		}
		return updatedHeight, bal, nil
	}

	readEntryAt := func(idx uint64) (uint64, *big.Int, bool, error) {
		b, err := ptr.GetIndex(idx)
		if err != nil {
			return 0, nil, false, err
		}
		if b == nil {
			return 0, nil, false, nil
		}
		h, bal, err := parseEntry(b)
		if err != nil {
			return 0, nil, false, err
		}
		return h, bal, true, nil
	}

	if height == nil {
		b, err := ptr.Get()
		if err != nil {
			return nil, err
		}
		if b == nil {
			return nil, nil
		}
		_, bal, err := parseEntry(b)
		return bal, err
	}

	length, ok, err := ptr.Len()
	if err != nil {
		return nil, err
	}
	if !ok || length == 0 {
		return nil, nil
	}
	lastIdx := uint64(length - 1)

	if b, err := ptr.Get(); err != nil {
		return nil, err
	} else if b != nil {
		latestHeight, latestBal, err := parseEntry(b)
		if err != nil {
			return nil, err
		}
		if latestHeight <= *height {
			return latestBal, nil
		}
	}

	var low, high = uint64(0), lastIdx
	var best *big.Int
	for low <= high {
		mid := low + (high-low)/2
		entryHeight, entryBal, ok, err := readEntryAt(mid)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if entryHeight <= *height {
			best = entryBal
			if mid == ^uint64(0) {
				break
			}
			low = mid + 1
		} else {
			if mid == 0 {
				break
			}
			high = mid - 1
		}
	}
	return best, nil
}

// --- Outpoint balances (Stage 2 cross-check) ---

// OutpointBalance is one (alkane, amount) pair held at an outpoint.
type OutpointBalance struct {
	ID      alkaneid.ID
	Balance *big.Int
}

func (a *Adapter) outpointBalancePrefix(op alkaneid.Outpoint) []byte {
	wire := op.Bytes()
	base := append([]byte("/runes/proto/1/byoutpoint/"), wire[:]...)
	return base
}

// GetOutpointAlkaneBalances returns every alkane balance recorded at the
// given outpoint, read as two parallel versioned lists ("runes" ids and
// "balances" amounts) under the outpoint's latest version. A strictly
// shorter balances list than the ids list is a hard error (data loss); a
// longer one is tolerated with a logged warning.
func (a *Adapter) GetOutpointAlkaneBalances(op alkaneid.Outpoint) ([]OutpointBalance, error) {
	base := a.outpointBalancePrefix(op)
	runesBase := append(append([]byte{}, base...), []byte("/runes")...)
	balancesBase := append(append([]byte{}, base...), []byte("/balances")...)

	runesVersions, ok1, err := a.pointer(runesBase).Len()
	if err != nil {
		return nil, err
	}
	balancesVersions, ok2, err := a.pointer(balancesBase).Len()
	if err != nil {
		return nil, err
	}
	if !ok1 || !ok2 || runesVersions == 0 || balancesVersions == 0 {
		return nil, nil
	}

	runesListBase := append(append([]byte{}, runesBase...), '/')
	runesListBase = append(runesListBase, []byte(strconv.Itoa(runesVersions-1))...)
	balancesListBase := append(append([]byte{}, balancesBase...), '/')
	balancesListBase = append(balancesListBase, []byte(strconv.Itoa(balancesVersions-1))...)

	runesPtr := a.pointer(runesListBase)
	balancesPtr := a.pointer(balancesListBase)

	runesLen, ok3, err := runesPtr.Len()
	if err != nil {
		return nil, err
	}
	balancesLen, ok4, err := balancesPtr.Len()
	if err != nil {
		return nil, err
	}
	if !ok3 || !ok4 || runesLen == 0 || balancesLen == 0 {
		return nil, nil
	}
	if balancesLen < runesLen {
		return nil, errors.Errorf(
			"upstream: outpoint balance array missing balances: runes_len=%d balances_len=%d",
			runesLen, balancesLen)
	}
	if balancesLen > runesLen {
		log.Warnf("outpoint balance arrays: extra balances ignored (runes_len=%d balances_len=%d)",
			runesLen, balancesLen)
	}

	out := make([]OutpointBalance, 0, runesLen)
	for idx := 0; idx < runesLen; idx++ {
		runeBytes, err := runesPtr.GetIndex(uint64(idx))
		if err != nil {
			return nil, err
		}
		if runeBytes == nil {
			return nil, errors.Errorf("upstream: missing runes/%d", idx)
		}
		balanceBytes, err := balancesPtr.GetIndex(uint64(idx))
		if err != nil {
			return nil, err
		}
		if balanceBytes == nil {
			return nil, errors.Errorf("upstream: missing balances/%d", idx)
		}

		runePayload, err := decodeVersionedPayload(runeBytes)
		if err != nil {
			return nil, err
		}
		balancePayload, err := decodeVersionedPayload(balanceBytes)
		if err != nil {
			return nil, err
		}

		if len(runePayload) != 32 {
			return nil, errors.Errorf("upstream: expected 32 bytes for AlkaneId, got %d", len(runePayload))
		}
		var arr [32]byte
		copy(arr[:], runePayload)
		id := alkaneid.IDFromBytes(arr)

		bal, err := decodeU128LE(balancePayload)
		if err != nil {
			return nil, err
		}
		out = append(out, OutpointBalance{ID: id, Balance: bal})
	}
	return out, nil
}

// --- Trace enumeration ---

// Trace pairs one decoded AlkanesTrace with the outpoint it was recorded
// against.
type Trace struct {
	Outpoint alkaneid.Outpoint
	Events   *tracepb.Trace
}

// decodeTraceBlob mirrors decode_trace_blob: traces are stored either as
// raw protobuf bytes, or as an ASCII "<height>:<hex>" wrapper, and some
// entries carry a spurious 4-byte trailer that must be stripped before the
// bytes parse as a valid message.
func decodeTraceBlob(b []byte) (*tracepb.Trace, bool) {
	if isPrintableASCII(string(b)) {
		if _, hexPart, ok := strings.Cut(string(b), ":"); ok {
			if decoded, err := hex.DecodeString(hexPart); err == nil {
				if t, ok := tryDecodeTrace(decoded); ok {
					return t, true
				}
			}
		}
	}
	return tryDecodeTrace(b)
}

func tryDecodeTrace(raw []byte) (*tracepb.Trace, bool) {
	if t, err := tracepb.Decode(raw); err == nil {
		return t, true
	}
	if len(raw) >= 4 {
		if t, err := tracepb.Decode(raw[:len(raw)-4]); err == nil {
			return t, true
		}
	}
	return nil, false
}

// TracesForBlock enumerates every trace recorded for height, via the
// "/trace/<height LE u64>" list of outpoint pointers.
func (a *Adapter) TracesForBlock(height uint64) ([]Trace, error) {
	if err := a.CatchUpNow(); err != nil {
		return nil, err
	}
	var heightLE [8]byte
	binary.LittleEndian.PutUint64(heightLE[:], height)
	base := append([]byte("/trace/"), heightLE[:]...)

	listLen, ok, err := a.pointer(base).Len()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	var out []Trace
	seen := make(map[string]bool)
	var missingPointers, missingBlobs, badPointers int

	for idx := 0; idx < listLen; idx++ {
		pointerKey := append(append([]byte{}, base...), '/')
		pointerKey = append(pointerKey, []byte(strconv.Itoa(idx))...)

		pointerValue, err := a.pointer(pointerKey).Get()
		if err != nil {
			return nil, err
		}
		if pointerValue == nil {
			missingPointers++
			continue
		}

		var outpointBytes []byte
		if isPrintableASCII(string(pointerValue)) {
			if _, hexPart, ok := strings.Cut(string(pointerValue), ":"); ok {
				if decoded, err := hex.DecodeString(hexPart); err == nil {
					outpointBytes = decoded
				}
			}
		}
		if outpointBytes == nil && len(pointerValue) >= 36 {
			outpointBytes = pointerValue[:36]
		}
		if outpointBytes == nil {
			badPointers++
			continue
		}
		if len(outpointBytes) > 36 {
			outpointBytes = outpointBytes[:36]
		}
		key := string(outpointBytes)
		if seen[key] {
			continue
		}
		seen[key] = true

		traceKey := append([]byte("/trace/"), outpointBytes...)
		traceRaw, err := a.pointer(traceKey).Get()
		if err != nil {
			return nil, err
		}
		if traceRaw == nil {
			missingBlobs++
			continue
		}
		trace, ok := decodeTraceBlob(traceRaw)
		if !ok {
			missingBlobs++
			continue
		}

		if len(outpointBytes) != 36 {
			badPointers++
			continue
		}
		var arr [36]byte
		copy(arr[:], outpointBytes)
		out = append(out, Trace{Outpoint: alkaneid.OutpointFromBytes(arr), Events: trace})
	}

	if missingPointers > 0 || missingBlobs > 0 || badPointers > 0 {
		log.Debugf("traces_for_block(%d): missing_pointers=%d missing_blobs=%d bad_pointers=%d",
			height, missingPointers, missingBlobs, badPointers)
	}

	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].Outpoint.Bytes(), out[j].Outpoint.Bytes()
		return bytes.Compare(bi[:], bj[:]) < 0
	})
	return out, nil
}

// TracesForTx fetches every trace recorded for txid directly, without
// needing the containing block's height — used by the mempool preview
// path, which only ever sees unconfirmed transactions.
func (a *Adapter) TracesForTx(txid alkaneid.Txid) ([]Trace, error) {
	if err := a.CatchUpNow(); err != nil {
		return nil, err
	}

	canonical := append([]byte{}, txid.Bytes()...)
	reversed := append([]byte{}, canonical...)
	reverseBytes(reversed)

	byOutpoint := make(map[string]*tracepb.Trace)

	// The upstream may key trace entries by either byte order of the
	// txid; scan both, normalizing every match back to this indexer's
	// canonical little-endian outpoint encoding (alkaneid.Outpoint.Bytes).
	scan := func(txBytes []byte, needsReversalToCanonical bool) error {
		prefix := append([]byte("/trace/"), txBytes...)
		prefix = a.applyLabel(prefix)
		upper := nextPrefix(prefix)

		txOutpoint := append([]byte{}, txBytes...)
		if needsReversalToCanonical {
			reverseBytes(txOutpoint)
		}

		c := a.store.Cursor(prefix)
		defer c.Close()
		for ok := c.First(); ok; ok = c.Next() {
			full := c.FullKey()
			if upper != nil && bytes.Compare(full, upper) >= 0 {
				break
			}
			suffix := full[len(prefix):]
			if len(suffix) < 4 {
				continue
			}
			voutLE := suffix[:4]
			rest := suffix[4:]

			outpoint := append(append([]byte{}, txOutpoint...), voutLE...)
			if len(rest) == 0 {
				if trace, ok := decodeTraceBlob(c.Value()); ok {
					byOutpoint[string(outpoint)] = trace
				}
				continue
			}
			if rest[0] != '/' {
				continue
			}
			remainder := rest[1:]
			if len(remainder) == 0 || string(remainder) == "length" {
				continue
			}
			if bytes.Contains(remainder, []byte("length")) {
				continue
			}
			if trace, ok := decodeTraceBlob(c.Value()); ok {
				if _, exists := byOutpoint[string(outpoint)]; !exists {
					byOutpoint[string(outpoint)] = trace
				}
			}
		}
		return nil
	}

	if err := scan(canonical, false); err != nil {
		return nil, err
	}
	if !bytes.Equal(reversed, canonical) {
		if err := scan(reversed, true); err != nil {
			return nil, err
		}
	}

	var out []Trace
	for key, trace := range byOutpoint {
		if len(key) < 36 {
			continue
		}
		traceKey := append([]byte("/trace/"), []byte(key)...)
		if authoritative, err := a.pointer(traceKey).Get(); err == nil && authoritative != nil {
			if t, ok := decodeTraceBlob(authoritative); ok {
				trace = t
			}
		}
		if len(key) != 36 {
			continue
		}
		var arr [36]byte
		copy(arr[:], []byte(key))
		out = append(out, Trace{Outpoint: alkaneid.OutpointFromBytes(arr), Events: trace})
	}

	sort.Slice(out, func(i, j int) bool {
		bi, bj := out[i].Outpoint.Bytes(), out[j].Outpoint.Bytes()
		return bytes.Compare(bi[:], bj[:]) < 0
	})
	return out, nil
}

func reverseBytes(b []byte) {
	for i, j := 0, len(b)-1; i < j; i, j = i+1, j-1 {
		b[i], b[j] = b[j], b[i]
	}
}

// TipHeight returns the upstream's last-indexed height, the gate the
// scheduler polls before pulling a new block's traces.
func (a *Adapter) TipHeight() (uint32, error) {
	v, err := a.store.Get(a.applyLabel([]byte("__INTERNAL/height")))
	if err == ordkv.ErrNotFound {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if len(v) != 4 {
		return 0, errors.Errorf("upstream: expected 4 bytes for tip height, got %d", len(v))
	}
	return binary.LittleEndian.Uint32(v), nil
}
