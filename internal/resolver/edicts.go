package resolver

import (
	"math/big"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/protostone"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
)

// collectVinBalances reads every alkane balance recorded against tx's
// spent outpoints (via store, overlaid with this block's own ephemeral
// allocations), returning the pooled per-token total (the "VIN balances"
// sheet Stage 2's edict routing consumes) and the holder-vector debits those
// spends produce unconditionally — a spent outpoint's recorded balance is
// always removed from its holder, whether or not this tx is an alkanes
// tx at all; only an explicit edict (or the index-0 NoTrace merge) ever
// carries it forward to a new output.
func collectVinBalances(tx blocksource.Tx, store BalanceStore, overlay *blockOverlay) (map[alkaneid.ID]*big.Int, []HolderTokenDelta, error) {
	pooled := make(map[alkaneid.ID]*big.Int)
	var debits []HolderTokenDelta

	for _, in := range tx.Vin {
		if in.PrevOut.Vout == 0xffffffff {
			continue // coinbase: no alkane balance to inherit
		}
		balances, err := lookupOutpointBalances(store, overlay, in.PrevOut)
		if err != nil {
			return nil, nil, err
		}
		if len(balances) == 0 {
			continue
		}
		holder := lookupOutpointHolder(store, overlay, in.PrevOut)
		for _, b := range balances {
			if existing, ok := pooled[b.ID]; ok {
				existing.Add(existing, b.Balance)
			} else {
				pooled[b.ID] = new(big.Int).Set(b.Balance)
			}
			debits = append(debits, HolderTokenDelta{
				Holder: holder,
				Token:  b.ID,
				Delta:  amount.FromBigInt(true, b.Balance),
			})
		}
	}
	return pooled, debits, nil
}

// runStage2 walks rs's Protostones in order, routing edicts and leftover
// balances across spendable/multicast/shadow output indices, and records the final per-vout token credits plus the
// resulting holder-vector deltas those credits produce.
func runStage2(
	res *TxResult,
	it traceassembler.IndexedTransaction,
	rs *protostone.Runestone,
	opReturnVout uint32,
	traceByShadow map[uint32]*traceResolution,
	vinBalances map[alkaneid.ID]*big.Int,
) error {
	tx := it.Tx
	n := uint32(len(tx.Vout))
	numProtostones := uint32(len(rs.Protostones))
	shadowLo, shadowHi := n+1, n+numProtostones

	var spendable []uint32
	for i := range tx.Vout {
		if uint32(i) == opReturnVout {
			continue
		}
		spendable = append(spendable, uint32(i))
	}
	spendableSet := make(map[uint32]bool, len(spendable))
	for _, v := range spendable {
		spendableSet[v] = true
	}

	allocAcc := make(map[uint32]map[alkaneid.ID]*big.Int)
	incomingShadow := make(map[uint32]map[alkaneid.ID]*big.Int)
	vinConsumed := false

	for i, stone := range rs.Protostones {
		shadowVout := n + 1 + uint32(i)
		sheet := incomingShadow[shadowVout]
		if sheet == nil {
			sheet = make(map[alkaneid.ID]*big.Int)
		}
		delete(incomingShadow, shadowVout)

		resolution, hasTrace := traceByShadow[shadowVout]
		status := statusNoTrace
		if hasTrace {
			status = resolution.Status
		}

		switch status {
		case statusSuccess:
			for token, in := range resolution.NetIn {
				subtractFromSheet(sheet, token, in)
			}
			for token, out := range resolution.NetOut {
				addToSheet(sheet, token, out)
			}
		case statusNoTrace:
			if i == 0 && !vinConsumed {
				vinConsumed = true
				for token, amt := range vinBalances {
					addToSheet(sheet, token, amt)
				}
			}
		case statusFailure:
			if stone.Refund != nil {
				routeAllSheet(allocAcc, incomingShadow, spendableSet, spendable, n, shadowLo, shadowHi, *stone.Refund, sheet)
			}
			// else: burn (sheet simply discarded below)
			continue
		}

		for _, e := range stone.Edicts {
			token := alkaneid.ID{Block: uint32(e.Block), Tx: e.Tx}
			available := sheetAmount(sheet, token)
			if available.Sign() <= 0 {
				continue
			}
			switch {
			case e.Output == n: // multicast
				if e.Amount == 0 {
					splitEvenAll(allocAcc, spendable, token, available)
					sheet[token] = big.NewInt(0)
				} else {
					perOutputCap := new(big.Int).SetUint64(e.Amount)
					remaining := splitWithCap(allocAcc, spendable, token, available, perOutputCap)
					sheet[token] = remaining
				}
			case e.Output < n:
				amt := minBig(new(big.Int).SetUint64(e.Amount), available)
				sheet[token] = new(big.Int).Sub(available, amt)
				if spendableSet[e.Output] {
					addAlloc(allocAcc, e.Output, token, amt)
				}
				// else: drop (burn) — amount already removed from sheet above
			case e.Output >= shadowLo && e.Output <= shadowHi:
				amt := minBig(new(big.Int).SetUint64(e.Amount), available)
				sheet[token] = new(big.Int).Sub(available, amt)
				addShadowIncoming(incomingShadow, e.Output, token, amt)
			default:
				// out of range: burn by omission
				amt := minBig(new(big.Int).SetUint64(e.Amount), available)
				sheet[token] = new(big.Int).Sub(available, amt)
			}
		}

		// Leftover policy: route whatever remains, do not auto-chain.
		if !sheetEmpty(sheet) {
			if stone.Pointer != nil {
				routeAllSheet(allocAcc, incomingShadow, spendableSet, spendable, n, shadowLo, shadowHi, *stone.Pointer, sheet)
			} else if len(spendable) > 0 {
				for token, amt := range sheet {
					if amt.Sign() > 0 {
						addAlloc(allocAcc, spendable[0], token, new(big.Int).Set(amt))
					}
				}
			}
			// else: burn (no spendable output, no pointer)
		}
	}

	// If no protostone claimed it via the index-0 NoTrace merge, every
	// pooled VIN balance was already burned on spend (collectVinBalances's
	// debits already removed it from its holder; nothing here carries it
	// forward).
	_ = vinConsumed

	finalizeAllocations(res, allocAcc, tx)
	return nil
}

// routeAllSheet routes every token amount currently in sheet to dest,
// following the edicts' shared index semantics (spendable/multicast/
// shadow/burn), emptying sheet as it goes.
func routeAllSheet(
	allocAcc map[uint32]map[alkaneid.ID]*big.Int,
	incomingShadow map[uint32]map[alkaneid.ID]*big.Int,
	spendableSet map[uint32]bool,
	spendable []uint32,
	n, shadowLo, shadowHi uint32,
	dest uint32,
	sheet map[alkaneid.ID]*big.Int,
) {
	for token, amt := range sheet {
		if amt.Sign() <= 0 {
			continue
		}
		switch {
		case dest == n:
			splitEvenAll(allocAcc, spendable, token, amt)
		case dest < n:
			if spendableSet[dest] {
				addAlloc(allocAcc, dest, token, amt)
			}
		case dest >= shadowLo && dest <= shadowHi:
			addShadowIncoming(incomingShadow, dest, token, amt)
		}
		sheet[token] = big.NewInt(0)
	}
}

func addAlloc(acc map[uint32]map[alkaneid.ID]*big.Int, vout uint32, token alkaneid.ID, amt *big.Int) {
	if amt.Sign() <= 0 {
		return
	}
	m, ok := acc[vout]
	if !ok {
		m = make(map[alkaneid.ID]*big.Int)
		acc[vout] = m
	}
	if existing, ok := m[token]; ok {
		existing.Add(existing, amt)
	} else {
		m[token] = new(big.Int).Set(amt)
	}
}

func addShadowIncoming(incoming map[uint32]map[alkaneid.ID]*big.Int, vout uint32, token alkaneid.ID, amt *big.Int) {
	m, ok := incoming[vout]
	if !ok {
		m = make(map[alkaneid.ID]*big.Int)
		incoming[vout] = m
	}
	if existing, ok := m[token]; ok {
		existing.Add(existing, amt)
	} else {
		m[token] = new(big.Int).Set(amt)
	}
}

func subtractFromSheet(sheet map[alkaneid.ID]*big.Int, token alkaneid.ID, amt *big.Int) {
	cur := sheetAmount(sheet, token)
	next := new(big.Int).Sub(cur, amt)
	if next.Sign() < 0 {
		log.Debugf("resolver: sheet underflow for token %s, clamping to zero", token)
		next = big.NewInt(0)
	}
	sheet[token] = next
}

func addToSheet(sheet map[alkaneid.ID]*big.Int, token alkaneid.ID, amt *big.Int) {
	cur := sheetAmount(sheet, token)
	sheet[token] = new(big.Int).Add(cur, amt)
}

func sheetAmount(sheet map[alkaneid.ID]*big.Int, token alkaneid.ID) *big.Int {
	if v, ok := sheet[token]; ok {
		return v
	}
	return big.NewInt(0)
}

func sheetEmpty(sheet map[alkaneid.ID]*big.Int) bool {
	for _, v := range sheet {
		if v.Sign() > 0 {
			return false
		}
	}
	return true
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// splitEvenAll distributes the entirety of amt across spendable outputs
// evenly, with any remainder going to the first outputs in order.
func splitEvenAll(acc map[uint32]map[alkaneid.ID]*big.Int, spendable []uint32, token alkaneid.ID, amt *big.Int) {
	if len(spendable) == 0 || amt.Sign() <= 0 {
		return
	}
	count := big.NewInt(int64(len(spendable)))
	base := new(big.Int)
	remainder := new(big.Int)
	base.DivMod(amt, count, remainder)
	r := remainder.Int64()
	for idx, vout := range spendable {
		share := new(big.Int).Set(base)
		if int64(idx) < r {
			share.Add(share, big.NewInt(1))
		}
		if share.Sign() > 0 {
			addAlloc(acc, vout, token, share)
		}
	}
}

// splitWithCap distributes amt across spendable outputs, capping each
// output's share at cap, stopping once amt is exhausted. Returns whatever remains undistributed
// (e.g. if cap * len(spendable) < amt).
func splitWithCap(acc map[uint32]map[alkaneid.ID]*big.Int, spendable []uint32, token alkaneid.ID, amt *big.Int, cap *big.Int) *big.Int {
	remaining := new(big.Int).Set(amt)
	for _, vout := range spendable {
		if remaining.Sign() <= 0 {
			break
		}
		share := minBig(cap, remaining)
		addAlloc(acc, vout, token, share)
		remaining.Sub(remaining, share)
	}
	return remaining
}

// finalizeAllocations flattens allocAcc into res.VoutAllocations and
// derives the holder-vector credit deltas those allocations produce
//.
func finalizeAllocations(res *TxResult, allocAcc map[uint32]map[alkaneid.ID]*big.Int, tx blocksource.Tx) {
	for vout, byToken := range allocAcc {
		var allocs []VoutAllocation
		for token, amt := range byToken {
			if amt.Sign() <= 0 {
				continue
			}
			allocs = append(allocs, VoutAllocation{Token: token, Amount: amt})
			if int(vout) < len(tx.Vout) {
				holder := scriptHolder(tx.Vout[vout].Script)
				htd := HolderTokenDelta{Holder: holder, Token: token, Delta: amount.FromBigInt(false, amt)}
				res.HolderDeltas = append(res.HolderDeltas, htd)
				res.Outflow = append(res.Outflow, htd)
			}
		}
		if len(allocs) > 0 {
			res.VoutAllocations[vout] = allocs
		}
	}
}

// scriptHolder derives a Holder from a scriptPubKey. No Bitcoin
// address-encoding library (base58/bech32) exists anywhere in this
// retrieval pack — see DESIGN.md's Open Question resolution — so the
// holder's "address" is the hex-encoded scriptPubKey itself rather than a
// decoded bech32/base58 string; this is stable and unique per spending
// condition, which is all the resolver's own correctness depends on.
func scriptHolder(script []byte) alkaneid.Holder {
	return alkaneid.NewAddressHolder(hexEncode(script))
}

func hexEncode(b []byte) string {
	const hexdigits = "0123456789abcdef"
	out := make([]byte, len(b)*2)
	for i, c := range b {
		out[i*2] = hexdigits[c>>4]
		out[i*2+1] = hexdigits[c&0x0f]
	}
	return string(out)
}

// lookupOutpointHolder resolves the holder that owned op when it was
// created: the in-block overlay (for outpoints this same block produced)
// or, failing that, a synthetic holder keyed by the outpoint itself — our
// own persisted outpoint-balance table (internal/modules/essentials,
// BalanceStore) does not separately track a historical "script at
// creation time" index, since the outpoint balance table's row already is
// that record; essentials resolves the real script at write time.
func lookupOutpointHolder(store BalanceStore, overlay *blockOverlay, op alkaneid.Outpoint) alkaneid.Holder {
	if overlay != nil {
		if h, ok := overlay.holders[op]; ok {
			return h
		}
	}
	opBytes := op.Bytes()
	return alkaneid.NewAddressHolder("outpoint:" + hexEncode(opBytes[:]))
}
