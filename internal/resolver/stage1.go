package resolver

import (
	"math/big"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
)

// traceStatus is the three-way outcome Stage 2 reads off a shadow vout's
// trace.
type traceStatus int

const (
	statusNoTrace traceStatus = iota
	statusSuccess
	statusFailure
)

// traceResolution is Stage 1's per-trace output consumed by Stage 2: the
// root invocation's incoming/outgoing alkane transfers (net_in/net_out),
// keyed by token, plus the (holder, token) deltas Stage 1 itself produces.
type traceResolution struct {
	Status traceStatus
	NetIn  map[alkaneid.ID]*big.Int
	NetOut map[alkaneid.ID]*big.Int
	Deltas map[deltaKey]amount.Signed128
}

// runStage1 replays every trace attached to it, returning the tx-level
// aggregated (holder, token) deltas and, for each shadow vout that had a
// trace, that trace's resolution (consumed by Stage 2's edict/VIN
// routing).
func runStage1(it traceassembler.IndexedTransaction, hv traceassembler.HostFunctionValues) (map[deltaKey]amount.Signed128, map[uint32]*traceResolution) {
	txDeltas := make(map[deltaKey]amount.Signed128)
	byShadowVout := make(map[uint32]*traceResolution)

	for _, tr := range it.Traces {
		if tr.Events == nil {
			continue
		}
		res, ok := resolveTrace(tr.Events, hv)
		if !ok {
			log.Debugf("resolver: dropping unbalanceable trace at outpoint %x:%d",
				tr.Outpoint.Txid.Bytes(), tr.Outpoint.Vout)
			byShadowVout[tr.Outpoint.Vout] = &traceResolution{Status: statusFailure}
			continue
		}
		for k, v := range res.Deltas {
			txDeltas[k] = txDeltas[k].Add(v)
		}
		byShadowVout[tr.Outpoint.Vout] = res
	}
	return txDeltas, byShadowVout
}

// stage1Frame is one call-stack frame during trace replay.
type stage1Frame struct {
	kind         tracepb.CallType
	owner        alkaneid.ID
	incoming     []tracepb.AlkaneTransfer
	parentNormal *alkaneid.ID
	deltas       map[deltaKey]amount.Signed128
}

// resolveTrace cleans t and replays it as a call stack. ok is false when
// the trace could not be rebalanced by cleaning, or ended with a
// non-empty stack, or the root frame reverted — any of which means
// "drop the trace entirely".
func resolveTrace(t *tracepb.Trace, hv traceassembler.HostFunctionValues) (*traceResolution, bool) {
	events, ok := cleanTrace(t.Events, hv)
	if !ok {
		return nil, false
	}

	var stack []*stage1Frame
	finalDeltas := make(map[deltaKey]amount.Signed128)
	rootReverted := false
	var rootIncoming, rootOutgoing map[alkaneid.ID]*big.Int
	rootSucceeded := false

	nearestNormalOwner := func() *alkaneid.ID {
		for i := len(stack) - 1; i >= 0; i-- {
			if stack[i].kind == tracepb.CallTypeCall {
				owner := stack[i].owner
				return &owner
			}
		}
		return nil
	}

	for _, ev := range events {
		switch ev.Kind {
		case tracepb.EventEnterContext:
			if ev.EnterContext == nil {
				continue
			}
			var owner alkaneid.ID
			var incoming []tracepb.AlkaneTransfer
			if ev.EnterContext.Context != nil && ev.EnterContext.Context.Inner != nil {
				owner = ev.EnterContext.Context.Inner.Myself.ToDomain()
				incoming = ev.EnterContext.Context.Inner.IncomingAlkanes
			}
			if ev.EnterContext.CallType == tracepb.CallTypeStaticcall {
				incoming = nil
			}
			if len(stack) == 0 {
				rootIncoming = transfersToMap(incoming)
			}
			stack = append(stack, &stage1Frame{
				kind:         ev.EnterContext.CallType,
				owner:        owner,
				incoming:     incoming,
				parentNormal: nearestNormalOwner(),
				deltas:       make(map[deltaKey]amount.Signed128),
			})

		case tracepb.EventExitContext:
			if len(stack) == 0 || ev.ExitContext == nil {
				continue
			}
			f := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			isRoot := len(stack) == 0

			if isRoot && ev.ExitContext.Status == tracepb.StatusFailure {
				rootReverted = true
				continue
			}
			if ev.ExitContext.Status == tracepb.StatusFailure {
				continue // discard this frame's deltas
			}
			if f.kind == tracepb.CallTypeStaticcall {
				continue // discard: static calls are side-effect-free
			}

			if f.parentNormal != nil {
				for _, in := range f.incoming {
					applyTransfer(f.deltas, *f.parentNormal, f.owner, in)
				}
				if ev.ExitContext.Response != nil {
					for _, out := range ev.ExitContext.Response.Alkanes {
						applyTransfer(f.deltas, f.owner, *f.parentNormal, out)
					}
				}
			}

			if isRoot {
				rootSucceeded = true
				if ev.ExitContext.Response != nil {
					rootOutgoing = transfersToMap(ev.ExitContext.Response.Alkanes)
				}
				mergeDeltas(finalDeltas, f.deltas)
			} else {
				mergeDeltas(stack[len(stack)-1].deltas, f.deltas)
			}
		}
	}

	if len(stack) != 0 || rootReverted {
		return nil, false
	}

	status := statusFailure
	if rootSucceeded {
		status = statusSuccess
	}
	return &traceResolution{
		Status: status,
		NetIn:  rootIncoming,
		NetOut: rootOutgoing,
		Deltas: finalDeltas,
	}, true
}

// applyTransfer records one alkane transfer from sender to receiver (both
// alkane ids) into deltas: +value on the receiver's entry, -value on the
// sender's.
func applyTransfer(deltas map[deltaKey]amount.Signed128, sender, receiver alkaneid.ID, tr tracepb.AlkaneTransfer) {
	token := tr.ID.ToDomain()
	var le16 [16]byte
	if tr.Value != nil {
		le16 = tr.Value.Bytes16LE()
	}
	recvKey := deltaKey{Holder: receiver, Token: token}
	sendKey := deltaKey{Holder: sender, Token: token}
	deltas[recvKey] = amount.AddMagnitude(deltas[recvKey], le16, false)
	deltas[sendKey] = amount.AddMagnitude(deltas[sendKey], le16, true)
}

func mergeDeltas(dst, src map[deltaKey]amount.Signed128) {
	for k, v := range src {
		dst[k] = dst[k].Add(v)
	}
}

func transfersToMap(transfers []tracepb.AlkaneTransfer) map[alkaneid.ID]*big.Int {
	out := make(map[alkaneid.ID]*big.Int)
	for _, tr := range transfers {
		token := tr.ID.ToDomain()
		mag := new(big.Int)
		if tr.Value != nil {
			le := tr.Value.Bytes16LE()
			var be [16]byte
			for i := 0; i < 16; i++ {
				be[i] = le[15-i]
			}
			mag.SetBytes(be[:])
		}
		if existing, ok := out[token]; ok {
			existing.Add(existing, mag)
		} else {
			out[token] = mag
		}
	}
	return out
}

// cleanTrace removes upstream-synthesized trailing Return events carrying
// an opaque host function value as data. It returns ok=false when no consistent removal rebalances
// the invoke/return depth counter.
func cleanTrace(events []tracepb.Event, hv traceassembler.HostFunctionValues) ([]tracepb.Event, bool) {
	invokes, returns := 0, 0
	for _, ev := range events {
		switch ev.Kind {
		case tracepb.EventEnterContext:
			invokes++
		case tracepb.EventExitContext:
			returns++
		}
	}
	k := returns - invokes
	if k == 0 {
		return events, true
	}
	if k < 0 {
		return nil, false // more invokes than returns: no removal can fix this
	}

	if strict := candidateReturnIndices(events, hv, false); len(strict) == k {
		return removeEvents(events, strict), true
	}
	if fuzzy := candidateReturnIndices(events, hv, true); len(fuzzy) == k {
		return removeEvents(events, fuzzy), true
	}
	return nil, false
}

// candidateReturnIndices finds successful Return events carrying empty
// alkanes/storage and opaque data matching a host function value — strict
// mode requires byte-exact equality against all four computed host
// values; fuzzy mode additionally accepts
// any 80-byte blob as a plausible header encoding, or any blob matching
// the block's actual coinbase tx bytes.
func candidateReturnIndices(events []tracepb.Event, hv traceassembler.HostFunctionValues, fuzzy bool) []int {
	var idxs []int
	for i, ev := range events {
		if ev.Kind != tracepb.EventExitContext || ev.ExitContext == nil {
			continue
		}
		if ev.ExitContext.Status != tracepb.StatusSuccess {
			continue
		}
		resp := ev.ExitContext.Response
		if resp == nil || len(resp.Alkanes) != 0 || len(resp.Storage) != 0 {
			continue
		}
		if isHostFunctionValue(resp.Data, hv, fuzzy) {
			idxs = append(idxs, i)
		}
	}
	return idxs
}

func isHostFunctionValue(data []byte, hv traceassembler.HostFunctionValues, fuzzy bool) bool {
	if bytesEqual(data, hv.HeaderBytes) || bytesEqual(data, hv.CoinbaseTxBytes) ||
		bytesEqual(data, hv.DieselMintsCountLE[:]) || bytesEqual(data, hv.TotalMinerFeeLE[:]) {
		return true
	}
	if fuzzy {
		if len(data) == 80 {
			return true
		}
		if len(hv.CoinbaseTxBytes) > 0 && len(data) == len(hv.CoinbaseTxBytes) {
			return true
		}
	}
	return false
}

func bytesEqual(a, b []byte) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func removeEvents(events []tracepb.Event, indices []int) []tracepb.Event {
	remove := make(map[int]bool, len(indices))
	for _, i := range indices {
		remove[i] = true
	}
	out := make([]tracepb.Event, 0, len(events)-len(indices))
	for i, ev := range events {
		if remove[i] {
			continue
		}
		out = append(out, ev)
	}
	return out
}
