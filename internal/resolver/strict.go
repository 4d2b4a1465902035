package resolver

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/amount"
	"github.com/subfrost/alkanes-index/internal/consistency"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

// outpointMismatch and reserveMismatch each record one disagreement
// between this block's computed result and what the upstream adapter
// reports for the same outpoint or (owner, token) pair.
type outpointMismatch struct {
	Txid     alkaneid.Txid
	Vout     uint32
	Token    alkaneid.ID
	Local    *big.Int
	Upstream *big.Int
}

type reserveMismatch struct {
	Owner    alkaneid.ID
	Token    alkaneid.ID
	Local    *big.Int
	Upstream *big.Int
	Txids    []alkaneid.Txid
}

// crossCheck is strict mode's agreement check against the upstream
// adapter: every outpoint this block allocated a balance to, and every
// (owner, token) pair an alkane holder's balance moved for, must match
// what the upstream ledger reports for that same outpoint or pair. Every
// mismatch found across the whole block is logged before the block is
// aborted via consistency.Panicf, so a crash report enumerates every
// diverging pair and the txids that touched it, not just the first one
// found. A failure to reach the upstream adapter itself (network,
// decoding) is returned as a plain error instead and left to the caller
// to retry, since that's transient rather than a sign of diverged state.
func crossCheck(result *BlockResult, ib *traceassembler.IndexedBlock, store BalanceStore, up *upstream.Adapter) error {
	height := uint64(ib.Height)

	var outpointMismatches []outpointMismatch
	reserveDeltas := make(map[deltaKey]amount.Signed128)
	reserveTxids := make(map[deltaKey][]alkaneid.Txid)

	for _, tx := range result.Txs {
		for vout, allocs := range tx.VoutAllocations {
			op := alkaneid.Outpoint{Txid: tx.Txid, Vout: vout}
			upstreamBalances, err := up.GetOutpointAlkaneBalances(op)
			if err != nil {
				return errors.Wrapf(err, "strict mode: querying upstream outpoint balances for %s:%d", tx.Txid, vout)
			}
			upstreamByToken := make(map[alkaneid.ID]*big.Int, len(upstreamBalances))
			for _, b := range upstreamBalances {
				upstreamByToken[b.ID] = b.Balance
			}
			for _, a := range allocs {
				ub, ok := upstreamByToken[a.Token]
				if !ok {
					ub = big.NewInt(0)
				}
				if ub.Cmp(a.Amount) != 0 {
					outpointMismatches = append(outpointMismatches, outpointMismatch{
						Txid: tx.Txid, Vout: vout, Token: a.Token, Local: a.Amount, Upstream: ub,
					})
				}
			}
		}

		for _, htd := range tx.HolderDeltas {
			if htd.Holder.Kind != alkaneid.HolderAlkane {
				continue
			}
			k := deltaKey{Holder: htd.Holder.Alkane, Token: htd.Token}
			reserveDeltas[k] = reserveDeltas[k].Add(htd.Delta)
			reserveTxids[k] = append(reserveTxids[k], tx.Txid)
		}
	}

	var reserveMismatches []reserveMismatch
	for k, delta := range reserveDeltas {
		priorBalance, err := store.GetAlkaneBalance(k.Holder, k.Token)
		if err != nil {
			return errors.Wrapf(err, "strict mode: reading local balance for %s/%s", k.Holder, k.Token)
		}
		local := new(big.Int).Set(priorBalance)
		if delta.IsNegative {
			local.Sub(local, delta.Magnitude)
		} else {
			local.Add(local, delta.Magnitude)
		}

		upstreamBalance, err := up.GetReservesForAlkane(k.Holder, k.Token, &height)
		if err != nil {
			return errors.Wrapf(err, "strict mode: querying upstream reserves for %s/%s at height %d", k.Holder, k.Token, height)
		}
		if upstreamBalance == nil {
			upstreamBalance = big.NewInt(0)
		}
		if local.Cmp(upstreamBalance) != 0 {
			reserveMismatches = append(reserveMismatches, reserveMismatch{
				Owner: k.Holder, Token: k.Token, Local: local, Upstream: upstreamBalance, Txids: reserveTxids[k],
			})
		}
	}

	if len(outpointMismatches) == 0 && len(reserveMismatches) == 0 {
		return nil
	}

	var lines []string
	for _, m := range outpointMismatches {
		line := fmt.Sprintf("outpoint %s:%d token %s local=%s upstream=%s", m.Txid, m.Vout, m.Token, m.Local, m.Upstream)
		log.Criticalf("strict mode: %s", line)
		lines = append(lines, line)
	}
	for _, m := range reserveMismatches {
		line := fmt.Sprintf("(owner=%s, token=%s, local=%s, metashrew=%s) txs=%s",
			m.Owner, m.Token, m.Local, m.Upstream, joinTxids(m.Txids))
		log.Criticalf("strict mode: %s", line)
		lines = append(lines, line)
	}

	consistency.Panicf("strict mode: block %d diverged from upstream: %s", ib.Height, strings.Join(lines, "; "))
	return nil
}

func joinTxids(txids []alkaneid.Txid) string {
	out := make([]string, len(txids))
	for i, t := range txids {
		out[i] = t.String()
	}
	return strings.Join(out, ",")
}
