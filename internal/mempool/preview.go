package mempool

import (
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/protostone"
)

// processTx fetches, classifies, and previews one mempool txid, writing
// its tracked row and address-index entries.
func (s *Service) processTx(txid alkaneid.Txid) error {
	if existing, err := s.getTx(txid); err != nil {
		return err
	} else if existing != nil {
		return nil
	}

	feerate, err := s.bitcoind.Feerate(txid)
	if err != nil {
		return err
	}
	if feerate < MinFeerateSatPerVB {
		return nil
	}

	rawHex, err := s.bitcoind.GetRawTxHex(txid)
	if err != nil {
		return err
	}
	verbose, err := s.bitcoind.GetRawTxVerbose(txid)
	if err != nil {
		return err
	}

	numProtostones := countProtostones(verbose.Vout)

	rec := MempoolTx{
		Txid:      txid,
		RawTx:     rawHex,
		FirstSeen: uint64(nowUnix()),
	}

	if numProtostones > 0 && s.preview != nil {
		traces, err := s.previewTraces(txid, rawHex, len(verbose.Vout), numProtostones)
		if err != nil {
			log.Debugf("mempool: preview failed for tx %s: %v", txid, err)
		} else {
			rec.Traces = traces
		}
	}

	rec.Addresses = s.resolveInputAddresses(verbose)

	return s.persistTx(rec)
}

// countProtostones scans every output script for a Runestone envelope and
// sums how many protostones it carries.
func countProtostones(vouts []VerboseVout) int {
	total := 0
	for _, v := range vouts {
		rs, err := protostone.Decode(v.Script)
		if err != nil || rs == nil {
			continue
		}
		total += len(rs.Protostones)
	}
	return total
}

// previewTraces builds the dummy-coinbase preview block and calls
// metashrew_preview for every shadow vout (n+1..n+P), bounded by
// PreviewConcurrency/PreviewChunkSize.
func (s *Service) previewTraces(txid alkaneid.Txid, rawTx []byte, numRealVouts, numProtostones int) ([]TraceByVout, error) {
	blockHex := buildPreviewBlockHex(rawTx)

	shadowVouts := make([]uint32, numProtostones)
	for i := 0; i < numProtostones; i++ {
		shadowVouts[i] = uint32(numRealVouts + 1 + i)
	}

	results := make([]*TraceByVout, len(shadowVouts))
	for chunkStart := 0; chunkStart < len(shadowVouts); chunkStart += PreviewChunkSize {
		chunkEnd := chunkStart + PreviewChunkSize
		if chunkEnd > len(shadowVouts) {
			chunkEnd = len(shadowVouts)
		}
		chunk := shadowVouts[chunkStart:chunkEnd]

		g := new(errgroup.Group)
		g.SetLimit(PreviewConcurrency)
		for offset, vout := range chunk {
			idx := chunkStart + offset
			vout := vout
			g.Go(func() error {
				op := alkaneid.Outpoint{Txid: txid, Vout: vout}
				opBytes := op.Bytes()
				raw, err := s.preview.Preview(blockHex, hex.EncodeToString(opBytes[:]))
				if err != nil {
					return err
				}
				tr, err := decodeTraceBytes(raw)
				if err != nil {
					return err
				}
				results[idx] = &TraceByVout{Vout: vout, Trace: tr}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}

	var out []TraceByVout
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}

// resolveInputAddresses resolves each input's previous output address
//: per-run cache first, then an upstream fetch. The
// block-local map step 5 mentions does not apply here (this runs
// independent of the block loop), so the cache plus upstream fetch is the
// full resolution chain.
func (s *Service) resolveInputAddresses(v *VerboseTx) []string {
	var out []string
	for _, in := range v.Vin {
		if in.Coinbase {
			continue
		}
		cacheKey := in.PrevTxid.String() + ":" + strconv.FormatUint(uint64(in.PrevVout), 10)
		if addr, ok := s.addrCache[cacheKey]; ok {
			out = append(out, addr)
			continue
		}
		addr, err := s.bitcoind.PrevOutAddress(in.PrevTxid, in.PrevVout)
		if err != nil {
			log.Debugf("mempool: resolving prevout address %s: %v", cacheKey, err)
			continue
		}
		s.addrCache[cacheKey] = addr
		out = append(out, addr)
	}
	return out
}

// buildPreviewBlockHex serializes a minimal dummy-coinbase plus the
// candidate transaction as a two-transaction block, hex-encoded. Neither the example pack nor original_source/
// documents metashrew_preview's exact accepted block shape, so a
// zero-filled 80-byte header is used; see DESIGN.md's Open Question
// resolution for this gap.
func buildPreviewBlockHex(candidateRawTx []byte) string {
	var buf []byte
	buf = append(buf, make([]byte, 80)...) // dummy header
	buf = appendVarInt(buf, 2)
	buf = append(buf, dummyCoinbaseTx()...)
	buf = append(buf, candidateRawTx...)
	return hex.EncodeToString(buf)
}

// dummyCoinbaseTx serializes a minimal, structurally valid (non-segwit)
// coinbase transaction: one null-prevout input, one unspendable
// (OP_RETURN) output.
func dummyCoinbaseTx() []byte {
	var tx []byte
	tx = append(tx, leUint32(1)...) // version

	tx = appendVarInt(tx, 1) // vin count
	tx = append(tx, make([]byte, 32)...) // null prevout txid
	tx = append(tx, leUint32(0xffffffff)...) // null prevout vout
	scriptSig := []byte{0x00}
	tx = appendVarInt(tx, uint64(len(scriptSig)))
	tx = append(tx, scriptSig...)
	tx = append(tx, leUint32(0xffffffff)...) // sequence

	tx = appendVarInt(tx, 1) // vout count
	tx = append(tx, leUint64(0)...) // value
	script := []byte{0x6a} // OP_RETURN, unspendable
	tx = appendVarInt(tx, uint64(len(script)))
	tx = append(tx, script...)

	tx = append(tx, leUint32(0)...) // locktime
	return tx
}

func appendVarInt(out []byte, v uint64) []byte {
	switch {
	case v < 0xfd:
		return append(out, byte(v))
	case v <= 0xffff:
		out = append(out, 0xfd)
		return append(out, leUint16(uint16(v))...)
	case v <= 0xffffffff:
		out = append(out, 0xfe)
		return append(out, leUint32(uint32(v))...)
	default:
		out = append(out, 0xff)
		return append(out, leUint64(v)...)
	}
}

func leUint16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func leUint32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

func leUint64(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}
