// Package protostone decodes the OP_RETURN Runestone envelope and the
// Protostones/Cellpacks layered on top of it. Neither original_source/ nor any example
// repo in this pack carries the actual protorune-support/alkanes-support
// Rust crate source (it's an external dependency of the original, not part
// of this retrieval), so the exact tag numbering below is a documented,
// internally-consistent assumption rather than a verified bit-for-bit
// spec — see DESIGN.md's Open Question resolution for this package. The
// envelope shape itself (LEB128 tag/value pairs terminated by a Body tag,
// followed by a delta-varint edict stream) follows the publicly documented
// ord Runestone wire format; the sentinel convention marking where a
// Protostone begins within that edict stream (rune id block == the max
// u64 value) follows protorune's well-known design.
package protostone

import (
	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
)

// Edict is a single (rune_id, amount, output) routing instruction.
type Edict struct {
	Block  uint64
	Tx     uint64
	Amount uint64
	Output uint32
}

// protostoneSentinelBlock marks an edict as a protostone boundary rather
// than a real balance transfer.
const protostoneSentinelBlock = ^uint64(0)

const (
	opReturn    = 0x6a
	opPushData1 = 0x4c
	opPushData2 = 0x4d
	opPushData4 = 0x4e
	magicOp13   = 0x5d // ord's "runes" OP_13 marker

	tagBody    = 0
	tagPointer = 2
	tagRefund  = 4
)

// Runestone is the decoded OP_RETURN envelope.
type Runestone struct {
	Pointer     *uint32
	Edicts      []Edict
	Protostones []Protostone
}

// Cellpack is a decoded opcode+inputs payload, encoded
// in this system as a flat list of LEB128 integers: target id, opcode,
// then the remaining inputs.
type Cellpack struct {
	Target alkaneid.ID
	Opcode uint64
	Inputs []uint64
}

// Protostone is one decoded protostone: the unit the resolver's Stage 2
// loops over.
type Protostone struct {
	ProtocolTag uint32
	Pointer     *uint32
	Refund      *uint32
	Edicts      []Edict
	Cellpack    *Cellpack
}

// Decode parses script, a transaction output's scriptPubKey bytes,
// returning nil (no error) if it is not an OP_RETURN Runestone carrier.
func Decode(script []byte) (*Runestone, error) {
	payload, ok := extractOpReturnPayload(script)
	if !ok {
		return nil, nil
	}

	fields, body, err := decodeFieldEnvelope(payload)
	if err != nil {
		return nil, err
	}

	rs := &Runestone{Pointer: singleU32(fields, tagPointer)}
	rs.Edicts, rs.Protostones, err = decodeBody(body)
	if err != nil {
		return nil, err
	}
	return rs, nil
}

func singleU32(fields map[uint64][]uint64, tag uint64) *uint32 {
	v, ok := fields[tag]
	if !ok || len(v) == 0 {
		return nil
	}
	p := uint32(v[0])
	return &p
}

func extractOpReturnPayload(script []byte) ([]byte, bool) {
	if len(script) < 2 || script[0] != opReturn || script[1] != magicOp13 {
		return nil, false
	}
	var out []byte
	i := 2
	for i < len(script) {
		op := script[i]
		i++
		var chunk []byte
		switch {
		case op >= 0x01 && op <= 0x4b:
			n := int(op)
			if i+n > len(script) {
				return nil, false
			}
			chunk = script[i : i+n]
			i += n
		case op == opPushData1:
			if i+1 > len(script) {
				return nil, false
			}
			n := int(script[i])
			i++
			if i+n > len(script) {
				return nil, false
			}
			chunk = script[i : i+n]
			i += n
		case op == opPushData2:
			if i+2 > len(script) {
				return nil, false
			}
			n := int(script[i]) | int(script[i+1])<<8
			i += 2
			if i+n > len(script) {
				return nil, false
			}
			chunk = script[i : i+n]
			i += n
		case op == opPushData4:
			if i+4 > len(script) {
				return nil, false
			}
			n := int(script[i]) | int(script[i+1])<<8 | int(script[i+2])<<16 | int(script[i+3])<<24
			i += 4
			if i+n > len(script) {
				return nil, false
			}
			chunk = script[i : i+n]
			i += n
		default:
			continue
		}
		out = append(out, chunk...)
	}
	if out == nil {
		return nil, false
	}
	return out, true
}

// decodeFieldEnvelope reads (tag, value) varint pairs until the Body tag,
// returning the accumulated tagged fields and the raw remaining bytes.
func decodeFieldEnvelope(data []byte) (map[uint64][]uint64, []byte, error) {
	fields := make(map[uint64][]uint64)
	for len(data) > 0 {
		tag, n, err := readVarint(data)
		if err != nil {
			return nil, nil, err
		}
		data = data[n:]
		if tag == tagBody {
			return fields, data, nil
		}
		val, n, err := readVarint(data)
		if err != nil {
			return nil, nil, err
		}
		data = data[n:]
		fields[tag] = append(fields[tag], val)
	}
	return fields, nil, nil
}

// decodeBody reads the delta-varint edict stream, splitting out any
// sentinel-marked protostone sub-payloads as it goes. Each ordinary edict
// is (block_delta, tx_delta, amount, output) with block/tx deltas added to
// the running id (ord's canonical delta encoding). A sentinel edict
// (block == protostoneSentinelBlock) carries protocol_tag in tx_delta and
// the nested payload's raw byte length in amount; that many raw bytes are
// consumed immediately as one protostone's own field envelope.
func decodeBody(data []byte) ([]Edict, []Protostone, error) {
	var edicts []Edict
	var stones []Protostone
	var runningBlock, runningTx uint64

	for len(data) > 0 {
		blockDelta, n, err := readVarint(data)
		if err != nil {
			return nil, nil, err
		}
		data = data[n:]
		if len(data) == 0 {
			break
		}
		txDelta, n, err := readVarint(data)
		if err != nil {
			return nil, nil, err
		}
		data = data[n:]
		amount, n, err := readVarint(data)
		if err != nil {
			return nil, nil, err
		}
		data = data[n:]

		if blockDelta == protostoneSentinelBlock {
			length := int(amount)
			if length < 0 || length > len(data) {
				return nil, nil, errors.New("protostone: sentinel payload length exceeds remaining bytes")
			}
			nested := data[:length]
			data = data[length:]
			stone, err := decodeProtostonePayload(uint32(txDelta), nested)
			if err != nil {
				return nil, nil, err
			}
			stones = append(stones, stone)
			continue
		}

		output, n, err := readVarint(data)
		if err != nil {
			return nil, nil, err
		}
		data = data[n:]

		if blockDelta == 0 {
			runningTx += txDelta
		} else {
			runningBlock += blockDelta
			runningTx = txDelta
		}
		edicts = append(edicts, Edict{Block: runningBlock, Tx: runningTx, Amount: amount, Output: uint32(output)})
	}
	return edicts, stones, nil
}

// decodeProtostonePayload decodes one protostone's own field envelope:
// Pointer/Refund tags, a Body tag whose content is an integer-count prefix
// followed by that many cellpack integers, then the remaining bytes as an
// ordinary (non-nested) edict delta stream.
func decodeProtostonePayload(protocolTag uint32, data []byte) (Protostone, error) {
	fields, body, err := decodeFieldEnvelope(data)
	if err != nil {
		return Protostone{}, err
	}
	stone := Protostone{
		ProtocolTag: protocolTag,
		Pointer:     singleU32(fields, tagPointer),
		Refund:      singleU32(fields, tagRefund),
	}

	if len(body) > 0 {
		count, n, err := readVarint(body)
		if err != nil {
			return Protostone{}, err
		}
		body = body[n:]
		ints := make([]uint64, 0, count)
		for i := uint64(0); i < count; i++ {
			v, n, err := readVarint(body)
			if err != nil {
				return Protostone{}, err
			}
			body = body[n:]
			ints = append(ints, v)
		}
		if len(ints) >= 3 {
			stone.Cellpack = &Cellpack{
				Target: alkaneid.ID{Block: uint32(ints[0]), Tx: ints[1]},
				Opcode: ints[2],
				Inputs: append([]uint64{}, ints[3:]...),
			}
		}
	}

	edicts, nestedStones, err := decodeBody(body)
	if err != nil {
		return Protostone{}, err
	}
	stone.Edicts = edicts
	_ = nestedStones // a protostone's own body never nests further stones
	return stone, nil
}

// readVarint reads one LEB128-encoded unsigned varint (7 bits per byte,
// continuation in the high bit), the ord Runestone convention.
func readVarint(b []byte) (uint64, int, error) {
	var v uint64
	var shift uint
	for i := 0; i < len(b); i++ {
		if shift >= 64 {
			return 0, 0, errors.New("protostone: varint too long")
		}
		c := b[i]
		v |= uint64(c&0x7f) << shift
		if c&0x80 == 0 {
			return v, i + 1, nil
		}
		shift += 7
	}
	return 0, 0, errors.New("protostone: truncated varint")
}
