package protostone

import "testing"

func appendVarint(b []byte, v uint64) []byte {
	for v >= 0x80 {
		b = append(b, byte(v)|0x80)
		v >>= 7
	}
	return append(b, byte(v))
}

// buildScript constructs a synthetic OP_RETURN Runestone carrying exactly
// one protostone with protocol_tag 1, a cellpack targeting (2, 0) with
// first input 77, and a single edict (1, 5, amount=300, output=2).
func buildScript(t *testing.T) []byte {
	t.Helper()

	var cellpackBody []byte
	cellpackBody = appendVarint(cellpackBody, 4) // count: target.block, target.tx, opcode, input0
	cellpackBody = appendVarint(cellpackBody, 2) // target.block
	cellpackBody = appendVarint(cellpackBody, 0) // target.tx
	cellpackBody = appendVarint(cellpackBody, 77) // opcode (unused by this test)
	cellpackBody = appendVarint(cellpackBody, 77) // input0 == 77 (diesel mint gate)

	var protoEdicts []byte
	protoEdicts = appendVarint(protoEdicts, 1)   // block_delta
	protoEdicts = appendVarint(protoEdicts, 5)   // tx_delta
	protoEdicts = appendVarint(protoEdicts, 300) // amount
	protoEdicts = appendVarint(protoEdicts, 2)   // output

	var protoPayload []byte
	protoPayload = appendVarint(protoPayload, tagBody)
	protoPayload = append(protoPayload, cellpackBody...)
	protoPayload = append(protoPayload, protoEdicts...)

	var outerBody []byte
	outerBody = appendVarint(outerBody, protostoneSentinelBlock) // sentinel
	outerBody = appendVarint(outerBody, 1)                       // protocol_tag
	outerBody = appendVarint(outerBody, uint64(len(protoPayload)))
	outerBody = append(outerBody, protoPayload...)

	var payload []byte
	payload = appendVarint(payload, tagBody)
	payload = append(payload, outerBody...)

	script := []byte{opReturn, magicOp13}
	if len(payload) <= 0x4b {
		script = append(script, byte(len(payload)))
	} else {
		t.Fatalf("test payload too large for single push: %d", len(payload))
	}
	script = append(script, payload...)
	return script
}

func TestDecodeProtostoneWithCellpackAndEdict(t *testing.T) {
	script := buildScript(t)

	rs, err := Decode(script)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rs == nil {
		t.Fatal("expected a decoded runestone, got nil")
	}
	if len(rs.Protostones) != 1 {
		t.Fatalf("expected 1 protostone, got %d", len(rs.Protostones))
	}

	stone := rs.Protostones[0]
	if stone.ProtocolTag != 1 {
		t.Fatalf("expected protocol_tag 1, got %d", stone.ProtocolTag)
	}
	if stone.Cellpack == nil {
		t.Fatal("expected a decoded cellpack")
	}
	if stone.Cellpack.Target.Block != 2 || stone.Cellpack.Target.Tx != 0 {
		t.Fatalf("unexpected cellpack target: %+v", stone.Cellpack.Target)
	}
	if len(stone.Cellpack.Inputs) != 1 || stone.Cellpack.Inputs[0] != 77 {
		t.Fatalf("unexpected cellpack inputs: %+v", stone.Cellpack.Inputs)
	}

	if len(stone.Edicts) != 1 {
		t.Fatalf("expected 1 edict, got %d", len(stone.Edicts))
	}
	e := stone.Edicts[0]
	if e.Block != 1 || e.Tx != 5 || e.Amount != 300 || e.Output != 2 {
		t.Fatalf("unexpected edict: %+v", e)
	}
}

func TestDecodeNonRunestoneScriptReturnsNil(t *testing.T) {
	rs, err := Decode([]byte{0x76, 0xa9, 0x14})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rs != nil {
		t.Fatalf("expected nil for a non-OP_RETURN script, got %+v", rs)
	}
}
