package tracepb

import "testing"

func u128(hi, lo uint64) *Uint128 { return &Uint128{Hi: hi, Lo: lo} }

func TestEncodeDecodeRoundTrip(t *testing.T) {
	original := &Trace{
		Events: []Event{
			{
				Kind: EventEnterContext,
				EnterContext: &EnterContext{
					CallType: CallTypeDelegatecall,
					Context: &Context{
						Fuel: 4_000_000,
						Inner: &ContextInner{
							Myself: &AlkaneID{Block: u128(0, 2), Tx: u128(0, 1)},
							Caller: &AlkaneID{Block: u128(0, 2), Tx: u128(0, 7)},
							Inputs: []Uint128{{Lo: 77}, {Lo: 1}},
							IncomingAlkanes: []AlkaneTransfer{
								{ID: &AlkaneID{Block: u128(0, 2), Tx: u128(0, 5)}, Value: u128(0, 500)},
							},
							Vout: 3,
						},
					},
				},
			},
			{
				Kind: EventExitContext,
				ExitContext: &ExitContext{
					Status: StatusFailure,
					Response: &Response{
						Data: []byte("revert: insufficient balance"),
						Storage: []StorageKV{
							{Key: []byte("k1"), Value: []byte("v1")},
						},
					},
				},
			},
			{
				Kind: EventCreateAlkane,
				CreateAlkane: &CreateAlkane{
					NewAlkane: &AlkaneID{Block: u128(0, 2), Tx: u128(0, 99)},
				},
			},
			{
				Kind:     EventReceiveIntent,
				RawOther: []byte{0x01, 0x02, 0x03},
			},
		},
	}

	encoded := Encode(original)
	decoded, err := Decode(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(decoded.Events) != len(original.Events) {
		t.Fatalf("expected %d events, got %d", len(original.Events), len(decoded.Events))
	}

	enter := decoded.Events[0].EnterContext
	if enter == nil || enter.CallType != CallTypeDelegatecall {
		t.Fatalf("enter context call type mismatch: %+v", enter)
	}
	if enter.Context.Fuel != 4_000_000 {
		t.Fatalf("fuel mismatch: %d", enter.Context.Fuel)
	}
	if enter.Context.Inner.Vout != 3 {
		t.Fatalf("vout mismatch: %d", enter.Context.Inner.Vout)
	}
	if len(enter.Context.Inner.Inputs) != 2 || enter.Context.Inner.Inputs[0].Lo != 77 {
		t.Fatalf("inputs mismatch: %+v", enter.Context.Inner.Inputs)
	}
	if len(enter.Context.Inner.IncomingAlkanes) != 1 || enter.Context.Inner.IncomingAlkanes[0].Value.Lo != 500 {
		t.Fatalf("incoming alkanes mismatch: %+v", enter.Context.Inner.IncomingAlkanes)
	}

	exit := decoded.Events[1].ExitContext
	if exit == nil || exit.Status != StatusFailure {
		t.Fatalf("exit context status mismatch: %+v", exit)
	}
	if string(exit.Response.Data) != "revert: insufficient balance" {
		t.Fatalf("response data mismatch: %q", exit.Response.Data)
	}
	if len(exit.Response.Storage) != 1 || string(exit.Response.Storage[0].Key) != "k1" {
		t.Fatalf("storage mismatch: %+v", exit.Response.Storage)
	}

	create := decoded.Events[2].CreateAlkane
	if create == nil || create.NewAlkane.Tx.Lo != 99 {
		t.Fatalf("create_alkane mismatch: %+v", create)
	}

	if decoded.Events[3].Kind != EventReceiveIntent || len(decoded.Events[3].RawOther) != 3 {
		t.Fatalf("receive_intent passthrough mismatch: %+v", decoded.Events[3])
	}
}

func TestUint128Bytes16LELayout(t *testing.T) {
	u := Uint128{Hi: 0x0102030405060708, Lo: 0x1112131415161718}
	b := u.Bytes16LE()
	// low 8 bytes hold Lo little-endian, high 8 bytes hold Hi little-endian.
	if b[0] != 0x18 || b[15] != 0x01 {
		t.Fatalf("unexpected little-endian layout: %x", b)
	}
}

func TestDecodeEmptyTrace(t *testing.T) {
	decoded, err := Decode(nil)
	if err != nil {
		t.Fatalf("decode empty: %v", err)
	}
	if len(decoded.Events) != 0 {
		t.Fatalf("expected no events, got %d", len(decoded.Events))
	}
}
