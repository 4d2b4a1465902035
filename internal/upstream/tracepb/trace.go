// Package tracepb decodes and encodes the upstream's AlkanesTrace protobuf
// message. Rather than depending on generated .pb.go code for
// a message shape we don't have a .proto file for in this pack, we decode
// directly against google.golang.org/protobuf/encoding/protowire's
// low-level primitives — the same module daglabs-btcd already depends on
// for its own hand-written protowire message adapters
// (infrastructure/network/netadapter/server/grpcserver/protowire), just one
// layer lower since no codegen is available here.
//
// Field numbering follows the message shape recovered from
// original_source/src/alkanes/trace.rs (EnterContext/ExitContext/
// CreateAlkane/ReceiveIntent/ValueTransfer, AlkaneId{block,tx}, Uint128{hi,lo}).
package tracepb

import (
	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
)

// CallType mirrors AlkanesTraceCallType.
type CallType int32

const (
	CallTypeCall CallType = iota
	CallTypeDelegatecall
	CallTypeStaticcall
)

// StatusFlag mirrors AlkanesTraceStatusFlag.
type StatusFlag int32

const (
	StatusSuccess StatusFlag = iota
	StatusFailure
)

// Uint128 is the wire {hi, lo} pair for a 128-bit unsigned value.
type Uint128 struct {
	Hi uint64
	Lo uint64
}

// Bytes16LE returns the value as 16 little-endian bytes, the form
// internal/amount.AddMagnitude consumes.
func (u Uint128) Bytes16LE() [16]byte {
	var out [16]byte
	for i := 0; i < 8; i++ {
		out[i] = byte(u.Lo >> (8 * i))
		out[8+i] = byte(u.Hi >> (8 * i))
	}
	return out
}

// AlkaneID is the wire {block, tx} pair, both optional Uint128 fields.
type AlkaneID struct {
	Block *Uint128
	Tx    *Uint128
}

// ToDomain converts the wire {hi, lo} AlkaneId pair into alkaneid.ID,
// taking the low 32/64 bits of each lane — real alkane ids never use the
// high bits, matching alkaneid.IDFromBytes's own truncation convention.
// A nil id (or nil component) converts to the zero ID.
func (id *AlkaneID) ToDomain() alkaneid.ID {
	var out alkaneid.ID
	if id == nil {
		return out
	}
	if id.Block != nil {
		out.Block = uint32(id.Block.Lo)
	}
	if id.Tx != nil {
		out.Tx = id.Tx.Lo
	}
	return out
}

// AlkaneTransfer is {id, value}.
type AlkaneTransfer struct {
	ID    *AlkaneID
	Value *Uint128
}

// ContextInner is the EnterContext.context.inner message.
type ContextInner struct {
	Myself          *AlkaneID
	Caller          *AlkaneID
	Inputs          []Uint128
	IncomingAlkanes []AlkaneTransfer
	Vout            uint32
}

// Context is EnterContext.context.
type Context struct {
	Inner *ContextInner
	Fuel  uint64
}

// EnterContext is the "Invoke" trace event: a call enters a new alkane
// execution context.
type EnterContext struct {
	CallType CallType
	Context  *Context
}

// StorageKV is a single storage write.
type StorageKV struct {
	Key   []byte
	Value []byte
}

// Response is ExitContext.response.
type Response struct {
	Alkanes []AlkaneTransfer
	Data    []byte
	Storage []StorageKV
}

// ExitContext is the "Return" trace event: a call leaves its alkane
// execution context, carrying the response it produced.
type ExitContext struct {
	Status   StatusFlag
	Response *Response
}

// CreateAlkane is the alkane-creation trace event.
type CreateAlkane struct {
	NewAlkane *AlkaneID
}

// EventKind discriminates the Event oneof.
type EventKind int

const (
	EventUnknown EventKind = iota
	EventEnterContext
	EventExitContext
	EventCreateAlkane
	EventReceiveIntent
	EventValueTransfer
)

// Event wraps one AlkanesTraceEvent. ReceiveIntent/ValueTransfer payloads
// are out of this indexer's scope; their raw
// bytes are retained only so re-encoding is lossless.
type Event struct {
	Kind         EventKind
	EnterContext *EnterContext
	ExitContext  *ExitContext
	CreateAlkane *CreateAlkane
	RawOther     []byte
}

// Trace is the decoded AlkanesTrace message.
type Trace struct {
	Events []Event
}

// --- Decoding ---

// Decode parses a raw AlkanesTrace protobuf message.
func Decode(data []byte) (*Trace, error) {
	var t Trace
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: consuming AlkanesTrace tag")
		}
		data = data[n:]
		switch num {
		case 1: // events
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: consuming event bytes")
			}
			ev, err := decodeEvent(v)
			if err != nil {
				return nil, err
			}
			t.Events = append(t.Events, ev)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return &t, nil
}

func decodeEvent(data []byte) (Event, error) {
	var ev Event
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return ev, errors.Wrap(protowire.ParseError(n), "tracepb: consuming event field tag")
		}
		data = data[n:]
		switch num {
		case 1: // enter_context
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "tracepb: enter_context bytes")
			}
			ec, err := decodeEnterContext(v)
			if err != nil {
				return ev, err
			}
			ev.Kind = EventEnterContext
			ev.EnterContext = ec
			data = data[n:]
		case 2: // exit_context
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "tracepb: exit_context bytes")
			}
			xc, err := decodeExitContext(v)
			if err != nil {
				return ev, err
			}
			ev.Kind = EventExitContext
			ev.ExitContext = xc
			data = data[n:]
		case 3: // create_alkane
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "tracepb: create_alkane bytes")
			}
			ca, err := decodeCreateAlkane(v)
			if err != nil {
				return ev, err
			}
			ev.Kind = EventCreateAlkane
			ev.CreateAlkane = ca
			data = data[n:]
		case 4: // receive_intent (opaque)
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "tracepb: receive_intent bytes")
			}
			ev.Kind = EventReceiveIntent
			ev.RawOther = append([]byte{}, v...)
			data = data[n:]
		case 5: // value_transfer (opaque)
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return ev, errors.Wrap(protowire.ParseError(n), "tracepb: value_transfer bytes")
			}
			ev.Kind = EventValueTransfer
			ev.RawOther = append([]byte{}, v...)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return ev, err
			}
			data = data[n:]
		}
	}
	return ev, nil
}

func decodeEnterContext(data []byte) (*EnterContext, error) {
	ec := &EnterContext{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: EnterContext tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: call_type")
			}
			ec.CallType = CallType(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: context bytes")
			}
			ctx, err := decodeContext(v)
			if err != nil {
				return nil, err
			}
			ec.Context = ctx
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return ec, nil
}

func decodeContext(data []byte) (*Context, error) {
	c := &Context{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: Context tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: inner bytes")
			}
			inner, err := decodeContextInner(v)
			if err != nil {
				return nil, err
			}
			c.Inner = inner
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: fuel")
			}
			c.Fuel = v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return c, nil
}

func decodeContextInner(data []byte) (*ContextInner, error) {
	in := &ContextInner{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: ContextInner tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: myself bytes")
			}
			id, err := decodeAlkaneID(v)
			if err != nil {
				return nil, err
			}
			in.Myself = id
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: caller bytes")
			}
			id, err := decodeAlkaneID(v)
			if err != nil {
				return nil, err
			}
			in.Caller = id
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: inputs bytes")
			}
			u, err := decodeUint128(v)
			if err != nil {
				return nil, err
			}
			in.Inputs = append(in.Inputs, *u)
			data = data[n:]
		case 4:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: incoming_alkanes bytes")
			}
			tr, err := decodeAlkaneTransfer(v)
			if err != nil {
				return nil, err
			}
			in.IncomingAlkanes = append(in.IncomingAlkanes, *tr)
			data = data[n:]
		case 5:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: vout")
			}
			in.Vout = uint32(v)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return in, nil
}

func decodeAlkaneID(data []byte) (*AlkaneID, error) {
	id := &AlkaneID{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: AlkaneId tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: block bytes")
			}
			u, err := decodeUint128(v)
			if err != nil {
				return nil, err
			}
			id.Block = u
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: tx bytes")
			}
			u, err := decodeUint128(v)
			if err != nil {
				return nil, err
			}
			id.Tx = u
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return id, nil
}

func decodeUint128(data []byte) (*Uint128, error) {
	u := &Uint128{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: Uint128 tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: hi")
			}
			u.Hi = v
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: lo")
			}
			u.Lo = v
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return u, nil
}

func decodeAlkaneTransfer(data []byte) (*AlkaneTransfer, error) {
	tr := &AlkaneTransfer{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: AlkaneTransfer tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: transfer id bytes")
			}
			id, err := decodeAlkaneID(v)
			if err != nil {
				return nil, err
			}
			tr.ID = id
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: transfer value bytes")
			}
			u, err := decodeUint128(v)
			if err != nil {
				return nil, err
			}
			tr.Value = u
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return tr, nil
}

func decodeExitContext(data []byte) (*ExitContext, error) {
	xc := &ExitContext{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: ExitContext tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: status")
			}
			xc.Status = StatusFlag(v)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: response bytes")
			}
			resp, err := decodeResponse(v)
			if err != nil {
				return nil, err
			}
			xc.Response = resp
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return xc, nil
}

func decodeResponse(data []byte) (*Response, error) {
	r := &Response{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: Response tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: response alkanes bytes")
			}
			tr, err := decodeAlkaneTransfer(v)
			if err != nil {
				return nil, err
			}
			r.Alkanes = append(r.Alkanes, *tr)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: response data")
			}
			r.Data = append([]byte{}, v...)
			data = data[n:]
		case 3:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: storage kv bytes")
			}
			kv, err := decodeStorageKV(v)
			if err != nil {
				return nil, err
			}
			r.Storage = append(r.Storage, *kv)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return r, nil
}

func decodeStorageKV(data []byte) (*StorageKV, error) {
	kv := &StorageKV{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: StorageKV tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: kv key")
			}
			kv.Key = append([]byte{}, v...)
			data = data[n:]
		case 2:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: kv value")
			}
			kv.Value = append([]byte{}, v...)
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return kv, nil
}

func decodeCreateAlkane(data []byte) (*CreateAlkane, error) {
	ca := &CreateAlkane{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return nil, errors.Wrap(protowire.ParseError(n), "tracepb: CreateAlkane tag")
		}
		data = data[n:]
		switch num {
		case 1:
			v, n := protowire.ConsumeBytes(data)
			if n < 0 {
				return nil, errors.Wrap(protowire.ParseError(n), "tracepb: new_alkane bytes")
			}
			id, err := decodeAlkaneID(v)
			if err != nil {
				return nil, err
			}
			ca.NewAlkane = id
			data = data[n:]
		default:
			n, err := skipField(data, typ)
			if err != nil {
				return nil, err
			}
			data = data[n:]
		}
	}
	return ca, nil
}

func skipField(data []byte, typ protowire.Type) (int, error) {
	n := protowire.ConsumeFieldValue(0, typ, data)
	if n < 0 {
		return 0, errors.Wrap(protowire.ParseError(n), "tracepb: skipping unknown field")
	}
	return n, nil
}

// --- Encoding ---

// Encode serializes a Trace back to raw protobuf bytes. Used by tests and
// by the mempool preview path, which must re-encode decoded preview traces
// for storage.
func Encode(t *Trace) []byte {
	var out []byte
	for _, ev := range t.Events {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeEvent(ev))
	}
	return out
}

func encodeEvent(ev Event) []byte {
	var out []byte
	switch ev.Kind {
	case EventEnterContext:
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeEnterContext(ev.EnterContext))
	case EventExitContext:
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeExitContext(ev.ExitContext))
	case EventCreateAlkane:
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeCreateAlkane(ev.CreateAlkane))
	case EventReceiveIntent:
		out = protowire.AppendTag(out, 4, protowire.BytesType)
		out = protowire.AppendBytes(out, ev.RawOther)
	case EventValueTransfer:
		out = protowire.AppendTag(out, 5, protowire.BytesType)
		out = protowire.AppendBytes(out, ev.RawOther)
	}
	return out
}

func encodeEnterContext(ec *EnterContext) []byte {
	if ec == nil {
		return nil
	}
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(ec.CallType))
	if ec.Context != nil {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeContext(ec.Context))
	}
	return out
}

func encodeContext(c *Context) []byte {
	var out []byte
	if c.Inner != nil {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeContextInner(c.Inner))
	}
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, c.Fuel)
	return out
}

func encodeContextInner(in *ContextInner) []byte {
	var out []byte
	if in.Myself != nil {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAlkaneID(in.Myself))
	}
	if in.Caller != nil {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAlkaneID(in.Caller))
	}
	for _, u := range in.Inputs {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeUint128(&u))
	}
	for _, tr := range in.IncomingAlkanes {
		out = protowire.AppendTag(out, 4, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAlkaneTransfer(&tr))
	}
	out = protowire.AppendTag(out, 5, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(in.Vout))
	return out
}

func encodeAlkaneID(id *AlkaneID) []byte {
	var out []byte
	if id == nil {
		return out
	}
	if id.Block != nil {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeUint128(id.Block))
	}
	if id.Tx != nil {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeUint128(id.Tx))
	}
	return out
}

func encodeUint128(u *Uint128) []byte {
	var out []byte
	if u == nil {
		return out
	}
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, u.Hi)
	out = protowire.AppendTag(out, 2, protowire.VarintType)
	out = protowire.AppendVarint(out, u.Lo)
	return out
}

func encodeAlkaneTransfer(tr *AlkaneTransfer) []byte {
	var out []byte
	if tr.ID != nil {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAlkaneID(tr.ID))
	}
	if tr.Value != nil {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeUint128(tr.Value))
	}
	return out
}

func encodeExitContext(xc *ExitContext) []byte {
	if xc == nil {
		return nil
	}
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.VarintType)
	out = protowire.AppendVarint(out, uint64(xc.Status))
	if xc.Response != nil {
		out = protowire.AppendTag(out, 2, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeResponse(xc.Response))
	}
	return out
}

func encodeResponse(r *Response) []byte {
	var out []byte
	for _, tr := range r.Alkanes {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAlkaneTransfer(&tr))
	}
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, r.Data)
	for _, kv := range r.Storage {
		out = protowire.AppendTag(out, 3, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeStorageKV(&kv))
	}
	return out
}

func encodeStorageKV(kv *StorageKV) []byte {
	var out []byte
	out = protowire.AppendTag(out, 1, protowire.BytesType)
	out = protowire.AppendBytes(out, kv.Key)
	out = protowire.AppendTag(out, 2, protowire.BytesType)
	out = protowire.AppendBytes(out, kv.Value)
	return out
}

func encodeCreateAlkane(ca *CreateAlkane) []byte {
	var out []byte
	if ca == nil {
		return out
	}
	if ca.NewAlkane != nil {
		out = protowire.AppendTag(out, 1, protowire.BytesType)
		out = protowire.AppendBytes(out, encodeAlkaneID(ca.NewAlkane))
	}
	return out
}
