package mempool

import (
	"encoding/binary"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/upstream/tracepb"
)

// TraceByVout is one shadow vout's preview trace.
type TraceByVout struct {
	Vout  uint32
	Trace *tracepb.Trace
}

// MempoolTx is the per-transaction record persisted under tx/<txid>
//.
type MempoolTx struct {
	Txid      [32]byte
	RawTx     []byte
	Traces    []TraceByVout
	FirstSeen uint64
	Addresses []string
}

func encodeMempoolTx(r MempoolTx) []byte {
	out := make([]byte, 0, len(r.RawTx)+256)

	var hdr [8]byte
	binary.BigEndian.PutUint64(hdr[:], r.FirstSeen)
	out = append(out, hdr[:]...)

	out = appendLenBytes(out, r.RawTx)

	var traceCount [4]byte
	binary.BigEndian.PutUint32(traceCount[:], uint32(len(r.Traces)))
	out = append(out, traceCount[:]...)
	for _, t := range r.Traces {
		var vout [4]byte
		binary.BigEndian.PutUint32(vout[:], t.Vout)
		out = append(out, vout[:]...)
		encoded := tracepb.Encode(t.Trace)
		out = appendLenBytes(out, encoded)
	}

	var addrCount [4]byte
	binary.BigEndian.PutUint32(addrCount[:], uint32(len(r.Addresses)))
	out = append(out, addrCount[:]...)
	for _, a := range r.Addresses {
		out = appendLenBytes(out, []byte(a))
	}
	return out
}

func decodeMempoolTx(txid [32]byte, raw []byte) (MempoolTx, error) {
	r := MempoolTx{Txid: txid}
	n := 0
	if len(raw) < 8 {
		return r, errors.New("mempool: truncated record (first_seen)")
	}
	r.FirstSeen = binary.BigEndian.Uint64(raw[n:])
	n += 8

	var err error
	r.RawTx, n, err = readLenBytes(raw, n)
	if err != nil {
		return r, errors.Wrap(err, "mempool: decoding raw_tx")
	}

	if len(raw) < n+4 {
		return r, errors.New("mempool: truncated record (trace count)")
	}
	traceCount := int(binary.BigEndian.Uint32(raw[n:]))
	n += 4
	for i := 0; i < traceCount; i++ {
		if len(raw) < n+4 {
			return r, errors.New("mempool: truncated record (trace vout)")
		}
		vout := binary.BigEndian.Uint32(raw[n:])
		n += 4
		var encoded []byte
		encoded, n, err = readLenBytes(raw, n)
		if err != nil {
			return r, errors.Wrap(err, "mempool: decoding trace bytes")
		}
		tr, err := tracepb.Decode(encoded)
		if err != nil {
			return r, errors.Wrap(err, "mempool: decoding trace protobuf")
		}
		r.Traces = append(r.Traces, TraceByVout{Vout: vout, Trace: tr})
	}

	if len(raw) < n+4 {
		return r, errors.New("mempool: truncated record (address count)")
	}
	addrCount := int(binary.BigEndian.Uint32(raw[n:]))
	n += 4
	for i := 0; i < addrCount; i++ {
		var a []byte
		a, n, err = readLenBytes(raw, n)
		if err != nil {
			return r, errors.Wrap(err, "mempool: decoding address")
		}
		r.Addresses = append(r.Addresses, string(a))
	}
	return r, nil
}

func appendLenBytes(out []byte, b []byte) []byte {
	var l [4]byte
	binary.BigEndian.PutUint32(l[:], uint32(len(b)))
	out = append(out, l[:]...)
	return append(out, b...)
}

func readLenBytes(raw []byte, n int) ([]byte, int, error) {
	if len(raw) < n+4 {
		return nil, n, errors.New("mempool: truncated length-prefixed field")
	}
	l := int(binary.BigEndian.Uint32(raw[n:]))
	n += 4
	if len(raw) < n+l {
		return nil, n, errors.New("mempool: truncated length-prefixed field bytes")
	}
	out := append([]byte{}, raw[n:n+l]...)
	return out, n + l, nil
}
