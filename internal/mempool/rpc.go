package mempool

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
)

// rpcTimeout matches blocksource.RPCSource's fixed client-side deadline
// convention (infrastructure/network/rpcclient's 15s connect timeout).
const rpcTimeout = 15 * time.Second

type jsonRPCClient struct {
	url        string
	user, pass string
	client     *http.Client
}

func newJSONRPCClient(url, user, pass string) *jsonRPCClient {
	return &jsonRPCClient{url: url, user: user, pass: pass, client: &http.Client{Timeout: rpcTimeout}}
}

type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type jsonRPCResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *jsonRPCError   `json:"error"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (c *jsonRPCClient) call(method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(jsonRPCRequest{JSONRPC: "1.0", ID: "alkanes-index-mempool", Method: method, Params: params})
	if err != nil {
		return errors.Wrap(err, "mempool: marshal rpc request")
	}
	req, err := http.NewRequest(http.MethodPost, c.url, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "mempool: build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.SetBasicAuth(c.user, c.pass)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "mempool: rpc call %s", method)
	}
	defer resp.Body.Close()

	var rr jsonRPCResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return errors.Wrapf(err, "mempool: decode rpc response for %s", method)
	}
	if rr.Error != nil {
		return errors.Errorf("mempool: rpc %s: %s (code %d)", method, rr.Error.Message, rr.Error.Code)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(rr.Result, out), "mempool: unmarshal result of %s", method)
}

// BitcoindClient is the subset of bitcoind's JSON-RPC surface the
// mempool service calls directly.
type BitcoindClient struct {
	c *jsonRPCClient
}

// NewBitcoindClient returns a BitcoindClient talking to a bitcoind-compatible
// JSON-RPC endpoint.
func NewBitcoindClient(url, user, pass string) *BitcoindClient {
	return &BitcoindClient{c: newJSONRPCClient(url, user, pass)}
}

// GetRawMempool returns every currently unconfirmed txid.
func (b *BitcoindClient) GetRawMempool() ([]alkaneid.Txid, error) {
	var hexTxids []string
	if err := b.c.call("getrawmempool", []interface{}{false}, &hexTxids); err != nil {
		return nil, err
	}
	out := make([]alkaneid.Txid, 0, len(hexTxids))
	for _, h := range hexTxids {
		txid, err := alkaneid.TxidFromDisplayHex(h)
		if err != nil {
			return nil, errors.Wrapf(err, "mempool: decoding mempool txid %s", h)
		}
		out = append(out, txid)
	}
	return out, nil
}

type mempoolEntry struct {
	VSize int64 `json:"vsize"`
	Fees  struct {
		Base float64 `json:"base"`
	} `json:"fees"`
}

// Feerate returns txid's feerate in sat/vB: (sum_inputs − sum_outputs) /
// vsize, computed from bitcoind's own fee and vsize accounting rather
// than re-deriving it from raw input/output amounts.
func (b *BitcoindClient) Feerate(txid alkaneid.Txid) (float64, error) {
	var e mempoolEntry
	if err := b.c.call("getmempoolentry", []interface{}{txid.String()}, &e); err != nil {
		return 0, err
	}
	if e.VSize <= 0 {
		return 0, errors.Errorf("mempool: non-positive vsize for tx %s", txid)
	}
	feeSats := e.Fees.Base * 1e8
	return feeSats / float64(e.VSize), nil
}

type rawTxResult struct {
	Hex string `json:"hex"`
}

// GetRawTxHex returns txid's raw transaction bytes, decoded from the hex
// string that non-verbose getrawtransaction returns.
func (b *BitcoindClient) GetRawTxHex(txid alkaneid.Txid) ([]byte, error) {
	var rawHex string
	if err := b.c.call("getrawtransaction", []interface{}{txid.String(), false}, &rawHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return nil, errors.Wrap(err, "mempool: decoding raw tx hex")
	}
	return raw, nil
}

// PrevOutAddress returns the scriptPubKey hex for a previous output,
// this indexer's address stand-in, matching resolver/edicts.go's hex-scriptPubKey
// convention for addresses since full address decoding is out of scope
// (see DESIGN.md).
func (b *BitcoindClient) PrevOutAddress(txid alkaneid.Txid, vout uint32) (string, error) {
	v, err := b.GetRawTxVerbose(txid)
	if err != nil {
		return "", err
	}
	for _, out := range v.Vout {
		if out.N == vout {
			return hex.EncodeToString(out.Script), nil
		}
	}
	return "", errors.Errorf("mempool: vout %d not found in tx %s", vout, txid)
}

// VerboseVin is one decoded transaction input.
type VerboseVin struct {
	Coinbase bool
	PrevTxid alkaneid.Txid
	PrevVout uint32
}

// VerboseVout is one decoded transaction output.
type VerboseVout struct {
	N      uint32
	Value  int64
	Script []byte
}

// VerboseTx is a decoded transaction's vin/vout shape, the same
// structured view blocksource.RPCSource.GetBlockByHeight builds per
// transaction, fetched standalone here for a single mempool candidate.
type VerboseTx struct {
	Vin  []VerboseVin
	Vout []VerboseVout
}

type verboseTxResult struct {
	Vin []struct {
		Txid     string `json:"txid"`
		Vout     uint32 `json:"vout"`
		Coinbase string `json:"coinbase"`
	} `json:"vin"`
	Vout []struct {
		Value        float64 `json:"value"`
		N            uint32  `json:"n"`
		ScriptPubKey struct {
			Hex string `json:"hex"`
		} `json:"scriptPubKey"`
	} `json:"vout"`
}

// GetRawTxVerbose fetches txid's decoded vin/vout structure.
func (b *BitcoindClient) GetRawTxVerbose(txid alkaneid.Txid) (*VerboseTx, error) {
	var r verboseTxResult
	if err := b.c.call("getrawtransaction", []interface{}{txid.String(), true}, &r); err != nil {
		return nil, err
	}
	out := &VerboseTx{}
	for _, vin := range r.Vin {
		if vin.Coinbase != "" {
			out.Vin = append(out.Vin, VerboseVin{Coinbase: true})
			continue
		}
		prevTxid, err := alkaneid.TxidFromDisplayHex(vin.Txid)
		if err != nil {
			return nil, err
		}
		out.Vin = append(out.Vin, VerboseVin{PrevTxid: prevTxid, PrevVout: vin.Vout})
	}
	for _, vout := range r.Vout {
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			return nil, errors.Wrap(err, "mempool: decoding scriptPubKey hex")
		}
		out.Vout = append(out.Vout, VerboseVout{N: vout.N, Value: int64(vout.Value * 1e8), Script: script})
	}
	return out, nil
}

// PreviewClient wraps the upstream JSON-RPC endpoint's metashrew_preview
// method.
type PreviewClient struct {
	c *jsonRPCClient
}

// NewPreviewClient returns a PreviewClient talking to the metashrew RPC
// endpoint (config.Config.MetashrewRPCURL).
func NewPreviewClient(url string) *PreviewClient {
	return &PreviewClient{c: newJSONRPCClient(url, "", "")}
}

// Preview calls metashrew_preview(previewBlockHex, "trace", outpointHex,
// "latest") and decodes the hex-encoded protobuf trace bytes it returns.
func (p *PreviewClient) Preview(previewBlockHex string, outpointHex string) ([]byte, error) {
	var resultHex string
	params := []interface{}{previewBlockHex, "trace", outpointHex, "latest"}
	if err := p.c.call("metashrew_preview", params, &resultHex); err != nil {
		return nil, err
	}
	raw, err := hex.DecodeString(resultHex)
	if err != nil {
		return nil, errors.Wrap(err, "mempool: decoding metashrew_preview result hex")
	}
	return raw, nil
}
