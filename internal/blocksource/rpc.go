package blocksource

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"math"
	"net/http"
	"time"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
)

// rpcTimeout mirrors infrastructure/network/rpcclient's connection-timeout
// convention (a short, fixed client-side deadline rather than a
// context-plumbed one, since this collaborator is out of this indexer's
// design scope).
const rpcTimeout = 15 * time.Second

// RPCSource resolves blocks via a bitcoind-compatible JSON-RPC endpoint.
type RPCSource struct {
	url        string
	user, pass string
	client     *http.Client
}

// NewRPCSource returns a Source backed by a bitcoind JSON-RPC node.
func NewRPCSource(url, user, pass string) *RPCSource {
	return &RPCSource{url: url, user: user, pass: pass, client: &http.Client{Timeout: rpcTimeout}}
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      string        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (r *RPCSource) call(method string, params []interface{}, out interface{}) error {
	reqBody, err := json.Marshal(rpcRequest{JSONRPC: "1.0", ID: "alkanes-index", Method: method, Params: params})
	if err != nil {
		return errors.Wrap(err, "blocksource: marshal rpc request")
	}
	req, err := http.NewRequest(http.MethodPost, r.url, bytes.NewReader(reqBody))
	if err != nil {
		return errors.Wrap(err, "blocksource: build rpc request")
	}
	req.Header.Set("Content-Type", "application/json")
	if r.user != "" {
		req.SetBasicAuth(r.user, r.pass)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return errors.Wrapf(err, "blocksource: rpc call %s", method)
	}
	defer resp.Body.Close()

	var rr rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return errors.Wrapf(err, "blocksource: decode rpc response for %s", method)
	}
	if rr.Error != nil {
		return errors.Errorf("blocksource: rpc %s: %s (code %d)", method, rr.Error.Message, rr.Error.Code)
	}
	if out == nil {
		return nil
	}
	return errors.Wrapf(json.Unmarshal(rr.Result, out), "blocksource: unmarshal result of %s", method)
}

type rpcBlock struct {
	Hash         string  `json:"hash"`
	PreviousHash string  `json:"previousblockhash"`
	Height       uint32  `json:"height"`
	Tx           []rpcTx `json:"tx"`
}

type rpcTx struct {
	Txid string    `json:"txid"`
	Hex  string    `json:"hex"`
	Vin  []rpcVin  `json:"vin"`
	Vout []rpcVout `json:"vout"`
}

type rpcVin struct {
	Txid     string `json:"txid"`
	Vout     uint32 `json:"vout"`
	Sequence uint32 `json:"sequence"`
	Coinbase string `json:"coinbase"`
}

type rpcVout struct {
	Value        float64 `json:"value"`
	N            uint32  `json:"n"`
	ScriptPubKey struct {
		Hex string `json:"hex"`
	} `json:"scriptPubKey"`
}

// BlockHashAtHeight returns the live node's canonical block hash at
// height, the reorg-detection primitive scheduler uses to compare
// against AOF's retained generations. Uses the same
// display-hex-to-internal-bytes convention as GetBlockByHeight's Hash
// field (alkaneid.TxidFromDisplayHex).
func (r *RPCSource) BlockHashAtHeight(height uint32) ([32]byte, error) {
	var hash string
	if err := r.call("getblockhash", []interface{}{height}, &hash); err != nil {
		return [32]byte{}, err
	}
	h, err := alkaneid.TxidFromDisplayHex(hash)
	if err != nil {
		return [32]byte{}, errors.Wrap(err, "blocksource: decoding block hash hex")
	}
	return [32]byte(h), nil
}

// GetBlockByHeight fetches the block at height via getblockhash+getblock
// (verbosity 2, full transaction decode).
func (r *RPCSource) GetBlockByHeight(height uint32, tip uint32) (*Block, error) {
	var hash string
	if err := r.call("getblockhash", []interface{}{height}, &hash); err != nil {
		return nil, err
	}

	var rb rpcBlock
	if err := r.call("getblock", []interface{}{hash, 2}, &rb); err != nil {
		return nil, err
	}

	var headerHex string
	if err := r.call("getblockheader", []interface{}{hash, false}, &headerHex); err != nil {
		return nil, errors.Wrap(err, "blocksource: fetching raw header")
	}
	headerBytes, err := hex.DecodeString(headerHex)
	if err != nil {
		return nil, errors.Wrap(err, "blocksource: decoding raw header hex")
	}

	block := &Block{Height: rb.Height, HeaderBytes: headerBytes}
	if h, err := alkaneid.TxidFromDisplayHex(rb.Hash); err == nil {
		block.Hash = [32]byte(h)
	}
	if rb.PreviousHash != "" {
		if h, err := alkaneid.TxidFromDisplayHex(rb.PreviousHash); err == nil {
			block.PrevHash = [32]byte(h)
		}
	}

	block.Txs = make([]Tx, 0, len(rb.Tx))
	for _, t := range rb.Tx {
		tx, err := convertRPCTx(t)
		if err != nil {
			return nil, errors.Wrapf(err, "blocksource: converting tx %s", t.Txid)
		}
		block.Txs = append(block.Txs, tx)
	}
	return block, nil
}

func convertRPCTx(t rpcTx) (Tx, error) {
	var out Tx
	txid, err := alkaneid.TxidFromDisplayHex(t.Txid)
	if err != nil {
		return out, err
	}
	out.Txid = txid
	if t.Hex != "" {
		raw, err := hex.DecodeString(t.Hex)
		if err != nil {
			return out, errors.Wrap(err, "decoding tx hex")
		}
		out.RawBytes = raw
	}

	for _, vin := range t.Vin {
		if vin.Coinbase != "" {
			out.Vin = append(out.Vin, TxIn{
				PrevOut:  alkaneid.Outpoint{Vout: 0xffffffff},
				Sequence: vin.Sequence,
			})
			continue
		}
		prevTxid, err := alkaneid.TxidFromDisplayHex(vin.Txid)
		if err != nil {
			return out, err
		}
		out.Vin = append(out.Vin, TxIn{
			PrevOut:  alkaneid.Outpoint{Txid: prevTxid, Vout: vin.Vout},
			Sequence: vin.Sequence,
		})
	}

	for _, vout := range t.Vout {
		script, err := hex.DecodeString(vout.ScriptPubKey.Hex)
		if err != nil {
			return out, errors.Wrap(err, "decoding scriptPubKey hex")
		}
		out.Vout = append(out.Vout, TxOut{
			Value:  btcToSatoshis(vout.Value),
			Script: script,
		})
	}
	return out, nil
}

func btcToSatoshis(btc float64) int64 {
	return int64(math.Round(btc * 1e8))
}
