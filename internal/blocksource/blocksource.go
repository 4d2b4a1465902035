// Package blocksource defines the Block Source collaborator: the Bitcoin
// P2P / block-file reader is treated as out of scope for this indexer's
// own design, with only a get_block_by_height(h, tip) -> Block interface
// consumed from it — so this package is intentionally thin: one
// interface plus the two implementations (bitcoind RPC, flat block-file)
// selected by config.BlockSourceMode, in the style of
// infrastructure/network/rpcclient's minimal JSON-RPC client.
package blocksource

import "github.com/subfrost/alkanes-index/internal/alkaneid"

// TxIn is one transaction input: a previous outpoint plus its sequence
// number.
type TxIn struct {
	PrevOut  alkaneid.Outpoint
	Sequence uint32
}

// TxOut is one transaction output.
type TxOut struct {
	Value  int64
	Script []byte
}

// Tx is a minimal Bitcoin transaction view: enough to drive edict/VIN
// routing and fee accounting, without modeling
// witness data this indexer never inspects directly (witness-carried
// OP_RETURN/Runestone payloads are decoded upstream; we only need the
// plain input/output shape).
type Tx struct {
	Txid     alkaneid.Txid
	Vin      []TxIn
	Vout     []TxOut
	RawBytes []byte
}

// IsCoinbase reports whether this is the block's coinbase transaction.
func (t Tx) IsCoinbase() bool {
	return len(t.Vin) == 1 && t.Vin[0].PrevOut.Txid == (alkaneid.Txid{}) && t.Vin[0].PrevOut.Vout == 0xffffffff
}

// Block is the minimal per-block view the trace assembler consumes.
type Block struct {
	Height     uint32
	Hash       [32]byte
	PrevHash   [32]byte
	HeaderBytes []byte
	Txs        []Tx
}

// Source resolves blocks by height, the only shape this collaborator
// needs to expose.
type Source interface {
	// GetBlockByHeight returns the block at height. tip is the caller's
	// current best-known height; the sources in this package accept it
	// but do not consult it.
	GetBlockByHeight(height uint32, tip uint32) (*Block, error)
}
