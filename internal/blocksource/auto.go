package blocksource

import "github.com/subfrost/alkanes-index/internal/logs"

var log = logs.Logger(logs.Tags.UPST)

// AutoSource implements config.BlockSourceMode "auto": prefer the flat
// block-file reader (no RPC round trip) and fall back to the bitcoind RPC
// source whenever the block-file read fails — a node still catching up
// its own block files, or a height the flat-file reader hasn't reached
// yet, are both recoverable this way without giving up the whole read.
type AutoSource struct {
	Primary  Source
	Fallback Source
}

// NewAutoSource builds an AutoSource from an already-constructed
// block-file reader and RPC client.
func NewAutoSource(blkFile *BlkFileSource, rpc *RPCSource) *AutoSource {
	return &AutoSource{Primary: blkFile, Fallback: rpc}
}

func (a *AutoSource) GetBlockByHeight(height, tip uint32) (*Block, error) {
	block, err := a.Primary.GetBlockByHeight(height, tip)
	if err == nil {
		return block, nil
	}
	log.Debugf("blocksource: block-file read failed for height %d, falling back to RPC: %v", height, err)
	return a.Fallback.GetBlockByHeight(height, tip)
}
