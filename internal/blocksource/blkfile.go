package blocksource

import "github.com/pkg/errors"

// BlkFileSource resolves blocks from bitcoind's flat blk*.dat files,
// grounded on database/ffldb's flat-file block store idiom (a directory of
// append-only files addressed by an offset index) — but this indexer
// only consumes the resulting get_block_by_height interface, not
// bitcoind's on-disk block index format itself. A from-scratch block
// file parser is out of this indexer's scope; this implementation expects
// a pre-built height->offset index maintained by an external tool and
// returns an error until one is wired in, so block_source_mode=blk-only
// fails loudly rather than silently returning wrong blocks.
type BlkFileSource struct {
	blocksDir string
}

// NewBlkFileSource returns a block-file-backed Source rooted at blocksDir.
func NewBlkFileSource(blocksDir string) *BlkFileSource {
	return &BlkFileSource{blocksDir: blocksDir}
}

// GetBlockByHeight is unimplemented: see the type doc comment.
func (b *BlkFileSource) GetBlockByHeight(height uint32, tip uint32) (*Block, error) {
	return nil, errors.Errorf("blocksource: blk-file mode not available for height %d (no height index wired in for %s)", height, b.blocksDir)
}

// AutoSource tries rpc first and falls back to the block-file source,
// matching block_source_mode=auto.
type AutoSource struct {
	RPC *RPCSource
	Blk *BlkFileSource
}

// GetBlockByHeight prefers RPC, falling back to blk-file reading only when
// RPC itself errors.
func (a *AutoSource) GetBlockByHeight(height uint32, tip uint32) (*Block, error) {
	if a.RPC != nil {
		block, err := a.RPC.GetBlockByHeight(height, tip)
		if err == nil {
			return block, nil
		}
		if a.Blk == nil {
			return nil, err
		}
	}
	if a.Blk == nil {
		return nil, errors.New("blocksource: no sources configured")
	}
	return a.Blk.GetBlockByHeight(height, tip)
}
