// Package scheduler runs the single block loop task: poll the upstream
// tip, assemble and resolve each new block, drive every registered
// module over it in order, and detect/undo reorgs via AOF.
//
// Grounded on daglabs-btcd/kaspad.go's wrapper-struct idiom (start/stop
// methods, a spawned goroutine running a loop with a shutdown channel) and
// on domain/blockdag's fork-point/reorg handling.
package scheduler

import (
	"time"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/aof"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/registry"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

var log = logs.Logger(logs.Tags.SCHD)

// ReorgRPC is the live-node RPC surface reorg detection consults for a
// canonical block hash, separate from blocksource.Source's historical
// get-by-height.
type ReorgRPC interface {
	BlockHashAtHeight(height uint32) ([32]byte, error)
}

// MempoolPurger is the mempool preview service's eviction hook, kept as a
// narrow interface so the scheduler never imports internal/mempool
// directly.
type MempoolPurger interface {
	PurgeConfirmedTxids(txids [][32]byte)
	Reset()
}

// Options configures a Scheduler.
type Options struct {
	Registry   *registry.Registry
	Upstream   *upstream.Adapter
	BlockSrc   blocksource.Source
	ReorgRPC   ReorgRPC
	AOF        *aof.Manager
	Mempool    MempoolPurger
	StrictMode bool

	ReorgDepth   int
	PollInterval time.Duration

	// SimulateReorg forces a full AOF rollback at startup, purely for
	// testing the revert path.
	SimulateReorg bool

	// GenesisHeight is the lowest height the loop will ever index; below
	// it there is nothing for any module to do.
	GenesisHeight uint32
}

// Scheduler owns next_height/safe_tip and drives the block loop.
type Scheduler struct {
	opts Options

	nextHeight uint32
	safeTip    uint32

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Scheduler starting at opts.GenesisHeight.
func New(opts Options) *Scheduler {
	if opts.ReorgDepth <= 0 {
		opts.ReorgDepth = 6
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Scheduler{
		opts:       opts,
		nextHeight: opts.GenesisHeight,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs simulate_reorg (if configured) and spawns the block loop.
func (s *Scheduler) Start() error {
	if s.opts.SimulateReorg && s.opts.AOF != nil {
		log.Warnf("scheduler: simulate_reorg set, reverting all retained AOF generations")
		if err := s.opts.AOF.RevertAllBlocks(); err != nil {
			return errors.Wrap(err, "scheduler: simulate_reorg revert")
		}
	}
	go s.run()
	return nil
}

// Stop signals the loop to exit and waits for it to do so.
func (s *Scheduler) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Scheduler) run() {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		default:
		}
		if err := s.tick(); err != nil {
			log.Errorf("scheduler: tick failed: %v", err)
		}
	}
}

// tick runs one iteration of the block loop: catch up the upstream
// cursor, assemble and resolve the next block if the tip has advanced
// past it, drive the module registry over the result, purge confirmed
// mempool entries, and advance nextHeight. A strict-mode divergence
// surfaces as an unrecovered panic from resolver.Resolve, which this
// function deliberately does not recover from — the caller lets the
// process die.
func (s *Scheduler) tick() error {
	if err := s.opts.Upstream.CatchUpNow(); err != nil {
		return errors.Wrap(err, "scheduler: catch_up_now")
	}
	tip, err := s.opts.Upstream.TipHeight()
	if err != nil {
		return errors.Wrap(err, "scheduler: tip_height")
	}
	s.safeTip = tip

	if s.nextHeight > tip {
		if s.inReorgWindow() {
			if err := s.checkAndHandleReorg(); err != nil {
				log.Errorf("scheduler: reorg check failed: %v", err)
			}
		}
		s.sleep()
		return nil
	}

	ib, err := traceassembler.Assemble(s.opts.BlockSrc, s.opts.Upstream, s.nextHeight, tip, traceassembler.Page{})
	if err != nil {
		return errors.Wrapf(err, "scheduler: assembling block %d", s.nextHeight)
	}

	aofOpen := false
	if s.opts.AOF != nil && s.inReorgWindow() {
		if err := s.opts.AOF.StartBlock(ib.Height, ib.Hash); err != nil {
			return errors.Wrapf(err, "scheduler: aof.start_block %d", ib.Height)
		}
		aofOpen = true
	}

	res, err := resolver.Resolve(ib, s.essentialsBalanceStore(), resolver.Options{
		StrictMode: s.opts.StrictMode,
		Upstream:   s.opts.Upstream,
	})
	if err != nil {
		return errors.Wrapf(err, "scheduler: resolving block %d", ib.Height)
	}

	if err := s.opts.Registry.IndexBlock(ib, res); err != nil {
		return errors.Wrapf(err, "scheduler: indexing block %d", ib.Height)
	}

	if s.opts.Mempool != nil {
		s.opts.Mempool.PurgeConfirmedTxids(txidsOf(ib))
	}

	if aofOpen {
		if err := s.opts.AOF.FinishBlock(); err != nil {
			return errors.Wrapf(err, "scheduler: aof.finish_block %d", ib.Height)
		}
	}

	s.nextHeight++
	return nil
}

func txidsOf(ib *traceassembler.IndexedBlock) [][32]byte {
	out := make([][32]byte, 0, len(ib.Transactions))
	for _, it := range ib.Transactions {
		out = append(out, [32]byte(it.Tx.Txid))
	}
	return out
}

// essentialsBalanceStore returns the resolver.BalanceStore the Essentials
// module (always registration index 0) implements, since the resolver
// needs it before any module has run index_block for this height.
func (s *Scheduler) essentialsBalanceStore() resolver.BalanceStore {
	for _, m := range s.opts.Registry.Modules() {
		if bs, ok := m.(resolver.BalanceStore); ok {
			return bs
		}
	}
	return nil
}

func (s *Scheduler) inReorgWindow() bool {
	return s.safeTip >= uint32(s.opts.ReorgDepth) && s.nextHeight+uint32(s.opts.ReorgDepth) > s.safeTip
}

func (s *Scheduler) sleep() {
	select {
	case <-time.After(s.opts.PollInterval):
	case <-s.stopCh:
	}
}

// checkAndHandleReorg compares AOF's retained generations against the
// live node's canonical hash at each height, reverting the trailing
// mismatched run if any differ.
func (s *Scheduler) checkAndHandleReorg() error {
	if s.opts.AOF == nil || s.opts.ReorgRPC == nil {
		return nil
	}
	gens, err := s.opts.AOF.RecentBlocks(s.opts.ReorgDepth)
	if err != nil {
		return errors.Wrap(err, "scheduler: aof.recent_blocks")
	}
	if len(gens) == 0 {
		return nil
	}

	mismatchFrom := -1
	for i, g := range gens {
		liveHash, err := s.opts.ReorgRPC.BlockHashAtHeight(g.Height)
		if err != nil {
			// Leave nextHeight untouched this tick rather than reverting
			// on an inconclusive read.
			return errors.Wrapf(err, "scheduler: fetching live hash at %d", g.Height)
		}
		if liveHash != g.BlockHash {
			mismatchFrom = i
			break
		}
	}
	if mismatchFrom < 0 {
		return nil
	}

	k := len(gens) - mismatchFrom
	if k > s.opts.ReorgDepth {
		k = s.opts.ReorgDepth
	}
	log.Warnf("scheduler: reorg detected at height %d, reverting %d block(s)", gens[mismatchFrom].Height, k)
	if err := s.opts.AOF.RevertLastBlocks(k); err != nil {
		return errors.Wrap(err, "scheduler: revert_last_blocks")
	}
	if s.opts.Mempool != nil {
		s.opts.Mempool.Reset()
	}
	s.nextHeight -= uint32(k)
	return nil
}
