// Package mempool implements the Mempool Preview Service:
// independent of the block loop, it polls unconfirmed transactions,
// speculatively previews any that carry a metaprotocol payload against
// the upstream, and persists/expires the resulting traces in their own
// namespace.
//
// Grounded on daglabs-btcd/kaspad.go's wrapper-struct idiom (a spawned
// goroutine driven by a ticker, stopped via a close-channel) and on
// blocksource.RPCSource's minimal JSON-RPC client for the bitcoind calls
// this service makes directly (it runs on its own schedule, independent
// of blocksource's per-block fetches).
package mempool

import (
	"time"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

var log = logs.Logger(logs.Tags.MEMP)

// Namespace is this service's exclusive MDB byte prefix: its own store,
// independent of the block loop's MDB namespaces.
const Namespace = "mempool:"

// Tunables for the preview service's poll/worker behavior, kept as
// package constants rather than config.Config fields since they are
// fixed values, not operator-configurable knobs (matching config.go's
// "exhaustive table" philosophy: only genuinely configurable fields are
// added).
const (
	PollInterval        = 5 * time.Second
	MinFeerateSatPerVB  = 0.5
	PreviewConcurrency  = 6
	PreviewChunkSize    = 10
	MaxTrackedTxs       = 50_000
)

// Options configures a Service.
type Options struct {
	Store    *ordkv.Store
	Upstream *upstream.Adapter
	Bitcoind *BitcoindClient
	Preview  *PreviewClient

	// ResetOnStartup drops every key under Namespace before the poll
	// loop starts.
	ResetOnStartup bool
}

// Service is the Mempool Preview Service; it satisfies
// scheduler.MempoolPurger.
type Service struct {
	db       *mdb.MDB
	up       *upstream.Adapter
	bitcoind *BitcoindClient
	preview  *PreviewClient

	addrCache map[string]string

	stopCh chan struct{}
	doneCh chan struct{}
}

// New constructs a Service over opts.Store, scoped under Namespace.
func New(opts Options) (*Service, error) {
	db := mdb.New(opts.Store, Namespace)
	s := &Service{
		db:        db,
		up:        opts.Upstream,
		bitcoind:  opts.Bitcoind,
		preview:   opts.Preview,
		addrCache: make(map[string]string),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
	if opts.ResetOnStartup {
		if err := s.Reset(); err != nil {
			return nil, errors.Wrap(err, "mempool: reset_on_startup")
		}
	}
	return s, nil
}

// Start spawns the poll loop on its own goroutine, independent of the
// block loop's scheduling.
func (s *Service) Start() {
	go s.run()
}

// Stop signals the poll loop to exit and waits for it to do so.
func (s *Service) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

func (s *Service) run() {
	defer close(s.doneCh)
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			if err := s.tick(); err != nil {
				log.Errorf("mempool: tick failed: %v", err)
			}
		}
	}
}

// tick runs one poll cycle: fetch the raw mempool, diff it against what
// is already tracked, and preview every transaction not yet tracked.
func (s *Service) tick() error {
	txids, err := s.bitcoind.GetRawMempool()
	if err != nil {
		return errors.Wrap(err, "mempool: getrawmempool")
	}

	for _, txid := range txids {
		select {
		case <-s.stopCh:
			return nil
		default:
		}
		if err := s.processTx(txid); err != nil {
			log.Debugf("mempool: skipping tx %x: %v", txid, err)
		}
	}

	return s.evictIfOverCap()
}

// PurgeConfirmedTxids implements scheduler.MempoolPurger: remove a just-confirmed block's transactions from the
// mempool store.
func (s *Service) PurgeConfirmedTxids(txids [][32]byte) {
	for _, txid := range txids {
		if err := s.purgeTxid(txid); err != nil {
			log.Errorf("mempool: purging confirmed tx %x: %v", txid, err)
		}
	}
}

// Reset implements scheduler.MempoolPurger:
// drop every key this service owns.
func (s *Service) Reset() error {
	keys, err := s.db.ScanPrefix(nil)
	if err != nil {
		return err
	}
	b := s.db.NewBatch()
	for _, k := range keys {
		b.Delete(k)
	}
	if b.Len() == 0 {
		return nil
	}
	return s.db.Write(b)
}
