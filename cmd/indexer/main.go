// Command indexer boots the full Alkanes metaprotocol indexer: it wires
// together the local stores, the upstream adapter, the block source, the
// AOF rollback log, every registered module, the mempool preview
// service, the block loop scheduler, and the RPC server, then blocks
// until interrupted.
//
// Grounded on daglabs-btcd/kaspad.go's wrapper-struct idiom: a single
// struct holding every long-lived service plus start()/stop() methods,
// constructed once at boot and torn down once on signal.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/aof"
	"github.com/subfrost/alkanes-index/internal/blocksource"
	"github.com/subfrost/alkanes-index/internal/config"
	"github.com/subfrost/alkanes-index/internal/logs"
	"github.com/subfrost/alkanes-index/internal/mempool"
	"github.com/subfrost/alkanes-index/internal/modules/ammdata"
	"github.com/subfrost/alkanes-index/internal/modules/essentials"
	"github.com/subfrost/alkanes-index/internal/modules/pizzafun"
	"github.com/subfrost/alkanes-index/internal/ordkv"
	"github.com/subfrost/alkanes-index/internal/registry"
	"github.com/subfrost/alkanes-index/internal/rpcserver"
	"github.com/subfrost/alkanes-index/internal/scheduler"
	"github.com/subfrost/alkanes-index/internal/upstream"
)

var log = logs.Logger(logs.Tags.SCHD)

// indexer is a wrapper for every long-lived service this process runs.
type indexer struct {
	cfg *config.Config

	mainStore     *ordkv.Store
	upstreamStore *ordkv.Store

	mempoolSvc *mempool.Service
	scheduler  *scheduler.Scheduler
	rpc        *rpcserver.Server

	rpcAddr string
}

func main() {
	configPath := flag.String("config", "config.json", "path to the indexer's JSON config file")
	flag.Parse()

	logs.InitLogRotator("logs/indexer.log")

	idx, err := newIndexer(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "indexer: %+v\n", err)
		os.Exit(1)
	}

	idx.start()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	idx.stop()
}

// newIndexer constructs every service, wired but not yet started.
func newIndexer(configPath string) (*indexer, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, errors.Wrap(err, "loading config")
	}

	mainStore, err := ordkv.Open(cfg.DBPath)
	if err != nil {
		return nil, errors.Wrap(err, "opening main store")
	}
	upstreamStore, err := ordkv.Open(cfg.ReadonlyMetashrewDBDir)
	if err != nil {
		return nil, errors.Wrap(err, "opening upstream metashrew store")
	}

	up := upstream.New(upstreamStore, cfg.MetashrewDBLabel)

	blockSrc, reorgRPC, err := buildBlockSource(cfg)
	if err != nil {
		return nil, errors.Wrap(err, "building block source")
	}

	var aofMgr *aof.Manager
	if cfg.EnableAOF {
		aofMgr = aof.New(mainStore, cfg.ReorgDepth)
	}

	const genesisHeight = 0

	essentialsModule := essentials.New(mainStore, up, aofMgr, genesisHeight)
	ammdataModule := ammdata.New(mainStore, up, essentialsModule, genesisHeight)
	pizzafunModule := pizzafun.New(genesisHeight)

	reg := registry.New()
	reg.Register(essentialsModule)
	reg.Register(ammdataModule)
	reg.Register(pizzafunModule)

	mempoolSvc, err := buildMempool(cfg, mainStore, up)
	if err != nil {
		return nil, errors.Wrap(err, "building mempool service")
	}

	sched := scheduler.New(scheduler.Options{
		Registry:      reg,
		Upstream:      up,
		BlockSrc:      blockSrc,
		ReorgRPC:      reorgRPC,
		AOF:           aofMgr,
		Mempool:       mempoolSvc,
		StrictMode:    cfg.StrictMode,
		ReorgDepth:    cfg.ReorgDepth,
		PollInterval:  time.Duration(cfg.SDBPollMS) * time.Millisecond,
		SimulateReorg: cfg.SimulateReorg,
		GenesisHeight: genesisHeight,
	})

	rpc := rpcserver.New()
	rpcserver.RegisterEssentials(rpc, essentialsModule)
	rpcserver.RegisterAMMData(rpc, ammdataModule)
	rpcserver.RegisterPizzafun(rpc, pizzafunModule)

	return &indexer{
		cfg:           cfg,
		mainStore:     mainStore,
		upstreamStore: upstreamStore,
		mempoolSvc:    mempoolSvc,
		scheduler:     sched,
		rpc:           rpc,
		rpcAddr:       fmt.Sprintf(":%d", cfg.Port),
	}, nil
}

// buildBlockSource constructs the blocksource.Source configured by
// cfg.BlockSourceMode, plus the live-RPC handle the
// scheduler's reorg detection consults when a bitcoind
// RPC endpoint is configured at all.
func buildBlockSource(cfg *config.Config) (blocksource.Source, scheduler.ReorgRPC, error) {
	var rpcSrc *blocksource.RPCSource
	if cfg.BitcoindRPCURL != "" {
		rpcSrc = blocksource.NewRPCSource(cfg.BitcoindRPCURL, cfg.BitcoindRPCUser, cfg.BitcoindRPCPass)
	}

	switch cfg.BlockSourceMode {
	case config.BlockSourceBlkOnly:
		if cfg.BitcoindBlocksDir == "" {
			return nil, nil, errors.New("block_source_mode=blk-only requires bitcoind_blocks_dir")
		}
		return blocksource.NewBlkFileSource(cfg.BitcoindBlocksDir), rpcSrc, nil
	case config.BlockSourceRPCOnly:
		if rpcSrc == nil {
			return nil, nil, errors.New("block_source_mode=rpc-only requires bitcoind_rpc_url")
		}
		return rpcSrc, rpcSrc, nil
	default: // config.BlockSourceAuto
		if cfg.BitcoindBlocksDir == "" || rpcSrc == nil {
			return nil, nil, errors.New("block_source_mode=auto requires both bitcoind_blocks_dir and bitcoind_rpc_url")
		}
		blkSrc := blocksource.NewBlkFileSource(cfg.BitcoindBlocksDir)
		return blocksource.NewAutoSource(blkSrc, rpcSrc), rpcSrc, nil
	}
}

// buildMempool constructs the Mempool Preview Service, or nil if no
// bitcoind RPC endpoint is configured (it has nothing to poll without
// one).
func buildMempool(cfg *config.Config, store *ordkv.Store, up *upstream.Adapter) (*mempool.Service, error) {
	if cfg.BitcoindRPCURL == "" {
		return nil, nil
	}
	bitcoind := mempool.NewBitcoindClient(cfg.BitcoindRPCURL, cfg.BitcoindRPCUser, cfg.BitcoindRPCPass)
	var preview *mempool.PreviewClient
	if cfg.MetashrewRPCURL != "" {
		preview = mempool.NewPreviewClient(cfg.MetashrewRPCURL)
	}
	return mempool.New(mempool.Options{
		Store:          store,
		Upstream:       up,
		Bitcoind:       bitcoind,
		Preview:        preview,
		ResetOnStartup: cfg.ResetMempoolOnStartup,
	})
}

// start launches every background service.
func (idx *indexer) start() {
	log.Infof("indexer: starting, db_path=%s port=%d", idx.cfg.DBPath, idx.cfg.Port)

	if idx.mempoolSvc != nil {
		idx.mempoolSvc.Start()
	}
	if err := idx.scheduler.Start(); err != nil {
		log.Errorf("indexer: scheduler failed to start: %v", err)
	}
	go func() {
		if err := idx.rpc.ListenAndServe(idx.rpcAddr); err != nil {
			log.Errorf("indexer: rpc server stopped: %v", err)
		}
	}()
}

// stop stops the scheduler and the mempool service, then closes the main
// and upstream stores. The RPC server is not stopped here.
func (idx *indexer) stop() {
	log.Warnf("indexer: shutting down")

	idx.scheduler.Stop()
	if idx.mempoolSvc != nil {
		idx.mempoolSvc.Stop()
	}

	if err := idx.mainStore.Close(); err != nil {
		log.Errorf("indexer: closing main store: %v", err)
	}
	if err := idx.upstreamStore.Close(); err != nil {
		log.Errorf("indexer: closing upstream store: %v", err)
	}
}
