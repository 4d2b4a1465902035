// Package config loads the indexer's single JSON configuration file.
// Configuration-file loading and CLI parsing are treated as external
// collaborators outside this indexer's own design, so this package
// deliberately stays a thin encoding/json struct rather than adopting a
// templating/env-merging config library; see DESIGN.md for the fuller
// justification.
package config

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
)

// BlockSourceMode selects how the Block Source collaborator resolves
// blocks.
type BlockSourceMode string

const (
	BlockSourceAuto    BlockSourceMode = "auto"
	BlockSourceRPCOnly BlockSourceMode = "rpc-only"
	BlockSourceBlkOnly BlockSourceMode = "blk-only"
)

// Network enumerates the supported Bitcoin networks.
type Network string

const (
	NetworkMainnet  Network = "mainnet"
	NetworkRegtest  Network = "regtest"
	NetworkSignet   Network = "signet"
	NetworkTestnet  Network = "testnet"
	NetworkTestnet3 Network = "testnet3"
	NetworkTestnet4 Network = "testnet4"
)

// Config is the exhaustive set of recognized configuration fields.
type Config struct {
	ReadonlyMetashrewDBDir string `json:"readonly_metashrew_db_dir"`

	ElectrumRPCURL     string `json:"electrum_rpc_url,omitempty"`
	ElectrsEsploraURL  string `json:"electrs_esplora_url,omitempty"`
	MetashrewRPCURL    string `json:"metashrew_rpc_url"`

	BitcoindRPCURL  string `json:"bitcoind_rpc_url"`
	BitcoindRPCUser string `json:"bitcoind_rpc_user"`
	BitcoindRPCPass string `json:"bitcoind_rpc_pass"`

	BitcoindBlocksDir string `json:"bitcoind_blocks_dir"`

	ResetMempoolOnStartup bool `json:"reset_mempool_on_startup"`

	DBPath string `json:"db_path"`

	EnableAOF bool `json:"enable_aof"`

	SDBPollMS          int `json:"sdb_poll_ms"`
	IndexerBlockDelayMS int `json:"indexer_block_delay_ms"`

	Port           int    `json:"port"`
	ExplorerHost   string `json:"explorer_host"`
	ExplorerBasePath string `json:"explorer_base_path"`

	Network Network `json:"network"`

	MetashrewDBLabel string `json:"metashrew_db_label,omitempty"`

	StrictMode bool `json:"strict_mode"`

	BlockSourceMode BlockSourceMode `json:"block_source_mode"`

	SimulateReorg bool `json:"simulate_reorg"`

	ExplorerNetworks map[string]string `json:"explorer_networks,omitempty"`

	// ReorgDepth is effectively fixed upstream (default 6) but is exposed
	// here as config, defaulting to 6 when unset.
	ReorgDepth int `json:"reorg_depth,omitempty"`
}

// defaults fills in zero-valued fields that have a documented default.
func (c *Config) defaults() {
	if c.SDBPollMS <= 0 {
		c.SDBPollMS = 1000
	}
	if c.BlockSourceMode == "" {
		c.BlockSourceMode = BlockSourceAuto
	}
	if c.ReorgDepth <= 0 {
		c.ReorgDepth = 6
	}
}

// Load reads and parses the JSON config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading config file %s", path)
	}
	var c Config
	if err := json.Unmarshal(raw, &c); err != nil {
		return nil, errors.Wrapf(err, "parsing config file %s", path)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.defaults()
	return &c, nil
}

// Validate checks the cross-field invariants this config's fields must
// satisfy: at least one of electrum/esplora must be set, and
// sdb_poll_ms must be > 0
// once defaults are NOT yet applied (a caller-supplied zero is allowed and
// filled in by defaults(), but a caller-supplied negative is rejected).
func (c *Config) Validate() error {
	if c.ElectrumRPCURL == "" && c.ElectrsEsploraURL == "" {
		return errors.New("config: at least one of electrum_rpc_url or electrs_esplora_url must be set")
	}
	if c.SDBPollMS < 0 {
		return errors.New("config: sdb_poll_ms must be > 0")
	}
	switch c.Network {
	case NetworkMainnet, NetworkRegtest, NetworkSignet, NetworkTestnet, NetworkTestnet3, NetworkTestnet4:
	default:
		return errors.Errorf("config: unrecognized network %q", c.Network)
	}
	switch c.BlockSourceMode {
	case "", BlockSourceAuto, BlockSourceRPCOnly, BlockSourceBlkOnly:
	default:
		return errors.Errorf("config: unrecognized block_source_mode %q", c.BlockSourceMode)
	}
	return nil
}

// PreferElectrum reports whether the Electrum client should be preferred
// over Esplora: Electrum wins when both are configured.
func (c *Config) PreferElectrum() bool {
	return c.ElectrumRPCURL != ""
}
