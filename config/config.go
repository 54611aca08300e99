// Package config loads relayd's TOML configuration file and overlays
// environment-variable secrets on top of it.
package config

import (
	"fmt"
	"os"

	"github.com/BurntSushi/toml"

	"github.com/tolchain/relay/core"
	"github.com/tolchain/relay/indexer"
)

// JackpotTierConfig is one tier's static configuration as read from TOML;
// TargetAmount is parsed from a decimal string since cosmossdk.io/math.Int
// has no TOML unmarshaler of its own.
type JackpotTierConfig struct {
	ID              string `toml:"id"`
	Name            string `toml:"name"`
	TargetAmount    string `toml:"target_amount"`
	MinGames        int    `toml:"min_games"`
	ContributionBPS int64  `toml:"contribution_bps"`
	RequiresVIPTier int    `toml:"requires_vip_tier"`
	Active          bool   `toml:"active"`
}

// Config is relayd's full runtime configuration.
type Config struct {
	ChainID      string `toml:"chain_id"`
	ChainRESTURL string `toml:"chain_rest_url"`
	ContractAddr string `toml:"contract_address"`
	Denom        string `toml:"denom"`

	KeystorePath string `toml:"keystore_path"`
	MirrorDBPath string `toml:"mirror_db_path"`

	GasGranter   string `toml:"gas_granter"`
	OrphanPolicy string `toml:"orphan_policy"`

	OpsRPCListenAddr string `toml:"ops_rpc_listen_addr"`

	JackpotTiers []JackpotTierConfig `toml:"jackpot_tier"`

	// RelayerPassword decrypts KeystorePath. It is never read from the TOML
	// file itself (see Load) so it never ends up on disk or in a config
	// dump; only the RELAYER_PASSWORD environment variable populates it.
	RelayerPassword string `toml:"-"`
}

// Load reads path as TOML and overlays the RELAYER_PASSWORD environment
// variable. It does not validate chain reachability; that happens at
// dial time.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("decode config %q: %w", path, err)
	}
	cfg.RelayerPassword = os.Getenv("RELAYER_PASSWORD")
	if cfg.RelayerPassword == "" {
		return nil, fmt.Errorf("RELAYER_PASSWORD is not set")
	}
	if cfg.OrphanPolicy == "" {
		cfg.OrphanPolicy = string(indexer.OrphanPolicyEscalate)
	}
	return &cfg, nil
}

// Tiers converts the TOML tier config into the core domain type, parsing
// each decimal target amount.
func (c *Config) Tiers() ([]core.JackpotTier, error) {
	out := make([]core.JackpotTier, 0, len(c.JackpotTiers))
	for _, t := range c.JackpotTiers {
		amount, err := core.ParseAmount(t.TargetAmount)
		if err != nil {
			return nil, fmt.Errorf("jackpot tier %q target_amount: %w", t.ID, err)
		}
		out = append(out, core.JackpotTier{
			ID:              t.ID,
			Name:            t.Name,
			TargetAmount:    amount,
			MinGames:        t.MinGames,
			ContributionBPS: t.ContributionBPS,
			RequiresVIPTier: t.RequiresVIPTier,
			Active:          t.Active,
		})
	}
	return out, nil
}
