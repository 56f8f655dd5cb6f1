package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"clawscrow/native/escrow"
)

// TokenConfig registers a fungible token at startup.
type TokenConfig struct {
	Symbol   string `toml:"Symbol"`
	Name     string `toml:"Name"`
	Decimals uint8  `toml:"Decimals"`
}

// BalanceConfig seeds an account balance at startup. Address is bech32,
// Amount a decimal string so large values survive TOML round-trips.
type BalanceConfig struct {
	Address string `toml:"Address"`
	Token   string `toml:"Token"`
	Amount  string `toml:"Amount"`
}

type Config struct {
	RPCAddress          string          `toml:"RPCAddress"`
	MetricsAddress      string          `toml:"MetricsAddress"`
	DataDir             string          `toml:"DataDir"`
	NetworkName         string          `toml:"NetworkName"`
	ReviewPeriodSeconds int64           `toml:"ReviewPeriodSeconds"`
	ArbitrationFeeBps   uint32          `toml:"ArbitrationFeeBps"`
	GenesisTokens       []TokenConfig   `toml:"GenesisTokens"`
	GenesisBalances     []BalanceConfig `toml:"GenesisBalances"`
}

// Load loads the configuration from the given path, creating a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(cfg.MetricsAddress) == "" {
		cfg.MetricsAddress = "127.0.0.1:9645"
	}
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "clawscrow-local"
	}
	if cfg.ReviewPeriodSeconds <= 0 {
		cfg.ReviewPeriodSeconds = escrow.DefaultReviewPeriod
	}
	if cfg.GenesisTokens == nil {
		cfg.GenesisTokens = []TokenConfig{}
	}
	if cfg.GenesisBalances == nil {
		cfg.GenesisBalances = []BalanceConfig{}
	}
}

func validate(cfg *Config) error {
	if cfg.ArbitrationFeeBps > 10_000 {
		return fmt.Errorf("config: ArbitrationFeeBps must be <= 10000, got %d", cfg.ArbitrationFeeBps)
	}
	for _, token := range cfg.GenesisTokens {
		if _, err := escrow.NormalizeToken(token.Symbol); err != nil {
			return fmt.Errorf("config: genesis token: %w", err)
		}
	}
	return nil
}

func createDefault(path string) (*Config, error) {
	cfg := &Config{
		DataDir:           "./clawscrow-data",
		ArbitrationFeeBps: escrow.DefaultArbitrationFeeBps,
		GenesisTokens: []TokenConfig{
			{Symbol: "USDC", Name: "USD Coin", Decimals: 6},
		},
	}
	applyDefaults(cfg)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
