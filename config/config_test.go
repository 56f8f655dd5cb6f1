package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"clawscrow/native/escrow"
)

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)

	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, "127.0.0.1:9645", cfg.MetricsAddress)
	require.Equal(t, "clawscrow-local", cfg.NetworkName)
	require.Equal(t, escrow.DefaultReviewPeriod, cfg.ReviewPeriodSeconds)
	require.Equal(t, escrow.DefaultArbitrationFeeBps, cfg.ArbitrationFeeBps)
	require.Len(t, cfg.GenesisTokens, 1)
	require.Equal(t, "USDC", cfg.GenesisTokens[0].Symbol)

	// The written default must load back unchanged.
	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, reloaded)
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
DataDir = "/tmp/clawscrow"
ReviewPeriodSeconds = -5
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/clawscrow", cfg.DataDir)
	require.Equal(t, "127.0.0.1:8645", cfg.RPCAddress)
	require.Equal(t, escrow.DefaultReviewPeriod, cfg.ReviewPeriodSeconds)
	require.NotNil(t, cfg.GenesisTokens)
	require.NotNil(t, cfg.GenesisBalances)
}

func TestLoadValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
ArbitrationFeeBps = 10001
`), 0o644))
	_, err := Load(path)
	require.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`
[[GenesisTokens]]
Symbol = "not a token"
Name = "Broken"
Decimals = 6
`), 0o644))
	_, err = Load(path)
	require.Error(t, err)
}

func TestLoadRejectsMalformedTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("RPCAddress = ["), 0o644))
	_, err := Load(path)
	require.Error(t, err)
}
