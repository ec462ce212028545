// =================================
// File: internal/config/config_test.go
// =================================
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validConfig = `{
	"rpc_list": ["https://api.mainnet-beta.solana.com"],
	"wallet_key": "test-key",
	"starting_equity_usdc": 1000
}`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "https://quote-api.jup.ag/v6", cfg.QuoteAPIURL)
	assert.Equal(t, DefaultSwapRetries, cfg.SwapRetries)
	assert.Equal(t, -10.0, cfg.DailyLossLimitPct)
	assert.Equal(t, 3, cfg.MaxPositions)
	assert.Equal(t, 60.0, cfg.MaxExposurePct)
	assert.Equal(t, DefaultBalanceTTLSec, cfg.BalanceCacheTTLSec)
	assert.Equal(t, "data", cfg.DataDir)
}

func TestLoadConfigValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"empty rpc list", `{"rpc_list": [], "wallet_key": "k", "starting_equity_usdc": 100}`},
		{"bad rpc scheme", `{"rpc_list": ["ftp://node"], "wallet_key": "k", "starting_equity_usdc": 100}`},
		{"missing wallet live mode", `{"rpc_list": ["https://node"], "starting_equity_usdc": 100}`},
		{"zero equity", `{"rpc_list": ["https://node"], "wallet_key": "k"}`},
		{"positive loss limit", `{"rpc_list": ["https://node"], "wallet_key": "k", "starting_equity_usdc": 100, "daily_loss_limit_pct": 5}`},
		{"bad failure rate", `{"rpc_list": ["https://node"], "wallet_key": "k", "starting_equity_usdc": 100, "sim_failure_rate": 1.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.content))
			assert.Error(t, err)
		})
	}
}

func TestSimulateModeNeedsNoWallet(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"rpc_list": ["https://node"],
		"starting_equity_usdc": 500,
		"simulate": true
	}`))
	require.NoError(t, err)
	assert.True(t, cfg.Simulate)
	assert.Empty(t, cfg.WalletKey)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SOLANA_TRADER_WALLET_KEY", "env-key")
	t.Setenv("SOLANA_TRADER_RPC_LIST", "https://one, https://two")

	cfg, err := LoadConfig(writeConfig(t, validConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-key", cfg.WalletKey)
	assert.Equal(t, []string{"https://one", "https://two"}, cfg.RPCList)
}
