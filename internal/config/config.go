// =================================
// File: internal/config/config.go
// =================================
package config

import (
	"errors"
	"net/url"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	// Connectivity
	RPCList        []string `mapstructure:"rpc_list"`
	QuoteAPIURL    string   `mapstructure:"quote_api_url"`
	BundleRelayURL string   `mapstructure:"bundle_relay_url"`
	BundleTipAcct  string   `mapstructure:"bundle_tip_account"`
	BundleTipSol   float64  `mapstructure:"bundle_tip_sol"`
	UseBundleRelay bool     `mapstructure:"use_bundle_relay"`
	WalletKey      string   `mapstructure:"wallet_key"` // env only in practice

	// Guard ceilings
	MaxPriceImpactPct float64 `mapstructure:"max_price_impact_pct"`
	MaxSlippageBps    int     `mapstructure:"max_slippage_bps"`
	DefaultSlippage   int     `mapstructure:"default_slippage_bps"`

	// Kill switch
	DailyLossLimitPct    float64 `mapstructure:"daily_loss_limit_pct"` // negative, e.g. -10
	MaxConsecutiveLosses int     `mapstructure:"max_consecutive_losses"`

	// Portfolio risk
	StartingEquityUsdc float64 `mapstructure:"starting_equity_usdc"`
	MaxPositions       int     `mapstructure:"max_positions"`
	MaxExposurePct     float64 `mapstructure:"max_exposure_pct"`
	CooldownMinutes    int     `mapstructure:"cooldown_minutes"`

	// Pre-flight impact probe
	PreflightImpactCheck bool    `mapstructure:"preflight_impact_check"`
	ProbeSlippageBps     int     `mapstructure:"probe_slippage_bps"`
	ProbeTimeoutMs       int     `mapstructure:"probe_timeout_ms"`
	ProbeImpactCeiling   float64 `mapstructure:"probe_impact_ceiling_pct"`

	// Execution
	SwapRetries       int  `mapstructure:"swap_retries"`
	SimulateBeforeTx  bool `mapstructure:"simulate_before_send"`
	ConfirmTimeoutSec int  `mapstructure:"confirm_timeout_sec"`
	ReconcileRetries  int  `mapstructure:"reconcile_retries"`
	ReconcileDelayMs  int  `mapstructure:"reconcile_delay_ms"`

	// Monitoring
	MonitorIntervalMs     int     `mapstructure:"monitor_interval_ms"`
	LiquidityLookbackSec  int     `mapstructure:"liquidity_lookback_sec"`
	LiquidityRetentionSec int     `mapstructure:"liquidity_retention_sec"`
	LiquidityDropPct      float64 `mapstructure:"liquidity_drop_pct"`
	BalanceCacheTTLSec    int     `mapstructure:"balance_cache_ttl_sec"`

	// Persistence and logging
	DataDir      string `mapstructure:"data_dir"`
	LogFile      string `mapstructure:"log_file"`
	DebugLogging bool   `mapstructure:"debug_logging"`

	// Simulated execution mode
	Simulate       bool    `mapstructure:"simulate"`
	SimLatencyMs   int     `mapstructure:"sim_latency_ms"`
	SimFailureRate float64 `mapstructure:"sim_failure_rate"`
	SimSlippagePct float64 `mapstructure:"sim_slippage_pct"`
}

const (
	DefaultSwapRetries       = 3
	DefaultConfirmTimeoutSec = 30
	DefaultMonitorIntervalMs = 5000
	DefaultReconcileRetries  = 5
	DefaultReconcileDelayMs  = 1000
	DefaultBalanceTTLSec     = 20
)

func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	defaults := map[string]interface{}{
		"quote_api_url":            "https://quote-api.jup.ag/v6",
		"default_slippage_bps":     100,
		"max_price_impact_pct":     5.0,
		"max_slippage_bps":         500,
		"daily_loss_limit_pct":     -10.0,
		"max_consecutive_losses":   3,
		"max_positions":            3,
		"max_exposure_pct":         60.0,
		"cooldown_minutes":         30,
		"probe_slippage_bps":       50,
		"probe_timeout_ms":         3000,
		"probe_impact_ceiling_pct": 3.0,
		"swap_retries":             DefaultSwapRetries,
		"confirm_timeout_sec":      DefaultConfirmTimeoutSec,
		"reconcile_retries":        DefaultReconcileRetries,
		"reconcile_delay_ms":       DefaultReconcileDelayMs,
		"monitor_interval_ms":      DefaultMonitorIntervalMs,
		"liquidity_lookback_sec":   60,
		"liquidity_retention_sec":  300,
		"liquidity_drop_pct":       40.0,
		"balance_cache_ttl_sec":    DefaultBalanceTTLSec,
		"data_dir":                 "data",
		"log_file":                 "logs/trader.log",
		"bundle_tip_sol":           0.0001,
		"sim_latency_ms":           150,
	}
	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	loadEnvironmentVariables(v, &cfg)

	return &cfg, validateConfig(&cfg)
}

func validateConfig(cfg *Config) error {
	if len(cfg.RPCList) == 0 {
		return errors.New("rpc_list is empty")
	}
	for _, rpcURL := range cfg.RPCList {
		if err := validateURL(rpcURL, "http"); err != nil {
			return errors.New("invalid RPC URL protocol")
		}
	}
	if err := validateURL(cfg.QuoteAPIURL, "http"); err != nil {
		return errors.New("invalid quote API URL")
	}
	if cfg.BundleRelayURL != "" {
		if err := validateURL(cfg.BundleRelayURL, "http"); err != nil {
			return errors.New("invalid bundle relay URL")
		}
	}
	if !cfg.Simulate && cfg.WalletKey == "" {
		return errors.New("missing wallet key in configuration")
	}
	return validateNumericParams(cfg)
}

func validateNumericParams(cfg *Config) error {
	if cfg.DailyLossLimitPct >= 0 {
		return errors.New("daily_loss_limit_pct must be negative")
	}
	if cfg.MaxConsecutiveLosses <= 0 {
		return errors.New("invalid max_consecutive_losses")
	}
	if cfg.MaxPositions <= 0 {
		return errors.New("invalid max_positions")
	}
	if cfg.MaxExposurePct <= 0 || cfg.MaxExposurePct > 100 {
		return errors.New("invalid max_exposure_pct")
	}
	if cfg.StartingEquityUsdc <= 0 {
		return errors.New("invalid starting_equity_usdc")
	}
	if cfg.SwapRetries <= 0 {
		return errors.New("invalid swap_retries")
	}
	if cfg.MonitorIntervalMs <= 0 {
		return errors.New("invalid monitor_interval_ms")
	}
	if cfg.MaxSlippageBps <= 0 || cfg.DefaultSlippage <= 0 {
		return errors.New("invalid slippage configuration")
	}
	if cfg.SimFailureRate < 0 || cfg.SimFailureRate > 1 {
		return errors.New("invalid sim_failure_rate")
	}
	return nil
}

func validateURL(rawURL string, protocol string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return errors.New("invalid URL format")
	}
	if !strings.HasPrefix(parsed.Scheme, protocol) {
		return errors.New("invalid URL protocol")
	}
	return nil
}

func loadEnvironmentVariables(v *viper.Viper, cfg *Config) {
	v.AutomaticEnv()
	v.SetEnvPrefix("SOLANA_TRADER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if envKey := v.GetString("WALLET_KEY"); envKey != "" {
		cfg.WalletKey = envKey
	}

	if envRPCList := v.GetString("RPC_LIST"); envRPCList != "" {
		var cleanRPCs []string
		for _, raw := range strings.Split(envRPCList, ",") {
			if clean := strings.TrimSpace(raw); clean != "" {
				cleanRPCs = append(cleanRPCs, clean)
			}
		}
		if len(cleanRPCs) > 0 {
			cfg.RPCList = cleanRPCs
		}
	}
}
