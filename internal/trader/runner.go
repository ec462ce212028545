// =================================
// File: internal/trader/runner.go
// =================================
// Package trader wires the components together and drives the
// open-then-monitor loop for one trading session.
package trader

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rovshanmuradov/solana-trader/internal/bundle"
	"github.com/rovshanmuradov/solana-trader/internal/chain"
	"github.com/rovshanmuradov/solana-trader/internal/config"
	"github.com/rovshanmuradov/solana-trader/internal/executor"
	"github.com/rovshanmuradov/solana-trader/internal/guard"
	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
	"github.com/rovshanmuradov/solana-trader/internal/logger"
	"github.com/rovshanmuradov/solana-trader/internal/position"
	"github.com/rovshanmuradov/solana-trader/internal/simulated"
	"github.com/rovshanmuradov/solana-trader/internal/wallet"
)

type Runner struct {
	cfg    *config.Config
	log    *logger.Logger
	zl     *zap.Logger
	exec   executor.Executor
	trades *executor.TradeLog
	pm     *position.Manager
}

// NewRunner builds the full component graph from configuration. In
// simulate mode no wallet or RPC connectivity is required.
func NewRunner(cfg *config.Config, log *logger.Logger) (*Runner, error) {
	zl := log.Logger

	guards := guard.NewEngine(guard.Limits{
		MaxPriceImpactPct:    cfg.MaxPriceImpactPct,
		MaxSlippageBps:       cfg.MaxSlippageBps,
		ProbeImpactCeiling:   cfg.ProbeImpactCeiling,
		DailyLossLimitPct:    cfg.DailyLossLimitPct,
		MaxConsecutiveLosses: cfg.MaxConsecutiveLosses,
		MaxPositions:         cfg.MaxPositions,
		MaxExposurePct:       cfg.MaxExposurePct,
	}, zl)

	var (
		exec     executor.Executor
		trades   *executor.TradeLog
		balances position.BalanceReader
	)

	if cfg.Simulate {
		zl.Info("🧪 Simulate mode: no wallet, no network")
		exec = simulated.New(simulated.Config{
			Latency:     time.Duration(cfg.SimLatencyMs) * time.Millisecond,
			FailureRate: cfg.SimFailureRate,
			SlippagePct: cfg.SimSlippagePct,
		}, zl)
	} else {
		w, err := wallet.NewFromBase58(cfg.WalletKey)
		if err != nil {
			return nil, fmt.Errorf("load wallet: %w", err)
		}
		zl.Info("🔑 Wallet loaded", zap.String("pubkey", w.String()))

		chainClient, err := chain.NewClient(cfg.RPCList,
			time.Duration(cfg.BalanceCacheTTLSec)*time.Second, zl)
		if err != nil {
			return nil, fmt.Errorf("chain client: %w", err)
		}

		api := jupiter.NewClient(cfg.QuoteAPIURL, zl)

		var bundles *bundle.Client
		if cfg.UseBundleRelay && cfg.BundleRelayURL != "" {
			bundles, err = bundle.NewClient(bundle.Config{
				RelayURL:    cfg.BundleRelayURL,
				TipAccount:  cfg.BundleTipAcct,
				TipLamports: uint64(cfg.BundleTipSol * 1e9),
			}, zl)
			if err != nil {
				return nil, fmt.Errorf("bundle client: %w", err)
			}
		}

		trades, err = executor.NewTradeLog(filepath.Join(cfg.DataDir, "trades.csv"), zl)
		if err != nil {
			return nil, err
		}

		exec = executor.NewLive(executor.Config{
			SwapRetries:          cfg.SwapRetries,
			ConfirmTimeout:       time.Duration(cfg.ConfirmTimeoutSec) * time.Second,
			ReconcileRetries:     cfg.ReconcileRetries,
			ReconcileDelayMs:     cfg.ReconcileDelayMs,
			SimulateBeforeSend:   cfg.SimulateBeforeTx,
			PreflightImpactCheck: cfg.PreflightImpactCheck,
			ProbeSlippageBps:     cfg.ProbeSlippageBps,
			ProbeTimeout:         time.Duration(cfg.ProbeTimeoutMs) * time.Millisecond,
		}, chainClient, api, w, guards, bundles, trades, zl)

		balances = position.NewChainBalances(chainClient, w)
	}

	store, err := position.NewStore(cfg.DataDir, zl)
	if err != nil {
		return nil, err
	}

	pm, err := position.NewManager(position.Config{
		StartingEquityUsdc: cfg.StartingEquityUsdc,
		DefaultSlippageBps: cfg.DefaultSlippage,
		UseBundle:          cfg.UseBundleRelay,
		Cooldown:           time.Duration(cfg.CooldownMinutes) * time.Minute,
		LiquidityLookback:  time.Duration(cfg.LiquidityLookbackSec) * time.Second,
		LiquidityRetention: time.Duration(cfg.LiquidityRetentionSec) * time.Second,
	}, exec, guards, position.NewEvaluator(position.DefaultRuleConfig()), store, balances, zl)
	if err != nil {
		return nil, err
	}

	return &Runner{cfg: cfg, log: log, zl: zl, exec: exec, trades: trades, pm: pm}, nil
}

// Run opens the tasked positions and monitors them until every one is
// closed or the context is cancelled. Entries run concurrently; the
// manager's gates keep them within the capital and exposure limits.
func (r *Runner) Run(ctx context.Context, tasks []*EntryTask) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, task := range tasks {
		g.Go(func() error {
			_, err := r.pm.OpenPosition(gctx, task.Mint, task.SizeUsdc, task.SlippageBps, task.Plan)
			if err != nil {
				// A rejected or failed entry does not stop the session.
				r.zl.Warn("Task entry not opened",
					zap.String("task", task.Name),
					zap.String("mint", task.Mint),
					zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	interval := time.Duration(r.cfg.MonitorIntervalMs) * time.Millisecond
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.zl.Info("👀 Monitoring started",
		zap.Duration("interval", interval),
		zap.Int("open_positions", len(r.pm.OpenPositions())))

	for {
		select {
		case <-ctx.Done():
			r.zl.Info("📡 Shutdown requested")
			return nil
		case <-ticker.C:
			r.pm.UpdatePositions(ctx)
			if len(r.pm.OpenPositions()) == 0 {
				stats := r.pm.Stats()
				r.zl.Info("🏁 All positions closed",
					zap.Float64("daily_pnl_usdc", stats.DailyPnlUsdc))
				return nil
			}
		}
	}
}

// Shutdown persists a final snapshot and closes the audit log.
func (r *Runner) Shutdown() {
	r.pm.Close()
	if r.trades != nil {
		if err := r.trades.Close(); err != nil {
			r.zl.Warn("Trade log close failed", zap.Error(err))
		}
	}
	_ = r.log.Sync()
}
