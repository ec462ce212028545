// =================================
// File: internal/executor/executor.go
// =================================
package executor

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/bundle"
	"github.com/rovshanmuradov/solana-trader/internal/chain"
	"github.com/rovshanmuradov/solana-trader/internal/guard"
	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
	"github.com/rovshanmuradov/solana-trader/internal/wallet"
)

// Config carries the execution knobs for the live executor.
type Config struct {
	SwapRetries          int
	ConfirmTimeout       time.Duration
	ReconcileRetries     int
	ReconcileDelayMs     int
	SimulateBeforeSend   bool
	PreflightImpactCheck bool
	ProbeSlippageBps     int
	ProbeTimeout         time.Duration
}

// Live executes swaps against the cluster.
type Live struct {
	chain   *chain.Client
	api     *jupiter.Client
	wallet  *wallet.Wallet
	guard   *guard.Engine
	bundles *bundle.Client // nil when no relay configured
	trades  *TradeLog      // nil disables the audit log
	logger  *zap.Logger

	maxTries             int
	confirmTimeout       time.Duration
	reconcileRetries     int
	reconcileDelayMs     int
	simulateBeforeSend   bool
	preflightImpactCheck bool
	probeSlippageBps     int
	probeTimeout         time.Duration
}

func NewLive(cfg Config, chainClient *chain.Client, api *jupiter.Client, w *wallet.Wallet, g *guard.Engine, bundles *bundle.Client, trades *TradeLog, logger *zap.Logger) *Live {
	return &Live{
		chain:                chainClient,
		api:                  api,
		wallet:               w,
		guard:                g,
		bundles:              bundles,
		trades:               trades,
		logger:               logger.Named("executor"),
		maxTries:             cfg.SwapRetries,
		confirmTimeout:       cfg.ConfirmTimeout,
		reconcileRetries:     cfg.ReconcileRetries,
		reconcileDelayMs:     cfg.ReconcileDelayMs,
		simulateBeforeSend:   cfg.SimulateBeforeSend,
		preflightImpactCheck: cfg.PreflightImpactCheck,
		probeSlippageBps:     cfg.ProbeSlippageBps,
		probeTimeout:         cfg.ProbeTimeout,
	}
}

func (e *Live) GetQuote(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (*jupiter.Quote, error) {
	return e.api.GetQuote(ctx, inputMint, outputMint, amountRaw, slippageBps)
}

// BuyToken swaps usdcRaw USDC into the token.
func (e *Live) BuyToken(ctx context.Context, mint string, usdcRaw uint64, slippageBps int, useBundle bool) (*SwapResult, error) {
	if e.preflightImpactCheck {
		if err := e.preflightProbe(ctx, mint, usdcRaw); err != nil {
			return nil, err
		}
	}
	return e.executeSwap(ctx, "buy", USDCMint, mint, usdcRaw, slippageBps, useBundle)
}

// SellToken swaps tokenRaw of the token back into USDC.
func (e *Live) SellToken(ctx context.Context, mint string, tokenRaw uint64, slippageBps int, useBundle bool) (*SwapResult, error) {
	return e.executeSwap(ctx, "sell", mint, USDCMint, tokenRaw, slippageBps, useBundle)
}

// preflightProbe quotes a tenth of the entry at tight slippage to
// measure live impact before committing size. Probe transport failures
// never block the entry; excessive measured impact does.
func (e *Live) preflightProbe(ctx context.Context, mint string, usdcRaw uint64) error {
	probeRaw := usdcRaw / 10
	if probeRaw == 0 {
		probeRaw = usdcRaw
	}

	probeCtx, cancel := context.WithTimeout(ctx, e.probeTimeout)
	defer cancel()

	q, err := e.api.GetQuote(probeCtx, USDCMint, mint, probeRaw, e.probeSlippageBps)
	check := e.guard.ValidateProbe(q, err)
	if !check.Passed {
		return fmt.Errorf("%w: %s", ErrGuardRejected, check.Reason)
	}
	return nil
}

type attemptOutcome struct {
	signature solana.Signature
	bundleID  string
	quote     *jupiter.Quote
}

func (e *Live) executeSwap(ctx context.Context, side, inputMint, outputMint string, amountRaw uint64, slippageBps int, useBundle bool) (*SwapResult, error) {
	mint := outputMint
	if side == "sell" {
		mint = inputMint
	}
	log := e.logger.With(zap.String("side", side), zap.String("mint", mint))

	started := time.Now()
	attempts := 0

	operation := func() (attemptOutcome, error) {
		attempts++

		// Fresh quote each attempt: a stale route is the usual reason
		// the previous attempt expired.
		quote, err := e.api.GetQuote(ctx, inputMint, outputMint, amountRaw, slippageBps)
		if err != nil {
			return attemptOutcome{}, fmt.Errorf("get quote: %w", err)
		}
		if check := e.guard.ValidateQuote(quote, slippageBps); !check.Passed {
			return attemptOutcome{}, backoff.Permanent(fmt.Errorf("%w: %s", ErrGuardRejected, check.Reason))
		}

		txBase64, err := e.api.BuildSwapTransaction(ctx, quote, e.wallet.PublicKey.String())
		if err != nil {
			return attemptOutcome{}, fmt.Errorf("build swap transaction: %w", err)
		}
		tx, err := solana.TransactionFromBase64(txBase64)
		if err != nil {
			return attemptOutcome{}, backoff.Permanent(fmt.Errorf("decode swap transaction: %w", err))
		}
		if err := e.wallet.SignTransaction(tx); err != nil {
			return attemptOutcome{}, backoff.Permanent(fmt.Errorf("sign transaction: %w", err))
		}

		if e.simulateBeforeSend {
			sim, err := e.chain.SimulateTransaction(ctx, tx)
			if err != nil {
				return attemptOutcome{}, fmt.Errorf("simulate transaction: %w", err)
			}
			// A failed simulation consumes a retry attempt: the next
			// attempt rebuilds the transaction from a fresh quote.
			if check := e.guard.ValidateSimulation(sim); !check.Passed {
				return attemptOutcome{}, fmt.Errorf("%w: %s: %s",
					ErrSimulationFailed, check.Reason, lastLogLines(sim.Logs, 3))
			}
		}

		sig, bundleID, err := e.submit(ctx, tx, useBundle)
		if err != nil {
			return attemptOutcome{}, fmt.Errorf("submit transaction: %w", err)
		}

		if err := e.chain.WaitForConfirmation(ctx, sig, e.confirmTimeout); err != nil {
			return attemptOutcome{}, fmt.Errorf("confirm %s: %w", sig, err)
		}
		return attemptOutcome{signature: sig, bundleID: bundleID, quote: quote}, nil
	}

	outcome, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(uint(e.maxTries)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			log.Warn("Swap attempt failed, retrying",
				zap.Int("attempt", attempts),
				zap.Duration("backoff", wait),
				zap.Error(err))
		}),
	)
	if err != nil {
		if strings.Contains(err.Error(), ErrGuardRejected.Error()) ||
			strings.Contains(err.Error(), ErrSimulationFailed.Error()) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d attempts: %v", ErrSwapFailed, attempts, err)
	}

	e.invalidateBalances(mint)

	decimals, derr := e.chain.MintDecimals(ctx, solana.MustPublicKeyFromBase58(mint))
	if derr != nil {
		log.Debug("Mint decimals lookup failed, reconciliation will supply them", zap.Error(derr))
	}

	f, source := e.reconcileFill(ctx, outcome.signature, side, mint, outcome.quote, decimals)
	if f.TokenDecimals == 0 && decimals > 0 {
		f.TokenDecimals = decimals
	}

	result := &SwapResult{
		Signature:     outcome.signature.String(),
		BundleID:      outcome.bundleID,
		Side:          side,
		Mint:          mint,
		QuotedInRaw:   outcome.quote.InAmountRaw(),
		QuotedOutRaw:  outcome.quote.OutAmountRaw(),
		TokenRaw:      f.TokenRaw,
		UsdcRaw:       f.UsdcRaw,
		FeeLamports:   f.FeeLamports,
		TokenDecimals: f.TokenDecimals,
		SlippagePct:   realizedSlippagePct(side, outcome.quote, f),
		Source:        source,
		Attempts:      attempts,
		Elapsed:       time.Since(started),
		ExecutedAt:    time.Now().UTC(),
	}
	if tokens := result.TokenAmount(); tokens > 0 {
		result.PriceUsdc = result.UsdcAmount() / tokens
	}

	log.Info("✅ Swap executed",
		zap.String("signature", result.Signature),
		zap.Float64("usdc", result.UsdcAmount()),
		zap.Float64("tokens", result.TokenAmount()),
		zap.Float64("price_usdc", result.PriceUsdc),
		zap.Float64("slippage_pct", result.SlippagePct),
		zap.String("fill_source", string(result.Source)),
		zap.Int("attempts", result.Attempts),
		zap.Duration("took", result.Elapsed))

	if e.trades != nil {
		if err := e.trades.Record(result); err != nil {
			log.Warn("Trade audit log write failed", zap.Error(err))
		}
	}
	return result, nil
}

// submit broadcasts the signed transaction. When the bundle relay is
// in play it is an acceleration path only: the direct broadcast always
// happens, and a relay failure never blocks the trade.
func (e *Live) submit(ctx context.Context, tx *solana.Transaction, useBundle bool) (solana.Signature, string, error) {
	var bundleID string
	if useBundle && e.bundles != nil {
		bundleID = e.submitBundle(ctx, tx)
	}
	sig, err := e.chain.SendTransaction(ctx, tx)
	if err != nil && bundleID != "" {
		// The bundle may still land the transaction; poll for it
		// before giving up on this attempt.
		if status, serr := e.bundles.GetBundleStatus(ctx, bundleID); serr == nil && status.Landed {
			return tx.Signatures[0], bundleID, nil
		}
	}
	return sig, bundleID, err
}

func (e *Live) submitBundle(ctx context.Context, tx *solana.Transaction) string {
	blockhash, err := e.chain.GetLatestBlockhash(ctx)
	if err != nil {
		e.logger.Warn("Bundle tip skipped, blockhash unavailable", zap.Error(err))
		return ""
	}
	tipTx, err := e.bundles.BuildTipTransaction(e.wallet.PublicKey, blockhash)
	if err != nil {
		e.logger.Warn("Bundle tip build failed", zap.Error(err))
		return ""
	}
	if err := e.wallet.SignTransaction(tipTx); err != nil {
		e.logger.Warn("Bundle tip signing failed", zap.Error(err))
		return ""
	}
	bundleID, err := e.bundles.SendBundle(ctx, []*solana.Transaction{tx, tipTx})
	if err != nil {
		e.logger.Warn("Bundle submission failed, direct broadcast continues", zap.Error(err))
		return ""
	}
	return bundleID
}

func (e *Live) invalidateBalances(mint string) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return
	}
	if ata, err := e.wallet.ATA(mintKey); err == nil {
		e.chain.InvalidateBalance(ata)
	}
	if usdcATA, err := e.wallet.ATA(solana.MustPublicKeyFromBase58(USDCMint)); err == nil {
		e.chain.InvalidateBalance(usdcATA)
	}
}

func lastLogLines(logs []string, n int) string {
	if len(logs) > n {
		logs = logs[len(logs)-n:]
	}
	return strings.Join(logs, " | ")
}
