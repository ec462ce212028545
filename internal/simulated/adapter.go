// =================================
// File: internal/simulated/adapter.go
// =================================
// Package simulated is a drop-in executor that fills trades against a
// local price model instead of the cluster. It lets the whole position
// lifecycle run with no keys and no network.
package simulated

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/executor"
	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
)

const simTokenDecimals = 6

// Config tunes the adapter's injected imperfections.
type Config struct {
	Latency     time.Duration
	FailureRate float64 // 0..1 probability a swap attempt fails
	SlippagePct float64 // applied against the taker on every fill
	Seed        int64   // 0 seeds from the clock
}

// Adapter satisfies executor.Executor with synthetic fills.
type Adapter struct {
	cfg    Config
	logger *zap.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	prices map[string]float64 // mint -> USDC per whole token
}

func New(cfg Config, logger *zap.Logger) *Adapter {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Adapter{
		cfg:    cfg,
		logger: logger.Named("simulated"),
		rng:    rand.New(rand.NewSource(seed)),
		prices: make(map[string]float64),
	}
}

// SetPrice pins the model price for a mint. Unpinned mints get a
// random starting price on first use.
func (a *Adapter) SetPrice(mint string, usdcPerToken float64) {
	a.mu.Lock()
	a.prices[mint] = usdcPerToken
	a.mu.Unlock()
}

// priceFor returns the current model price, applying a small random
// walk so monitors see movement between polls.
func (a *Adapter) priceFor(mint string) float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	price, ok := a.prices[mint]
	if !ok {
		price = 0.00005 + a.rng.Float64()*0.0005
	} else {
		price *= 1 + (a.rng.Float64()-0.5)*0.02
	}
	a.prices[mint] = price
	return price
}

func (a *Adapter) GetQuote(_ context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (*jupiter.Quote, error) {
	var outRaw uint64
	if inputMint == executor.USDCMint {
		price := a.priceFor(outputMint)
		usdc := float64(amountRaw) / 1e6
		outRaw = uint64(usdc / price * 1e6)
	} else {
		price := a.priceFor(inputMint)
		tokens := float64(amountRaw) / 1e6
		outRaw = uint64(tokens * price * 1e6)
	}
	minOut := outRaw - outRaw*uint64(slippageBps)/10_000

	q := &jupiter.Quote{
		InputMint:            inputMint,
		OutputMint:           outputMint,
		InAmount:             strconv.FormatUint(amountRaw, 10),
		OutAmount:            strconv.FormatUint(outRaw, 10),
		OtherAmountThreshold: strconv.FormatUint(minOut, 10),
		SwapMode:             "ExactIn",
		SlippageBps:          slippageBps,
		PriceImpactPct:       "0.001",
		RoutePlan: []jupiter.RouteStep{{
			Percent: 100,
			SwapInfo: jupiter.SwapInfo{
				AmmKey:     "SimulatedAmm1111111111111111111111111111111",
				Label:      "Simulated",
				InputMint:  inputMint,
				OutputMint: outputMint,
			},
		}},
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (a *Adapter) BuyToken(ctx context.Context, mint string, usdcRaw uint64, slippageBps int, _ bool) (*executor.SwapResult, error) {
	return a.fill(ctx, "buy", mint, usdcRaw, slippageBps)
}

func (a *Adapter) SellToken(ctx context.Context, mint string, tokenRaw uint64, slippageBps int, _ bool) (*executor.SwapResult, error) {
	return a.fill(ctx, "sell", mint, tokenRaw, slippageBps)
}

func (a *Adapter) fill(ctx context.Context, side, mint string, amountRaw uint64, slippageBps int) (*executor.SwapResult, error) {
	started := time.Now()

	if a.cfg.Latency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(a.cfg.Latency):
		}
	}

	a.mu.Lock()
	failed := a.rng.Float64() < a.cfg.FailureRate
	a.mu.Unlock()
	if failed {
		return nil, fmt.Errorf("%w: simulated submission failure", executor.ErrSwapFailed)
	}

	inputMint, outputMint := executor.USDCMint, mint
	if side == "sell" {
		inputMint, outputMint = mint, executor.USDCMint
	}
	quote, err := a.GetQuote(ctx, inputMint, outputMint, amountRaw, slippageBps)
	if err != nil {
		return nil, err
	}

	// Fill at the quoted amount worsened by the configured slippage.
	actualOut := uint64(float64(quote.OutAmountRaw()) * (1 - a.cfg.SlippagePct/100))

	result := &executor.SwapResult{
		Signature:     "sim-" + uuid.NewString(),
		Side:          side,
		Mint:          mint,
		QuotedInRaw:   quote.InAmountRaw(),
		QuotedOutRaw:  quote.OutAmountRaw(),
		TokenDecimals: simTokenDecimals,
		SlippagePct:   a.cfg.SlippagePct,
		Source:        executor.FillVerified,
		Attempts:      1,
		Elapsed:       time.Since(started),
		ExecutedAt:    time.Now().UTC(),
	}
	if side == "buy" {
		result.TokenRaw = actualOut
		result.UsdcRaw = amountRaw
	} else {
		result.TokenRaw = amountRaw
		result.UsdcRaw = actualOut
	}
	if tokens := result.TokenAmount(); tokens > 0 {
		result.PriceUsdc = result.UsdcAmount() / tokens
	}

	a.logger.Info("🧪 Simulated swap filled",
		zap.String("side", side),
		zap.String("mint", mint),
		zap.Float64("usdc", result.UsdcAmount()),
		zap.Float64("tokens", result.TokenAmount()),
		zap.Float64("price_usdc", result.PriceUsdc))
	return result, nil
}

var _ executor.Executor = (*Adapter)(nil)
