// =================================
// File: internal/executor/types.go
// =================================
// Package executor performs swaps end to end: guard checks, quote,
// transaction build, bounded retries, confirmation, and fill
// reconciliation from the confirmed ledger entry.
package executor

import (
	"context"
	"errors"
	"time"

	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
)

// USDCMint is the quote currency for every position.
const (
	USDCMint     = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
	USDCDecimals = 6
)

var (
	// ErrGuardRejected means a pre-trade check failed; the swap was
	// never submitted.
	ErrGuardRejected = errors.New("guard check rejected trade")

	// ErrSimulationFailed means the cluster rejected the transaction
	// in simulation; retrying the same transaction is pointless.
	ErrSimulationFailed = errors.New("transaction simulation failed")

	// ErrSwapFailed means all submission attempts were exhausted.
	ErrSwapFailed = errors.New("swap failed after retries")
)

// FillSource says where the fill numbers came from.
type FillSource string

const (
	// FillVerified: amounts reconciled from the confirmed transaction's
	// balance deltas.
	FillVerified FillSource = "verified"
	// FillQuoteFallback: ledger lookup kept failing, amounts fall back
	// to the quote. Flagged so downstream accounting knows it is an
	// estimate.
	FillQuoteFallback FillSource = "quote_fallback"
)

// SwapResult is the reconciled outcome of one executed swap.
type SwapResult struct {
	Signature string
	BundleID  string
	Side      string // "buy" or "sell"
	Mint      string

	// Quoted amounts, raw units.
	QuotedInRaw  uint64
	QuotedOutRaw uint64

	// Realized amounts. TokenRaw is the token leg, UsdcRaw the USDC
	// leg, regardless of direction.
	TokenRaw uint64
	UsdcRaw  uint64

	// PriceUsdc is the realized price per whole token.
	PriceUsdc float64
	// SlippagePct is realized vs quoted; positive means worse than
	// quoted.
	SlippagePct float64
	// FeeLamports is the base transaction fee. Priority fees and tips
	// are not folded in here.
	FeeLamports uint64

	TokenDecimals uint8
	Source        FillSource
	Attempts      int
	Elapsed       time.Duration
	ExecutedAt    time.Time
}

// TokenAmount converts the token leg to whole tokens.
func (r *SwapResult) TokenAmount() float64 {
	return float64(r.TokenRaw) / pow10(r.TokenDecimals)
}

// UsdcAmount converts the USDC leg to whole USDC.
func (r *SwapResult) UsdcAmount() float64 {
	return float64(r.UsdcRaw) / pow10(USDCDecimals)
}

func pow10(d uint8) float64 {
	v := 1.0
	for i := uint8(0); i < d; i++ {
		v *= 10
	}
	return v
}

// Executor is the swap surface the position manager drives. The live
// implementation and the simulated adapter both satisfy it.
type Executor interface {
	GetQuote(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (*jupiter.Quote, error)
	BuyToken(ctx context.Context, mint string, usdcRaw uint64, slippageBps int, useBundle bool) (*SwapResult, error)
	SellToken(ctx context.Context, mint string, tokenRaw uint64, slippageBps int, useBundle bool) (*SwapResult, error)
}
