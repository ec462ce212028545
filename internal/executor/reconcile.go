// =================================
// File: internal/executor/reconcile.go
// =================================
package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
)

// fill is a realized balance-delta fill extracted from a confirmed
// transaction.
type fill struct {
	TokenRaw      uint64
	UsdcRaw       uint64
	TokenDecimals uint8
	FeeLamports   uint64
}

var errNoBalanceChange = errors.New("no balance change for wallet in transaction meta")

// computeFill derives the realized fill from the transaction meta's
// pre/post token balances for the wallet. Pure so tests feed it
// synthetic meta. Side is "buy" (token in, USDC out) or "sell".
func computeFill(meta *rpc.TransactionMeta, owner solana.PublicKey, mint string, side string) (*fill, error) {
	if meta == nil {
		return nil, errors.New("transaction meta is nil")
	}
	if meta.Err != nil {
		return nil, fmt.Errorf("transaction failed on-chain: %v", meta.Err)
	}

	tokenDelta, tokenDecimals := tokenBalanceDelta(meta, owner, mint)
	usdcDelta, _ := tokenBalanceDelta(meta, owner, USDCMint)

	f := &fill{
		TokenDecimals: tokenDecimals,
		FeeLamports:   meta.Fee,
	}

	switch side {
	case "buy":
		if tokenDelta <= 0 || usdcDelta >= 0 {
			return nil, errNoBalanceChange
		}
		f.TokenRaw = uint64(tokenDelta)
		f.UsdcRaw = uint64(-usdcDelta)
	case "sell":
		if tokenDelta >= 0 || usdcDelta <= 0 {
			return nil, errNoBalanceChange
		}
		f.TokenRaw = uint64(-tokenDelta)
		f.UsdcRaw = uint64(usdcDelta)
	default:
		return nil, fmt.Errorf("unknown side %q", side)
	}
	return f, nil
}

// tokenBalanceDelta sums the wallet's post-minus-pre balance for one
// mint across all of its token accounts in the transaction.
func tokenBalanceDelta(meta *rpc.TransactionMeta, owner solana.PublicKey, mint string) (int64, uint8) {
	var pre, post uint64
	var decimals uint8

	sum := func(balances []rpc.TokenBalance, total *uint64) {
		for _, tb := range balances {
			if tb.Owner == nil || !tb.Owner.Equals(owner) {
				continue
			}
			if tb.Mint.String() != mint {
				continue
			}
			raw, err := parseUint(tb.UiTokenAmount.Amount)
			if err != nil {
				continue
			}
			*total += raw
			decimals = tb.UiTokenAmount.Decimals
		}
	}

	sum(meta.PreTokenBalances, &pre)
	sum(meta.PostTokenBalances, &post)
	return int64(post) - int64(pre), decimals
}

func parseUint(s string) (uint64, error) {
	var v uint64
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid digit in %q", s)
		}
		v = v*10 + uint64(r-'0')
	}
	return v, nil
}

// reconcileFill fetches the confirmed transaction and derives the
// realized fill, retrying while the ledger entry propagates. When all
// attempts fail the fill falls back to the quote and is flagged so
// accounting knows it is an estimate.
func (e *Live) reconcileFill(ctx context.Context, sig solana.Signature, side, mint string, quote *jupiter.Quote, tokenDecimals uint8) (*fill, FillSource) {
	delay := time.Duration(e.reconcileDelayMs) * time.Millisecond

	var lastErr error
	for attempt := 1; attempt <= e.reconcileRetries; attempt++ {
		result, err := e.chain.GetParsedTransaction(ctx, sig)
		if err == nil {
			f, cerr := computeFill(result.Meta, e.wallet.PublicKey, mint, side)
			if cerr == nil {
				return f, FillVerified
			}
			lastErr = cerr
		} else {
			lastErr = err
		}

		select {
		case <-ctx.Done():
			lastErr = ctx.Err()
		case <-time.After(delay):
			continue
		}
		break
	}

	e.logger.Warn("⚠️ Fill reconciliation failed, falling back to quoted amounts",
		zap.String("signature", sig.String()),
		zap.String("side", side),
		zap.Int("attempts", e.reconcileRetries),
		zap.Error(lastErr))

	f := &fill{TokenDecimals: tokenDecimals}
	if side == "buy" {
		f.TokenRaw = quote.OutAmountRaw()
		f.UsdcRaw = quote.InAmountRaw()
	} else {
		f.TokenRaw = quote.InAmountRaw()
		f.UsdcRaw = quote.OutAmountRaw()
	}
	return f, FillQuoteFallback
}

// realizedSlippagePct compares the realized output leg against the
// quoted one. Positive means the fill was worse than quoted.
func realizedSlippagePct(side string, quote *jupiter.Quote, f *fill) float64 {
	quotedOut := float64(quote.OutAmountRaw())
	if quotedOut == 0 {
		return 0
	}
	var actualOut float64
	if side == "buy" {
		actualOut = float64(f.TokenRaw)
	} else {
		actualOut = float64(f.UsdcRaw)
	}
	return (quotedOut - actualOut) / quotedOut * 100
}
