// =================================
// File: internal/simulated/adapter_test.go
// =================================
package simulated

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/executor"
)

const simMint = "SimMint1111111111111111111111111111111111111"

func TestBuyThenSellRoundtrip(t *testing.T) {
	adapter := New(Config{Seed: 42}, zaptest.NewLogger(t))
	adapter.SetPrice(simMint, 0.001)

	buy, err := adapter.BuyToken(context.Background(), simMint, 10_000_000, 100, false)
	require.NoError(t, err)

	assert.Equal(t, "buy", buy.Side)
	assert.Equal(t, uint64(10_000_000), buy.UsdcRaw)
	assert.Greater(t, buy.TokenRaw, uint64(0))
	assert.Greater(t, buy.PriceUsdc, 0.0)
	assert.Equal(t, executor.FillVerified, buy.Source)
	assert.NotEmpty(t, buy.Signature)

	sell, err := adapter.SellToken(context.Background(), simMint, buy.TokenRaw, 100, false)
	require.NoError(t, err)
	assert.Equal(t, "sell", sell.Side)
	assert.Equal(t, buy.TokenRaw, sell.TokenRaw)
	assert.Greater(t, sell.UsdcRaw, uint64(0))
}

func TestInjectedFailure(t *testing.T) {
	adapter := New(Config{FailureRate: 1.0, Seed: 1}, zaptest.NewLogger(t))

	_, err := adapter.BuyToken(context.Background(), simMint, 1_000_000, 100, false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, executor.ErrSwapFailed))
}

func TestInjectedSlippage(t *testing.T) {
	adapter := New(Config{SlippagePct: 2.0, Seed: 7}, zaptest.NewLogger(t))
	adapter.SetPrice(simMint, 0.001)

	res, err := adapter.BuyToken(context.Background(), simMint, 10_000_000, 100, false)
	require.NoError(t, err)

	// The fill is worse than quoted by the configured slippage.
	assert.Less(t, res.TokenRaw, res.QuotedOutRaw)
	assert.InDelta(t, 2.0, res.SlippagePct, 1e-9)
	ratio := float64(res.TokenRaw) / float64(res.QuotedOutRaw)
	assert.InDelta(t, 0.98, ratio, 0.001)
}

func TestQuoteValidates(t *testing.T) {
	adapter := New(Config{Seed: 3}, zaptest.NewLogger(t))
	adapter.SetPrice(simMint, 0.002)

	q, err := adapter.GetQuote(context.Background(), executor.USDCMint, simMint, 5_000_000, 150)
	require.NoError(t, err)

	assert.Equal(t, uint64(5_000_000), q.InAmountRaw())
	assert.Greater(t, q.OutAmountRaw(), uint64(0))
	assert.GreaterOrEqual(t, q.OutAmountRaw(), q.MinOutRaw())
	assert.Equal(t, 150, q.SlippageBps)
}
