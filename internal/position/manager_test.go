// =================================
// File: internal/position/manager_test.go
// =================================
package position

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/executor"
	"github.com/rovshanmuradov/solana-trader/internal/guard"
	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
)

// fakeExec fills trades at a scripted price. Token and USDC legs both
// use 6 decimals so raw amounts convert 1:1e6.
type fakeExec struct {
	mu          sync.Mutex
	price       map[string]float64
	buyCalls    int
	sellCalls   int
	buyDelay    time.Duration
	failBuy     bool
	failSell    bool
	lastSellRaw uint64
}

func newFakeExec() *fakeExec {
	return &fakeExec{price: make(map[string]float64)}
}

func (f *fakeExec) setPrice(mint string, p float64) {
	f.mu.Lock()
	f.price[mint] = p
	f.mu.Unlock()
}

func (f *fakeExec) priceOf(mint string) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.price[mint]; ok {
		return p
	}
	return 1.0
}

func (f *fakeExec) GetQuote(_ context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (*jupiter.Quote, error) {
	var outRaw uint64
	if outputMint == executor.USDCMint {
		outRaw = uint64(float64(amountRaw) * f.priceOf(inputMint))
	} else {
		outRaw = uint64(float64(amountRaw) / f.priceOf(outputMint))
	}
	q := &jupiter.Quote{
		InputMint:      inputMint,
		OutputMint:     outputMint,
		InAmount:       strconv.FormatUint(amountRaw, 10),
		OutAmount:      strconv.FormatUint(outRaw, 10),
		SlippageBps:    slippageBps,
		PriceImpactPct: "0.001",
		RoutePlan:      []jupiter.RouteStep{{Percent: 100}},
	}
	if err := q.Validate(); err != nil {
		return nil, err
	}
	return q, nil
}

func (f *fakeExec) BuyToken(ctx context.Context, mint string, usdcRaw uint64, _ int, _ bool) (*executor.SwapResult, error) {
	f.mu.Lock()
	f.buyCalls++
	delay := f.buyDelay
	fail := f.failBuy
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if fail {
		return nil, errors.New("buy failed")
	}

	price := f.priceOf(mint)
	return &executor.SwapResult{
		Signature:     "sig-buy",
		Side:          "buy",
		Mint:          mint,
		TokenRaw:      uint64(float64(usdcRaw) / price),
		UsdcRaw:       usdcRaw,
		PriceUsdc:     price,
		TokenDecimals: 6,
		Source:        executor.FillVerified,
		Attempts:      1,
		ExecutedAt:    time.Now().UTC(),
	}, nil
}

func (f *fakeExec) SellToken(_ context.Context, mint string, tokenRaw uint64, _ int, _ bool) (*executor.SwapResult, error) {
	f.mu.Lock()
	f.sellCalls++
	f.lastSellRaw = tokenRaw
	fail := f.failSell
	f.mu.Unlock()

	if fail {
		return nil, errors.New("sell failed")
	}

	price := f.priceOf(mint)
	return &executor.SwapResult{
		Signature:     "sig-sell",
		Side:          "sell",
		Mint:          mint,
		TokenRaw:      tokenRaw,
		UsdcRaw:       uint64(float64(tokenRaw) * price),
		PriceUsdc:     price,
		TokenDecimals: 6,
		Source:        executor.FillVerified,
		Attempts:      1,
		ExecutedAt:    time.Now().UTC(),
	}, nil
}

type fakeBalances struct {
	raw uint64
	err error
}

func (f *fakeBalances) TokenBalanceRaw(context.Context, string) (uint64, error) {
	return f.raw, f.err
}

func newTestManager(t *testing.T, exec executor.Executor, balances BalanceReader) *Manager {
	t.Helper()
	guards := guard.NewEngine(guard.Limits{
		MaxPriceImpactPct:    5,
		MaxSlippageBps:       500,
		ProbeImpactCeiling:   3,
		DailyLossLimitPct:    -10,
		MaxConsecutiveLosses: 3,
		MaxPositions:         3,
		MaxExposurePct:       60,
	}, zaptest.NewLogger(t))

	m, err := NewManager(Config{
		StartingEquityUsdc: 1000,
		DefaultSlippageBps: 100,
		Cooldown:           30 * time.Minute,
		LiquidityLookback:  time.Minute,
		LiquidityRetention: 5 * time.Minute,
	}, exec, guards, NewEvaluator(DefaultRuleConfig()), nil, balances, zaptest.NewLogger(t))
	require.NoError(t, err)
	return m
}

const mintA = "MintA11111111111111111111111111111111111111"

func TestOpenPositionSuccess(t *testing.T) {
	exec := newFakeExec()
	exec.setPrice(mintA, 1.0)
	m := newTestManager(t, exec, nil)

	p, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	require.NoError(t, err)

	assert.Equal(t, StatusOpen, p.Status)
	assert.Equal(t, uint64(100_000_000), p.InitialRaw)
	assert.Equal(t, uint64(100_000_000), p.RemainingRaw)
	assert.InDelta(t, 1.0, p.EntryPrice, 1e-9)
	assert.InDelta(t, 100.0, p.RemainingPct, 1e-9)
	assert.Zero(t, m.ReservedUsdc())
	assert.Len(t, m.OpenPositions(), 1)
}

func TestOpenPositionConcurrentSameMint(t *testing.T) {
	exec := newFakeExec()
	exec.buyDelay = 50 * time.Millisecond
	m := newTestManager(t, exec, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = m.OpenPosition(context.Background(), mintA, 100, 100, nil)
		}(i)
	}
	wg.Wait()

	// Exactly one buy hit the network; the other observed the
	// in-flight lock.
	assert.Equal(t, 1, exec.buyCalls)
	inFlightRejections := 0
	for _, err := range errs {
		if errors.Is(err, ErrEntryInFlight) {
			inFlightRejections++
		}
	}
	assert.Equal(t, 1, inFlightRejections)
	assert.Zero(t, m.ReservedUsdc())
	assert.Len(t, m.OpenPositions(), 1)
}

func TestReservedCapitalRestoredOnFailure(t *testing.T) {
	exec := newFakeExec()
	exec.failBuy = true
	m := newTestManager(t, exec, nil)

	_, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	require.Error(t, err)
	assert.Zero(t, m.ReservedUsdc())
	assert.Empty(t, m.OpenPositions())
}

func TestOpenPositionKillSwitch(t *testing.T) {
	exec := newFakeExec()
	m := newTestManager(t, exec, nil)
	m.consecutiveLosses = 3

	_, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	assert.ErrorIs(t, err, ErrKillSwitch)
	assert.Zero(t, exec.buyCalls)
	assert.Zero(t, m.ReservedUsdc())
}

func TestOpenPositionExposureCeiling(t *testing.T) {
	exec := newFakeExec()
	m := newTestManager(t, exec, nil)

	// 60% of 1000 equity = 600 ceiling.
	_, err := m.OpenPosition(context.Background(), mintA, 700, 100, nil)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestPartialThenFinalDustExit(t *testing.T) {
	exec := newFakeExec()
	exec.setPrice(mintA, 1.0)
	balances := &fakeBalances{}
	m := newTestManager(t, exec, balances)

	// Entry: 100 USDC at 1.00 → 100 tokens.
	p, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	require.NoError(t, err)

	// Price rises to 1.10, first target takes half.
	exec.setPrice(mintA, 1.10)
	err = m.executeExit(context.Background(), p, &ExitDecision{Type: ExitTakeProfit, SellPct: 50})
	require.NoError(t, err)

	assert.Equal(t, StatusOpen, p.Status)
	assert.Equal(t, uint64(50_000_000), p.RemainingRaw)
	assert.InDelta(t, 50.0, p.RemainingPct, 1e-6)
	assert.True(t, p.TP1Hit)
	require.Len(t, p.Exits, 1)
	assert.InDelta(t, 55.0, p.Exits[0].UsdcReceived, 1e-6)

	// Final exit: chain holds only 49.98 tokens due to fee dust. The
	// sell trims to the on-chain amount and the position still closes.
	balances.raw = 49_980_000
	err = m.executeExit(context.Background(), p, &ExitDecision{Type: ExitTakeProfit2, SellPct: 100})
	require.NoError(t, err)

	assert.Equal(t, uint64(49_980_000), exec.lastSellRaw)
	assert.Equal(t, StatusClosed, p.Status)
	assert.Empty(t, m.OpenPositions())

	// Realized PnL: 55 + 49.98×1.10 − 100.
	stats := m.Stats()
	assert.InDelta(t, 55.0+54.978-100.0, stats.DailyPnlUsdc, 1e-6)
	assert.Zero(t, stats.ConsecutiveLosses)
}

func TestFullExitNeverSellsOrphanBalance(t *testing.T) {
	exec := newFakeExec()
	balances := &fakeBalances{raw: 1_050_000}
	m := newTestManager(t, exec, balances)

	p, err := m.OpenPosition(context.Background(), mintA, 1, 100, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), p.RemainingRaw)

	err = m.executeExit(context.Background(), p, &ExitDecision{Type: ExitStopLoss, SellPct: 100})
	require.NoError(t, err)

	// On-chain balance exceeds tracked: only the tracked amount sells.
	assert.Equal(t, uint64(1_000_000), exec.lastSellRaw)
	assert.Equal(t, StatusClosed, p.Status)
}

func TestFullExitTrimsToOnChainDust(t *testing.T) {
	exec := newFakeExec()
	balances := &fakeBalances{raw: 999_950}
	m := newTestManager(t, exec, balances)

	p, err := m.OpenPosition(context.Background(), mintA, 1, 100, nil)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000), p.RemainingRaw)

	err = m.executeExit(context.Background(), p, &ExitDecision{Type: ExitStopLoss, SellPct: 100})
	require.NoError(t, err)

	assert.Equal(t, uint64(999_950), exec.lastSellRaw)
	assert.Equal(t, StatusClosed, p.Status)
}

func TestFailedExitKeepsPositionOpen(t *testing.T) {
	exec := newFakeExec()
	m := newTestManager(t, exec, nil)

	p, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	require.NoError(t, err)
	before := p.RemainingRaw

	exec.failSell = true
	err = m.executeExit(context.Background(), p, &ExitDecision{Type: ExitStopLoss, SellPct: 100})
	require.Error(t, err)

	assert.Equal(t, StatusOpen, p.Status)
	assert.Equal(t, before, p.RemainingRaw)
	assert.Len(t, m.OpenPositions(), 1)
	require.Len(t, p.Exits, 1)
	assert.False(t, p.Exits[0].Success)
}

func TestPeakPnlMonotonic(t *testing.T) {
	exec := newFakeExec()
	exec.setPrice(mintA, 1.0)
	m := newTestManager(t, exec, nil)

	p, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	require.NoError(t, err)

	exec.setPrice(mintA, 1.20)
	require.NoError(t, m.updatePosition(context.Background(), p))
	assert.InDelta(t, 20.0, p.PeakPnlPct, 0.5)

	exec.setPrice(mintA, 1.05)
	require.NoError(t, m.updatePosition(context.Background(), p))
	assert.InDelta(t, 5.0, p.CurrentPnlPct, 0.5)
	assert.InDelta(t, 20.0, p.PeakPnlPct, 0.5)
}

func TestLosingCloseStartsCooldownAndStreak(t *testing.T) {
	exec := newFakeExec()
	exec.setPrice(mintA, 1.0)
	m := newTestManager(t, exec, nil)

	p, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	require.NoError(t, err)

	exec.setPrice(mintA, 0.5)
	err = m.executeExit(context.Background(), p, &ExitDecision{Type: ExitStopLoss, SellPct: 100})
	require.NoError(t, err)

	stats := m.Stats()
	assert.Equal(t, 1, stats.ConsecutiveLosses)
	assert.NotNil(t, stats.LastLossTime)
	assert.InDelta(t, -50.0, stats.DailyPnlUsdc, 1e-6)

	// The mint is cooling down, a fresh entry is rejected.
	_, err = m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	assert.ErrorIs(t, err, ErrMintCoolingDown)
}

func TestUpdateCyclesDoNotOverlap(t *testing.T) {
	exec := newFakeExec()
	m := newTestManager(t, exec, nil)

	m.mu.Lock()
	m.updateRunning = true
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.UpdatePositions(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("UpdatePositions should return immediately while a cycle runs")
	}
}

func TestRemainingTokensAccounting(t *testing.T) {
	exec := newFakeExec()
	m := newTestManager(t, exec, nil)

	p, err := m.OpenPosition(context.Background(), mintA, 100, 100, nil)
	require.NoError(t, err)

	fractions := []float64{25, 30, 100}
	prev := p.RemainingRaw
	for _, pct := range fractions {
		require.NoError(t, m.executeExit(context.Background(), p,
			&ExitDecision{Type: ExitTakeProfit, SellPct: pct}))
		assert.LessOrEqual(t, p.RemainingRaw, prev, "remaining must be non-increasing")
		prev = p.RemainingRaw
	}

	var soldTotal uint64
	for _, exit := range p.Exits {
		soldTotal += exit.TokensSoldRaw
	}
	assert.Equal(t, p.InitialRaw, soldTotal+p.RemainingRaw)
	assert.Equal(t, StatusClosed, p.Status)
}
