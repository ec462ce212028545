// =================================
// File: internal/guard/guard_test.go
// =================================
package guard

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/rovshanmuradov/solana-trader/internal/chain"
	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
)

func testEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(Limits{
		MaxPriceImpactPct:    5.0,
		MaxSlippageBps:       500,
		ProbeImpactCeiling:   3.0,
		DailyLossLimitPct:    -10.0,
		MaxConsecutiveLosses: 3,
		MaxPositions:         3,
		MaxExposurePct:       60.0,
	}, zaptest.NewLogger(t))
}

func testQuote(t *testing.T, outAmount, impact string) *jupiter.Quote {
	t.Helper()
	q := &jupiter.Quote{
		InputMint:      "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
		OutputMint:     "So11111111111111111111111111111111111111112",
		InAmount:       "1000000",
		OutAmount:      outAmount,
		PriceImpactPct: impact,
		RoutePlan:      []jupiter.RouteStep{{Percent: 100}},
	}
	if err := q.Validate(); err != nil {
		t.Fatalf("quote fixture invalid: %v", err)
	}
	return q
}

func TestValidateQuote(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		name        string
		quote       *jupiter.Quote
		slippageBps int
		wantPass    bool
	}{
		{"acceptable quote", testQuote(t, "5000000", "0.001"), 100, true},
		{"impact over ceiling", testQuote(t, "5000000", "0.08"), 100, false},
		{"slippage over ceiling", testQuote(t, "5000000", "0.001"), 600, false},
		{"zero output", testQuote(t, "0", "0.001"), 100, false},
		{"unparseable impact", testQuote(t, "5000000", "n/a"), 100, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.ValidateQuote(tt.quote, tt.slippageBps)
			if result.Passed != tt.wantPass {
				t.Errorf("ValidateQuote() passed = %v, want %v (reason: %s)",
					result.Passed, tt.wantPass, result.Reason)
			}
		})
	}
}

func TestValidateQuoteNil(t *testing.T) {
	engine := testEngine(t)
	result := engine.ValidateQuote(nil, 100)
	assert.False(t, result.Passed)
}

func TestValidateSimulation(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		name     string
		sim      *chain.SimulationResult
		wantPass bool
	}{
		{"clean simulation", &chain.SimulationResult{UnitsConsumed: 140000}, true},
		{"nil result", nil, false},
		{"execution error", &chain.SimulationResult{Err: map[string]interface{}{"InstructionError": []interface{}{0, "Custom"}}}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.ValidateSimulation(tt.sim)
			if result.Passed != tt.wantPass {
				t.Errorf("ValidateSimulation() passed = %v, want %v (reason: %s)",
					result.Passed, tt.wantPass, result.Reason)
			}
		})
	}
}

func TestValidateProbe(t *testing.T) {
	engine := testEngine(t)

	// Transport failure passes but bumps the counter.
	result := engine.ValidateProbe(nil, errors.New("connection refused"))
	assert.True(t, result.Passed)
	assert.Equal(t, 1, engine.ProbeFailures())

	result = engine.ValidateProbe(nil, errors.New("timeout"))
	assert.True(t, result.Passed)
	assert.Equal(t, 2, engine.ProbeFailures())

	// A successful probe resets the streak.
	result = engine.ValidateProbe(testQuote(t, "5000000", "0.005"), nil)
	assert.True(t, result.Passed)
	assert.Equal(t, 0, engine.ProbeFailures())

	// Measured impact over the probe ceiling blocks the entry.
	result = engine.ValidateProbe(testQuote(t, "5000000", "0.04"), nil)
	assert.False(t, result.Passed)
}

func TestCheckKillSwitch(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		name     string
		state    KillSwitchState
		wantPass bool
	}{
		{"healthy", KillSwitchState{RealizedPnLPct: -2, ConsecutiveLosses: 1}, true},
		{"daily loss breached", KillSwitchState{RealizedPnLPct: -10.5, ConsecutiveLosses: 0}, false},
		{"loss at exact limit", KillSwitchState{RealizedPnLPct: -10.0, ConsecutiveLosses: 0}, false},
		{"loss streak", KillSwitchState{RealizedPnLPct: 0, ConsecutiveLosses: 3}, false},
		{"streak below ceiling", KillSwitchState{RealizedPnLPct: 0, ConsecutiveLosses: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.CheckKillSwitch(tt.state)
			if result.Passed != tt.wantPass {
				t.Errorf("CheckKillSwitch() passed = %v, want %v (reason: %s)",
					result.Passed, tt.wantPass, result.Reason)
			}
		})
	}
}

func TestCheckCapacity(t *testing.T) {
	engine := testEngine(t)

	tests := []struct {
		name      string
		state     PortfolioState
		entryUsdc float64
		wantPass  bool
	}{
		{"room available", PortfolioState{OpenPositions: 1, CommittedUsdc: 100, StartingEquity: 1000}, 100, true},
		{"position limit", PortfolioState{OpenPositions: 3, CommittedUsdc: 0, StartingEquity: 1000}, 50, false},
		{"exposure ceiling", PortfolioState{OpenPositions: 1, CommittedUsdc: 500, StartingEquity: 1000}, 200, false},
		{"exactly at ceiling", PortfolioState{OpenPositions: 1, CommittedUsdc: 500, StartingEquity: 1000}, 100, true},
		{"no equity configured", PortfolioState{OpenPositions: 0, CommittedUsdc: 0, StartingEquity: 0}, 50, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := engine.CheckCapacity(tt.state, tt.entryUsdc)
			if result.Passed != tt.wantPass {
				t.Errorf("CheckCapacity() passed = %v, want %v (reason: %s)",
					result.Passed, tt.wantPass, result.Reason)
			}
		})
	}
}
