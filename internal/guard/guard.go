// =================================
// File: internal/guard/guard.go
// =================================
// Package guard evaluates pre-trade checks. Every check is pure: it
// takes the current numbers and returns a verdict without touching the
// network, so the same engine serves live and simulated execution.
package guard

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/chain"
	"github.com/rovshanmuradov/solana-trader/internal/jupiter"
)

// CheckResult is the verdict of a single guard evaluation.
type CheckResult struct {
	Passed bool
	Reason string
}

func pass() CheckResult { return CheckResult{Passed: true} }

func fail(format string, args ...interface{}) CheckResult {
	return CheckResult{Passed: false, Reason: fmt.Sprintf(format, args...)}
}

// Limits are the ceilings the engine enforces.
type Limits struct {
	MaxPriceImpactPct    float64
	MaxSlippageBps       int
	ProbeImpactCeiling   float64
	DailyLossLimitPct    float64 // negative
	MaxConsecutiveLosses int
	MaxPositions         int
	MaxExposurePct       float64
}

// Engine runs guard checks against configured limits. It also tracks
// consecutive probe failures so transient quote outages surface in the
// logs without blocking entries.
type Engine struct {
	limits Limits
	logger *zap.Logger

	mu            sync.Mutex
	probeFailures int
}

func NewEngine(limits Limits, logger *zap.Logger) *Engine {
	return &Engine{
		limits: limits,
		logger: logger.Named("guard"),
	}
}

// ValidateQuote rejects quotes whose declared price impact or slippage
// setting exceeds the configured ceilings.
func (e *Engine) ValidateQuote(q *jupiter.Quote, slippageBps int) CheckResult {
	if q == nil {
		return fail("quote is nil")
	}
	if slippageBps > e.limits.MaxSlippageBps {
		return fail("slippage %d bps exceeds ceiling %d bps", slippageBps, e.limits.MaxSlippageBps)
	}
	impact, err := q.PriceImpact()
	if err != nil {
		return fail("unparseable price impact %q", q.PriceImpactPct)
	}
	if impact*100 > e.limits.MaxPriceImpactPct {
		return fail("price impact %.2f%% exceeds ceiling %.2f%%", impact*100, e.limits.MaxPriceImpactPct)
	}
	if q.OutAmountRaw() == 0 {
		return fail("quote returns zero output")
	}
	e.logger.Debug("Quote check passed",
		zap.Float64("impact_pct", impact*100),
		zap.Int("slippage_bps", slippageBps))
	return pass()
}

// ValidateSimulation rejects a missing simulation result or one that
// carries an execution error.
func (e *Engine) ValidateSimulation(sim *chain.SimulationResult) CheckResult {
	if sim == nil {
		return fail("simulation returned no result")
	}
	if sim.Err != nil {
		return fail("simulation error: %v", sim.Err)
	}
	e.logger.Debug("Simulation check passed", zap.Uint64("units_consumed", sim.UnitsConsumed))
	return pass()
}

// ValidateProbe evaluates a small pre-flight quote used to measure
// live impact before committing size. A probe failure is recorded but
// never blocks the trade; a successful probe with excessive impact does.
func (e *Engine) ValidateProbe(q *jupiter.Quote, probeErr error) CheckResult {
	if probeErr != nil {
		e.recordProbeFailure(probeErr)
		return pass()
	}
	e.resetProbeFailures()

	impact, err := q.PriceImpact()
	if err != nil {
		return fail("unparseable probe impact %q", q.PriceImpactPct)
	}
	if impact*100 > e.limits.ProbeImpactCeiling {
		return fail("probe impact %.2f%% exceeds ceiling %.2f%%", impact*100, e.limits.ProbeImpactCeiling)
	}
	return pass()
}

func (e *Engine) recordProbeFailure(err error) {
	e.mu.Lock()
	e.probeFailures++
	n := e.probeFailures
	e.mu.Unlock()

	if n >= 3 {
		e.logger.Warn("⚠️ Repeated pre-flight probe failures",
			zap.Int("consecutive", n),
			zap.Error(err))
	} else {
		e.logger.Debug("Pre-flight probe failed",
			zap.Int("consecutive", n),
			zap.Error(err))
	}
}

func (e *Engine) resetProbeFailures() {
	e.mu.Lock()
	e.probeFailures = 0
	e.mu.Unlock()
}

// ProbeFailures reports the current consecutive probe failure count.
func (e *Engine) ProbeFailures() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.probeFailures
}

// KillSwitchState is the realized trading state the kill switch reads.
type KillSwitchState struct {
	RealizedPnLPct    float64 // of starting equity, signed
	ConsecutiveLosses int
}

// CheckKillSwitch halts new entries once the daily realized loss limit
// or the consecutive-loss streak is hit. Exits are never blocked.
func (e *Engine) CheckKillSwitch(s KillSwitchState) CheckResult {
	if s.RealizedPnLPct <= e.limits.DailyLossLimitPct {
		return fail("daily loss %.2f%% breaches limit %.2f%%", s.RealizedPnLPct, e.limits.DailyLossLimitPct)
	}
	if s.ConsecutiveLosses >= e.limits.MaxConsecutiveLosses {
		return fail("%d consecutive losses (max %d)", s.ConsecutiveLosses, e.limits.MaxConsecutiveLosses)
	}
	return pass()
}

// PortfolioState is the snapshot the capacity checks read.
type PortfolioState struct {
	OpenPositions  int
	CommittedUsdc  float64 // open cost basis plus reserved capital
	StartingEquity float64
}

// CheckCapacity enforces the position count and exposure ceilings for
// a prospective entry of entryUsdc.
func (e *Engine) CheckCapacity(p PortfolioState, entryUsdc float64) CheckResult {
	if p.OpenPositions >= e.limits.MaxPositions {
		return fail("position limit reached (%d/%d)", p.OpenPositions, e.limits.MaxPositions)
	}
	if p.StartingEquity <= 0 {
		return fail("starting equity not configured")
	}
	exposure := (p.CommittedUsdc + entryUsdc) / p.StartingEquity * 100
	if exposure > e.limits.MaxExposurePct {
		return fail("exposure %.1f%% would exceed ceiling %.1f%%", exposure, e.limits.MaxExposurePct)
	}
	return pass()
}
