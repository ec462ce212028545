// =================================
// File: internal/position/rules.go
// =================================
package position

// Exit decision types, in the order the evaluator checks them. The
// liquidity emergency always wins over stop/target logic.
const (
	ExitEmergency    = "emergency_liquidity"
	ExitStopLoss     = "stop_loss"
	ExitTakeProfit   = "take_profit"
	ExitTakeProfit2  = "take_profit_2"
	ExitTrailingStop = "trailing_stop"
	ExitTimeStop     = "time_stop"
)

// ExitDecision tells the manager what fraction to sell and why.
type ExitDecision struct {
	Type    string
	SellPct float64 // 0–100
	Reason  string
}

// Metrics is the per-cycle snapshot fed to the evaluator.
type Metrics struct {
	PnlPct             float64
	PeakPnlPct         float64
	HoldMinutes        float64
	LiquidityChangePct float64 // negative = liquidity left the pool
	TP1Hit             bool
	TP2Hit             bool
}

// RuleConfig holds the thresholds for the staged exit ladder.
type RuleConfig struct {
	LiquidityDropPct float64 // positive magnitude, e.g. 40 = exit on -40%

	StopLossPct float64 // negative

	TP1Pct     float64
	TP1SellPct float64
	TP2Pct     float64
	TP2SellPct float64

	// Trailing stop arms after TP1: exit when PnL falls this many
	// points below the peak.
	TrailingDrawdownPct float64

	MaxHoldMinutes float64
}

func DefaultRuleConfig() RuleConfig {
	return RuleConfig{
		LiquidityDropPct:    40,
		StopLossPct:         -20,
		TP1Pct:              25,
		TP1SellPct:          50,
		TP2Pct:              60,
		TP2SellPct:          100,
		TrailingDrawdownPct: 15,
		MaxHoldMinutes:      240,
	}
}

// Evaluator maps position metrics to an exit decision. Pure; nil means
// hold.
type Evaluator struct {
	cfg RuleConfig
}

func NewEvaluator(cfg RuleConfig) *Evaluator {
	return &Evaluator{cfg: cfg}
}

func (e *Evaluator) Evaluate(m Metrics) *ExitDecision {
	// Liquidity leaving the pool outranks everything: whatever the
	// PnL says, the exit door is closing.
	if e.cfg.LiquidityDropPct > 0 && m.LiquidityChangePct <= -e.cfg.LiquidityDropPct {
		return &ExitDecision{
			Type:    ExitEmergency,
			SellPct: 100,
			Reason:  "liquidity drop",
		}
	}

	if m.PnlPct <= e.cfg.StopLossPct {
		return &ExitDecision{Type: ExitStopLoss, SellPct: 100, Reason: "stop-loss hit"}
	}

	if !m.TP2Hit && m.PnlPct >= e.cfg.TP2Pct {
		return &ExitDecision{Type: ExitTakeProfit2, SellPct: e.cfg.TP2SellPct, Reason: "second target hit"}
	}
	if !m.TP1Hit && m.PnlPct >= e.cfg.TP1Pct {
		return &ExitDecision{Type: ExitTakeProfit, SellPct: e.cfg.TP1SellPct, Reason: "first target hit"}
	}

	// Trailing stop only once the first target locked in some profit:
	// before that the plain stop-loss governs.
	if m.TP1Hit && m.PeakPnlPct-m.PnlPct >= e.cfg.TrailingDrawdownPct {
		return &ExitDecision{Type: ExitTrailingStop, SellPct: 100, Reason: "drawdown from peak"}
	}

	if e.cfg.MaxHoldMinutes > 0 && m.HoldMinutes >= e.cfg.MaxHoldMinutes {
		return &ExitDecision{Type: ExitTimeStop, SellPct: 100, Reason: "max hold time"}
	}

	return nil
}
