// =================================
// File: internal/position/types.go
// =================================
// Package position owns the position table, the capital reservation
// ledger, the exit state machine, and day-keyed persistence.
package position

import (
	"time"
)

type Status string

const (
	StatusOpen   Status = "open"
	StatusClosed Status = "closed"
)

// Position is one trade from entry to close. Entry facts are immutable
// after creation. RemainingRaw, in smallest units, is the authoritative
// token accounting; the float fields are derived views.
type Position struct {
	ID   string `json:"id"`
	Mint string `json:"mint"`

	EntryPrice      float64   `json:"entry_price"`
	EntryTime       time.Time `json:"entry_time"`
	InitialSizeUsdc float64   `json:"initial_size_usdc"`
	InitialTokens   float64   `json:"initial_tokens"`
	InitialRaw      uint64    `json:"initial_raw"`
	TokenDecimals   uint8     `json:"token_decimals"`
	EntrySignature  string    `json:"entry_signature"`
	FillSource      string    `json:"fill_source"`

	RemainingRaw    uint64  `json:"remaining_raw"`
	RemainingTokens float64 `json:"remaining_tokens"`
	RemainingUsdc   float64 `json:"remaining_usdc"`
	RemainingPct    float64 `json:"remaining_pct"`

	CurrentPrice  float64 `json:"current_price"`
	CurrentPnlPct float64 `json:"current_pnl_pct"`
	PeakPnlPct    float64 `json:"peak_pnl_pct"`

	TP1Hit               bool `json:"tp1_hit"`
	TP2Hit               bool `json:"tp2_hit"`
	StopMovedToBreakeven bool `json:"stop_moved_to_breakeven"`

	Exits []PositionExit `json:"exits"`

	Status      Status     `json:"status"`
	CloseReason string     `json:"close_reason,omitempty"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`

	// Plan, when set, replaces the rule evaluator with a fixed
	// stop/target pair for this position.
	Plan *ExitPlan `json:"plan,omitempty"`
}

// PositionExit is the immutable record of one sell attempt, recorded
// whether or not the sell succeeded.
type PositionExit struct {
	Type          string    `json:"type"`
	SellPct       float64   `json:"sell_pct"`
	TokensSold    float64   `json:"tokens_sold"`
	TokensSoldRaw uint64    `json:"tokens_sold_raw"`
	UsdcReceived  float64   `json:"usdc_received"`
	Price         float64   `json:"price"`
	Signature     string    `json:"signature,omitempty"`
	Success       bool      `json:"success"`
	Error         string    `json:"error,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// ExitPlan is a fixed stop-loss/take-profit pair attached at entry.
type ExitPlan struct {
	StopLossPct   float64 `json:"stop_loss_pct"`   // negative, e.g. -15
	TakeProfitPct float64 `json:"take_profit_pct"` // positive, e.g. +30
}

// Evaluate applies the plan's binary stop/target check.
func (p *ExitPlan) Evaluate(pnlPct float64) *ExitDecision {
	if pnlPct <= p.StopLossPct {
		return &ExitDecision{Type: ExitStopLoss, SellPct: 100, Reason: "plan stop-loss hit"}
	}
	if pnlPct >= p.TakeProfitPct {
		return &ExitDecision{Type: ExitTakeProfit, SellPct: 100, Reason: "plan take-profit hit"}
	}
	return nil
}

// pow10 converts a decimals count to its scale factor.
func pow10(d uint8) float64 {
	v := 1.0
	for i := uint8(0); i < d; i++ {
		v *= 10
	}
	return v
}

// TokensOf converts raw units to whole tokens for this position's mint.
func (p *Position) TokensOf(raw uint64) float64 {
	return float64(raw) / pow10(p.TokenDecimals)
}

// RealizedPnlUsdc is total exit proceeds minus the initial size. Only
// meaningful once the position is closed.
func (p *Position) RealizedPnlUsdc() float64 {
	proceeds := 0.0
	for _, exit := range p.Exits {
		if exit.Success {
			proceeds += exit.UsdcReceived
		}
	}
	return proceeds - p.InitialSizeUsdc
}

// refreshDerived recomputes the float views from RemainingRaw and the
// current price.
func (p *Position) refreshDerived() {
	p.RemainingTokens = p.TokensOf(p.RemainingRaw)
	p.RemainingUsdc = p.RemainingTokens * p.CurrentPrice
	if p.InitialRaw > 0 {
		p.RemainingPct = float64(p.RemainingRaw) / float64(p.InitialRaw) * 100
	}
}
