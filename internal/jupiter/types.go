// =================================
// File: internal/jupiter/types.go
// =================================
// Package jupiter talks to the Jupiter v6 aggregator: quoting a swap
// and having the aggregator build the transaction for it.
package jupiter

import (
	"errors"
	"fmt"
	"strconv"
)

var (
	// ErrAPI marks a well-formed response the aggregator rejected
	// (non-2xx status or an error payload).
	ErrAPI = errors.New("aggregator API error")

	// ErrDecode marks a response we could not parse or validate.
	ErrDecode = errors.New("aggregator response decode error")
)

// Quote is the aggregator's priced route for a prospective swap.
// Amounts arrive as decimal strings of raw (atomic) units.
type Quote struct {
	InputMint            string      `json:"inputMint"`
	OutputMint           string      `json:"outputMint"`
	InAmount             string      `json:"inAmount"`
	OutAmount            string      `json:"outAmount"`
	OtherAmountThreshold string      `json:"otherAmountThreshold"`
	SwapMode             string      `json:"swapMode"`
	SlippageBps          int         `json:"slippageBps"`
	PriceImpactPct       string      `json:"priceImpactPct"`
	RoutePlan            []RouteStep `json:"routePlan"`

	// parsed during validation
	inRaw     uint64
	outRaw    uint64
	minOutRaw uint64
}

// RouteStep is one hop of the quoted route.
type RouteStep struct {
	Percent  int      `json:"percent"`
	SwapInfo SwapInfo `json:"swapInfo"`
}

// SwapInfo identifies the pool a hop routes through.
type SwapInfo struct {
	AmmKey     string `json:"ammKey"`
	Label      string `json:"label"`
	InputMint  string `json:"inputMint"`
	OutputMint string `json:"outputMint"`
	InAmount   string `json:"inAmount"`
	OutAmount  string `json:"outAmount"`
	FeeAmount  string `json:"feeAmount"`
	FeeMint    string `json:"feeMint"`
}

// Validate parses the amount strings once and rejects quotes that are
// structurally unusable. Call it before any of the *Raw accessors.
func (q *Quote) Validate() error {
	var err error
	if q.inRaw, err = strconv.ParseUint(q.InAmount, 10, 64); err != nil {
		return fmt.Errorf("%w: inAmount %q", ErrDecode, q.InAmount)
	}
	if q.outRaw, err = strconv.ParseUint(q.OutAmount, 10, 64); err != nil {
		return fmt.Errorf("%w: outAmount %q", ErrDecode, q.OutAmount)
	}
	if q.OtherAmountThreshold != "" {
		if q.minOutRaw, err = strconv.ParseUint(q.OtherAmountThreshold, 10, 64); err != nil {
			return fmt.Errorf("%w: otherAmountThreshold %q", ErrDecode, q.OtherAmountThreshold)
		}
	}
	if q.InputMint == "" || q.OutputMint == "" {
		return fmt.Errorf("%w: missing mint", ErrDecode)
	}
	if len(q.RoutePlan) == 0 {
		return fmt.Errorf("%w: empty route plan", ErrDecode)
	}
	return nil
}

// InAmountRaw is the quoted input in raw units.
func (q *Quote) InAmountRaw() uint64 { return q.inRaw }

// OutAmountRaw is the quoted output in raw units.
func (q *Quote) OutAmountRaw() uint64 { return q.outRaw }

// MinOutRaw is the slippage-adjusted worst acceptable output.
func (q *Quote) MinOutRaw() uint64 { return q.minOutRaw }

// PriceImpact parses the quoted price impact as a fraction (0.01 = 1%).
func (q *Quote) PriceImpact() (float64, error) {
	if q.PriceImpactPct == "" {
		return 0, nil
	}
	return strconv.ParseFloat(q.PriceImpactPct, 64)
}
