// =================================
// File: internal/executor/tradelog.go
// =================================
package executor

import (
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/rovshanmuradov/solana-trader/internal/logger"
)

var tradeLogHeader = []string{
	"timestamp", "side", "mint", "signature", "bundle_id",
	"quoted_in_raw", "quoted_out_raw", "token_raw", "usdc_raw",
	"price_usdc", "slippage_pct", "fee_lamports", "fill_source", "attempts",
}

// TradeLog is the append-only CSV audit trail of executed swaps.
type TradeLog struct {
	writer *logger.SafeCSVWriter
}

func NewTradeLog(filePath string, log *zap.Logger) (*TradeLog, error) {
	writer, err := logger.NewSafeCSVWriter(filePath, tradeLogHeader, 5*time.Second, log)
	if err != nil {
		return nil, fmt.Errorf("open trade log: %w", err)
	}
	return &TradeLog{writer: writer}, nil
}

func (t *TradeLog) Record(res *SwapResult) error {
	return t.writer.WriteRecord([]string{
		res.ExecutedAt.Format(time.RFC3339),
		res.Side,
		res.Mint,
		res.Signature,
		res.BundleID,
		strconv.FormatUint(res.QuotedInRaw, 10),
		strconv.FormatUint(res.QuotedOutRaw, 10),
		strconv.FormatUint(res.TokenRaw, 10),
		strconv.FormatUint(res.UsdcRaw, 10),
		strconv.FormatFloat(res.PriceUsdc, 'f', 8, 64),
		strconv.FormatFloat(res.SlippagePct, 'f', 4, 64),
		strconv.FormatUint(res.FeeLamports, 10),
		string(res.Source),
		strconv.Itoa(res.Attempts),
	})
}

func (t *TradeLog) Close() error {
	return t.writer.Close()
}
