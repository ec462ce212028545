// =================================
// File: internal/jupiter/client.go
// =================================
package jupiter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Client is a thin HTTP client for the v6 quote and swap endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(baseURL string, logger *zap.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
		logger: logger.Named("jupiter"),
	}
}

// GetQuote fetches a priced route for swapping amountRaw of inputMint
// into outputMint at the given slippage tolerance.
func (c *Client) GetQuote(ctx context.Context, inputMint, outputMint string, amountRaw uint64, slippageBps int) (*Quote, error) {
	params := url.Values{}
	params.Set("inputMint", inputMint)
	params.Set("outputMint", outputMint)
	params.Set("amount", strconv.FormatUint(amountRaw, 10))
	params.Set("slippageBps", strconv.Itoa(slippageBps))

	reqURL := c.baseURL + "/quote?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create quote request: %w", err)
	}

	started := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read quote response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: quote status %d: %s", ErrAPI, resp.StatusCode, truncate(body, 200))
	}

	var quote Quote
	if err := json.Unmarshal(body, &quote); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if err := quote.Validate(); err != nil {
		return nil, err
	}

	c.logger.Debug("Quote received",
		zap.String("input_mint", inputMint),
		zap.String("output_mint", outputMint),
		zap.Uint64("in_raw", quote.InAmountRaw()),
		zap.Uint64("out_raw", quote.OutAmountRaw()),
		zap.String("price_impact", quote.PriceImpactPct),
		zap.Duration("took", time.Since(started)))

	return &quote, nil
}

type swapRequest struct {
	QuoteResponse             json.RawMessage `json:"quoteResponse"`
	UserPublicKey             string          `json:"userPublicKey"`
	WrapAndUnwrapSol          bool            `json:"wrapAndUnwrapSol"`
	DynamicComputeUnitLimit   bool            `json:"dynamicComputeUnitLimit"`
	PrioritizationFeeLamports string          `json:"prioritizationFeeLamports,omitempty"`
}

type swapResponse struct {
	SwapTransaction string `json:"swapTransaction"`
	Error           string `json:"error,omitempty"`
}

// BuildSwapTransaction asks the aggregator to assemble the unsigned
// transaction for a previously fetched quote. Returns the transaction
// as base64.
func (c *Client) BuildSwapTransaction(ctx context.Context, quote *Quote, userPublicKey string) (string, error) {
	quoteJSON, err := json.Marshal(quote)
	if err != nil {
		return "", fmt.Errorf("marshal quote: %w", err)
	}

	payload, err := json.Marshal(swapRequest{
		QuoteResponse:           quoteJSON,
		UserPublicKey:           userPublicKey,
		WrapAndUnwrapSol:        true,
		DynamicComputeUnitLimit: true,
	})
	if err != nil {
		return "", fmt.Errorf("marshal swap request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/swap", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create swap request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("swap request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read swap response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: swap status %d: %s", ErrAPI, resp.StatusCode, truncate(body, 200))
	}

	var sr swapResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if sr.Error != "" {
		return "", fmt.Errorf("%w: %s", ErrAPI, sr.Error)
	}
	if sr.SwapTransaction == "" {
		return "", fmt.Errorf("%w: empty swap transaction", ErrDecode)
	}
	return sr.SwapTransaction, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
