// =================================
// File: internal/bundle/client.go
// =================================
// Package bundle submits signed transactions to a Jito-style block
// engine relay, optionally paired with a tip transfer, so the swap
// lands atomically or not at all.
package bundle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/mr-tron/base58"
	"go.uber.org/zap"
)

var (
	// ErrRelay marks a relay-side rejection; the caller falls back to
	// plain RPC submission.
	ErrRelay = errors.New("bundle relay error")
)

// Status is the relay's view of a submitted bundle.
type Status struct {
	BundleID           string
	ConfirmationStatus string
	Landed             bool
}

// Client talks JSON-RPC to the relay.
type Client struct {
	relayURL   string
	tipAccount solana.PublicKey
	tipLamport uint64
	httpClient *http.Client
	logger     *zap.Logger
}

type Config struct {
	RelayURL    string
	TipAccount  string
	TipLamports uint64
}

func NewClient(cfg Config, logger *zap.Logger) (*Client, error) {
	if cfg.RelayURL == "" {
		return nil, errors.New("bundle relay URL is empty")
	}
	tipAccount, err := solana.PublicKeyFromBase58(cfg.TipAccount)
	if err != nil {
		return nil, fmt.Errorf("invalid tip account: %w", err)
	}
	return &Client{
		relayURL:   cfg.RelayURL,
		tipAccount: tipAccount,
		tipLamport: cfg.TipLamports,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.Named("bundle"),
	}, nil
}

// BuildTipTransaction creates the tip transfer that accompanies the
// swap in the bundle. The caller signs it with the same wallet.
func (c *Client) BuildTipTransaction(payer solana.PublicKey, blockhash solana.Hash) (*solana.Transaction, error) {
	ix := system.NewTransferInstruction(c.tipLamport, payer, c.tipAccount).Build()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{ix},
		blockhash,
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, fmt.Errorf("build tip transaction: %w", err)
	}
	return tx, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      int           `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SendBundle submits signed transactions as one bundle and returns the
// relay's bundle ID.
func (c *Client) SendBundle(ctx context.Context, txs []*solana.Transaction) (string, error) {
	if len(txs) == 0 {
		return "", errors.New("empty bundle")
	}

	encoded := make([]string, 0, len(txs))
	for _, tx := range txs {
		raw, err := tx.MarshalBinary()
		if err != nil {
			return "", fmt.Errorf("marshal bundle transaction: %w", err)
		}
		encoded = append(encoded, base58.Encode(raw))
	}

	var result json.RawMessage
	if err := c.call(ctx, "sendBundle", []interface{}{encoded}, &result); err != nil {
		return "", err
	}

	var bundleID string
	if err := json.Unmarshal(result, &bundleID); err != nil {
		return "", fmt.Errorf("%w: unexpected sendBundle result: %v", ErrRelay, err)
	}

	c.logger.Info("📦 Bundle submitted",
		zap.String("bundle_id", bundleID),
		zap.Int("transactions", len(txs)))
	return bundleID, nil
}

type bundleStatusesResult struct {
	Value []struct {
		BundleID           string `json:"bundle_id"`
		ConfirmationStatus string `json:"confirmation_status"`
	} `json:"value"`
}

// GetBundleStatus polls the relay for the bundle's landing status.
func (c *Client) GetBundleStatus(ctx context.Context, bundleID string) (*Status, error) {
	var result json.RawMessage
	if err := c.call(ctx, "getBundleStatuses", []interface{}{[]string{bundleID}}, &result); err != nil {
		return nil, err
	}

	var statuses bundleStatusesResult
	if err := json.Unmarshal(result, &statuses); err != nil {
		return nil, fmt.Errorf("%w: unexpected getBundleStatuses result: %v", ErrRelay, err)
	}
	if len(statuses.Value) == 0 {
		return &Status{BundleID: bundleID}, nil
	}

	entry := statuses.Value[0]
	return &Status{
		BundleID:           entry.BundleID,
		ConfirmationStatus: entry.ConfirmationStatus,
		Landed:             entry.ConfirmationStatus == "confirmed" || entry.ConfirmationStatus == "finalized",
	}, nil
}

func (c *Client) call(ctx context.Context, method string, params []interface{}, result *json.RawMessage) error {
	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.relayURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create %s request: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read %s response: %w", method, err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s status %d", ErrRelay, method, resp.StatusCode)
	}

	var rr rpcResponse
	if err := json.Unmarshal(body, &rr); err != nil {
		return fmt.Errorf("%w: decode %s response: %v", ErrRelay, method, err)
	}
	if rr.Error != nil {
		return fmt.Errorf("%w: %s: %s (code %d)", ErrRelay, method, rr.Error.Message, rr.Error.Code)
	}

	*result = rr.Result
	return nil
}
