// =================================
// File: internal/chain/client.go
// =================================
// Package chain wraps the Solana RPC surface the trader needs behind a
// failover pool of endpoints.
package chain

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	maxPoolRetries     = 3
	confirmPollEvery   = 500 * time.Millisecond
	defaultConfirmWait = 30 * time.Second
)

var ErrNoActiveClients = errors.New("no active RPC clients available")

// SimulationResult is the distilled outcome of a transaction simulation.
type SimulationResult struct {
	Err           interface{}
	Logs          []string
	UnitsConsumed uint64
}

// TokenBalance is a token account balance in raw units plus decimals.
type TokenBalance struct {
	Raw      uint64
	Decimals uint8
}

// Client is the RPC pool client. Token balances are served from a
// short TTL cache collapsed through singleflight; a confirmed trade
// invalidates its mints so reconciliation reads fresh state.
type Client struct {
	pool   *pool
	logger *zap.Logger

	balanceTTL   time.Duration
	balanceGroup singleflight.Group
	balances     *ttlCache[TokenBalance]
	decimals     *ttlCache[uint8]
}

func NewClient(rpcURLs []string, balanceTTL time.Duration, logger *zap.Logger) (*Client, error) {
	if len(rpcURLs) == 0 {
		return nil, errors.New("empty RPC URL list")
	}

	var nodes []*rpcNode
	for _, urlStr := range rpcURLs {
		if _, err := url.Parse(urlStr); err != nil {
			logger.Warn("Invalid RPC URL", zap.String("url", urlStr), zap.Error(err))
			continue
		}
		nodes = append(nodes, &rpcNode{
			client: rpc.New(urlStr),
			url:    urlStr,
			active: true,
		})
	}
	if len(nodes) == 0 {
		return nil, errors.New("no valid RPC URLs provided")
	}

	return &Client{
		pool:       newPool(nodes),
		logger:     logger.Named("chain"),
		balanceTTL: balanceTTL,
		balances:   newTTLCache[TokenBalance](balanceTTL),
		decimals:   newTTLCache[uint8](24 * time.Hour),
	}, nil
}

// withFailover runs fn against pool nodes until one succeeds, marking
// failed nodes inactive.
func (c *Client) withFailover(fn func(node *rpcNode) error) error {
	var lastErr error
	for attempt := 0; attempt < maxPoolRetries; attempt++ {
		node := c.pool.next()
		if node == nil {
			return ErrNoActiveClients
		}
		err := fn(node)
		node.recordResult(err == nil)
		if err != nil {
			lastErr = err
			c.pool.markFailed(node)
			c.logger.Debug("RPC call failed, rotating endpoint",
				zap.String("url", node.url),
				zap.Error(err))
			continue
		}
		return nil
	}
	return fmt.Errorf("all RPC attempts failed: %w", lastErr)
}

func (c *Client) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	var hash solana.Hash
	err := c.withFailover(func(node *rpcNode) error {
		result, err := node.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
		if err != nil {
			return err
		}
		hash = result.Value.Blockhash
		return nil
	})
	return hash, err
}

func (c *Client) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	var sig solana.Signature
	err := c.withFailover(func(node *rpcNode) error {
		s, err := node.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
			SkipPreflight:       true,
			PreflightCommitment: rpc.CommitmentConfirmed,
		})
		if err != nil {
			return err
		}
		sig = s
		return nil
	})
	return sig, err
}

func (c *Client) SimulateTransaction(ctx context.Context, tx *solana.Transaction) (*SimulationResult, error) {
	var sim *SimulationResult
	err := c.withFailover(func(node *rpcNode) error {
		result, err := node.client.SimulateTransaction(ctx, tx)
		if err != nil {
			return err
		}
		units := uint64(0)
		if result.Value.UnitsConsumed != nil {
			units = *result.Value.UnitsConsumed
		}
		sim = &SimulationResult{
			Err:           result.Value.Err,
			Logs:          result.Value.Logs,
			UnitsConsumed: units,
		}
		return nil
	})
	return sim, err
}

// WaitForConfirmation polls signature status until the transaction is
// confirmed or finalized. An on-chain execution error is returned as a
// non-nil error with the cluster's error value embedded.
func (c *Client) WaitForConfirmation(ctx context.Context, sig solana.Signature, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = defaultConfirmWait
	}
	ticker := time.NewTicker(confirmPollEvery)
	defer ticker.Stop()
	deadline := time.After(timeout)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("confirmation timeout after %s: %s", timeout, sig)
		case <-ticker.C:
			var statuses *rpc.GetSignatureStatusesResult
			err := c.withFailover(func(node *rpcNode) error {
				result, err := node.client.GetSignatureStatuses(ctx, false, sig)
				if err != nil {
					return err
				}
				statuses = result
				return nil
			})
			if err != nil {
				c.logger.Warn("Error getting signature statuses", zap.Error(err))
				continue
			}
			if statuses == nil || len(statuses.Value) == 0 || statuses.Value[0] == nil {
				continue
			}
			status := statuses.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusFinalized ||
				status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed {
				return nil
			}
		}
	}
}

// GetParsedTransaction fetches the confirmed transaction with its meta
// for fill reconciliation.
func (c *Client) GetParsedTransaction(ctx context.Context, sig solana.Signature) (*rpc.GetTransactionResult, error) {
	maxVersion := uint64(0)
	var result *rpc.GetTransactionResult
	err := c.withFailover(func(node *rpcNode) error {
		r, err := node.client.GetTransaction(ctx, sig, &rpc.GetTransactionOpts{
			Encoding:                       solana.EncodingBase64,
			Commitment:                     rpc.CommitmentConfirmed,
			MaxSupportedTransactionVersion: &maxVersion,
		})
		if err != nil {
			return err
		}
		if r == nil || r.Meta == nil {
			return errors.New("transaction not yet available")
		}
		result = r
		return nil
	})
	return result, err
}

// GetTokenBalance reads the wallet's balance for a token account,
// served from the TTL cache. Concurrent callers for the same account
// collapse into a single RPC call.
func (c *Client) GetTokenBalance(ctx context.Context, account solana.PublicKey) (TokenBalance, error) {
	key := account.String()
	if bal, ok := c.balances.get(key); ok {
		return bal, nil
	}

	v, err, _ := c.balanceGroup.Do(key, func() (interface{}, error) {
		bal, err := c.fetchTokenBalance(ctx, account)
		if err != nil {
			return TokenBalance{}, err
		}
		c.balances.set(key, bal)
		return bal, nil
	})
	if err != nil {
		return TokenBalance{}, err
	}
	return v.(TokenBalance), nil
}

func (c *Client) fetchTokenBalance(ctx context.Context, account solana.PublicKey) (TokenBalance, error) {
	var bal TokenBalance
	err := c.withFailover(func(node *rpcNode) error {
		result, err := node.client.GetTokenAccountBalance(ctx, account, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		raw, err := strconv.ParseUint(result.Value.Amount, 10, 64)
		if err != nil {
			return fmt.Errorf("parse token amount %q: %w", result.Value.Amount, err)
		}
		bal = TokenBalance{Raw: raw, Decimals: result.Value.Decimals}
		return nil
	})
	return bal, err
}

// InvalidateBalance drops the cached balance for an account after a
// trade so the next read hits the cluster.
func (c *Client) InvalidateBalance(account solana.PublicKey) {
	c.balances.delete(account.String())
}

// MintDecimals resolves a mint's decimals via getTokenSupply, cached
// long-term since decimals never change.
func (c *Client) MintDecimals(ctx context.Context, mint solana.PublicKey) (uint8, error) {
	key := mint.String()
	if d, ok := c.decimals.get(key); ok {
		return d, nil
	}

	var decimals uint8
	err := c.withFailover(func(node *rpcNode) error {
		result, err := node.client.GetTokenSupply(ctx, mint, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		decimals = result.Value.Decimals
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.decimals.set(key, decimals)
	return decimals, nil
}

// GetBalance reads the wallet's lamport balance.
func (c *Client) GetBalance(ctx context.Context, pubkey solana.PublicKey) (uint64, error) {
	var lamports uint64
	err := c.withFailover(func(node *rpcNode) error {
		result, err := node.client.GetBalance(ctx, pubkey, rpc.CommitmentConfirmed)
		if err != nil {
			return err
		}
		lamports = result.Value
		return nil
	})
	return lamports, err
}
