// =================================
// File: internal/position/balances.go
// =================================
package position

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/rovshanmuradov/solana-trader/internal/chain"
	"github.com/rovshanmuradov/solana-trader/internal/wallet"
)

// ChainBalances reads the wallet's live token balances through the RPC
// pool's cached reader.
type ChainBalances struct {
	chain  *chain.Client
	wallet *wallet.Wallet
}

func NewChainBalances(c *chain.Client, w *wallet.Wallet) *ChainBalances {
	return &ChainBalances{chain: c, wallet: w}
}

func (b *ChainBalances) TokenBalanceRaw(ctx context.Context, mint string) (uint64, error) {
	mintKey, err := solana.PublicKeyFromBase58(mint)
	if err != nil {
		return 0, fmt.Errorf("invalid mint %q: %w", mint, err)
	}
	ata, err := b.wallet.ATA(mintKey)
	if err != nil {
		return 0, err
	}
	bal, err := b.chain.GetTokenBalance(ctx, ata)
	if err != nil {
		return 0, err
	}
	return bal.Raw, nil
}

var _ BalanceReader = (*ChainBalances)(nil)
