package outbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
)

// TokenTransfer moves Amount tokens between two token accounts.
type TokenTransfer struct {
	From      solana.PublicKey
	To        solana.PublicKey
	Authority solana.PublicKey
	Amount    uint64
}

// TokenLedger is the token program as seen by the engine.
type TokenLedger interface {
	GetTokenAccount(ctx context.Context, address solana.PublicKey) (*entity.TokenAccount, error)

	// Transfer applies every transfer or none of them.
	Transfer(ctx context.Context, transfers ...TokenTransfer) error
}
