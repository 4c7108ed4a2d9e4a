package outbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
)

// PriceOracle reads an oracle price account.
type PriceOracle interface {
	// GetPriceUnchecked returns the aggregate price without status or staleness checks.
	GetPriceUnchecked(ctx context.Context, priceAccount solana.PublicKey) (*entity.PriceFeed, error)
}
