// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"errors"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
)

// ErrAccountNotFound is returned when an account does not exist.
var ErrAccountNotFound = errors.New("account not found")

// ErrAccountExists is returned when creating an account that is already in use.
var ErrAccountExists = errors.New("account already in use")

// AccountStore holds the program-owned accounts the engine operates on.
type AccountStore interface {
	// AccountExists reports whether any account lives at address.
	AccountExists(ctx context.Context, address solana.PublicKey) (bool, error)

	CreateConfig(ctx context.Context, address solana.PublicKey, cfg *entity.Config) error
	GetConfig(ctx context.Context, address solana.PublicKey) (*entity.Config, error)

	CreateOrder(ctx context.Context, address solana.PublicKey, order *entity.WhaleOrder) error
	GetOrder(ctx context.Context, address solana.PublicKey) (*entity.WhaleOrder, error)
	PutOrder(ctx context.Context, address solana.PublicKey, order *entity.WhaleOrder) error
	ListOrders(ctx context.Context) ([]entity.OrderSnapshot, error)

	GetHolderCount(ctx context.Context, address solana.PublicKey) (*entity.HolderCount, error)
}

// AccountDataReader returns the raw data of any account.
type AccountDataReader interface {
	GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error)
}
