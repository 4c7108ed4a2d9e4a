package outbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
)

// OrderRepository persists order snapshots observed on the cluster.
type OrderRepository interface {
	// UpsertOrders stores the latest state of each order.
	UpsertOrders(ctx context.Context, snapshots []entity.OrderSnapshot) error

	// GetOrder returns the stored snapshot, or ErrAccountNotFound.
	GetOrder(ctx context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error)

	// ListActiveOrders returns every order stored as active.
	ListActiveOrders(ctx context.Context) ([]entity.OrderSnapshot, error)
}

// ExecutionRepository persists keeper outcomes.
type ExecutionRepository interface {
	SaveExecution(ctx context.Context, exec *entity.TrancheExecution) error

	// RecordExecuted stores an executed attempt together with the order state
	// it left behind. Either both are stored or neither is.
	RecordExecuted(ctx context.Context, exec *entity.TrancheExecution, order entity.OrderSnapshot) error

	ListExecutions(ctx context.Context, order solana.PublicKey) ([]*entity.TrancheExecution, error)
}

// RebaseRepository persists emitted rebase signals.
type RebaseRepository interface {
	SaveRebase(ctx context.Context, record *entity.RebaseRecord) error
	LatestRebase(ctx context.Context, config solana.PublicKey) (*entity.RebaseRecord, error)
}
