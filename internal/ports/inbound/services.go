// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
)

// InitializeRequest creates the program config account.
type InitializeRequest struct {
	// Config is the new account's keypair address. The account is created by the
	// instruction, so its keypair must sign when sent to a cluster.
	Config    solana.PublicKey
	Authority solana.PublicKey
	Bump      uint8
}

// SubmitOrderRequest escrows a whale order.
type SubmitOrderRequest struct {
	Order              solana.PublicKey
	Seller             solana.PublicKey
	SellerTokenAccount solana.PublicKey
	VaultShift         solana.PublicKey
	TotalAmount        uint64
	TrancheAmount      uint64
}

// ExecuteTrancheRequest releases the next tranche of an order.
type ExecuteTrancheRequest struct {
	Keeper            solana.PublicKey
	Order             solana.PublicKey
	VaultShift        solana.PublicKey
	VaultAnchor       solana.PublicKey
	KeeperToken       solana.PublicKey
	SellerAnchor      solana.PublicKey
	Config            solana.PublicKey
	ProgramAuthority  solana.PublicKey
	ExpectedAnchorOut uint64
}

// TriggerRebaseRequest reads the oracle and holder count and emits a RebaseSignal.
type TriggerRebaseRequest struct {
	Config      solana.PublicKey
	PythPrice   solana.PublicKey
	HolderCount solana.PublicKey
}

// TxResult identifies the transaction that carried an instruction.
type TxResult struct {
	Signature solana.Signature
	Logs      []string
}

// TrancheResult describes an executed tranche.
type TrancheResult struct {
	TxResult
	Plan  entity.TranchePlan
	Order entity.WhaleOrder // state after execution
}

// RebaseResult carries the emitted signal.
type RebaseResult struct {
	TxResult
	Signal entity.RebaseSignal
}

// LiquidityManager is the instruction set of the liquidity manager program plus
// the account reads clients need. Implemented by the cluster client and by the
// in-process engine.
type LiquidityManager interface {
	Initialize(ctx context.Context, req InitializeRequest) (*TxResult, error)
	SubmitOrder(ctx context.Context, req SubmitOrderRequest) (*TxResult, error)
	ExecuteTranche(ctx context.Context, req ExecuteTrancheRequest) (*TrancheResult, error)
	TriggerRebase(ctx context.Context, req TriggerRebaseRequest) (*RebaseResult, error)

	GetConfig(ctx context.Context, address solana.PublicKey) (*entity.Config, error)
	GetOrder(ctx context.Context, address solana.PublicKey) (*entity.WhaleOrder, error)
	ListOrders(ctx context.Context) ([]entity.OrderSnapshot, error)
	GetHolderCount(ctx context.Context, address solana.PublicKey) (*entity.HolderCount, error)
}

// HealthChecker defines the interface for services that can report readiness and liveness.
//
// Implementations:
//   - order_tracker.Service: ready after the first successful poll, healthy while polls keep succeeding
//   - keeper.Service: ready once started, healthy while the queue is reachable
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	IsHealthy() bool
}

// OrderQuery serves the order state tracked in storage.
type OrderQuery interface {
	ListActiveOrders(ctx context.Context) ([]entity.OrderSnapshot, error)
	GetTrackedOrder(ctx context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error)
}
