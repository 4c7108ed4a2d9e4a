package entity

import (
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
)

// ExecutionStatus is the outcome a keeper recorded for an execution request.
type ExecutionStatus string

const (
	ExecutionExecuted ExecutionStatus = "executed"
	ExecutionSkipped  ExecutionStatus = "skipped"
	ExecutionFailed   ExecutionStatus = "failed"
)

// TrancheExecution is one keeper attempt at an order's next tranche.
type TrancheExecution struct {
	Signature      solana.Signature
	Order          solana.PublicKey
	Keeper         solana.PublicKey
	Tranche        uint64
	KeeperReward   uint64
	AnchorOut      uint64
	RemainingAfter uint64
	Status         ExecutionStatus
	Reason         string
	ExecutedAt     time.Time
}

// NewTrancheExecution builds an execution record with validation.
func NewTrancheExecution(order, keeper solana.PublicKey, status ExecutionStatus, executedAt time.Time) (*TrancheExecution, error) {
	e := &TrancheExecution{
		Order:      order,
		Keeper:     keeper,
		Status:     status,
		ExecutedAt: executedAt,
	}
	if err := e.validate(); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *TrancheExecution) validate() error {
	if e.Order.IsZero() {
		return fmt.Errorf("order address must be set")
	}
	switch e.Status {
	case ExecutionExecuted, ExecutionSkipped, ExecutionFailed:
	default:
		return fmt.Errorf("unknown execution status %q", e.Status)
	}
	if e.ExecutedAt.IsZero() {
		return fmt.Errorf("executedAt must not be zero")
	}
	return nil
}
