package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time check that ExecutionRepository implements outbound.ExecutionRepository.
var _ outbound.ExecutionRepository = (*ExecutionRepository)(nil)

// ExecutionRepository records keeper attempts.
type ExecutionRepository struct {
	pool   *pgxpool.Pool
	txm    *TxManager
	logger *slog.Logger
}

// NewExecutionRepository creates a new PostgreSQL execution repository.
func NewExecutionRepository(pool *pgxpool.Pool, logger *slog.Logger) (*ExecutionRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "execution-repository")
	txm, err := NewTxManager(pool, logger)
	if err != nil {
		return nil, err
	}
	return &ExecutionRepository{pool: pool, txm: txm, logger: logger}, nil
}

const insertExecution = `
	INSERT INTO tranche_execution (signature, order_address, keeper, tranche, keeper_reward,
		anchor_out, remaining_after, status, reason, executed_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (signature) WHERE signature IS NOT NULL DO NOTHING`

func executionArgs(e *entity.TrancheExecution) []any {
	return []any{
		nullableSignature(e.Signature), e.Order.String(), e.Keeper.String(),
		u64ToNumeric(e.Tranche), u64ToNumeric(e.KeeperReward), u64ToNumeric(e.AnchorOut),
		u64ToNumeric(e.RemainingAfter), string(e.Status), e.Reason, e.ExecutedAt,
	}
}

// SaveExecution stores one attempt. Re-saving an executed signature is a no-op.
func (r *ExecutionRepository) SaveExecution(ctx context.Context, exec *entity.TrancheExecution) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	if _, err := r.pool.Exec(ctx, insertExecution, executionArgs(exec)...); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// SaveExecutionTx is SaveExecution inside a caller-owned transaction.
func (r *ExecutionRepository) SaveExecutionTx(ctx context.Context, tx pgx.Tx, exec *entity.TrancheExecution) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	if _, err := tx.Exec(ctx, insertExecution, executionArgs(exec)...); err != nil {
		return fmt.Errorf("failed to save execution: %w", err)
	}
	return nil
}

// RecordExecuted writes the execution and the order's new state in one
// transaction. A stored order observed later than order is left alone.
func (r *ExecutionRepository) RecordExecuted(ctx context.Context, exec *entity.TrancheExecution, order entity.OrderSnapshot) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	return r.txm.WithTransaction(ctx, func(tx pgx.Tx) error {
		if err := r.SaveExecutionTx(ctx, tx, exec); err != nil {
			return err
		}
		return upsertOrderBatch(ctx, tx, []entity.OrderSnapshot{order})
	})
}

// ListExecutions returns attempts for one order, oldest first.
func (r *ExecutionRepository) ListExecutions(ctx context.Context, order solana.PublicKey) ([]*entity.TrancheExecution, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT COALESCE(signature, ''), order_address, keeper, tranche::text, keeper_reward::text,
		       anchor_out::text, remaining_after::text, status, reason, executed_at
		FROM tranche_execution
		WHERE order_address = $1
		ORDER BY executed_at, id
	`, order.String())
	if err != nil {
		return nil, fmt.Errorf("querying executions: %w", err)
	}
	defer rows.Close()

	var out []*entity.TrancheExecution
	for rows.Next() {
		var (
			sig, orderAddr, keeper, status   string
			tranche, reward, anchorOut, rest string
			e                                entity.TrancheExecution
		)
		if err := rows.Scan(&sig, &orderAddr, &keeper, &tranche, &reward, &anchorOut, &rest, &status, &e.Reason, &e.ExecutedAt); err != nil {
			return nil, fmt.Errorf("scanning execution: %w", err)
		}
		if sig != "" {
			if e.Signature, err = solana.SignatureFromBase58(sig); err != nil {
				return nil, fmt.Errorf("parsing signature %q: %w", sig, err)
			}
		}
		if e.Order, err = parseKey(orderAddr); err != nil {
			return nil, err
		}
		if e.Keeper, err = parseKey(keeper); err != nil {
			return nil, err
		}
		for _, f := range []struct {
			dst *uint64
			src string
		}{{&e.Tranche, tranche}, {&e.KeeperReward, reward}, {&e.AnchorOut, anchorOut}, {&e.RemainingAfter, rest}} {
			if *f.dst, err = numericToU64(f.src); err != nil {
				return nil, err
			}
		}
		e.Status = entity.ExecutionStatus(status)
		e.ExecutedAt = e.ExecutedAt.UTC()
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating executions: %w", err)
	}
	return out, nil
}
