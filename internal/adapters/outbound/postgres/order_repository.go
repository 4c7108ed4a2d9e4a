package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time check that OrderRepository implements outbound.OrderRepository.
var _ outbound.OrderRepository = (*OrderRepository)(nil)

const orderColumns = `address, seller, total::text, remaining::text, tranche::text,
	start_time, last_executed, active, observed_at`

// OrderRepository stores the latest snapshot of each whale order.
type OrderRepository struct {
	pool      *pgxpool.Pool
	logger    *slog.Logger
	batchSize int
}

// NewOrderRepository creates a new PostgreSQL order repository.
// If batchSize is <= 0, a default batch size of 500 is used.
func NewOrderRepository(pool *pgxpool.Pool, logger *slog.Logger, batchSize int) (*OrderRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if batchSize <= 0 {
		batchSize = 500
	}
	return &OrderRepository{
		pool:      pool,
		logger:    logger.With("component", "order-repository"),
		batchSize: batchSize,
	}, nil
}

// UpsertOrders stores snapshots atomically. A snapshot older than the stored
// one is ignored.
func (r *OrderRepository) UpsertOrders(ctx context.Context, snapshots []entity.OrderSnapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer rollback(ctx, tx, r.logger)

	if err := r.UpsertOrdersTx(ctx, tx, snapshots); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// UpsertOrdersTx is UpsertOrders inside a caller-owned transaction.
func (r *OrderRepository) UpsertOrdersTx(ctx context.Context, tx pgx.Tx, snapshots []entity.OrderSnapshot) error {
	for i := 0; i < len(snapshots); i += r.batchSize {
		end := min(i+r.batchSize, len(snapshots))
		if err := upsertOrderBatch(ctx, tx, snapshots[i:end]); err != nil {
			return err
		}
	}
	return nil
}

func upsertOrderBatch(ctx context.Context, tx pgx.Tx, snapshots []entity.OrderSnapshot) error {
	const cols = 9

	var sb strings.Builder
	sb.WriteString(`
		INSERT INTO whale_order (address, seller, total, remaining, tranche, start_time, last_executed, active, observed_at)
		VALUES `)

	args := make([]any, 0, len(snapshots)*cols)
	for i, s := range snapshots {
		if i > 0 {
			sb.WriteString(", ")
		}
		base := i * cols
		sb.WriteString(fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d, $%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7, base+8, base+9))

		o := s.Order
		args = append(args,
			s.Address.String(), o.Seller.String(),
			u64ToNumeric(o.Total), u64ToNumeric(o.Remaining), u64ToNumeric(o.Tranche),
			o.StartTime, o.LastExecuted, o.Active, s.ObservedAt)
	}

	sb.WriteString(`
		ON CONFLICT (address) DO UPDATE SET
			seller = EXCLUDED.seller,
			total = EXCLUDED.total,
			remaining = EXCLUDED.remaining,
			tranche = EXCLUDED.tranche,
			start_time = EXCLUDED.start_time,
			last_executed = EXCLUDED.last_executed,
			active = EXCLUDED.active,
			observed_at = EXCLUDED.observed_at,
			updated_at = NOW()
		WHERE whale_order.observed_at <= EXCLUDED.observed_at
	`)

	if _, err := tx.Exec(ctx, sb.String(), args...); err != nil {
		return fmt.Errorf("failed to upsert order batch: %w", err)
	}
	return nil
}

// GetOrder returns the stored snapshot for address.
func (r *OrderRepository) GetOrder(ctx context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM whale_order WHERE address = $1`, address.String())
	s, err := scanOrder(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: order %s", outbound.ErrAccountNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("querying order: %w", err)
	}
	return s, nil
}

// ListActiveOrders returns every active order ordered by address.
func (r *OrderRepository) ListActiveOrders(ctx context.Context) ([]entity.OrderSnapshot, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+orderColumns+` FROM whale_order WHERE active ORDER BY address`)
	if err != nil {
		return nil, fmt.Errorf("querying active orders: %w", err)
	}
	defer rows.Close()

	var out []entity.OrderSnapshot
	for rows.Next() {
		s, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning order: %w", err)
		}
		out = append(out, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating orders: %w", err)
	}
	return out, nil
}

func scanOrder(row pgx.Row) (*entity.OrderSnapshot, error) {
	var (
		address, seller              string
		total, remaining, trancheAmt string
		s                            entity.OrderSnapshot
	)
	err := row.Scan(&address, &seller, &total, &remaining, &trancheAmt,
		&s.Order.StartTime, &s.Order.LastExecuted, &s.Order.Active, &s.ObservedAt)
	if err != nil {
		return nil, err
	}

	if s.Address, err = parseKey(address); err != nil {
		return nil, err
	}
	if s.Order.Seller, err = parseKey(seller); err != nil {
		return nil, err
	}
	if s.Order.Total, err = numericToU64(total); err != nil {
		return nil, err
	}
	if s.Order.Remaining, err = numericToU64(remaining); err != nil {
		return nil, err
	}
	if s.Order.Tranche, err = numericToU64(trancheAmt); err != nil {
		return nil, err
	}
	s.ObservedAt = s.ObservedAt.UTC()
	return &s, nil
}
