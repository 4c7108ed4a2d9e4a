package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time check that RebaseRepository implements outbound.RebaseRepository.
var _ outbound.RebaseRepository = (*RebaseRepository)(nil)

// RebaseRepository records emitted rebase signals.
type RebaseRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRebaseRepository creates a new PostgreSQL rebase repository.
func NewRebaseRepository(pool *pgxpool.Pool, logger *slog.Logger) (*RebaseRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RebaseRepository{pool: pool, logger: logger.With("component", "rebase-repository")}, nil
}

// SaveRebase stores a signal. Duplicate signatures are ignored.
func (r *RebaseRepository) SaveRebase(ctx context.Context, record *entity.RebaseRecord) error {
	if record == nil {
		return fmt.Errorf("rebase record cannot be nil")
	}
	if record.Signal.Price == nil {
		return fmt.Errorf("rebase record price cannot be nil")
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO rebase_signal (signature, config, holder_count, shrink_bp, price, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (signature) DO NOTHING
	`, record.Signature.String(), record.Config.String(), u64ToNumeric(record.HolderCount),
		u64ToNumeric(record.Signal.ShrinkBP), record.Signal.Price.String(), record.RecordedAt)
	if err != nil {
		return fmt.Errorf("failed to save rebase signal: %w", err)
	}
	return nil
}

// LatestRebase returns the most recent signal for a config.
func (r *RebaseRepository) LatestRebase(ctx context.Context, config solana.PublicKey) (*entity.RebaseRecord, error) {
	var (
		sig, cfg, holders, shrink, price string
		rec                              entity.RebaseRecord
	)
	err := r.pool.QueryRow(ctx, `
		SELECT signature, config, holder_count::text, shrink_bp::text, price::text, recorded_at
		FROM rebase_signal
		WHERE config = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT 1
	`, config.String()).Scan(&sig, &cfg, &holders, &shrink, &price, &rec.RecordedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no rebase recorded for %s", outbound.ErrAccountNotFound, config)
	}
	if err != nil {
		return nil, fmt.Errorf("querying latest rebase: %w", err)
	}

	if rec.Signature, err = solana.SignatureFromBase58(sig); err != nil {
		return nil, fmt.Errorf("parsing signature %q: %w", sig, err)
	}
	if rec.Config, err = parseKey(cfg); err != nil {
		return nil, err
	}
	if rec.HolderCount, err = numericToU64(holders); err != nil {
		return nil, err
	}
	if rec.Signal.ShrinkBP, err = numericToU64(shrink); err != nil {
		return nil, err
	}
	if rec.Signal.Price, err = numericToBigInt(price); err != nil {
		return nil, err
	}
	rec.RecordedAt = rec.RecordedAt.UTC()
	return &rec, nil
}
