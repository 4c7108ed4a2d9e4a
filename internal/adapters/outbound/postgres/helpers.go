package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/jackc/pgx/v5"
)

// rollback rolls back the transaction and logs the error unless it was already closed.
func rollback(ctx context.Context, tx pgx.Tx, logger *slog.Logger) {
	if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		logger.Error("failed to rollback transaction", "error", err)
	}
}

// u64ToNumeric renders a u64 for a NUMERIC(20) column. BIGINT would overflow
// above 2^63.
func u64ToNumeric(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func numericToU64(s string) (uint64, error) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing numeric %q: %w", s, err)
	}
	return v, nil
}

func numericToBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("parsing numeric %q", s)
	}
	return v, nil
}

func parseKey(s string) (solana.PublicKey, error) {
	pk, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("parsing public key %q: %w", s, err)
	}
	return pk, nil
}

// nullableSignature stores the zero signature as NULL.
func nullableSignature(sig solana.Signature) *string {
	if sig == (solana.Signature{}) {
		return nil
	}
	s := sig.String()
	return &s
}
