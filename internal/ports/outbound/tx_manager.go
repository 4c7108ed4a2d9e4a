package outbound

import (
	"context"

	"github.com/jackc/pgx/v5"
)

// TxManager scopes several repository writes to one database transaction.
type TxManager interface {
	// WithTransaction commits when fn returns nil and rolls back otherwise.
	WithTransaction(ctx context.Context, fn func(tx pgx.Tx) error) error
}
