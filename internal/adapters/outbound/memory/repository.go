package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

var (
	_ outbound.OrderRepository     = (*Repository)(nil)
	_ outbound.ExecutionRepository = (*Repository)(nil)
	_ outbound.RebaseRepository    = (*Repository)(nil)
)

// Repository is an in-memory implementation of the order, execution and
// rebase repositories.
type Repository struct {
	mu         sync.RWMutex
	orders     map[solana.PublicKey]entity.OrderSnapshot
	executions map[solana.PublicKey][]*entity.TrancheExecution
	rebases    map[solana.PublicKey][]*entity.RebaseRecord
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{
		orders:     make(map[solana.PublicKey]entity.OrderSnapshot),
		executions: make(map[solana.PublicKey][]*entity.TrancheExecution),
		rebases:    make(map[solana.PublicKey][]*entity.RebaseRecord),
	}
}

// UpsertOrders keeps the newest snapshot per address. Older observations are ignored.
func (r *Repository) UpsertOrders(ctx context.Context, snapshots []entity.OrderSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range snapshots {
		if existing, ok := r.orders[s.Address]; ok && s.ObservedAt.Before(existing.ObservedAt) {
			continue
		}
		r.orders[s.Address] = s
	}
	return nil
}

func (r *Repository) GetOrder(ctx context.Context, address solana.PublicKey) (*entity.OrderSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.orders[address]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", outbound.ErrAccountNotFound, address)
	}
	return &s, nil
}

func (r *Repository) ListActiveOrders(ctx context.Context) ([]entity.OrderSnapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]entity.OrderSnapshot, 0, len(r.orders))
	for _, s := range r.orders {
		if s.Order.Active {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (r *Repository) SaveExecution(ctx context.Context, exec *entity.TrancheExecution) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exec
	r.executions[exec.Order] = append(r.executions[exec.Order], &cp)
	return nil
}

func (r *Repository) RecordExecuted(ctx context.Context, exec *entity.TrancheExecution, order entity.OrderSnapshot) error {
	if exec == nil {
		return fmt.Errorf("execution cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *exec
	r.executions[exec.Order] = append(r.executions[exec.Order], &cp)
	if existing, ok := r.orders[order.Address]; !ok || !order.ObservedAt.Before(existing.ObservedAt) {
		r.orders[order.Address] = order
	}
	return nil
}

// ListExecutions returns executions for an order in insertion order.
func (r *Repository) ListExecutions(ctx context.Context, order solana.PublicKey) ([]*entity.TrancheExecution, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.executions[order]
	out := make([]*entity.TrancheExecution, len(stored))
	for i, e := range stored {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

func (r *Repository) SaveRebase(ctx context.Context, record *entity.RebaseRecord) error {
	if record == nil {
		return fmt.Errorf("rebase record cannot be nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *record
	r.rebases[record.Config] = append(r.rebases[record.Config], &cp)
	return nil
}

func (r *Repository) LatestRebase(ctx context.Context, config solana.PublicKey) (*entity.RebaseRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	stored := r.rebases[config]
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: no rebase recorded for %s", outbound.ErrAccountNotFound, config)
	}
	cp := *stored[len(stored)-1]
	return &cp, nil
}
