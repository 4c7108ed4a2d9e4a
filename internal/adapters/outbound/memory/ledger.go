// Package memory provides in-memory implementations of the outbound ports.
// Useful for testing, development and local simulation of the program.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time checks that Ledger implements the account ports.
var (
	_ outbound.AccountStore      = (*Ledger)(nil)
	_ outbound.TokenLedger       = (*Ledger)(nil)
	_ outbound.AccountDataReader = (*Ledger)(nil)
)

// Ledger holds program accounts, token accounts and raw accounts in memory.
// Stored values are copied on the way in and out.
type Ledger struct {
	mu      sync.RWMutex
	configs map[solana.PublicKey]entity.Config
	orders  map[solana.PublicKey]entity.WhaleOrder
	holders map[solana.PublicKey]entity.HolderCount
	tokens  map[solana.PublicKey]entity.TokenAccount
	raw     map[solana.PublicKey][]byte
	clock   func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		configs: make(map[solana.PublicKey]entity.Config),
		orders:  make(map[solana.PublicKey]entity.WhaleOrder),
		holders: make(map[solana.PublicKey]entity.HolderCount),
		tokens:  make(map[solana.PublicKey]entity.TokenAccount),
		raw:     make(map[solana.PublicKey][]byte),
		clock:   time.Now,
	}
}

// SetClock overrides the time stamped on listed snapshots.
func (l *Ledger) SetClock(now func() time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.clock = now
}

func (l *Ledger) inUse(address solana.PublicKey) bool {
	_, c := l.configs[address]
	_, o := l.orders[address]
	_, h := l.holders[address]
	_, t := l.tokens[address]
	_, r := l.raw[address]
	return c || o || h || t || r
}

func (l *Ledger) AccountExists(ctx context.Context, address solana.PublicKey) (bool, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.inUse(address), nil
}

func (l *Ledger) CreateConfig(ctx context.Context, address solana.PublicKey, cfg *entity.Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inUse(address) {
		return fmt.Errorf("%w: %s", outbound.ErrAccountExists, address)
	}
	l.configs[address] = *cfg
	return nil
}

func (l *Ledger) GetConfig(ctx context.Context, address solana.PublicKey) (*entity.Config, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	cfg, ok := l.configs[address]
	if !ok {
		return nil, fmt.Errorf("%w: config %s", outbound.ErrAccountNotFound, address)
	}
	return &cfg, nil
}

func (l *Ledger) CreateOrder(ctx context.Context, address solana.PublicKey, order *entity.WhaleOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.inUse(address) {
		return fmt.Errorf("%w: %s", outbound.ErrAccountExists, address)
	}
	l.orders[address] = *order
	return nil
}

func (l *Ledger) GetOrder(ctx context.Context, address solana.PublicKey) (*entity.WhaleOrder, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	order, ok := l.orders[address]
	if !ok {
		return nil, fmt.Errorf("%w: order %s", outbound.ErrAccountNotFound, address)
	}
	return &order, nil
}

func (l *Ledger) PutOrder(ctx context.Context, address solana.PublicKey, order *entity.WhaleOrder) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.orders[address]; !ok {
		return fmt.Errorf("%w: order %s", outbound.ErrAccountNotFound, address)
	}
	l.orders[address] = *order
	return nil
}

// ListOrders returns every order sorted by address.
func (l *Ledger) ListOrders(ctx context.Context) ([]entity.OrderSnapshot, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	now := l.clock().UTC()
	out := make([]entity.OrderSnapshot, 0, len(l.orders))
	for addr, order := range l.orders {
		out = append(out, entity.OrderSnapshot{Address: addr, Order: order, ObservedAt: now})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return out, nil
}

func (l *Ledger) GetHolderCount(ctx context.Context, address solana.PublicKey) (*entity.HolderCount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	h, ok := l.holders[address]
	if !ok {
		return nil, fmt.Errorf("%w: holder count %s", outbound.ErrAccountNotFound, address)
	}
	return &h, nil
}

// SetHolderCount seeds a holder count account.
func (l *Ledger) SetHolderCount(address solana.PublicKey, count uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.holders[address] = entity.HolderCount{Count: count}
}

// SetTokenAccount seeds or replaces a token account.
func (l *Ledger) SetTokenAccount(acct entity.TokenAccount) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.tokens[acct.Address] = acct
}

// SetAccountData seeds a raw account, e.g. an oracle price account.
func (l *Ledger) SetAccountData(address solana.PublicKey, data []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.raw[address] = append([]byte(nil), data...)
}

func (l *Ledger) GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	data, ok := l.raw[address]
	if !ok {
		return nil, fmt.Errorf("%w: %s", outbound.ErrAccountNotFound, address)
	}
	return append([]byte(nil), data...), nil
}

func (l *Ledger) GetTokenAccount(ctx context.Context, address solana.PublicKey) (*entity.TokenAccount, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.tokens[address]
	if !ok {
		return nil, fmt.Errorf("%w: token account %s", outbound.ErrAccountNotFound, address)
	}
	return &acct, nil
}

// Transfer applies all transfers against a working copy and commits only if
// every one succeeds. Authority must own the source account.
func (l *Ledger) Transfer(ctx context.Context, transfers ...outbound.TokenTransfer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	working := make(map[solana.PublicKey]entity.TokenAccount)
	load := func(addr solana.PublicKey) (entity.TokenAccount, error) {
		if acct, ok := working[addr]; ok {
			return acct, nil
		}
		acct, ok := l.tokens[addr]
		if !ok {
			return entity.TokenAccount{}, fmt.Errorf("%w: token account %s", outbound.ErrAccountNotFound, addr)
		}
		return acct, nil
	}

	for i, tr := range transfers {
		from, err := load(tr.From)
		if err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
		if !from.Owner.Equals(tr.Authority) {
			return fmt.Errorf("transfer %d: %s is not the owner of %s", i, tr.Authority, tr.From)
		}
		to, err := load(tr.To)
		if err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
		if !from.Mint.Equals(to.Mint) {
			return fmt.Errorf("transfer %d: mint mismatch between %s and %s", i, tr.From, tr.To)
		}
		if err := from.Debit(tr.Amount); err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
		working[tr.From] = from
		// Self-transfers must see the debit.
		if tr.To.Equals(tr.From) {
			to = from
		}
		if err := to.Credit(tr.Amount); err != nil {
			return fmt.Errorf("transfer %d: %w", i, err)
		}
		working[tr.To] = to
	}

	for addr, acct := range working {
		l.tokens[addr] = acct
	}
	return nil
}
