package memory

import (
	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
)

// Snapshot is a point-in-time copy of every account in a Ledger.
type Snapshot struct {
	Configs  map[solana.PublicKey]entity.Config
	Orders   map[solana.PublicKey]entity.WhaleOrder
	Holders  map[solana.PublicKey]entity.HolderCount
	Tokens   map[solana.PublicKey]entity.TokenAccount
	Accounts map[solana.PublicKey][]byte
}

// Snapshot copies the ledger contents.
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	s := Snapshot{
		Configs:  make(map[solana.PublicKey]entity.Config, len(l.configs)),
		Orders:   make(map[solana.PublicKey]entity.WhaleOrder, len(l.orders)),
		Holders:  make(map[solana.PublicKey]entity.HolderCount, len(l.holders)),
		Tokens:   make(map[solana.PublicKey]entity.TokenAccount, len(l.tokens)),
		Accounts: make(map[solana.PublicKey][]byte, len(l.raw)),
	}
	for k, v := range l.configs {
		s.Configs[k] = v
	}
	for k, v := range l.orders {
		s.Orders[k] = v
	}
	for k, v := range l.holders {
		s.Holders[k] = v
	}
	for k, v := range l.tokens {
		s.Tokens[k] = v
	}
	for k, v := range l.raw {
		s.Accounts[k] = append([]byte(nil), v...)
	}
	return s
}

// Restore replaces the ledger contents with s. Nil maps restore as empty.
func (l *Ledger) Restore(s Snapshot) {
	fresh := NewLedger()
	for k, v := range s.Configs {
		fresh.configs[k] = v
	}
	for k, v := range s.Orders {
		fresh.orders[k] = v
	}
	for k, v := range s.Holders {
		fresh.holders[k] = v
	}
	for k, v := range s.Tokens {
		v.Address = k
		fresh.tokens[k] = v
	}
	for k, v := range s.Accounts {
		fresh.raw[k] = append([]byte(nil), v...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.configs = fresh.configs
	l.orders = fresh.orders
	l.holders = fresh.holders
	l.tokens = fresh.tokens
	l.raw = fresh.raw
}
