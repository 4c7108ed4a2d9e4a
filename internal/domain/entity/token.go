package entity

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// TokenAccount is the part of an SPL token account the program relies on.
type TokenAccount struct {
	Address solana.PublicKey
	Mint    solana.PublicKey
	Owner   solana.PublicKey
	Amount  uint64
}

// Debit removes amount from the account.
func (a *TokenAccount) Debit(amount uint64) error {
	if a.Amount < amount {
		return fmt.Errorf("insufficient funds in %s: have %d, need %d", a.Address, a.Amount, amount)
	}
	a.Amount -= amount
	return nil
}

// Credit adds amount to the account.
func (a *TokenAccount) Credit(amount uint64) error {
	if a.Amount+amount < a.Amount {
		return fmt.Errorf("token amount overflow in %s", a.Address)
	}
	a.Amount += amount
	return nil
}

// PriceFeed is a decoded oracle price account.
type PriceFeed struct {
	Price       int64
	Conf        uint64
	Expo        int32
	PublishTime int64
}
