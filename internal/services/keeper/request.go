package keeper

import (
	"encoding/json"
	"fmt"
	"slices"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
)

// Accounts are the token and program accounts an ExecuteTranche needs besides
// the order. Zero fields fall back to the keeper's configured defaults.
type Accounts struct {
	VaultShift       solana.PublicKey `json:"vaultShift"`
	VaultAnchor      solana.PublicKey `json:"vaultAnchor"`
	KeeperToken      solana.PublicKey `json:"keeperToken"`
	SellerAnchor     solana.PublicKey `json:"sellerAnchor"`
	Config           solana.PublicKey `json:"config"`
	ProgramAuthority solana.PublicKey `json:"programAuthority"`
}

func (a Accounts) withDefaults(d Accounts) Accounts {
	pick := func(v, def solana.PublicKey) solana.PublicKey {
		if v.IsZero() {
			return def
		}
		return v
	}
	return Accounts{
		VaultShift:       pick(a.VaultShift, d.VaultShift),
		VaultAnchor:      pick(a.VaultAnchor, d.VaultAnchor),
		KeeperToken:      pick(a.KeeperToken, d.KeeperToken),
		SellerAnchor:     pick(a.SellerAnchor, d.SellerAnchor),
		Config:           pick(a.Config, d.Config),
		ProgramAuthority: pick(a.ProgramAuthority, d.ProgramAuthority),
	}
}

// Request is an execution request read from the queue. tranche_due events
// published by the order tracker decode into it as well; they carry the
// seller but no accounts or expected output.
type Request struct {
	Order             solana.PublicKey `json:"order"`
	Seller            solana.PublicKey `json:"seller"`
	ExpectedAnchorOut uint64           `json:"expectedAnchorOut"`
	Accounts          Accounts         `json:"accounts"`
}

// parseRequest decodes a message body, unwrapping an SNS envelope first when
// the queue subscription does not use raw delivery.
func parseRequest(body string) (*Request, error) {
	var envelope struct {
		Type    string `json:"Type"`
		Message string `json:"Message"`
	}
	if err := json.Unmarshal([]byte(body), &envelope); err == nil && envelope.Message != "" {
		body = envelope.Message
	}

	var req Request
	if err := json.Unmarshal([]byte(body), &req); err != nil {
		return nil, fmt.Errorf("parsing execution request: %w", err)
	}
	if req.Order.IsZero() {
		return nil, fmt.Errorf("execution request has no order")
	}
	return &req, nil
}

// missing names the required accounts that are still unset.
func (a Accounts) missing() []string {
	var out []string
	for name, key := range map[string]solana.PublicKey{
		"vaultShift":       a.VaultShift,
		"vaultAnchor":      a.VaultAnchor,
		"keeperToken":      a.KeeperToken,
		"sellerAnchor":     a.SellerAnchor,
		"config":           a.Config,
		"programAuthority": a.ProgramAuthority,
	} {
		if key.IsZero() {
			out = append(out, name)
		}
	}
	slices.Sort(out)
	return out
}

func (r *Request) toExecuteTranche(keeper solana.PublicKey, accounts Accounts) inbound.ExecuteTrancheRequest {
	return inbound.ExecuteTrancheRequest{
		Keeper:            keeper,
		Order:             r.Order,
		VaultShift:        accounts.VaultShift,
		VaultAnchor:       accounts.VaultAnchor,
		KeeperToken:       accounts.KeeperToken,
		SellerAnchor:      accounts.SellerAnchor,
		Config:            accounts.Config,
		ProgramAuthority:  accounts.ProgramAuthority,
		ExpectedAnchorOut: r.ExpectedAnchorOut,
	}
}
