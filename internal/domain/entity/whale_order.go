package entity

import (
	"bytes"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
)

// WhaleOrderDiscriminator tags WhaleOrder accounts.
var WhaleOrderDiscriminator = anchor.AccountDiscriminator("WhaleOrder")

// WhaleOrder is a large sell order released to the market in fixed tranches.
// The full amount is escrowed in the shift vault on submission.
type WhaleOrder struct {
	Seller       solana.PublicKey
	Total        uint64
	Remaining    uint64
	Tranche      uint64
	StartTime    int64 // unix seconds
	LastExecuted int64 // unix seconds, 0 until the first tranche
	Active       bool
}

// NewWhaleOrder returns the order SubmitOrder writes.
func NewWhaleOrder(seller solana.PublicKey, total, tranche uint64, now int64) *WhaleOrder {
	return &WhaleOrder{
		Seller:    seller,
		Total:     total,
		Remaining: total,
		Tranche:   tranche,
		StartTime: now,
		Active:    true,
	}
}

// TranchePlan is the outcome of validating an ExecuteTranche call.
type TranchePlan struct {
	// Tranche is the amount the order's remaining balance drops by.
	Tranche uint64
	// KeeperReward is moved from the shift vault to the keeper.
	KeeperReward uint64
	// AnchorOut is moved from the anchor vault to the seller.
	AnchorOut uint64
}

// PlanTranche validates an execution at now without mutating the order.
// vaultAnchor is the anchor vault balance, interval the config's tranche interval.
func (o *WhaleOrder) PlanTranche(now int64, interval uint64, vaultAnchor, expectedAnchorOut uint64) (TranchePlan, error) {
	if !o.Active || o.Remaining == 0 {
		return TranchePlan{}, ErrOrderInactive
	}
	if o.LastExecuted != 0 && now < o.LastExecuted+int64(interval) {
		return TranchePlan{}, ErrTrancheNotReady
	}

	tranche := min(o.Tranche, o.Remaining)

	if vaultAnchor < expectedAnchorOut {
		return TranchePlan{}, ErrInsufficientAnchor
	}

	return TranchePlan{
		Tranche:      tranche,
		KeeperReward: tranche / KeeperRewardDivisor,
		AnchorOut:    expectedAnchorOut,
	}, nil
}

// ApplyTranche records a validated execution.
func (o *WhaleOrder) ApplyTranche(plan TranchePlan, now int64) {
	o.Remaining -= plan.Tranche
	o.LastExecuted = now
	if o.Remaining == 0 {
		o.Active = false
	}
}

// NextEligible returns when the next tranche may run. The zero time means
// immediately (no tranche has run yet).
func (o *WhaleOrder) NextEligible(interval uint64) time.Time {
	if o.LastExecuted == 0 {
		return time.Time{}
	}
	return time.Unix(o.LastExecuted+int64(interval), 0).UTC()
}

// IsDue reports whether an active order may execute a tranche at now.
func (o *WhaleOrder) IsDue(now int64, interval uint64) bool {
	if !o.Active || o.Remaining == 0 {
		return false
	}
	return o.LastExecuted == 0 || now >= o.LastExecuted+int64(interval)
}

// MarshalBorsh encodes the account with its discriminator.
func (o *WhaleOrder) MarshalBorsh() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(WhaleOrderDiscriminator[:])
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteBytes(o.Seller[:], false); err != nil {
		return nil, err
	}
	for _, v := range []uint64{o.Total, o.Remaining, o.Tranche} {
		if err := enc.WriteUint64(v, bin.LE); err != nil {
			return nil, err
		}
	}
	if err := enc.WriteInt64(o.StartTime, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteInt64(o.LastExecuted, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteBool(o.Active); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBorsh decodes account data. Trailing padding is ignored.
func (o *WhaleOrder) UnmarshalBorsh(data []byte) error {
	body, err := anchor.StripDiscriminator(data, WhaleOrderDiscriminator)
	if err != nil {
		return fmt.Errorf("decoding whale order: %w", err)
	}
	dec := bin.NewBorshDecoder(body)

	seller, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("decoding whale order seller: %w", err)
	}
	o.Seller = solana.PublicKeyFromBytes(seller)

	for _, field := range []*uint64{&o.Total, &o.Remaining, &o.Tranche} {
		if *field, err = dec.ReadUint64(bin.LE); err != nil {
			return fmt.Errorf("decoding whale order amounts: %w", err)
		}
	}
	if o.StartTime, err = dec.ReadInt64(bin.LE); err != nil {
		return fmt.Errorf("decoding whale order start time: %w", err)
	}
	if o.LastExecuted, err = dec.ReadInt64(bin.LE); err != nil {
		return fmt.Errorf("decoding whale order last executed: %w", err)
	}
	if o.Active, err = dec.ReadBool(); err != nil {
		return fmt.Errorf("decoding whale order active flag: %w", err)
	}
	return nil
}

// OrderSnapshot is a WhaleOrder together with its account address, as read
// from the cluster at a point in time.
type OrderSnapshot struct {
	Address    solana.PublicKey
	Order      WhaleOrder
	ObservedAt time.Time
}
