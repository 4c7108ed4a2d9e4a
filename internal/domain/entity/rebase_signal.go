package entity

import (
	"bytes"
	"fmt"
	"math/big"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

// RebaseSignalEventName is the Anchor event name.
const RebaseSignalEventName = "RebaseSignal"

// RebaseSignal is emitted by TriggerRebase. Price is the raw unchecked oracle
// price (an i128 on-chain; Pyth prices fit in int64).
type RebaseSignal struct {
	ShrinkBP uint64
	Price    *big.Int
}

// NewRebaseSignal builds the signal for a holder count and an oracle price.
func NewRebaseSignal(holders uint64, price int64) RebaseSignal {
	return RebaseSignal{ShrinkBP: ShrinkBP(holders), Price: big.NewInt(price)}
}

// MarshalBorsh encodes the event payload without its discriminator.
func (r *RebaseSignal) MarshalBorsh() ([]byte, error) {
	var buf bytes.Buffer
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteUint64(r.ShrinkBP, bin.LE); err != nil {
		return nil, err
	}
	lo, hi, err := splitInt128(r.Price)
	if err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(lo, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(hi, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBorsh decodes an event payload (discriminator already stripped).
func (r *RebaseSignal) UnmarshalBorsh(data []byte) error {
	dec := bin.NewBorshDecoder(data)
	var err error
	if r.ShrinkBP, err = dec.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("decoding rebase signal shrink: %w", err)
	}
	lo, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("decoding rebase signal price: %w", err)
	}
	hi, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("decoding rebase signal price: %w", err)
	}
	r.Price = joinInt128(lo, hi)
	return nil
}

var (
	minInt128 = new(big.Int).Neg(new(big.Int).Lsh(big.NewInt(1), 127))
	maxInt128 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 127), big.NewInt(1))
	two128    = new(big.Int).Lsh(big.NewInt(1), 128)
	mask64    = new(big.Int).SetUint64(^uint64(0))
)

// splitInt128 returns the two's complement halves of v.
func splitInt128(v *big.Int) (lo, hi uint64, err error) {
	if v == nil {
		return 0, 0, nil
	}
	if v.Cmp(minInt128) < 0 || v.Cmp(maxInt128) > 0 {
		return 0, 0, fmt.Errorf("value %s overflows i128", v)
	}
	u := new(big.Int).Set(v)
	if u.Sign() < 0 {
		u.Add(u, two128)
	}
	lo = new(big.Int).And(u, mask64).Uint64()
	hi = new(big.Int).Rsh(u, 64).Uint64()
	return lo, hi, nil
}

func joinInt128(lo, hi uint64) *big.Int {
	v := new(big.Int).SetUint64(hi)
	v.Lsh(v, 64)
	v.Or(v, new(big.Int).SetUint64(lo))
	if hi>>63 == 1 {
		v.Sub(v, two128)
	}
	return v
}

// RebaseRecord is a persisted RebaseSignal with its provenance.
type RebaseRecord struct {
	Signature   solana.Signature
	Config      solana.PublicKey
	HolderCount uint64
	Signal      RebaseSignal
	RecordedAt  time.Time
}
