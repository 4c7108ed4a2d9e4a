package entity

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
)

// HolderCountDiscriminator tags HolderCount accounts.
var HolderCountDiscriminator = anchor.AccountDiscriminator("HolderCount")

// HolderCount tracks the number of token holders; TriggerRebase reads it.
type HolderCount struct {
	Count uint64
}

// MarshalBorsh encodes the account with its discriminator.
func (h *HolderCount) MarshalBorsh() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(HolderCountDiscriminator[:])
	if err := bin.NewBorshEncoder(&buf).WriteUint64(h.Count, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBorsh decodes account data.
func (h *HolderCount) UnmarshalBorsh(data []byte) error {
	body, err := anchor.StripDiscriminator(data, HolderCountDiscriminator)
	if err != nil {
		return fmt.Errorf("decoding holder count: %w", err)
	}
	count, err := bin.NewBorshDecoder(body).ReadUint64(bin.LE)
	if err != nil {
		return fmt.Errorf("decoding holder count: %w", err)
	}
	h.Count = count
	return nil
}

// ShrinkBP returns the supply shrink, in basis points, for a holder count.
// Wide distribution shrinks less.
func ShrinkBP(holders uint64) uint64 {
	if holders > HolderThreshold {
		return ShrinkBPManyHolders
	}
	return ShrinkBPFewHolders
}
