package entity

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
)

// ConfigDiscriminator tags Config accounts.
var ConfigDiscriminator = anchor.AccountDiscriminator("Config")

// Config is the program-wide settings account created by Initialize.
type Config struct {
	Owner           solana.PublicKey
	Bump            uint8
	TrancheInterval uint64 // seconds between two tranches of the same order
	MaxTxPercentBP  uint64
}

// NewConfig returns the config Initialize writes for owner.
func NewConfig(owner solana.PublicKey, bump uint8) *Config {
	return &Config{
		Owner:           owner,
		Bump:            bump,
		TrancheInterval: DefaultTrancheInterval,
		MaxTxPercentBP:  DefaultMaxTxPercentBP,
	}
}

// MarshalBorsh encodes the account with its discriminator.
func (c *Config) MarshalBorsh() ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(ConfigDiscriminator[:])
	enc := bin.NewBorshEncoder(&buf)
	if err := enc.WriteBytes(c.Owner[:], false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint8(c.Bump); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(c.TrancheInterval, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(c.MaxTxPercentBP, bin.LE); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBorsh decodes account data. Trailing padding is ignored.
func (c *Config) UnmarshalBorsh(data []byte) error {
	body, err := anchor.StripDiscriminator(data, ConfigDiscriminator)
	if err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	dec := bin.NewBorshDecoder(body)
	owner, err := dec.ReadNBytes(solana.PublicKeyLength)
	if err != nil {
		return fmt.Errorf("decoding config owner: %w", err)
	}
	c.Owner = solana.PublicKeyFromBytes(owner)
	if c.Bump, err = dec.ReadUint8(); err != nil {
		return fmt.Errorf("decoding config bump: %w", err)
	}
	if c.TrancheInterval, err = dec.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("decoding config tranche interval: %w", err)
	}
	if c.MaxTxPercentBP, err = dec.ReadUint64(bin.LE); err != nil {
		return fmt.Errorf("decoding config max tx percent: %w", err)
	}
	return nil
}
