// Package pyth decodes Pyth v2 price accounts.
//
// Only the header, the previous price and the aggregate are read. The
// publisher components after the aggregate are skipped, but the account must
// still be full size.
package pyth

import (
	"context"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time check that Reader implements outbound.PriceOracle
var _ outbound.PriceOracle = (*Reader)(nil)

const (
	Magic            uint32 = 0xa1b2c3d4
	Version2         uint32 = 2
	AccountTypePrice uint32 = 3

	// prevPriceOffset is where prev_price, prev_conf and prev_timestamp start.
	prevPriceOffset = 184
	// aggregateOffset is where the aggregate PriceInfo starts.
	aggregateOffset = 208

	// PriceAccountSize is a v2 price account with its 32 publisher
	// components of 96 bytes each.
	PriceAccountSize = aggregateOffset + 32 + 32*96
)

// Aggregate price status values.
const (
	StatusUnknown uint32 = iota
	StatusTrading
	StatusHalted
	StatusAuction
	StatusIgnored
)

var (
	ErrInvalidMagic       = errors.New("invalid pyth magic number")
	ErrInvalidVersion     = errors.New("unsupported pyth account version")
	ErrInvalidAccountType = errors.New("not a pyth price account")
	ErrAccountTooShort    = errors.New("pyth price account too short")
)

// PriceAccount is the decoded part of a price account.
type PriceAccount struct {
	Expo      int32
	Timestamp int64

	PrevPrice     int64
	PrevConf      uint64
	PrevTimestamp int64

	AggPrice       int64
	AggConf        uint64
	AggStatus      uint32
	AggPublishSlot uint64
}

// Decode parses raw price account data.
func Decode(data []byte) (*PriceAccount, error) {
	if len(data) < PriceAccountSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrAccountTooShort, len(data))
	}

	dec := bin.NewBinDecoder(data)
	magic, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	if magic != Magic {
		return nil, fmt.Errorf("%w: %#x", ErrInvalidMagic, magic)
	}
	version, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	if version != Version2 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidVersion, version)
	}
	atype, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, err
	}
	if atype != AccountTypePrice {
		return nil, fmt.Errorf("%w: type %d", ErrInvalidAccountType, atype)
	}

	// size u32, price type u32
	if err := dec.SkipBytes(8); err != nil {
		return nil, err
	}

	var acct PriceAccount
	if acct.Expo, err = dec.ReadInt32(bin.LE); err != nil {
		return nil, err
	}

	// num, num_qt, last_slot, valid_slot, ema_price, ema_conf
	if err := dec.SkipBytes(4 + 4 + 8 + 8 + 24 + 24); err != nil {
		return nil, err
	}
	if acct.Timestamp, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, err
	}

	// min_pub, drv2, drv3, drv4, product, next, prev_slot
	if err := dec.SkipBytes(prevPriceOffset - 104); err != nil {
		return nil, err
	}
	if acct.PrevPrice, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, err
	}
	if acct.PrevConf, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	if acct.PrevTimestamp, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, err
	}

	if acct.AggPrice, err = dec.ReadInt64(bin.LE); err != nil {
		return nil, err
	}
	if acct.AggConf, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	if acct.AggStatus, err = dec.ReadUint32(bin.LE); err != nil {
		return nil, err
	}
	// corp_act
	if err := dec.SkipBytes(4); err != nil {
		return nil, err
	}
	if acct.AggPublishSlot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, err
	}
	return &acct, nil
}

// PriceUnchecked returns the current price without staleness checks. While
// the aggregate is not trading, the last trading price (prev_*) stands in.
func (a *PriceAccount) PriceUnchecked() entity.PriceFeed {
	if a.AggStatus != StatusTrading {
		return entity.PriceFeed{
			Price:       a.PrevPrice,
			Conf:        a.PrevConf,
			Expo:        a.Expo,
			PublishTime: a.PrevTimestamp,
		}
	}
	return entity.PriceFeed{
		Price:       a.AggPrice,
		Conf:        a.AggConf,
		Expo:        a.Expo,
		PublishTime: a.Timestamp,
	}
}

// Reader loads price accounts through an AccountDataReader.
type Reader struct {
	accounts outbound.AccountDataReader
}

// NewReader creates a price reader.
func NewReader(accounts outbound.AccountDataReader) (*Reader, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account reader cannot be nil")
	}
	return &Reader{accounts: accounts}, nil
}

// GetPriceUnchecked fetches and decodes the account.
func (r *Reader) GetPriceUnchecked(ctx context.Context, priceAccount solana.PublicKey) (*entity.PriceFeed, error) {
	data, err := r.accounts.GetAccountData(ctx, priceAccount)
	if err != nil {
		return nil, fmt.Errorf("loading price account %s: %w", priceAccount, err)
	}
	acct, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("decoding price account %s: %w", priceAccount, err)
	}
	feed := acct.PriceUnchecked()
	return &feed, nil
}

// Encode renders a full-size price account with no publisher components.
// Local validators, simulations and tests use it to seed oracle accounts.
func Encode(acct PriceAccount) []byte {
	data := make([]byte, PriceAccountSize)
	le := bin.LE
	le.PutUint32(data[0:], Magic)
	le.PutUint32(data[4:], Version2)
	le.PutUint32(data[8:], AccountTypePrice)
	le.PutUint32(data[12:], uint32(PriceAccountSize))
	le.PutUint32(data[20:], uint32(acct.Expo))
	le.PutUint64(data[96:], uint64(acct.Timestamp))
	le.PutUint64(data[prevPriceOffset:], uint64(acct.PrevPrice))
	le.PutUint64(data[prevPriceOffset+8:], acct.PrevConf)
	le.PutUint64(data[prevPriceOffset+16:], uint64(acct.PrevTimestamp))
	le.PutUint64(data[aggregateOffset:], uint64(acct.AggPrice))
	le.PutUint64(data[aggregateOffset+8:], acct.AggConf)
	le.PutUint32(data[aggregateOffset+16:], acct.AggStatus)
	le.PutUint64(data[aggregateOffset+24:], acct.AggPublishSlot)
	return data
}
