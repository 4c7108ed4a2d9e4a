// Package entity contains the domain types of the liquidity manager program:
// its accounts, its event, its error codes and the state transitions its
// instructions perform.
package entity

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
)

// ProgramIDBase58 is the address the program is deployed at.
const ProgramIDBase58 = "Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkgc2s7Aq5MEo"

// ProgramID is the parsed program address.
var ProgramID = solana.MustPublicKeyFromBase58(ProgramIDBase58)

// Account space allocated by the program, discriminator included.
const (
	ConfigSpace      = 8 + 64
	WhaleOrderSpace  = 8 + 128
	HolderCountSpace = 8 + 8
)

// Defaults written by Initialize.
const (
	DefaultTrancheInterval uint64 = 86_400
	DefaultMaxTxPercentBP  uint64 = 100
)

// KeeperRewardDivisor sets the keeper reward to tranche/10.
const KeeperRewardDivisor = 10

// Shrink basis points emitted by TriggerRebase.
const (
	HolderThreshold     uint64 = 1_000
	ShrinkBPManyHolders uint64 = 50
	ShrinkBPFewHolders  uint64 = 500
)

// Program error sentinels. Use errors.Is against these.
var (
	ErrOrderInactive      = errors.New("order inactive or finished")
	ErrTrancheNotReady    = errors.New("tranche not ready")
	ErrInsufficientAnchor = errors.New("insufficient anchor")
	ErrBadOracle          = errors.New("bad oracle")
)

// ProgramError is a custom error returned by the program, identified by its code.
type ProgramError struct {
	Code uint32
	Name string
	Msg  string
	err  error
}

func (e *ProgramError) Error() string {
	return fmt.Sprintf("program error %d (%s): %s", e.Code, e.Name, e.Msg)
}

func (e *ProgramError) Unwrap() error { return e.err }

var programErrors = []*ProgramError{
	{Code: anchor.ErrorCodeOffset + 0, Name: "OrderInactive", Msg: "Order inactive or finished", err: ErrOrderInactive},
	{Code: anchor.ErrorCodeOffset + 1, Name: "TrancheNotReady", Msg: "Tranche not ready", err: ErrTrancheNotReady},
	{Code: anchor.ErrorCodeOffset + 2, Name: "InsufficientAnchor", Msg: "Insufficient anchor", err: ErrInsufficientAnchor},
	{Code: anchor.ErrorCodeOffset + 3, Name: "BadOracle", Msg: "Bad oracle", err: ErrBadOracle},
}

// ProgramErrorFromCode returns the program error with the given code, or false
// when the code does not belong to this program.
func ProgramErrorFromCode(code uint32) (*ProgramError, bool) {
	for _, pe := range programErrors {
		if pe.Code == code {
			return pe, true
		}
	}
	return nil, false
}

// ProgramErrorOf returns the program error wrapping sentinel, if any.
func ProgramErrorOf(sentinel error) (*ProgramError, bool) {
	for _, pe := range programErrors {
		if errors.Is(sentinel, pe.err) {
			return pe, true
		}
	}
	return nil, false
}
