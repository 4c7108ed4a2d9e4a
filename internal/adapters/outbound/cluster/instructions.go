package cluster

import (
	"bytes"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
)

// Instruction discriminators.
var (
	initializeDiscriminator     = anchor.InstructionDiscriminator("initialize")
	submitOrderDiscriminator    = anchor.InstructionDiscriminator("submit_order")
	executeTrancheDiscriminator = anchor.InstructionDiscriminator("execute_tranche")
	triggerRebaseDiscriminator  = anchor.InstructionDiscriminator("trigger_rebase")
)

func instructionData(d anchor.Discriminator, write func(enc *bin.Encoder) error) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(d[:])
	if write != nil {
		if err := write(bin.NewBorshEncoder(&buf)); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// NewInitializeInstruction builds initialize(bump). Config and authority sign.
func NewInitializeInstruction(programID solana.PublicKey, req inbound.InitializeRequest) (solana.Instruction, error) {
	data, err := instructionData(initializeDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint8(req.Bump)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(req.Config).WRITE().SIGNER(),
		solana.Meta(req.Authority).WRITE().SIGNER(),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// NewSubmitOrderInstruction builds submit_order(total, tranche). Seller and the
// new order account sign.
func NewSubmitOrderInstruction(programID solana.PublicKey, req inbound.SubmitOrderRequest) (solana.Instruction, error) {
	data, err := instructionData(submitOrderDiscriminator, func(enc *bin.Encoder) error {
		if err := enc.WriteUint64(req.TotalAmount, bin.LE); err != nil {
			return err
		}
		return enc.WriteUint64(req.TrancheAmount, bin.LE)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(req.Seller).WRITE().SIGNER(),
		solana.Meta(req.Order).WRITE().SIGNER(),
		solana.Meta(req.SellerTokenAccount).WRITE(),
		solana.Meta(req.VaultShift).WRITE(),
		solana.Meta(solana.TokenProgramID),
		solana.Meta(solana.SystemProgramID),
	}, data), nil
}

// NewExecuteTrancheInstruction builds execute_tranche(expected_anchor_out).
// Only the keeper signs.
func NewExecuteTrancheInstruction(programID solana.PublicKey, req inbound.ExecuteTrancheRequest) (solana.Instruction, error) {
	data, err := instructionData(executeTrancheDiscriminator, func(enc *bin.Encoder) error {
		return enc.WriteUint64(req.ExpectedAnchorOut, bin.LE)
	})
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(req.Keeper).WRITE().SIGNER(),
		solana.Meta(req.Order).WRITE(),
		solana.Meta(req.VaultShift).WRITE(),
		solana.Meta(req.VaultAnchor).WRITE(),
		solana.Meta(req.KeeperToken).WRITE(),
		solana.Meta(req.SellerAnchor).WRITE(),
		solana.Meta(req.Config).WRITE(),
		solana.Meta(req.ProgramAuthority),
		solana.Meta(solana.TokenProgramID),
	}, data), nil
}

// NewTriggerRebaseInstruction builds trigger_rebase(). Permissionless.
func NewTriggerRebaseInstruction(programID solana.PublicKey, req inbound.TriggerRebaseRequest) (solana.Instruction, error) {
	data, err := instructionData(triggerRebaseDiscriminator, nil)
	if err != nil {
		return nil, err
	}
	return solana.NewInstruction(programID, solana.AccountMetaSlice{
		solana.Meta(req.Config).WRITE(),
		solana.Meta(req.PythPrice),
		solana.Meta(req.HolderCount),
	}, data), nil
}
