package entity

import (
	"errors"
	"fmt"
	"math/big"
	"testing"
)

func TestProgramErrorFromCode(t *testing.T) {
	tests := []struct {
		code     uint32
		sentinel error
		name     string
	}{
		{6000, ErrOrderInactive, "OrderInactive"},
		{6001, ErrTrancheNotReady, "TrancheNotReady"},
		{6002, ErrInsufficientAnchor, "InsufficientAnchor"},
		{6003, ErrBadOracle, "BadOracle"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pe, ok := ProgramErrorFromCode(tt.code)
			if !ok {
				t.Fatalf("code %d not found", tt.code)
			}
			if pe.Name != tt.name {
				t.Errorf("expected name %s, got %s", tt.name, pe.Name)
			}
			wrapped := fmt.Errorf("sending tx: %w", pe)
			if !errors.Is(wrapped, tt.sentinel) {
				t.Errorf("expected wrapped error to match sentinel")
			}

			back, ok := ProgramErrorOf(tt.sentinel)
			if !ok || back.Code != tt.code {
				t.Errorf("ProgramErrorOf returned %v, %v", back, ok)
			}
		})
	}

	if _, ok := ProgramErrorFromCode(6004); ok {
		t.Error("unexpected program error for 6004")
	}
}

func TestRebaseSignal_Borsh(t *testing.T) {
	prices := []*big.Int{
		big.NewInt(0),
		big.NewInt(6_512_345_678),
		big.NewInt(-42),
		new(big.Int).Lsh(big.NewInt(1), 100),
	}
	for _, price := range prices {
		t.Run(price.String(), func(t *testing.T) {
			sig := &RebaseSignal{ShrinkBP: 50, Price: price}
			data, err := sig.MarshalBorsh()
			if err != nil {
				t.Fatalf("marshal: %v", err)
			}
			if len(data) != 24 {
				t.Errorf("expected 24 bytes, got %d", len(data))
			}
			var decoded RebaseSignal
			if err := decoded.UnmarshalBorsh(data); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			if decoded.ShrinkBP != 50 || decoded.Price.Cmp(price) != 0 {
				t.Errorf("expected %d/%s, got %d/%s", 50, price, decoded.ShrinkBP, decoded.Price)
			}
		})
	}

	tooBig := new(big.Int).Lsh(big.NewInt(1), 127)
	if _, err := (&RebaseSignal{Price: tooBig}).MarshalBorsh(); err == nil {
		t.Error("expected overflow error")
	}
}
