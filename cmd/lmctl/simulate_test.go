package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
)

// simRun invokes lmctl in simulate mode against state and decodes the output into v.
func simRun(t *testing.T, state string, v any, args ...string) error {
	t.Helper()
	t.Setenv("ANCHOR_WALLET", "")
	var out bytes.Buffer
	err := run(context.Background(), append([]string{"-simulate", "-state", state}, args...), &out)
	if err != nil || v == nil {
		return err
	}
	if err := json.Unmarshal(out.Bytes(), v); err != nil {
		t.Fatalf("%s: decoding output %q: %v", args[0], out.String(), err)
	}
	return nil
}

type simAccounts struct {
	wallet, authority                        solana.PublicKey
	sellerShift, vaultShift, vaultAnchor     solana.PublicKey
	keeperToken, sellerAnchor, price, holder solana.PublicKey
}

func writeFixture(t *testing.T, acc simAccounts, priceJSON string) string {
	t.Helper()
	shiftMint, anchorMint := key(), key()
	fixture := fmt.Sprintf(`{
  "wallet": %q,
  "now": 1700000000,
  "tokenAccounts": [
    {"address": %q, "mint": %q, "owner": %q, "amount": 1000},
    {"address": %q, "mint": %q, "owner": %q, "amount": 0},
    {"address": %q, "mint": %q, "owner": %q, "amount": 500},
    {"address": %q, "mint": %q, "owner": %q, "amount": 0},
    {"address": %q, "mint": %q, "owner": %q, "amount": 0}
  ],
  "prices": [%s],
  "holderCounts": [{"address": %q, "count": 1500}]
}`,
		acc.wallet,
		acc.sellerShift, shiftMint, acc.wallet,
		acc.vaultShift, shiftMint, acc.authority,
		acc.vaultAnchor, anchorMint, acc.authority,
		acc.keeperToken, shiftMint, acc.wallet,
		acc.sellerAnchor, anchorMint, acc.wallet,
		priceJSON,
		acc.holder,
	)
	path := filepath.Join(t.TempDir(), "sim.json")
	if err := os.WriteFile(path, []byte(fixture), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func newSimAccounts() simAccounts {
	return simAccounts{
		wallet: key(), authority: key(),
		sellerShift: key(), vaultShift: key(), vaultAnchor: key(),
		keeperToken: key(), sellerAnchor: key(), price: key(), holder: key(),
	}
}

func TestSimulate_OrderLifecycleAcrossInvocations(t *testing.T) {
	acc := newSimAccounts()
	state := writeFixture(t, acc, fmt.Sprintf(`{"address": %q, "expo": -8, "price": 123450000, "conf": 10000}`, acc.price))

	var config, order txOutput
	if err := simRun(t, state, &config, "init"); err != nil {
		t.Fatalf("init: %v", err)
	}
	if err := simRun(t, state, &order, "submit",
		"-seller-token", acc.sellerShift.String(),
		"-vault-shift", acc.vaultShift.String(),
		"-total", "250",
		"-tranche", "100",
	); err != nil {
		t.Fatalf("submit: %v", err)
	}

	execute := []string{"execute",
		"-order", order.Account.String(),
		"-vault-shift", acc.vaultShift.String(),
		"-vault-anchor", acc.vaultAnchor.String(),
		"-keeper-token", acc.keeperToken.String(),
		"-seller-anchor", acc.sellerAnchor.String(),
		"-config", config.Account.String(),
		"-authority", acc.authority.String(),
		"-expected", "20",
	}
	var tranche trancheOutput
	if err := simRun(t, state, &tranche, execute...); err != nil {
		t.Fatalf("first execute: %v", err)
	}
	if tranche.Tranche != 100 || tranche.KeeperReward != 10 || tranche.Remaining != 150 {
		t.Errorf("first tranche = %+v", tranche)
	}

	if err := simRun(t, state, nil, execute...); !errors.Is(err, entity.ErrTrancheNotReady) {
		t.Fatalf("expected ErrTrancheNotReady before the interval, got %v", err)
	}

	if err := simRun(t, state, nil, "warp", "-by", fmt.Sprintf("%ds", entity.DefaultTrancheInterval)); err != nil {
		t.Fatalf("warp: %v", err)
	}
	if err := simRun(t, state, &tranche, execute...); err != nil {
		t.Fatalf("second execute: %v", err)
	}
	if tranche.Remaining != 50 || !tranche.Active {
		t.Errorf("second tranche = %+v", tranche)
	}

	var rebase rebaseOutput
	if err := simRun(t, state, &rebase, "rebase",
		"-config", config.Account.String(),
		"-price", acc.price.String(),
		"-holders", acc.holder.String(),
	); err != nil {
		t.Fatalf("rebase: %v", err)
	}
	if rebase.ShrinkBP != entity.ShrinkBPManyHolders || rebase.Price != "123450000" {
		t.Errorf("rebase = %+v", rebase)
	}

	data, err := os.ReadFile(state)
	if err != nil {
		t.Fatal(err)
	}
	var saved simState
	if err := json.Unmarshal(data, &saved); err != nil {
		t.Fatal(err)
	}
	if saved.Wallet != acc.wallet {
		t.Errorf("wallet = %s, want %s", saved.Wallet, acc.wallet)
	}
	// init, submit, two executions and the rebase
	if saved.Sequence != 5 {
		t.Errorf("sequence = %d, want 5", saved.Sequence)
	}
	if saved.Now != 1_700_000_000+int64(entity.DefaultTrancheInterval) {
		t.Errorf("clock = %d", saved.Now)
	}
	if len(saved.Orders) != 1 || saved.Orders[0].Remaining != 50 || saved.Orders[0].Seller != acc.wallet {
		t.Errorf("orders = %+v", saved.Orders)
	}
	if len(saved.Prices) != 1 || saved.Prices[0].Status != "trading" || len(saved.Accounts) != 0 {
		t.Errorf("price account not kept as a price entry: prices %+v, accounts %d", saved.Prices, len(saved.Accounts))
	}
	for _, tok := range saved.TokenAccounts {
		if tok.Address == acc.keeperToken && tok.Amount != 20 {
			t.Errorf("keeper balance = %d, want 20", tok.Amount)
		}
	}
}

func TestSimulate_HaltedPriceFallsBack(t *testing.T) {
	acc := newSimAccounts()
	state := writeFixture(t, acc, fmt.Sprintf(
		`{"address": %q, "expo": -8, "price": 123450000, "status": "halted", "prevPrice": 120000000, "prevTimestamp": 1699999000}`,
		acc.price))

	var shown priceOutput
	if err := simRun(t, state, &shown, "show-price", "-price", acc.price.String()); err != nil {
		t.Fatalf("show-price: %v", err)
	}
	if shown.Price != 120_000_000 || shown.PublishTime.Unix() != 1_699_999_000 {
		t.Errorf("expected the previous price while halted, got %+v", shown)
	}
}

func TestSimulate_Errors(t *testing.T) {
	acc := newSimAccounts()

	bad := writeFixture(t, acc, fmt.Sprintf(`{"address": %q, "expo": -8, "price": 1, "status": "paused"}`, acc.price))
	if err := simRun(t, bad, nil, "list-orders"); err == nil || !strings.Contains(err.Error(), `unknown status "paused"`) {
		t.Errorf("expected unknown status error, got %v", err)
	}

	garbled := filepath.Join(t.TempDir(), "sim.json")
	if err := os.WriteFile(garbled, []byte("{"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := simRun(t, garbled, nil, "list-orders"); err == nil || !strings.Contains(err.Error(), "parsing simulation state") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestSimulate_WithoutStateFile(t *testing.T) {
	t.Setenv("ANCHOR_WALLET", "")
	var out bytes.Buffer
	if err := run(context.Background(), []string{"-simulate", "init"}, &out); err != nil {
		t.Fatalf("init: %v", err)
	}
	var created txOutput
	if err := json.Unmarshal(out.Bytes(), &created); err != nil || created.Account.IsZero() {
		t.Fatalf("unexpected output %q: %v", out.String(), err)
	}
}

func TestWarp_RequiresSimulation(t *testing.T) {
	ta := newTestApp(t)
	err := commands["warp"].run(context.Background(), ta.app, []string{"-by", "1m"})
	if err == nil || !strings.Contains(err.Error(), "-simulate") {
		t.Fatalf("expected simulate error, got %v", err)
	}
}
