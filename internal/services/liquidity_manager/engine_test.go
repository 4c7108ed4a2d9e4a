package liquidity_manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/memory"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/pyth"
	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time { return c.now }

func key() solana.PublicKey { return solana.NewWallet().PublicKey() }

// fixture is a program deployment with one funded seller and one keeper.
type fixture struct {
	engine *Engine
	ledger *memory.Ledger
	events *memory.EventSink
	clock  *fakeClock

	config, authority       solana.PublicKey
	seller, sellerShift     solana.PublicKey
	sellerAnchor            solana.PublicKey
	vaultShift, vaultAnchor solana.PublicKey
	programAuthority        solana.PublicKey
	keeper, keeperToken     solana.PublicKey
	pythPrice, holderCount  solana.PublicKey
	shiftMint, anchorMint   solana.PublicKey
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		ledger:           memory.NewLedger(),
		events:           memory.NewEventSink(),
		clock:            &fakeClock{now: time.Unix(1_700_000_000, 0)},
		config:           key(),
		authority:        key(),
		seller:           key(),
		sellerShift:      key(),
		sellerAnchor:     key(),
		vaultShift:       key(),
		vaultAnchor:      key(),
		programAuthority: key(),
		keeper:           key(),
		keeperToken:      key(),
		pythPrice:        key(),
		holderCount:      key(),
		shiftMint:        key(),
		anchorMint:       key(),
	}

	f.ledger.SetTokenAccount(entity.TokenAccount{Address: f.sellerShift, Mint: f.shiftMint, Owner: f.seller, Amount: 1_000})
	f.ledger.SetTokenAccount(entity.TokenAccount{Address: f.sellerAnchor, Mint: f.anchorMint, Owner: f.seller})
	f.ledger.SetTokenAccount(entity.TokenAccount{Address: f.vaultShift, Mint: f.shiftMint, Owner: f.programAuthority})
	f.ledger.SetTokenAccount(entity.TokenAccount{Address: f.vaultAnchor, Mint: f.anchorMint, Owner: f.programAuthority, Amount: 500})
	f.ledger.SetTokenAccount(entity.TokenAccount{Address: f.keeperToken, Mint: f.shiftMint, Owner: f.keeper})
	f.ledger.SetAccountData(f.pythPrice, pyth.Encode(pyth.PriceAccount{Expo: -8, AggPrice: 123_456_789, AggStatus: pyth.StatusTrading}))
	f.ledger.SetHolderCount(f.holderCount, 10)

	oracle, err := pyth.NewReader(f.ledger)
	if err != nil {
		t.Fatal(err)
	}
	f.engine, err = NewEngine(f.ledger, f.ledger, oracle, Config{EventSink: f.events, Clock: f.clock})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := f.engine.Initialize(context.Background(), inbound.InitializeRequest{
		Config: f.config, Authority: f.authority, Bump: 255,
	}); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return f
}

func (f *fixture) submit(t *testing.T, order solana.PublicKey, total, tranche uint64) {
	t.Helper()
	_, err := f.engine.SubmitOrder(context.Background(), inbound.SubmitOrderRequest{
		Order:              order,
		Seller:             f.seller,
		SellerTokenAccount: f.sellerShift,
		VaultShift:         f.vaultShift,
		TotalAmount:        total,
		TrancheAmount:      tranche,
	})
	if err != nil {
		t.Fatalf("SubmitOrder: %v", err)
	}
}

func (f *fixture) execute(order solana.PublicKey, expectedAnchorOut uint64) (*inbound.TrancheResult, error) {
	return f.engine.ExecuteTranche(context.Background(), inbound.ExecuteTrancheRequest{
		Keeper:            f.keeper,
		Order:             order,
		VaultShift:        f.vaultShift,
		VaultAnchor:       f.vaultAnchor,
		KeeperToken:       f.keeperToken,
		SellerAnchor:      f.sellerAnchor,
		Config:            f.config,
		ProgramAuthority:  f.programAuthority,
		ExpectedAnchorOut: expectedAnchorOut,
	})
}

func (f *fixture) balance(t *testing.T, addr solana.PublicKey) uint64 {
	t.Helper()
	acct, err := f.ledger.GetTokenAccount(context.Background(), addr)
	if err != nil {
		t.Fatal(err)
	}
	return acct.Amount
}

func TestNewEngine_NilDeps(t *testing.T) {
	l := memory.NewLedger()
	oracle, _ := pyth.NewReader(l)

	if _, err := NewEngine(nil, l, oracle, Config{}); err == nil {
		t.Error("expected error for nil account store")
	}
	if _, err := NewEngine(l, nil, oracle, Config{}); err == nil {
		t.Error("expected error for nil token ledger")
	}
	if _, err := NewEngine(l, l, nil, Config{}); err == nil {
		t.Error("expected error for nil oracle")
	}
}

func TestInitialize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cfg, err := f.engine.GetConfig(ctx, f.config)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Owner.Equals(f.authority) || cfg.Bump != 255 ||
		cfg.TrancheInterval != entity.DefaultTrancheInterval || cfg.MaxTxPercentBP != entity.DefaultMaxTxPercentBP {
		t.Errorf("unexpected config %+v", cfg)
	}

	_, err = f.engine.Initialize(ctx, inbound.InitializeRequest{Config: f.config, Authority: f.authority})
	if !errors.Is(err, outbound.ErrAccountExists) {
		t.Errorf("second initialize: expected ErrAccountExists, got %v", err)
	}
}

func TestSubmitOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := key()

	f.submit(t, order, 600, 250)

	got, err := f.engine.GetOrder(ctx, order)
	if err != nil {
		t.Fatal(err)
	}
	want := entity.WhaleOrder{
		Seller: f.seller, Total: 600, Remaining: 600, Tranche: 250,
		StartTime: f.clock.now.Unix(), Active: true,
	}
	if *got != want {
		t.Errorf("order = %+v, want %+v", *got, want)
	}
	if b := f.balance(t, f.sellerShift); b != 400 {
		t.Errorf("seller balance = %d, want 400", b)
	}
	if b := f.balance(t, f.vaultShift); b != 600 {
		t.Errorf("vault balance = %d, want 600", b)
	}
	if n := len(f.events.GetEventsByType(outbound.EventTypeOrderSubmitted)); n != 1 {
		t.Errorf("order submitted events = %d, want 1", n)
	}
}

func TestSubmitOrder_TransferFailureCreatesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := key()

	_, err := f.engine.SubmitOrder(ctx, inbound.SubmitOrderRequest{
		Order: order, Seller: f.seller, SellerTokenAccount: f.sellerShift, VaultShift: f.vaultShift,
		TotalAmount: 5_000, TrancheAmount: 1,
	})
	if err == nil {
		t.Fatal("expected insufficient funds error")
	}
	if _, err := f.engine.GetOrder(ctx, order); !errors.Is(err, outbound.ErrAccountNotFound) {
		t.Errorf("order should not exist, got %v", err)
	}
}

func TestSubmitOrder_AddressInUse(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.SubmitOrder(context.Background(), inbound.SubmitOrderRequest{
		Order: f.config, Seller: f.seller, SellerTokenAccount: f.sellerShift, VaultShift: f.vaultShift,
		TotalAmount: 1, TrancheAmount: 1,
	})
	if !errors.Is(err, outbound.ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if b := f.balance(t, f.sellerShift); b != 1_000 {
		t.Errorf("seller balance changed to %d", b)
	}
}

func TestExecuteTranche_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := key()
	f.submit(t, order, 600, 250)

	// First tranche needs no waiting.
	res, err := f.execute(order, 100)
	if err != nil {
		t.Fatalf("first tranche: %v", err)
	}
	if res.Plan.Tranche != 250 || res.Plan.KeeperReward != 25 || res.Plan.AnchorOut != 100 {
		t.Errorf("unexpected plan %+v", res.Plan)
	}
	if res.Order.Remaining != 350 || res.Order.LastExecuted != f.clock.now.Unix() {
		t.Errorf("unexpected order %+v", res.Order)
	}
	if b := f.balance(t, f.keeperToken); b != 25 {
		t.Errorf("keeper balance = %d, want 25", b)
	}
	if b := f.balance(t, f.sellerAnchor); b != 100 {
		t.Errorf("seller anchor = %d, want 100", b)
	}

	// Interval gating.
	f.clock.now = f.clock.now.Add(time.Duration(entity.DefaultTrancheInterval-1) * time.Second)
	if _, err := f.execute(order, 0); !errors.Is(err, entity.ErrTrancheNotReady) {
		t.Fatalf("expected ErrTrancheNotReady, got %v", err)
	}
	var pe *entity.ProgramError
	if _, err := f.execute(order, 0); !errors.As(err, &pe) || pe.Code != anchor.ErrorCodeOffset+1 {
		t.Fatalf("expected program error 6001, got %v", err)
	}

	f.clock.now = f.clock.now.Add(time.Second)
	if _, err := f.execute(order, 0); err != nil {
		t.Fatalf("second tranche: %v", err)
	}

	// Last tranche is clamped to the remainder and closes the order.
	f.clock.now = f.clock.now.Add(time.Duration(entity.DefaultTrancheInterval) * time.Second)
	res, err = f.execute(order, 0)
	if err != nil {
		t.Fatalf("final tranche: %v", err)
	}
	if res.Plan.Tranche != 100 || res.Plan.KeeperReward != 10 {
		t.Errorf("final plan = %+v, want tranche 100 reward 10", res.Plan)
	}
	if res.Order.Remaining != 0 || res.Order.Active {
		t.Errorf("order should be finished: %+v", res.Order)
	}

	f.clock.now = f.clock.now.Add(time.Duration(entity.DefaultTrancheInterval) * time.Second)
	if _, err := f.execute(order, 0); !errors.Is(err, entity.ErrOrderInactive) {
		t.Fatalf("expected ErrOrderInactive, got %v", err)
	}

	if b := f.balance(t, f.keeperToken); b != 25+25+10 {
		t.Errorf("keeper total = %d, want 60", b)
	}
	snaps, err := f.engine.ListOrders(ctx)
	if err != nil || len(snaps) != 1 {
		t.Fatalf("ListOrders = %v, %v", snaps, err)
	}
}

func TestExecuteTranche_InsufficientAnchorLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := key()
	f.submit(t, order, 600, 250)

	_, err := f.execute(order, 501)
	if !errors.Is(err, entity.ErrInsufficientAnchor) {
		t.Fatalf("expected ErrInsufficientAnchor, got %v", err)
	}

	got, _ := f.engine.GetOrder(ctx, order)
	if got.Remaining != 600 || got.LastExecuted != 0 {
		t.Errorf("order mutated: %+v", got)
	}
	if b := f.balance(t, f.keeperToken); b != 0 {
		t.Errorf("keeper paid %d", b)
	}
	if b := f.balance(t, f.vaultAnchor); b != 500 {
		t.Errorf("vault anchor = %d, want 500", b)
	}
}

func TestExecuteTranche_FailedTransferLeavesOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := key()
	f.submit(t, order, 600, 250)

	// Vault owned by someone else: the program authority cannot sign for it.
	_, err := f.engine.ExecuteTranche(ctx, inbound.ExecuteTrancheRequest{
		Keeper: f.keeper, Order: order, VaultShift: f.vaultShift, VaultAnchor: f.vaultAnchor,
		KeeperToken: f.keeperToken, SellerAnchor: f.sellerAnchor, Config: f.config,
		ProgramAuthority: key(), ExpectedAnchorOut: 10,
	})
	if err == nil {
		t.Fatal("expected transfer error")
	}
	got, _ := f.engine.GetOrder(ctx, order)
	if got.Remaining != 600 {
		t.Errorf("order mutated: %+v", got)
	}
}

func TestTriggerRebase(t *testing.T) {
	tests := []struct {
		name       string
		holders    uint64
		wantShrink uint64
	}{
		{name: "few holders", holders: 10, wantShrink: 500},
		{name: "exactly threshold", holders: 1_000, wantShrink: 500},
		{name: "many holders", holders: 1_001, wantShrink: 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.ledger.SetHolderCount(f.holderCount, tt.holders)

			res, err := f.engine.TriggerRebase(context.Background(), inbound.TriggerRebaseRequest{
				Config: f.config, PythPrice: f.pythPrice, HolderCount: f.holderCount,
			})
			if err != nil {
				t.Fatalf("TriggerRebase: %v", err)
			}
			if res.Signal.ShrinkBP != tt.wantShrink || res.Signal.Price.Int64() != 123_456_789 {
				t.Errorf("signal = %d/%s", res.Signal.ShrinkBP, res.Signal.Price)
			}

			payloads := anchor.ParseEvents(res.Logs, entity.RebaseSignalEventName)
			if len(payloads) != 1 {
				t.Fatalf("expected one event in logs, got %d", len(payloads))
			}
			var decoded entity.RebaseSignal
			if err := decoded.UnmarshalBorsh(payloads[0]); err != nil {
				t.Fatal(err)
			}
			if decoded.ShrinkBP != tt.wantShrink || decoded.Price.Cmp(res.Signal.Price) != 0 {
				t.Errorf("logged signal %+v", decoded)
			}

			if ev := f.events.GetRebaseSignalEvents(); len(ev) != 1 || ev[0].Price != "123456789" {
				t.Errorf("unexpected published events %+v", ev)
			}
		})
	}
}

func TestTriggerRebase_BadOracle(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetAccountData(f.pythPrice, []byte{1, 2, 3})

	_, err := f.engine.TriggerRebase(context.Background(), inbound.TriggerRebaseRequest{
		Config: f.config, PythPrice: f.pythPrice, HolderCount: f.holderCount,
	})
	if !errors.Is(err, entity.ErrBadOracle) {
		t.Fatalf("expected ErrBadOracle, got %v", err)
	}
	if !errors.Is(err, pyth.ErrAccountTooShort) {
		t.Errorf("expected decode cause to be kept, got %v", err)
	}
	if n := len(f.events.GetRebaseSignalEvents()); n != 0 {
		t.Errorf("published %d events on failure", n)
	}
}

func TestExecuteTranche_AccountsLoadBeforeOrderChecks(t *testing.T) {
	f := newFixture(t)
	order := key()
	f.submit(t, order, 100, 100)
	if _, err := f.execute(order, 0); err != nil {
		t.Fatalf("closing tranche: %v", err)
	}

	base := inbound.ExecuteTrancheRequest{
		Keeper: f.keeper, Order: order, VaultShift: f.vaultShift, VaultAnchor: f.vaultAnchor,
		KeeperToken: f.keeperToken, SellerAnchor: f.sellerAnchor, Config: f.config,
		ProgramAuthority: f.programAuthority,
	}
	tests := []struct {
		name   string
		mutate func(*inbound.ExecuteTrancheRequest)
	}{
		{"missing vault shift", func(r *inbound.ExecuteTrancheRequest) { r.VaultShift = key() }},
		{"missing vault anchor", func(r *inbound.ExecuteTrancheRequest) { r.VaultAnchor = key() }},
		{"missing keeper token", func(r *inbound.ExecuteTrancheRequest) { r.KeeperToken = key() }},
		{"missing seller anchor", func(r *inbound.ExecuteTrancheRequest) { r.SellerAnchor = key() }},
		{"missing config", func(r *inbound.ExecuteTrancheRequest) { r.Config = key() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			_, err := f.engine.ExecuteTranche(context.Background(), req)
			if !errors.Is(err, outbound.ErrAccountNotFound) {
				t.Fatalf("expected ErrAccountNotFound, got %v", err)
			}
			if errors.Is(err, entity.ErrOrderInactive) {
				t.Errorf("order check ran before account loading: %v", err)
			}
		})
	}

	if _, err := f.engine.ExecuteTranche(context.Background(), base); !errors.Is(err, entity.ErrOrderInactive) {
		t.Fatalf("expected ErrOrderInactive with every account present, got %v", err)
	}
}

func TestTriggerRebase_HolderCountLoadsBeforeOracle(t *testing.T) {
	f := newFixture(t)
	f.ledger.SetAccountData(f.pythPrice, []byte{1, 2, 3})

	_, err := f.engine.TriggerRebase(context.Background(), inbound.TriggerRebaseRequest{
		Config: f.config, PythPrice: f.pythPrice, HolderCount: key(),
	})
	if !errors.Is(err, outbound.ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if errors.Is(err, entity.ErrBadOracle) {
		t.Errorf("oracle read before holder count: %v", err)
	}
}

func TestTxResult_UniqueSignatures(t *testing.T) {
	f := newFixture(t)
	seen := make(map[solana.Signature]bool)
	for i := 0; i < 5; i++ {
		order := key()
		res, err := f.engine.SubmitOrder(context.Background(), inbound.SubmitOrderRequest{
			Order: order, Seller: f.seller, SellerTokenAccount: f.sellerShift, VaultShift: f.vaultShift,
			TotalAmount: 1, TrancheAmount: 1,
		})
		if err != nil {
			t.Fatal(err)
		}
		if seen[res.Signature] {
			t.Fatalf("duplicate signature %s", res.Signature)
		}
		seen[res.Signature] = true
	}
}

func TestEngine_SequenceResumes(t *testing.T) {
	f := newFixture(t)
	first, err := f.engine.TriggerRebase(context.Background(), inbound.TriggerRebaseRequest{
		Config: f.config, PythPrice: f.pythPrice, HolderCount: f.holderCount,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Initialize and the rebase above.
	if got := f.engine.Sequence(); got != 2 {
		t.Fatalf("Sequence = %d, want 2", got)
	}

	oracle, _ := pyth.NewReader(f.ledger)
	resumed, err := NewEngine(f.ledger, f.ledger, oracle, Config{Clock: f.clock, Sequence: f.engine.Sequence()})
	if err != nil {
		t.Fatal(err)
	}
	next, err := resumed.TriggerRebase(context.Background(), inbound.TriggerRebaseRequest{
		Config: f.config, PythPrice: f.pythPrice, HolderCount: f.holderCount,
	})
	if err != nil {
		t.Fatal(err)
	}
	if next.Signature == first.Signature {
		t.Errorf("resumed engine reused signature %s", next.Signature)
	}
	if got := resumed.Sequence(); got != 3 {
		t.Errorf("Sequence = %d, want 3", got)
	}
}
