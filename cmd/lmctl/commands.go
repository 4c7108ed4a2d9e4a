package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
)

type command struct {
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

var commands = map[string]command{
	"init":        {"create the program config account", runInit},
	"submit":      {"escrow a whale order", runSubmit},
	"execute":     {"execute the next tranche of an order", runExecute},
	"rebase":      {"emit a rebase signal from the oracle and holder count", runRebase},
	"show-config": {"print the program config", runShowConfig},
	"show-order":  {"print a whale order", runShowOrder},
	"list-orders": {"print every whale order", runListOrders},
	"show-price":  {"print a pyth price account", runShowPrice},
	"warp":        {"move the simulation clock forward (-simulate only)", runWarp},
}

// pubkeyFlag is a base58 address flag.
type pubkeyFlag struct {
	key solana.PublicKey
	set bool
}

func (p *pubkeyFlag) String() string {
	if !p.set {
		return ""
	}
	return p.key.String()
}

func (p *pubkeyFlag) Set(s string) error {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return err
	}
	p.key, p.set = key, true
	return nil
}

// requireKeys reports every unset flag in one error.
func requireKeys(flags map[string]*pubkeyFlag) error {
	var missing []string
	for name, f := range flags {
		if !f.set {
			missing = append(missing, "-"+name)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	sort.Strings(missing)
	return fmt.Errorf("missing required flags: %s", strings.Join(missing, ", "))
}

// loadOrGenerate reads a keypair file, or creates a fresh key when path is empty.
func loadOrGenerate(path string) (solana.PrivateKey, error) {
	if path == "" {
		return solana.NewRandomPrivateKey()
	}
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keypair %s: %w", path, err)
	}
	return key, nil
}

type txOutput struct {
	Signature solana.Signature `json:"signature"`
	Account   solana.PublicKey `json:"account"`
}

func runInit(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	keypair := fs.String("config-keypair", "", "keypair for the new config account (generated when empty)")
	bump := fs.Uint("bump", 0, "bump stored in the config")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *bump > 255 {
		return fmt.Errorf("bump must fit in a byte, got %d", *bump)
	}

	configKey, err := loadOrGenerate(*keypair)
	if err != nil {
		return err
	}
	if a.addSigners != nil {
		a.addSigners(configKey)
	}

	res, err := a.manager.Initialize(ctx, inbound.InitializeRequest{
		Config:    configKey.PublicKey(),
		Authority: a.wallet,
		Bump:      uint8(*bump),
	})
	if err != nil {
		return err
	}
	return a.print(txOutput{Signature: res.Signature, Account: configKey.PublicKey()})
}

func runSubmit(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	keypair := fs.String("order-keypair", "", "keypair for the new order account (generated when empty)")
	var sellerToken, vaultShift pubkeyFlag
	fs.Var(&sellerToken, "seller-token", "seller's shift token account")
	fs.Var(&vaultShift, "vault-shift", "program shift vault")
	total := fs.Uint64("total", 0, "total amount to sell")
	tranche := fs.Uint64("tranche", 0, "amount released per tranche")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireKeys(map[string]*pubkeyFlag{"seller-token": &sellerToken, "vault-shift": &vaultShift}); err != nil {
		return err
	}

	orderKey, err := loadOrGenerate(*keypair)
	if err != nil {
		return err
	}
	if a.addSigners != nil {
		a.addSigners(orderKey)
	}

	res, err := a.manager.SubmitOrder(ctx, inbound.SubmitOrderRequest{
		Order:              orderKey.PublicKey(),
		Seller:             a.wallet,
		SellerTokenAccount: sellerToken.key,
		VaultShift:         vaultShift.key,
		TotalAmount:        *total,
		TrancheAmount:      *tranche,
	})
	if err != nil {
		return err
	}
	return a.print(txOutput{Signature: res.Signature, Account: orderKey.PublicKey()})
}

type trancheOutput struct {
	Signature    solana.Signature `json:"signature"`
	Tranche      uint64           `json:"tranche"`
	KeeperReward uint64           `json:"keeperReward"`
	AnchorOut    uint64           `json:"anchorOut"`
	Remaining    uint64           `json:"remaining"`
	Active       bool             `json:"active"`
}

func runExecute(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("execute", flag.ContinueOnError)
	var order, vaultShift, vaultAnchor, keeperToken, sellerAnchor, config, authority pubkeyFlag
	fs.Var(&order, "order", "order account")
	fs.Var(&vaultShift, "vault-shift", "program shift vault")
	fs.Var(&vaultAnchor, "vault-anchor", "program anchor vault")
	fs.Var(&keeperToken, "keeper-token", "keeper's shift token account")
	fs.Var(&sellerAnchor, "seller-anchor", "seller's anchor token account")
	fs.Var(&config, "config", "program config account")
	fs.Var(&authority, "authority", "program authority owning the vaults")
	expected := fs.Uint64("expected", 0, "anchor amount paid to the seller")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireKeys(map[string]*pubkeyFlag{
		"order":         &order,
		"vault-shift":   &vaultShift,
		"vault-anchor":  &vaultAnchor,
		"keeper-token":  &keeperToken,
		"seller-anchor": &sellerAnchor,
		"config":        &config,
		"authority":     &authority,
	}); err != nil {
		return err
	}

	res, err := a.manager.ExecuteTranche(ctx, inbound.ExecuteTrancheRequest{
		Keeper:            a.wallet,
		Order:             order.key,
		VaultShift:        vaultShift.key,
		VaultAnchor:       vaultAnchor.key,
		KeeperToken:       keeperToken.key,
		SellerAnchor:      sellerAnchor.key,
		Config:            config.key,
		ProgramAuthority:  authority.key,
		ExpectedAnchorOut: *expected,
	})
	if err != nil {
		return err
	}
	return a.print(trancheOutput{
		Signature:    res.Signature,
		Tranche:      res.Plan.Tranche,
		KeeperReward: res.Plan.KeeperReward,
		AnchorOut:    res.Plan.AnchorOut,
		Remaining:    res.Order.Remaining,
		Active:       res.Order.Active,
	})
}

type rebaseOutput struct {
	Signature solana.Signature `json:"signature"`
	ShrinkBP  uint64           `json:"shrinkBp"`
	Price     string           `json:"price"`
}

func runRebase(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("rebase", flag.ContinueOnError)
	var config, price, holders pubkeyFlag
	fs.Var(&config, "config", "program config account")
	fs.Var(&price, "price", "pyth price account")
	fs.Var(&holders, "holders", "holder count account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireKeys(map[string]*pubkeyFlag{"config": &config, "price": &price, "holders": &holders}); err != nil {
		return err
	}

	res, err := a.manager.TriggerRebase(ctx, inbound.TriggerRebaseRequest{
		Config:      config.key,
		PythPrice:   price.key,
		HolderCount: holders.key,
	})
	if err != nil {
		return err
	}
	out := rebaseOutput{Signature: res.Signature, ShrinkBP: res.Signal.ShrinkBP}
	if res.Signal.Price != nil {
		out.Price = res.Signal.Price.String()
	}
	return a.print(out)
}

type configOutput struct {
	Address         solana.PublicKey `json:"address"`
	Owner           solana.PublicKey `json:"owner"`
	Bump            uint8            `json:"bump"`
	TrancheInterval uint64           `json:"trancheIntervalSeconds"`
	MaxTxPercentBP  uint64           `json:"maxTxPercentBp"`
}

func runShowConfig(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("show-config", flag.ContinueOnError)
	var config pubkeyFlag
	fs.Var(&config, "config", "program config account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireKeys(map[string]*pubkeyFlag{"config": &config}); err != nil {
		return err
	}

	cfg, err := a.manager.GetConfig(ctx, config.key)
	if err != nil {
		return err
	}
	return a.print(configOutput{
		Address:         config.key,
		Owner:           cfg.Owner,
		Bump:            cfg.Bump,
		TrancheInterval: cfg.TrancheInterval,
		MaxTxPercentBP:  cfg.MaxTxPercentBP,
	})
}

type orderOutput struct {
	Address      solana.PublicKey `json:"address"`
	Seller       solana.PublicKey `json:"seller"`
	Total        uint64           `json:"total"`
	Remaining    uint64           `json:"remaining"`
	Tranche      uint64           `json:"tranche"`
	StartTime    time.Time        `json:"startTime"`
	LastExecuted *time.Time       `json:"lastExecuted,omitempty"`
	Active       bool             `json:"active"`
}

func toOrderOutput(address solana.PublicKey, o entity.WhaleOrder) orderOutput {
	out := orderOutput{
		Address:   address,
		Seller:    o.Seller,
		Total:     o.Total,
		Remaining: o.Remaining,
		Tranche:   o.Tranche,
		StartTime: time.Unix(o.StartTime, 0).UTC(),
		Active:    o.Active,
	}
	if o.LastExecuted != 0 {
		t := time.Unix(o.LastExecuted, 0).UTC()
		out.LastExecuted = &t
	}
	return out
}

func runShowOrder(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("show-order", flag.ContinueOnError)
	var order pubkeyFlag
	fs.Var(&order, "order", "order account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireKeys(map[string]*pubkeyFlag{"order": &order}); err != nil {
		return err
	}

	o, err := a.manager.GetOrder(ctx, order.key)
	if err != nil {
		return err
	}
	return a.print(toOrderOutput(order.key, *o))
}

func runListOrders(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("list-orders", flag.ContinueOnError)
	activeOnly := fs.Bool("active", false, "only print active orders")
	if err := fs.Parse(args); err != nil {
		return err
	}

	snapshots, err := a.manager.ListOrders(ctx)
	if err != nil {
		return err
	}
	out := make([]orderOutput, 0, len(snapshots))
	for _, s := range snapshots {
		if *activeOnly && !s.Order.Active {
			continue
		}
		out = append(out, toOrderOutput(s.Address, s.Order))
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Address.String() < out[j].Address.String()
	})
	return a.print(out)
}

type priceOutput struct {
	Address     solana.PublicKey `json:"address"`
	Price       int64            `json:"price"`
	Conf        uint64           `json:"conf"`
	Expo        int32            `json:"expo"`
	PublishTime time.Time        `json:"publishTime"`
}

func runShowPrice(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("show-price", flag.ContinueOnError)
	var price pubkeyFlag
	fs.Var(&price, "price", "pyth price account")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if err := requireKeys(map[string]*pubkeyFlag{"price": &price}); err != nil {
		return err
	}

	feed, err := a.prices.GetPriceUnchecked(ctx, price.key)
	if err != nil {
		return err
	}
	return a.print(priceOutput{
		Address:     price.key,
		Price:       feed.Price,
		Conf:        feed.Conf,
		Expo:        feed.Expo,
		PublishTime: time.Unix(feed.PublishTime, 0).UTC(),
	})
}

func runWarp(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("warp", flag.ContinueOnError)
	by := fs.Duration("by", 0, "how far to move the clock, e.g. 5m")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.advance == nil {
		return errors.New("warp only works with -simulate")
	}
	if *by <= 0 {
		return fmt.Errorf("-by must be positive, got %s", *by)
	}
	return a.print(struct {
		Now time.Time `json:"now"`
	}{Now: a.advance(*by).UTC()})
}
