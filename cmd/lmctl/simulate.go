package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/memory"
	"github.com/archon-research/liquidity-manager/internal/adapters/outbound/pyth"
	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	lm "github.com/archon-research/liquidity-manager/internal/services/liquidity_manager"
)

// simState is the JSON file a simulation loads before a command and writes
// back after it. Hand-written files seed token balances, prices and holder
// counts; program accounts are normally created by the commands themselves.
type simState struct {
	Wallet   solana.PublicKey `json:"wallet"`
	Now      int64            `json:"now,omitempty"` // unix seconds, 0 follows the wall clock
	Sequence uint64           `json:"sequence,omitempty"`

	TokenAccounts []simToken   `json:"tokenAccounts,omitempty"`
	Prices        []simPrice   `json:"prices,omitempty"`
	HolderCounts  []simHolders `json:"holderCounts,omitempty"`
	Configs       []simConfig  `json:"configs,omitempty"`
	Orders        []simOrder   `json:"orders,omitempty"`
	Accounts      []simAccount `json:"accounts,omitempty"`
}

type simToken struct {
	Address solana.PublicKey `json:"address"`
	Mint    solana.PublicKey `json:"mint"`
	Owner   solana.PublicKey `json:"owner"`
	Amount  uint64           `json:"amount"`
}

type simPrice struct {
	Address       solana.PublicKey `json:"address"`
	Expo          int32            `json:"expo"`
	Price         int64            `json:"price"`
	Conf          uint64           `json:"conf,omitempty"`
	Status        string           `json:"status,omitempty"` // empty means trading
	Timestamp     int64            `json:"timestamp,omitempty"`
	PublishSlot   uint64           `json:"publishSlot,omitempty"`
	PrevPrice     int64            `json:"prevPrice,omitempty"`
	PrevConf      uint64           `json:"prevConf,omitempty"`
	PrevTimestamp int64            `json:"prevTimestamp,omitempty"`
}

type simHolders struct {
	Address solana.PublicKey `json:"address"`
	Count   uint64           `json:"count"`
}

type simConfig struct {
	Address         solana.PublicKey `json:"address"`
	Owner           solana.PublicKey `json:"owner"`
	Bump            uint8            `json:"bump"`
	TrancheInterval uint64           `json:"trancheIntervalSeconds"`
	MaxTxPercentBP  uint64           `json:"maxTxPercentBp"`
}

type simOrder struct {
	Address      solana.PublicKey `json:"address"`
	Seller       solana.PublicKey `json:"seller"`
	Total        uint64           `json:"total"`
	Remaining    uint64           `json:"remaining"`
	Tranche      uint64           `json:"tranche"`
	StartTime    int64            `json:"startTime"`
	LastExecuted int64            `json:"lastExecuted,omitempty"`
	Active       bool             `json:"active"`
}

// simAccount is raw account data, base64 in JSON.
type simAccount struct {
	Address solana.PublicKey `json:"address"`
	Data    []byte           `json:"data"`
}

var priceStatuses = map[string]uint32{
	"unknown": pyth.StatusUnknown,
	"trading": pyth.StatusTrading,
	"halted":  pyth.StatusHalted,
	"auction": pyth.StatusAuction,
	"ignored": pyth.StatusIgnored,
}

func priceStatusName(status uint32) (string, bool) {
	for name, s := range priceStatuses {
		if s == status {
			return name, true
		}
	}
	return "", false
}

func (p simPrice) account() (pyth.PriceAccount, error) {
	status := pyth.StatusTrading
	if p.Status != "" {
		s, ok := priceStatuses[p.Status]
		if !ok {
			return pyth.PriceAccount{}, fmt.Errorf("price %s: unknown status %q", p.Address, p.Status)
		}
		status = s
	}
	return pyth.PriceAccount{
		Expo:           p.Expo,
		Timestamp:      p.Timestamp,
		PrevPrice:      p.PrevPrice,
		PrevConf:       p.PrevConf,
		PrevTimestamp:  p.PrevTimestamp,
		AggPrice:       p.Price,
		AggConf:        p.Conf,
		AggStatus:      status,
		AggPublishSlot: p.PublishSlot,
	}, nil
}

func (s *simState) snapshot() (memory.Snapshot, error) {
	snap := memory.Snapshot{
		Configs:  make(map[solana.PublicKey]entity.Config),
		Orders:   make(map[solana.PublicKey]entity.WhaleOrder),
		Holders:  make(map[solana.PublicKey]entity.HolderCount),
		Tokens:   make(map[solana.PublicKey]entity.TokenAccount),
		Accounts: make(map[solana.PublicKey][]byte),
	}
	for _, t := range s.TokenAccounts {
		snap.Tokens[t.Address] = entity.TokenAccount{Address: t.Address, Mint: t.Mint, Owner: t.Owner, Amount: t.Amount}
	}
	for _, h := range s.HolderCounts {
		snap.Holders[h.Address] = entity.HolderCount{Count: h.Count}
	}
	for _, c := range s.Configs {
		snap.Configs[c.Address] = entity.Config{
			Owner:           c.Owner,
			Bump:            c.Bump,
			TrancheInterval: c.TrancheInterval,
			MaxTxPercentBP:  c.MaxTxPercentBP,
		}
	}
	for _, o := range s.Orders {
		snap.Orders[o.Address] = entity.WhaleOrder{
			Seller:       o.Seller,
			Total:        o.Total,
			Remaining:    o.Remaining,
			Tranche:      o.Tranche,
			StartTime:    o.StartTime,
			LastExecuted: o.LastExecuted,
			Active:       o.Active,
		}
	}
	for _, a := range s.Accounts {
		snap.Accounts[a.Address] = a.Data
	}
	for _, p := range s.Prices {
		acct, err := p.account()
		if err != nil {
			return memory.Snapshot{}, err
		}
		snap.Accounts[p.Address] = pyth.Encode(acct)
	}
	return snap, nil
}

// setSnapshot replaces the account lists with snap, sorted by address.
// Raw accounts that are exactly what Encode produces are written as prices.
func (s *simState) setSnapshot(snap memory.Snapshot) {
	s.TokenAccounts, s.Prices, s.HolderCounts = nil, nil, nil
	s.Configs, s.Orders, s.Accounts = nil, nil, nil

	for _, addr := range sortedKeys(snap.Tokens) {
		t := snap.Tokens[addr]
		s.TokenAccounts = append(s.TokenAccounts, simToken{Address: addr, Mint: t.Mint, Owner: t.Owner, Amount: t.Amount})
	}
	for _, addr := range sortedKeys(snap.Holders) {
		s.HolderCounts = append(s.HolderCounts, simHolders{Address: addr, Count: snap.Holders[addr].Count})
	}
	for _, addr := range sortedKeys(snap.Configs) {
		c := snap.Configs[addr]
		s.Configs = append(s.Configs, simConfig{
			Address:         addr,
			Owner:           c.Owner,
			Bump:            c.Bump,
			TrancheInterval: c.TrancheInterval,
			MaxTxPercentBP:  c.MaxTxPercentBP,
		})
	}
	for _, addr := range sortedKeys(snap.Orders) {
		o := snap.Orders[addr]
		s.Orders = append(s.Orders, simOrder{
			Address:      addr,
			Seller:       o.Seller,
			Total:        o.Total,
			Remaining:    o.Remaining,
			Tranche:      o.Tranche,
			StartTime:    o.StartTime,
			LastExecuted: o.LastExecuted,
			Active:       o.Active,
		})
	}
	for _, addr := range sortedKeys(snap.Accounts) {
		data := snap.Accounts[addr]
		if acct, status, ok := encodedPrice(data); ok {
			s.Prices = append(s.Prices, simPrice{
				Address:       addr,
				Expo:          acct.Expo,
				Price:         acct.AggPrice,
				Conf:          acct.AggConf,
				Status:        status,
				Timestamp:     acct.Timestamp,
				PublishSlot:   acct.AggPublishSlot,
				PrevPrice:     acct.PrevPrice,
				PrevConf:      acct.PrevConf,
				PrevTimestamp: acct.PrevTimestamp,
			})
			continue
		}
		s.Accounts = append(s.Accounts, simAccount{Address: addr, Data: data})
	}
}

// encodedPrice reports whether data is exactly a price account Encode would
// produce, so writing it back as a price entry loses nothing.
func encodedPrice(data []byte) (*pyth.PriceAccount, string, bool) {
	acct, err := pyth.Decode(data)
	if err != nil || !bytes.Equal(pyth.Encode(*acct), data) {
		return nil, "", false
	}
	status, ok := priceStatusName(acct.AggStatus)
	if !ok {
		return nil, "", false
	}
	return acct, status, true
}

func sortedKeys[V any](m map[solana.PublicKey]V) []solana.PublicKey {
	keys := make([]solana.PublicKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	return keys
}

// simClock is pinned to a unix second once set; until then it follows the
// wall clock.
type simClock struct {
	unix int64
}

func (c *simClock) Now() time.Time {
	if c.unix == 0 {
		return time.Now()
	}
	return time.Unix(c.unix, 0)
}

func (c *simClock) advance(d time.Duration) time.Time {
	now := c.Now().Add(d)
	c.unix = now.Unix()
	return now
}

// simulation runs commands against an in-process engine over a memory ledger.
type simulation struct {
	path   string
	state  simState
	ledger *memory.Ledger
	clock  *simClock
	engine *lm.Engine
	prices *pyth.Reader
}

// openSimulation loads path, or starts empty when path is unset or missing.
// A non-zero wallet replaces the one stored in the state.
func openSimulation(path string, wallet solana.PublicKey, logger *slog.Logger) (*simulation, error) {
	var state simState
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("reading simulation state: %w", err)
		default:
			if err := json.Unmarshal(data, &state); err != nil {
				return nil, fmt.Errorf("parsing simulation state %s: %w", path, err)
			}
		}
	}
	if !wallet.IsZero() {
		state.Wallet = wallet
	}
	if state.Wallet.IsZero() {
		state.Wallet = solana.NewWallet().PublicKey()
	}

	snap, err := state.snapshot()
	if err != nil {
		return nil, err
	}
	ledger := memory.NewLedger()
	ledger.Restore(snap)

	clock := &simClock{unix: state.Now}
	ledger.SetClock(clock.Now)

	prices, err := pyth.NewReader(ledger)
	if err != nil {
		return nil, err
	}
	engine, err := lm.NewEngine(ledger, ledger, prices, lm.Config{
		Clock:    clock,
		Logger:   logger,
		Sequence: state.Sequence,
	})
	if err != nil {
		return nil, fmt.Errorf("creating engine: %w", err)
	}

	return &simulation{
		path:   path,
		state:  state,
		ledger: ledger,
		clock:  clock,
		engine: engine,
		prices: prices,
	}, nil
}

// save writes the state back. Without a path the simulation is discarded.
func (s *simulation) save() error {
	if s.path == "" {
		return nil
	}
	s.state.Now = s.clock.unix
	s.state.Sequence = s.engine.Sequence()
	s.state.setSnapshot(s.ledger.Snapshot())

	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding simulation state: %w", err)
	}
	if err := os.WriteFile(s.path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("writing simulation state: %w", err)
	}
	return nil
}
