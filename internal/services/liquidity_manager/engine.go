// Package liquidity_manager applies the liquidity manager program's instructions
// to in-process account storage. It is used for local simulation and as the
// reference the cluster client is tested against.
package liquidity_manager

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

var _ inbound.LiquidityManager = (*Engine)(nil)

// Config holds optional engine dependencies.
type Config struct {
	// EventSink receives order and rebase events. Optional.
	EventSink outbound.EventSink
	Clock     outbound.Clock
	Logger    *slog.Logger

	// Sequence is the number of transactions already issued. A saved
	// simulation passes it back so signatures stay unique across runs.
	Sequence uint64
}

// ConfigDefaults returns the default engine configuration.
func ConfigDefaults() Config {
	return Config{
		Clock:  outbound.SystemClock{},
		Logger: slog.Default(),
	}
}

// Engine executes instructions one at a time, like a single program invocation
// per transaction. Each instruction either applies fully or not at all.
type Engine struct {
	accounts outbound.AccountStore
	tokens   outbound.TokenLedger
	oracle   outbound.PriceOracle
	events   outbound.EventSink
	clock    outbound.Clock
	logger   *slog.Logger

	mu  sync.Mutex
	seq uint64
}

// NewEngine creates an engine over the given account ports.
func NewEngine(accounts outbound.AccountStore, tokens outbound.TokenLedger, oracle outbound.PriceOracle, config Config) (*Engine, error) {
	if accounts == nil {
		return nil, fmt.Errorf("account store cannot be nil")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token ledger cannot be nil")
	}
	if oracle == nil {
		return nil, fmt.Errorf("price oracle cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.Clock == nil {
		config.Clock = defaults.Clock
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Engine{
		accounts: accounts,
		tokens:   tokens,
		oracle:   oracle,
		events:   config.EventSink,
		clock:    config.Clock,
		logger:   config.Logger.With("component", "liquidity-manager-engine"),
		seq:      config.Sequence,
	}, nil
}

// Sequence returns the number of transactions issued so far.
func (e *Engine) Sequence() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Initialize creates the config account owned by the authority.
func (e *Engine) Initialize(ctx context.Context, req inbound.InitializeRequest) (*inbound.TxResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	cfg := entity.NewConfig(req.Authority, req.Bump)
	if err := e.accounts.CreateConfig(ctx, req.Config, cfg); err != nil {
		return nil, fmt.Errorf("initialize: %w", err)
	}

	res := e.txResult("Initialize", nil)
	e.logger.Debug("config initialized", "config", req.Config, "owner", req.Authority)
	return res, nil
}

// SubmitOrder creates the order account and escrows the full amount in vault_shift.
func (e *Engine) SubmitOrder(ctx context.Context, req inbound.SubmitOrderRequest) (*inbound.TxResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exists, err := e.accounts.AccountExists(ctx, req.Order)
	if err != nil {
		return nil, fmt.Errorf("submit order: checking order account: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("submit order: %w: %s", outbound.ErrAccountExists, req.Order)
	}

	now := e.clock.Now().Unix()
	order := entity.NewWhaleOrder(req.Seller, req.TotalAmount, req.TrancheAmount, now)

	err = e.tokens.Transfer(ctx, outbound.TokenTransfer{
		From:      req.SellerTokenAccount,
		To:        req.VaultShift,
		Authority: req.Seller,
		Amount:    req.TotalAmount,
	})
	if err != nil {
		return nil, fmt.Errorf("submit order: escrow transfer: %w", err)
	}

	// The existence check above holds under e.mu, so creation cannot collide.
	if err := e.accounts.CreateOrder(ctx, req.Order, order); err != nil {
		return nil, fmt.Errorf("submit order: %w", err)
	}

	res := e.txResult("SubmitOrder", nil)
	e.publish(ctx, outbound.OrderSubmittedEvent{
		Order:     req.Order.String(),
		Seller:    req.Seller.String(),
		Total:     req.TotalAmount,
		Tranche:   req.TrancheAmount,
		Signature: res.Signature.String(),
		At:        e.clock.Now().UTC(),
	})
	return res, nil
}

// ExecuteTranche releases the next tranche of an order. The keeper earns a
// tenth of the tranche from vault_shift and the seller receives
// expectedAnchorOut from vault_anchor.
func (e *Engine) ExecuteTranche(ctx context.Context, req inbound.ExecuteTrancheRequest) (*inbound.TrancheResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// Accounts load in instruction order before any handler check runs.
	order, err := e.accounts.GetOrder(ctx, req.Order)
	if err != nil {
		return nil, fmt.Errorf("execute tranche: %w", err)
	}
	var tokenAccts [4]*entity.TokenAccount
	for i, addr := range []solana.PublicKey{req.VaultShift, req.VaultAnchor, req.KeeperToken, req.SellerAnchor} {
		if tokenAccts[i], err = e.tokens.GetTokenAccount(ctx, addr); err != nil {
			return nil, fmt.Errorf("execute tranche: %w", err)
		}
	}
	vaultAnchor := tokenAccts[1]
	cfg, err := e.accounts.GetConfig(ctx, req.Config)
	if err != nil {
		return nil, fmt.Errorf("execute tranche: %w", err)
	}

	now := e.clock.Now().Unix()
	plan, err := order.PlanTranche(now, cfg.TrancheInterval, vaultAnchor.Amount, req.ExpectedAnchorOut)
	if err != nil {
		return nil, programError(err)
	}

	err = e.tokens.Transfer(ctx,
		outbound.TokenTransfer{From: req.VaultShift, To: req.KeeperToken, Authority: req.ProgramAuthority, Amount: plan.KeeperReward},
		outbound.TokenTransfer{From: req.VaultAnchor, To: req.SellerAnchor, Authority: req.ProgramAuthority, Amount: plan.AnchorOut},
	)
	if err != nil {
		return nil, fmt.Errorf("execute tranche: transfers: %w", err)
	}

	order.ApplyTranche(plan, now)
	if err := e.accounts.PutOrder(ctx, req.Order, order); err != nil {
		return nil, fmt.Errorf("execute tranche: storing order: %w", err)
	}

	e.logger.Debug("tranche executed",
		"order", req.Order,
		"tranche", plan.Tranche,
		"reward", plan.KeeperReward,
		"remaining", order.Remaining)

	return &inbound.TrancheResult{
		TxResult: *e.txResult("ExecuteTranche", nil),
		Plan:     plan,
		Order:    *order,
	}, nil
}

// TriggerRebase reads the oracle price and holder count and emits a RebaseSignal.
func (e *Engine) TriggerRebase(ctx context.Context, req inbound.TriggerRebaseRequest) (*inbound.RebaseResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	// The price account is unchecked; only config and holder count must
	// deserialize before the oracle is read.
	if _, err := e.accounts.GetConfig(ctx, req.Config); err != nil {
		return nil, fmt.Errorf("trigger rebase: %w", err)
	}
	holders, err := e.accounts.GetHolderCount(ctx, req.HolderCount)
	if err != nil {
		return nil, fmt.Errorf("trigger rebase: %w", err)
	}

	feed, err := e.oracle.GetPriceUnchecked(ctx, req.PythPrice)
	if err != nil {
		e.logger.Warn("oracle read failed", "priceAccount", req.PythPrice, "error", err)
		return nil, programError(fmt.Errorf("%w: %w", entity.ErrBadOracle, err))
	}

	signal := entity.NewRebaseSignal(holders.Count, feed.Price)
	payload, err := signal.MarshalBorsh()
	if err != nil {
		return nil, fmt.Errorf("trigger rebase: encoding event: %w", err)
	}

	res := e.txResult("TriggerRebase", []string{anchor.EncodeEventLog(entity.RebaseSignalEventName, payload)})
	e.publish(ctx, outbound.RebaseSignalEvent{
		Config:    req.Config.String(),
		ShrinkBP:  signal.ShrinkBP,
		Price:     signal.Price.String(),
		Signature: res.Signature.String(),
		At:        e.clock.Now().UTC(),
	})

	return &inbound.RebaseResult{TxResult: *res, Signal: signal}, nil
}

func (e *Engine) GetConfig(ctx context.Context, address solana.PublicKey) (*entity.Config, error) {
	return e.accounts.GetConfig(ctx, address)
}

func (e *Engine) GetOrder(ctx context.Context, address solana.PublicKey) (*entity.WhaleOrder, error) {
	return e.accounts.GetOrder(ctx, address)
}

func (e *Engine) ListOrders(ctx context.Context) ([]entity.OrderSnapshot, error) {
	return e.accounts.ListOrders(ctx)
}

func (e *Engine) GetHolderCount(ctx context.Context, address solana.PublicKey) (*entity.HolderCount, error) {
	return e.accounts.GetHolderCount(ctx, address)
}

// txResult fabricates a signature and the log lines a cluster would print.
// Caller must hold e.mu.
func (e *Engine) txResult(instruction string, data []string) *inbound.TxResult {
	e.seq++

	var seed [8]byte
	binary.LittleEndian.PutUint64(seed[:], e.seq)
	h1 := sha256.Sum256(append([]byte(instruction), seed[:]...))
	h2 := sha256.Sum256(h1[:])

	var sig solana.Signature
	copy(sig[:32], h1[:])
	copy(sig[32:], h2[:])

	logs := make([]string, 0, len(data)+3)
	logs = append(logs,
		fmt.Sprintf("Program %s invoke [1]", entity.ProgramID),
		"Program log: Instruction: "+instruction,
	)
	logs = append(logs, data...)
	logs = append(logs, fmt.Sprintf("Program %s success", entity.ProgramID))

	return &inbound.TxResult{Signature: sig, Logs: logs}
}

func (e *Engine) publish(ctx context.Context, event outbound.Event) {
	if e.events == nil {
		return
	}
	if err := e.events.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish event",
			"eventType", event.EventType(),
			"subject", event.GetSubject(),
			"error", err)
	}
}

// programError wraps program sentinels in their ProgramError so callers see
// the same code a cluster would report.
func programError(err error) error {
	if pe, ok := entity.ProgramErrorOf(err); ok {
		return fmt.Errorf("%w: %w", pe, err)
	}
	return err
}
