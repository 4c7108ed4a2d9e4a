// Package cluster implements the liquidity manager instruction set against a
// Solana cluster through a provider.
package cluster

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"golang.org/x/time/rate"

	"github.com/archon-research/liquidity-manager/internal/domain/entity"
	"github.com/archon-research/liquidity-manager/internal/pkg/anchor"
	"github.com/archon-research/liquidity-manager/internal/pkg/provider"
	"github.com/archon-research/liquidity-manager/internal/pkg/retry"
	"github.com/archon-research/liquidity-manager/internal/ports/inbound"
	"github.com/archon-research/liquidity-manager/internal/ports/outbound"
)

// Compile-time checks.
var (
	_ inbound.LiquidityManager   = (*Client)(nil)
	_ outbound.AccountDataReader = (*Client)(nil)
)

// Config holds configuration for the cluster client.
type Config struct {
	// ProgramID of the deployed liquidity manager.
	ProgramID solana.PublicKey

	// RequestsPerSecond caps RPC calls made by this client.
	RequestsPerSecond float64

	// Burst is the limiter burst size.
	Burst int

	// ReadRetry applies to account and transaction reads.
	ReadRetry retry.Config

	Logger *slog.Logger
}

// ConfigDefaults returns the default configuration.
func ConfigDefaults() Config {
	return Config{
		ProgramID:         entity.ProgramID,
		RequestsPerSecond: 10,
		Burst:             5,
		ReadRetry:         retry.DefaultConfig(),
		Logger:            slog.Default(),
	}
}

// Client sends program instructions through a provider and decodes program accounts.
type Client struct {
	provider *provider.Provider
	config   Config
	limiter  *rate.Limiter
	logger   *slog.Logger

	mu      sync.RWMutex
	signers map[solana.PublicKey]solana.PrivateKey
}

// NewClient creates a cluster client.
func NewClient(p *provider.Provider, config Config) (*Client, error) {
	if p == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if p.Connection == nil {
		return nil, fmt.Errorf("provider connection cannot be nil")
	}

	defaults := ConfigDefaults()
	if config.ProgramID.IsZero() {
		config.ProgramID = defaults.ProgramID
	}
	if config.RequestsPerSecond == 0 {
		config.RequestsPerSecond = defaults.RequestsPerSecond
	}
	if config.Burst == 0 {
		config.Burst = defaults.Burst
	}
	if config.ReadRetry == (retry.Config{}) {
		config.ReadRetry = defaults.ReadRetry
	}
	if config.Logger == nil {
		config.Logger = defaults.Logger
	}

	return &Client{
		provider: p,
		config:   config,
		limiter:  rate.NewLimiter(rate.Limit(config.RequestsPerSecond), config.Burst),
		logger:   config.Logger.With("component", "cluster-client", "program", config.ProgramID),
		signers:  make(map[solana.PublicKey]solana.PrivateKey),
	}, nil
}

// AddSigners registers keypairs for accounts that must sign instructions but
// are not the provider wallet, e.g. a freshly generated order account.
func (c *Client) AddSigners(keys ...solana.PrivateKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, k := range keys {
		c.signers[k.PublicKey()] = k
	}
}

// signersFor returns the registered keys for every signer meta of ix.
func (c *Client) signersFor(ix solana.Instruction) []solana.PrivateKey {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []solana.PrivateKey
	for _, meta := range ix.Accounts() {
		if !meta.IsSigner {
			continue
		}
		if k, ok := c.signers[meta.PublicKey]; ok {
			out = append(out, k)
		}
	}
	return out
}

func (c *Client) send(ctx context.Context, name string, ix solana.Instruction) (*inbound.TxResult, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	start := time.Now()
	sig, err := c.provider.SendAndConfirm(ctx, []solana.Instruction{ix}, c.signersFor(ix)...)
	if err != nil {
		c.logger.Warn("instruction failed", "instruction", name, "signature", sig, "error", err)
		return nil, fmt.Errorf("%s: %w", name, mapProgramError(err))
	}

	c.logger.Debug("instruction confirmed",
		"instruction", name,
		"signature", sig,
		"duration", time.Since(start))
	return &inbound.TxResult{Signature: sig}, nil
}

// Initialize creates the config account. Its keypair must be registered with AddSigners.
func (c *Client) Initialize(ctx context.Context, req inbound.InitializeRequest) (*inbound.TxResult, error) {
	ix, err := NewInitializeInstruction(c.config.ProgramID, req)
	if err != nil {
		return nil, fmt.Errorf("building initialize: %w", err)
	}
	return c.send(ctx, "initialize", ix)
}

// SubmitOrder escrows a new order. The order keypair must be registered with AddSigners.
func (c *Client) SubmitOrder(ctx context.Context, req inbound.SubmitOrderRequest) (*inbound.TxResult, error) {
	ix, err := NewSubmitOrderInstruction(c.config.ProgramID, req)
	if err != nil {
		return nil, fmt.Errorf("building submit_order: %w", err)
	}
	return c.send(ctx, "submit_order", ix)
}

// ExecuteTranche sends execute_tranche and reports the tranche the program
// releases for the order as it stood before the call.
func (c *Client) ExecuteTranche(ctx context.Context, req inbound.ExecuteTrancheRequest) (*inbound.TrancheResult, error) {
	before, err := c.GetOrder(ctx, req.Order)
	if err != nil {
		return nil, fmt.Errorf("execute_tranche: %w", err)
	}

	ix, err := NewExecuteTrancheInstruction(c.config.ProgramID, req)
	if err != nil {
		return nil, fmt.Errorf("building execute_tranche: %w", err)
	}
	res, err := c.send(ctx, "execute_tranche", ix)
	if err != nil {
		return nil, err
	}

	after, err := c.GetOrder(ctx, req.Order)
	if err != nil {
		return nil, fmt.Errorf("execute_tranche: reading order after %s: %w", res.Signature, err)
	}

	tranche := min(before.Tranche, before.Remaining)
	if after.Remaining+tranche != before.Remaining {
		// Another keeper may have landed a tranche between the reads.
		c.logger.Warn("order changed outside this execution",
			"order", req.Order,
			"signature", res.Signature,
			"tranche", tranche,
			"remainingBefore", before.Remaining,
			"remainingAfter", after.Remaining)
	}
	return &inbound.TrancheResult{
		TxResult: *res,
		Plan: entity.TranchePlan{
			Tranche:      tranche,
			KeeperReward: tranche / entity.KeeperRewardDivisor,
			AnchorOut:    req.ExpectedAnchorOut,
		},
		Order: *after,
	}, nil
}

// TriggerRebase sends trigger_rebase and reads the emitted RebaseSignal from
// the transaction logs.
func (c *Client) TriggerRebase(ctx context.Context, req inbound.TriggerRebaseRequest) (*inbound.RebaseResult, error) {
	ix, err := NewTriggerRebaseInstruction(c.config.ProgramID, req)
	if err != nil {
		return nil, fmt.Errorf("building trigger_rebase: %w", err)
	}
	res, err := c.send(ctx, "trigger_rebase", ix)
	if err != nil {
		return nil, err
	}

	logs, err := c.transactionLogs(ctx, res.Signature)
	if err != nil {
		return nil, fmt.Errorf("trigger_rebase: %w", err)
	}
	res.Logs = logs

	payloads := anchor.ParseEvents(logs, entity.RebaseSignalEventName)
	if len(payloads) == 0 {
		return nil, fmt.Errorf("trigger_rebase: no %s event in %s", entity.RebaseSignalEventName, res.Signature)
	}
	var signal entity.RebaseSignal
	if err := signal.UnmarshalBorsh(payloads[0]); err != nil {
		return nil, fmt.Errorf("trigger_rebase: %w", err)
	}
	return &inbound.RebaseResult{TxResult: *res, Signal: signal}, nil
}

// errNotYetVisible marks a transaction that the node does not serve yet.
var errNotYetVisible = errors.New("transaction not yet visible")

func (c *Client) transactionLogs(ctx context.Context, sig solana.Signature) ([]string, error) {
	// getTransaction does not serve processed transactions.
	maxVersion := uint64(0)
	opts := &rpc.GetTransactionOpts{
		Encoding:                       solana.EncodingBase64,
		Commitment:                     rpc.CommitmentConfirmed,
		MaxSupportedTransactionVersion: &maxVersion,
	}

	return retry.Do(ctx, c.config.ReadRetry, retry.Always, c.onRetry("getTransaction"), func() ([]string, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		out, err := c.provider.Connection.GetTransaction(ctx, sig, opts)
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Meta == nil)) {
			return nil, fmt.Errorf("%w: %s", errNotYetVisible, sig)
		}
		if err != nil {
			return nil, fmt.Errorf("fetching transaction %s: %w", sig, err)
		}
		return out.Meta.LogMessages, nil
	})
}

func (c *Client) onRetry(op string) retry.OnRetryFunc {
	return func(attempt int, err error, backoff time.Duration) {
		c.logger.Debug("rpc read failed, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", backoff,
			"error", err)
	}
}

// GetAccountData returns the raw data of any account.
func (c *Client) GetAccountData(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	acct, err := c.getAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	return acct.Data.GetBinary(), nil
}

func (c *Client) getAccount(ctx context.Context, address solana.PublicKey) (*rpc.Account, error) {
	opts := &rpc.GetAccountInfoOpts{
		Encoding:   solana.EncodingBase64,
		Commitment: c.provider.Opts.Commitment,
	}
	isRetryable := func(err error) bool {
		return !errors.Is(err, outbound.ErrAccountNotFound)
	}

	return retry.Do(ctx, c.config.ReadRetry, isRetryable, c.onRetry("getAccountInfo"), func() (*rpc.Account, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		out, err := c.provider.Connection.GetAccountInfoWithOpts(ctx, address, opts)
		if errors.Is(err, rpc.ErrNotFound) || (err == nil && (out == nil || out.Value == nil)) {
			return nil, fmt.Errorf("%w: %s", outbound.ErrAccountNotFound, address)
		}
		if err != nil {
			return nil, fmt.Errorf("fetching account %s: %w", address, err)
		}
		return out.Value, nil
	})
}

// getProgramAccount fetches an account and checks it is owned by the program.
func (c *Client) getProgramAccount(ctx context.Context, address solana.PublicKey) ([]byte, error) {
	acct, err := c.getAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	if !acct.Owner.Equals(c.config.ProgramID) {
		return nil, fmt.Errorf("account %s is owned by %s, not the program", address, acct.Owner)
	}
	return acct.Data.GetBinary(), nil
}

func (c *Client) GetConfig(ctx context.Context, address solana.PublicKey) (*entity.Config, error) {
	data, err := c.getProgramAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	var cfg entity.Config
	if err := cfg.UnmarshalBorsh(data); err != nil {
		return nil, fmt.Errorf("config %s: %w", address, err)
	}
	return &cfg, nil
}

func (c *Client) GetOrder(ctx context.Context, address solana.PublicKey) (*entity.WhaleOrder, error) {
	data, err := c.getProgramAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	var order entity.WhaleOrder
	if err := order.UnmarshalBorsh(data); err != nil {
		return nil, fmt.Errorf("order %s: %w", address, err)
	}
	return &order, nil
}

func (c *Client) GetHolderCount(ctx context.Context, address solana.PublicKey) (*entity.HolderCount, error) {
	data, err := c.getProgramAccount(ctx, address)
	if err != nil {
		return nil, err
	}
	var h entity.HolderCount
	if err := h.UnmarshalBorsh(data); err != nil {
		return nil, fmt.Errorf("holder count %s: %w", address, err)
	}
	return &h, nil
}

// ListOrders returns every WhaleOrder account of the program. Accounts that fail
// to decode are logged and skipped.
func (c *Client) ListOrders(ctx context.Context) ([]entity.OrderSnapshot, error) {
	opts := &rpc.GetProgramAccountsOpts{
		Commitment: c.provider.Opts.Commitment,
		Encoding:   solana.EncodingBase64,
		Filters: []rpc.RPCFilter{
			{DataSize: entity.WhaleOrderSpace},
			{Memcmp: &rpc.RPCFilterMemcmp{
				Offset: 0,
				Bytes:  solana.Base58(entity.WhaleOrderDiscriminator[:]),
			}},
		},
	}

	accounts, err := retry.Do(ctx, c.config.ReadRetry, nil, c.onRetry("getProgramAccounts"), func() (rpc.GetProgramAccountsResult, error) {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, retry.Permanent(fmt.Errorf("rate limiter: %w", err))
		}
		return c.provider.Connection.GetProgramAccountsWithOpts(ctx, c.config.ProgramID, opts)
	})
	if err != nil {
		return nil, fmt.Errorf("listing orders: %w", err)
	}

	now := time.Now().UTC()
	out := make([]entity.OrderSnapshot, 0, len(accounts))
	for _, keyed := range accounts {
		if keyed == nil || keyed.Account == nil {
			continue
		}
		var order entity.WhaleOrder
		if err := order.UnmarshalBorsh(keyed.Account.Data.GetBinary()); err != nil {
			c.logger.Warn("skipping undecodable order account", "account", keyed.Pubkey, "error", err)
			continue
		}
		out = append(out, entity.OrderSnapshot{Address: keyed.Pubkey, Order: order, ObservedAt: now})
	}
	return out, nil
}

// mapProgramError attaches the program's error to err when the cluster
// reported one of its custom codes.
func mapProgramError(err error) error {
	code, ok := anchor.ParseCustomError(err.Error())
	if !ok {
		return err
	}
	pe, ok := entity.ProgramErrorFromCode(code)
	if !ok {
		return err
	}
	return fmt.Errorf("%w: %w", pe, err)
}
