// Package provider bundles a cluster connection with a signing identity and
// keeps one of them as the process-wide default, the way Anchor clients do.
//
//	p, err := provider.Local()
//	if err != nil {
//	    return err
//	}
//	provider.SetProvider(p)
//
// Later calls that need to talk to the cluster use provider.Default().
package provider

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/archon-research/liquidity-manager/internal/pkg/env"
)

// Environment variables read by Local and Env.
const (
	EnvWallet      = "ANCHOR_WALLET"
	EnvProviderURL = "ANCHOR_PROVIDER_URL"
)

// LocalURL is the RPC endpoint of a local test validator.
const LocalURL = rpc.LocalNet_RPC

var (
	// ErrNoProvider is returned by Default before SetProvider was called.
	ErrNoProvider = errors.New("no provider registered")

	// ErrTransactionFailed wraps an on-chain execution error reported by the cluster.
	ErrTransactionFailed = errors.New("transaction failed")
)

// RPCClient is the subset of *rpc.Client the provider and its users need.
type RPCClient interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, signatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error)
	GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error)
	GetTransaction(ctx context.Context, signature solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error)
	GetHealth(ctx context.Context) (string, error)
}

// Compile-time check that the solana-go client satisfies RPCClient.
var _ RPCClient = (*rpc.Client)(nil)

// ConfirmOptions controls how transactions are sent and confirmed.
type ConfirmOptions struct {
	// Commitment SendAndConfirm waits for.
	Commitment rpc.CommitmentType

	// PreflightCommitment is used for simulation and the recent blockhash.
	PreflightCommitment rpc.CommitmentType

	// SkipPreflight sends without simulating first.
	SkipPreflight bool

	// PollInterval between signature status checks.
	PollInterval time.Duration
}

// DefaultConfirmOptions mirrors the defaults of a local Anchor provider.
func DefaultConfirmOptions() ConfirmOptions {
	return ConfirmOptions{
		Commitment:          rpc.CommitmentProcessed,
		PreflightCommitment: rpc.CommitmentProcessed,
		PollInterval:        250 * time.Millisecond,
	}
}

// Provider is a connection to a cluster plus the wallet that pays for and
// signs transactions.
type Provider struct {
	URL        string
	Connection RPCClient
	Wallet     Wallet
	Opts       ConfirmOptions
}

type options struct {
	url        string
	wallet     Wallet
	connection RPCClient
	confirm    *ConfirmOptions
}

// Option customises Local and Env.
type Option func(*options)

// WithURL overrides the RPC endpoint.
func WithURL(url string) Option {
	return func(o *options) { o.url = url }
}

// WithWallet uses w instead of loading ANCHOR_WALLET.
func WithWallet(w Wallet) Option {
	return func(o *options) { o.wallet = w }
}

// WithConnection uses an existing client instead of dialing URL.
func WithConnection(c RPCClient) Option {
	return func(o *options) { o.connection = c }
}

// WithConfirmOptions overrides the send and confirm settings.
func WithConfirmOptions(c ConfirmOptions) Option {
	return func(o *options) { o.confirm = &c }
}

// Local returns a provider for the local validator at LocalURL. The wallet is
// the keypair file named by ANCHOR_WALLET unless WithWallet is given.
func Local(opts ...Option) (*Provider, error) {
	return build(LocalURL, opts)
}

// Env returns a provider for the cluster named by ANCHOR_PROVIDER_URL.
func Env(opts ...Option) (*Provider, error) {
	url, err := env.Require(EnvProviderURL)
	if err != nil {
		return nil, err
	}
	return build(url, opts)
}

func build(defaultURL string, opts []Option) (*Provider, error) {
	o := options{url: defaultURL}
	for _, opt := range opts {
		opt(&o)
	}

	if o.wallet == nil {
		path, err := env.Require(EnvWallet)
		if err != nil {
			return nil, fmt.Errorf("loading wallet: %w", err)
		}
		w, err := LoadKeypairWallet(path)
		if err != nil {
			return nil, err
		}
		o.wallet = w
	}

	confirm := DefaultConfirmOptions()
	if o.confirm != nil {
		confirm = *o.confirm
	}
	if confirm.PollInterval <= 0 {
		confirm.PollInterval = DefaultConfirmOptions().PollInterval
	}

	conn := o.connection
	if conn == nil {
		conn = rpc.New(o.url)
	}

	return &Provider{
		URL:        o.url,
		Connection: conn,
		Wallet:     o.wallet,
		Opts:       confirm,
	}, nil
}

var defaultProvider atomic.Pointer[Provider]

// SetProvider registers p as the process-wide default.
func SetProvider(p *Provider) {
	defaultProvider.Store(p)
}

// Default returns the registered provider.
func Default() (*Provider, error) {
	p := defaultProvider.Load()
	if p == nil {
		return nil, ErrNoProvider
	}
	return p, nil
}

// PublicKey is the wallet address, which also pays transaction fees.
func (p *Provider) PublicKey() solana.PublicKey {
	return p.Wallet.PublicKey()
}

// Ping checks that the node reports itself healthy.
func (p *Provider) Ping(ctx context.Context) error {
	status, err := p.Connection.GetHealth(ctx)
	if err != nil {
		return fmt.Errorf("checking node health: %w", err)
	}
	if status != rpc.HealthOk {
		return fmt.Errorf("node unhealthy: %s", status)
	}
	return nil
}

// SendAndConfirm builds a transaction from ixs paid by the wallet, signs it with
// the wallet and any extra signers, sends it and waits for Opts.Commitment.
func (p *Provider) SendAndConfirm(ctx context.Context, ixs []solana.Instruction, signers ...solana.PrivateKey) (solana.Signature, error) {
	recent, err := p.Connection.GetLatestBlockhash(ctx, p.Opts.PreflightCommitment)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("fetching recent blockhash: %w", err)
	}
	if recent == nil || recent.Value == nil {
		return solana.Signature{}, fmt.Errorf("fetching recent blockhash: empty response")
	}

	tx, err := solana.NewTransaction(ixs, recent.Value.Blockhash, solana.TransactionPayer(p.PublicKey()))
	if err != nil {
		return solana.Signature{}, fmt.Errorf("building transaction: %w", err)
	}

	if _, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if k := p.Wallet.SignerFor(key); k != nil {
			return k
		}
		for i := range signers {
			if signers[i].PublicKey().Equals(key) {
				return &signers[i]
			}
		}
		return nil
	}); err != nil {
		return solana.Signature{}, fmt.Errorf("signing transaction: %w", err)
	}

	sig, err := p.Connection.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       p.Opts.SkipPreflight,
		PreflightCommitment: p.Opts.PreflightCommitment,
	})
	if err != nil {
		return solana.Signature{}, fmt.Errorf("sending transaction: %w", err)
	}

	if err := p.Confirm(ctx, sig); err != nil {
		return sig, err
	}
	return sig, nil
}

// Confirm polls the signature status until it reaches Opts.Commitment, the
// transaction reports an error, or ctx is done.
func (p *Provider) Confirm(ctx context.Context, sig solana.Signature) error {
	ticker := time.NewTicker(p.Opts.PollInterval)
	defer ticker.Stop()

	for {
		out, err := p.Connection.GetSignatureStatuses(ctx, false, sig)
		if err != nil {
			return fmt.Errorf("fetching signature status: %w", err)
		}
		if out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("%w: %s: %v", ErrTransactionFailed, sig, status.Err)
			}
			if reached(status.ConfirmationStatus, p.Opts.Commitment) {
				return nil
			}
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("confirming %s: %w", sig, ctx.Err())
		case <-ticker.C:
		}
	}
}

func rank(c rpc.ConfirmationStatusType) int {
	switch c {
	case rpc.ConfirmationStatusProcessed:
		return 1
	case rpc.ConfirmationStatusConfirmed:
		return 2
	case rpc.ConfirmationStatusFinalized:
		return 3
	default:
		return 0
	}
}

func reached(have rpc.ConfirmationStatusType, want rpc.CommitmentType) bool {
	var need int
	switch want {
	case rpc.CommitmentFinalized:
		need = 3
	case rpc.CommitmentConfirmed:
		need = 2
	default:
		need = 1
	}
	return rank(have) >= need
}
