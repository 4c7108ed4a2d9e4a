package provider

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
)

func newKey(t *testing.T) solana.PrivateKey {
	t.Helper()
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	return key
}

// writeKeypairFile stores key in the solana-keygen JSON format.
func writeKeypairFile(t *testing.T, key solana.PrivateKey) string {
	t.Helper()
	ints := make([]int, len(key))
	for i, b := range key {
		ints[i] = int(b)
	}
	data, err := json.Marshal(ints)
	if err != nil {
		t.Fatalf("encoding keypair: %v", err)
	}
	path := filepath.Join(t.TempDir(), "id.json")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatalf("writing keypair: %v", err)
	}
	return path
}

// mockRPC implements RPCClient.
type mockRPC struct {
	mu       sync.Mutex
	statuses []*rpc.SignatureStatusesResult
	sent     []*solana.Transaction
	sendErr  error
	health   string
}

func (m *mockRPC) GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error) {
	return &rpc.GetLatestBlockhashResult{
		Value: &rpc.LatestBlockhashResult{Blockhash: solana.Hash{9}},
	}, nil
}

func (m *mockRPC) SendTransactionWithOpts(ctx context.Context, tx *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return solana.Signature{}, m.sendErr
	}
	m.sent = append(m.sent, tx)
	return tx.Signatures[0], nil
}

func (m *mockRPC) GetSignatureStatuses(ctx context.Context, search bool, sigs ...solana.Signature) (*rpc.GetSignatureStatusesResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var next *rpc.SignatureStatusesResult
	if len(m.statuses) > 0 {
		next = m.statuses[0]
		m.statuses = m.statuses[1:]
	}
	return &rpc.GetSignatureStatusesResult{Value: []*rpc.SignatureStatusesResult{next}}, nil
}

func (m *mockRPC) GetAccountInfoWithOpts(ctx context.Context, account solana.PublicKey, opts *rpc.GetAccountInfoOpts) (*rpc.GetAccountInfoResult, error) {
	return nil, rpc.ErrNotFound
}

func (m *mockRPC) GetProgramAccountsWithOpts(ctx context.Context, program solana.PublicKey, opts *rpc.GetProgramAccountsOpts) (rpc.GetProgramAccountsResult, error) {
	return nil, nil
}

func (m *mockRPC) GetTransaction(ctx context.Context, sig solana.Signature, opts *rpc.GetTransactionOpts) (*rpc.GetTransactionResult, error) {
	return nil, rpc.ErrNotFound
}

func (m *mockRPC) GetHealth(ctx context.Context) (string, error) {
	return m.health, nil
}

func memoInstruction(signer solana.PublicKey) solana.Instruction {
	return solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.Meta(signer).SIGNER()},
		[]byte("hello"),
	)
}

func TestLocal_MissingWallet(t *testing.T) {
	t.Setenv(EnvWallet, "")
	if _, err := Local(); err == nil || !strings.Contains(err.Error(), EnvWallet) {
		t.Fatalf("expected error naming %s, got %v", EnvWallet, err)
	}
}

func TestLocal_UnreadableWallet(t *testing.T) {
	t.Setenv(EnvWallet, filepath.Join(t.TempDir(), "missing.json"))
	if _, err := Local(); err == nil {
		t.Fatal("expected error for missing keypair file")
	}
}

func TestLocal_Defaults(t *testing.T) {
	key := newKey(t)
	t.Setenv(EnvWallet, writeKeypairFile(t, key))

	p, err := Local()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.URL != "http://127.0.0.1:8899" {
		t.Errorf("expected local URL, got %s", p.URL)
	}
	if !p.PublicKey().Equals(key.PublicKey()) {
		t.Errorf("expected wallet %s, got %s", key.PublicKey(), p.PublicKey())
	}
	if p.Opts.Commitment != rpc.CommitmentProcessed || p.Opts.PreflightCommitment != rpc.CommitmentProcessed {
		t.Errorf("unexpected commitments %+v", p.Opts)
	}
}

func TestEnv(t *testing.T) {
	w := NewKeypairWallet(newKey(t))

	t.Setenv(EnvProviderURL, "")
	if _, err := Env(WithWallet(w)); err == nil {
		t.Fatal("expected error without ANCHOR_PROVIDER_URL")
	}

	t.Setenv(EnvProviderURL, "http://validator:8899")
	p, err := Env(WithWallet(w))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if p.URL != "http://validator:8899" {
		t.Errorf("expected env URL, got %s", p.URL)
	}
}

func TestDefault_Unset(t *testing.T) {
	prev := defaultProvider.Swap(nil)
	t.Cleanup(func() { defaultProvider.Store(prev) })

	if _, err := Default(); !errors.Is(err, ErrNoProvider) {
		t.Fatalf("expected ErrNoProvider, got %v", err)
	}
}

func TestSendAndConfirm(t *testing.T) {
	wallet := NewKeypairWallet(newKey(t))
	extra := newKey(t)

	tests := []struct {
		name     string
		opts     ConfirmOptions
		statuses []*rpc.SignatureStatusesResult
		wantErr  error
	}{
		{
			name: "confirmed after polling",
			opts: ConfirmOptions{Commitment: rpc.CommitmentConfirmed, PollInterval: time.Millisecond},
			statuses: []*rpc.SignatureStatusesResult{
				nil,
				{ConfirmationStatus: rpc.ConfirmationStatusProcessed},
				{ConfirmationStatus: rpc.ConfirmationStatusConfirmed},
			},
		},
		{
			name: "execution error",
			opts: ConfirmOptions{Commitment: rpc.CommitmentProcessed, PollInterval: time.Millisecond},
			statuses: []*rpc.SignatureStatusesResult{
				{Err: map[string]any{"InstructionError": []any{0, map[string]any{"Custom": 6001}}}},
			},
			wantErr: ErrTransactionFailed,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn := &mockRPC{statuses: tt.statuses}
			p, err := Local(WithWallet(wallet), WithConnection(conn), WithConfirmOptions(tt.opts))
			if err != nil {
				t.Fatalf("building provider: %v", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()

			ixs := []solana.Instruction{memoInstruction(wallet.PublicKey()), memoInstruction(extra.PublicKey())}
			sig, err := p.SendAndConfirm(ctx, ixs, extra)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(conn.sent) != 1 {
				t.Fatalf("expected 1 transaction, got %d", len(conn.sent))
			}
			tx := conn.sent[0]
			if len(tx.Signatures) != 2 {
				t.Errorf("expected 2 signatures, got %d", len(tx.Signatures))
			}
			if sig != tx.Signatures[0] {
				t.Errorf("returned signature does not match fee payer signature")
			}
			if !tx.Message.AccountKeys[0].Equals(wallet.PublicKey()) {
				t.Errorf("wallet must pay fees")
			}
		})
	}
}

func TestSendAndConfirm_UnknownSigner(t *testing.T) {
	wallet := NewKeypairWallet(newKey(t))
	stranger := newKey(t)
	p, err := Local(WithWallet(wallet), WithConnection(&mockRPC{}))
	if err != nil {
		t.Fatalf("building provider: %v", err)
	}

	_, err = p.SendAndConfirm(context.Background(), []solana.Instruction{memoInstruction(stranger.PublicKey())})
	if err == nil || !strings.Contains(err.Error(), "signing transaction") {
		t.Fatalf("expected signing error, got %v", err)
	}
}

func TestConfirm_ContextCancelled(t *testing.T) {
	p, err := Local(WithWallet(NewKeypairWallet(newKey(t))), WithConnection(&mockRPC{}),
		WithConfirmOptions(ConfirmOptions{PollInterval: time.Millisecond}))
	if err != nil {
		t.Fatalf("building provider: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := p.Confirm(ctx, solana.Signature{1}); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestPing(t *testing.T) {
	w := NewKeypairWallet(newKey(t))

	healthy, _ := Local(WithWallet(w), WithConnection(&mockRPC{health: rpc.HealthOk}))
	if err := healthy.Ping(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	behind, _ := Local(WithWallet(w), WithConnection(&mockRPC{health: "behind"}))
	if err := behind.Ping(context.Background()); err == nil {
		t.Error("expected error for unhealthy node")
	}
}
