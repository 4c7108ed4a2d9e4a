package provider

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Wallet is the signing identity of a provider.
type Wallet interface {
	PublicKey() solana.PublicKey

	// SignerFor returns the private key for key, or nil if this wallet does not hold it.
	SignerFor(key solana.PublicKey) *solana.PrivateKey
}

// KeypairWallet is a wallet backed by a single in-memory keypair.
type KeypairWallet struct {
	key solana.PrivateKey
}

// NewKeypairWallet wraps key.
func NewKeypairWallet(key solana.PrivateKey) *KeypairWallet {
	return &KeypairWallet{key: key}
}

// LoadKeypairWallet reads a solana-keygen JSON keypair file.
func LoadKeypairWallet(path string) (*KeypairWallet, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading keypair %s: %w", path, err)
	}
	return &KeypairWallet{key: key}, nil
}

func (w *KeypairWallet) PublicKey() solana.PublicKey {
	return w.key.PublicKey()
}

func (w *KeypairWallet) SignerFor(key solana.PublicKey) *solana.PrivateKey {
	if w.key.PublicKey().Equals(key) {
		return &w.key
	}
	return nil
}
