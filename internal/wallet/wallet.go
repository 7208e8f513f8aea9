package wallet

import (
	"errors"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
)

var (
	ErrWalletNotFound  = errors.New("wallet not found")
	ErrWalletUsed      = errors.New("wallet already used")
	ErrWalletDestroyed = errors.New("wallet destroyed")
	ErrTokenExpired    = errors.New("resumption token expired")
	ErrTokenInvalid    = errors.New("invalid resumption token")
)

// Wallet is a single-use custodial keypair. The private key never leaves the
// package except through a minted resumption token.
type Wallet struct {
	Address   solana.PublicKey
	CreatedAt time.Time
	ExpiresAt time.Time

	mu   sync.Mutex
	key  solana.PrivateKey
	used bool
}

// Sign adds the wallet's signature to tx.
func (w *Wallet) Sign(tx *solana.Transaction) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key == nil {
		return ErrWalletDestroyed
	}
	_, err := tx.Sign(func(k solana.PublicKey) *solana.PrivateKey {
		if k.Equals(w.Address) {
			return &w.key
		}
		return nil
	})
	return err
}

// Used reports whether the wallet has been claimed by a confirm call.
func (w *Wallet) Used() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.used
}

// claim marks the wallet used. It fails once the key has been erased or
// another caller has claimed it.
func (w *Wallet) claim() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key == nil {
		return ErrWalletDestroyed
	}
	if w.used {
		return ErrWalletUsed
	}
	w.used = true
	return nil
}

func (w *Wallet) secret() solana.PrivateKey {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.key
}

func (w *Wallet) erase() {
	w.mu.Lock()
	defer w.mu.Unlock()
	clear(w.key)
	w.key = nil
}
