// Package relay swaps native SOL for a token through a single-use custodial
// wallet: quote, wait for the deposit, swap through the aggregator, and
// forward the proceeds to the caller's destination.
package relay

import (
	"context"
	"encoding/json"

	"github.com/gagliardetto/solana-go"

	"github.com/0gfoundation/swap-relay/internal/aggregator"
)

// NativeMint is the ledger's native-coin identity as seen by the aggregator.
const NativeMint = "So11111111111111111111111111111111111111112"

// Chain is satisfied by chain.Client.
type Chain interface {
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	// GetTokenBalance reports found=false when owner has no token account
	// for mint yet.
	GetTokenBalance(ctx context.Context, owner, mint solana.PublicKey) (amount uint64, found bool, err error)
	AccountExists(ctx context.Context, addr solana.PublicKey) (bool, error)
	LatestBlockhash(ctx context.Context) (solana.Hash, error)
	SubmitTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)
	ConfirmTransaction(ctx context.Context, sig solana.Signature) error
	RecentPrioritizationFees(ctx context.Context, accounts []solana.PublicKey) ([]uint64, error)
}

// Aggregator is satisfied by aggregator.Client.
type Aggregator interface {
	GetQuote(ctx context.Context, q aggregator.QuoteRequest) (*aggregator.Quote, error)
	GetSwapTransaction(ctx context.Context, quote json.RawMessage, user string, p aggregator.SwapParams) ([]byte, error)
}

func isNative(asset string) bool {
	return asset == NativeMint
}
