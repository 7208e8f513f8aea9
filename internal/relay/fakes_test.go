package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"filippo.io/age"
	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/aggregator"
	"github.com/0gfoundation/swap-relay/internal/wallet"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

var errRPC = errors.New("rpc unavailable")

// ── Fake chain ────────────────────────────────────────────────────────────────

type fakeChain struct {
	mu sync.Mutex

	// balances are returned by successive GetBalance calls; the last repeats.
	balances     []uint64
	balanceErrs  []error
	balanceCalls int

	tokenBalance uint64
	tokenFound   bool
	tokenErr     error

	accountExists bool

	submitErrs []error
	submits    []*solana.Transaction

	confirmErr   error
	confirmCalls int

	fees    []uint64
	feesErr error
}

func (f *fakeChain) GetBalance(_ context.Context, _ solana.PublicKey) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.balanceCalls
	f.balanceCalls++
	if i < len(f.balanceErrs) && f.balanceErrs[i] != nil {
		return 0, f.balanceErrs[i]
	}
	if len(f.balances) == 0 {
		return 0, nil
	}
	return f.balances[min(i, len(f.balances)-1)], nil
}

func (f *fakeChain) GetTokenBalance(_ context.Context, _, _ solana.PublicKey) (uint64, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tokenBalance, f.tokenFound, f.tokenErr
}

func (f *fakeChain) AccountExists(_ context.Context, _ solana.PublicKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountExists, nil
}

func (f *fakeChain) LatestBlockhash(_ context.Context) (solana.Hash, error) {
	return solana.Hash{7}, nil
}

func (f *fakeChain) SubmitTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.submits)
	f.submits = append(f.submits, tx)
	if i < len(f.submitErrs) && f.submitErrs[i] != nil {
		return solana.Signature{}, f.submitErrs[i]
	}
	return solana.Signature{byte(i + 1)}, nil
}

func (f *fakeChain) ConfirmTransaction(ctx context.Context, _ solana.Signature) error {
	f.mu.Lock()
	f.confirmCalls++
	err := f.confirmErr
	f.mu.Unlock()
	if errors.Is(err, context.DeadlineExceeded) {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (f *fakeChain) RecentPrioritizationFees(_ context.Context, _ []solana.PublicKey) ([]uint64, error) {
	return f.fees, f.feesErr
}

func (f *fakeChain) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.submits)
}

func (f *fakeChain) balanceCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.balanceCalls
}

// ── Fake aggregator ───────────────────────────────────────────────────────────

type fakeAggregator struct {
	mu sync.Mutex

	outAmount   uint64
	impactPct   float64
	quoteErr    error
	swapErr     error
	swapCalls   int
	lastParams  aggregator.SwapParams
	lastRequest aggregator.QuoteRequest
}

func quoteRaw(in, out uint64, outputMint string, impact float64) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(
		`{"inputMint":%q,"inAmount":"%d","outputMint":%q,"outAmount":"%d","slippageBps":50,"priceImpactPct":"%g","routePlan":[]}`,
		NativeMint, in, outputMint, out, impact,
	))
}

func (a *fakeAggregator) GetQuote(_ context.Context, q aggregator.QuoteRequest) (*aggregator.Quote, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.lastRequest = q
	if a.quoteErr != nil {
		return nil, a.quoteErr
	}
	return aggregator.ParseQuote(quoteRaw(q.Amount, a.outAmount, q.OutputMint, a.impactPct))
}

// GetSwapTransaction returns a serialized transfer signed-for by user.
func (a *fakeAggregator) GetSwapTransaction(_ context.Context, _ json.RawMessage, user string, p aggregator.SwapParams) ([]byte, error) {
	a.mu.Lock()
	a.swapCalls++
	a.lastParams = p
	err := a.swapErr
	a.mu.Unlock()
	if err != nil {
		return nil, err
	}
	payer, err := solana.PublicKeyFromBase58(user)
	if err != nil {
		return nil, err
	}
	tx, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1, payer, solana.NewWallet().PublicKey()).Build()},
		solana.Hash{9},
		solana.TransactionPayer(payer),
	)
	if err != nil {
		return nil, err
	}
	return tx.MarshalBinary()
}

// ── Wiring helpers ────────────────────────────────────────────────────────────

var testSecret = []byte("0123456789abcdef0123456789abcdef")

func newTestWallets(t *testing.T) *wallet.Manager {
	t.Helper()
	m, _ := newTestWalletsRedis(t)
	return m
}

func newTestWalletsRedis(t *testing.T) (*wallet.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	id, err := age.GenerateX25519Identity()
	if err != nil {
		t.Fatalf("GenerateX25519Identity: %v", err)
	}
	return wallet.NewManager(wallet.NewStore(rdb, id), time.Hour, 30*time.Minute, zap.NewNop()), mr
}

func newTestWallet(t *testing.T, m *wallet.Manager) *wallet.Wallet {
	t.Helper()
	w, err := m.Create(context.Background())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return w
}

func newTestFees(c Chain) *FeeEstimator {
	return NewFeeEstimator(c, solana.MustPublicKeyFromBase58(aggregator.ProgramID), 10_000_000, zap.NewNop())
}

func noSleep(context.Context, time.Duration) error { return nil }

func relayErr(t *testing.T, err error) *Error {
	t.Helper()
	var re *Error
	if !errors.As(err, &re) {
		t.Fatalf("expected *relay.Error, got %T: %v", err, err)
	}
	return re
}
