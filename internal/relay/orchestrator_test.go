package relay

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/wallet"
)

type harness struct {
	o       *Orchestrator
	chain   *fakeChain
	agg     *fakeAggregator
	wallets *wallet.Manager
	mr      *miniredis.Miniredis
}

func newHarness(t *testing.T, chain *fakeChain, agg *fakeAggregator) *harness {
	t.Helper()
	wallets, mr := newTestWalletsRedis(t)
	log := zap.NewNop()
	fees := newTestFees(chain)
	exec := NewExecutor(agg, chain, fees, 3, time.Second, log)
	exec.sleep = noSleep

	o := NewOrchestrator(
		wallets,
		wallet.NewTokenCodec(testSecret, time.Hour),
		agg,
		NewDepositWatcher(chain, time.Millisecond, log),
		exec,
		NewForwarder(chain, fees, time.Second, log),
		Settings{
			DepositTimeout:  50 * time.Millisecond,
			ConfirmDeadline: 5 * time.Second,
			Limits:          Limits{SmallAmount: 100_000, RecommendedAmount: 1_000_000, ModerateImpactPct: 1, HighImpactPct: 5},
			ExplorerTxURL:   "https://solscan.io/tx/",
		},
		log,
	)
	return &harness{o: o, chain: chain, agg: agg, wallets: wallets, mr: mr}
}

func (h *harness) quote(t *testing.T) (*QuoteResult, string) {
	t.Helper()
	req := validRequest()
	q, err := h.o.Quote(context.Background(), req)
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	return q, req.Destination
}

func confirmFor(q *QuoteResult, dest string) ConfirmRequest {
	return ConfirmRequest{
		WalletAddress: q.WalletAddress,
		Token:         q.Token,
		Destination:   dest,
		Quote:         q.Quote.Raw,
		Confirmed:     true,
	}
}

func (h *harness) walletGone(t *testing.T, addr string) bool {
	t.Helper()
	_, err := h.wallets.Resolve(context.Background(), addr)
	return errors.Is(err, wallet.ErrWalletNotFound)
}

// ── Quote ────────────────────────────────────────────────────────────────────

func TestOrchestratorQuote_IssuesWalletAndToken(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{outAmount: 137_850})
	q, _ := h.quote(t)

	if _, err := solana.PublicKeyFromBase58(q.WalletAddress); err != nil {
		t.Fatalf("WalletAddress %q: %v", q.WalletAddress, err)
	}
	claims, err := h.o.tokens.Decode(q.Token)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if claims.Address.String() != q.WalletAddress {
		t.Errorf("token address: got %s want %s", claims.Address, q.WalletAddress)
	}
	if q.Quote.OutAmount != 137_850 {
		t.Errorf("OutAmount: got %d", q.Quote.OutAmount)
	}
	if len(q.Instructions) != 3 || !strings.Contains(q.Instructions[0], q.WalletAddress) {
		t.Errorf("Instructions: %v", q.Instructions)
	}
	if len(q.Warnings) != 0 {
		t.Errorf("Warnings: %v", q.Warnings)
	}
	if h.wallets.Count() != 1 {
		t.Errorf("Count: got %d want 1", h.wallets.Count())
	}
}

func TestOrchestratorQuote_FreshWalletPerQuote(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{outAmount: 1})
	a, _ := h.quote(t)
	b, _ := h.quote(t)
	if a.WalletAddress == b.WalletAddress {
		t.Fatal("two quotes shared a wallet")
	}
}

func TestOrchestratorQuote_ValidationBeforeWallet(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{outAmount: 1})
	req := validRequest()
	req.Amount = 0

	_, err := h.o.Quote(context.Background(), req)
	if CodeOf(err) != CodeValidation {
		t.Fatalf("got %v want ValidationError", err)
	}
	if h.wallets.Count() != 0 {
		t.Errorf("wallet created for invalid request")
	}
}

func TestOrchestratorQuote_ZeroOutputDestroysWallet(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{outAmount: 0})

	_, err := h.o.Quote(context.Background(), validRequest())
	if CodeOf(err) != CodeQuoteInvalid {
		t.Fatalf("got %v want QuoteInvalid", err)
	}
	if h.wallets.Count() != 0 {
		t.Errorf("wallet leaked after failed quote")
	}
}

func TestOrchestratorQuote_AggregatorError(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{quoteErr: errors.New("no route")})

	_, err := h.o.Quote(context.Background(), validRequest())
	if CodeOf(err) != CodeQuoteInvalid {
		t.Fatalf("got %v want QuoteInvalid", err)
	}
	if h.wallets.Count() != 0 {
		t.Errorf("wallet leaked after failed quote")
	}
}

// ── Confirm ──────────────────────────────────────────────────────────────────

func TestOrchestratorConfirm_Completed(t *testing.T) {
	chain := &fakeChain{
		balances:      []uint64{0, 1_000_000},
		tokenBalance:  137_850,
		tokenFound:    true,
		accountExists: true,
	}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 137_850})
	q, dest := h.quote(t)

	res, err := h.o.Confirm(context.Background(), confirmFor(q, dest))
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Status != StateCompleted {
		t.Errorf("Status: got %s", res.Status)
	}
	if res.SwapTx == "" || res.ForwardTx == "" || res.SwapTx == res.ForwardTx {
		t.Errorf("tx ids: swap=%q forward=%q", res.SwapTx, res.ForwardTx)
	}
	if res.Details.OutputAmount != 137_850 || res.Details.InputAmount != 1_000_000 {
		t.Errorf("Details: %+v", res.Details)
	}
	if res.SwapLink != "https://solscan.io/tx/"+res.SwapTx {
		t.Errorf("SwapLink: got %q", res.SwapLink)
	}
	if res.RelayID == "" {
		t.Error("RelayID empty")
	}
	if chain.submitCount() != 2 {
		t.Errorf("submits: got %d want 2 (swap + forward)", chain.submitCount())
	}
	if !h.walletGone(t, q.WalletAddress) {
		t.Error("wallet survived completion")
	}
}

func TestOrchestratorConfirm_CancelSkipsChain(t *testing.T) {
	chain := &fakeChain{}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 1})
	q, _ := h.quote(t)

	res, err := h.o.Confirm(context.Background(), ConfirmRequest{
		WalletAddress: q.WalletAddress,
		Token:         q.Token,
		Confirmed:     false,
	})
	if err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	if res.Status != StateCancelled {
		t.Errorf("Status: got %s", res.Status)
	}
	if chain.balanceCallCount() != 0 || chain.submitCount() != 0 {
		t.Errorf("cancel touched the chain: balances=%d submits=%d", chain.balanceCallCount(), chain.submitCount())
	}
	if !h.walletGone(t, q.WalletAddress) {
		t.Error("wallet survived cancel")
	}
}

func TestOrchestratorConfirm_ConfirmAfterCancelRejected(t *testing.T) {
	chain := &fakeChain{balances: []uint64{1_000_000}}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 1})
	q, dest := h.quote(t)

	cancelReq := confirmFor(q, dest)
	cancelReq.Confirmed = false
	if _, err := h.o.Confirm(context.Background(), cancelReq); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	_, err := h.o.Confirm(context.Background(), confirmFor(q, dest))
	if CodeOf(err) != CodeWalletUsed {
		t.Fatalf("got %v want WalletUsed", err)
	}
	if chain.balanceCallCount() != 0 {
		t.Errorf("confirm on a cancelled wallet polled the chain")
	}
	if h.mr.Exists("relay:wallet:" + q.WalletAddress) {
		t.Error("wallet record recreated after cancel")
	}
}

func TestOrchestratorConfirm_DepositTimeout(t *testing.T) {
	chain := &fakeChain{balances: []uint64{0, 10}}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 1})
	q, dest := h.quote(t)

	_, err := h.o.Confirm(context.Background(), confirmFor(q, dest))
	re := relayErr(t, err)
	if re.Code != CodeDepositTimeout || re.State != StateDepositTimeout {
		t.Fatalf("got %s/%s", re.Code, re.State)
	}
	if re.Details["observed"] != uint64(10) {
		t.Errorf("observed: got %v", re.Details["observed"])
	}
	if chain.submitCount() != 0 {
		t.Errorf("submitted without deposit")
	}
	if !h.walletGone(t, q.WalletAddress) {
		t.Error("wallet survived deposit timeout")
	}
}

func TestOrchestratorConfirm_SwapFailedDestroysWallet(t *testing.T) {
	chain := &fakeChain{balances: []uint64{1_000_000}}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 1, swapErr: errors.New("route expired")})
	q, dest := h.quote(t)

	_, err := h.o.Confirm(context.Background(), confirmFor(q, dest))
	re := relayErr(t, err)
	if re.Code != CodeSwapFailed || re.State != StateSwapFailed {
		t.Fatalf("got %s/%s", re.Code, re.State)
	}
	if !h.walletGone(t, q.WalletAddress) {
		t.Error("wallet survived swap failure")
	}
}

func TestOrchestratorConfirm_ForwardFailedStrandsWallet(t *testing.T) {
	chain := &fakeChain{balances: []uint64{1_000_000}, tokenFound: false}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 1})
	q, dest := h.quote(t)

	_, err := h.o.Confirm(context.Background(), confirmFor(q, dest))
	re := relayErr(t, err)
	if re.Code != CodeForwardFailed || re.Reason != ReasonNoTokensToTransfer {
		t.Fatalf("got %s/%s", re.Code, re.Reason)
	}
	if re.State != StateForwardFailed {
		t.Errorf("State: got %s", re.State)
	}
	if re.Details["wallet"] != q.WalletAddress || re.Details["swapTransaction"] == nil {
		t.Errorf("Details: %v", re.Details)
	}
	if h.walletGone(t, q.WalletAddress) {
		t.Fatal("wallet destroyed after forward failure")
	}
	if got := h.mr.HGet("relay:wallet:"+q.WalletAddress, "stranded"); got != "1" {
		t.Errorf("stranded: got %q want 1", got)
	}
}

func TestOrchestratorConfirm_SecondConfirmRejected(t *testing.T) {
	chain := &fakeChain{balances: []uint64{1_000_000}, tokenBalance: 5, tokenFound: true, accountExists: true}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 5})
	q, dest := h.quote(t)

	if _, err := h.o.Confirm(context.Background(), confirmFor(q, dest)); err != nil {
		t.Fatalf("first Confirm: %v", err)
	}
	_, err := h.o.Confirm(context.Background(), confirmFor(q, dest))
	if CodeOf(err) != CodeWalletUsed {
		t.Fatalf("got %v want WalletUsed", err)
	}
	if chain.submitCount() != 2 {
		t.Errorf("replay submitted transactions: %d", chain.submitCount())
	}
}

func TestOrchestratorConfirm_ExpiredToken(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{outAmount: 1})
	q, dest := h.quote(t)
	h.o.tokens.Now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	_, err := h.o.Confirm(context.Background(), confirmFor(q, dest))
	if CodeOf(err) != CodeTokenExpired {
		t.Fatalf("got %v want TokenExpired", err)
	}
}

func TestOrchestratorConfirm_TamperedToken(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{outAmount: 1})
	q, dest := h.quote(t)

	req := confirmFor(q, dest)
	b := []byte(req.Token)
	if b[0] == 'e' {
		b[0] = 'f'
	} else {
		b[0] = 'e'
	}
	req.Token = string(b)

	_, err := h.o.Confirm(context.Background(), req)
	if CodeOf(err) != CodeTokenInvalid {
		t.Fatalf("got %v want TokenInvalid", err)
	}
}

func TestOrchestratorConfirm_TokenForOtherWallet(t *testing.T) {
	h := newHarness(t, &fakeChain{}, &fakeAggregator{outAmount: 1})
	a, dest := h.quote(t)
	b, _ := h.quote(t)

	req := confirmFor(a, dest)
	req.Token = b.Token
	_, err := h.o.Confirm(context.Background(), req)
	if CodeOf(err) != CodeTokenInvalid {
		t.Fatalf("got %v want TokenInvalid", err)
	}
}

func TestOrchestratorConfirm_RestoresWalletFromToken(t *testing.T) {
	chain := &fakeChain{balances: []uint64{1_000_000}, tokenBalance: 5, tokenFound: true, accountExists: true}
	h := newHarness(t, chain, &fakeAggregator{outAmount: 5})
	q, dest := h.quote(t)

	// Simulate a restart that lost both memory and the durable record.
	other := newHarness(t, chain, h.agg)
	if _, err := other.o.Confirm(context.Background(), confirmFor(q, dest)); err != nil {
		t.Fatalf("Confirm on fresh instance: %v", err)
	}
}
