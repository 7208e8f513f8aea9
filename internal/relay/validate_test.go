package relay

import (
	"errors"
	"strings"
	"testing"

	"github.com/gagliardetto/solana-go"

	"github.com/0gfoundation/swap-relay/internal/aggregator"
)

func validRequest() SwapRequest {
	return SwapRequest{
		InputMint:   NativeMint,
		OutputMint:  usdcMint,
		Amount:      1_000_000,
		Destination: solana.NewWallet().PublicKey().String(),
		SlippageBps: 50,
	}
}

func TestValidateSwapRequest(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*SwapRequest)
		ok     bool
	}{
		{"valid", func(*SwapRequest) {}, true},
		{"zero slippage", func(r *SwapRequest) { r.SlippageBps = 0 }, true},
		{"max slippage", func(r *SwapRequest) { r.SlippageBps = 10_000 }, true},
		{"non-native input", func(r *SwapRequest) { r.InputMint = usdcMint }, false},
		{"empty input", func(r *SwapRequest) { r.InputMint = "" }, false},
		{"same asset", func(r *SwapRequest) { r.OutputMint = NativeMint }, false},
		{"bad output", func(r *SwapRequest) { r.OutputMint = "not-a-mint" }, false},
		{"zero amount", func(r *SwapRequest) { r.Amount = 0 }, false},
		{"bad destination", func(r *SwapRequest) { r.Destination = "0xdeadbeef" }, false},
		{"negative slippage", func(r *SwapRequest) { r.SlippageBps = -1 }, false},
		{"slippage too high", func(r *SwapRequest) { r.SlippageBps = 10_001 }, false},
	}
	for _, tc := range cases {
		req := validRequest()
		tc.mutate(&req)
		err := ValidateSwapRequest(req)
		if tc.ok && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && CodeOf(err) != CodeValidation {
			t.Errorf("%s: got %v want ValidationError", tc.name, err)
		}
	}
}

func TestValidateConfirmRequest_CancelNeedsNoQuote(t *testing.T) {
	q, err := ValidateConfirmRequest(ConfirmRequest{
		WalletAddress: solana.NewWallet().PublicKey().String(),
		Token:         "tok",
		Confirmed:     false,
	})
	if err != nil || q != nil {
		t.Fatalf("got q=%v err=%v", q, err)
	}
}

func TestValidateConfirmRequest_Structural(t *testing.T) {
	base := ConfirmRequest{
		WalletAddress: solana.NewWallet().PublicKey().String(),
		Token:         "tok",
		Destination:   solana.NewWallet().PublicKey().String(),
		Quote:         quoteRaw(1_000_000, 137_850, usdcMint, 0),
		Confirmed:     true,
	}
	if _, err := ValidateConfirmRequest(base); err != nil {
		t.Fatalf("valid request: %v", err)
	}

	bad := []func(*ConfirmRequest){
		func(r *ConfirmRequest) { r.WalletAddress = "x" },
		func(r *ConfirmRequest) { r.Token = "" },
		func(r *ConfirmRequest) { r.Destination = "" },
		func(r *ConfirmRequest) { r.Quote = nil },
		func(r *ConfirmRequest) { r.Quote = []byte(`{"inAmount":"x"}`) },
		func(r *ConfirmRequest) { r.Quote = quoteRaw(0, 1, usdcMint, 0) },
		func(r *ConfirmRequest) { r.Protection.MaxRetries = 11 },
	}
	for i, mutate := range bad {
		req := base
		mutate(&req)
		if _, err := ValidateConfirmRequest(req); CodeOf(err) != CodeValidation {
			t.Errorf("case %d: got %v want ValidationError", i, err)
		}
	}
}

func TestWarnings(t *testing.T) {
	limits := Limits{SmallAmount: 100_000, RecommendedAmount: 1_000_000, ModerateImpactPct: 1, HighImpactPct: 5}

	if w := warnings(1_000_000, nil, limits); len(w) != 0 {
		t.Errorf("no warnings expected, got %v", w)
	}
	if w := warnings(50_000, nil, limits); len(w) != 1 {
		t.Errorf("very small: got %v", w)
	}
	if w := warnings(500_000, nil, limits); len(w) != 1 {
		t.Errorf("small: got %v", w)
	}
	q, err := aggregator.ParseQuote(quoteRaw(1_000_000, 1, usdcMint, 6))
	if err != nil {
		t.Fatalf("ParseQuote: %v", err)
	}
	if w := warnings(1_000_000, q, limits); len(w) != 1 || !strings.HasPrefix(w[0], "high price impact") {
		t.Errorf("high impact: got %v", w)
	}
	q.PriceImpactPct = 2
	if w := warnings(50_000, q, limits); len(w) != 2 || !strings.HasPrefix(w[1], "moderate price impact") {
		t.Errorf("small and moderate: got %v", w)
	}
}

// ── State machine ────────────────────────────────────────────────────────────

func TestStateTransitions(t *testing.T) {
	path := []State{
		StateQuoted, StateAwaitingDeposit, StateDepositConfirmed, StateSwapSubmitted,
		StateSwapConfirmed, StateForwarding, StateCompleted,
	}
	for i := 1; i < len(path); i++ {
		if !path[i-1].CanTransition(path[i]) {
			t.Errorf("%s -> %s should be allowed", path[i-1], path[i])
		}
	}
	if StateQuoted.CanTransition(StateSwapSubmitted) {
		t.Error("skipping the deposit must not be allowed")
	}
	if StateCompleted.CanTransition(StateForwarding) {
		t.Error("terminal states have no successors")
	}
}

func TestStateDestroysWallet(t *testing.T) {
	for _, s := range []State{StateCompleted, StateCancelled, StateDepositTimeout, StateSwapFailed} {
		if !s.DestroysWallet() {
			t.Errorf("%s should destroy the wallet", s)
		}
	}
	if StateForwardFailed.DestroysWallet() {
		t.Error("FORWARD_FAILED must keep the wallet")
	}
	if StateForwarding.DestroysWallet() {
		t.Error("non-terminal state must keep the wallet")
	}
}

func TestIsNativeMatchesValidation(t *testing.T) {
	for _, asset := range []string{NativeMint, "", usdcMint} {
		req := validRequest()
		req.InputMint = asset
		accepted := ValidateSwapRequest(req) == nil
		if isNative(asset) != accepted {
			t.Errorf("asset %q: isNative=%v but validation accepted=%v", asset, isNative(asset), accepted)
		}
	}
}

func TestCodeOf(t *testing.T) {
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Error("plain error should be internal")
	}
	wrapped := errors.Join(errors.New("ctx"), newError(CodeSwapFailed, "x", nil))
	if CodeOf(wrapped) != CodeSwapFailed {
		t.Errorf("wrapped: got %s", CodeOf(wrapped))
	}
}
