package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/aggregator"
	"github.com/0gfoundation/swap-relay/internal/wallet"
)

// Settings tune the orchestrator.
type Settings struct {
	DepositTimeout  time.Duration
	ConfirmDeadline time.Duration
	Limits          Limits
	ExplorerTxURL   string
}

type QuoteResult struct {
	WalletAddress string
	Token         string
	Quote         *aggregator.Quote
	Warnings      []string
	Instructions  []string
	ExpiresAt     time.Time
}

type SwapDetails struct {
	InputMint          string
	OutputMint         string
	InputAmount        uint64
	QuotedOutputAmount uint64
	OutputAmount       uint64
}

type ConfirmResult struct {
	RelayID     string
	Status      State
	SwapTx      string
	ForwardTx   string
	Details     *SwapDetails
	SwapLink    string
	ForwardLink string
	CompletedAt time.Time
}

// Orchestrator runs the two-phase quote/confirm protocol.
type Orchestrator struct {
	wallets   *wallet.Manager
	tokens    *wallet.TokenCodec
	agg       Aggregator
	watcher   *DepositWatcher
	executor  *Executor
	forwarder *Forwarder
	settings  Settings
	log       *zap.Logger
}

func NewOrchestrator(
	wallets *wallet.Manager,
	tokens *wallet.TokenCodec,
	agg Aggregator,
	watcher *DepositWatcher,
	executor *Executor,
	forwarder *Forwarder,
	settings Settings,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		wallets:   wallets,
		tokens:    tokens,
		agg:       agg,
		watcher:   watcher,
		executor:  executor,
		forwarder: forwarder,
		settings:  settings,
		log:       log,
	}
}

// Quote validates req, creates the relay wallet, and prices the swap.
func (o *Orchestrator) Quote(ctx context.Context, req SwapRequest) (*QuoteResult, error) {
	if err := ValidateSwapRequest(req); err != nil {
		return nil, err
	}

	w, err := o.wallets.Create(ctx)
	if err != nil {
		return nil, fmt.Errorf("create wallet: %w", err)
	}
	addr := w.Address.String()

	q, err := o.agg.GetQuote(ctx, aggregator.QuoteRequest{
		InputMint:   req.InputMint,
		OutputMint:  req.OutputMint,
		Amount:      req.Amount,
		SlippageBps: req.SlippageBps,
		Protected:   req.Protected,
	})
	if err != nil {
		o.wallets.Destroy(ctx, addr)
		return nil, newError(CodeQuoteInvalid, "aggregator quote failed", err)
	}
	if err := validateQuote(q); err != nil {
		o.wallets.Destroy(ctx, addr)
		return nil, err
	}

	token, expiresAt, err := o.tokens.Mint(w)
	if err != nil {
		o.wallets.Destroy(ctx, addr)
		return nil, fmt.Errorf("mint token: %w", err)
	}

	o.log.Info("relay quoted",
		zap.String("wallet", addr),
		zap.String("output_mint", req.OutputMint),
		zap.Uint64("in_amount", q.InAmount),
		zap.Uint64("out_amount", q.OutAmount),
		zap.Float64("price_impact_pct", q.PriceImpactPct),
	)
	return &QuoteResult{
		WalletAddress: addr,
		Token:         token,
		Quote:         q,
		Warnings:      warnings(req.Amount, q, o.settings.Limits),
		Instructions: []string{
			fmt.Sprintf("Send %d lamports (%s SOL) to %s", q.InAmount, formatSOL(q.InAmount), addr),
			"Include a small extra amount to cover network and account fees",
			fmt.Sprintf("Call confirm with the resumption token before %s", expiresAt.UTC().Format(time.RFC3339)),
		},
		ExpiresAt: expiresAt,
	}, nil
}

// run tracks one confirm through its states.
type run struct {
	id    string
	state State
	log   *zap.Logger
}

func (r *run) advance(to State) {
	if !r.state.CanTransition(to) {
		r.log.Error("invalid relay transition", zap.String("from", string(r.state)), zap.String("to", string(to)))
	}
	r.log.Info("relay state", zap.String("from", string(r.state)), zap.String("to", string(to)))
	r.state = to
}

// Confirm resumes a quoted relay and drives it to a terminal state.
func (o *Orchestrator) Confirm(ctx context.Context, req ConfirmRequest) (*ConfirmResult, error) {
	quote, err := ValidateConfirmRequest(req)
	if err != nil {
		return nil, err
	}

	claims, err := o.tokens.Decode(req.Token)
	switch {
	case errors.Is(err, wallet.ErrTokenExpired):
		return nil, newError(CodeTokenExpired, "resumption token expired", nil)
	case err != nil:
		return nil, newError(CodeTokenInvalid, "resumption token rejected", nil)
	}
	if claims.Address.String() != req.WalletAddress {
		return nil, newError(CodeTokenInvalid, "token does not belong to wallet", nil).with("walletAddress", req.WalletAddress)
	}

	r := &run{id: uuid.NewString(), state: StateQuoted}
	r.log = o.log.With(zap.String("relay", r.id), zap.String("wallet", req.WalletAddress))

	if !req.Confirmed {
		if err := o.wallets.Cancel(ctx, req.WalletAddress); err != nil {
			return nil, newError(CodeWalletUsed, "wallet already claimed by a confirm", nil)
		}
		r.advance(StateCancelled)
		return &ConfirmResult{RelayID: r.id, Status: StateCancelled}, nil
	}

	w, err := o.wallets.Acquire(ctx, req.WalletAddress, claims)
	switch {
	case errors.Is(err, wallet.ErrWalletUsed), errors.Is(err, wallet.ErrWalletDestroyed):
		return nil, newError(CodeWalletUsed, "wallet already used by another confirm", nil)
	case errors.Is(err, wallet.ErrWalletNotFound):
		return nil, newError(CodeWalletNotFound, "wallet not found", err)
	case err != nil:
		return nil, fmt.Errorf("acquire wallet: %w", err)
	}

	if o.settings.ConfirmDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.settings.ConfirmDeadline)
		defer cancel()
	}
	dest, _ := solana.PublicKeyFromBase58(req.Destination)

	res, err := o.drive(ctx, r, w, dest, quote, req)
	o.finish(r, req.WalletAddress)
	if err != nil {
		var re *Error
		if errors.As(err, &re) {
			re.State = r.state
		}
		r.log.Error("relay failed", zap.String("state", string(r.state)), zap.Error(err))
		return nil, err
	}
	return res, nil
}

func (o *Orchestrator) drive(ctx context.Context, r *run, w *wallet.Wallet, dest solana.PublicKey, quote *aggregator.Quote, req ConfirmRequest) (*ConfirmResult, error) {
	r.advance(StateAwaitingDeposit)
	if _, err := o.watcher.WaitForDeposit(ctx, w.Address, NativeMint, quote.InAmount, o.settings.DepositTimeout); err != nil {
		r.advance(StateDepositTimeout)
		return nil, err
	}
	r.advance(StateDepositConfirmed)

	if req.Protection.UseBundling {
		r.log.Info("bundle submission requested, submitting through rpc")
	}
	opts := SwapOptions{Protected: req.Protection.Enable, MaxRetries: req.Protection.MaxRetries}
	swapSig, err := o.executor.Submit(ctx, w, req.Quote, opts)
	if err != nil {
		r.advance(StateSwapFailed)
		return nil, err
	}
	r.advance(StateSwapSubmitted)
	if err := o.executor.Confirm(ctx, swapSig); err != nil {
		r.advance(StateSwapFailed)
		return nil, err
	}
	r.advance(StateSwapConfirmed)

	r.advance(StateForwarding)
	fwd, err := o.forwarder.Forward(ctx, w, dest, quote.OutputMint, req.Protection.Enable)
	if err != nil {
		r.advance(StateForwardFailed)
		var re *Error
		if errors.As(err, &re) {
			re.with("swapTransaction", swapSig.String()).with("wallet", w.Address.String())
		}
		return nil, err
	}
	r.advance(StateCompleted)

	return &ConfirmResult{
		RelayID:   r.id,
		Status:    StateCompleted,
		SwapTx:    swapSig.String(),
		ForwardTx: fwd.Signature.String(),
		Details: &SwapDetails{
			InputMint:          quote.InputMint,
			OutputMint:         quote.OutputMint,
			InputAmount:        quote.InAmount,
			QuotedOutputAmount: quote.OutAmount,
			OutputAmount:       fwd.Amount,
		},
		SwapLink:    o.settings.ExplorerTxURL + swapSig.String(),
		ForwardLink: o.settings.ExplorerTxURL + fwd.Signature.String(),
		CompletedAt: time.Now().UTC(),
	}, nil
}

// finish releases the wallet once the relay is terminal. It runs on a fresh
// context so an expired request deadline still cleans up.
func (o *Orchestrator) finish(r *run, addr string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if r.state.DestroysWallet() {
		o.wallets.Destroy(ctx, addr)
		return
	}
	if r.state == StateForwardFailed {
		if err := o.wallets.Strand(ctx, addr); err != nil {
			r.log.Error("strand wallet", zap.Error(err))
		}
	}
}

const lamportsPerSOL = 1_000_000_000

func formatSOL(lamports uint64) string {
	return fmt.Sprintf("%d.%09d", lamports/lamportsPerSOL, lamports%lamportsPerSOL)
}
