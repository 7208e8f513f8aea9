package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/aggregator"
	"github.com/0gfoundation/swap-relay/internal/wallet"
)

// SwapOptions controls one swap execution.
type SwapOptions struct {
	Protected  bool
	MaxRetries int
}

// Executor builds, signs, submits and confirms aggregator swaps.
type Executor struct {
	agg            Aggregator
	chain          Chain
	fees           *FeeEstimator
	maxRetries     int
	confirmTimeout time.Duration
	log            *zap.Logger

	// backoff returns the wait after failed attempt n (1-based).
	backoff func(attempt int) time.Duration
	sleep   func(ctx context.Context, d time.Duration) error
}

func NewExecutor(agg Aggregator, chain Chain, fees *FeeEstimator, maxRetries int, confirmTimeout time.Duration, log *zap.Logger) *Executor {
	return &Executor{
		agg:            agg,
		chain:          chain,
		fees:           fees,
		maxRetries:     maxRetries,
		confirmTimeout: confirmTimeout,
		log:            log,
		backoff:        exponentialBackoff,
		sleep:          sleepCtx,
	}
}

func exponentialBackoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Execute submits the swap for quote and waits for its confirmation.
func (e *Executor) Execute(ctx context.Context, w *wallet.Wallet, quote json.RawMessage, opts SwapOptions) (solana.Signature, error) {
	sig, err := e.Submit(ctx, w, quote, opts)
	if err != nil {
		return solana.Signature{}, err
	}
	return sig, e.Confirm(ctx, sig)
}

// Submit builds and signs the swap transaction once, then submits it with up
// to MaxRetries attempts. Only submission is retried; the quote and the
// signed transaction are reused.
func (e *Executor) Submit(ctx context.Context, w *wallet.Wallet, quote json.RawMessage, opts SwapOptions) (solana.Signature, error) {
	params := aggregator.SwapParams{}
	if opts.Protected {
		params.PriorityFeeLamports = e.fees.PriorityFee(ctx)
		params.DynamicSlippage = true
	}

	raw, err := e.agg.GetSwapTransaction(ctx, quote, w.Address.String(), params)
	if err != nil {
		return solana.Signature{}, e.failed(ctx, "build swap transaction", err)
	}
	tx, err := solana.TransactionFromDecoder(bin.NewBinDecoder(raw))
	if err != nil {
		return solana.Signature{}, e.failed(ctx, "decode swap transaction", err)
	}
	if err := w.Sign(tx); err != nil {
		return solana.Signature{}, e.failed(ctx, "sign swap transaction", err)
	}

	attempts := opts.MaxRetries
	if attempts < 1 {
		attempts = e.maxRetries
	}
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		sig, err := e.chain.SubmitTransaction(ctx, tx)
		if err == nil {
			e.log.Info("swap submitted",
				zap.String("wallet", w.Address.String()),
				zap.String("signature", sig.String()),
				zap.Int("attempt", attempt),
				zap.Uint64("priority_fee", params.PriorityFeeLamports),
			)
			return sig, nil
		}
		lastErr = err
		e.log.Warn("swap submission failed",
			zap.String("wallet", w.Address.String()),
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", attempts),
			zap.Error(err),
		)
		if attempt == attempts {
			break
		}
		if err := e.sleep(ctx, e.backoff(attempt)); err != nil {
			return solana.Signature{}, e.failed(ctx, "swap submission abandoned", lastErr).with("attempts", attempt)
		}
	}
	return solana.Signature{}, e.failed(ctx, fmt.Sprintf("swap submission failed after %d attempts", attempts), lastErr).
		with("attempts", attempts)
}

// Confirm waits up to the confirmation ceiling for sig. Timeouts and
// on-chain errors are both reported as SwapFailed with the chain's error.
func (e *Executor) Confirm(ctx context.Context, sig solana.Signature) error {
	cctx, cancel := context.WithTimeout(ctx, e.confirmTimeout)
	defer cancel()
	if err := e.chain.ConfirmTransaction(cctx, sig); err != nil {
		return e.failed(ctx, "swap not confirmed", err).
			with("signature", sig.String()).
			with("chainError", err.Error())
	}
	e.log.Info("swap confirmed", zap.String("signature", sig.String()))
	return nil
}

func (e *Executor) failed(ctx context.Context, msg string, err error) *Error {
	re := newError(CodeSwapFailed, msg, err)
	re.State = StateSwapFailed
	re.Timeout = ctx.Err() != nil
	return re
}
