package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/wallet"
)

// Lamports left behind to pay for the forward transaction itself.
const (
	nativeFeeReserve          = 10_000
	protectedNativeFeeReserve = 20_000
)

// Priority fee divisors converting a lamport budget into a compute unit price.
const (
	nativeCUPriceDivisor = 200_000
	tokenCUPriceDivisor  = 300_000
)

// ForwardResult is a delivered forward.
type ForwardResult struct {
	Signature solana.Signature
	Amount    uint64
}

// Forwarder sweeps a wallet's balance of one asset to a destination.
// It submits exactly once; failures are not retried.
type Forwarder struct {
	chain          Chain
	fees           *FeeEstimator
	confirmTimeout time.Duration
	log            *zap.Logger
}

func NewForwarder(chain Chain, fees *FeeEstimator, confirmTimeout time.Duration, log *zap.Logger) *Forwarder {
	return &Forwarder{chain: chain, fees: fees, confirmTimeout: confirmTimeout, log: log}
}

// Forward moves the full balance of asset held by w to dest.
func (f *Forwarder) Forward(ctx context.Context, w *wallet.Wallet, dest solana.PublicKey, asset string, protected bool) (*ForwardResult, error) {
	var (
		ixs    []solana.Instruction
		amount uint64
		err    error
	)
	if isNative(asset) {
		ixs, amount, err = f.nativeInstructions(ctx, w.Address, dest, protected)
	} else {
		ixs, amount, err = f.tokenInstructions(ctx, w.Address, dest, asset, protected)
	}
	if err != nil {
		return nil, err
	}

	blockhash, err := f.chain.LatestBlockhash(ctx)
	if err != nil {
		return nil, f.failed(ctx, "fetch blockhash", err)
	}
	tx, err := solana.NewTransaction(ixs, blockhash, solana.TransactionPayer(w.Address))
	if err != nil {
		return nil, f.failed(ctx, "build forward transaction", err)
	}
	if err := w.Sign(tx); err != nil {
		return nil, f.failed(ctx, "sign forward transaction", err)
	}

	sig, err := f.chain.SubmitTransaction(ctx, tx)
	if err != nil {
		return nil, f.failed(ctx, "submit forward transaction", err).with("amount", amount)
	}
	cctx, cancel := context.WithTimeout(ctx, f.confirmTimeout)
	defer cancel()
	if err := f.chain.ConfirmTransaction(cctx, sig); err != nil {
		return nil, f.failed(ctx, "forward not confirmed", err).
			with("signature", sig.String()).
			with("amount", amount)
	}

	f.log.Info("assets forwarded",
		zap.String("wallet", w.Address.String()),
		zap.String("destination", dest.String()),
		zap.String("asset", asset),
		zap.Uint64("amount", amount),
		zap.String("signature", sig.String()),
	)
	return &ForwardResult{Signature: sig, Amount: amount}, nil
}

func (f *Forwarder) nativeInstructions(ctx context.Context, from, dest solana.PublicKey, protected bool) ([]solana.Instruction, uint64, error) {
	balance, err := f.chain.GetBalance(ctx, from)
	if err != nil {
		return nil, 0, f.failed(ctx, "read native balance", err)
	}
	reserve := uint64(nativeFeeReserve)
	if protected {
		reserve = protectedNativeFeeReserve
	}
	if balance <= reserve {
		e := f.failed(ctx, fmt.Sprintf("balance %d does not exceed fee reserve %d", balance, reserve), nil).
			with("balance", balance).
			with("reserve", reserve)
		e.Reason = ReasonInsufficientReserve
		return nil, 0, e
	}

	var ixs []solana.Instruction
	if protected {
		ixs = append(ixs, f.computeUnitPrice(ctx, nativeCUPriceDivisor))
	}
	amount := balance - reserve
	ixs = append(ixs, system.NewTransferInstruction(amount, from, dest).Build())
	return ixs, amount, nil
}

func (f *Forwarder) tokenInstructions(ctx context.Context, from, dest solana.PublicKey, asset string, protected bool) ([]solana.Instruction, uint64, error) {
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return nil, 0, f.failed(ctx, fmt.Sprintf("invalid asset %q", asset), err)
	}
	balance, _, err := f.chain.GetTokenBalance(ctx, from, mint)
	if err != nil {
		return nil, 0, f.failed(ctx, "read token balance", err)
	}
	if balance == 0 {
		e := f.failed(ctx, "no tokens to transfer", nil).with("mint", asset)
		e.Reason = ReasonNoTokensToTransfer
		return nil, 0, e
	}

	srcATA, _, err := solana.FindAssociatedTokenAddress(from, mint)
	if err != nil {
		return nil, 0, f.failed(ctx, "derive source token account", err)
	}
	dstATA, _, err := solana.FindAssociatedTokenAddress(dest, mint)
	if err != nil {
		return nil, 0, f.failed(ctx, "derive destination token account", err)
	}
	exists, err := f.chain.AccountExists(ctx, dstATA)
	if err != nil {
		return nil, 0, f.failed(ctx, "check destination token account", err)
	}

	var ixs []solana.Instruction
	if protected {
		ixs = append(ixs, f.computeUnitPrice(ctx, tokenCUPriceDivisor))
	}
	if !exists {
		ixs = append(ixs, associatedtokenaccount.NewCreateInstruction(from, dest, mint).Build())
	}
	ixs = append(ixs, token.NewTransferInstruction(balance, srcATA, dstATA, from, []solana.PublicKey{}).Build())
	return ixs, balance, nil
}

func (f *Forwarder) computeUnitPrice(ctx context.Context, divisor uint64) solana.Instruction {
	microLamports := f.fees.PriorityFee(ctx) / divisor
	return computebudget.NewSetComputeUnitPriceInstruction(microLamports).Build()
}

func (f *Forwarder) failed(ctx context.Context, msg string, err error) *Error {
	re := newError(CodeForwardFailed, msg, err)
	re.State = StateForwardFailed
	re.Timeout = ctx.Err() != nil
	return re
}
