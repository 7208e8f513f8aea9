package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

// BalanceSnapshot is the balance observed when a deposit wait ended.
type BalanceSnapshot struct {
	Address  string
	Asset    string
	Observed uint64
	Expected uint64
	Polls    int
	At       time.Time
}

// DepositWatcher polls a wallet balance until an expected amount arrives.
type DepositWatcher struct {
	chain    Chain
	interval time.Duration
	log      *zap.Logger
}

func NewDepositWatcher(chain Chain, interval time.Duration, log *zap.Logger) *DepositWatcher {
	return &DepositWatcher{chain: chain, interval: interval, log: log}
}

// WaitForDeposit polls until owner holds at least expected units of asset, or
// until timeout or ctx ends. Observed in the returned snapshot (and in the
// DepositTimeout details) is the highest balance seen across polls.
func (d *DepositWatcher) WaitForDeposit(ctx context.Context, owner solana.PublicKey, asset string, expected uint64, timeout time.Duration) (*BalanceSnapshot, error) {
	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	snap := &BalanceSnapshot{Address: owner.String(), Asset: asset, Expected: expected}
	d.log.Info("waiting for deposit",
		zap.String("wallet", snap.Address),
		zap.String("asset", asset),
		zap.Uint64("expected", expected),
		zap.Duration("timeout", timeout),
	)

	for {
		bal, err := d.balance(ctx, owner, asset)
		snap.Polls++
		snap.At = time.Now()
		if err != nil {
			if ctx.Err() == nil {
				d.log.Warn("deposit poll failed", zap.String("wallet", snap.Address), zap.Error(err))
			}
		} else {
			snap.Observed = max(snap.Observed, bal)
			if bal >= expected {
				d.log.Info("deposit confirmed",
					zap.String("wallet", snap.Address),
					zap.Uint64("balance", bal),
					zap.Int("polls", snap.Polls),
				)
				return snap, nil
			}
		}

		select {
		case <-ctx.Done():
			e := newError(CodeDepositTimeout,
				fmt.Sprintf("deposit not received: observed %d of %d", snap.Observed, expected), nil).
				with("address", snap.Address).
				with("expected", expected).
				with("observed", snap.Observed).
				with("polls", snap.Polls)
			e.Timeout = parent.Err() != nil
			e.State = StateDepositTimeout
			return snap, e
		case <-ticker.C:
		}
	}
}

func (d *DepositWatcher) balance(ctx context.Context, owner solana.PublicKey, asset string) (uint64, error) {
	if isNative(asset) {
		return d.chain.GetBalance(ctx, owner)
	}
	mint, err := solana.PublicKeyFromBase58(asset)
	if err != nil {
		return 0, fmt.Errorf("asset %q: %w", asset, err)
	}
	// A missing token account reads as zero.
	amount, _, err := d.chain.GetTokenBalance(ctx, owner, mint)
	return amount, err
}
