package relay

import (
	"context"
	"sort"

	"github.com/gagliardetto/solana-go"
	"go.uber.org/zap"
)

const (
	minPriorityFeeLamports     = 1_000_000
	defaultPriorityFeeLamports = 2_000_000
)

// FeeEstimator sizes priority fees from recent fees paid against one program.
type FeeEstimator struct {
	chain   Chain
	program solana.PublicKey
	max     uint64
	log     *zap.Logger
}

func NewFeeEstimator(chain Chain, program solana.PublicKey, maxLamports uint64, log *zap.Logger) *FeeEstimator {
	return &FeeEstimator{chain: chain, program: program, max: maxLamports, log: log}
}

// PriorityFee returns 1.5x the 75th percentile of recent fees, floored at
// minPriorityFeeLamports and capped at the configured maximum. Fee data
// errors fall back to a fixed default.
func (f *FeeEstimator) PriorityFee(ctx context.Context) uint64 {
	fee := uint64(defaultPriorityFeeLamports)
	fees, err := f.chain.RecentPrioritizationFees(ctx, []solana.PublicKey{f.program})
	switch {
	case err != nil:
		f.log.Warn("priority fee lookup failed, using default", zap.Error(err))
	case len(fees) > 0:
		sorted := append([]uint64(nil), fees...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		p75 := sorted[min(len(sorted)*3/4, len(sorted)-1)]
		fee = max(p75*3/2, minPriorityFeeLamports)
	}
	if f.max > 0 && fee > f.max {
		fee = f.max
	}
	return fee
}
