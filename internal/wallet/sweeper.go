package wallet

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// RunSweeper periodically destroys persisted wallets older than maxAge until
// ctx is done. It catches records whose in-memory timer was lost, such as
// wallets adopted by another replica.
func (m *Manager) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	m.log.Info("wallet sweeper started", zap.Duration("interval", interval), zap.Duration("max_age", maxAge))

	for {
		select {
		case <-ctx.Done():
			m.log.Info("wallet sweeper stopped")
			return
		case <-ticker.C:
			if _, err := m.Sweep(ctx, maxAge); err != nil {
				m.log.Error("sweeper: scan wallets", zap.Error(err))
			}
		}
	}
}
