package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/aggregator"
	"github.com/0gfoundation/swap-relay/internal/api"
	"github.com/0gfoundation/swap-relay/internal/chain"
	"github.com/0gfoundation/swap-relay/internal/relay"
	"github.com/0gfoundation/swap-relay/internal/wallet"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP relay service",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(parent context.Context) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	e, err := bootstrap(ctx)
	if err != nil {
		return err
	}
	defer e.close()
	cfg, log := e.cfg, e.log

	// ── External clients ──────────────────────────────────────────────────────
	chainClient := chain.NewClient(cfg.Solana.RPCURL, cfg.Solana.Commitment)
	agg := aggregator.NewClient(
		cfg.Jupiter.APIURL,
		cfg.Jupiter.QuoteTimeout(),
		cfg.Jupiter.SwapTimeout(),
		cfg.Jupiter.RatePerSec,
		cfg.Jupiter.Burst,
	)

	// ── Wallets ───────────────────────────────────────────────────────────────
	wallets := wallet.NewManager(e.store, cfg.Relay.WalletTTL(), cfg.Relay.TokenTTL(), log)
	tokens := wallet.NewTokenCodec([]byte(cfg.Relay.TokenSecret), cfg.Relay.TokenTTL())

	// Records left by a previous process are only good for cleanup.
	if n, err := wallets.Sweep(ctx, cfg.Relay.SweepMaxAge()); err != nil {
		log.Warn("startup sweep failed", zap.Error(err))
	} else if n > 0 {
		log.Info("startup sweep removed stale wallets", zap.Int("count", n))
	}
	if every := cfg.Relay.SweepInterval(); every > 0 {
		go wallets.RunSweeper(ctx, every, cfg.Relay.SweepMaxAge())
	}

	// ── Relay pipeline ────────────────────────────────────────────────────────
	fees := relay.NewFeeEstimator(chainClient, solana.MustPublicKeyFromBase58(aggregator.ProgramID), cfg.Relay.MaxPriorityFeeLamports, log)
	orchestrator := relay.NewOrchestrator(
		wallets,
		tokens,
		agg,
		relay.NewDepositWatcher(chainClient, cfg.Relay.DepositPoll(), log),
		relay.NewExecutor(agg, chainClient, fees, cfg.Relay.MaxRetries, cfg.Relay.ConfirmTimeout(), log),
		relay.NewForwarder(chainClient, fees, cfg.Relay.ConfirmTimeout(), log),
		relay.Settings{
			DepositTimeout:  cfg.Relay.DepositTimeout(),
			ConfirmDeadline: cfg.Relay.ConfirmDeadline(),
			Limits: relay.Limits{
				SmallAmount:       cfg.Relay.SmallAmountLamports,
				RecommendedAmount: cfg.Relay.RecommendedAmountLamports,
				ModerateImpactPct: cfg.Relay.ModerateImpactPct,
				HighImpactPct:     cfg.Relay.HighImpactPct,
			},
			ExplorerTxURL: cfg.Relay.ExplorerTxURL,
		},
		log,
	)

	// ── HTTP server ───────────────────────────────────────────────────────────
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery())
	api.NewHandler(orchestrator, api.Info{
		Service:     "swap-relay",
		Version:     version,
		Environment: cfg.Server.Environment,
	}, wallets.Count, log).Register(r)

	// No write timeout: a confirm holds its request open until the relay
	// reaches a terminal state, bounded by relay.confirm_deadline_sec.
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", zap.Int("port", cfg.Server.Port), zap.String("environment", cfg.Server.Environment))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}
	log.Info("shutdown complete", zap.Int("wallets_in_memory", wallets.Count()))
	return nil
}
