package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"filippo.io/age"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/config"
	"github.com/0gfoundation/swap-relay/internal/wallet"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "relayer",
		Short: "Custodial swap relay: SOL in, any token out, through a single-use wallet",
		Long: `relayer quotes a SOL to token swap against a fresh ephemeral wallet, waits
for the caller's deposit, executes the swap through the aggregator and forwards
the proceeds to the caller's destination address.

Examples:
  relayer serve
  relayer sweep
  relayer wallets --stranded`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newServeCmd(), newSweepCmd(), newWalletsCmd())
	return root
}

// env holds what every subcommand needs: configuration, logging, and the
// durable wallet store.
type env struct {
	cfg   *config.Config
	log   *zap.Logger
	rdb   *redis.Client
	store *wallet.Store
}

func (e *env) close() {
	e.rdb.Close() //nolint:errcheck
	e.log.Sync()  //nolint:errcheck
}

func bootstrap(ctx context.Context) (*env, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	log, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("config load failed: %w", err)
	}

	// ── Redis ─────────────────────────────────────────────────────────────────
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	// ── Store identity (encrypts wallet keys at rest) ─────────────────────────
	id, err := storeIdentity(cfg.Relay.StoreIdentity, log)
	if err != nil {
		rdb.Close() //nolint:errcheck
		return nil, err
	}

	return &env{cfg: cfg, log: log, rdb: rdb, store: wallet.NewStore(rdb, id)}, nil
}

// storeIdentity parses the configured age identity. Without one, records
// written by this process cannot be decrypted after it exits.
func storeIdentity(raw string, log *zap.Logger) (*age.X25519Identity, error) {
	if raw != "" {
		id, err := age.ParseX25519Identity(raw)
		if err != nil {
			return nil, fmt.Errorf("parse WALLET_STORE_IDENTITY: %w", err)
		}
		return id, nil
	}
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return nil, fmt.Errorf("generate store identity: %w", err)
	}
	log.Warn("WALLET_STORE_IDENTITY not set, using an ephemeral identity; persisted wallets will not survive a restart",
		zap.String("recipient", id.Recipient().String()),
	)
	return id, nil
}
