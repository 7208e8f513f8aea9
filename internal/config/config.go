package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Solana  SolanaConfig
	Jupiter JupiterConfig
	Relay   RelayConfig
}

type ServerConfig struct {
	Port        int    `mapstructure:"port"`
	Environment string `mapstructure:"environment"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
}

type SolanaConfig struct {
	RPCURL     string `mapstructure:"rpc_url"`
	Commitment string `mapstructure:"commitment"`
}

type JupiterConfig struct {
	APIURL          string  `mapstructure:"api_url"`
	QuoteTimeoutSec int64   `mapstructure:"quote_timeout_sec"`
	SwapTimeoutSec  int64   `mapstructure:"swap_timeout_sec"`
	RatePerSec      float64 `mapstructure:"rate_per_sec"`
	Burst           int     `mapstructure:"burst"`
}

type RelayConfig struct {
	TokenSecret   string `mapstructure:"token_secret"`
	StoreIdentity string `mapstructure:"store_identity"`

	TokenTTLMin      int64 `mapstructure:"token_ttl_min"`
	WalletTTLMin     int64 `mapstructure:"wallet_ttl_min"`
	SweepMaxAgeHours int64 `mapstructure:"sweep_max_age_hours"`
	SweepIntervalMin int64 `mapstructure:"sweep_interval_min"`

	DepositTimeoutSec  int64 `mapstructure:"deposit_timeout_sec"`
	DepositPollSec     int64 `mapstructure:"deposit_poll_sec"`
	ConfirmTimeoutSec  int64 `mapstructure:"confirm_timeout_sec"`
	ConfirmDeadlineSec int64 `mapstructure:"confirm_deadline_sec"`
	MaxRetries         int   `mapstructure:"max_retries"`

	MaxPriorityFeeLamports    uint64  `mapstructure:"max_priority_fee_lamports"`
	SmallAmountLamports       uint64  `mapstructure:"small_amount_lamports"`
	RecommendedAmountLamports uint64  `mapstructure:"recommended_amount_lamports"`
	ModerateImpactPct         float64 `mapstructure:"moderate_impact_pct"`
	HighImpactPct             float64 `mapstructure:"high_impact_pct"`

	ExplorerTxURL string `mapstructure:"explorer_tx_url"`
}

func (r RelayConfig) TokenTTL() time.Duration  { return minutes(r.TokenTTLMin) }
func (r RelayConfig) WalletTTL() time.Duration { return minutes(r.WalletTTLMin) }

func (r RelayConfig) SweepMaxAge() time.Duration {
	return time.Duration(r.SweepMaxAgeHours) * time.Hour
}

// SweepInterval is zero when the periodic sweep is disabled.
func (r RelayConfig) SweepInterval() time.Duration { return minutes(r.SweepIntervalMin) }

func (r RelayConfig) DepositTimeout() time.Duration  { return seconds(r.DepositTimeoutSec) }
func (r RelayConfig) DepositPoll() time.Duration     { return seconds(r.DepositPollSec) }
func (r RelayConfig) ConfirmTimeout() time.Duration  { return seconds(r.ConfirmTimeoutSec) }
func (r RelayConfig) ConfirmDeadline() time.Duration { return seconds(r.ConfirmDeadlineSec) }

func (j JupiterConfig) QuoteTimeout() time.Duration { return seconds(j.QuoteTimeoutSec) }
func (j JupiterConfig) SwapTimeout() time.Duration  { return seconds(j.SwapTimeoutSec) }

func minutes(n int64) time.Duration { return time.Duration(n) * time.Minute }
func seconds(n int64) time.Duration { return time.Duration(n) * time.Second }

func Load() (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.environment", "development")
	v.SetDefault("redis.addr", "redis:6379")
	v.SetDefault("solana.commitment", "confirmed")
	v.SetDefault("jupiter.api_url", "https://quote-api.jup.ag/v6")
	v.SetDefault("jupiter.quote_timeout_sec", 10)
	v.SetDefault("jupiter.swap_timeout_sec", 15)
	v.SetDefault("jupiter.rate_per_sec", 10)
	v.SetDefault("jupiter.burst", 5)
	v.SetDefault("relay.token_ttl_min", 30)
	v.SetDefault("relay.wallet_ttl_min", 60)
	v.SetDefault("relay.sweep_max_age_hours", 24)
	v.SetDefault("relay.sweep_interval_min", 60)
	v.SetDefault("relay.deposit_timeout_sec", 300)
	v.SetDefault("relay.deposit_poll_sec", 5)
	v.SetDefault("relay.confirm_timeout_sec", 60)
	v.SetDefault("relay.confirm_deadline_sec", 480)
	v.SetDefault("relay.max_retries", 3)
	v.SetDefault("relay.max_priority_fee_lamports", 10_000_000)
	v.SetDefault("relay.small_amount_lamports", 100_000)
	v.SetDefault("relay.recommended_amount_lamports", 1_000_000)
	v.SetDefault("relay.moderate_impact_pct", 1.0)
	v.SetDefault("relay.high_impact_pct", 5.0)
	v.SetDefault("relay.explorer_tx_url", "https://solscan.io/tx/")

	// Config file (optional)
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/app")
	_ = v.ReadInConfig()

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings
	bindings := map[string]string{
		"server.port":          "PORT",
		"server.environment":   "ENVIRONMENT",
		"redis.addr":           "REDIS_ADDR",
		"redis.password":       "REDIS_PASSWORD",
		"solana.rpc_url":       "SOLANA_RPC",
		"solana.commitment":    "SOLANA_COMMITMENT",
		"jupiter.api_url":      "JUPITER_API_URL",
		"jupiter.rate_per_sec": "JUPITER_RATE_PER_SEC",
		"relay.token_secret":   "RELAY_TOKEN_SECRET",
		"relay.store_identity": "WALLET_STORE_IDENTITY",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", env, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return cfg, cfg.validate()
}

func (c *Config) validate() error {
	type req struct {
		val  string
		name string
	}
	for _, r := range []req{
		{c.Solana.RPCURL, "SOLANA_RPC"},
		{c.Jupiter.APIURL, "JUPITER_API_URL"},
		{c.Relay.TokenSecret, "RELAY_TOKEN_SECRET"},
	} {
		if r.val == "" {
			return fmt.Errorf("required config missing: %s", r.name)
		}
	}
	// HMAC-SHA256 key should be at least one block of output.
	if len(c.Relay.TokenSecret) < 32 {
		return fmt.Errorf("RELAY_TOKEN_SECRET must be at least 32 bytes")
	}
	if c.Relay.MaxRetries < 1 {
		return fmt.Errorf("relay.max_retries must be >= 1")
	}
	if c.Relay.DepositPollSec <= 0 || c.Relay.DepositTimeoutSec <= 0 {
		return fmt.Errorf("relay deposit poll and timeout must be positive")
	}
	// A wallet must outlive any confirm its token can start, and the sweep
	// must never reach a wallet its own timer still covers.
	r := c.Relay
	if r.WalletTTL() < r.TokenTTL()+r.ConfirmDeadline() {
		return fmt.Errorf("relay.wallet_ttl_min (%s) must cover token_ttl_min + confirm_deadline_sec (%s)",
			r.WalletTTL(), r.TokenTTL()+r.ConfirmDeadline())
	}
	if r.SweepMaxAge() <= r.WalletTTL() {
		return fmt.Errorf("relay.sweep_max_age_hours (%s) must exceed wallet_ttl_min (%s)", r.SweepMaxAge(), r.WalletTTL())
	}
	return nil
}
