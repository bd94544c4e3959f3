// Package config loads the engine's exclusively environment-variable-driven
// runtime configuration (spec §6), following the teacher's pattern of a
// single typed config struct translated once at startup rather than
// duck-typed option bags threaded through every component.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the fully-resolved runtime configuration. Components are handed
// the whole *Config; there is no per-component view restricted to the fields
// a component reads.
type Config struct {
	RPCURLHTTP   string
	RPCURLPush   string
	RPCURLBackup string

	SignerKey         string
	ContractAddress   string
	AggregatorAPIKey  string
	AggregatorBaseURL string

	MinProfitUSD       float64
	MaxGasPriceGwei    float64
	PollInterval       time.Duration
	SlippageBps        int
	MinLiquidityUSD    float64
	FlashPremiumBps    int
	EnablePrivateRelay bool
	EnableCircuitBreaker bool
	MaxTradesPerHour   int
	MaxDrawdownETH     float64

	ChainID int64
}

// Load reads and validates every field from the process environment,
// applying the defaults from spec §6. It never touches a file.
func Load() (*Config, error) {
	cfg := &Config{
		RPCURLHTTP:           os.Getenv("RPC_URL_HTTP"),
		RPCURLPush:           os.Getenv("RPC_URL_PUSH"),
		RPCURLBackup:         os.Getenv("RPC_URL_BACKUP"),
		SignerKey:            os.Getenv("SIGNER_KEY"),
		ContractAddress:      os.Getenv("CONTRACT_ADDRESS"),
		AggregatorAPIKey:     os.Getenv("AGGREGATOR_API_KEY"),
		AggregatorBaseURL:    envString("AGGREGATOR_BASE_URL", "https://api.0x.org"),
		MinProfitUSD:         envFloat("MIN_PROFIT_USD", 0.50),
		MaxGasPriceGwei:      envFloat("MAX_GAS_PRICE_GWEI", 0.5),
		PollInterval:         time.Duration(envInt("POLL_INTERVAL_MS", 200)) * time.Millisecond,
		SlippageBps:          envInt("SLIPPAGE_BPS", 30),
		MinLiquidityUSD:      envFloat("MIN_LIQUIDITY_USD", 10_000),
		FlashPremiumBps:      envInt("FLASH_PREMIUM_BPS", 5),
		EnablePrivateRelay:   envBool("ENABLE_PRIVATE_RELAY", true),
		EnableCircuitBreaker: envBool("ENABLE_CIRCUIT_BREAKER", true),
		MaxTradesPerHour:     envInt("MAX_TRADES_PER_HOUR", 100),
		MaxDrawdownETH:       envFloat("MAX_DRAWDOWN_ETH", 5),
		ChainID:              8453,
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RPCURLHTTP == "" {
		return fmt.Errorf("RPC_URL_HTTP is required")
	}
	if c.SignerKey == "" {
		return fmt.Errorf("SIGNER_KEY is required")
	}
	if len(c.SignerKey) != 64 && len(c.SignerKey) != 66 {
		return fmt.Errorf("SIGNER_KEY must be a 32-byte hex secret")
	}
	return nil
}

func envString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}
