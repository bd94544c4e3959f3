package risk

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/model"
)

func testConfig() *config.Config {
	return &config.Config{
		EnableCircuitBreaker: true,
		MaxTradesPerHour:     100,
		MaxDrawdownETH:       5,
		MinLiquidityUSD:      10000,
	}
}

func okCandidate() *model.ArbOpportunity {
	return &model.ArbOpportunity{PoolLiquidityUsd: 50000, ProfitUsd: 10, GasCostUsd: 1}
}

func TestValidateRejectsLowLiquidity(t *testing.T) {
	c := NewController(testConfig(), nil)
	cand := okCandidate()
	cand.PoolLiquidityUsd = 100
	assert.Error(t, c.Validate(cand))
}

func TestValidateRejectsInsufficientProfitMargin(t *testing.T) {
	c := NewController(testConfig(), nil)
	cand := okCandidate()
	cand.GasCostUsd = 10
	cand.ProfitUsd = 15 // < 2x gas
	assert.Error(t, c.Validate(cand))
}

func TestValidateAcceptsGoodCandidate(t *testing.T) {
	c := NewController(testConfig(), nil)
	assert.NoError(t, c.Validate(okCandidate()))
}

// TestCircuitBreakerTripsAfterTenConsecutiveLosses mirrors spec §8 scenario 3.
func TestCircuitBreakerTripsAfterTenConsecutiveLosses(t *testing.T) {
	cfg := testConfig()
	c := NewController(cfg, nil)

	for i := 0; i < 10; i++ {
		c.Record(TradeOutcome{
			NetProfit: big.NewInt(-10_000_000_000_000_000), // -0.01 ETH
			GasCost:   big.NewInt(2_000_000_000_000_000),   // 0.002 ETH
		})
	}

	require.True(t, c.Tripped())
	err := c.Validate(okCandidate())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circuit breaker")

	c.Reset()
	assert.False(t, c.Tripped())
}

func TestCircuitBreakerTripsOnDrawdownCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxDrawdownETH = 0.01
	c := NewController(cfg, nil)

	c.Record(TradeOutcome{NetProfit: big.NewInt(-20_000_000_000_000_000)}) // -0.02 ETH
	assert.True(t, c.Tripped())
}

func TestCircuitBreakerTripsOnLossRatio(t *testing.T) {
	cfg := testConfig()
	c := NewController(cfg, nil)

	// 15 losses, 5 wins within a 20-trade window, no 10 consecutive losses,
	// drawdown kept low by interleaving wins: still > 70% losses overall.
	for i := 0; i < 20; i++ {
		if i%4 == 3 {
			c.Record(TradeOutcome{NetProfit: big.NewInt(1)})
		} else {
			c.Record(TradeOutcome{NetProfit: big.NewInt(-1)})
		}
	}
	assert.True(t, c.Tripped())
}

func TestHourlyLimitRejectsFourthTrade(t *testing.T) {
	cfg := testConfig()
	cfg.MaxTradesPerHour = 3
	c := NewController(cfg, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.Validate(okCandidate()))
		c.Record(TradeOutcome{NetProfit: big.NewInt(1)})
	}
	err := c.Validate(okCandidate())
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "hourly")
}
