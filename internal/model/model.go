// Package model holds the opportunity-shaped domain types shared across
// strategy search, risk control and execution — split out from the root
// engine package so those internal packages can depend on them without an
// import cycle back to the orchestrator.
package model

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// StrategyKind enumerates the six opportunity families of spec §4.6.
type StrategyKind string

const (
	DirectArb     StrategyKind = "DIRECT_ARB"
	TriangularArb StrategyKind = "TRIANGULAR_ARB"
	LstArb        StrategyKind = "LST_ARB"
	StableArb     StrategyKind = "STABLE_ARB"
	ZeroXArb      StrategyKind = "ZEROX_ARB"
	DynamicArb    StrategyKind = "DYNAMIC_ARB"
)

// SwapLeg is one hop of an opportunity's route (spec §3).
type SwapLeg struct {
	VenueID           string
	TokenIn           common.Address
	TokenOut          common.Address
	AmountIn          *big.Int // nil on legs ≥1: "use balance of tokenIn at execution time"
	ExpectedAmountOut *big.Int
	AmountOutMin      *big.Int
	FeeOrTickSpacing  int
	VenueExtraData    []byte
}

// ArbOpportunity is one candidate trade emitted by Strategy Search (C6) and
// consumed by the Execution Pipeline (C10).
type ArbOpportunity struct {
	ID             string
	StrategyKind   StrategyKind
	BorrowAsset    common.Address
	BorrowAmount   *big.Int
	Legs           []SwapLeg
	ExpectedProfit *big.Int
	ProfitBps      int64
	ProfitUsd      float64
	GasEstimate    uint64
	GasCostUsd     float64
	NetProfitUsd   float64
	PoolLiquidityUsd float64
	CreatedMillis  int64
}

// Age reports how long ago this opportunity was created.
func (o *ArbOpportunity) Age(now time.Time) time.Duration {
	return now.Sub(time.UnixMilli(o.CreatedMillis))
}

// Pair lists token addresses a human-readable label for logging purposes.
func (o *ArbOpportunity) Pair() string {
	if len(o.Legs) == 0 {
		return ""
	}
	return o.Legs[0].TokenIn.Hex() + "/" + o.Legs[0].TokenOut.Hex()
}

// TradeRecord is one historical trade outcome retained by the Risk
// Controller (C7) for circuit-breaker and drawdown analytics.
type TradeRecord struct {
	ID             string
	FinishedMillis int64
	NetProfit      *big.Int // signed: negative on loss
	GasCost        *big.Int
}

// IsLoss reports whether this record represents a net loss.
func (t *TradeRecord) IsLoss() bool {
	return t.NetProfit != nil && t.NetProfit.Sign() < 0
}

// EngineStats are process-wide counters, reset only at process start.
type EngineStats struct {
	Cycles             uint64
	OpportunitiesFound uint64
	Executed           uint64
	Succeeded          uint64
	CumulativeProfit   *big.Int
	TotalCycleTime     time.Duration
}

// AverageCycleTime divides TotalCycleTime by Cycles, or zero if no cycles
// have completed yet.
func (s *EngineStats) AverageCycleTime() time.Duration {
	if s.Cycles == 0 {
		return 0
	}
	return s.TotalCycleTime / time.Duration(s.Cycles)
}
