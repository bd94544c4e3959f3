// Package gas implements the Gas Oracle (C8): a rolling window of observed
// EIP-1559 base fees, next-base-fee prediction, and urgency-scaled fee
// proposals for the execution pipeline.
package gas

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
)

// windowSize is "the last 20 base fees" from spec §4.8.
const windowSize = 20

// defaultGasLimit is applied by optimalParams absent a better estimate.
const defaultGasLimit uint64 = 500_000

// Params is the tuple C10 builds a transaction from.
type Params struct {
	BaseFeeWei     uint64
	PriorityFeeWei uint64
	MaxFeeWei      uint64
	GasLimit       uint64
}

// Oracle tracks recent base fees and derives fee proposals.
type Oracle struct {
	eth *ethclient.Client

	mu       sync.Mutex
	baseFees []uint64
	gasUsed  []uint64
	gasLimit []uint64
}

// NewOracle creates a gas oracle reading headers from eth.
func NewOracle(eth *ethclient.Client) *Oracle {
	return &Oracle{eth: eth}
}

// Observe records one block's base fee and utilization, trimming the
// window to the most recent windowSize entries.
func (o *Oracle) Observe(baseFeeWei, gasUsed, gasLimit uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.baseFees = append(o.baseFees, baseFeeWei)
	o.gasUsed = append(o.gasUsed, gasUsed)
	o.gasLimit = append(o.gasLimit, gasLimit)
	if len(o.baseFees) > windowSize {
		o.baseFees = o.baseFees[len(o.baseFees)-windowSize:]
		o.gasUsed = o.gasUsed[len(o.gasUsed)-windowSize:]
		o.gasLimit = o.gasLimit[len(o.gasLimit)-windowSize:]
	}
}

// RefreshFromChain fetches the latest header and records its base fee and
// utilization, the live-data counterpart to Observe used in production.
func (o *Oracle) RefreshFromChain(ctx context.Context) error {
	if o.eth == nil {
		return fmt.Errorf("gas oracle has no RPC client")
	}
	header, err := o.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return fmt.Errorf("fetch latest header: %w", err)
	}
	if header.BaseFee == nil {
		return fmt.Errorf("chain head has no EIP-1559 base fee")
	}
	o.Observe(header.BaseFee.Uint64(), header.GasUsed, header.GasLimit)
	return nil
}

// RunPeriodic refreshes the base-fee window from the chain head on every
// tick until ctx is cancelled, the live-data counterpart to CurrentGas being
// called synchronously each cycle; failures are logged and never abort the
// loop (mirrors discovery's and the mempool observer's own background
// loops).
func (o *Oracle) RunPeriodic(ctx context.Context, interval time.Duration, log *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.RefreshFromChain(ctx); err != nil && log != nil {
				log.Warn("gas oracle refresh failed", zap.Error(err))
			}
		}
	}
}

// CurrentGas returns {baseFee, priorityFee, maxFee} per spec §4.8: priority
// fee scales with short-term base-fee acceleration.
func (o *Oracle) CurrentGas() Params {
	o.mu.Lock()
	defer o.mu.Unlock()

	var base uint64
	var priority uint64 = 2_000_000_000 // 2 gwei default
	n := len(o.baseFees)
	if n > 0 {
		base = o.baseFees[n-1]
	}
	if n >= 2 {
		prev := o.baseFees[n-2]
		delta := int64(base) - int64(prev)
		if delta < 0 {
			delta = -delta
		}
		if prev > 0 && float64(delta)/float64(prev) > 0.10 {
			priority = 5_000_000_000 // 5 gwei
		}
	}
	return Params{
		BaseFeeWei:     base,
		PriorityFeeWei: priority,
		MaxFeeWei:      base + priority,
		GasLimit:       defaultGasLimit,
	}
}

// PredictNextBaseFee applies the EIP-1559 adjustment rule using the most
// recent observation: delta = baseFee * |gasUsed - target| / target / 8,
// signed by whether usage exceeded the target (half of gas limit).
func (o *Oracle) PredictNextBaseFee() uint64 {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := len(o.baseFees)
	if n == 0 {
		return 0
	}
	base := o.baseFees[n-1]
	used := o.gasUsed[n-1]
	limit := o.gasLimit[n-1]
	if limit == 0 {
		return base
	}
	target := limit / 2

	var diff int64
	if used >= target {
		diff = int64(used - target)
	} else {
		diff = -int64(target - used)
	}
	delta := int64(base) * diff / int64(target) / 8
	next := int64(base) + delta
	if next < 0 {
		return 0
	}
	return uint64(next)
}

// OptimalParams scales the priority fee by urgency/3 (urgency in [1,5]);
// urgency outside that range is clamped.
func (o *Oracle) OptimalParams(urgency int) Params {
	if urgency < 1 {
		urgency = 1
	}
	if urgency > 5 {
		urgency = 5
	}
	p := o.CurrentGas()
	p.PriorityFeeWei = p.PriorityFeeWei * uint64(urgency) / 3
	p.MaxFeeWei = p.BaseFeeWei + p.PriorityFeeWei
	return p
}
