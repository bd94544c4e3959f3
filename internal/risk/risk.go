// Package risk implements the Risk Controller (C7): validates candidate
// opportunities, tracks a bounded trade-history ring, and trips a one-way
// circuit breaker — generalizing the teacher's time-windowed
// CircuitBreaker (specs/001-liquidity-repositioning/contracts/strategy_api.go)
// from an error-count trigger to the trade-outcome rules of spec §4.7.
package risk

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/model"
)

// historySize is "the last 20 trades" / "bounded ring of last N≈1000" from
// spec §3/§4.7: the breaker only ever looks at the most recent 20, so the
// ring itself is sized generously for other analytics while breaker logic
// windows down to 20.
const historySize = 1000
const breakerWindow = 20
const consecutiveLossTrip = 10
const lossRatioTrip = 0.70

// TradeOutcome is one settled trade fed to Record.
type TradeOutcome struct {
	NetProfit *big.Int // signed: negative on loss
	GasCost   *big.Int
}

func (o TradeOutcome) isLoss() bool {
	return o.NetProfit != nil && o.NetProfit.Sign() < 0
}

// Controller is the C7 implementation.
type Controller struct {
	mu sync.Mutex

	cfg *config.Config
	log *zap.Logger

	history       []TradeOutcome
	drawdownWei   *big.Int
	breakerTripped bool

	hourlyCount int
	hourStart   time.Time
}

// NewController creates a risk controller with drawdown/limits from cfg.
func NewController(cfg *config.Config, log *zap.Logger) *Controller {
	return &Controller{
		cfg:         cfg,
		log:         log,
		drawdownWei: big.NewInt(0),
		hourStart:   time.Now(),
	}
}

// Validate applies the rejection rules from spec §4.7.
func (c *Controller) Validate(candidate *model.ArbOpportunity) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollHourIfDue()

	if c.cfg.EnableCircuitBreaker && c.breakerTripped {
		return fmt.Errorf("circuit breaker tripped")
	}
	if c.hourlyCount >= c.cfg.MaxTradesPerHour {
		return fmt.Errorf("hourly trade limit reached (%d)", c.cfg.MaxTradesPerHour)
	}
	if candidate.PoolLiquidityUsd < c.cfg.MinLiquidityUSD {
		return fmt.Errorf("pool liquidity %.2f below floor %.2f", candidate.PoolLiquidityUsd, c.cfg.MinLiquidityUSD)
	}
	if candidate.ProfitUsd < 2*candidate.GasCostUsd {
		return fmt.Errorf("expected profit %.4f less than 2x gas cost %.4f", candidate.ProfitUsd, candidate.GasCostUsd)
	}
	drawdownEth := weiToEth(c.drawdownWei)
	if drawdownEth >= c.cfg.MaxDrawdownETH {
		return fmt.Errorf("drawdown %.4f ETH at or over cap %.4f ETH", drawdownEth, c.cfg.MaxDrawdownETH)
	}
	return nil
}

// Record settles a trade: updates drawdown, pushes to the ring, increments
// the hourly count, then re-evaluates the breaker.
func (c *Controller) Record(outcome TradeOutcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.rollHourIfDue()
	c.hourlyCount++

	if outcome.isLoss() {
		loss := new(big.Int).Neg(outcome.NetProfit)
		c.drawdownWei.Add(c.drawdownWei, loss)
	} else if outcome.NetProfit != nil {
		c.drawdownWei.Sub(c.drawdownWei, outcome.NetProfit)
		if c.drawdownWei.Sign() < 0 {
			c.drawdownWei.SetInt64(0)
		}
	}

	c.history = append(c.history, outcome)
	if len(c.history) > historySize {
		c.history = c.history[len(c.history)-historySize:]
	}

	c.evaluateBreaker()
}

func (c *Controller) evaluateBreaker() {
	if c.breakerTripped {
		return
	}
	window := c.history
	if len(window) > breakerWindow {
		window = window[len(window)-breakerWindow:]
	}

	if consecutiveLosses(window) >= consecutiveLossTrip {
		c.trip("10 consecutive losses")
		return
	}
	if weiToEth(c.drawdownWei) >= c.cfg.MaxDrawdownETH {
		c.trip("drawdown at or over cap")
		return
	}
	if len(window) == breakerWindow && lossRatio(window) > lossRatioTrip {
		c.trip("loss ratio over 70% of last 20 trades")
		return
	}
}

func (c *Controller) trip(reason string) {
	c.breakerTripped = true
	if c.log != nil {
		c.log.Warn("circuit breaker tripped", zap.String("reason", reason))
	}
}

func consecutiveLosses(window []TradeOutcome) int {
	best, current := 0, 0
	for _, t := range window {
		if t.isLoss() {
			current++
			if current > best {
				best = current
			}
		} else {
			current = 0
		}
	}
	return best
}

func lossRatio(window []TradeOutcome) float64 {
	if len(window) == 0 {
		return 0
	}
	losses := 0
	for _, t := range window {
		if t.isLoss() {
			losses++
		}
	}
	return float64(losses) / float64(len(window))
}

// rollHourIfDue resets the hourly counter independent of call order, per
// spec §4.7 "reset by an hourly tick independent of call order".
func (c *Controller) rollHourIfDue() {
	if time.Since(c.hourStart) >= time.Hour {
		c.hourlyCount = 0
		c.hourStart = time.Now()
	}
}

// Reset clears a tripped breaker; operator-only per spec §4.7.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.breakerTripped = false
}

// Tripped reports the current breaker state.
func (c *Controller) Tripped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakerTripped
}

// DrawdownETH reports the current drawdown in ETH units.
func (c *Controller) DrawdownETH() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return weiToEth(c.drawdownWei)
}

func weiToEth(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).SetInt(wei)
	f.Quo(f, big.NewFloat(1e18))
	v, _ := f.Float64()
	return v
}
