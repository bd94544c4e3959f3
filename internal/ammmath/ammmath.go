// Package ammmath implements the concentrated-liquidity math shared by the
// pool discovery liquidity refresher (TVL estimation) and the quote engine's
// v3/stable-CL adapters: tick <-> sqrtPriceX96 conversion and liquidity <->
// token-amount conversion.
package ammmath

import (
	"fmt"
	"math"
	"math/big"
)

// q96 is 2^96, the fixed-point base of Uniswap-v3-style sqrtPriceX96 values.
var q96 = new(big.Int).Lsh(big.NewInt(1), 96)

// TickToSqrtPriceX96 converts a tick index to its Q64.96 sqrt-price
// representation: sqrtPriceX96 = sqrt(1.0001^tick) * 2^96.
func TickToSqrtPriceX96(tick int) *big.Int {
	price := math.Pow(1.0001, float64(tick))
	sqrtPrice := math.Sqrt(price)

	sqrtPriceBig := new(big.Float).SetFloat64(sqrtPrice)
	sqrtPriceBig.Mul(sqrtPriceBig, new(big.Float).SetInt(q96))

	result, _ := sqrtPriceBig.Int(nil)
	return result
}

// SqrtPriceToPrice converts a Q64.96 sqrtPriceX96 into price = (sqrtPriceX96
// / 2^96)^2, expressed as token1 per token0 before decimal adjustment.
func SqrtPriceToPrice(sqrtPriceX96 *big.Int) *big.Float {
	ratio := new(big.Float).Quo(new(big.Float).SetInt(sqrtPriceX96), new(big.Float).SetInt(q96))
	return new(big.Float).Mul(ratio, ratio)
}

// CalculateTickBounds derives a symmetric tick range around currentTick that
// is rangeWidth multiples of tickSpacing wide on each side, rounded to valid
// tick-spacing boundaries.
func CalculateTickBounds(currentTick int32, rangeWidth, tickSpacing int) (tickLower, tickUpper int32, err error) {
	if tickSpacing <= 0 {
		return 0, 0, fmt.Errorf("tickSpacing must be positive, got %d", tickSpacing)
	}
	if rangeWidth <= 0 {
		return 0, 0, fmt.Errorf("rangeWidth must be positive, got %d", rangeWidth)
	}

	spacing := int32(tickSpacing)
	width := int32(rangeWidth)

	base := (currentTick / spacing) * spacing
	if currentTick < 0 && currentTick%spacing != 0 {
		base -= spacing
	}
	tickLower = base - width*spacing
	tickUpper = base + width*spacing
	return tickLower, tickUpper, nil
}

// ComputeAmounts derives the token0/token1 amounts (and resulting liquidity)
// a position consumes given the pool's current price and a requested tick
// range, capped by amount0Max/amount1Max. Mirrors Uniswap v3's
// LiquidityAmounts.getLiquidityForAmounts plus its amount-for-liquidity
// inverse, evaluated once.
func ComputeAmounts(sqrtPriceX96 *big.Int, currentTick, tickLower, tickUpper int, amount0Max, amount1Max *big.Int) (amount0, amount1, liquidity *big.Int) {
	sqrtLower := TickToSqrtPriceX96(tickLower)
	sqrtUpper := TickToSqrtPriceX96(tickUpper)
	sqrtCurrent := sqrtPriceX96

	var l0, l1 *big.Float

	switch {
	case currentTick <= tickLower:
		l0 = liquidityForAmount0(sqrtLower, sqrtUpper, amount0Max)
		liquidityF := l0
		amount0, amount1 = amountsForLiquidity(liquidityF, sqrtLower, sqrtUpper, sqrtCurrent, currentTick, tickLower, tickUpper)
		return amount0, amount1, floatToBigInt(liquidityF)
	case currentTick >= tickUpper:
		l1 = liquidityForAmount1(sqrtLower, sqrtUpper, amount1Max)
		liquidityF := l1
		amount0, amount1 = amountsForLiquidity(liquidityF, sqrtLower, sqrtUpper, sqrtCurrent, currentTick, tickLower, tickUpper)
		return amount0, amount1, floatToBigInt(liquidityF)
	default:
		l0 = liquidityForAmount0(sqrtCurrent, sqrtUpper, amount0Max)
		l1 = liquidityForAmount1(sqrtLower, sqrtCurrent, amount1Max)
		liquidityF := l0
		if l1.Cmp(l0) < 0 {
			liquidityF = l1
		}
		amount0, amount1 = amountsForLiquidity(liquidityF, sqrtLower, sqrtUpper, sqrtCurrent, currentTick, tickLower, tickUpper)
		return amount0, amount1, floatToBigInt(liquidityF)
	}
}

// CalculateTokenAmountsFromLiquidity is the inverse of ComputeAmounts: given
// a fixed liquidity L and a (possibly new) sqrtPriceX96, it returns the
// token0/token1 amounts that liquidity represents at that price within
// [tickLower, tickUpper].
func CalculateTokenAmountsFromLiquidity(liquidity, sqrtPriceX96 *big.Int, tickLower, tickUpper int32) (amount0, amount1 *big.Int, err error) {
	if liquidity == nil || liquidity.Sign() <= 0 {
		return nil, nil, fmt.Errorf("liquidity must be positive")
	}
	currentTick := sqrtPriceToApproxTick(sqrtPriceX96)
	liquidityF := new(big.Float).SetInt(liquidity)
	a0, a1 := amountsForLiquidity(liquidityF, TickToSqrtPriceX96(int(tickLower)), TickToSqrtPriceX96(int(tickUpper)), sqrtPriceX96, currentTick, int(tickLower), int(tickUpper))
	return a0, a1, nil
}

// CalculateRebalanceAmounts decides which side of a two-asset position is
// over-weighted relative to the pool's current price and how much of it
// should be swapped into the other side to restore balance. tokenToSwap is 0
// for token0 (e.g. the base asset) and 1 for token1 (e.g. the quote asset).
func CalculateRebalanceAmounts(balance0, balance1, sqrtPriceX96 *big.Int) (tokenToSwap int, swapAmount *big.Int, err error) {
	if balance0 == nil || balance1 == nil || sqrtPriceX96 == nil {
		return 0, nil, fmt.Errorf("nil input")
	}

	price := SqrtPriceToPrice(sqrtPriceX96)

	value0 := new(big.Float).Mul(new(big.Float).SetInt(balance0), price)
	value1 := new(big.Float).SetInt(balance1)

	total := new(big.Float).Add(value0, value1)
	half := new(big.Float).Quo(total, big.NewFloat(2))

	if value0.Cmp(half) > 0 {
		excess := new(big.Float).Sub(value0, half)
		excessToken0 := new(big.Float).Quo(excess, price)
		return 0, floatToBigInt(excessToken0), nil
	}

	excess := new(big.Float).Sub(value1, half)
	return 1, floatToBigInt(excess), nil
}

// CalculateMinAmount applies a percentage slippage tolerance to a desired
// amount, returning the floor acceptable amount.
func CalculateMinAmount(desired *big.Int, slippagePct int) *big.Int {
	min := new(big.Int).Mul(desired, big.NewInt(int64(100-slippagePct)))
	return min.Div(min, big.NewInt(100))
}

func liquidityForAmount0(sqrtA, sqrtB *big.Int, amount0 *big.Int) *big.Float {
	lo, hi := orderSqrt(sqrtA, sqrtB)
	intermediate := new(big.Float).Quo(new(big.Float).SetInt(lo), new(big.Float).SetInt(q96))
	intermediate.Mul(intermediate, new(big.Float).Quo(new(big.Float).SetInt(hi), new(big.Float).SetInt(q96)))
	diff := new(big.Float).Sub(new(big.Float).SetInt(hi), new(big.Float).SetInt(lo))
	diff.Quo(diff, new(big.Float).SetInt(q96))
	numerator := new(big.Float).Mul(new(big.Float).SetInt(amount0), intermediate)
	if diff.Sign() == 0 {
		return big.NewFloat(0)
	}
	return new(big.Float).Quo(numerator, diff)
}

func liquidityForAmount1(sqrtA, sqrtB *big.Int, amount1 *big.Int) *big.Float {
	lo, hi := orderSqrt(sqrtA, sqrtB)
	diff := new(big.Float).Sub(new(big.Float).SetInt(hi), new(big.Float).SetInt(lo))
	diff.Quo(diff, new(big.Float).SetInt(q96))
	if diff.Sign() == 0 {
		return big.NewFloat(0)
	}
	return new(big.Float).Quo(new(big.Float).SetInt(amount1), diff)
}

func amountsForLiquidity(liquidity *big.Float, sqrtLower, sqrtUpper, sqrtCurrent *big.Int, currentTick, tickLower, tickUpper int) (amount0, amount1 *big.Int) {
	switch {
	case currentTick <= tickLower:
		amount0 = floatToBigInt(amount0ForLiquidity(liquidity, sqrtLower, sqrtUpper))
		amount1 = big.NewInt(0)
	case currentTick >= tickUpper:
		amount0 = big.NewInt(0)
		amount1 = floatToBigInt(amount1ForLiquidity(liquidity, sqrtLower, sqrtUpper))
	default:
		amount0 = floatToBigInt(amount0ForLiquidity(liquidity, sqrtCurrent, sqrtUpper))
		amount1 = floatToBigInt(amount1ForLiquidity(liquidity, sqrtLower, sqrtCurrent))
	}
	return amount0, amount1
}

func amount0ForLiquidity(liquidity *big.Float, sqrtA, sqrtB *big.Int) *big.Float {
	lo, hi := orderSqrt(sqrtA, sqrtB)
	intermediate := new(big.Float).Quo(new(big.Float).SetInt(lo), new(big.Float).SetInt(q96))
	intermediate.Mul(intermediate, new(big.Float).Quo(new(big.Float).SetInt(hi), new(big.Float).SetInt(q96)))
	diff := new(big.Float).Sub(new(big.Float).SetInt(hi), new(big.Float).SetInt(lo))
	diff.Quo(diff, new(big.Float).SetInt(q96))
	if intermediate.Sign() == 0 {
		return big.NewFloat(0)
	}
	return new(big.Float).Quo(new(big.Float).Mul(liquidity, diff), intermediate)
}

func amount1ForLiquidity(liquidity *big.Float, sqrtA, sqrtB *big.Int) *big.Float {
	lo, hi := orderSqrt(sqrtA, sqrtB)
	diff := new(big.Float).Sub(new(big.Float).SetInt(hi), new(big.Float).SetInt(lo))
	diff.Quo(diff, new(big.Float).SetInt(q96))
	return new(big.Float).Mul(liquidity, diff)
}

func orderSqrt(a, b *big.Int) (lo, hi *big.Int) {
	if a.Cmp(b) <= 0 {
		return a, b
	}
	return b, a
}

func floatToBigInt(f *big.Float) *big.Int {
	if f.Sign() < 0 {
		return big.NewInt(0)
	}
	i, _ := f.Int(nil)
	return i
}

// sqrtPriceToApproxTick inverts SqrtPriceToPrice via natural-log identities:
// tick = log(price) / log(1.0001). Used only to pick which side of a range a
// price falls on; callers needing the exact on-chain tick should read it
// directly from pool state instead.
func sqrtPriceToApproxTick(sqrtPriceX96 *big.Int) int {
	price, _ := SqrtPriceToPrice(sqrtPriceX96).Float64()
	if price <= 0 {
		return 0
	}
	return int(math.Log(price) / math.Log(1.0001))
}
