package discovery

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basearb/engine/internal/config"
)

func addrTopic(a common.Address) common.Hash {
	return common.BytesToHash(a.Bytes())
}

func leftPad32(v int64) common.Hash {
	return common.BigToHash(big.NewInt(v))
}

var (
	token0 = common.HexToAddress("0x4200000000000000000000000000000000000006")
	token1 = common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	pool   = common.HexToAddress("0xdeaddeaddeaddeaddeaddeaddeaddeaddeaddead")
)

func TestDecodeFactoryLogV3CL(t *testing.T) {
	data := make([]byte, 64)
	copy(data[44:64], pool.Bytes())

	l := types.Log{
		Topics: []common.Hash{{}, addrTopic(token0), addrTopic(token1), leftPad32(500)},
		Data:   data,
	}

	gotT0, gotT1, gotPool, fee, ok := decodeFactoryLog(config.VenueV3CL, l)
	require.True(t, ok)
	assert.Equal(t, token0, gotT0)
	assert.Equal(t, token1, gotT1)
	assert.Equal(t, pool, gotPool)
	assert.Equal(t, 500, fee)
}

func TestDecodeFactoryLogV2AMM(t *testing.T) {
	data := make([]byte, 32)
	copy(data[12:32], pool.Bytes())

	l := types.Log{
		Topics: []common.Hash{{}, addrTopic(token0), addrTopic(token1)},
		Data:   data,
	}

	gotT0, gotT1, gotPool, fee, ok := decodeFactoryLog(config.VenueV2AMM, l)
	require.True(t, ok)
	assert.Equal(t, token0, gotT0)
	assert.Equal(t, token1, gotT1)
	assert.Equal(t, pool, gotPool)
	assert.Equal(t, v2FeeBps, fee)
}

func TestDecodeFactoryLogStableCL(t *testing.T) {
	data := make([]byte, 64)
	data[31] = 1 // stable = true
	copy(data[44:64], pool.Bytes())

	l := types.Log{
		Topics: []common.Hash{{}, addrTopic(token0), addrTopic(token1)},
		Data:   data,
	}

	_, _, gotPool, fee, ok := decodeFactoryLog(config.VenueStableCL, l)
	require.True(t, ok)
	assert.Equal(t, pool, gotPool)
	assert.Equal(t, 5, fee, "stable pools carry the reduced fee tier")
}

func TestDecodeFactoryLogStableCLTickSpacing(t *testing.T) {
	data := make([]byte, 64)
	copy(data[0:32], leftPad32(60).Bytes())
	copy(data[44:64], pool.Bytes())

	l := types.Log{
		Topics: []common.Hash{{}, addrTopic(token0), addrTopic(token1)},
		Data:   data,
	}

	_, _, gotPool, tickSpacing, ok := decodeFactoryLog(config.VenueStableCLTickSpace, l)
	require.True(t, ok)
	assert.Equal(t, pool, gotPool)
	assert.Equal(t, 60, tickSpacing)
}

func TestDecodeFactoryLogRejectsShortTopics(t *testing.T) {
	l := types.Log{Topics: []common.Hash{{}, addrTopic(token0)}}
	_, _, _, _, ok := decodeFactoryLog(config.VenueV2AMM, l)
	assert.False(t, ok)
}

func TestDecodeFactoryLogRejectsUnsupportedKind(t *testing.T) {
	data := make([]byte, 64)
	l := types.Log{
		Topics: []common.Hash{{}, addrTopic(token0), addrTopic(token1)},
		Data:   data,
	}
	_, _, _, _, ok := decodeFactoryLog(config.VenueAggregator, l)
	assert.False(t, ok)
}

func TestVirtualReservesFromLiquidityFullRange(t *testing.T) {
	// At price 1.0 (sqrtPriceX96 == Q96), a full-range position's two
	// virtual reserves should both equal the raw liquidity value.
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	liquidity := big.NewInt(1_000_000)

	a0, a1 := virtualReservesFromLiquidity(liquidity, q96)
	assert.Equal(t, liquidity, a0)
	assert.Equal(t, liquidity, a1)
}

func TestVirtualReservesFromLiquidityZeroInputs(t *testing.T) {
	a0, a1 := virtualReservesFromLiquidity(big.NewInt(0), big.NewInt(123))
	assert.Equal(t, big.NewInt(0), a0)
	assert.Equal(t, big.NewInt(0), a1)

	a0, a1 = virtualReservesFromLiquidity(big.NewInt(123), nil)
	assert.Equal(t, big.NewInt(0), a0)
	assert.Equal(t, big.NewInt(0), a1)
}

func TestClampFiniteRejectsNegativeNaNAndOverflow(t *testing.T) {
	assert.Equal(t, 0.0, clampFinite(-1))
	assert.Equal(t, 0.0, clampFinite(nanValue()))
	assert.Equal(t, 0.0, clampFinite(1e31))
	assert.Equal(t, 42.5, clampFinite(42.5))
}

func nanValue() float64 {
	var zero float64
	return zero / zero
}

func TestTopicForDispatchesPerVenueKind(t *testing.T) {
	assert.Equal(t, poolCreatedV3Sig, topicFor(config.VenueV3CL))
	assert.Equal(t, pairCreatedV2Sig, topicFor(config.VenueV2AMM))
	assert.Equal(t, poolCreatedStableSig, topicFor(config.VenueStableCL))
	assert.Equal(t, poolCreatedStableTickSpcSig, topicFor(config.VenueStableCLTickSpace))
	assert.Equal(t, common.Hash{}, topicFor(config.VenueAggregator))
}
