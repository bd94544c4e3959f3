package graph

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/poolcatalog"
)

func pool(venue string, token0, token1 common.Address, liq float64) *poolcatalog.Pool {
	return &poolcatalog.Pool{
		VenueID:      venue,
		VenueKind:    config.VenueV2AMM,
		PoolAddress:  common.BytesToAddress([]byte(venue + token0.Hex())),
		Token0:       token0,
		Token1:       token1,
		LiquidityUsd: liq,
		IsActive:     true,
	}
}

func TestArbitrageablePairsRequiresTwoVenues(t *testing.T) {
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdc := common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	dai := common.HexToAddress("0x50c5725949a6f0c72e6c4a641f24049a917db0cb")

	pools := []*poolcatalog.Pool{
		pool("aerodrome", weth, usdc, 100000),
		pool("uniswap", weth, usdc, 200000),
		pool("aerodrome", weth, dai, 50000), // only one venue, not arbitrageable
	}

	pairs := ArbitrageablePairs(pools)
	assert.Len(t, pairs, 1)
	assert.Equal(t, 200000.0, pairs[0].BestLiquidityUsd)
}

func TestArbitrageablePairsSortedDescending(t *testing.T) {
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdc := common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
	dai := common.HexToAddress("0x50c5725949a6f0c72e6c4a641f24049a917db0cb")

	pools := []*poolcatalog.Pool{
		pool("aerodrome", weth, usdc, 10000),
		pool("uniswap", weth, usdc, 20000),
		pool("aerodrome", usdc, dai, 90000),
		pool("uniswap", usdc, dai, 80000),
	}

	pairs := ArbitrageablePairs(pools)
	require := assert.New(t)
	require.Len(pairs, 2)
	require.GreaterOrEqual(pairs[0].BestLiquidityUsd, pairs[1].BestLiquidityUsd)
}

func TestTriangularPathsRotatesToBorrowable(t *testing.T) {
	a := common.HexToAddress("0x0000000000000000000000000000000000000a")
	b := common.HexToAddress("0x0000000000000000000000000000000000000b")
	c := common.HexToAddress("0x0000000000000000000000000000000000000c")

	pools := []*poolcatalog.Pool{
		pool("v1", a, b, 1000),
		pool("v2", a, b, 1000),
		pool("v1", b, c, 1000),
		pool("v2", b, c, 1000),
		pool("v1", a, c, 1000),
		pool("v2", a, c, 1000),
	}
	pairs := ArbitrageablePairs(pools)

	borrowable := map[common.Address]struct{}{b: {}}
	triangles := TriangularPaths(pairs, borrowable)

	assert := assert.New(t)
	if assert.Len(triangles, 1) {
		assert.Equal(b, triangles[0].TokenA)
	}
}

func TestTriangularPathsDropsTrianglesWithNoBorrowableVertex(t *testing.T) {
	a := common.HexToAddress("0x0000000000000000000000000000000000000a")
	b := common.HexToAddress("0x0000000000000000000000000000000000000b")
	c := common.HexToAddress("0x0000000000000000000000000000000000000c")

	pools := []*poolcatalog.Pool{
		pool("v1", a, b, 1000),
		pool("v2", a, b, 1000),
		pool("v1", b, c, 1000),
		pool("v2", b, c, 1000),
		pool("v1", a, c, 1000),
		pool("v2", a, c, 1000),
	}
	pairs := ArbitrageablePairs(pools)

	triangles := TriangularPaths(pairs, map[common.Address]struct{}{})
	assert.Empty(t, triangles)
}

func TestIndexPairsLookupIsOrderIndependent(t *testing.T) {
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdc := common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")

	pairs := ArbitrageablePairs([]*poolcatalog.Pool{
		pool("aerodrome", weth, usdc, 100000),
		pool("uniswap", usdc, weth, 200000),
	})
	require.Len(t, pairs, 1)

	idx := IndexPairs(pairs)
	got, ok := idx[PairKey(usdc, weth)]
	require.True(t, ok)
	assert.Same(t, pairs[0], got)
	assert.Equal(t, pairs[0].Key(), PairKey(weth, usdc))
}
