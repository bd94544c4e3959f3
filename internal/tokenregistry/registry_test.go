package tokenregistry

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveSeeded(t *testing.T) {
	r := New(nil)
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	r.Seed(weth, "WETH", 18, ClassETH)

	info, ok := r.Resolve(weth)
	require.True(t, ok)
	assert.Equal(t, "WETH", info.Symbol)
	assert.EqualValues(t, 18, info.Decimals)
}

func TestResolveUnknownFallsBackWithoutFactory(t *testing.T) {
	r := New(nil)
	unknown := common.HexToAddress("0x0000000000000000000000000000000000dEaD")

	info, ok := r.Resolve(unknown)
	require.True(t, ok)
	assert.Equal(t, "UNKNOWN", info.Symbol)
	assert.EqualValues(t, 18, info.Decimals)
	assert.Equal(t, 0.0, info.PriceUsd)
}

func TestUpdatePricesAssetClasses(t *testing.T) {
	r := New(nil)
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	cbbtc := common.HexToAddress("0x000000000000000000000000000000000000c1")
	usdc := common.HexToAddress("0x000000000000000000000000000000000000c2")
	eure := common.HexToAddress("0x000000000000000000000000000000000000c3")

	r.Seed(weth, "WETH", 18, ClassETH)
	r.Seed(cbbtc, "cbBTC", 8, ClassBTCWrapped)
	r.Seed(usdc, "USDC", 6, ClassStable)
	r.Seed(eure, "EURC", 6, ClassEURStable)

	r.UpdatePrices(2500, 60000)

	assert.Equal(t, 2500.0, r.PriceUsd(weth))
	assert.Equal(t, 60000.0, r.PriceUsd(cbbtc))
	assert.Equal(t, 1.0, r.PriceUsd(usdc))
	assert.Equal(t, 1.08, r.PriceUsd(eure))
}

func TestValueUSD(t *testing.T) {
	r := New(nil)
	usdc := common.HexToAddress("0x000000000000000000000000000000000000c2")
	r.Seed(usdc, "USDC", 6, ClassStable)
	r.UpdatePrices(2500, 60000)

	amount := new(big.Int).Mul(big.NewInt(1000), big.NewInt(1_000_000)) // 1000 USDC
	assert.InDelta(t, 1000.0, r.ValueUSD(usdc, amount), 1e-6)
}

func TestValueUSDUnknownTokenIsZero(t *testing.T) {
	r := New(nil)
	unknown := common.HexToAddress("0x0000000000000000000000000000000000beef")
	assert.Equal(t, 0.0, r.ValueUSD(unknown, big.NewInt(1_000_000)))
}

func TestBorrowableSetExcludesOtherClass(t *testing.T) {
	r := New(nil)
	weth := common.HexToAddress("0x4200000000000000000000000000000000000006")
	other := common.HexToAddress("0x0000000000000000000000000000000000face")
	r.Seed(weth, "WETH", 18, ClassETH)
	r.Seed(other, "RANDOM", 18, ClassOther)

	set := r.BorrowableSet()
	_, ok := set[weth]
	assert.True(t, ok)
	_, ok = set[other]
	assert.False(t, ok)
}
