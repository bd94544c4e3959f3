package strategy

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/graph"
	"github.com/basearb/engine/internal/poolcatalog"
	"github.com/basearb/engine/internal/quote"
	"github.com/basearb/engine/internal/tokenregistry"
)

var (
	weth = common.HexToAddress("0x4200000000000000000000000000000000000006")
	usdc = common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913")
)

func newTestSearch(t *testing.T, gasPriceGwei float64) (*Search, *tokenregistry.Registry) {
	t.Helper()
	tokens := tokenregistry.New(nil)
	tokens.Seed(weth, "WETH", 18, tokenregistry.ClassETH)
	tokens.Seed(usdc, "USDC", 6, tokenregistry.ClassStable)
	tokens.UpdatePrices(2500, 60000)

	cfg := &config.Config{FlashPremiumBps: 5, SlippageBps: 30, MinProfitUSD: 0.50, MaxGasPriceGwei: gasPriceGwei}
	s := New(nil, tokens, cfg)
	s.SetEthUsd(2500)
	return s, tokens
}

// TestBreakEvenRejection mirrors spec §8 scenario 1.
func TestBreakEvenRejection(t *testing.T) {
	s, _ := newTestSearch(t, 0.5)
	borrow := big.NewInt(1_000_000_000_000_000_000) // 1 WETH

	q1 := quote.Result{VenueID: "v3-a", AmountOut: big.NewInt(2_500_000_000)} // 2500 USDC (6 dp)
	q2 := quote.Result{VenueID: "v3-b", AmountOut: big.NewInt(999_950_000_000_000_000)} // 0.99995 WETH

	opp := s.accountTwoLeg("DIRECT_ARB", weth, usdc, borrow, q1, q2, 100000)
	assert.Nil(t, opp)
}

// TestPoolsForResolvesEachTriangleEdge guards against the regression where
// triangularArb passed nil pool lists to every leg's QuotesFor call,
// silently making triangular arbitrage unreachable: poolsFor must recover
// the actual pool slice backing each edge regardless of token order.
func TestPoolsForResolvesEachTriangleEdge(t *testing.T) {
	dai := common.HexToAddress("0x50c5725949a6f0c72e6c4a641f24049a917db0cb")

	wethUsdcPoolA := &poolcatalog.Pool{VenueID: "v1", Token0: weth, Token1: usdc, IsActive: true}
	wethUsdcPoolB := &poolcatalog.Pool{VenueID: "v2", Token0: weth, Token1: usdc, IsActive: true}

	pairs := graph.ArbitrageablePairs([]*poolcatalog.Pool{wethUsdcPoolA, wethUsdcPoolB})
	idx := graph.IndexPairs(pairs)

	got := poolsFor(idx, usdc, weth) // reversed order from how the pools were inserted
	assert.Len(t, got, 2)

	missing := poolsFor(idx, weth, dai) // no pool connects these two directly
	assert.Empty(t, missing)
}

// TestSuccessfulDirectArb mirrors spec §8 scenario 2's literal numbers.
func TestSuccessfulDirectArb(t *testing.T) {
	s, _ := newTestSearch(t, 0.4) // chosen so gasCostUsd lands on $0.10 exactly below
	borrow := new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000)) // 10 WETH

	q1 := quote.Result{VenueID: "venue-a", AmountOut: big.NewInt(25_100_000_000)} // 25100 USDC
	q2 := quote.Result{VenueID: "venue-b", AmountOut: new(big.Int).Mul(big.NewInt(1_002), big.NewInt(10_000_000_000_000_000))} // 10.02 WETH, GasEstimate 0

	opp := s.accountTwoLeg("DIRECT_ARB", weth, usdc, borrow, q1, q2, 100000)
	require.NotNil(t, opp)

	assert.InDelta(t, 37.5, opp.ProfitUsd, 1e-6)
	assert.InDelta(t, 37.4, opp.NetProfitUsd, 1e-6)
	assert.Len(t, opp.Legs, 2)

	// final leg amountOutMin ≈ 10.006001 WETH = totalCost * 10001/10000
	finalMin := opp.Legs[1].AmountOutMin
	expected := new(big.Int).Mul(new(big.Int).Mul(big.NewInt(10_005), big.NewInt(1_000_000_000_000_000)), big.NewInt(10001))
	expected.Div(expected, big.NewInt(10000))
	assert.Equal(t, expected, finalMin)
}

func TestAccountTwoLegDoesNotFilterSameVenue(t *testing.T) {
	// The same-(venue, feeTier) filter lives in directArb's loop, not in
	// accountTwoLeg; this confirms the profit-accounting function itself has
	// no opinion on venue identity.
	s, _ := newTestSearch(t, 0.5)
	borrow := big.NewInt(1_000_000_000_000_000_000)
	q1 := quote.Result{VenueID: "same", AmountOut: big.NewInt(2_500_000_000)}
	q2 := quote.Result{VenueID: "same", AmountOut: big.NewInt(1_010_000_000_000_000_000)}
	opp := s.accountTwoLeg("DIRECT_ARB", weth, usdc, borrow, q1, q2, 100000)
	assert.NotNil(t, opp) // accountTwoLeg itself doesn't filter; directArb does
}

func TestFinalizeOpportunityRejectsBelowMinProfit(t *testing.T) {
	s, _ := newTestSearch(t, 0.5)
	s.cfg.MinProfitUSD = 1000 // unreachable floor
	borrow := new(big.Int).Mul(big.NewInt(10), big.NewInt(1_000_000_000_000_000_000))
	q1 := quote.Result{VenueID: "a", AmountOut: big.NewInt(25_100_000_000)}
	q2 := quote.Result{VenueID: "b", AmountOut: new(big.Int).Mul(big.NewInt(1_002), big.NewInt(10_000_000_000_000_000))}
	opp := s.accountTwoLeg("DIRECT_ARB", weth, usdc, borrow, q1, q2, 100000)
	assert.Nil(t, opp)
}
