// Package strategy implements Strategy Search (C6): enumerates candidate
// opportunities across six strategy families and accounts net USD profit
// per spec §4.6, emitting the top-k ArbOpportunity records per cycle.
package strategy

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/graph"
	"github.com/basearb/engine/internal/model"
	"github.com/basearb/engine/internal/poolcatalog"
	"github.com/basearb/engine/internal/quote"
	"github.com/basearb/engine/internal/tokenregistry"
)

// gasBaseTwoLeg / gasBaseThreeLeg are the fixed gas overheads added to the
// sum of per-leg estimates (spec §4.6 "gasEst").
const gasBaseTwoLeg = 100_000
const gasBaseThreeLeg = 120_000

// topK is the default number of opportunities proceeding per cycle
// (spec §4.6 "top-k, default 1").
const topK = 1

// ethLikeBorrowAmounts / stableBorrowAmounts / btcLikeBorrowAmounts are the
// asset-class-specific borrow schedules of spec §4.6.
var ethLikeBorrowAmounts = scaledAmounts([]int64{1, 5, 10, 50, 100}, 18)
var stableBorrowAmounts = scaledAmounts([]int64{5_000, 25_000, 100_000, 250_000}, 6)
var btcLikeBorrowAmountsTenths = []int64{1, 5, 10, 50} // ×10^7, i.e. 0.1..5 × 10^8

func scaledAmounts(units []int64, decimals int) []*big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	out := make([]*big.Int, len(units))
	for i, u := range units {
		out[i] = new(big.Int).Mul(big.NewInt(u), scale)
	}
	return out
}

func btcLikeBorrowAmounts() []*big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(7), nil)
	out := make([]*big.Int, len(btcLikeBorrowAmountsTenths))
	for i, u := range btcLikeBorrowAmountsTenths {
		out[i] = new(big.Int).Mul(big.NewInt(u), scale)
	}
	return out
}

// AssetClass tags which borrow schedule a token uses.
type AssetClass int

const (
	AssetOther AssetClass = iota
	AssetETHLike
	AssetStable
	AssetBTCLike
)

// CuratedPair is a hand-picked pair searched unconditionally, used by
// LST_ARB, STABLE_ARB and the curated DIRECT_ARB list.
type CuratedPair struct {
	TokenA, TokenB common.Address
	Class          AssetClass
}

// Search is the C6 implementation.
type Search struct {
	quotes        *quote.Engine
	tokens        *tokenregistry.Registry
	cfg           *config.Config
	assetClassOf  map[common.Address]AssetClass
	curatedLst    []CuratedPair
	curatedStable []CuratedPair
	curatedDirect []CuratedPair
	ethUsd        float64
}

// New creates a strategy search engine over the given quote engine and
// token registry.
func New(quotes *quote.Engine, tokens *tokenregistry.Registry, cfg *config.Config) *Search {
	return &Search{
		quotes:       quotes,
		tokens:       tokens,
		cfg:          cfg,
		assetClassOf: make(map[common.Address]AssetClass),
	}
}

// SeedAssetClass registers a token's borrow-amount schedule class.
func (s *Search) SeedAssetClass(addr common.Address, class AssetClass) {
	s.assetClassOf[addr] = class
}

// SeedCuratedLst registers an {ETH-base, ETH-LST} or {BTC-base, BTC-LST}
// pair for LST_ARB.
func (s *Search) SeedCuratedLst(pair CuratedPair) {
	s.curatedLst = append(s.curatedLst, pair)
}

// SeedCuratedStable registers a stablecoin pair for STABLE_ARB.
func (s *Search) SeedCuratedStable(pair CuratedPair) {
	s.curatedStable = append(s.curatedStable, pair)
}

// SeedCuratedDirect registers a fixed high-confidence pair DIRECT_ARB
// searches unconditionally, distinct from DYNAMIC_ARB's unrestricted sweep
// of every graph-surfaced pair (spec §4.6).
func (s *Search) SeedCuratedDirect(pair CuratedPair) {
	s.curatedDirect = append(s.curatedDirect, pair)
}

// SetEthUsd feeds the current ETH/USD price used for gas cost accounting.
func (s *Search) SetEthUsd(ethUsd float64) {
	s.ethUsd = ethUsd
}

func (s *Search) borrowAmountsFor(class AssetClass) []*big.Int {
	switch class {
	case AssetETHLike:
		return ethLikeBorrowAmounts
	case AssetStable:
		return stableBorrowAmounts
	case AssetBTCLike:
		return btcLikeBorrowAmounts()
	default:
		return ethLikeBorrowAmounts
	}
}

// FindOpportunities runs every strategy family over the given pairs and
// triangles, returning accepted opportunities sorted by descending
// NetProfitUsd, truncated to topK.
func (s *Search) FindOpportunities(ctx context.Context, pairs []*graph.Pair, triangles []graph.Triangle) []*model.ArbOpportunity {
	var all []*model.ArbOpportunity
	pairIndex := graph.IndexPairs(pairs)

	for _, pair := range pairs {
		class := s.classify(pair.TokenA)
		all = append(all, s.directArb(ctx, pair, model.DynamicArb, s.borrowAmountsFor(class))...)
		if opp := s.zeroXArb(ctx, pair, s.borrowAmountsFor(class)); opp != nil {
			all = append(all, opp)
		}
	}
	for _, cp := range s.curatedDirect {
		pair, ok := pairIndex[graph.PairKey(cp.TokenA, cp.TokenB)]
		if !ok {
			continue // no discovered pool connects this curated pair yet
		}
		all = append(all, s.directArb(ctx, pair, model.DirectArb, s.borrowAmountsFor(cp.Class))...)
	}
	for _, cp := range s.curatedLst {
		pair, ok := pairIndex[graph.PairKey(cp.TokenA, cp.TokenB)]
		if !ok {
			continue // no discovered pool connects this curated pair yet
		}
		all = append(all, s.directArb(ctx, pair, model.LstArb, s.borrowAmountsFor(cp.Class))...)
	}
	for _, cp := range s.curatedStable {
		pair, ok := pairIndex[graph.PairKey(cp.TokenA, cp.TokenB)]
		if !ok {
			continue // no discovered pool connects this curated pair yet
		}
		all = append(all, s.directArb(ctx, pair, model.StableArb, stableBorrowAmounts)...)
	}
	for _, tri := range triangles {
		if opp := s.triangularArb(ctx, tri, pairIndex); opp != nil {
			all = append(all, opp)
		}
	}

	sort.Slice(all, func(i, j int) bool { return all[i].NetProfitUsd > all[j].NetProfitUsd })
	if len(all) > topK {
		all = all[:topK]
	}
	return all
}

func (s *Search) classify(addr common.Address) AssetClass {
	if c, ok := s.assetClassOf[addr]; ok {
		return c
	}
	return AssetOther
}

// directArb implements DIRECT_ARB/DYNAMIC_ARB/LST_ARB/STABLE_ARB, which
// share the same two-leg shape and differ only in which pairs and borrow
// schedule feed it (spec §4.6).
func (s *Search) directArb(ctx context.Context, pair *graph.Pair, kind model.StrategyKind, borrowAmounts []*big.Int) []*model.ArbOpportunity {
	var out []*model.ArbOpportunity
	for _, borrow := range borrowAmounts {
		leg1Quotes := s.quotes.QuotesFor(ctx, pair.TokenA, pair.TokenB, borrow, pair.Pools)
		for _, q1 := range leg1Quotes {
			leg2Quotes := s.quotes.QuotesFor(ctx, pair.TokenB, pair.TokenA, q1.AmountOut, pair.Pools)
			for _, q2 := range leg2Quotes {
				if q1.VenueID == q2.VenueID && q1.FeeOrTickSpacing == q2.FeeOrTickSpacing {
					continue // reject identical (venue, feeTier) on both legs
				}
				opp := s.accountTwoLeg(kind, pair.TokenA, pair.TokenB, borrow, q1, q2, pair.BestLiquidityUsd)
				if opp != nil {
					out = append(out, opp)
				}
			}
		}
	}
	return out
}

// triangularArb takes the best quote on each of A→B, B→C, C→A, sourcing
// each leg's candidate pools from the pair index built over the same
// arbitrageable-pairs snapshot the triangle was derived from.
func (s *Search) triangularArb(ctx context.Context, tri graph.Triangle, pairIndex map[string]*graph.Pair) *model.ArbOpportunity {
	borrowAmounts := s.borrowAmountsFor(s.classify(tri.TokenA))
	poolsAB := poolsFor(pairIndex, tri.TokenA, tri.TokenB)
	poolsBC := poolsFor(pairIndex, tri.TokenB, tri.TokenC)
	poolsCA := poolsFor(pairIndex, tri.TokenC, tri.TokenA)
	if len(poolsAB) == 0 || len(poolsBC) == 0 || len(poolsCA) == 0 {
		return nil
	}

	var best *model.ArbOpportunity
	for _, borrow := range borrowAmounts {
		legAB := s.quotes.QuotesFor(ctx, tri.TokenA, tri.TokenB, borrow, poolsAB)
		if len(legAB) == 0 {
			continue
		}
		legBC := s.quotes.QuotesFor(ctx, tri.TokenB, tri.TokenC, legAB[0].AmountOut, poolsBC)
		if len(legBC) == 0 {
			continue
		}
		legCA := s.quotes.QuotesFor(ctx, tri.TokenC, tri.TokenA, legBC[0].AmountOut, poolsCA)
		if len(legCA) == 0 {
			continue
		}
		opp := s.accountThreeLeg(tri, borrow, legAB[0], legBC[0], legCA[0])
		if opp != nil && (best == nil || opp.NetProfitUsd > best.NetProfitUsd) {
			best = opp
		}
	}
	return best
}

// zeroXArb implements ZEROX_ARB: an aggregator indicative price for the A→B leg
// (the aggregator sources its own best route across every venue it covers,
// so only its quote is considered for that leg) followed by the best
// on-chain direct quote for the return B→A leg (spec §4.6 "aggregator
// A→B / best direct quote B→A").
func (s *Search) zeroXArb(ctx context.Context, pair *graph.Pair, borrowAmounts []*big.Int) *model.ArbOpportunity {
	aggPools, directPools := splitAggregatorPools(pair.Pools)
	if len(aggPools) == 0 || len(directPools) == 0 {
		return nil
	}

	var best *model.ArbOpportunity
	for _, borrow := range borrowAmounts {
		legAgg := s.quotes.QuotesFor(ctx, pair.TokenA, pair.TokenB, borrow, aggPools)
		if len(legAgg) == 0 {
			continue
		}
		legDirect := s.quotes.QuotesFor(ctx, pair.TokenB, pair.TokenA, legAgg[0].AmountOut, directPools)
		if len(legDirect) == 0 {
			continue
		}
		opp := s.accountTwoLeg(model.ZeroXArb, pair.TokenA, pair.TokenB, borrow, legAgg[0], legDirect[0], pair.BestLiquidityUsd)
		if opp != nil && (best == nil || opp.NetProfitUsd > best.NetProfitUsd) {
			best = opp
		}
	}
	return best
}

func splitAggregatorPools(pools []*poolcatalog.Pool) (agg, direct []*poolcatalog.Pool) {
	for _, p := range pools {
		if p.VenueKind == config.VenueAggregator {
			agg = append(agg, p)
		} else {
			direct = append(direct, p)
		}
	}
	return agg, direct
}

// accountTwoLeg applies the profit-accounting formulas of spec §4.6 to a
// two-leg candidate.
func (s *Search) accountTwoLeg(kind model.StrategyKind, tokenA, tokenB common.Address, borrow *big.Int, q1, q2 quote.Result, poolLiquidityUsd float64) *model.ArbOpportunity {
	flashFee := new(big.Int).Div(new(big.Int).Mul(borrow, big.NewInt(int64(s.cfg.FlashPremiumBps))), big.NewInt(10000))
	totalCost := new(big.Int).Add(borrow, flashFee)
	profit := new(big.Int).Sub(q2.AmountOut, totalCost)
	if profit.Sign() <= 0 {
		return nil
	}

	gasEst := q1.GasEstimate + q2.GasEstimate + gasBaseTwoLeg
	return s.finalizeOpportunity(kind, tokenA, borrow, profit, totalCost, gasEst, poolLiquidityUsd, []model.SwapLeg{
		{VenueID: q1.VenueID, TokenIn: tokenA, TokenOut: tokenB, AmountIn: borrow, ExpectedAmountOut: q1.AmountOut, FeeOrTickSpacing: q1.FeeOrTickSpacing},
		{VenueID: q2.VenueID, TokenIn: tokenB, TokenOut: tokenA, ExpectedAmountOut: q2.AmountOut, FeeOrTickSpacing: q2.FeeOrTickSpacing},
	})
}

func (s *Search) accountThreeLeg(tri graph.Triangle, borrow *big.Int, legAB, legBC, legCA quote.Result) *model.ArbOpportunity {
	flashFee := new(big.Int).Div(new(big.Int).Mul(borrow, big.NewInt(int64(s.cfg.FlashPremiumBps))), big.NewInt(10000))
	totalCost := new(big.Int).Add(borrow, flashFee)
	profit := new(big.Int).Sub(legCA.AmountOut, totalCost)
	if profit.Sign() <= 0 {
		return nil
	}

	gasEst := legAB.GasEstimate + legBC.GasEstimate + legCA.GasEstimate + gasBaseThreeLeg
	return s.finalizeOpportunity(model.TriangularArb, tri.TokenA, borrow, profit, totalCost, gasEst, 0, []model.SwapLeg{
		{VenueID: legAB.VenueID, TokenIn: tri.TokenA, TokenOut: tri.TokenB, AmountIn: borrow, ExpectedAmountOut: legAB.AmountOut, FeeOrTickSpacing: legAB.FeeOrTickSpacing},
		{VenueID: legBC.VenueID, TokenIn: tri.TokenB, TokenOut: tri.TokenC, ExpectedAmountOut: legBC.AmountOut, FeeOrTickSpacing: legBC.FeeOrTickSpacing},
		{VenueID: legCA.VenueID, TokenIn: tri.TokenC, TokenOut: tri.TokenA, ExpectedAmountOut: legCA.AmountOut, FeeOrTickSpacing: legCA.FeeOrTickSpacing},
	})
}

func (s *Search) finalizeOpportunity(kind model.StrategyKind, borrowAsset common.Address, borrow, profit, totalCost *big.Int, gasEst uint64, poolLiquidityUsd float64, legs []model.SwapLeg) *model.ArbOpportunity {
	profitBps := new(big.Int).Div(new(big.Int).Mul(profit, big.NewInt(10000)), borrow).Int64()
	profitUsd := s.tokens.ValueUSD(borrowAsset, profit)

	gasCostUsd := float64(gasEst) * s.cfg.MaxGasPriceGwei * 1e-9 * s.ethUsd
	netProfitUsd := profitUsd - gasCostUsd
	if netProfitUsd < s.cfg.MinProfitUSD {
		return nil
	}

	applySlippage(legs, s.cfg.SlippageBps, totalCost)

	return &model.ArbOpportunity{
		ID:               uuid.NewString(),
		StrategyKind:     kind,
		BorrowAsset:      borrowAsset,
		BorrowAmount:     borrow,
		Legs:             legs,
		ExpectedProfit:   profit,
		ProfitBps:        profitBps,
		ProfitUsd:        profitUsd,
		GasEstimate:      gasEst,
		GasCostUsd:       gasCostUsd,
		NetProfitUsd:     netProfitUsd,
		PoolLiquidityUsd: poolLiquidityUsd,
		CreatedMillis:    time.Now().UnixMilli(),
	}
}

func poolsFor(pairIndex map[string]*graph.Pair, a, b common.Address) []*poolcatalog.Pool {
	p, ok := pairIndex[graph.PairKey(a, b)]
	if !ok {
		return nil
	}
	return p.Pools
}

// applySlippage sets amountOutMin on every leg but the last to
// expectedAmountOut*(10000-slippageBps)/10000, and on the final leg to
// totalCost*10001/10000 (break-even plus one basis point), per spec §4.6.
func applySlippage(legs []model.SwapLeg, slippageBps int, totalCost *big.Int) {
	for i := range legs {
		if i == len(legs)-1 {
			legs[i].AmountOutMin = new(big.Int).Div(new(big.Int).Mul(totalCost, big.NewInt(10001)), big.NewInt(10000))
			continue
		}
		legs[i].AmountOutMin = new(big.Int).Div(
			new(big.Int).Mul(legs[i].ExpectedAmountOut, big.NewInt(int64(10000-slippageBps))),
			big.NewInt(10000),
		)
	}
}
