// Package quote implements the Quote Engine (C5): heterogeneous per-venue
// adapters queried concurrently under a bounded pool, returning
// venue-stamped results sorted by descending amountOut.
package quote

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/basearb/engine/internal/ammmath"
	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/poolcatalog"
)

// defaultQuotePoolSize bounds concurrent adapter calls within one
// quotes_for, per spec §5 "quoting pool (default 10)".
const defaultQuotePoolSize = 10

// v3FeeTiers lists the concentrated-liquidity fee tiers (spec §4.5). The
// tiers are not probed: a concentrated-liquidity quote uses the pool's own
// recorded fee, and v3FeeTiers[0] only when the pool has none recorded.
var v3FeeTiers = []int{100, 500, 2500, 3000, 10000}

// defaultV2FeeBps is the constant-product fee applied off-chain when no
// venue-specific override is known.
const defaultV2FeeBps = 30

// Result is one venue-stamped quote (spec §4.5 QuoteResult).
type Result struct {
	VenueID          string
	VenueName        string
	AmountOut        *big.Int
	FeeOrTickSpacing int
	GasEstimate      uint64
	ExtraData        []byte
}

// aggregatorGasFallback is applied when the aggregator response omits (or
// gives a nonsensical) gas estimate.
const aggregatorGasFallback uint64 = 200_000

// Engine is the C5 implementation.
type Engine struct {
	eth *ethclient.Client
	cfg *config.Config
	log *zap.Logger

	sem        chan struct{}
	aggLimiter *rate.Limiter
	httpClient *http.Client
}

// New creates a quote engine bounded to defaultQuotePoolSize concurrent
// adapter calls, with the aggregator adapter additionally rate-limited to
// respect its API terms.
func New(eth *ethclient.Client, cfg *config.Config, log *zap.Logger) *Engine {
	return &Engine{
		eth:        eth,
		cfg:        cfg,
		log:        log,
		sem:        make(chan struct{}, defaultQuotePoolSize),
		aggLimiter: rate.NewLimiter(rate.Every(200*time.Millisecond), 1),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// QuotesFor queries every pool known to connect tokenIn→tokenOut across the
// given pools and returns non-nil results sorted by descending AmountOut.
// Adapter failures are isolated per-pool and never abort the batch.
func (e *Engine) QuotesFor(ctx context.Context, tokenIn, tokenOut common.Address, amountIn *big.Int, pools []*poolcatalog.Pool) []Result {
	var wg sync.WaitGroup
	results := make(chan *Result, len(pools))

	for _, pool := range pools {
		if !touches(pool, tokenIn, tokenOut) {
			continue
		}
		pool := pool
		wg.Add(1)
		go func() {
			defer wg.Done()
			e.sem <- struct{}{}
			defer func() { <-e.sem }()

			r := e.quoteOne(ctx, pool, tokenIn, tokenOut, amountIn)
			if r != nil {
				results <- r
			}
		}()
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	out := make([]Result, 0, len(pools))
	for r := range results {
		out = append(out, *r)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].AmountOut.Cmp(out[j].AmountOut) > 0
	})
	return out
}

func touches(p *poolcatalog.Pool, tokenIn, tokenOut common.Address) bool {
	match := func(a, b common.Address) bool { return a == b }
	return (match(p.Token0, tokenIn) && match(p.Token1, tokenOut)) ||
		(match(p.Token1, tokenIn) && match(p.Token0, tokenOut))
}

func (e *Engine) quoteOne(ctx context.Context, pool *poolcatalog.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *Result {
	switch pool.VenueKind {
	case config.VenueV2AMM, config.VenueStableCL:
		return e.quoteConstantProduct(pool, tokenIn, tokenOut, amountIn)
	case config.VenueV3CL, config.VenueStableCLTickSpace:
		return e.quoteConcentratedLiquidity(pool, tokenIn, tokenOut, amountIn)
	case config.VenueAggregator:
		return e.quoteAggregator(ctx, pool, tokenIn, tokenOut, amountIn)
	default:
		return nil
	}
}

// quoteConstantProduct computes amountOut off-chain from cached reserves
// using the constant-product formula with a fee in basis points
// (spec §4.5).
func (e *Engine) quoteConstantProduct(pool *poolcatalog.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *Result {
	reserveIn, reserveOut := pool.Reserve0, pool.Reserve1
	if tokenIn == pool.Token1 {
		reserveIn, reserveOut = pool.Reserve1, pool.Reserve0
	}
	if reserveIn == nil || reserveOut == nil || reserveIn.Sign() == 0 {
		return nil
	}

	feeBps := pool.FeeOrTickSpacing
	if feeBps == 0 {
		feeBps = defaultV2FeeBps
	}
	amountInWithFee := new(big.Int).Mul(amountIn, big.NewInt(10000-int64(feeBps)))
	numerator := new(big.Int).Mul(amountInWithFee, reserveOut)
	denominator := new(big.Int).Add(new(big.Int).Mul(reserveIn, big.NewInt(10000)), amountInWithFee)
	if denominator.Sign() == 0 {
		return nil
	}
	amountOut := new(big.Int).Div(numerator, denominator)
	if amountOut.Sign() <= 0 {
		return nil
	}

	return &Result{
		VenueID:          pool.VenueID,
		VenueName:        pool.VenueID,
		AmountOut:        amountOut,
		FeeOrTickSpacing: feeBps,
		GasEstimate:      120_000,
	}
}

// quoteConcentratedLiquidity approximates an exact-input-single quote from
// the pool's cached liquidity and sqrtPriceX96, at the pool's own tick
// spacing / fee tier. This is a local approximation (no on-chain quoter
// round-trip) so strategy search can screen candidates cheaply; SIMULATE in
// C10 is the on-chain source of truth before submission.
func (e *Engine) quoteConcentratedLiquidity(pool *poolcatalog.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *Result {
	if pool.Liquidity == nil || pool.Liquidity.Sign() == 0 {
		return nil
	}
	sqrtPrice := pool.SqrtPriceX96
	if sqrtPrice == nil || sqrtPrice.Sign() == 0 {
		return nil
	}
	price := ammmath.SqrtPriceToPrice(sqrtPrice)
	priceFloat, _ := price.Float64()
	if priceFloat <= 0 {
		return nil
	}

	amountInFloat := new(big.Float).SetInt(amountIn)
	var outFloat *big.Float
	if tokenIn == pool.Token0 {
		outFloat = new(big.Float).Mul(amountInFloat, big.NewFloat(priceFloat))
	} else {
		outFloat = new(big.Float).Quo(amountInFloat, big.NewFloat(priceFloat))
	}
	// apply venue fee (tick spacing doubles as a fee-tier analogue, spec
	// glossary); fall back to the smallest listed tier.
	feeTier := pool.FeeOrTickSpacing
	if feeTier == 0 {
		feeTier = v3FeeTiers[0]
	}
	netFloat := new(big.Float).Mul(outFloat, big.NewFloat(float64(10000-feeTier)/10000))
	amountOut, _ := netFloat.Int(nil)
	if amountOut == nil || amountOut.Sign() <= 0 {
		return nil
	}

	return &Result{
		VenueID:          pool.VenueID,
		VenueName:        pool.VenueID,
		AmountOut:        amountOut,
		FeeOrTickSpacing: feeTier,
		GasEstimate:      150_000,
	}
}

// aggregatorPriceResponse is the subset of the 0x /swap/v1/price response
// this adapter needs: indicative amountOut and gas estimate, no calldata.
// No calldata-bearing /swap/v1/quote request is made anywhere in this
// repository; ZEROX_ARB opportunities are built from this indicative price.
type aggregatorPriceResponse struct {
	BuyAmount string `json:"buyAmount"`
	Gas       string `json:"gas"`
}

// quoteAggregator performs the "price" HTTP GET variant (no calldata) for
// screening purposes, rate-limited to a minimum inter-request interval and
// gracefully degrading to nil on throttling, timeout, or malformed responses
// (spec §4.5). Grounded on the 0x Protocol Swap API, the real-world target
// the ZEROX_ARB strategy family names.
func (e *Engine) quoteAggregator(ctx context.Context, pool *poolcatalog.Pool, tokenIn, tokenOut common.Address, amountIn *big.Int) *Result {
	reqCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := e.aggLimiter.Wait(reqCtx); err != nil {
		return nil
	}
	if e.cfg == nil || e.cfg.AggregatorBaseURL == "" {
		return nil
	}

	endpoint, err := url.Parse(e.cfg.AggregatorBaseURL + "/swap/v1/price")
	if err != nil {
		return nil
	}
	q := endpoint.Query()
	q.Set("sellToken", tokenIn.Hex())
	q.Set("buyToken", tokenOut.Hex())
	q.Set("sellAmount", amountIn.String())
	q.Set("chainId", strconv.FormatInt(e.cfg.ChainID, 10))
	endpoint.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, endpoint.String(), nil)
	if err != nil {
		return nil
	}
	if e.cfg.AggregatorAPIKey != "" {
		req.Header.Set("0x-api-key", e.cfg.AggregatorAPIKey)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		if e.log != nil {
			e.log.Warn("aggregator price request failed", zap.Error(err))
		}
		return nil
	}
	defer resp.Body.Close()

	// 429 (rate limited) and any other non-200 degrade to "no route
	// considered" rather than aborting the quote batch.
	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var parsed aggregatorPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil
	}

	amountOut, ok := new(big.Int).SetString(parsed.BuyAmount, 10)
	if !ok || amountOut.Sign() <= 0 {
		return nil
	}

	gasEstimate := aggregatorGasFallback
	if g, err := strconv.ParseUint(parsed.Gas, 10, 64); err == nil && g > 0 {
		gasEstimate = g
	}

	return &Result{
		VenueID:     pool.VenueID,
		VenueName:   pool.VenueID,
		AmountOut:   amountOut,
		GasEstimate: gasEstimate,
	}
}
