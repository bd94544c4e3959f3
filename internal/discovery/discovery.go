// Package discovery implements Pool Discovery (C3): per-factory event-log
// crawling to populate the pool catalog, followed by a concurrent liquidity
// refresh that estimates each pool's TVL in USD. Grounded on the teacher's
// own chain-scanning style in pkg/contractclient (FilterLogs + manual
// topic/ABI decoding) generalized from one DEX's fixed event set to a
// factory table of heterogeneous venue kinds.
package discovery

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/eventbus"
	"github.com/basearb/engine/internal/graph"
	"github.com/basearb/engine/internal/poolcatalog"
	"github.com/basearb/engine/internal/tokenregistry"
)

// chunkSize is "scan blocks in chunks of 10,000" (spec §4.3).
const chunkSize uint64 = 10_000

// refreshBatchSize / refreshBatchDelay / saveEveryBatches are the liquidity
// refresher's concurrency and cadence knobs (spec §4.3/§5).
const refreshBatchSize = 20
const refreshBatchDelay = 200 * time.Millisecond
const saveEveryBatches = 5

// v2FeeBps / degenerateLiquidityMultiplier are the fixed fallback constants
// from spec §4.3.
const v2FeeBps = 30
const degenerateLiquidityMultiplier = 1000

var (
	poolCreatedV3Sig            = crypto.Keccak256Hash([]byte("PoolCreated(address,address,uint24,int24,address)"))
	pairCreatedV2Sig            = crypto.Keccak256Hash([]byte("PairCreated(address,address,address,uint256)"))
	poolCreatedStableSig        = crypto.Keccak256Hash([]byte("PoolCreated(address,address,bool,address,uint256)"))
	poolCreatedStableTickSpcSig = crypto.Keccak256Hash([]byte("PoolCreated(address,address,int24,address)"))
)

func topicFor(kind config.VenueKind) common.Hash {
	switch kind {
	case config.VenueV3CL:
		return poolCreatedV3Sig
	case config.VenueV2AMM:
		return pairCreatedV2Sig
	case config.VenueStableCL:
		return poolCreatedStableSig
	case config.VenueStableCLTickSpace:
		return poolCreatedStableTickSpcSig
	default:
		return common.Hash{}
	}
}

// Discovery is the C3 implementation.
type Discovery struct {
	eth       *ethclient.Client
	tokens    *tokenregistry.Registry
	catalog   *poolcatalog.Catalog
	factories *config.FactoryTable
	log       *zap.Logger
	bus       *eventbus.Bus

	pairs     []*graph.Pair
	triangles []graph.Triangle

	refreshLimiter *rate.Limiter
}

// New creates a discovery component over the given factory table.
func New(eth *ethclient.Client, tokens *tokenregistry.Registry, catalog *poolcatalog.Catalog, factories *config.FactoryTable, log *zap.Logger, bus *eventbus.Bus) *Discovery {
	return &Discovery{
		eth: eth, tokens: tokens, catalog: catalog, factories: factories, log: log, bus: bus,
		refreshLimiter: rate.NewLimiter(rate.Every(refreshBatchDelay), 1),
	}
}

// FullScanIfNeeded crawls every factory from its configured startBlock (or
// resumes from the catalog's lastScanBlock if a snapshot was loaded), then
// runs a liquidity refresh and rebuilds the pair/triangle graphs.
func (d *Discovery) FullScanIfNeeded(ctx context.Context) error {
	head, err := d.eth.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain head: %w", err)
	}

	for _, f := range d.factories.Factories {
		from := f.StartBlock
		if d.catalog.LastScanBlock() > from {
			from = d.catalog.LastScanBlock()
		}
		if err := d.scanFactory(ctx, f, from, head); err != nil {
			d.log.Warn("factory scan incomplete", zap.String("venueId", f.VenueID), zap.Error(err))
		}
	}
	d.catalog.SetLastScanBlock(head)

	if err := d.RefreshLiquidity(ctx); err != nil {
		d.log.Warn("liquidity refresh after full scan failed", zap.Error(err))
	}
	d.rebuildGraphs()
	return d.catalog.Save()
}

// RunPeriodic ticks every interval, running an incremental scan and
// liquidity refresh, rebuilding graphs only if the catalog changed.
func (d *Discovery) RunPeriodic(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.incrementalScan(ctx); err != nil {
				d.log.Warn("incremental scan failed", zap.Error(err))
				continue
			}
		}
	}
}

func (d *Discovery) incrementalScan(ctx context.Context) error {
	head, err := d.eth.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("fetch chain head: %w", err)
	}
	from := d.catalog.LastScanBlock() + 1
	if from > head {
		return nil
	}

	before := d.catalog.Len()
	for _, f := range d.factories.Factories {
		if err := d.scanFactory(ctx, f, from, head); err != nil {
			d.log.Warn("incremental factory scan incomplete", zap.String("venueId", f.VenueID), zap.Error(err))
		}
	}
	d.catalog.SetLastScanBlock(head)

	if err := d.RefreshLiquidity(ctx); err != nil {
		d.log.Warn("liquidity refresh after incremental scan failed", zap.Error(err))
	}
	if d.catalog.Len() != before {
		d.rebuildGraphs()
	}
	return d.catalog.Save()
}

// scanFactory crawls [from, to] in chunkSize-block windows, constructing and
// inserting an inactive, zero-liquidity pool per decoded event. RPC errors
// are logged per-chunk at debug level and never abort the scan (spec §4.3).
func (d *Discovery) scanFactory(ctx context.Context, f config.FactoryEntry, from, to uint64) error {
	topic := topicFor(f.VenueKind)
	if topic == (common.Hash{}) {
		return fmt.Errorf("unsupported venue kind %q", f.VenueKind)
	}
	addr := common.HexToAddress(f.FactoryAddress)

	for start := from; start <= to; start += chunkSize {
		end := start + chunkSize - 1
		if end > to {
			end = to
		}

		logs, err := d.eth.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(start),
			ToBlock:   new(big.Int).SetUint64(end),
			Addresses: []common.Address{addr},
			Topics:    [][]common.Hash{{topic}},
		})
		if err != nil {
			d.log.Debug("chunk scan RPC error, continuing", zap.String("venueId", f.VenueID),
				zap.Uint64("from", start), zap.Uint64("to", end), zap.Error(err))
			continue
		}

		for _, l := range logs {
			d.handleLog(f, l)
		}
	}
	return nil
}

func (d *Discovery) handleLog(f config.FactoryEntry, l types.Log) {
	token0, token1, poolAddr, feeOrTick, ok := decodeFactoryLog(f.VenueKind, l)
	if !ok {
		return
	}

	info0, ok0 := d.tokens.Resolve(token0)
	info1, ok1 := d.tokens.Resolve(token1)
	if !ok0 || !ok1 {
		return // unresolved token: drop the pool (spec §4.1/§4.3)
	}

	pool := &poolcatalog.Pool{
		VenueID:          f.VenueID,
		VenueKind:        f.VenueKind,
		PoolAddress:      poolAddr,
		Token0:           token0,
		Token1:           token1,
		Token0Decimals:   info0.Decimals,
		Token1Decimals:   info1.Decimals,
		FeeOrTickSpacing: feeOrTick,
		Liquidity:        big.NewInt(0),
		Reserve0:         big.NewInt(0),
		Reserve1:         big.NewInt(0),
		IsActive:         false,
	}
	d.catalog.Insert(pool)
}

// decodeFactoryLog extracts (token0, token1, poolAddress, feeOrTickSpacing)
// from a raw log per the venue kind's fixed event schema (spec §4.3).
// Indexed topics decode directly; the pool address and any trailing
// non-indexed fields are read from the contiguous 32-byte words of Data.
func decodeFactoryLog(kind config.VenueKind, l types.Log) (token0, token1, pool common.Address, feeOrTick int, ok bool) {
	if len(l.Topics) < 3 {
		return
	}
	token0 = common.BytesToAddress(l.Topics[1].Bytes())
	token1 = common.BytesToAddress(l.Topics[2].Bytes())

	switch kind {
	case config.VenueV3CL:
		// fee is indexed (topic[3]); tickSpacing and pool are in Data.
		if len(l.Topics) < 4 || len(l.Data) < 64 {
			return
		}
		fee := new(big.Int).SetBytes(l.Topics[3].Bytes()).Int64()
		pool = common.BytesToAddress(l.Data[32:64])
		return token0, token1, pool, int(fee), true

	case config.VenueV2AMM:
		if len(l.Data) < 32 {
			return
		}
		pool = common.BytesToAddress(l.Data[0:32])
		return token0, token1, pool, v2FeeBps, true

	case config.VenueStableCL:
		if len(l.Data) < 64 {
			return
		}
		stable := new(big.Int).SetBytes(l.Data[0:32]).Sign() != 0
		pool = common.BytesToAddress(l.Data[32:64])
		fee := 30
		if stable {
			fee = 5
		}
		return token0, token1, pool, fee, true

	case config.VenueStableCLTickSpace:
		if len(l.Data) < 64 {
			return
		}
		tickSpacing := new(big.Int).SetBytes(l.Data[0:32]).Int64()
		pool = common.BytesToAddress(l.Data[32:64])
		return token0, token1, pool, int(tickSpacing), true

	default:
		return
	}
}

// RefreshLiquidity re-estimates liquidityUsd for every relevant pool (at
// least one known token) in batches of refreshBatchSize with an
// inter-batch cooldown, saving the catalog every saveEveryBatches batches
// (spec §4.3).
func (d *Discovery) RefreshLiquidity(ctx context.Context) error {
	relevant := d.relevantPools()
	for start := 0; start < len(relevant); start += refreshBatchSize {
		end := start + refreshBatchSize
		if end > len(relevant) {
			end = len(relevant)
		}
		d.refreshBatch(ctx, relevant[start:end])
		if err := d.catalog.MaybeSave(saveEveryBatches); err != nil {
			d.log.Warn("periodic catalog save during refresh failed", zap.Error(err))
		}

		if err := d.refreshLimiter.Wait(ctx); err != nil {
			return ctx.Err()
		}
	}
	return nil
}

func (d *Discovery) relevantPools() []*poolcatalog.Pool {
	var out []*poolcatalog.Pool
	known := d.tokens.BorrowableSet()
	for _, p := range d.catalog.AllPools() {
		_, ok0 := known[p.Token0]
		_, ok1 := known[p.Token1]
		if ok0 || ok1 {
			out = append(out, p)
		}
	}
	return out
}

func (d *Discovery) refreshBatch(ctx context.Context, pools []*poolcatalog.Pool) {
	for _, p := range pools {
		p := p
		if err := d.refreshOne(ctx, p); err != nil {
			d.log.Debug("pool liquidity refresh failed", zap.String("pool", p.Key()), zap.Error(err))
			continue
		}
		p.IsActive = p.LiquidityUsd > 0
		p.LastUpdatedMillis = time.Now().UnixMilli()
	}
}

func (d *Discovery) refreshOne(ctx context.Context, p *poolcatalog.Pool) error {
	switch p.VenueKind {
	case config.VenueV2AMM, config.VenueStableCL:
		return d.refreshReserveBased(ctx, p)
	case config.VenueV3CL, config.VenueStableCLTickSpace:
		return d.refreshConcentratedLiquidity(ctx, p)
	default:
		return fmt.Errorf("unsupported venue kind %q", p.VenueKind)
	}
}

// reservesSelector / liquiditySelector / slot0Selector are the function
// selectors for getReserves(), liquidity() and slot0() respectively,
// precomputed since the pool contracts are queried without a full ABI.
var reservesSelector = crypto.Keccak256([]byte("getReserves()"))[:4]
var liquiditySelector = crypto.Keccak256([]byte("liquidity()"))[:4]
var slot0Selector = crypto.Keccak256([]byte("slot0()"))[:4]

func (d *Discovery) refreshReserveBased(ctx context.Context, p *poolcatalog.Pool) error {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	out, err := d.eth.CallContract(callCtx, ethereum.CallMsg{To: &p.PoolAddress, Data: reservesSelector}, nil)
	if err != nil {
		return fmt.Errorf("getReserves: %w", err)
	}
	if len(out) < 64 {
		return fmt.Errorf("getReserves: short response")
	}
	reserve0 := new(big.Int).SetBytes(out[0:32])
	reserve1 := new(big.Int).SetBytes(out[32:64])

	p.Reserve0 = reserve0
	p.Reserve1 = reserve1
	liquidityUsd := d.tokens.ValueUSD(p.Token0, reserve0) + d.tokens.ValueUSD(p.Token1, reserve1)
	p.LiquidityUsd = clampFinite(liquidityUsd)
	return nil
}

func (d *Discovery) refreshConcentratedLiquidity(ctx context.Context, p *poolcatalog.Pool) error {
	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	liqOut, err := d.eth.CallContract(callCtx, ethereum.CallMsg{To: &p.PoolAddress, Data: liquiditySelector}, nil)
	if err != nil || len(liqOut) < 32 {
		return fmt.Errorf("liquidity: %w", err)
	}
	liquidity := new(big.Int).SetBytes(liqOut[0:32])

	slot0Out, err := d.eth.CallContract(callCtx, ethereum.CallMsg{To: &p.PoolAddress, Data: slot0Selector}, nil)
	if err != nil || len(slot0Out) < 32 {
		return fmt.Errorf("slot0: %w", err)
	}
	sqrtPriceX96 := new(big.Int).SetBytes(slot0Out[0:32])

	p.Liquidity = liquidity
	p.SqrtPriceX96 = sqrtPriceX96

	amount0, amount1 := virtualReservesFromLiquidity(liquidity, sqrtPriceX96)
	usd0 := d.tokens.ValueUSD(p.Token0, amount0)
	usd1 := d.tokens.ValueUSD(p.Token1, amount1)

	var liquidityUsd float64
	switch {
	case usd0 > 0 && usd1 > 0:
		liquidityUsd = usd0 + usd1
	case usd0 > 0:
		liquidityUsd = usd0 * 2
	case usd1 > 0:
		liquidityUsd = usd1 * 2
	default:
		// neither token has a price: degenerate estimate so the pool is
		// not silently excluded from consideration (spec §4.3).
		f := new(big.Float).SetInt(liquidity)
		f.Mul(f, big.NewFloat(degenerateLiquidityMultiplier))
		liquidityUsd, _ = f.Float64()
	}
	p.LiquidityUsd = clampFinite(liquidityUsd)
	return nil
}

// virtualReservesFromLiquidity derives the standard full-range token
// amounts a concentrated-liquidity position's raw `liquidity` represents at
// the pool's current price: amount0 = L*2^96/sqrtP, amount1 = L*sqrtP/2^96.
func virtualReservesFromLiquidity(liquidity, sqrtPriceX96 *big.Int) (amount0, amount1 *big.Int) {
	if liquidity == nil || liquidity.Sign() == 0 || sqrtPriceX96 == nil || sqrtPriceX96.Sign() == 0 {
		return big.NewInt(0), big.NewInt(0)
	}
	q96 := new(big.Int).Lsh(big.NewInt(1), 96)
	a0 := new(big.Int).Mul(liquidity, q96)
	a0.Div(a0, sqrtPriceX96)
	a1 := new(big.Int).Mul(liquidity, sqrtPriceX96)
	a1.Div(a1, q96)
	return a0, a1
}

func clampFinite(v float64) float64 {
	if v < 0 || v != v || v > 1e30 { // NaN check via self-inequality, overflow guard
		return 0
	}
	return v
}

// rebuildGraphs recomputes the pair/triangle graphs over the current active
// pool set (spec §4.4), caching the result for Pairs()/Triangles(). The
// engine's cycle loop does not read this cache; it builds its own pairs and
// triangles each cycle.
func (d *Discovery) rebuildGraphs() {
	pools := d.catalog.ActivePools()
	d.pairs = graph.ArbitrageablePairs(pools)
	d.triangles = graph.TriangularPaths(d.pairs, d.tokens.BorrowableSet())
	if d.bus != nil {
		d.bus.Publish(eventbus.Event{Type: eventbus.CycleEnd, Message: fmt.Sprintf("graph rebuilt: %d pairs, %d triangles", len(d.pairs), len(d.triangles))})
	}
}

// Pairs returns the last rebuilt arbitrageable pairs snapshot.
func (d *Discovery) Pairs() []*graph.Pair { return d.pairs }

// Triangles returns the last rebuilt triangular paths snapshot.
func (d *Discovery) Triangles() []graph.Triangle { return d.triangles }
