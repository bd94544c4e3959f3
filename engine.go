package engine

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/discovery"
	"github.com/basearb/engine/internal/eventbus"
	"github.com/basearb/engine/internal/execution"
	"github.com/basearb/engine/internal/gas"
	"github.com/basearb/engine/internal/graph"
	"github.com/basearb/engine/internal/logging"
	"github.com/basearb/engine/internal/mempool"
	"github.com/basearb/engine/internal/model"
	"github.com/basearb/engine/internal/poolcatalog"
	"github.com/basearb/engine/internal/quote"
	"github.com/basearb/engine/internal/risk"
	"github.com/basearb/engine/internal/strategy"
	"github.com/basearb/engine/internal/tokenregistry"
	"github.com/basearb/engine/pkg/contractclient"
	"github.com/basearb/engine/pkg/txlistener"
)

// Engine owns the whole per-cycle pipeline: it keeps the pool catalog fresh,
// asks strategy search for the best opportunity each cycle, and hands it to
// the execution pipeline. It is the generalization of the teacher's
// Blackhole struct (ccm map + signer + tx listener) to many venues instead
// of one DEX.
type Engine struct {
	cfg *config.Config

	eth        *ethclient.Client
	privateKey *ecdsa.PrivateKey
	myAddr     common.Address
	tl         txlistener.TxListener

	tokens   *tokenregistry.Registry
	catalog  *poolcatalog.Catalog
	discover *discovery.Discovery
	quotes   *quote.Engine
	search   *strategy.Search
	riskCtl  *risk.Controller
	gasOracle *gas.Oracle
	mempoolObs *mempool.Observer
	exec     *execution.Pipeline
	bus      *eventbus.Bus
	logs     *logging.Streams

	stats   model.EngineStats
	statsMu sync.Mutex
}

// New wires every component from resolved config and already-dialed
// transport, mirroring the teacher's NewBlackhole(client, conf, listener,
// recorder) constructor shape.
func New(ctx context.Context, cfg *config.Config, factories *config.FactoryTable, logs *logging.Streams) (*Engine, error) {
	eth, err := ethclient.Dial(cfg.RPCURLHTTP)
	if err != nil {
		return nil, fmt.Errorf("dial RPC: %w", err)
	}

	privateKey, err := crypto.HexToECDSA(trimHexPrefix(cfg.SignerKey))
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse signer key: %w", err)
	}
	myAddr := crypto.PubkeyToAddress(privateKey.PublicKey)

	tl := txlistener.NewTxListener(eth,
		txlistener.WithPollInterval(3*time.Second),
		txlistener.WithTimeout(5*time.Minute),
	)

	erc20ABI, err := tokenregistry.ERC20ABI()
	if err != nil {
		eth.Close()
		return nil, fmt.Errorf("parse ERC-20 ABI: %w", err)
	}
	tokens := tokenregistry.New(func(addr common.Address) contractclient.ContractClient {
		return contractclient.NewContractClient(eth, addr, erc20ABI)
	})

	catalog := poolcatalog.New("./data/pools.json")
	loaded, err := catalog.Load()
	if err != nil {
		logs.General.Sugar().Warnf("catalog load failed, full rescan required: %v", err)
	} else if !loaded {
		logs.General.Sugar().Info("no fresh catalog snapshot found, full rescan required")
	}

	bus := eventbus.New()

	disc := discovery.New(eth, tokens, catalog, factories, logs.General, bus)
	quotes := quote.New(eth, cfg, logs.General)
	search := strategy.New(quotes, tokens, cfg)
	seedKnownTokens(tokens, search)
	seedAggregatorPools(catalog)

	riskCtl := risk.NewController(cfg, logs.Errors)
	gasOracle := gas.NewOracle(eth)
	mempoolObs := mempool.NewObserver(cfg.RPCURLPush, bus, logs.General)
	if err := registerKnownRouters(mempoolObs); err != nil {
		eth.Close()
		return nil, fmt.Errorf("register known routers: %w", err)
	}
	contractAddr := common.HexToAddress(cfg.ContractAddress)
	exec := execution.New(eth, myAddr, privateKey, contractAddr, tl, cfg, riskCtl, gasOracle, bus, logs.Trades, logs.Errors)

	return &Engine{
		cfg:        cfg,
		eth:        eth,
		privateKey: privateKey,
		myAddr:     myAddr,
		tl:         tl,
		tokens:     tokens,
		catalog:    catalog,
		discover:   disc,
		quotes:     quotes,
		search:     search,
		riskCtl:    riskCtl,
		gasOracle:  gasOracle,
		mempoolObs: mempoolObs,
		exec:       exec,
		bus:        bus,
		logs:       logs,
		stats:      model.EngineStats{CumulativeProfit: big.NewInt(0)},
	}, nil
}

// Run is the main loop: it runs until ctx is cancelled, mirroring the
// teacher's RunStrategy1(ctx, reportChan, config) shape with a richer
// pipeline underneath.
func (e *Engine) Run(ctx context.Context, reportChan chan<- string) error {
	defer close(reportChan)

	if err := e.gasOracle.RefreshFromChain(ctx); err != nil {
		e.logs.General.Sugar().Warnf("initial gas oracle refresh failed: %v", err)
	}
	if err := e.discover.FullScanIfNeeded(ctx); err != nil {
		return fmt.Errorf("initial discovery: %w", err)
	}
	e.refreshPrices(ctx)

	go e.discover.RunPeriodic(ctx, e.cfg.PollInterval)
	go e.mempoolObs.Run(ctx)
	go e.gasOracle.RunPeriodic(ctx, gasRefreshInterval, e.logs.General)
	go e.runPriceRefreshLoop(ctx)

	reportChan <- e.bus.Publish(eventbus.Event{Type: eventbus.StrategyStart, Message: "engine started"})

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return e.shutdown(reportChan)
		case <-ticker.C:
			e.runCycle(ctx, reportChan)
		}
	}
}

func (e *Engine) runCycle(ctx context.Context, reportChan chan<- string) {
	start := time.Now()
	defer func() {
		e.statsMu.Lock()
		e.stats.Cycles++
		e.stats.TotalCycleTime += time.Since(start)
		e.statsMu.Unlock()
	}()

	pairs := graph.ArbitrageablePairs(e.catalog.ActivePools())
	triangles := graph.TriangularPaths(pairs, e.tokens.BorrowableSet())

	opportunities := e.search.FindOpportunities(ctx, pairs, triangles)
	e.statsMu.Lock()
	e.stats.OpportunitiesFound += uint64(len(opportunities))
	e.statsMu.Unlock()

	if len(opportunities) == 0 {
		return
	}

	best := opportunities[0]
	if err := e.riskCtl.Validate(best); err != nil {
		reportChan <- e.bus.Publish(eventbus.Event{Type: eventbus.OpportunitySkipped, Message: err.Error()})
		return
	}

	e.statsMu.Lock()
	e.stats.Executed++
	e.statsMu.Unlock()

	result := e.exec.Execute(ctx, best)
	if result.Confirmed {
		e.statsMu.Lock()
		e.stats.Succeeded++
		e.stats.CumulativeProfit.Add(e.stats.CumulativeProfit, result.NetProfit)
		e.statsMu.Unlock()
	}
	reportChan <- e.bus.Publish(eventbus.Event{
		Type:    eventbus.OpportunityExecuted,
		Message: fmt.Sprintf("opportunity %s -> %s", best.ID, result.FinalState),
	})
}

func (e *Engine) shutdown(reportChan chan<- string) error {
	e.exec.Shutdown(30 * time.Second)
	e.mempoolObs.Stop()
	if err := e.catalog.Save(); err != nil {
		e.logs.Errors.Sugar().Errorf("final catalog save failed: %v", err)
	}
	reportChan <- e.bus.Publish(eventbus.Event{Type: eventbus.Shutdown, Message: "graceful shutdown"})
	e.eth.Close()
	e.logs.Sync()
	return nil
}

// Stats returns a snapshot of process-wide counters.
func (e *Engine) Stats() model.EngineStats {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()
	cp := new(big.Int).Set(e.stats.CumulativeProfit)
	s := e.stats
	s.CumulativeProfit = cp
	return s
}

func trimHexPrefix(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// gasRefreshInterval / priceRefreshInterval govern the two background loops
// Run spawns alongside discovery's RunPeriodic and the mempool observer's
// Run (spec §4.1 "known tokens are seeded at startup", §4.8's rolling
// window needs live chain-head observations to stay populated).
const gasRefreshInterval = 12 * time.Second
const priceRefreshInterval = 30 * time.Second

// fallbackEthUsd / fallbackBtcUsd seed the registry with a conservative
// estimate before the first on-chain anchor quote succeeds, so the engine
// never runs a full cycle with USD accounting pinned at zero.
const fallbackEthUsd = 2500.0
const fallbackBtcUsd = 60000.0

// seedKnownTokens registers every token in the fixed Base-mainnet seed
// table (config.KnownTokens) with both the token registry (pricing) and
// strategy search (borrow schedule class + curated pair tables), and
// primes prices with the fallback constants so ValueUSD is never 0 before
// the first refreshPrices call completes (spec §4.1).
func seedKnownTokens(tokens *tokenregistry.Registry, search *strategy.Search) {
	for _, kt := range config.KnownTokens {
		tokens.Seed(kt.Address, kt.Symbol, kt.Decimals, tokenAssetClass(kt.Class))
		search.SeedAssetClass(kt.Address, strategyAssetClass(kt.Class))
	}
	tokens.UpdatePrices(fallbackEthUsd, fallbackBtcUsd)
	search.SetEthUsd(fallbackEthUsd)

	for _, pair := range config.CuratedDirectPairs {
		search.SeedCuratedDirect(strategy.CuratedPair{TokenA: pair[0], TokenB: pair[1], Class: strategyAssetClassOf(pair[0])})
	}
	for _, pair := range config.CuratedLstPairs {
		search.SeedCuratedLst(strategy.CuratedPair{TokenA: pair[0], TokenB: pair[1], Class: strategyAssetClassOf(pair[0])})
	}
	for _, pair := range config.CuratedStablePairs {
		search.SeedCuratedStable(strategy.CuratedPair{TokenA: pair[0], TokenB: pair[1], Class: strategy.AssetStable})
	}
}

func strategyAssetClassOf(addr common.Address) strategy.AssetClass {
	return strategyAssetClass(config.ClassOf(addr))
}

func tokenAssetClass(c config.TokenClass) tokenregistry.AssetClass {
	switch c {
	case config.TokenETH:
		return tokenregistry.ClassETH
	case config.TokenETHLst:
		return tokenregistry.ClassETHLst
	case config.TokenBTC:
		return tokenregistry.ClassBTC
	case config.TokenBTCWrapped:
		return tokenregistry.ClassBTCWrapped
	case config.TokenStable:
		return tokenregistry.ClassStable
	case config.TokenEURStable:
		return tokenregistry.ClassEURStable
	default:
		return tokenregistry.ClassOther
	}
}

func strategyAssetClass(c config.TokenClass) strategy.AssetClass {
	switch c {
	case config.TokenETH, config.TokenETHLst:
		return strategy.AssetETHLike
	case config.TokenBTC, config.TokenBTCWrapped:
		return strategy.AssetBTCLike
	case config.TokenStable, config.TokenEURStable:
		return strategy.AssetStable
	default:
		return strategy.AssetOther
	}
}

// aggregatorPlaceholderLiquidityUsd marks a synthetic aggregator pool as
// always above any MinLiquidityUSD floor: the aggregator sources its own
// liquidity across every venue it covers, so this engine has no on-chain
// reserve to measure for it.
const aggregatorPlaceholderLiquidityUsd = 1_000_000_000

// seedAggregatorPools inserts one synthetic per-curated-pair pool tagged
// config.VenueAggregator into the catalog, giving ArbitrageablePairs a
// second venue to pair against on/off-chain liquidity for ZEROX_ARB
// (spec §4.6); discovery's refreshOne treats unknown venue kinds as
// "nothing to refresh" rather than deactivating them, so these entries
// persist for the life of the process.
func seedAggregatorPools(catalog *poolcatalog.Catalog) {
	for _, pair := range config.CuratedDirectPairs {
		token0, token1 := pair[0], pair[1]
		catalog.Insert(&poolcatalog.Pool{
			VenueID:       "0x-aggregator",
			VenueKind:     config.VenueAggregator,
			PoolAddress:   syntheticAggregatorAddress(token0, token1),
			Token0:        token0,
			Token1:        token1,
			LiquidityUsd:  aggregatorPlaceholderLiquidityUsd,
			IsActive:      true,
		})
	}
}

// syntheticAggregatorAddress derives a deterministic, collision-free
// address for a synthetic aggregator pool entry from its token pair, since
// the aggregator has no on-chain pool contract of its own.
func syntheticAggregatorAddress(token0, token1 common.Address) common.Address {
	return common.BytesToAddress(crypto.Keccak256(token0.Bytes(), token1.Bytes(), []byte("0x-aggregator")))
}

// registerKnownRouters parses the fixed router ABI fragments once and
// registers every router in config.KnownRouters with the mempool observer,
// so handleMessage's calldata decode path has something to match against
// in production (spec §4.9).
func registerKnownRouters(obs *mempool.Observer) error {
	v2ABI, err := mempool.RouterABIV2()
	if err != nil {
		return fmt.Errorf("parse v2 router abi: %w", err)
	}
	v3ABI, err := mempool.RouterABIV3()
	if err != nil {
		return fmt.Errorf("parse v3 router abi: %w", err)
	}
	for _, r := range config.KnownRouters {
		switch r.Kind {
		case config.RouterV2:
			obs.RegisterRouter(r.Address, v2ABI)
		case config.RouterV3:
			obs.RegisterRouter(r.Address, v3ABI)
		}
	}
	return nil
}

// anchorQuoteAmountETH / anchorQuoteAmountBTC are the probe sizes used to
// derive eth_usd/btc_usd from the engine's own tracked pools: large enough
// to clear dust-liquidity pools, small enough not to move a real pool's
// price materially.
var anchorQuoteAmountETH = big.NewInt(1e18)
var anchorQuoteAmountBTC = new(big.Int).Exp(big.NewInt(10), big.NewInt(8), nil)

// refreshPrices derives eth_usd/btc_usd from the engine's own tracked pools
// (quoting the WETH/USDC and cbBTC/USDC anchor pairs) instead of depending
// on an external price-feed API, and feeds the result into both the token
// registry and strategy search (spec §4.1's update_prices contract). A
// missing anchor quote leaves the previous price in place rather than
// zeroing it out.
func (e *Engine) refreshPrices(ctx context.Context) {
	ethUsd, ok := e.anchorPriceUsd(ctx, config.PriceAnchorETH, anchorQuoteAmountETH, 6)
	if !ok {
		ethUsd = e.tokens.PriceUsd(config.PriceAnchorETH[0])
		if ethUsd == 0 {
			ethUsd = fallbackEthUsd
		}
	}
	btcUsd, ok := e.anchorPriceUsd(ctx, config.PriceAnchorBTC, anchorQuoteAmountBTC, 6)
	if !ok {
		btcUsd = e.tokens.PriceUsd(config.PriceAnchorBTC[0])
		if btcUsd == 0 {
			btcUsd = fallbackBtcUsd
		}
	}

	e.tokens.UpdatePrices(ethUsd, btcUsd)
	e.search.SetEthUsd(ethUsd)
}

// anchorPriceUsd quotes 1 whole unit of anchor[0] into anchor[1] (assumed a
// USD stablecoin at decimals quoteDecimals) across every pool this engine
// already tracks for that pair, and returns the best quote converted to a
// USD-per-unit price.
func (e *Engine) anchorPriceUsd(ctx context.Context, anchor [2]common.Address, amountIn *big.Int, quoteDecimals uint8) (float64, bool) {
	pools := e.catalog.ActivePools()
	var relevant []*poolcatalog.Pool
	for _, p := range pools {
		if p.VenueKind == config.VenueAggregator {
			continue
		}
		if (p.Token0 == anchor[0] && p.Token1 == anchor[1]) || (p.Token1 == anchor[0] && p.Token0 == anchor[1]) {
			relevant = append(relevant, p)
		}
	}
	if len(relevant) == 0 {
		return 0, false
	}
	results := e.quotes.QuotesFor(ctx, anchor[0], anchor[1], amountIn, relevant)
	if len(results) == 0 {
		return 0, false
	}
	out := new(big.Float).SetInt(results[0].AmountOut)
	scale := new(big.Float).SetFloat64(pow10Float(quoteDecimals))
	out.Quo(out, scale)
	price, _ := out.Float64()
	if price <= 0 {
		return 0, false
	}
	return price, true
}

func pow10Float(n uint8) float64 {
	v := 1.0
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}

// runPriceRefreshLoop periodically re-derives eth_usd/btc_usd until ctx is
// cancelled, parallel to discovery's RunPeriodic and the gas oracle's
// RunPeriodic.
func (e *Engine) runPriceRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(priceRefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.refreshPrices(ctx)
		}
	}
}
