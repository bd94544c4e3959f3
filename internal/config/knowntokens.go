package config

import "github.com/ethereum/go-ethereum/common"

// TokenClass mirrors the asset-class taxonomy spec §4.1 derives token prices
// from and spec §4.6 uses to pick a borrow-amount schedule. It lives in
// config, not tokenregistry or strategy, because the seed table itself is
// deployment topology (which real Base mainnet tokens this deployment
// knows about) rather than either component's own runtime state — the same
// reasoning that put the factory table here instead of in discovery.
type TokenClass int

const (
	TokenOther TokenClass = iota
	TokenETH
	TokenETHLst
	TokenBTC
	TokenBTCWrapped
	TokenStable
	TokenEURStable
)

// KnownToken is one startup-seeded entry of the token registry (spec §4.1
// "known tokens are seeded at startup").
type KnownToken struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	Class    TokenClass
}

// KnownTokens is the fixed Base-mainnet seed set covering every asset class
// spec §4.1's pricing rules and spec §4.6's borrow schedules need.
var KnownTokens = []KnownToken{
	{common.HexToAddress("0x4200000000000000000000000000000000000006"), "WETH", 18, TokenETH},
	{common.HexToAddress("0x2Ae3F1Ec7F1F5012CFEab0185bfc7aa3cf0DEc22"), "cbETH", 18, TokenETHLst},
	{common.HexToAddress("0xc1CBa3fCea344f92D9239c08C0568f6F2F0ee452"), "wstETH", 18, TokenETHLst},
	{common.HexToAddress("0xcbB7C0000aB88B473b1f5aFd9ef808440eed33Bf"), "cbBTC", 8, TokenBTC},
	{common.HexToAddress("0x236aa50979D5f3De3Bd1Eeb40E81137F22ab794b"), "tBTC", 18, TokenBTCWrapped},
	{common.HexToAddress("0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913"), "USDC", 6, TokenStable},
	{common.HexToAddress("0xd9aAEc86B65D86f6A7B5B1b0c42FFA531710b6CA"), "USDbC", 6, TokenStable},
	{common.HexToAddress("0x50c5725949A6F0c72E6C4a641F24049A917DB0Cb"), "DAI", 18, TokenStable},
	{common.HexToAddress("0x60a3E35Cc302bFA44Cb288Bc5a4F316Fdb1adb42"), "EURC", 6, TokenEURStable},
}

// ClassOf looks up a known token's class, or TokenOther if addr isn't seeded.
func ClassOf(addr common.Address) TokenClass {
	for _, kt := range KnownTokens {
		if kt.Address == addr {
			return kt.Class
		}
	}
	return TokenOther
}

var (
	weth   = KnownTokens[0].Address
	cbeth  = KnownTokens[1].Address
	wsteth = KnownTokens[2].Address
	cbbtc  = KnownTokens[3].Address
	tbtc   = KnownTokens[4].Address
	usdc   = KnownTokens[5].Address
	usdbc  = KnownTokens[6].Address
	dai    = KnownTokens[7].Address
)

// CuratedDirectPairs is the fixed high-confidence pair table DIRECT_ARB
// searches unconditionally, distinct from DYNAMIC_ARB's unrestricted sweep
// of every graph-surfaced pair (spec §4.6).
var CuratedDirectPairs = [][2]common.Address{
	{weth, usdc},
	{cbbtc, usdc},
}

// CuratedLstPairs is the fixed {ETH-base, ETH-LST}/{BTC-base, BTC-LST} table
// LST_ARB searches both directions (spec §4.6).
var CuratedLstPairs = [][2]common.Address{
	{weth, cbeth},
	{weth, wsteth},
	{cbbtc, tbtc},
}

// CuratedStablePairs is the fixed stablecoin pair table STABLE_ARB searches
// with its larger borrow sizes (spec §4.6).
var CuratedStablePairs = [][2]common.Address{
	{usdc, usdbc},
	{usdc, dai},
}

// PriceAnchorETH / PriceAnchorBTC name the {base asset, USD stablecoin}
// pair the engine quotes on-chain to derive eth_usd/btc_usd for
// TokenRegistry.UpdatePrices (spec §4.1), since this deployment has no
// separate price-feed dependency: the pools it already tracks are the
// source of truth for its own pricing.
var (
	PriceAnchorETH = [2]common.Address{weth, usdc}
	PriceAnchorBTC = [2]common.Address{cbbtc, usdc}
)
