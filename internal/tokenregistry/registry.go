// Package tokenregistry implements the Token Registry (C1): address →
// {symbol, decimals, usd price}, with lazy on-chain resolution for unknown
// tokens and asset-class-derived USD pricing from two live inputs (ETH/BTC).
package tokenregistry

import (
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/basearb/engine/pkg/contractclient"
)

// ClientFactory builds a read-only ContractClient bound to an ERC-20 token
// address, used only for the symbol()/decimals() fallback calls.
type ClientFactory func(address common.Address) contractclient.ContractClient

// AssetClass tags the pricing rule applied to a seeded token.
type AssetClass int

const (
	// ClassOther carries priceUsd = 0 and contributes nothing to TVL.
	ClassOther AssetClass = iota
	ClassETH
	ClassETHLst
	ClassBTC
	ClassBTCWrapped
	ClassStable
	// ClassEURStable is pegged to EUR, priced at ethUsd-independent fixed
	// multiple of the USD stable price (spec §4.1: "EUR-pegged at 1.08x").
	ClassEURStable
)

// eurPeg is the fixed EUR/USD multiple applied to EUR-pegged stablecoins.
const eurPeg = 1.08

// Registry is the C1 implementation: seeded known tokens plus lazily
// resolved unknowns, backed by a mutex instead of actor-style message
// passing since resolution is a simple read-modify-write under lock.
type Registry struct {
	mu      sync.RWMutex
	tokens  map[common.Address]*TokenInfo
	classes map[common.Address]AssetClass
	newClient ClientFactory

	ethUsd float64
	btcUsd float64
}

// TokenInfo mirrors spec §3's TokenInfo record.
type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
	PriceUsd float64
}

// New creates an empty registry. Seed known tokens with Seed before use.
func New(newClient ClientFactory) *Registry {
	return &Registry{
		tokens:    make(map[common.Address]*TokenInfo),
		classes:   make(map[common.Address]AssetClass),
		newClient: newClient,
	}
}

// Seed registers a known token address with its pricing asset class ahead
// of any discovery activity.
func (r *Registry) Seed(addr common.Address, symbol string, decimals uint8, class AssetClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[addr] = &TokenInfo{Address: addr, Symbol: symbol, Decimals: decimals}
	r.classes[addr] = class
}

// Resolve returns the registry's record for addr, resolving it on-chain via
// symbol()/decimals() on first sight. A resolution failure still returns a
// usable record (symbol "UNKNOWN", decimals 18) per spec §4.1 rather than
// nil, since pool discovery only needs *a* TokenInfo to proceed with zero
// USD weight; callers that must distinguish "never seen" from "seeded"
// should check ClassOf separately.
func (r *Registry) Resolve(addr common.Address) (*TokenInfo, bool) {
	r.mu.RLock()
	info, ok := r.tokens[addr]
	r.mu.RUnlock()
	if ok {
		return info, true
	}

	symbol, decimals := r.fetchOnChain(addr)

	r.mu.Lock()
	defer r.mu.Unlock()
	if info, ok := r.tokens[addr]; ok {
		return info, true
	}
	info = &TokenInfo{Address: addr, Symbol: symbol, Decimals: decimals, PriceUsd: 0}
	r.tokens[addr] = info
	r.classes[addr] = ClassOther
	return info, true
}

func (r *Registry) fetchOnChain(addr common.Address) (symbol string, decimals uint8) {
	symbol, decimals = "UNKNOWN", 18
	if r.newClient == nil {
		return
	}
	cc := r.newClient(addr)
	if cc == nil {
		return
	}
	if out, err := cc.Call(nil, "symbol"); err == nil && len(out) == 1 {
		if s, ok := out[0].(string); ok && s != "" {
			symbol = s
		}
	}
	if out, err := cc.Call(nil, "decimals"); err == nil && len(out) == 1 {
		if d, ok := out[0].(uint8); ok {
			decimals = d
		}
	}
	return
}

// ValueUSD converts a raw smallest-unit token amount to a USD float,
// normalizing by the token's decimals. Unknown tokens contribute 0.
func (r *Registry) ValueUSD(addr common.Address, amount *big.Int) float64 {
	if amount == nil {
		return 0
	}
	r.mu.RLock()
	info, ok := r.tokens[addr]
	r.mu.RUnlock()
	if !ok || info.PriceUsd == 0 {
		return 0
	}

	amountFloat := new(big.Float).SetInt(amount)
	scale := new(big.Float).SetFloat64(pow10(info.Decimals))
	amountFloat.Quo(amountFloat, scale)
	units, _ := amountFloat.Float64()
	return units * info.PriceUsd
}

func pow10(n uint8) float64 {
	v := 1.0
	for i := uint8(0); i < n; i++ {
		v *= 10
	}
	return v
}

// UpdatePrices recomputes every seeded token's priceUsd from the two live
// inputs, per spec §4.1's asset-class derivation rules.
func (r *Registry) UpdatePrices(ethUsd, btcUsd float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ethUsd = ethUsd
	r.btcUsd = btcUsd

	for addr, class := range r.classes {
		info, ok := r.tokens[addr]
		if !ok {
			continue
		}
		switch class {
		case ClassETH, ClassETHLst:
			info.PriceUsd = ethUsd
		case ClassBTC, ClassBTCWrapped:
			info.PriceUsd = btcUsd
		case ClassStable:
			info.PriceUsd = 1.0
		case ClassEURStable:
			info.PriceUsd = eurPeg
		default:
			info.PriceUsd = 0
		}
	}
}

// PriceUsd returns the current seeded price for addr, or 0 if unknown.
func (r *Registry) PriceUsd(addr common.Address) float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tokens[addr]
	if !ok {
		return 0
	}
	return info.PriceUsd
}

// BorrowableSet returns the set of tokens usable as flash-loan collateral —
// currently every seeded ETH/BTC/stable-class token, since those are the
// assets the flash-loan contract is assumed to hold liquidity for.
func (r *Registry) BorrowableSet() map[common.Address]struct{} {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := make(map[common.Address]struct{})
	for addr, class := range r.classes {
		if class != ClassOther {
			set[addr] = struct{}{}
		}
	}
	return set
}

// erc20ABIJSON is the minimal ABI fragment needed for the symbol()/
// decimals() fallback calls.
const erc20ABIJSON = `[
  {"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"},
  {"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"}
]`

// ERC20ABI parses the minimal symbol/decimals ABI fragment once for callers
// building a ClientFactory.
func ERC20ABI() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABIJSON))
	if err != nil {
		return nil, fmt.Errorf("parse erc20 abi: %w", err)
	}
	return &parsed, nil
}
