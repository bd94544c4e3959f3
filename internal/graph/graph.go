// Package graph derives the Pair/Triangle Graph (C4) from the pool
// catalog's active-pool snapshot: unordered token pairs and, from those,
// triangular cycles rooted at a borrowable asset.
package graph

import (
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/basearb/engine/internal/poolcatalog"
)

// Pair is the derived unordered pair over one or more pools (spec §3
// TradePair), tokenA < tokenB lexicographically.
type Pair struct {
	TokenA           common.Address
	TokenB           common.Address
	Pools            []*poolcatalog.Pool
	BestLiquidityUsd float64
}

// Key returns the canonical lookup key for this pair's token ordering,
// usable to find the pair backing one edge of a Triangle.
func (p *Pair) Key() string {
	return pairKey(p.TokenA, p.TokenB)
}

// PairKey computes the canonical lookup key for an arbitrary token pair,
// regardless of argument order.
func PairKey(a, b common.Address) string {
	return pairKey(a, b)
}

// IndexPairs builds a lookup table from PairKey to *Pair, so callers walking
// a Triangle's three edges can recover each edge's pool list.
func IndexPairs(pairs []*Pair) map[string]*Pair {
	idx := make(map[string]*Pair, len(pairs))
	for _, p := range pairs {
		idx[p.Key()] = p
	}
	return idx
}

// VenueIDs reports the distinct venues backing this pair.
func (p *Pair) VenueIDs() map[string]struct{} {
	ids := make(map[string]struct{}, len(p.Pools))
	for _, pool := range p.Pools {
		ids[pool.VenueID] = struct{}{}
	}
	return ids
}

func orderTokens(a, b common.Address) (common.Address, common.Address) {
	if strings.ToLower(a.Hex()) < strings.ToLower(b.Hex()) {
		return a, b
	}
	return b, a
}

func pairKey(a, b common.Address) string {
	lo, hi := orderTokens(a, b)
	return strings.ToLower(lo.Hex()) + "_" + strings.ToLower(hi.Hex())
}

// BuildPairs groups active pools into unordered token pairs. This is a pure
// function of the active-pool slice (spec §8 "pair-graph determinism").
func BuildPairs(pools []*poolcatalog.Pool) map[string]*Pair {
	pairs := make(map[string]*Pair)
	for _, pool := range pools {
		tokenA, tokenB := orderTokens(pool.Token0, pool.Token1)
		key := pairKey(tokenA, tokenB)
		p, ok := pairs[key]
		if !ok {
			p = &Pair{TokenA: tokenA, TokenB: tokenB}
			pairs[key] = p
		}
		p.Pools = append(p.Pools, pool)
		if pool.LiquidityUsd > p.BestLiquidityUsd {
			p.BestLiquidityUsd = pool.LiquidityUsd
		}
	}
	return pairs
}

// ArbitrageablePairs returns pairs whose pool list touches ≥2 distinct
// venues, sorted by descending BestLiquidityUsd.
func ArbitrageablePairs(pools []*poolcatalog.Pool) []*Pair {
	all := BuildPairs(pools)
	out := make([]*Pair, 0, len(all))
	for _, p := range all {
		if len(p.VenueIDs()) >= 2 {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].BestLiquidityUsd > out[j].BestLiquidityUsd
	})
	return out
}

// Triangle is a 3-cycle A→B→C→A over tokens that all have an arbitrageable
// edge between them, rotated so TokenA is borrowable (spec §4.4/§9(b)).
type Triangle struct {
	TokenA common.Address
	TokenB common.Address
	TokenC common.Address
}

// TriangularPaths builds an adjacency set over the arbitrageable pairs and
// emits one triangle per strictly-ordered triple (a<b<c) whose three edges
// all exist, rotated to start at a borrowable vertex. Triangles with no
// borrowable vertex at all are dropped (spec §4.4).
func TriangularPaths(pairs []*Pair, borrowable map[common.Address]struct{}) []Triangle {
	adjacency := make(map[string]map[string]struct{})
	addrOf := make(map[string]common.Address)
	addEdge := func(a, b common.Address) {
		ka, kb := strings.ToLower(a.Hex()), strings.ToLower(b.Hex())
		addrOf[ka], addrOf[kb] = a, b
		if adjacency[ka] == nil {
			adjacency[ka] = make(map[string]struct{})
		}
		if adjacency[kb] == nil {
			adjacency[kb] = make(map[string]struct{})
		}
		adjacency[ka][kb] = struct{}{}
		adjacency[kb][ka] = struct{}{}
	}
	for _, p := range pairs {
		addEdge(p.TokenA, p.TokenB)
	}

	keys := make([]string, 0, len(adjacency))
	for k := range adjacency {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var triangles []Triangle
	for i, a := range keys {
		for j := i + 1; j < len(keys); j++ {
			b := keys[j]
			if _, ok := adjacency[a][b]; !ok {
				continue
			}
			for k := j + 1; k < len(keys); k++ {
				c := keys[k]
				if _, ok := adjacency[a][c]; !ok {
					continue
				}
				if _, ok := adjacency[b][c]; !ok {
					continue
				}
				tri, ok := rotateToBorrowable(addrOf[a], addrOf[b], addrOf[c], borrowable)
				if ok {
					triangles = append(triangles, tri)
				}
			}
		}
	}
	return triangles
}

func rotateToBorrowable(a, b, c common.Address, borrowable map[common.Address]struct{}) (Triangle, bool) {
	order := [3]common.Address{a, b, c}
	for rot := 0; rot < 3; rot++ {
		if _, ok := borrowable[order[0]]; ok {
			return Triangle{TokenA: order[0], TokenB: order[1], TokenC: order[2]}, true
		}
		order[0], order[1], order[2] = order[1], order[2], order[0]
	}
	return Triangle{}, false
}
