// Package poolcatalog implements the Pool Catalog & Persistence component
// (C2): an in-memory map of discovered pools, snapshotted atomically to a
// JSON file with a freshness TTL, mirroring the teacher's approach of a
// thin in-memory owner type fronting a durable store (internal/db in the
// teacher, here a flat file instead of MySQL since pool state is a cache of
// chain state, not a ledger of record).
package poolcatalog

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/basearb/engine/internal/config"
)

// schemaVersion guards against loading a persisted snapshot written by an
// incompatible version of the catalog format.
const schemaVersion = 1

// maxSnapshotAge is the freshness TTL from spec §3/§4.2.
const maxSnapshotAge = 7 * 24 * time.Hour

// Pool is the catalog's record for one on-chain pool (spec §3
// DiscoveredPool).
type Pool struct {
	VenueID          string
	VenueKind        config.VenueKind
	PoolAddress      common.Address
	Token0           common.Address
	Token1           common.Address
	Token0Decimals   uint8
	Token1Decimals   uint8
	FeeOrTickSpacing int
	Liquidity        *big.Int
	Reserve0         *big.Int
	Reserve1         *big.Int
	SqrtPriceX96     *big.Int // v3-CL / stable-CL only; nil for reserve-based venues
	LiquidityUsd     float64
	LastUpdatedMillis int64
	IsActive         bool
}

// Key is the catalog's lookup key: the lowercased pool address.
func (p *Pool) Key() string {
	return strings.ToLower(p.PoolAddress.Hex())
}

// Catalog owns every DiscoveredPool record exclusively; every other
// component observes them by read-only reference (spec §3 "Ownership").
type Catalog struct {
	mu            sync.RWMutex
	pools         map[string]*Pool
	lastScanBlock uint64
	path          string
	sinceSave     int
}

// New creates an empty catalog persisted at path.
func New(path string) *Catalog {
	return &Catalog{pools: make(map[string]*Pool), path: path}
}

// Insert adds or replaces a pool record; insertion is idempotent on the
// pool's address.
func (c *Catalog) Insert(p *Pool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pools[p.Key()] = p
}

// Get looks up a pool by address.
func (c *Catalog) Get(addr common.Address) (*Pool, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.pools[strings.ToLower(addr.Hex())]
	return p, ok
}

// ActivePools returns a snapshot slice of every pool currently marked
// active. The slice itself is a fresh copy, but its elements are the
// catalog's own *Pool records: the liquidity refresh updates their reserves,
// liquidity and active flag in place, so a caller holding the slice can see
// those fields change while it is in use.
func (c *Catalog) ActivePools() []*Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Pool, 0, len(c.pools))
	for _, p := range c.pools {
		if p.IsActive {
			out = append(out, p)
		}
	}
	return out
}

// AllPools returns every pool regardless of activity, used by the liquidity
// refresher to decide which pools are "relevant" to re-check.
func (c *Catalog) AllPools() []*Pool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Pool, 0, len(c.pools))
	for _, p := range c.pools {
		out = append(out, p)
	}
	return out
}

// Len reports the number of pools tracked, active or not.
func (c *Catalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.pools)
}

// LastScanBlock returns the block incremental scans should resume from.
func (c *Catalog) LastScanBlock() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastScanBlock
}

// SetLastScanBlock records the highest block fully scanned so far.
func (c *Catalog) SetLastScanBlock(block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastScanBlock = block
}

// snapshot is the on-disk JSON document (spec §3 "Persistence file").
type snapshot struct {
	Version         int             `json:"version"`
	TimestampMillis int64           `json:"timestampMillis"`
	LastScanBlock   uint64          `json:"lastScanBlock"`
	Pools           []snapshotPool  `json:"pools"`
}

type snapshotPool struct {
	VenueID          string `json:"venueId"`
	VenueKind        string `json:"venueKind"`
	PoolAddress      string `json:"poolAddress"`
	Token0           string `json:"token0"`
	Token1           string `json:"token1"`
	Token0Decimals   uint8  `json:"token0Decimals"`
	Token1Decimals   uint8  `json:"token1Decimals"`
	FeeOrTickSpacing int    `json:"feeOrTickSpacing"`
	Liquidity        string `json:"liquidity"`
	Reserve0         string `json:"reserve0"`
	Reserve1         string `json:"reserve1"`
	SqrtPriceX96     string `json:"sqrtPriceX96,omitempty"`
	LiquidityUsd     float64 `json:"liquidityUsd"`
	LastUpdatedMillis int64  `json:"lastUpdatedMillis"`
	IsActive         bool   `json:"isActive"`
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func parseBig(s string) *big.Int {
	v := new(big.Int)
	if s == "" {
		return v
	}
	if _, ok := v.SetString(s, 10); !ok {
		return big.NewInt(0)
	}
	return v
}

// Save atomically persists the catalog: write to a temp file in the same
// directory, fsync, then rename over the target (spec §4.2).
func (c *Catalog) Save() error {
	c.mu.RLock()
	snap := snapshot{
		Version:         schemaVersion,
		TimestampMillis: time.Now().UnixMilli(),
		LastScanBlock:   c.lastScanBlock,
		Pools:           make([]snapshotPool, 0, len(c.pools)),
	}
	for _, p := range c.pools {
		snap.Pools = append(snap.Pools, snapshotPool{
			VenueID:           p.VenueID,
			VenueKind:         string(p.VenueKind),
			PoolAddress:       p.PoolAddress.Hex(),
			Token0:            p.Token0.Hex(),
			Token1:            p.Token1.Hex(),
			Token0Decimals:    p.Token0Decimals,
			Token1Decimals:    p.Token1Decimals,
			FeeOrTickSpacing:  p.FeeOrTickSpacing,
			Liquidity:         bigString(p.Liquidity),
			Reserve0:          bigString(p.Reserve0),
			Reserve1:          bigString(p.Reserve1),
			SqrtPriceX96:      bigString(p.SqrtPriceX96),
			LiquidityUsd:      p.LiquidityUsd,
			LastUpdatedMillis: p.LastUpdatedMillis,
			IsActive:          p.IsActive,
		})
	}
	c.mu.RUnlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal pool snapshot: %w", err)
	}

	dir := filepath.Dir(c.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create snapshot dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".pools-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsync temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpPath, c.path); err != nil {
		return fmt.Errorf("rename snapshot into place: %w", err)
	}

	c.mu.Lock()
	c.sinceSave = 0
	c.mu.Unlock()
	return nil
}

// MaybeSave saves once this has been called n times since the last save,
// implementing the "every ~100 pools" / "every ~5 batches" cadence from
// spec §4.2/§4.3 without callers tracking a counter themselves.
func (c *Catalog) MaybeSave(n int) error {
	c.mu.Lock()
	c.sinceSave++
	due := c.sinceSave >= n
	c.mu.Unlock()
	if !due {
		return nil
	}
	return c.Save()
}

// Load reads a persisted snapshot. It returns (false, nil) — not an error —
// when no snapshot exists, is too old, or fails structural validation, all
// of which mean "caller must do a full rescan" per spec §4.2/§8 scenario 6.
func (c *Catalog) Load() (bool, error) {
	data, err := os.ReadFile(c.path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read snapshot: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return false, nil // structurally invalid: treat as "no usable snapshot"
	}
	if snap.Version != schemaVersion {
		return false, nil
	}
	age := time.Since(time.UnixMilli(snap.TimestampMillis))
	if age > maxSnapshotAge {
		return false, nil
	}

	pools := make(map[string]*Pool, len(snap.Pools))
	for _, sp := range snap.Pools {
		if sp.PoolAddress == "" || sp.Token0 == sp.Token1 {
			return false, nil // structural invariant violated
		}
		p := &Pool{
			VenueID:           sp.VenueID,
			VenueKind:         config.VenueKind(sp.VenueKind),
			PoolAddress:       common.HexToAddress(sp.PoolAddress),
			Token0:            common.HexToAddress(sp.Token0),
			Token1:            common.HexToAddress(sp.Token1),
			Token0Decimals:    sp.Token0Decimals,
			Token1Decimals:    sp.Token1Decimals,
			FeeOrTickSpacing:  sp.FeeOrTickSpacing,
			Liquidity:         parseBig(sp.Liquidity),
			Reserve0:          parseBig(sp.Reserve0),
			Reserve1:          parseBig(sp.Reserve1),
			SqrtPriceX96:      parseBig(sp.SqrtPriceX96),
			LiquidityUsd:      sp.LiquidityUsd,
			LastUpdatedMillis: sp.LastUpdatedMillis,
			IsActive:          sp.IsActive,
		}
		pools[p.Key()] = p
	}

	c.mu.Lock()
	c.pools = pools
	c.lastScanBlock = snap.LastScanBlock
	c.mu.Unlock()
	return true, nil
}
