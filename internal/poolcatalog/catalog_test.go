package poolcatalog

import (
	"encoding/json"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basearb/engine/internal/config"
)

func samplePool(addr string, active bool) *Pool {
	return &Pool{
		VenueID:     "aerodrome",
		VenueKind:   config.VenueV2AMM,
		PoolAddress: common.HexToAddress(addr),
		Token0:      common.HexToAddress("0x4200000000000000000000000000000000000006"),
		Token1:      common.HexToAddress("0x833589fcd6edb6e08f4c7c32d4f71b54bda02913"),
		Liquidity:   big.NewInt(1000),
		Reserve0:    big.NewInt(1000),
		Reserve1:    big.NewInt(2000),
		LiquidityUsd: 50000,
		IsActive:    active,
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "pools.json"))
	p := samplePool("0x0000000000000000000000000000000000aaaa", true)
	c.Insert(p)
	c.Insert(p)
	assert.Equal(t, 1, c.Len())
}

func TestActivePoolsFiltersInactive(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "pools.json"))
	c.Insert(samplePool("0x0000000000000000000000000000000000aaaa", true))
	c.Insert(samplePool("0x0000000000000000000000000000000000bbbb", false))
	assert.Len(t, c.ActivePools(), 1)
	assert.Len(t, c.AllPools(), 2)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	c := New(path)
	c.Insert(samplePool("0x0000000000000000000000000000000000aaaa", true))
	c.SetLastScanBlock(12345)
	require.NoError(t, c.Save())

	reloaded := New(path)
	ok, err := reloaded.Load()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(12345), reloaded.LastScanBlock())
	assert.Equal(t, 1, reloaded.Len())
	assert.Len(t, reloaded.ActivePools(), 1)
}

func TestLoadMissingFileIsNotAnError(t *testing.T) {
	c := New(filepath.Join(t.TempDir(), "does-not-exist.json"))
	ok, err := c.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLoadRejectsStaleSnapshot(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pools.json")
	c := New(path)
	c.Insert(samplePool("0x0000000000000000000000000000000000aaaa", true))
	require.NoError(t, c.Save())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var snap snapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	snap.TimestampMillis = time.Now().Add(-8 * 24 * time.Hour).UnixMilli() // spec §8 scenario 6
	staleData, err := json.MarshalIndent(snap, "", "  ")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, staleData, 0o644))

	final := New(path)
	ok, err := final.Load()
	require.NoError(t, err)
	assert.False(t, ok)
}
