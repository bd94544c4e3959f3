package config

import "github.com/ethereum/go-ethereum/common"

// RouterKind selects which calldata ABI the Mempool Observer (C9) decodes a
// router's pending transactions against (spec §4.9).
type RouterKind string

const (
	RouterV2 RouterKind = "v2"
	RouterV3 RouterKind = "v3"
)

// KnownRouter is one router address the observer watches for pending swaps.
type KnownRouter struct {
	Address common.Address
	Kind    RouterKind
}

// KnownRouters is the fixed Base-mainnet router seed set: Uniswap V3's
// SwapRouter02 and Aerodrome's Router, covering both router ABI shapes spec
// §4.9 names (v2 swapExactTokensForTokens*, v3 exactInputSingle/exactInput).
var KnownRouters = []KnownRouter{
	{common.HexToAddress("0x2626664c2603336E57B271c5C0b26F421741e481"), RouterV3},
	{common.HexToAddress("0xcF77a3Ba9A5CA399B7c97c74d54e5b1Beb874E43"), RouterV2},
}
