package mempool

import (
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

// routerV2ABIJSON covers the swapExactTokensForTokens* family spec §4.9
// names for v2-style routers.
const routerV2ABIJSON = `[
  {"name":"swapExactTokensForTokens","type":"function","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"swapExactETHForTokens","type":"function","inputs":[{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]},
  {"name":"swapExactTokensForETH","type":"function","inputs":[{"name":"amountIn","type":"uint256"},{"name":"amountOutMin","type":"uint256"},{"name":"path","type":"address[]"},{"name":"to","type":"address"},{"name":"deadline","type":"uint256"}],"outputs":[{"name":"amounts","type":"uint256[]"}]}
]`

// routerV3ABIJSON covers exactInputSingle/exactInput for v3-style routers.
const routerV3ABIJSON = `[
  {"name":"exactInputSingle","type":"function","inputs":[{"name":"params","type":"tuple","components":[{"name":"tokenIn","type":"address"},{"name":"tokenOut","type":"address"},{"name":"fee","type":"uint24"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"},{"name":"sqrtPriceLimitX96","type":"uint160"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]},
  {"name":"exactInput","type":"function","inputs":[{"name":"params","type":"tuple","components":[{"name":"path","type":"bytes"},{"name":"recipient","type":"address"},{"name":"amountIn","type":"uint256"},{"name":"amountOutMinimum","type":"uint256"}]}],"outputs":[{"name":"amountOut","type":"uint256"}]}
]`

// RouterABIV2 parses the v2 router ABI fragment once for callers wiring
// RegisterRouter at startup.
func RouterABIV2() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(routerV2ABIJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}

// RouterABIV3 parses the v3 router ABI fragment once for callers wiring
// RegisterRouter at startup.
func RouterABIV3() (*abi.ABI, error) {
	parsed, err := abi.JSON(strings.NewReader(routerV3ABIJSON))
	if err != nil {
		return nil, err
	}
	return &parsed, nil
}
