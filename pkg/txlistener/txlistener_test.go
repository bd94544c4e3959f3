package txlistener

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
)

func TestToWireReceiptSuccess(t *testing.T) {
	r := &types.Receipt{
		TxHash:            common.HexToHash("0xabc"),
		BlockNumber:       big.NewInt(42),
		BlockHash:         common.HexToHash("0xdef"),
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1_000_000_000),
		Status:            1,
	}

	wire := toWireReceipt(r)

	assert.True(t, wire.StatusOK())
	assert.Equal(t, uint64(21000), wire.GasUsedUint64())
	assert.Equal(t, uint64(42), wire.BlockNumberUint64())
}

func TestToWireReceiptReverted(t *testing.T) {
	r := &types.Receipt{
		TxHash:            common.HexToHash("0xabc"),
		BlockNumber:       big.NewInt(1),
		EffectiveGasPrice: big.NewInt(0),
		Status:            0,
	}

	wire := toWireReceipt(r)

	assert.False(t, wire.StatusOK())
}

func TestOptionsApply(t *testing.T) {
	l := &listener{}
	WithPollInterval(7)(l)
	WithTimeout(9)(l)

	assert.Equal(t, int64(7), int64(l.pollInterval))
	assert.Equal(t, int64(9), int64(l.timeout))
}
