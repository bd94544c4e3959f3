// Package types holds wire-level shapes shared between the contract client,
// the transaction listener and the execution pipeline.
package types

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SendType selects how a transaction's gas parameters are derived.
type SendType int

const (
	// Standard lets the client estimate gas and fetch EIP-1559 fees itself.
	Standard SendType = iota
	// Explicit names caller-chosen gas and fee values; contractclient's Send
	// does not distinguish it from Standard.
	Explicit
)

// TxReceipt mirrors the JSON-RPC receipt shape: numeric fields arrive as hex
// strings and are parsed lazily by callers that need them as big.Int.
type TxReceipt struct {
	TransactionHash   string `json:"transactionHash"`
	BlockNumber       string `json:"blockNumber"`
	BlockHash         string `json:"blockHash"`
	GasUsed           string `json:"gasUsed"`
	EffectiveGasPrice string `json:"effectiveGasPrice"`
	Status            string `json:"status"`
	ContractAddress   string `json:"contractAddress,omitempty"`
}

// StatusOK reports whether the receipt records a successful transaction.
func (r *TxReceipt) StatusOK() bool {
	return r != nil && r.Status == "0x1"
}

// GasUsedUint64 parses GasUsed, returning 0 on malformed input.
func (r *TxReceipt) GasUsedUint64() uint64 {
	v := new(big.Int)
	if _, ok := v.SetString(trimHex(r.GasUsed), 16); !ok {
		return 0
	}
	return v.Uint64()
}

// EffectiveGasPriceWei parses EffectiveGasPrice as wei.
func (r *TxReceipt) EffectiveGasPriceWei() *big.Int {
	v := new(big.Int)
	if _, ok := v.SetString(trimHex(r.EffectiveGasPrice), 16); !ok {
		return big.NewInt(0)
	}
	return v
}

// BlockNumberUint64 parses BlockNumber.
func (r *TxReceipt) BlockNumberUint64() uint64 {
	v := new(big.Int)
	if _, ok := v.SetString(trimHex(r.BlockNumber), 16); !ok {
		return 0
	}
	return v.Uint64()
}

func trimHex(s string) string {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		return s[2:]
	}
	return s
}

// DecodedCall is the result of matching calldata against a known ABI method.
type DecodedCall struct {
	MethodName string                 `json:"methodName"`
	Parameters map[string]interface{} `json:"parameters"`
}

// LogEvent is one decoded log entry from a transaction receipt, keyed the
// same way the on-chain ABI names it.
type LogEvent struct {
	EventName string                 `json:"EventName"`
	Parameter map[string]interface{} `json:"Parameter"`
	Address   common.Address         `json:"address"`
}
