// Package contractclient wraps a single on-chain contract (address + ABI)
// behind a small Call/Send surface so every venue adapter and the execution
// pipeline talk to go-ethereum the same way.
package contractclient

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	basearbtypes "github.com/basearb/engine/pkg/types"
)

// ContractClient is the minimal surface every caller needs against a single
// deployed contract: read via eth_call, write via a signed transaction, and
// inspect ABI/receipt/calldata shapes.
type ContractClient interface {
	ContractAddress() common.Address
	Abi() *abi.ABI
	Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error)
	Send(txType basearbtypes.SendType, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error)
	TransactionData(hash common.Hash) ([]byte, error)
	DecodeTransaction(data []byte) (*basearbtypes.DecodedCall, error)
	ParseReceipt(receipt *basearbtypes.TxReceipt) (string, error)
}

type client struct {
	eth     *ethclient.Client
	address common.Address
	abi     *abi.ABI
	chainID *big.Int
}

// NewContractClient binds an ethclient connection to one contract address
// and its parsed ABI.
func NewContractClient(eth *ethclient.Client, address common.Address, contractABI *abi.ABI) ContractClient {
	return &client{eth: eth, address: address, abi: contractABI}
}

func (c *client) ContractAddress() common.Address { return c.address }

func (c *client) Abi() *abi.ABI { return c.abi }

// Call performs a read-only eth_call and decodes the outputs into their
// natural Go types (big.Int, common.Address, bool, fixed byte arrays, ...).
func (c *client) Call(from *common.Address, method string, args ...interface{}) ([]interface{}, error) {
	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	msg := ethereum.CallMsg{To: &c.address, Data: input}
	if from != nil {
		msg.From = *from
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	out, err := c.eth.CallContract(ctx, msg, nil)
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	values, err := c.abi.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return values, nil
}

// Send signs and submits a transaction invoking method on this contract.
// gasLimit nil means estimate. txType is not consulted: every call fetches
// the suggested tip and the chain head and uses a max fee of twice the base
// fee plus the tip.
func (c *client) Send(txType basearbtypes.SendType, gasLimit *uint64, from *common.Address, privateKey *ecdsa.PrivateKey, method string, args ...interface{}) (common.Hash, error) {
	if privateKey == nil {
		return common.Hash{}, fmt.Errorf("send %s: nil signer", method)
	}

	input, err := c.abi.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sender := crypto.PubkeyToAddress(privateKey.PublicKey)
	if from != nil {
		sender = *from
	}

	nonce, err := c.eth.PendingNonceAt(ctx, sender)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce for %s: %w", method, err)
	}

	if c.chainID == nil {
		chainID, err := c.eth.ChainID(ctx)
		if err != nil {
			return common.Hash{}, fmt.Errorf("chain id: %w", err)
		}
		c.chainID = chainID
	}

	gasTipCap, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		gasTipCap = big.NewInt(1_500_000_000) // 1.5 gwei fallback
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return common.Hash{}, fmt.Errorf("head for %s: %w", method, err)
	}
	gasFeeCap := new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), gasTipCap)

	limit := uint64(500_000)
	if gasLimit != nil {
		limit = *gasLimit
	} else {
		estimated, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
			From: sender, To: &c.address, Data: input,
		})
		if err == nil && estimated > 0 {
			limit = estimated + estimated/5 // 20% headroom
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: gasTipCap,
		GasFeeCap: gasFeeCap,
		Gas:       limit,
		To:        &c.address,
		Data:      input,
	})

	signer := types.LatestSignerForChainID(c.chainID)
	signedTx, err := types.SignTx(tx, signer, privateKey)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign %s: %w", method, err)
	}

	if err := c.eth.SendTransaction(ctx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("send %s: %w", method, err)
	}

	return signedTx.Hash(), nil
}

// TransactionData fetches the raw input data of a submitted transaction.
func (c *client) TransactionData(hash common.Hash) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, _, err := c.eth.TransactionByHash(ctx, hash)
	if err != nil {
		return nil, fmt.Errorf("fetch tx %s: %w", hash.Hex(), err)
	}
	return tx.Data(), nil
}

// DecodeTransaction matches calldata against this contract's ABI and
// returns the method name plus named arguments.
func (c *client) DecodeTransaction(data []byte) (*basearbtypes.DecodedCall, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("calldata too short: %d bytes", len(data))
	}

	method, err := c.abi.MethodById(data[:4])
	if err != nil {
		return nil, fmt.Errorf("unknown selector %x: %w", data[:4], err)
	}

	args := make(map[string]interface{})
	if err := method.Inputs.UnpackIntoMap(args, data[4:]); err != nil {
		return nil, fmt.Errorf("unpack args for %s: %w", method.Name, err)
	}

	return &basearbtypes.DecodedCall{MethodName: method.Name, Parameters: args}, nil
}

// ParseReceipt decodes every log in receipt that matches this contract's ABI
// events and returns them as a JSON array, mirroring the shape the teacher's
// mint-NFT-token-id extraction expects from a receipt's Transfer event.
func (c *client) ParseReceipt(receipt *basearbtypes.TxReceipt) (string, error) {
	if receipt == nil {
		return "", fmt.Errorf("nil receipt")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	hash := common.HexToHash(receipt.TransactionHash)
	fullReceipt, err := c.eth.TransactionReceipt(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("fetch receipt %s: %w", hash.Hex(), err)
	}

	events := make([]basearbtypes.LogEvent, 0, len(fullReceipt.Logs))
	for _, l := range fullReceipt.Logs {
		if len(l.Topics) == 0 {
			continue
		}
		var matched *abi.Event
		for _, ev := range c.abi.Events {
			if ev.ID == l.Topics[0] {
				e := ev
				matched = &e
				break
			}
		}
		if matched == nil {
			continue
		}

		params := make(map[string]interface{})
		if len(l.Data) > 0 {
			if err := c.abi.UnpackIntoMap(params, matched.Name, l.Data); err != nil {
				continue
			}
		}
		for i, input := range matched.Inputs {
			if input.Indexed && i+1 < len(l.Topics) {
				params[input.Name] = topicToValue(input, l.Topics[i+1])
			}
		}

		events = append(events, basearbtypes.LogEvent{
			EventName: matched.Name,
			Parameter: params,
			Address:   l.Address,
		})
	}

	out, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("marshal events: %w", err)
	}
	return string(out), nil
}

func topicToValue(arg abi.Argument, topic common.Hash) interface{} {
	switch arg.Type.T {
	case abi.AddressTy:
		return common.HexToAddress(topic.Hex()).Hex()
	case abi.UintTy, abi.IntTy:
		return new(big.Int).SetBytes(topic.Bytes()).String()
	default:
		return strings.TrimLeft(topic.Hex(), "0")
	}
}
