// Package txlistener polls for transaction receipts until confirmation,
// timeout, or a terminal RPC error.
package txlistener

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	basearbtypes "github.com/basearb/engine/pkg/types"
)

// ErrTimeout is returned by WaitForTransaction when the configured timeout
// elapses without a receipt.
var ErrTimeout = errors.New("txlistener: timed out waiting for receipt")

// TxListener waits for a submitted transaction to reach a terminal state.
type TxListener interface {
	WaitForTransaction(hash common.Hash) (*basearbtypes.TxReceipt, error)
}

type listener struct {
	eth          *ethclient.Client
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a TxListener at construction time.
type Option func(*listener)

// WithPollInterval overrides the default 3s polling cadence.
func WithPollInterval(d time.Duration) Option {
	return func(l *listener) { l.pollInterval = d }
}

// WithTimeout overrides the default 5 minute wait budget.
func WithTimeout(d time.Duration) Option {
	return func(l *listener) { l.timeout = d }
}

// NewTxListener builds a TxListener polling the given client.
func NewTxListener(eth *ethclient.Client, opts ...Option) TxListener {
	l := &listener{eth: eth, pollInterval: 3 * time.Second, timeout: 5 * time.Minute}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// WaitForTransaction polls for a receipt at pollInterval until it appears or
// the timeout elapses (ErrTimeout). A not-found response keeps it polling, so
// a dropped or replaced transaction ends only at the timeout; any other RPC
// error is returned at once.
func (l *listener) WaitForTransaction(hash common.Hash) (*basearbtypes.TxReceipt, error) {
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	ticker := time.NewTicker(l.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := l.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return toWireReceipt(receipt), nil
		}
		if !errors.Is(err, ethclient.NotFound) {
			return nil, fmt.Errorf("poll receipt %s: %w", hash.Hex(), err)
		}

		select {
		case <-ctx.Done():
			return nil, ErrTimeout
		case <-ticker.C:
		}
	}
}

func toWireReceipt(r *types.Receipt) *basearbtypes.TxReceipt {
	status := "0x0"
	if r.Status == 1 {
		status = "0x1"
	}
	return &basearbtypes.TxReceipt{
		TransactionHash:   r.TxHash.Hex(),
		BlockNumber:       "0x" + strconv.FormatUint(r.BlockNumber.Uint64(), 16),
		BlockHash:         r.BlockHash.Hex(),
		GasUsed:           "0x" + strconv.FormatUint(r.GasUsed, 16),
		EffectiveGasPrice: "0x" + strings.TrimLeft(r.EffectiveGasPrice.Text(16), "0"),
		Status:            status,
		ContractAddress:   r.ContractAddress.Hex(),
	}
}
