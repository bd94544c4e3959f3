// Package mempool implements the Mempool Observer (C9): a push-subscription
// client that decodes pending swap calldata against registered router ABIs,
// publishing each decoded swap with its MEV risk level on the event bus.
// Pool Swap/Sync events are not decoded and no PoolUpdate is published.
// Structurally
// grounded on go-coffee's MempoolMonitor (pending-tx map + stats + start/
// stop lifecycle), re-architected per spec §9 into a producer → channel →
// consumer shape instead of callback-driven dispatch.
package mempool

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/basearb/engine/internal/eventbus"
)

// connectTimeout / backoff constants from spec §5/§4.9.
const connectTimeout = 15 * time.Second
const backoffInitial = 5 * time.Second
const backoffFactor = 1.5
const backoffCap = 60 * time.Second
const maxAttempts = 10
const maxAttemptsThrottled = 20

// MEVRiskLevel tags a pending swap's estimated MEV exposure.
type MEVRiskLevel string

const (
	MEVRiskLow      MEVRiskLevel = "low"
	MEVRiskMedium   MEVRiskLevel = "medium"
	MEVRiskHigh     MEVRiskLevel = "high"
	MEVRiskCritical MEVRiskLevel = "critical"
)

// PendingSwap is published when a pending transaction's calldata decodes
// against a known router ABI.
type PendingSwap struct {
	Hash      common.Hash
	Router    common.Address
	From      common.Address
	MethodName string
	MEVRisk   MEVRiskLevel
	ObservedAt time.Time
}

// PoolUpdate describes a pool Swap/Sync observation. Nothing in this package
// constructs or publishes one.
type PoolUpdate struct {
	Pool       common.Address
	ObservedAt time.Time
}

// Recommendation is C9's advisory output consumed by C10 for gas/slippage
// bidding (spec §4.9).
type Recommendation struct {
	UsePrivateRelay       bool
	RaiseSlippage         bool
	RecommendedSlippageBps int
	UseFlashbots          bool
}

// Observer is the C9 implementation.
type Observer struct {
	wsURL string
	bus   *eventbus.Bus
	log   *zap.Logger

	routerABIs map[common.Address]*abi.ABI

	mu               sync.Mutex
	running          bool
	stopCh           chan struct{}
	seenCallers      map[common.Address]int
	recentLargeSwaps []largeSwap
}

type largeSwap struct {
	router    common.Address
	caller    common.Address
	value     decimal.Decimal
	observedAt time.Time
}

// NewObserver creates a mempool observer targeting pushURL (ws/wss; http(s)
// is auto-normalized per spec §4.9).
func NewObserver(pushURL string, bus *eventbus.Bus, log *zap.Logger) *Observer {
	return &Observer{
		wsURL:       normalizeWSScheme(pushURL),
		bus:         bus,
		log:         log,
		routerABIs:  make(map[common.Address]*abi.ABI),
		seenCallers: make(map[common.Address]int),
	}
}

func normalizeWSScheme(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String()
}

// RegisterRouter adds a known router address whose calldata this observer
// attempts to decode (v2 swapExactTokensForTokens*, v3 exactInputSingle/
// exactInput ABIs, per spec §4.9).
func (o *Observer) RegisterRouter(addr common.Address, routerABI *abi.ABI) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.routerABIs[addr] = routerABI
}

// Run connects and reconnects with exponential backoff until ctx is
// cancelled. Failures are strictly advisory and never block the main loop
// (spec §4.9): Run is always invoked as its own goroutine by the engine.
func (o *Observer) Run(ctx context.Context) {
	o.mu.Lock()
	o.running = true
	o.stopCh = make(chan struct{})
	o.mu.Unlock()

	if o.wsURL == "" {
		o.log.Warn("mempool observer has no push URL configured, staying idle")
		return
	}

	delay := backoffInitial
	attempts := 0
	cap := maxAttempts

	for {
		select {
		case <-ctx.Done():
			return
		case <-o.stopCh:
			return
		default:
		}

		if attempts >= cap {
			o.log.Error("mempool observer exhausted reconnect attempts, giving up")
			return
		}

		err := o.connectAndConsume(ctx)
		if err == nil {
			return // ctx cancelled cleanly inside connectAndConsume
		}

		attempts++
		if isThrottled(err) {
			cap = maxAttemptsThrottled
		}
		o.log.Warn("mempool push subscription disconnected, reconnecting",
			zap.Error(err), zap.Duration("backoff", delay), zap.Int("attempt", attempts))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * backoffFactor)
		if delay > backoffCap {
			delay = backoffCap
		}
	}
}

func isThrottled(err error) bool {
	return err != nil && strings.Contains(err.Error(), "429")
}

func (o *Observer) connectAndConsume(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, o.wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial push subscription: %w", err)
	}
	defer conn.Close()

	subscribe := map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []interface{}{"newPendingTransactions", true},
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("send pending-tx subscription: %w", err)
	}

	msgs := make(chan []byte, 256)
	errCh := make(chan error, 1)

	go func() {
		defer close(msgs)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				errCh <- err
				return
			}
			msgs <- data
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-o.stopCh:
			return nil
		case data, ok := <-msgs:
			if !ok {
				return <-errCh
			}
			o.handleMessage(data)
		}
	}
}

// subscriptionNotification is the JSON-RPC `eth_subscription` envelope a
// push provider wraps every pending-transaction notification in.
type subscriptionNotification struct {
	Method string `json:"method"`
	Params struct {
		Result json.RawMessage `json:"result"`
	} `json:"params"`
}

// pendingTxWire is the subset of a full pending-transaction object this
// observer needs, requested via the provider's "full transactions" pending
// subscription mode (spec §4.9 needs `to`/calldata to decode router calls).
type pendingTxWire struct {
	Hash  common.Hash     `json:"hash"`
	To    *common.Address `json:"to"`
	From  common.Address  `json:"from"`
	Input string          `json:"input"`
	Value string          `json:"value"`
}

// handleMessage is the consumer side of the producer→channel→consumer
// split: decoding happens off the read goroutine so a slow decode never
// backpressures the websocket reader (spec §9). Only pending transactions
// whose `to` matches a registered router are decoded further; everything
// else (pool Swap/Sync events, unrelated pending txs) is dropped.
func (o *Observer) handleMessage(data []byte) {
	var notice subscriptionNotification
	if err := json.Unmarshal(data, &notice); err != nil || notice.Method != "eth_subscription" {
		return
	}

	var tx pendingTxWire
	if err := json.Unmarshal(notice.Params.Result, &tx); err != nil || tx.To == nil {
		return
	}

	o.mu.Lock()
	routerABI, known := o.routerABIs[*tx.To]
	o.mu.Unlock()
	if !known {
		return
	}

	calldata, err := hexutil.Decode(tx.Input)
	if err != nil || len(calldata) < 4 {
		return
	}
	method, err := routerABI.MethodById(calldata[:4])
	if err != nil {
		return
	}

	valueWei := decimal.Zero
	if v, err := hexutil.DecodeBig(tx.Value); err == nil {
		valueWei = decimal.NewFromBigInt(v, 0)
	}

	o.RecordPendingSwap(PendingSwap{
		Hash:       tx.Hash,
		Router:     *tx.To,
		From:       tx.From,
		MethodName: method.Name,
		ObservedAt: time.Now(),
	}, valueWei)
}

// RecordPendingSwap is called once a pending transaction's calldata has
// been decoded against a registered router ABI; it applies MEV heuristics
// and publishes a PendingSwap event.
func (o *Observer) RecordPendingSwap(swap PendingSwap, valueWei decimal.Decimal) {
	o.mu.Lock()
	o.seenCallers[swap.From]++
	count := o.seenCallers[swap.From]
	o.recentLargeSwaps = append(o.recentLargeSwaps, largeSwap{
		router: swap.Router, caller: swap.From, value: valueWei, observedAt: swap.ObservedAt,
	})
	if len(o.recentLargeSwaps) > 500 {
		o.recentLargeSwaps = o.recentLargeSwaps[len(o.recentLargeSwaps)-500:]
	}
	o.mu.Unlock()

	swap.MEVRisk = classifyRisk(valueWei, count)
	if o.bus != nil {
		o.bus.Publish(eventbus.Event{
			Type:    eventbus.OpportunityFound,
			Message: fmt.Sprintf("pending swap %s risk=%s", swap.Hash.Hex(), swap.MEVRisk),
		})
	}
}

func classifyRisk(valueWei decimal.Decimal, callerFrequency int) MEVRiskLevel {
	oneEth := decimal.New(1, 18)
	switch {
	case callerFrequency > 20:
		return MEVRiskCritical
	case valueWei.GreaterThanOrEqual(oneEth.Mul(decimal.New(10, 0))):
		return MEVRiskHigh
	case valueWei.GreaterThanOrEqual(oneEth):
		return MEVRiskMedium
	default:
		return MEVRiskLow
	}
}

// DetectSandwich flags two pending swaps to the same router with near-equal
// calldata size from an address previously seen bracketing a large swap
// (spec §4.9's sandwich heuristic, approximated here via router+caller
// repetition rather than byte-exact calldata comparison, which requires the
// live decode this package intentionally keeps thin).
func (o *Observer) DetectSandwich(router, caller common.Address) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	seenBracketing := 0
	for _, s := range o.recentLargeSwaps {
		if s.router == router && s.caller == caller {
			seenBracketing++
		}
	}
	return seenBracketing >= 2
}

// Recommend derives the advisory recommendation C10 uses for bidding.
func (o *Observer) Recommend(risk MEVRiskLevel) Recommendation {
	switch risk {
	case MEVRiskCritical, MEVRiskHigh:
		return Recommendation{UsePrivateRelay: true, RaiseSlippage: true, RecommendedSlippageBps: 50, UseFlashbots: true}
	case MEVRiskMedium:
		return Recommendation{UsePrivateRelay: true, RecommendedSlippageBps: 35}
	default:
		return Recommendation{RecommendedSlippageBps: 30}
	}
}

// Stop terminates the subscription cooperatively; best-effort (spec §5).
func (o *Observer) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.running {
		return
	}
	o.running = false
	close(o.stopCh)
}
