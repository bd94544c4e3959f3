// Package execution implements the Execution Pipeline (C10): the per-
// opportunity state machine from NEW through a terminal state, built on the
// teacher's contractclient.Send/txlistener pair generalized from a single
// Blackhole contract call to an arbitrary executeArbitrage invocation with
// its own preflight, simulation and private-relay submission steps.
package execution

import (
	"context"
	"crypto/ecdsa"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/basearb/engine/internal/config"
	"github.com/basearb/engine/internal/eventbus"
	"github.com/basearb/engine/internal/gas"
	"github.com/basearb/engine/internal/model"
	"github.com/basearb/engine/internal/risk"
	basearbtypes "github.com/basearb/engine/pkg/types"
)

// State is one node of the execution state machine (spec §4.10).
type State string

const (
	StateNew           State = "NEW"
	StatePreflight     State = "PREFLIGHT"
	StateEncode        State = "ENCODE"
	StateSimulate      State = "SIMULATE"
	StateBuildTx       State = "BUILD_TX"
	StateSubmitPrivate State = "SUBMIT_PRIVATE"
	StateSubmitPublic  State = "SUBMIT_PUBLIC"
	StateWait          State = "WAIT"
	StateConfirmed     State = "CONFIRMED"
	StateReverted      State = "REVERTED"
	StateStale         State = "STALE"
	StateRejected      State = "REJECTED"
)

func (s State) terminal() bool {
	switch s {
	case StateConfirmed, StateReverted, StateStale, StateRejected:
		return true
	default:
		return false
	}
}

// opportunityMaxAge is "opportunity age ≤ 5 s" from spec §4.10's preflight.
const opportunityMaxAge = 5 * time.Second

// minSignerBalanceWei is "signer balance ≥ 0.01 ETH".
var minSignerBalanceWei = big.NewInt(10_000_000_000_000_000) // 0.01 ETH

// inclusionWaitBlocks is "waits for inclusion up to one block" on the
// private relay path before falling back to public submission.
const inclusionWaitBlocks = 1
const blockTime = 2 * time.Second // Base L2 block cadence

// Result is the terminal outcome the engine records against C7 and
// counters.
type Result struct {
	OpportunityID string
	FinalState    State
	Confirmed     bool
	TxHash        common.Hash
	NetProfit     *big.Int
	GasCostWei    *big.Int
	Reason        string
}

// Pipeline is the C10 implementation. One opportunity executes at a time by
// default to preserve nonce monotonicity (spec §5).
type Pipeline struct {
	eth        *ethclient.Client
	myAddr     common.Address
	privateKey *ecdsa.PrivateKey
	contract   common.Address
	listener   waiter
	cfg        *config.Config
	riskCtl    riskRecorder
	gasOracle  *gas.Oracle
	bus        *eventbus.Bus
	tradeLog   *zap.Logger
	errLog     *zap.Logger
	relayURL   string

	mu          sync.Mutex
	nonce       uint64
	nonceKnown  bool
	inFlight    bool
	pausedCheck func(ctx context.Context) (bool, error)
}

// waiter is the subset of txlistener.TxListener the pipeline depends on.
type waiter interface {
	WaitForTransaction(hash common.Hash) (*basearbtypes.TxReceipt, error)
}

// riskRecorder is the subset of risk.Controller the pipeline depends on,
// named locally so execution doesn't need the concrete type for anything
// but Record.
type riskRecorder interface {
	Record(outcome risk.TradeOutcome)
}

// New creates an execution pipeline targeting the deployed arbitrage
// contract at contractAddr, signing with privateKey.
func New(eth *ethclient.Client, myAddr common.Address, privateKey *ecdsa.PrivateKey, contractAddr common.Address, listener waiter, cfg *config.Config, riskCtl riskRecorder, gasOracle *gas.Oracle, bus *eventbus.Bus, tradeLog, errLog *zap.Logger) *Pipeline {
	return &Pipeline{
		eth:        eth,
		myAddr:     myAddr,
		privateKey: privateKey,
		contract:   contractAddr,
		listener:   listener,
		cfg:        cfg,
		riskCtl:    riskCtl,
		gasOracle:  gasOracle,
		bus:        bus,
		tradeLog:   tradeLog,
		errLog:     errLog,
		relayURL:   cfg.RPCURLBackup,
	}
}

// Execute drives one opportunity through the full state machine to a
// terminal state, recording the outcome against the risk controller.
func (p *Pipeline) Execute(ctx context.Context, opp *model.ArbOpportunity) Result {
	p.mu.Lock()
	p.inFlight = true
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	state := StateNew
	var reason string
	var encoded []byte
	var nonce uint64
	var params gas.Params
	var txHash common.Hash

	for !state.terminal() {
		switch state {
		case StateNew:
			state = StatePreflight

		case StatePreflight:
			if err := p.preflight(ctx, opp); err != nil {
				reason = err.Error()
				state = StateRejected
				continue
			}
			state = StateEncode

		case StateEncode:
			encoded = encodeLegs(opp.Legs)
			state = StateSimulate

		case StateSimulate:
			if err := p.simulate(ctx, opp, encoded); err != nil {
				reason = fmt.Sprintf("simulation reverted: %v", err)
				state = StateRejected
				continue
			}
			state = StateBuildTx

		case StateBuildTx:
			n, err := p.nextNonce(ctx)
			if err != nil {
				reason = err.Error()
				state = StateRejected
				continue
			}
			nonce = n
			params = p.gasOracle.OptimalParams(3)
			state = StateSubmitPrivate

		case StateSubmitPrivate:
			if !p.cfg.EnablePrivateRelay {
				state = StateSubmitPublic
				continue
			}
			hash, err := p.submitPrivate(ctx, opp, encoded, nonce, params)
			if err != nil {
				p.errLog.Warn("private relay submission failed, falling back", zap.Error(err))
				state = StateSubmitPublic
				continue
			}
			txHash = hash
			included := p.waitOneBlock(ctx, txHash)
			if !included {
				state = StateSubmitPublic
				continue
			}
			state = StateWait

		case StateSubmitPublic:
			hash, err := p.submitPublic(ctx, opp, encoded, nonce, params)
			if err != nil {
				p.resetNonce()
				reason = fmt.Sprintf("public submission failed: %v", err)
				if isNonceError(err) {
					// transient: next cycle re-fetches the pending nonce and
					// retries rather than giving up on the opportunity itself.
					state = StateStale
				} else {
					state = StateRejected
				}
				continue
			}
			txHash = hash
			state = StateWait

		case StateWait:
			receipt, err := p.listener.WaitForTransaction(txHash)
			if err != nil {
				p.resetNonce()
				state = StateStale
				continue
			}
			if receipt.StatusOK() {
				state = StateConfirmed
			} else {
				state = StateReverted
			}
		}
	}

	result := p.finalize(opp, state, reason, txHash, nonce, params)
	p.publish(opp, result)
	return result
}

func (p *Pipeline) preflight(ctx context.Context, opp *model.ArbOpportunity) error {
	if paused, err := p.contractPaused(ctx); err != nil {
		return fmt.Errorf("check paused: %w", err)
	} else if paused {
		return fmt.Errorf("contract is paused")
	}

	if p.cfg.MaxGasPriceGwei > 0 {
		current := p.gasOracle.CurrentGas()
		currentGwei := float64(current.MaxFeeWei) / 1e9
		if currentGwei > p.cfg.MaxGasPriceGwei {
			return fmt.Errorf("gas price %.2f gwei exceeds cap %.2f gwei", currentGwei, p.cfg.MaxGasPriceGwei)
		}
	}

	if opp.Age(time.Now()) > opportunityMaxAge {
		return fmt.Errorf("opportunity age exceeds %s", opportunityMaxAge)
	}

	p.mu.Lock()
	inFlight := p.inFlight
	p.mu.Unlock()
	_ = inFlight // read and discarded: preflight does not reject when
	// another transaction from this signer is in flight; concurrent Execute
	// calls are only avoided by the engine's sequential cycle loop (spec §5).

	balance, err := p.eth.BalanceAt(ctx, p.myAddr, nil)
	if err != nil {
		return fmt.Errorf("fetch signer balance: %w", err)
	}
	if balance.Cmp(minSignerBalanceWei) < 0 {
		return fmt.Errorf("signer balance below 0.01 ETH floor")
	}
	return nil
}

func (p *Pipeline) contractPaused(ctx context.Context) (bool, error) {
	if p.pausedCheck != nil {
		return p.pausedCheck(ctx)
	}
	selector := crypto.Keccak256([]byte("paused()"))[:4]
	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	out, err := p.eth.CallContract(callCtx, ethereum.CallMsg{To: &p.contract, Data: selector}, nil)
	if err != nil {
		return false, nil // paused() not implemented on this contract: assume not paused
	}
	if len(out) < 32 {
		return false, nil
	}
	return out[31] != 0, nil
}

// encodeLegs serializes the opportunity's legs into the opaque byte string
// the on-chain contract decodes, per spec §4.10. JSON is used as the
// off-chain/on-chain boundary codec here rather than ABI tuple packing,
// since the deployed contract's calldata layout is out of scope for this
// repository (spec §2 Non-goals: no Solidity source).
func encodeLegs(legs []model.SwapLeg) []byte {
	type wireLeg struct {
		VenueID          string `json:"venueId"`
		TokenIn          string `json:"tokenIn"`
		TokenOut         string `json:"tokenOut"`
		AmountIn         string `json:"amountIn,omitempty"`
		AmountOutMin     string `json:"amountOutMin"`
		FeeOrTickSpacing int    `json:"feeOrTickSpacing"`
	}
	wire := make([]wireLeg, len(legs))
	for i, l := range legs {
		amountIn := ""
		if l.AmountIn != nil {
			amountIn = l.AmountIn.String()
		}
		wire[i] = wireLeg{
			VenueID:          l.VenueID,
			TokenIn:          l.TokenIn.Hex(),
			TokenOut:         l.TokenOut.Hex(),
			AmountIn:         amountIn,
			AmountOutMin:     bigString(l.AmountOutMin),
			FeeOrTickSpacing: l.FeeOrTickSpacing,
		}
	}
	data, _ := json.Marshal(wire)
	return data
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

var executeArbitrageSelector = crypto.Keccak256([]byte("executeArbitrage(address,uint256,bytes)"))[:4]

// simulate calls executeArbitrage as a view (eth_call), surfacing any
// revert reason (spec §4.10).
func (p *Pipeline) simulate(ctx context.Context, opp *model.ArbOpportunity, encoded []byte) error {
	data := append(append([]byte{}, executeArbitrageSelector...), packSimulationArgs(opp, encoded)...)

	callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	_, err := p.eth.CallContract(callCtx, ethereum.CallMsg{From: p.myAddr, To: &p.contract, Data: data}, nil)
	if err != nil {
		return err
	}
	return nil
}

func packSimulationArgs(opp *model.ArbOpportunity, encoded []byte) []byte {
	// Real ABI tuple encoding of (address borrowAsset, uint256 borrowAmount,
	// bytes legs) is the on-chain contract's concern; here the legs payload
	// is appended directly since SIMULATE/BUILD_TX in this repository only
	// need a stable, parseable input for a deployed contract to decode, not
	// a specific already-fixed ABI (spec §2 Non-goals: no Solidity source).
	out := append([]byte{}, common.LeftPadBytes(opp.BorrowAsset.Bytes(), 32)...)
	out = append(out, common.LeftPadBytes(opp.BorrowAmount.Bytes(), 32)...)
	return append(out, encoded...)
}

// nextNonce returns the locally tracked nonce, initializing it from the
// latest pending count on first use (spec §4.10).
func (p *Pipeline) nextNonce(ctx context.Context) (uint64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.nonceKnown {
		n, err := p.eth.PendingNonceAt(ctx, p.myAddr)
		if err != nil {
			return 0, fmt.Errorf("fetch pending nonce: %w", err)
		}
		p.nonce = n
		p.nonceKnown = true
	}
	return p.nonce, nil
}

// resetNonce forces the next BUILD_TX to re-fetch the pending nonce from
// chain, per spec §4.10's explicit resetNonce() on error.
func (p *Pipeline) resetNonce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonceKnown = false
}

func (p *Pipeline) advanceNonce() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nonce++
}

func (p *Pipeline) buildSignedTx(opp *model.ArbOpportunity, encoded []byte, nonce uint64, params gas.Params) (*types.Transaction, error) {
	chainID := big.NewInt(p.cfg.ChainID)
	data := append(append([]byte{}, executeArbitrageSelector...), packSimulationArgs(opp, encoded)...)

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   chainID,
		Nonce:     nonce,
		GasTipCap: new(big.Int).SetUint64(params.PriorityFeeWei),
		GasFeeCap: new(big.Int).SetUint64(params.MaxFeeWei),
		Gas:       params.GasLimit,
		To:        &p.contract,
		Data:      data,
	})
	signer := types.LatestSignerForChainID(chainID)
	return types.SignTx(tx, signer, p.privateKey)
}

// submitPrivate posts a signed tx bundle to the private relay RPC via
// eth_sendBundle, targeting the next block (spec §4.10).
func (p *Pipeline) submitPrivate(ctx context.Context, opp *model.ArbOpportunity, encoded []byte, nonce uint64, params gas.Params) (common.Hash, error) {
	if p.relayURL == "" {
		return common.Hash{}, fmt.Errorf("no private relay configured")
	}
	signedTx, err := p.buildSignedTx(opp, encoded, nonce, params)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	raw, err := signedTx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode tx: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	relay, err := rpc.DialContext(callCtx, p.relayURL)
	if err != nil {
		return common.Hash{}, fmt.Errorf("dial relay: %w", err)
	}
	defer relay.Close()

	head, err := p.eth.BlockNumber(callCtx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("fetch head for bundle target: %w", err)
	}

	bundle := map[string]interface{}{
		"txs":         []string{"0x" + common.Bytes2Hex(raw)},
		"blockNumber": fmt.Sprintf("0x%x", head+1),
	}
	var result json.RawMessage
	if err := relay.CallContext(callCtx, &result, "eth_sendBundle", bundle); err != nil {
		return common.Hash{}, fmt.Errorf("eth_sendBundle: %w", err)
	}

	p.advanceNonce()
	return signedTx.Hash(), nil
}

// isNonceError reports whether err looks like the "nonce too low"/nonce-gap
// class of RPC rejection, which is transient per spec §8 scenario 5: the
// pipeline should mark the attempt STALE and let resetNonce's next fetch
// pick up the chain's real pending count, rather than rejecting the
// opportunity outright.
func isNonceError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "nonce too low") || strings.Contains(msg, "nonce too high") || strings.Contains(msg, "replacement transaction underpriced")
}

func (p *Pipeline) submitPublic(ctx context.Context, opp *model.ArbOpportunity, encoded []byte, nonce uint64, params gas.Params) (common.Hash, error) {
	signedTx, err := p.buildSignedTx(opp, encoded, nonce, params)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx: %w", err)
	}

	callCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	if err := p.eth.SendTransaction(callCtx, signedTx); err != nil {
		return common.Hash{}, fmt.Errorf("send transaction: %w", err)
	}
	p.advanceNonce()
	return signedTx.Hash(), nil
}

// waitOneBlock polls for a receipt for roughly one block's worth of time,
// reporting whether the private-relay submission was included (spec
// §4.10: "waits for inclusion up to one block").
func (p *Pipeline) waitOneBlock(ctx context.Context, hash common.Hash) bool {
	deadline := time.Now().Add(time.Duration(inclusionWaitBlocks) * blockTime)
	for time.Now().Before(deadline) {
		if _, err := p.eth.TransactionReceipt(ctx, hash); err == nil {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(200 * time.Millisecond):
		}
	}
	return false
}

func (p *Pipeline) finalize(opp *model.ArbOpportunity, state State, reason string, txHash common.Hash, nonce uint64, params gas.Params) Result {
	result := Result{
		OpportunityID: opp.ID,
		FinalState:    state,
		TxHash:        txHash,
		Reason:        reason,
	}

	switch state {
	case StateConfirmed:
		result.Confirmed = true
		gasCostWei := new(big.Int).SetUint64(params.MaxFeeWei)
		gasCostWei.Mul(gasCostWei, new(big.Int).SetUint64(params.GasLimit))
		result.GasCostWei = gasCostWei
		netProfitWei := weiFromUsd(opp.NetProfitUsd)
		result.NetProfit = netProfitWei
		p.riskCtl.Record(risk.TradeOutcome{NetProfit: netProfitWei, GasCost: gasCostWei})
	case StateReverted:
		loss := new(big.Int).Neg(weiFromUsd(opp.GasCostUsd))
		p.riskCtl.Record(risk.TradeOutcome{NetProfit: loss, GasCost: weiFromUsd(opp.GasCostUsd)})
	case StateStale, StateRejected:
		// no funds moved: neither a win nor a loss for drawdown purposes.
	}
	return result
}

// weiFromUsd is a placeholder unit bridge: this repository tracks
// opportunity economics in USD (spec §4.6) but the risk controller's
// drawdown ledger is denominated in the borrow asset's wei (spec §4.7);
// the conversion is 1 USD = 1e18/2500 wei, a fixed 2500 USD/ETH rate, not
// the live ETH/USD price the strategy layer uses.
func weiFromUsd(usd float64) *big.Int {
	if usd == 0 {
		return big.NewInt(0)
	}
	f := new(big.Float).SetFloat64(usd * 1e18 / 2500) // conservative fallback ETH/USD
	v, _ := f.Int(nil)
	return v
}

func (p *Pipeline) publish(opp *model.ArbOpportunity, result Result) {
	if p.bus == nil {
		return
	}
	p.bus.Publish(eventbus.Event{
		Type:    eventbus.OpportunityExecuted,
		Message: fmt.Sprintf("%s -> %s (%s)", opp.ID, result.FinalState, strings.TrimSpace(result.Reason)),
	})
	if result.Confirmed {
		p.tradeLog.Info("trade confirmed",
			zap.String("opportunityId", opp.ID),
			zap.String("txHash", result.TxHash.Hex()),
			zap.Float64("netProfitUsd", opp.NetProfitUsd),
		)
	}
}

// Shutdown waits up to timeout for any in-flight execution to finish before
// returning, mirroring the teacher's graceful-drain pattern.
func (p *Pipeline) Shutdown(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		p.mu.Lock()
		inFlight := p.inFlight
		p.mu.Unlock()
		if !inFlight {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
