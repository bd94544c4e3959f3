package mempool

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"github.com/basearb/engine/internal/eventbus"
)

func newTestObserver(t *testing.T) *Observer {
	t.Helper()
	return NewObserver("https://push.example.com/ws", eventbus.New(), zap.NewNop())
}

func TestNewObserverNormalizesScheme(t *testing.T) {
	o := newTestObserver(t)
	assert.Equal(t, "wss://push.example.com/ws", o.wsURL)

	o2 := NewObserver("http://push.example.com", eventbus.New(), zap.NewNop())
	assert.Equal(t, "ws://push.example.com", o2.wsURL)
}

func TestClassifyRisk(t *testing.T) {
	assert.Equal(t, MEVRiskLow, classifyRisk(decimal.New(1, 16), 1))
	assert.Equal(t, MEVRiskMedium, classifyRisk(decimal.New(2, 18), 1))
	assert.Equal(t, MEVRiskHigh, classifyRisk(decimal.New(15, 18), 1))
	assert.Equal(t, MEVRiskCritical, classifyRisk(decimal.New(1, 16), 21))
}

func TestRecordPendingSwapPublishesAndClassifies(t *testing.T) {
	o := newTestObserver(t)
	router := common.HexToAddress("0x1111111111111111111111111111111111111111")
	caller := common.HexToAddress("0x2222222222222222222222222222222222222222")
	sub := o.bus.Subscribe(1)

	o.RecordPendingSwap(PendingSwap{
		Hash: common.HexToHash("0xdead"), Router: router, From: caller, ObservedAt: time.Now(),
	}, decimal.New(12, 18))

	o.mu.Lock()
	count := o.seenCallers[caller]
	o.mu.Unlock()
	assert.Equal(t, 1, count)

	select {
	case ev := <-sub:
		assert.Contains(t, ev.Message, "risk=high") // 12 ETH is at or above the 10 ETH band
	default:
		t.Fatal("expected a pending swap event on the bus")
	}
}

func TestDetectSandwichRequiresRepeatedBracketing(t *testing.T) {
	o := newTestObserver(t)
	router := common.HexToAddress("0x1111111111111111111111111111111111111111")
	caller := common.HexToAddress("0x2222222222222222222222222222222222222222")

	assert.False(t, o.DetectSandwich(router, caller))

	for i := 0; i < 2; i++ {
		o.RecordPendingSwap(PendingSwap{
			Hash: common.HexToHash("0xdead"), Router: router, From: caller, ObservedAt: time.Now(),
		}, decimal.New(1, 18))
	}
	assert.True(t, o.DetectSandwich(router, caller))
}

func TestRecommendByRiskLevel(t *testing.T) {
	o := newTestObserver(t)

	critical := o.Recommend(MEVRiskCritical)
	assert.True(t, critical.UsePrivateRelay)
	assert.True(t, critical.UseFlashbots)

	low := o.Recommend(MEVRiskLow)
	assert.False(t, low.UsePrivateRelay)
	assert.False(t, low.UseFlashbots)
}

func TestStopIsIdempotentBeforeRun(t *testing.T) {
	o := newTestObserver(t)
	assert.NotPanics(t, func() { o.Stop() })
}
