package gas

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCurrentGasDefaultPriority(t *testing.T) {
	o := NewOracle(nil)
	o.Observe(1_000_000_000, 10_000_000, 30_000_000)
	o.Observe(1_010_000_000, 10_000_000, 30_000_000) // <10% delta

	p := o.CurrentGas()
	assert.EqualValues(t, 1_010_000_000, p.BaseFeeWei)
	assert.EqualValues(t, 2_000_000_000, p.PriorityFeeWei)
	assert.EqualValues(t, 3_010_000_000, p.MaxFeeWei)
}

func TestCurrentGasAcceleratedPriority(t *testing.T) {
	o := NewOracle(nil)
	o.Observe(1_000_000_000, 10_000_000, 30_000_000)
	o.Observe(1_200_000_000, 10_000_000, 30_000_000) // 20% jump

	p := o.CurrentGas()
	assert.EqualValues(t, 5_000_000_000, p.PriorityFeeWei)
}

func TestPredictNextBaseFeeIncreasesWhenOverTarget(t *testing.T) {
	o := NewOracle(nil)
	o.Observe(1_000_000_000, 25_000_000, 30_000_000) // used > target(15M)

	next := o.PredictNextBaseFee()
	assert.Greater(t, next, uint64(1_000_000_000))
}

func TestPredictNextBaseFeeDecreasesWhenUnderTarget(t *testing.T) {
	o := NewOracle(nil)
	o.Observe(1_000_000_000, 5_000_000, 30_000_000) // used < target(15M)

	next := o.PredictNextBaseFee()
	assert.Less(t, next, uint64(1_000_000_000))
}

func TestOptimalParamsScalesByUrgency(t *testing.T) {
	o := NewOracle(nil)
	o.Observe(1_000_000_000, 10_000_000, 30_000_000)

	low := o.OptimalParams(1)
	high := o.OptimalParams(5)
	assert.Less(t, low.PriorityFeeWei, high.PriorityFeeWei)
}

func TestOptimalParamsClampsUrgency(t *testing.T) {
	o := NewOracle(nil)
	o.Observe(1_000_000_000, 10_000_000, 30_000_000)

	assert.Equal(t, o.OptimalParams(1), o.OptimalParams(-5))
	assert.Equal(t, o.OptimalParams(5), o.OptimalParams(99))
}
