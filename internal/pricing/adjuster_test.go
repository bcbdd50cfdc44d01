package pricing

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracketbot/internal/ports"
)

func TestAdjust_FixedVector(t *testing.T) {
	// Pinned reference vector: long entry at 30000, SL 29700, TP 30600,
	// precision 2, limit ratio 0.01. Limits sit below their triggers for
	// a long trade.
	got, err := Adjust(1, 30000, 29700, 30600, 2, 0.01)
	require.NoError(t, err)

	assert.Equal(t, 30000.0, got.EntryPrice)
	assert.Equal(t, 29700.0, got.SLTrigger)
	assert.Equal(t, 29403.0, got.SLLimit) // 29700 * 0.99
	assert.Equal(t, 30600.0, got.TPTrigger)
	assert.Equal(t, 30294.0, got.TPLimit) // 30600 * 0.99
}

func TestAdjust_ShortVector(t *testing.T) {
	// Short trade: limits sit above their triggers so resting buys can fill.
	got, err := Adjust(-1, 30000, 30300, 29400, 2, 0.01)
	require.NoError(t, err)

	assert.Equal(t, 30300.0, got.SLTrigger)
	assert.Equal(t, 30603.0, got.SLLimit) // 30300 * 1.01
	assert.Equal(t, 29400.0, got.TPTrigger)
	assert.Equal(t, 29694.0, got.TPLimit) // 29400 * 1.01
}

func TestAdjust_LimitsOnExecutableSide(t *testing.T) {
	// For any valid input, each protective limit must be strictly on the
	// executable side of its trigger: below for long, above for short.
	rnd := rand.New(rand.NewSource(42))
	for i := 0; i < 1000; i++ {
		price := 100 + rnd.Float64()*50000
		slDist := price * (0.001 + rnd.Float64()*0.05)
		tpDist := price * (0.001 + rnd.Float64()*0.05)
		ratio := 0.001 + rnd.Float64()*0.05

		for _, direction := range []int{1, -1} {
			d := float64(direction)
			got, err := Adjust(direction, price, price-d*slDist, price+d*tpDist, 2, ratio)
			require.NoError(t, err)

			assert.Less(t, got.SLLimit*d, got.SLTrigger*d,
				"direction %d: sl limit %v not on executable side of trigger %v", direction, got.SLLimit, got.SLTrigger)
			assert.Less(t, got.TPLimit*d, got.TPTrigger*d,
				"direction %d: tp limit %v not on executable side of trigger %v", direction, got.TPLimit, got.TPTrigger)
		}
	}
}

func TestAdjust_RoundingIdempotent(t *testing.T) {
	first, err := Adjust(1, 30000.004, 29699.996, 30599.995, 2, 0.01)
	require.NoError(t, err)

	second, err := Adjust(1, first.EntryPrice, first.SLTrigger, first.TPTrigger, 2, 0.01)
	require.NoError(t, err)

	assert.Equal(t, first.EntryPrice, second.EntryPrice)
	assert.Equal(t, first.SLTrigger, second.SLTrigger)
	assert.Equal(t, first.TPTrigger, second.TPTrigger)
}

func TestAdjust_RoundsHalfAwayFromZero(t *testing.T) {
	got, err := Adjust(1, 100.005, 99.005, 101.005, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 100.01, got.EntryPrice)
	assert.Equal(t, 99.01, got.SLTrigger)
	assert.Equal(t, 101.01, got.TPTrigger)
}

func TestAdjust_InvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		direction  int
		price      float64
		stopLoss   float64
		takeProfit float64
		precision  int
		limitRatio float64
	}{
		{name: "zero direction", direction: 0, price: 100, stopLoss: 99, takeProfit: 101, precision: 2, limitRatio: 0.01},
		{name: "NaN price", direction: 1, price: math.NaN(), stopLoss: 99, takeProfit: 101, precision: 2, limitRatio: 0.01},
		{name: "infinite stop loss", direction: 1, price: 100, stopLoss: math.Inf(1), takeProfit: 101, precision: 2, limitRatio: 0.01},
		{name: "negative price", direction: 1, price: -100, stopLoss: 99, takeProfit: 101, precision: 2, limitRatio: 0.01},
		{name: "negative precision", direction: 1, price: 100, stopLoss: 99, takeProfit: 101, precision: -1, limitRatio: 0.01},
		{name: "ratio of one", direction: 1, price: 100, stopLoss: 99, takeProfit: 101, precision: 2, limitRatio: 1.0},
		{name: "stop loss above long entry", direction: 1, price: 100, stopLoss: 101, takeProfit: 102, precision: 2, limitRatio: 0.01},
		{name: "take profit below long entry", direction: 1, price: 100, stopLoss: 99, takeProfit: 98, precision: 2, limitRatio: 0.01},
		{name: "stop loss below short entry", direction: -1, price: 100, stopLoss: 99, takeProfit: 98, precision: 2, limitRatio: 0.01},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Adjust(tt.direction, tt.price, tt.stopLoss, tt.takeProfit, tt.precision, tt.limitRatio)
			require.Error(t, err)
			assert.ErrorIs(t, err, ports.ErrValidation)
		})
	}
}
