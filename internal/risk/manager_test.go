package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
)

func TestNewManager_Validation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr bool
	}{
		{name: "empty config", cfg: Config{}, wantErr: false},
		{name: "valid bounds", cfg: Config{StopLossMinCoeff: 0.001, StopLossMaxCoeff: 0.01, ProfitMinCoeff: 0.002, ProfitMaxCoeff: 0.02}, wantErr: false},
		{name: "negative stop loss min", cfg: Config{StopLossMinCoeff: -0.1}, wantErr: true},
		{name: "negative profit min", cfg: Config{ProfitMinCoeff: -0.1}, wantErr: true},
		{name: "stop loss max below min", cfg: Config{StopLossMinCoeff: 0.01, StopLossMaxCoeff: 0.005}, wantErr: true},
		{name: "profit max below min", cfg: Config{ProfitMinCoeff: 0.02, ProfitMaxCoeff: 0.01}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewManager(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateEntry(t *testing.T) {
	mgr, err := NewManager(Config{
		StopLossMinCoeff: 0.005, // 150 at price 30000
		StopLossMaxCoeff: 0.02,  // 600
		ProfitMinCoeff:   0.005,
		ProfitMaxCoeff:   0.05, // 1500
	})
	require.NoError(t, err)

	tests := []struct {
		name       string
		price      float64
		stopLoss   float64
		takeProfit float64
		wantErr    bool
	}{
		{name: "long within bounds", price: 30000, stopLoss: 29700, takeProfit: 30600, wantErr: false},
		{name: "short within bounds", price: 30000, stopLoss: 30300, takeProfit: 29400, wantErr: false},
		{name: "stop loss too tight", price: 30000, stopLoss: 29950, takeProfit: 30600, wantErr: true},
		{name: "stop loss too wide", price: 30000, stopLoss: 29000, takeProfit: 30600, wantErr: true},
		{name: "take profit too tight", price: 30000, stopLoss: 29700, takeProfit: 30050, wantErr: true},
		{name: "take profit too wide", price: 30000, stopLoss: 29700, takeProfit: 32000, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mgr.ValidateEntry(tt.price, tt.stopLoss, tt.takeProfit)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ports.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestCanTrade_CoolDownAfterLoss(t *testing.T) {
	mgr, err := NewManager(Config{WaitAfterLoss: time.Hour})
	require.NoError(t, err)

	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	ok, _ := mgr.CanTrade(now)
	assert.True(t, ok, "no losses yet")

	// A winning trade does not start the cool-down.
	mgr.OnTradeClosed(&domain.Trade{
		Side: domain.Buy, Status: domain.StatusClosed,
		OpenPrice: 30000, ClosePrice: 30600, Quantity: 0.5, CloseTime: now,
	})
	ok, _ = mgr.CanTrade(now.Add(time.Minute))
	assert.True(t, ok)

	// A losing trade does.
	mgr.OnTradeClosed(&domain.Trade{
		Side: domain.Buy, Status: domain.StatusClosed,
		OpenPrice: 30000, ClosePrice: 29700, Quantity: 0.5, CloseTime: now,
	})
	ok, reason := mgr.CanTrade(now.Add(30 * time.Minute))
	assert.False(t, ok)
	assert.NotEmpty(t, reason)

	ok, _ = mgr.CanTrade(now.Add(61 * time.Minute))
	assert.True(t, ok, "cool-down expired")
}

func TestOnTradeClosed_IgnoresOpenTrades(t *testing.T) {
	mgr, err := NewManager(Config{WaitAfterLoss: time.Hour})
	require.NoError(t, err)

	mgr.OnTradeClosed(nil)
	mgr.OnTradeClosed(&domain.Trade{
		Side: domain.Buy, Status: domain.StatusBracketPlaced,
		OpenPrice: 30000, ClosePrice: 0, Quantity: 0.5,
	})

	ok, _ := mgr.CanTrade(time.Now().UTC())
	assert.True(t, ok)
}

func TestCanTrade_NoCoolDownConfigured(t *testing.T) {
	mgr, err := NewManager(Config{})
	require.NoError(t, err)

	mgr.OnTradeClosed(&domain.Trade{
		Side: domain.Buy, Status: domain.StatusClosed,
		OpenPrice: 30000, ClosePrice: 29000, Quantity: 0.5, CloseTime: time.Now().UTC(),
	})
	ok, _ := mgr.CanTrade(time.Now().UTC())
	assert.True(t, ok)
}
