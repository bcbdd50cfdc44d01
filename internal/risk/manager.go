package risk

import (
	"fmt"
	"math"
	"time"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"
)

// Config holds the risk limits applied to every entry request.
// Coefficients are relative to the entry price: a StopLossMaxCoeff of
// 0.005 at price 30000 caps the stop-loss distance at 150.
type Config struct {
	StopLossMinCoeff float64       // Minimum stop-loss distance / price
	StopLossMaxCoeff float64       // Maximum stop-loss distance / price (0 = unlimited)
	ProfitMinCoeff   float64       // Minimum take-profit distance / price
	ProfitMaxCoeff   float64       // Maximum take-profit distance / price (0 = unlimited)
	WaitAfterLoss    time.Duration // Cool-down after a losing trade
}

// Manager validates entry requests against configured risk limits and
// enforces a cool-down period after losing trades.
type Manager struct {
	cfg          Config
	lastLossTime time.Time
}

// NewManager creates a risk manager with the given limits.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.StopLossMinCoeff < 0 || cfg.ProfitMinCoeff < 0 {
		return nil, fmt.Errorf("risk coefficients must not be negative")
	}
	if cfg.StopLossMaxCoeff > 0 && cfg.StopLossMaxCoeff < cfg.StopLossMinCoeff {
		return nil, fmt.Errorf("StopLossMaxCoeff must be >= StopLossMinCoeff")
	}
	if cfg.ProfitMaxCoeff > 0 && cfg.ProfitMaxCoeff < cfg.ProfitMinCoeff {
		return nil, fmt.Errorf("ProfitMaxCoeff must be >= ProfitMinCoeff")
	}
	return &Manager{cfg: cfg}, nil
}

// ValidateEntry checks the stop-loss and take-profit distances of a
// prospective entry against the configured bounds.
func (m *Manager) ValidateEntry(price, stopLoss, takeProfit float64) error {
	slDist := math.Abs(price - stopLoss)
	tpDist := math.Abs(takeProfit - price)

	if slDist < price*m.cfg.StopLossMinCoeff {
		return fmt.Errorf("%w: stop loss distance %v below minimum %v",
			ports.ErrValidation, slDist, price*m.cfg.StopLossMinCoeff)
	}
	if m.cfg.StopLossMaxCoeff > 0 && slDist > price*m.cfg.StopLossMaxCoeff {
		return fmt.Errorf("%w: stop loss distance %v above maximum %v",
			ports.ErrValidation, slDist, price*m.cfg.StopLossMaxCoeff)
	}
	if tpDist < price*m.cfg.ProfitMinCoeff {
		return fmt.Errorf("%w: take profit distance %v below minimum %v",
			ports.ErrValidation, tpDist, price*m.cfg.ProfitMinCoeff)
	}
	if m.cfg.ProfitMaxCoeff > 0 && tpDist > price*m.cfg.ProfitMaxCoeff {
		return fmt.Errorf("%w: take profit distance %v above maximum %v",
			ports.ErrValidation, tpDist, price*m.cfg.ProfitMaxCoeff)
	}
	return nil
}

// CanTrade reports whether entries are allowed at the given moment,
// honoring the cool-down after a losing trade.
func (m *Manager) CanTrade(now time.Time) (bool, string) {
	if m.cfg.WaitAfterLoss <= 0 || m.lastLossTime.IsZero() {
		return true, ""
	}
	until := m.lastLossTime.Add(m.cfg.WaitAfterLoss)
	if now.Before(until) {
		return false, fmt.Sprintf("cooling down after loss until %s", until.Format(time.RFC3339))
	}
	return true, ""
}

// OnTradeClosed records the outcome of a closed trade; a loss starts the
// cool-down window.
func (m *Manager) OnTradeClosed(trade *domain.Trade) {
	if trade == nil || trade.IsOpen() {
		return
	}
	if trade.Profit() < 0 {
		m.lastLossTime = trade.CloseTime
	}
}
