package domain

import (
	"fmt"
	"strings"
	"time"
)

// Trade is a pair of orders, open and close, plus the protective
// stop-loss/take-profit legs linked to the open order.
type Trade struct {
	ID       int64       // Assigned by the repository on first insert
	Ticker   string      // Instrument symbol (e.g., "BTCUSDT")
	Side     OrderSide   // Side of the entry leg
	Status   TradeStatus // Current lifecycle state

	// Entry leg, immutable once the fill is confirmed.
	OpenTime    time.Time
	OpenPrice   float64
	OpenOrderID string
	Quantity    float64

	// Protective legs, set after bracket validation. StopLossOrderID is a
	// composite token "<slOrderID>,<tpOrderID>" because the two orders are
	// created and cancelled together.
	StopLossPrice   float64
	TakeProfitPrice float64
	StopLossOrderID string

	// Close leg, zero values while the trade is open.
	CloseTime    time.Time
	ClosePrice   float64
	CloseOrderID string
	CloseReason  CloseReason
}

// Direction returns +1 for a long (BUY) entry and -1 for a short (SELL) entry.
// Every directional price computation keys off this sign.
func (t *Trade) Direction() int {
	if t.Side == Sell {
		return -1
	}
	return 1
}

// IsOpen reports whether the trade still holds exchange exposure.
func (t *Trade) IsOpen() bool {
	return t.Status != StatusClosed
}

// Profit returns the realized profit in quote currency. Only meaningful
// once the trade is closed.
func (t *Trade) Profit() float64 {
	return (t.ClosePrice - t.OpenPrice) * t.Quantity * float64(t.Direction())
}

// ProtectiveOrderIDs splits the composite stop-loss order token into the
// individual stop-loss and take-profit order ids.
func (t *Trade) ProtectiveOrderIDs() (slOrderID, tpOrderID string) {
	parts := strings.SplitN(t.StopLossOrderID, ",", 2)
	slOrderID = parts[0]
	if len(parts) > 1 {
		tpOrderID = parts[1]
	}
	return slOrderID, tpOrderID
}

// ValidateBracket checks that the protective prices sit on the correct
// side of the open price for the trade direction. A violation is a
// data-integrity error and must never be silently corrected.
func (t *Trade) ValidateBracket() error {
	d := float64(t.Direction())
	if t.StopLossPrice != 0 && (t.OpenPrice-t.StopLossPrice)*d <= 0 {
		return fmt.Errorf("stop loss %v is on the wrong side of open price %v for %s trade",
			t.StopLossPrice, t.OpenPrice, t.Side)
	}
	if t.TakeProfitPrice != 0 && (t.TakeProfitPrice-t.OpenPrice)*d <= 0 {
		return fmt.Errorf("take profit %v is on the wrong side of open price %v for %s trade",
			t.TakeProfitPrice, t.OpenPrice, t.Side)
	}
	return nil
}

// String renders the trade for logs.
func (t *Trade) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s, open time: %s, open price: %v, sl: %v, tp: %v",
		t.Ticker, t.Side, t.OpenTime.Format(time.RFC3339), t.OpenPrice, t.StopLossPrice, t.TakeProfitPrice)
	if !t.CloseTime.IsZero() {
		fmt.Fprintf(&sb, ", close time: %s, close price: %v, profit: %v",
			t.CloseTime.Format(time.RFC3339), t.ClosePrice, t.Profit())
	}
	return sb.String()
}
