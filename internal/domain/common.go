package domain

import "fmt"

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// SideForDirection maps a trade direction (+1 long, -1 short) to the entry order side.
func SideForDirection(direction int) (OrderSide, error) {
	switch direction {
	case 1:
		return Buy, nil
	case -1:
		return Sell, nil
	default:
		return "", fmt.Errorf("invalid direction %d, must be +1 or -1", direction)
	}
}

// Opposite returns the side that closes a position opened with s.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// TradeStatus represents the lifecycle state of a trade.
// Idle (no current trade) is modelled as the absence of a trade, not as a stored status.
type TradeStatus string

const (
	// StatusEntrySubmitted: entry order sent, fill not yet confirmed.
	StatusEntrySubmitted TradeStatus = "entry_submitted"
	// StatusEntryFilled: entry fill confirmed, protective orders not yet validated.
	StatusEntryFilled TradeStatus = "entry_filled"
	// StatusBracketPlaced: both protective orders validated, trade fully open.
	StatusBracketPlaced TradeStatus = "bracket_placed"
	// StatusClosing: close sequence in progress.
	StatusClosing TradeStatus = "closing"
	// StatusClosed: position flat, close leg recorded.
	StatusClosed TradeStatus = "closed"
)

// CloseReason indicates why a trade was closed.
type CloseReason string

const (
	CloseReasonStopLoss   CloseReason = "SL"
	CloseReasonTakeProfit CloseReason = "TP"
	CloseReasonManual     CloseReason = "MANUAL"
	CloseReasonUnknown    CloseReason = "Unknown"
)
