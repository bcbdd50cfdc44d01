// Package pricing computes exchange-ready trigger and limit prices for
// bracketed orders.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"bracketbot/internal/ports"
)

// Prices is the adjusted price tuple for one bracketed entry. It is
// computed once per entry request and passed through to order placement
// unchanged.
type Prices struct {
	EntryPrice float64
	SLTrigger  float64
	SLLimit    float64
	TPTrigger  float64
	TPLimit    float64
}

// Adjust rounds the entry, stop-loss and take-profit prices to the given
// number of decimal digits and derives the limit price for each
// protective leg.
//
// Rounding is half away from zero (decimal.Round), matching the
// exchange tick convention this bot targets.
//
// The limit price is offset from its trigger by limitRatio in the
// direction that guarantees executability:
//
//	limit = trigger * (1 - direction*limitRatio)
//
// For a long trade (direction +1) both protective legs are sells, so
// their limits sit below the triggers and a falling (stop-loss) or
// retracing (take-profit) market can still lift them. For a short trade
// the signs invert. Getting this sign wrong leaves protective orders
// resting unfilled indefinitely.
func Adjust(direction int, price, stopLoss, takeProfit float64, precision int, limitRatio float64) (Prices, error) {
	if direction != 1 && direction != -1 {
		return Prices{}, fmt.Errorf("%w: direction must be +1 or -1, got %d", ports.ErrValidation, direction)
	}
	if precision < 0 {
		return Prices{}, fmt.Errorf("%w: negative price precision %d", ports.ErrValidation, precision)
	}
	if limitRatio < 0 || limitRatio >= 1 || !isFinite(limitRatio) {
		return Prices{}, fmt.Errorf("%w: limit ratio %v out of range [0,1)", ports.ErrValidation, limitRatio)
	}
	for name, v := range map[string]float64{"price": price, "stop loss": stopLoss, "take profit": takeProfit} {
		if !isFinite(v) || v <= 0 {
			return Prices{}, fmt.Errorf("%w: %s price %v must be a positive finite number", ports.ErrValidation, name, v)
		}
	}
	d := float64(direction)
	if (price-stopLoss)*d <= 0 {
		return Prices{}, fmt.Errorf("%w: stop loss %v on the wrong side of price %v for direction %d",
			ports.ErrValidation, stopLoss, price, direction)
	}
	if (takeProfit-price)*d <= 0 {
		return Prices{}, fmt.Errorf("%w: take profit %v on the wrong side of price %v for direction %d",
			ports.ErrValidation, takeProfit, price, direction)
	}

	offset := 1 - d*limitRatio
	return Prices{
		EntryPrice: round(price, precision),
		SLTrigger:  round(stopLoss, precision),
		SLLimit:    round(stopLoss*offset, precision),
		TPTrigger:  round(takeProfit, precision),
		TPLimit:    round(takeProfit*offset, precision),
	}, nil
}

func round(v float64, precision int) float64 {
	r, _ := decimal.NewFromFloat(v).Round(int32(precision)).Float64()
	return r
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
