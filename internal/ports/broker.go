package ports

import (
	"context"
	"time"

	"bracketbot/internal/domain"
)

// EntryOrderRequest describes a bracketed entry: the main order plus the
// trigger and limit prices for both protective legs. All prices are
// already adjusted to exchange precision by the caller.
type EntryOrderRequest struct {
	Symbol        string
	Side          domain.OrderSide
	Quantity      float64
	ClientOrderID string  // Idempotency token, derived from submission time
	Price         float64 // Entry limit price; executed with FOK semantics
	SLTrigger     float64
	SLLimit       float64
	TPTrigger     float64
	TPLimit       float64
}

// OrderAck is the immediate acknowledgement of an order placement.
// Fill details arrive later via GetOrderByClientID.
type OrderAck struct {
	OrderID       string
	ClientOrderID string
	Status        string
}

// OrderDetail is the authoritative state of an order as reported by the
// exchange.
type OrderDetail struct {
	OrderID       string
	ClientOrderID string
	Symbol        string
	Side          domain.OrderSide
	Type          string
	Status        string
	Price         float64 // Requested price (0 for market orders)
	AvgPrice      float64 // Average filled price
	OrigQuantity  float64
	ExecutedQty   float64
	CreatedAt     time.Time
	IsFilled      bool
	IsTerminal    bool // Filled, cancelled, rejected or expired
}

// ProtectiveOrder is one leg of the stop-loss/take-profit pair linked to
// an entry order.
type ProtectiveOrder struct {
	OrderID      string
	Side         domain.OrderSide
	TriggerPrice float64
	OrderPrice   float64 // Limit price; 0 when the leg is a market order
	Status       string
}

// BrokerGateway abstracts the exchange REST surface the trade manager
// depends on. Implementations translate wire shapes and error codes so
// the manager stays exchange-agnostic. All calls are synchronous; both
// transport failures and exchange-reported business errors surface as
// wrapped sentinel errors from this package.
type BrokerGateway interface {
	// PlaceEntryOrder submits the bracketed entry order. The request is
	// never retried by the caller; a failure means nothing was opened or
	// the state must be reconciled.
	PlaceEntryOrder(ctx context.Context, req EntryOrderRequest) (*OrderAck, error)

	// GetOrderByClientID fetches authoritative order state by the
	// client-generated idempotency token.
	GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*OrderDetail, error)

	// GetOrder fetches authoritative order state by exchange order id.
	GetOrder(ctx context.Context, symbol, orderID string) (*OrderDetail, error)

	// GetProtectiveOrders returns the stop-loss/take-profit orders linked
	// to the given entry order.
	GetProtectiveOrders(ctx context.Context, symbol, entryOrderID string) ([]ProtectiveOrder, error)

	// GetOpenOrders lists all currently open orders for the symbol.
	GetOpenOrders(ctx context.Context, symbol string) ([]OrderDetail, error)

	// GetNetPosition returns the net exchange-reported position quantity,
	// positive for long, negative for short, 0 when flat.
	GetNetPosition(ctx context.Context, symbol string) (float64, error)

	// CancelOpenOrders cancels every open order for the symbol.
	CancelOpenOrders(ctx context.Context, symbol string) error

	// PlaceMarketOrder submits a plain market order, used to flatten
	// residual positions.
	PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*OrderDetail, error)

	// SetServerTime synchronizes the client clock with the exchange.
	SetServerTime(ctx context.Context) error

	// Ping checks connectivity to the exchange API.
	Ping(ctx context.Context) error
}
