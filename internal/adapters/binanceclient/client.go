package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"
)

// Client implements the ports.BrokerGateway interface using the
// go-binance library against USD-M futures.
//
// Binance does not support a single-call entry with attached stop-loss
// and take-profit, so PlaceEntryOrder orchestrates three orders: the FOK
// entry plus two reduce-only protective legs. The legs are later
// rediscovered through GetProtectiveOrders for validation.
type Client struct {
	futuresClient     *futures.Client
	logger            ports.Logger
	pricePrecision    int
	quantityPrecision int
}

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey            string
	SecretKey         string
	UseTestnet        bool
	Logger            ports.Logger
	PricePrecision    int // Decimal digits for price formatting
	QuantityPrecision int // Decimal digits for quantity formatting
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	// Set BaseURL directly instead of using global futures.UseTestnet
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", map[string]interface{}{"baseURL": client.BaseURL})
	}

	pricePrecision := cfg.PricePrecision
	if pricePrecision < 0 {
		pricePrecision = 2
	}
	quantityPrecision := cfg.QuantityPrecision
	if quantityPrecision <= 0 {
		quantityPrecision = 3
	}

	return &Client{
		futuresClient:     client,
		logger:            cfg.Logger,
		pricePrecision:    pricePrecision,
		quantityPrecision: quantityPrecision,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message

		// Map specific Binance error codes to custom errors
		var mappedErr error
		switch apiErr.Code {
		case -1003: // Too many requests
			mappedErr = ports.ErrRateLimited
		case -1021: // Timestamp outside of recvWindow
			mappedErr = ports.ErrTimeout
		case -1022: // Invalid signature
			mappedErr = ports.ErrAuthenticationFailed
		case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130: // Parameter/format errors
			mappedErr = ports.ErrValidation
		case -2010: // New order rejected
			mappedErr = ports.ErrExchangeRejected
		case -2011: // Cancel order rejected
			mappedErr = ports.ErrOrderCancelFailed
		case -2013: // Order does not exist
			mappedErr = ports.ErrOrderNotFound
		case -2014: // API-key format invalid
			mappedErr = ports.ErrInvalidAPIKeys
		case -2015: // Invalid API-key, IP, or permissions
			mappedErr = ports.ErrInvalidAPIKeys
		case -2019, -3005, -3041: // Insufficient margin/balance/position
			mappedErr = ports.ErrInsufficientFunds
		case -2022: // ReduceOnly order rejected
			mappedErr = ports.ErrExchangeRejected
		case -4003, -4014, -4015: // Qty/price/leverage out of range
			mappedErr = ports.ErrValidation
		case -4044: // Position not found
			mappedErr = ports.ErrPositionNotFound
		default:
			// Unmapped business errors are still exchange rejections
			mappedErr = ports.ErrExchangeRejected
		}
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
		c.logger.Error(ctx, err, fmt.Sprintf("%s failed with API error", operation), fields)
		return finalErr
	}

	// Handle non-API errors (network, context cancellation, etc.)
	var finalErr error
	if errors.Is(err, context.DeadlineExceeded) {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	} else if errors.Is(err, context.Canceled) {
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	} else if strings.Contains(err.Error(), "use of closed network connection") ||
		strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset by peer") {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	} else {
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrExchangeProtocol, err)
	}

	c.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return finalErr
}

// SetServerTime synchronizes the client's time with the server's time.
func (c *Client) SetServerTime(ctx context.Context) error {
	op := "SetServerTime"
	_, err := c.futuresClient.NewSetServerTimeService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	err := c.futuresClient.NewPingService().Do(ctx)
	if err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// PlaceEntryOrder submits the bracketed entry: a FOK limit entry at the
// adjusted price, then the stop-loss and take-profit legs as reduce-only
// stop-limit orders on the opposite side. If a protective leg cannot be
// placed after the entry went in, the position is flattened immediately
// rather than left naked.
func (c *Client) PlaceEntryOrder(ctx context.Context, req ports.EntryOrderRequest) (*ports.OrderAck, error) {
	op := "PlaceEntryOrder"
	quantityStr := c.formatQuantity(req.Quantity)

	entry, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(req.Side)).
		Type(futures.OrderTypeLimit).
		TimeInForce(futures.TimeInForceTypeFOK).
		Quantity(quantityStr).
		Price(c.formatPrice(req.Price)).
		NewClientOrderID(req.ClientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+": Entry order submitted", map[string]interface{}{
		"symbol": req.Symbol, "side": req.Side, "quantity": quantityStr,
		"price": req.Price, "orderID": entry.OrderID, "status": entry.Status,
	})

	if isTerminalStatus(entry.Status) && entry.Status != futures.OrderStatusTypeFilled {
		// FOK entry did not fill; no position exists, nothing to protect.
		c.logger.Warn(ctx, op+": Entry order ended without fill", map[string]interface{}{"orderID": entry.OrderID, "status": entry.Status})
		return entryAck(entry), nil
	}

	protectiveSide := req.Side.Opposite()

	// Stop-loss leg.
	slOrder, err := c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(protectiveSide)).
		Type(futures.OrderTypeStop).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(quantityStr).
		StopPrice(c.formatPrice(req.SLTrigger)).
		Price(c.formatPrice(req.SLLimit)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		// Critical: an open position without a stop loss. Flatten it.
		c.logger.Error(ctx, err, op+": Failed to place stop loss, attempting emergency close", map[string]interface{}{"symbol": req.Symbol})
		if closeErr := c.emergencyClose(ctx, req.Symbol, protectiveSide, quantityStr); closeErr != nil {
			c.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED", map[string]interface{}{"symbol": req.Symbol})
		}
		return nil, c.handleError(ctx, fmt.Errorf("stop loss order failed after entry: %w", err), op)
	}

	// Take-profit leg.
	_, err = c.futuresClient.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(futures.SideType(protectiveSide)).
		Type(futures.OrderTypeTakeProfit).
		TimeInForce(futures.TimeInForceTypeGTC).
		Quantity(quantityStr).
		StopPrice(c.formatPrice(req.TPTrigger)).
		Price(c.formatPrice(req.TPLimit)).
		ReduceOnly(true).
		Do(ctx)
	if err != nil {
		c.logger.Error(ctx, err, op+": Failed to place take profit, attempting emergency close", map[string]interface{}{"symbol": req.Symbol})
		if _, cancelErr := c.futuresClient.NewCancelOrderService().Symbol(req.Symbol).OrderID(slOrder.OrderID).Do(ctx); cancelErr != nil {
			c.logger.Error(ctx, cancelErr, op+": Failed to cancel stop loss during cleanup", map[string]interface{}{"orderID": slOrder.OrderID})
		}
		if closeErr := c.emergencyClose(ctx, req.Symbol, protectiveSide, quantityStr); closeErr != nil {
			c.logger.Error(ctx, closeErr, op+": EMERGENCY CLOSE FAILED", map[string]interface{}{"symbol": req.Symbol})
		}
		return nil, c.handleError(ctx, fmt.Errorf("take profit order failed after entry: %w", err), op)
	}

	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": req.Symbol, "entryOrderID": entry.OrderID, "clientOrderID": entry.ClientOrderID,
	})
	return entryAck(entry), nil
}

// emergencyClose places an opposing market order to flatten exposure
// when protective-leg placement fails after the entry filled.
func (c *Client) emergencyClose(ctx context.Context, symbol string, side domain.OrderSide, quantityStr string) error {
	_, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(quantityStr).
		ReduceOnly(true).
		Do(ctx)
	return err
}

// GetOrderByClientID fetches order state by the client-generated idempotency token.
func (c *Client) GetOrderByClientID(ctx context.Context, symbol, clientOrderID string) (*ports.OrderDetail, error) {
	op := "GetOrderByClientID"
	order, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrigClientOrderID(clientOrderID).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// GetOrder fetches order state by exchange order id.
func (c *Client) GetOrder(ctx context.Context, symbol, orderID string) (*ports.OrderDetail, error) {
	op := "GetOrder"
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: malformed order id %q", op, ports.ErrValidation, orderID)
	}
	order, err := c.futuresClient.NewGetOrderService().
		Symbol(symbol).
		OrderID(id).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	return translateOrder(order), nil
}

// GetProtectiveOrders returns the open reduce-only stop-loss/take-profit
// orders for the symbol. Binance does not link protective orders to an
// entry id, so discovery goes through the open-orders listing.
func (c *Client) GetProtectiveOrders(ctx context.Context, symbol, entryOrderID string) ([]ports.ProtectiveOrder, error) {
	op := "GetProtectiveOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	protective := make([]ports.ProtectiveOrder, 0, 2)
	for _, o := range orders {
		if !isProtectiveType(o.Type) {
			continue
		}
		price, _ := strconv.ParseFloat(o.Price, 64)
		stopPrice, _ := strconv.ParseFloat(o.StopPrice, 64)
		protective = append(protective, ports.ProtectiveOrder{
			OrderID:      strconv.FormatInt(o.OrderID, 10),
			Side:         domain.OrderSide(o.Side),
			TriggerPrice: stopPrice,
			OrderPrice:   price,
			Status:       string(o.Status),
		})
	}
	c.logger.Debug(ctx, op+": Found protective orders", map[string]interface{}{"symbol": symbol, "count": len(protective)})
	return protective, nil
}

// GetOpenOrders lists all currently open orders for the symbol.
func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]ports.OrderDetail, error) {
	op := "GetOpenOrders"
	orders, err := c.futuresClient.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	details := make([]ports.OrderDetail, 0, len(orders))
	for _, o := range orders {
		details = append(details, *translateOrder(o))
	}
	return details, nil
}

// GetNetPosition returns the net position amount for the symbol,
// positive for long, negative for short, 0 when flat.
func (c *Client) GetNetPosition(ctx context.Context, symbol string) (float64, error) {
	op := "GetNetPosition"
	positions, err := c.futuresClient.NewGetPositionRiskService().Symbol(symbol).Do(ctx)
	if err != nil {
		return 0, c.handleError(ctx, err, op)
	}
	var net float64
	for _, pos := range positions {
		amt, parseErr := strconv.ParseFloat(pos.PositionAmt, 64)
		if parseErr != nil {
			return 0, c.handleError(ctx, fmt.Errorf("could not parse position amount '%s': %w", pos.PositionAmt, parseErr), op)
		}
		net += amt
	}
	return net, nil
}

// CancelOpenOrders cancels every open order for the symbol.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) error {
	op := "CancelOpenOrders"
	if err := c.futuresClient.NewCancelAllOpenOrdersService().Symbol(symbol).Do(ctx); err != nil {
		return c.handleError(ctx, err, op)
	}
	c.logger.Info(ctx, op+" successful", map[string]interface{}{"symbol": symbol})
	return nil
}

// PlaceMarketOrder places a plain market order, used to flatten residual
// positions during close.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, side domain.OrderSide, quantity float64) (*ports.OrderDetail, error) {
	op := "PlaceMarketOrder"
	order, err := c.futuresClient.NewCreateOrderService().
		Symbol(symbol).
		Side(futures.SideType(side)).
		Type(futures.OrderTypeMarket).
		Quantity(c.formatQuantity(quantity)).
		Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	detail := translateCreateResponse(order)
	c.logger.Info(ctx, op+" successful", map[string]interface{}{
		"symbol": symbol, "side": side, "quantity": quantity, "orderID": detail.OrderID, "avgPrice": detail.AvgPrice,
	})
	return detail, nil
}

// --- Formatting and translation helpers ---

func (c *Client) formatPrice(price float64) string {
	return strconv.FormatFloat(price, 'f', c.pricePrecision, 64)
}

func (c *Client) formatQuantity(quantity float64) string {
	return strconv.FormatFloat(quantity, 'f', c.quantityPrecision, 64)
}

func isProtectiveType(t futures.OrderType) bool {
	switch t {
	case futures.OrderTypeStop, futures.OrderTypeStopMarket,
		futures.OrderTypeTakeProfit, futures.OrderTypeTakeProfitMarket:
		return true
	default:
		return false
	}
}

func isTerminalStatus(status futures.OrderStatusType) bool {
	switch status {
	case futures.OrderStatusTypeFilled, futures.OrderStatusTypeCanceled,
		futures.OrderStatusTypeRejected, futures.OrderStatusTypeExpired:
		return true
	default:
		return false
	}
}

func entryAck(order *futures.CreateOrderResponse) *ports.OrderAck {
	return &ports.OrderAck{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Status:        string(order.Status),
	}
}

func translateOrder(order *futures.Order) *ports.OrderDetail {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderDetail{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		Type:          string(order.Type),
		Status:        string(order.Status),
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		CreatedAt:     time.UnixMilli(order.Time),
		IsFilled:      order.Status == futures.OrderStatusTypeFilled,
		IsTerminal:    isTerminalStatus(order.Status),
	}
}

func translateCreateResponse(order *futures.CreateOrderResponse) *ports.OrderDetail {
	if order == nil {
		return nil
	}
	price, _ := strconv.ParseFloat(order.Price, 64)
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	return &ports.OrderDetail{
		OrderID:       strconv.FormatInt(order.OrderID, 10),
		ClientOrderID: order.ClientOrderID,
		Symbol:        order.Symbol,
		Side:          domain.OrderSide(order.Side),
		Type:          string(order.Type),
		Status:        string(order.Status),
		Price:         price,
		AvgPrice:      avgPrice,
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		CreatedAt:     time.UnixMilli(order.UpdateTime),
		IsFilled:      order.Status == futures.OrderStatusTypeFilled,
		IsTerminal:    isTerminalStatus(order.Status),
	}
}
