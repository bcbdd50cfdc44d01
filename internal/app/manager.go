package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"bracketbot/config"
	"bracketbot/internal/domain"
	"bracketbot/internal/metrics"
	"bracketbot/internal/ports"
	"bracketbot/internal/pricing"
	"bracketbot/internal/risk"
)

// TradeManager owns the single current-trade slot and drives the order
// lifecycle: bracketed entry, fill confirmation, protective-order
// validation, persistence and closing. At most one open-or-close
// sequence runs at a time; the mutex is held for the whole sequence so
// intermediate states are never observed by a second caller.
type TradeManager struct {
	cfg    *config.Config
	logger ports.Logger
	broker ports.BrokerGateway
	repo   ports.TradeRepository
	risk   *risk.Manager

	mu         sync.Mutex // Guards the fields below for the whole open/close sequence
	curTrade   *domain.Trade
	prevTrade  *domain.Trade
	allowTrade bool
}

// NewTradeManager creates the lifecycle manager.
func NewTradeManager(
	cfg *config.Config,
	logger ports.Logger,
	broker ports.BrokerGateway,
	repo ports.TradeRepository,
	riskMgr *risk.Manager,
) (*TradeManager, error) {
	if cfg == nil || logger == nil || broker == nil || repo == nil || riskMgr == nil {
		return nil, fmt.Errorf("missing required dependencies for TradeManager")
	}
	if cfg.Quantity <= 0 {
		return nil, fmt.Errorf("configuration Quantity must be positive")
	}
	if cfg.PricePrecision < 0 {
		return nil, fmt.Errorf("configuration PricePrecision must not be negative")
	}
	if cfg.LimitRatio < 0 || cfg.LimitRatio >= 1 {
		return nil, fmt.Errorf("configuration LimitRatio must be in [0, 1)")
	}
	if cfg.PollMaxAttempts <= 0 {
		return nil, fmt.Errorf("configuration PollMaxAttempts must be positive")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("configuration CheckInterval must be positive")
	}

	return &TradeManager{
		cfg:        cfg,
		logger:     logger,
		broker:     broker,
		repo:       repo,
		risk:       riskMgr,
		allowTrade: cfg.AllowTrade,
	}, nil
}

// CurrentTrade returns the currently open trade, or nil when idle.
func (m *TradeManager) CurrentTrade() *domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.curTrade
}

// PreviousTrade returns the last closed trade, or nil.
func (m *TradeManager) PreviousTrade() *domain.Trade {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.prevTrade
}

// SetAllowTrade toggles the global trading allow-flag.
func (m *TradeManager) SetAllowTrade(allow bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.allowTrade = allow
}

// CreateCurrentTrade opens a bracketed trade: entry order with FOK
// semantics, fill confirmation by client order id, protective-order
// validation, persistence. On success the returned trade is exposed as
// the current trade. A request while another sequence is in flight or a
// trade is already open is rejected with ErrConcurrencyConflict before
// any exchange call.
func (m *TradeManager) CreateCurrentTrade(ctx context.Context, ticker string, direction int, quantity, price, stopLossPrice, takeProfitPrice float64) (*domain.Trade, error) {
	op := "CreateCurrentTrade"

	// Reject, never queue: a second entry attempt must not block behind an
	// in-flight sequence.
	if !m.mu.TryLock() {
		metrics.EntriesRejected.WithLabelValues(ticker, "conflict").Inc()
		return nil, fmt.Errorf("%w: trade sequence already in flight", ports.ErrConcurrencyConflict)
	}
	defer m.mu.Unlock()

	if !m.allowTrade {
		metrics.EntriesRejected.WithLabelValues(ticker, "disabled").Inc()
		return nil, ports.ErrTradingDisabled
	}
	if m.curTrade != nil {
		m.logger.Info(ctx, op+": Cannot create trade because another exists", map[string]interface{}{"curTrade": m.curTrade.String()})
		metrics.EntriesRejected.WithLabelValues(ticker, "conflict").Inc()
		return nil, fmt.Errorf("%w: current trade %d is still open", ports.ErrConcurrencyConflict, m.curTrade.ID)
	}
	if ticker == "" {
		metrics.EntriesRejected.WithLabelValues(ticker, "validation").Inc()
		return nil, fmt.Errorf("%w: ticker must not be empty", ports.ErrValidation)
	}
	if quantity <= 0 {
		metrics.EntriesRejected.WithLabelValues(ticker, "validation").Inc()
		return nil, fmt.Errorf("%w: quantity %v must be positive", ports.ErrValidation, quantity)
	}
	if stopLossPrice == 0 {
		metrics.EntriesRejected.WithLabelValues(ticker, "validation").Inc()
		return nil, fmt.Errorf("%w: entry requires a stop loss price", ports.ErrValidation)
	}
	if canTrade, reason := m.risk.CanTrade(time.Now().UTC()); !canTrade {
		metrics.EntriesRejected.WithLabelValues(ticker, "risk").Inc()
		return nil, fmt.Errorf("%w: %s", ports.ErrValidation, reason)
	}
	if err := m.risk.ValidateEntry(price, stopLossPrice, takeProfitPrice); err != nil {
		metrics.EntriesRejected.WithLabelValues(ticker, "risk").Inc()
		return nil, err
	}

	side, err := domain.SideForDirection(direction)
	if err != nil {
		metrics.EntriesRejected.WithLabelValues(ticker, "validation").Inc()
		return nil, fmt.Errorf("%w: %v", ports.ErrValidation, err)
	}

	prices, err := pricing.Adjust(direction, price, stopLossPrice, takeProfitPrice, m.cfg.PricePrecision, m.cfg.LimitRatio)
	if err != nil {
		metrics.EntriesRejected.WithLabelValues(ticker, "validation").Inc()
		return nil, err
	}

	// Idempotency token derived from the submission timestamp.
	clientOrderID := strconv.FormatInt(time.Now().UTC().UnixNano(), 10)

	m.logger.Info(ctx, op+": Creating trade", map[string]interface{}{
		"ticker":        ticker,
		"side":          side,
		"quantity":      quantity,
		"price":         prices.EntryPrice,
		"slTrigger":     prices.SLTrigger,
		"slLimit":       prices.SLLimit,
		"tpTrigger":     prices.TPTrigger,
		"tpLimit":       prices.TPLimit,
		"precision":     m.cfg.PricePrecision,
		"limitRatio":    m.cfg.LimitRatio,
		"clientOrderID": clientOrderID,
	})

	// Entry submission is never retried: a duplicate could double the fill.
	ack, err := m.broker.PlaceEntryOrder(ctx, ports.EntryOrderRequest{
		Symbol:        ticker,
		Side:          side,
		Quantity:      quantity,
		ClientOrderID: clientOrderID,
		Price:         prices.EntryPrice,
		SLTrigger:     prices.SLTrigger,
		SLLimit:       prices.SLLimit,
		TPTrigger:     prices.TPTrigger,
		TPLimit:       prices.TPLimit,
	})
	if err != nil {
		m.logger.Error(ctx, err, op+": Failed to place entry order", map[string]interface{}{"ticker": ticker, "clientOrderID": clientOrderID})
		metrics.EntriesRejected.WithLabelValues(ticker, "exchange").Inc()
		return nil, err
	}
	m.logger.Info(ctx, op+": Entry order submitted", map[string]interface{}{"orderID": ack.OrderID, "clientOrderID": clientOrderID})

	// Confirm the fill with bounded read-only polling.
	detail, err := m.pollOrderFilled(ctx, ticker, clientOrderID)
	if err != nil {
		m.logger.Error(ctx, err, op+": Entry fill not confirmed", map[string]interface{}{"ticker": ticker, "clientOrderID": clientOrderID})
		metrics.EntriesRejected.WithLabelValues(ticker, "exchange").Inc()
		return nil, err
	}

	trade := orderToTrade(detail)
	m.logger.Info(ctx, op+": Entry order filled", map[string]interface{}{
		"orderID": trade.OpenOrderID, "openPrice": trade.OpenPrice, "quantity": trade.Quantity,
	})

	// Persist immediately: from here the exchange holds a live position,
	// and losing it locally is the orphaned-position case.
	if _, err := m.repo.Create(ctx, trade); err != nil {
		metrics.OrphanedPositions.Inc()
		err = fmt.Errorf("%w: trade for order %s filled on exchange: %v", ports.ErrOrphanedPosition, trade.OpenOrderID, err)
		m.logger.Error(ctx, err, op+": ORPHANED POSITION: exchange fill confirmed but record not committed", map[string]interface{}{
			"ticker": ticker, "openOrderID": trade.OpenOrderID, "openPrice": trade.OpenPrice, "quantity": trade.Quantity,
		})
		return nil, err
	}

	// Validate and merge the protective legs. Any failure leaves the trade
	// in entry_filled and never exposes it as current.
	if err := m.mergeProtectiveOrders(ctx, trade); err != nil {
		m.logger.Error(ctx, err, op+": Protective order validation failed, trade not exposed", map[string]interface{}{
			"tradeID": trade.ID, "openOrderID": trade.OpenOrderID,
		})
		metrics.EntriesRejected.WithLabelValues(ticker, "bracket").Inc()
		return nil, err
	}

	trade.Status = domain.StatusBracketPlaced
	if err := m.repo.Update(ctx, trade); err != nil {
		err = fmt.Errorf("%w: bracket info for trade %d not committed: %v", ports.ErrPersistence, trade.ID, err)
		m.logger.Error(ctx, err, op+": Failed to persist bracket info")
		return nil, err
	}

	m.curTrade = trade
	metrics.TradesOpened.WithLabelValues(ticker, string(side)).Inc()
	metrics.OpenTrades.Set(1)
	m.logger.Info(ctx, op+": Opened trade", map[string]interface{}{"trade": trade.String()})
	return trade, nil
}

// pollOrderFilled queries order state by client order id until the entry
// is filled, with bounded attempts and jittered backoff. Polling is
// read-only and therefore safe to repeat.
func (m *TradeManager) pollOrderFilled(ctx context.Context, ticker, clientOrderID string) (*ports.OrderDetail, error) {
	op := "pollOrderFilled"
	b := &backoff.Backoff{
		Min:    m.cfg.PollMinDelay,
		Max:    m.cfg.PollMaxDelay,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 1; attempt <= m.cfg.PollMaxAttempts; attempt++ {
		metrics.FillPollAttempts.Inc()
		detail, err := m.broker.GetOrderByClientID(ctx, ticker, clientOrderID)
		switch {
		case err == nil && detail != nil && detail.IsFilled:
			return detail, nil
		case err == nil && detail != nil && detail.IsTerminal:
			// FOK entry that did not fill, e.g. expired or cancelled.
			return nil, fmt.Errorf("%w: entry order %s ended %s without fill", ports.ErrExchangeRejected, detail.OrderID, detail.Status)
		case err != nil && !errors.Is(err, ports.ErrOrderNotFound):
			m.logger.Warn(ctx, op+": Order status poll failed", map[string]interface{}{
				"attempt": attempt, "clientOrderID": clientOrderID, "error": err.Error(),
			})
		}

		if attempt == m.cfg.PollMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: fill confirmation aborted: %v", ports.ErrExchangeProtocol, ctx.Err())
		case <-time.After(b.Duration()):
		}
	}
	return nil, fmt.Errorf("%w: entry fill not confirmed after %d polls", ports.ErrExchangeProtocol, m.cfg.PollMaxAttempts)
}

// orderToTrade converts an exchange order detail into a trade record in
// the entry_filled state.
func orderToTrade(detail *ports.OrderDetail) *domain.Trade {
	openPrice := detail.AvgPrice
	if openPrice == 0 {
		openPrice = detail.Price
	}
	quantity := detail.ExecutedQty
	if quantity == 0 {
		quantity = detail.OrigQuantity
	}
	return &domain.Trade{
		Ticker:      detail.Symbol,
		Side:        detail.Side,
		Status:      domain.StatusEntryFilled,
		OpenTime:    detail.CreatedAt,
		OpenPrice:   openPrice,
		OpenOrderID: detail.OrderID,
		Quantity:    quantity,
	}
}

// mergeProtectiveOrders fetches the stop-loss/take-profit orders linked
// to the trade's entry order, validates that exactly two exist, resolves
// which is which by price, and merges prices plus the composite order-id
// token into the trade.
func (m *TradeManager) mergeProtectiveOrders(ctx context.Context, trade *domain.Trade) error {
	orders, err := m.broker.GetProtectiveOrders(ctx, trade.Ticker, trade.OpenOrderID)
	if err != nil {
		return err
	}
	if len(orders) != 2 {
		return fmt.Errorf("%w: expected 2 protective orders for order %s, got %d: %+v",
			ports.ErrExchangeProtocol, trade.OpenOrderID, len(orders), orders)
	}

	slOrder, tpOrder, err := classifyProtectiveOrders(orders, trade.Direction())
	if err != nil {
		return err
	}

	trade.StopLossOrderID = slOrder.OrderID + "," + tpOrder.OrderID
	trade.StopLossPrice = protectivePrice(slOrder)
	trade.TakeProfitPrice = protectivePrice(tpOrder)

	if err := trade.ValidateBracket(); err != nil {
		return fmt.Errorf("%w: %v", ports.ErrExchangeProtocol, err)
	}
	return nil
}

// classifyProtectiveOrders resolves which protective order is the stop
// loss: the lower-priced one for a long trade, the higher-priced one for
// a short. Equal prices are indistinguishable and rejected.
func classifyProtectiveOrders(orders []ports.ProtectiveOrder, direction int) (sl, tp ports.ProtectiveOrder, err error) {
	a, b := orders[0], orders[1]
	if protectivePrice(a) == protectivePrice(b) {
		return sl, tp, fmt.Errorf("%w: protective orders have equal price %v, cannot distinguish stop loss from take profit",
			ports.ErrExchangeProtocol, protectivePrice(a))
	}
	sorted := []ports.ProtectiveOrder{a, b}
	sort.Slice(sorted, func(i, j int) bool {
		// Ascending for long, descending for short: the stop loss ends up first.
		if direction == -1 {
			return protectivePrice(sorted[i]) > protectivePrice(sorted[j])
		}
		return protectivePrice(sorted[i]) < protectivePrice(sorted[j])
	})
	return sorted[0], sorted[1], nil
}

// protectivePrice picks the order (limit) price, falling back to the
// trigger price for market-type protective legs.
func protectivePrice(o ports.ProtectiveOrder) float64 {
	if o.OrderPrice != 0 {
		return o.OrderPrice
	}
	return o.TriggerPrice
}

// CloseOpenedPositions cancels any open orders on the ticker and
// flattens any residual exchange-reported position with one opposing
// market order, then records the close leg and rotates the current trade
// into the previous slot.
func (m *TradeManager) CloseOpenedPositions(ctx context.Context, ticker string) error {
	op := "CloseOpenedPositions"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.curTrade != nil && m.curTrade.Ticker == ticker {
		m.curTrade.Status = domain.StatusClosing
		if err := m.repo.Update(ctx, m.curTrade); err != nil {
			m.logger.Warn(ctx, op+": Failed to persist closing status", map[string]interface{}{"tradeID": m.curTrade.ID, "error": err.Error()})
		}
	}

	// Protective legs must not survive the close.
	orders, err := m.broker.GetOpenOrders(ctx, ticker)
	if err != nil {
		return err
	}
	if len(orders) > 0 {
		m.logger.Info(ctx, op+": Cancelling opened orders", map[string]interface{}{"ticker": ticker, "count": len(orders)})
		if err := m.broker.CancelOpenOrders(ctx, ticker); err != nil {
			return err
		}
	}

	netQty, err := m.broker.GetNetPosition(ctx, ticker)
	if err != nil {
		return err
	}

	var closeOrder *ports.OrderDetail
	if netQty != 0 {
		// If we sold we should buy back, and vice versa.
		side := domain.Sell
		if netQty < 0 {
			side = domain.Buy
		}
		m.logger.Info(ctx, op+": Flattening position", map[string]interface{}{"ticker": ticker, "netQty": netQty, "side": side})
		closeOrder, err = m.broker.PlaceMarketOrder(ctx, ticker, side, math.Abs(netQty))
		if err != nil {
			m.logger.Error(ctx, err, op+": Failed to flatten position", map[string]interface{}{"ticker": ticker, "netQty": netQty})
			return err
		}
	}

	if m.curTrade != nil && m.curTrade.Ticker == ticker {
		if err := m.finalizeTrade(ctx, closeOrder, domain.CloseReasonManual); err != nil {
			return err
		}
	}
	m.logger.Info(ctx, op+": Done", map[string]interface{}{"ticker": ticker})
	return nil
}

// finalizeTrade records the close leg on the current trade, persists it
// and rotates it into the previous slot. Caller holds the lock.
func (m *TradeManager) finalizeTrade(ctx context.Context, closeOrder *ports.OrderDetail, reason domain.CloseReason) error {
	trade := m.curTrade
	trade.Status = domain.StatusClosed
	trade.CloseReason = reason
	if closeOrder != nil {
		trade.CloseOrderID = closeOrder.OrderID
		trade.ClosePrice = closeOrder.AvgPrice
		trade.CloseTime = closeOrder.CreatedAt
	}
	if trade.CloseTime.IsZero() {
		trade.CloseTime = time.Now().UTC()
	}

	if err := m.repo.Update(ctx, trade); err != nil {
		return fmt.Errorf("%w: close of trade %d not committed: %v", ports.ErrPersistence, trade.ID, err)
	}

	m.risk.OnTradeClosed(trade)
	m.prevTrade = trade
	m.curTrade = nil
	metrics.TradesClosed.WithLabelValues(trade.Ticker, string(reason)).Inc()
	metrics.OpenTrades.Set(0)
	m.logger.Info(ctx, "Trade closed", map[string]interface{}{"trade": trade.String(), "reason": reason})
	return nil
}

// GetOpenedPositions reports the exchange-side view of a ticker: net
// position quantity and open orders. Read-only, used by recovery tooling
// to reconcile after failures.
func (m *TradeManager) GetOpenedPositions(ctx context.Context, ticker string) (float64, []ports.OrderDetail, error) {
	netQty, err := m.broker.GetNetPosition(ctx, ticker)
	if err != nil {
		return 0, nil, err
	}
	orders, err := m.broker.GetOpenOrders(ctx, ticker)
	if err != nil {
		return 0, nil, err
	}
	m.logger.Info(ctx, "Opened positions", map[string]interface{}{"ticker": ticker, "netQty": netQty, "openOrders": len(orders)})
	return netQty, orders, nil
}

// CheckCurrentTrade reconciles the current trade with exchange state. If
// the net position went flat while the trade is locally open, a
// protective leg fired: the filled leg supplies the close price and
// reason, the surviving sibling is cancelled and the trade is closed.
// A trade stuck in closing, e.g. recovered after a restart mid-close,
// has its close sequence resumed instead.
func (m *TradeManager) CheckCurrentTrade(ctx context.Context) {
	op := "CheckCurrentTrade"
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.curTrade == nil {
		return
	}
	if m.curTrade.Status == domain.StatusClosing {
		m.resumeClose(ctx, m.curTrade)
		return
	}
	if m.curTrade.Status != domain.StatusBracketPlaced {
		return
	}
	trade := m.curTrade

	netQty, err := m.broker.GetNetPosition(ctx, trade.Ticker)
	if err != nil {
		m.logger.Warn(ctx, op+": Position check failed", map[string]interface{}{"ticker": trade.Ticker, "error": err.Error()})
		return
	}
	if netQty != 0 {
		m.logger.Debug(ctx, op+": Trade still open", map[string]interface{}{"tradeID": trade.ID, "netQty": netQty})
		return
	}

	// Position is flat: one protective leg filled. Find which.
	closeOrder, reason := m.findFilledProtectiveLeg(ctx, trade)

	// The sibling leg may still rest on the book.
	if openOrders, err := m.broker.GetOpenOrders(ctx, trade.Ticker); err == nil && len(openOrders) > 0 {
		if err := m.broker.CancelOpenOrders(ctx, trade.Ticker); err != nil {
			m.logger.Warn(ctx, op+": Failed to cancel surviving protective order", map[string]interface{}{"ticker": trade.Ticker, "error": err.Error()})
		}
	}

	if err := m.finalizeTrade(ctx, closeOrder, reason); err != nil {
		m.logger.Error(ctx, err, op+": Failed to finalize trade closed on exchange", map[string]interface{}{"tradeID": trade.ID})
	}
}

// resumeClose finishes a close sequence that never completed: any
// surviving orders are cancelled, a residual position is flattened and
// the trade is finalized. Errors leave the trade in closing for the next
// periodic check. Caller holds the lock.
func (m *TradeManager) resumeClose(ctx context.Context, trade *domain.Trade) {
	op := "resumeClose"

	orders, err := m.broker.GetOpenOrders(ctx, trade.Ticker)
	if err != nil {
		m.logger.Warn(ctx, op+": Open order check failed", map[string]interface{}{"ticker": trade.Ticker, "error": err.Error()})
		return
	}
	if len(orders) > 0 {
		if err := m.broker.CancelOpenOrders(ctx, trade.Ticker); err != nil {
			m.logger.Warn(ctx, op+": Failed to cancel surviving orders", map[string]interface{}{"ticker": trade.Ticker, "error": err.Error()})
			return
		}
	}

	netQty, err := m.broker.GetNetPosition(ctx, trade.Ticker)
	if err != nil {
		m.logger.Warn(ctx, op+": Position check failed", map[string]interface{}{"ticker": trade.Ticker, "error": err.Error()})
		return
	}

	var closeOrder *ports.OrderDetail
	if netQty != 0 {
		side := domain.Sell
		if netQty < 0 {
			side = domain.Buy
		}
		m.logger.Info(ctx, op+": Flattening residual position", map[string]interface{}{"ticker": trade.Ticker, "netQty": netQty, "side": side})
		closeOrder, err = m.broker.PlaceMarketOrder(ctx, trade.Ticker, side, math.Abs(netQty))
		if err != nil {
			m.logger.Error(ctx, err, op+": Failed to flatten residual position", map[string]interface{}{"ticker": trade.Ticker, "netQty": netQty})
			return
		}
	}

	if err := m.finalizeTrade(ctx, closeOrder, domain.CloseReasonManual); err != nil {
		m.logger.Error(ctx, err, op+": Failed to finalize resumed close", map[string]interface{}{"tradeID": trade.ID})
	}
}

// findFilledProtectiveLeg queries both protective orders by id and
// returns the filled one with its close reason. When neither can be
// confirmed the close is recorded with an unknown reason rather than
// guessed.
func (m *TradeManager) findFilledProtectiveLeg(ctx context.Context, trade *domain.Trade) (*ports.OrderDetail, domain.CloseReason) {
	op := "findFilledProtectiveLeg"
	slOrderID, tpOrderID := trade.ProtectiveOrderIDs()

	for _, leg := range []struct {
		orderID string
		reason  domain.CloseReason
	}{
		{slOrderID, domain.CloseReasonStopLoss},
		{tpOrderID, domain.CloseReasonTakeProfit},
	} {
		if leg.orderID == "" {
			continue
		}
		detail, err := m.broker.GetOrder(ctx, trade.Ticker, leg.orderID)
		if err != nil {
			m.logger.Warn(ctx, op+": Protective order lookup failed", map[string]interface{}{"orderID": leg.orderID, "error": err.Error()})
			continue
		}
		if detail != nil && detail.IsFilled {
			return detail, leg.reason
		}
	}
	m.logger.Warn(ctx, op+": Position flat but no filled protective leg found", map[string]interface{}{"tradeID": trade.ID})
	return nil, domain.CloseReasonUnknown
}
