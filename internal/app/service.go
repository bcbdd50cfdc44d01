package app

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bracketbot/internal/domain"
	"bracketbot/internal/metrics"
)

// Start runs the manager's background loop: state recovery, then a
// periodic current-trade status check until the context is cancelled.
func (m *TradeManager) Start(ctx context.Context) error {
	m.logger.Info(ctx, "Starting trade manager...")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Handle graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case sig := <-sigCh:
			m.logger.Info(ctx, "Received shutdown signal", map[string]interface{}{"signal": sig.String()})
			cancel()
		case <-ctx.Done():
		}
	}()

	// Clock sync matters for signed exchange requests and for the
	// timestamp-derived client order ids.
	if err := m.broker.SetServerTime(ctx); err != nil {
		m.logger.Error(ctx, err, "Failed to synchronize server time")
		return fmt.Errorf("failed to set server time: %w", err)
	}
	m.logger.Info(ctx, "Server time synchronized")

	if err := m.broker.Ping(ctx); err != nil {
		m.logger.Error(ctx, err, "Exchange is not reachable")
		return fmt.Errorf("exchange ping failed: %w", err)
	}

	if err := m.recoverState(ctx); err != nil {
		return err
	}

	m.logger.Info(ctx, "Starting periodic trade status checks", map[string]interface{}{"interval": m.cfg.CheckInterval.String()})
	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info(ctx, "Trade manager stopped.")
			return nil
		case <-ticker.C:
			m.CheckCurrentTrade(ctx)
		}
	}
}

// recoverState reloads the open trade, if any, from the repository after
// a restart. The periodic check then reconciles it against the exchange.
func (m *TradeManager) recoverState(ctx context.Context) error {
	m.logger.Info(ctx, "Synchronizing initial state...")
	openTrade, err := m.repo.FindOpenByTicker(ctx, m.cfg.Ticker)
	if err != nil {
		m.logger.Error(ctx, err, "Failed to check for existing open trade")
		return fmt.Errorf("failed to query open trade: %w", err)
	}
	if openTrade == nil {
		m.logger.Info(ctx, "No existing open trade found")
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	switch openTrade.Status {
	case domain.StatusBracketPlaced, domain.StatusClosing:
		m.curTrade = openTrade
		metrics.OpenTrades.Set(1)
		m.logger.Info(ctx, "Found existing open trade", map[string]interface{}{"trade": openTrade.String()})
	default:
		// entry_submitted / entry_filled records mean a previous sequence
		// died mid-flight; exchange state is authoritative and manual
		// reconciliation via GetOpenedPositions is required.
		m.logger.Warn(ctx, "Found incomplete trade record, not adopting it as current", map[string]interface{}{
			"tradeID": openTrade.ID, "status": openTrade.Status,
		})
	}
	return nil
}
