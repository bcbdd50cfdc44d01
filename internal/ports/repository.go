package ports

import (
	"context"

	"bracketbot/internal/domain"
)

// TradeRepository defines the durable store for trade records. Saves are
// committed synchronously inside the locked trade sequence, before the
// manager reports success to the caller.
type TradeRepository interface {
	// Create inserts a new trade and returns its assigned ID.
	Create(ctx context.Context, trade *domain.Trade) (int64, error)
	// Update modifies an existing trade by ID.
	Update(ctx context.Context, trade *domain.Trade) error
	// FindOpenByTicker retrieves the currently open trade for a ticker.
	// Returns nil, nil when no open trade exists.
	FindOpenByTicker(ctx context.Context, ticker string) (*domain.Trade, error)
	// FindByID retrieves a trade by ID. Returns nil, nil when not found.
	FindByID(ctx context.Context, id int64) (*domain.Trade, error)
	// FindAll retrieves all trades, most recently opened first.
	FindAll(ctx context.Context) ([]*domain.Trade, error)
	// TotalProfit sums realized profit over all closed trades.
	TotalProfit(ctx context.Context) (float64, error)
}
