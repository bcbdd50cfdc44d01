package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"bracketbot/internal/domain"
	"bracketbot/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.TradeRepository interface using SQLite.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/trades.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Set connection pool settings (important for SQLite)
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	cfg.Logger.Info(context.Background(), "SQLite database connection established", map[string]interface{}{"path": dbPath})

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker TEXT NOT NULL,
		side TEXT NOT NULL,
		status TEXT NOT NULL,
		open_time TIMESTAMP NOT NULL,
		open_price REAL NOT NULL,
		open_order_id TEXT NOT NULL,
		quantity REAL NOT NULL,
		stop_loss_price REAL DEFAULT NULL,
		take_profit_price REAL DEFAULT NULL,
		stop_loss_order_id TEXT DEFAULT NULL,
		close_time TIMESTAMP DEFAULT NULL,
		close_price REAL DEFAULT NULL,
		close_order_id TEXT DEFAULT NULL,
		close_reason TEXT DEFAULT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_trades_ticker_status ON trades (ticker, status);
	CREATE INDEX IF NOT EXISTS idx_trades_open_time ON trades (open_time);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing SQLite database connection")
		return r.db.Close()
	}
	return nil
}

const tradeColumns = `id, ticker, side, status, open_time, open_price, open_order_id, quantity,
	       COALESCE(stop_loss_price, 0), COALESCE(take_profit_price, 0), COALESCE(stop_loss_order_id, ''),
	       close_time, COALESCE(close_price, 0), COALESCE(close_order_id, ''), close_reason`

// Create saves a new trade and returns its assigned ID.
func (r *Repository) Create(ctx context.Context, trade *domain.Trade) (int64, error) {
	const query = `
	INSERT INTO trades (ticker, side, status, open_time, open_price, open_order_id, quantity,
	                    stop_loss_price, take_profit_price, stop_loss_order_id)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	result, err := r.db.ExecContext(ctx, query,
		trade.Ticker, trade.Side, trade.Status, trade.OpenTime, trade.OpenPrice, trade.OpenOrderID,
		trade.Quantity, trade.StopLossPrice, trade.TakeProfitPrice, trade.StopLossOrderID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade for ticker %s: %w", trade.Ticker, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for trade %s: %w", trade.Ticker, err)
	}
	trade.ID = id // Update the domain object with the ID
	r.logger.Debug(ctx, "Trade created", map[string]interface{}{"tradeID": id, "ticker": trade.Ticker})
	return id, nil
}

// Update modifies an existing trade based on its ID.
func (r *Repository) Update(ctx context.Context, trade *domain.Trade) error {
	const query = `
	UPDATE trades
	SET ticker = ?, side = ?, status = ?, open_time = ?, open_price = ?, open_order_id = ?,
	    quantity = ?, stop_loss_price = ?, take_profit_price = ?, stop_loss_order_id = ?,
	    close_time = ?, close_price = ?, close_order_id = ?, close_reason = ?
	WHERE id = ?`

	var closeTime sql.NullTime
	if !trade.CloseTime.IsZero() {
		closeTime = sql.NullTime{Time: trade.CloseTime, Valid: true}
	}
	var closeReason sql.NullString
	if trade.CloseReason != "" {
		closeReason = sql.NullString{String: string(trade.CloseReason), Valid: true}
	}

	result, err := r.db.ExecContext(ctx, query,
		trade.Ticker, trade.Side, trade.Status, trade.OpenTime, trade.OpenPrice, trade.OpenOrderID,
		trade.Quantity, trade.StopLossPrice, trade.TakeProfitPrice, trade.StopLossOrderID,
		closeTime, trade.ClosePrice, trade.CloseOrderID, closeReason,
		trade.ID)
	if err != nil {
		return fmt.Errorf("failed to update trade ID %d: %w", trade.ID, err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected for update trade ID %d: %w", trade.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("trade ID %d not found for update: %w", trade.ID, ports.ErrNotFound)
	}
	r.logger.Debug(ctx, "Trade updated", map[string]interface{}{"tradeID": trade.ID, "ticker": trade.Ticker, "status": trade.Status})
	return nil
}

// FindOpenByTicker retrieves the currently open trade for a given ticker, if any.
// Any trade that has not reached the closed status counts as open.
func (r *Repository) FindOpenByTicker(ctx context.Context, ticker string) (*domain.Trade, error) {
	query := `
	SELECT ` + tradeColumns + `
	FROM trades
	WHERE ticker = ? AND status != ?
	ORDER BY open_time DESC LIMIT 1`

	row := r.db.QueryRowContext(ctx, query, ticker, domain.StatusClosed)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "No open trade found for ticker", map[string]interface{}{"ticker": ticker})
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query open trade for ticker %s: %w", ticker, err)
	}
	return trade, nil
}

// FindByID retrieves a trade by its unique ID.
func (r *Repository) FindByID(ctx context.Context, id int64) (*domain.Trade, error) {
	query := `
	SELECT ` + tradeColumns + `
	FROM trades
	WHERE id = ?`

	row := r.db.QueryRowContext(ctx, query, id)
	trade, err := scanTrade(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.logger.Debug(ctx, "Trade not found by ID", map[string]interface{}{"tradeID": id})
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query trade by ID %d: %w", id, err)
	}
	return trade, nil
}

// FindAll retrieves all trades, ordered by open time descending.
func (r *Repository) FindAll(ctx context.Context) ([]*domain.Trade, error) {
	query := `
	SELECT ` + tradeColumns + `
	FROM trades
	ORDER BY open_time DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query all trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Trade, 0)
	for rows.Next() {
		trade, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade during FindAll: %w", err)
		}
		trades = append(trades, trade)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

// TotalProfit calculates the sum of realized profit over all closed trades.
func (r *Repository) TotalProfit(ctx context.Context) (float64, error) {
	const query = `
	SELECT COALESCE(SUM((close_price - open_price) * quantity * CASE side WHEN 'SELL' THEN -1 ELSE 1 END), 0)
	FROM trades WHERE status = ?`
	var totalProfit float64
	err := r.db.QueryRowContext(ctx, query, domain.StatusClosed).Scan(&totalProfit)
	if err != nil {
		return 0, fmt.Errorf("failed to calculate total profit: %w", err)
	}
	return totalProfit, nil
}

// scanner defines an interface compatible with *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanTrade scans a row into a domain.Trade struct.
func scanTrade(s scanner) (*domain.Trade, error) {
	t := &domain.Trade{}
	var side, status string
	var closeTime sql.NullTime
	var closeReason sql.NullString
	err := s.Scan(
		&t.ID, &t.Ticker, &side, &status, &t.OpenTime, &t.OpenPrice, &t.OpenOrderID, &t.Quantity,
		&t.StopLossPrice, &t.TakeProfitPrice, &t.StopLossOrderID,
		&closeTime, &t.ClosePrice, &t.CloseOrderID, &closeReason)
	if err != nil {
		return nil, err // Handle sql.ErrNoRows in the caller
	}
	t.Side = domain.OrderSide(side)
	t.Status = domain.TradeStatus(status)
	if closeTime.Valid {
		t.CloseTime = closeTime.Time
	}
	if closeReason.Valid {
		t.CloseReason = domain.CloseReason(closeReason.String)
	}
	return t, nil
}
