package sqlite

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"bracketbot/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockLogger implements ports.Logger for testing
type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

// setupTestDB creates a temporary database for testing
func setupTestDB(t *testing.T) (*Repository, func()) {
	t.Helper()

	tmpDir, err := os.MkdirTemp("", "bracketbot-test-*")
	require.NoError(t, err)

	dbPath := filepath.Join(tmpDir, "test.db")
	repo, err := NewRepository(Config{
		DBPath: dbPath,
		Logger: &mockLogger{},
	})
	require.NoError(t, err)

	cleanup := func() {
		repo.Close()
		os.RemoveAll(tmpDir)
	}

	return repo, cleanup
}

func newTestTrade() *domain.Trade {
	return &domain.Trade{
		Ticker:          "BTCUSDT",
		Side:            domain.Buy,
		Status:          domain.StatusBracketPlaced,
		OpenTime:        time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		OpenPrice:       30000.0,
		OpenOrderID:     "1001",
		Quantity:        0.5,
		StopLossPrice:   29700.0,
		TakeProfitPrice: 30600.0,
		StopLossOrderID: "2001,2002",
	}
}

func TestRepository_CreateAndFindByID(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trade := newTestTrade()
	id, err := repo.Create(ctx, trade)
	require.NoError(t, err)
	require.NotZero(t, id)
	assert.Equal(t, id, trade.ID)

	found, err := repo.FindByID(ctx, id)
	require.NoError(t, err)
	require.NotNil(t, found)

	assert.Equal(t, trade.Ticker, found.Ticker)
	assert.Equal(t, trade.Side, found.Side)
	assert.Equal(t, trade.Status, found.Status)
	assert.Equal(t, trade.OpenPrice, found.OpenPrice)
	assert.Equal(t, trade.OpenOrderID, found.OpenOrderID)
	assert.Equal(t, trade.Quantity, found.Quantity)
	assert.Equal(t, trade.StopLossPrice, found.StopLossPrice)
	assert.Equal(t, trade.TakeProfitPrice, found.TakeProfitPrice)

	// The composite protective order token must survive the round trip intact.
	assert.Equal(t, "2001,2002", found.StopLossOrderID)
	sl, tp := found.ProtectiveOrderIDs()
	assert.Equal(t, "2001", sl)
	assert.Equal(t, "2002", tp)

	assert.True(t, found.CloseTime.IsZero())
	assert.Zero(t, found.ClosePrice)
}

func TestRepository_FindByID_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	found, err := repo.FindByID(context.Background(), 9999)
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepository_FindOpenByTicker(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// No trades yet.
	found, err := repo.FindOpenByTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, found)

	trade := newTestTrade()
	_, err = repo.Create(ctx, trade)
	require.NoError(t, err)

	found, err = repo.FindOpenByTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, trade.ID, found.ID)

	// Other tickers stay invisible.
	found, err = repo.FindOpenByTicker(ctx, "ETHUSDT")
	require.NoError(t, err)
	assert.Nil(t, found)

	// Once closed the trade no longer counts as open.
	trade.Status = domain.StatusClosed
	trade.CloseTime = trade.OpenTime.Add(time.Hour)
	trade.ClosePrice = 30600.0
	trade.CloseOrderID = "2002"
	trade.CloseReason = domain.CloseReasonTakeProfit
	require.NoError(t, repo.Update(ctx, trade))

	found, err = repo.FindOpenByTicker(ctx, "BTCUSDT")
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestRepository_Update(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	trade := newTestTrade()
	_, err := repo.Create(ctx, trade)
	require.NoError(t, err)

	trade.Status = domain.StatusClosed
	trade.CloseTime = time.Date(2024, 5, 1, 14, 30, 0, 0, time.UTC)
	trade.ClosePrice = 29700.0
	trade.CloseOrderID = "2001"
	trade.CloseReason = domain.CloseReasonStopLoss
	require.NoError(t, repo.Update(ctx, trade))

	found, err := repo.FindByID(ctx, trade.ID)
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, domain.StatusClosed, found.Status)
	assert.Equal(t, 29700.0, found.ClosePrice)
	assert.Equal(t, "2001", found.CloseOrderID)
	assert.Equal(t, domain.CloseReasonStopLoss, found.CloseReason)
	assert.False(t, found.CloseTime.IsZero())
	assert.InDelta(t, trade.Profit(), found.Profit(), 1e-9)
}

func TestRepository_Update_NotFound(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()

	trade := newTestTrade()
	trade.ID = 4242
	err := repo.Update(context.Background(), trade)
	require.Error(t, err)
}

func TestRepository_FindAllAndTotalProfit(t *testing.T) {
	repo, cleanup := setupTestDB(t)
	defer cleanup()
	ctx := context.Background()

	// Closed long: (30600 - 30000) * 0.5 = +300
	long := newTestTrade()
	long.Status = domain.StatusClosed
	long.CloseTime = long.OpenTime.Add(time.Hour)
	long.ClosePrice = 30600.0
	long.CloseReason = domain.CloseReasonTakeProfit
	_, err := repo.Create(ctx, long)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, long))

	// Closed short: (29000 - 30000) * 0.5 * -1 = +500
	short := newTestTrade()
	short.Side = domain.Sell
	short.StopLossPrice = 30300.0
	short.TakeProfitPrice = 29400.0
	short.OpenTime = long.OpenTime.Add(2 * time.Hour)
	short.Status = domain.StatusClosed
	short.CloseTime = short.OpenTime.Add(time.Hour)
	short.ClosePrice = 29000.0
	short.CloseReason = domain.CloseReasonTakeProfit
	_, err = repo.Create(ctx, short)
	require.NoError(t, err)
	require.NoError(t, repo.Update(ctx, short))

	// Still open, must not count towards profit.
	open := newTestTrade()
	open.OpenTime = short.OpenTime.Add(2 * time.Hour)
	_, err = repo.Create(ctx, open)
	require.NoError(t, err)

	all, err := repo.FindAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	// Most recently opened first.
	assert.Equal(t, open.ID, all[0].ID)
	assert.Equal(t, short.ID, all[1].ID)
	assert.Equal(t, long.ID, all[2].ID)

	total, err := repo.TotalProfit(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 800.0, total, 1e-9)
}
