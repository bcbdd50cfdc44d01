package ports

import "errors"

// Standard application-level errors.
// Adapters and the trade manager wrap underlying errors onto these
// sentinels; callers discriminate with errors.Is.
var (
	// Lifecycle errors. ErrValidation and ErrConcurrencyConflict are
	// rejected before any exchange call is made, so the caller may retry
	// freely. ErrOrphanedPosition means the exchange holds a live position
	// that local state does not durably reflect; blind retry is unsafe and
	// reconciliation via GetOpenedPositions is required.
	ErrValidation          = errors.New("invalid request parameters")
	ErrConcurrencyConflict = errors.New("another trade sequence is in flight")
	ErrExchangeRejected    = errors.New("exchange rejected the request")
	ErrExchangeProtocol    = errors.New("unexpected exchange response")
	ErrPersistence         = errors.New("trade record could not be committed")
	ErrOrphanedPosition    = errors.New("exchange position is open but not durably recorded")
	ErrTradingDisabled     = errors.New("trading is disabled")

	// Transport / exchange infrastructure errors.
	ErrTimeout              = errors.New("operation timed out")
	ErrContextCanceled      = errors.New("operation canceled via context")
	ErrExchangeUnavailable  = errors.New("exchange API is unavailable")
	ErrConnectionFailed     = errors.New("failed to connect to the exchange")
	ErrRateLimited          = errors.New("API rate limit exceeded")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInvalidAPIKeys       = errors.New("invalid API keys or permissions")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderPlacementFailed = errors.New("failed to place order")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// Database errors.
	ErrNotFound     = errors.New("resource not found")
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)
