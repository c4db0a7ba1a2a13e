package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// OrderVenue places, cancels, and monitors orders on a trading venue.
type OrderVenue interface {
	// Health returns true if the venue is reachable and accepting orders.
	Health(ctx context.Context) bool

	// Balance returns the available collateral balance.
	Balance(ctx context.Context) (decimal.Decimal, error)

	// PlaceOrder signs and submits an order.
	PlaceOrder(ctx context.Context, order domain.Order) (domain.OrderStatus, error)

	// CancelOrder cancels a specific order by its venue id.
	CancelOrder(ctx context.Context, orderID string) error

	// GetOrder returns the current status of an order.
	GetOrder(ctx context.Context, orderID string) (domain.OrderStatus, error)

	// ListOpenOrders returns all open or partially filled orders.
	ListOpenOrders(ctx context.Context) ([]domain.OrderStatus, error)

	// Positions returns the current open positions.
	Positions(ctx context.Context) ([]domain.Position, error)
}

// MergeExecutor executes on-chain CTF merge transactions.
type MergeExecutor interface {
	// MergePositions merges amount complete sets (one token of each outcome) into USDC.e.
	MergePositions(ctx context.Context, conditionID string, amount decimal.Decimal, negRisk bool) (domain.MergeResult, error)
}
