package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// MarketDataSource obtiene mercados y orderbooks del venue.
type MarketDataSource interface {
	// ListMarkets devuelve los mercados que pasan el filtro.
	ListMarkets(ctx context.Context, filter domain.MarketFilter) ([]domain.Market, error)

	// GetMarket devuelve un mercado por condition id.
	// Devuelve domain.ErrMarketNotFound si no existe.
	GetMarket(ctx context.Context, id string) (domain.Market, error)

	// GetBook devuelve el orderbook de un token.
	GetBook(ctx context.Context, tokenID string) (domain.OrderBook, error)

	// GetMidpoint devuelve el precio medio de un token.
	GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// TradeHistory obtiene trades recientes de un token (alimenta VPIN).
type TradeHistory interface {
	FetchTrades(ctx context.Context, tokenID string) ([]domain.TradeTick, error)
}
