package ports

import (
	"context"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Los streams devuelven un canal que se cierra cuando ctx se cancela.
// El productor es dueño del canal; el consumidor solo lee.

// PriceStream es un feed infinito de precios.
type PriceStream interface {
	Prices(ctx context.Context) (<-chan domain.PriceTick, error)
}

// TradeStream es un feed infinito de trades.
type TradeStream interface {
	Trades(ctx context.Context) (<-chan domain.TradeTick, error)
}

// SignalSource es un feed infinito de mensajes sociales crudos.
type SignalSource interface {
	Signals(ctx context.Context) (<-chan domain.RawSignal, error)
}
