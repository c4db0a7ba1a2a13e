package ports

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Notifier informa al operador. Es best-effort: sus errores se loguean
// y nunca hacen fallar un trade.
type Notifier interface {
	Send(ctx context.Context, text string) error
	SignalFound(ctx context.Context, market domain.Market, signal domain.Signal) error
	TradeExecuted(ctx context.Context, trade domain.Trade) error
	DailyReport(ctx context.Context, stats domain.DailyStats, balance decimal.Decimal) error
	RiskAlert(ctx context.Context, reason string) error
	Error(ctx context.Context, err error) error
}
