package ports

import (
	"context"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// PersistentStore persiste los trades ejecutados.
type PersistentStore interface {
	// SaveTrade persiste un fill. Es idempotente por Trade.ID.
	SaveTrade(ctx context.Context, trade domain.Trade) error

	// GetDailyStats devuelve las estadísticas del día UTC en curso.
	GetDailyStats(ctx context.Context) (domain.DailyStats, error)

	// GetTrades devuelve los trades registrados en el rango de tiempo dado.
	GetTrades(ctx context.Context, from, to time.Time) ([]domain.Trade, error)

	// Close cierra la conexión a la base de datos limpiamente.
	Close() error
}
