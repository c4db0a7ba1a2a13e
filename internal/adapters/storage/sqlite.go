// Package storage persiste los trades del bot en SQLite (pure Go, sin CGo).
package storage

// sqlite.go: registro de trades.
//
//   - `trades`: una fila por fill, clave = Trade.ID. Reinsertar el mismo ID no
//     duplica (INSERT OR IGNORE), así el motor puede reintentar sin miedo.
//   - Los importes se guardan como TEXT decimal para no perder precisión.
//   - Prune al arrancar: trades más viejos que la retención configurada.

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS trades (
    id         TEXT PRIMARY KEY,
    order_id   TEXT NOT NULL DEFAULT '',
    token_id   TEXT NOT NULL,
    market_id  TEXT NOT NULL DEFAULT '',
    side       TEXT NOT NULL,
    price      TEXT NOT NULL,
    size       TEXT NOT NULL,
    fee        TEXT NOT NULL DEFAULT '0',
    pnl        TEXT NOT NULL DEFAULT '0',
    ts         INTEGER NOT NULL  -- unix nanos UTC
);

CREATE INDEX IF NOT EXISTS idx_trades_ts     ON trades(ts);
CREATE INDEX IF NOT EXISTS idx_trades_market ON trades(market_id);
`

// DefaultRetention es cuánto se conservan los trades.
const DefaultRetention = 365 * 24 * time.Hour

// SQLiteStorage implementa ports.PersistentStore.
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStorage abre (o crea) la base de datos en path. ":memory:" sirve para tests.
func NewSQLiteStorage(path string) (*SQLiteStorage, error) {
	return NewSQLiteStorageWithRetention(path, DefaultRetention)
}

// NewSQLiteStorageWithRetention abre la base y borra los trades más viejos que
// retention. retention <= 0 no borra nada.
func NewSQLiteStorageWithRetention(path string, retention time.Duration) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.Errorf(domain.KindConfig, "storage.NewSQLiteStorage", "open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // SQLite es single-writer
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, domain.Errorf(domain.KindConfig, "storage.NewSQLiteStorage", "apply schema: %w", err)
	}

	s := &SQLiteStorage{db: db, now: time.Now}
	if retention > 0 {
		s.pruneOld(context.Background(), retention)
	}
	return s, nil
}

// SaveTrade persiste un fill. Idempotente por Trade.ID.
func (s *SQLiteStorage) SaveTrade(ctx context.Context, t domain.Trade) error {
	if t.ID == "" {
		return domain.Errorf(domain.KindInternal, "storage.SaveTrade", "trade without id: %w", domain.ErrInvalidInput)
	}
	ts := t.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO trades (id, order_id, token_id, market_id, side, price, size, fee, pnl, ts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.OrderID, t.TokenID, t.MarketID, t.Side.String(),
		t.Price.String(), t.Size.String(), t.Fee.String(), t.PnL.String(),
		ts.UTC().UnixNano(),
	)
	if err != nil {
		return domain.Errorf(domain.KindInternal, "storage.SaveTrade", "insert %s: %w", t.ID, err)
	}
	return nil
}

// GetTrades devuelve los trades con timestamp en [from, to), en orden cronológico.
func (s *SQLiteStorage) GetTrades(ctx context.Context, from, to time.Time) ([]domain.Trade, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, order_id, token_id, market_id, side, price, size, fee, pnl, ts
		FROM trades
		WHERE ts >= ? AND ts < ?
		ORDER BY ts ASC, id ASC
	`, from.UTC().UnixNano(), to.UTC().UnixNano())
	if err != nil {
		return nil, domain.Errorf(domain.KindInternal, "storage.GetTrades", "query: %w", err)
	}
	defer rows.Close()

	var trades []domain.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, domain.Errorf(domain.KindInternal, "storage.GetTrades", "scan row: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// GetDailyStats devuelve las estadísticas del día UTC en curso.
func (s *SQLiteStorage) GetDailyStats(ctx context.Context) (domain.DailyStats, error) {
	now := s.now().UTC()
	start := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	trades, err := s.GetTrades(ctx, start, start.Add(24*time.Hour))
	if err != nil {
		return domain.DailyStats{}, fmt.Errorf("storage.GetDailyStats: %w", err)
	}
	return domain.StatsForDay(start, trades), nil
}

// Close cierra la conexión a la base de datos.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// --- helpers internos ---

func scanTrade(rows *sql.Rows) (domain.Trade, error) {
	var (
		t                     domain.Trade
		side                  string
		price, size, fee, pnl string
		ts                    int64
	)
	if err := rows.Scan(&t.ID, &t.OrderID, &t.TokenID, &t.MarketID, &side, &price, &size, &fee, &pnl, &ts); err != nil {
		return t, err
	}
	var err error
	if t.Side, err = domain.ParseSide(side); err != nil {
		return t, err
	}
	for _, f := range []struct {
		dst *decimal.Decimal
		src string
	}{{&t.Price, price}, {&t.Size, size}, {&t.Fee, fee}, {&t.PnL, pnl}} {
		if *f.dst, err = decimal.NewFromString(f.src); err != nil {
			return t, err
		}
	}
	t.Timestamp = time.Unix(0, ts).UTC()
	return t, nil
}

// pruneOld elimina trades antiguos para mantener la DB ligera.
func (s *SQLiteStorage) pruneOld(ctx context.Context, retention time.Duration) {
	cutoff := s.now().UTC().Add(-retention).UnixNano()
	res, err := s.db.ExecContext(ctx, `DELETE FROM trades WHERE ts < ?`, cutoff)
	if err != nil {
		slog.Warn("prune old trades failed", "err", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		slog.Info("pruned old trades", "rows", n)
	}
}
