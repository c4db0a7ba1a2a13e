package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/alejandrodnm/polyedge/internal/domain"
	"github.com/alejandrodnm/polyedge/internal/paper"
	"github.com/alejandrodnm/polyedge/internal/sizing"
)

// DailyStatsFrom resume los trades de un día UTC.
func DailyStatsFrom(day time.Time, trades []domain.Trade) domain.DailyStats {
	return domain.StatsForDay(day, trades)
}

// maybeDailyReport envía el reporte del día anterior al cambiar el día UTC.
func (r *Runner) maybeDailyReport(ctx context.Context) {
	today := utcDay(r.now())
	r.mu.Lock()
	prev := r.reportDay
	if !today.After(prev) {
		r.mu.Unlock()
		return
	}
	r.reportDay = today
	r.mu.Unlock()

	if err := r.SendDailyReport(ctx, prev); err != nil {
		slog.Warn("daily report failed", "day", prev.Format("2006-01-02"), "err", err)
	}
}

// SendDailyReport arma el resumen de day desde el store y lo notifica.
func (r *Runner) SendDailyReport(ctx context.Context, day time.Time) error {
	from := utcDay(day)
	trades, err := r.d.Store.GetTrades(ctx, from, from.Add(24*time.Hour))
	if err != nil {
		return err
	}
	stats := DailyStatsFrom(from, trades)
	balance := r.cfg.DryRunBalance
	if b, err := r.balance(ctx); err == nil {
		balance = b
	}
	slog.Info("daily report",
		"day", from.Format("2006-01-02"),
		"trades", stats.Trades,
		"pnl", stats.RealizedPnL.StringFixed(2),
		"win_rate", stats.WinRate(),
	)
	return r.d.Notifier.DailyReport(ctx, stats, balance)
}

// StatusReport es lo que expone /status.
type StatusReport struct {
	Mode     string                `json:"mode"`
	State    Status                `json:"state"`
	Compound *sizing.CompoundStats `json:"compound,omitempty"`
	Paper    *paper.Summary        `json:"paper,omitempty"`
	Arb      any                   `json:"cross_arb,omitempty"`
	Breaker  bool                  `json:"circuit_open"`
	Time     time.Time             `json:"time"`
}

// Status devuelve la foto del bot sin tocar la red.
func (r *Runner) Status() StatusReport {
	st := StatusReport{
		Mode:    r.d.Executor.Mode().String(),
		State:   r.d.State.Snapshot(),
		Breaker: r.d.Breaker == nil || r.d.Breaker.IsOpen(),
		Time:    r.now().UTC(),
	}
	if r.d.Compounder != nil {
		cs := r.d.Compounder.Stats()
		st.Compound = &cs
	}
	if r.d.Paper != nil {
		ps := r.d.Paper.Summary()
		st.Paper = &ps
	}
	if r.d.Arb != nil && r.d.Arb.Stats() != nil {
		st.Arb = r.d.Arb.Stats().Snapshot()
	}
	return st
}
