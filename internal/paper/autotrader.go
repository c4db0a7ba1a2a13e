package paper

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// AutoConfig agrega persistencia y cierres automáticos al Trader.
// TakeProfitPct y StopLossPct son porcentajes (5 = 5%).
type AutoConfig struct {
	TakeProfitPct decimal.Decimal
	StopLossPct   decimal.Decimal
	StateFile     string
	AuditFile     string
	SnapshotsDir  string
	AutoSave      bool
	LogPrices     bool
}

// DefaultAutoConfig: TP 5%, SL 3%, archivos en el directorio actual.
func DefaultAutoConfig() AutoConfig {
	return AutoConfig{
		TakeProfitPct: decimal.NewFromInt(5),
		StopLossPct:   decimal.NewFromInt(3),
		StateFile:     "paper_trading_state.json",
		AuditFile:     "trade_audit.jsonl",
		SnapshotsDir:  "market_snapshots",
		AutoSave:      true,
		LogPrices:     true,
	}
}

// CloseReason es el motivo de un cierre automático.
type CloseReason string

const (
	TakeProfit CloseReason = "TAKE_PROFIT"
	StopLoss   CloseReason = "STOP_LOSS"
)

// AutoClose describe un cierre automático.
type AutoClose struct {
	PositionID string
	MarketID   string
	Reason     CloseReason
	PnL        decimal.Decimal
	PnLPct     decimal.Decimal
	Trade      TradeRecord
}

// AutoTrader envuelve un Trader con guardado atómico, audit log, snapshots
// diarios de precios y cierres por TP/SL.
type AutoTrader struct {
	*Trader
	cfg   AutoConfig
	audit jsonlWriter
	snaps jsonlWriter
}

// NewAutoTrader crea el wrapper. No lee el estado; ver Load.
func NewAutoTrader(t *Trader, cfg AutoConfig) *AutoTrader {
	return &AutoTrader{Trader: t, cfg: cfg}
}

// Config devuelve la configuración.
func (a *AutoTrader) Config() AutoConfig { return a.cfg }

// Load restaura el estado si el archivo existe.
func (a *AutoTrader) Load() error {
	st, ok, err := LoadState(a.cfg.StateFile)
	if err != nil {
		return err
	}
	if ok {
		a.Restore(st)
		slog.Info("paper state loaded", "file", a.cfg.StateFile,
			"balance", st.Balance.StringFixed(2), "positions", len(st.Positions))
	}
	return nil
}

// Save persiste el estado actual.
func (a *AutoTrader) Save() error {
	return SaveState(a.cfg.StateFile, a.Snapshot())
}

func (a *AutoTrader) autosave() error {
	if !a.cfg.AutoSave {
		return nil
	}
	return a.Save()
}

// Buy compra, registra audit y snapshot de precios y guarda el estado. Un
// fallo de audit o de guardado se loguea: la posición ya existe en el trader.
func (a *AutoTrader) Buy(market domain.Market, outcome Outcome, amountUSD decimal.Decimal, reason string) (Position, error) {
	pos, before, err := a.Trader.buy(market, outcome, amountUSD, reason)
	if err != nil {
		return Position{}, err
	}
	shares := pos.Shares
	if err := a.audit.append(a.cfg.AuditFile, AuditEntry{
		Timestamp:     pos.OpenedAt,
		Action:        ActionBuy,
		MarketID:      market.ID,
		Side:          outcome,
		Shares:        &shares,
		Price:         pos.EntryPrice,
		Reason:        reason,
		BalanceBefore: before,
		BalanceAfter:  before.Sub(pos.CostBasis),
	}); err != nil {
		slog.Error("paper: audit write failed", "market", market.ID, "position", pos.ID, "err", err)
	}
	if err := a.autosave(); err != nil {
		slog.Error("paper: state save failed", "file", a.cfg.StateFile, "position", pos.ID, "err", err)
	}
	if a.cfg.LogPrices {
		if err := a.LogPrices(market); err != nil {
			slog.Warn("paper: price snapshot failed", "market", market.ID, "err", err)
		}
	}
	return pos, nil
}

// Sell cierra una posición, guarda y registra la línea de audit.
func (a *AutoTrader) Sell(positionID, reason string) (TradeRecord, error) {
	before := a.Balance()
	rec, err := a.Trader.Sell(positionID, reason)
	if err != nil {
		return TradeRecord{}, err
	}
	if err := a.afterClose(rec, before); err != nil {
		return rec, fmt.Errorf("paper.AutoTrader.Sell: %w", err)
	}
	return rec, nil
}

func (a *AutoTrader) afterClose(rec TradeRecord, before decimal.Decimal) error {
	if err := a.autosave(); err != nil {
		return err
	}
	return a.auditClose(rec, before, a.Balance())
}

func (a *AutoTrader) auditClose(rec TradeRecord, before, after decimal.Decimal) error {
	shares, pnl := rec.Shares, rec.PnL
	cost := rec.Value.Sub(rec.Fee).Sub(rec.PnL)
	pct := domain.Div(pnl, cost).Mul(decimal.NewFromInt(100)).Round(4)
	if err := a.audit.append(a.cfg.AuditFile, AuditEntry{
		Timestamp:     rec.Timestamp,
		Action:        rec.Action,
		MarketID:      rec.MarketID,
		Side:          rec.Outcome,
		Shares:        &shares,
		Price:         rec.Price,
		PnL:           &pnl,
		PnLPct:        &pct,
		Reason:        rec.Reason,
		BalanceBefore: before,
		BalanceAfter:  after,
	}); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

// SettleMarket liquida el mercado resuelto y registra cada cierre.
func (a *AutoTrader) SettleMarket(marketID string, yesWins bool) ([]TradeRecord, error) {
	before := a.Balance()
	recs := a.Trader.SettleMarket(marketID, yesWins)
	for _, r := range recs {
		// El balance previo de cada línea encadena con el anterior.
		after := before.Add(r.Value)
		if err := a.auditClose(r, before, after); err != nil {
			return recs, fmt.Errorf("paper.AutoTrader.SettleMarket: %w", err)
		}
		before = after
	}
	if len(recs) > 0 {
		if err := a.autosave(); err != nil {
			return recs, fmt.Errorf("paper.AutoTrader.SettleMarket: %w", err)
		}
	}
	return recs, nil
}

// UpdateAndCheck refresca precios desde src y aplica TP/SL.
func (a *AutoTrader) UpdateAndCheck(ctx context.Context, src PriceSource) ([]AutoClose, error) {
	if err := a.UpdatePrices(ctx, src); err != nil {
		return nil, err
	}
	if err := a.autosave(); err != nil {
		return nil, fmt.Errorf("paper.UpdateAndCheck: %w", err)
	}
	return a.CheckExits()
}

// CheckExits cierra las posiciones cuyo PnL% cruzó TP o -SL.
func (a *AutoTrader) CheckExits() ([]AutoClose, error) {
	var out []AutoClose
	for _, p := range a.Positions() {
		pct := p.UnrealizedPct()
		var reason CloseReason
		switch {
		case pct.GreaterThanOrEqual(a.cfg.TakeProfitPct):
			reason = TakeProfit
		case pct.LessThanOrEqual(a.cfg.StopLossPct.Neg()):
			reason = StopLoss
		default:
			continue
		}
		msg := fmt.Sprintf("%s: %s%% vs %s%%", reason, pct.StringFixed(2), a.cfg.TakeProfitPct.StringFixed(2))
		if reason == StopLoss {
			msg = fmt.Sprintf("%s: %s%% vs -%s%%", reason, pct.StringFixed(2), a.cfg.StopLossPct.StringFixed(2))
		}
		slog.Info("paper auto-close", "reason", string(reason), "market", p.MarketID, "pnl_pct", pct.StringFixed(2))
		rec, err := a.Sell(p.ID, msg)
		if err != nil {
			return out, err
		}
		out = append(out, AutoClose{
			PositionID: p.ID,
			MarketID:   p.MarketID,
			Reason:     reason,
			PnL:        rec.PnL,
			PnLPct:     pct,
			Trade:      rec,
		})
	}
	return out, nil
}

// LogPrices agrega un snapshot del mercado al archivo del día.
func (a *AutoTrader) LogPrices(m domain.Market) error {
	snap := PriceSnapshot{
		Timestamp: time.Now().UTC(),
		MarketID:  m.ID,
		Question:  m.Question,
		YesPrice:  domain.Zero,
		NoPrice:   domain.Zero,
	}
	if t, ok := m.YesToken(); ok {
		snap.YesPrice = t.Price
	}
	if t, ok := m.NoToken(); ok {
		snap.NoPrice = t.Price
	}
	return a.snaps.append(SnapshotPath(a.cfg.SnapshotsDir, snap.Timestamp), snap)
}
