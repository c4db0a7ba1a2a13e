// Package paper simula ejecución contra precios reales de mercado: balance,
// posiciones, historial, cierres automáticos por TP/SL y persistencia.
package paper

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alejandrodnm/polyedge/internal/domain"
)

// Outcome es el lado binario que se compra.
type Outcome string

const (
	Yes Outcome = "YES"
	No  Outcome = "NO"
)

// ParseOutcome acepta yes/no/up/down.
func ParseOutcome(s string) (Outcome, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "YES", "UP":
		return Yes, nil
	case "NO", "DOWN":
		return No, nil
	}
	return Yes, fmt.Errorf("paper.ParseOutcome: %q: %w", s, domain.ErrInvalidInput)
}

// Action identifica el tipo de registro del historial.
type Action string

const (
	ActionBuy    Action = "BUY"
	ActionSell   Action = "SELL"
	ActionSettle Action = "SETTLE"
)

// Position es una posición simulada abierta. CostBasis incluye la comisión de entrada.
type Position struct {
	ID            string          `json:"id"`
	MarketID      string          `json:"market_id"`
	Question      string          `json:"question"`
	TokenID       string          `json:"token_id"`
	Outcome       Outcome         `json:"outcome"`
	Shares        decimal.Decimal `json:"shares"`
	EntryPrice    decimal.Decimal `json:"entry_price"`
	CurrentPrice  decimal.Decimal `json:"current_price"`
	CostBasis     decimal.Decimal `json:"cost_basis"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	Reason        string          `json:"reason"`
	OpenedAt      time.Time       `json:"opened_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Value devuelve shares × precio actual.
func (p Position) Value() decimal.Decimal {
	return p.Shares.Mul(p.CurrentPrice)
}

// UnrealizedPct devuelve el PnL no realizado como % del costo.
func (p Position) UnrealizedPct() decimal.Decimal {
	return domain.Div(p.UnrealizedPnL, p.CostBasis).Mul(decimal.NewFromInt(100))
}

func (p *Position) mark(price decimal.Decimal, now time.Time) {
	p.CurrentPrice = price
	p.UnrealizedPnL = p.Value().Sub(p.CostBasis)
	p.UpdatedAt = now
}

// TradeRecord es una entrada del historial. PnL es cero en compras.
type TradeRecord struct {
	ID         string          `json:"id"`
	PositionID string          `json:"position_id"`
	MarketID   string          `json:"market_id"`
	Question   string          `json:"question"`
	TokenID    string          `json:"token_id"`
	Outcome    Outcome         `json:"outcome"`
	Action     Action          `json:"action"`
	Shares     decimal.Decimal `json:"shares"`
	Price      decimal.Decimal `json:"price"`
	Value      decimal.Decimal `json:"value"`
	Fee        decimal.Decimal `json:"fee"`
	PnL        decimal.Decimal `json:"pnl"`
	Reason     string          `json:"reason"`
	Timestamp  time.Time       `json:"timestamp"`
}

// Trade convierte el registro al tipo que persiste el store.
func (r TradeRecord) Trade() domain.Trade {
	side := domain.Buy
	if r.Action != ActionBuy {
		side = domain.Sell
	}
	return domain.Trade{
		ID:        r.ID,
		OrderID:   r.PositionID,
		TokenID:   r.TokenID,
		MarketID:  r.MarketID,
		Side:      side,
		Price:     r.Price,
		Size:      r.Shares,
		Fee:       r.Fee,
		PnL:       r.PnL,
		Timestamp: r.Timestamp,
	}
}

// Config parametriza el trader. FeeRate y Slippage son fracciones.
type Config struct {
	InitialBalance decimal.Decimal
	FeeRate        decimal.Decimal
	Slippage       decimal.Decimal
}

// DefaultConfig: $1000 sin comisiones ni slippage.
func DefaultConfig() Config {
	return Config{InitialBalance: decimal.NewFromInt(1000)}
}

// Summary resume el estado de la cuenta.
type Summary struct {
	InitialBalance decimal.Decimal
	Cash           decimal.Decimal
	PositionsValue decimal.Decimal
	TotalValue     decimal.Decimal
	RealizedPnL    decimal.Decimal
	UnrealizedPnL  decimal.Decimal
	TotalPnL       decimal.Decimal
	ROIPct         decimal.Decimal
	FeesPaid       decimal.Decimal
	Trades         int
	Wins           int
	Losses         int
	Breakeven      int
	OpenPositions  int
	UpdatedAt      time.Time
}

// WinRate devuelve wins/(wins+losses); los cierres en cero no cuentan.
func (s Summary) WinRate() float64 {
	if s.Wins+s.Losses == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Wins+s.Losses)
}

// PriceSource devuelve el precio medio de un token. ports.MarketDataSource lo cumple.
type PriceSource interface {
	GetMidpoint(ctx context.Context, tokenID string) (decimal.Decimal, error)
}

// Trader mantiene la cuenta simulada. Todo el estado vive detrás de un único mutex.
type Trader struct {
	cfg Config
	now func() time.Time

	mu        sync.Mutex
	balance   decimal.Decimal
	positions map[string]*Position
	history   []TradeRecord
	feesPaid  decimal.Decimal
}

// NewTrader crea una cuenta con el balance inicial.
func NewTrader(cfg Config) *Trader {
	return &Trader{
		cfg:       cfg,
		now:       time.Now,
		balance:   cfg.InitialBalance,
		positions: make(map[string]*Position),
	}
}

// Buy compra amountUSD del outcome al precio del token (más slippage).
// La comisión se cobra encima del monto.
func (t *Trader) Buy(market domain.Market, outcome Outcome, amountUSD decimal.Decimal, reason string) (Position, error) {
	pos, _, err := t.buy(market, outcome, amountUSD, reason)
	return pos, err
}

// buy abre la posición y devuelve además el balance previo, leído bajo el lock.
func (t *Trader) buy(market domain.Market, outcome Outcome, amountUSD decimal.Decimal, reason string) (Position, decimal.Decimal, error) {
	if !amountUSD.IsPositive() {
		return Position{}, domain.Zero, domain.E(domain.KindExecution, "paper.Buy", domain.ErrZeroSize)
	}
	tok, ok := tokenFor(market, outcome)
	if !ok {
		return Position{}, domain.Zero, domain.Errorf(domain.KindMarketNotFound, "paper.Buy", "market %s has no %s token: %w", market.ID, outcome, domain.ErrMarketNotFound)
	}
	if !tok.Price.IsPositive() || tok.Price.GreaterThanOrEqual(domain.One) {
		return Position{}, domain.Zero, domain.Errorf(domain.KindExecution, "paper.Buy", "price %s: %w", tok.Price, domain.ErrInvalidPrice)
	}
	price := tok.Price.Mul(domain.One.Add(t.cfg.Slippage))
	fee := amountUSD.Mul(t.cfg.FeeRate)
	cost := amountUSD.Add(fee)

	t.mu.Lock()
	defer t.mu.Unlock()
	if cost.GreaterThan(t.balance) {
		return Position{}, domain.Zero, domain.Errorf(domain.KindExecution, "paper.Buy", "need %s, have %s: %w", cost.StringFixed(2), t.balance.StringFixed(2), domain.ErrInsufficientBalance)
	}

	now := t.now()
	pos := &Position{
		ID:         uuid.NewString(),
		MarketID:   market.ID,
		Question:   market.Question,
		TokenID:    tok.TokenID,
		Outcome:    outcome,
		Shares:     domain.Div(amountUSD, price),
		EntryPrice: price,
		CostBasis:  cost,
		Reason:     reason,
		OpenedAt:   now,
	}
	pos.mark(tok.Price, now)

	before := t.balance
	t.balance = t.balance.Sub(cost)
	t.feesPaid = t.feesPaid.Add(fee)
	t.positions[pos.ID] = pos
	t.history = append(t.history, TradeRecord{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Question:   pos.Question,
		TokenID:    pos.TokenID,
		Outcome:    outcome,
		Action:     ActionBuy,
		Shares:     pos.Shares,
		Price:      price,
		Value:      amountUSD,
		Fee:        fee,
		PnL:        domain.Zero,
		Reason:     reason,
		Timestamp:  now,
	})
	return *pos, before, nil
}

func tokenFor(m domain.Market, o Outcome) (domain.Token, bool) {
	if o == Yes {
		return m.YesToken()
	}
	return m.NoToken()
}

// Sell cierra la posición al precio actual menos slippage y comisión.
func (t *Trader) Sell(positionID, reason string) (TradeRecord, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	pos, ok := t.positions[positionID]
	if !ok {
		return TradeRecord{}, domain.Errorf(domain.KindExecution, "paper.Sell", "position %s: %w", positionID, domain.ErrPositionNotFound)
	}
	price := pos.CurrentPrice.Mul(domain.One.Sub(t.cfg.Slippage))
	gross := pos.Shares.Mul(price)
	fee := gross.Mul(t.cfg.FeeRate)
	return t.close(pos, ActionSell, price, gross, fee, reason), nil
}

// close retira la posición y acredita gross - fee. Requiere lock.
func (t *Trader) close(pos *Position, action Action, price, gross, fee decimal.Decimal, reason string) TradeRecord {
	proceeds := gross.Sub(fee)
	rec := TradeRecord{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		MarketID:   pos.MarketID,
		Question:   pos.Question,
		TokenID:    pos.TokenID,
		Outcome:    pos.Outcome,
		Action:     action,
		Shares:     pos.Shares,
		Price:      price,
		Value:      gross,
		Fee:        fee,
		PnL:        proceeds.Sub(pos.CostBasis),
		Reason:     reason,
		Timestamp:  t.now(),
	}
	t.balance = t.balance.Add(proceeds)
	t.feesPaid = t.feesPaid.Add(fee)
	delete(t.positions, pos.ID)
	t.history = append(t.history, rec)
	return rec
}

// MarkPrice actualiza el precio de todas las posiciones del token.
func (t *Trader) MarkPrice(tokenID string, price decimal.Decimal) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	for _, p := range t.positions {
		if p.TokenID == tokenID {
			p.mark(price, now)
		}
	}
}

// UpdatePrices consulta el mid de cada token abierto. Los errores por token
// se loguean y se saltan; el lock no se mantiene durante las consultas.
func (t *Trader) UpdatePrices(ctx context.Context, src PriceSource) error {
	t.mu.Lock()
	tokens := make(map[string]struct{}, len(t.positions))
	for _, p := range t.positions {
		tokens[p.TokenID] = struct{}{}
	}
	t.mu.Unlock()

	for tok := range tokens {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("paper.UpdatePrices: %w", err)
		}
		mid, err := src.GetMidpoint(ctx, tok)
		if err != nil {
			slog.Warn("paper: price update failed", "token", tok, "err", err)
			continue
		}
		t.MarkPrice(tok, mid)
	}
	return nil
}

// SettleMarket liquida las posiciones del mercado a 1 (ganador) o 0, sin comisión.
func (t *Trader) SettleMarket(marketID string, yesWins bool) []TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []TradeRecord
	for _, pos := range t.sortedPositions() {
		if pos.MarketID != marketID {
			continue
		}
		price := domain.Zero
		if (pos.Outcome == Yes) == yesWins {
			price = domain.One
		}
		pos.mark(price, t.now())
		out = append(out, t.close(pos, ActionSettle, price, pos.Shares.Mul(price), domain.Zero, "market resolved"))
	}
	return out
}

// sortedPositions devuelve las posiciones por fecha de apertura. Requiere lock.
func (t *Trader) sortedPositions() []*Position {
	out := make([]*Position, 0, len(t.positions))
	for _, p := range t.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].OpenedAt.Equal(out[j].OpenedAt) {
			return out[i].OpenedAt.Before(out[j].OpenedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Positions devuelve copia de las posiciones abiertas.
func (t *Trader) Positions() []Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	ps := t.sortedPositions()
	out := make([]Position, len(ps))
	for i, p := range ps {
		out[i] = *p
	}
	return out
}

// Position devuelve una posición por id.
func (t *Trader) Position(id string) (Position, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.positions[id]
	if !ok {
		return Position{}, false
	}
	return *p, true
}

// HasPosition indica si hay alguna posición abierta en el mercado.
func (t *Trader) HasPosition(marketID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, p := range t.positions {
		if p.MarketID == marketID {
			return true
		}
	}
	return false
}

// History devuelve copia del historial.
func (t *Trader) History() []TradeRecord {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TradeRecord(nil), t.history...)
}

// Balance devuelve el efectivo disponible.
func (t *Trader) Balance() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance
}

// Summary calcula el resumen de la cuenta.
func (t *Trader) Summary() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Summary{
		InitialBalance: t.cfg.InitialBalance,
		Cash:           t.balance,
		PositionsValue: domain.Zero,
		RealizedPnL:    domain.Zero,
		UnrealizedPnL:  domain.Zero,
		FeesPaid:       t.feesPaid,
		Trades:         len(t.history),
		OpenPositions:  len(t.positions),
		UpdatedAt:      t.now(),
	}
	for _, p := range t.positions {
		s.PositionsValue = s.PositionsValue.Add(p.Value())
		s.UnrealizedPnL = s.UnrealizedPnL.Add(p.UnrealizedPnL)
	}
	for _, h := range t.history {
		if h.Action == ActionBuy {
			continue
		}
		s.RealizedPnL = s.RealizedPnL.Add(h.PnL)
		switch {
		case h.PnL.IsPositive():
			s.Wins++
		case h.PnL.IsNegative():
			s.Losses++
		default:
			s.Breakeven++
		}
	}
	s.TotalValue = s.Cash.Add(s.PositionsValue)
	s.TotalPnL = s.RealizedPnL.Add(s.UnrealizedPnL)
	s.ROIPct = domain.Div(s.TotalPnL, s.InitialBalance).Mul(decimal.NewFromInt(100))
	return s
}

// Drift devuelve balance + Σ valor − Σ no realizado − Σ pnl − inicial.
// Es cero exacto mientras la contabilidad sea consistente.
func (t *Trader) Drift() decimal.Decimal {
	t.mu.Lock()
	defer t.mu.Unlock()
	v := t.balance
	for _, p := range t.positions {
		v = v.Add(p.Value()).Sub(p.UnrealizedPnL)
	}
	for _, h := range t.history {
		v = v.Sub(h.PnL)
	}
	return v.Sub(t.cfg.InitialBalance)
}
